// Package async turns blocking store calls into deferred results.
//
// A [Future] is a single deferred value that completes exactly once in one of
// three states: present, empty, or failed. A [Stream] is a finite, push-based,
// non-restartable sequence: items are delivered on a channel from a producer
// goroutine, the channel is closed on completion, and [Stream.Err] reports
// whether the sequence ended because of a failure.
//
// Neither type blocks the goroutine that creates it. Consumers that stop
// reading a Stream early must cancel the context the Stream was built with so
// the producer can exit.
package async
