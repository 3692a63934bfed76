// Package store provides the record store used by the social graph, and its
// DynamoDB implementation.
//
// Records are addressed by uint64 identifiers and decoded into a typed view V.
// Writes overlay the typed view onto the stored document, so attributes the
// view does not know about survive every write.
//
// # Operations
//
// [Store] offers point reads, batched reads, upserts, conditional replaces,
// removals, an atomic per-key mutate ([Store.Invoke]), a full scan and an
// identifier sequence. [Deferred] exposes the same operations as futures and
// streams.
//
// # Transactions
//
// [Store.Begin] returns a context bound to a new [Tx]; every operation issued
// with that context joins the transaction. Concurrency and isolation are
// chosen per transaction with [TxOptions]:
//
//	ctx, tx, err := s.Begin(ctx, store.TxOptions{
//	    Concurrency: store.Optimistic,
//	    Isolation:   store.Serializable,
//	})
//	if err != nil {
//	    return err
//	}
//	defer tx.Close()
//
// The DynamoDB implementation buffers transactional writes and commits them
// with TransactWriteItems guarded by the versions it read. Pessimistic
// transactions also hold a lease per key in the lock table until they end.
//
// # Configuration
//
// Use [DefaultConfig] and override table names as needed:
//
//	cfg := store.DefaultConfig()
//	cfg.Table = "prod_persons"
//
// [CreateTables] creates the three tables a DynamoStore needs.
//
// # Errors
//
//   - [ErrConflict] - a concurrent writer won
//   - [ErrTxTimeout] - the transaction outlived its timeout
//   - [ErrTxTooLarge] - too many keys for one transaction
//   - [ErrTxClosed] - the transaction already ended
//   - [ErrLockTimeout] - a key lease could not be taken in time
//   - [ErrInvalidOptions] - unknown transaction modes
package store
