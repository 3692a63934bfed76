package badgerstore

import (
	"context"

	"github.com/jacentio/socialgraph/internal/shard"
	"github.com/jacentio/socialgraph/store"
)

// keyLocks is a fixed table of striped mutexes. A stripe is a one-slot
// channel so acquisition can give up when a context ends.
type keyLocks struct {
	stripes []chan struct{}
}

func newKeyLocks(n int) *keyLocks {
	l := &keyLocks{stripes: make([]chan struct{}, n)}
	for i := range l.stripes {
		l.stripes[i] = make(chan struct{}, 1)
	}
	return l
}

func (l *keyLocks) stripe(namespace string, id uint64) int {
	return shard.Stripe(namespace, id, len(l.stripes))
}

// lock blocks until stripe i is free or ctx ends.
func (l *keyLocks) lock(ctx context.Context, i int) error {
	select {
	case l.stripes[i] <- struct{}{}:
		return nil
	case <-ctx.Done():
		return store.ErrLockTimeout
	}
}

func (l *keyLocks) unlock(i int) {
	<-l.stripes[i]
}
