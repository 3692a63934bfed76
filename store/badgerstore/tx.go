package badgerstore

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/jacentio/socialgraph/store"
)

type txState int

const (
	txActive txState = iota
	txCommitted
	txRolledBack
)

// badgerTx wraps a Badger read-write transaction. Badger transactions are not
// safe for concurrent use, so every access goes through mu.
type badgerTx struct {
	id   string
	opts store.TxOptions
	db   *DB

	deadline time.Time
	cancel   context.CancelFunc

	mu      sync.Mutex
	txn     *badger.Txn
	state   txState
	written map[string]struct{}
	held    map[int]struct{}

	releaseOnce sync.Once
}

func newBadgerTx(db *DB, opts store.TxOptions) *badgerTx {
	return &badgerTx{
		id:      uuid.NewString(),
		opts:    opts,
		db:      db,
		txn:     db.NewTransaction(true),
		written: make(map[string]struct{}),
		held:    make(map[int]struct{}),
	}
}

func (t *badgerTx) ID() string               { return t.id }
func (t *badgerTx) Options() store.TxOptions { return t.opts }

// check is called with t.mu held.
func (t *badgerTx) check() error {
	if t.state != txActive {
		return store.ErrTxClosed
	}
	if !t.deadline.IsZero() && time.Now().After(t.deadline) {
		return store.ErrTxTimeout
	}
	return nil
}

// lock takes the stripe guarding id for a pessimistic transaction. Stripes
// are re-entrant within one transaction.
func (t *badgerTx) lock(ctx context.Context, namespace string, id uint64) error {
	if t.opts.Concurrency != store.Pessimistic {
		return nil
	}
	stripe := t.db.locks.stripe(namespace, id)

	t.mu.Lock()
	_, held := t.held[stripe]
	t.mu.Unlock()
	if held {
		return nil
	}

	lctx, cancel := lockContext(ctx, t.db.cfg.LockWait)
	defer cancel()
	if err := t.db.locks.lock(lctx, stripe); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != txActive {
		t.db.locks.unlock(stripe)
		return store.ErrTxClosed
	}
	t.held[stripe] = struct{}{}
	return nil
}

func (t *badgerTx) get(ctx context.Context, namespace string, id uint64, key []byte) ([]byte, error) {
	if err := t.lock(ctx, namespace, id); err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.check(); err != nil {
		return nil, err
	}

	// A pessimistic read happens under the key lock, so it must see what the
	// previous holder committed rather than the snapshot taken at Begin.
	// Reading outside t.txn also keeps the key out of its conflict set.
	_, wrote := t.written[string(key)]
	if !wrote && (t.opts.Isolation == store.ReadCommitted || t.opts.Concurrency == store.Pessimistic) {
		var data []byte
		err := t.db.View(func(txn *badger.Txn) error {
			var err error
			data, err = getValue(txn, key)
			return err
		})
		return data, err
	}
	return getValue(t.txn, key)
}

func (t *badgerTx) set(ctx context.Context, namespace string, id uint64, key, value []byte) error {
	return t.stage(ctx, namespace, id, key, func() error {
		return t.txn.Set(key, value)
	})
}

func (t *badgerTx) delete(ctx context.Context, namespace string, id uint64, key []byte) error {
	return t.stage(ctx, namespace, id, key, func() error {
		return t.txn.Delete(key)
	})
}

func (t *badgerTx) stage(ctx context.Context, namespace string, id uint64, key []byte, write func() error) error {
	if err := t.lock(ctx, namespace, id); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.check(); err != nil {
		return err
	}
	if _, ok := t.written[string(key)]; !ok && t.opts.MaxSize > 0 && len(t.written) >= t.opts.MaxSize {
		return store.ErrTxTooLarge
	}
	if err := write(); err != nil {
		if errors.Is(err, badger.ErrTxnTooBig) {
			return store.ErrTxTooLarge
		}
		return err
	}
	t.written[string(key)] = struct{}{}
	return nil
}

// iterate runs fn against the transaction's own view, pending writes included.
func (t *badgerTx) iterate(fn func(txn *badger.Txn) error) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.check(); err != nil {
		return err
	}
	return fn(t.txn)
}

// Commit applies the transaction. Badger rejects it with ErrConflict when a
// key it read was committed by someone else in the meantime.
func (t *badgerTx) Commit(context.Context) error {
	t.mu.Lock()
	if err := t.check(); err != nil {
		if errors.Is(err, store.ErrTxTimeout) {
			t.state = txRolledBack
			t.txn.Discard()
		}
		t.mu.Unlock()
		t.release()
		return err
	}
	t.state = txCommitted
	err := t.txn.Commit()
	if err != nil {
		t.state = txRolledBack
	}
	t.mu.Unlock()
	t.release()

	switch {
	case errors.Is(err, badger.ErrConflict):
		return store.ErrConflict
	case errors.Is(err, badger.ErrTxnTooBig):
		return store.ErrTxTooLarge
	}
	return err
}

// Rollback discards the transaction.
func (t *badgerTx) Rollback(context.Context) error {
	t.mu.Lock()
	if t.state != txActive {
		t.mu.Unlock()
		return store.ErrTxClosed
	}
	t.state = txRolledBack
	t.txn.Discard()
	t.mu.Unlock()

	t.release()
	return nil
}

// Close rolls back an active transaction and releases its locks.
func (t *badgerTx) Close() error {
	t.mu.Lock()
	active := t.state == txActive
	t.mu.Unlock()
	if active {
		_ = t.Rollback(context.Background())
	}
	t.release()
	return nil
}

func (t *badgerTx) release() {
	t.releaseOnce.Do(func() {
		t.mu.Lock()
		held := t.held
		t.held = make(map[int]struct{})
		t.mu.Unlock()

		for stripe := range held {
			t.db.locks.unlock(stripe)
		}
		if t.cancel != nil {
			t.cancel()
		}
	})
}
