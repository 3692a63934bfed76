package badgerstore

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/sethvargo/go-retry"

	"github.com/jacentio/socialgraph/store"
)

// sequenceBandwidth is how many identifiers a Sequence leases at once.
// Unused leased identifiers are lost on restart.
const sequenceBandwidth = 100

// Store is a store.Store over one namespace of a DB.
type Store[V any] struct {
	db        *DB
	namespace string
	prefix    []byte
	seq       *badger.Sequence
}

var _ store.Store[struct{}] = (*Store[struct{}])(nil)

// New returns the Store for namespace. Namespaces must be non-empty, must not
// contain '/' and must not start with '_'.
func New[V any](db *DB, namespace string) (*Store[V], error) {
	if namespace == "" || strings.Contains(namespace, "/") || strings.HasPrefix(namespace, "_") {
		return nil, fmt.Errorf("invalid namespace %q", namespace)
	}
	seq, err := db.GetSequence([]byte("_sequence/"+namespace), sequenceBandwidth)
	if err != nil {
		return nil, fmt.Errorf("open sequence for %s: %w", namespace, err)
	}
	return &Store[V]{
		db:        db,
		namespace: namespace,
		prefix:    []byte(namespace + "/"),
		seq:       seq,
	}, nil
}

// Close returns the unused part of the leased sequence range.
func (s *Store[V]) Close() error {
	return s.seq.Release()
}

func (s *Store[V]) key(id uint64) []byte {
	k := make([]byte, len(s.prefix)+8)
	copy(k, s.prefix)
	binary.BigEndian.PutUint64(k[len(s.prefix):], id)
	return k
}

func (s *Store[V]) idOf(key []byte) uint64 {
	return binary.BigEndian.Uint64(key[len(s.prefix):])
}

// Get returns the record at id.
func (s *Store[V]) Get(ctx context.Context, id uint64) (*V, bool, error) {
	tx, err := s.txFrom(ctx)
	if err != nil {
		return nil, false, err
	}

	var data []byte
	if tx != nil {
		data, err = tx.get(ctx, s.namespace, id, s.key(id))
	} else {
		data, err = s.view(s.key(id))
	}
	if err != nil || data == nil {
		return nil, false, err
	}
	v, err := s.decode(data)
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

// GetAll returns the records present among ids from one snapshot.
func (s *Store[V]) GetAll(ctx context.Context, ids []uint64) (map[uint64]*V, error) {
	out := make(map[uint64]*V, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	tx, err := s.txFrom(ctx)
	if err != nil {
		return nil, err
	}

	collect := func(id uint64, data []byte) error {
		if data == nil {
			return nil
		}
		v, err := s.decode(data)
		if err != nil {
			return err
		}
		out[id] = v
		return nil
	}

	if tx != nil {
		for _, id := range ids {
			data, err := tx.get(ctx, s.namespace, id, s.key(id))
			if err != nil {
				return nil, err
			}
			if err := collect(id, data); err != nil {
				return nil, err
			}
		}
		return out, nil
	}

	err = s.db.View(func(txn *badger.Txn) error {
		for _, id := range ids {
			data, err := getValue(txn, s.key(id))
			if err != nil {
				return err
			}
			if err := collect(id, data); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Put writes v at id.
func (s *Store[V]) Put(ctx context.Context, id uint64, v *V) error {
	return s.Invoke(ctx, id, func(*V) (*V, error) {
		return v, nil
	})
}

// Replace writes v at id only if a record exists there.
func (s *Store[V]) Replace(ctx context.Context, id uint64, v *V) (bool, error) {
	var applied bool
	err := s.Invoke(ctx, id, func(current *V) (*V, error) {
		applied = current != nil
		if !applied {
			return nil, nil
		}
		return v, nil
	})
	return applied, err
}

// Remove deletes the record at id and reports whether it existed.
func (s *Store[V]) Remove(ctx context.Context, id uint64) (bool, error) {
	tx, err := s.txFrom(ctx)
	if err != nil {
		return false, err
	}
	key := s.key(id)
	if tx != nil {
		data, err := tx.get(ctx, s.namespace, id, key)
		if err != nil || data == nil {
			return false, err
		}
		return true, tx.delete(ctx, s.namespace, id, key)
	}

	var existed bool
	err = s.update(ctx, id, func(txn *badger.Txn) error {
		data, err := getValue(txn, key)
		if err != nil {
			return err
		}
		existed = data != nil
		if !existed {
			return nil
		}
		return txn.Delete(key)
	})
	return existed, err
}

// Invoke atomically applies fn to the record at id.
//
// Outside a transaction fn runs under the key lock in its own Badger
// transaction, and runs again if that transaction loses a commit race.
func (s *Store[V]) Invoke(ctx context.Context, id uint64, fn store.MutateFunc[V]) error {
	tx, err := s.txFrom(ctx)
	if err != nil {
		return err
	}
	key := s.key(id)
	if tx != nil {
		data, err := tx.get(ctx, s.namespace, id, key)
		if err != nil {
			return err
		}
		out, err := s.apply(data, fn)
		if err != nil || out == nil {
			return err
		}
		return tx.set(ctx, s.namespace, id, key, out)
	}

	return s.update(ctx, id, func(txn *badger.Txn) error {
		data, err := getValue(txn, key)
		if err != nil {
			return err
		}
		out, err := s.apply(data, fn)
		if err != nil || out == nil {
			return err
		}
		return txn.Set(key, out)
	})
}

// Scan returns every record of the namespace matching pred.
func (s *Store[V]) Scan(ctx context.Context, pred store.Predicate[V]) ([]store.Entry[V], error) {
	if pred == nil {
		pred = store.MatchAll[V]
	}
	tx, err := s.txFrom(ctx)
	if err != nil {
		return nil, err
	}

	var out []store.Entry[V]
	visit := func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = s.prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			data, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			v, err := s.decode(data)
			if err != nil {
				return err
			}
			id := s.idOf(item.Key())
			if pred(id, v) {
				out = append(out, store.Entry[V]{ID: id, Value: v})
			}
		}
		return nil
	}

	if tx != nil {
		err = tx.iterate(visit)
	} else {
		err = s.db.View(visit)
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

// NextSequence returns the next identifier of the namespace, starting at 1.
// Sequence values are never rolled back with a transaction.
func (s *Store[V]) NextSequence(context.Context) (uint64, error) {
	n, err := s.seq.Next()
	if err != nil {
		return 0, fmt.Errorf("advance sequence %s: %w", s.namespace, err)
	}
	return n + 1, nil
}

// Begin starts a transaction on the underlying DB. The returned context
// carries it; every Store on the same DB joins it.
func (s *Store[V]) Begin(ctx context.Context, opts store.TxOptions) (context.Context, store.Tx, error) {
	if err := opts.Validate(); err != nil {
		return ctx, nil, err
	}
	if store.TxFromContext(ctx) != nil {
		return ctx, nil, fmt.Errorf("%w: transaction already active", store.ErrInvalidOptions)
	}

	tx := newBadgerTx(s.db, opts)
	if opts.Timeout > 0 {
		ctx, tx.cancel = context.WithTimeout(ctx, opts.Timeout)
		tx.deadline = time.Now().Add(opts.Timeout)
	}
	return store.WithTx(ctx, tx), tx, nil
}

func (s *Store[V]) txFrom(ctx context.Context) (*badgerTx, error) {
	tx := store.TxFromContext(ctx)
	if tx == nil {
		return nil, nil
	}
	bt, ok := tx.(*badgerTx)
	if !ok || bt.db != s.db {
		return nil, fmt.Errorf("socialgraph: transaction %s does not belong to this database", tx.ID())
	}
	return bt, nil
}

func (s *Store[V]) view(key []byte) ([]byte, error) {
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		data, err = getValue(txn, key)
		return err
	})
	return data, err
}

// update runs fn in a read-write transaction under the key lock of id,
// retrying when the commit loses against a concurrent transaction.
func (s *Store[V]) update(ctx context.Context, id uint64, fn func(txn *badger.Txn) error) error {
	stripe := s.db.locks.stripe(s.namespace, id)
	lctx, cancel := lockContext(ctx, s.db.cfg.LockWait)
	defer cancel()
	if err := s.db.locks.lock(lctx, stripe); err != nil {
		return err
	}
	defer s.db.locks.unlock(stripe)

	b := retry.WithMaxRetries(uint64(s.db.cfg.MaxConflictRetries), retry.NewExponential(5*time.Millisecond))
	return retry.Do(ctx, b, func(ctx context.Context) error {
		err := s.db.Update(fn)
		if errors.Is(err, badger.ErrConflict) {
			return retry.RetryableError(store.ErrConflict)
		}
		if errors.Is(err, badger.ErrTxnTooBig) {
			return store.ErrTxTooLarge
		}
		return err
	})
}

// apply runs fn against the decoded record and returns the document to
// write, or nil when fn declined to write. Fields of the stored document
// unknown to V are carried over.
func (s *Store[V]) apply(data []byte, fn store.MutateFunc[V]) ([]byte, error) {
	var current *V
	var raw, prev map[string]json.RawMessage
	if data != nil {
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("decode %s record: %w", s.namespace, err)
		}
		v, err := s.decode(data)
		if err != nil {
			return nil, err
		}
		if prev, err = fields(v); err != nil {
			return nil, err
		}
		current = v
	}

	next, err := fn(current)
	if err != nil || next == nil {
		return nil, err
	}
	nextFields, err := fields(next)
	if err != nil {
		return nil, err
	}
	return json.Marshal(store.Overlay(raw, prev, nextFields))
}

func (s *Store[V]) decode(data []byte) (*V, error) {
	v := new(V)
	if err := json.Unmarshal(data, v); err != nil {
		return nil, fmt.Errorf("decode %s record: %w", s.namespace, err)
	}
	return v, nil
}

// fields returns the top-level JSON fields of v.
func fields(v any) (map[string]json.RawMessage, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	return m, nil
}

// getValue returns a copy of the value at key, or nil when absent.
func getValue(txn *badger.Txn, key []byte) ([]byte, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return item.ValueCopy(nil)
}

// lockContext bounds a lock wait by ctx's deadline, or by wait when ctx has none.
func lockContext(ctx context.Context, wait time.Duration) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, wait)
}
