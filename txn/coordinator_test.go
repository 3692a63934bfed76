package txn

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jacentio/socialgraph/store"
	"github.com/jacentio/socialgraph/store/badgerstore"
)

// recordingTx counts lifecycle calls and behaves like a real Tx: Close rolls
// back an active transaction and is idempotent.
type recordingTx struct {
	opts      store.TxOptions
	commitErr error

	active    bool
	commits   int
	rollbacks int
	closes    int
	releases  int
}

func (t *recordingTx) ID() string               { return "tx-1" }
func (t *recordingTx) Options() store.TxOptions { return t.opts }

func (t *recordingTx) Commit(context.Context) error {
	if !t.active {
		return store.ErrTxClosed
	}
	t.active = false
	t.commits++
	t.releases++
	return t.commitErr
}

func (t *recordingTx) Rollback(context.Context) error {
	if !t.active {
		return store.ErrTxClosed
	}
	t.active = false
	t.rollbacks++
	t.releases++
	return nil
}

func (t *recordingTx) Close() error {
	t.closes++
	if t.active {
		return t.Rollback(context.Background())
	}
	return nil
}

type recordingStore struct {
	tx       *recordingTx
	beginErr error
	begins   int
}

func (s *recordingStore) Begin(ctx context.Context, opts store.TxOptions) (context.Context, store.Tx, error) {
	s.begins++
	if s.beginErr != nil {
		return ctx, nil, s.beginErr
	}
	s.tx = &recordingTx{opts: opts, active: true}
	return store.WithTx(ctx, s.tx), s.tx, nil
}

func TestRun_CommitsPresentResult(t *testing.T) {
	s := &recordingStore{}
	c := New(s, nil)

	var sawTx store.Tx
	v, ok, err := Run(context.Background(), c, store.DefaultTxOptions(), func(ctx context.Context) (uint64, bool, error) {
		sawTx = store.TxFromContext(ctx)
		return 2, true, nil
	})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint64(2), v)

	assert.Same(t, s.tx, sawTx, "action runs with the transaction bound to its context")
	assert.Equal(t, 1, s.tx.commits)
	assert.Equal(t, 0, s.tx.rollbacks)
	assert.Equal(t, 1, s.tx.closes)
	assert.Equal(t, 1, s.tx.releases)
}

func TestRun_RollsBackEmptyResult(t *testing.T) {
	s := &recordingStore{}
	c := New(s, nil)

	v, ok, err := Run(context.Background(), c, store.DefaultTxOptions(), func(context.Context) (uint64, bool, error) {
		return 7, false, nil
	})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, v)

	assert.Equal(t, 0, s.tx.commits)
	assert.Equal(t, 1, s.tx.rollbacks)
	assert.Equal(t, 1, s.tx.closes)
	assert.Equal(t, 1, s.tx.releases)
}

func TestRun_RollsBackFailure(t *testing.T) {
	s := &recordingStore{}
	c := New(s, nil)
	boom := errors.New("boom")

	_, ok, err := Run(context.Background(), c, store.DefaultTxOptions(), func(context.Context) (string, bool, error) {
		return "", false, boom
	})
	assert.ErrorIs(t, err, boom)
	assert.False(t, ok)
	assert.Equal(t, 0, s.tx.commits)
	assert.Equal(t, 1, s.tx.rollbacks)
	assert.Equal(t, 1, s.tx.releases)
}

func TestRun_CommitConflictIsNotRetried(t *testing.T) {
	s := &recordingStore{}
	c := New(s, nil)

	calls := 0
	_, ok, err := Run(context.Background(), c, store.DefaultTxOptions(), func(ctx context.Context) (int, bool, error) {
		calls++
		s.tx.commitErr = store.ErrConflict
		return 1, true, nil
	})
	assert.ErrorIs(t, err, store.ErrConflict)
	assert.False(t, ok)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, s.begins)
	assert.Equal(t, 1, s.tx.releases)
}

func TestRun_BeginFailure(t *testing.T) {
	s := &recordingStore{beginErr: store.ErrInvalidOptions}
	c := New(s, nil)

	called := false
	_, _, err := Run(context.Background(), c, store.TxOptions{}, func(context.Context) (int, bool, error) {
		called = true
		return 0, true, nil
	})
	assert.ErrorIs(t, err, store.ErrInvalidOptions)
	assert.False(t, called)
}

func TestRun_PanicStillReleases(t *testing.T) {
	s := &recordingStore{}
	c := New(s, nil)

	assert.Panics(t, func() {
		_, _, _ = Run(context.Background(), c, store.DefaultTxOptions(), func(context.Context) (int, bool, error) {
			panic("action exploded")
		})
	})
	assert.Equal(t, 1, s.tx.closes)
	assert.Equal(t, 1, s.tx.rollbacks)
	assert.Equal(t, 1, s.tx.releases)
}

func TestRunAsync(t *testing.T) {
	s := &recordingStore{}
	c := New(s, nil)
	ctx := context.Background()

	f := RunAsync(ctx, c, store.DefaultTxOptions(), func(context.Context) (string, bool, error) {
		return "done", true, nil
	})
	v, ok, err := f.Await(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "done", v)
	assert.Equal(t, 1, s.tx.commits)
}

type counter struct {
	N int `json:"n"`
}

func TestRun_RollbackDiscardsStoreWrites(t *testing.T) {
	db, err := badgerstore.Open(badgerstore.InMemoryConfig())
	require.NoError(t, err)
	defer db.Close()
	s, err := badgerstore.New[counter](db, "counters")
	require.NoError(t, err)
	defer s.Close()

	c := New(s, nil)
	ctx := context.Background()
	opts := store.TxOptions{Concurrency: store.Optimistic, Isolation: store.Serializable}

	_, ok, err := Run(ctx, c, opts, func(ctx context.Context) (int, bool, error) {
		if err := s.Put(ctx, 1, &counter{N: 1}); err != nil {
			return 0, false, err
		}
		return 0, false, nil
	})
	require.NoError(t, err)
	assert.False(t, ok)
	_, found, err := s.Get(ctx, 1)
	require.NoError(t, err)
	assert.False(t, found)

	_, ok, err = Run(ctx, c, opts, func(ctx context.Context) (int, bool, error) {
		return 1, true, s.Put(ctx, 1, &counter{N: 1})
	})
	require.NoError(t, err)
	assert.True(t, ok)
	got, found, err := s.Get(ctx, 1)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 1, got.N)
}
