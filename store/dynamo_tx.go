package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
)

// transactItemsLimit is the most items a single TransactWriteItems call accepts.
const transactItemsLimit = 100

type txState int

const (
	txActive txState = iota
	txCommitted
	txRolledBack
)

type readEntry struct {
	item    map[string]types.AttributeValue
	version int64
}

type writeEntry struct {
	item   map[string]types.AttributeValue
	delete bool
}

// dynamoTx buffers writes and records the version of every key it read.
// Nothing reaches the table before Commit.
type dynamoTx struct {
	id     string
	opts   TxOptions
	client API
	table  string
	locks  *lockTable

	deadline time.Time
	cancel   context.CancelFunc

	mu     sync.Mutex
	state  txState
	reads  map[uint64]readEntry
	writes map[uint64]writeEntry
	order  []uint64
	held   []uint64

	releaseOnce sync.Once
}

func newDynamoTx(client API, table string, locks *lockTable, opts TxOptions) *dynamoTx {
	return &dynamoTx{
		id:     uuid.NewString(),
		opts:   opts,
		client: client,
		table:  table,
		locks:  locks,
		reads:  make(map[uint64]readEntry),
		writes: make(map[uint64]writeEntry),
	}
}

func (t *dynamoTx) ID() string         { return t.id }
func (t *dynamoTx) Options() TxOptions { return t.opts }

// check reports whether the transaction can still be used.
// Callers must hold t.mu.
func (t *dynamoTx) check() error {
	if t.state != txActive {
		return ErrTxClosed
	}
	if !t.deadline.IsZero() && time.Now().After(t.deadline) {
		return ErrTxTimeout
	}
	return nil
}

// mapErr turns a context expiry caused by the transaction timeout into ErrTxTimeout.
func (t *dynamoTx) mapErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) && !t.deadline.IsZero() && !time.Now().Before(t.deadline) {
		return ErrTxTimeout
	}
	return err
}

func (t *dynamoTx) read(ctx context.Context, id uint64) (map[string]types.AttributeValue, error) {
	t.mu.Lock()
	if err := t.check(); err != nil {
		t.mu.Unlock()
		return nil, err
	}
	if w, ok := t.writes[id]; ok {
		t.mu.Unlock()
		if w.delete {
			return nil, nil
		}
		return w.item, nil
	}
	if r, ok := t.reads[id]; ok && t.opts.Isolation != ReadCommitted {
		t.mu.Unlock()
		return r.item, nil
	}
	t.mu.Unlock()

	if err := t.lock(ctx, id); err != nil {
		return nil, err
	}

	out, err := t.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(t.table),
		Key:            idKey(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, t.mapErr(fmt.Errorf("get %d: %w", id, err))
	}
	item := out.Item
	if len(item) == 0 {
		item = nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if r, ok := t.reads[id]; ok && t.opts.Isolation != ReadCommitted {
		return r.item, nil
	}
	t.reads[id] = readEntry{item: item, version: itemVersion(item)}
	return item, nil
}

// lock takes the key lock of a pessimistic transaction on first access.
func (t *dynamoTx) lock(ctx context.Context, id uint64) error {
	if t.opts.Concurrency != Pessimistic {
		return nil
	}
	t.mu.Lock()
	for _, held := range t.held {
		if held == id {
			t.mu.Unlock()
			return nil
		}
	}
	t.mu.Unlock()

	if err := t.locks.acquire(ctx, t.table, id, t.id, t.deadline); err != nil {
		return t.mapErr(err)
	}

	t.mu.Lock()
	t.held = append(t.held, id)
	t.mu.Unlock()
	return nil
}

func (t *dynamoTx) write(id uint64, item map[string]types.AttributeValue) error {
	return t.stage(id, writeEntry{item: item})
}

func (t *dynamoTx) remove(id uint64) error {
	return t.stage(id, writeEntry{delete: true})
}

func (t *dynamoTx) stage(id uint64, w writeEntry) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.check(); err != nil {
		return err
	}
	if _, ok := t.writes[id]; !ok {
		if t.opts.MaxSize > 0 && len(t.writes) >= t.opts.MaxSize {
			return ErrTxTooLarge
		}
		t.order = append(t.order, id)
	}
	t.writes[id] = w
	return nil
}

// overlayScan applies the buffered writes to the result of a table scan.
func (t *dynamoTx) overlayScan(items map[uint64]map[string]types.AttributeValue) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, w := range t.writes {
		if w.delete {
			delete(items, id)
			continue
		}
		items[id] = w.item
	}
}

// transactItems builds the commit request. Callers must hold t.mu.
func (t *dynamoTx) transactItems() ([]types.TransactWriteItem, error) {
	var items []types.TransactWriteItem
	for _, id := range t.order {
		w := t.writes[id]
		r := t.reads[id]
		cond, err := buildCondition(recordCondition(r.item))
		if err != nil {
			return nil, err
		}
		if w.delete {
			items = append(items, types.TransactWriteItem{
				Delete: &types.Delete{
					TableName:                 aws.String(t.table),
					Key:                       idKey(id),
					ConditionExpression:       cond.expr,
					ExpressionAttributeNames:  cond.names,
					ExpressionAttributeValues: cond.vals,
				},
			})
			continue
		}
		items = append(items, types.TransactWriteItem{
			Put: &types.Put{
				TableName:                 aws.String(t.table),
				Item:                      withVersion(w.item, r.version),
				ConditionExpression:       cond.expr,
				ExpressionAttributeNames:  cond.names,
				ExpressionAttributeValues: cond.vals,
			},
		})
	}

	if t.opts.Isolation == ReadCommitted {
		return items, nil
	}
	for id, r := range t.reads {
		if _, ok := t.writes[id]; ok {
			continue
		}
		cond, err := buildCondition(recordCondition(r.item))
		if err != nil {
			return nil, err
		}
		items = append(items, types.TransactWriteItem{
			ConditionCheck: &types.ConditionCheck{
				TableName:                 aws.String(t.table),
				Key:                       idKey(id),
				ConditionExpression:       cond.expr,
				ExpressionAttributeNames:  cond.names,
				ExpressionAttributeValues: cond.vals,
			},
		})
	}
	return items, nil
}

// Commit writes the buffered changes atomically. A concurrent change to any
// key the transaction read or wrote fails the commit with ErrConflict.
func (t *dynamoTx) Commit(ctx context.Context) error {
	t.mu.Lock()
	if err := t.check(); err != nil {
		t.mu.Unlock()
		if errors.Is(err, ErrTxTimeout) {
			_ = t.Rollback(ctx)
		}
		return err
	}
	items, err := t.transactItems()
	hasWrites := len(t.writes) > 0
	t.state = txCommitted
	if err == nil && len(items) > transactItemsLimit {
		t.state = txRolledBack
		err = ErrTxTooLarge
	}
	t.mu.Unlock()
	defer t.release()

	if err != nil {
		return err
	}
	if !hasWrites {
		return nil
	}

	_, err = t.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems:      items,
		ClientRequestToken: aws.String(t.id),
	})
	if err != nil {
		t.mu.Lock()
		t.state = txRolledBack
		t.mu.Unlock()
		return t.mapErr(mapTransactError(err))
	}
	return nil
}

// Rollback discards the buffered changes.
func (t *dynamoTx) Rollback(context.Context) error {
	t.mu.Lock()
	if t.state != txActive {
		t.mu.Unlock()
		return ErrTxClosed
	}
	t.state = txRolledBack
	t.writes = nil
	t.order = nil
	t.mu.Unlock()

	t.release()
	return nil
}

// Close rolls back an active transaction and releases its locks.
func (t *dynamoTx) Close() error {
	t.mu.Lock()
	active := t.state == txActive
	t.mu.Unlock()
	if active {
		_ = t.Rollback(context.Background())
	}
	t.release()
	return nil
}

// release frees the key locks and the timeout context exactly once.
func (t *dynamoTx) release() {
	t.releaseOnce.Do(func() {
		t.mu.Lock()
		held := t.held
		t.held = nil
		t.mu.Unlock()

		for _, id := range held {
			t.locks.release(t.table, id, t.id)
		}
		if t.cancel != nil {
			t.cancel()
		}
	})
}
