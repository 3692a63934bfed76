package store

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"
)

// batchGetLimit is the most keys a single BatchGetItem call accepts.
const batchGetLimit = 100

var errUnprocessedKeys = errors.New("socialgraph: batch get left unprocessed keys")

// API is the subset of the DynamoDB client used by DynamoStore.
type API interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	BatchGetItem(ctx context.Context, params *dynamodb.BatchGetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchGetItemOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// DynamoStore is a Store backed by a DynamoDB table.
//
// Standalone writes are compare-and-swap loops on the managed version
// attribute. Transactions buffer their writes and commit them with a single
// TransactWriteItems call guarded by the versions they read.
type DynamoStore[V any] struct {
	client API
	config Config
	locks  *lockTable
}

var _ Store[struct{}] = (*DynamoStore[struct{}])(nil)

// New creates a new DynamoStore instance.
func New[V any](client API, config Config) *DynamoStore[V] {
	config.validate()
	return &DynamoStore[V]{
		client: client,
		config: config,
		locks:  newLockTable(client, config),
	}
}

// Config returns the validated configuration of the store.
func (s *DynamoStore[V]) Config() Config {
	return s.config
}

// Get retrieves a record by id with a consistent read.
func (s *DynamoStore[V]) Get(ctx context.Context, id uint64) (*V, bool, error) {
	var raw map[string]types.AttributeValue
	tx, err := s.txFrom(ctx)
	if err != nil {
		return nil, false, err
	}
	if tx != nil {
		raw, err = tx.read(ctx, id)
	} else {
		raw, err = s.getItem(ctx, id)
	}
	if err != nil || raw == nil {
		return nil, false, err
	}

	v, err := s.decode(raw)
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

// GetAll retrieves the records present among ids.
// Outside a transaction ids are fetched with BatchGetItem in chunks of 100 run concurrently.
func (s *DynamoStore[V]) GetAll(ctx context.Context, ids []uint64) (map[uint64]*V, error) {
	out := make(map[uint64]*V, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	tx, err := s.txFrom(ctx)
	if err != nil {
		return nil, err
	}
	if tx != nil {
		for _, id := range ids {
			raw, err := tx.read(ctx, id)
			if err != nil {
				return nil, err
			}
			if raw == nil {
				continue
			}
			v, err := s.decode(raw)
			if err != nil {
				return nil, err
			}
			out[id] = v
		}
		return out, nil
	}

	unique := slices.Clone(ids)
	slices.Sort(unique)
	unique = slices.Compact(unique)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for chunk := range slices.Chunk(unique, batchGetLimit) {
		g.Go(func() error {
			items, err := s.batchGet(gctx, chunk)
			if err != nil {
				return err
			}
			for _, item := range items {
				id, ok := itemID(item)
				if !ok {
					continue
				}
				v, err := s.decode(item)
				if err != nil {
					return err
				}
				mu.Lock()
				out[id] = v
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Put writes v at id, creating the record if needed.
func (s *DynamoStore[V]) Put(ctx context.Context, id uint64, v *V) error {
	return s.Invoke(ctx, id, func(*V) (*V, error) {
		return v, nil
	})
}

// Replace writes v at id only if a record already exists there.
func (s *DynamoStore[V]) Replace(ctx context.Context, id uint64, v *V) (bool, error) {
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
func (s *DynamoStore[V]) Remove(ctx context.Context, id uint64) (bool, error) {
	tx, err := s.txFrom(ctx)
	if err != nil {
		return false, err
	}
	if tx != nil {
		raw, err := tx.read(ctx, id)
		if err != nil || raw == nil {
			return false, err
		}
		return true, tx.remove(id)
	}

	out, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:    aws.String(s.config.Table),
		Key:          idKey(id),
		ReturnValues: types.ReturnValueAllOld,
	})
	if err != nil {
		return false, fmt.Errorf("delete %d: %w", id, err)
	}
	return len(out.Attributes) > 0, nil
}

// Invoke atomically applies fn to the record at id.
//
// Outside a transaction fn runs inside a compare-and-swap loop and may be
// called more than once; only the outcome of the last call is written.
func (s *DynamoStore[V]) Invoke(ctx context.Context, id uint64, fn MutateFunc[V]) error {
	tx, err := s.txFrom(ctx)
	if err != nil {
		return err
	}
	if tx != nil {
		raw, err := tx.read(ctx, id)
		if err != nil {
			return err
		}
		item, err := s.apply(id, raw, fn)
		if err != nil || item == nil {
			return err
		}
		return tx.write(id, item)
	}

	b := retry.WithMaxRetries(uint64(s.config.MaxCASAttempts-1), retry.NewExponential(10*time.Millisecond))
	return retry.Do(ctx, b, func(ctx context.Context) error {
		raw, err := s.getItem(ctx, id)
		if err != nil {
			return err
		}
		item, err := s.apply(id, raw, fn)
		if err != nil || item == nil {
			return err
		}

		version := itemVersion(raw)
		cond, err := buildCondition(recordCondition(raw))
		if err != nil {
			return err
		}
		_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
			TableName:                 aws.String(s.config.Table),
			Item:                      withVersion(item, version),
			ConditionExpression:       cond.expr,
			ExpressionAttributeNames:  cond.names,
			ExpressionAttributeValues: cond.vals,
		})
		if isConditionFailed(err) {
			return retry.RetryableError(ErrConflict)
		}
		if err != nil {
			return fmt.Errorf("put %d: %w", id, err)
		}
		return nil
	})
}

// Scan runs a parallel segment scan and returns the records matching pred.
func (s *DynamoStore[V]) Scan(ctx context.Context, pred Predicate[V]) ([]Entry[V], error) {
	if pred == nil {
		pred = MatchAll[V]
	}

	items := make(map[uint64]map[string]types.AttributeValue)
	var mu sync.Mutex
	segments := int32(s.config.ScanSegments)

	g, gctx := errgroup.WithContext(ctx)
	for segment := int32(0); segment < segments; segment++ {
		g.Go(func() error {
			paginator := dynamodb.NewScanPaginator(s.client, &dynamodb.ScanInput{
				TableName:      aws.String(s.config.Table),
				ConsistentRead: aws.Bool(true),
				Segment:        aws.Int32(segment),
				TotalSegments:  aws.Int32(segments),
			})
			for paginator.HasMorePages() {
				page, err := paginator.NextPage(gctx)
				if err != nil {
					return fmt.Errorf("scan segment %d: %w", segment, err)
				}
				mu.Lock()
				for _, item := range page.Items {
					if id, ok := itemID(item); ok {
						items[id] = item
					}
				}
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	tx, err := s.txFrom(ctx)
	if err != nil {
		return nil, err
	}
	if tx != nil {
		tx.overlayScan(items)
	}

	var out []Entry[V]
	for id, item := range items {
		v, err := s.decode(item)
		if err != nil {
			return nil, err
		}
		if pred(id, v) {
			out = append(out, Entry[V]{ID: id, Value: v})
		}
	}
	return out, nil
}

// NextSequence atomically advances the sequence counter and returns its new value.
// Sequence values are never rolled back with a transaction.
func (s *DynamoStore[V]) NextSequence(ctx context.Context) (uint64, error) {
	update := expression.Add(expression.Name("value"), expression.Value(1))
	expr, err := expression.NewBuilder().WithUpdate(update).Build()
	if err != nil {
		return 0, fmt.Errorf("build update: %w", err)
	}

	out, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.config.SequenceTable),
		Key: map[string]types.AttributeValue{
			"name": &types.AttributeValueMemberS{Value: s.config.SequenceName},
		},
		UpdateExpression:          expr.Update(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ReturnValues:              types.ReturnValueUpdatedNew,
	})
	if err != nil {
		return 0, fmt.Errorf("advance sequence %s: %w", s.config.SequenceName, err)
	}

	n, ok := out.Attributes["value"].(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("advance sequence %s: missing value", s.config.SequenceName)
	}
	return strconv.ParseUint(n.Value, 10, 64)
}

// Begin starts a transaction. The returned context carries it.
func (s *DynamoStore[V]) Begin(ctx context.Context, opts TxOptions) (context.Context, Tx, error) {
	if err := opts.Validate(); err != nil {
		return ctx, nil, err
	}
	if TxFromContext(ctx) != nil {
		return ctx, nil, fmt.Errorf("%w: transaction already active", ErrInvalidOptions)
	}

	tx := newDynamoTx(s.client, s.config.Table, s.locks, opts)
	if opts.Timeout > 0 {
		ctx, tx.cancel = context.WithTimeout(ctx, opts.Timeout)
		tx.deadline = time.Now().Add(opts.Timeout)
	}
	return WithTx(ctx, tx), tx, nil
}

// txFrom returns the transaction carried by ctx when it belongs to this store.
func (s *DynamoStore[V]) txFrom(ctx context.Context) (*dynamoTx, error) {
	tx := TxFromContext(ctx)
	if tx == nil {
		return nil, nil
	}
	dt, ok := tx.(*dynamoTx)
	if !ok || dt.table != s.config.Table {
		return nil, fmt.Errorf("socialgraph: transaction %s does not belong to table %s", tx.ID(), s.config.Table)
	}
	return dt, nil
}

func (s *DynamoStore[V]) getItem(ctx context.Context, id uint64) (map[string]types.AttributeValue, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.config.Table),
		Key:            idKey(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get %d: %w", id, err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	return out.Item, nil
}

func (s *DynamoStore[V]) batchGet(ctx context.Context, ids []uint64) ([]map[string]types.AttributeValue, error) {
	keys := make([]map[string]types.AttributeValue, len(ids))
	for i, id := range ids {
		keys[i] = idKey(id)
	}
	request := map[string]types.KeysAndAttributes{
		s.config.Table: {Keys: keys, ConsistentRead: aws.Bool(true)},
	}

	var items []map[string]types.AttributeValue
	b := retry.WithMaxRetries(uint64(s.config.MaxCASAttempts), retry.NewExponential(50*time.Millisecond))
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		out, err := s.client.BatchGetItem(ctx, &dynamodb.BatchGetItemInput{RequestItems: request})
		if err != nil {
			return fmt.Errorf("batch get: %w", err)
		}
		items = append(items, out.Responses[s.config.Table]...)
		if len(out.UnprocessedKeys) == 0 {
			return nil
		}
		request = out.UnprocessedKeys
		return retry.RetryableError(errUnprocessedKeys)
	})
	return items, err
}

// apply runs fn against the typed view of raw and returns the item to write,
// or nil when fn declined to write.
func (s *DynamoStore[V]) apply(id uint64, raw map[string]types.AttributeValue, fn MutateFunc[V]) (map[string]types.AttributeValue, error) {
	var current *V
	var prev map[string]types.AttributeValue
	if raw != nil {
		v, err := s.decode(raw)
		if err != nil {
			return nil, err
		}
		if prev, err = attributevalue.MarshalMap(v); err != nil {
			return nil, fmt.Errorf("marshal %d: %w", id, err)
		}
		current = v
	}

	next, err := fn(current)
	if err != nil || next == nil {
		return nil, err
	}

	attrs, err := attributevalue.MarshalMap(next)
	if err != nil {
		return nil, fmt.Errorf("marshal %d: %w", id, err)
	}
	item := Overlay(raw, prev, attrs)
	item[attrID] = idKey(id)[attrID]
	return item, nil
}

func (s *DynamoStore[V]) decode(raw map[string]types.AttributeValue) (*V, error) {
	v := new(V)
	if err := attributevalue.UnmarshalMap(raw, v); err != nil {
		return nil, fmt.Errorf("unmarshal record: %w", err)
	}
	return v, nil
}
