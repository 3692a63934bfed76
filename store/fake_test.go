package store

import (
	"context"
	"fmt"
	"maps"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// fakeDynamo is an in-memory stand-in for the DynamoDB operations the store
// issues. Record conditions are evaluated from the version the request
// expects, lock conditions from the owner and expiry of the lock row.
type fakeDynamo struct {
	mu     sync.Mutex
	tables map[string]map[string]map[string]types.AttributeValue
	calls  map[string]int

	// putHook runs before every PutItem and may fail it.
	putHook func(in *dynamodb.PutItemInput) error
	// unprocessedOnce leaves the last key of the first BatchGetItem call unprocessed.
	unprocessedOnce bool
	transacts       []*dynamodb.TransactWriteItemsInput
}

var _ API = (*fakeDynamo)(nil)

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{
		tables: make(map[string]map[string]map[string]types.AttributeValue),
		calls:  make(map[string]int),
	}
}

func keyString(key map[string]types.AttributeValue) string {
	for _, name := range []string{"id", "name", "pk"} {
		switch v := key[name].(type) {
		case *types.AttributeValueMemberN:
			return v.Value
		case *types.AttributeValueMemberS:
			return v.Value
		}
	}
	return ""
}

func (f *fakeDynamo) table(name string) map[string]map[string]types.AttributeValue {
	t, ok := f.tables[name]
	if !ok {
		t = make(map[string]map[string]types.AttributeValue)
		f.tables[name] = t
	}
	return t
}

func (f *fakeDynamo) seed(table string, item map[string]types.AttributeValue) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.table(table)[keyString(item)] = maps.Clone(item)
}

func (f *fakeDynamo) item(table string, key map[string]types.AttributeValue) map[string]types.AttributeValue {
	f.mu.Lock()
	defer f.mu.Unlock()
	return maps.Clone(f.table(table)[keyString(key)])
}

func (f *fakeDynamo) count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func conditionFailed() error {
	return &types.ConditionalCheckFailedException{Message: aws.String("The conditional request failed")}
}

// expectedVersion reads the version a record condition expects; 0 when it
// expects no version.
func expectedVersion(vals map[string]types.AttributeValue) int64 {
	for _, v := range vals {
		if n, ok := v.(*types.AttributeValueMemberN); ok {
			i, _ := strconv.ParseInt(n.Value, 10, 64)
			return i
		}
	}
	return 0
}

// recordConditionHolds is called with f.mu held. A condition with a version
// value expects that version, one with attribute_exists expects an existing
// unversioned record, anything else expects the record to be absent.
func (f *fakeDynamo) recordConditionHolds(table string, key map[string]types.AttributeValue, expr *string, vals map[string]types.AttributeValue) bool {
	current, exists := f.table(table)[keyString(key)]
	if want := expectedVersion(vals); want != 0 {
		return exists && itemVersion(current) == want
	}
	if strings.Contains(aws.ToString(expr), "attribute_exists") {
		return exists && itemVersion(current) == 0
	}
	return !exists
}

// lockConditionHolds is called with f.mu held.
func (f *fakeDynamo) lockConditionHolds(table string, item map[string]types.AttributeValue) bool {
	current, exists := f.table(table)[keyString(item)]
	if !exists {
		return true
	}
	owner := current["owner"].(*types.AttributeValueMemberS).Value
	if owner == item["owner"].(*types.AttributeValueMemberS).Value {
		return true
	}
	expires, _ := strconv.ParseInt(current["expires_at"].(*types.AttributeValueMemberN).Value, 10, 64)
	return expires < time.Now().UnixMilli()
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["GetItem"]++
	return &dynamodb.GetItemOutput{Item: maps.Clone(f.table(*in.TableName)[keyString(in.Key)])}, nil
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	if f.putHook != nil {
		if err := f.putHook(in); err != nil {
			f.mu.Lock()
			f.calls["PutItem"]++
			f.mu.Unlock()
			return nil, err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["PutItem"]++
	table := *in.TableName
	if _, isLock := in.Item["owner"]; isLock {
		if !f.lockConditionHolds(table, in.Item) {
			return nil, conditionFailed()
		}
	} else if in.ConditionExpression != nil && !f.recordConditionHolds(table, in.Item, in.ConditionExpression, in.ExpressionAttributeValues) {
		return nil, conditionFailed()
	}
	f.table(table)[keyString(in.Item)] = maps.Clone(in.Item)
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["DeleteItem"]++
	t := f.table(*in.TableName)
	k := keyString(in.Key)
	old, exists := t[k]

	if in.ConditionExpression != nil {
		for _, v := range in.ExpressionAttributeValues {
			owner, ok := v.(*types.AttributeValueMemberS)
			if !ok {
				continue
			}
			if !exists || old["owner"].(*types.AttributeValueMemberS).Value != owner.Value {
				return nil, conditionFailed()
			}
		}
	}

	delete(t, k)
	out := &dynamodb.DeleteItemOutput{}
	if in.ReturnValues == types.ReturnValueAllOld && exists {
		out.Attributes = old
	}
	return out, nil
}

func (f *fakeDynamo) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["UpdateItem"]++
	t := f.table(*in.TableName)
	k := keyString(in.Key)
	item, ok := t[k]
	if !ok {
		item = maps.Clone(in.Key)
	}
	var current int64
	if n, ok := item["value"].(*types.AttributeValueMemberN); ok {
		current, _ = strconv.ParseInt(n.Value, 10, 64)
	}
	next := &types.AttributeValueMemberN{Value: strconv.FormatInt(current+1, 10)}
	item["value"] = next
	t[k] = item
	return &dynamodb.UpdateItemOutput{Attributes: map[string]types.AttributeValue{"value": next}}, nil
}

func (f *fakeDynamo) BatchGetItem(_ context.Context, in *dynamodb.BatchGetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.BatchGetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["BatchGetItem"]++
	out := &dynamodb.BatchGetItemOutput{
		Responses:       make(map[string][]map[string]types.AttributeValue),
		UnprocessedKeys: make(map[string]types.KeysAndAttributes),
	}
	for table, ka := range in.RequestItems {
		if len(ka.Keys) > batchGetLimit {
			return nil, fmt.Errorf("too many keys: %d", len(ka.Keys))
		}
		keys := ka.Keys
		if f.unprocessedOnce && len(keys) > 1 {
			f.unprocessedOnce = false
			out.UnprocessedKeys[table] = types.KeysAndAttributes{Keys: keys[len(keys)-1:], ConsistentRead: ka.ConsistentRead}
			keys = keys[:len(keys)-1]
		}
		for _, key := range keys {
			if item, ok := f.table(table)[keyString(key)]; ok {
				out.Responses[table] = append(out.Responses[table], maps.Clone(item))
			}
		}
	}
	return out, nil
}

func (f *fakeDynamo) TransactWriteItems(_ context.Context, in *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["TransactWriteItems"]++
	f.transacts = append(f.transacts, in)

	reasons := make([]types.CancellationReason, len(in.TransactItems))
	failed := false
	for i, ti := range in.TransactItems {
		var ok bool
		switch {
		case ti.Put != nil:
			ok = f.recordConditionHolds(*ti.Put.TableName, ti.Put.Item, ti.Put.ConditionExpression, ti.Put.ExpressionAttributeValues)
		case ti.Delete != nil:
			ok = f.recordConditionHolds(*ti.Delete.TableName, ti.Delete.Key, ti.Delete.ConditionExpression, ti.Delete.ExpressionAttributeValues)
		case ti.ConditionCheck != nil:
			ok = f.recordConditionHolds(*ti.ConditionCheck.TableName, ti.ConditionCheck.Key, ti.ConditionCheck.ConditionExpression, ti.ConditionCheck.ExpressionAttributeValues)
		}
		reasons[i].Code = aws.String("None")
		if !ok {
			reasons[i].Code = aws.String("ConditionalCheckFailed")
			failed = true
		}
	}
	if failed {
		return nil, &types.TransactionCanceledException{
			Message:             aws.String("Transaction cancelled"),
			CancellationReasons: reasons,
		}
	}

	for _, ti := range in.TransactItems {
		switch {
		case ti.Put != nil:
			f.table(*ti.Put.TableName)[keyString(ti.Put.Item)] = maps.Clone(ti.Put.Item)
		case ti.Delete != nil:
			delete(f.table(*ti.Delete.TableName), keyString(ti.Delete.Key))
		}
	}
	return &dynamodb.TransactWriteItemsOutput{}, nil
}

func (f *fakeDynamo) Scan(_ context.Context, in *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["Scan"]++
	segment, total := aws.ToInt32(in.Segment), aws.ToInt32(in.TotalSegments)
	if total == 0 {
		total = 1
	}
	out := &dynamodb.ScanOutput{}
	for _, item := range f.table(*in.TableName) {
		id, _ := itemID(item)
		if int32(id%uint64(total)) == segment {
			out.Items = append(out.Items, maps.Clone(item))
		}
	}
	return out, nil
}
