package store

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Managed attributes. They are stripped from the typed view on read and set
// by the store on every write.
const (
	attrID      = "id"
	attrVersion = "version"
)

// idKey returns the primary key of the record with the given id.
func idKey(id uint64) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		attrID: &types.AttributeValueMemberN{Value: strconv.FormatUint(id, 10)},
	}
}

// itemID extracts the id attribute from an item.
func itemID(item map[string]types.AttributeValue) (uint64, bool) {
	n, ok := item[attrID].(*types.AttributeValueMemberN)
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseUint(n.Value, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// itemVersion returns the optimistic lock version of an item, 0 when the item
// is absent or unversioned.
func itemVersion(item map[string]types.AttributeValue) int64 {
	n, ok := item[attrVersion].(*types.AttributeValueMemberN)
	if !ok {
		return 0
	}
	v, err := strconv.ParseInt(n.Value, 10, 64)
	if err != nil {
		return 0
	}
	return v
}

// withVersion stamps item with the version following prev.
func withVersion(item map[string]types.AttributeValue, prev int64) map[string]types.AttributeValue {
	item[attrVersion] = &types.AttributeValueMemberN{Value: strconv.FormatInt(prev+1, 10)}
	return item
}

// VersionCondition matches an item whose version is still version. Version 0
// means the item must not exist.
func VersionCondition(version int64) expression.ConditionBuilder {
	if version == 0 {
		return expression.AttributeNotExists(expression.Name(attrID))
	}
	return expression.Name(attrVersion).Equal(expression.Value(version))
}

// recordCondition matches the record exactly as item was read: absent when
// item is nil, present and still unversioned when item carries no version.
func recordCondition(item map[string]types.AttributeValue) expression.ConditionBuilder {
	if item == nil {
		return VersionCondition(0)
	}
	if v := itemVersion(item); v > 0 {
		return VersionCondition(v)
	}
	return expression.AttributeExists(expression.Name(attrID)).
		And(expression.AttributeNotExists(expression.Name(attrVersion)))
}

// conditional holds a built condition expression ready to be copied onto a request.
type conditional struct {
	expr  *string
	names map[string]string
	vals  map[string]types.AttributeValue
}

func buildCondition(cond expression.ConditionBuilder) (conditional, error) {
	expr, err := expression.NewBuilder().WithCondition(cond).Build()
	if err != nil {
		return conditional{}, fmt.Errorf("build condition: %w", err)
	}
	return conditional{expr: expr.Condition(), names: expr.Names(), vals: expr.Values()}, nil
}

// isConditionFailed reports whether err is a failed condition on a single-item write.
func isConditionFailed(err error) bool {
	var condErr *types.ConditionalCheckFailedException
	return errors.As(err, &condErr)
}

// mapTransactError maps a TransactWriteItems failure onto the store's sentinels.
func mapTransactError(err error) error {
	if err == nil {
		return nil
	}

	var txErr *types.TransactionCanceledException
	if errors.As(err, &txErr) {
		for _, reason := range txErr.CancellationReasons {
			switch aws.ToString(reason.Code) {
			case "ConditionalCheckFailed", "TransactionConflict":
				return fmt.Errorf("%w: %s", ErrConflict, aws.ToString(txErr.Message))
			case "ItemCollectionSizeLimitExceeded":
				return ErrTxTooLarge
			}
		}
	}

	var conflictErr *types.TransactionConflictException
	if errors.As(err, &conflictErr) {
		return ErrConflict
	}
	var inProgressErr *types.TransactionInProgressException
	if errors.As(err, &inProgressErr) {
		return ErrConflict
	}

	return err
}
