package store

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/sethvargo/go-retry"

	"github.com/jacentio/socialgraph/internal/shard"
)

// lockTable grants per-key leases for pessimistic transactions using
// conditional writes on the lock table.
//
// A lease is free when its row is missing or expired. The owner may take the
// same lease again.
type lockTable struct {
	client API
	table  string
	lease  time.Duration
	wait   time.Duration
}

func newLockTable(client API, config Config) *lockTable {
	return &lockTable{
		client: client,
		table:  config.LockTable,
		lease:  config.LockLease,
		wait:   config.LockWait,
	}
}

// acquire blocks until owner holds the lease on id, deadline passes, or ctx
// is done. A zero deadline waits at most l.wait.
func (l *lockTable) acquire(ctx context.Context, namespace string, id uint64, owner string, deadline time.Time) error {
	if deadline.IsZero() {
		deadline = time.Now().Add(l.wait)
	}
	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	pk := shard.LockKey(namespace, id)
	b := retry.WithCappedDuration(500*time.Millisecond, retry.NewExponential(20*time.Millisecond))
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		now := time.Now()
		cond := expression.AttributeNotExists(expression.Name("pk")).
			Or(expression.Name("expires_at").LessThan(expression.Value(now.UnixMilli()))).
			Or(expression.Name("owner").Equal(expression.Value(owner)))
		built, err := buildCondition(cond)
		if err != nil {
			return err
		}

		expiresAt := now.Add(l.lease)
		_, err = l.client.PutItem(ctx, &dynamodb.PutItemInput{
			TableName: aws.String(l.table),
			Item: map[string]types.AttributeValue{
				"pk":         &types.AttributeValueMemberS{Value: pk},
				"owner":      &types.AttributeValueMemberS{Value: owner},
				"expires_at": &types.AttributeValueMemberN{Value: strconv.FormatInt(expiresAt.UnixMilli(), 10)},
				"ttl":        &types.AttributeValueMemberN{Value: strconv.FormatInt(expiresAt.Unix(), 10)},
			},
			ConditionExpression:       built.expr,
			ExpressionAttributeNames:  built.names,
			ExpressionAttributeValues: built.vals,
		})
		if isConditionFailed(err) {
			return retry.RetryableError(ErrLockTimeout)
		}
		return err
	})
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrLockTimeout
	}
	return err
}

// release drops owner's lease on id. A lease that already expired or moved
// to another owner is left alone.
func (l *lockTable) release(namespace string, id uint64, owner string) {
	ctx, cancel := context.WithTimeout(context.Background(), l.wait)
	defer cancel()

	built, err := buildCondition(expression.Name("owner").Equal(expression.Value(owner)))
	if err != nil {
		return
	}
	_, _ = l.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(l.table),
		Key: map[string]types.AttributeValue{
			"pk": &types.AttributeValueMemberS{Value: shard.LockKey(namespace, id)},
		},
		ConditionExpression:       built.expr,
		ExpressionAttributeNames:  built.names,
		ExpressionAttributeValues: built.vals,
	})
}
