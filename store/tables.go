package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// TableAPI is the subset of the DynamoDB client used by CreateTables.
type TableAPI interface {
	CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

// CreateTables creates the record, sequence and lock tables named by config
// and waits for them to become active. Existing tables are left untouched.
//
// The record table streams OLD_IMAGE so deletions can be followed up by the
// edge cleanup handler.
func CreateTables(ctx context.Context, client TableAPI, config Config, maxWait time.Duration) error {
	config.validate()

	inputs := []*dynamodb.CreateTableInput{
		{
			TableName:            aws.String(config.Table),
			AttributeDefinitions: []types.AttributeDefinition{{AttributeName: aws.String(attrID), AttributeType: types.ScalarAttributeTypeN}},
			KeySchema:            []types.KeySchemaElement{{AttributeName: aws.String(attrID), KeyType: types.KeyTypeHash}},
			BillingMode:          types.BillingModePayPerRequest,
			StreamSpecification: &types.StreamSpecification{
				StreamEnabled:  aws.Bool(true),
				StreamViewType: types.StreamViewTypeOldImage,
			},
		},
		{
			TableName:            aws.String(config.SequenceTable),
			AttributeDefinitions: []types.AttributeDefinition{{AttributeName: aws.String("name"), AttributeType: types.ScalarAttributeTypeS}},
			KeySchema:            []types.KeySchemaElement{{AttributeName: aws.String("name"), KeyType: types.KeyTypeHash}},
			BillingMode:          types.BillingModePayPerRequest,
		},
		{
			TableName:            aws.String(config.LockTable),
			AttributeDefinitions: []types.AttributeDefinition{{AttributeName: aws.String("pk"), AttributeType: types.ScalarAttributeTypeS}},
			KeySchema:            []types.KeySchemaElement{{AttributeName: aws.String("pk"), KeyType: types.KeyTypeHash}},
			BillingMode:          types.BillingModePayPerRequest,
		},
	}

	for _, input := range inputs {
		_, err := client.CreateTable(ctx, input)
		var inUse *types.ResourceInUseException
		if err != nil && !errors.As(err, &inUse) {
			return fmt.Errorf("create table %s: %w", aws.ToString(input.TableName), err)
		}
	}

	waiter := dynamodb.NewTableExistsWaiter(client)
	for _, input := range inputs {
		err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{TableName: input.TableName}, maxWait)
		if err != nil {
			return fmt.Errorf("wait for table %s: %w", aws.ToString(input.TableName), err)
		}
	}
	return nil
}
