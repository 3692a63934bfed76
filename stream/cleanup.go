// Package stream provides DynamoDB Streams handlers for the person table.
package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/socialgraph/person"
)

// EdgeRemover removes one side of a friend edge. people.Repository is one.
type EdgeRemover interface {
	RemoveFriendEdgeMember(ctx context.Context, owner, other uint64) (bool, error)
}

// Handler strips deleted people from their former friends' friend sets.
type Handler struct {
	people EdgeRemover
	logger *slog.Logger
}

// NewHandler creates a new stream handler.
func NewHandler(people EdgeRemover, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		people: people,
		logger: logger,
	}
}

// HandleRemove processes DynamoDB stream events of the person table.
// This function is designed to be used as an AWS Lambda handler; the stream
// must carry old images.
func (h *Handler) HandleRemove(ctx context.Context, event events.DynamoDBEvent) error {
	for _, record := range event.Records {
		if err := h.processRecord(ctx, record); err != nil {
			h.logger.Error("failed to process record",
				"eventID", record.EventID,
				"error", err,
			)
			return err // Will retry, eventually DLQ
		}
	}
	return nil
}

// processRecord handles a single stream record. Removing a member that is
// already gone is a no-op, so redelivered records are harmless.
func (h *Handler) processRecord(ctx context.Context, record events.DynamoDBEventRecord) error {
	if record.EventName != string(events.DynamoDBOperationTypeRemove) {
		return nil
	}

	id, err := recordID(record.Change)
	if err != nil {
		return err
	}

	var old person.Record
	if err := attributevalue.UnmarshalMap(ConvertImage(record.Change.OldImage), &old); err != nil {
		return fmt.Errorf("decode old image of %d: %w", id, err)
	}
	if len(old.FriendIDs) == 0 {
		return nil
	}

	h.logger.Info("removing dangling edges",
		"id", id,
		"friends", len(old.FriendIDs),
	)

	var errs []error
	removed := 0
	for _, friend := range old.FriendIDs {
		ok, err := h.people.RemoveFriendEdgeMember(ctx, friend, id)
		if err != nil {
			h.logger.Warn("failed to remove dangling edge",
				"owner", friend,
				"member", id,
				"error", err,
			)
			errs = append(errs, err)
			continue
		}
		if ok {
			removed++
		}
	}

	h.logger.Info("dangling edges removed",
		"id", id,
		"removed", removed,
		"failed", len(errs),
	)
	return errors.Join(errs...)
}

// recordID reads the person id from the record keys, falling back to the old
// image.
func recordID(change events.DynamoDBStreamRecord) (uint64, error) {
	for _, image := range []map[string]events.DynamoDBAttributeValue{change.Keys, change.OldImage} {
		v, ok := image["id"]
		if !ok || v.DataType() != events.DataTypeNumber {
			continue
		}
		id, err := strconv.ParseUint(v.Number(), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("parse person id %q: %w", v.Number(), err)
		}
		return id, nil
	}
	return 0, errors.New("stream record carries no person id")
}

// ConvertImage converts a DynamoDB stream image to the SDK's attribute value
// form so it can be decoded with attributevalue.
func ConvertImage(image map[string]events.DynamoDBAttributeValue) map[string]types.AttributeValue {
	result := make(map[string]types.AttributeValue, len(image))
	for k, v := range image {
		if av := convertAttr(v); av != nil {
			result[k] = av
		}
	}
	return result
}

func convertAttr(v events.DynamoDBAttributeValue) types.AttributeValue {
	switch v.DataType() {
	case events.DataTypeString:
		return &types.AttributeValueMemberS{Value: v.String()}
	case events.DataTypeNumber:
		return &types.AttributeValueMemberN{Value: v.Number()}
	case events.DataTypeBinary:
		return &types.AttributeValueMemberB{Value: v.Binary()}
	case events.DataTypeBoolean:
		return &types.AttributeValueMemberBOOL{Value: v.Boolean()}
	case events.DataTypeNull:
		return &types.AttributeValueMemberNULL{Value: true}
	case events.DataTypeStringSet:
		return &types.AttributeValueMemberSS{Value: v.StringSet()}
	case events.DataTypeNumberSet:
		return &types.AttributeValueMemberNS{Value: v.NumberSet()}
	case events.DataTypeBinarySet:
		return &types.AttributeValueMemberBS{Value: v.BinarySet()}
	case events.DataTypeList:
		list := make([]types.AttributeValue, 0, len(v.List()))
		for _, item := range v.List() {
			if av := convertAttr(item); av != nil {
				list = append(list, av)
			}
		}
		return &types.AttributeValueMemberL{Value: list}
	case events.DataTypeMap:
		return &types.AttributeValueMemberM{Value: ConvertImage(v.Map())}
	}
	return nil
}
