package dynamodb

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/chris/cash-settlement/pkg/models"
	"github.com/chris/cash-settlement/pkg/storage"
)

// pendingIndex is a sparse index over outbox rows that still carry the pending marker.
const pendingIndex = "pending-occurred_at-index"

// ListUndispatched retrieves outbox transitions not yet dispatched, oldest first.
// A non-nil after becomes the ExclusiveStartKey, which DynamoDB accepts even
// when that row has since left the index.
func (s *Store) ListUndispatched(ctx context.Context, after *models.Transition, limit int32) ([]models.Transition, error) {
	input := &dynamodb.QueryInput{
		TableName:              aws.String(s.Tables.Outbox),
		IndexName:              aws.String(pendingIndex),
		KeyConditionExpression: aws.String("pending = :pending"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pending": stringAV(pendingMarker),
		},
		ScanIndexForward: aws.Bool(true),
	}
	if limit > 0 {
		input.Limit = aws.Int32(limit)
	}
	if after != nil {
		input.ExclusiveStartKey = map[string]types.AttributeValue{
			"id":          stringAV(after.ID),
			"pending":     stringAV(pendingMarker),
			"occurred_at": stringAV(formatTimestamp(after.OccurredAt)),
		}
	}

	result, err := s.Client.Query(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to query for undispatched transitions: %w", err)
	}

	var items []transitionItem
	if err := attributevalue.UnmarshalListOfMaps(result.Items, &items); err != nil {
		return nil, fmt.Errorf("failed to unmarshal transitions: %w", err)
	}

	transitions := make([]models.Transition, len(items))
	for i, item := range items {
		transitions[i] = item.model()
	}
	return transitions, nil
}

// MarkDispatched flags a transition as dispatched and drops it from the pending index.
func (s *Store) MarkDispatched(ctx context.Context, transitionID string) error {
	_, err := s.Client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(s.Tables.Outbox),
		Key:                 map[string]types.AttributeValue{"id": stringAV(transitionID)},
		UpdateExpression:    aws.String("SET dispatched = :true REMOVE pending"),
		ConditionExpression: aws.String("attribute_exists(id)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":true": &types.AttributeValueMemberBOOL{Value: true},
		},
	})
	if err != nil {
		var condCheckFailed *types.ConditionalCheckFailedException
		if errors.As(err, &condCheckFailed) {
			return fmt.Errorf("transition %s: %w", transitionID, storage.ErrNotFound)
		}
		return fmt.Errorf("failed to mark transition dispatched: %w", err)
	}
	return nil
}

// RecordAttempt increments the failed delivery count of a transition.
func (s *Store) RecordAttempt(ctx context.Context, transitionID string) (int, error) {
	out, err := s.Client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(s.Tables.Outbox),
		Key:                 map[string]types.AttributeValue{"id": stringAV(transitionID)},
		UpdateExpression:    aws.String("ADD attempts :one"),
		ConditionExpression: aws.String("attribute_exists(id)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":one": &types.AttributeValueMemberN{Value: "1"},
		},
		ReturnValues: types.ReturnValueUpdatedNew,
	})
	if err != nil {
		var condCheckFailed *types.ConditionalCheckFailedException
		if errors.As(err, &condCheckFailed) {
			return 0, fmt.Errorf("transition %s: %w", transitionID, storage.ErrNotFound)
		}
		return 0, fmt.Errorf("failed to record delivery attempt: %w", err)
	}

	var updated struct {
		Attempts int `dynamodbav:"attempts"`
	}
	if err := attributevalue.UnmarshalMap(out.Attributes, &updated); err != nil {
		return 0, fmt.Errorf("failed to unmarshal attempts: %w", err)
	}
	return updated.Attempts, nil
}
