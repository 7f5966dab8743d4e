package dynamodb

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/chris/cash-settlement/pkg/models"
	"github.com/chris/cash-settlement/pkg/storage"
	"github.com/chris/cash-settlement/pkg/storage/dynamodb/mocks"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestListUndispatched(t *testing.T) {
	tr := models.Transition{
		ID:            "d-1#2",
		TransactionID: "d-1",
		AccountID:     "acct-1",
		Kind:          models.DEPOSIT,
		Status:        models.COMPLETED,
		Amount:        decimal.NewFromInt(5),
		OccurredAt:    fixedNow,
	}
	item, err := attributevalue.MarshalMap(toTransitionItem(tr))
	require.NoError(t, err)
	assert.Equal(t, pendingMarker, item["pending"].(*types.AttributeValueMemberS).Value)

	mockClient := new(mocks.DynamoDBAPI)
	mockClient.On("Query", mock.Anything, mock.MatchedBy(func(in *dynamodb.QueryInput) bool {
		return *in.IndexName == pendingIndex && *in.Limit == 50
	})).Return(&dynamodb.QueryOutput{Items: []map[string]types.AttributeValue{item}}, nil)

	store := newTestStore(mockClient)
	transitions, err := store.ListUndispatched(context.Background(), nil, 50)

	assert.NoError(t, err)
	require.Len(t, transitions, 1)
	assert.Equal(t, "d-1#2", transitions[0].ID)
	assert.False(t, transitions[0].Dispatched)

	t.Run("Resumes After Transition", func(t *testing.T) {
		mockClient := new(mocks.DynamoDBAPI)
		mockClient.On("Query", mock.Anything, mock.MatchedBy(func(in *dynamodb.QueryInput) bool {
			key := in.ExclusiveStartKey
			return key["id"].(*types.AttributeValueMemberS).Value == "d-1#2" &&
				key["pending"].(*types.AttributeValueMemberS).Value == pendingMarker &&
				key["occurred_at"].(*types.AttributeValueMemberS).Value == "2025-03-01T12:00:00.000000000Z"
		})).Return(&dynamodb.QueryOutput{}, nil)

		store := newTestStore(mockClient)
		rest, err := store.ListUndispatched(context.Background(), &tr, 50)

		assert.NoError(t, err)
		assert.Empty(t, rest)
		mockClient.AssertExpectations(t)
	})
}

func TestTimestampOrdering(t *testing.T) {
	whole := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	fraction := whole.Add(500 * time.Millisecond)

	a, err := timeAV(whole)
	require.NoError(t, err)
	b, err := timeAV(fraction)
	require.NoError(t, err)

	// With RFC3339Nano "12:00:00Z" sorts after "12:00:00.5Z".
	assert.Less(t, a.(*types.AttributeValueMemberS).Value, b.(*types.AttributeValueMemberS).Value)

	var back timestamp
	require.NoError(t, back.UnmarshalDynamoDBAttributeValue(b))
	assert.True(t, fraction.Equal(back.Time))

	var legacy timestamp
	require.NoError(t, legacy.UnmarshalDynamoDBAttributeValue(&types.AttributeValueMemberS{Value: "2025-03-01T12:00:00.5Z"}))
	assert.True(t, fraction.Equal(legacy.Time))
}

func TestRecordAttempt(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		mockClient := new(mocks.DynamoDBAPI)
		mockClient.On("UpdateItem", mock.Anything, mock.MatchedBy(func(in *dynamodb.UpdateItemInput) bool {
			return *in.UpdateExpression == "ADD attempts :one"
		})).Return(&dynamodb.UpdateItemOutput{Attributes: map[string]types.AttributeValue{
			"attempts": &types.AttributeValueMemberN{Value: "3"},
		}}, nil)

		store := newTestStore(mockClient)
		attempts, err := store.RecordAttempt(context.Background(), "d-1#2")

		assert.NoError(t, err)
		assert.Equal(t, 3, attempts)
	})

	t.Run("Unknown Transition", func(t *testing.T) {
		mockClient := new(mocks.DynamoDBAPI)
		mockClient.On("UpdateItem", mock.Anything, mock.Anything).Return(nil, &types.ConditionalCheckFailedException{})

		store := newTestStore(mockClient)
		_, err := store.RecordAttempt(context.Background(), "nope")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})
}

func TestMarkDispatched(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		mockClient := new(mocks.DynamoDBAPI)
		mockClient.On("UpdateItem", mock.Anything, mock.MatchedBy(func(in *dynamodb.UpdateItemInput) bool {
			return *in.UpdateExpression == "SET dispatched = :true REMOVE pending"
		})).Return(&dynamodb.UpdateItemOutput{}, nil)

		store := newTestStore(mockClient)
		assert.NoError(t, store.MarkDispatched(context.Background(), "d-1#2"))
		mockClient.AssertExpectations(t)
	})

	t.Run("Unknown Transition", func(t *testing.T) {
		mockClient := new(mocks.DynamoDBAPI)
		mockClient.On("UpdateItem", mock.Anything, mock.Anything).Return(nil, &types.ConditionalCheckFailedException{})

		store := newTestStore(mockClient)
		assert.ErrorIs(t, store.MarkDispatched(context.Background(), "nope"), storage.ErrNotFound)
	})
}

func TestSystemConfig(t *testing.T) {
	t.Run("Missing Item Is Zero Config", func(t *testing.T) {
		mockClient := new(mocks.DynamoDBAPI)
		mockClient.On("GetItem", mock.Anything, mock.Anything).Return(&dynamodb.GetItemOutput{}, nil)

		store := newTestStore(mockClient)
		cfg, err := store.GetSystemConfig(context.Background())

		assert.NoError(t, err)
		assert.True(t, cfg.InterestRatePercent.IsZero())
	})

	t.Run("Round Trip Through Put", func(t *testing.T) {
		mockClient := new(mocks.DynamoDBAPI)
		var stored map[string]types.AttributeValue
		mockClient.On("PutItem", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
			stored = args.Get(1).(*dynamodb.PutItemInput).Item
		}).Return(&dynamodb.PutItemOutput{}, nil)

		store := newTestStore(mockClient)
		err := store.UpdateSystemConfig(context.Background(), &models.SystemConfig{
			InterestRatePercent:  decimal.NewFromInt(5),
			WithdrawalFeePercent: decimal.RequireFromString("1.5"),
			UpdatedBy:            "admin-1",
		})
		require.NoError(t, err)

		mockClient.On("GetItem", mock.Anything, mock.Anything).Return(&dynamodb.GetItemOutput{Item: stored}, nil)
		cfg, err := store.GetSystemConfig(context.Background())

		assert.NoError(t, err)
		assert.True(t, cfg.WithdrawalFeePercent.Equal(decimal.RequireFromString("1.5")))
		assert.Equal(t, "admin-1", cfg.UpdatedBy)
		assert.Equal(t, fixedNow, cfg.UpdatedAt)
	})
	t.Run("Compare And Swap Conditions On Version", func(t *testing.T) {
		mockClient := new(mocks.DynamoDBAPI)
		prev := fixedNow.Add(-time.Hour)
		mockClient.On("PutItem", mock.Anything, mock.MatchedBy(func(in *dynamodb.PutItemInput) bool {
			var got time.Time
			if err := attributevalue.Unmarshal(in.ExpressionAttributeValues[":prev"], &got); err != nil {
				return false
			}
			return *in.ConditionExpression == "updated_at = :prev" && got.Equal(prev)
		})).Return(&dynamodb.PutItemOutput{}, nil).Once()

		store := newTestStore(mockClient)
		err := store.CompareAndSwapSystemConfig(context.Background(), &models.SystemConfig{InterestRatePercent: decimal.NewFromInt(6)}, prev)

		assert.NoError(t, err)
		mockClient.AssertExpectations(t)
	})

	t.Run("Compare And Swap Creates When Absent", func(t *testing.T) {
		mockClient := new(mocks.DynamoDBAPI)
		mockClient.On("PutItem", mock.Anything, mock.MatchedBy(func(in *dynamodb.PutItemInput) bool {
			return *in.ConditionExpression == "attribute_not_exists(id)"
		})).Return(&dynamodb.PutItemOutput{}, nil).Once()

		store := newTestStore(mockClient)
		err := store.CompareAndSwapSystemConfig(context.Background(), &models.SystemConfig{}, time.Time{})

		assert.NoError(t, err)
		mockClient.AssertExpectations(t)
	})

	t.Run("Compare And Swap Conflict", func(t *testing.T) {
		mockClient := new(mocks.DynamoDBAPI)
		mockClient.On("PutItem", mock.Anything, mock.Anything).Return(nil, &types.ConditionalCheckFailedException{})

		store := newTestStore(mockClient)
		err := store.CompareAndSwapSystemConfig(context.Background(), &models.SystemConfig{}, fixedNow)

		assert.ErrorIs(t, err, storage.ErrInvalidState)
	})
}
