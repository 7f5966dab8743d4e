package dynamodb

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/chris/cash-settlement/pkg/models"
	"github.com/chris/cash-settlement/pkg/storage"
	"github.com/chris/cash-settlement/pkg/storage/dynamodb/mocks"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func TestApplyCredit(t *testing.T) {
	tx := &models.Transaction{
		ID:          storage.NewTransactionID("np:42"),
		AccountID:   "acct-1",
		Kind:        models.DEPOSIT,
		Amount:      decimal.NewFromInt(25),
		ExternalRef: "np:42",
	}
	updated := &models.Account{ID: "acct-1", Balance: decimal.NewFromInt(125)}

	t.Run("Success", func(t *testing.T) {
		mockClient := new(mocks.DynamoDBAPI)
		mockClient.On("TransactWriteItems", mock.Anything, mock.MatchedBy(func(in *dynamodb.TransactWriteItemsInput) bool {
			if len(in.TransactItems) != 3 {
				return false
			}
			balance := in.TransactItems[0].Update
			put := in.TransactItems[1].Put
			status := put.Item["status"].(*types.AttributeValueMemberS).Value
			return *balance.UpdateExpression == "SET balance = balance + :amount, updated_at = :now" &&
				*put.ConditionExpression == "attribute_not_exists(id)" &&
				status == string(models.COMPLETED) &&
				*in.TransactItems[2].Put.TableName == "outbox"
		})).Return(&dynamodb.TransactWriteItemsOutput{}, nil).Once()
		mockClient.On("GetItem", mock.Anything, mock.Anything).Return(&dynamodb.GetItemOutput{Item: accountAV(t, updated)}, nil).Once()

		store := newTestStore(mockClient)
		account, err := store.ApplyCredit(context.Background(), tx)

		assert.NoError(t, err)
		assert.True(t, account.Balance.Equal(decimal.NewFromInt(125)))
		mockClient.AssertExpectations(t)
	})

	t.Run("Duplicate", func(t *testing.T) {
		mockClient := new(mocks.DynamoDBAPI)
		mockClient.On("TransactWriteItems", mock.Anything, mock.Anything).Return(nil, cancelled(3, map[int]map[string]types.AttributeValue{1: nil}))

		store := newTestStore(mockClient)
		_, err := store.ApplyCredit(context.Background(), tx)

		assert.ErrorIs(t, err, storage.ErrDuplicateEvent)
		mockClient.AssertExpectations(t)
	})

	t.Run("Account Missing", func(t *testing.T) {
		mockClient := new(mocks.DynamoDBAPI)
		mockClient.On("TransactWriteItems", mock.Anything, mock.Anything).Return(nil, cancelled(3, map[int]map[string]types.AttributeValue{0: nil}))

		store := newTestStore(mockClient)
		_, err := store.ApplyCredit(context.Background(), tx)

		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("Transaction Fails", func(t *testing.T) {
		mockClient := new(mocks.DynamoDBAPI)
		mockClient.On("TransactWriteItems", mock.Anything, mock.Anything).Return(nil, errors.New("transaction failed"))

		store := newTestStore(mockClient)
		_, err := store.ApplyCredit(context.Background(), tx)

		assert.Error(t, err)
		assert.Contains(t, err.Error(), "failed to execute transaction")
	})
}

func TestApplyDebit(t *testing.T) {
	tx := &models.Transaction{
		ID:        "w-1",
		AccountID: "acct-1",
		Kind:      models.WITHDRAW,
		Amount:    decimal.NewFromInt(60),
		Status:    models.PENDING,
	}

	t.Run("Success", func(t *testing.T) {
		mockClient := new(mocks.DynamoDBAPI)
		mockClient.On("TransactWriteItems", mock.Anything, mock.MatchedBy(func(in *dynamodb.TransactWriteItemsInput) bool {
			balance := in.TransactItems[0].Update
			amount := balance.ExpressionAttributeValues[":amount"].(*types.AttributeValueMemberN).Value
			stored := in.TransactItems[1].Put.Item["amount"].(*types.AttributeValueMemberN).Value
			return *balance.ConditionExpression == "attribute_exists(id) AND balance >= :amount" &&
				amount == "60" && stored == "60"
		})).Return(&dynamodb.TransactWriteItemsOutput{}, nil).Once()
		mockClient.On("GetItem", mock.Anything, mock.Anything).Return(&dynamodb.GetItemOutput{
			Item: accountAV(t, &models.Account{ID: "acct-1", Balance: decimal.NewFromInt(40)}),
		}, nil).Once()

		store := newTestStore(mockClient)
		account, err := store.ApplyDebit(context.Background(), tx)

		assert.NoError(t, err)
		assert.True(t, account.Balance.Equal(decimal.NewFromInt(40)))
		mockClient.AssertExpectations(t)
	})

	t.Run("Insufficient Funds", func(t *testing.T) {
		mockClient := new(mocks.DynamoDBAPI)
		old := accountAV(t, &models.Account{ID: "acct-1", Balance: decimal.NewFromInt(40)})
		mockClient.On("TransactWriteItems", mock.Anything, mock.Anything).Return(nil, cancelled(3, map[int]map[string]types.AttributeValue{0: old}))

		store := newTestStore(mockClient)
		_, err := store.ApplyDebit(context.Background(), tx)

		assert.ErrorIs(t, err, storage.ErrInsufficientFunds)
		mockClient.AssertExpectations(t)
	})

	t.Run("Account Missing", func(t *testing.T) {
		mockClient := new(mocks.DynamoDBAPI)
		mockClient.On("TransactWriteItems", mock.Anything, mock.Anything).Return(nil, cancelled(3, map[int]map[string]types.AttributeValue{0: nil}))

		store := newTestStore(mockClient)
		_, err := store.ApplyDebit(context.Background(), tx)

		assert.ErrorIs(t, err, storage.ErrNotFound)
	})
}

func TestInsertTransaction(t *testing.T) {
	tx := &models.Transaction{
		AccountID:   "acct-1",
		Kind:        models.DEPOSIT,
		Amount:      decimal.NewFromInt(10),
		Status:      models.PENDING,
		ExternalRef: "payos:77",
	}

	t.Run("Success", func(t *testing.T) {
		mockClient := new(mocks.DynamoDBAPI)
		mockClient.On("TransactWriteItems", mock.Anything, mock.MatchedBy(func(in *dynamodb.TransactWriteItemsInput) bool {
			id := in.TransactItems[1].Put.Item["id"].(*types.AttributeValueMemberS).Value
			return in.TransactItems[0].ConditionCheck != nil && id == storage.NewTransactionID("payos:77")
		})).Return(&dynamodb.TransactWriteItemsOutput{}, nil).Once()

		store := newTestStore(mockClient)
		err := store.InsertTransaction(context.Background(), tx)

		assert.NoError(t, err)
		mockClient.AssertExpectations(t)
	})

	t.Run("Duplicate", func(t *testing.T) {
		mockClient := new(mocks.DynamoDBAPI)
		mockClient.On("TransactWriteItems", mock.Anything, mock.Anything).Return(nil, cancelled(3, map[int]map[string]types.AttributeValue{1: nil}))

		store := newTestStore(mockClient)
		err := store.InsertTransaction(context.Background(), tx)

		assert.ErrorIs(t, err, storage.ErrDuplicateEvent)
	})
}
