package dynamodb

import (
	"context"
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

func TestCompensateTransaction(t *testing.T) {
	withdrawal := &models.Transaction{
		ID:        "w-1",
		AccountID: "acct-1",
		Kind:      models.WITHDRAW,
		Amount:    decimal.NewFromInt(50),
		Status:    models.PROCESSING,
		Version:   2,
		Metadata:  map[string]string{models.MetaDestination: "0xabc"},
	}
	refund := &models.Transaction{
		ID:          storage.NewTransactionID("refund:w-1"),
		AccountID:   "acct-1",
		Kind:        models.DEPOSIT,
		Amount:      decimal.NewFromInt(50),
		ExternalRef: "refund:w-1",
		Metadata:    map[string]string{models.MetaCompensates: "w-1"},
	}
	patch := storage.Patch{Metadata: map[string]string{models.MetaReason: "payout rejected"}}

	t.Run("Success", func(t *testing.T) {
		mockClient := new(mocks.DynamoDBAPI)
		store := newTestStore(mockClient)

		mockClient.On("GetItem", mock.Anything, mock.MatchedBy(func(in *dynamodb.GetItemInput) bool {
			return *in.TableName == "transactions"
		})).Return(&dynamodb.GetItemOutput{Item: transactionAV(t, withdrawal)}, nil).Once()
		mockClient.On("TransactWriteItems", mock.Anything, mock.MatchedBy(func(in *dynamodb.TransactWriteItemsInput) bool {
			if len(in.TransactItems) != 5 {
				return false
			}
			to := in.TransactItems[0].Update.ExpressionAttributeValues[":to"].(*types.AttributeValueMemberS).Value
			refundStatus := in.TransactItems[1].Put.Item["status"].(*types.AttributeValueMemberS).Value
			failedTr := in.TransactItems[3].Put.Item["id"].(*types.AttributeValueMemberS).Value
			return to == string(models.FAILED) && refundStatus == string(models.COMPLETED) && failedTr == "w-1#3"
		})).Return(&dynamodb.TransactWriteItemsOutput{}, nil).Once()
		mockClient.On("GetItem", mock.Anything, mock.MatchedBy(func(in *dynamodb.GetItemInput) bool {
			return *in.TableName == "accounts"
		})).Return(&dynamodb.GetItemOutput{Item: accountAV(t, &models.Account{ID: "acct-1", Balance: decimal.NewFromInt(100)})}, nil).Once()

		account, err := store.CompensateTransaction(context.Background(), "w-1", models.PROCESSING, refund, patch)

		assert.NoError(t, err)
		assert.True(t, account.Balance.Equal(decimal.NewFromInt(100)))
		mockClient.AssertExpectations(t)
	})

	t.Run("Already Failed", func(t *testing.T) {
		mockClient := new(mocks.DynamoDBAPI)
		store := newTestStore(mockClient)

		failed := withdrawal.Clone()
		failed.Status = models.FAILED
		mockClient.On("GetItem", mock.Anything, mock.Anything).Return(&dynamodb.GetItemOutput{Item: transactionAV(t, &failed)}, nil).Once()

		_, err := store.CompensateTransaction(context.Background(), "w-1", models.PROCESSING, refund, patch)

		assert.ErrorIs(t, err, storage.ErrInvalidState)
		mockClient.AssertNotCalled(t, "TransactWriteItems", mock.Anything, mock.Anything)
	})

	t.Run("Refund Already Exists", func(t *testing.T) {
		mockClient := new(mocks.DynamoDBAPI)
		store := newTestStore(mockClient)

		mockClient.On("GetItem", mock.Anything, mock.Anything).Return(&dynamodb.GetItemOutput{Item: transactionAV(t, withdrawal)}, nil).Once()
		mockClient.On("TransactWriteItems", mock.Anything, mock.Anything).Return(nil, cancelled(5, map[int]map[string]types.AttributeValue{1: nil})).Once()

		_, err := store.CompensateTransaction(context.Background(), "w-1", models.PROCESSING, refund, patch)

		assert.ErrorIs(t, err, storage.ErrDuplicateEvent)
	})

	t.Run("Not Found", func(t *testing.T) {
		mockClient := new(mocks.DynamoDBAPI)
		store := newTestStore(mockClient)

		mockClient.On("GetItem", mock.Anything, mock.Anything).Return(&dynamodb.GetItemOutput{}, nil).Once()

		_, err := store.CompensateTransaction(context.Background(), "w-1", models.PROCESSING, refund, patch)

		assert.ErrorIs(t, err, storage.ErrNotFound)
	})
}
