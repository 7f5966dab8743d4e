package dynamodb

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/chris/cash-settlement/pkg/models"
	"github.com/chris/cash-settlement/pkg/storage"
)

// CompensateTransaction fails the original transaction, inserts the refund and
// credits it in one TransactWriteItems call. Replaying it hits either the status
// condition on the original or the id condition on the refund.
func (s *Store) CompensateTransaction(ctx context.Context, txID string, from models.TransactionStatus, refund *models.Transaction, patch storage.Patch) (*models.Account, error) {
	current, err := s.loadForTransition(ctx, txID, from, patch)
	if err != nil {
		return nil, err
	}

	now := s.clock()
	failed, update, err := s.statusUpdate(current, models.FAILED, patch, now)
	if err != nil {
		return nil, err
	}

	credit := refund.Clone()
	if credit.ID == "" {
		credit.ID = storage.NewTransactionID(credit.ExternalRef)
	}
	credit.Status = models.COMPLETED
	credit.Version = 1
	credit.CreatedAt = now
	credit.UpdatedAt = now

	refundAV, err := attributevalue.MarshalMap(toTransactionItem(&credit))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal refund: %w", err)
	}
	failedTrAV, err := attributevalue.MarshalMap(toTransitionItem(models.NewTransition(failed)))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal transition: %w", err)
	}
	refundTrAV, err := attributevalue.MarshalMap(toTransitionItem(models.NewTransition(&credit)))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal refund transition: %w", err)
	}
	nowAV, err := timeAV(now)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal timestamp for compensation: %w", err)
	}

	input := &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			// Operation 0: Fail the original transaction.
			{Update: update},
			// Operation 1: Create the refund record.
			{Put: &types.Put{
				TableName:           aws.String(s.Tables.Transactions),
				Item:                refundAV,
				ConditionExpression: aws.String("attribute_not_exists(id)"),
			}},
			// Operation 2: Credit the refund.
			{Update: s.balanceUpdate(credit.AccountID, credit.Amount, nowAV)},
			// Operations 3 and 4: Record both transitions.
			{Put: &types.Put{TableName: aws.String(s.Tables.Outbox), Item: failedTrAV}},
			{Put: &types.Put{TableName: aws.String(s.Tables.Outbox), Item: refundTrAV}},
		},
	}

	_, err = s.Client.TransactWriteItems(ctx, input)
	if err != nil {
		switch {
		case cancellationCode(err, 0) == conditionalCheckFailed:
			return nil, storage.ErrInvalidState
		case cancellationCode(err, 1) == conditionalCheckFailed:
			return nil, storage.ErrDuplicateEvent
		case cancellationCode(err, 2) == conditionalCheckFailed:
			return nil, fmt.Errorf("account %s: %w", credit.AccountID, storage.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to execute compensation transaction: %w", err)
	}

	return s.GetAccount(ctx, credit.AccountID)
}
