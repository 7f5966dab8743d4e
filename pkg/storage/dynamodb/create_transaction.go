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

// ApplyCredit atomically inserts a COMPLETED transaction and credits the account.
func (s *Store) ApplyCredit(ctx context.Context, tx *models.Transaction) (*models.Account, error) {
	row := tx.Clone()
	row.Status = models.COMPLETED
	if err := s.writeNewTransaction(ctx, &row, true); err != nil {
		return nil, err
	}
	return s.GetAccount(ctx, row.AccountID)
}

// ApplyDebit atomically inserts a transaction and debits the account, only if the
// balance covers the amount.
func (s *Store) ApplyDebit(ctx context.Context, tx *models.Transaction) (*models.Account, error) {
	row := tx.Clone()
	row.Amount = row.Amount.Neg()
	if err := s.writeNewTransaction(ctx, &row, true); err != nil {
		return nil, err
	}
	return s.GetAccount(ctx, row.AccountID)
}

// InsertTransaction inserts a transaction with no balance effect.
func (s *Store) InsertTransaction(ctx context.Context, tx *models.Transaction) error {
	row := tx.Clone()
	return s.writeNewTransaction(ctx, &row, false)
}

// writeNewTransaction puts the transaction row and its first outbox transition,
// together with the balance change when withBalance is set. A negative amount on
// row is a debit; the stored amount is always positive.
func (s *Store) writeNewTransaction(ctx context.Context, row *models.Transaction, withBalance bool) error {
	// 1. Complete the transaction object with server-side details.
	delta := row.Amount
	row.Amount = row.Amount.Abs()
	if row.ID == "" {
		row.ID = storage.NewTransactionID(row.ExternalRef)
	}
	now := s.clock()
	row.Version = 1
	row.CreatedAt = now
	row.UpdatedAt = now

	// 2. Marshal the transaction and its transition for the Put operations.
	txAV, err := attributevalue.MarshalMap(toTransactionItem(row))
	if err != nil {
		return fmt.Errorf("failed to marshal transaction: %w", err)
	}
	trAV, err := attributevalue.MarshalMap(toTransitionItem(models.NewTransition(row)))
	if err != nil {
		return fmt.Errorf("failed to marshal transition: %w", err)
	}
	nowAV, err := timeAV(now)
	if err != nil {
		return fmt.Errorf("failed to marshal timestamp: %w", err)
	}

	// 3. Operation 0 guards the account: a balance update, or a plain existence check.
	var first types.TransactWriteItem
	if withBalance {
		first.Update = s.balanceUpdate(row.AccountID, delta, nowAV)
	} else {
		first.ConditionCheck = &types.ConditionCheck{
			TableName:           aws.String(s.Tables.Accounts),
			Key:                 map[string]types.AttributeValue{"id": stringAV(row.AccountID)},
			ConditionExpression: aws.String("attribute_exists(id)"),
		}
	}

	input := &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			first,
			{
				// Operation 1: Create the transaction record. The id is derived from the
				// external ref, so this condition is the idempotency check.
				Put: &types.Put{
					TableName:           aws.String(s.Tables.Transactions),
					Item:                txAV,
					ConditionExpression: aws.String("attribute_not_exists(id)"),
				},
			},
			{
				// Operation 2: Record the transition in the outbox.
				Put: &types.Put{
					TableName: aws.String(s.Tables.Outbox),
					Item:      trAV,
				},
			},
		},
	}

	// 4. Execute the transaction.
	_, err = s.Client.TransactWriteItems(ctx, input)
	if err != nil {
		if cancellationCode(err, 1) == conditionalCheckFailed {
			return storage.ErrDuplicateEvent
		}
		if cancellationCode(err, 0) == conditionalCheckFailed {
			if !withBalance || len(cancellationItem(err, 0)) == 0 {
				return fmt.Errorf("account %s: %w", row.AccountID, storage.ErrNotFound)
			}
			return storage.ErrInsufficientFunds
		}
		return fmt.Errorf("failed to execute transaction: %w", err)
	}

	return nil
}
