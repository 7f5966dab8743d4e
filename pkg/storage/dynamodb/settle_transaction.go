package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/chris/cash-settlement/pkg/models"
	"github.com/chris/cash-settlement/pkg/storage"
)

// SettleTransaction moves a transaction to COMPLETED and credits its amount in a
// single TransactWriteItems call.
func (s *Store) SettleTransaction(ctx context.Context, txID string, from models.TransactionStatus, patch storage.Patch) (*models.Account, error) {
	current, err := s.loadForTransition(ctx, txID, from, patch)
	if err != nil {
		return nil, err
	}

	now := s.clock()
	next, update, err := s.statusUpdate(current, models.COMPLETED, patch, now)
	if err != nil {
		return nil, err
	}
	trAV, err := attributevalue.MarshalMap(toTransitionItem(models.NewTransition(next)))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal transition: %w", err)
	}
	nowAV, err := timeAV(now)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal timestamp for settlement: %w", err)
	}

	input := &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			// Operation 0: Update the transaction status to COMPLETED.
			{Update: update},
			// Operation 1: Credit the account.
			{Update: s.balanceUpdate(next.AccountID, next.Amount, nowAV)},
			// Operation 2: Record the transition in the outbox.
			{Put: &types.Put{TableName: aws.String(s.Tables.Outbox), Item: trAV}},
		},
	}

	_, err = s.Client.TransactWriteItems(ctx, input)
	if err != nil {
		if cancellationCode(err, 0) == conditionalCheckFailed {
			return nil, storage.ErrInvalidState
		}
		if cancellationCode(err, 1) == conditionalCheckFailed {
			return nil, fmt.Errorf("account %s: %w", next.AccountID, storage.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to execute settlement transaction: %w", err)
	}

	return s.GetAccount(ctx, next.AccountID)
}

// TransitionTransaction moves a transaction between statuses with no balance
// effect. When from equals to only the patch is applied and no transition is
// recorded.
func (s *Store) TransitionTransaction(ctx context.Context, txID string, from, to models.TransactionStatus, patch storage.Patch) (*models.Transaction, error) {
	current, err := s.loadForTransition(ctx, txID, from, patch)
	if err != nil {
		return nil, err
	}

	now := s.clock()
	next, update, err := s.statusUpdate(current, to, patch, now)
	if err != nil {
		return nil, err
	}

	if from == to {
		_, err = s.Client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
			TableName:                 update.TableName,
			Key:                       update.Key,
			UpdateExpression:          update.UpdateExpression,
			ConditionExpression:       update.ConditionExpression,
			ExpressionAttributeNames:  update.ExpressionAttributeNames,
			ExpressionAttributeValues: update.ExpressionAttributeValues,
		})
		if err != nil {
			var condCheckFailed *types.ConditionalCheckFailedException
			if errors.As(err, &condCheckFailed) {
				return nil, storage.ErrInvalidState
			}
			return nil, fmt.Errorf("failed to update transaction: %w", err)
		}
		return next, nil
	}

	trAV, err := attributevalue.MarshalMap(toTransitionItem(models.NewTransition(next)))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal transition: %w", err)
	}

	_, err = s.Client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{Update: update},
			{Put: &types.Put{TableName: aws.String(s.Tables.Outbox), Item: trAV}},
		},
	})
	if err != nil {
		if cancellationCode(err, 0) == conditionalCheckFailed {
			return nil, storage.ErrInvalidState
		}
		return nil, fmt.Errorf("failed to execute transition transaction: %w", err)
	}

	return next, nil
}

// loadForTransition reads the transaction and fails fast when it is not in the
// expected state. The write that follows re-checks the same condition.
func (s *Store) loadForTransition(ctx context.Context, txID string, from models.TransactionStatus, patch storage.Patch) (*models.Transaction, error) {
	current, err := s.GetTransaction(ctx, txID)
	if err != nil {
		return nil, err
	}
	if current.Status != from {
		return nil, storage.ErrInvalidState
	}
	if patch.RequireNoPayoutRef && current.PayoutRef != "" {
		return nil, storage.ErrInvalidState
	}
	return current, nil
}

// statusUpdate builds the conditional update moving current to status `to` and
// returns the row as it will look once the update commits. The version condition
// makes it an optimistic lock: any concurrent change fails the write.
func (s *Store) statusUpdate(current *models.Transaction, to models.TransactionStatus, patch storage.Patch, now time.Time) (*models.Transaction, *types.Update, error) {
	next := current.Clone()
	next.UpdatedAt = now
	if to != current.Status {
		next.Status = to
		next.Version++
	}

	nowAV, err := timeAV(now)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal timestamp for status update: %w", err)
	}

	sets := []string{"#status = :to", "version = :next_version", "updated_at = :now"}
	names := map[string]string{"#status": "status"}
	values := map[string]types.AttributeValue{
		":to":           stringAV(string(to)),
		":from":         stringAV(string(current.Status)),
		":version":      &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", current.Version)},
		":next_version": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", next.Version)},
		":now":          nowAV,
	}

	keys := make([]string, 0, len(patch.Metadata))
	for k := range patch.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if len(keys) > 0 && next.Metadata == nil {
		next.Metadata = make(map[string]string, len(keys))
	}
	for i, k := range keys {
		name := fmt.Sprintf("#m%d", i)
		value := fmt.Sprintf(":m%d", i)
		sets = append(sets, fmt.Sprintf("metadata.%s = %s", name, value))
		names[name] = k
		values[value] = stringAV(patch.Metadata[k])
		next.Metadata[k] = patch.Metadata[k]
	}

	if patch.PayoutRef != "" {
		sets = append(sets, "payout_ref = :payout_ref")
		values[":payout_ref"] = stringAV(patch.PayoutRef)
		next.PayoutRef = patch.PayoutRef
	}

	condition := "#status = :from AND version = :version"
	if patch.RequireNoPayoutRef {
		condition += " AND attribute_not_exists(payout_ref)"
	}

	return &next, &types.Update{
		TableName:                 aws.String(s.Tables.Transactions),
		Key:                       map[string]types.AttributeValue{"id": stringAV(current.ID)},
		UpdateExpression:          aws.String("SET " + strings.Join(sets, ", ")),
		ConditionExpression:       aws.String(condition),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	}, nil
}
