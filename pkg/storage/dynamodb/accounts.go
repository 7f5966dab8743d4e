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
	"github.com/shopspring/decimal"
)

// CreateAccount creates a new account record in DynamoDB.
func (s *Store) CreateAccount(ctx context.Context, account *models.Account) (*models.Account, error) {
	created := *account
	if created.CreatedAt.IsZero() {
		created.CreatedAt = s.clock()
	}
	created.UpdatedAt = created.CreatedAt

	accountAV, err := attributevalue.MarshalMap(toAccountItem(&created))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal account: %w", err)
	}

	input := &dynamodb.PutItemInput{
		TableName:           aws.String(s.Tables.Accounts),
		Item:                accountAV,
		ConditionExpression: aws.String("attribute_not_exists(id)"), // Prevent overwriting existing accounts.
	}

	_, err = s.Client.PutItem(ctx, input)
	if err != nil {
		var condCheckFailed *types.ConditionalCheckFailedException
		if errors.As(err, &condCheckFailed) {
			return nil, storage.ErrAccountExists
		}
		return nil, fmt.Errorf("failed to create account in DynamoDB: %w", err)
	}

	return &created, nil
}

// GetAccount retrieves an account from DynamoDB by its ID.
func (s *Store) GetAccount(ctx context.Context, accountID string) (*models.Account, error) {
	input := &dynamodb.GetItemInput{
		TableName:      aws.String(s.Tables.Accounts),
		Key:            map[string]types.AttributeValue{"id": stringAV(accountID)},
		ConsistentRead: aws.Bool(true),
	}

	result, err := s.Client.GetItem(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to get account from DynamoDB: %w", err)
	}

	if result.Item == nil {
		return nil, fmt.Errorf("account %s: %w", accountID, storage.ErrNotFound)
	}

	var item accountItem
	if err := attributevalue.UnmarshalMap(result.Item, &item); err != nil {
		return nil, fmt.Errorf("failed to unmarshal account: %w", err)
	}

	account := item.model()
	return &account, nil
}

// ListFundedAccounts scans the accounts table for positive balances.
func (s *Store) ListFundedAccounts(ctx context.Context) ([]models.Account, error) {
	input := &dynamodb.ScanInput{
		TableName:        aws.String(s.Tables.Accounts),
		FilterExpression: aws.String("balance > :zero"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":zero": numberAV(decimal.Zero),
		},
	}

	var accounts []models.Account
	for {
		result, err := s.Client.Scan(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("failed to scan accounts table: %w", err)
		}

		var items []accountItem
		if err := attributevalue.UnmarshalListOfMaps(result.Items, &items); err != nil {
			return nil, fmt.Errorf("failed to unmarshal accounts: %w", err)
		}
		for _, item := range items {
			accounts = append(accounts, item.model())
		}

		if len(result.LastEvaluatedKey) == 0 {
			break
		}
		input.ExclusiveStartKey = result.LastEvaluatedKey
	}

	return accounts, nil
}

// balanceUpdate builds the conditional balance write shared by every ledger primitive.
func (s *Store) balanceUpdate(accountID string, delta decimal.Decimal, nowAV types.AttributeValue) *types.Update {
	update := &types.Update{
		TableName: aws.String(s.Tables.Accounts),
		Key:       map[string]types.AttributeValue{"id": stringAV(accountID)},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now": nowAV,
		},
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	}
	if delta.IsNegative() {
		update.UpdateExpression = aws.String("SET balance = balance - :amount, updated_at = :now")
		update.ConditionExpression = aws.String("attribute_exists(id) AND balance >= :amount")
		update.ExpressionAttributeValues[":amount"] = numberAV(delta.Neg())
	} else {
		update.UpdateExpression = aws.String("SET balance = balance + :amount, updated_at = :now")
		update.ConditionExpression = aws.String("attribute_exists(id)")
		update.ExpressionAttributeValues[":amount"] = numberAV(delta)
	}
	return update
}
