package dynamodb

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/chris/cash-settlement/pkg/models"
)

const (
	statusCreatedAtIndex  = "status-created_at-index"
	accountCreatedAtIndex = "account_id-created_at-index"
)

// ListTransactionsByAccount retrieves the newest transactions of an account.
func (s *Store) ListTransactionsByAccount(ctx context.Context, accountID string, limit int32) ([]models.Transaction, error) {
	input := &dynamodb.QueryInput{
		TableName:              aws.String(s.Tables.Transactions),
		IndexName:              aws.String(accountCreatedAtIndex),
		KeyConditionExpression: aws.String("account_id = :accountID"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":accountID": stringAV(accountID),
		},
		ScanIndexForward: aws.Bool(false), // Sort by created_at in descending order
	}
	if limit > 0 {
		input.Limit = aws.Int32(limit)
	}

	result, err := s.Client.Query(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to query for transactions by account: %w", err)
	}

	transactions, err := unmarshalTransactions(result.Items)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal transactions: %w", err)
	}

	return transactions, nil
}

// ListTransactionsByStatus retrieves transactions of one kind that have sat in a
// status since before the cutoff, oldest first.
func (s *Store) ListTransactionsByStatus(ctx context.Context, kind models.TransactionKind, status models.TransactionStatus, createdBefore time.Time) ([]models.Transaction, error) {
	cutoffAV, err := timeAV(createdBefore.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to marshal cutoff time: %w", err)
	}

	input := &dynamodb.QueryInput{
		TableName:              aws.String(s.Tables.Transactions),
		IndexName:              aws.String(statusCreatedAtIndex),
		KeyConditionExpression: aws.String("#status = :status AND created_at < :cutoff"),
		FilterExpression:       aws.String("kind = :kind"),
		ExpressionAttributeNames: map[string]string{
			"#status": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":status": stringAV(string(status)),
			":cutoff": cutoffAV,
			":kind":   stringAV(string(kind)),
		},
	}

	var transactions []models.Transaction
	for {
		result, err := s.Client.Query(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("failed to query for transactions by status: %w", err)
		}
		rows, err := unmarshalTransactions(result.Items)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal transactions: %w", err)
		}
		transactions = append(transactions, rows...)

		if len(result.LastEvaluatedKey) == 0 {
			break
		}
		input.ExclusiveStartKey = result.LastEvaluatedKey
	}

	return transactions, nil
}
