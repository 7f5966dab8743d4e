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

// GetTransaction retrieves a transaction from DynamoDB by its ID.
func (s *Store) GetTransaction(ctx context.Context, txID string) (*models.Transaction, error) {
	input := &dynamodb.GetItemInput{
		TableName:      aws.String(s.Tables.Transactions),
		Key:            map[string]types.AttributeValue{"id": stringAV(txID)},
		ConsistentRead: aws.Bool(true),
	}

	result, err := s.Client.GetItem(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction from DynamoDB: %w", err)
	}

	if result.Item == nil {
		return nil, fmt.Errorf("transaction %s: %w", txID, storage.ErrNotFound)
	}

	var item transactionItem
	if err := attributevalue.UnmarshalMap(result.Item, &item); err != nil {
		return nil, fmt.Errorf("failed to unmarshal transaction: %w", err)
	}

	tx := item.model()
	return &tx, nil
}

// GetTransactionByExternalRef resolves the deterministic id of the reference and
// reads that row, so no index on external_ref is needed.
func (s *Store) GetTransactionByExternalRef(ctx context.Context, externalRef string) (*models.Transaction, error) {
	tx, err := s.GetTransaction(ctx, storage.NewTransactionID(externalRef))
	if err != nil {
		return nil, err
	}
	if tx.ExternalRef != externalRef {
		return nil, fmt.Errorf("external ref %s: %w", externalRef, storage.ErrNotFound)
	}
	return tx, nil
}
