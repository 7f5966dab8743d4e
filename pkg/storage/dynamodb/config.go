package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/chris/cash-settlement/pkg/models"
	"github.com/chris/cash-settlement/pkg/storage"
)

const systemConfigID = "system"

// GetSystemConfig reads the single config item. A missing item is a zero config.
func (s *Store) GetSystemConfig(ctx context.Context) (*models.SystemConfig, error) {
	result, err := s.Client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.Tables.Config),
		Key:            map[string]types.AttributeValue{"id": stringAV(systemConfigID)},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get system config from DynamoDB: %w", err)
	}
	if result.Item == nil {
		return &models.SystemConfig{}, nil
	}

	var item configItem
	if err := attributevalue.UnmarshalMap(result.Item, &item); err != nil {
		return nil, fmt.Errorf("failed to unmarshal system config: %w", err)
	}
	return &models.SystemConfig{
		InterestRatePercent:  item.InterestRatePercent.Decimal,
		WithdrawalFeePercent: item.WithdrawalFeePercent.Decimal,
		UpdatedAt:            item.UpdatedAt,
		UpdatedBy:            item.UpdatedBy,
	}, nil
}

// UpdateSystemConfig overwrites the config item.
func (s *Store) UpdateSystemConfig(ctx context.Context, cfg *models.SystemConfig) error {
	return s.putSystemConfig(ctx, cfg, nil, nil)
}

// CompareAndSwapSystemConfig overwrites the config item only if its
// updated_at still equals prev.
func (s *Store) CompareAndSwapSystemConfig(ctx context.Context, cfg *models.SystemConfig, prev time.Time) error {
	if prev.IsZero() {
		return s.putSystemConfig(ctx, cfg, aws.String("attribute_not_exists(id)"), nil)
	}
	prevAV, err := attributevalue.Marshal(prev)
	if err != nil {
		return fmt.Errorf("failed to marshal config version: %w", err)
	}
	return s.putSystemConfig(ctx, cfg, aws.String("updated_at = :prev"),
		map[string]types.AttributeValue{":prev": prevAV})
}

func (s *Store) putSystemConfig(ctx context.Context, cfg *models.SystemConfig, condition *string, values map[string]types.AttributeValue) error {
	updatedAt := cfg.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = s.clock()
	}
	item, err := attributevalue.MarshalMap(configItem{
		ID:                   systemConfigID,
		InterestRatePercent:  number{cfg.InterestRatePercent},
		WithdrawalFeePercent: number{cfg.WithdrawalFeePercent},
		UpdatedAt:            updatedAt,
		UpdatedBy:            cfg.UpdatedBy,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal system config: %w", err)
	}

	_, err = s.Client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                 aws.String(s.Tables.Config),
		Item:                      item,
		ConditionExpression:       condition,
		ExpressionAttributeValues: values,
	})
	if err != nil {
		var condCheckFailed *types.ConditionalCheckFailedException
		if errors.As(err, &condCheckFailed) {
			return fmt.Errorf("system config changed concurrently: %w", storage.ErrInvalidState)
		}
		return fmt.Errorf("failed to put system config: %w", err)
	}
	return nil
}
