package websockets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/apigatewaymanagementapi"
	apigwtypes "github.com/aws/aws-sdk-go-v2/service/apigatewaymanagementapi/types"
	"github.com/chris/cash-settlement/pkg/models"
	"github.com/chris/cash-settlement/pkg/notify"
	"go.uber.org/zap"
)

// PostToConnectionAPI is the part of the API Gateway management client the publisher uses.
type PostToConnectionAPI interface {
	PostToConnection(ctx context.Context, params *apigatewaymanagementapi.PostToConnectionInput, optFns ...func(*apigatewaymanagementapi.Options)) (*apigatewaymanagementapi.PostToConnectionOutput, error)
}

// APIGatewayPublisher pushes messages to connections held by API Gateway.
type APIGatewayPublisher struct {
	connections ConnectionStore
	client      PostToConnectionAPI
	logger      *zap.Logger
}

var (
	_ Publisher     = (*APIGatewayPublisher)(nil)
	_ notify.Sender = (*APIGatewayPublisher)(nil)
)

// NewAPIGatewayPublisher creates a publisher for the management endpoint of a
// WebSocket API.
func NewAPIGatewayPublisher(ctx context.Context, connections ConnectionStore, apiEndpoint string, logger *zap.Logger) (*APIGatewayPublisher, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	client := apigatewaymanagementapi.NewFromConfig(cfg, func(o *apigatewaymanagementapi.Options) {
		o.BaseEndpoint = aws.String(apiEndpoint)
	})
	return NewAPIGatewayPublisherWithClient(connections, client, logger), nil
}

// NewAPIGatewayPublisherWithClient creates a publisher around an existing client.
func NewAPIGatewayPublisherWithClient(connections ConnectionStore, client PostToConnectionAPI, logger *zap.Logger) *APIGatewayPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &APIGatewayPublisher{connections: connections, client: client, logger: logger}
}

// Publish sends a message to every connection of the account. Stale
// connections are removed; other per-connection failures are logged.
func (p *APIGatewayPublisher) Publish(ctx context.Context, accountID string, message Message) error {
	connectionIDs, err := p.connections.GetConnections(ctx, accountID)
	if err != nil {
		return fmt.Errorf("failed to get connections: %w", err)
	}

	payload, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	for _, connectionID := range connectionIDs {
		_, err := p.client.PostToConnection(ctx, &apigatewaymanagementapi.PostToConnectionInput{
			ConnectionId: aws.String(connectionID),
			Data:         payload,
		})
		if err == nil {
			continue
		}

		var goneErr *apigwtypes.GoneException
		if errors.As(err, &goneErr) {
			p.logger.Info("stale connection found, deleting", zap.String("connection_id", connectionID))
			if err := p.connections.RemoveConnection(ctx, connectionID); err != nil {
				p.logger.Error("failed to delete stale connection", zap.Error(err))
			}
		} else {
			p.logger.Error("failed to post to connection", zap.String("connection_id", connectionID), zap.Error(err))
		}
	}

	return nil
}

func (p *APIGatewayPublisher) Send(ctx context.Context, _ models.NotificationChannel, msg notify.Message) error {
	return p.Publish(ctx, msg.AccountID, NewTransactionUpdate(msg))
}
