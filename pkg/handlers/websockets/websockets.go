// Package websockets handles the API Gateway WebSocket routes.
package websockets

import (
	"context"

	"github.com/aws/aws-lambda-go/events"
	"github.com/chris/cash-settlement/pkg/websockets"
	"go.uber.org/zap"
)

// Handler handles WebSocket connections.
type Handler struct {
	connManager websockets.ConnectionManager
	logger      *zap.Logger
}

// NewHandler creates a new Handler.
func NewHandler(connManager websockets.ConnectionManager, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		connManager: connManager,
		logger:      logger,
	}
}

// HandleConnect registers a new connection for the account named in ?account_id=.
func (h *Handler) HandleConnect(ctx context.Context, request events.APIGatewayWebsocketProxyRequest) (events.APIGatewayProxyResponse, error) {
	connectionID := request.RequestContext.ConnectionID
	accountID := request.QueryStringParameters["account_id"]
	if accountID == "" {
		h.logger.Warn("connect without account_id", zap.String("connection_id", connectionID))
		return events.APIGatewayProxyResponse{StatusCode: 400}, nil
	}

	if err := h.connManager.AddConnection(ctx, connectionID, accountID); err != nil {
		h.logger.Error("failed to save connection ID", zap.Error(err))
		return events.APIGatewayProxyResponse{StatusCode: 500}, err
	}

	h.logger.Info("client connected", zap.String("connection_id", connectionID), zap.String("account_id", accountID))
	return events.APIGatewayProxyResponse{StatusCode: 200}, nil
}

// HandleDisconnect handles client disconnections.
func (h *Handler) HandleDisconnect(ctx context.Context, request events.APIGatewayWebsocketProxyRequest) (events.APIGatewayProxyResponse, error) {
	connectionID := request.RequestContext.ConnectionID
	if err := h.connManager.RemoveConnection(ctx, connectionID); err != nil {
		h.logger.Error("failed to delete connection ID", zap.Error(err))
		return events.APIGatewayProxyResponse{StatusCode: 500}, err
	}

	h.logger.Info("client disconnected", zap.String("connection_id", connectionID))
	return events.APIGatewayProxyResponse{StatusCode: 200}, nil
}

// HandleDefault handles messages sent from a client.
func (h *Handler) HandleDefault(ctx context.Context, request events.APIGatewayWebsocketProxyRequest) (events.APIGatewayProxyResponse, error) {
	// Clients are not expected to send messages.
	h.logger.Debug("received message", zap.String("connection_id", request.RequestContext.ConnectionID))
	return events.APIGatewayProxyResponse{StatusCode: 200}, nil
}

// Route dispatches a request by its route key.
func (h *Handler) Route(ctx context.Context, request events.APIGatewayWebsocketProxyRequest) (events.APIGatewayProxyResponse, error) {
	switch request.RequestContext.RouteKey {
	case "$connect":
		return h.HandleConnect(ctx, request)
	case "$disconnect":
		return h.HandleDisconnect(ctx, request)
	default:
		return h.HandleDefault(ctx, request)
	}
}
