package websockets

import (
	"context"
)

// ConnectionManager defines the interface for managing WebSocket connections.
//
//go:generate mockery --name ConnectionManager --output ./mocks
type ConnectionManager interface {
	AddConnection(ctx context.Context, connectionID, accountID string) error
	RemoveConnection(ctx context.Context, connectionID string) error
}

// ConnectionStore adds the per-account lookup publishers need.
type ConnectionStore interface {
	ConnectionManager
	GetConnections(ctx context.Context, accountID string) ([]string, error)
}

// Publisher defines the interface for publishing messages to the WebSocket clients of one account.
type Publisher interface {
	Publish(ctx context.Context, accountID string, message Message) error
}
