package storage

import "context"

// ConnectionStore tracks the API Gateway WebSocket connections open for each account.
type ConnectionStore interface {
	AddConnection(ctx context.Context, connectionID, accountID string) error
	RemoveConnection(ctx context.Context, connectionID string) error
	GetConnections(ctx context.Context, accountID string) ([]string, error)
}
