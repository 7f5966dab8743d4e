package storage

import (
	"context"

	"github.com/chris/cash-settlement/pkg/models"
)

// OutboxStore exposes the committed transitions written by LedgerWriter.
type OutboxStore interface {
	// ListUndispatched retrieves transitions not yet handled by the dispatcher,
	// oldest first. A non-nil after resumes behind that transition, so rows that
	// are still undispatched do not hide the ones after them.
	ListUndispatched(ctx context.Context, after *models.Transition, limit int32) ([]models.Transition, error)

	// MarkDispatched flags a transition as handled.
	MarkDispatched(ctx context.Context, transitionID string) error

	// RecordAttempt counts one failed delivery and returns the new total.
	RecordAttempt(ctx context.Context, transitionID string) (int, error)
}
