package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/chris/cash-settlement/pkg/models"
	"github.com/chris/cash-settlement/pkg/storage"
)

func scanTransition(row scanner) (*models.Transition, error) {
	var (
		tr       models.Transition
		amount   string
		metadata []byte
	)
	err := row.Scan(&tr.ID, &tr.TransactionID, &tr.AccountID, &tr.Kind, &tr.Status, &amount, &metadata, &tr.OccurredAt, &tr.Dispatched, &tr.Attempts)
	if err != nil {
		return nil, err
	}
	if tr.Amount, err = parseDecimal(amount); err != nil {
		return nil, err
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &tr.Metadata); err != nil {
			return nil, fmt.Errorf("outbox %s: bad metadata: %w", tr.ID, err)
		}
		if len(tr.Metadata) == 0 {
			tr.Metadata = nil
		}
	}
	return &tr, nil
}

func (s *Store) ListUndispatched(ctx context.Context, after *models.Transition, limit int32) ([]models.Transition, error) {
	var afterID *string
	if after != nil {
		afterID = &after.ID
	}
	rows, err := s.Db.Query(ctx, `
		SELECT id, transaction_id, account_id, kind, status, amount::text, metadata, occurred_at, dispatched, attempts
		FROM outbox
		WHERE NOT dispatched
		  AND seq > COALESCE((SELECT seq FROM outbox WHERE id = $1), 0)
		ORDER BY seq
		LIMIT NULLIF($2::int, 0)`, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list undispatched transitions: %w", err)
	}
	return collect(rows, scanTransition)
}

func (s *Store) MarkDispatched(ctx context.Context, transitionID string) error {
	tag, err := s.Db.Exec(ctx, "UPDATE outbox SET dispatched = TRUE WHERE id = $1", transitionID)
	if err != nil {
		return fmt.Errorf("failed to mark %s dispatched: %w", transitionID, err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) RecordAttempt(ctx context.Context, transitionID string) (int, error) {
	var attempts int
	err := s.Db.QueryRow(ctx, "UPDATE outbox SET attempts = attempts + 1 WHERE id = $1 RETURNING attempts", transitionID).Scan(&attempts)
	if isNoRows(err) {
		return 0, storage.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to record attempt on %s: %w", transitionID, err)
	}
	return attempts, nil
}
