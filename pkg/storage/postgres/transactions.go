package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/chris/cash-settlement/pkg/models"
)

func (s *Store) GetTransaction(ctx context.Context, txID string) (*models.Transaction, error) {
	return scanTx(s.Db.QueryRow(ctx, "SELECT "+txColumns+" FROM transactions WHERE id = $1", txID))
}

func (s *Store) GetTransactionByExternalRef(ctx context.Context, externalRef string) (*models.Transaction, error) {
	return scanTx(s.Db.QueryRow(ctx, "SELECT "+txColumns+" FROM transactions WHERE external_ref = $1", externalRef))
}

func (s *Store) ListTransactionsByAccount(ctx context.Context, accountID string, limit int32) ([]models.Transaction, error) {
	rows, err := s.Db.Query(ctx, `
		SELECT `+txColumns+` FROM transactions
		WHERE account_id = $1
		ORDER BY created_at DESC, id
		LIMIT NULLIF($2::int, 0)`, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions of %s: %w", accountID, err)
	}
	return collect(rows, scanTx)
}

func (s *Store) ListTransactionsByStatus(ctx context.Context, kind models.TransactionKind, status models.TransactionStatus, createdBefore time.Time) ([]models.Transaction, error) {
	rows, err := s.Db.Query(ctx, `
		SELECT `+txColumns+` FROM transactions
		WHERE kind = $1 AND status = $2 AND created_at < $3
		ORDER BY created_at, id`, string(kind), string(status), createdBefore)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s %s transactions: %w", status, kind, err)
	}
	return collect(rows, scanTx)
}
