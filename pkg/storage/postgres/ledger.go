package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/chris/cash-settlement/pkg/models"
	"github.com/chris/cash-settlement/pkg/storage"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// insertTx writes a new row and its outbox transition. The row's version,
// timestamps and status are set on tx.
func (s *Store) insertTx(ctx context.Context, q pgx.Tx, tx *models.Transaction) error {
	now := s.now()
	tx.Version = 1
	tx.CreatedAt = now
	tx.UpdatedAt = now
	md, err := marshalMetadata(tx.Metadata)
	if err != nil {
		return err
	}
	_, err = q.Exec(ctx, `
		INSERT INTO transactions (id, account_id, kind, amount, status, external_ref, payout_ref, metadata, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4::numeric, $5, NULLIF($6, ''), NULLIF($7, ''), $8::jsonb, $9, $10, $10)`,
		tx.ID, tx.AccountID, string(tx.Kind), tx.Amount.String(), string(tx.Status),
		tx.ExternalRef, tx.PayoutRef, md, tx.Version, now)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrDuplicateEvent
		}
		return fmt.Errorf("failed to insert transaction %s: %w", tx.ID, err)
	}
	return s.appendOutbox(ctx, q, tx)
}

func (s *Store) appendOutbox(ctx context.Context, q pgx.Tx, tx *models.Transaction) error {
	tr := models.NewTransition(tx)
	md, err := marshalMetadata(tr.Metadata)
	if err != nil {
		return err
	}
	_, err = q.Exec(ctx, `
		INSERT INTO outbox (id, transaction_id, account_id, kind, status, amount, metadata, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6::numeric, $7::jsonb, $8)`,
		tr.ID, tr.TransactionID, tr.AccountID, string(tr.Kind), string(tr.Status), tr.Amount.String(), md, tr.OccurredAt)
	if err != nil {
		return fmt.Errorf("failed to append outbox row %s: %w", tr.ID, err)
	}
	return nil
}

// adjust changes a balance. A negative delta only applies when the balance covers it.
func (s *Store) adjust(ctx context.Context, q pgx.Tx, accountID string, delta decimal.Decimal) (*models.Account, error) {
	a, err := scanAccount(q.QueryRow(ctx, `
		UPDATE accounts SET balance = balance + $2::numeric, updated_at = $3
		WHERE id = $1 AND balance + $2::numeric >= 0
		RETURNING `+accountColumns, accountID, delta.String(), s.now()))
	if errors.Is(err, storage.ErrNotFound) {
		var exists bool
		if qerr := q.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM accounts WHERE id = $1)", accountID).Scan(&exists); qerr != nil {
			return nil, qerr
		}
		if exists {
			return nil, storage.ErrInsufficientFunds
		}
		return nil, storage.ErrNotFound
	}
	return a, err
}

func (s *Store) ApplyCredit(ctx context.Context, tx *models.Transaction) (*models.Account, error) {
	var account *models.Account
	err := pgx.BeginFunc(ctx, s.Db, func(q pgx.Tx) error {
		row := *tx
		row.Status = models.COMPLETED
		if err := s.lockAccount(ctx, q, row.AccountID); err != nil {
			return err
		}
		if err := s.insertTx(ctx, q, &row); err != nil {
			return err
		}
		var err error
		account, err = s.adjust(ctx, q, row.AccountID, row.Amount)
		return err
	})
	return account, err
}

func (s *Store) ApplyDebit(ctx context.Context, tx *models.Transaction) (*models.Account, error) {
	var account *models.Account
	err := pgx.BeginFunc(ctx, s.Db, func(q pgx.Tx) error {
		row := *tx
		if err := s.lockAccount(ctx, q, row.AccountID); err != nil {
			return err
		}
		if err := s.insertTx(ctx, q, &row); err != nil {
			return err
		}
		var err error
		account, err = s.adjust(ctx, q, row.AccountID, row.Amount.Neg())
		return err
	})
	return account, err
}

func (s *Store) InsertTransaction(ctx context.Context, tx *models.Transaction) error {
	return pgx.BeginFunc(ctx, s.Db, func(q pgx.Tx) error {
		row := *tx
		if err := s.lockAccount(ctx, q, row.AccountID); err != nil {
			return err
		}
		return s.insertTx(ctx, q, &row)
	})
}

// lockAccount takes the row lock on an account, so the account exists for the
// rest of the transaction and concurrent writers queue behind it.
func (s *Store) lockAccount(ctx context.Context, q pgx.Tx, accountID string) error {
	var id string
	err := q.QueryRow(ctx, "SELECT id FROM accounts WHERE id = $1 FOR UPDATE", accountID).Scan(&id)
	if isNoRows(err) {
		return storage.ErrNotFound
	}
	return err
}

// transition applies a conditional status change and records its outbox row
// when the status moved.
func (s *Store) transition(ctx context.Context, q pgx.Tx, txID string, from, to models.TransactionStatus, patch storage.Patch) (*models.Transaction, error) {
	md, err := marshalMetadata(patch.Metadata)
	if err != nil {
		return nil, err
	}
	bump := 0
	if to != from {
		bump = 1
	}
	row, err := scanTx(q.QueryRow(ctx, `
		UPDATE transactions SET
			status = $3,
			version = version + $4,
			metadata = metadata || $5::jsonb,
			payout_ref = COALESCE(NULLIF($6, ''), payout_ref),
			updated_at = $7
		WHERE id = $1 AND status = $2
			AND (NOT $8::boolean OR payout_ref IS NULL OR payout_ref = '')
		RETURNING `+txColumns,
		txID, string(from), string(to), bump, md, patch.PayoutRef, s.now(), patch.RequireNoPayoutRef))
	if errors.Is(err, storage.ErrNotFound) {
		var exists bool
		if qerr := q.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM transactions WHERE id = $1)", txID).Scan(&exists); qerr != nil {
			return nil, qerr
		}
		if exists {
			return nil, storage.ErrInvalidState
		}
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to transition %s: %w", txID, err)
	}
	if to != from {
		if err := s.appendOutbox(ctx, q, row); err != nil {
			return nil, err
		}
	}
	return row, nil
}

func (s *Store) SettleTransaction(ctx context.Context, txID string, from models.TransactionStatus, patch storage.Patch) (*models.Account, error) {
	var account *models.Account
	err := pgx.BeginFunc(ctx, s.Db, func(q pgx.Tx) error {
		row, err := s.transition(ctx, q, txID, from, models.COMPLETED, patch)
		if err != nil {
			return err
		}
		account, err = s.adjust(ctx, q, row.AccountID, row.Amount)
		return err
	})
	return account, err
}

func (s *Store) TransitionTransaction(ctx context.Context, txID string, from, to models.TransactionStatus, patch storage.Patch) (*models.Transaction, error) {
	var row *models.Transaction
	err := pgx.BeginFunc(ctx, s.Db, func(q pgx.Tx) error {
		var err error
		row, err = s.transition(ctx, q, txID, from, to, patch)
		return err
	})
	return row, err
}

func (s *Store) CompensateTransaction(ctx context.Context, txID string, from models.TransactionStatus, refund *models.Transaction, patch storage.Patch) (*models.Account, error) {
	var account *models.Account
	err := pgx.BeginFunc(ctx, s.Db, func(q pgx.Tx) error {
		if _, err := s.transition(ctx, q, txID, from, models.FAILED, patch); err != nil {
			return err
		}
		row := *refund
		row.Status = models.COMPLETED
		if err := s.insertTx(ctx, q, &row); err != nil {
			return err
		}
		var err error
		account, err = s.adjust(ctx, q, row.AccountID, row.Amount)
		return err
	})
	return account, err
}
