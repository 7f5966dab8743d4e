package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/chris/cash-settlement/pkg/models"
	"github.com/chris/cash-settlement/pkg/storage"
	"github.com/jackc/pgx/v5/pgconn"
)

func (s *Store) GetAccount(ctx context.Context, accountID string) (*models.Account, error) {
	return scanAccount(s.Db.QueryRow(ctx, "SELECT "+accountColumns+" FROM accounts WHERE id = $1", accountID))
}

func (s *Store) CreateAccount(ctx context.Context, account *models.Account) (*models.Account, error) {
	var kind, address string
	if ch := account.NotificationChannel; ch != nil {
		kind, address = string(ch.Kind), ch.Address
	}
	created := account.CreatedAt
	if created.IsZero() {
		created = s.now()
	}
	row := s.Db.QueryRow(ctx, `
		INSERT INTO accounts (id, balance, referrer_id, notification_kind, notification_address, created_at, updated_at)
		VALUES ($1, $2::numeric, NULLIF($3, ''), NULLIF($4, ''), NULLIF($5, ''), $6, $6)
		RETURNING `+accountColumns,
		account.ID, account.Balance.String(), account.ReferrerID, kind, address, created)
	a, err := scanAccount(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, storage.ErrAccountExists
		}
		return nil, fmt.Errorf("failed to create account %s: %w", account.ID, err)
	}
	return a, nil
}

func (s *Store) ListFundedAccounts(ctx context.Context) ([]models.Account, error) {
	rows, err := s.Db.Query(ctx, "SELECT "+accountColumns+" FROM accounts WHERE balance > 0 ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to list funded accounts: %w", err)
	}
	return collect(rows, scanAccount)
}

func (s *Store) GetSystemConfig(ctx context.Context) (*models.SystemConfig, error) {
	var (
		cfg       models.SystemConfig
		rate, fee string
	)
	err := s.Db.QueryRow(ctx, `
		SELECT interest_rate_percent::text, withdrawal_fee_percent::text, updated_at, COALESCE(updated_by, '')
		FROM system_config WHERE id = 1`).Scan(&rate, &fee, &cfg.UpdatedAt, &cfg.UpdatedBy)
	if err != nil {
		if isNoRows(err) {
			return &cfg, nil
		}
		return nil, fmt.Errorf("failed to read system config: %w", err)
	}
	if cfg.InterestRatePercent, err = parseDecimal(rate); err != nil {
		return nil, err
	}
	if cfg.WithdrawalFeePercent, err = parseDecimal(fee); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (s *Store) UpdateSystemConfig(ctx context.Context, cfg *models.SystemConfig) error {
	updated := cfg.UpdatedAt
	if updated.IsZero() {
		updated = s.now()
	}
	_, err := s.Db.Exec(ctx, `
		INSERT INTO system_config (id, interest_rate_percent, withdrawal_fee_percent, updated_at, updated_by)
		VALUES (1, $1::numeric, $2::numeric, $3, NULLIF($4, ''))
		ON CONFLICT (id) DO UPDATE SET
			interest_rate_percent = EXCLUDED.interest_rate_percent,
			withdrawal_fee_percent = EXCLUDED.withdrawal_fee_percent,
			updated_at = EXCLUDED.updated_at,
			updated_by = EXCLUDED.updated_by`,
		cfg.InterestRatePercent.String(), cfg.WithdrawalFeePercent.String(), updated, cfg.UpdatedBy)
	if err != nil {
		return fmt.Errorf("failed to update system config: %w", err)
	}
	return nil
}

func (s *Store) CompareAndSwapSystemConfig(ctx context.Context, cfg *models.SystemConfig, prev time.Time) error {
	updated := cfg.UpdatedAt
	if updated.IsZero() {
		updated = s.now()
	}
	var (
		tag pgconn.CommandTag
		err error
	)
	if prev.IsZero() {
		tag, err = s.Db.Exec(ctx, `
			INSERT INTO system_config (id, interest_rate_percent, withdrawal_fee_percent, updated_at, updated_by)
			VALUES (1, $1::numeric, $2::numeric, $3, NULLIF($4, ''))
			ON CONFLICT (id) DO NOTHING`,
			cfg.InterestRatePercent.String(), cfg.WithdrawalFeePercent.String(), updated, cfg.UpdatedBy)
	} else {
		tag, err = s.Db.Exec(ctx, `
			UPDATE system_config SET
				interest_rate_percent = $1::numeric,
				withdrawal_fee_percent = $2::numeric,
				updated_at = $3,
				updated_by = NULLIF($4, '')
			WHERE id = 1 AND updated_at = $5`,
			cfg.InterestRatePercent.String(), cfg.WithdrawalFeePercent.String(), updated, cfg.UpdatedBy, prev)
	}
	if err != nil {
		return fmt.Errorf("failed to update system config: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("system config changed since %s: %w", prev.Format(time.RFC3339Nano), storage.ErrInvalidState)
	}
	return nil
}
