// Package postgres implements storage.Storage on PostgreSQL. Each ledger
// primitive runs in one database transaction; uniqueness of transaction ids and
// external refs is enforced by the schema.
package postgres

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/chris/cash-settlement/pkg/models"
	"github.com/chris/cash-settlement/pkg/storage"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

//go:embed schema.sql
var schema string

const uniqueViolation = "23505"

var _ storage.Storage = (*Store)(nil)

// Store is a pgxpool-backed storage.Storage.
type Store struct {
	Db  *pgxpool.Pool
	now func() time.Time
}

// NewStore connects to connString and verifies the connection.
func NewStore(ctx context.Context, connString string) (*Store, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return &Store{Db: pool, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Migrate creates the tables when they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.Db.Exec(ctx, schema, pgx.QueryExecModeSimpleProtocol); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

func (s *Store) Close() {
	s.Db.Close()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

type scanner interface {
	Scan(dest ...any) error
}

const accountColumns = `id, balance::text, COALESCE(referrer_id, ''), COALESCE(notification_kind, ''),
	COALESCE(notification_address, ''), created_at, updated_at`

func scanAccount(row scanner) (*models.Account, error) {
	var (
		a             models.Account
		balance       string
		kind, address string
	)
	if err := row.Scan(&a.ID, &balance, &a.ReferrerID, &kind, &address, &a.CreatedAt, &a.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	var err error
	if a.Balance, err = decimal.NewFromString(balance); err != nil {
		return nil, fmt.Errorf("account %s: bad balance %q: %w", a.ID, balance, err)
	}
	if kind != "" {
		a.NotificationChannel = &models.NotificationChannel{Kind: models.ChannelKind(kind), Address: address}
	}
	return &a, nil
}

const txColumns = `id, account_id, kind, amount::text, status, COALESCE(external_ref, ''),
	COALESCE(payout_ref, ''), metadata, version, created_at, updated_at`

func scanTx(row scanner) (*models.Transaction, error) {
	var (
		t        models.Transaction
		amount   string
		metadata []byte
	)
	err := row.Scan(&t.ID, &t.AccountID, &t.Kind, &amount, &t.Status, &t.ExternalRef,
		&t.PayoutRef, &metadata, &t.Version, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	if t.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("transaction %s: bad amount %q: %w", t.ID, amount, err)
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &t.Metadata); err != nil {
			return nil, fmt.Errorf("transaction %s: bad metadata: %w", t.ID, err)
		}
		if len(t.Metadata) == 0 {
			t.Metadata = nil
		}
	}
	return &t, nil
}

func marshalMetadata(md map[string]string) (string, error) {
	if md == nil {
		return "{}", nil
	}
	b, err := json.Marshal(md)
	return string(b), err
}

func collect[T any](rows pgx.Rows, scan func(scanner) (*T, error)) ([]T, error) {
	defer rows.Close()
	var out []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *v)
	}
	return out, rows.Err()
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

func parseDecimal(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("bad numeric %q: %w", s, err)
	}
	return d, nil
}
