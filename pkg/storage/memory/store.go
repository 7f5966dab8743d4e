// Package memory is a mutex-guarded implementation of storage.Storage used by
// tests and local development.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/chris/cash-settlement/pkg/models"
	"github.com/chris/cash-settlement/pkg/storage"
	"github.com/shopspring/decimal"
)

var _ storage.Storage = (*Store)(nil)

// Store holds every table in process memory. A single mutex serialises writers,
// which gives each ledger primitive the same all-or-nothing behaviour the
// database backends get from transactions.
type Store struct {
	mu       sync.RWMutex
	accounts map[string]*models.Account
	txs      map[string]*models.Transaction
	refs     map[string]string
	outbox   []*models.Transition
	config   models.SystemConfig
	now      func() time.Time
}

// New creates an empty store.
func New() *Store {
	return &Store{
		accounts: make(map[string]*models.Account),
		txs:      make(map[string]*models.Transaction),
		refs:     make(map[string]string),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the time source. Used by tests that need stale rows.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func copyAccount(a *models.Account) *models.Account {
	c := *a
	if a.NotificationChannel != nil {
		ch := *a.NotificationChannel
		c.NotificationChannel = &ch
	}
	return &c
}

func copyTx(t *models.Transaction) *models.Transaction {
	c := t.Clone()
	return &c
}

// --- accounts ---

func (s *Store) GetAccount(ctx context.Context, accountID string) (*models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[accountID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return copyAccount(a), nil
}

func (s *Store) CreateAccount(ctx context.Context, account *models.Account) (*models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[account.ID]; ok {
		return nil, storage.ErrAccountExists
	}
	a := copyAccount(account)
	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.now()
	}
	a.UpdatedAt = a.CreatedAt
	s.accounts[a.ID] = a
	return copyAccount(a), nil
}

func (s *Store) ListFundedAccounts(ctx context.Context) ([]models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		if a.Balance.IsPositive() {
			out = append(out, *copyAccount(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// --- transaction log ---

func (s *Store) GetTransaction(ctx context.Context, txID string) (*models.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.txs[txID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return copyTx(t), nil
}

func (s *Store) GetTransactionByExternalRef(ctx context.Context, externalRef string) (*models.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.refs[externalRef]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return copyTx(s.txs[id]), nil
}

func (s *Store) ListTransactionsByAccount(ctx context.Context, accountID string, limit int32) ([]models.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Transaction
	for _, t := range s.txs {
		if t.AccountID == accountID {
			out = append(out, t.Clone())
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && int(limit) < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ListTransactionsByStatus(ctx context.Context, kind models.TransactionKind, status models.TransactionStatus, createdBefore time.Time) ([]models.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Transaction
	for _, t := range s.txs {
		if t.Kind == kind && t.Status == status && t.CreatedAt.Before(createdBefore) {
			out = append(out, t.Clone())
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// --- ledger primitives ---

// insertLocked validates uniqueness and stamps a new row. The caller holds s.mu.
func (s *Store) insertLocked(tx *models.Transaction) (*models.Transaction, error) {
	if _, ok := s.txs[tx.ID]; ok {
		return nil, storage.ErrDuplicateEvent
	}
	if tx.ExternalRef != "" {
		if _, ok := s.refs[tx.ExternalRef]; ok {
			return nil, storage.ErrDuplicateEvent
		}
	}
	row := copyTx(tx)
	now := s.now()
	row.Version = 1
	row.CreatedAt = now
	row.UpdatedAt = now
	return row, nil
}

// commitLocked stores a row and its outbox transition. The caller holds s.mu.
func (s *Store) commitLocked(row *models.Transaction) {
	s.txs[row.ID] = row
	if row.ExternalRef != "" {
		s.refs[row.ExternalRef] = row.ID
	}
	tr := models.NewTransition(row)
	s.outbox = append(s.outbox, &tr)
}

func (s *Store) adjustLocked(accountID string, delta decimal.Decimal) *models.Account {
	a := s.accounts[accountID]
	a.Balance = a.Balance.Add(delta)
	a.UpdatedAt = s.now()
	return copyAccount(a)
}

func (s *Store) ApplyCredit(ctx context.Context, tx *models.Transaction) (*models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[tx.AccountID]; !ok {
		return nil, storage.ErrNotFound
	}
	row, err := s.insertLocked(tx)
	if err != nil {
		return nil, err
	}
	row.Status = models.COMPLETED
	s.commitLocked(row)
	return s.adjustLocked(row.AccountID, row.Amount), nil
}

func (s *Store) ApplyDebit(ctx context.Context, tx *models.Transaction) (*models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[tx.AccountID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	row, err := s.insertLocked(tx)
	if err != nil {
		return nil, err
	}
	if a.Balance.LessThan(row.Amount) {
		return nil, storage.ErrInsufficientFunds
	}
	s.commitLocked(row)
	return s.adjustLocked(row.AccountID, row.Amount.Neg()), nil
}

func (s *Store) InsertTransaction(ctx context.Context, tx *models.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[tx.AccountID]; !ok {
		return storage.ErrNotFound
	}
	row, err := s.insertLocked(tx)
	if err != nil {
		return err
	}
	s.commitLocked(row)
	return nil
}

// transitionLocked applies a conditional status change and records its
// transition. The caller holds s.mu.
func (s *Store) transitionLocked(txID string, from, to models.TransactionStatus, patch storage.Patch) (*models.Transaction, error) {
	t, ok := s.txs[txID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	if t.Status != from {
		return nil, storage.ErrInvalidState
	}
	if patch.RequireNoPayoutRef && t.PayoutRef != "" {
		return nil, storage.ErrInvalidState
	}
	row := copyTx(t)
	if len(patch.Metadata) > 0 && row.Metadata == nil {
		row.Metadata = make(map[string]string, len(patch.Metadata))
	}
	for k, v := range patch.Metadata {
		row.Metadata[k] = v
	}
	if patch.PayoutRef != "" {
		row.PayoutRef = patch.PayoutRef
	}
	row.UpdatedAt = s.now()
	if to != from {
		row.Status = to
		row.Version++
		s.commitLocked(row)
	} else {
		s.txs[row.ID] = row
	}
	return row, nil
}

func (s *Store) SettleTransaction(ctx context.Context, txID string, from models.TransactionStatus, patch storage.Patch) (*models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, err := s.transitionLocked(txID, from, models.COMPLETED, patch)
	if err != nil {
		return nil, err
	}
	return s.adjustLocked(row.AccountID, row.Amount), nil
}

func (s *Store) TransitionTransaction(ctx context.Context, txID string, from, to models.TransactionStatus, patch storage.Patch) (*models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, err := s.transitionLocked(txID, from, to, patch)
	if err != nil {
		return nil, err
	}
	return copyTx(row), nil
}

func (s *Store) CompensateTransaction(ctx context.Context, txID string, from models.TransactionStatus, refund *models.Transaction, patch storage.Patch) (*models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.txs[txID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	if t.Status != from {
		return nil, storage.ErrInvalidState
	}
	// Validate the refund before touching the original so a failure leaves no trace.
	refundRow, err := s.insertLocked(refund)
	if err != nil {
		return nil, err
	}
	refundRow.Status = models.COMPLETED
	if _, err := s.transitionLocked(txID, from, models.FAILED, patch); err != nil {
		return nil, err
	}
	s.commitLocked(refundRow)
	return s.adjustLocked(refundRow.AccountID, refundRow.Amount), nil
}

// --- outbox ---

func (s *Store) ListUndispatched(ctx context.Context, after *models.Transition, limit int32) ([]models.Transition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	start := 0
	if after != nil {
		for i, tr := range s.outbox {
			if tr.ID == after.ID {
				start = i + 1
				break
			}
		}
	}
	var out []models.Transition
	for _, tr := range s.outbox[start:] {
		if tr.Dispatched {
			continue
		}
		out = append(out, *tr)
		if limit > 0 && len(out) == int(limit) {
			break
		}
	}
	return out, nil
}

func (s *Store) findTransitionLocked(transitionID string) (*models.Transition, error) {
	for _, tr := range s.outbox {
		if tr.ID == transitionID {
			return tr, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (s *Store) MarkDispatched(ctx context.Context, transitionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tr, err := s.findTransitionLocked(transitionID)
	if err != nil {
		return err
	}
	tr.Dispatched = true
	return nil
}

func (s *Store) RecordAttempt(ctx context.Context, transitionID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tr, err := s.findTransitionLocked(transitionID)
	if err != nil {
		return 0, err
	}
	tr.Attempts++
	return tr.Attempts, nil
}

// --- system config ---

func (s *Store) GetSystemConfig(ctx context.Context) (*models.SystemConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c := s.config
	return &c, nil
}

func (s *Store) UpdateSystemConfig(ctx context.Context, cfg *models.SystemConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.config = *cfg
	if s.config.UpdatedAt.IsZero() {
		s.config.UpdatedAt = s.now()
	}
	return nil
}

func (s *Store) CompareAndSwapSystemConfig(ctx context.Context, cfg *models.SystemConfig, prev time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.config.UpdatedAt.Equal(prev) {
		return fmt.Errorf("system config changed since %s: %w", prev.Format(time.RFC3339Nano), storage.ErrInvalidState)
	}
	s.config = *cfg
	if s.config.UpdatedAt.IsZero() {
		s.config.UpdatedAt = s.now()
	}
	return nil
}

// Transactions returns a snapshot of every row. Used by balance assertions.
func (s *Store) Transactions(accountID string) []models.Transaction {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Transaction
	for _, t := range s.txs {
		if t.AccountID == accountID {
			out = append(out, t.Clone())
		}
	}
	return out
}
