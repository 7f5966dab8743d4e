// Package ledger applies balance mutations. Every operation is one atomic storage
// primitive that writes the balance change, its transaction row and the outbox
// transition together.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/chris/cash-settlement/pkg/models"
	"github.com/chris/cash-settlement/pkg/storage"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	// ErrInvalidAmount is returned for zero or negative amounts.
	ErrInvalidAmount = errors.New("amount must be positive")

	// ErrAmountMismatch is returned when a provider confirms less than the deposit intent.
	ErrAmountMismatch = errors.New("confirmed amount is lower than the deposit intent")
)

// Store is the storage surface the ledger needs.
type Store interface {
	storage.AccountStore
	storage.TransactionReader
	storage.LedgerWriter
}

// Entry describes the transaction row written alongside a balance change.
type Entry struct {
	// ID is optional. When empty it is derived from ExternalRef, or random.
	ID          string
	Kind        models.TransactionKind
	Status      models.TransactionStatus
	ExternalRef string
	Metadata    map[string]string
}

// Receipt is the outcome of a ledger write.
type Receipt struct {
	TransactionID string
	Balance       decimal.Decimal
}

// Ledger owns every balance mutation.
type Ledger struct {
	store  Store
	logger *zap.Logger
}

// New creates a Ledger.
func New(store Store, logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{store: store, logger: logger}
}

func (e Entry) transaction(accountID string, amount decimal.Decimal) *models.Transaction {
	id := e.ID
	if id == "" {
		id = storage.NewTransactionID(e.ExternalRef)
	}
	var md map[string]string
	if len(e.Metadata) > 0 {
		md = make(map[string]string, len(e.Metadata))
		for k, v := range e.Metadata {
			md[k] = v
		}
	}
	return &models.Transaction{
		ID:          id,
		AccountID:   accountID,
		Kind:        e.Kind,
		Amount:      amount,
		Status:      e.Status,
		ExternalRef: e.ExternalRef,
		Metadata:    md,
	}
}

// Credit adds amount to the account and logs a COMPLETED row. A replayed external
// ref returns storage.ErrDuplicateEvent and changes nothing.
func (l *Ledger) Credit(ctx context.Context, accountID string, amount decimal.Decimal, e Entry) (Receipt, error) {
	if !amount.IsPositive() {
		return Receipt{}, ErrInvalidAmount
	}
	if e.Kind == "" {
		e.Kind = models.DEPOSIT
	}
	tx := e.transaction(accountID, amount)

	account, err := l.store.ApplyCredit(ctx, tx)
	if err != nil {
		if errors.Is(err, storage.ErrDuplicateEvent) {
			l.logger.Info("credit already applied",
				zap.String("account_id", accountID), zap.String("external_ref", e.ExternalRef))
		}
		return Receipt{TransactionID: tx.ID}, fmt.Errorf("credit %s: %w", accountID, err)
	}
	return Receipt{TransactionID: tx.ID, Balance: account.Balance}, nil
}

// Debit subtracts amount only if the balance covers it. The check and the update
// are one conditional write, so concurrent debits can never overdraw.
func (l *Ledger) Debit(ctx context.Context, accountID string, amount decimal.Decimal, e Entry) (Receipt, error) {
	if !amount.IsPositive() {
		return Receipt{}, ErrInvalidAmount
	}
	if e.Kind == "" {
		e.Kind = models.WITHDRAW
	}
	if e.Status == "" {
		e.Status = models.PENDING
	}
	tx := e.transaction(accountID, amount)

	account, err := l.store.ApplyDebit(ctx, tx)
	if err != nil {
		return Receipt{TransactionID: tx.ID}, fmt.Errorf("debit %s: %w", accountID, err)
	}
	return Receipt{TransactionID: tx.ID, Balance: account.Balance}, nil
}

// Record logs a PENDING deposit intent with no balance effect.
func (l *Ledger) Record(ctx context.Context, accountID string, amount decimal.Decimal, e Entry) (Receipt, error) {
	if !amount.IsPositive() {
		return Receipt{}, ErrInvalidAmount
	}
	if e.Kind == "" {
		e.Kind = models.DEPOSIT
	}
	e.Status = models.PENDING
	tx := e.transaction(accountID, amount)

	if err := l.store.InsertTransaction(ctx, tx); err != nil {
		return Receipt{TransactionID: tx.ID}, fmt.Errorf("record %s: %w", accountID, err)
	}
	return Receipt{TransactionID: tx.ID}, nil
}

// SettleDeposit moves a PENDING deposit to COMPLETED and credits the intent
// amount. A provider confirming more than the intent is recorded in metadata; a
// provider confirming less is refused.
func (l *Ledger) SettleDeposit(ctx context.Context, txID string, confirmed decimal.Decimal) (Receipt, error) {
	tx, err := l.store.GetTransaction(ctx, txID)
	if err != nil {
		return Receipt{}, fmt.Errorf("settle deposit %s: %w", txID, err)
	}
	if tx.Kind != models.DEPOSIT {
		return Receipt{}, fmt.Errorf("settle deposit %s: kind %s: %w", txID, tx.Kind, storage.ErrInvalidState)
	}
	if confirmed.LessThan(tx.Amount) {
		return Receipt{}, fmt.Errorf("settle deposit %s: got %s want %s: %w", txID, confirmed, tx.Amount, ErrAmountMismatch)
	}

	var patch storage.Patch
	if confirmed.GreaterThan(tx.Amount) {
		patch.Metadata = map[string]string{"confirmed_amount": confirmed.String()}
	}
	account, err := l.store.SettleTransaction(ctx, txID, models.PENDING, patch)
	if err != nil {
		return Receipt{TransactionID: txID}, fmt.Errorf("settle deposit %s: %w", txID, err)
	}
	return Receipt{TransactionID: txID, Balance: account.Balance}, nil
}

// FailDeposit moves a PENDING deposit to FAILED. Nothing was credited, so nothing
// is reversed.
func (l *Ledger) FailDeposit(ctx context.Context, txID, reason string) error {
	patch := storage.Patch{Metadata: map[string]string{models.MetaReason: reason}}
	if _, err := l.store.TransitionTransaction(ctx, txID, models.PENDING, models.FAILED, patch); err != nil {
		return fmt.Errorf("fail deposit %s: %w", txID, err)
	}
	return nil
}

// Compensate fails a withdrawal that is still in `from` and credits its amount back
// through a refund row keyed "refund:<id>". Calling it twice refunds once: the
// second call sees storage.ErrInvalidState or storage.ErrDuplicateEvent.
func (l *Ledger) Compensate(ctx context.Context, tx *models.Transaction, from models.TransactionStatus, reason string, extra map[string]string) (Receipt, error) {
	if tx.Kind != models.WITHDRAW {
		return Receipt{}, fmt.Errorf("compensate %s: kind %s: %w", tx.ID, tx.Kind, storage.ErrInvalidState)
	}

	refund := Entry{
		Kind:        models.DEPOSIT,
		ExternalRef: RefundRef(tx.ID),
		Metadata: map[string]string{
			models.MetaCompensates: tx.ID,
			models.MetaReason:      reason,
		},
	}.transaction(tx.AccountID, tx.Amount)

	md := map[string]string{models.MetaReason: reason}
	for k, v := range extra {
		md[k] = v
	}

	account, err := l.store.CompensateTransaction(ctx, tx.ID, from, refund, storage.Patch{Metadata: md})
	if err != nil {
		return Receipt{}, fmt.Errorf("compensate %s: %w", tx.ID, err)
	}
	l.logger.Info("withdrawal compensated",
		zap.String("transaction_id", tx.ID),
		zap.String("account_id", tx.AccountID),
		zap.String("amount", tx.Amount.String()),
		zap.String("reason", reason))
	return Receipt{TransactionID: refund.ID, Balance: account.Balance}, nil
}

// Balance returns the current balance of an account.
func (l *Ledger) Balance(ctx context.Context, accountID string) (decimal.Decimal, error) {
	account, err := l.store.GetAccount(ctx, accountID)
	if err != nil {
		return decimal.Zero, err
	}
	return account.Balance, nil
}

// RefundRef is the external ref of the compensation for a withdrawal.
func RefundRef(withdrawalID string) string {
	return "refund:" + withdrawalID
}
