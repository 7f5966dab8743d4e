package storage

import (
	"context"
	"time"

	"github.com/chris/cash-settlement/pkg/models"
)

// TransactionReader defines the interface for reading the transaction log.
type TransactionReader interface {
	// GetTransaction retrieves a transaction by its ID.
	GetTransaction(ctx context.Context, txID string) (*models.Transaction, error)

	// GetTransactionByExternalRef retrieves the transaction holding a provider reference.
	GetTransactionByExternalRef(ctx context.Context, externalRef string) (*models.Transaction, error)

	// ListTransactionsByAccount retrieves the most recent transactions of an account, newest first.
	ListTransactionsByAccount(ctx context.Context, accountID string, limit int32) ([]models.Transaction, error)

	// ListTransactionsByStatus retrieves transactions of a kind in a status created before the cutoff.
	ListTransactionsByStatus(ctx context.Context, kind models.TransactionKind, status models.TransactionStatus, createdBefore time.Time) ([]models.Transaction, error)
}

// Patch carries the mutable fields a status transition may change alongside the status.
type Patch struct {
	// Metadata keys are merged into the existing metadata.
	Metadata map[string]string
	// PayoutRef is stored when non-empty.
	PayoutRef string
	// RequireNoPayoutRef makes the transition conditional on no payout ref being set yet.
	RequireNoPayoutRef bool
}

// LedgerWriter is the privileged interface that mutates balances and the log.
// Every method is a single atomic unit: the balance change, the transaction row and
// the outbox transition either all commit or none do.
type LedgerWriter interface {
	// ApplyCredit inserts a COMPLETED transaction and adds its amount to the account.
	// Returns ErrDuplicateEvent if the id or external reference is taken.
	ApplyCredit(ctx context.Context, tx *models.Transaction) (*models.Account, error)

	// ApplyDebit inserts a transaction and subtracts its amount from the account, only if
	// the balance covers it. Returns ErrInsufficientFunds otherwise.
	ApplyDebit(ctx context.Context, tx *models.Transaction) (*models.Account, error)

	// InsertTransaction inserts a transaction with no balance effect.
	InsertTransaction(ctx context.Context, tx *models.Transaction) error

	// SettleTransaction moves a transaction from `from` to COMPLETED and credits its amount.
	SettleTransaction(ctx context.Context, txID string, from models.TransactionStatus, patch Patch) (*models.Account, error)

	// TransitionTransaction moves a transaction from `from` to `to` with no balance effect.
	// Returns ErrInvalidState if the current status is not `from`.
	TransitionTransaction(ctx context.Context, txID string, from, to models.TransactionStatus, patch Patch) (*models.Transaction, error)

	// CompensateTransaction moves a transaction from `from` to FAILED, inserts the refund
	// transaction and credits the refund amount.
	CompensateTransaction(ctx context.Context, txID string, from models.TransactionStatus, refund *models.Transaction, patch Patch) (*models.Account, error)
}
