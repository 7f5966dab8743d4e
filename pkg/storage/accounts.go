package storage

import (
	"context"

	"github.com/chris/cash-settlement/pkg/models"
)

// AccountStore defines the interface for reading and registering accounts.
// Balances are never written through this interface.
type AccountStore interface {
	// GetAccount retrieves an account by its ID.
	GetAccount(ctx context.Context, accountID string) (*models.Account, error)

	// CreateAccount registers a new account with the given opening balance.
	CreateAccount(ctx context.Context, account *models.Account) (*models.Account, error)

	// ListFundedAccounts retrieves every account whose balance is greater than zero.
	ListFundedAccounts(ctx context.Context) ([]models.Account, error)
}
