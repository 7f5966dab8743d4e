package accounts

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/chris/cash-settlement/pkg/handlers/respond"
	"github.com/chris/cash-settlement/pkg/models"
	"github.com/chris/cash-settlement/pkg/storage"
	"github.com/shopspring/decimal"
)

const (
	defaultLimit = int32(20)
	maxLimit     = int32(200)
)

// Store is the read side the account handlers need.
type Store interface {
	storage.AccountStore
	storage.TransactionReader
}

// AccountsHandler holds the dependencies for account-related handlers.
type AccountsHandler struct {
	Store Store
}

// NewAccountsHandler creates a new AccountsHandler.
func NewAccountsHandler(store Store) *AccountsHandler {
	return &AccountsHandler{Store: store}
}

// NewAccount is the registration body sent by the auth service.
type NewAccount struct {
	ID                  string                      `json:"id"`
	ReferrerID          string                      `json:"referrer_id,omitempty"`
	NotificationChannel *models.NotificationChannel `json:"notification_channel,omitempty"`
}

// Balance is the response of GetBalance.
type Balance struct {
	AccountID string          `json:"account_id"`
	Balance   decimal.Decimal `json:"balance"`
}

// ListTransactionsParams are the query parameters of ListTransactions.
type ListTransactionsParams struct {
	Limit *int32 `form:"limit,omitempty" json:"limit,omitempty"`
}

// CreateAccount registers an account with a zero balance.
func (h *AccountsHandler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var body NewAccount
	if err := respond.Decode(r, &body); err != nil {
		http.Error(w, fmt.Sprintf("Invalid request body: %v", err), http.StatusBadRequest)
		return
	}
	body.ID = strings.TrimSpace(body.ID)
	if body.ID == "" {
		http.Error(w, "Account id is required", http.StatusBadRequest)
		return
	}
	if body.ReferrerID == body.ID {
		http.Error(w, "An account cannot refer itself", http.StatusBadRequest)
		return
	}

	created, err := h.Store.CreateAccount(r.Context(), &models.Account{
		ID:                  body.ID,
		Balance:             decimal.Zero,
		ReferrerID:          body.ReferrerID,
		NotificationChannel: body.NotificationChannel,
	})
	if err != nil {
		respond.Error(w, fmt.Errorf("create account: %w", err))
		return
	}
	respond.JSON(w, http.StatusCreated, created)
}

// GetBalance returns the current balance of an account.
func (h *AccountsHandler) GetBalance(w http.ResponseWriter, r *http.Request, accountID string) {
	account, err := h.Store.GetAccount(r.Context(), accountID)
	if err != nil {
		respond.Error(w, fmt.Errorf("get account %s: %w", accountID, err))
		return
	}
	respond.JSON(w, http.StatusOK, Balance{AccountID: account.ID, Balance: account.Balance})
}

// ListTransactions returns the newest transactions of an account.
func (h *AccountsHandler) ListTransactions(w http.ResponseWriter, r *http.Request, accountID string, params ListTransactionsParams) {
	limit := defaultLimit
	if params.Limit != nil {
		limit = *params.Limit
	}
	if limit <= 0 || limit > maxLimit {
		http.Error(w, fmt.Sprintf("Limit must be between 1 and %d", maxLimit), http.StatusBadRequest)
		return
	}

	if _, err := h.Store.GetAccount(r.Context(), accountID); err != nil {
		respond.Error(w, fmt.Errorf("get account %s: %w", accountID, err))
		return
	}
	txs, err := h.Store.ListTransactionsByAccount(r.Context(), accountID, limit)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to retrieve transactions: %v", err), http.StatusInternalServerError)
		return
	}
	if txs == nil {
		txs = []models.Transaction{}
	}
	respond.JSON(w, http.StatusOK, txs)
}
