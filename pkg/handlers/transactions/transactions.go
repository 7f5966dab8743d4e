package transactions

import (
	"context"
	"fmt"
	"net/http"

	"github.com/chris/cash-settlement/pkg/handlers/respond"
	"github.com/chris/cash-settlement/pkg/settlement"
	"github.com/chris/cash-settlement/pkg/storage"
	"github.com/chris/cash-settlement/pkg/withdrawal"
	openapi_types "github.com/oapi-codegen/runtime/types"
	"github.com/shopspring/decimal"
)

//go:generate mockery --name DepositService --output ./mocks --outpkg mocks
//go:generate mockery --name WithdrawalService --output ./mocks --outpkg mocks

// DepositService opens deposits with a payment provider.
type DepositService interface {
	RequestDeposit(ctx context.Context, accountID string, amount decimal.Decimal, method string) (*settlement.DepositIntent, error)
}

// WithdrawalService opens withdrawals.
type WithdrawalService interface {
	Request(ctx context.Context, accountID string, amount decimal.Decimal, destination string) (*withdrawal.Requested, error)
}

// TransactionsHandler holds the dependencies for user-initiated money movements.
type TransactionsHandler struct {
	Store       storage.TransactionReader
	Deposits    DepositService
	Withdrawals WithdrawalService
}

// NewTransactionsHandler creates a new TransactionsHandler.
func NewTransactionsHandler(store storage.TransactionReader, deposits DepositService, withdrawals WithdrawalService) *TransactionsHandler {
	return &TransactionsHandler{Store: store, Deposits: deposits, Withdrawals: withdrawals}
}

// NewDeposit is the body of RequestDeposit.
type NewDeposit struct {
	AccountID string          `json:"account_id"`
	Amount    decimal.Decimal `json:"amount"`
	Method    string          `json:"method"`
}

// NewWithdrawal is the body of RequestWithdrawal.
type NewWithdrawal struct {
	AccountID   string          `json:"account_id"`
	Amount      decimal.Decimal `json:"amount"`
	Destination string          `json:"destination"`
}

// RequestDeposit opens a provider payment and records the pending deposit.
func (h *TransactionsHandler) RequestDeposit(w http.ResponseWriter, r *http.Request) {
	var body NewDeposit
	if err := respond.Decode(r, &body); err != nil {
		http.Error(w, fmt.Sprintf("Invalid request body: %v", err), http.StatusBadRequest)
		return
	}
	if body.AccountID == "" || body.Method == "" {
		http.Error(w, "account_id and method are required", http.StatusBadRequest)
		return
	}

	intent, err := h.Deposits.RequestDeposit(r.Context(), body.AccountID, body.Amount, body.Method)
	if err != nil {
		respond.Error(w, err)
		return
	}
	respond.JSON(w, http.StatusCreated, intent)
}

// RequestWithdrawal locks the amount and opens a PENDING withdrawal.
func (h *TransactionsHandler) RequestWithdrawal(w http.ResponseWriter, r *http.Request) {
	var body NewWithdrawal
	if err := respond.Decode(r, &body); err != nil {
		http.Error(w, fmt.Sprintf("Invalid request body: %v", err), http.StatusBadRequest)
		return
	}
	if body.AccountID == "" {
		http.Error(w, "account_id is required", http.StatusBadRequest)
		return
	}

	requested, err := h.Withdrawals.Request(r.Context(), body.AccountID, body.Amount, body.Destination)
	if err != nil {
		respond.Error(w, err)
		return
	}
	respond.JSON(w, http.StatusCreated, requested)
}

// GetTransactionById handles the logic for retrieving a transaction by its ID.
func (h *TransactionsHandler) GetTransactionById(w http.ResponseWriter, r *http.Request, transactionID openapi_types.UUID) {
	tx, err := h.Store.GetTransaction(r.Context(), transactionID.String())
	if err != nil {
		respond.Error(w, fmt.Errorf("get transaction %s: %w", transactionID, err))
		return
	}
	respond.JSON(w, http.StatusOK, tx)
}
