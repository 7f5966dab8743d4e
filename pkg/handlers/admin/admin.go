// Package admin serves the operator endpoints: withdrawal review, runtime
// configuration and on-demand jobs.
package admin

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/chris/cash-settlement/pkg/handlers/respond"
	"github.com/chris/cash-settlement/pkg/interest"
	"github.com/chris/cash-settlement/pkg/ledger"
	"github.com/chris/cash-settlement/pkg/middleware"
	"github.com/chris/cash-settlement/pkg/models"
	"github.com/chris/cash-settlement/pkg/payout"
	"github.com/chris/cash-settlement/pkg/storage"
	"github.com/chris/cash-settlement/pkg/withdrawal"
	openapi_types "github.com/oapi-codegen/runtime/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var hundred = decimal.NewFromInt(100)

// WithdrawalReviewer is the admin side of the withdrawal state machine.
type WithdrawalReviewer interface {
	ListPending(ctx context.Context) ([]models.Transaction, error)
	Approve(ctx context.Context, txID, adminID string) (*models.Transaction, error)
	Reject(ctx context.Context, txID, adminID, reason string) (ledger.Receipt, error)
	FailUnsent(ctx context.Context, txID, adminID, reason string) (ledger.Receipt, error)
	ReconcileAll(ctx context.Context) (withdrawal.ReconcileReport, error)
}

// InterestRunner runs the interest job for a period.
type InterestRunner interface {
	Run(ctx context.Context, period string) (*interest.Report, error)
}

// AdminHandler holds the dependencies for admin handlers.
type AdminHandler struct {
	Withdrawals WithdrawalReviewer
	Interest    InterestRunner
	Config      storage.ConfigStore
	Logger      *zap.Logger
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(withdrawals WithdrawalReviewer, job InterestRunner, cfg storage.ConfigStore, logger *zap.Logger) *AdminHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AdminHandler{Withdrawals: withdrawals, Interest: job, Config: cfg, Logger: logger}
}

// RejectBody is the body of RejectWithdrawal.
type RejectBody struct {
	Reason string `json:"reason"`
}

// ConfigUpdate is the body of UpdateConfig. Omitted fields keep their value.
type ConfigUpdate struct {
	InterestRatePercent  *decimal.Decimal `json:"interest_rate_percent,omitempty"`
	WithdrawalFeePercent *decimal.Decimal `json:"withdrawal_fee_percent,omitempty"`
}

// InterestRunBody is the optional body of RunInterest.
type InterestRunBody struct {
	Period string `json:"period,omitempty"`
}

// ListPendingWithdrawals returns withdrawals awaiting review, oldest first.
func (h *AdminHandler) ListPendingWithdrawals(w http.ResponseWriter, r *http.Request) {
	txs, err := h.Withdrawals.ListPending(r.Context())
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to retrieve pending withdrawals: %v", err), http.StatusInternalServerError)
		return
	}
	if txs == nil {
		txs = []models.Transaction{}
	}
	respond.JSON(w, http.StatusOK, txs)
}

// ApproveWithdrawal sends the payout. An ambiguous provider outcome answers 202
// and leaves the withdrawal PROCESSING for reconciliation.
func (h *AdminHandler) ApproveWithdrawal(w http.ResponseWriter, r *http.Request, transactionID openapi_types.UUID) {
	adminID := middleware.AdminID(r.Context())
	tx, err := h.Withdrawals.Approve(r.Context(), transactionID.String(), adminID)
	switch {
	case err == nil:
		respond.JSON(w, http.StatusOK, tx)
	case errors.Is(err, payout.ErrProviderUnknown) && tx != nil:
		respond.JSON(w, http.StatusAccepted, tx)
	default:
		h.Logger.Warn("withdrawal approval failed",
			zap.String("transaction_id", transactionID.String()),
			zap.String("admin_id", adminID),
			zap.Error(err))
		respond.Error(w, err)
	}
}

// RejectWithdrawal refunds a PENDING withdrawal.
func (h *AdminHandler) RejectWithdrawal(w http.ResponseWriter, r *http.Request, transactionID openapi_types.UUID) {
	var body RejectBody
	if r.ContentLength != 0 {
		if err := respond.Decode(r, &body); err != nil {
			http.Error(w, fmt.Sprintf("Invalid request body: %v", err), http.StatusBadRequest)
			return
		}
	}
	receipt, err := h.Withdrawals.Reject(r.Context(), transactionID.String(), middleware.AdminID(r.Context()), body.Reason)
	if err != nil {
		respond.Error(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]interface{}{
		"status":         string(models.FAILED),
		"transaction_id": transactionID.String(),
		"refund_id":      receipt.TransactionID,
		"balance":        receipt.Balance,
	})
}

// FailWithdrawal refunds a PROCESSING withdrawal that never reached the
// payout provider.
func (h *AdminHandler) FailWithdrawal(w http.ResponseWriter, r *http.Request, transactionID openapi_types.UUID) {
	var body RejectBody
	if r.ContentLength != 0 {
		if err := respond.Decode(r, &body); err != nil {
			http.Error(w, fmt.Sprintf("Invalid request body: %v", err), http.StatusBadRequest)
			return
		}
	}
	receipt, err := h.Withdrawals.FailUnsent(r.Context(), transactionID.String(), middleware.AdminID(r.Context()), body.Reason)
	if err != nil {
		respond.Error(w, err)
		return
	}
	h.Logger.Warn("withdrawal failed by admin",
		zap.String("transaction_id", transactionID.String()),
		zap.String("admin_id", middleware.AdminID(r.Context())))
	respond.JSON(w, http.StatusOK, map[string]interface{}{
		"status":         string(models.FAILED),
		"transaction_id": transactionID.String(),
		"refund_id":      receipt.TransactionID,
		"balance":        receipt.Balance,
	})
}

// GetConfig returns the runtime configuration.
func (h *AdminHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.Config.GetSystemConfig(r.Context())
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to retrieve config: %v", err), http.StatusInternalServerError)
		return
	}
	respond.JSON(w, http.StatusOK, cfg)
}

// maxConfigAttempts bounds the read-merge-write loop in UpdateConfig.
const maxConfigAttempts = 3

// UpdateConfig changes the interest rate and withdrawal fee. New values apply
// to operations that start after the write. The write is conditional on the
// version read, and a lost race re-reads and merges again.
func (h *AdminHandler) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	var body ConfigUpdate
	if err := respond.Decode(r, &body); err != nil {
		http.Error(w, fmt.Sprintf("Invalid request body: %v", err), http.StatusBadRequest)
		return
	}
	if body.InterestRatePercent == nil && body.WithdrawalFeePercent == nil {
		http.Error(w, "Nothing to update", http.StatusBadRequest)
		return
	}
	if p := body.InterestRatePercent; p != nil && p.IsNegative() {
		http.Error(w, "interest_rate_percent must not be negative", http.StatusUnprocessableEntity)
		return
	}
	if p := body.WithdrawalFeePercent; p != nil && (p.IsNegative() || p.GreaterThanOrEqual(hundred)) {
		http.Error(w, "withdrawal_fee_percent must be in [0, 100)", http.StatusUnprocessableEntity)
		return
	}

	var cfg *models.SystemConfig
	for attempt := 1; ; attempt++ {
		current, err := h.Config.GetSystemConfig(r.Context())
		if err != nil {
			http.Error(w, fmt.Sprintf("Failed to retrieve config: %v", err), http.StatusInternalServerError)
			return
		}
		prev := current.UpdatedAt
		cfg = current
		if body.InterestRatePercent != nil {
			cfg.InterestRatePercent = *body.InterestRatePercent
		}
		if body.WithdrawalFeePercent != nil {
			cfg.WithdrawalFeePercent = *body.WithdrawalFeePercent
		}
		cfg.UpdatedAt = time.Now().UTC()
		cfg.UpdatedBy = middleware.AdminID(r.Context())

		err = h.Config.CompareAndSwapSystemConfig(r.Context(), cfg, prev)
		if err == nil {
			break
		}
		if errors.Is(err, storage.ErrInvalidState) && attempt < maxConfigAttempts {
			h.Logger.Info("system config changed concurrently, retrying", zap.Int("attempt", attempt))
			continue
		}
		if errors.Is(err, storage.ErrInvalidState) {
			http.Error(w, "Config was changed concurrently, retry", http.StatusConflict)
			return
		}
		http.Error(w, fmt.Sprintf("Failed to update config: %v", err), http.StatusInternalServerError)
		return
	}
	h.Logger.Info("system config updated",
		zap.String("admin_id", cfg.UpdatedBy),
		zap.String("interest_rate_percent", cfg.InterestRatePercent.String()),
		zap.String("withdrawal_fee_percent", cfg.WithdrawalFeePercent.String()))
	respond.JSON(w, http.StatusOK, cfg)
}

// RunInterest runs the interest job now. Reruns of a period credit nothing.
func (h *AdminHandler) RunInterest(w http.ResponseWriter, r *http.Request) {
	var body InterestRunBody
	if r.ContentLength != 0 {
		if err := respond.Decode(r, &body); err != nil {
			http.Error(w, fmt.Sprintf("Invalid request body: %v", err), http.StatusBadRequest)
			return
		}
	}
	if body.Period != "" {
		if _, err := time.Parse("2006-01-02", body.Period); err != nil {
			http.Error(w, "period must be YYYY-MM-DD", http.StatusBadRequest)
			return
		}
	}

	report, err := h.Interest.Run(r.Context(), body.Period)
	if err != nil {
		respond.Error(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, report)
}

// Reconcile runs one reconciliation pass over PROCESSING withdrawals.
func (h *AdminHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	report, err := h.Withdrawals.ReconcileAll(r.Context())
	if err != nil {
		respond.Error(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, report)
}
