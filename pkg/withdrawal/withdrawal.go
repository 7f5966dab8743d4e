// Package withdrawal runs the withdrawal lifecycle: request, admin decision,
// payout and reconciliation.
package withdrawal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chris/cash-settlement/pkg/ledger"
	"github.com/chris/cash-settlement/pkg/metrics"
	"github.com/chris/cash-settlement/pkg/models"
	"github.com/chris/cash-settlement/pkg/payout"
	"github.com/chris/cash-settlement/pkg/storage"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ErrInvalidDestination is returned for a payout address the provider cannot pay.
var ErrInvalidDestination = errors.New("invalid withdrawal destination")

// Store is the storage surface the state machine needs.
type Store interface {
	storage.TransactionReader
	storage.ConfigStore
	TransitionTransaction(ctx context.Context, txID string, from, to models.TransactionStatus, patch storage.Patch) (*models.Transaction, error)
}

// Options tunes the service.
type Options struct {
	// Currency is the payout currency code sent to the provider.
	Currency     string
	MinUnitScale int32
	// UnresolvedAfter is how long a PROCESSING withdrawal may go without a
	// payout ref before reconciliation refunds or escalates it.
	UnresolvedAfter time.Duration
}

// DefaultUnresolvedAfter is used when Options.UnresolvedAfter is zero.
const DefaultUnresolvedAfter = 24 * time.Hour

// Service implements the withdrawal state machine.
type Service struct {
	ledger  *ledger.Ledger
	store   Store
	payouts payout.Adapter
	opts    Options
	metrics *metrics.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

// New creates a Service.
func New(l *ledger.Ledger, store Store, payouts payout.Adapter, opts Options, m *metrics.Metrics, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Currency == "" {
		opts.Currency = "usdtbsc"
	}
	if opts.MinUnitScale == 0 {
		opts.MinUnitScale = 8
	}
	if opts.UnresolvedAfter <= 0 {
		opts.UnresolvedAfter = DefaultUnresolvedAfter
	}
	return &Service{
		ledger:  l,
		store:   store,
		payouts: payouts,
		opts:    opts,
		metrics: m,
		logger:  logger,
		now:     time.Now,
	}
}

// Requested is the result of a withdrawal request.
type Requested struct {
	TransactionID string          `json:"transaction_id"`
	Amount        decimal.Decimal `json:"amount"`
	Fee           decimal.Decimal `json:"fee"`
	Balance       decimal.Decimal `json:"balance"`
}

// Request locks amount from the balance and opens a PENDING withdrawal. The fee
// is informational and recorded in metadata; exactly amount is debited.
func (s *Service) Request(ctx context.Context, accountID string, amount decimal.Decimal, destination string) (*Requested, error) {
	if !amount.IsPositive() {
		return nil, ledger.ErrInvalidAmount
	}
	if !common.IsHexAddress(destination) {
		return nil, fmt.Errorf("%q: %w", destination, ErrInvalidDestination)
	}

	cfg, err := s.store.GetSystemConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read system config: %w", err)
	}
	fee := amount.Mul(cfg.WithdrawalFeePercent).Div(decimal.NewFromInt(100)).Round(s.opts.MinUnitScale)

	receipt, err := s.ledger.Debit(ctx, accountID, amount, ledger.Entry{
		Kind:   models.WITHDRAW,
		Status: models.PENDING,
		Metadata: map[string]string{
			models.MetaDestination: destination,
			models.MetaCurrency:    s.opts.Currency,
			models.MetaFee:         fee.String(),
			models.MetaFeePercent:  cfg.WithdrawalFeePercent.String(),
		},
	})
	if err != nil {
		s.metrics.Withdrawal("request", "error")
		return nil, err
	}

	s.metrics.Withdrawal("request", "ok")
	s.logger.Info("withdrawal requested",
		zap.String("transaction_id", receipt.TransactionID),
		zap.String("account_id", accountID),
		zap.String("amount", amount.String()),
		zap.String("fee", fee.String()))
	return &Requested{TransactionID: receipt.TransactionID, Amount: amount, Fee: fee, Balance: receipt.Balance}, nil
}

func (s *Service) load(ctx context.Context, txID string) (*models.Transaction, error) {
	tx, err := s.store.GetTransaction(ctx, txID)
	if err != nil {
		return nil, fmt.Errorf("failed to load withdrawal %s: %w", txID, err)
	}
	if tx.Kind != models.WITHDRAW {
		return nil, fmt.Errorf("%s is a %s: %w", txID, tx.Kind, storage.ErrNotFound)
	}
	return tx, nil
}

// Reject refunds a PENDING withdrawal and fails it with reason.
func (s *Service) Reject(ctx context.Context, txID, adminID, reason string) (ledger.Receipt, error) {
	tx, err := s.load(ctx, txID)
	if err != nil {
		return ledger.Receipt{}, err
	}
	if tx.Status != models.PENDING {
		return ledger.Receipt{}, fmt.Errorf("reject %s in %s: %w", txID, tx.Status, storage.ErrInvalidState)
	}
	if reason == "" {
		reason = "rejected by admin"
	}

	receipt, err := s.ledger.Compensate(ctx, tx, models.PENDING, reason, map[string]string{models.MetaRejectedBy: adminID})
	if err != nil {
		s.metrics.Withdrawal("reject", "error")
		return ledger.Receipt{}, err
	}
	s.metrics.Withdrawal("reject", "ok")
	return receipt, nil
}

// Approve claims a PENDING withdrawal and sends it to the payout provider. The
// claim is a conditional write, so only one of several concurrent approvals
// reaches the provider.
func (s *Service) Approve(ctx context.Context, txID, adminID string) (*models.Transaction, error) {
	tx, err := s.load(ctx, txID)
	if err != nil {
		return nil, err
	}
	if tx.Status != models.PENDING {
		return nil, fmt.Errorf("approve %s in %s: %w", txID, tx.Status, storage.ErrInvalidState)
	}

	tx, err = s.store.TransitionTransaction(ctx, txID, models.PENDING, models.PROCESSING,
		storage.Patch{Metadata: map[string]string{models.MetaApprovedBy: adminID}})
	if err != nil {
		return nil, fmt.Errorf("approve %s: %w", txID, err)
	}
	log := s.logger.With(zap.String("transaction_id", txID), zap.String("admin_id", adminID))

	currency := tx.Metadata[models.MetaCurrency]
	if currency == "" {
		currency = s.opts.Currency
	}
	ref, err := s.payouts.CreatePayout(ctx, payout.Request{
		Destination:    tx.Metadata[models.MetaDestination],
		Amount:         tx.Amount,
		Currency:       currency,
		IdempotencyKey: tx.ID,
	})

	switch {
	case err == nil:
		updated, serr := s.store.TransitionTransaction(ctx, txID, models.PROCESSING, models.PROCESSING,
			storage.Patch{PayoutRef: ref, RequireNoPayoutRef: true})
		if serr != nil {
			// The payout exists; reconciliation recovers the ref by idempotency key.
			log.Error("failed to store payout ref", zap.String("payout_ref", ref), zap.Error(serr))
			s.metrics.Withdrawal("approve", "ref_unsaved")
			return tx, nil
		}
		log.Info("withdrawal sent to payout provider", zap.String("payout_ref", ref))
		s.metrics.Withdrawal("approve", "ok")
		return updated, nil

	case errors.Is(err, payout.ErrProviderTransient):
		if _, rerr := s.store.TransitionTransaction(ctx, txID, models.PROCESSING, models.PENDING,
			storage.Patch{RequireNoPayoutRef: true}); rerr != nil {
			log.Error("failed to return withdrawal to pending", zap.Error(rerr))
		}
		log.Warn("payout provider unavailable, withdrawal back to pending", zap.Error(err))
		s.metrics.Withdrawal("approve", "transient")
		return nil, fmt.Errorf("approve %s: %w", txID, err)

	case errors.Is(err, payout.ErrProviderPermanent):
		if _, cerr := s.ledger.Compensate(ctx, tx, models.PROCESSING, "payout rejected: "+err.Error(), nil); cerr != nil {
			log.Error("failed to refund rejected payout", zap.String("alert", "critical"), zap.Error(cerr))
			s.metrics.Withdrawal("approve", "error")
			return nil, errors.Join(err, cerr)
		}
		s.metrics.Withdrawal("approve", "rejected")
		return nil, fmt.Errorf("approve %s: %w", txID, err)

	default:
		// The provider may or may not have the payout. Leave it PROCESSING with no
		// ref for reconciliation.
		updated, merr := s.store.TransitionTransaction(ctx, txID, models.PROCESSING, models.PROCESSING,
			storage.Patch{Metadata: map[string]string{models.MetaPayoutUnknown: "true"}, RequireNoPayoutRef: true})
		if merr == nil {
			tx = updated
		}
		log.Warn("payout outcome unknown, left for reconciliation", zap.Error(err))
		s.metrics.Withdrawal("approve", "unknown")
		if !errors.Is(err, payout.ErrProviderUnknown) {
			err = fmt.Errorf("%w: %v", payout.ErrProviderUnknown, err)
		}
		return tx, fmt.Errorf("approve %s: %w", txID, err)
	}
}

// ListPending returns the withdrawals awaiting an admin decision, oldest first.
func (s *Service) ListPending(ctx context.Context) ([]models.Transaction, error) {
	return s.store.ListTransactionsByStatus(ctx, models.WITHDRAW, models.PENDING, s.now().Add(time.Second))
}
