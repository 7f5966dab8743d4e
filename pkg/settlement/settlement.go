// Package settlement applies normalized provider events to the ledger.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chris/cash-settlement/pkg/ledger"
	"github.com/chris/cash-settlement/pkg/metrics"
	"github.com/chris/cash-settlement/pkg/models"
	"github.com/chris/cash-settlement/pkg/providers"
	"github.com/chris/cash-settlement/pkg/storage"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Result describes what Process did with an event.
type Result string

const (
	ResultCredited  Result = "credited"
	ResultSettled   Result = "settled"
	ResultFailed    Result = "failed"
	ResultDuplicate Result = "duplicate"
	ResultPending   Result = "pending"
	ResultIgnored   Result = "ignored"
)

// ErrNoInitiator is returned when a deposit method cannot open payments.
var ErrNoInitiator = errors.New("provider cannot initiate deposits")

// Store is the read surface the pipeline needs.
type Store interface {
	storage.AccountStore
	storage.TransactionReader
}

// Options tunes the pipeline.
type Options struct {
	// ReferralCommissionPercent of each settled deposit is credited to the
	// depositor's referrer. Zero disables commissions.
	ReferralCommissionPercent decimal.Decimal
	// MinUnitScale is the number of decimal places amounts are rounded to.
	MinUnitScale int32
}

// Pipeline turns SettlementEvents into exactly-once ledger writes.
type Pipeline struct {
	ledger    *ledger.Ledger
	store     Store
	providers *providers.Registry
	opts      Options
	metrics   *metrics.Metrics
	logger    *zap.Logger
	now       func() time.Time
}

// New creates a Pipeline.
func New(l *ledger.Ledger, store Store, registry *providers.Registry, opts Options, m *metrics.Metrics, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MinUnitScale == 0 {
		opts.MinUnitScale = 8
	}
	return &Pipeline{
		ledger:    l,
		store:     store,
		providers: registry,
		opts:      opts,
		metrics:   m,
		logger:    logger,
		now:       time.Now,
	}
}

// Process applies one event. Replays are reported as ResultDuplicate with a nil
// error so the provider stops redelivering.
func (p *Pipeline) Process(ctx context.Context, event *models.SettlementEvent) (Result, error) {
	if event.ExternalRef == "" {
		return ResultIgnored, fmt.Errorf("%w: empty external ref", providers.ErrMalformedPayload)
	}
	log := p.logger.With(
		zap.String("provider", event.Provider),
		zap.String("external_ref", event.ExternalRef),
		zap.String("outcome", string(event.Outcome)))

	intent, err := p.store.GetTransactionByExternalRef(ctx, event.ExternalRef)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return "", fmt.Errorf("failed to look up %s: %w", event.ExternalRef, err)
	}

	var result Result
	switch event.Outcome {
	case models.OutcomeConfirmed:
		result, err = p.confirm(ctx, event, intent, log)
	case models.OutcomeFailed:
		result, err = p.fail(ctx, event, intent, log)
	default:
		result = ResultPending
	}

	if err != nil {
		p.metrics.SettlementEvent(event.Provider, "error")
		return result, err
	}
	p.metrics.SettlementEvent(event.Provider, string(result))
	if result == ResultDuplicate {
		p.metrics.DuplicateEvent(event.Provider)
	}
	return result, nil
}

func (p *Pipeline) confirm(ctx context.Context, event *models.SettlementEvent, intent *models.Transaction, log *zap.Logger) (Result, error) {
	if intent == nil {
		if event.AccountID == "" {
			return ResultIgnored, fmt.Errorf("%w: no account for %s", providers.ErrMalformedPayload, event.ExternalRef)
		}
		receipt, err := p.ledger.Credit(ctx, event.AccountID, event.Amount, ledger.Entry{
			Kind:        models.DEPOSIT,
			ExternalRef: event.ExternalRef,
			Metadata:    map[string]string{models.MetaProvider: event.Provider},
		})
		switch {
		case errors.Is(err, storage.ErrDuplicateEvent):
			p.payCommission(ctx, receipt.TransactionID)
			return ResultDuplicate, nil
		case err != nil:
			return "", err
		}
		log.Info("deposit credited", zap.String("transaction_id", receipt.TransactionID))
		p.payCommission(ctx, receipt.TransactionID)
		return ResultCredited, nil
	}

	if intent.Kind != models.DEPOSIT {
		return ResultIgnored, fmt.Errorf("%s belongs to a %s: %w", event.ExternalRef, intent.Kind, storage.ErrInvalidState)
	}
	switch intent.Status {
	case models.COMPLETED:
		p.payCommission(ctx, intent.ID)
		return ResultDuplicate, nil
	case models.FAILED:
		// Funds arrived for an intent already given up on. Nothing is credited
		// automatically; an operator must decide.
		log.Error("confirmation for failed deposit intent",
			zap.String("alert", "critical"),
			zap.String("transaction_id", intent.ID),
			zap.String("amount", event.Amount.String()))
		return ResultIgnored, nil
	}

	receipt, err := p.ledger.SettleDeposit(ctx, intent.ID, event.Amount)
	switch {
	case errors.Is(err, storage.ErrInvalidState):
		// Lost the race to another delivery of the same confirmation.
		return ResultDuplicate, nil
	case errors.Is(err, ledger.ErrAmountMismatch):
		log.Warn("deposit underpaid, left pending",
			zap.String("transaction_id", intent.ID),
			zap.String("expected", intent.Amount.String()),
			zap.String("confirmed", event.Amount.String()))
		return ResultPending, err
	case err != nil:
		return "", err
	}
	log.Info("deposit settled", zap.String("transaction_id", intent.ID))
	p.payCommission(ctx, receipt.TransactionID)
	return ResultSettled, nil
}

func (p *Pipeline) fail(ctx context.Context, event *models.SettlementEvent, intent *models.Transaction, log *zap.Logger) (Result, error) {
	if intent == nil || intent.Kind != models.DEPOSIT {
		return ResultIgnored, nil
	}
	if intent.Status != models.PENDING {
		return ResultDuplicate, nil
	}
	err := p.ledger.FailDeposit(ctx, intent.ID, "provider reported "+string(event.Outcome))
	switch {
	case errors.Is(err, storage.ErrInvalidState):
		return ResultDuplicate, nil
	case err != nil:
		return "", err
	}
	log.Info("deposit failed", zap.String("transaction_id", intent.ID))
	return ResultFailed, nil
}

// CommissionRef is the external ref of the referral commission for a deposit.
func CommissionRef(depositTxID string) string {
	return "commission:" + depositTxID
}

// payCommission credits the referrer of a completed deposit. It is keyed on the
// deposit id, so calling it again after a replay pays nothing twice. Failures are
// logged and never affect the deposit.
func (p *Pipeline) payCommission(ctx context.Context, depositTxID string) {
	if !p.opts.ReferralCommissionPercent.IsPositive() || depositTxID == "" {
		return
	}
	log := p.logger.With(zap.String("source_deposit", depositTxID))

	deposit, err := p.store.GetTransaction(ctx, depositTxID)
	if err != nil {
		log.Warn("commission skipped, deposit unreadable", zap.Error(err))
		p.metrics.Commission("error")
		return
	}
	if deposit.Status != models.COMPLETED || deposit.IsCompensation() {
		return
	}
	account, err := p.store.GetAccount(ctx, deposit.AccountID)
	if err != nil {
		log.Warn("commission skipped, account unreadable", zap.Error(err))
		p.metrics.Commission("error")
		return
	}
	if account.ReferrerID == "" || account.ReferrerID == account.ID {
		return
	}

	amount := deposit.Amount.Mul(p.opts.ReferralCommissionPercent).Div(decimal.NewFromInt(100)).Round(p.opts.MinUnitScale)
	if !amount.IsPositive() {
		return
	}

	_, err = p.ledger.Credit(ctx, account.ReferrerID, amount, ledger.Entry{
		Kind:        models.COMMISSION,
		ExternalRef: CommissionRef(depositTxID),
		Metadata: map[string]string{
			models.MetaReferredAccount: account.ID,
			models.MetaSourceDeposit:   depositTxID,
		},
	})
	switch {
	case errors.Is(err, storage.ErrDuplicateEvent):
		p.metrics.Commission("duplicate")
	case err != nil:
		log.Error("failed to credit referral commission", zap.String("referrer_id", account.ReferrerID), zap.Error(err))
		p.metrics.Commission("error")
	default:
		log.Info("referral commission credited", zap.String("referrer_id", account.ReferrerID), zap.String("amount", amount.String()))
		p.metrics.Commission("credited")
	}
}
