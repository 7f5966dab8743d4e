package withdrawal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chris/cash-settlement/pkg/ledger"
	"github.com/chris/cash-settlement/pkg/models"
	"github.com/chris/cash-settlement/pkg/payout"
	"github.com/chris/cash-settlement/pkg/storage"
	"go.uber.org/zap"
)

// Outcome is what one reconciliation did.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeRefunded  Outcome = "refunded"
	OutcomePending   Outcome = "pending"
	// OutcomeUnchanged means another worker resolved the withdrawal first.
	OutcomeUnchanged Outcome = "unchanged"
)

// ReconcileReport summarises a ReconcileAll run.
type ReconcileReport struct {
	Checked   int `json:"checked"`
	Completed int `json:"completed"`
	Refunded  int `json:"refunded"`
	Pending   int `json:"pending"`
	Errors    int `json:"errors"`
}

// Reconcile asks the provider about a PROCESSING withdrawal and applies the
// answer. A terminal failure refunds exactly once; provider hiccups are
// swallowed and the withdrawal is retried on the next run.
func (s *Service) Reconcile(ctx context.Context, txID string) (Outcome, error) {
	tx, err := s.load(ctx, txID)
	if err != nil {
		return "", err
	}
	if tx.Status != models.PROCESSING {
		return "", fmt.Errorf("reconcile %s in %s: %w", txID, tx.Status, storage.ErrInvalidState)
	}
	log := s.logger.With(zap.String("transaction_id", txID))

	ref := tx.PayoutRef
	if ref == "" {
		var supported bool
		ref, supported, err = s.recoverPayoutRef(ctx, tx)
		if errors.Is(err, payout.ErrProviderTransient) {
			s.metrics.Reconciled("transient")
			return OutcomePending, nil
		}
		if err != nil {
			return "", err
		}
		if ref == "" {
			return s.unresolved(ctx, tx, supported)
		}
	}

	status, err := s.payouts.GetPayoutStatus(ctx, ref)
	if errors.Is(err, payout.ErrProviderTransient) {
		log.Warn("payout status unavailable", zap.String("payout_ref", ref), zap.Error(err))
		s.metrics.Reconciled("transient")
		return OutcomePending, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get payout status %s: %w", ref, err)
	}

	switch status {
	case payout.StatusFinished:
		_, err := s.store.TransitionTransaction(ctx, txID, models.PROCESSING, models.COMPLETED, storage.Patch{})
		if errors.Is(err, storage.ErrInvalidState) {
			return OutcomeUnchanged, nil
		}
		if err != nil {
			return "", fmt.Errorf("failed to complete %s: %w", txID, err)
		}
		log.Info("withdrawal completed", zap.String("payout_ref", ref))
		s.metrics.Reconciled("completed")
		return OutcomeCompleted, nil

	case payout.StatusRejected, payout.StatusFailed:
		_, err := s.ledger.Compensate(ctx, tx, models.PROCESSING, "payout "+string(status), nil)
		if errors.Is(err, storage.ErrInvalidState) || errors.Is(err, storage.ErrDuplicateEvent) {
			return OutcomeUnchanged, nil
		}
		if err != nil {
			log.Error("failed to refund failed payout",
				zap.String("alert", "critical"),
				zap.String("payout_ref", ref),
				zap.String("account_id", tx.AccountID),
				zap.String("amount", tx.Amount.String()),
				zap.Error(err))
			s.metrics.Reconciled("error")
			return "", err
		}
		s.metrics.Reconciled("refunded")
		return OutcomeRefunded, nil

	default:
		s.metrics.Reconciled("pending")
		return OutcomePending, nil
	}
}

// unresolved handles a PROCESSING withdrawal the provider has no record of.
// Within UnresolvedAfter it waits; past it the withdrawal is refunded when the
// provider supports lookup, and escalated for an admin otherwise.
func (s *Service) unresolved(ctx context.Context, tx *models.Transaction, lookupSupported bool) (Outcome, error) {
	log := s.logger.With(zap.String("transaction_id", tx.ID))
	age := s.now().Sub(tx.UpdatedAt)
	if age < s.opts.UnresolvedAfter {
		log.Warn("withdrawal has no payout ref and provider has no record of it", zap.Duration("age", age))
		s.metrics.Reconciled("no_ref")
		return OutcomePending, nil
	}
	if !lookupSupported {
		log.Error("withdrawal unresolved without payout ref",
			zap.String("alert", "critical"),
			zap.String("account_id", tx.AccountID),
			zap.String("amount", tx.Amount.String()),
			zap.Duration("age", age))
		s.metrics.Reconciled("stuck")
		return OutcomePending, nil
	}

	_, err := s.ledger.Compensate(ctx, tx, models.PROCESSING, "payout never reached provider", nil)
	if errors.Is(err, storage.ErrInvalidState) || errors.Is(err, storage.ErrDuplicateEvent) {
		return OutcomeUnchanged, nil
	}
	if err != nil {
		log.Error("failed to refund unsent payout",
			zap.String("alert", "critical"),
			zap.String("account_id", tx.AccountID),
			zap.String("amount", tx.Amount.String()),
			zap.Error(err))
		s.metrics.Reconciled("error")
		return "", err
	}
	log.Warn("refunded withdrawal that never reached provider", zap.Duration("age", age))
	s.metrics.Reconciled("expired")
	return OutcomeRefunded, nil
}

// recoverPayoutRef finds the payout created for tx when the ref was never
// stored. supported is false when the adapter cannot look payouts up.
func (s *Service) recoverPayoutRef(ctx context.Context, tx *models.Transaction) (ref string, supported bool, err error) {
	lookup, ok := s.payouts.(payout.Lookup)
	if !ok {
		return "", false, nil
	}
	ref, found, err := lookup.LookupPayout(ctx, tx.ID, tx.CreatedAt)
	if err != nil || !found {
		return "", true, err
	}
	if _, err := s.store.TransitionTransaction(ctx, tx.ID, models.PROCESSING, models.PROCESSING,
		storage.Patch{PayoutRef: ref, RequireNoPayoutRef: true}); err != nil && !errors.Is(err, storage.ErrInvalidState) {
		return "", true, fmt.Errorf("failed to store recovered payout ref: %w", err)
	}
	s.logger.Info("recovered payout ref", zap.String("transaction_id", tx.ID), zap.String("payout_ref", ref))
	return ref, true, nil
}

// FailUnsent refunds a PROCESSING withdrawal that never got a payout ref. It
// refuses when the provider turns out to have the payout after all.
func (s *Service) FailUnsent(ctx context.Context, txID, adminID, reason string) (ledger.Receipt, error) {
	tx, err := s.load(ctx, txID)
	if err != nil {
		return ledger.Receipt{}, err
	}
	if tx.Status != models.PROCESSING || tx.PayoutRef != "" {
		return ledger.Receipt{}, fmt.Errorf("fail %s in %s: %w", txID, tx.Status, storage.ErrInvalidState)
	}
	ref, _, err := s.recoverPayoutRef(ctx, tx)
	if err != nil {
		return ledger.Receipt{}, err
	}
	if ref != "" {
		return ledger.Receipt{}, fmt.Errorf("fail %s: provider has payout %s: %w", txID, ref, storage.ErrInvalidState)
	}
	if reason == "" {
		reason = "failed by admin"
	}

	receipt, err := s.ledger.Compensate(ctx, tx, models.PROCESSING, reason, map[string]string{models.MetaRejectedBy: adminID})
	if err != nil {
		s.metrics.Withdrawal("fail", "error")
		return ledger.Receipt{}, err
	}
	s.logger.Info("admin failed unsent withdrawal", zap.String("transaction_id", txID), zap.String("admin_id", adminID))
	s.metrics.Withdrawal("fail", "ok")
	return receipt, nil
}

// ProcessingWithdrawals lists withdrawals awaiting a payout result.
func (s *Service) ProcessingWithdrawals(ctx context.Context) ([]models.Transaction, error) {
	return s.store.ListTransactionsByStatus(ctx, models.WITHDRAW, models.PROCESSING, s.now().Add(time.Second))
}

// ReconcileAll reconciles every PROCESSING withdrawal. One failure does not stop
// the rest.
func (s *Service) ReconcileAll(ctx context.Context) (ReconcileReport, error) {
	var report ReconcileReport
	processing, err := s.ProcessingWithdrawals(ctx)
	if err != nil {
		return report, fmt.Errorf("failed to list processing withdrawals: %w", err)
	}

	for _, tx := range processing {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		report.Checked++
		outcome, err := s.Reconcile(ctx, tx.ID)
		if err != nil {
			report.Errors++
			s.logger.Error("failed to reconcile withdrawal", zap.String("transaction_id", tx.ID), zap.Error(err))
			continue
		}
		switch outcome {
		case OutcomeCompleted:
			report.Completed++
		case OutcomeRefunded:
			report.Refunded++
		case OutcomePending:
			report.Pending++
		}
	}
	s.logger.Info("reconciliation finished",
		zap.Int("checked", report.Checked),
		zap.Int("completed", report.Completed),
		zap.Int("refunded", report.Refunded),
		zap.Int("errors", report.Errors))
	return report, nil
}
