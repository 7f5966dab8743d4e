// Package scheduler moves reconciliation work through a queue: a sweep finds
// unresolved transactions and enqueues a job for each, and a runner executes
// the jobs it receives.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chris/cash-settlement/pkg/models"
	"github.com/chris/cash-settlement/pkg/settlement"
	"github.com/chris/cash-settlement/pkg/storage"
	"github.com/chris/cash-settlement/pkg/withdrawal"
	"go.uber.org/zap"
)

// JobKind names the work a job asks for.
type JobKind string

const (
	JobReconcileWithdrawal JobKind = "reconcile_withdrawal"
	JobPollDeposit         JobKind = "poll_deposit"
)

// Job is one queued unit of reconciliation work.
type Job struct {
	Kind          JobKind `json:"kind"`
	TransactionID string  `json:"transaction_id"`
}

// Scheduler defines the interface for a component that enqueues jobs for asynchronous processing.
type Scheduler interface {
	Schedule(ctx context.Context, job Job) error
}

// WithdrawalSource lists withdrawals awaiting a payout result.
type WithdrawalSource interface {
	ProcessingWithdrawals(ctx context.Context) ([]models.Transaction, error)
}

// DepositSource lists deposit intents nobody has confirmed yet.
type DepositSource interface {
	StaleDeposits(ctx context.Context, olderThan time.Duration) ([]models.Transaction, error)
}

// SweepReport summarises one sweep.
type SweepReport struct {
	Withdrawals int `json:"withdrawals"`
	Deposits    int `json:"deposits"`
	Failed      int `json:"failed"`
}

// Sweeper enqueues a job for every unresolved transaction.
type Sweeper struct {
	Scheduler   Scheduler
	Withdrawals WithdrawalSource
	Deposits    DepositSource
	// StaleAfter is how old a PENDING deposit must be before it is polled.
	StaleAfter time.Duration
	Logger     *zap.Logger
}

// Sweep enqueues the jobs. One failed enqueue does not stop the batch.
func (s *Sweeper) Sweep(ctx context.Context) (SweepReport, error) {
	var report SweepReport
	logger := s.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	withdrawals, err := s.Withdrawals.ProcessingWithdrawals(ctx)
	if err != nil {
		return report, fmt.Errorf("failed to list processing withdrawals: %w", err)
	}
	for _, tx := range withdrawals {
		if err := s.Scheduler.Schedule(ctx, Job{Kind: JobReconcileWithdrawal, TransactionID: tx.ID}); err != nil {
			logger.Error("failed to enqueue withdrawal", zap.String("transaction_id", tx.ID), zap.Error(err))
			report.Failed++
			continue
		}
		report.Withdrawals++
	}

	if s.Deposits != nil {
		deposits, err := s.Deposits.StaleDeposits(ctx, s.StaleAfter)
		if err != nil {
			return report, fmt.Errorf("failed to list stale deposits: %w", err)
		}
		for _, tx := range deposits {
			if err := s.Scheduler.Schedule(ctx, Job{Kind: JobPollDeposit, TransactionID: tx.ID}); err != nil {
				logger.Error("failed to enqueue deposit", zap.String("transaction_id", tx.ID), zap.Error(err))
				report.Failed++
				continue
			}
			report.Deposits++
		}
	}

	logger.Info("reconciliation sweep finished",
		zap.Int("withdrawals", report.Withdrawals),
		zap.Int("deposits", report.Deposits),
		zap.Int("failed", report.Failed))
	return report, nil
}

// Reconciler resolves one PROCESSING withdrawal.
type Reconciler interface {
	Reconcile(ctx context.Context, txID string) (withdrawal.Outcome, error)
}

// DepositPoller resolves one PENDING deposit.
type DepositPoller interface {
	PollOne(ctx context.Context, txID string) (settlement.Result, error)
}

// ErrUnknownJob is returned for a job kind the runner does not handle.
var ErrUnknownJob = errors.New("unknown job kind")

// Runner executes jobs taken off the queue.
type Runner struct {
	Withdrawals Reconciler
	Deposits    DepositPoller
	Logger      *zap.Logger
}

// Run executes one job. Jobs for transactions that were already resolved or no
// longer exist succeed, so the queue does not redeliver them.
func (r *Runner) Run(ctx context.Context, job Job) error {
	logger := r.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	log := logger.With(zap.String("kind", string(job.Kind)), zap.String("transaction_id", job.TransactionID))

	var err error
	switch job.Kind {
	case JobReconcileWithdrawal:
		var outcome withdrawal.Outcome
		outcome, err = r.Withdrawals.Reconcile(ctx, job.TransactionID)
		if err == nil {
			log.Info("withdrawal reconciled", zap.String("outcome", string(outcome)))
		}
	case JobPollDeposit:
		var result settlement.Result
		result, err = r.Deposits.PollOne(ctx, job.TransactionID)
		if err == nil {
			log.Info("deposit polled", zap.String("result", string(result)))
		}
	default:
		return fmt.Errorf("%s: %w", job.Kind, ErrUnknownJob)
	}

	if errors.Is(err, storage.ErrInvalidState) || errors.Is(err, storage.ErrNotFound) {
		log.Info("job no longer applies", zap.Error(err))
		return nil
	}
	return err
}
