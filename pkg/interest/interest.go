// Package interest distributes the monthly interest rate as daily credits.
package interest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chris/cash-settlement/pkg/ledger"
	"github.com/chris/cash-settlement/pkg/metrics"
	"github.com/chris/cash-settlement/pkg/models"
	"github.com/chris/cash-settlement/pkg/storage"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	daysPerMonth = decimal.NewFromInt(30)
	hundred      = decimal.NewFromInt(100)
)

// Store is the storage surface the job needs.
type Store interface {
	storage.ConfigStore
	ListFundedAccounts(ctx context.Context) ([]models.Account, error)
}

// Options tunes the job.
type Options struct {
	// Workers bounds the number of accounts credited concurrently.
	Workers      int
	MinUnitScale int32
}

// Failure records an account the run could not credit.
type Failure struct {
	AccountID string `json:"account_id"`
	Error     string `json:"error"`
}

// Report summarises one run.
type Report struct {
	Period           string          `json:"period"`
	Processed        int             `json:"processed"`
	Skipped          int             `json:"skipped"`
	AlreadyApplied   int             `json:"already_applied"`
	TotalDistributed decimal.Decimal `json:"total_distributed"`
	Failures         []Failure       `json:"failures,omitempty"`
}

// Job credits interest to every funded account.
type Job struct {
	ledger  *ledger.Ledger
	store   Store
	opts    Options
	metrics *metrics.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

// New creates a Job.
func New(l *ledger.Ledger, store Store, opts Options, m *metrics.Metrics, logger *zap.Logger) *Job {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Workers <= 0 {
		opts.Workers = 8
	}
	if opts.MinUnitScale == 0 {
		opts.MinUnitScale = 8
	}
	return &Job{ledger: l, store: store, opts: opts, metrics: m, logger: logger, now: time.Now}
}

// Period returns the period key of a daily run at t.
func Period(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// Ref is the external ref of the interest credit of one account in one period.
func Ref(period, accountID string) string {
	return fmt.Sprintf("interest:%s:%s", period, accountID)
}

// Amount computes one day of interest on balance at the monthly rate, rounded to
// scale decimal places.
func Amount(balance, monthlyRatePercent decimal.Decimal, scale int32) decimal.Decimal {
	return balance.Mul(monthlyRatePercent).Div(daysPerMonth).Div(hundred).Round(scale)
}

// Run credits interest for period. Running it again for the same period credits
// nothing: every account's credit is keyed on the period.
func (j *Job) Run(ctx context.Context, period string) (*Report, error) {
	if period == "" {
		period = Period(j.now())
	}
	cfg, err := j.store.GetSystemConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read system config: %w", err)
	}
	accounts, err := j.store.ListFundedAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list funded accounts: %w", err)
	}

	report := &Report{Period: period, TotalDistributed: decimal.Zero}
	if !cfg.InterestRatePercent.IsPositive() {
		report.Skipped = len(accounts)
		j.logger.Info("interest rate is zero, nothing to distribute", zap.String("period", period))
		return report, nil
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(j.opts.Workers)

	for _, account := range accounts {
		account := account
		g.Go(func() error {
			amount := Amount(account.Balance, cfg.InterestRatePercent, j.opts.MinUnitScale)
			result, err := j.credit(gctx, period, account.ID, amount, cfg.InterestRatePercent)

			mu.Lock()
			defer mu.Unlock()
			switch result {
			case "credited":
				report.Processed++
				report.TotalDistributed = report.TotalDistributed.Add(amount)
			case "skipped":
				report.Skipped++
			case "duplicate":
				report.AlreadyApplied++
			default:
				report.Failures = append(report.Failures, Failure{AccountID: account.ID, Error: err.Error()})
			}
			j.metrics.InterestCredit(result)
			// Never fail the group: one account must not cancel the others.
			return nil
		})
	}
	_ = g.Wait()

	j.metrics.InterestRun(float64(j.now().Unix()))
	j.logger.Info("interest distributed",
		zap.String("period", period),
		zap.Int("processed", report.Processed),
		zap.Int("skipped", report.Skipped),
		zap.Int("already_applied", report.AlreadyApplied),
		zap.Int("failures", len(report.Failures)),
		zap.String("total", report.TotalDistributed.String()))
	return report, nil
}

func (j *Job) credit(ctx context.Context, period, accountID string, amount, rate decimal.Decimal) (string, error) {
	if !amount.IsPositive() {
		return "skipped", nil
	}
	_, err := j.ledger.Credit(ctx, accountID, amount, ledger.Entry{
		Kind:        models.INTEREST,
		ExternalRef: Ref(period, accountID),
		Metadata: map[string]string{
			models.MetaPeriod: period,
			"rate_percent":    rate.String(),
		},
	})
	switch {
	case errors.Is(err, storage.ErrDuplicateEvent):
		return "duplicate", nil
	case err != nil:
		j.logger.Error("failed to credit interest", zap.String("account_id", accountID), zap.Error(err))
		return "error", err
	}
	return "credited", nil
}
