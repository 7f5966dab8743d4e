package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/chris/cash-settlement/pkg/metrics"
	"github.com/chris/cash-settlement/pkg/models"
	"github.com/chris/cash-settlement/pkg/storage"
	"go.uber.org/zap"
)

// AccountReader resolves where an account wants to be notified.
type AccountReader interface {
	GetAccount(ctx context.Context, accountID string) (*models.Account, error)
}

// DrainReport summarises one Drain.
type DrainReport struct {
	Read       int `json:"read"`
	Sent       int `json:"sent"`
	Skipped    int `json:"skipped"`
	Duplicates int `json:"duplicates"`
	Failed     int `json:"failed"`
	// Undeliverable counts transitions dropped after a permanent send error or
	// too many failed attempts.
	Undeliverable int `json:"undeliverable"`
}

// DefaultMaxAttempts is how many failed sends a transition gets before it is
// dropped.
const DefaultMaxAttempts = 5

// Dispatcher delivers outbox transitions. Delivery is at least once towards the
// outbox and deduplicated on (transaction, status) towards the user.
type Dispatcher struct {
	outbox    storage.OutboxStore
	accounts  AccountReader
	sender    Sender
	dedupe    Deduper
	batchSize int32
	// MaxAttempts bounds the failed sends of one transition.
	MaxAttempts int
	metrics     *metrics.Metrics
	logger      *zap.Logger
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(outbox storage.OutboxStore, accounts AccountReader, sender Sender, dedupe Deduper, m *metrics.Metrics, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if dedupe == nil {
		dedupe = NewMemoryDeduper()
	}
	return &Dispatcher{
		outbox:      outbox,
		accounts:    accounts,
		sender:      sender,
		dedupe:      dedupe,
		batchSize:   100,
		MaxAttempts: DefaultMaxAttempts,
		metrics:     m,
		logger:      logger,
	}
}

// Drain handles undispatched transitions until the end of the outbox. A failed
// send stays in the outbox for the next Drain and the page cursor moves past it,
// so one stuck transition never holds back the ones after it.
func (d *Dispatcher) Drain(ctx context.Context) (DrainReport, error) {
	var (
		report DrainReport
		after  *models.Transition
	)
	for {
		page, err := d.outbox.ListUndispatched(ctx, after, d.batchSize)
		if err != nil {
			return report, fmt.Errorf("failed to list outbox: %w", err)
		}
		if len(page) == 0 {
			return report, nil
		}

		for _, tr := range page {
			if ctx.Err() != nil {
				return report, ctx.Err()
			}
			report.Read++
			outcome := d.handle(ctx, tr)
			switch outcome {
			case "sent":
				report.Sent++
			case "skipped":
				report.Skipped++
			case "duplicate":
				report.Duplicates++
			case "undeliverable":
				report.Undeliverable++
			default:
				report.Failed++
				if !d.retryLater(ctx, tr) {
					continue
				}
				report.Undeliverable++
			}

			if err := d.outbox.MarkDispatched(ctx, tr.ID); err != nil && !errors.Is(err, storage.ErrNotFound) {
				d.logger.Error("failed to mark transition dispatched", zap.String("transition_id", tr.ID), zap.Error(err))
			}
		}

		after = &page[len(page)-1]
		if int32(len(page)) < d.batchSize {
			return report, nil
		}
	}
}

// retryLater counts a failed send. It reports true once the transition has
// used up its attempts and should be dropped.
func (d *Dispatcher) retryLater(ctx context.Context, tr models.Transition) bool {
	attempts, err := d.outbox.RecordAttempt(ctx, tr.ID)
	if err != nil {
		d.logger.Warn("failed to record delivery attempt", zap.String("transition_id", tr.ID), zap.Error(err))
		return false
	}
	if attempts < d.MaxAttempts {
		return false
	}
	d.logger.Error("notification dropped after repeated failures",
		zap.String("alert", "dead_letter"),
		zap.String("transition_id", tr.ID),
		zap.String("account_id", tr.AccountID),
		zap.Int("attempts", attempts))
	d.metrics.Notification("unknown", "dead_letter")
	return true
}

func (d *Dispatcher) handle(ctx context.Context, tr models.Transition) string {
	log := d.logger.With(zap.String("transition_id", tr.ID), zap.String("account_id", tr.AccountID))

	msg, ok := Render(tr)
	if !ok {
		return "skipped"
	}

	account, err := d.accounts.GetAccount(ctx, tr.AccountID)
	if errors.Is(err, storage.ErrNotFound) {
		return "skipped"
	}
	if err != nil {
		log.Warn("failed to load account for notification", zap.Error(err))
		return "failed"
	}
	channel := account.NotificationChannel
	if channel == nil || channel.Kind == "" {
		return "skipped"
	}

	claimed, err := d.dedupe.Claim(ctx, tr.TransactionID, tr.Status)
	if err != nil {
		log.Warn("failed to claim notification", zap.Error(err))
		return "failed"
	}
	if !claimed {
		d.metrics.Notification(string(channel.Kind), "duplicate")
		return "duplicate"
	}

	if err := d.sender.Send(ctx, *channel, msg); err != nil {
		if errors.Is(err, ErrUndeliverable) {
			// The claim is kept: this transition is done either way.
			log.Warn("skipped_undeliverable", zap.String("channel", string(channel.Kind)), zap.Error(err))
			d.metrics.Notification(string(channel.Kind), "undeliverable")
			return "undeliverable"
		}
		if rerr := d.dedupe.Release(ctx, tr.TransactionID, tr.Status); rerr != nil {
			log.Warn("failed to release notification claim", zap.Error(rerr))
		}
		log.Warn("failed to send notification", zap.String("channel", string(channel.Kind)), zap.Error(err))
		d.metrics.Notification(string(channel.Kind), "error")
		return "failed"
	}

	d.metrics.Notification(string(channel.Kind), "sent")
	return "sent"
}
