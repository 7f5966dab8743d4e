// Package notify turns committed ledger transitions into user notifications.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chris/cash-settlement/pkg/models"
	"github.com/shopspring/decimal"
)

var (
	// ErrUndeliverable marks a send that can never succeed, such as a chat that
	// blocked the bot. The dispatcher drops the transition instead of retrying.
	ErrUndeliverable = errors.New("notification undeliverable")

	// ErrNoSender is returned when no sender is registered for a channel kind.
	ErrNoSender = fmt.Errorf("%w: no sender for channel", ErrUndeliverable)
)

// Message is what the user is told about one transition.
type Message struct {
	AccountID     string                   `json:"account_id"`
	TransactionID string                   `json:"transaction_id"`
	Kind          models.TransactionKind   `json:"kind"`
	Status        models.TransactionStatus `json:"status"`
	Amount        decimal.Decimal          `json:"amount"`
	Title         string                   `json:"title"`
	Body          string                   `json:"body"`
	OccurredAt    time.Time                `json:"occurred_at"`
}

// Text renders the message as plain text.
func (m Message) Text() string {
	return m.Title + "\n" + m.Body
}

// Sender delivers a message over one channel.
//
//go:generate mockery --name Sender --output ./mocks
type Sender interface {
	Send(ctx context.Context, channel models.NotificationChannel, msg Message) error
}

// Router sends each message through the sender registered for its channel kind.
type Router struct {
	senders map[models.ChannelKind]Sender
}

// NewRouter creates an empty Router.
func NewRouter() *Router {
	return &Router{senders: make(map[models.ChannelKind]Sender)}
}

// Handle registers s for kind.
func (r *Router) Handle(kind models.ChannelKind, s Sender) *Router {
	r.senders[kind] = s
	return r
}

func (r *Router) Send(ctx context.Context, channel models.NotificationChannel, msg Message) error {
	s, ok := r.senders[channel.Kind]
	if !ok {
		return fmt.Errorf("%s: %w", channel.Kind, ErrNoSender)
	}
	return s.Send(ctx, channel, msg)
}

// Render builds the message for a transition. It reports false for transitions
// the user is not told about.
func Render(tr models.Transition) (Message, bool) {
	msg := Message{
		AccountID:     tr.AccountID,
		TransactionID: tr.TransactionID,
		Kind:          tr.Kind,
		Status:        tr.Status,
		Amount:        tr.Amount,
		OccurredAt:    tr.OccurredAt,
	}
	amount := tr.Amount.String()

	switch {
	case tr.Kind == models.DEPOSIT && tr.Status == models.COMPLETED:
		// Refunds are announced by the failed withdrawal they belong to.
		if tr.Metadata[models.MetaCompensates] != "" {
			return Message{}, false
		}
		msg.Title = "Deposit completed"
		msg.Body = fmt.Sprintf("%s has been added to your balance.", amount)
	case tr.Kind == models.WITHDRAW && tr.Status == models.COMPLETED:
		msg.Title = "Withdrawal completed"
		msg.Body = fmt.Sprintf("Your withdrawal of %s has been sent.", amount)
	case tr.Kind == models.WITHDRAW && tr.Status == models.FAILED:
		msg.Title = "Withdrawal failed"
		msg.Body = fmt.Sprintf("Your withdrawal of %s was not completed and has been refunded.", amount)
		if reason := tr.Metadata[models.MetaReason]; reason != "" {
			msg.Body += " Reason: " + reason
		}
	case tr.Kind == models.INTEREST && tr.Status == models.COMPLETED:
		msg.Title = "Interest credited"
		msg.Body = fmt.Sprintf("You earned %s in interest.", amount)
	case tr.Kind == models.COMMISSION && tr.Status == models.COMPLETED:
		msg.Title = "Referral commission credited"
		msg.Body = fmt.Sprintf("You earned %s from a referral.", amount)
	default:
		return Message{}, false
	}
	return msg, true
}
