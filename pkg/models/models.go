package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// TransactionKind defines what kind of balance effect a transaction has.
type TransactionKind string

const (
	DEPOSIT    TransactionKind = "DEPOSIT"
	WITHDRAW   TransactionKind = "WITHDRAW"
	INTEREST   TransactionKind = "INTEREST"
	COMMISSION TransactionKind = "COMMISSION"
)

// TransactionStatus defines the possible states of a transaction.
type TransactionStatus string

const (
	PENDING    TransactionStatus = "PENDING"
	PROCESSING TransactionStatus = "PROCESSING"
	COMPLETED  TransactionStatus = "COMPLETED"
	FAILED     TransactionStatus = "FAILED"
)

// IsTerminal reports whether no further transition is allowed out of s.
func (s TransactionStatus) IsTerminal() bool {
	return s == COMPLETED || s == FAILED
}

// Well-known metadata keys.
const (
	MetaDestination     = "destination"
	MetaCurrency        = "currency"
	MetaFee             = "fee"
	MetaFeePercent      = "fee_percent"
	MetaReason          = "reason"
	MetaCompensates     = "compensates"
	MetaApprovedBy      = "approved_by"
	MetaRejectedBy      = "rejected_by"
	MetaProvider        = "provider"
	MetaMethod          = "method"
	MetaPeriod          = "period"
	MetaReferredAccount = "referred_account"
	MetaSourceDeposit   = "source_deposit"
	MetaPayoutUnknown   = "payout_unknown"
)

// Transaction is a single row of the transaction log. Amount and Kind never
// change after creation.
type Transaction struct {
	ID          string            `json:"id"`
	AccountID   string            `json:"account_id"`
	Kind        TransactionKind   `json:"kind"`
	Amount      decimal.Decimal   `json:"amount"`
	Status      TransactionStatus `json:"status"`
	ExternalRef string            `json:"external_ref,omitempty"`
	PayoutRef   string            `json:"payout_ref,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Version     int64             `json:"version"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// IsCompensation reports whether the transaction is a refund of a failed withdrawal.
func (t *Transaction) IsCompensation() bool {
	return t.Metadata[MetaCompensates] != ""
}

// Clone returns a deep copy of the transaction.
func (t Transaction) Clone() Transaction {
	if t.Metadata != nil {
		md := make(map[string]string, len(t.Metadata))
		for k, v := range t.Metadata {
			md[k] = v
		}
		t.Metadata = md
	}
	return t
}

// ChannelKind names a notification transport.
type ChannelKind string

const (
	ChannelWebSocket ChannelKind = "websocket"
	ChannelTelegram  ChannelKind = "telegram"
)

// NotificationChannel is where an account wants its messages delivered.
type NotificationChannel struct {
	Kind    ChannelKind `json:"kind"`
	Address string      `json:"address,omitempty"`
}

// Account holds the single cash balance of a user.
type Account struct {
	ID                  string               `json:"id"`
	Balance             decimal.Decimal      `json:"balance"`
	ReferrerID          string               `json:"referrer_id,omitempty"`
	NotificationChannel *NotificationChannel `json:"notification_channel,omitempty"`
	CreatedAt           time.Time            `json:"created_at"`
	UpdatedAt           time.Time            `json:"updated_at"`
}

// Outcome is the normalized result a payment provider reports for an event.
type Outcome string

const (
	OutcomeConfirmed Outcome = "CONFIRMED"
	OutcomeFailed    Outcome = "FAILED"
	OutcomePending   Outcome = "PENDING"
)

// SettlementEvent is the provider-independent form of a deposit notification.
type SettlementEvent struct {
	Provider    string          `json:"provider"`
	ExternalRef string          `json:"external_ref"`
	AccountID   string          `json:"account_id"`
	Amount      decimal.Decimal `json:"amount"`
	Outcome     Outcome         `json:"outcome"`
}

// Transition is an outbox row recording that a transaction was created or
// changed status. It is written in the same atomic unit as the change.
type Transition struct {
	ID            string            `json:"id"`
	TransactionID string            `json:"transaction_id"`
	AccountID     string            `json:"account_id"`
	Kind          TransactionKind   `json:"kind"`
	Status        TransactionStatus `json:"status"`
	Amount        decimal.Decimal   `json:"amount"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	OccurredAt    time.Time         `json:"occurred_at"`
	Dispatched    bool              `json:"dispatched"`
	// Attempts counts failed deliveries.
	Attempts int `json:"attempts"`
}

// TransitionID returns the outbox key for the given version of a transaction.
func TransitionID(txID string, version int64) string {
	return fmt.Sprintf("%s#%d", txID, version)
}

// NewTransition builds the outbox row for the current state of tx.
func NewTransition(tx *Transaction) Transition {
	c := tx.Clone()
	return Transition{
		ID:            TransitionID(tx.ID, tx.Version),
		TransactionID: tx.ID,
		AccountID:     tx.AccountID,
		Kind:          tx.Kind,
		Status:        tx.Status,
		Amount:        tx.Amount,
		Metadata:      c.Metadata,
		OccurredAt:    tx.UpdatedAt,
	}
}

// SystemConfig is the admin-tunable runtime configuration.
type SystemConfig struct {
	InterestRatePercent  decimal.Decimal `json:"interest_rate_percent"`
	WithdrawalFeePercent decimal.Decimal `json:"withdrawal_fee_percent"`
	UpdatedAt            time.Time       `json:"updated_at"`
	UpdatedBy            string          `json:"updated_by,omitempty"`
}
