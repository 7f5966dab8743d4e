// Package payout defines the contract for external payout providers.
package payout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrProviderTransient means the request was not accepted and may be retried.
	ErrProviderTransient = errors.New("payout provider temporarily unavailable")

	// ErrProviderPermanent means the provider refused the request for good.
	ErrProviderPermanent = errors.New("payout provider rejected the request")

	// ErrProviderUnknown means the outcome is ambiguous, e.g. a timeout after the
	// request was sent. The payout may or may not exist.
	ErrProviderUnknown = errors.New("payout outcome unknown")
)

// Status is the provider-reported state of a payout.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusFinished Status = "FINISHED"
	StatusRejected Status = "REJECTED"
	StatusFailed   Status = "FAILED"
)

// Request describes one outbound payout.
type Request struct {
	Destination string
	Amount      decimal.Decimal
	Currency    string
	// IdempotencyKey is the withdrawal id. Providers must not create a second
	// payout for a key they have already seen.
	IdempotencyKey string
}

// Adapter creates payouts and reports their status.
//
//go:generate mockery --name Adapter --output ./mocks
type Adapter interface {
	CreatePayout(ctx context.Context, req Request) (string, error)
	GetPayoutStatus(ctx context.Context, payoutRef string) (Status, error)
}

// Lookup is implemented by adapters that can find a payout by idempotency key,
// which resolves requests whose response was lost. since is when the payout
// could first have been created; a payout is never older than that. A false
// found with a nil error means the provider has no such payout.
//
//go:generate mockery --name Lookup --output ./mocks
type Lookup interface {
	LookupPayout(ctx context.Context, idempotencyKey string, since time.Time) (payoutRef string, found bool, err error)
}

// Disabled is the Adapter used when no payout provider is configured. Every call
// is transient, so approvals put the withdrawal back to PENDING.
type Disabled struct{}

func (Disabled) CreatePayout(context.Context, Request) (string, error) {
	return "", fmt.Errorf("%w: no payout provider configured", ErrProviderTransient)
}

func (Disabled) GetPayoutStatus(context.Context, string) (Status, error) {
	return "", fmt.Errorf("%w: no payout provider configured", ErrProviderTransient)
}
