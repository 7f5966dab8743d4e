// Package stripe verifies Stripe webhook events and opens card payment intents.
package stripe

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/chris/cash-settlement/pkg/models"
	"github.com/chris/cash-settlement/pkg/providers"
	"github.com/shopspring/decimal"
	stripeapi "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/paymentintent"
	"github.com/stripe/stripe-go/v82/webhook"
	"go.uber.org/zap"
)

// Name is the registry key of this provider.
const Name = "stripe"

const (
	// SignatureHeader carries "t=<unix>,v1=<hex>".
	SignatureHeader = "Stripe-Signature"

	// DefaultTolerance bounds the age of a signed timestamp.
	DefaultTolerance = 5 * time.Minute
)

var minorUnits = decimal.NewFromInt(100)

// Config holds the account keys. BaseURL overrides the Stripe API host.
type Config struct {
	BaseURL       string
	SecretKey     string
	WebhookSecret string
	Currency      string
	Tolerance     time.Duration
	Logger        *zap.Logger
}

// Adapter implements the Stripe integration.
type Adapter struct {
	cfg     Config
	intents paymentintent.Client
}

var (
	_ providers.Adapter   = (*Adapter)(nil)
	_ providers.Poller    = (*Adapter)(nil)
	_ providers.Initiator = (*Adapter)(nil)
)

// New creates an Adapter.
func New(cfg Config) *Adapter {
	if cfg.Currency == "" {
		cfg.Currency = "usd"
	}
	if cfg.Tolerance == 0 {
		cfg.Tolerance = DefaultTolerance
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	backendCfg := &stripeapi.BackendConfig{
		HTTPClient:        &http.Client{Timeout: 15 * time.Second},
		LeveledLogger:     cfg.Logger.Sugar(),
		MaxNetworkRetries: stripeapi.Int64(2),
	}
	if cfg.BaseURL != "" {
		backendCfg.URL = stripeapi.String(cfg.BaseURL)
	}
	backend := stripeapi.GetBackendWithConfig(stripeapi.APIBackend, backendCfg)

	return &Adapter{
		cfg:     cfg,
		intents: paymentintent.Client{B: backend, Key: cfg.SecretKey},
	}
}

// Ref returns the external ref for a payment intent id.
func Ref(intentID string) string {
	return Name + ":" + intentID
}

func (a *Adapter) Name() string { return Name }

func (a *Adapter) SignatureFrom(h http.Header) string { return h.Get(SignatureHeader) }

// Verify checks the v1 signatures in the header and rejects timestamps
// outside the tolerance.
func (a *Adapter) Verify(payload []byte, signature string) error {
	if err := webhook.ValidatePayloadWithTolerance(payload, signature, a.cfg.WebhookSecret, a.cfg.Tolerance); err != nil {
		return fmt.Errorf("%w: %v", providers.ErrAuthentication, err)
	}
	return nil
}

// Normalize maps payment intent events. Other event types normalize to PENDING
// so they are acknowledged without effect.
func (a *Adapter) Normalize(payload []byte) (*models.SettlementEvent, error) {
	var e stripeapi.Event
	if err := json.Unmarshal(payload, &e); err != nil {
		return nil, fmt.Errorf("%w: %v", providers.ErrMalformedPayload, err)
	}
	if e.Data == nil {
		return nil, fmt.Errorf("%w: missing event data", providers.ErrMalformedPayload)
	}
	var pi stripeapi.PaymentIntent
	if err := json.Unmarshal(e.Data.Raw, &pi); err != nil {
		return nil, fmt.Errorf("%w: %v", providers.ErrMalformedPayload, err)
	}
	if pi.ID == "" {
		return nil, fmt.Errorf("%w: missing payment intent", providers.ErrMalformedPayload)
	}

	outcome := models.OutcomePending
	switch e.Type {
	case stripeapi.EventTypePaymentIntentSucceeded:
		outcome = models.OutcomeConfirmed
	case stripeapi.EventTypePaymentIntentPaymentFailed:
		outcome = models.OutcomeFailed
	}
	accountID := pi.Metadata["account_id"]
	if accountID == "" && outcome != models.OutcomePending {
		return nil, fmt.Errorf("%w: missing metadata.account_id", providers.ErrMalformedPayload)
	}

	return &models.SettlementEvent{
		Provider:    Name,
		ExternalRef: Ref(pi.ID),
		AccountID:   accountID,
		Amount:      decimal.NewFromInt(pi.Amount).Div(minorUnits),
		Outcome:     outcome,
	}, nil
}

// CreatePayment opens a payment intent tagged with the account id.
func (a *Adapter) CreatePayment(ctx context.Context, req providers.PaymentRequest) (*providers.PaymentIntent, error) {
	currency := req.Currency
	if currency == "" {
		currency = a.cfg.Currency
	}
	minor := req.Amount.Mul(minorUnits).Round(0)

	params := &stripeapi.PaymentIntentParams{
		Amount:   stripeapi.Int64(minor.IntPart()),
		Currency: stripeapi.String(strings.ToLower(currency)),
		AutomaticPaymentMethods: &stripeapi.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripeapi.Bool(true),
		},
	}
	params.Context = ctx
	params.AddMetadata("account_id", req.AccountID)
	if req.Description != "" {
		params.Description = stripeapi.String(req.Description)
	}

	pi, err := a.intents.New(params)
	if err != nil {
		return nil, fmt.Errorf("failed to create payment intent: %w", err)
	}

	return &providers.PaymentIntent{
		ExternalRef: Ref(pi.ID),
		QRCode:      pi.ClientSecret,
		PayAmount:   req.Amount.String(),
		PayCurrency: strings.ToUpper(currency),
	}, nil
}

// PollStatus reads a payment intent.
func (a *Adapter) PollStatus(ctx context.Context, externalRef string) (*models.SettlementEvent, error) {
	id := strings.TrimPrefix(externalRef, Name+":")
	params := &stripeapi.PaymentIntentParams{}
	params.Context = ctx
	pi, err := a.intents.Get(id, params)
	if err != nil {
		return nil, fmt.Errorf("failed to get payment intent %s: %w", id, err)
	}

	outcome := models.OutcomePending
	switch pi.Status {
	case stripeapi.PaymentIntentStatusSucceeded:
		outcome = models.OutcomeConfirmed
	case stripeapi.PaymentIntentStatusCanceled:
		outcome = models.OutcomeFailed
	}

	return &models.SettlementEvent{
		Provider:    Name,
		ExternalRef: externalRef,
		AccountID:   pi.Metadata["account_id"],
		Amount:      decimal.NewFromInt(pi.Amount).Div(minorUnits),
		Outcome:     outcome,
	}, nil
}
