package nowpayments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/chris/cash-settlement/pkg/payout"
	"github.com/pquerna/otp/totp"
)

var (
	_ payout.Adapter = (*Client)(nil)
	_ payout.Lookup  = (*Client)(nil)
)

type withdrawal struct {
	ID               string `json:"id"`
	BatchID          string `json:"batch_withdrawal_id"`
	Address          string `json:"address"`
	Currency         string `json:"currency"`
	Amount           string `json:"amount"`
	Status           string `json:"status"`
	UniqueExternalID string `json:"unique_external_id"`
	CreatedAt        string `json:"created_at"`
}

const (
	lookupPageSize = 100
	maxLookupPages = 50
	// lookupSlack widens the search window for clock skew between us and the provider.
	lookupSlack = time.Hour
)

type batch struct {
	ID          string       `json:"id"`
	Withdrawals []withdrawal `json:"withdrawals"`
}

// CreatePayout submits a single-withdrawal batch. unique_external_id carries the
// idempotency key, so a retried request cannot pay twice.
func (c *Client) CreatePayout(ctx context.Context, req payout.Request) (string, error) {
	token, err := c.authToken(ctx)
	if err != nil {
		return "", classify(err)
	}

	currency := req.Currency
	if currency == "" {
		currency = c.cfg.PayCurrency
	}
	item := map[string]interface{}{
		"address":            req.Destination,
		"currency":           strings.ToLower(currency),
		"amount":             json.RawMessage(req.Amount.String()),
		"unique_external_id": req.IdempotencyKey,
	}
	if c.cfg.IPNCallbackURL != "" {
		item["ipn_callback_url"] = c.cfg.IPNCallbackURL
	}
	in := map[string]interface{}{"withdrawals": []interface{}{item}}

	var res batch
	if err := c.do(ctx, http.MethodPost, "/v1/payout", token, in, &res); err != nil {
		return "", classify(err)
	}
	if res.ID == "" {
		return "", fmt.Errorf("%w: payout id missing from response", payout.ErrProviderUnknown)
	}

	if err := c.verifyBatch(ctx, token, res.ID); err != nil {
		// The batch exists; Reconcile resolves it through LookupPayout.
		return "", fmt.Errorf("%w: verify batch %s: %v", payout.ErrProviderUnknown, res.ID, err)
	}
	return res.ID, nil
}

// verifyBatch confirms a batch with the account's TOTP code when 2FA is enabled.
func (c *Client) verifyBatch(ctx context.Context, token, batchID string) error {
	if c.cfg.TwoFactorSecret == "" {
		return nil
	}
	code, err := totp.GenerateCode(c.cfg.TwoFactorSecret, c.now())
	if err != nil {
		return fmt.Errorf("failed to generate verification code: %w", err)
	}
	in := map[string]string{"verification_code": code}
	return c.do(ctx, http.MethodPost, "/v1/payout/"+url.PathEscape(batchID)+"/verify", token, in, nil)
}

// GetPayoutStatus reads the status of the withdrawal in a batch.
func (c *Client) GetPayoutStatus(ctx context.Context, payoutRef string) (payout.Status, error) {
	token, err := c.authToken(ctx)
	if err != nil {
		return "", classify(err)
	}

	var res []withdrawal
	if err := c.do(ctx, http.MethodGet, "/v1/payout/"+url.PathEscape(payoutRef), token, nil, &res); err != nil {
		var apiErr *apiError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
			return "", fmt.Errorf("%w: payout %s not found", payout.ErrProviderTransient, payoutRef)
		}
		return "", classify(err)
	}
	if len(res) == 0 {
		return payout.StatusPending, nil
	}
	return payoutStatus(res[0].Status), nil
}

// LookupPayout pages through payouts, newest first, for one carrying the
// idempotency key. It stops at the first payout created before since.
func (c *Client) LookupPayout(ctx context.Context, idempotencyKey string, since time.Time) (string, bool, error) {
	token, err := c.authToken(ctx)
	if err != nil {
		return "", false, classify(err)
	}

	var cutoff time.Time
	if !since.IsZero() {
		cutoff = since.Add(-lookupSlack).UTC()
	}
	for page := 0; page < maxLookupPages; page++ {
		q := url.Values{
			"limit":    {strconv.Itoa(lookupPageSize)},
			"page":     {strconv.Itoa(page)},
			"order":    {"desc"},
			"order_by": {"created_at"},
		}
		if !cutoff.IsZero() {
			q.Set("date_from", cutoff.Format(time.RFC3339))
		}

		var res struct {
			Payouts []withdrawal `json:"payouts"`
		}
		if err := c.do(ctx, http.MethodGet, "/v1/payout?"+q.Encode(), token, nil, &res); err != nil {
			return "", false, classify(err)
		}
		for _, w := range res.Payouts {
			if w.UniqueExternalID == idempotencyKey {
				return w.BatchID, true, nil
			}
		}
		if len(res.Payouts) < lookupPageSize {
			return "", false, nil
		}
		last := res.Payouts[len(res.Payouts)-1]
		if created, err := time.Parse(time.RFC3339Nano, last.CreatedAt); err == nil && !cutoff.IsZero() && created.Before(cutoff) {
			return "", false, nil
		}
	}
	// Too many payouts to be sure; report unavailable rather than absent.
	return "", false, fmt.Errorf("%w: lookup of %s exceeded %d pages", payout.ErrProviderTransient, idempotencyKey, maxLookupPages)
}

func payoutStatus(s string) payout.Status {
	switch strings.ToUpper(s) {
	case "FINISHED":
		return payout.StatusFinished
	case "REJECTED":
		return payout.StatusRejected
	case "FAILED":
		return payout.StatusFailed
	default:
		return payout.StatusPending
	}
}
