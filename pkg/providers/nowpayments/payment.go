package nowpayments

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/chris/cash-settlement/pkg/models"
	"github.com/chris/cash-settlement/pkg/providers"
)

// CreatePayment opens a crypto deposit. The account id travels as order_id and
// comes back on every IPN.
func (c *Client) CreatePayment(ctx context.Context, req providers.PaymentRequest) (*providers.PaymentIntent, error) {
	in := map[string]interface{}{
		"price_amount":      req.Amount.InexactFloat64(),
		"price_currency":    c.cfg.PriceCurrency,
		"pay_currency":      c.cfg.PayCurrency,
		"order_id":          req.AccountID,
		"order_description": req.Description,
	}
	if c.cfg.IPNCallbackURL != "" {
		in["ipn_callback_url"] = c.cfg.IPNCallbackURL
	}

	var res paymentStatus
	if err := c.do(ctx, http.MethodPost, "/v1/payment", "", in, &res); err != nil {
		return nil, fmt.Errorf("failed to create payment: %w", err)
	}
	if res.PaymentID == "" {
		return nil, fmt.Errorf("%w: payment id missing from response", providers.ErrMalformedPayload)
	}

	return &providers.PaymentIntent{
		ExternalRef: Ref(res.PaymentID.String()),
		PayAddress:  res.PayAddress,
		PayAmount:   res.PayAmount.String(),
		PayCurrency: res.PayCurrency,
	}, nil
}

// PollStatus reads the payment status for a ref produced by Ref.
func (c *Client) PollStatus(ctx context.Context, externalRef string) (*models.SettlementEvent, error) {
	paymentID := strings.TrimPrefix(externalRef, Name+":")
	var res paymentStatus
	if err := c.do(ctx, http.MethodGet, "/v1/payment/"+url.PathEscape(paymentID), "", nil, &res); err != nil {
		return nil, fmt.Errorf("failed to get payment status: %w", err)
	}
	return res.event()
}
