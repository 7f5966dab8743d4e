package nowpayments

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/chris/cash-settlement/pkg/models"
	"github.com/chris/cash-settlement/pkg/providers"
	"github.com/shopspring/decimal"
)

// Name is the registry key of this provider.
const Name = "nowpayments"

// SignatureHeader carries the IPN signature.
const SignatureHeader = "x-nowpayments-sig"

var (
	_ providers.Adapter   = (*Client)(nil)
	_ providers.Poller    = (*Client)(nil)
	_ providers.Initiator = (*Client)(nil)
)

// paymentStatus is the subset of an IPN body or payment status response we use.
type paymentStatus struct {
	PaymentID     json.Number `json:"payment_id"`
	PaymentStatus string      `json:"payment_status"`
	OrderID       string      `json:"order_id"`
	PriceAmount   json.Number `json:"price_amount"`
	PriceCurrency string      `json:"price_currency"`
	PayAddress    string      `json:"pay_address"`
	PayAmount     json.Number `json:"pay_amount"`
	PayCurrency   string      `json:"pay_currency"`
}

// Ref returns the external ref for a NOWPayments payment id.
func Ref(paymentID string) string {
	return Name + ":" + paymentID
}

func (c *Client) Name() string { return Name }

func (c *Client) SignatureFrom(header http.Header) string {
	return header.Get(SignatureHeader)
}

// Verify checks the HMAC-SHA512 of the body re-serialized with sorted keys.
func (c *Client) Verify(payload []byte, signature string) error {
	canonical, err := sortedJSON(payload)
	if err != nil {
		return providers.ErrAuthentication
	}
	return providers.VerifyHex(providers.SHA512, c.cfg.IPNSecret, canonical, signature)
}

// Normalize maps an IPN body onto a SettlementEvent.
func (c *Client) Normalize(payload []byte) (*models.SettlementEvent, error) {
	var p paymentStatus
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("%w: %v", providers.ErrMalformedPayload, err)
	}
	return p.event()
}

func (p paymentStatus) event() (*models.SettlementEvent, error) {
	if p.PaymentID == "" || p.OrderID == "" {
		return nil, fmt.Errorf("%w: missing payment_id or order_id", providers.ErrMalformedPayload)
	}
	amount, err := decimal.NewFromString(p.PriceAmount.String())
	if err != nil {
		return nil, fmt.Errorf("%w: price_amount: %v", providers.ErrMalformedPayload, err)
	}
	return &models.SettlementEvent{
		Provider:    Name,
		ExternalRef: Ref(p.PaymentID.String()),
		AccountID:   p.OrderID,
		Amount:      amount,
		Outcome:     outcome(p.PaymentStatus),
	}, nil
}

func outcome(status string) models.Outcome {
	switch strings.ToLower(status) {
	case "finished", "confirmed":
		return models.OutcomeConfirmed
	case "failed", "expired", "refunded":
		return models.OutcomeFailed
	default:
		return models.OutcomePending
	}
}

// sortedJSON re-encodes a JSON document with object keys sorted at every level,
// which is the form NOWPayments signs.
func sortedJSON(payload []byte) ([]byte, error) {
	var v interface{}
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
