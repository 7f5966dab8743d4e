// Package payos verifies PayOS (VietQR) webhooks and opens PayOS payment links.
package payos

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/chris/cash-settlement/pkg/models"
	"github.com/chris/cash-settlement/pkg/providers"
	"github.com/shopspring/decimal"
)

// Name is the registry key of this provider.
const Name = "payos"

const (
	// DefaultBaseURL is the PayOS merchant API.
	DefaultBaseURL = "https://api-merchant.payos.vn"

	codeSuccess   = "00"
	accountPrefix = "acct:"
)

// Config holds the merchant credentials.
type Config struct {
	BaseURL     string
	ClientID    string
	APIKey      string
	ChecksumKey string
	ReturnURL   string
	CancelURL   string
	// Rate converts one unit of account currency into VND.
	Rate decimal.Decimal
}

// Adapter implements the PayOS integration.
type Adapter struct {
	cfg        Config
	HTTPClient *http.Client
	now        func() time.Time
}

var (
	_ providers.Adapter   = (*Adapter)(nil)
	_ providers.Poller    = (*Adapter)(nil)
	_ providers.Initiator = (*Adapter)(nil)
)

// New creates an Adapter.
func New(cfg Config) *Adapter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Rate.IsZero() {
		cfg.Rate = decimal.NewFromInt(25000)
	}
	return &Adapter{cfg: cfg, HTTPClient: &http.Client{Timeout: 15 * time.Second}, now: time.Now}
}

type webhook struct {
	Code      string          `json:"code"`
	Desc      string          `json:"desc"`
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data"`
	Signature string          `json:"signature"`
}

type webhookData struct {
	OrderCode   int64  `json:"orderCode"`
	Amount      int64  `json:"amount"`
	Description string `json:"description"`
	Code        string `json:"code"`
}

// Ref returns the external ref for a PayOS order code.
func Ref(orderCode int64) string {
	return Name + ":" + strconv.FormatInt(orderCode, 10)
}

// AccountTag is the description marker that carries the account id.
func AccountTag(accountID string) string {
	return accountPrefix + accountID
}

func (a *Adapter) Name() string { return Name }

// SignatureFrom returns "": PayOS signs inside the body.
func (a *Adapter) SignatureFrom(http.Header) string { return "" }

// Verify checks the body signature over the sorted data object.
func (a *Adapter) Verify(payload []byte, _ string) error {
	var w webhook
	if err := json.Unmarshal(payload, &w); err != nil || len(w.Data) == 0 {
		return providers.ErrAuthentication
	}
	canonical, err := canonicalData(w.Data)
	if err != nil {
		return providers.ErrAuthentication
	}
	return providers.VerifyHex(providers.SHA256, a.cfg.ChecksumKey, []byte(canonical), w.Signature)
}

// Normalize maps a verified webhook onto a SettlementEvent.
func (a *Adapter) Normalize(payload []byte) (*models.SettlementEvent, error) {
	var w webhook
	if err := json.Unmarshal(payload, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", providers.ErrMalformedPayload, err)
	}
	var data webhookData
	if err := json.Unmarshal(w.Data, &data); err != nil {
		return nil, fmt.Errorf("%w: data: %v", providers.ErrMalformedPayload, err)
	}
	accountID := accountFromDescription(data.Description)
	if data.OrderCode == 0 || accountID == "" {
		return nil, fmt.Errorf("%w: missing orderCode or account tag", providers.ErrMalformedPayload)
	}

	outcome := models.OutcomeFailed
	if w.Code == codeSuccess && (data.Code == "" || data.Code == codeSuccess) {
		outcome = models.OutcomeConfirmed
	}

	return &models.SettlementEvent{
		Provider:    Name,
		ExternalRef: Ref(data.OrderCode),
		AccountID:   accountID,
		Amount:      decimal.NewFromInt(data.Amount).DivRound(a.cfg.Rate, 8),
		Outcome:     outcome,
	}, nil
}

func accountFromDescription(desc string) string {
	i := strings.Index(desc, accountPrefix)
	if i < 0 {
		return ""
	}
	fields := strings.Fields(desc[i+len(accountPrefix):])
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// canonicalData renders a JSON object as key=value pairs sorted by key and joined
// with &. Nulls render empty; nested values render as JSON.
func canonicalData(raw json.RawMessage) (string, error) {
	var data map[string]interface{}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&data); err != nil {
		return "", err
	}
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		var v string
		switch val := data[k].(type) {
		case nil:
			v = ""
		case string:
			v = val
		case json.Number:
			v = val.String()
		case bool:
			v = strconv.FormatBool(val)
		default:
			b, err := json.Marshal(val)
			if err != nil {
				return "", err
			}
			v = string(b)
		}
		parts[i] = k + "=" + v
	}
	return strings.Join(parts, "&"), nil
}

// SignData returns the signature PayOS would attach to the given data object.
func (a *Adapter) SignData(data interface{}) (string, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return "", err
	}
	canonical, err := canonicalData(raw)
	if err != nil {
		return "", err
	}
	return providers.SignHex(providers.SHA256, a.cfg.ChecksumKey, []byte(canonical)), nil
}

func (a *Adapter) call(ctx context.Context, method, path string, in interface{}, out interface{}) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal payos request: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, a.cfg.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to build payos request: %w", err)
	}
	req.Header.Set("x-client-id", a.cfg.ClientID)
	req.Header.Set("x-api-key", a.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call payos: %w", err)
	}
	defer resp.Body.Close()

	var envelope struct {
		Code string          `json:"code"`
		Desc string          `json:"desc"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("failed to decode payos response: %w", err)
	}
	if envelope.Code != codeSuccess {
		return fmt.Errorf("payos: code %s: %s", envelope.Code, envelope.Desc)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(envelope.Data, out)
}

// CreatePayment opens a VietQR payment link. The description carries the account
// tag so the webhook can be attributed.
func (a *Adapter) CreatePayment(ctx context.Context, req providers.PaymentRequest) (*providers.PaymentIntent, error) {
	orderCode := a.now().UnixMilli()
	amountVND := req.Amount.Mul(a.cfg.Rate).Round(0).IntPart()
	description := AccountTag(req.AccountID)

	raw := fmt.Sprintf("amount=%d&cancelUrl=%s&description=%s&orderCode=%d&returnUrl=%s",
		amountVND, a.cfg.CancelURL, description, orderCode, a.cfg.ReturnURL)

	in := map[string]interface{}{
		"orderCode":   orderCode,
		"amount":      amountVND,
		"description": description,
		"cancelUrl":   a.cfg.CancelURL,
		"returnUrl":   a.cfg.ReturnURL,
		"signature":   providers.SignHex(providers.SHA256, a.cfg.ChecksumKey, []byte(raw)),
	}

	var res struct {
		CheckoutURL string `json:"checkoutUrl"`
		QRCode      string `json:"qrCode"`
	}
	if err := a.call(ctx, http.MethodPost, "/v2/payment-requests", in, &res); err != nil {
		return nil, err
	}

	return &providers.PaymentIntent{
		ExternalRef: Ref(orderCode),
		PayURL:      res.CheckoutURL,
		QRCode:      res.QRCode,
		PayAmount:   strconv.FormatInt(amountVND, 10),
		PayCurrency: "VND",
	}, nil
}

// PollStatus reads a payment link by order code. The response carries no
// description, so AccountID is left empty for the caller to fill from the intent.
func (a *Adapter) PollStatus(ctx context.Context, externalRef string) (*models.SettlementEvent, error) {
	orderCode := strings.TrimPrefix(externalRef, Name+":")
	var res struct {
		OrderCode  int64  `json:"orderCode"`
		Amount     int64  `json:"amount"`
		AmountPaid int64  `json:"amountPaid"`
		Status     string `json:"status"`
	}
	if err := a.call(ctx, http.MethodGet, "/v2/payment-requests/"+url.PathEscape(orderCode), nil, &res); err != nil {
		return nil, err
	}

	outcome := models.OutcomePending
	switch res.Status {
	case "PAID":
		outcome = models.OutcomeConfirmed
	case "CANCELLED", "EXPIRED":
		outcome = models.OutcomeFailed
	}

	return &models.SettlementEvent{
		Provider:    Name,
		ExternalRef: externalRef,
		Amount:      decimal.NewFromInt(res.AmountPaid).DivRound(a.cfg.Rate, 8),
		Outcome:     outcome,
	}, nil
}
