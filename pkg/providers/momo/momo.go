// Package momo verifies MoMo e-wallet IPN callbacks and opens MoMo payments.
package momo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/chris/cash-settlement/pkg/models"
	"github.com/chris/cash-settlement/pkg/providers"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Name is the registry key of this provider.
const Name = "momo"

const (
	// DefaultEndpoint is the MoMo sandbox create endpoint.
	DefaultEndpoint = "https://test-payment.momo.vn/v2/gateway/api/create"

	resultSuccess = 0
	resultPending = 1000
)

// Config holds the partner credentials.
type Config struct {
	Endpoint    string
	PartnerCode string
	AccessKey   string
	SecretKey   string
	RedirectURL string
	IPNURL      string
	// Rate converts one unit of account currency into VND.
	Rate decimal.Decimal
}

// Adapter implements the MoMo integration.
type Adapter struct {
	cfg        Config
	HTTPClient *http.Client
}

var (
	_ providers.Adapter   = (*Adapter)(nil)
	_ providers.Initiator = (*Adapter)(nil)
)

// New creates an Adapter.
func New(cfg Config) *Adapter {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Rate.IsZero() {
		cfg.Rate = decimal.NewFromInt(25000)
	}
	return &Adapter{cfg: cfg, HTTPClient: &http.Client{Timeout: 15 * time.Second}}
}

// IPN is the MoMo callback body.
type IPN struct {
	PartnerCode  string `json:"partnerCode"`
	OrderID      string `json:"orderId"`
	RequestID    string `json:"requestId"`
	Amount       int64  `json:"amount"`
	OrderInfo    string `json:"orderInfo"`
	OrderType    string `json:"orderType"`
	TransID      int64  `json:"transId"`
	ResultCode   int    `json:"resultCode"`
	Message      string `json:"message"`
	PayType      string `json:"payType"`
	ResponseTime int64  `json:"responseTime"`
	ExtraData    string `json:"extraData"`
	Signature    string `json:"signature"`
}

// canonical is the string MoMo signs, with fields in alphabetical order.
func (a *Adapter) canonical(n IPN) string {
	return fmt.Sprintf("accessKey=%s&amount=%d&extraData=%s&message=%s&orderId=%s&orderInfo=%s&orderType=%s&partnerCode=%s&payType=%s&requestId=%s&responseTime=%d&resultCode=%d&transId=%d",
		a.cfg.AccessKey, n.Amount, n.ExtraData, n.Message, n.OrderID, n.OrderInfo, n.OrderType,
		n.PartnerCode, n.PayType, n.RequestID, n.ResponseTime, n.ResultCode, n.TransID)
}

// Sign fills in the signature of an IPN. Used by tests and the sandbox tooling.
func (a *Adapter) Sign(n IPN) IPN {
	n.Signature = providers.SignHex(providers.SHA256, a.cfg.SecretKey, []byte(a.canonical(n)))
	return n
}

func (a *Adapter) Name() string { return Name }

// SignatureFrom returns "": MoMo signs inside the body.
func (a *Adapter) SignatureFrom(http.Header) string { return "" }

// Verify checks the body signature. The signature argument is ignored.
func (a *Adapter) Verify(payload []byte, _ string) error {
	var n IPN
	if err := json.Unmarshal(payload, &n); err != nil {
		return providers.ErrAuthentication
	}
	return providers.VerifyHex(providers.SHA256, a.cfg.SecretKey, []byte(a.canonical(n)), n.Signature)
}

// Normalize maps a verified IPN onto a SettlementEvent. The amount is in VND and
// is converted at the configured rate.
func (a *Adapter) Normalize(payload []byte) (*models.SettlementEvent, error) {
	var n IPN
	if err := json.Unmarshal(payload, &n); err != nil {
		return nil, fmt.Errorf("%w: %v", providers.ErrMalformedPayload, err)
	}
	if n.OrderID == "" || n.ExtraData == "" {
		return nil, fmt.Errorf("%w: missing orderId or extraData", providers.ErrMalformedPayload)
	}

	outcome := models.OutcomeFailed
	switch n.ResultCode {
	case resultSuccess:
		outcome = models.OutcomeConfirmed
	case resultPending:
		outcome = models.OutcomePending
	}

	return &models.SettlementEvent{
		Provider:    Name,
		ExternalRef: Ref(n.OrderID),
		AccountID:   n.ExtraData,
		Amount:      decimal.NewFromInt(n.Amount).DivRound(a.cfg.Rate, 8),
		Outcome:     outcome,
	}, nil
}

// Ref returns the external ref for a MoMo order id.
func Ref(orderID string) string {
	return Name + ":" + orderID
}

// CreatePayment opens a MoMo wallet payment and returns its pay URL.
func (a *Adapter) CreatePayment(ctx context.Context, req providers.PaymentRequest) (*providers.PaymentIntent, error) {
	orderID := uuid.New().String()
	amountVND := req.Amount.Mul(a.cfg.Rate).Round(0).IntPart()
	info := req.Description
	if info == "" {
		info = "Deposit " + req.AccountID
	}

	raw := fmt.Sprintf("accessKey=%s&amount=%d&extraData=%s&ipnUrl=%s&orderId=%s&orderInfo=%s&partnerCode=%s&redirectUrl=%s&requestId=%s&requestType=captureWallet",
		a.cfg.AccessKey, amountVND, req.AccountID, a.cfg.IPNURL, orderID, info, a.cfg.PartnerCode, a.cfg.RedirectURL, orderID)

	body, err := json.Marshal(map[string]interface{}{
		"partnerCode": a.cfg.PartnerCode,
		"requestId":   orderID,
		"amount":      amountVND,
		"orderId":     orderID,
		"orderInfo":   info,
		"redirectUrl": a.cfg.RedirectURL,
		"ipnUrl":      a.cfg.IPNURL,
		"extraData":   req.AccountID,
		"requestType": "captureWallet",
		"lang":        "vi",
		"signature":   providers.SignHex(providers.SHA256, a.cfg.SecretKey, []byte(raw)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal momo request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build momo request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to call momo: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	var res struct {
		ResultCode int    `json:"resultCode"`
		Message    string `json:"message"`
		PayURL     string `json:"payUrl"`
		QRCodeURL  string `json:"qrCodeUrl"`
	}
	if err := json.Unmarshal(respBody, &res); err != nil {
		return nil, fmt.Errorf("failed to decode momo response: %w", err)
	}
	if res.ResultCode != resultSuccess {
		return nil, fmt.Errorf("momo create payment: result %d: %s", res.ResultCode, res.Message)
	}

	return &providers.PaymentIntent{
		ExternalRef: Ref(orderID),
		PayURL:      res.PayURL,
		QRCode:      res.QRCodeURL,
		PayAmount:   strconv.FormatInt(amountVND, 10),
		PayCurrency: "VND",
	}, nil
}
