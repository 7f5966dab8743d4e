// Package nowpayments integrates NOWPayments crypto deposits and payouts.
package nowpayments

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/chris/cash-settlement/pkg/payout"
)

const (
	// DefaultBaseURL is the production API.
	DefaultBaseURL = "https://api.nowpayments.io"

	defaultTimeout = 15 * time.Second
	tokenLifetime  = 4 * time.Minute
)

// Config holds the account credentials.
type Config struct {
	BaseURL   string
	APIKey    string
	IPNSecret string
	// Email and Password authenticate payout calls.
	Email    string
	Password string
	// TwoFactorSecret, when set, verifies each payout batch with a TOTP code.
	TwoFactorSecret string
	// IPNCallbackURL is sent with new payments and payouts.
	IPNCallbackURL string
	PayCurrency    string
	PriceCurrency  string
}

// Client talks to the NOWPayments REST API.
type Client struct {
	cfg        Config
	HTTPClient *http.Client
	now        func() time.Time

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

// New creates a Client with a 15 second timeout.
func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.PriceCurrency == "" {
		cfg.PriceCurrency = "usd"
	}
	if cfg.PayCurrency == "" {
		cfg.PayCurrency = "usdtbsc"
	}
	return &Client{
		cfg:        cfg,
		HTTPClient: &http.Client{Timeout: defaultTimeout},
		now:        time.Now,
	}
}

// apiError carries the HTTP status of a failed call.
type apiError struct {
	Status int
	Body   string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("nowpayments: status %d: %s", e.Status, e.Body)
}

// classify maps a transport or HTTP failure onto the payout error taxonomy.
// Timeouts are ambiguous because the request may have reached the provider.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *apiError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Status == http.StatusTooManyRequests || apiErr.Status >= 500:
			return fmt.Errorf("%w: %v", payout.ErrProviderTransient, err)
		case apiErr.Status == http.StatusUnauthorized:
			return fmt.Errorf("%w: %v", payout.ErrProviderTransient, err)
		default:
			return fmt.Errorf("%w: %v", payout.ErrProviderPermanent, err)
		}
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: %v", payout.ErrProviderUnknown, err)
	}
	return fmt.Errorf("%w: %v", payout.ErrProviderTransient, err)
}

// do sends a JSON request and decodes the JSON response into out.
func (c *Client) do(ctx context.Context, method, path string, bearer string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("x-api-key", c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode == http.StatusUnauthorized && bearer != "" {
		c.resetToken()
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &apiError{Status: resp.StatusCode, Body: string(raw)}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// authToken returns a cached JWT, refreshing it shortly before it expires.
func (c *Client) authToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && c.now().Before(c.tokenExpiry) {
		return c.token, nil
	}

	var res struct {
		Token string `json:"token"`
	}
	in := map[string]string{"email": c.cfg.Email, "password": c.cfg.Password}
	if err := c.do(ctx, http.MethodPost, "/v1/auth", "", in, &res); err != nil {
		return "", fmt.Errorf("failed to authenticate: %w", err)
	}
	c.token = res.Token
	c.tokenExpiry = c.now().Add(tokenLifetime)
	return c.token, nil
}

func (c *Client) resetToken() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = ""
}
