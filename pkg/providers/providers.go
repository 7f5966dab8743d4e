// Package providers turns signed provider callbacks into SettlementEvents.
package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"

	"github.com/chris/cash-settlement/pkg/models"
	"github.com/shopspring/decimal"
)

var (
	// ErrAuthentication is returned when a payload signature does not verify.
	ErrAuthentication = errors.New("signature verification failed")

	// ErrMalformedPayload is returned when a verified payload cannot be normalized.
	ErrMalformedPayload = errors.New("malformed provider payload")

	// ErrUnknownProvider is returned for a provider name with no registered adapter.
	ErrUnknownProvider = errors.New("unknown provider")
)

// Adapter verifies and normalizes the callbacks of one provider.
type Adapter interface {
	Name() string
	// SignatureFrom extracts the signature from the request. Providers that sign
	// inside the body return "".
	SignatureFrom(header http.Header) string
	Verify(payload []byte, signature string) error
	Normalize(payload []byte) (*models.SettlementEvent, error)
}

// Poller is implemented by providers that report deposit status by reference.
type Poller interface {
	PollStatus(ctx context.Context, externalRef string) (*models.SettlementEvent, error)
}

// PaymentRequest asks a provider to open a deposit.
type PaymentRequest struct {
	AccountID   string
	Amount      decimal.Decimal
	Currency    string
	Description string
}

// PaymentIntent is what the user needs to complete a deposit.
type PaymentIntent struct {
	// ExternalRef is the reference the provider will echo in its callbacks.
	ExternalRef string `json:"external_ref"`
	PayURL      string `json:"pay_url,omitempty"`
	PayAddress  string `json:"pay_address,omitempty"`
	QRCode      string `json:"qr_code,omitempty"`
	PayAmount   string `json:"pay_amount,omitempty"`
	PayCurrency string `json:"pay_currency,omitempty"`
}

// Initiator is implemented by providers that can open a deposit.
type Initiator interface {
	CreatePayment(ctx context.Context, req PaymentRequest) (*PaymentIntent, error)
}

// Registry maps provider names to adapters.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewRegistry creates a registry holding the given adapters.
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[string]Adapter, len(adapters))}
	for _, a := range adapters {
		r.Register(a)
	}
	return r
}

// Register adds or replaces an adapter.
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Name()] = a
}

// Get returns the adapter registered under name.
func (r *Registry) Get(name string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, ErrUnknownProvider)
	}
	return a, nil
}

// Names lists the registered providers in order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.adapters))
	for n := range r.adapters {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Poller returns the adapter under name if it supports polling.
func (r *Registry) Poller(name string) (Poller, bool) {
	a, err := r.Get(name)
	if err != nil {
		return nil, false
	}
	p, ok := a.(Poller)
	return p, ok
}

// Initiator returns the adapter under name if it can open deposits.
func (r *Registry) Initiator(name string) (Initiator, bool) {
	a, err := r.Get(name)
	if err != nil {
		return nil, false
	}
	i, ok := a.(Initiator)
	return i, ok
}

// VerifyAndNormalize runs the whole inbound path for one payload.
func (r *Registry) VerifyAndNormalize(name string, header http.Header, payload []byte) (*models.SettlementEvent, error) {
	a, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	if err := a.Verify(payload, a.SignatureFrom(header)); err != nil {
		return nil, err
	}
	event, err := a.Normalize(payload)
	if err != nil {
		return nil, err
	}
	event.Provider = a.Name()
	return event, nil
}
