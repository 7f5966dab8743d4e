// Package webhooks receives deposit callbacks from payment providers.
package webhooks

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/chris/cash-settlement/pkg/handlers/respond"
	"github.com/chris/cash-settlement/pkg/metrics"
	"github.com/chris/cash-settlement/pkg/models"
	"github.com/chris/cash-settlement/pkg/providers"
	"github.com/chris/cash-settlement/pkg/settlement"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

// Processor applies a normalized settlement event.
type Processor interface {
	Process(ctx context.Context, event *models.SettlementEvent) (settlement.Result, error)
}

// WebhooksHandler verifies, normalizes and applies provider callbacks.
type WebhooksHandler struct {
	Providers *providers.Registry
	Pipeline  Processor
	Metrics   *metrics.Metrics
	Logger    *zap.Logger
}

// NewWebhooksHandler creates a new WebhooksHandler.
func NewWebhooksHandler(registry *providers.Registry, pipeline Processor, m *metrics.Metrics, logger *zap.Logger) *WebhooksHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhooksHandler{Providers: registry, Pipeline: pipeline, Metrics: m, Logger: logger}
}

// HandleWebhook runs one callback through Verify, Normalize and Process. Nothing
// is written unless the signature verifies.
func (h *WebhooksHandler) HandleWebhook(w http.ResponseWriter, r *http.Request, provider string) {
	log := h.Logger.With(zap.String("provider", provider))

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, fmt.Sprintf("Invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	event, err := h.Providers.VerifyAndNormalize(provider, r.Header, payload)
	if err != nil {
		switch {
		case errors.Is(err, providers.ErrAuthentication):
			h.Metrics.SettlementEvent(provider, "unauthenticated")
			log.Warn("webhook signature rejected", zap.String("remote_addr", r.RemoteAddr))
		case errors.Is(err, providers.ErrUnknownProvider):
		default:
			h.Metrics.SettlementEvent(provider, "malformed")
			log.Warn("webhook payload rejected", zap.Error(err))
		}
		respond.Error(w, err)
		return
	}

	result, err := h.Pipeline.Process(r.Context(), event)
	if err != nil {
		log.Error("failed to apply settlement event",
			zap.String("external_ref", event.ExternalRef),
			zap.String("result", string(result)),
			zap.Error(err))
		respond.Error(w, err)
		return
	}
	respond.Status(w, http.StatusOK, string(result))
}
