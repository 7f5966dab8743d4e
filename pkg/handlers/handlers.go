// Package handlers mounts the HTTP API of the settlement engine on a chi router.
package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/chris/cash-settlement/pkg/handlers/accounts"
	"github.com/chris/cash-settlement/pkg/handlers/admin"
	"github.com/chris/cash-settlement/pkg/handlers/respond"
	"github.com/chris/cash-settlement/pkg/handlers/transactions"
	"github.com/chris/cash-settlement/pkg/handlers/webhooks"
	"github.com/chris/cash-settlement/pkg/metrics"
	"github.com/chris/cash-settlement/pkg/middleware"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/oapi-codegen/runtime"
	openapi_types "github.com/oapi-codegen/runtime/types"
	"go.uber.org/zap"
)

// ApiHandler binds request parameters and forwards to the resource handlers.
type ApiHandler struct {
	Accounts     *accounts.AccountsHandler
	Transactions *transactions.TransactionsHandler
	Webhooks     *webhooks.WebhooksHandler
	Admin        *admin.AdminHandler

	// WebSocket serves /ws when set.
	WebSocket http.Handler
	// MetricsHandler serves /metrics when set.
	MetricsHandler http.Handler

	JWTSecret      []byte
	AllowedOrigins []string
	RequestTimeout time.Duration
	Metrics        *metrics.Metrics
	Logger         *zap.Logger
}

// Router builds the chi router for every route of the API.
func (h *ApiHandler) Router() chi.Router {
	logger := h.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := h.RequestTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	origins := h.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.NewStructuredLogger(logger, h.Metrics))
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respond.Status(w, http.StatusOK, "ok")
	})
	if h.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", h.MetricsHandler)
	}
	if h.WebSocket != nil {
		r.Method(http.MethodGet, "/ws", h.WebSocket)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(chimw.Timeout(timeout))

		r.Post("/webhooks/{provider}", h.HandleWebhook)
		r.Post("/deposits", h.Transactions.RequestDeposit)
		r.Post("/withdrawals", h.Transactions.RequestWithdrawal)
		r.Get("/transactions/{id}", h.GetTransactionById)
		r.Post("/accounts", h.Accounts.CreateAccount)
		r.Get("/accounts/{id}/balance", h.GetBalance)
		r.Get("/accounts/{id}/transactions", h.ListTransactions)

		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.RequireAdmin(h.JWTSecret))
			r.Get("/withdrawals/pending", h.Admin.ListPendingWithdrawals)
			r.Post("/withdrawals/{id}/approve", h.ApproveWithdrawal)
			r.Post("/withdrawals/{id}/reject", h.RejectWithdrawal)
			r.Post("/withdrawals/{id}/fail", h.FailWithdrawal)
			r.Get("/config", h.Admin.GetConfig)
			r.Put("/config", h.Admin.UpdateConfig)
			r.Post("/interest/run", h.Admin.RunInterest)
			r.Post("/reconcile", h.Admin.Reconcile)
		})
	})
	return r
}

func bindPathUUID(w http.ResponseWriter, r *http.Request, name string) (openapi_types.UUID, bool) {
	var id openapi_types.UUID
	err := runtime.BindStyledParameterWithOptions("simple", name, chi.URLParam(r, name), &id,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
	if err != nil {
		http.Error(w, fmt.Sprintf("Invalid format for parameter %s: %v", name, err), http.StatusBadRequest)
		return id, false
	}
	return id, true
}

// HandleWebhook binds {provider}.
func (h *ApiHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	h.Webhooks.HandleWebhook(w, r, chi.URLParam(r, "provider"))
}

// GetTransactionById binds {id}.
func (h *ApiHandler) GetTransactionById(w http.ResponseWriter, r *http.Request) {
	if id, ok := bindPathUUID(w, r, "id"); ok {
		h.Transactions.GetTransactionById(w, r, id)
	}
}

// GetBalance binds {id}.
func (h *ApiHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	h.Accounts.GetBalance(w, r, chi.URLParam(r, "id"))
}

// ListTransactions binds {id} and ?limit.
func (h *ApiHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	var params accounts.ListTransactionsParams
	if err := runtime.BindQueryParameter("form", true, false, "limit", r.URL.Query(), &params.Limit); err != nil {
		http.Error(w, fmt.Sprintf("Invalid format for parameter limit: %v", err), http.StatusBadRequest)
		return
	}
	h.Accounts.ListTransactions(w, r, chi.URLParam(r, "id"), params)
}

// ApproveWithdrawal binds {id}.
func (h *ApiHandler) ApproveWithdrawal(w http.ResponseWriter, r *http.Request) {
	if id, ok := bindPathUUID(w, r, "id"); ok {
		h.Admin.ApproveWithdrawal(w, r, id)
	}
}

// RejectWithdrawal binds {id}.
func (h *ApiHandler) RejectWithdrawal(w http.ResponseWriter, r *http.Request) {
	if id, ok := bindPathUUID(w, r, "id"); ok {
		h.Admin.RejectWithdrawal(w, r, id)
	}
}

// FailWithdrawal binds {id}.
func (h *ApiHandler) FailWithdrawal(w http.ResponseWriter, r *http.Request) {
	if id, ok := bindPathUUID(w, r, "id"); ok {
		h.Admin.FailWithdrawal(w, r, id)
	}
}
