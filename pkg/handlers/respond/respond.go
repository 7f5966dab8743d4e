// Package respond writes JSON responses and maps domain errors to HTTP statuses.
package respond

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/chris/cash-settlement/pkg/ledger"
	"github.com/chris/cash-settlement/pkg/payout"
	"github.com/chris/cash-settlement/pkg/providers"
	"github.com/chris/cash-settlement/pkg/settlement"
	"github.com/chris/cash-settlement/pkg/storage"
	"github.com/chris/cash-settlement/pkg/withdrawal"
)

// ErrBadRequest marks malformed client input.
var ErrBadRequest = errors.New("bad request")

// JSON writes v with the given status.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Status writes {"status": s}.
func Status(w http.ResponseWriter, code int, s string) {
	JSON(w, code, map[string]string{"status": s})
}

type errorBody struct {
	Error string `json:"error"`
}

// Error maps err to its HTTP status and writes it.
func Error(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrDuplicateEvent):
		Status(w, http.StatusOK, "duplicate")
	case errors.Is(err, payout.ErrProviderUnknown):
		Status(w, http.StatusAccepted, "processing")
	default:
		JSON(w, StatusCode(err), errorBody{Error: err.Error()})
	}
}

// StatusCode returns the HTTP status for err.
func StatusCode(err error) int {
	switch {
	case errors.Is(err, providers.ErrAuthentication):
		return http.StatusUnauthorized
	case errors.Is(err, storage.ErrDuplicateEvent):
		return http.StatusOK
	case errors.Is(err, storage.ErrInsufficientFunds),
		errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, ledger.ErrAmountMismatch),
		errors.Is(err, withdrawal.ErrInvalidDestination),
		errors.Is(err, settlement.ErrNoInitiator):
		return http.StatusUnprocessableEntity
	case errors.Is(err, storage.ErrInvalidState),
		errors.Is(err, storage.ErrAccountExists):
		return http.StatusConflict
	case errors.Is(err, payout.ErrProviderTransient):
		return http.StatusServiceUnavailable
	case errors.Is(err, payout.ErrProviderPermanent):
		return http.StatusBadGateway
	case errors.Is(err, payout.ErrProviderUnknown):
		return http.StatusAccepted
	case errors.Is(err, storage.ErrNotFound),
		errors.Is(err, providers.ErrUnknownProvider):
		return http.StatusNotFound
	case errors.Is(err, providers.ErrMalformedPayload),
		errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Decode reads a JSON body into v. Failures wrap ErrBadRequest.
func Decode(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.Join(ErrBadRequest, err)
	}
	return nil
}
