package respond

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/chris/cash-settlement/pkg/ledger"
	"github.com/chris/cash-settlement/pkg/payout"
	"github.com/chris/cash-settlement/pkg/providers"
	"github.com/chris/cash-settlement/pkg/storage"
	"github.com/chris/cash-settlement/pkg/withdrawal"
	"github.com/stretchr/testify/assert"
)

func TestStatusCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{providers.ErrAuthentication, http.StatusUnauthorized},
		{storage.ErrDuplicateEvent, http.StatusOK},
		{storage.ErrInsufficientFunds, http.StatusUnprocessableEntity},
		{ledger.ErrInvalidAmount, http.StatusUnprocessableEntity},
		{withdrawal.ErrInvalidDestination, http.StatusUnprocessableEntity},
		{storage.ErrInvalidState, http.StatusConflict},
		{payout.ErrProviderTransient, http.StatusServiceUnavailable},
		{payout.ErrProviderPermanent, http.StatusBadGateway},
		{storage.ErrNotFound, http.StatusNotFound},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, StatusCode(fmt.Errorf("wrapped: %w", tt.err)))
		})
	}
}

func TestErrorDuplicateIsSuccess(t *testing.T) {
	rr := httptest.NewRecorder()
	Error(rr, fmt.Errorf("credit: %w", storage.ErrDuplicateEvent))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"duplicate"}`, rr.Body.String())
}
