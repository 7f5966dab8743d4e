package accounts

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/chris/cash-settlement/pkg/ledger"
	"github.com/chris/cash-settlement/pkg/models"
	"github.com/chris/cash-settlement/pkg/storage/memory"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seeded(t *testing.T) *memory.Store {
	t.Helper()
	store := memory.New()
	_, err := store.CreateAccount(context.Background(), &models.Account{ID: "acct-1"})
	require.NoError(t, err)
	l := ledger.New(store, nil)
	for _, ref := range []string{"test:1", "test:2", "test:3"} {
		_, err := l.Credit(context.Background(), "acct-1", decimal.NewFromInt(10), ledger.Entry{Kind: models.DEPOSIT, ExternalRef: ref})
		require.NoError(t, err)
	}
	return store
}

func TestCreateAccount(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		h := NewAccountsHandler(memory.New())
		req := httptest.NewRequest(http.MethodPost, "/accounts", strings.NewReader(`{"id":"acct-9","referrer_id":"acct-1","notification_channel":{"kind":"telegram","address":"42"}}`))
		rr := httptest.NewRecorder()

		h.CreateAccount(rr, req)

		assert.Equal(t, http.StatusCreated, rr.Code)
		var got models.Account
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
		assert.Equal(t, "acct-9", got.ID)
		assert.True(t, got.Balance.IsZero())
		assert.Equal(t, models.ChannelTelegram, got.NotificationChannel.Kind)
	})

	t.Run("Already exists", func(t *testing.T) {
		h := NewAccountsHandler(seeded(t))
		req := httptest.NewRequest(http.MethodPost, "/accounts", strings.NewReader(`{"id":"acct-1"}`))
		rr := httptest.NewRecorder()

		h.CreateAccount(rr, req)

		assert.Equal(t, http.StatusConflict, rr.Code)
	})

	t.Run("Bad Request - Self referral", func(t *testing.T) {
		h := NewAccountsHandler(memory.New())
		req := httptest.NewRequest(http.MethodPost, "/accounts", strings.NewReader(`{"id":"a","referrer_id":"a"}`))
		rr := httptest.NewRecorder()

		h.CreateAccount(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("Bad Request - Invalid JSON", func(t *testing.T) {
		h := NewAccountsHandler(memory.New())
		req := httptest.NewRequest(http.MethodPost, "/accounts", strings.NewReader("not-json"))
		rr := httptest.NewRecorder()

		h.CreateAccount(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

func TestGetBalance(t *testing.T) {
	h := NewAccountsHandler(seeded(t))

	t.Run("Success", func(t *testing.T) {
		rr := httptest.NewRecorder()
		h.GetBalance(rr, httptest.NewRequest(http.MethodGet, "/accounts/acct-1/balance", nil), "acct-1")

		assert.Equal(t, http.StatusOK, rr.Code)
		var got Balance
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
		assert.True(t, decimal.NewFromInt(30).Equal(got.Balance))
	})

	t.Run("Not Found", func(t *testing.T) {
		rr := httptest.NewRecorder()
		h.GetBalance(rr, httptest.NewRequest(http.MethodGet, "/accounts/nobody/balance", nil), "nobody")
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})
}

func TestListTransactions(t *testing.T) {
	h := NewAccountsHandler(seeded(t))
	two := int32(2)
	zero := int32(0)

	t.Run("Success", func(t *testing.T) {
		rr := httptest.NewRecorder()
		h.ListTransactions(rr, httptest.NewRequest(http.MethodGet, "/accounts/acct-1/transactions", nil), "acct-1", ListTransactionsParams{Limit: &two})

		assert.Equal(t, http.StatusOK, rr.Code)
		var got []models.Transaction
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
		assert.Len(t, got, 2)
	})

	t.Run("Default limit", func(t *testing.T) {
		rr := httptest.NewRecorder()
		h.ListTransactions(rr, httptest.NewRequest(http.MethodGet, "/accounts/acct-1/transactions", nil), "acct-1", ListTransactionsParams{})

		var got []models.Transaction
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
		assert.Len(t, got, 3)
	})

	t.Run("Bad Request - Limit", func(t *testing.T) {
		rr := httptest.NewRecorder()
		h.ListTransactions(rr, httptest.NewRequest(http.MethodGet, "/accounts/acct-1/transactions", nil), "acct-1", ListTransactionsParams{Limit: &zero})
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("Not Found", func(t *testing.T) {
		rr := httptest.NewRecorder()
		h.ListTransactions(rr, httptest.NewRequest(http.MethodGet, "/accounts/nobody/transactions", nil), "nobody", ListTransactionsParams{})
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})
}
