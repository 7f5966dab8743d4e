package transactions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/chris/cash-settlement/pkg/handlers/transactions/mocks"
	"github.com/chris/cash-settlement/pkg/ledger"
	"github.com/chris/cash-settlement/pkg/models"
	"github.com/chris/cash-settlement/pkg/providers"
	"github.com/chris/cash-settlement/pkg/settlement"
	"github.com/chris/cash-settlement/pkg/storage"
	"github.com/chris/cash-settlement/pkg/storage/memory"
	"github.com/chris/cash-settlement/pkg/withdrawal"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func amountOf(s string) interface{} {
	want := decimal.RequireFromString(s)
	return mock.MatchedBy(func(a decimal.Decimal) bool { return a.Equal(want) })
}

func TestRequestDeposit(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		deposits := mocks.NewDepositService(t)
		deposits.On("RequestDeposit", mock.Anything, "acct-1", amountOf("25.5"), "momo").
			Return(&settlement.DepositIntent{
				TransactionID: "tx-1",
				PaymentIntent: providers.PaymentIntent{ExternalRef: "momo:1", PayURL: "https://pay.example/1"},
			}, nil)
		h := NewTransactionsHandler(memory.New(), deposits, nil)

		req := httptest.NewRequest(http.MethodPost, "/deposits", strings.NewReader(`{"account_id":"acct-1","amount":"25.5","method":"momo"}`))
		rr := httptest.NewRecorder()
		h.RequestDeposit(rr, req)

		assert.Equal(t, http.StatusCreated, rr.Code)
		var got settlement.DepositIntent
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
		assert.Equal(t, "tx-1", got.TransactionID)
		assert.Equal(t, "https://pay.example/1", got.PayURL)
	})

	t.Run("Unknown method", func(t *testing.T) {
		deposits := mocks.NewDepositService(t)
		deposits.On("RequestDeposit", mock.Anything, "acct-1", mock.Anything, "cash").
			Return(nil, fmt.Errorf("cash: %w", settlement.ErrNoInitiator))
		h := NewTransactionsHandler(memory.New(), deposits, nil)

		req := httptest.NewRequest(http.MethodPost, "/deposits", strings.NewReader(`{"account_id":"acct-1","amount":10,"method":"cash"}`))
		rr := httptest.NewRecorder()
		h.RequestDeposit(rr, req)

		assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	})

	t.Run("Bad Request - Invalid JSON", func(t *testing.T) {
		h := NewTransactionsHandler(memory.New(), mocks.NewDepositService(t), nil)

		rr := httptest.NewRecorder()
		h.RequestDeposit(rr, httptest.NewRequest(http.MethodPost, "/deposits", strings.NewReader("not-json")))

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

func TestRequestWithdrawal(t *testing.T) {
	body := `{"account_id":"acct-1","amount":"100","destination":"0x52908400098527886E0F7030069857D2E4169EE7"}`

	t.Run("Success", func(t *testing.T) {
		withdrawals := mocks.NewWithdrawalService(t)
		withdrawals.On("Request", mock.Anything, "acct-1", amountOf("100"), "0x52908400098527886E0F7030069857D2E4169EE7").
			Return(&withdrawal.Requested{TransactionID: "tx-1", Amount: decimal.NewFromInt(100), Fee: decimal.RequireFromString("1.5")}, nil)
		h := NewTransactionsHandler(memory.New(), nil, withdrawals)

		rr := httptest.NewRecorder()
		h.RequestWithdrawal(rr, httptest.NewRequest(http.MethodPost, "/withdrawals", strings.NewReader(body)))

		assert.Equal(t, http.StatusCreated, rr.Code)
		var got withdrawal.Requested
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
		assert.True(t, decimal.RequireFromString("1.5").Equal(got.Fee))
	})

	t.Run("Insufficient Funds", func(t *testing.T) {
		withdrawals := mocks.NewWithdrawalService(t)
		withdrawals.On("Request", mock.Anything, "acct-1", mock.Anything, mock.Anything).
			Return(nil, fmt.Errorf("debit: %w", storage.ErrInsufficientFunds))
		h := NewTransactionsHandler(memory.New(), nil, withdrawals)

		rr := httptest.NewRecorder()
		h.RequestWithdrawal(rr, httptest.NewRequest(http.MethodPost, "/withdrawals", strings.NewReader(body)))

		assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
		assert.Contains(t, rr.Body.String(), "insufficient funds")
	})

	t.Run("Invalid Destination", func(t *testing.T) {
		withdrawals := mocks.NewWithdrawalService(t)
		withdrawals.On("Request", mock.Anything, "acct-1", mock.Anything, "nope").
			Return(nil, withdrawal.ErrInvalidDestination)
		h := NewTransactionsHandler(memory.New(), nil, withdrawals)

		rr := httptest.NewRecorder()
		h.RequestWithdrawal(rr, httptest.NewRequest(http.MethodPost, "/withdrawals", strings.NewReader(`{"account_id":"acct-1","amount":1,"destination":"nope"}`)))

		assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	})

	t.Run("Generic Failure", func(t *testing.T) {
		withdrawals := mocks.NewWithdrawalService(t)
		withdrawals.On("Request", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return(nil, errors.New("something went wrong"))
		h := NewTransactionsHandler(memory.New(), nil, withdrawals)

		rr := httptest.NewRecorder()
		h.RequestWithdrawal(rr, httptest.NewRequest(http.MethodPost, "/withdrawals", strings.NewReader(body)))

		assert.Equal(t, http.StatusInternalServerError, rr.Code)
	})
}

func TestGetTransactionById(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	_, err := store.CreateAccount(ctx, &models.Account{ID: "acct-1"})
	require.NoError(t, err)
	receipt, err := ledger.New(store, nil).Credit(ctx, "acct-1", decimal.NewFromInt(5), ledger.Entry{Kind: models.DEPOSIT, ExternalRef: "test:1"})
	require.NoError(t, err)
	h := NewTransactionsHandler(store, nil, nil)

	t.Run("Success", func(t *testing.T) {
		rr := httptest.NewRecorder()
		h.GetTransactionById(rr, httptest.NewRequest(http.MethodGet, "/transactions/"+receipt.TransactionID, nil), uuid.MustParse(receipt.TransactionID))

		assert.Equal(t, http.StatusOK, rr.Code)
		var got models.Transaction
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
		assert.Equal(t, models.COMPLETED, got.Status)
	})

	t.Run("Not Found", func(t *testing.T) {
		rr := httptest.NewRecorder()
		h.GetTransactionById(rr, httptest.NewRequest(http.MethodGet, "/transactions/x", nil), uuid.New())
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})
}
