package payos

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/chris/cash-settlement/pkg/models"
	"github.com/chris/cash-settlement/pkg/providers"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testAdapter() *Adapter {
	return New(Config{ChecksumKey: "checksum-key", ClientID: "cid", APIKey: "key"})
}

func webhookBody(t *testing.T, a *Adapter, code string, data map[string]interface{}) []byte {
	t.Helper()
	sig, err := a.SignData(data)
	require.NoError(t, err)
	rawData, _ := json.Marshal(data)
	body, _ := json.Marshal(map[string]interface{}{
		"code":      code,
		"desc":      "success",
		"success":   code == "00",
		"data":      json.RawMessage(rawData),
		"signature": sig,
	})
	return body
}

func paidData() map[string]interface{} {
	return map[string]interface{}{
		"orderCode":            123,
		"amount":               500000,
		"description":          "acct:acct-1",
		"accountNumber":        "12345678",
		"reference":            "TF230204212323",
		"transactionDateTime":  "2023-02-04 18:25:00",
		"currency":             "VND",
		"paymentLinkId":        "124c33293c43417ab7879e14c8d9eb18",
		"code":                 "00",
		"desc":                 "Thành công",
		"counterAccountBankId": nil,
		"counterAccountName":   nil,
		"virtualAccountName":   "",
		"virtualAccountNumber": "",
	}
}

func TestCanonicalData(t *testing.T) {
	out, err := canonicalData(json.RawMessage(`{"b":2,"a":"x","c":null,"d":true}`))
	require.NoError(t, err)
	assert.Equal(t, "a=x&b=2&c=&d=true", out)
}

func TestVerify(t *testing.T) {
	a := testAdapter()

	t.Run("Valid", func(t *testing.T) {
		assert.NoError(t, a.Verify(webhookBody(t, a, "00", paidData()), ""))
	})

	t.Run("Tampered Data", func(t *testing.T) {
		var w map[string]json.RawMessage
		require.NoError(t, json.Unmarshal(webhookBody(t, a, "00", paidData()), &w))
		data := paidData()
		data["amount"] = 5000000
		w["data"], _ = json.Marshal(data)
		raw, _ := json.Marshal(w)
		assert.ErrorIs(t, a.Verify(raw, ""), providers.ErrAuthentication)
	})
}

func TestNormalize(t *testing.T) {
	a := testAdapter()

	event, err := a.Normalize(webhookBody(t, a, "00", paidData()))
	require.NoError(t, err)
	assert.Equal(t, "payos:123", event.ExternalRef)
	assert.Equal(t, "acct-1", event.AccountID)
	assert.True(t, event.Amount.Equal(decimal.NewFromInt(20)))
	assert.Equal(t, models.OutcomeConfirmed, event.Outcome)

	event, err = a.Normalize(webhookBody(t, a, "01", paidData()))
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeFailed, event.Outcome)

	data := paidData()
	data["description"] = "no tag here"
	_, err = a.Normalize(webhookBody(t, a, "00", data))
	assert.ErrorIs(t, err, providers.ErrMalformedPayload)
}

func TestPollStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/payment-requests/123", r.URL.Path)
		assert.Equal(t, "cid", r.Header.Get("x-client-id"))
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"code": "00",
			"data": map[string]interface{}{"orderCode": 123, "amount": 500000, "amountPaid": 500000, "status": "PAID"},
		})
	}))
	defer srv.Close()

	a := testAdapter()
	a.cfg.BaseURL = srv.URL

	event, err := a.PollStatus(context.Background(), "payos:123")
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeConfirmed, event.Outcome)
	assert.True(t, event.Amount.Equal(decimal.NewFromInt(20)))
	assert.Empty(t, event.AccountID)
}
