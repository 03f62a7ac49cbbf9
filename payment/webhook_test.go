package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/miragespace/vpsdash/gateway"
	"github.com/miragespace/vpsdash/notify"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "ipn-secret"

func callbackBody(orderID, paymentID string, status gateway.Status, paid string) []byte {
	return []byte(fmt.Sprintf(
		`{"payment_id":%s,"payment_status":%q,"order_id":%q,"actually_paid":%s,"pay_currency":"btc"}`,
		paymentID, status, orderID, paid,
	))
}

func postCallback(t *testing.T, h http.Handler, body []byte, signature string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/payments/webhook", bytes.NewReader(body))
	if signature != "" {
		req.Header.Set(gateway.SignatureHeader, signature)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestWebhook_DuplicateDeliveryCreditsOnce(t *testing.T) {
	f := newFixture(t)
	txn := f.deposit(t, "alice", "50", "btc")
	h := f.manager.WebhookHandler(SecretVerifier(testSecret))

	body := callbackBody(txn.OrderID, `"`+txn.PaymentID+`"`, gateway.StatusFinished, "0.01")

	for i := 0; i < 3; i++ {
		rec := postCallback(t, h, body, gateway.Sign(testSecret, body))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var ack struct {
			Status    string    `json:"status"`
			Processed Processed `json:"processed"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ack))
		assert.Equal(t, "ok", ack.Status)
		assert.Equal(t, i == 0, ack.Processed.Credited)
	}

	assert.True(t, f.balance(t, "alice", "btc").Equal(dec("0.01")))
	assert.Len(t, f.recorder.Alerts(), 1)
}

func TestWebhook_NumericPaymentID(t *testing.T) {
	f := newFixture(t)
	txn := f.deposit(t, "alice", "50", "btc")
	require.NoError(t, f.manager.DB.Model(&Transaction{}).
		Where("order_id = ?", txn.OrderID).
		Update("payment_id", "5077125051").Error)
	h := f.manager.WebhookHandler(SecretVerifier(testSecret))

	body := callbackBody(txn.OrderID, "5077125051", gateway.StatusConfirming, "null")
	rec := postCallback(t, h, body, gateway.Sign(testSecret, body))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	stored, err := f.manager.Get(context.Background(), "alice", txn.OrderID)
	require.NoError(t, err)
	assert.Equal(t, gateway.StatusConfirming, stored.Status)
}

func TestWebhook_RejectsBadSignature(t *testing.T) {
	f := newFixture(t)
	txn := f.deposit(t, "alice", "50", "btc")
	h := f.manager.WebhookHandler(SecretVerifier(testSecret))
	body := callbackBody(txn.OrderID, `"`+txn.PaymentID+`"`, gateway.StatusFinished, "1")

	tests := []struct {
		name      string
		signature string
	}{
		{"missing", ""},
		{"wrong secret", gateway.Sign("other-secret", body)},
		{"garbage", "not-hex"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postCallback(t, h, body, tt.signature)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}

	stored, err := f.manager.Get(context.Background(), "alice", txn.OrderID)
	require.NoError(t, err)
	assert.Equal(t, gateway.StatusWaiting, stored.Status)
	assert.False(t, stored.Credited)
	assert.True(t, f.balance(t, "alice", "btc").IsZero())
	assert.Empty(t, f.recorder.Alerts())
}

func TestWebhook_SignatureCoversRawBytes(t *testing.T) {
	f := newFixture(t)
	txn := f.deposit(t, "alice", "50", "btc")
	h := f.manager.WebhookHandler(SecretVerifier(testSecret))

	signed := callbackBody(txn.OrderID, `"`+txn.PaymentID+`"`, gateway.StatusFinished, "1")
	tampered := callbackBody(txn.OrderID, `"`+txn.PaymentID+`"`, gateway.StatusFinished, "100")

	rec := postCallback(t, h, tampered, gateway.Sign(testSecret, signed))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.True(t, f.balance(t, "alice", "btc").IsZero())
}

func TestWebhook_Malformed(t *testing.T) {
	f := newFixture(t)
	h := f.manager.WebhookHandler(SecretVerifier(testSecret))

	for _, body := range [][]byte{
		[]byte(`{not json`),
		[]byte(`{"payment_status":"finished"}`),
		[]byte(`{"payment_id":"1"}`),
	} {
		rec := postCallback(t, h, body, gateway.Sign(testSecret, body))
		assert.Equal(t, http.StatusBadRequest, rec.Code, string(body))
	}
}

func TestWebhook_ProcessingFailureStillAcknowledged(t *testing.T) {
	f := newFixture(t)
	h := f.manager.WebhookHandler(SecretVerifier(testSecret))

	body := callbackBody("no-such-order", `"999"`, gateway.StatusFinished, "1")
	rec := postCallback(t, h, body, gateway.Sign(testSecret, body))
	require.Equal(t, http.StatusOK, rec.Code)

	var ack struct {
		Status    string    `json:"status"`
		Processed Processed `json:"processed"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ack))
	assert.Equal(t, "ok", ack.Status)
	assert.Equal(t, "processing failed", ack.Processed.Error)
	assert.Equal(t, []notify.Event{notify.EventDepositError}, f.recorder.Events())
}

func TestWebhook_MismatchedPaymentID(t *testing.T) {
	f := newFixture(t)
	txn := f.deposit(t, "alice", "50", "btc")
	h := f.manager.WebhookHandler(SecretVerifier(testSecret))

	body := callbackBody(txn.OrderID, `"someone-else"`, gateway.StatusFinished, "1")
	rec := postCallback(t, h, body, gateway.Sign(testSecret, body))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, f.balance(t, "alice", "btc").IsZero())
	assert.Equal(t, []notify.Event{notify.EventDepositError}, f.recorder.Events())
}
