package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveProvider(t *testing.T) {
	m := New()
	m.ObserveProvider("create", time.Millisecond, nil)
	m.ObserveProvider("create", time.Millisecond, errors.New("boom"))
	m.ObserveProvider("create", time.Millisecond, nil)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ProviderRequests.WithLabelValues("create", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ProviderRequests.WithLabelValues("create", "error")))
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.ObserveProvider("get", time.Second, nil)
	m.IncWebhook("ok")
	m.IncCredit("usdt")
}

func TestHandler(t *testing.T) {
	m := New()
	m.IncWebhook("credited")
	m.IncCredit("usdt")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `vpsdash_webhooks_total{outcome="credited"} 1`)
	assert.Contains(t, rec.Body.String(), `vpsdash_wallet_credits_total{currency="usdt"} 1`)
}
