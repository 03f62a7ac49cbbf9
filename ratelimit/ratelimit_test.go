package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/miragespace/vpsdash/auth"

	"github.com/alicebob/miniredis/v2"
	"github.com/dgrijalva/jwt-go"
	"github.com/go-redis/redis/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestLimiter(t *testing.T, limit int, now *time.Time) (*Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
	t.Cleanup(func() { rdb.Close() })

	l, err := New(Options{
		Logger: zap.NewNop(),
		Redis:  rdb,
		Limit:  limit,
		Now:    func() time.Time { return *now },
	})
	require.NoError(t, err)
	return l, mr
}

func TestAllow_FixedWindow(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 5, 0, time.UTC)
	l, mr := newTestLimiter(t, 3, &now)

	for i := 0; i < 3; i++ {
		ok, err := l.Allow("user:alice")
		require.NoError(t, err)
		assert.True(t, ok, "request %d", i)
	}
	ok, err := l.Allow("user:alice")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = l.Allow("user:bob")
	require.NoError(t, err)
	assert.True(t, ok, "counters are per key")

	now = now.Add(time.Minute)
	ok, err = l.Allow("user:alice")
	require.NoError(t, err)
	assert.True(t, ok, "next window starts fresh")

	key := l.windowKey("user:alice", now)
	assert.True(t, mr.Exists(key))
	assert.Equal(t, time.Minute, mr.TTL(key))
}

func TestNew_Defaults(t *testing.T) {
	_, err := New(Options{Redis: redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{"127.0.0.1:0"}})})
	require.Error(t, err)

	mr := miniredis.RunT(t)
	l, err := New(Options{Logger: zap.NewNop(), Redis: redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})})
	require.NoError(t, err)
	assert.Equal(t, DefaultLimit, l.Limit)
	assert.Equal(t, time.Minute, l.Window)
}

func TestMiddleware(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	l, mr := newTestLimiter(t, 1, &now)

	var served int
	h := l.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		served++
	}))
	request := func(user string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/servers", nil)
		req = req.WithContext(auth.WithClaims(req.Context(), &auth.Claims{
			StandardClaims: jwt.StandardClaims{Subject: user},
		}))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusOK, request("alice").Code)
	rec := request("alice")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.Equal(t, http.StatusOK, request("bob").Code)
	assert.Equal(t, 2, served)

	mr.Close()
	assert.Equal(t, http.StatusOK, request("alice").Code, "limiter fails open")
	assert.Equal(t, 3, served)
}
