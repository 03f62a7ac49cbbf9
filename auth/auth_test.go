package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const signingKey = "0123456789abcdef0123"

func newTestAuth(t *testing.T) *Auth {
	t.Helper()
	a, err := New(Options{Logger: zap.NewNop(), JWTSigningKey: signingKey})
	require.NoError(t, err)
	return a
}

func protected(a *Auth) http.Handler {
	return a.Middleware()(a.ClaimCheck()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, _ := FromContext(r.Context())
		w.Write([]byte(claims.UserID()))
	})))
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Options{JWTSigningKey: signingKey})
	require.Error(t, err)
	_, err = New(Options{Logger: zap.NewNop(), JWTSigningKey: "short"})
	require.Error(t, err)
}

func TestMiddleware(t *testing.T) {
	a := newTestAuth(t)
	handler := protected(a)

	token, err := a.CreateTokenFromClaims(Claims{StandardClaims: jwt.StandardClaims{Subject: "user-1"}}, time.Minute)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		status int
	}{
		{"valid", "Bearer " + token, http.StatusOK},
		{"missing", "", http.StatusUnauthorized},
		{"not bearer", "Basic abc", http.StatusUnauthorized},
		{"garbage", "Bearer abc.def.ghi", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			assert.Equal(t, tt.status, rec.Code)
			if tt.status == http.StatusOK {
				assert.Equal(t, "user-1", rec.Body.String())
			}
		})
	}
}

func TestMiddleware_RejectsExpiredAndForeignTokens(t *testing.T) {
	a := newTestAuth(t)
	handler := protected(a)

	expired, err := a.CreateTokenFromClaims(Claims{StandardClaims: jwt.StandardClaims{Subject: "user-1"}}, -time.Minute)
	require.NoError(t, err)

	other, err := New(Options{Logger: zap.NewNop(), JWTSigningKey: "another-signing-key-000"})
	require.NoError(t, err)
	foreign, err := other.CreateTokenFromClaims(Claims{StandardClaims: jwt.StandardClaims{Subject: "user-1"}}, time.Minute)
	require.NoError(t, err)

	noSubject, err := a.CreateTokenFromClaims(Claims{}, time.Minute)
	require.NoError(t, err)

	for _, token := range []string{expired, foreign, noSubject} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	}
}

func TestMiddleware_Audience(t *testing.T) {
	a, err := New(Options{Logger: zap.NewNop(), JWTSigningKey: signingKey, Audience: "authenticated"})
	require.NoError(t, err)
	handler := protected(a)

	matching, err := a.CreateTokenFromClaims(Claims{StandardClaims: jwt.StandardClaims{Subject: "user-1"}}, time.Minute)
	require.NoError(t, err)
	service, err := a.CreateTokenFromClaims(Claims{StandardClaims: jwt.StandardClaims{Subject: "user-1", Audience: "service_role"}}, time.Minute)
	require.NoError(t, err)

	serve := func(token string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}
	assert.Equal(t, http.StatusOK, serve(matching))
	assert.Equal(t, http.StatusUnauthorized, serve(service))
}

func TestRequireAdmin(t *testing.T) {
	a := newTestAuth(t)
	handler := a.RequireAdmin()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	serve := func(claims *Claims) int {
		req := httptest.NewRequest(http.MethodGet, "/admin", nil)
		if claims != nil {
			req = req.WithContext(WithClaims(req.Context(), claims))
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	user := &Claims{StandardClaims: jwt.StandardClaims{Subject: "u"}, Role: "authenticated"}
	admin := &Claims{StandardClaims: jwt.StandardClaims{Subject: "a"}, AppMetadata: AppMetadata{Role: RoleAdmin}}

	assert.Equal(t, http.StatusForbidden, serve(user))
	assert.Equal(t, http.StatusNoContent, serve(admin))
	assert.Equal(t, http.StatusUnauthorized, serve(nil))
}
