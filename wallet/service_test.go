package wallet

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/miragespace/vpsdash/auth"
	resp "github.com/miragespace/vpsdash/response"

	"github.com/dgrijalva/jwt-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestService_ListsOnlyCallerWallets(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	_, err := m.Apply(ctx, Change{UserID: "alice", Currency: "btc", Kind: KindDeposit, Amount: dec("0.5"), Reference: "order-1"})
	require.NoError(t, err)
	_, err = m.Apply(ctx, Change{UserID: "bob", Currency: "eth", Kind: KindDeposit, Amount: dec("2"), Reference: "order-2"})
	require.NoError(t, err)

	s, err := NewService(ServiceOptions{WalletManager: m, Logger: zap.NewNop()})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(auth.WithClaims(req.Context(), &auth.Claims{
		StandardClaims: jwt.StandardClaims{Subject: "alice"},
	}))
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var wallets []Wallet
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp.Envelope{Result: &wallets}))
	require.Len(t, wallets, 1)
	assert.Equal(t, "btc", wallets[0].Currency)
	assert.True(t, wallets[0].Balance.Equal(dec("0.5")))
}
