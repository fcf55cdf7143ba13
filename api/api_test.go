package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/ksiaz/liquidation-trading-sub004/config"
	"github.com/ksiaz/liquidation-trading-sub004/rawstore"
	"github.com/ksiaz/liquidation-trading-sub004/risk"
	"github.com/ksiaz/liquidation-trading-sub004/thresholdstore"
)

func newTestServer(t *testing.T) (*Server, *risk.CapitalManager) {
	t.Helper()
	store, err := rawstore.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	thresholds, err := thresholdstore.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { thresholds.Close() })

	cm, err := risk.NewCapitalManager("acct-1", config.DefaultRiskConfig(), decimal.NewFromInt(10000), nil, nil)
	require.NoError(t, err)

	srv, err := NewServer(store, thresholds, map[string]*risk.CapitalManager{"acct-1": cm}, []byte("test-secret"))
	require.NoError(t, err)
	return srv, cm
}

func TestNewServerRejectsEmptySecret(t *testing.T) {
	store, err := rawstore.Open(":memory:")
	require.NoError(t, err)
	defer store.Close()
	thresholds, err := thresholdstore.Open(":memory:")
	require.NoError(t, err)
	defer thresholds.Close()

	_, err = NewServer(store, thresholds, nil, nil)
	require.Error(t, err)
}

func TestHealthzReportsOK(t *testing.T) {
	srv, _ := newTestServer(t)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	srv.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestRiskStateReturnsCurrentDrawdownState(t *testing.T) {
	srv, _ := newTestServer(t)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/risk/acct-1", nil)
	srv.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "NORMAL")
}

func TestRiskStateUnknownAccountReturnsNotFound(t *testing.T) {
	srv, _ := newTestServer(t)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/risk/ghost", nil)
	srv.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestAdminEndpointRejectsMissingToken(t *testing.T) {
	srv, _ := newTestServer(t)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/admin/risk/acct-1/reset-drawdown", nil)
	srv.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func signTestToken(t *testing.T, secret []byte, operator string) string {
	t.Helper()
	claims := adminClaims{
		Operator:         operator,
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	require.NoError(t, err)
	return signed
}

func TestAdminEndpointForceResetsWithValidToken(t *testing.T) {
	srv, cm := newTestServer(t)
	for i := 0; i < 10; i++ {
		cm.RecordTradeResult(decimal.NewFromInt(-50), "BTC")
	}
	require.Equal(t, risk.StateDailyCooldown, cm.Drawdown().State())

	token := signTestToken(t, []byte("test-secret"), "ops-oncall")
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/admin/risk/acct-1/reset-drawdown", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	srv.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, risk.StateNormal, cm.Drawdown().State())
}

func TestAdminEndpointRejectsTokenSignedWithWrongSecret(t *testing.T) {
	srv, _ := newTestServer(t)
	token := signTestToken(t, []byte("wrong-secret"), "attacker")
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/admin/risk/acct-1/reset-drawdown", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	srv.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestTiersReflectsTrackedWallets(t *testing.T) {
	srv, _ := newTestServer(t)
	require.NoError(t, srv.store.UpsertWalletPollingConfig(rawstore.WalletPollingConfig{Wallet: "0xabc", Tier: 1}))
	require.NoError(t, srv.store.UpsertWalletPollingConfig(rawstore.WalletPollingConfig{Wallet: "0xdef", Tier: 3}))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/tiers", nil)
	srv.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"tier1":1`)
	require.Contains(t, w.Body.String(), `"tier3":1`)
}
