package routes

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/ecobricks/rewards-backend/internal/donations"
	"github.com/ecobricks/rewards-backend/internal/ledger"
	"github.com/ecobricks/rewards-backend/internal/rewardconfig"
	"github.com/ecobricks/rewards-backend/internal/vouchers"
	pkgAuth "github.com/ecobricks/rewards-backend/pkg/auth"
	"github.com/ecobricks/rewards-backend/pkg/config"
	"github.com/ecobricks/rewards-backend/pkg/db"
	"github.com/ecobricks/rewards-backend/pkg/db/dbtest"
	"github.com/ecobricks/rewards-backend/pkg/enums"
	"github.com/ecobricks/rewards-backend/pkg/logger"
	"github.com/ecobricks/rewards-backend/pkg/metrics"
	"github.com/ecobricks/rewards-backend/pkg/redis"
)

type testServer struct {
	t       *testing.T
	cfg     *config.Config
	handler http.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	cfg := &config.Config{
		App: config.AppConfig{Env: "test"},
		JWT: config.JWTConfig{Secret: "test-secret", Issuer: "ecobricks-test", ExpirationMinutes: 30},
	}
	logg := logger.Nop()
	conn := dbtest.New(t)
	client := db.FromConn(conn)
	registry := prometheus.NewRegistry()
	m := metrics.NewRewards(registry)
	maxKg := decimal.NewFromInt(1000)

	rates, err := rewardconfig.NewService(rewardconfig.NewRepository(conn), logg, rewardconfig.Options{
		DefaultRate: decimal.NewFromInt(10),
		MaxRate:     decimal.NewFromInt(1000),
	})
	require.NoError(t, err)
	ledgerSvc, err := ledger.NewService(ledger.NewRepository(conn), client, rates, logg, ledger.Options{MaxKg: maxKg, Metrics: m})
	require.NoError(t, err)
	voucherSvc, err := vouchers.NewService(vouchers.NewRepository(conn), ledgerSvc, logg, vouchers.Options{Metrics: m})
	require.NoError(t, err)
	donationSvc, err := donations.NewService(donations.NewRepository(conn), ledgerSvc, logg, donations.Options{MaxKg: maxKg})
	require.NoError(t, err)

	handler := NewRouter(cfg, logg, client, nil, redis.NewMemoryStore(), registry, Services{
		Config:    rates,
		Ledger:    ledgerSvc,
		Vouchers:  voucherSvc,
		Donations: donationSvc,
	})
	return &testServer{t: t, cfg: cfg, handler: handler}
}

func (s *testServer) token(userID string, role enums.MemberRole) string {
	s.t.Helper()
	token, err := pkgAuth.MintAccessToken(s.cfg.JWT, time.Now(), pkgAuth.Identity{UserID: userID, Role: role})
	require.NoError(s.t, err)
	return token
}

func (s *testServer) do(method, path, token, idempotencyKey, body string) *httptest.ResponseRecorder {
	s.t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder, dest any) {
	t.Helper()
	envelope := struct {
		Data any `json:"data"`
	}{Data: dest}
	require.NoError(t, json.NewDecoder(bytes.NewReader(rec.Body.Bytes())).Decode(&envelope))
}

func TestHealthAndMetricsArePublic(t *testing.T) {
	srv := newTestServer(t)

	require.Equal(t, http.StatusOK, srv.do(http.MethodGet, "/health/live", "", "", "").Code)
	require.Equal(t, http.StatusOK, srv.do(http.MethodGet, "/health/ready", "", "", "").Code)

	rec := srv.do(http.MethodGet, "/metrics", "", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "rewards_points_credited_total")
}

func TestRewardsConfigIsPublic(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.do(http.MethodGet, "/api/v1/rewards/config", "", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		PointsPerKg decimal.Decimal `json:"points_per_kg"`
	}
	decodeData(t, rec, &body)
	require.True(t, body.PointsPerKg.Equal(decimal.NewFromInt(10)))
}

func TestUserRoutesRequireToken(t *testing.T) {
	srv := newTestServer(t)

	require.Equal(t, http.StatusUnauthorized, srv.do(http.MethodGet, "/api/v1/rewards/balance", "", "", "").Code)
	require.Equal(t, http.StatusUnauthorized, srv.do(http.MethodGet, "/api/v1/rewards/balance", "not-a-jwt", "", "").Code)
}

func TestAdminRoutesRequireAdminRole(t *testing.T) {
	srv := newTestServer(t)
	userToken := srv.token("user-1", enums.MemberRoleUser)

	rec := srv.do(http.MethodGet, "/api/admin/v1/rewards/config", userToken, "", "")
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = srv.do(http.MethodGet, "/api/admin/v1/rewards/config", srv.token("admin-1", enums.MemberRoleAdmin), "", "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestDonationToRedemptionFlow(t *testing.T) {
	srv := newTestServer(t)
	userToken := srv.token("user-1", enums.MemberRoleUser)
	adminToken := srv.token("admin-1", enums.MemberRoleAdmin)

	rec := srv.do(http.MethodPost, "/api/v1/rewards/donations", userToken, "donation-1", `{"kg":"3.2","note":"bottles"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var donation struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	decodeData(t, rec, &donation)
	require.Equal(t, "pending", donation.Status)

	rec = srv.do(http.MethodGet, "/api/admin/v1/rewards/donations", adminToken, "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), donation.ID)

	approvePath := "/api/admin/v1/rewards/donations/" + donation.ID + "/approve"
	rec = srv.do(http.MethodPost, approvePath, adminToken, "approve-1", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = srv.do(http.MethodPost, "/api/admin/v1/rewards/credits", adminToken, "credit-1",
		`{"donation_event_id":"dropoff-77","user_id":"user-1","kg":10}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	require.Equal(t, int64(132), balanceOf(t, srv, userToken))

	rec = srv.do(http.MethodPost, "/api/admin/v1/rewards/vouchers", adminToken, "",
		`{"title":"Free tote","code":"tote100","discount":"1 tote bag","points_required":100,"expires_at":"2099-12-31"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var voucher struct {
		ID   string `json:"id"`
		Code string `json:"code"`
	}
	decodeData(t, rec, &voucher)
	require.Equal(t, "TOTE100", voucher.Code)

	redeemPath := "/api/v1/rewards/vouchers/" + voucher.ID + "/redeem"
	first := srv.do(http.MethodPost, redeemPath, userToken, "redeem-1", "")
	require.Equal(t, http.StatusCreated, first.Code, first.Body.String())

	replay := srv.do(http.MethodPost, redeemPath, userToken, "redeem-1", "")
	require.Equal(t, http.StatusCreated, replay.Code)
	require.JSONEq(t, first.Body.String(), replay.Body.String())
	require.Equal(t, int64(32), balanceOf(t, srv, userToken))

	rec = srv.do(http.MethodPost, redeemPath, userToken, "redeem-2", "")
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Contains(t, rec.Body.String(), "INSUFFICIENT_POINTS")

	rec = srv.do(http.MethodGet, "/api/v1/rewards/issuances", userToken, "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var issuances []struct {
		Code        string `json:"code"`
		PointsSpent int64  `json:"points_spent"`
	}
	decodeData(t, rec, &issuances)
	require.Len(t, issuances, 1)
	require.Equal(t, int64(100), issuances[0].PointsSpent)

	rec = srv.do(http.MethodGet, "/api/v1/rewards/summary", userToken, "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var summary ledger.Summary
	decodeData(t, rec, &summary)
	require.Equal(t, int64(2), summary.ApprovedDonations)
	require.Equal(t, int64(100), summary.PointsSpent)
}

func TestRedeemRequiresIdempotencyKey(t *testing.T) {
	srv := newTestServer(t)
	userToken := srv.token("user-1", enums.MemberRoleUser)

	rec := srv.do(http.MethodPost, "/api/v1/rewards/vouchers/3f0c7f9e-2b1a-4c55-9d3e-8a1b2c3d4e5f/redeem", userToken, "", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func balanceOf(t *testing.T, srv *testServer, token string) int64 {
	t.Helper()
	rec := srv.do(http.MethodGet, "/api/v1/rewards/balance", token, "", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var body struct {
		Balance int64 `json:"balance"`
	}
	decodeData(t, rec, &body)
	return body.Balance
}
