package controllers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ecobricks/rewards-backend/internal/ledger"
	"github.com/ecobricks/rewards-backend/pkg/db/models"
	"github.com/ecobricks/rewards-backend/pkg/enums"
	pkgerrors "github.com/ecobricks/rewards-backend/pkg/errors"
	"github.com/ecobricks/rewards-backend/pkg/logger"
)

type stubLedger struct {
	balance int64
	history []models.ActivityRecord
	summary *ledger.Summary
	credit  *models.ActivityRecord
	err     error

	lastUser   string
	lastCredit ledger.CreditInput
}

func (s *stubLedger) Balance(_ context.Context, userID string) (int64, error) {
	s.lastUser = userID
	return s.balance, s.err
}

func (s *stubLedger) History(_ context.Context, userID string) ([]models.ActivityRecord, error) {
	s.lastUser = userID
	return s.history, s.err
}

func (s *stubLedger) Summary(_ context.Context, userID string) (*ledger.Summary, error) {
	s.lastUser = userID
	return s.summary, s.err
}

func (s *stubLedger) CreditForDonation(_ context.Context, input ledger.CreditInput) (*models.ActivityRecord, error) {
	s.lastCredit = input
	return s.credit, s.err
}

type stubRates struct {
	cfg     *models.RewardConfig
	err     error
	setRate decimal.Decimal
	actor   string
}

func (s *stubRates) Rate(context.Context) decimal.Decimal {
	if s.cfg == nil {
		return decimal.NewFromInt(10)
	}
	return s.cfg.PointsPerKg
}

func (s *stubRates) Snapshot(context.Context) (*models.RewardConfig, error) {
	return s.cfg, s.err
}

func (s *stubRates) SetRate(_ context.Context, actorID string, rate decimal.Decimal) (*models.RewardConfig, error) {
	s.actor = actorID
	s.setRate = rate
	if s.err != nil {
		return nil, s.err
	}
	return &models.RewardConfig{PointsPerKg: rate, UpdatedBy: &actorID, UpdatedAt: time.Now()}, nil
}

func TestRewardsBalanceSuccess(t *testing.T) {
	svc := &stubLedger{balance: 32}
	handler := RewardsBalance(svc, logger.Nop())

	req := withUser(httptest.NewRequest(http.MethodGet, "/api/v1/rewards/balance", nil), "user-1", enums.MemberRoleUser)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}
	var envelope struct {
		Data balanceResponse `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if envelope.Data.Balance != 32 || envelope.Data.UserID != "user-1" {
		t.Fatalf("unexpected body %+v", envelope.Data)
	}
	if svc.lastUser != "user-1" {
		t.Fatalf("service called with %q", svc.lastUser)
	}
}

func TestRewardsBalanceMissingUser(t *testing.T) {
	handler := RewardsBalance(&stubLedger{}, logger.Nop())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/rewards/balance", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", rec.Code)
	}
}

func TestRewardsHistoryUnavailable(t *testing.T) {
	handler := RewardsHistory(&stubLedger{err: pkgerrors.New(pkgerrors.CodeUnavailable, "db down")}, logger.Nop())

	req := withUser(httptest.NewRequest(http.MethodGet, "/api/v1/rewards/history", nil), "user-1", enums.MemberRoleUser)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 got %d", rec.Code)
	}
}

func TestRewardsHistoryReturnsRecords(t *testing.T) {
	kg := decimal.RequireFromString("3.2")
	history := []models.ActivityRecord{{
		ID:          uuid.New(),
		UserID:      "user-1",
		Type:        enums.ActivityTypeDonate,
		Status:      enums.ActivityStatusApproved,
		Kg:          &kg,
		PointsDelta: 32,
	}}
	handler := RewardsHistory(&stubLedger{history: history}, logger.Nop())

	req := withUser(httptest.NewRequest(http.MethodGet, "/api/v1/rewards/history", nil), "user-1", enums.MemberRoleUser)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	var envelope struct {
		Data []models.ActivityRecord `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(envelope.Data) != 1 || envelope.Data[0].PointsDelta != 32 {
		t.Fatalf("unexpected history %+v", envelope.Data)
	}
	if !envelope.Data[0].Kg.Equal(kg) {
		t.Fatalf("expected kg 3.2 got %s", envelope.Data[0].Kg)
	}
}

func TestRewardsRatePublicRead(t *testing.T) {
	handler := RewardsRate(&stubRates{cfg: &models.RewardConfig{PointsPerKg: decimal.RequireFromString("12.5")}})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/rewards/config", nil))

	var envelope struct {
		Data rateResponse `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !envelope.Data.PointsPerKg.Equal(decimal.RequireFromString("12.5")) {
		t.Fatalf("unexpected rate %s", envelope.Data.PointsPerKg)
	}
}

func TestAdminRewardsConfigUpdate(t *testing.T) {
	svc := &stubRates{}
	handler := AdminRewardsConfigUpdate(svc, logger.Nop())

	req := httptest.NewRequest(http.MethodPut, "/api/admin/v1/rewards/config", bytes.NewBufferString(`{"points_per_kg":"20"}`))
	req = withUser(req, "admin-1", enums.MemberRoleAdmin)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d body=%s", rec.Code, rec.Body.String())
	}
	if !svc.setRate.Equal(decimal.NewFromInt(20)) || svc.actor != "admin-1" {
		t.Fatalf("unexpected call rate=%s actor=%s", svc.setRate, svc.actor)
	}
}

func TestAdminRewardsConfigUpdateInvalidRate(t *testing.T) {
	svc := &stubRates{err: pkgerrors.New(pkgerrors.CodeInvalidConfig, "points per kg must be positive")}
	handler := AdminRewardsConfigUpdate(svc, logger.Nop())

	req := httptest.NewRequest(http.MethodPut, "/api/admin/v1/rewards/config", bytes.NewBufferString(`{"points_per_kg":-1}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rec.Code)
	}
	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if envelope.Error.Code != string(pkgerrors.CodeInvalidConfig) {
		t.Fatalf("expected INVALID_CONFIG got %s", envelope.Error.Code)
	}
}

func TestAdminRewardsConfigUpdateRejectsUnknownField(t *testing.T) {
	handler := AdminRewardsConfigUpdate(&stubRates{}, logger.Nop())

	req := httptest.NewRequest(http.MethodPut, "/api/admin/v1/rewards/config", bytes.NewBufferString(`{"rate":"20"}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rec.Code)
	}
}

func TestAdminDirectCredit(t *testing.T) {
	eventID := "evt-77"
	svc := &stubLedger{credit: &models.ActivityRecord{ID: uuid.New(), PointsDelta: 32, DonationEventID: &eventID}}
	handler := AdminDirectCredit(svc, logger.Nop())

	body := `{"donation_event_id":"evt-77","user_id":"user-9","kg":3.2,"reason":"drop-off"}`
	req := httptest.NewRequest(http.MethodPost, "/api/admin/v1/rewards/credits", bytes.NewBufferString(body))
	req = withUser(req, "admin-1", enums.MemberRoleAdmin)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d body=%s", rec.Code, rec.Body.String())
	}
	got := svc.lastCredit
	if got.DonationEventID != "evt-77" || got.UserID != "user-9" || got.ApproverID != "admin-1" {
		t.Fatalf("unexpected credit input %+v", got)
	}
	if !got.Kg.Equal(decimal.RequireFromString("3.2")) {
		t.Fatalf("expected kg 3.2 got %s", got.Kg)
	}
}

func TestAdminDirectCreditRequiresEventID(t *testing.T) {
	svc := &stubLedger{}
	handler := AdminDirectCredit(svc, logger.Nop())

	req := httptest.NewRequest(http.MethodPost, "/api/admin/v1/rewards/credits", bytes.NewBufferString(`{"user_id":"user-9","kg":"1"}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rec.Code)
	}
	if svc.lastCredit.UserID != "" {
		t.Fatalf("ledger should not be called on invalid input")
	}
}
