package handlers

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	bursarapi "bizworks/api_bursar/pkg/api/bursar"
	"bizworks/api_bursar/pkg/ctxkeys"

	"bizworks/api_bursar/internal/ledger"
)

// testIdentity injects an authenticated user the way JWTAuthMiddleware would.
func testIdentity(userID, email, role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(string(ctxkeys.KeyUserID), userID)
		c.Set(string(ctxkeys.KeyEmail), email)
		c.Set(string(ctxkeys.KeyRole), role)
		c.Next()
	}
}

func newHandlerTestRouter(t *testing.T, userID, email, role string) (sqlmock.Sqlmock, *gin.Engine) {
	t.Helper()

	mockDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}

	db = mockDB
	logger = logrus.New()
	metrics = nil
	emailService = nil
	tokenStore = ledger.NewStore(mockDB, logrus.New(), ledger.Options{WelcomeGrant: 100, TrialDays: 14, DailyTokenLimit: 25})
	t.Cleanup(func() {
		db = nil
		tokenStore = nil
		mockDB.Close()
	})

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(testIdentity(userID, email, role))
	router.GET("/tokens/balance", GetBalance)
	router.POST("/tokens/consume", ConsumeTokens)
	router.GET("/tokens/transactions", GetTransactions)
	router.POST("/admin/tokens/adjust", AdminAdjustTokens)
	router.GET("/admin/tokens/account", AdminGetAccount)
	return mock, router
}

func balanceRows(email string, total, used, limit, daily int64) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{
		"user_id", "email", "total_tokens", "used_tokens",
		"daily_token_limit", "daily_tokens_used", "trial_end_date", "plan_id",
		"created_at", "updated_at",
	}).AddRow("user-1", email, total, used, limit, daily, nil, nil, now, now)
}

func TestGetBalanceUnknownUserIsZeroedDefault(t *testing.T) {
	mock, router := newHandlerTestRouter(t, "user-1", "amaka@lagosmart.ng", "user")

	mock.ExpectQuery("SELECT user_id, email, total_tokens").
		WithArgs("user-1").
		WillReturnError(sql.ErrNoRows)

	req := httptest.NewRequest(http.MethodGet, "/tokens/balance", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body=%s)", w.Code, w.Body.String())
	}

	var resp bursarapi.BalanceResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.AvailableTokens != 0 || resp.TotalTokens != 0 {
		t.Fatalf("expected zeroed balance, got %+v", resp)
	}
	if resp.DailyTokenLimit != 25 {
		t.Fatalf("expected default daily limit 25, got %d", resp.DailyTokenLimit)
	}
	if resp.DailyTokensRemaining != 25 {
		t.Fatalf("expected full daily allowance remaining, got %d", resp.DailyTokensRemaining)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestConsumeTokensSuccess(t *testing.T) {
	mock, router := newHandlerTestRouter(t, "user-1", "amaka@lagosmart.ng", "user")

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE bursar.user_tokens").
		WithArgs("user-1", int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"email", "total_tokens", "used_tokens", "daily_token_limit", "daily_tokens_used", "trial_end_date"}).
			AddRow("amaka@lagosmart.ng", 100, 15, 25, 0, nil))
	mock.ExpectExec("INSERT INTO bursar.token_transactions").
		WithArgs(sqlmock.AnyArg(), "user-1", "amaka@lagosmart.ng", "usage", int64(-5), "document_generation", "Invoice draft").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	body := []byte(`{"amount":5,"feature":"document_generation","description":"Invoice draft"}`)
	req := httptest.NewRequest(http.MethodPost, "/tokens/consume", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body=%s)", w.Code, w.Body.String())
	}

	var resp bursarapi.ConsumeResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !resp.Consumed {
		t.Fatalf("expected consumed=true, got %+v", resp)
	}
	if resp.Balance.AvailableTokens != 85 {
		t.Fatalf("expected 85 available tokens, got %d", resp.Balance.AvailableTokens)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestConsumeTokensInsufficientReturns402(t *testing.T) {
	mock, router := newHandlerTestRouter(t, "user-1", "amaka@lagosmart.ng", "user")

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE bursar.user_tokens").
		WithArgs("user-1", int64(50)).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	mock.ExpectQuery("SELECT user_id, email, total_tokens").
		WithArgs("user-1").
		WillReturnRows(balanceRows("amaka@lagosmart.ng", 10, 8, 25, 3))

	body := []byte(`{"amount":50,"feature":"business_advisor"}`)
	req := httptest.NewRequest(http.MethodPost, "/tokens/consume", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusPaymentRequired {
		t.Fatalf("expected 402, got %d (body=%s)", w.Code, w.Body.String())
	}

	var resp bursarapi.ConsumeResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Consumed {
		t.Fatalf("expected consumed=false, got %+v", resp)
	}
	if resp.Balance.AvailableTokens != 2 {
		t.Fatalf("expected 2 available tokens, got %d", resp.Balance.AvailableTokens)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestConsumeTokensRejectsBadRequests(t *testing.T) {
	_, router := newHandlerTestRouter(t, "user-1", "amaka@lagosmart.ng", "user")

	cases := []string{
		`{"amount":0,"feature":"business_advisor"}`,
		`{"amount":-3,"feature":"business_advisor"}`,
		`{"amount":5}`,
	}

	for _, body := range cases {
		req := httptest.NewRequest(http.MethodPost, "/tokens/consume", bytes.NewReader([]byte(body)))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if w.Code != http.StatusBadRequest {
			t.Fatalf("body %s: expected 400, got %d", body, w.Code)
		}
	}
}

func TestAdminAdjustTokensNotFound(t *testing.T) {
	mock, router := newHandlerTestRouter(t, "admin-1", "ops@bizworks.ng", "admin")

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE bursar.user_tokens").
		WithArgs("ghost@nowhere.ng", int64(50)).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	body := []byte(`{"email":"ghost@nowhere.ng","amount":50,"reason":"support credit"}`)
	req := httptest.NewRequest(http.MethodPost, "/admin/tokens/adjust", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d (body=%s)", w.Code, w.Body.String())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestAdminAdjustTokensRejectsZeroAmount(t *testing.T) {
	_, router := newHandlerTestRouter(t, "admin-1", "ops@bizworks.ng", "admin")

	body := []byte(`{"email":"amaka@lagosmart.ng","amount":0}`)
	req := httptest.NewRequest(http.MethodPost, "/admin/tokens/adjust", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d (body=%s)", w.Code, w.Body.String())
	}
}

func TestAdminAdjustTokensAppliesCredit(t *testing.T) {
	mock, router := newHandlerTestRouter(t, "admin-1", "ops@bizworks.ng", "admin")

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE bursar.user_tokens").
		WithArgs("amaka@lagosmart.ng", int64(50)).
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "total_tokens", "used_tokens", "daily_token_limit", "daily_tokens_used", "trial_end_date"}).
			AddRow("user-1", 150, 20, 25, 0, nil))
	mock.ExpectExec("INSERT INTO bursar.token_transactions").
		WithArgs(sqlmock.AnyArg(), "user-1", "amaka@lagosmart.ng", "purchase", int64(50), nil, "goodwill credit").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	body := []byte(`{"email":"amaka@lagosmart.ng","amount":50,"reason":"goodwill credit"}`)
	req := httptest.NewRequest(http.MethodPost, "/admin/tokens/adjust", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body=%s)", w.Code, w.Body.String())
	}

	var resp bursarapi.AdjustResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !resp.Success || resp.Balance.AvailableTokens != 130 {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestAdminGetAccountRequiresEmail(t *testing.T) {
	_, router := newHandlerTestRouter(t, "admin-1", "ops@bizworks.ng", "admin")

	req := httptest.NewRequest(http.MethodGet, "/admin/tokens/account", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d (body=%s)", w.Code, w.Body.String())
	}
}
