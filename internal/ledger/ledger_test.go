package ledger

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"

	"bizworks/api_bursar/pkg/logging"
	"bizworks/api_bursar/pkg/models"
)

func newTestStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()

	mockDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { mockDB.Close() })

	store := NewStore(mockDB, logging.NewLogger(), Options{
		WelcomeGrant:    100,
		TrialDays:       14,
		DailyTokenLimit: 25,
	})
	return store, mock
}

func TestAvailableTokensNeverNegative(t *testing.T) {
	account := models.TokenAccount{TotalTokens: 10, UsedTokens: 25}
	if got := account.AvailableTokens(); got != 0 {
		t.Fatalf("expected available 0 when used exceeds total, got %d", got)
	}

	account = models.TokenAccount{TotalTokens: 100, UsedTokens: 40}
	if got := account.AvailableTokens(); got != 60 {
		t.Fatalf("expected available 60, got %d", got)
	}
}

func TestGetBalanceUnknownUserReturnsZeroedDefault(t *testing.T) {
	store, mock := newTestStore(t)
	userID := uuid.New().String()

	mock.ExpectQuery("SELECT user_id, email, total_tokens").
		WithArgs(userID).
		WillReturnError(sql.ErrNoRows)

	account, err := store.GetBalance(context.Background(), userID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if account.UserID != userID {
		t.Fatalf("expected user_id %s, got %s", userID, account.UserID)
	}
	if account.AvailableTokens() != 0 {
		t.Fatalf("expected zero available tokens, got %d", account.AvailableTokens())
	}
	if account.DailyTokenLimit != 25 {
		t.Fatalf("expected default daily limit 25, got %d", account.DailyTokenLimit)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestConsumeDebitsAndLogsOneUsageEntry(t *testing.T) {
	store, mock := newTestStore(t)
	userID := uuid.New().String()
	trialEnd := time.Now().Add(7 * 24 * time.Hour)

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE bursar.user_tokens").
		WithArgs(userID, int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"email", "total_tokens", "used_tokens", "daily_token_limit", "daily_tokens_used", "trial_end_date"}).
			AddRow("ada@lagosretail.ng", int64(100), int64(45), int64(25), int64(8), trialEnd))
	mock.ExpectExec("INSERT INTO bursar.token_transactions").
		WithArgs(sqlmock.AnyArg(), userID, "ada@lagosretail.ng", models.TxTypeUsage, int64(-5), "business_advisor", "AI chat").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	account, consumed, err := store.Consume(context.Background(), userID, 5, "business_advisor", "AI chat")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !consumed {
		t.Fatal("expected consume to succeed")
	}
	if account.UsedTokens != 45 {
		t.Fatalf("expected used_tokens 45, got %d", account.UsedTokens)
	}
	if account.DailyTokensUsed != 8 {
		t.Fatalf("expected daily_tokens_used 8, got %d", account.DailyTokensUsed)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestConsumeTrialWindowIncludesEndInstant(t *testing.T) {
	store, mock := newTestStore(t)
	userID := uuid.New().String()

	// The daily cap applies through the trial end instant itself; the trial
	// only lapses strictly after trial_end_date.
	mock.ExpectBegin()
	mock.ExpectQuery(`(?s)trial_end_date >= NOW\(\).*trial_end_date < NOW\(\)`).
		WithArgs(userID, int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"email", "total_tokens", "used_tokens", "daily_token_limit", "daily_tokens_used", "trial_end_date"}).
			AddRow("ada@lagosretail.ng", int64(100), int64(1), int64(25), int64(1), time.Now()))
	mock.ExpectExec("INSERT INTO bursar.token_transactions").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	_, consumed, err := store.Consume(context.Background(), userID, 1, "business_advisor", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !consumed {
		t.Fatal("expected consume to succeed")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestConsumeInsufficientBalanceMutatesNothing(t *testing.T) {
	store, mock := newTestStore(t)
	userID := uuid.New().String()

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE bursar.user_tokens").
		WithArgs(userID, int64(500)).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	_, consumed, err := store.Consume(context.Background(), userID, 500, "document_generation", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if consumed {
		t.Fatal("expected consume to be refused")
	}

	// No transaction insert and no commit were expected.
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestConsumeRejectsNonPositiveAmount(t *testing.T) {
	store, _ := newTestStore(t)

	for _, amount := range []int64{0, -3} {
		_, _, err := store.Consume(context.Background(), "user-1", amount, "chat", "")
		if !errors.Is(err, ErrInvalidAmount) {
			t.Fatalf("expected ErrInvalidAmount for amount %d, got %v", amount, err)
		}
	}
}

func TestProvisionIsIdempotent(t *testing.T) {
	store, mock := newTestStore(t)
	userID := uuid.New().String()
	email := "chibuzo@abiafoods.ng"

	// First call inserts and grants the welcome bonus.
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO bursar.user_tokens").
		WithArgs(userID, email, int64(100), int64(25), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO bursar.token_transactions").
		WithArgs(sqlmock.AnyArg(), userID, email, models.TxTypeWelcomeBonus, int64(100), nil, "Welcome token grant").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	created, err := store.Provision(context.Background(), userID, email)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !created {
		t.Fatal("expected first provision to create the account")
	}

	// Second call conflicts and changes nothing.
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO bursar.user_tokens").
		WithArgs(userID, email, int64(100), int64(25), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	created, err = store.Provision(context.Background(), userID, email)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created {
		t.Fatal("expected re-provision to be a no-op")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCreditAddsTokensAndLogsEntry(t *testing.T) {
	store, mock := newTestStore(t)
	userID := uuid.New().String()
	email := "ada@lagosretail.ng"

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE bursar.user_tokens").
		WithArgs(userID, int64(200)).
		WillReturnRows(sqlmock.NewRows([]string{"email", "total_tokens", "used_tokens", "daily_token_limit", "daily_tokens_used", "trial_end_date"}).
			AddRow(email, int64(300), int64(40), int64(25), int64(0), nil))
	mock.ExpectExec("INSERT INTO bursar.token_transactions").
		WithArgs(sqlmock.AnyArg(), userID, email, models.TxTypePurchase, int64(200), nil, "Promo grant").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	account, err := store.Credit(context.Background(), userID, 200, models.TxTypePurchase, "", "Promo grant")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if account.AvailableTokens() != 260 {
		t.Fatalf("expected 260 available, got %d", account.AvailableTokens())
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestAdjustByEmailPurchaseAndRefundTyping(t *testing.T) {
	store, mock := newTestStore(t)
	userID := uuid.New().String()
	email := "funke@ibadanlogistics.ng"

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE bursar.user_tokens").
		WithArgs(email, int64(50)).
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "total_tokens", "used_tokens", "daily_token_limit", "daily_tokens_used", "trial_end_date"}).
			AddRow(userID, int64(150), int64(20), int64(25), int64(0), nil))
	mock.ExpectExec("INSERT INTO bursar.token_transactions").
		WithArgs(sqlmock.AnyArg(), userID, email, models.TxTypePurchase, int64(50), nil, "manual top-up").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	account, err := store.AdjustByEmail(context.Background(), email, 50, "manual top-up")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if account.TotalTokens != 150 {
		t.Fatalf("expected total 150, got %d", account.TotalTokens)
	}

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE bursar.user_tokens").
		WithArgs(email, int64(-30)).
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "total_tokens", "used_tokens", "daily_token_limit", "daily_tokens_used", "trial_end_date"}).
			AddRow(userID, int64(120), int64(20), int64(25), int64(0), nil))
	mock.ExpectExec("INSERT INTO bursar.token_transactions").
		WithArgs(sqlmock.AnyArg(), userID, email, models.TxTypeRefund, int64(-30), nil, "correction").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if _, err := store.AdjustByEmail(context.Background(), email, -30, "correction"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestAdjustByEmailValidation(t *testing.T) {
	store, mock := newTestStore(t)

	if _, err := store.AdjustByEmail(context.Background(), "", 10, ""); !errors.Is(err, ErrInvalidAdjustment) {
		t.Fatalf("expected ErrInvalidAdjustment for empty email, got %v", err)
	}
	if _, err := store.AdjustByEmail(context.Background(), "a@b.ng", 0, ""); !errors.Is(err, ErrInvalidAdjustment) {
		t.Fatalf("expected ErrInvalidAdjustment for zero delta, got %v", err)
	}

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE bursar.user_tokens").
		WithArgs("missing@nowhere.ng", int64(10)).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	if _, err := store.AdjustByEmail(context.Background(), "missing@nowhere.ng", 10, ""); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestListTransactionsNewestFirst(t *testing.T) {
	store, mock := newTestStore(t)
	userID := uuid.New().String()
	now := time.Now()

	mock.ExpectQuery("SELECT id, user_id, email, transaction_type").
		WithArgs(userID, 50).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "email", "transaction_type", "amount", "feature_used", "description", "created_at"}).
			AddRow(uuid.New().String(), userID, "a@b.ng", models.TxTypeUsage, int64(-5), "business_advisor", "AI chat", now).
			AddRow(uuid.New().String(), userID, "a@b.ng", models.TxTypeWelcomeBonus, int64(100), nil, "Welcome token grant", now.Add(-time.Hour)))

	transactions, err := store.ListTransactions(context.Background(), userID, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(transactions) != 2 {
		t.Fatalf("expected 2 transactions, got %d", len(transactions))
	}
	if transactions[0].Amount != -5 {
		t.Fatalf("expected newest usage entry first, got amount %d", transactions[0].Amount)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
