package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"bizworks/api_bursar/pkg/config"
	"bizworks/api_bursar/pkg/kafka"
	"bizworks/api_bursar/pkg/logging"
	"bizworks/api_bursar/pkg/models"
)

var (
	ErrAccountNotFound    = errors.New("token account not found")
	ErrInvalidAdjustment  = errors.New("invalid adjustment: email and a non-zero amount are required")
	ErrInvalidAmount      = errors.New("amount must be positive")
	ErrInsufficientTokens = errors.New("insufficient token balance")
)

// DefaultDailyTokenLimit applies to accounts without an explicit limit.
const DefaultDailyTokenLimit = 25

// Publisher emits ledger events. Satisfied by *kafka.Producer.
type Publisher interface {
	PublishTokenEvent(event *kafka.TokenEvent) error
}

// Options control provisioning behaviour.
type Options struct {
	WelcomeGrant    int64
	TrialDays       int
	DailyTokenLimit int64
}

// OptionsFromEnv reads provisioning options from the environment.
func OptionsFromEnv() Options {
	return Options{
		WelcomeGrant:    int64(config.GetEnvInt("WELCOME_TOKEN_GRANT", 100)),
		TrialDays:       config.GetEnvInt("TRIAL_PERIOD_DAYS", 14),
		DailyTokenLimit: int64(config.GetEnvInt("TRIAL_DAILY_TOKEN_LIMIT", DefaultDailyTokenLimit)),
	}
}

// Store owns all reads and writes of token accounts and the transaction log.
// Every balance mutation appends exactly one ledger entry in the same
// database transaction.
type Store struct {
	db        *sql.DB
	logger    logging.Logger
	publisher Publisher
	opts      Options

	now func() time.Time
}

// NewStore creates a ledger store.
func NewStore(db *sql.DB, logger logging.Logger, opts Options) *Store {
	if opts.DailyTokenLimit <= 0 {
		opts.DailyTokenLimit = DefaultDailyTokenLimit
	}
	return &Store{
		db:     db,
		logger: logger,
		opts:   opts,
		now:    time.Now,
	}
}

// SetPublisher attaches an event publisher. Publishing is best-effort and
// never blocks or fails a ledger write.
func (s *Store) SetPublisher(p Publisher) {
	s.publisher = p
}

// Provision creates the token account for a user if it does not exist yet.
// The insert is an idempotent upsert; re-provisioning changes nothing.
// Returns true when a new account was created.
func (s *Store) Provision(ctx context.Context, userID, email string) (bool, error) {
	if userID == "" {
		return false, fmt.Errorf("user_id is required")
	}

	trialEnd := s.now().AddDate(0, 0, s.opts.TrialDays)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		INSERT INTO bursar.user_tokens (user_id, email, total_tokens, used_tokens, daily_token_limit, daily_tokens_used, trial_end_date)
		VALUES ($1, $2, $3, 0, $4, 0, $5)
		ON CONFLICT (user_id) DO NOTHING
	`, userID, email, s.opts.WelcomeGrant, s.opts.DailyTokenLimit, trialEnd)
	if err != nil {
		return false, fmt.Errorf("failed to provision account: %w", err)
	}

	inserted, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read provision result: %w", err)
	}
	if inserted == 0 {
		return false, nil
	}

	if err := s.appendTransaction(ctx, tx, transactionEntry{
		UserID:          userID,
		Email:           email,
		TransactionType: models.TxTypeWelcomeBonus,
		Amount:          s.opts.WelcomeGrant,
		Description:     "Welcome token grant",
	}); err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit provision: %w", err)
	}

	s.logger.WithFields(logging.Fields{
		"user_id":       userID,
		"welcome_grant": s.opts.WelcomeGrant,
		"trial_end":     trialEnd,
	}).Info("Provisioned token account")

	s.publish(kafka.EventTokenCredited, userID, email, s.opts.WelcomeGrant, "", s.opts.WelcomeGrant)
	return true, nil
}

// GetBalance returns the account for a user. Unknown users get a zeroed
// default with the standard daily limit; no row is created.
func (s *Store) GetBalance(ctx context.Context, userID string) (models.TokenAccount, error) {
	var account models.TokenAccount
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, email, total_tokens, used_tokens, daily_token_limit, daily_tokens_used, trial_end_date, plan_id, created_at, updated_at
		FROM bursar.user_tokens
		WHERE user_id = $1
	`, userID).Scan(
		&account.UserID, &account.Email, &account.TotalTokens, &account.UsedTokens,
		&account.DailyTokenLimit, &account.DailyTokensUsed, &account.TrialEndDate,
		&account.PlanID, &account.CreatedAt, &account.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return models.TokenAccount{
			UserID:          userID,
			DailyTokenLimit: s.opts.DailyTokenLimit,
		}, nil
	}
	if err != nil {
		return models.TokenAccount{}, fmt.Errorf("failed to get balance: %w", err)
	}
	return account, nil
}

// GetBalanceByEmail returns the account addressed by email, erroring when no
// account exists.
func (s *Store) GetBalanceByEmail(ctx context.Context, email string) (models.TokenAccount, error) {
	var account models.TokenAccount
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, email, total_tokens, used_tokens, daily_token_limit, daily_tokens_used, trial_end_date, plan_id, created_at, updated_at
		FROM bursar.user_tokens
		WHERE email = $1
	`, email).Scan(
		&account.UserID, &account.Email, &account.TotalTokens, &account.UsedTokens,
		&account.DailyTokenLimit, &account.DailyTokensUsed, &account.TrialEndDate,
		&account.PlanID, &account.CreatedAt, &account.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return models.TokenAccount{}, ErrAccountNotFound
	}
	if err != nil {
		return models.TokenAccount{}, fmt.Errorf("failed to get balance by email: %w", err)
	}
	return account, nil
}

// Consume debits tokens for a feature. The debit is a single conditional
// UPDATE so two concurrent spends can never take the balance negative. While
// the trial is active the daily cap is enforced in the same condition and
// daily usage advances with the spend. A refused consume mutates nothing and
// logs nothing; the returned bool reports whether the debit happened.
func (s *Store) Consume(ctx context.Context, userID string, amount int64, feature, description string) (models.TokenAccount, bool, error) {
	if amount <= 0 {
		return models.TokenAccount{}, false, ErrInvalidAmount
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.TokenAccount{}, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var account models.TokenAccount
	account.UserID = userID
	err = tx.QueryRowContext(ctx, `
		UPDATE bursar.user_tokens
		SET used_tokens = used_tokens + $2,
		    daily_tokens_used = daily_tokens_used + CASE WHEN trial_end_date IS NOT NULL AND trial_end_date >= NOW() THEN $2 ELSE 0 END,
		    updated_at = NOW()
		WHERE user_id = $1
		  AND total_tokens - used_tokens >= $2
		  AND (trial_end_date IS NULL OR trial_end_date < NOW() OR daily_tokens_used + $2 <= daily_token_limit)
		RETURNING email, total_tokens, used_tokens, daily_token_limit, daily_tokens_used, trial_end_date
	`, userID, amount).Scan(
		&account.Email, &account.TotalTokens, &account.UsedTokens,
		&account.DailyTokenLimit, &account.DailyTokensUsed, &account.TrialEndDate,
	)
	if errors.Is(err, sql.ErrNoRows) {
		// Missing account, insufficient balance or daily cap hit. Nothing changed.
		return models.TokenAccount{}, false, nil
	}
	if err != nil {
		return models.TokenAccount{}, false, fmt.Errorf("failed to consume tokens: %w", err)
	}

	if err := s.appendTransaction(ctx, tx, transactionEntry{
		UserID:          userID,
		Email:           account.Email,
		TransactionType: models.TxTypeUsage,
		Amount:          -amount,
		Feature:         feature,
		Description:     description,
	}); err != nil {
		return models.TokenAccount{}, false, err
	}

	if err := tx.Commit(); err != nil {
		return models.TokenAccount{}, false, fmt.Errorf("failed to commit consume: %w", err)
	}

	s.logger.WithFields(logging.Fields{
		"user_id": userID,
		"amount":  amount,
		"feature": feature,
	}).Info("Tokens consumed")

	s.publish(kafka.EventTokenConsumed, userID, account.Email, -amount, feature, account.AvailableTokens())
	return account, true, nil
}

// Credit adds tokens to an account and appends a positive ledger entry.
func (s *Store) Credit(ctx context.Context, userID string, amount int64, txType, feature, description string) (models.TokenAccount, error) {
	if amount <= 0 {
		return models.TokenAccount{}, ErrInvalidAmount
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.TokenAccount{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var account models.TokenAccount
	account.UserID = userID
	err = tx.QueryRowContext(ctx, `
		UPDATE bursar.user_tokens
		SET total_tokens = total_tokens + $2,
		    updated_at = NOW()
		WHERE user_id = $1
		RETURNING email, total_tokens, used_tokens, daily_token_limit, daily_tokens_used, trial_end_date
	`, userID, amount).Scan(
		&account.Email, &account.TotalTokens, &account.UsedTokens,
		&account.DailyTokenLimit, &account.DailyTokensUsed, &account.TrialEndDate,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return models.TokenAccount{}, ErrAccountNotFound
	}
	if err != nil {
		return models.TokenAccount{}, fmt.Errorf("failed to credit tokens: %w", err)
	}

	if err := s.appendTransaction(ctx, tx, transactionEntry{
		UserID:          userID,
		Email:           account.Email,
		TransactionType: txType,
		Amount:          amount,
		Feature:         feature,
		Description:     description,
	}); err != nil {
		return models.TokenAccount{}, err
	}

	if err := tx.Commit(); err != nil {
		return models.TokenAccount{}, fmt.Errorf("failed to commit credit: %w", err)
	}

	s.logger.WithFields(logging.Fields{
		"user_id": userID,
		"amount":  amount,
		"type":    txType,
	}).Info("Tokens credited")

	s.publish(kafka.EventTokenCredited, userID, account.Email, amount, feature, account.AvailableTokens())
	return account, nil
}

// AdjustByEmail applies an admin balance adjustment addressed by email.
// Positive deltas are logged as purchases, negative ones as refunds. The
// stored total is floored at zero while the ledger entry records the
// requested delta.
func (s *Store) AdjustByEmail(ctx context.Context, email string, delta int64, reason string) (models.TokenAccount, error) {
	if email == "" || delta == 0 {
		return models.TokenAccount{}, ErrInvalidAdjustment
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.TokenAccount{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var account models.TokenAccount
	account.Email = email
	err = tx.QueryRowContext(ctx, `
		UPDATE bursar.user_tokens
		SET total_tokens = GREATEST(total_tokens + $2, 0),
		    updated_at = NOW()
		WHERE email = $1
		RETURNING user_id, total_tokens, used_tokens, daily_token_limit, daily_tokens_used, trial_end_date
	`, email, delta).Scan(
		&account.UserID, &account.TotalTokens, &account.UsedTokens,
		&account.DailyTokenLimit, &account.DailyTokensUsed, &account.TrialEndDate,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return models.TokenAccount{}, ErrAccountNotFound
	}
	if err != nil {
		return models.TokenAccount{}, fmt.Errorf("failed to adjust balance: %w", err)
	}

	txType := models.TxTypePurchase
	if delta < 0 {
		txType = models.TxTypeRefund
	}
	if err := s.appendTransaction(ctx, tx, transactionEntry{
		UserID:          account.UserID,
		Email:           email,
		TransactionType: txType,
		Amount:          delta,
		Description:     reason,
	}); err != nil {
		return models.TokenAccount{}, err
	}

	if err := tx.Commit(); err != nil {
		return models.TokenAccount{}, fmt.Errorf("failed to commit adjustment: %w", err)
	}

	s.logger.WithFields(logging.Fields{
		"email":  email,
		"delta":  delta,
		"type":   txType,
		"reason": reason,
	}).Info("Balance adjusted")

	s.publish(kafka.EventTokenAdjusted, account.UserID, email, delta, "", account.AvailableTokens())
	return account, nil
}

// ListTransactions returns a user's ledger entries, newest first.
func (s *Store) ListTransactions(ctx context.Context, userID string, limit int) ([]models.TokenTransaction, error) {
	return s.listTransactions(ctx, "user_id", userID, limit)
}

// ListTransactionsByEmail returns ledger entries addressed by email.
func (s *Store) ListTransactionsByEmail(ctx context.Context, email string, limit int) ([]models.TokenTransaction, error) {
	return s.listTransactions(ctx, "email", email, limit)
}

func (s *Store) listTransactions(ctx context.Context, column, value string, limit int) ([]models.TokenTransaction, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, email, transaction_type, amount, feature_used, description, created_at
		FROM bursar.token_transactions
		WHERE `+column+` = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, value, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	transactions := []models.TokenTransaction{}
	for rows.Next() {
		var t models.TokenTransaction
		if err := rows.Scan(&t.ID, &t.UserID, &t.Email, &t.TransactionType, &t.Amount, &t.FeatureUsed, &t.Description, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		transactions = append(transactions, t)
	}
	return transactions, rows.Err()
}

type transactionEntry struct {
	UserID          string
	Email           string
	TransactionType string
	Amount          int64
	Feature         string
	Description     string
}

func (s *Store) appendTransaction(ctx context.Context, tx *sql.Tx, entry transactionEntry) error {
	var feature *string
	if entry.Feature != "" {
		feature = &entry.Feature
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO bursar.token_transactions (id, user_id, email, transaction_type, amount, feature_used, description)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, uuid.New().String(), entry.UserID, entry.Email, entry.TransactionType, entry.Amount, feature, entry.Description)
	if err != nil {
		return fmt.Errorf("failed to append transaction: %w", err)
	}
	return nil
}

func (s *Store) publish(eventType, userID, email string, amount int64, feature string, balanceAfter int64) {
	if s.publisher == nil {
		return
	}
	err := s.publisher.PublishTokenEvent(&kafka.TokenEvent{
		EventID:      uuid.New().String(),
		EventType:    eventType,
		UserID:       userID,
		Email:        email,
		Amount:       amount,
		Feature:      feature,
		BalanceAfter: balanceAfter,
		Timestamp:    s.now(),
	})
	if err != nil {
		s.logger.WithError(err).WithFields(logging.Fields{
			"event_type": eventType,
			"user_id":    userID,
		}).Warn("Failed to publish token event")
	}
}

// publishReset announces a completed usage reset. Scope is "daily" or
// "monthly"; the amount carries the number of accounts touched.
func (s *Store) publishReset(scope string, accounts int64) {
	if s.publisher == nil {
		return
	}
	err := s.publisher.PublishTokenEvent(&kafka.TokenEvent{
		EventID:   uuid.New().String(),
		EventType: kafka.EventTokensReset,
		Feature:   scope,
		Amount:    accounts,
		Timestamp: s.now(),
	})
	if err != nil {
		s.logger.WithError(err).WithField("scope", scope).Warn("Failed to publish reset event")
	}
}
