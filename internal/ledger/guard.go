package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"bizworks/api_bursar/pkg/kafka"
	"bizworks/api_bursar/pkg/logging"
	"bizworks/api_bursar/pkg/models"
)

// Guard is the only path to paid features: it debits tokens first and only
// then runs fn. When fn fails the debit is compensated with a refund entry,
// so a failed call never costs the user tokens. A refusal returns
// ErrInsufficientTokens without invoking fn.
func (s *Store) Guard(ctx context.Context, userID string, amount int64, feature, description string, fn func(context.Context) error) (models.TokenAccount, error) {
	account, ok, err := s.Consume(ctx, userID, amount, feature, description)
	if err != nil {
		return models.TokenAccount{}, err
	}
	if !ok {
		return models.TokenAccount{}, ErrInsufficientTokens
	}

	if err := fn(ctx); err != nil {
		refunded, refundErr := s.refund(ctx, userID, amount, feature, "Refund for failed "+feature)
		if refundErr != nil {
			s.logger.WithError(refundErr).WithFields(logging.Fields{
				"user_id": userID,
				"amount":  amount,
				"feature": feature,
			}).Error("Failed to refund tokens after feature error")
			return account, err
		}
		return refunded, err
	}

	return account, nil
}

// refund compensates a guarded debit whose feature call failed. Besides
// crediting the amount back it restores the daily allowance the debit took
// while the trial is active, so a failed call leaves the daily counter where
// it was.
func (s *Store) refund(ctx context.Context, userID string, amount int64, feature, description string) (models.TokenAccount, error) {
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
		    daily_tokens_used = GREATEST(daily_tokens_used - CASE WHEN trial_end_date IS NOT NULL AND trial_end_date >= NOW() THEN $2 ELSE 0 END, 0),
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
		return models.TokenAccount{}, fmt.Errorf("failed to refund tokens: %w", err)
	}

	if err := s.appendTransaction(ctx, tx, transactionEntry{
		UserID:          userID,
		Email:           account.Email,
		TransactionType: models.TxTypeRefund,
		Amount:          amount,
		Feature:         feature,
		Description:     description,
	}); err != nil {
		return models.TokenAccount{}, err
	}

	if err := tx.Commit(); err != nil {
		return models.TokenAccount{}, fmt.Errorf("failed to commit refund: %w", err)
	}

	s.logger.WithFields(logging.Fields{
		"user_id": userID,
		"amount":  amount,
		"feature": feature,
	}).Info("Tokens refunded")

	s.publish(kafka.EventTokenCredited, userID, account.Email, amount, feature, account.AvailableTokens())
	return account, nil
}
