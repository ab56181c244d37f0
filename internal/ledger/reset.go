package ledger

import (
	"context"
	"fmt"
)

// ResetDaily zeroes daily usage counters on every account. Returns the number
// of accounts touched.
func (s *Store) ResetDaily(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE bursar.user_tokens
		SET daily_tokens_used = 0,
		    updated_at = NOW()
		WHERE daily_tokens_used <> 0
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to reset daily usage: %w", err)
	}

	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read daily reset count: %w", err)
	}

	s.logger.WithField("accounts", count).Info("Daily token usage reset")
	s.publishReset("daily", count)
	return count, nil
}

// ResetMonthly restarts the monthly allowance cycle: a monthly_reset ledger
// entry records the forgiven usage per account, lifetime and daily usage are
// zeroed, and accounts on a plan are topped back up to the plan's monthly
// grant. All three steps commit atomically.
func (s *Store) ResetMonthly(ctx context.Context) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO bursar.token_transactions (id, user_id, email, transaction_type, amount, description)
		SELECT gen_random_uuid(), user_id, email, 'monthly_reset', used_tokens, 'Monthly usage reset'
		FROM bursar.user_tokens
		WHERE used_tokens > 0
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to log monthly reset: %w", err)
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE bursar.user_tokens
		SET used_tokens = 0,
		    daily_tokens_used = 0,
		    updated_at = NOW()
		WHERE used_tokens <> 0 OR daily_tokens_used <> 0
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to reset monthly usage: %w", err)
	}

	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read monthly reset count: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE bursar.user_tokens ut
		SET total_tokens = bp.monthly_token_grant,
		    updated_at = NOW()
		FROM bursar.billing_plans bp
		WHERE ut.plan_id = bp.id
		  AND bp.monthly_token_grant > ut.total_tokens
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to apply plan grants: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit monthly reset: %w", err)
	}

	s.logger.WithField("accounts", count).Info("Monthly token usage reset")
	s.publishReset("monthly", count)
	return count, nil
}
