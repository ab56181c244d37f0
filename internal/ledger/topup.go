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

// TopupSettlement describes a topup settled against a successful charge.
type TopupSettlement struct {
	TopupID    string
	UserID     string
	Email      string
	PlanID     *string
	TokenGrant int64
	AmountKobo int64
	Account    models.TokenAccount
}

// SettleTopup flips the pending topup matching providerRef to credited and
// grants its tokens. Both writes and the ledger entry share one transaction,
// so a failed grant leaves the topup pending for the provider's next retry.
// The bool reports whether a pending topup matched; an unknown or already
// settled reference is not an error.
func (s *Store) SettleTopup(ctx context.Context, providerRef, description string) (TopupSettlement, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return TopupSettlement{}, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var settlement TopupSettlement
	err = tx.QueryRowContext(ctx, `
		UPDATE bursar.topups
		SET status = 'credited', credited_at = NOW()
		WHERE provider_ref = $1 AND status = 'pending'
		RETURNING id, user_id, email, plan_id, token_grant, amount_kobo
	`, providerRef).Scan(
		&settlement.TopupID, &settlement.UserID, &settlement.Email,
		&settlement.PlanID, &settlement.TokenGrant, &settlement.AmountKobo,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return TopupSettlement{}, false, nil
	}
	if err != nil {
		return TopupSettlement{}, false, fmt.Errorf("failed to settle topup: %w", err)
	}

	account := &settlement.Account
	account.UserID = settlement.UserID
	err = tx.QueryRowContext(ctx, `
		UPDATE bursar.user_tokens
		SET total_tokens = total_tokens + $2,
		    updated_at = NOW()
		WHERE user_id = $1
		RETURNING email, total_tokens, used_tokens, daily_token_limit, daily_tokens_used, trial_end_date
	`, settlement.UserID, settlement.TokenGrant).Scan(
		&account.Email, &account.TotalTokens, &account.UsedTokens,
		&account.DailyTokenLimit, &account.DailyTokensUsed, &account.TrialEndDate,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return TopupSettlement{}, false, ErrAccountNotFound
	}
	if err != nil {
		return TopupSettlement{}, false, fmt.Errorf("failed to credit topup tokens: %w", err)
	}

	if err := s.appendTransaction(ctx, tx, transactionEntry{
		UserID:          settlement.UserID,
		Email:           account.Email,
		TransactionType: models.TxTypePurchase,
		Amount:          settlement.TokenGrant,
		Description:     description,
	}); err != nil {
		return TopupSettlement{}, false, err
	}

	if err := tx.Commit(); err != nil {
		return TopupSettlement{}, false, fmt.Errorf("failed to commit topup settlement: %w", err)
	}

	s.logger.WithFields(logging.Fields{
		"topup_id":     settlement.TopupID,
		"user_id":      settlement.UserID,
		"tokens":       settlement.TokenGrant,
		"provider_ref": providerRef,
	}).Info("Topup settled")

	s.publish(kafka.EventTokenCredited, settlement.UserID, account.Email, settlement.TokenGrant, "", account.AvailableTokens())
	return settlement, true, nil
}
