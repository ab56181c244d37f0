package models

import "time"

// Token transaction types recorded in the ledger.
const (
	TxTypeUsage        = "usage"
	TxTypePurchase     = "purchase"
	TxTypeRefund       = "refund"
	TxTypeWelcomeBonus = "welcome_bonus"
	TxTypeMonthlyReset = "monthly_reset"
)

// TokenAccount represents a user's token balance state
type TokenAccount struct {
	UserID          string     `json:"user_id" db:"user_id"`
	Email           string     `json:"email" db:"email"`
	TotalTokens     int64      `json:"total_tokens" db:"total_tokens"`
	UsedTokens      int64      `json:"used_tokens" db:"used_tokens"`
	DailyTokenLimit int64      `json:"daily_token_limit" db:"daily_token_limit"`
	DailyTokensUsed int64      `json:"daily_tokens_used" db:"daily_tokens_used"`
	TrialEndDate    *time.Time `json:"trial_end_date,omitempty" db:"trial_end_date"`
	PlanID          *string    `json:"plan_id,omitempty" db:"plan_id"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at" db:"updated_at"`
}

// AvailableTokens returns the spendable balance, floored at zero.
func (a TokenAccount) AvailableTokens() int64 {
	available := a.TotalTokens - a.UsedTokens
	if available < 0 {
		return 0
	}
	return available
}

// TrialActive reports whether the account is inside its trial window. The
// window includes the end instant itself; the trial expires only once now is
// strictly past trial_end_date.
func (a TokenAccount) TrialActive(now time.Time) bool {
	return a.TrialEndDate != nil && !now.After(*a.TrialEndDate)
}

// DailyTokensRemaining returns today's remaining trial allowance, floored
// at zero.
func (a TokenAccount) DailyTokensRemaining() int64 {
	remaining := a.DailyTokenLimit - a.DailyTokensUsed
	if remaining < 0 {
		return 0
	}
	return remaining
}

// TokenTransaction is one append-only ledger entry. Usage entries carry a
// negative amount, grants a positive one.
type TokenTransaction struct {
	ID              string    `json:"id" db:"id"`
	UserID          string    `json:"user_id" db:"user_id"`
	Email           string    `json:"email" db:"email"`
	TransactionType string    `json:"transaction_type" db:"transaction_type"`
	Amount          int64     `json:"amount" db:"amount"`
	FeatureUsed     *string   `json:"feature_used,omitempty" db:"feature_used"`
	Description     string    `json:"description" db:"description"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
}

// BillingPlan represents a purchasable token bundle
type BillingPlan struct {
	ID                string    `json:"id" db:"id"`
	Name              string    `json:"name" db:"name"`
	TokenGrant        int64     `json:"token_grant" db:"token_grant"`
	MonthlyTokenGrant int64     `json:"monthly_token_grant" db:"monthly_token_grant"`
	PriceKobo         int64     `json:"price_kobo" db:"price_kobo"`
	Currency          string    `json:"currency" db:"currency"`
	Active            bool      `json:"active" db:"active"`
	CreatedAt         time.Time `json:"created_at" db:"created_at"`
}

// Topup represents a pending or settled Paystack purchase
type Topup struct {
	ID          string     `json:"id" db:"id"`
	UserID      string     `json:"user_id" db:"user_id"`
	Email       string     `json:"email" db:"email"`
	PlanID      *string    `json:"plan_id,omitempty" db:"plan_id"`
	AmountKobo  int64      `json:"amount_kobo" db:"amount_kobo"`
	TokenGrant  int64      `json:"token_grant" db:"token_grant"`
	Provider    string     `json:"provider" db:"provider"`
	ProviderRef *string    `json:"provider_ref,omitempty" db:"provider_ref"`
	Status      string     `json:"status" db:"status"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	CreditedAt  *time.Time `json:"credited_at,omitempty" db:"credited_at"`
}
