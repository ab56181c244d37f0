package bursar

import "bizworks/api_bursar/pkg/models"

// BalanceResponse represents a user's token balance snapshot
type BalanceResponse struct {
	UserID               string `json:"user_id"`
	Email                string `json:"email,omitempty"`
	TotalTokens          int64  `json:"total_tokens"`
	UsedTokens           int64  `json:"used_tokens"`
	AvailableTokens      int64  `json:"available_tokens"`
	DailyTokenLimit      int64  `json:"daily_token_limit"`
	DailyTokensUsed      int64  `json:"daily_tokens_used"`
	DailyTokensRemaining int64  `json:"daily_tokens_remaining"`
	TrialEndDate         string `json:"trial_end_date,omitempty"`
	TrialActive          bool   `json:"trial_active"`
}

// ConsumeRequest represents a request to spend tokens on a feature
type ConsumeRequest struct {
	Amount      int64  `json:"amount"`
	Feature     string `json:"feature"`
	Description string `json:"description,omitempty"`
}

// ServiceConsumeRequest is the service-to-service variant of ConsumeRequest
type ServiceConsumeRequest struct {
	UserID      string `json:"user_id"`
	Email       string `json:"email"`
	Amount      int64  `json:"amount"`
	Feature     string `json:"feature"`
	Description string `json:"description,omitempty"`
}

// ConsumeResponse represents the outcome of a token spend
type ConsumeResponse struct {
	Consumed bool            `json:"consumed"`
	Balance  BalanceResponse `json:"balance"`
	Error    string          `json:"error,omitempty"`
}

// TransactionsResponse represents a page of ledger entries
type TransactionsResponse struct {
	Transactions []models.TokenTransaction `json:"transactions"`
	Count        int                       `json:"count"`
}

// AdjustRequest represents an admin balance adjustment addressed by email
type AdjustRequest struct {
	Email  string `json:"email"`
	Amount int64  `json:"amount"`
	Reason string `json:"reason,omitempty"`
}

// AdjustResponse represents the result of an admin adjustment
type AdjustResponse struct {
	Success bool            `json:"success"`
	Balance BalanceResponse `json:"balance"`
	Error   string          `json:"error,omitempty"`
}

// ResetResponse reports how many accounts a ledger reset touched
type ResetResponse struct {
	Success       bool  `json:"success"`
	AccountsReset int64 `json:"accounts_reset"`
}

// PlansResponse lists purchasable token bundles
type PlansResponse struct {
	Plans []models.BillingPlan `json:"plans"`
}

// TopupRequest represents a request to start a Paystack checkout
type TopupRequest struct {
	PlanID string `json:"plan_id"`
}

// TopupResponse carries the Paystack checkout handoff
type TopupResponse struct {
	TopupID          string `json:"topup_id"`
	AuthorizationURL string `json:"authorization_url"`
	Reference        string `json:"reference"`
	AmountKobo       int64  `json:"amount_kobo"`
	Currency         string `json:"currency"`
}

// ChatMessage is one turn of assistant conversation history
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest represents an AI assistant request
type ChatRequest struct {
	Message     string        `json:"message"`
	History     []ChatMessage `json:"history,omitempty"`
	RequestType string        `json:"request_type,omitempty"`
}

// ChatResponse represents an AI assistant reply
type ChatResponse struct {
	Response   string          `json:"response"`
	Fallback   bool            `json:"fallback,omitempty"`
	TokensUsed int64           `json:"tokens_used"`
	Balance    BalanceResponse `json:"balance"`
}

// ErrorResponse represents a standard error response from Bursar
type ErrorResponse struct {
	Error string `json:"error"`
}
