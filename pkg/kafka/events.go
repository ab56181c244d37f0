package kafka

import "time"

// Token event types published on TokenEventsTopic.
const (
	EventTokenConsumed = "token.consumed"
	EventTokenCredited = "token.credited"
	EventTokenAdjusted = "token.adjusted"
	EventTokensReset   = "tokens.reset"
)

// TokenEvent is the wire format for ledger events
type TokenEvent struct {
	EventID      string    `json:"event_id"`
	EventType    string    `json:"event_type"`
	UserID       string    `json:"user_id"`
	Email        string    `json:"email,omitempty"`
	Amount       int64     `json:"amount"`
	Feature      string    `json:"feature,omitempty"`
	BalanceAfter int64     `json:"balance_after"`
	Timestamp    time.Time `json:"timestamp"`
}
