package models

import (
	"time"

	"github.com/google/uuid"
)

// Account is the spending-party balance projection. Both balance fields are
// derived from the ledger and are only ever mutated inside an escrow engine
// transaction.
type Account struct {
	AccountID        uuid.UUID `json:"account_id"`
	AvailableBalance int64     `json:"available_balance"`
	EscrowBalance    int64     `json:"escrow_balance"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// EarningsAccount is the earning-party projection. TotalEarned is
// monotonically non-decreasing; PendingCredits counts credits promised but
// not yet paid out.
type EarningsAccount struct {
	AccountID      uuid.UUID `json:"account_id"`
	TotalEarned    int64     `json:"total_earned"`
	PendingCredits int64     `json:"pending_credits"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}
