package bounty

import "time"

// Status is the lifecycle state of a bounty.
type Status string

const (
	StatusOpen          Status = "open"
	StatusClaimed       Status = "claimed"
	StatusUnderReview   Status = "under_review"
	StatusCompleted     Status = "completed"
	StatusCancelled     Status = "cancelled"
	StatusExpired       Status = "expired"
	StatusAwaitingFunds Status = "awaiting_funds"
)

// Closed reports whether the bounty can no longer hold or move funds.
func (s Status) Closed() bool {
	return s == StatusCancelled || s == StatusExpired
}

// Bounty is a guild task whose reward is locked in escrow.
type Bounty struct {
	ID           uint64    `json:"id"`
	GuildID      uint64    `json:"guild_id"`
	Creator      string    `json:"creator"`
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	Token        string    `json:"token"`
	RewardAmount int64     `json:"reward_amount"`
	FundedAmount int64     `json:"funded_amount"`
	Status       Status    `json:"status"`
	Claimer      string    `json:"claimer,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	ExpiresAt    time.Time `json:"expires_at"`
}
