package milestone

import "time"

type ProjectStatus string

const (
	ProjectActive    ProjectStatus = "active"
	ProjectCompleted ProjectStatus = "completed"
	ProjectCancelled ProjectStatus = "cancelled"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusSubmitted  Status = "submitted"
	StatusApproved   Status = "approved"
	StatusRejected   Status = "rejected"
	StatusExpired    Status = "expired"
)

// Project is a phased piece of work paid out of a guild treasury.
type Project struct {
	ID             uint64        `json:"id"`
	GuildID        uint64        `json:"guild_id"`
	Creator        string        `json:"creator"`
	Contributor    string        `json:"contributor"`
	TreasuryID     uint64        `json:"treasury_id"`
	Token          string        `json:"token"`
	TotalAmount    int64         `json:"total_amount"`
	ReleasedAmount int64         `json:"released_amount"`
	Status         ProjectStatus `json:"status"`
	CreatedAt      time.Time     `json:"created_at"`
}

// Milestone is a single payable phase of a project.
type Milestone struct {
	ID                uint64    `json:"id"`
	ProjectID         uint64    `json:"project_id"`
	Title             string    `json:"title"`
	Description       string    `json:"description"`
	PaymentAmount     int64     `json:"payment_amount"`
	Status            Status    `json:"status"`
	IsPaymentReleased bool      `json:"is_payment_released"`
	SubmissionURL     string    `json:"submission_url,omitempty"`
	Deadline          time.Time `json:"deadline"`
	LastUpdatedAt     time.Time `json:"last_updated_at"`
}

// Settled reports whether the milestone no longer blocks project completion.
func (m Milestone) Settled() bool {
	return m.IsPaymentReleased || m.Status == StatusExpired
}

// AllSettled reports whether every milestone is paid out or expired.
func AllSettled(ms []Milestone) bool {
	for _, m := range ms {
		if !m.Settled() {
			return false
		}
	}
	return true
}

// Input describes a milestone when a project is created.
type Input struct {
	Title       string
	Description string
	Amount      int64
	Deadline    time.Time
}
