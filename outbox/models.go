package outbox

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Status tracks delivery of an outbox message.
type Status string

const (
	StatusPending   Status = "pending"
	StatusProcessed Status = "processed"
	StatusDead      Status = "dead"
)

// Message is an event recorded in the same transaction as the state change
// that produced it.
type Message struct {
	ID            uuid.UUID       `json:"id"`
	Seq           uint64          `json:"seq"`
	Topic         string          `json:"topic"`
	Payload       json.RawMessage `json:"payload"`
	Status        Status          `json:"status"`
	Attempts      int             `json:"attempts"`
	LastError     string          `json:"last_error,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	LastAttemptAt *time.Time      `json:"last_attempt_at,omitempty"`
}
