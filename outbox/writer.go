package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"guildcourt/kvstore"
)

var ErrEmptyTopic = errors.New("outbox: empty topic")

const (
	counterKey = "outbox/counter"
	keyPrefix  = "outbox/"
)

// Writer appends messages to the outbox inside the caller's transaction, so a
// message becomes visible exactly when the surrounding change commits.
type Writer struct {
	now func() time.Time
}

func NewWriter() *Writer {
	return &Writer{now: time.Now}
}

func (w *Writer) WithClock(now func() time.Time) *Writer {
	w.now = now
	return w
}

// Emit records payload under topic.
func (w *Writer) Emit(ctx context.Context, tx kvstore.Txn, topic string, payload any) error {
	if topic == "" {
		return ErrEmptyTopic
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("outbox: marshal %s payload: %w", topic, err)
	}
	seq, err := kvstore.NextSequence(ctx, tx, counterKey)
	if err != nil {
		return fmt.Errorf("outbox: next seq: %w", err)
	}
	msg := Message{
		ID:        uuid.New(),
		Seq:       seq,
		Topic:     topic,
		Payload:   body,
		Status:    StatusPending,
		CreatedAt: w.now().UTC(),
	}
	if err := kvstore.PutJSON(ctx, tx, messageKey(StatusPending, seq), msg); err != nil {
		return fmt.Errorf("outbox: enqueue %s: %w", topic, err)
	}
	return nil
}

// List returns the messages currently in status, oldest first.
func List(ctx context.Context, tx kvstore.Txn, status Status) ([]Message, error) {
	entries, err := tx.Scan(ctx, statusPrefix(status))
	if err != nil {
		return nil, fmt.Errorf("outbox: scan %s: %w", status, err)
	}
	out := make([]Message, 0, len(entries))
	for _, e := range entries {
		var m Message
		if err := e.Decode(&m); err != nil {
			return nil, fmt.Errorf("outbox: %w", err)
		}
		out = append(out, m)
	}
	return out, nil
}

func statusPrefix(s Status) string {
	return keyPrefix + string(s) + "/"
}

func messageKey(s Status, seq uint64) string {
	return statusPrefix(s) + kvstore.ID(seq)
}
