package outbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"guildcourt/kvstore"
)

// Publisher delivers a message to downstream consumers. Delivery is at least
// once; consumers deduplicate on Message.ID.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

// Observer is notified of relay outcomes. metrics.Recorder satisfies it.
type Observer interface {
	OutboxPublished(topic string)
	OutboxFailed(topic string, dead bool)
}

type RelayOptions struct {
	Batch       int
	MaxAttempts int
	// Retention is how long processed messages are kept after delivery.
	// Zero keeps them forever.
	Retention time.Duration
}

// Relay moves pending messages to a Publisher in sequence order.
type Relay struct {
	store    kvstore.Store
	pub      Publisher
	opts     RelayOptions
	logger   *slog.Logger
	observer Observer
	now      func() time.Time
}

func NewRelay(store kvstore.Store, pub Publisher, opts RelayOptions, logger *slog.Logger) *Relay {
	if opts.Batch <= 0 {
		opts.Batch = 50
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 10
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{
		store:  store,
		pub:    pub,
		opts:   opts,
		logger: logger.With("component", "outbox-relay"),
		now:    time.Now,
	}
}

func (r *Relay) WithObserver(o Observer) *Relay {
	r.observer = o
	return r
}

func (r *Relay) WithClock(now func() time.Time) *Relay {
	r.now = now
	return r
}

// Drain publishes up to one batch of pending messages. A failed publish stops
// the batch so later messages are never delivered ahead of it; after
// MaxAttempts failures the message is moved to the dead letter set.
func (r *Relay) Drain(ctx context.Context) (int, error) {
	var batch []Message
	err := kvstore.Update(ctx, r.store, func(tx kvstore.Txn) error {
		pending, err := List(ctx, tx, StatusPending)
		if err != nil {
			return err
		}
		if len(pending) > r.opts.Batch {
			pending = pending[:r.opts.Batch]
		}
		batch = pending
		return nil
	})
	if err != nil || len(batch) == 0 {
		return 0, err
	}

	var (
		delivered []Message
		failed    *Message
		pubErr    error
	)
	for i := range batch {
		if err := r.pub.Publish(ctx, batch[i]); err != nil {
			failed, pubErr = &batch[i], err
			break
		}
		delivered = append(delivered, batch[i])
	}

	now := r.now().UTC()
	err = kvstore.Update(ctx, r.store, func(tx kvstore.Txn) error {
		for _, m := range delivered {
			m.Attempts++
			m.LastAttemptAt = &now
			if err := r.move(ctx, tx, m, StatusProcessed); err != nil {
				return err
			}
		}
		if failed == nil {
			return nil
		}
		m := *failed
		m.Attempts++
		m.LastAttemptAt = &now
		m.LastError = pubErr.Error()
		if m.Attempts >= r.opts.MaxAttempts {
			return r.move(ctx, tx, m, StatusDead)
		}
		return kvstore.PutJSON(ctx, tx, messageKey(StatusPending, m.Seq), m)
	})
	if err != nil {
		return 0, fmt.Errorf("outbox: record delivery: %w", err)
	}

	if r.observer != nil {
		for _, m := range delivered {
			r.observer.OutboxPublished(m.Topic)
		}
	}
	if failed != nil {
		dead := failed.Attempts+1 >= r.opts.MaxAttempts
		if r.observer != nil {
			r.observer.OutboxFailed(failed.Topic, dead)
		}
		r.logger.Warn("outbox publish failed",
			"seq", failed.Seq,
			"topic", failed.Topic,
			"attempt", failed.Attempts+1,
			"dead", dead,
			"error", pubErr)
	}
	return len(delivered), nil
}

// Run drains the outbox every interval until ctx is cancelled.
func (r *Relay) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		n, err := r.Drain(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			r.logger.Error("outbox drain failed", "error", err)
		} else if n > 0 {
			r.logger.Debug("outbox drained", "published", n)
		}
		if r.opts.Retention > 0 {
			if n, err := r.Prune(ctx); err != nil && !errors.Is(err, context.Canceled) {
				r.logger.Error("outbox prune failed", "error", err)
			} else if n > 0 {
				r.logger.Debug("outbox pruned", "removed", n)
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Prune deletes processed messages delivered more than Retention ago, at
// most one batch per call. Processed messages are visited in sequence order
// and the pass stops at the first one still inside the window.
func (r *Relay) Prune(ctx context.Context) (int, error) {
	if r.opts.Retention <= 0 {
		return 0, nil
	}
	cutoff := r.now().UTC().Add(-r.opts.Retention)
	removed := 0
	err := kvstore.Update(ctx, r.store, func(tx kvstore.Txn) error {
		processed, err := List(ctx, tx, StatusProcessed)
		if err != nil {
			return err
		}
		for _, m := range processed {
			if removed == r.opts.Batch || m.LastAttemptAt == nil || !m.LastAttemptAt.Before(cutoff) {
				return nil
			}
			if err := tx.Delete(ctx, messageKey(StatusProcessed, m.Seq)); err != nil {
				return fmt.Errorf("outbox: prune %d: %w", m.Seq, err)
			}
			removed++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

func (r *Relay) move(ctx context.Context, tx kvstore.Txn, m Message, to Status) error {
	if err := tx.Delete(ctx, messageKey(m.Status, m.Seq)); err != nil {
		return fmt.Errorf("outbox: remove %d: %w", m.Seq, err)
	}
	m.Status = to
	if err := kvstore.PutJSON(ctx, tx, messageKey(to, m.Seq), m); err != nil {
		return fmt.Errorf("outbox: store %d as %s: %w", m.Seq, to, err)
	}
	return nil
}
