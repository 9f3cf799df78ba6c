package kvstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNotFound signals the requested key does not exist.
var ErrNotFound = errors.New("kvstore: key not found")

// ErrTxDone is returned when a finished transaction is used again.
var ErrTxDone = errors.New("kvstore: transaction already finished")

// Entry is a single key/value pair returned by Scan.
type Entry struct {
	Key   string
	Value []byte
}

// Decode unmarshals the entry value into dst.
func (e Entry) Decode(dst any) error {
	if err := json.Unmarshal(e.Value, dst); err != nil {
		return fmt.Errorf("kvstore: decode %s: %w", e.Key, err)
	}
	return nil
}

// Txn is a unit of work against the store. Writes become visible to other
// transactions only after Commit; Rollback after Commit is a no-op so callers
// can always defer it.
type Txn interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Has(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
	// Scan returns every entry whose key starts with prefix, ordered by key.
	Scan(ctx context.Context, prefix string) ([]Entry, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Store begins transactions. Implementations serialize transactions: a
// second Begin waits until the first one commits or rolls back.
type Store interface {
	Begin(ctx context.Context) (Txn, error)
}

// GetJSON loads key and decodes it into dst.
func GetJSON(ctx context.Context, tx Txn, key string, dst any) error {
	raw, err := tx.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("kvstore: decode %s: %w", key, err)
	}
	return nil
}

// PutJSON encodes v and stores it under key.
func PutJSON(ctx context.Context, tx Txn, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("kvstore: encode %s: %w", key, err)
	}
	return tx.Set(ctx, key, raw)
}

// NextSequence increments the counter stored under key and returns the new
// value. Counters start at 1.
func NextSequence(ctx context.Context, tx Txn, key string) (uint64, error) {
	var current uint64
	err := GetJSON(ctx, tx, key, &current)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return 0, err
	}
	next := current + 1
	if err := PutJSON(ctx, tx, key, next); err != nil {
		return 0, err
	}
	return next, nil
}

// Update runs fn inside a fresh transaction and commits it when fn succeeds.
func Update(ctx context.Context, s Store, fn func(tx Txn) error) error {
	tx, err := s.Begin(ctx)
	if err != nil {
		return fmt.Errorf("kvstore: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("kvstore: commit tx: %w", err)
	}
	return nil
}

// ID formats a numeric identifier so lexical key order matches numeric order.
func ID(id uint64) string {
	return fmt.Sprintf("%020d", id)
}
