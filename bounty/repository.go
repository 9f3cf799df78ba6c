package bounty

import (
	"context"
	"errors"
	"fmt"

	"guildcourt/kvstore"
)

var ErrNotFound = errors.New("bounty: not found")

const (
	counterKey   = "bounty/counter"
	recordPrefix = "bounty/record/"
)

// Repository persists bounties inside a store transaction.
type Repository struct{}

func NewRepository() *Repository {
	return &Repository{}
}

// Insert assigns the next bounty id and stores b.
func (r *Repository) Insert(ctx context.Context, tx kvstore.Txn, b Bounty) (Bounty, error) {
	id, err := kvstore.NextSequence(ctx, tx, counterKey)
	if err != nil {
		return Bounty{}, fmt.Errorf("bounty: next id: %w", err)
	}
	b.ID = id
	if err := r.Put(ctx, tx, b); err != nil {
		return Bounty{}, err
	}
	return b, nil
}

func (r *Repository) Get(ctx context.Context, tx kvstore.Txn, id uint64) (Bounty, error) {
	var b Bounty
	if err := kvstore.GetJSON(ctx, tx, recordKey(id), &b); err != nil {
		if errors.Is(err, kvstore.ErrNotFound) {
			return Bounty{}, ErrNotFound
		}
		return Bounty{}, fmt.Errorf("bounty: get %d: %w", id, err)
	}
	return b, nil
}

// Exists reports whether a bounty with id has been stored.
func (r *Repository) Exists(ctx context.Context, tx kvstore.Txn, id uint64) (bool, error) {
	ok, err := tx.Has(ctx, recordKey(id))
	if err != nil {
		return false, fmt.Errorf("bounty: has %d: %w", id, err)
	}
	return ok, nil
}

func (r *Repository) Put(ctx context.Context, tx kvstore.Txn, b Bounty) error {
	if err := kvstore.PutJSON(ctx, tx, recordKey(b.ID), b); err != nil {
		return fmt.Errorf("bounty: put %d: %w", b.ID, err)
	}
	return nil
}

// List returns every bounty ordered by id.
func (r *Repository) List(ctx context.Context, tx kvstore.Txn) ([]Bounty, error) {
	entries, err := tx.Scan(ctx, recordPrefix)
	if err != nil {
		return nil, fmt.Errorf("bounty: list: %w", err)
	}
	out := make([]Bounty, 0, len(entries))
	for _, e := range entries {
		var b Bounty
		if err := e.Decode(&b); err != nil {
			return nil, fmt.Errorf("bounty: %w", err)
		}
		out = append(out, b)
	}
	return out, nil
}

func recordKey(id uint64) string {
	return recordPrefix + kvstore.ID(id)
}
