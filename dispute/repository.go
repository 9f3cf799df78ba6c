package dispute

import (
	"context"
	"errors"
	"fmt"
	"time"

	"guildcourt/kvstore"
)

const (
	counterKey   = "dispute/counter"
	recordPrefix = "dispute/record/"
	votePrefix   = "dispute/vote/"
	lockPrefix   = "dispute/lock/"
	openPrefix   = "dispute/open/"
)

// Repository persists disputes, their votes and the reference lock table
// inside a store transaction.
type Repository struct{}

func NewRepository() *Repository {
	return &Repository{}
}

// NextID advances the dispute counter. Ids start at 1.
func (r *Repository) NextID(ctx context.Context, tx kvstore.Txn) (uint64, error) {
	id, err := kvstore.NextSequence(ctx, tx, counterKey)
	if err != nil {
		return 0, fmt.Errorf("dispute: next id: %w", err)
	}
	return id, nil
}

func (r *Repository) Get(ctx context.Context, tx kvstore.Txn, id uint64) (Dispute, error) {
	var d Dispute
	if err := kvstore.GetJSON(ctx, tx, recordPrefix+kvstore.ID(id), &d); err != nil {
		if errors.Is(err, kvstore.ErrNotFound) {
			return Dispute{}, ErrNotFound
		}
		return Dispute{}, fmt.Errorf("dispute: get %d: %w", id, err)
	}
	return d, nil
}

func (r *Repository) Put(ctx context.Context, tx kvstore.Txn, d Dispute) error {
	if err := kvstore.PutJSON(ctx, tx, recordPrefix+kvstore.ID(d.ID), d); err != nil {
		return fmt.Errorf("dispute: put %d: %w", d.ID, err)
	}
	return nil
}

// List returns every dispute ordered by id.
func (r *Repository) List(ctx context.Context, tx kvstore.Txn) ([]Dispute, error) {
	entries, err := tx.Scan(ctx, recordPrefix)
	if err != nil {
		return nil, fmt.Errorf("dispute: list: %w", err)
	}
	out := make([]Dispute, 0, len(entries))
	for _, e := range entries {
		var d Dispute
		if err := e.Decode(&d); err != nil {
			return nil, fmt.Errorf("dispute: %w", err)
		}
		out = append(out, d)
	}
	return out, nil
}

// OpenEntry indexes a dispute that has not closed yet.
type OpenEntry struct {
	DisputeID      uint64    `json:"dispute_id"`
	VotingDeadline time.Time `json:"voting_deadline"`
}

// MarkOpen adds d to the open index. Resolve removes it with MarkClosed.
func (r *Repository) MarkOpen(ctx context.Context, tx kvstore.Txn, d Dispute) error {
	e := OpenEntry{DisputeID: d.ID, VotingDeadline: d.VotingDeadline}
	if err := kvstore.PutJSON(ctx, tx, openPrefix+kvstore.ID(d.ID), e); err != nil {
		return fmt.Errorf("dispute: index open %d: %w", d.ID, err)
	}
	return nil
}

func (r *Repository) MarkClosed(ctx context.Context, tx kvstore.Txn, id uint64) error {
	if err := tx.Delete(ctx, openPrefix+kvstore.ID(id)); err != nil {
		return fmt.Errorf("dispute: unindex %d: %w", id, err)
	}
	return nil
}

// Open lists the open index ordered by dispute id.
func (r *Repository) Open(ctx context.Context, tx kvstore.Txn) ([]OpenEntry, error) {
	entries, err := tx.Scan(ctx, openPrefix)
	if err != nil {
		return nil, fmt.Errorf("dispute: list open: %w", err)
	}
	out := make([]OpenEntry, 0, len(entries))
	for _, e := range entries {
		var o OpenEntry
		if err := e.Decode(&o); err != nil {
			return nil, fmt.Errorf("dispute: %w", err)
		}
		out = append(out, o)
	}
	return out, nil
}

func (r *Repository) GetVote(ctx context.Context, tx kvstore.Txn, disputeID uint64, voter string) (Vote, error) {
	var v Vote
	if err := kvstore.GetJSON(ctx, tx, voteKey(disputeID, voter), &v); err != nil {
		if errors.Is(err, kvstore.ErrNotFound) {
			return Vote{}, ErrVoteNotFound
		}
		return Vote{}, fmt.Errorf("dispute: get vote: %w", err)
	}
	return v, nil
}

func (r *Repository) HasVoted(ctx context.Context, tx kvstore.Txn, disputeID uint64, voter string) (bool, error) {
	ok, err := tx.Has(ctx, voteKey(disputeID, voter))
	if err != nil {
		return false, fmt.Errorf("dispute: has vote: %w", err)
	}
	return ok, nil
}

// PutVote stores v. Votes are written once and never updated.
func (r *Repository) PutVote(ctx context.Context, tx kvstore.Txn, v Vote) error {
	if err := kvstore.PutJSON(ctx, tx, voteKey(v.DisputeID, v.Voter), v); err != nil {
		return fmt.Errorf("dispute: put vote: %w", err)
	}
	return nil
}

// Votes lists the ballots cast on a dispute ordered by voter.
func (r *Repository) Votes(ctx context.Context, tx kvstore.Txn, disputeID uint64) ([]Vote, error) {
	entries, err := tx.Scan(ctx, votePrefix+kvstore.ID(disputeID)+"/")
	if err != nil {
		return nil, fmt.Errorf("dispute: list votes: %w", err)
	}
	out := make([]Vote, 0, len(entries))
	for _, e := range entries {
		var v Vote
		if err := e.Decode(&v); err != nil {
			return nil, fmt.Errorf("dispute: %w", err)
		}
		out = append(out, v)
	}
	return out, nil
}

// LockHolder returns the dispute currently holding the reference.
func (r *Repository) LockHolder(ctx context.Context, tx kvstore.Txn, t ReferenceType, refID uint64) (uint64, bool, error) {
	var id uint64
	err := kvstore.GetJSON(ctx, tx, lockKey(t, refID), &id)
	switch {
	case err == nil:
		return id, true, nil
	case errors.Is(err, kvstore.ErrNotFound):
		return 0, false, nil
	default:
		return 0, false, fmt.Errorf("dispute: read lock: %w", err)
	}
}

// MilestoneLocked reports whether an open dispute holds the milestone.
func (r *Repository) MilestoneLocked(ctx context.Context, tx kvstore.Txn, milestoneID uint64) (bool, error) {
	_, held, err := r.LockHolder(ctx, tx, ReferenceMilestone, milestoneID)
	return held, err
}

func (r *Repository) Lock(ctx context.Context, tx kvstore.Txn, t ReferenceType, refID, disputeID uint64) error {
	if err := kvstore.PutJSON(ctx, tx, lockKey(t, refID), disputeID); err != nil {
		return fmt.Errorf("dispute: lock reference: %w", err)
	}
	return nil
}

func (r *Repository) Unlock(ctx context.Context, tx kvstore.Txn, t ReferenceType, refID uint64) error {
	if err := tx.Delete(ctx, lockKey(t, refID)); err != nil {
		return fmt.Errorf("dispute: unlock reference: %w", err)
	}
	return nil
}

// LockEntry is one row of the reference lock table.
type LockEntry struct {
	Key       string
	DisputeID uint64
}

// Locks lists the whole reference lock table.
func (r *Repository) Locks(ctx context.Context, tx kvstore.Txn) ([]LockEntry, error) {
	entries, err := tx.Scan(ctx, lockPrefix)
	if err != nil {
		return nil, fmt.Errorf("dispute: list locks: %w", err)
	}
	out := make([]LockEntry, 0, len(entries))
	for _, e := range entries {
		var id uint64
		if err := e.Decode(&id); err != nil {
			return nil, fmt.Errorf("dispute: %w", err)
		}
		out = append(out, LockEntry{Key: e.Key[len(lockPrefix):], DisputeID: id})
	}
	return out, nil
}

func voteKey(disputeID uint64, voter string) string {
	return votePrefix + kvstore.ID(disputeID) + "/" + voter
}

func lockKey(t ReferenceType, refID uint64) string {
	return lockPrefix + string(t) + "/" + kvstore.ID(refID)
}
