package guild

import (
	"context"
	"errors"
	"fmt"

	"guildcourt/kvstore"
)

var (
	// ErrNotFound signals the requested guild does not exist.
	ErrNotFound = errors.New("guild: not found")
	// ErrMemberNotFound signals the address holds no membership in the guild.
	ErrMemberNotFound = errors.New("guild: member not found")
)

const (
	counterKey   = "guild/counter"
	recordPrefix = "guild/record/"
	memberPrefix = "guild/member/"
)

// Repository reads and writes guild records inside a store transaction.
type Repository struct{}

func NewRepository() *Repository {
	return &Repository{}
}

// Insert assigns the next guild id and stores g.
func (r *Repository) Insert(ctx context.Context, tx kvstore.Txn, g Guild) (Guild, error) {
	id, err := kvstore.NextSequence(ctx, tx, counterKey)
	if err != nil {
		return Guild{}, fmt.Errorf("guild: next id: %w", err)
	}
	g.ID = id
	if err := kvstore.PutJSON(ctx, tx, recordKey(id), g); err != nil {
		return Guild{}, fmt.Errorf("guild: insert: %w", err)
	}
	return g, nil
}

// Get fetches a guild by its id.
func (r *Repository) Get(ctx context.Context, tx kvstore.Txn, id uint64) (Guild, error) {
	var g Guild
	if err := kvstore.GetJSON(ctx, tx, recordKey(id), &g); err != nil {
		if errors.Is(err, kvstore.ErrNotFound) {
			return Guild{}, ErrNotFound
		}
		return Guild{}, fmt.Errorf("guild: get %d: %w", id, err)
	}
	return g, nil
}

// PutMember creates or replaces a membership.
func (r *Repository) PutMember(ctx context.Context, tx kvstore.Txn, m Member) error {
	if err := kvstore.PutJSON(ctx, tx, memberKey(m.GuildID, m.Address), m); err != nil {
		return fmt.Errorf("guild: put member: %w", err)
	}
	return nil
}

// DeleteMember removes a membership.
func (r *Repository) DeleteMember(ctx context.Context, tx kvstore.Txn, guildID uint64, address string) error {
	if err := tx.Delete(ctx, memberKey(guildID, address)); err != nil {
		return fmt.Errorf("guild: delete member: %w", err)
	}
	return nil
}

// Member fetches the membership of address in the guild.
func (r *Repository) Member(ctx context.Context, tx kvstore.Txn, guildID uint64, address string) (Member, error) {
	var m Member
	if err := kvstore.GetJSON(ctx, tx, memberKey(guildID, address), &m); err != nil {
		if errors.Is(err, kvstore.ErrNotFound) {
			return Member{}, ErrMemberNotFound
		}
		return Member{}, fmt.Errorf("guild: get member: %w", err)
	}
	return m, nil
}

// Members lists the current members of the guild ordered by address.
func (r *Repository) Members(ctx context.Context, tx kvstore.Txn, guildID uint64) ([]Member, error) {
	entries, err := tx.Scan(ctx, memberPrefix+kvstore.ID(guildID)+"/")
	if err != nil {
		return nil, fmt.Errorf("guild: list members: %w", err)
	}

	out := make([]Member, 0, len(entries))
	for _, e := range entries {
		var m Member
		if err := e.Decode(&m); err != nil {
			return nil, fmt.Errorf("guild: %w", err)
		}
		out = append(out, m)
	}
	return out, nil
}

// MemberCount returns the current number of members of the guild.
func (r *Repository) MemberCount(ctx context.Context, tx kvstore.Txn, guildID uint64) (int, error) {
	entries, err := tx.Scan(ctx, memberPrefix+kvstore.ID(guildID)+"/")
	if err != nil {
		return 0, fmt.Errorf("guild: count members: %w", err)
	}
	return len(entries), nil
}

func recordKey(id uint64) string {
	return recordPrefix + kvstore.ID(id)
}

func memberKey(guildID uint64, address string) string {
	return memberPrefix + kvstore.ID(guildID) + "/" + address
}
