package dispute

import (
	"context"

	"guildcourt/auth"
	"guildcourt/bounty"
	"guildcourt/guild"
	"guildcourt/kvstore"
	"guildcourt/milestone"
)

// Guilds answers membership questions inside the engine's transaction.
type Guilds interface {
	Member(ctx context.Context, tx kvstore.Txn, guildID uint64, address string) (guild.Member, error)
	MemberCount(ctx context.Context, tx kvstore.Txn, guildID uint64) (int, error)
}

type Bounties interface {
	Exists(ctx context.Context, tx kvstore.Txn, id uint64) (bool, error)
	Get(ctx context.Context, tx kvstore.Txn, id uint64) (bounty.Bounty, error)
	Put(ctx context.Context, tx kvstore.Txn, b bounty.Bounty) error
}

type Milestones interface {
	Exists(ctx context.Context, tx kvstore.Txn, id uint64) (bool, error)
	Get(ctx context.Context, tx kvstore.Txn, id uint64) (milestone.Milestone, error)
	Put(ctx context.Context, tx kvstore.Txn, m milestone.Milestone) error
	GetProject(ctx context.Context, tx kvstore.Txn, id uint64) (milestone.Project, error)
	PutProject(ctx context.Context, tx kvstore.Txn, p milestone.Project) error
	ProjectMilestones(ctx context.Context, tx kvstore.Txn, projectID uint64) ([]milestone.Milestone, error)
}

// Funds moves escrowed tokens. Release pays out of a bounty's escrow account,
// PayFromTreasury out of a project treasury.
type Funds interface {
	Release(ctx context.Context, tx kvstore.Txn, token string, bountyID uint64, to string, amount int64) error
	PayFromTreasury(ctx context.Context, tx kvstore.Txn, treasuryID uint64, token, to string, amount int64) error
}

// Events records domain events in the caller's transaction.
type Events interface {
	Emit(ctx context.Context, tx kvstore.Txn, topic string, payload any) error
}

// Metrics observes committed dispute activity.
type Metrics interface {
	DisputeCreated(referenceType string)
	VoteCast(decision string)
	DisputeClosed(status string)
	ResolutionExecuted(decision string)
	Payout(referenceType string, amount int64)
}

type noopMetrics struct{}

func (noopMetrics) DisputeCreated(string)     {}
func (noopMetrics) VoteCast(string)           {}
func (noopMetrics) DisputeClosed(string)      {}
func (noopMetrics) ResolutionExecuted(string) {}
func (noopMetrics) Payout(string, int64)      {}

// Collaborators are the external domains the engine reads and mutates.
// Guilds, Bounties, Milestones and Funds are required. RoleWeight defaults
// to guild.RoleWeight and Authorizer to auth.AllowAll.
type Collaborators struct {
	Guilds     Guilds
	Bounties   Bounties
	Milestones Milestones
	Funds      Funds
	RoleWeight func(guild.Role) int32
	Authorizer auth.Authorizer
}
