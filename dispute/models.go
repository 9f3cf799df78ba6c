package dispute

import (
	"time"

	"guildcourt/bounty"
	"guildcourt/milestone"
)

const (
	// VotingPeriod is the fixed window between creation and the voting deadline.
	VotingPeriod = 7 * 24 * time.Hour
	// MaxReasonLen and MaxEvidenceLen bound the free-text fields in characters.
	MaxReasonLen   = 1024
	MaxEvidenceLen = 1024
	// QuorumPercent is the share of current guild members that must vote.
	QuorumPercent = 30
)

// Status represents the lifecycle of a dispute record.
type Status string

const (
	StatusOpen     Status = "open"
	StatusVoting   Status = "voting"
	StatusResolved Status = "resolved"
	StatusExpired  Status = "expired"
)

// Closed reports whether the dispute has left the voting window for good.
func (s Status) Closed() bool {
	return s == StatusResolved || s == StatusExpired
}

// Decision is a voter's ruling, and the outcome of a tally.
type Decision string

const (
	FavorPlaintiff Decision = "favor_plaintiff"
	FavorDefendant Decision = "favor_defendant"
	Split          Decision = "split"
)

func (d Decision) Valid() bool {
	switch d {
	case FavorPlaintiff, FavorDefendant, Split:
		return true
	default:
		return false
	}
}

// ReferenceType names the domain holding the disputed funds.
type ReferenceType string

const (
	ReferenceBounty    ReferenceType = "bounty"
	ReferenceMilestone ReferenceType = "milestone"
)

// Reference is the disputed bounty or milestone, loaded with the records the
// engine needs. The set of implementations is closed.
type Reference interface {
	Type() ReferenceType
	ID() uint64
	GuildID() uint64
	sealed()
}

// BountyReference is a dispute over a bounty's escrowed reward.
type BountyReference struct {
	Bounty bounty.Bounty
}

func (r BountyReference) Type() ReferenceType { return ReferenceBounty }
func (r BountyReference) ID() uint64          { return r.Bounty.ID }
func (r BountyReference) GuildID() uint64     { return r.Bounty.GuildID }
func (BountyReference) sealed()               {}

// MilestoneReference is a dispute over a milestone payment and the project
// budget it draws on.
type MilestoneReference struct {
	Milestone milestone.Milestone
	Project   milestone.Project
}

func (r MilestoneReference) Type() ReferenceType { return ReferenceMilestone }
func (r MilestoneReference) ID() uint64          { return r.Milestone.ID }
func (r MilestoneReference) GuildID() uint64     { return r.Project.GuildID }
func (MilestoneReference) sealed()               {}

// Dispute is the persisted dispute record. Vote totals are running
// accumulators over the dispute's Vote records.
type Dispute struct {
	ID                 uint64        `json:"id"`
	ReferenceID        uint64        `json:"reference_id"`
	ReferenceType      ReferenceType `json:"reference_type"`
	GuildID            uint64        `json:"guild_id"`
	Plaintiff          string        `json:"plaintiff"`
	Defendant          string        `json:"defendant"`
	Reason             string        `json:"reason"`
	Status             Status        `json:"status"`
	CreatedAt          time.Time     `json:"created_at"`
	VotingDeadline     time.Time     `json:"voting_deadline"`
	EvidencePlaintiff  *string       `json:"evidence_plaintiff,omitempty"`
	EvidenceDefendant  *string       `json:"evidence_defendant,omitempty"`
	VotesForPlaintiff  uint64        `json:"votes_for_plaintiff"`
	VotesForDefendant  uint64        `json:"votes_for_defendant"`
	VotesSplit         uint64        `json:"votes_split"`
	VoteCount          uint32        `json:"vote_count"`
	ResolvedAt         *time.Time    `json:"resolved_at,omitempty"`
	ResolutionExecuted bool          `json:"resolution_executed"`
}

// IsParty reports whether address is the plaintiff or the defendant.
func (d Dispute) IsParty(address string) bool {
	return address == d.Plaintiff || address == d.Defendant
}

// Vote is a single voter's immutable ballot. Weight is captured at cast time.
type Vote struct {
	DisputeID uint64    `json:"dispute_id"`
	Voter     string    `json:"voter"`
	Decision  Decision  `json:"decision"`
	Weight    uint32    `json:"weight"`
	CastAt    time.Time `json:"cast_at"`
}

// FundDistribution is one payout made while settling a dispute.
type FundDistribution struct {
	Recipient string `json:"recipient"`
	Amount    int64  `json:"amount"`
}

// Resolution summarises a tally. Winner is empty unless quorum was reached
// and one party won outright.
type Resolution struct {
	DisputeID         uint64             `json:"dispute_id"`
	Winner            string             `json:"winner,omitempty"`
	Decision          Decision           `json:"decision"`
	Distributions     []FundDistribution `json:"fund_distribution"`
	VoteCount         uint32             `json:"vote_count"`
	VotesForPlaintiff uint64             `json:"votes_for_plaintiff"`
	VotesForDefendant uint64             `json:"votes_for_defendant"`
	VotesSplit        uint64             `json:"votes_split"`
	TotalMembers      int                `json:"total_members"`
	QuorumReached     bool               `json:"quorum_reached"`
}

// CreateParams are the inputs to Create.
type CreateParams struct {
	ReferenceID uint64
	Plaintiff   string
	Defendant   string
	Reason      string
	EvidenceURL string
}
