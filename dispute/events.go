package dispute

// Outbox topics for dispute events.
const (
	TopicDisputeCreated     = "DisputeCreated"
	TopicDisputeEvidence    = "DisputeEvidence"
	TopicDisputeVote        = "DisputeVote"
	TopicDisputeResolved    = "DisputeResolved"
	TopicDisputeExpired     = "DisputeExpired"
	TopicResolutionExecuted = "ResolutionExecuted"
)

type DisputeCreatedEvent struct {
	DisputeID     uint64        `json:"dispute_id"`
	GuildID       uint64        `json:"guild_id"`
	ReferenceID   uint64        `json:"reference_id"`
	ReferenceType ReferenceType `json:"reference_type"`
	Plaintiff     string        `json:"plaintiff"`
	Defendant     string        `json:"defendant"`
}

type EvidenceSubmittedEvent struct {
	DisputeID uint64 `json:"dispute_id"`
	Party     string `json:"party"`
}

type VoteCastEvent struct {
	DisputeID uint64   `json:"dispute_id"`
	Voter     string   `json:"voter"`
	Decision  Decision `json:"decision"`
	Weight    uint32   `json:"weight"`
}

type DisputeResolvedEvent struct {
	DisputeID uint64 `json:"dispute_id"`
	Status    Status `json:"status"`
}

type DisputeExpiredEvent struct {
	DisputeID uint64 `json:"dispute_id"`
}

// ResolutionExecutedEvent also lists the payouts made, if any.
type ResolutionExecutedEvent struct {
	DisputeID     uint64             `json:"dispute_id"`
	Distributions []FundDistribution `json:"fund_distribution,omitempty"`
}
