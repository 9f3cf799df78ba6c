package dispute

import (
	"context"

	"guildcourt/kvstore"
)

// Tally reports the current standing of a dispute without changing it.
func (s *Service) Tally(ctx context.Context, disputeID uint64) (Resolution, error) {
	var res Resolution
	err := kvstore.Update(ctx, s.store, func(tx kvstore.Txn) error {
		d, err := s.repo.Get(ctx, tx, disputeID)
		if err != nil {
			return err
		}
		res, err = s.tally(ctx, tx, d)
		return err
	})
	return res, err
}

func (s *Service) tally(ctx context.Context, tx kvstore.Txn, d Dispute) (Resolution, error) {
	total, err := s.guilds.MemberCount(ctx, tx, d.GuildID)
	if err != nil {
		return Resolution{}, err
	}
	res := Resolution{
		DisputeID:         d.ID,
		Decision:          decideWinner(d.VotesForPlaintiff, d.VotesForDefendant, d.VotesSplit),
		Distributions:     []FundDistribution{},
		VoteCount:         d.VoteCount,
		VotesForPlaintiff: d.VotesForPlaintiff,
		VotesForDefendant: d.VotesForDefendant,
		VotesSplit:        d.VotesSplit,
		TotalMembers:      total,
		QuorumReached:     quorumReached(d.VoteCount, total),
	}
	if res.QuorumReached {
		switch res.Decision {
		case FavorPlaintiff:
			res.Winner = d.Plaintiff
		case FavorDefendant:
			res.Winner = d.Defendant
		}
	}
	return res, nil
}

// quorumReached counts heads, not weight: at least QuorumPercent of the
// guild's current members must have voted. Integer division truncates.
func quorumReached(voteCount uint32, totalMembers int) bool {
	if totalMembers <= 0 {
		return false
	}
	return uint64(voteCount)*100/uint64(totalMembers) >= QuorumPercent
}

// decideWinner needs a strict lead over both other totals; anything else,
// including an all-zero tally, is a split.
func decideWinner(plaintiff, defendant, split uint64) Decision {
	switch {
	case plaintiff > defendant && plaintiff > split:
		return FavorPlaintiff
	case defendant > plaintiff && defendant > split:
		return FavorDefendant
	default:
		return Split
	}
}
