package dispute

import (
	"context"
	"errors"

	"guildcourt/guild"
	"guildcourt/kvstore"
)

// CastVote records voter's ruling on a dispute. Parties cannot vote and each
// guild member votes at most once; the vote weighs what the voter's role
// weighs at cast time.
func (s *Service) CastVote(ctx context.Context, disputeID uint64, voter string, decision Decision) error {
	if err := s.authz.Require(ctx, voter); err != nil {
		return err
	}
	if !decision.Valid() {
		return ErrInvalidDecision
	}

	var weight uint32
	err := kvstore.Update(ctx, s.store, func(tx kvstore.Txn) error {
		d, err := s.repo.Get(ctx, tx, disputeID)
		if err != nil {
			return err
		}
		if d.Status.Closed() {
			return ErrDisputeClosed
		}
		if s.now().After(d.VotingDeadline) {
			return ErrVotingPeriodEnded
		}
		if d.IsParty(voter) {
			return ErrPartyCannotVote
		}
		voted, err := s.repo.HasVoted(ctx, tx, d.ID, voter)
		if err != nil {
			return err
		}
		if voted {
			return ErrAlreadyVoted
		}
		weight, err = s.weight(ctx, tx, d.GuildID, voter)
		if err != nil {
			return err
		}

		if err := s.repo.PutVote(ctx, tx, Vote{
			DisputeID: d.ID,
			Voter:     voter,
			Decision:  decision,
			Weight:    weight,
			CastAt:    s.now().UTC(),
		}); err != nil {
			return err
		}
		switch decision {
		case FavorPlaintiff:
			d.VotesForPlaintiff += uint64(weight)
		case FavorDefendant:
			d.VotesForDefendant += uint64(weight)
		case Split:
			d.VotesSplit += uint64(weight)
		}
		d.VoteCount++
		if d.Status == StatusOpen {
			d.Status = StatusVoting
		}
		if err := s.repo.Put(ctx, tx, d); err != nil {
			return err
		}
		return s.events.Emit(ctx, tx, TopicDisputeVote, VoteCastEvent{
			DisputeID: d.ID,
			Voter:     voter,
			Decision:  decision,
			Weight:    weight,
		})
	})
	if err != nil {
		s.rejected("cast vote", err, "dispute_id", disputeID, "voter", voter)
		return err
	}

	s.metrics.VoteCast(string(decision))
	s.logger.DebugContext(ctx, "vote cast",
		"dispute_id", disputeID,
		"voter", voter,
		"decision", decision,
		"weight", weight,
	)
	return nil
}

// VoteWeight reports the weight voter would carry in the guild's disputes.
func (s *Service) VoteWeight(ctx context.Context, guildID uint64, voter string) (uint32, error) {
	var weight uint32
	err := kvstore.Update(ctx, s.store, func(tx kvstore.Txn) error {
		var err error
		weight, err = s.weight(ctx, tx, guildID, voter)
		return err
	})
	return weight, err
}

func (s *Service) weight(ctx context.Context, tx kvstore.Txn, guildID uint64, voter string) (uint32, error) {
	m, err := s.guilds.Member(ctx, tx, guildID, voter)
	if err != nil {
		if errors.Is(err, guild.ErrMemberNotFound) {
			return 0, ErrNotGuildMember
		}
		return 0, err
	}
	w := s.roleWeight(m.Role)
	if w < 0 {
		return 0, nil
	}
	return uint32(w), nil
}
