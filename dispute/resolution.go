package dispute

import (
	"context"
	"fmt"

	"guildcourt/bounty"
	"guildcourt/kvstore"
	"guildcourt/milestone"
)

// Resolve closes a dispute once its voting deadline has passed. Without
// quorum the dispute expires and a disputed bounty's escrow is refunded to
// its creator. With quorum the dispute is resolved and the ruling is
// executed in the same transaction. Either way the reference is unlocked.
func (s *Service) Resolve(ctx context.Context, disputeID uint64) (Resolution, error) {
	var (
		res Resolution
		d   Dispute
	)
	err := kvstore.Update(ctx, s.store, func(tx kvstore.Txn) error {
		var err error
		d, err = s.repo.Get(ctx, tx, disputeID)
		if err != nil {
			return err
		}
		if d.Status.Closed() {
			return ErrDisputeClosed
		}
		now := s.now().UTC()
		if now.Before(d.VotingDeadline) {
			return ErrVotingPeriodActive
		}
		res, err = s.tally(ctx, tx, d)
		if err != nil {
			return err
		}

		d.ResolvedAt = &now
		if err := s.repo.Unlock(ctx, tx, d.ReferenceType, d.ReferenceID); err != nil {
			return err
		}
		if err := s.repo.MarkClosed(ctx, tx, d.ID); err != nil {
			return err
		}

		if !res.QuorumReached {
			d.Status = StatusExpired
			refund, err := s.refundExpired(ctx, tx, d)
			if err != nil {
				return err
			}
			if refund != nil {
				res.Distributions = append(res.Distributions, *refund)
			}
			if err := s.repo.Put(ctx, tx, d); err != nil {
				return err
			}
			return s.events.Emit(ctx, tx, TopicDisputeExpired, DisputeExpiredEvent{DisputeID: d.ID})
		}

		d.Status = StatusResolved
		if err := s.events.Emit(ctx, tx, TopicDisputeResolved, DisputeResolvedEvent{DisputeID: d.ID, Status: d.Status}); err != nil {
			return err
		}
		dists, err := s.execute(ctx, tx, &d)
		if err != nil {
			return err
		}
		res.Distributions = append(res.Distributions, dists...)
		return s.repo.Put(ctx, tx, d)
	})
	if err != nil {
		s.rejected("resolve", err, "dispute_id", disputeID)
		return Resolution{}, err
	}

	s.metrics.DisputeClosed(string(d.Status))
	if d.Status == StatusResolved {
		s.metrics.ResolutionExecuted(string(res.Decision))
	}
	s.recordPayouts(d.ReferenceType, res.Distributions)
	s.logger.InfoContext(ctx, "dispute closed",
		"dispute_id", d.ID,
		"status", d.Status,
		"decision", res.Decision,
		"quorum", res.QuorumReached,
		"votes", res.VoteCount,
		"members", res.TotalMembers,
	)
	return res, nil
}

// ExecuteResolution pays out a resolved dispute that has not been executed
// yet. Resolve normally executes the ruling itself.
func (s *Service) ExecuteResolution(ctx context.Context, disputeID uint64) ([]FundDistribution, error) {
	var (
		dists []FundDistribution
		d     Dispute
	)
	err := kvstore.Update(ctx, s.store, func(tx kvstore.Txn) error {
		var err error
		d, err = s.repo.Get(ctx, tx, disputeID)
		if err != nil {
			return err
		}
		dists, err = s.execute(ctx, tx, &d)
		if err != nil {
			return err
		}
		return s.repo.Put(ctx, tx, d)
	})
	if err != nil {
		s.rejected("execute resolution", err, "dispute_id", disputeID)
		return nil, err
	}

	s.metrics.ResolutionExecuted(string(decideWinner(d.VotesForPlaintiff, d.VotesForDefendant, d.VotesSplit)))
	s.recordPayouts(d.ReferenceType, dists)
	s.logger.InfoContext(ctx, "resolution executed", "dispute_id", d.ID, "payouts", len(dists))
	return dists, nil
}

// execute settles d according to its vote totals and marks it executed. The
// caller persists d.
func (s *Service) execute(ctx context.Context, tx kvstore.Txn, d *Dispute) ([]FundDistribution, error) {
	if d.Status != StatusResolved {
		return nil, ErrNotResolved
	}
	if d.ResolutionExecuted {
		return nil, ErrAlreadyExecuted
	}
	ref, err := s.loadReference(ctx, tx, d.ReferenceType, d.ReferenceID)
	if err != nil {
		return nil, err
	}
	decision := decideWinner(d.VotesForPlaintiff, d.VotesForDefendant, d.VotesSplit)

	var dists []FundDistribution
	switch r := ref.(type) {
	case BountyReference:
		dists, err = s.settleBounty(ctx, tx, *d, r.Bounty, decision)
	case MilestoneReference:
		dists, err = s.settleMilestone(ctx, tx, *d, r.Milestone, r.Project, decision)
	default:
		err = fmt.Errorf("%w: %T", ErrUnknownType, ref)
	}
	if err != nil {
		return nil, err
	}

	d.ResolutionExecuted = true
	if dists == nil {
		dists = []FundDistribution{}
	}
	if err := s.events.Emit(ctx, tx, TopicResolutionExecuted, ResolutionExecutedEvent{DisputeID: d.ID, Distributions: dists}); err != nil {
		return nil, err
	}
	return dists, nil
}

func (s *Service) settleBounty(ctx context.Context, tx kvstore.Txn, d Dispute, b bounty.Bounty, decision Decision) ([]FundDistribution, error) {
	if b.FundedAmount <= 0 {
		return nil, nil
	}
	toPlaintiff, toDefendant := shares(decision, b.FundedAmount)
	var dists []FundDistribution
	for _, p := range []FundDistribution{{d.Plaintiff, toPlaintiff}, {d.Defendant, toDefendant}} {
		if p.Amount == 0 {
			continue
		}
		if err := s.funds.Release(ctx, tx, b.Token, b.ID, p.Recipient, p.Amount); err != nil {
			return nil, fmt.Errorf("dispute: release bounty %d: %w", b.ID, err)
		}
		dists = append(dists, p)
	}
	b.FundedAmount = 0
	if err := s.bounties.Put(ctx, tx, b); err != nil {
		return nil, err
	}
	return dists, nil
}

// settleMilestone pays the milestone by decision. A milestone that was paid
// or whose project was cancelled while the dispute ran settles with no
// payout.
func (s *Service) settleMilestone(ctx context.Context, tx kvstore.Txn, d Dispute, m milestone.Milestone, p milestone.Project, decision Decision) ([]FundDistribution, error) {
	if m.IsPaymentReleased {
		s.logger.WarnContext(ctx, "milestone already paid, ruling settles nothing",
			"dispute_id", d.ID, "milestone_id", m.ID)
		return nil, nil
	}
	if m.PaymentAmount <= 0 || p.Status == milestone.ProjectCancelled {
		return nil, nil
	}
	released := p.ReleasedAmount + m.PaymentAmount
	if released < p.ReleasedAmount || released > p.TotalAmount {
		return nil, fmt.Errorf("%w: project %d released %d of %d, payment %d",
			ErrBudgetExceeded, p.ID, p.ReleasedAmount, p.TotalAmount, m.PaymentAmount)
	}

	toPlaintiff, toDefendant := shares(decision, m.PaymentAmount)
	var dists []FundDistribution
	for _, share := range []FundDistribution{{d.Plaintiff, toPlaintiff}, {d.Defendant, toDefendant}} {
		if share.Amount == 0 {
			continue
		}
		if err := s.funds.PayFromTreasury(ctx, tx, p.TreasuryID, p.Token, share.Recipient, share.Amount); err != nil {
			return nil, fmt.Errorf("dispute: pay milestone %d: %w", m.ID, err)
		}
		dists = append(dists, share)
	}

	p.ReleasedAmount = released
	m.IsPaymentReleased = true
	m.LastUpdatedAt = s.now().UTC()
	if decision == FavorDefendant {
		m.Status = milestone.StatusRejected
	} else {
		m.Status = milestone.StatusApproved
	}
	if err := s.milestones.Put(ctx, tx, m); err != nil {
		return nil, err
	}

	all, err := s.milestones.ProjectMilestones(ctx, tx, p.ID)
	if err != nil {
		return nil, err
	}
	if milestone.AllSettled(all) && p.Status != milestone.ProjectCompleted {
		p.Status = milestone.ProjectCompleted
	}
	if err := s.milestones.PutProject(ctx, tx, p); err != nil {
		return nil, err
	}
	return dists, nil
}

// refundExpired returns a disputed bounty's escrow to its creator when the
// dispute expires. Cancelled and expired bounties were already settled.
func (s *Service) refundExpired(ctx context.Context, tx kvstore.Txn, d Dispute) (*FundDistribution, error) {
	ref, err := s.loadReference(ctx, tx, d.ReferenceType, d.ReferenceID)
	if err != nil {
		return nil, err
	}
	switch r := ref.(type) {
	case BountyReference:
		b := r.Bounty
		if b.Status.Closed() || b.FundedAmount <= 0 {
			return nil, nil
		}
		refund := FundDistribution{Recipient: b.Creator, Amount: b.FundedAmount}
		if err := s.funds.Release(ctx, tx, b.Token, b.ID, b.Creator, b.FundedAmount); err != nil {
			return nil, fmt.Errorf("dispute: refund bounty %d: %w", b.ID, err)
		}
		b.FundedAmount = 0
		if err := s.bounties.Put(ctx, tx, b); err != nil {
			return nil, err
		}
		return &refund, nil
	case MilestoneReference:
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownType, ref)
	}
}

// shares splits amount by decision. A split rounds the plaintiff down.
func shares(decision Decision, amount int64) (plaintiff, defendant int64) {
	switch decision {
	case FavorPlaintiff:
		return amount, 0
	case FavorDefendant:
		return 0, amount
	default:
		half := amount / 2
		return half, amount - half
	}
}

func (s *Service) recordPayouts(t ReferenceType, dists []FundDistribution) {
	for _, d := range dists {
		s.metrics.Payout(string(t), d.Amount)
	}
}
