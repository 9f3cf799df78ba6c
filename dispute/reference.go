package dispute

import (
	"context"
	"errors"
	"fmt"

	"guildcourt/bounty"
	"guildcourt/kvstore"
	"guildcourt/milestone"
)

// resolveReference finds the single domain record an id names. Bounty and
// milestone ids come from independent counters, so an id present in both is
// rejected rather than guessed.
func (s *Service) resolveReference(ctx context.Context, tx kvstore.Txn, refID uint64) (Reference, error) {
	isBounty, err := s.bounties.Exists(ctx, tx, refID)
	if err != nil {
		return nil, fmt.Errorf("dispute: lookup bounty %d: %w", refID, err)
	}
	isMilestone, err := s.milestones.Exists(ctx, tx, refID)
	if err != nil {
		return nil, fmt.Errorf("dispute: lookup milestone %d: %w", refID, err)
	}
	switch {
	case isBounty && isMilestone:
		return nil, ErrAmbiguousReference
	case isBounty:
		return s.loadReference(ctx, tx, ReferenceBounty, refID)
	case isMilestone:
		return s.loadReference(ctx, tx, ReferenceMilestone, refID)
	default:
		return nil, ErrReferenceNotFound
	}
}

func (s *Service) loadReference(ctx context.Context, tx kvstore.Txn, t ReferenceType, refID uint64) (Reference, error) {
	switch t {
	case ReferenceBounty:
		b, err := s.bounties.Get(ctx, tx, refID)
		if err != nil {
			if errors.Is(err, bounty.ErrNotFound) {
				return nil, fmt.Errorf("%w: bounty %d", ErrReferenceNotFound, refID)
			}
			return nil, err
		}
		return BountyReference{Bounty: b}, nil
	case ReferenceMilestone:
		m, err := s.milestones.Get(ctx, tx, refID)
		if err != nil {
			if errors.Is(err, milestone.ErrNotFound) {
				return nil, fmt.Errorf("%w: milestone %d", ErrReferenceNotFound, refID)
			}
			return nil, err
		}
		p, err := s.milestones.GetProject(ctx, tx, m.ProjectID)
		if err != nil {
			if errors.Is(err, milestone.ErrProjectNotFound) {
				return nil, fmt.Errorf("%w: project %d", ErrReferenceNotFound, m.ProjectID)
			}
			return nil, err
		}
		return MilestoneReference{Milestone: m, Project: p}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, t)
	}
}

// checkDisputable applies the per-domain rules for opening a dispute.
func checkDisputable(ref Reference) error {
	switch r := ref.(type) {
	case BountyReference:
		if r.Bounty.Status.Closed() {
			return ErrBountyNotDisputable
		}
		if r.Bounty.FundedAmount <= 0 {
			return ErrBountyNotFunded
		}
		return nil
	case MilestoneReference:
		if r.Project.Status == milestone.ProjectCancelled {
			return ErrProjectCancelled
		}
		if r.Milestone.IsPaymentReleased {
			return ErrMilestonePaid
		}
		return nil
	default:
		return fmt.Errorf("%w: %T", ErrUnknownType, ref)
	}
}
