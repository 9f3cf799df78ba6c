package dispute

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"guildcourt/auth"
	"guildcourt/guild"
	"guildcourt/kvstore"
	"guildcourt/outbox"
)

var ErrMissingCollaborator = errors.New("dispute: missing collaborator")

// Service is the dispute engine. Every public call runs in one store
// transaction, so a failed call leaves no partial state behind.
type Service struct {
	store      kvstore.Store
	repo       *Repository
	guilds     Guilds
	bounties   Bounties
	milestones Milestones
	funds      Funds
	roleWeight func(guild.Role) int32
	authz      auth.Authorizer
	events     Events
	metrics    Metrics
	logger     *slog.Logger
	now        func() time.Time
}

func NewService(store kvstore.Store, c Collaborators) (*Service, error) {
	switch {
	case store == nil:
		return nil, fmt.Errorf("%w: store", ErrMissingCollaborator)
	case c.Guilds == nil:
		return nil, fmt.Errorf("%w: guilds", ErrMissingCollaborator)
	case c.Bounties == nil:
		return nil, fmt.Errorf("%w: bounties", ErrMissingCollaborator)
	case c.Milestones == nil:
		return nil, fmt.Errorf("%w: milestones", ErrMissingCollaborator)
	case c.Funds == nil:
		return nil, fmt.Errorf("%w: funds", ErrMissingCollaborator)
	}
	if c.RoleWeight == nil {
		c.RoleWeight = guild.RoleWeight
	}
	if c.Authorizer == nil {
		c.Authorizer = auth.AllowAll{}
	}
	return &Service{
		store:      store,
		repo:       NewRepository(),
		guilds:     c.Guilds,
		bounties:   c.Bounties,
		milestones: c.Milestones,
		funds:      c.Funds,
		roleWeight: c.RoleWeight,
		authz:      c.Authorizer,
		events:     outbox.NewWriter(),
		metrics:    noopMetrics{},
		logger:     slog.Default().With("component", "dispute"),
		now:        time.Now,
	}, nil
}

func (s *Service) WithEvents(e Events) *Service {
	if e != nil {
		s.events = e
	}
	return s
}

func (s *Service) WithMetrics(m Metrics) *Service {
	if m != nil {
		s.metrics = m
	}
	return s
}

func (s *Service) WithLogger(l *slog.Logger) *Service {
	if l != nil {
		s.logger = l.With("component", "dispute")
	}
	return s
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Create opens a dispute over a bounty or milestone and locks the reference
// until the dispute closes. The evidence URL becomes the plaintiff's
// initial evidence.
func (s *Service) Create(ctx context.Context, p CreateParams) (uint64, error) {
	if err := s.authz.Require(ctx, p.Plaintiff); err != nil {
		return 0, err
	}
	if p.Plaintiff == p.Defendant {
		return 0, ErrSameParty
	}
	if n := utf8.RuneCountInString(p.Reason); n == 0 || n > MaxReasonLen {
		return 0, ErrInvalidReason
	}
	if n := utf8.RuneCountInString(p.EvidenceURL); n == 0 || n > MaxEvidenceLen {
		return 0, ErrInvalidEvidence
	}

	var d Dispute
	err := kvstore.Update(ctx, s.store, func(tx kvstore.Txn) error {
		ref, err := s.resolveReference(ctx, tx, p.ReferenceID)
		if err != nil {
			return err
		}
		if err := checkDisputable(ref); err != nil {
			return err
		}
		holder, locked, err := s.repo.LockHolder(ctx, tx, ref.Type(), ref.ID())
		if err != nil {
			return err
		}
		if locked {
			return fmt.Errorf("%w: held by dispute %d", ErrDisputeActive, holder)
		}

		id, err := s.repo.NextID(ctx, tx)
		if err != nil {
			return err
		}
		now := s.now().UTC()
		evidence := p.EvidenceURL
		d = Dispute{
			ID:                id,
			ReferenceID:       ref.ID(),
			ReferenceType:     ref.Type(),
			GuildID:           ref.GuildID(),
			Plaintiff:         p.Plaintiff,
			Defendant:         p.Defendant,
			Reason:            p.Reason,
			Status:            StatusOpen,
			CreatedAt:         now,
			VotingDeadline:    now.Add(VotingPeriod),
			EvidencePlaintiff: &evidence,
		}
		if err := s.repo.Put(ctx, tx, d); err != nil {
			return err
		}
		if err := s.repo.MarkOpen(ctx, tx, d); err != nil {
			return err
		}
		if err := s.repo.Lock(ctx, tx, d.ReferenceType, d.ReferenceID, d.ID); err != nil {
			return err
		}
		return s.events.Emit(ctx, tx, TopicDisputeCreated, DisputeCreatedEvent{
			DisputeID:     d.ID,
			GuildID:       d.GuildID,
			ReferenceID:   d.ReferenceID,
			ReferenceType: d.ReferenceType,
			Plaintiff:     d.Plaintiff,
			Defendant:     d.Defendant,
		})
	})
	if err != nil {
		s.rejected("create", err, "reference_id", p.ReferenceID)
		return 0, err
	}

	s.metrics.DisputeCreated(string(d.ReferenceType))
	s.logger.InfoContext(ctx, "dispute created",
		"dispute_id", d.ID,
		"reference_type", d.ReferenceType,
		"reference_id", d.ReferenceID,
		"guild_id", d.GuildID,
	)
	return d.ID, nil
}

// SubmitEvidence replaces the calling party's evidence URL.
func (s *Service) SubmitEvidence(ctx context.Context, disputeID uint64, party, url string) error {
	if err := s.authz.Require(ctx, party); err != nil {
		return err
	}
	if n := utf8.RuneCountInString(url); n == 0 || n > MaxEvidenceLen {
		return ErrInvalidEvidence
	}

	err := kvstore.Update(ctx, s.store, func(tx kvstore.Txn) error {
		d, err := s.repo.Get(ctx, tx, disputeID)
		if err != nil {
			return err
		}
		if d.Status.Closed() {
			return ErrDisputeClosed
		}
		if s.now().After(d.VotingDeadline) {
			return ErrEvidencePeriodEnded
		}
		evidence := url
		switch party {
		case d.Plaintiff:
			d.EvidencePlaintiff = &evidence
		case d.Defendant:
			d.EvidenceDefendant = &evidence
		default:
			return ErrNotParty
		}
		if err := s.repo.Put(ctx, tx, d); err != nil {
			return err
		}
		return s.events.Emit(ctx, tx, TopicDisputeEvidence, EvidenceSubmittedEvent{DisputeID: d.ID, Party: party})
	})
	if err != nil {
		s.rejected("submit evidence", err, "dispute_id", disputeID)
		return err
	}
	s.logger.DebugContext(ctx, "evidence submitted", "dispute_id", disputeID, "party", party)
	return nil
}

func (s *Service) Get(ctx context.Context, disputeID uint64) (Dispute, error) {
	var d Dispute
	err := kvstore.Update(ctx, s.store, func(tx kvstore.Txn) error {
		var err error
		d, err = s.repo.Get(ctx, tx, disputeID)
		return err
	})
	return d, err
}

func (s *Service) Vote(ctx context.Context, disputeID uint64, voter string) (Vote, error) {
	var v Vote
	err := kvstore.Update(ctx, s.store, func(tx kvstore.Txn) error {
		var err error
		v, err = s.repo.GetVote(ctx, tx, disputeID, voter)
		return err
	})
	return v, err
}

// ActiveDisputeFor returns the dispute currently locking a reference.
func (s *Service) ActiveDisputeFor(ctx context.Context, t ReferenceType, refID uint64) (uint64, bool, error) {
	var (
		id uint64
		ok bool
	)
	err := kvstore.Update(ctx, s.store, func(tx kvstore.Txn) error {
		var err error
		id, ok, err = s.repo.LockHolder(ctx, tx, t, refID)
		return err
	})
	return id, ok, err
}

// DueForResolution lists open disputes whose voting deadline is at or
// before now, ordered by id. Only the open index is read.
func (s *Service) DueForResolution(ctx context.Context, now time.Time) ([]uint64, error) {
	var ids []uint64
	err := kvstore.Update(ctx, s.store, func(tx kvstore.Txn) error {
		open, err := s.repo.Open(ctx, tx)
		if err != nil {
			return err
		}
		for _, e := range open {
			if !now.Before(e.VotingDeadline) {
				ids = append(ids, e.DisputeID)
			}
		}
		return nil
	})
	return ids, err
}

func (s *Service) rejected(op string, err error, args ...any) {
	kind := KindOf(err)
	args = append(args, "op", op, "kind", kind, "error", err)
	if Rejected(err) {
		s.logger.Debug("dispute call rejected", args...)
		return
	}
	s.logger.Error("dispute call failed", args...)
}
