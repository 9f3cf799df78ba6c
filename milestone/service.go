package milestone

import (
	"context"
	"errors"
	"fmt"
	"time"

	"guildcourt/auth"
	"guildcourt/escrow"
	"guildcourt/guild"
	"guildcourt/kvstore"
)

var (
	ErrNoMilestones      = errors.New("milestone: project needs at least one milestone")
	ErrInvalidAmount     = errors.New("milestone: payment amount must be positive")
	ErrInvalidTitle      = errors.New("milestone: title must be between 1 and 256 characters")
	ErrInvalidDeadline   = errors.New("milestone: deadline must be in the future")
	ErrNotGuildAdmin     = errors.New("milestone: caller must be a guild owner or admin")
	ErrNotContributor    = errors.New("milestone: caller is not the project contributor")
	ErrProjectNotActive  = errors.New("milestone: project is not active")
	ErrInvalidTransition = errors.New("milestone: invalid status transition")
	ErrAlreadyReleased   = errors.New("milestone: payment already released")
	ErrBudgetExceeded    = errors.New("milestone: project budget exceeded")
	ErrNotOverdue        = errors.New("milestone: deadline has not passed")
	ErrUnderDispute      = errors.New("milestone: milestone is under dispute")
)

const maxTitleLen = 256

// Memberships is the slice of guild storage projects need.
type Memberships interface {
	Member(ctx context.Context, tx kvstore.Txn, guildID uint64, address string) (guild.Member, error)
}

// DisputeLocks reports whether an open dispute holds a milestone. While it
// does, only the dispute may pay, reject or expire it.
type DisputeLocks interface {
	MilestoneLocked(ctx context.Context, tx kvstore.Txn, milestoneID uint64) (bool, error)
}

type noDisputes struct{}

func (noDisputes) MilestoneLocked(context.Context, kvstore.Txn, uint64) (bool, error) {
	return false, nil
}

type CreateProjectParams struct {
	GuildID     uint64
	Creator     string
	Contributor string
	TreasuryID  uint64
	Token       string
	Milestones  []Input
}

type Service struct {
	store   kvstore.Store
	repo    *Repository
	ledger  *escrow.Ledger
	members Memberships
	locks   DisputeLocks
	authz   auth.Authorizer
	now     func() time.Time
}

func NewService(store kvstore.Store, ledger *escrow.Ledger, members Memberships, authz auth.Authorizer) *Service {
	if authz == nil {
		authz = auth.AllowAll{}
	}
	if ledger == nil {
		ledger = escrow.NewLedger()
	}
	return &Service{
		store:   store,
		repo:    NewRepository(),
		ledger:  ledger,
		members: members,
		locks:   noDisputes{},
		authz:   authz,
		now:     time.Now,
	}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) WithDisputeLocks(l DisputeLocks) *Service {
	if l != nil {
		s.locks = l
	}
	return s
}

// Repository exposes the transaction-scoped store used by the dispute engine.
func (s *Service) Repository() *Repository {
	return s.repo
}

// CreateProject stores a project and its milestones. The project budget is
// the sum of the milestone payments.
func (s *Service) CreateProject(ctx context.Context, p CreateProjectParams) (uint64, []uint64, error) {
	if err := s.authz.Require(ctx, p.Creator); err != nil {
		return 0, nil, err
	}
	if len(p.Milestones) == 0 {
		return 0, nil, ErrNoMilestones
	}
	if err := escrow.CheckToken(p.Token); err != nil {
		return 0, nil, err
	}
	now := s.now().UTC()
	var total int64
	for _, in := range p.Milestones {
		if n := len([]rune(in.Title)); n == 0 || n > maxTitleLen {
			return 0, nil, ErrInvalidTitle
		}
		if in.Amount <= 0 {
			return 0, nil, ErrInvalidAmount
		}
		if !in.Deadline.After(now) {
			return 0, nil, ErrInvalidDeadline
		}
		if total+in.Amount < total {
			return 0, nil, ErrBudgetExceeded
		}
		total += in.Amount
	}

	var (
		projectID uint64
		ids       = make([]uint64, 0, len(p.Milestones))
	)
	err := kvstore.Update(ctx, s.store, func(tx kvstore.Txn) error {
		if err := s.requireAdmin(ctx, tx, p.GuildID, p.Creator); err != nil {
			return err
		}
		project, err := s.repo.InsertProject(ctx, tx, Project{
			GuildID:     p.GuildID,
			Creator:     p.Creator,
			Contributor: p.Contributor,
			TreasuryID:  p.TreasuryID,
			Token:       p.Token,
			TotalAmount: total,
			Status:      ProjectActive,
			CreatedAt:   now,
		})
		if err != nil {
			return err
		}
		projectID = project.ID

		for _, in := range p.Milestones {
			m, err := s.repo.Insert(ctx, tx, Milestone{
				ProjectID:     project.ID,
				Title:         in.Title,
				Description:   in.Description,
				PaymentAmount: in.Amount,
				Status:        StatusPending,
				Deadline:      in.Deadline.UTC(),
				LastUpdatedAt: now,
			})
			if err != nil {
				return err
			}
			ids = append(ids, m.ID)
		}
		return nil
	})
	if err != nil {
		return 0, nil, err
	}
	return projectID, ids, nil
}

// Start moves a pending milestone into progress.
func (s *Service) Start(ctx context.Context, milestoneID uint64, contributor string) error {
	return s.contributorStep(ctx, milestoneID, contributor, StatusPending, func(m *Milestone) {
		m.Status = StatusInProgress
	})
}

// Submit records the contributor's deliverable for review.
func (s *Service) Submit(ctx context.Context, milestoneID uint64, contributor, url string) error {
	return s.contributorStep(ctx, milestoneID, contributor, StatusInProgress, func(m *Milestone) {
		m.Status = StatusSubmitted
		m.SubmissionURL = url
	})
}

// Approve accepts a submitted milestone and pays the contributor from the
// project treasury.
func (s *Service) Approve(ctx context.Context, milestoneID uint64, approver string) error {
	if err := s.authz.Require(ctx, approver); err != nil {
		return err
	}

	return kvstore.Update(ctx, s.store, func(tx kvstore.Txn) error {
		m, p, err := s.load(ctx, tx, milestoneID)
		if err != nil {
			return err
		}
		if err := s.requireAdmin(ctx, tx, p.GuildID, approver); err != nil {
			return err
		}
		if err := s.requireUndisputed(ctx, tx, m.ID); err != nil {
			return err
		}
		if m.Status != StatusSubmitted {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, m.Status, StatusApproved)
		}
		if m.IsPaymentReleased {
			return ErrAlreadyReleased
		}

		released := p.ReleasedAmount + m.PaymentAmount
		if released < p.ReleasedAmount || released > p.TotalAmount {
			return ErrBudgetExceeded
		}
		if err := s.ledger.PayFromTreasury(ctx, tx, p.TreasuryID, p.Token, p.Contributor, m.PaymentAmount); err != nil {
			return err
		}
		p.ReleasedAmount = released

		m.Status = StatusApproved
		m.IsPaymentReleased = true
		m.LastUpdatedAt = s.now().UTC()
		if err := s.repo.Put(ctx, tx, m); err != nil {
			return err
		}
		return s.completeIfSettled(ctx, tx, p)
	})
}

// Reject sends a submitted milestone back to the contributor.
func (s *Service) Reject(ctx context.Context, milestoneID uint64, reviewer string) error {
	if err := s.authz.Require(ctx, reviewer); err != nil {
		return err
	}

	return kvstore.Update(ctx, s.store, func(tx kvstore.Txn) error {
		m, p, err := s.load(ctx, tx, milestoneID)
		if err != nil {
			return err
		}
		if err := s.requireAdmin(ctx, tx, p.GuildID, reviewer); err != nil {
			return err
		}
		if err := s.requireUndisputed(ctx, tx, m.ID); err != nil {
			return err
		}
		if m.Status != StatusSubmitted {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, m.Status, StatusRejected)
		}
		m.Status = StatusRejected
		m.LastUpdatedAt = s.now().UTC()
		return s.repo.Put(ctx, tx, m)
	})
}

// Expire marks an unpaid milestone whose deadline has passed as expired.
func (s *Service) Expire(ctx context.Context, milestoneID uint64) error {
	return kvstore.Update(ctx, s.store, func(tx kvstore.Txn) error {
		m, p, err := s.load(ctx, tx, milestoneID)
		if err != nil {
			return err
		}
		if m.IsPaymentReleased {
			return ErrAlreadyReleased
		}
		if err := s.requireUndisputed(ctx, tx, m.ID); err != nil {
			return err
		}
		now := s.now().UTC()
		if !now.After(m.Deadline) {
			return ErrNotOverdue
		}
		m.Status = StatusExpired
		m.LastUpdatedAt = now
		if err := s.repo.Put(ctx, tx, m); err != nil {
			return err
		}
		return s.completeIfSettled(ctx, tx, p)
	})
}

// CancelProject stops all further payments for the project.
func (s *Service) CancelProject(ctx context.Context, projectID uint64, caller string) error {
	if err := s.authz.Require(ctx, caller); err != nil {
		return err
	}

	return kvstore.Update(ctx, s.store, func(tx kvstore.Txn) error {
		p, err := s.repo.GetProject(ctx, tx, projectID)
		if err != nil {
			return err
		}
		if err := s.requireAdmin(ctx, tx, p.GuildID, caller); err != nil {
			return err
		}
		if p.Status != ProjectActive {
			return ErrProjectNotActive
		}
		ms, err := s.repo.ProjectMilestones(ctx, tx, p.ID)
		if err != nil {
			return err
		}
		for _, m := range ms {
			if err := s.requireUndisputed(ctx, tx, m.ID); err != nil {
				return err
			}
		}
		p.Status = ProjectCancelled
		return s.repo.PutProject(ctx, tx, p)
	})
}

func (s *Service) GetProject(ctx context.Context, id uint64) (Project, error) {
	var p Project
	err := kvstore.Update(ctx, s.store, func(tx kvstore.Txn) error {
		var err error
		p, err = s.repo.GetProject(ctx, tx, id)
		return err
	})
	return p, err
}

func (s *Service) Get(ctx context.Context, id uint64) (Milestone, error) {
	var m Milestone
	err := kvstore.Update(ctx, s.store, func(tx kvstore.Txn) error {
		var err error
		m, err = s.repo.Get(ctx, tx, id)
		return err
	})
	return m, err
}

func (s *Service) contributorStep(ctx context.Context, milestoneID uint64, contributor string, from Status, apply func(*Milestone)) error {
	if err := s.authz.Require(ctx, contributor); err != nil {
		return err
	}

	return kvstore.Update(ctx, s.store, func(tx kvstore.Txn) error {
		m, p, err := s.load(ctx, tx, milestoneID)
		if err != nil {
			return err
		}
		if p.Contributor != contributor {
			return ErrNotContributor
		}
		if m.Status != from {
			return fmt.Errorf("%w: milestone is %s", ErrInvalidTransition, m.Status)
		}
		apply(&m)
		m.LastUpdatedAt = s.now().UTC()
		return s.repo.Put(ctx, tx, m)
	})
}

func (s *Service) load(ctx context.Context, tx kvstore.Txn, milestoneID uint64) (Milestone, Project, error) {
	m, err := s.repo.Get(ctx, tx, milestoneID)
	if err != nil {
		return Milestone{}, Project{}, err
	}
	p, err := s.repo.GetProject(ctx, tx, m.ProjectID)
	if err != nil {
		return Milestone{}, Project{}, err
	}
	if p.Status != ProjectActive {
		return Milestone{}, Project{}, ErrProjectNotActive
	}
	return m, p, nil
}

func (s *Service) requireAdmin(ctx context.Context, tx kvstore.Txn, guildID uint64, address string) error {
	m, err := s.members.Member(ctx, tx, guildID, address)
	if err != nil {
		if errors.Is(err, guild.ErrMemberNotFound) {
			return ErrNotGuildAdmin
		}
		return err
	}
	if !m.Role.HasPermission(guild.RoleAdmin) {
		return ErrNotGuildAdmin
	}
	return nil
}

func (s *Service) requireUndisputed(ctx context.Context, tx kvstore.Txn, milestoneID uint64) error {
	locked, err := s.locks.MilestoneLocked(ctx, tx, milestoneID)
	if err != nil {
		return err
	}
	if locked {
		return fmt.Errorf("%w: milestone %d", ErrUnderDispute, milestoneID)
	}
	return nil
}

// completeIfSettled stores p, marking it completed once every milestone is
// paid or expired.
func (s *Service) completeIfSettled(ctx context.Context, tx kvstore.Txn, p Project) error {
	ms, err := s.repo.ProjectMilestones(ctx, tx, p.ID)
	if err != nil {
		return err
	}
	if AllSettled(ms) {
		p.Status = ProjectCompleted
	}
	return s.repo.PutProject(ctx, tx, p)
}
