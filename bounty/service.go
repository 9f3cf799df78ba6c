package bounty

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
	ErrInvalidTitle     = errors.New("bounty: title must be between 1 and 256 characters")
	ErrInvalidReward    = errors.New("bounty: reward must be positive")
	ErrInvalidExpiry    = errors.New("bounty: expiry must be in the future")
	ErrNotGuildAdmin    = errors.New("bounty: creator must be a guild owner or admin")
	ErrNotFundable      = errors.New("bounty: bounty is not accepting funds")
	ErrOverfunded       = errors.New("bounty: funding would exceed the reward")
	ErrNotClaimable     = errors.New("bounty: bounty is not open for claims")
	ErrNotCreator       = errors.New("bounty: only the creator may cancel")
	ErrNotCancellable   = errors.New("bounty: bounty can no longer be cancelled")
	ErrCreatorIsClaimer = errors.New("bounty: creator cannot claim own bounty")
)

const maxTitleLen = 256

// Memberships is the slice of guild storage bounties need.
type Memberships interface {
	Member(ctx context.Context, tx kvstore.Txn, guildID uint64, address string) (guild.Member, error)
}

type CreateParams struct {
	GuildID      uint64
	Creator      string
	Title        string
	Description  string
	Token        string
	RewardAmount int64
	ExpiresAt    time.Time
}

type Service struct {
	store   kvstore.Store
	repo    *Repository
	ledger  *escrow.Ledger
	members Memberships
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
		authz:   authz,
		now:     time.Now,
	}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Repository exposes the transaction-scoped store used by the dispute engine.
func (s *Service) Repository() *Repository {
	return s.repo
}

// Create registers an unfunded bounty. Only guild owners and admins create
// bounties.
func (s *Service) Create(ctx context.Context, p CreateParams) (uint64, error) {
	if err := s.authz.Require(ctx, p.Creator); err != nil {
		return 0, err
	}
	if n := len([]rune(p.Title)); n == 0 || n > maxTitleLen {
		return 0, ErrInvalidTitle
	}
	if p.RewardAmount <= 0 {
		return 0, ErrInvalidReward
	}
	if err := escrow.CheckToken(p.Token); err != nil {
		return 0, err
	}
	now := s.now().UTC()
	if !p.ExpiresAt.After(now) {
		return 0, ErrInvalidExpiry
	}

	var id uint64
	err := kvstore.Update(ctx, s.store, func(tx kvstore.Txn) error {
		m, err := s.members.Member(ctx, tx, p.GuildID, p.Creator)
		if err != nil {
			if errors.Is(err, guild.ErrMemberNotFound) {
				return ErrNotGuildAdmin
			}
			return err
		}
		if !m.Role.HasPermission(guild.RoleAdmin) {
			return ErrNotGuildAdmin
		}

		b, err := s.repo.Insert(ctx, tx, Bounty{
			GuildID:      p.GuildID,
			Creator:      p.Creator,
			Title:        p.Title,
			Description:  p.Description,
			Token:        p.Token,
			RewardAmount: p.RewardAmount,
			Status:       StatusAwaitingFunds,
			CreatedAt:    now,
			ExpiresAt:    p.ExpiresAt.UTC(),
		})
		if err != nil {
			return err
		}
		id = b.ID
		return nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// Fund locks amount from funder into the bounty escrow. The bounty opens for
// claims once the reward is fully funded.
func (s *Service) Fund(ctx context.Context, id uint64, funder string, amount int64) error {
	if err := s.authz.Require(ctx, funder); err != nil {
		return err
	}
	if amount <= 0 {
		return escrow.ErrInvalidAmount
	}

	return kvstore.Update(ctx, s.store, func(tx kvstore.Txn) error {
		b, err := s.repo.Get(ctx, tx, id)
		if err != nil {
			return err
		}
		if b.Status != StatusAwaitingFunds && b.Status != StatusOpen {
			return fmt.Errorf("%w: status %s", ErrNotFundable, b.Status)
		}
		if b.FundedAmount+amount > b.RewardAmount {
			return ErrOverfunded
		}
		if err := s.ledger.Deposit(ctx, tx, b.Token, funder, b.ID, amount); err != nil {
			return err
		}
		b.FundedAmount += amount
		if b.FundedAmount == b.RewardAmount {
			b.Status = StatusOpen
		}
		return s.repo.Put(ctx, tx, b)
	})
}

// Claim assigns an open bounty to claimer.
func (s *Service) Claim(ctx context.Context, id uint64, claimer string) error {
	if err := s.authz.Require(ctx, claimer); err != nil {
		return err
	}

	return kvstore.Update(ctx, s.store, func(tx kvstore.Txn) error {
		b, err := s.repo.Get(ctx, tx, id)
		if err != nil {
			return err
		}
		if b.Status != StatusOpen {
			return fmt.Errorf("%w: status %s", ErrNotClaimable, b.Status)
		}
		if b.Creator == claimer {
			return ErrCreatorIsClaimer
		}
		b.Claimer = claimer
		b.Status = StatusClaimed
		return s.repo.Put(ctx, tx, b)
	})
}

// Cancel refunds the escrowed funds to the creator and closes the bounty.
func (s *Service) Cancel(ctx context.Context, id uint64, caller string) error {
	if err := s.authz.Require(ctx, caller); err != nil {
		return err
	}

	return kvstore.Update(ctx, s.store, func(tx kvstore.Txn) error {
		b, err := s.repo.Get(ctx, tx, id)
		if err != nil {
			return err
		}
		if b.Creator != caller {
			return ErrNotCreator
		}
		if b.Status.Closed() || b.Status == StatusCompleted {
			return fmt.Errorf("%w: status %s", ErrNotCancellable, b.Status)
		}
		if b.FundedAmount > 0 {
			if err := s.ledger.Release(ctx, tx, b.Token, b.ID, b.Creator, b.FundedAmount); err != nil {
				return err
			}
			b.FundedAmount = 0
		}
		b.Status = StatusCancelled
		return s.repo.Put(ctx, tx, b)
	})
}

func (s *Service) Get(ctx context.Context, id uint64) (Bounty, error) {
	var b Bounty
	err := kvstore.Update(ctx, s.store, func(tx kvstore.Txn) error {
		var err error
		b, err = s.repo.Get(ctx, tx, id)
		return err
	})
	return b, err
}
