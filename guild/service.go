package guild

import (
	"context"
	"errors"
	"fmt"
	"time"

	"guildcourt/auth"
	"guildcourt/kvstore"
)

var (
	ErrInvalidName        = errors.New("guild: name must be between 1 and 256 characters")
	ErrDescriptionTooLong = errors.New("guild: description must be at most 512 characters")
	ErrInvalidRole        = errors.New("guild: invalid role")
	ErrMemberExists       = errors.New("guild: member already exists")
	ErrCallerNotMember    = errors.New("guild: caller is not a member")
	ErrPermissionDenied   = errors.New("guild: insufficient permissions")
	ErrLastOwner          = errors.New("guild: cannot remove or demote the last owner")
)

const (
	maxNameLen        = 256
	maxDescriptionLen = 512
)

// Service exposes guild membership operations. Each call runs in its own
// store transaction.
type Service struct {
	store kvstore.Store
	repo  *Repository
	authz auth.Authorizer
	now   func() time.Time
}

func NewService(store kvstore.Store, authz auth.Authorizer) *Service {
	if authz == nil {
		authz = auth.AllowAll{}
	}
	return &Service{
		store: store,
		repo:  NewRepository(),
		authz: authz,
		now:   time.Now,
	}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Create registers a guild with owner as its first member.
func (s *Service) Create(ctx context.Context, name, description, owner string) (uint64, error) {
	if err := s.authz.Require(ctx, owner); err != nil {
		return 0, err
	}
	if n := len([]rune(name)); n == 0 || n > maxNameLen {
		return 0, ErrInvalidName
	}
	if len([]rune(description)) > maxDescriptionLen {
		return 0, ErrDescriptionTooLong
	}

	var id uint64
	err := kvstore.Update(ctx, s.store, func(tx kvstore.Txn) error {
		now := s.now().UTC()
		g, err := s.repo.Insert(ctx, tx, Guild{
			Name:        name,
			Description: description,
			Owner:       owner,
			CreatedAt:   now,
		})
		if err != nil {
			return err
		}
		id = g.ID
		return s.repo.PutMember(ctx, tx, Member{GuildID: g.ID, Address: owner, Role: RoleOwner, JoinedAt: now})
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// AddMember grants address the given role. Only owners add owners, owners and
// admins add admins, and anyone ranked member or above adds members and
// contributors.
func (s *Service) AddMember(ctx context.Context, guildID uint64, address string, role Role, caller string) error {
	if err := s.authz.Require(ctx, caller); err != nil {
		return err
	}
	if !role.Valid() {
		return ErrInvalidRole
	}

	return kvstore.Update(ctx, s.store, func(tx kvstore.Txn) error {
		if _, err := s.repo.Get(ctx, tx, guildID); err != nil {
			return err
		}
		if _, err := s.repo.Member(ctx, tx, guildID, address); err == nil {
			return ErrMemberExists
		} else if !errors.Is(err, ErrMemberNotFound) {
			return err
		}

		callerMember, err := s.callerMember(ctx, tx, guildID, caller)
		if err != nil {
			return err
		}
		if !canAssign(callerMember.Role, role) {
			return fmt.Errorf("%w: %s cannot add %s", ErrPermissionDenied, callerMember.Role, role)
		}

		return s.repo.PutMember(ctx, tx, Member{
			GuildID:  guildID,
			Address:  address,
			Role:     role,
			JoinedAt: s.now().UTC(),
		})
	})
}

// RemoveMember drops address from the guild. Members may always remove
// themselves unless they are the last owner.
func (s *Service) RemoveMember(ctx context.Context, guildID uint64, address, caller string) error {
	if err := s.authz.Require(ctx, caller); err != nil {
		return err
	}

	return kvstore.Update(ctx, s.store, func(tx kvstore.Txn) error {
		member, err := s.repo.Member(ctx, tx, guildID, address)
		if err != nil {
			return err
		}
		if member.Role == RoleOwner {
			if err := s.ensureOtherOwner(ctx, tx, guildID); err != nil {
				return err
			}
		}
		if caller != address {
			callerMember, err := s.callerMember(ctx, tx, guildID, caller)
			if err != nil {
				return err
			}
			if !canAssign(callerMember.Role, member.Role) {
				return fmt.Errorf("%w: %s cannot remove %s", ErrPermissionDenied, callerMember.Role, member.Role)
			}
		}
		return s.repo.DeleteMember(ctx, tx, guildID, address)
	})
}

// UpdateRole changes the role of an existing member. Votes already cast keep
// the weight captured when they were cast.
func (s *Service) UpdateRole(ctx context.Context, guildID uint64, address string, role Role, caller string) error {
	if err := s.authz.Require(ctx, caller); err != nil {
		return err
	}
	if !role.Valid() {
		return ErrInvalidRole
	}

	return kvstore.Update(ctx, s.store, func(tx kvstore.Txn) error {
		member, err := s.repo.Member(ctx, tx, guildID, address)
		if err != nil {
			return err
		}
		callerMember, err := s.callerMember(ctx, tx, guildID, caller)
		if err != nil {
			return err
		}

		switch member.Role {
		case RoleOwner:
			if callerMember.Role != RoleOwner {
				return fmt.Errorf("%w: only owners change owner roles", ErrPermissionDenied)
			}
			if role != RoleOwner {
				if err := s.ensureOtherOwner(ctx, tx, guildID); err != nil {
					return err
				}
			}
		default:
			if !callerMember.Role.HasPermission(RoleAdmin) {
				return fmt.Errorf("%w: only owners and admins change roles", ErrPermissionDenied)
			}
		}
		if role == RoleOwner && callerMember.Role != RoleOwner {
			return fmt.Errorf("%w: only owners grant ownership", ErrPermissionDenied)
		}

		member.Role = role
		return s.repo.PutMember(ctx, tx, member)
	})
}

// Member returns the membership of address.
func (s *Service) Member(ctx context.Context, guildID uint64, address string) (Member, error) {
	var m Member
	err := kvstore.Update(ctx, s.store, func(tx kvstore.Txn) error {
		var err error
		m, err = s.repo.Member(ctx, tx, guildID, address)
		return err
	})
	return m, err
}

// Members lists the guild's current members.
func (s *Service) Members(ctx context.Context, guildID uint64) ([]Member, error) {
	var out []Member
	err := kvstore.Update(ctx, s.store, func(tx kvstore.Txn) error {
		if _, err := s.repo.Get(ctx, tx, guildID); err != nil {
			return err
		}
		var err error
		out, err = s.repo.Members(ctx, tx, guildID)
		return err
	})
	return out, err
}

func (s *Service) callerMember(ctx context.Context, tx kvstore.Txn, guildID uint64, caller string) (Member, error) {
	m, err := s.repo.Member(ctx, tx, guildID, caller)
	if errors.Is(err, ErrMemberNotFound) {
		return Member{}, ErrCallerNotMember
	}
	return m, err
}

func (s *Service) ensureOtherOwner(ctx context.Context, tx kvstore.Txn, guildID uint64) error {
	members, err := s.repo.Members(ctx, tx, guildID)
	if err != nil {
		return err
	}
	owners := 0
	for _, m := range members {
		if m.Role == RoleOwner {
			owners++
		}
	}
	if owners <= 1 {
		return ErrLastOwner
	}
	return nil
}

func canAssign(caller, target Role) bool {
	switch target {
	case RoleOwner:
		return caller == RoleOwner
	case RoleAdmin:
		return caller == RoleOwner || caller == RoleAdmin
	default:
		return caller.HasPermission(RoleMember)
	}
}
