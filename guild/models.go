package guild

import "time"

// Role ranks a member inside a guild. Higher roles carry every permission of
// the lower ones.
type Role string

const (
	RoleOwner       Role = "owner"
	RoleAdmin       Role = "admin"
	RoleMember      Role = "member"
	RoleContributor Role = "contributor"
)

func (r Role) level() int {
	switch r {
	case RoleOwner:
		return 4
	case RoleAdmin:
		return 3
	case RoleMember:
		return 2
	case RoleContributor:
		return 1
	default:
		return 0
	}
}

// HasPermission reports whether r ranks at least as high as required.
func (r Role) HasPermission(required Role) bool {
	return r.level() >= required.level() && r.level() > 0
}

func (r Role) Valid() bool {
	return r.level() > 0
}

// RoleWeight is the voting power a role carries in guild votes.
func RoleWeight(r Role) int32 {
	switch r {
	case RoleOwner:
		return 10
	case RoleAdmin:
		return 5
	case RoleMember:
		return 2
	case RoleContributor:
		return 1
	default:
		return 0
	}
}

// Guild is the persisted guild record.
type Guild struct {
	ID          uint64    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Owner       string    `json:"owner"`
	CreatedAt   time.Time `json:"created_at"`
}

// Member is a single address's membership in a guild.
type Member struct {
	GuildID  uint64    `json:"guild_id"`
	Address  string    `json:"address"`
	Role     Role      `json:"role"`
	JoinedAt time.Time `json:"joined_at"`
}
