package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Permissions is a bitfield of administrative capabilities.
type Permissions uint32

const (
	// PermAdministrator grants every capability.
	PermAdministrator Permissions = 1 << iota
	// PermManageChannels allows creating and deleting channels.
	PermManageChannels
	// PermManageMessages allows moderating channel messages.
	PermManageMessages
)

// Has reports whether p contains the given permission. Administrators
// implicitly hold every permission.
func (p Permissions) Has(perm Permissions) bool {
	if p&PermAdministrator != 0 {
		return true
	}
	return p&perm != 0
}

// User is a registered identity.
type User struct {
	ID           int64
	Username     string
	PasswordHash string
	AvatarURL    string
	Permissions  Permissions
	CreatedAt    time.Time
}

// Channel is a named chat channel.
type Channel struct {
	ID          int64
	Name        string
	Description string
	OwnerID     int64
	CreatedAt   time.Time
}

// Member is a denormalized snapshot of an identity attached to a channel
// listing. It is a point-in-time copy and may lag the user record.
type Member struct {
	UserID      int64
	Username    string
	AvatarURL   string
	Permissions Permissions
	JoinedAt    time.Time
}

// UserStore handles user persistence.
type UserStore interface {
	// CreateUser creates a new user with hashed password.
	CreateUser(ctx context.Context, username, passwordHash string) (*User, error)

	// GetUserByID retrieves a user by ID.
	GetUserByID(ctx context.Context, id int64) (*User, error)

	// GetUserByUsername retrieves a user by username.
	GetUserByUsername(ctx context.Context, username string) (*User, error)

	// UpdateUser overwrites a user's mutable fields (username, avatar,
	// permissions).
	UpdateUser(ctx context.Context, user *User) error
}

// ChannelStore handles channel and membership persistence.
type ChannelStore interface {
	// CreateChannel creates a new channel owned by ownerID. The owner is
	// added as the first member.
	CreateChannel(ctx context.Context, name, description string, ownerID int64) (*Channel, error)

	// GetChannelByID retrieves a channel by ID.
	GetChannelByID(ctx context.Context, id int64) (*Channel, error)

	// ListChannels lists all channels.
	ListChannels(ctx context.Context) ([]*Channel, error)

	// DeleteChannel removes a channel and its memberships.
	DeleteChannel(ctx context.Context, id int64) error

	// AddMember adds a user to a channel. Adding an existing member is a
	// no-op.
	AddMember(ctx context.Context, channelID, userID int64) error

	// RemoveMember removes a user from a channel.
	RemoveMember(ctx context.Context, channelID, userID int64) error

	// IsMember checks whether the user belongs to the channel.
	IsMember(ctx context.Context, channelID, userID int64) (bool, error)

	// ListMembers lists member projections for a channel.
	ListMembers(ctx context.Context, channelID int64) ([]*Member, error)

	// ListUserChannels lists every channel the user belongs to.
	ListUserChannels(ctx context.Context, userID int64) ([]*Channel, error)
}

// Store aggregates all storage interfaces.
type Store interface {
	UserStore
	ChannelStore

	// Close closes the underlying database connection.
	Close() error
}
