package domain

import "time"

// UserRole represents a platform-level user role.
type UserRole string

const (
	RoleArtist UserRole = "artist"
	RoleFan    UserRole = "fan"
	RoleAdmin  UserRole = "admin"
)

// Valid reports whether the role is one the platform issues.
func (r UserRole) Valid() bool {
	switch r {
	case RoleArtist, RoleFan, RoleAdmin:
		return true
	}
	return false
}

// User is a read-only projection of an identity owned by the external
// identity source. Only display metadata ever changes.
type User struct {
	ID          string   `json:"id"`
	DisplayName string   `json:"display_name"`
	Role        UserRole `json:"role"`
	AvatarURL   string   `json:"avatar_url,omitempty"`
}

// Presence describes whether a user has at least one live connection.
type Presence struct {
	UserID   string     `json:"user_id"`
	IsOnline bool       `json:"is_online"`
	LastSeen *time.Time `json:"last_seen,omitempty"`
}
