package domain

import (
	"sort"
	"strings"
	"time"
)

// RoomKind represents the kind of a room.
type RoomKind string

const (
	RoomKindDirect    RoomKind = "direct"
	RoomKindGroup     RoomKind = "group"
	RoomKindCommunity RoomKind = "community"
	RoomKindFanClub   RoomKind = "fan_club"
)

// Valid reports whether the kind is a known room kind.
func (k RoomKind) Valid() bool {
	switch k {
	case RoomKindDirect, RoomKindGroup, RoomKindCommunity, RoomKindFanClub:
		return true
	}
	return false
}

// Capacity returns the member limit for the kind.
func (k RoomKind) Capacity() int {
	switch k {
	case RoomKindDirect:
		return 2
	case RoomKindGroup:
		return 100
	case RoomKindCommunity:
		return 1000
	case RoomKindFanClub:
		return 10000
	}
	return 0
}

// RoomRole represents a user's role within a room.
type RoomRole string

const (
	RoomRoleMember RoomRole = "member"
	RoomRoleAdmin  RoomRole = "admin"
)

// RoomSettings holds per-room policy.
type RoomSettings struct {
	FilesAllowed         bool                 `json:"files_allowed"`
	MaxMessageLength     int                  `json:"max_message_length"`
	MemberInvitesAllowed bool                 `json:"member_invites_allowed"`
	MutedUntil           map[string]time.Time `json:"muted_until,omitempty"` // userID -> mute expiry
}

// DefaultRoomSettings returns the settings a room of the given kind
// starts with.
func DefaultRoomSettings(kind RoomKind) RoomSettings {
	return RoomSettings{
		FilesAllowed:         true,
		MaxMessageLength:     MaxMessageLength,
		MemberInvitesAllowed: kind == RoomKindGroup || kind == RoomKindDirect,
	}
}

// Room is a named set of members who can exchange messages.
type Room struct {
	ID             string       `json:"id"`
	Name           string       `json:"name"`
	Description    string       `json:"description,omitempty"`
	Kind           RoomKind     `json:"kind"`
	Private        bool         `json:"private"`
	CreatorID      string       `json:"creator_id"`
	DirectKey      string       `json:"-"` // canonical pair key, direct rooms only
	Settings       RoomSettings `json:"settings"`
	CreatedAt      time.Time    `json:"created_at"`
	LastActivityAt time.Time    `json:"last_activity_at"`
}

// IsMuted reports whether the user is muted in this room at the given time.
func (r *Room) IsMuted(userID string, now time.Time) bool {
	until, ok := r.Settings.MutedUntil[userID]
	return ok && now.Before(until)
}

// DirectRoomKey derives the canonical key for a direct-message pair.
// The key is identical regardless of argument order, so repeated
// direct-message requests between the same two users resolve to one room.
func DirectRoomKey(a, b string) string {
	pair := []string{a, b}
	sort.Strings(pair)
	return "dm:" + strings.Join(pair, ":")
}

// Membership is a (room, user) pair. LeftAt is nil while active; at most
// one active membership exists per pair.
type Membership struct {
	RoomID   string     `json:"room_id"`
	UserID   string     `json:"user_id"`
	Role     RoomRole   `json:"role"`
	JoinedAt time.Time  `json:"joined_at"`
	LeftAt   *time.Time `json:"left_at,omitempty"`
}

// Active reports whether the membership has not been left.
func (m *Membership) Active() bool {
	return m.LeftAt == nil
}
