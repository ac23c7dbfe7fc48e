// Package store defines the narrow persistence interfaces the messaging
// core depends on, and provides the GORM-backed implementation. The
// engine behind the interface is opaque to the rest of the system.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/Shockvaluemedia/directfanz-messaging/internal/domain"
)

var (
	ErrRoomNotFound        = errors.New("room not found")
	ErrMessageNotFound     = errors.New("message not found")
	ErrMembershipNotFound  = errors.New("membership not found")
	ErrDuplicateDirectRoom = errors.New("direct room already exists")
)

// RoomStore persists rooms and memberships. Membership state is shared
// mutable state across instances and must live here, not in process
// memory.
type RoomStore interface {
	// CreateRoom creates the room and the creator's admin membership
	// atomically. A direct room whose pair key already exists fails
	// with ErrDuplicateDirectRoom.
	CreateRoom(ctx context.Context, room *domain.Room, creator *domain.Membership) error
	// CreateDirectRoom creates the direct room and both memberships in
	// one transaction, so a failure can never leave a half-formed
	// conversation behind.
	CreateDirectRoom(ctx context.Context, room *domain.Room, creator, peer *domain.Membership) error
	GetRoom(ctx context.Context, id string) (*domain.Room, error)
	GetRoomByDirectKey(ctx context.Context, key string) (*domain.Room, error)

	// AddMember creates or revives the membership. Adding an already
	// active membership is a no-op.
	AddMember(ctx context.Context, m *domain.Membership) error
	// RemoveMember marks the membership as left. Not a member is a no-op.
	RemoveMember(ctx context.Context, roomID, userID string, at time.Time) error
	// GetMembership returns the active membership or ErrMembershipNotFound.
	GetMembership(ctx context.Context, roomID, userID string) (*domain.Membership, error)
	MemberIDs(ctx context.Context, roomID string) ([]string, error)
	ActiveMemberCount(ctx context.Context, roomID string) (int, error)
	RoomsForUser(ctx context.Context, userID string) ([]domain.Room, error)

	TouchActivity(ctx context.Context, roomID string, at time.Time) error
}

// MessageStore persists messages, reactions, and delivery status.
type MessageStore interface {
	// CreateMessage assigns the id, creation time, and initial status.
	CreateMessage(ctx context.Context, msg *domain.Message) error
	GetMessage(ctx context.Context, id string) (*domain.Message, error)
	// History returns up to limit messages of the room, newest first,
	// older than before when set, and whether more remain.
	History(ctx context.Context, roomID string, before *time.Time, limit int) ([]domain.Message, bool, error)

	UpdateContent(ctx context.Context, id, content string, editedAt time.Time) error
	// Tombstone blanks the content and flags the message deleted; the
	// row is kept.
	Tombstone(ctx context.Context, id string, at time.Time) error
	// AdvanceStatus moves the listed messages of one room to status,
	// skipping any whose current status is already at or past it.
	// Messages outside the room are untouched.
	AdvanceStatus(ctx context.Context, roomID string, ids []string, status domain.DeliveryStatus) error

	// AddReaction stores the triple; returns false when it already
	// existed.
	AddReaction(ctx context.Context, r *domain.Reaction) (bool, error)
	// RemoveReaction deletes the triple; returns false when absent.
	RemoveReaction(ctx context.Context, messageID, userID, emoji string) (bool, error)
	Reactions(ctx context.Context, messageID string) ([]domain.Reaction, error)
}
