// Package rooms owns room lifecycle and membership: creation, the
// direct-conversation dedup guarantee, joins with capacity checks, and
// invitations.
package rooms

import (
	"context"
	"errors"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"github.com/Shockvaluemedia/directfanz-messaging/internal/domain"
	"github.com/Shockvaluemedia/directfanz-messaging/internal/store"
	"github.com/Shockvaluemedia/directfanz-messaging/pkg/log"
)

const directLockShards = 64

// Service implements room and membership operations on top of the
// room store.
type Service struct {
	store store.RoomStore

	// directLocks narrows the create race for direct rooms on this
	// node; the store's unique key closes it across nodes.
	directLocks [directLockShards]sync.Mutex
}

func NewService(st store.RoomStore) *Service {
	return &Service{store: st}
}

// CreateRoom creates a group, community, or fan club room with the
// creator as its admin. Direct rooms go through DirectRoom instead.
func (s *Service) CreateRoom(ctx context.Context, creator *domain.User, name, description string, kind domain.RoomKind, private bool) (*domain.Room, error) {
	if !kind.Valid() || kind == domain.RoomKindDirect {
		return nil, domain.ErrInvalidRoomSpec
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, domain.ErrInvalidRoomSpec
	}

	room := &domain.Room{
		Name:        name,
		Description: description,
		Kind:        kind,
		Private:     private,
		CreatorID:   creator.ID,
		Settings:    domain.DefaultRoomSettings(kind),
	}
	creatorMembership := &domain.Membership{
		UserID: creator.ID,
		Role:   domain.RoomRoleAdmin,
	}
	if err := s.store.CreateRoom(ctx, room, creatorMembership); err != nil {
		return nil, &domain.PersistenceError{Op: "create room", Err: err}
	}

	log.Ctx(ctx).Info().
		Str(log.FieldRoomID, room.ID).
		Str(log.FieldUserID, creator.ID).
		Str("kind", string(kind)).
		Msg("room created")
	return room, nil
}

// DirectRoom returns the one direct room for the user pair, creating
// it on first contact. The created flag tells the caller whether this
// call brought the room into being.
func (s *Service) DirectRoom(ctx context.Context, userID, peerID string) (*domain.Room, bool, error) {
	if userID == "" || peerID == "" || userID == peerID {
		return nil, false, domain.ErrInvalidRoomSpec
	}

	key := domain.DirectRoomKey(userID, peerID)

	lock := &s.directLocks[shardFor(key)]
	lock.Lock()
	defer lock.Unlock()

	room, err := s.store.GetRoomByDirectKey(ctx, key)
	if err == nil {
		return room, false, nil
	}
	if !errors.Is(err, store.ErrRoomNotFound) {
		return nil, false, &domain.PersistenceError{Op: "lookup direct room", Err: err}
	}

	room = &domain.Room{
		Kind:      domain.RoomKindDirect,
		Private:   true,
		CreatorID: userID,
		DirectKey: key,
		Settings:  domain.DefaultRoomSettings(domain.RoomKindDirect),
	}
	creator := &domain.Membership{UserID: userID, Role: domain.RoomRoleMember}
	peer := &domain.Membership{UserID: peerID, Role: domain.RoomRoleMember}

	err = s.store.CreateDirectRoom(ctx, room, creator, peer)
	if errors.Is(err, store.ErrDuplicateDirectRoom) {
		// Another node won the race; theirs is the room.
		room, err = s.store.GetRoomByDirectKey(ctx, key)
		if err != nil {
			return nil, false, &domain.PersistenceError{Op: "lookup direct room", Err: err}
		}
		return room, false, nil
	}
	if err != nil {
		return nil, false, &domain.PersistenceError{Op: "create direct room", Err: err}
	}

	log.Ctx(ctx).Info().
		Str(log.FieldRoomID, room.ID).
		Str(log.FieldUserID, userID).
		Msg("direct room created")
	return room, true, nil
}

// Join makes the user an active member. Joining a room the user is
// already in succeeds without side effects. Private rooms only admit
// users by invitation.
func (s *Service) Join(ctx context.Context, roomID, userID string) (*domain.Room, error) {
	room, err := s.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}

	// Already a member: idempotent success, no capacity check.
	if _, err := s.store.GetMembership(ctx, roomID, userID); err == nil {
		return room, nil
	} else if !errors.Is(err, store.ErrMembershipNotFound) {
		return nil, &domain.PersistenceError{Op: "lookup membership", Err: err}
	}

	if room.Private {
		return nil, domain.ErrAccessDenied
	}

	count, err := s.store.ActiveMemberCount(ctx, roomID)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "count members", Err: err}
	}
	if count >= room.Kind.Capacity() {
		return nil, domain.ErrRoomFull
	}

	m := &domain.Membership{RoomID: roomID, UserID: userID, Role: domain.RoomRoleMember}
	if err := s.store.AddMember(ctx, m); err != nil {
		return nil, &domain.PersistenceError{Op: "add member", Err: err}
	}
	return room, nil
}

// Leave removes the user's active membership. Not a member is a no-op.
func (s *Service) Leave(ctx context.Context, roomID, userID string) (*domain.Room, error) {
	room, err := s.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if err := s.store.RemoveMember(ctx, roomID, userID, time.Now()); err != nil {
		return nil, &domain.PersistenceError{Op: "remove member", Err: err}
	}
	return room, nil
}

// Invite adds the listed users as members on the inviter's behalf.
// Users already in the room are skipped; the returned slice holds the
// ones actually added.
func (s *Service) Invite(ctx context.Context, roomID string, inviter *domain.User, inviteeIDs []string) ([]string, error) {
	room, membership, err := s.RequireMember(ctx, roomID, inviter.ID)
	if err != nil {
		return nil, err
	}
	if !canInvite(room, membership, inviter) {
		return nil, domain.ErrAccessDenied
	}

	count, err := s.store.ActiveMemberCount(ctx, roomID)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "count members", Err: err}
	}

	invited := make([]string, 0, len(inviteeIDs))
	for _, inviteeID := range inviteeIDs {
		if inviteeID == "" || inviteeID == inviter.ID {
			continue
		}
		if _, err := s.store.GetMembership(ctx, roomID, inviteeID); err == nil {
			continue
		} else if !errors.Is(err, store.ErrMembershipNotFound) {
			return invited, &domain.PersistenceError{Op: "lookup membership", Err: err}
		}
		if count >= room.Kind.Capacity() {
			return invited, domain.ErrRoomFull
		}
		m := &domain.Membership{RoomID: roomID, UserID: inviteeID, Role: domain.RoomRoleMember}
		if err := s.store.AddMember(ctx, m); err != nil {
			return invited, &domain.PersistenceError{Op: "add member", Err: err}
		}
		invited = append(invited, inviteeID)
		count++
	}
	return invited, nil
}

// GetRoom fetches the room, mapping a store miss to the domain error.
func (s *Service) GetRoom(ctx context.Context, roomID string) (*domain.Room, error) {
	room, err := s.store.GetRoom(ctx, roomID)
	if err != nil {
		if errors.Is(err, store.ErrRoomNotFound) {
			return nil, domain.ErrRoomNotFound
		}
		return nil, &domain.PersistenceError{Op: "get room", Err: err}
	}
	return room, nil
}

// RequireMember loads the room and proves the user is an active member.
func (s *Service) RequireMember(ctx context.Context, roomID, userID string) (*domain.Room, *domain.Membership, error) {
	room, err := s.GetRoom(ctx, roomID)
	if err != nil {
		return nil, nil, err
	}
	membership, err := s.store.GetMembership(ctx, roomID, userID)
	if err != nil {
		if errors.Is(err, store.ErrMembershipNotFound) {
			return nil, nil, domain.ErrAccessDenied
		}
		return nil, nil, &domain.PersistenceError{Op: "lookup membership", Err: err}
	}
	return room, membership, nil
}

// MemberIDs returns the active member ids of the room.
func (s *Service) MemberIDs(ctx context.Context, roomID string) ([]string, error) {
	ids, err := s.store.MemberIDs(ctx, roomID)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "list members", Err: err}
	}
	return ids, nil
}

// RoomsForUser lists the rooms the user belongs to, most recently
// active first.
func (s *Service) RoomsForUser(ctx context.Context, userID string) ([]domain.Room, error) {
	list, err := s.store.RoomsForUser(ctx, userID)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "list user rooms", Err: err}
	}
	return list, nil
}

// TouchActivity bumps the room's activity clock; ordering of concurrent
// bumps is irrelevant, so failures are only logged.
func (s *Service) TouchActivity(ctx context.Context, roomID string) {
	if err := s.store.TouchActivity(ctx, roomID, time.Now()); err != nil {
		log.Ctx(ctx).Warn().Err(err).Str(log.FieldRoomID, roomID).Msg("failed to touch room activity")
	}
}

func canInvite(room *domain.Room, membership *domain.Membership, inviter *domain.User) bool {
	if room.Kind == domain.RoomKindDirect {
		return false
	}
	if membership.Role == domain.RoomRoleAdmin || room.CreatorID == inviter.ID || inviter.Role == domain.RoleAdmin {
		return true
	}
	return room.Settings.MemberInvitesAllowed
}

func shardFor(key string) int {
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % directLockShards)
}
