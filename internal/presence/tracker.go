package presence

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/Shockvaluemedia/directfanz-messaging/internal/domain"
	"github.com/Shockvaluemedia/directfanz-messaging/pkg/log"
)

// MemberLister resolves a room to its current member ids.
type MemberLister interface {
	MemberIDs(ctx context.Context, roomID string) ([]string, error)
}

// Broadcaster is the slice of fan-out the tracker needs.
type Broadcaster interface {
	ToRoom(ctx context.Context, roomID string, memberIDs []string, excludeConn string, eventType string, event interface{}) error
	Platform(ctx context.Context, eventType string, event interface{}) error
}

// LocalSender pushes frames to connections on this node.
type LocalSender interface {
	SendToAll(data []byte)
}

type typingKey struct {
	roomID string
	userID string
}

// Tracker owns online transitions and typing state. It implements the
// hub's presence listener; typing indicators self-expire so a vanished
// client can never leave "is typing" stuck on everyone's screen.
type Tracker struct {
	store     Store
	members   MemberLister
	broadcast Broadcaster
	local     LocalSender
	typingTTL time.Duration

	mu     sync.Mutex
	timers map[typingKey]*time.Timer
}

func NewTracker(store Store, members MemberLister, broadcast Broadcaster, local LocalSender, typingTTL time.Duration) *Tracker {
	if typingTTL <= 0 {
		typingTTL = 3 * time.Second
	}
	return &Tracker{
		store:     store,
		members:   members,
		broadcast: broadcast,
		local:     local,
		typingTTL: typingTTL,
		timers:    make(map[typingKey]*time.Timer),
	}
}

// UserOnline records the user's first connection and tells everyone.
func (t *Tracker) UserOnline(userID string) {
	ctx := context.Background()

	if err := t.store.SetOnline(ctx, userID); err != nil {
		log.L().Error().Err(err).Str(log.FieldUserID, userID).Msg("failed to record online state")
	}

	ev := &domain.UserPresenceEvent{
		Type:     domain.EventUserPresence,
		UserID:   userID,
		IsOnline: true,
	}
	t.announce(ctx, ev)
}

// UserOffline records the user's last connection going away. Any
// typing indicators the user still holds are released immediately.
// Typing state is tracked per user, not per connection, so a closed
// tab with another still open keeps its indicator only until the
// typing TTL fires.
func (t *Tracker) UserOffline(userID string, lastSeen time.Time) {
	ctx := context.Background()

	t.stopTypingEverywhere(ctx, userID)

	if err := t.store.SetOffline(ctx, userID, lastSeen); err != nil {
		log.L().Error().Err(err).Str(log.FieldUserID, userID).Msg("failed to record offline state")
	}

	ev := &domain.UserPresenceEvent{
		Type:     domain.EventUserPresence,
		UserID:   userID,
		IsOnline: false,
		LastSeen: &lastSeen,
	}
	t.announce(ctx, ev)
}

// RefreshLoop re-arms the online TTL for every user with a live local
// connection until ctx is done. Without it a long-lived connection
// would read as offline once the initial TTL lapsed.
func (t *Tracker) RefreshLoop(ctx context.Context, interval time.Duration, online func() []string) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, userID := range online() {
				if err := t.store.Refresh(ctx, userID); err != nil {
					log.Ctx(ctx).Warn().Err(err).Str(log.FieldUserID, userID).Msg("failed to refresh online ttl")
				}
			}
		}
	}
}

// TypingStart tells the room the user is typing and arms the expiry.
// A repeat start re-arms the timer without a duplicate event storm: the
// event goes out each time, but at most one stop will ever follow.
func (t *Tracker) TypingStart(ctx context.Context, roomID, userID string) error {
	if err := t.sendTypingState(ctx, roomID, userID, domain.EventTypingStart); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	key := typingKey{roomID: roomID, userID: userID}
	if timer, ok := t.timers[key]; ok {
		timer.Stop()
	}
	t.timers[key] = time.AfterFunc(t.typingTTL, func() {
		t.expireTyping(roomID, userID)
	})
	return nil
}

// TypingStop clears the indicator. Without a preceding start it is a
// no-op, so stop can never be broadcast twice for one start.
func (t *Tracker) TypingStop(ctx context.Context, roomID, userID string) error {
	if !t.disarm(typingKey{roomID: roomID, userID: userID}) {
		return nil
	}
	return t.sendTypingState(ctx, roomID, userID, domain.EventTypingStop)
}

func (t *Tracker) expireTyping(roomID, userID string) {
	if !t.disarm(typingKey{roomID: roomID, userID: userID}) {
		return
	}
	ctx := context.Background()
	if err := t.sendTypingState(ctx, roomID, userID, domain.EventTypingStop); err != nil {
		log.L().Warn().Err(err).
			Str(log.FieldRoomID, roomID).
			Str(log.FieldUserID, userID).
			Msg("failed to broadcast typing expiry")
	}
}

// disarm removes the timer if armed, reporting whether it was.
func (t *Tracker) disarm(key typingKey) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	timer, ok := t.timers[key]
	if !ok {
		return false
	}
	timer.Stop()
	delete(t.timers, key)
	return true
}

func (t *Tracker) stopTypingEverywhere(ctx context.Context, userID string) {
	t.mu.Lock()
	var rooms []string
	for key, timer := range t.timers {
		if key.userID != userID {
			continue
		}
		timer.Stop()
		delete(t.timers, key)
		rooms = append(rooms, key.roomID)
	}
	t.mu.Unlock()

	for _, roomID := range rooms {
		if err := t.sendTypingState(ctx, roomID, userID, domain.EventTypingStop); err != nil {
			log.Ctx(ctx).Warn().Err(err).
				Str(log.FieldRoomID, roomID).
				Str(log.FieldUserID, userID).
				Msg("failed to clear typing on disconnect")
		}
	}
}

// sendTypingState broadcasts the indicator to everyone in the room but
// the typist. Their own client already knows.
func (t *Tracker) sendTypingState(ctx context.Context, roomID, userID, eventType string) error {
	memberIDs, err := t.members.MemberIDs(ctx, roomID)
	if err != nil {
		return err
	}
	audience := memberIDs[:0:0]
	for _, id := range memberIDs {
		if id != userID {
			audience = append(audience, id)
		}
	}
	ev := &domain.TypingStateEvent{Type: eventType, RoomID: roomID, UserID: userID}
	return t.broadcast.ToRoom(ctx, roomID, audience, "", eventType, ev)
}

func (t *Tracker) announce(ctx context.Context, ev *domain.UserPresenceEvent) {
	if t.local != nil {
		if data, err := json.Marshal(ev); err == nil {
			t.local.SendToAll(data)
		}
	}
	if err := t.broadcast.Platform(ctx, domain.EventUserPresence, ev); err != nil {
		log.Ctx(ctx).Warn().Err(err).Str(log.FieldUserID, ev.UserID).Msg("failed to publish presence change")
	}
}
