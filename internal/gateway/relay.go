package gateway

import (
	"context"

	"github.com/Shockvaluemedia/directfanz-messaging/internal/hub"
	"github.com/Shockvaluemedia/directfanz-messaging/pkg/log"
	"github.com/Shockvaluemedia/directfanz-messaging/pkg/pubsub"
)

// MemberResolver resolves a room's current audience for remote events.
type MemberResolver interface {
	MemberIDs(ctx context.Context, roomID string) ([]string, error)
}

// Relay feeds broadcast traffic published by other instances into local
// delivery. Events carrying this instance's origin are skipped; their
// local delivery already happened at publish time.
type Relay struct {
	bridge  pubsub.Bridge
	hub     *hub.Hub
	members MemberResolver
	origin  string
}

func NewRelay(bridge pubsub.Bridge, h *hub.Hub, members MemberResolver, origin string) *Relay {
	return &Relay{bridge: bridge, hub: h, members: members, origin: origin}
}

// Run subscribes to the fabric channels and pumps events until ctx is
// cancelled.
func (r *Relay) Run(ctx context.Context) error {
	platform, err := r.bridge.Subscribe(ctx, pubsub.ChannelPlatform)
	if err != nil {
		return err
	}
	roomEvents, err := r.bridge.SubscribePattern(ctx, pubsub.PatternRooms)
	if err != nil {
		return err
	}
	userEvents, err := r.bridge.SubscribePattern(ctx, pubsub.PatternUsers)
	if err != nil {
		return err
	}

	log.Ctx(ctx).Info().Str(log.FieldInstance, r.origin).Msg("relay started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-platform:
			if !ok {
				return nil
			}
			r.handlePlatform(ctx, ev)
		case ev, ok := <-roomEvents:
			if !ok {
				return nil
			}
			r.handleRoom(ctx, ev)
		case ev, ok := <-userEvents:
			if !ok {
				return nil
			}
			r.handleUser(ctx, ev)
		}
	}
}

func (r *Relay) handlePlatform(ctx context.Context, ev *pubsub.Event) {
	if ev == nil || ev.Origin == r.origin {
		return
	}
	r.hub.SendToAll(ev.Payload)
}

func (r *Relay) handleRoom(ctx context.Context, ev *pubsub.Event) {
	if ev == nil || ev.Origin == r.origin || ev.RoomID == "" {
		return
	}
	memberIDs, err := r.members.MemberIDs(ctx, ev.RoomID)
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).
			Str(log.FieldRoomID, ev.RoomID).
			Str(log.FieldEventType, ev.Type).
			Msg("relay could not resolve room audience")
		return
	}
	r.hub.SendToUsers(memberIDs, ev.Payload, "")
}

func (r *Relay) handleUser(_ context.Context, ev *pubsub.Event) {
	if ev == nil || ev.Origin == r.origin || ev.UserID == "" {
		return
	}
	r.hub.SendToUser(ev.UserID, ev.Payload)
}
