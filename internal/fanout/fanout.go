// Package fanout delivers wire events to their audience: local
// connections through the hub, remote nodes through the broadcast
// bridge. The event is marshaled once and the same bytes go both ways.
package fanout

import (
	"context"
	"encoding/json"

	"github.com/Shockvaluemedia/directfanz-messaging/pkg/log"
	"github.com/Shockvaluemedia/directfanz-messaging/pkg/pubsub"
)

// LocalSender is the piece of the hub fan-out needs.
type LocalSender interface {
	SendToUsers(userIDs []string, data []byte, excludeConn string)
}

type Fanout struct {
	local  LocalSender
	bridge pubsub.Bridge
	origin string
}

// New creates a fan-out for this instance. origin tags published events
// so the relay can skip traffic this node already delivered locally.
func New(local LocalSender, bridge pubsub.Bridge, origin string) *Fanout {
	return &Fanout{local: local, bridge: bridge, origin: origin}
}

// Origin returns this instance's broadcast identity.
func (f *Fanout) Origin() string {
	return f.origin
}

// ToRoom delivers event to the room's members: member connections on
// this node directly, other nodes through the room channel. Bridge
// publish failures are logged, never surfaced; local delivery already
// happened.
func (f *Fanout) ToRoom(ctx context.Context, roomID string, memberIDs []string, excludeConn string, eventType string, event interface{}) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	f.local.SendToUsers(memberIDs, data, excludeConn)

	ev := pubsub.NewEvent(eventType, f.origin, data)
	ev.RoomID = roomID
	if err := f.bridge.Publish(ctx, pubsub.RoomChannel(roomID), ev); err != nil {
		log.Ctx(ctx).Error().Err(err).
			Str(log.FieldRoomID, roomID).
			Str(log.FieldEventType, eventType).
			Msg("bridge publish failed, remote nodes missed the event")
	}
	return nil
}

// ToUser delivers event to every device of one user, on any node.
func (f *Fanout) ToUser(ctx context.Context, userID string, eventType string, event interface{}) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	f.local.SendToUsers([]string{userID}, data, "")

	ev := pubsub.NewEvent(eventType, f.origin, data)
	ev.UserID = userID
	if err := f.bridge.Publish(ctx, pubsub.UserChannel(userID), ev); err != nil {
		log.Ctx(ctx).Error().Err(err).
			Str(log.FieldUserID, userID).
			Str(log.FieldEventType, eventType).
			Msg("bridge publish failed, remote nodes missed the event")
	}
	return nil
}

// Platform publishes event platform-wide, for presence changes every
// node should see. Local delivery is the caller's business; presence
// snapshots are assembled per connection.
func (f *Fanout) Platform(ctx context.Context, eventType string, event interface{}) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	ev := pubsub.NewEvent(eventType, f.origin, data)
	if err := f.bridge.Publish(ctx, pubsub.ChannelPlatform, ev); err != nil {
		log.Ctx(ctx).Error().Err(err).
			Str(log.FieldEventType, eventType).
			Msg("bridge publish failed, remote nodes missed the event")
		return err
	}
	return nil
}
