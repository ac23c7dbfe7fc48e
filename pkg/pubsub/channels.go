package pubsub

import "fmt"

// Channel naming for the messaging fabric. Every instance subscribes to
// the platform channel and to the room/user patterns at startup.
const (
	ChannelPlatform = "fabric:platform"

	channelRoom = "fabric:room:%s"
	channelUser = "fabric:user:%s"

	PatternRooms = "fabric:room:*"
	PatternUsers = "fabric:user:*"
)

// RoomChannel returns the channel name for events addressed to a room.
func RoomChannel(roomID string) string {
	return fmt.Sprintf(channelRoom, roomID)
}

// UserChannel returns the channel name for events addressed to a user's
// connections, wherever they are held.
func UserChannel(userID string) string {
	return fmt.Sprintf(channelUser, userID)
}
