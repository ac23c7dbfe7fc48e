package domain

import (
	"errors"
	"time"
)

// Inbound event types (client -> server).
const (
	EventJoinRoom          = "join_room"
	EventLeaveRoom         = "leave_room"
	EventSendMessage       = "send_message"
	EventSendDirectMessage = "send_direct_message"
	EventAddReaction       = "add_reaction"
	EventRemoveReaction    = "remove_reaction"
	EventTypingStartIn     = "typing_start"
	EventTypingStopIn      = "typing_stop"
	EventMarkAsRead        = "mark_as_read"
	EventEditMessage       = "edit_message"
	EventDeleteMessage     = "delete_message"
	EventGetHistory        = "get_message_history"
	EventCreateRoom        = "create_room"
	EventInviteToRoom      = "invite_to_room"
)

// Outbound event types (server -> client).
const (
	EventMessageHistory  = "message_history"
	EventNewMessage      = "new_message"
	EventMessageEdited   = "message_edited"
	EventMessageDeleted  = "message_deleted"
	EventReactionAdded   = "reaction_added"
	EventReactionRemoved = "reaction_removed"
	EventTypingStart     = "typing_start"
	EventTypingStop      = "typing_stop"
	EventMessageRead     = "message_read"
	EventUserJoined      = "user_joined"
	EventUserLeft        = "user_left"
	EventUserPresence    = "user_presence"
	EventRoomCreated     = "room_created"
	EventInvitationsSent = "invitations_sent"
	EventRoomList        = "room_list"
	EventOnlineUsers     = "online_users"
	EventError           = "error"
)

// BaseEvent is the envelope shared by all wire events.
type BaseEvent struct {
	Type string `json:"type"`
}

// Client -> Server events

type JoinRoomEvent struct {
	Type   string `json:"type"`
	RoomID string `json:"room_id"`
}

type LeaveRoomEvent struct {
	Type   string `json:"type"`
	RoomID string `json:"room_id"`
}

type SendMessageEvent struct {
	Type        string       `json:"type"`
	RoomID      string       `json:"room_id"`
	Content     string       `json:"content"`
	MessageType MessageType  `json:"message_type"`
	Attachments []Attachment `json:"attachments,omitempty"`
	ReplyToID   string       `json:"reply_to_id,omitempty"`
}

type SendDirectMessageEvent struct {
	Type        string       `json:"type"`
	ReceiverID  string       `json:"receiver_id"`
	Content     string       `json:"content"`
	MessageType MessageType  `json:"message_type"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

type ReactionEvent struct {
	Type      string `json:"type"`
	MessageID string `json:"message_id"`
	Emoji     string `json:"emoji"`
}

type TypingEvent struct {
	Type   string `json:"type"`
	RoomID string `json:"room_id"`
}

// MarkAsReadEvent accepts a single id or a list. The room is looked up
// from the messages themselves, never taken from the client.
type MarkAsReadEvent struct {
	Type       string   `json:"type"`
	MessageID  string   `json:"message_id,omitempty"`
	MessageIDs []string `json:"message_ids,omitempty"`
}

// AllIDs merges the single-id and list forms.
func (e *MarkAsReadEvent) AllIDs() []string {
	ids := e.MessageIDs
	if e.MessageID != "" {
		ids = append(ids, e.MessageID)
	}
	return ids
}

type EditMessageEvent struct {
	Type      string `json:"type"`
	MessageID string `json:"message_id"`
	Content   string `json:"content"`
}

type DeleteMessageEvent struct {
	Type      string `json:"type"`
	MessageID string `json:"message_id"`
}

type HistoryRequestEvent struct {
	Type   string     `json:"type"`
	RoomID string     `json:"room_id"`
	Before *time.Time `json:"before,omitempty"`
	Limit  int        `json:"limit,omitempty"`
}

type CreateRoomEvent struct {
	Type           string   `json:"type"`
	Name           string   `json:"name"`
	Description    string   `json:"description,omitempty"`
	RoomType       RoomKind `json:"room_type"`
	IsPrivate      bool     `json:"is_private"`
	InitialMembers []string `json:"initial_members,omitempty"`
}

type InviteToRoomEvent struct {
	Type    string   `json:"type"`
	RoomID  string   `json:"room_id"`
	UserIDs []string `json:"user_ids"`
}

// Server -> Client events

type ErrorEvent struct {
	Type       string `json:"type"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retry_after_seconds,omitempty"`
}

// NewErrorEvent builds the error event for a component error.
func NewErrorEvent(err error) *ErrorEvent {
	ev := &ErrorEvent{
		Type:    EventError,
		Code:    ErrorCode(err),
		Message: err.Error(),
	}
	var rle *RateLimitError
	if errors.As(err, &rle) {
		ev.RetryAfter = rle.RetryAfterSeconds()
	}
	return ev
}

type NewMessageEvent struct {
	Type    string   `json:"type"`
	Message *Message `json:"message"`
}

type MessageEditedEvent struct {
	Type    string   `json:"type"`
	Message *Message `json:"message"`
}

type MessageDeletedEvent struct {
	Type      string `json:"type"`
	RoomID    string `json:"room_id"`
	MessageID string `json:"message_id"`
}

type ReactionAddedEvent struct {
	Type     string    `json:"type"`
	RoomID   string    `json:"room_id"`
	Reaction *Reaction `json:"reaction"`
}

type ReactionRemovedEvent struct {
	Type      string `json:"type"`
	RoomID    string `json:"room_id"`
	MessageID string `json:"message_id"`
	UserID    string `json:"user_id"`
	Emoji     string `json:"emoji"`
}

type TypingStateEvent struct {
	Type   string `json:"type"` // typing_start or typing_stop
	RoomID string `json:"room_id"`
	UserID string `json:"user_id"`
}

type MessageReadEvent struct {
	Type       string    `json:"type"`
	RoomID     string    `json:"room_id"`
	ReaderID   string    `json:"reader_id"`
	MessageIDs []string  `json:"message_ids"`
	ReadAt     time.Time `json:"read_at"`
}

type MembershipChangedEvent struct {
	Type   string `json:"type"` // user_joined or user_left
	RoomID string `json:"room_id"`
	UserID string `json:"user_id"`
}

type UserPresenceEvent struct {
	Type     string     `json:"type"`
	UserID   string     `json:"user_id"`
	IsOnline bool       `json:"is_online"`
	LastSeen *time.Time `json:"last_seen,omitempty"`
}

type RoomCreatedEvent struct {
	Type string `json:"type"`
	Room *Room  `json:"room"`
}

type InvitationsSentEvent struct {
	Type    string   `json:"type"`
	RoomID  string   `json:"room_id"`
	UserIDs []string `json:"user_ids"`
}

type RoomListEvent struct {
	Type  string `json:"type"`
	Rooms []Room `json:"rooms"`
}

type OnlineUsersEvent struct {
	Type    string   `json:"type"`
	UserIDs []string `json:"user_ids"`
}

type MessageHistoryEvent struct {
	Type     string    `json:"type"`
	RoomID   string    `json:"room_id"`
	Messages []Message `json:"messages"`
	HasMore  bool      `json:"has_more"`
}
