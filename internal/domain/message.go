package domain

import (
	"strings"
	"time"
)

// Boundary limits enforced by the message pipeline.
const (
	MaxMessageLength         = 2000
	MaxAttachmentsPerMessage = 5
)

// MessageType represents the type of a message.
type MessageType string

const (
	MessageTypeText         MessageType = "text"
	MessageTypeImage        MessageType = "image"
	MessageTypeVideo        MessageType = "video"
	MessageTypeAudio        MessageType = "audio"
	MessageTypeFile         MessageType = "file"
	MessageTypeSystem       MessageType = "system"
	MessageTypeAnnouncement MessageType = "announcement"
	MessageTypeTip          MessageType = "tip"
	MessageTypeGift         MessageType = "gift"
)

// Valid reports whether the type is a known message type.
func (t MessageType) Valid() bool {
	switch t {
	case MessageTypeText, MessageTypeImage, MessageTypeVideo, MessageTypeAudio,
		MessageTypeFile, MessageTypeSystem, MessageTypeAnnouncement,
		MessageTypeTip, MessageTypeGift:
		return true
	}
	return false
}

// DeliveryStatus tracks a message through sent → delivered → read.
// Transitions are monotonic and never regress.
type DeliveryStatus string

const (
	StatusSent      DeliveryStatus = "sent"
	StatusDelivered DeliveryStatus = "delivered"
	StatusRead      DeliveryStatus = "read"
)

func (s DeliveryStatus) rank() int {
	switch s {
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	}
	return 0
}

// CanAdvanceTo reports whether moving to next is a forward transition.
func (s DeliveryStatus) CanAdvanceTo(next DeliveryStatus) bool {
	return next.rank() > s.rank()
}

// Attachment is a reference to a stored blob attached to a message.
type Attachment struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Key       string `json:"key"` // blob storage key
	URL       string `json:"url,omitempty"`
	MIMEType  string `json:"mime_type"`
	SizeBytes int64  `json:"size_bytes"`
}

// allowedMIMETypes is the attachment allow-list, with per-type size ceilings.
var allowedMIMETypes = map[string]int64{
	"image/jpeg":      10 << 20,
	"image/png":       10 << 20,
	"image/gif":       10 << 20,
	"image/webp":      10 << 20,
	"video/mp4":       100 << 20,
	"video/quicktime": 100 << 20,
	"video/webm":      100 << 20,
	"audio/mpeg":      50 << 20,
	"audio/ogg":       50 << 20,
	"audio/wav":       50 << 20,
	"application/pdf": 25 << 20,
	"text/plain":      5 << 20,
}

// AttachmentSizeLimit returns the size ceiling for a MIME type, and
// whether the type is allowed at all.
func AttachmentSizeLimit(mimeType string) (int64, bool) {
	limit, ok := allowedMIMETypes[strings.ToLower(mimeType)]
	return limit, ok
}

// Message is one message in a room. Immutable after creation except
// content (edit), the tombstone flag, and delivery status transitions.
type Message struct {
	ID          string         `json:"id"`
	RoomID      string         `json:"room_id"`
	SenderID    string         `json:"sender_id"`
	Type        MessageType    `json:"type"`
	Content     string         `json:"content"`
	Attachments []Attachment   `json:"attachments,omitempty"`
	ReplyToID   string         `json:"reply_to_id,omitempty"`
	Edited      bool           `json:"edited"`
	EditedAt    *time.Time     `json:"edited_at,omitempty"`
	Deleted     bool           `json:"deleted"`
	Status      DeliveryStatus `json:"status"`
	CreatedAt   time.Time      `json:"created_at"`
}

// Reaction is a (message, user, emoji) triple, unique per triple.
type Reaction struct {
	MessageID string    `json:"message_id"`
	UserID    string    `json:"user_id"`
	Emoji     string    `json:"emoji"`
	CreatedAt time.Time `json:"created_at"`
}
