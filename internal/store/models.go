package store

import (
	"encoding/json"
	"time"

	"github.com/Shockvaluemedia/directfanz-messaging/internal/domain"
	"github.com/Shockvaluemedia/directfanz-messaging/pkg/database"
)

// RoomModel is the GORM model for the rooms table.
type RoomModel struct {
	ID             string  `gorm:"type:varchar(36);primaryKey"`
	Name           string  `gorm:"type:varchar(200);not null"`
	Description    string  `gorm:"type:text"`
	Kind           string  `gorm:"type:varchar(20);index;not null"`
	Private        bool    `gorm:"default:false"`
	CreatorID      string  `gorm:"type:varchar(36);index;not null"`
	DirectKey      *string `gorm:"type:varchar(160);uniqueIndex"`
	Settings       database.JSONText
	CreatedAt      time.Time `gorm:"autoCreateTime"`
	LastActivityAt time.Time `gorm:"index"`
}

// TableName specifies the table name for RoomModel.
func (RoomModel) TableName() string {
	return "rooms"
}

// ToDomain converts RoomModel to domain Room.
func (m *RoomModel) ToDomain() *domain.Room {
	r := &domain.Room{
		ID:             m.ID,
		Name:           m.Name,
		Description:    m.Description,
		Kind:           domain.RoomKind(m.Kind),
		Private:        m.Private,
		CreatorID:      m.CreatorID,
		Settings:       domain.DefaultRoomSettings(domain.RoomKind(m.Kind)),
		CreatedAt:      m.CreatedAt,
		LastActivityAt: m.LastActivityAt,
	}
	if m.DirectKey != nil {
		r.DirectKey = *m.DirectKey
	}
	if len(m.Settings) > 0 {
		_ = json.Unmarshal(m.Settings, &r.Settings)
	}
	return r
}

// RoomToModel converts domain Room to RoomModel.
func RoomToModel(r *domain.Room) *RoomModel {
	m := &RoomModel{
		ID:             r.ID,
		Name:           r.Name,
		Description:    r.Description,
		Kind:           string(r.Kind),
		Private:        r.Private,
		CreatorID:      r.CreatorID,
		CreatedAt:      r.CreatedAt,
		LastActivityAt: r.LastActivityAt,
	}
	if r.DirectKey != "" {
		key := r.DirectKey
		m.DirectKey = &key
	}
	if data, err := json.Marshal(r.Settings); err == nil {
		m.Settings = data
	}
	return m
}

// MembershipModel is the GORM model for the room_memberships table.
// One row per (room, user); leaving sets LeftAt and rejoining clears it,
// so at most one active membership can ever exist for the pair.
type MembershipModel struct {
	RoomID   string `gorm:"type:varchar(36);primaryKey"`
	UserID   string `gorm:"type:varchar(36);primaryKey;index"`
	Role     string `gorm:"type:varchar(20);not null"`
	JoinedAt time.Time
	LeftAt   *time.Time
}

// TableName specifies the table name for MembershipModel.
func (MembershipModel) TableName() string {
	return "room_memberships"
}

// ToDomain converts MembershipModel to domain Membership.
func (m *MembershipModel) ToDomain() *domain.Membership {
	return &domain.Membership{
		RoomID:   m.RoomID,
		UserID:   m.UserID,
		Role:     domain.RoomRole(m.Role),
		JoinedAt: m.JoinedAt,
		LeftAt:   m.LeftAt,
	}
}

// MembershipToModel converts domain Membership to MembershipModel.
func MembershipToModel(ms *domain.Membership) *MembershipModel {
	return &MembershipModel{
		RoomID:   ms.RoomID,
		UserID:   ms.UserID,
		Role:     string(ms.Role),
		JoinedAt: ms.JoinedAt,
		LeftAt:   ms.LeftAt,
	}
}

// MessageModel is the GORM model for the messages table.
type MessageModel struct {
	ID          string `gorm:"type:varchar(36);primaryKey"`
	RoomID      string `gorm:"type:varchar(36);index:idx_messages_room_created,priority:1;not null"`
	SenderID    string `gorm:"type:varchar(36);index;not null"`
	Type        string `gorm:"type:varchar(20);not null"`
	Content     string `gorm:"type:text"`
	Attachments database.JSONText
	ReplyToID   string `gorm:"type:varchar(36)"`
	Edited      bool   `gorm:"default:false"`
	EditedAt    *time.Time
	Deleted     bool   `gorm:"default:false"`
	Status      string    `gorm:"type:varchar(20);not null;default:'sent'"`
	CreatedAt   time.Time `gorm:"index:idx_messages_room_created,priority:2"`
}

// TableName specifies the table name for MessageModel.
func (MessageModel) TableName() string {
	return "messages"
}

// ToDomain converts MessageModel to domain Message.
func (m *MessageModel) ToDomain() *domain.Message {
	msg := &domain.Message{
		ID:        m.ID,
		RoomID:    m.RoomID,
		SenderID:  m.SenderID,
		Type:      domain.MessageType(m.Type),
		Content:   m.Content,
		ReplyToID: m.ReplyToID,
		Edited:    m.Edited,
		EditedAt:  m.EditedAt,
		Deleted:   m.Deleted,
		Status:    domain.DeliveryStatus(m.Status),
		CreatedAt: m.CreatedAt,
	}
	if len(m.Attachments) > 0 {
		_ = json.Unmarshal(m.Attachments, &msg.Attachments)
	}
	return msg
}

// MessageToModel converts domain Message to MessageModel.
func MessageToModel(msg *domain.Message) *MessageModel {
	m := &MessageModel{
		ID:        msg.ID,
		RoomID:    msg.RoomID,
		SenderID:  msg.SenderID,
		Type:      string(msg.Type),
		Content:   msg.Content,
		ReplyToID: msg.ReplyToID,
		Edited:    msg.Edited,
		EditedAt:  msg.EditedAt,
		Deleted:   msg.Deleted,
		Status:    string(msg.Status),
		CreatedAt: msg.CreatedAt,
	}
	if len(msg.Attachments) > 0 {
		if data, err := json.Marshal(msg.Attachments); err == nil {
			m.Attachments = data
		}
	}
	return m
}

// ReactionModel is the GORM model for the message_reactions table. The
// composite primary key makes (message, user, emoji) naturally unique.
type ReactionModel struct {
	MessageID string `gorm:"type:varchar(36);primaryKey"`
	UserID    string `gorm:"type:varchar(36);primaryKey"`
	Emoji     string `gorm:"type:varchar(64);primaryKey"`
	CreatedAt time.Time
}

// TableName specifies the table name for ReactionModel.
func (ReactionModel) TableName() string {
	return "message_reactions"
}

// ToDomain converts ReactionModel to domain Reaction.
func (m *ReactionModel) ToDomain() *domain.Reaction {
	return &domain.Reaction{
		MessageID: m.MessageID,
		UserID:    m.UserID,
		Emoji:     m.Emoji,
		CreatedAt: m.CreatedAt,
	}
}

// Models returns every model this package persists, for migration.
func Models() []interface{} {
	return []interface{}{
		&RoomModel{},
		&MembershipModel{},
		&MessageModel{},
		&ReactionModel{},
	}
}
