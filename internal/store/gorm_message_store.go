package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Shockvaluemedia/directfanz-messaging/internal/domain"
	"github.com/Shockvaluemedia/directfanz-messaging/pkg/log"
)

// GormMessageStore implements MessageStore using GORM.
type GormMessageStore struct {
	db *gorm.DB
}

// NewGormMessageStore creates a new GORM-based message store.
func NewGormMessageStore(db *gorm.DB) *GormMessageStore {
	return &GormMessageStore{db: db}
}

// CreateMessage persists a new message, assigning its id, creation
// time, and initial delivery status.
func (s *GormMessageStore) CreateMessage(ctx context.Context, msg *domain.Message) error {
	l := log.Ctx(ctx)

	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	if msg.Status == "" {
		msg.Status = domain.StatusSent
	}

	model := MessageToModel(msg)
	if err := s.db.WithContext(ctx).Create(model).Error; err != nil {
		l.Error().Err(err).Str(log.FieldRoomID, msg.RoomID).Msg("failed to create message in db")
		return err
	}
	l.Debug().Str(log.FieldMessageID, msg.ID).Msg("message created in db")
	return nil
}

// GetMessage retrieves a message by ID.
func (s *GormMessageStore) GetMessage(ctx context.Context, id string) (*domain.Message, error) {
	var model MessageModel
	result := s.db.WithContext(ctx).First(&model, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrMessageNotFound
		}
		log.Ctx(ctx).Error().Err(result.Error).Str(log.FieldMessageID, id).Msg("failed to get message by id")
		return nil, result.Error
	}
	return model.ToDomain(), nil
}

// History returns up to limit messages of the room, newest first,
// older than before when set. Fetching one extra row tells us whether
// an older page exists. Tombstoned messages stay in the timeline.
func (s *GormMessageStore) History(ctx context.Context, roomID string, before *time.Time, limit int) ([]domain.Message, bool, error) {
	if limit < 1 {
		limit = 50
	}

	query := s.db.WithContext(ctx).Model(&MessageModel{}).
		Where("room_id = ?", roomID)
	if before != nil {
		query = query.Where("created_at < ?", *before)
	}

	var models []MessageModel
	result := query.Order("created_at DESC").Limit(limit + 1).Find(&models)
	if result.Error != nil {
		log.Ctx(ctx).Error().Err(result.Error).Str(log.FieldRoomID, roomID).Msg("failed to load message history")
		return nil, false, result.Error
	}

	hasMore := len(models) > limit
	if hasMore {
		models = models[:limit]
	}

	messages := make([]domain.Message, len(models))
	for i, model := range models {
		messages[i] = *model.ToDomain()
	}
	return messages, hasMore, nil
}

// UpdateContent replaces the message content and marks it edited.
func (s *GormMessageStore) UpdateContent(ctx context.Context, id, content string, editedAt time.Time) error {
	result := s.db.WithContext(ctx).Model(&MessageModel{}).
		Where("id = ? AND deleted = ?", id, false).
		Updates(map[string]interface{}{
			"content":   content,
			"edited":    true,
			"edited_at": editedAt,
		})
	if result.Error != nil {
		log.Ctx(ctx).Error().Err(result.Error).Str(log.FieldMessageID, id).Msg("failed to update message content")
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrMessageNotFound
	}
	return nil
}

// Tombstone blanks the content and flags the message deleted. The row
// stays so the timeline keeps its place.
func (s *GormMessageStore) Tombstone(ctx context.Context, id string, at time.Time) error {
	result := s.db.WithContext(ctx).Model(&MessageModel{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"content":     "",
			"attachments": nil,
			"deleted":     true,
			"edited_at":   at.UTC(),
		})
	if result.Error != nil {
		log.Ctx(ctx).Error().Err(result.Error).Str(log.FieldMessageID, id).Msg("failed to tombstone message")
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrMessageNotFound
	}
	return nil
}

// AdvanceStatus moves the listed messages to status. Messages already
// at or past the target keep their status; delivery state never moves
// backwards.
func (s *GormMessageStore) AdvanceStatus(ctx context.Context, roomID string, ids []string, status domain.DeliveryStatus) error {
	if len(ids) == 0 {
		return nil
	}

	lower := make([]string, 0, 2)
	for _, st := range []domain.DeliveryStatus{domain.StatusSent, domain.StatusDelivered} {
		if st.CanAdvanceTo(status) {
			lower = append(lower, string(st))
		}
	}
	if len(lower) == 0 {
		return nil
	}

	result := s.db.WithContext(ctx).Model(&MessageModel{}).
		Where("room_id = ? AND id IN ? AND status IN ?", roomID, ids, lower).
		Update("status", string(status))
	if result.Error != nil {
		log.Ctx(ctx).Error().Err(result.Error).Msg("failed to advance message status")
		return result.Error
	}
	return nil
}

// AddReaction stores the reaction, reporting whether it was new. The
// composite primary key turns a repeat into a silent no-op.
func (s *GormMessageStore) AddReaction(ctx context.Context, r *domain.Reaction) (bool, error) {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}

	model := &ReactionModel{
		MessageID: r.MessageID,
		UserID:    r.UserID,
		Emoji:     r.Emoji,
		CreatedAt: r.CreatedAt,
	}
	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(model)
	if result.Error != nil {
		log.Ctx(ctx).Error().Err(result.Error).Str(log.FieldMessageID, r.MessageID).Msg("failed to add reaction")
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// RemoveReaction deletes the reaction, reporting whether it existed.
func (s *GormMessageStore) RemoveReaction(ctx context.Context, messageID, userID, emoji string) (bool, error) {
	result := s.db.WithContext(ctx).
		Where("message_id = ? AND user_id = ? AND emoji = ?", messageID, userID, emoji).
		Delete(&ReactionModel{})
	if result.Error != nil {
		log.Ctx(ctx).Error().Err(result.Error).Str(log.FieldMessageID, messageID).Msg("failed to remove reaction")
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// Reactions returns all reactions on the message in creation order.
func (s *GormMessageStore) Reactions(ctx context.Context, messageID string) ([]domain.Reaction, error) {
	var models []ReactionModel
	result := s.db.WithContext(ctx).
		Where("message_id = ?", messageID).
		Order("created_at ASC").
		Find(&models)
	if result.Error != nil {
		log.Ctx(ctx).Error().Err(result.Error).Str(log.FieldMessageID, messageID).Msg("failed to list reactions")
		return nil, result.Error
	}

	reactions := make([]domain.Reaction, len(models))
	for i, model := range models {
		reactions[i] = *model.ToDomain()
	}
	return reactions, nil
}
