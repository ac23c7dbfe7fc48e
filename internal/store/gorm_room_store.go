package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Shockvaluemedia/directfanz-messaging/internal/domain"
	"github.com/Shockvaluemedia/directfanz-messaging/pkg/log"
)

// GormRoomStore implements RoomStore using GORM.
type GormRoomStore struct {
	db *gorm.DB
}

// NewGormRoomStore creates a new GORM-based room store.
func NewGormRoomStore(db *gorm.DB) *GormRoomStore {
	return &GormRoomStore{db: db}
}

// CreateRoom creates the room and the creator's membership in one
// transaction. A duplicate direct key means another instance or
// connection created the same conversation first.
func (s *GormRoomStore) CreateRoom(ctx context.Context, room *domain.Room, creator *domain.Membership) error {
	l := log.Ctx(ctx)

	if room.ID == "" {
		room.ID = uuid.New().String()
	}
	now := time.Now()
	if room.CreatedAt.IsZero() {
		room.CreatedAt = now
	}
	if room.LastActivityAt.IsZero() {
		room.LastActivityAt = now
	}
	creator.RoomID = room.ID
	if creator.JoinedAt.IsZero() {
		creator.JoinedAt = now
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(RoomToModel(room)).Error; err != nil {
			return err
		}
		return tx.Create(MembershipToModel(creator)).Error
	})
	if err != nil {
		if isDuplicateKey(err) {
			return ErrDuplicateDirectRoom
		}
		l.Error().Err(err).Str(log.FieldRoomID, room.ID).Msg("failed to create room in db")
		return err
	}
	l.Debug().Str(log.FieldRoomID, room.ID).Msg("room created in db")
	return nil
}

// CreateDirectRoom creates the direct room and both participants'
// memberships in one transaction. A duplicate direct key means another
// instance created the same conversation first.
func (s *GormRoomStore) CreateDirectRoom(ctx context.Context, room *domain.Room, creator, peer *domain.Membership) error {
	l := log.Ctx(ctx)

	if room.ID == "" {
		room.ID = uuid.New().String()
	}
	now := time.Now()
	if room.CreatedAt.IsZero() {
		room.CreatedAt = now
	}
	if room.LastActivityAt.IsZero() {
		room.LastActivityAt = now
	}
	for _, m := range []*domain.Membership{creator, peer} {
		m.RoomID = room.ID
		if m.JoinedAt.IsZero() {
			m.JoinedAt = now
		}
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(RoomToModel(room)).Error; err != nil {
			return err
		}
		if err := tx.Create(MembershipToModel(creator)).Error; err != nil {
			return err
		}
		return tx.Create(MembershipToModel(peer)).Error
	})
	if err != nil {
		if isDuplicateKey(err) {
			return ErrDuplicateDirectRoom
		}
		l.Error().Err(err).Str(log.FieldRoomID, room.ID).Msg("failed to create direct room in db")
		return err
	}
	l.Debug().Str(log.FieldRoomID, room.ID).Msg("direct room created in db")
	return nil
}

// GetRoom retrieves a room by ID.
func (s *GormRoomStore) GetRoom(ctx context.Context, id string) (*domain.Room, error) {
	var model RoomModel
	result := s.db.WithContext(ctx).First(&model, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrRoomNotFound
		}
		log.Ctx(ctx).Error().Err(result.Error).Str(log.FieldRoomID, id).Msg("failed to get room by id")
		return nil, result.Error
	}
	return model.ToDomain(), nil
}

// GetRoomByDirectKey retrieves the direct room for a sorted user pair key.
func (s *GormRoomStore) GetRoomByDirectKey(ctx context.Context, key string) (*domain.Room, error) {
	var model RoomModel
	result := s.db.WithContext(ctx).First(&model, "direct_key = ?", key)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrRoomNotFound
		}
		log.Ctx(ctx).Error().Err(result.Error).Msg("failed to get room by direct key")
		return nil, result.Error
	}
	return model.ToDomain(), nil
}

// AddMember creates the membership, or revives the existing row when
// the user left before. An already active membership is left untouched.
func (s *GormRoomStore) AddMember(ctx context.Context, m *domain.Membership) error {
	l := log.Ctx(ctx)

	if m.JoinedAt.IsZero() {
		m.JoinedAt = time.Now()
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing MembershipModel
		result := tx.First(&existing, "room_id = ? AND user_id = ?", m.RoomID, m.UserID)
		if result.Error != nil {
			if errors.Is(result.Error, gorm.ErrRecordNotFound) {
				return tx.Create(MembershipToModel(m)).Error
			}
			return result.Error
		}
		if existing.LeftAt == nil {
			// Already an active member; joining again is idempotent.
			return nil
		}
		return tx.Model(&MembershipModel{}).
			Where("room_id = ? AND user_id = ?", m.RoomID, m.UserID).
			Updates(map[string]interface{}{
				"role":      string(m.Role),
				"joined_at": m.JoinedAt,
				"left_at":   nil,
			}).Error
	})
	if err != nil {
		l.Error().Err(err).
			Str(log.FieldRoomID, m.RoomID).
			Str(log.FieldUserID, m.UserID).
			Msg("failed to add member in db")
		return err
	}
	return nil
}

// RemoveMember marks the membership as left. Removing a user who is not
// an active member is a no-op.
func (s *GormRoomStore) RemoveMember(ctx context.Context, roomID, userID string, at time.Time) error {
	result := s.db.WithContext(ctx).Model(&MembershipModel{}).
		Where("room_id = ? AND user_id = ? AND left_at IS NULL", roomID, userID).
		Update("left_at", at)
	if result.Error != nil {
		log.Ctx(ctx).Error().Err(result.Error).
			Str(log.FieldRoomID, roomID).
			Str(log.FieldUserID, userID).
			Msg("failed to remove member in db")
		return result.Error
	}
	return nil
}

// GetMembership returns the active membership for the user in the room.
func (s *GormRoomStore) GetMembership(ctx context.Context, roomID, userID string) (*domain.Membership, error) {
	var model MembershipModel
	result := s.db.WithContext(ctx).
		First(&model, "room_id = ? AND user_id = ? AND left_at IS NULL", roomID, userID)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrMembershipNotFound
		}
		log.Ctx(ctx).Error().Err(result.Error).Str(log.FieldRoomID, roomID).Msg("failed to get membership")
		return nil, result.Error
	}
	return model.ToDomain(), nil
}

// MemberIDs returns the user ids of all active members of the room.
func (s *GormRoomStore) MemberIDs(ctx context.Context, roomID string) ([]string, error) {
	var ids []string
	result := s.db.WithContext(ctx).Model(&MembershipModel{}).
		Where("room_id = ? AND left_at IS NULL", roomID).
		Pluck("user_id", &ids)
	if result.Error != nil {
		log.Ctx(ctx).Error().Err(result.Error).Str(log.FieldRoomID, roomID).Msg("failed to list member ids")
		return nil, result.Error
	}
	return ids, nil
}

// ActiveMemberCount counts the active members of the room.
func (s *GormRoomStore) ActiveMemberCount(ctx context.Context, roomID string) (int, error) {
	var count int64
	result := s.db.WithContext(ctx).Model(&MembershipModel{}).
		Where("room_id = ? AND left_at IS NULL", roomID).
		Count(&count)
	if result.Error != nil {
		log.Ctx(ctx).Error().Err(result.Error).Str(log.FieldRoomID, roomID).Msg("failed to count members")
		return 0, result.Error
	}
	return int(count), nil
}

// RoomsForUser retrieves all rooms the user is an active member of,
// most recently active first.
func (s *GormRoomStore) RoomsForUser(ctx context.Context, userID string) ([]domain.Room, error) {
	var models []RoomModel
	result := s.db.WithContext(ctx).Model(&RoomModel{}).
		Joins("JOIN room_memberships ON room_memberships.room_id = rooms.id").
		Where("room_memberships.user_id = ? AND room_memberships.left_at IS NULL", userID).
		Order("rooms.last_activity_at DESC").
		Find(&models)
	if result.Error != nil {
		log.Ctx(ctx).Error().Err(result.Error).Str(log.FieldUserID, userID).Msg("failed to list user rooms")
		return nil, result.Error
	}

	rooms := make([]domain.Room, len(models))
	for i, model := range models {
		rooms[i] = *model.ToDomain()
	}
	return rooms, nil
}

// TouchActivity bumps the room's last activity timestamp.
func (s *GormRoomStore) TouchActivity(ctx context.Context, roomID string, at time.Time) error {
	result := s.db.WithContext(ctx).Model(&RoomModel{}).
		Where("id = ?", roomID).
		Update("last_activity_at", at)
	if result.Error != nil {
		log.Ctx(ctx).Error().Err(result.Error).Str(log.FieldRoomID, roomID).Msg("failed to touch room activity")
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrRoomNotFound
	}
	return nil
}

// isDuplicateKey reports whether err is a unique constraint violation.
// GORM normalizes this for some drivers; the string checks cover the rest.
func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint") ||
		strings.Contains(msg, "Duplicate entry") ||
		strings.Contains(msg, "duplicate key")
}
