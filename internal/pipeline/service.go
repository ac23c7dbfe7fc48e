// Package pipeline is the message path: validation, quota, persistence,
// and fan-out, in that order. Every inbound operation lands here after
// the gateway decodes it.
package pipeline

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/Shockvaluemedia/directfanz-messaging/internal/domain"
	"github.com/Shockvaluemedia/directfanz-messaging/internal/push"
	"github.com/Shockvaluemedia/directfanz-messaging/internal/ratelimit"
	"github.com/Shockvaluemedia/directfanz-messaging/internal/store"
	"github.com/Shockvaluemedia/directfanz-messaging/pkg/log"
	"github.com/Shockvaluemedia/directfanz-messaging/pkg/storage"
)

const attachmentURLTTL = 24 * time.Hour

// RoomService is the slice of room operations the pipeline needs.
type RoomService interface {
	RequireMember(ctx context.Context, roomID, userID string) (*domain.Room, *domain.Membership, error)
	MemberIDs(ctx context.Context, roomID string) ([]string, error)
	DirectRoom(ctx context.Context, userID, peerID string) (*domain.Room, bool, error)
	TouchActivity(ctx context.Context, roomID string)
}

// Broadcaster delivers wire events to rooms and users across the fleet.
type Broadcaster interface {
	ToRoom(ctx context.Context, roomID string, memberIDs []string, excludeConn string, eventType string, event interface{}) error
	ToUser(ctx context.Context, userID string, eventType string, event interface{}) error
}

// PresenceReader answers who is reachable right now.
type PresenceReader interface {
	OnlineAmong(ctx context.Context, ids []string) ([]string, error)
}

// BlobStore is the slice of attachment storage the pipeline needs:
// resolving keys to URLs, checking that referenced blobs exist, and
// reclaiming blobs when their message is deleted.
type BlobStore interface {
	GetURL(ctx context.Context, key string, expires time.Duration) (string, error)
	Stat(ctx context.Context, key string) (storage.FileInfo, error)
	Delete(ctx context.Context, key string) error
}

// Service runs the message pipeline.
type Service struct {
	rooms    RoomService
	messages store.MessageStore
	limiter  ratelimit.Limiter
	fanout   Broadcaster
	presence PresenceReader
	notifier push.Notifier
	blobs    BlobStore
}

func NewService(rooms RoomService, messages store.MessageStore, limiter ratelimit.Limiter, fan Broadcaster, pres PresenceReader, notifier push.Notifier, blobs BlobStore) *Service {
	if notifier == nil {
		notifier = push.NopNotifier{}
	}
	return &Service{
		rooms:    rooms,
		messages: messages,
		limiter:  limiter,
		fanout:   fan,
		presence: pres,
		notifier: notifier,
		blobs:    blobs,
	}
}

// SendMessage runs the full pipeline for a room message.
func (s *Service) SendMessage(ctx context.Context, sender *domain.User, connID string, ev *domain.SendMessageEvent) (*domain.Message, error) {
	msg := &domain.Message{
		RoomID:      ev.RoomID,
		SenderID:    sender.ID,
		Type:        ev.MessageType,
		Content:     ev.Content,
		Attachments: ev.Attachments,
		ReplyToID:   ev.ReplyToID,
	}
	return s.send(ctx, sender, connID, ratelimit.CategoryMessage, msg, func(context.Context) (string, error) {
		return ev.RoomID, nil
	})
}

// SendDirect resolves (or creates) the direct room for the pair and
// sends through the same pipeline. The room is only resolved once the
// message has cleared validation and quota, so a rejected first
// message never leaves an empty conversation behind.
func (s *Service) SendDirect(ctx context.Context, sender *domain.User, connID string, ev *domain.SendDirectMessageEvent) (*domain.Message, error) {
	msg := &domain.Message{
		SenderID:    sender.ID,
		Type:        ev.MessageType,
		Content:     ev.Content,
		Attachments: ev.Attachments,
	}
	return s.send(ctx, sender, connID, ratelimit.CategoryDirect, msg, func(ctx context.Context) (string, error) {
		room, created, err := s.rooms.DirectRoom(ctx, sender.ID, ev.ReceiverID)
		if err != nil {
			return "", err
		}
		if created {
			// Both participants learn about their new conversation.
			roomEv := &domain.RoomCreatedEvent{Type: domain.EventRoomCreated, Room: room}
			for _, userID := range []string{sender.ID, ev.ReceiverID} {
				if err := s.fanout.ToUser(ctx, userID, domain.EventRoomCreated, roomEv); err != nil {
					log.Ctx(ctx).Warn().Err(err).Str(log.FieldUserID, userID).Msg("failed to announce direct room")
				}
			}
		}
		return room.ID, nil
	})
}

// send is the shared pipeline body. The order is fixed: content checks,
// quota, room resolution, membership and mute, room policy, then
// persistence, fan-out, activity touch, and push. The first failing
// step wins and nothing later runs.
func (s *Service) send(ctx context.Context, sender *domain.User, connID string, category ratelimit.Category, msg *domain.Message, resolve func(context.Context) (string, error)) (*domain.Message, error) {
	if err := validateMessage(msg); err != nil {
		return nil, err
	}
	if err := s.checkLimit(ctx, sender.ID, category); err != nil {
		return nil, err
	}
	if len(msg.Attachments) > 0 {
		// Attachments draw on the file budget on top of the message one.
		if err := s.checkLimit(ctx, sender.ID, ratelimit.CategoryFile); err != nil {
			return nil, err
		}
	}

	roomID, err := resolve(ctx)
	if err != nil {
		return nil, err
	}
	room, _, err := s.rooms.RequireMember(ctx, roomID, sender.ID)
	if err != nil {
		return nil, err
	}
	if room.IsMuted(sender.ID, time.Now()) {
		return nil, domain.ErrMuted
	}
	if err := s.checkRoomPolicy(ctx, room, msg); err != nil {
		return nil, err
	}
	msg.RoomID = room.ID

	if err := s.commitAndFanOut(ctx, sender, connID, room, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// EditMessage replaces the content of the sender's own message.
func (s *Service) EditMessage(ctx context.Context, sender *domain.User, ev *domain.EditMessageEvent) (*domain.Message, error) {
	msg, err := s.getMessage(ctx, ev.MessageID)
	if err != nil {
		return nil, err
	}
	if msg.SenderID != sender.ID {
		return nil, domain.ErrNotAuthor
	}
	if msg.Deleted {
		return nil, domain.ErrMessageNotFound
	}
	room, _, err := s.rooms.RequireMember(ctx, msg.RoomID, sender.ID)
	if err != nil {
		return nil, err
	}

	content := strings.TrimSpace(ev.Content)
	if content == "" && len(msg.Attachments) == 0 {
		return nil, domain.ErrEmptyMessage
	}
	if len(content) > maxLength(room) {
		return nil, domain.ErrMessageTooLong
	}

	now := time.Now()
	if err := s.messages.UpdateContent(ctx, msg.ID, content, now); err != nil {
		if errors.Is(err, store.ErrMessageNotFound) {
			return nil, domain.ErrMessageNotFound
		}
		return nil, &domain.PersistenceError{Op: "edit message", Err: err}
	}
	msg.Content = content
	msg.Edited = true
	msg.EditedAt = &now

	s.broadcastToRoom(ctx, room.ID, "", domain.EventMessageEdited,
		&domain.MessageEditedEvent{Type: domain.EventMessageEdited, Message: msg})
	return msg, nil
}

// DeleteMessage tombstones a message. The author may always delete
// their own; a room admin may delete anyone's. Attachment blobs are
// reclaimed best-effort once the tombstone is durable.
func (s *Service) DeleteMessage(ctx context.Context, sender *domain.User, ev *domain.DeleteMessageEvent) error {
	msg, err := s.getMessage(ctx, ev.MessageID)
	if err != nil {
		return err
	}
	room, membership, err := s.rooms.RequireMember(ctx, msg.RoomID, sender.ID)
	if err != nil {
		return err
	}
	if msg.SenderID != sender.ID && membership.Role != domain.RoomRoleAdmin && sender.Role != domain.RoleAdmin {
		return domain.ErrAccessDenied
	}

	if err := s.messages.Tombstone(ctx, msg.ID, time.Now()); err != nil {
		if errors.Is(err, store.ErrMessageNotFound) {
			return domain.ErrMessageNotFound
		}
		return &domain.PersistenceError{Op: "delete message", Err: err}
	}

	if s.blobs != nil {
		for _, att := range msg.Attachments {
			if att.Key == "" {
				continue
			}
			if err := s.blobs.Delete(ctx, att.Key); err != nil {
				log.Ctx(ctx).Warn().Err(err).Str("attachment_key", att.Key).Msg("failed to reclaim attachment blob")
			}
		}
	}

	s.broadcastToRoom(ctx, room.ID, "", domain.EventMessageDeleted,
		&domain.MessageDeletedEvent{Type: domain.EventMessageDeleted, RoomID: room.ID, MessageID: msg.ID})
	return nil
}

// MarkAsRead advances the listed messages to read and tells their
// rooms. The room is derived from each message rather than trusted off
// the wire, and the reader must be a member of every room touched.
// Already-read messages are skipped by the store, so repeat receipts
// cannot regress or re-announce. Unknown ids are ignored.
func (s *Service) MarkAsRead(ctx context.Context, reader *domain.User, ev *domain.MarkAsReadEvent) error {
	byRoom := make(map[string][]string)
	for _, id := range ev.AllIDs() {
		msg, err := s.getMessage(ctx, id)
		if err != nil {
			if errors.Is(err, domain.ErrMessageNotFound) {
				continue
			}
			return err
		}
		byRoom[msg.RoomID] = append(byRoom[msg.RoomID], msg.ID)
	}

	now := time.Now()
	for roomID, ids := range byRoom {
		room, _, err := s.rooms.RequireMember(ctx, roomID, reader.ID)
		if err != nil {
			return err
		}
		if err := s.messages.AdvanceStatus(ctx, room.ID, ids, domain.StatusRead); err != nil {
			return &domain.PersistenceError{Op: "mark as read", Err: err}
		}

		s.broadcastToRoom(ctx, room.ID, "", domain.EventMessageRead, &domain.MessageReadEvent{
			Type:       domain.EventMessageRead,
			RoomID:     room.ID,
			ReaderID:   reader.ID,
			MessageIDs: ids,
			ReadAt:     now,
		})
	}
	return nil
}

// AddReaction records the reaction. A duplicate succeeds silently with
// no second broadcast.
func (s *Service) AddReaction(ctx context.Context, sender *domain.User, ev *domain.ReactionEvent) error {
	msg, err := s.getMessage(ctx, ev.MessageID)
	if err != nil {
		return err
	}
	room, _, err := s.rooms.RequireMember(ctx, msg.RoomID, sender.ID)
	if err != nil {
		return err
	}
	if strings.TrimSpace(ev.Emoji) == "" {
		return domain.ErrEmptyMessage
	}
	if err := s.checkLimit(ctx, sender.ID, ratelimit.CategoryReaction); err != nil {
		return err
	}

	reaction := &domain.Reaction{MessageID: msg.ID, UserID: sender.ID, Emoji: ev.Emoji}
	created, err := s.messages.AddReaction(ctx, reaction)
	if err != nil {
		return &domain.PersistenceError{Op: "add reaction", Err: err}
	}
	if !created {
		return nil
	}

	s.broadcastToRoom(ctx, room.ID, "", domain.EventReactionAdded,
		&domain.ReactionAddedEvent{Type: domain.EventReactionAdded, RoomID: room.ID, Reaction: reaction})
	return nil
}

// RemoveReaction deletes the user's reaction. Removing one that is not
// there succeeds silently.
func (s *Service) RemoveReaction(ctx context.Context, sender *domain.User, ev *domain.ReactionEvent) error {
	msg, err := s.getMessage(ctx, ev.MessageID)
	if err != nil {
		return err
	}
	room, _, err := s.rooms.RequireMember(ctx, msg.RoomID, sender.ID)
	if err != nil {
		return err
	}

	removed, err := s.messages.RemoveReaction(ctx, msg.ID, sender.ID, ev.Emoji)
	if err != nil {
		return &domain.PersistenceError{Op: "remove reaction", Err: err}
	}
	if !removed {
		return nil
	}

	s.broadcastToRoom(ctx, room.ID, "", domain.EventReactionRemoved, &domain.ReactionRemovedEvent{
		Type:      domain.EventReactionRemoved,
		RoomID:    room.ID,
		MessageID: msg.ID,
		UserID:    sender.ID,
		Emoji:     ev.Emoji,
	})
	return nil
}

// History returns a page of the room's timeline for a member.
func (s *Service) History(ctx context.Context, requester *domain.User, ev *domain.HistoryRequestEvent) (*domain.MessageHistoryEvent, error) {
	if _, _, err := s.rooms.RequireMember(ctx, ev.RoomID, requester.ID); err != nil {
		return nil, err
	}

	limit := ev.Limit
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	messages, hasMore, err := s.messages.History(ctx, ev.RoomID, ev.Before, limit)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "load history", Err: err}
	}
	for i := range messages {
		s.resolveAttachmentURLs(ctx, &messages[i])
	}

	return &domain.MessageHistoryEvent{
		Type:     domain.EventMessageHistory,
		RoomID:   ev.RoomID,
		Messages: messages,
		HasMore:  hasMore,
	}, nil
}

func (s *Service) commitAndFanOut(ctx context.Context, sender *domain.User, connID string, room *domain.Room, msg *domain.Message) error {
	if err := s.messages.CreateMessage(ctx, msg); err != nil {
		return &domain.PersistenceError{Op: "store message", Err: err}
	}
	s.resolveAttachmentURLs(ctx, msg)

	memberIDs, err := s.rooms.MemberIDs(ctx, room.ID)
	if err != nil {
		// The message is durable; delivery will catch up via history.
		log.Ctx(ctx).Error().Err(err).Str(log.FieldRoomID, room.ID).Msg("failed to resolve audience after persist")
		return nil
	}

	ev := &domain.NewMessageEvent{Type: domain.EventNewMessage, Message: msg}
	if err := s.fanout.ToRoom(ctx, room.ID, memberIDs, "", domain.EventNewMessage, ev); err != nil {
		log.Ctx(ctx).Error().Err(err).Str(log.FieldMessageID, msg.ID).Msg("fan-out failed")
	}

	s.rooms.TouchActivity(ctx, room.ID)
	s.notifyOffline(ctx, sender, room, msg, memberIDs)

	log.Ctx(ctx).Debug().
		Str(log.FieldMessageID, msg.ID).
		Str(log.FieldRoomID, room.ID).
		Str(log.FieldUserID, sender.ID).
		Msg("message delivered")
	return nil
}

// notifyOffline hands offline members to the push channel. Best-effort:
// failures are logged and the send already succeeded.
func (s *Service) notifyOffline(ctx context.Context, sender *domain.User, room *domain.Room, msg *domain.Message, memberIDs []string) {
	if s.presence == nil {
		return
	}

	others := make([]string, 0, len(memberIDs))
	for _, id := range memberIDs {
		if id != sender.ID {
			others = append(others, id)
		}
	}
	if len(others) == 0 {
		return
	}

	online, err := s.presence.OnlineAmong(ctx, others)
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Str(log.FieldRoomID, room.ID).Msg("failed to check presence for push")
		return
	}
	onlineSet := make(map[string]bool, len(online))
	for _, id := range online {
		onlineSet[id] = true
	}

	for _, userID := range others {
		if onlineSet[userID] {
			continue
		}
		n := &push.Notification{
			UserID:     userID,
			RoomID:     room.ID,
			MessageID:  msg.ID,
			SenderID:   sender.ID,
			SenderName: sender.DisplayName,
			Preview:    preview(msg),
		}
		if err := s.notifier.Notify(ctx, n); err != nil {
			log.Ctx(ctx).Warn().Err(err).Str(log.FieldUserID, userID).Msg("push notification failed")
		}
	}
}

const previewLength = 120

// preview is the excerpt shown in a push notification.
func preview(msg *domain.Message) string {
	if msg.Content == "" && len(msg.Attachments) > 0 {
		return "sent an attachment"
	}
	runes := []rune(msg.Content)
	if len(runes) > previewLength {
		return string(runes[:previewLength]) + "…"
	}
	return msg.Content
}

func (s *Service) getMessage(ctx context.Context, id string) (*domain.Message, error) {
	if id == "" {
		return nil, domain.ErrMessageNotFound
	}
	msg, err := s.messages.GetMessage(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrMessageNotFound) {
			return nil, domain.ErrMessageNotFound
		}
		return nil, &domain.PersistenceError{Op: "get message", Err: err}
	}
	return msg, nil
}

func (s *Service) checkLimit(ctx context.Context, userID string, category ratelimit.Category) error {
	res, err := s.limiter.Allow(ctx, userID, category)
	if err != nil {
		// A broken limiter backend must not take messaging down.
		log.Ctx(ctx).Error().Err(err).Str(log.FieldCategory, string(category)).Msg("rate limiter unavailable, admitting")
		return nil
	}
	if !res.Allowed {
		return &domain.RateLimitError{Category: string(category), RetryAfter: res.RetryAfter}
	}
	return nil
}

func (s *Service) broadcastToRoom(ctx context.Context, roomID, excludeConn, eventType string, event interface{}) {
	memberIDs, err := s.rooms.MemberIDs(ctx, roomID)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Str(log.FieldRoomID, roomID).Msg("failed to resolve audience")
		return
	}
	if err := s.fanout.ToRoom(ctx, roomID, memberIDs, excludeConn, eventType, event); err != nil {
		log.Ctx(ctx).Error().Err(err).Str(log.FieldRoomID, roomID).Msg("fan-out failed")
	}
}

func (s *Service) resolveAttachmentURLs(ctx context.Context, msg *domain.Message) {
	if s.blobs == nil {
		return
	}
	for i := range msg.Attachments {
		att := &msg.Attachments[i]
		if att.URL != "" || att.Key == "" {
			continue
		}
		url, err := s.blobs.GetURL(ctx, att.Key, attachmentURLTTL)
		if err != nil {
			log.Ctx(ctx).Warn().Err(err).Str("attachment_key", att.Key).Msg("failed to resolve attachment url")
			continue
		}
		att.URL = url
	}
}

// validateMessage applies the rules that hold for every room: shape,
// emptiness, the global length cap, and attachment structure. Room-
// specific policy runs later, once membership is established.
func validateMessage(msg *domain.Message) error {
	if !msg.Type.Valid() {
		return domain.ErrEmptyMessage
	}
	// System traffic is minted by the server, never accepted off the wire.
	if msg.Type == domain.MessageTypeSystem {
		return domain.ErrAccessDenied
	}

	msg.Content = strings.TrimSpace(msg.Content)
	if msg.Content == "" && len(msg.Attachments) == 0 {
		return domain.ErrEmptyMessage
	}
	if len(msg.Content) > domain.MaxMessageLength {
		return domain.ErrMessageTooLong
	}

	if len(msg.Attachments) > 0 {
		if len(msg.Attachments) > domain.MaxAttachmentsPerMessage {
			return domain.ErrInvalidAttachment
		}
		for _, att := range msg.Attachments {
			limit, ok := domain.AttachmentSizeLimit(att.MIMEType)
			if !ok {
				return domain.ErrInvalidAttachment
			}
			if att.SizeBytes <= 0 || att.SizeBytes > limit {
				return domain.ErrInvalidAttachment
			}
			if att.Key == "" {
				return domain.ErrInvalidAttachment
			}
		}
	}
	return nil
}

// checkRoomPolicy applies the room's own rules: a tighter length cap,
// whether files are allowed, and that every referenced blob was in
// fact uploaded.
func (s *Service) checkRoomPolicy(ctx context.Context, room *domain.Room, msg *domain.Message) error {
	if len(msg.Content) > maxLength(room) {
		return domain.ErrMessageTooLong
	}
	if len(msg.Attachments) == 0 {
		return nil
	}
	if !room.Settings.FilesAllowed {
		return domain.ErrInvalidAttachment
	}
	if s.blobs == nil {
		return nil
	}
	for _, att := range msg.Attachments {
		if _, err := s.blobs.Stat(ctx, att.Key); err != nil {
			return domain.ErrInvalidAttachment
		}
	}
	return nil
}

func maxLength(room *domain.Room) int {
	if room.Settings.MaxMessageLength > 0 && room.Settings.MaxMessageLength < domain.MaxMessageLength {
		return room.Settings.MaxMessageLength
	}
	return domain.MaxMessageLength
}
