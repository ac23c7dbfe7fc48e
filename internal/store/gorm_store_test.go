package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/Shockvaluemedia/directfanz-messaging/internal/domain"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	// A single connection keeps every session on the same in-memory
	// database.
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("unwrap db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(Models()...); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func newTestRoom(kind domain.RoomKind, creatorID string) *domain.Room {
	return &domain.Room{
		Name:      "test room",
		Kind:      kind,
		CreatorID: creatorID,
		Settings:  domain.DefaultRoomSettings(kind),
	}
}

func adminMembership(userID string) *domain.Membership {
	return &domain.Membership{UserID: userID, Role: domain.RoomRoleAdmin}
}

func TestRoomStoreCreateAndGet(t *testing.T) {
	ctx := context.Background()
	s := NewGormRoomStore(testDB(t))

	room := newTestRoom(domain.RoomKindGroup, "artist-1")
	room.Settings.MaxMessageLength = 500
	if err := s.CreateRoom(ctx, room, adminMembership("artist-1")); err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	if room.ID == "" {
		t.Fatal("expected generated room id")
	}

	got, err := s.GetRoom(ctx, room.ID)
	if err != nil {
		t.Fatalf("GetRoom: %v", err)
	}
	if got.Kind != domain.RoomKindGroup {
		t.Errorf("kind = %q, want %q", got.Kind, domain.RoomKindGroup)
	}
	if got.Settings.MaxMessageLength != 500 {
		t.Errorf("settings did not round-trip: max length = %d", got.Settings.MaxMessageLength)
	}

	// Creator is an active admin member.
	m, err := s.GetMembership(ctx, room.ID, "artist-1")
	if err != nil {
		t.Fatalf("GetMembership: %v", err)
	}
	if m.Role != domain.RoomRoleAdmin {
		t.Errorf("creator role = %q, want admin", m.Role)
	}

	if _, err := s.GetRoom(ctx, "nope"); !errors.Is(err, ErrRoomNotFound) {
		t.Errorf("GetRoom(miss) = %v, want ErrRoomNotFound", err)
	}
}

func TestRoomStoreDirectKeyUnique(t *testing.T) {
	ctx := context.Background()
	s := NewGormRoomStore(testDB(t))

	key := domain.DirectRoomKey("fan-1", "artist-1")

	first := newTestRoom(domain.RoomKindDirect, "fan-1")
	first.DirectKey = key
	if err := s.CreateRoom(ctx, first, adminMembership("fan-1")); err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}

	second := newTestRoom(domain.RoomKindDirect, "artist-1")
	second.DirectKey = key
	err := s.CreateRoom(ctx, second, adminMembership("artist-1"))
	if !errors.Is(err, ErrDuplicateDirectRoom) {
		t.Fatalf("duplicate direct room err = %v, want ErrDuplicateDirectRoom", err)
	}

	got, err := s.GetRoomByDirectKey(ctx, key)
	if err != nil {
		t.Fatalf("GetRoomByDirectKey: %v", err)
	}
	if got.ID != first.ID {
		t.Errorf("direct key resolves to %q, want %q", got.ID, first.ID)
	}
}

func TestRoomStoreCreateDirectRoomBothMembers(t *testing.T) {
	ctx := context.Background()
	s := NewGormRoomStore(testDB(t))

	key := domain.DirectRoomKey("fan-1", "artist-1")
	room := newTestRoom(domain.RoomKindDirect, "fan-1")
	room.DirectKey = key
	creator := &domain.Membership{UserID: "fan-1", Role: domain.RoomRoleMember}
	peer := &domain.Membership{UserID: "artist-1", Role: domain.RoomRoleMember}
	if err := s.CreateDirectRoom(ctx, room, creator, peer); err != nil {
		t.Fatalf("CreateDirectRoom: %v", err)
	}

	// Both participants are active members from the moment the room exists.
	for _, userID := range []string{"fan-1", "artist-1"} {
		if _, err := s.GetMembership(ctx, room.ID, userID); err != nil {
			t.Errorf("GetMembership(%s): %v", userID, err)
		}
	}

	again := newTestRoom(domain.RoomKindDirect, "artist-1")
	again.DirectKey = key
	err := s.CreateDirectRoom(ctx, again,
		&domain.Membership{UserID: "artist-1", Role: domain.RoomRoleMember},
		&domain.Membership{UserID: "fan-1", Role: domain.RoomRoleMember})
	if !errors.Is(err, ErrDuplicateDirectRoom) {
		t.Fatalf("duplicate err = %v, want ErrDuplicateDirectRoom", err)
	}
}

func TestRoomStoreMembershipLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewGormRoomStore(testDB(t))

	room := newTestRoom(domain.RoomKindCommunity, "artist-1")
	if err := s.CreateRoom(ctx, room, adminMembership("artist-1")); err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}

	// Join twice; second is a no-op, not an error.
	for i := 0; i < 2; i++ {
		err := s.AddMember(ctx, &domain.Membership{RoomID: room.ID, UserID: "fan-1", Role: domain.RoomRoleMember})
		if err != nil {
			t.Fatalf("AddMember #%d: %v", i+1, err)
		}
	}

	count, err := s.ActiveMemberCount(ctx, room.ID)
	if err != nil {
		t.Fatalf("ActiveMemberCount: %v", err)
	}
	if count != 2 {
		t.Fatalf("active members = %d, want 2", count)
	}

	if err := s.RemoveMember(ctx, room.ID, "fan-1", time.Now()); err != nil {
		t.Fatalf("RemoveMember: %v", err)
	}
	if _, err := s.GetMembership(ctx, room.ID, "fan-1"); !errors.Is(err, ErrMembershipNotFound) {
		t.Fatalf("membership after leave = %v, want ErrMembershipNotFound", err)
	}

	// Removing a non-member is a no-op.
	if err := s.RemoveMember(ctx, room.ID, "stranger", time.Now()); err != nil {
		t.Fatalf("RemoveMember(non-member): %v", err)
	}

	// Rejoin revives the same row.
	err = s.AddMember(ctx, &domain.Membership{RoomID: room.ID, UserID: "fan-1", Role: domain.RoomRoleMember})
	if err != nil {
		t.Fatalf("rejoin: %v", err)
	}
	ids, err := s.MemberIDs(ctx, room.ID)
	if err != nil {
		t.Fatalf("MemberIDs: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("member ids after rejoin = %v, want 2 entries", ids)
	}

	rooms, err := s.RoomsForUser(ctx, "fan-1")
	if err != nil {
		t.Fatalf("RoomsForUser: %v", err)
	}
	if len(rooms) != 1 || rooms[0].ID != room.ID {
		t.Errorf("RoomsForUser = %v, want the one joined room", rooms)
	}
}

func TestMessageStoreHistoryPagination(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)
	rs := NewGormRoomStore(db)
	ms := NewGormMessageStore(db)

	room := newTestRoom(domain.RoomKindGroup, "artist-1")
	if err := rs.CreateRoom(ctx, room, adminMembership("artist-1")); err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		msg := &domain.Message{
			RoomID:    room.ID,
			SenderID:  "artist-1",
			Type:      domain.MessageTypeText,
			Content:   "hello",
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := ms.CreateMessage(ctx, msg); err != nil {
			t.Fatalf("CreateMessage #%d: %v", i, err)
		}
	}

	page, hasMore, err := ms.History(ctx, room.ID, nil, 3)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(page) != 3 || !hasMore {
		t.Fatalf("first page = %d messages, hasMore=%v; want 3, true", len(page), hasMore)
	}
	if page[0].CreatedAt.Before(page[1].CreatedAt) {
		t.Error("history not newest first")
	}

	oldest := page[len(page)-1].CreatedAt
	rest, hasMore, err := ms.History(ctx, room.ID, &oldest, 3)
	if err != nil {
		t.Fatalf("History(before): %v", err)
	}
	if len(rest) != 2 || hasMore {
		t.Fatalf("second page = %d messages, hasMore=%v; want 2, false", len(rest), hasMore)
	}
}

func TestMessageStoreEditAndTombstone(t *testing.T) {
	ctx := context.Background()
	ms := NewGormMessageStore(testDB(t))

	msg := &domain.Message{
		RoomID:   "room-1",
		SenderID: "fan-1",
		Type:     domain.MessageTypeText,
		Content:  "first draft",
		Attachments: []domain.Attachment{
			{ID: "att-1", Name: "pic.png", Key: "uploads/pic.png", MIMEType: "image/png", SizeBytes: 1024},
		},
	}
	if err := ms.CreateMessage(ctx, msg); err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}

	if err := ms.UpdateContent(ctx, msg.ID, "second draft", time.Now()); err != nil {
		t.Fatalf("UpdateContent: %v", err)
	}
	got, err := ms.GetMessage(ctx, msg.ID)
	if err != nil {
		t.Fatalf("GetMessage: %v", err)
	}
	if got.Content != "second draft" || !got.Edited || got.EditedAt == nil {
		t.Errorf("after edit: content=%q edited=%v editedAt=%v", got.Content, got.Edited, got.EditedAt)
	}
	if len(got.Attachments) != 1 {
		t.Fatalf("attachments did not round-trip: %v", got.Attachments)
	}

	if err := ms.Tombstone(ctx, msg.ID, time.Now()); err != nil {
		t.Fatalf("Tombstone: %v", err)
	}
	got, err = ms.GetMessage(ctx, msg.ID)
	if err != nil {
		t.Fatalf("GetMessage after tombstone: %v", err)
	}
	if !got.Deleted || got.Content != "" || len(got.Attachments) != 0 {
		t.Errorf("tombstone left content behind: %+v", got)
	}

	// Editing a tombstoned message is refused.
	if err := ms.UpdateContent(ctx, msg.ID, "necromancy", time.Now()); !errors.Is(err, ErrMessageNotFound) {
		t.Errorf("edit after tombstone = %v, want ErrMessageNotFound", err)
	}
}

func TestMessageStoreAdvanceStatusMonotonic(t *testing.T) {
	ctx := context.Background()
	ms := NewGormMessageStore(testDB(t))

	msg := &domain.Message{RoomID: "room-1", SenderID: "fan-1", Type: domain.MessageTypeText, Content: "hi"}
	if err := ms.CreateMessage(ctx, msg); err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}

	if err := ms.AdvanceStatus(ctx, "room-1", []string{msg.ID}, domain.StatusRead); err != nil {
		t.Fatalf("AdvanceStatus(read): %v", err)
	}
	got, _ := ms.GetMessage(ctx, msg.ID)
	if got.Status != domain.StatusRead {
		t.Fatalf("status = %q, want read", got.Status)
	}

	// A later delivered receipt must not move read back down.
	if err := ms.AdvanceStatus(ctx, "room-1", []string{msg.ID}, domain.StatusDelivered); err != nil {
		t.Fatalf("AdvanceStatus(delivered): %v", err)
	}
	got, _ = ms.GetMessage(ctx, msg.ID)
	if got.Status != domain.StatusRead {
		t.Errorf("status regressed to %q", got.Status)
	}
}

func TestMessageStoreAdvanceStatusScopedToRoom(t *testing.T) {
	ctx := context.Background()
	ms := NewGormMessageStore(testDB(t))

	mine := &domain.Message{RoomID: "room-1", SenderID: "fan-1", Type: domain.MessageTypeText, Content: "mine"}
	foreign := &domain.Message{RoomID: "room-2", SenderID: "fan-2", Type: domain.MessageTypeText, Content: "foreign"}
	for _, m := range []*domain.Message{mine, foreign} {
		if err := ms.CreateMessage(ctx, m); err != nil {
			t.Fatalf("CreateMessage: %v", err)
		}
	}

	// Passing another room's message id must not advance it.
	if err := ms.AdvanceStatus(ctx, "room-1", []string{mine.ID, foreign.ID}, domain.StatusRead); err != nil {
		t.Fatalf("AdvanceStatus: %v", err)
	}
	got, _ := ms.GetMessage(ctx, mine.ID)
	if got.Status != domain.StatusRead {
		t.Errorf("in-room message status = %q, want read", got.Status)
	}
	got, _ = ms.GetMessage(ctx, foreign.ID)
	if got.Status != domain.StatusSent {
		t.Errorf("foreign room message advanced to %q", got.Status)
	}
}

func TestMessageStoreReactions(t *testing.T) {
	ctx := context.Background()
	ms := NewGormMessageStore(testDB(t))

	msg := &domain.Message{RoomID: "room-1", SenderID: "fan-1", Type: domain.MessageTypeText, Content: "hi"}
	if err := ms.CreateMessage(ctx, msg); err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}

	r := &domain.Reaction{MessageID: msg.ID, UserID: "fan-2", Emoji: "🔥"}
	created, err := ms.AddReaction(ctx, r)
	if err != nil || !created {
		t.Fatalf("AddReaction = (%v, %v), want (true, nil)", created, err)
	}

	// Same triple again is absorbed.
	created, err = ms.AddReaction(ctx, &domain.Reaction{MessageID: msg.ID, UserID: "fan-2", Emoji: "🔥"})
	if err != nil || created {
		t.Fatalf("duplicate AddReaction = (%v, %v), want (false, nil)", created, err)
	}

	// Same user, different emoji is a new reaction.
	created, err = ms.AddReaction(ctx, &domain.Reaction{MessageID: msg.ID, UserID: "fan-2", Emoji: "❤️"})
	if err != nil || !created {
		t.Fatalf("second emoji AddReaction = (%v, %v), want (true, nil)", created, err)
	}

	all, err := ms.Reactions(ctx, msg.ID)
	if err != nil {
		t.Fatalf("Reactions: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("reactions = %d, want 2", len(all))
	}

	removed, err := ms.RemoveReaction(ctx, msg.ID, "fan-2", "🔥")
	if err != nil || !removed {
		t.Fatalf("RemoveReaction = (%v, %v), want (true, nil)", removed, err)
	}
	removed, err = ms.RemoveReaction(ctx, msg.ID, "fan-2", "🔥")
	if err != nil || removed {
		t.Fatalf("repeat RemoveReaction = (%v, %v), want (false, nil)", removed, err)
	}
}
