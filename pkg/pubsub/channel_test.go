package pubsub

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

func recvEvent(t *testing.T, ch <-chan *Event) *Event {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestChannelBridgeExactSubscribe(t *testing.T) {
	b := NewChannelBridge()
	defer b.Close()

	ctx := context.Background()
	ch, err := b.Subscribe(ctx, RoomChannel("r1"))
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	ev := NewEvent("new_message", "node-a", json.RawMessage(`{"content":"hello"}`))
	ev.RoomID = "r1"

	if err := b.Publish(ctx, RoomChannel("r1"), ev); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	got := recvEvent(t, ch)
	if got.Type != "new_message" || got.RoomID != "r1" || got.Origin != "node-a" {
		t.Errorf("unexpected event: %+v", got)
	}

	var payload map[string]string
	if err := json.Unmarshal(got.Payload, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload["content"] != "hello" {
		t.Errorf("payload content = %q, want hello", payload["content"])
	}
	if got.Timestamp.IsZero() {
		t.Error("published event missing timestamp")
	}
}

func TestChannelBridgePatternSubscribe(t *testing.T) {
	b := NewChannelBridge()
	defer b.Close()

	ctx := context.Background()
	ch, err := b.SubscribePattern(ctx, PatternRooms)
	if err != nil {
		t.Fatalf("SubscribePattern: %v", err)
	}

	ev := NewEvent("typing_start", "node-a", nil)
	if err := b.Publish(ctx, RoomChannel("any-room"), ev); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	got := recvEvent(t, ch)
	if got.Type != "typing_start" {
		t.Errorf("event type = %q, want typing_start", got.Type)
	}

	// User-channel traffic must not match the room pattern.
	ev2 := NewEvent("new_message", "node-a", nil)
	if err := b.Publish(ctx, UserChannel("u1"), ev2); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	select {
	case e := <-ch:
		t.Errorf("room pattern received user-channel event: %+v", e)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestChannelBridgePublishAfterCloseIsNoop(t *testing.T) {
	b := NewChannelBridge()
	ctx := context.Background()

	if _, err := b.Subscribe(ctx, ChannelPlatform); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	ev := NewEvent("user_presence", "node-a", nil)
	if err := b.Publish(ctx, ChannelPlatform, ev); err != nil {
		t.Errorf("Publish after close returned error: %v", err)
	}
}
