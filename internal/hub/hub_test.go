package hub

import (
	"sync"
	"testing"
	"time"

	"github.com/Shockvaluemedia/directfanz-messaging/internal/domain"
)

type recordingListener struct {
	mu      sync.Mutex
	online  []string
	offline []string
}

func (r *recordingListener) UserOnline(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.online = append(r.online, userID)
}

func (r *recordingListener) UserOffline(userID string, _ time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.offline = append(r.offline, userID)
}

func newTestClient(connID, userID string, buffer int) *Client {
	return &Client{
		ID:     connID,
		UserID: userID,
		User:   &domain.User{ID: userID},
		Send:   make(chan []byte, buffer),
	}
}

func TestHubPresenceTransitions(t *testing.T) {
	listener := &recordingListener{}
	h := NewHub(listener)

	phone := newTestClient("conn-1", "user-1", 8)
	laptop := newTestClient("conn-2", "user-1", 8)

	// First device brings the user online; the second does not repeat it.
	h.addClient(phone)
	h.addClient(laptop)
	if got := len(listener.online); got != 1 {
		t.Fatalf("online notifications = %d, want 1", got)
	}
	if !h.IsOnline("user-1") || h.ConnectionCount("user-1") != 2 {
		t.Fatalf("user-1 should be online with 2 connections")
	}

	// Dropping one device keeps the user online.
	h.dropClient(phone)
	if len(listener.offline) != 0 {
		t.Fatalf("offline fired while a connection remained")
	}
	if !h.IsOnline("user-1") {
		t.Fatal("user went offline with a live connection")
	}

	// Last device going away fires exactly one offline.
	h.dropClient(laptop)
	if len(listener.offline) != 1 || listener.offline[0] != "user-1" {
		t.Fatalf("offline notifications = %v, want [user-1]", listener.offline)
	}
	if h.IsOnline("user-1") {
		t.Fatal("user still online after last connection dropped")
	}

	// Unregistering an unknown client is a no-op.
	h.dropClient(phone)
	if len(listener.offline) != 1 {
		t.Fatalf("duplicate drop fired another offline: %v", listener.offline)
	}
}

func TestHubDeliverExcludesConnection(t *testing.T) {
	h := NewHub(nil)

	sender := newTestClient("conn-1", "user-1", 8)
	other := newTestClient("conn-2", "user-1", 8)
	friend := newTestClient("conn-3", "user-2", 8)
	stranger := newTestClient("conn-4", "user-3", 8)
	for _, c := range []*Client{sender, other, friend, stranger} {
		h.addClient(c)
	}

	h.deliver(&UserMessage{
		UserIDs:     []string{"user-1", "user-2"},
		Message:     []byte(`{"type":"new_message"}`),
		ExcludeConn: "conn-1",
	})

	if len(sender.Send) != 0 {
		t.Error("excluded connection received the frame")
	}
	if len(other.Send) != 1 {
		t.Error("sender's other device missed the frame")
	}
	if len(friend.Send) != 1 {
		t.Error("addressed user missed the frame")
	}
	if len(stranger.Send) != 0 {
		t.Error("unaddressed user received the frame")
	}
}

func TestHubDropsSlowClient(t *testing.T) {
	h := NewHub(nil)

	slow := newTestClient("conn-1", "user-1", 1)
	h.addClient(slow)
	slow.Send <- []byte("backlog") // fill the buffer

	h.deliver(&UserMessage{UserIDs: []string{"user-1"}, Message: []byte("next")})

	if h.IsOnline("user-1") {
		t.Fatal("slow client was not dropped")
	}
	// The channel is closed once the client is dropped.
	if _, ok := <-slow.Send; !ok {
		t.Fatal("buffered frame lost on drop")
	}
	if _, ok := <-slow.Send; ok {
		t.Fatal("send channel left open after drop")
	}
}

func TestHubSendEventAfterDropDoesNotPanic(t *testing.T) {
	h := NewHub(nil)

	slow := newTestClient("conn-1", "user-1", 1)
	h.addClient(slow)
	slow.Send <- []byte("backlog")

	// Delivery to a full buffer drops the client and closes its channel.
	h.deliver(&UserMessage{UserIDs: []string{"user-1"}, Message: []byte("next")})
	if h.IsOnline("user-1") {
		t.Fatal("slow client was not dropped")
	}

	// A gateway goroutine still holding the client may keep replying to
	// it; the frame must be absorbed, not panic on the closed channel.
	if err := slow.SendEvent(map[string]string{"type": "error"}); err != nil {
		t.Fatalf("SendEvent after drop: %v", err)
	}
	if !slow.trySend([]byte("late")) {
		t.Fatal("closed client reported as slow instead of absorbing")
	}

	// Re-dropping is still a no-op, including the channel close.
	h.dropClient(slow)
	slow.closeSend()
}

func TestHubOnlineAmong(t *testing.T) {
	h := NewHub(nil)
	h.addClient(newTestClient("conn-1", "user-1", 1))
	h.addClient(newTestClient("conn-2", "user-3", 1))

	got := h.OnlineAmong([]string{"user-1", "user-2", "user-3", "user-4"})
	if len(got) != 2 || got[0] != "user-1" || got[1] != "user-3" {
		t.Errorf("OnlineAmong = %v, want [user-1 user-3]", got)
	}
}
