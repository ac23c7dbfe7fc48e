// Package hub tracks live WebSocket connections on this node, keyed by
// user so fan-out addresses people, not sockets. A user is online while
// at least one connection remains.
package hub

import (
	"sync"
	"time"

	"github.com/Shockvaluemedia/directfanz-messaging/pkg/log"
)

// PresenceListener is told when a user's first connection arrives and
// when their last connection goes. Called outside the hub's locks.
type PresenceListener interface {
	UserOnline(userID string)
	UserOffline(userID string, lastSeen time.Time)
}

// UserMessage is one frame addressed to a set of users, or to every
// connection on the node when All is set.
type UserMessage struct {
	UserIDs []string
	All     bool
	Message []byte
	// ExcludeConn suppresses delivery to one connection, typically
	// the sender's own device.
	ExcludeConn string
}

type Hub struct {
	clients    map[string]*Client            // connectionID -> client
	byUser     map[string]map[string]*Client // userID -> connectionID -> client
	register   chan *Client
	unregister chan *Client
	broadcast  chan *UserMessage
	quit       chan struct{}
	once       sync.Once
	mu         sync.RWMutex
	listener   PresenceListener
}

func NewHub(listener PresenceListener) *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		byUser:     make(map[string]map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *UserMessage, 256),
		quit:       make(chan struct{}),
		listener:   listener,
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.addClient(client)

		case client := <-h.unregister:
			h.dropClient(client)

		case msg := <-h.broadcast:
			h.deliver(msg)

		case <-h.quit:
			h.closeAll()
			return
		}
	}
}

// SetListener installs the presence listener. Call before Run; the
// tracker needs the hub for local delivery, so it is built second.
func (h *Hub) SetListener(l PresenceListener) {
	h.mu.Lock()
	h.listener = l
	h.mu.Unlock()
}

// Stop shuts the hub down and closes every connection's send channel.
func (h *Hub) Stop() {
	h.once.Do(func() { close(h.quit) })
}

func (h *Hub) Register(client *Client) {
	h.register <- client
}

func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// SendToUsers queues data for every connection of every listed user
// currently on this node.
func (h *Hub) SendToUsers(userIDs []string, data []byte, excludeConn string) {
	if len(userIDs) == 0 {
		return
	}
	select {
	case h.broadcast <- &UserMessage{UserIDs: userIDs, Message: data, ExcludeConn: excludeConn}:
	case <-h.quit:
	}
}

// SendToUser queues data for every connection of one user.
func (h *Hub) SendToUser(userID string, data []byte) {
	h.SendToUsers([]string{userID}, data, "")
}

// SendToAll queues data for every connection on this node.
func (h *Hub) SendToAll(data []byte) {
	select {
	case h.broadcast <- &UserMessage{All: true, Message: data}:
	case <-h.quit:
	}
}

// IsOnline reports whether the user has a live connection on this node.
func (h *Hub) IsOnline(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byUser[userID]) > 0
}

// OnlineAmong filters ids down to the ones online on this node.
func (h *Hub) OnlineAmong(ids []string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	online := make([]string, 0, len(ids))
	for _, id := range ids {
		if len(h.byUser[id]) > 0 {
			online = append(online, id)
		}
	}
	return online
}

// OnlineUsers returns every user with a live connection on this node.
func (h *Hub) OnlineUsers() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	ids := make([]string, 0, len(h.byUser))
	for id := range h.byUser {
		ids = append(ids, id)
	}
	return ids
}

// ConnectionCount returns how many connections the user has here.
func (h *Hub) ConnectionCount(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byUser[userID])
}

func (h *Hub) addClient(client *Client) {
	h.mu.Lock()
	h.clients[client.ID] = client
	conns, existed := h.byUser[client.UserID]
	if !existed {
		conns = make(map[string]*Client)
		h.byUser[client.UserID] = conns
	}
	conns[client.ID] = client
	first := len(conns) == 1
	listener := h.listener
	h.mu.Unlock()

	log.L().Debug().
		Str(log.FieldConnectionID, client.ID).
		Str(log.FieldUserID, client.UserID).
		Msg("client registered")

	if first && listener != nil {
		listener.UserOnline(client.UserID)
	}
}

func (h *Hub) dropClient(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client.ID]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, client.ID)
	conns := h.byUser[client.UserID]
	delete(conns, client.ID)
	last := len(conns) == 0
	if last {
		delete(h.byUser, client.UserID)
	}
	client.closeSend()
	listener := h.listener
	h.mu.Unlock()

	log.L().Debug().
		Str(log.FieldConnectionID, client.ID).
		Str(log.FieldUserID, client.UserID).
		Msg("client unregistered")

	if last && listener != nil {
		listener.UserOffline(client.UserID, time.Now())
	}
}

func (h *Hub) deliver(msg *UserMessage) {
	h.mu.RLock()
	var slow []*Client
	targets := func(connID string, client *Client) {
		if connID == msg.ExcludeConn {
			return
		}
		if !client.trySend(msg.Message) {
			slow = append(slow, client)
		}
	}
	if msg.All {
		for connID, client := range h.clients {
			targets(connID, client)
		}
	} else {
		for _, userID := range msg.UserIDs {
			for connID, client := range h.byUser[userID] {
				targets(connID, client)
			}
		}
	}
	h.mu.RUnlock()

	// A connection that cannot keep up is cut loose rather than
	// allowed to stall everyone else's delivery.
	for _, client := range slow {
		log.L().Warn().
			Str(log.FieldConnectionID, client.ID).
			Str(log.FieldUserID, client.UserID).
			Msg("dropping slow client")
		h.dropClient(client)
		if client.Conn != nil {
			client.Conn.Close()
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, client := range h.clients {
		client.closeSend()
		if client.Conn != nil {
			client.Conn.Close()
		}
	}
	h.clients = make(map[string]*Client)
	h.byUser = make(map[string]map[string]*Client)
}
