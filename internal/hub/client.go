package hub

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Shockvaluemedia/directfanz-messaging/internal/config"
	"github.com/Shockvaluemedia/directfanz-messaging/internal/domain"
	"github.com/Shockvaluemedia/directfanz-messaging/pkg/log"
)

// Client is one live WebSocket connection. A user with several devices
// has several clients sharing the same UserID.
type Client struct {
	ID     string
	UserID string
	User   *domain.User
	Hub    *Hub
	Conn   *websocket.Conn
	Send   chan []byte
	config config.WebSocketConfig

	// mu guards closed so queueing never races channel closure.
	mu     sync.Mutex
	closed bool
}

func NewClient(id string, user *domain.User, hub *Hub, conn *websocket.Conn, cfg config.WebSocketConfig) *Client {
	buffer := cfg.SendBuffer
	if buffer <= 0 {
		buffer = 256
	}
	return &Client{
		ID:     id,
		UserID: user.ID,
		User:   user,
		Hub:    hub,
		Conn:   conn,
		Send:   make(chan []byte, buffer),
		config: cfg,
	}
}

// ReadPump reads frames off the socket and hands them to handler. It
// owns the read side: deadlines, pong handling, and unregistration on
// exit.
func (c *Client) ReadPump(handler func(*Client, []byte)) {
	defer func() {
		c.Hub.Unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.config.PongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.config.PongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.L().Debug().Err(err).Str(log.FieldConnectionID, c.ID).Msg("websocket read error")
			}
			break
		}
		handler(c, message)
	}
}

// WritePump drains the send channel onto the socket and keeps the
// connection alive with pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(c.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.config.WriteWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.Conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.config.WriteWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// SendEvent queues the event for this connection. A full buffer drops
// the frame rather than blocking the caller; a closed connection
// absorbs it.
func (c *Client) SendEvent(event interface{}) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	if !c.trySend(data) {
		log.L().Warn().Str(log.FieldConnectionID, c.ID).Msg("send buffer full, dropping frame")
	}
	return nil
}

// trySend queues data, reporting false when the buffer is full. The
// closed check and the channel send share the mutex with closeSend, so
// a frame can never race the channel closing.
func (c *Client) trySend(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return true
	}
	select {
	case c.Send <- data:
		return true
	default:
		return false
	}
}

// closeSend closes the send channel exactly once. Only the hub calls
// this, when the client is dropped or the hub shuts down.
func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	close(c.Send)
}
