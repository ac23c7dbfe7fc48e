// Package gateway is the WebSocket edge: it authenticates the
// handshake, decodes inbound frames, dispatches them to the messaging
// core, and feeds remote broadcast traffic back into local delivery.
package gateway

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Shockvaluemedia/directfanz-messaging/internal/config"
	"github.com/Shockvaluemedia/directfanz-messaging/internal/domain"
	"github.com/Shockvaluemedia/directfanz-messaging/internal/hub"
	"github.com/Shockvaluemedia/directfanz-messaging/internal/identity"
	"github.com/Shockvaluemedia/directfanz-messaging/internal/pipeline"
	"github.com/Shockvaluemedia/directfanz-messaging/internal/presence"
	"github.com/Shockvaluemedia/directfanz-messaging/internal/rooms"
	"github.com/Shockvaluemedia/directfanz-messaging/pkg/log"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WSHandler owns the connection lifecycle and inbound event dispatch.
type WSHandler struct {
	hub      *hub.Hub
	verifier identity.Verifier
	pipeline *pipeline.Service
	rooms    *rooms.Service
	tracker  *presence.Tracker
	presence presence.Store
	fanout   pipeline.Broadcaster
	wsCfg    config.WebSocketConfig
}

func NewWSHandler(h *hub.Hub, verifier identity.Verifier, pipe *pipeline.Service, roomSvc *rooms.Service, tracker *presence.Tracker, presenceStore presence.Store, fan pipeline.Broadcaster, wsCfg config.WebSocketConfig) *WSHandler {
	return &WSHandler{
		hub:      h,
		verifier: verifier,
		pipeline: pipe,
		rooms:    roomSvc,
		tracker:  tracker,
		presence: presenceStore,
		fanout:   fan,
		wsCfg:    wsCfg,
	}
}

// RegisterRoutes mounts the WebSocket endpoint.
func (h *WSHandler) RegisterRoutes(r *gin.Engine) {
	r.GET("/ws", h.HandleWebSocket)
}

// HandleWebSocket authenticates the handshake, upgrades, and starts the
// connection's pumps. A bad token is refused before the upgrade.
func (h *WSHandler) HandleWebSocket(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		token = bearerToken(c.Request)
	}

	user, err := h.verifier.Verify(c.Request.Context(), token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": domain.CodeAuthenticationFailed})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Ctx(c.Request.Context()).Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := hub.NewClient(uuid.New().String(), user, h.hub, conn, h.wsCfg)
	h.hub.Register(client)

	log.L().Info().
		Str(log.FieldConnectionID, client.ID).
		Str(log.FieldUserID, user.ID).
		Msg("connection established")

	go client.WritePump()
	go func() {
		h.sendSnapshots(context.Background(), client)
		client.ReadPump(h.handleEvent)
	}()
}

// sendSnapshots delivers the initial state a fresh connection needs:
// the user's rooms and which of their contacts are online.
func (h *WSHandler) sendSnapshots(ctx context.Context, client *hub.Client) {
	userRooms, err := h.rooms.RoomsForUser(ctx, client.UserID)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Str(log.FieldUserID, client.UserID).Msg("failed to load room snapshot")
		client.SendEvent(domain.NewErrorEvent(err))
		return
	}
	client.SendEvent(&domain.RoomListEvent{Type: domain.EventRoomList, Rooms: userRooms})

	// Online users across every room the user is in, deduplicated.
	seen := map[string]bool{client.UserID: true}
	var contacts []string
	for _, room := range userRooms {
		ids, err := h.rooms.MemberIDs(ctx, room.ID)
		if err != nil {
			continue
		}
		for _, id := range ids {
			if !seen[id] {
				seen[id] = true
				contacts = append(contacts, id)
			}
		}
	}
	online, err := h.presence.OnlineAmong(ctx, contacts)
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("failed to load presence snapshot")
		return
	}
	client.SendEvent(&domain.OnlineUsersEvent{Type: domain.EventOnlineUsers, UserIDs: online})
}

// handleEvent decodes one inbound frame and runs the matching
// operation. Every failure goes back to the offending connection as an
// error event; nothing a client sends can take the node down.
func (h *WSHandler) handleEvent(client *hub.Client, raw []byte) {
	var base domain.BaseEvent
	if err := json.Unmarshal(raw, &base); err != nil {
		client.SendEvent(domain.NewErrorEvent(domain.ErrMalformedEvent))
		return
	}

	ctx := log.WithLogger(context.Background(), log.L().With().
		Str(log.FieldConnectionID, client.ID).
		Str(log.FieldUserID, client.UserID).
		Str(log.FieldEventType, base.Type).
		Logger())

	var err error
	switch base.Type {
	case domain.EventJoinRoom:
		err = h.handleJoin(ctx, client, raw)
	case domain.EventLeaveRoom:
		err = h.handleLeave(ctx, client, raw)
	case domain.EventSendMessage:
		err = decodeAnd(raw, func(ev *domain.SendMessageEvent) error {
			_, sendErr := h.pipeline.SendMessage(ctx, client.User, client.ID, ev)
			return sendErr
		})
	case domain.EventSendDirectMessage:
		err = decodeAnd(raw, func(ev *domain.SendDirectMessageEvent) error {
			_, sendErr := h.pipeline.SendDirect(ctx, client.User, client.ID, ev)
			return sendErr
		})
	case domain.EventEditMessage:
		err = decodeAnd(raw, func(ev *domain.EditMessageEvent) error {
			_, editErr := h.pipeline.EditMessage(ctx, client.User, ev)
			return editErr
		})
	case domain.EventDeleteMessage:
		err = decodeAnd(raw, func(ev *domain.DeleteMessageEvent) error {
			return h.pipeline.DeleteMessage(ctx, client.User, ev)
		})
	case domain.EventAddReaction:
		err = decodeAnd(raw, func(ev *domain.ReactionEvent) error {
			return h.pipeline.AddReaction(ctx, client.User, ev)
		})
	case domain.EventRemoveReaction:
		err = decodeAnd(raw, func(ev *domain.ReactionEvent) error {
			return h.pipeline.RemoveReaction(ctx, client.User, ev)
		})
	case domain.EventTypingStartIn:
		err = decodeAnd(raw, func(ev *domain.TypingEvent) error {
			return h.handleTyping(ctx, client, ev.RoomID, true)
		})
	case domain.EventTypingStopIn:
		err = decodeAnd(raw, func(ev *domain.TypingEvent) error {
			return h.handleTyping(ctx, client, ev.RoomID, false)
		})
	case domain.EventMarkAsRead:
		err = decodeAnd(raw, func(ev *domain.MarkAsReadEvent) error {
			return h.pipeline.MarkAsRead(ctx, client.User, ev)
		})
	case domain.EventGetHistory:
		err = decodeAnd(raw, func(ev *domain.HistoryRequestEvent) error {
			page, histErr := h.pipeline.History(ctx, client.User, ev)
			if histErr != nil {
				return histErr
			}
			return client.SendEvent(page)
		})
	case domain.EventCreateRoom:
		err = h.handleCreateRoom(ctx, client, raw)
	case domain.EventInviteToRoom:
		err = h.handleInvite(ctx, client, raw)
	default:
		client.SendEvent(&domain.ErrorEvent{Type: domain.EventError, Code: domain.CodeBadRequest, Message: "unknown event type: " + base.Type})
		return
	}

	if err != nil {
		log.Ctx(ctx).Debug().Err(err).Msg("event rejected")
		client.SendEvent(domain.NewErrorEvent(err))
	}
}

func (h *WSHandler) handleJoin(ctx context.Context, client *hub.Client, raw []byte) error {
	return decodeAnd(raw, func(ev *domain.JoinRoomEvent) error {
		room, err := h.rooms.Join(ctx, ev.RoomID, client.UserID)
		if err != nil {
			return err
		}
		h.broadcastMembership(ctx, room.ID, client.UserID, domain.EventUserJoined)
		return client.SendEvent(&domain.RoomCreatedEvent{Type: domain.EventRoomCreated, Room: room})
	})
}

func (h *WSHandler) handleLeave(ctx context.Context, client *hub.Client, raw []byte) error {
	return decodeAnd(raw, func(ev *domain.LeaveRoomEvent) error {
		room, err := h.rooms.Leave(ctx, ev.RoomID, client.UserID)
		if err != nil {
			return err
		}
		_ = h.tracker.TypingStop(ctx, room.ID, client.UserID)
		h.broadcastMembership(ctx, room.ID, client.UserID, domain.EventUserLeft)
		return nil
	})
}

func (h *WSHandler) handleTyping(ctx context.Context, client *hub.Client, roomID string, start bool) error {
	// Only members may flash typing indicators at a room.
	if _, _, err := h.rooms.RequireMember(ctx, roomID, client.UserID); err != nil {
		return err
	}
	if start {
		return h.tracker.TypingStart(ctx, roomID, client.UserID)
	}
	return h.tracker.TypingStop(ctx, roomID, client.UserID)
}

func (h *WSHandler) handleCreateRoom(ctx context.Context, client *hub.Client, raw []byte) error {
	return decodeAnd(raw, func(ev *domain.CreateRoomEvent) error {
		room, err := h.rooms.CreateRoom(ctx, client.User, ev.Name, ev.Description, ev.RoomType, ev.IsPrivate)
		if err != nil {
			return err
		}

		if len(ev.InitialMembers) > 0 {
			invited, err := h.rooms.Invite(ctx, room.ID, client.User, ev.InitialMembers)
			if err != nil {
				log.Ctx(ctx).Warn().Err(err).Str(log.FieldRoomID, room.ID).Msg("initial invites incomplete")
			}
			h.announceInvites(ctx, room, invited)
		}

		return client.SendEvent(&domain.RoomCreatedEvent{Type: domain.EventRoomCreated, Room: room})
	})
}

func (h *WSHandler) handleInvite(ctx context.Context, client *hub.Client, raw []byte) error {
	return decodeAnd(raw, func(ev *domain.InviteToRoomEvent) error {
		room, err := h.rooms.GetRoom(ctx, ev.RoomID)
		if err != nil {
			return err
		}
		invited, err := h.rooms.Invite(ctx, ev.RoomID, client.User, ev.UserIDs)
		if err != nil {
			return err
		}
		h.announceInvites(ctx, room, invited)
		return client.SendEvent(&domain.InvitationsSentEvent{
			Type:    domain.EventInvitationsSent,
			RoomID:  ev.RoomID,
			UserIDs: invited,
		})
	})
}

// announceInvites tells each new member about their room and the room
// about each new member.
func (h *WSHandler) announceInvites(ctx context.Context, room *domain.Room, invited []string) {
	for _, userID := range invited {
		ev := &domain.RoomCreatedEvent{Type: domain.EventRoomCreated, Room: room}
		if err := h.fanout.ToUser(ctx, userID, domain.EventRoomCreated, ev); err != nil {
			log.Ctx(ctx).Warn().Err(err).Str(log.FieldUserID, userID).Msg("failed to notify invitee")
		}
		h.broadcastMembership(ctx, room.ID, userID, domain.EventUserJoined)
	}
}

func (h *WSHandler) broadcastMembership(ctx context.Context, roomID, userID, eventType string) {
	memberIDs, err := h.rooms.MemberIDs(ctx, roomID)
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Str(log.FieldRoomID, roomID).Msg("failed to resolve audience")
		return
	}
	ev := &domain.MembershipChangedEvent{Type: eventType, RoomID: roomID, UserID: userID}
	if err := h.fanout.ToRoom(ctx, roomID, memberIDs, "", eventType, ev); err != nil {
		log.Ctx(ctx).Warn().Err(err).Str(log.FieldRoomID, roomID).Msg("failed to broadcast membership change")
	}
}

func decodeAnd[T any](raw []byte, fn func(*T) error) error {
	var ev T
	if err := json.Unmarshal(raw, &ev); err != nil {
		return domain.ErrMalformedEvent
	}
	return fn(&ev)
}

func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	auth := r.Header.Get("Authorization")
	if len(auth) > len(prefix) && auth[:len(prefix)] == prefix {
		return auth[len(prefix):]
	}
	return ""
}
