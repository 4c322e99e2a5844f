package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"

	"secure-chat-service/internal/models"
	"secure-chat-service/internal/observability"
	"secure-chat-service/internal/registry"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler owns the websocket endpoint and the per-connection event loop.
type Handler struct {
	hub      *Hub
	registry *registry.Registry
}

// NewHandler constructs a Handler.
func NewHandler(hub *Hub, reg *registry.Registry) *Handler {
	return &Handler{hub: hub, registry: reg}
}

// Handle upgrades the connection and runs its read loop. Admission to a
// room happens later via the join event, never at upgrade time.
func (h *Handler) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("secure-chat-service/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	meta := observability.MetaFromRequest(c.Request)
	info := ConnInfo{
		ConnID:      newConnID(),
		DeviceID:    meta.DeviceID,
		IP:          meta.IP,
		RequestID:   meta.RequestID,
		TraceID:     span.SpanContext().TraceID().String(),
		ConnectedAt: time.Now(),
	}
	session := NewSession(conn, info)

	observability.IncWSActive()
	observability.IncWSEvent("ws_connect")
	_ = observability.PublishEvent(ctx, "ws_events.rooms", observability.EventEnvelope{
		EventType: "ws_events",
		EventName: "ws_connect",
		Payload:   connPayload(info, "", 0),
	})

	go h.readPump(context.WithoutCancel(ctx), conn, session)
}

func (h *Handler) readPump(ctx context.Context, conn *websocket.Conn, s *Session) {
	var closeReason string
	defer func() {
		h.disconnect(ctx, s, closeReason)
		conn.Close()
	}()

	for {
		var frame Frame
		if err := conn.ReadJSON(&frame); err != nil {
			closeReason = err.Error()
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				observability.IncWSEvent("ws_error")
			}
			return
		}
		h.dispatch(ctx, s, frame)
	}
}

// disconnect synchronously removes membership and notifies the room; no
// cleanup is left pending after a connection drops.
func (h *Handler) disconnect(ctx context.Context, s *Session, reason string) {
	roomID, _, username, found := h.hub.Leave(s.connID)
	if found {
		h.hub.BroadcastSystem(roomID, username+" left the room")
		h.hub.BroadcastUsers(roomID)
	}

	observability.DecWSActive()
	observability.IncWSEvent("ws_disconnect")
	_ = observability.PublishEvent(ctx, "ws_events.rooms", observability.EventEnvelope{
		EventType: "ws_events",
		EventName: "ws_disconnect",
		Payload:   connPayload(s.info, reason, time.Since(s.info.ConnectedAt).Milliseconds()),
	})
}

func (h *Handler) dispatch(ctx context.Context, s *Session, frame Frame) {
	observability.IncWSEvent(frame.Event)

	switch frame.Event {
	case EventJoin:
		h.handleJoin(ctx, s, frame)
	case EventEncryptedMessage:
		h.handleEnvelope(s, frame, false)
	case EventEphemeralMessage:
		h.handleEnvelope(s, frame, true)
	case EventTyping:
		h.handleTyping(s, frame)
	case EventShareSalt:
		h.handleShareSalt(s, frame)
	case EventRequestSalt:
		h.handleRequestSalt(s, frame)
	case EventDeleteRoom:
		h.handleDeleteRoom(ctx, s, frame)
	case EventGetRoomInfo:
		h.handleRoomInfo(ctx, s, frame)
	case EventP2PSignal:
		h.handleP2PSignal(s, frame)
	case EventAnnouncePeer:
		h.handleAnnouncePeer(s, frame)
	default:
		log.Printf("unknown ws event %q conn_id=%s", frame.Event, s.connID)
	}
}

func (h *Handler) handleJoin(ctx context.Context, s *Session, frame Frame) {
	var req JoinRequest
	if err := json.Unmarshal(frame.Data, &req); err != nil || req.TicketID == "" || req.Username == "" {
		s.ack(frame.ID, ErrorAck{Error: "invalid join request"})
		return
	}

	ticket, err := h.registry.LookupTicket(ctx, req.TicketID)
	if err != nil || !h.registry.ValidateTicket(ticket) {
		s.ack(frame.ID, ErrorAck{Error: "Invalid or expired ticket"})
		return
	}

	room, err := h.registry.LookupRoom(ctx, ticket.RoomID)
	if err != nil || !room.IsActive {
		s.ack(frame.ID, ErrorAck{Error: "Chat room not found or inactive"})
		return
	}

	// One room per connection. A repeat join leaves the current room first,
	// with the usual departure broadcasts when the room actually changes;
	// session fields are only rewritten while the session is in no room.
	if s.roomID != "" {
		if prevRoom, _, username, found := h.hub.Leave(s.connID); found && prevRoom != room.ID {
			h.hub.BroadcastSystem(prevRoom, username+" left the room")
			h.hub.BroadcastUsers(prevRoom)
		}
		s.roomID = ""
	}

	s.username = req.Username
	s.ticketID = ticket.ID
	s.creatorToken = req.CreatorToken
	s.isCreator = req.CreatorToken != "" && req.CreatorToken == ticket.CreatorToken

	h.hub.Join(room.ID, s)

	// Validity can change between the entry check and the membership write
	// (a concurrent delete or sweep). Re-check at commit time and back out
	// instead of admitting into a dead room.
	ticket, err = h.registry.LookupTicket(ctx, ticket.ID)
	if err != nil || !h.registry.ValidateTicket(ticket) {
		h.hub.Leave(s.connID)
		s.roomID = ""
		s.ack(frame.ID, ErrorAck{Error: "Invalid or expired ticket"})
		return
	}

	// Latecomer fast-path: hand over the cached salt before anything else
	// so the joiner can start deriving without an extra round trip.
	if !s.isCreator {
		if notice, ok := h.hub.CachedSalt(room.ID); ok {
			_ = s.send(EventSalt, 0, notice)
		}
	}

	h.hub.BroadcastSystem(room.ID, req.Username+" joined the room")
	h.hub.BroadcastUsers(room.ID)

	s.ack(frame.ID, JoinAck{
		Success:   true,
		RoomID:    room.ID,
		IsCreator: s.isCreator,
		ExpiresAt: ticket.ExpiresAt.UTC().Format(time.RFC3339),
	})
	log.Printf("member joined room_id=%s conn_id=%s is_creator=%t", room.ID, s.connID, s.isCreator)
}

func (h *Handler) handleEnvelope(s *Session, frame Frame, ephemeral bool) {
	if s.roomID == "" {
		log.Printf("envelope dropped: connection not in a room conn_id=%s", s.connID)
		return
	}

	var env models.Envelope
	if err := json.Unmarshal(frame.Data, &env); err != nil {
		log.Printf("envelope dropped: malformed payload conn_id=%s: %v", s.connID, err)
		return
	}

	event := EventEncryptedMessage
	ackText := "relayed"
	kind := "encrypted"
	if ephemeral {
		env.Ephemeral = true
		event = EventEphemeralMessage
		ackText = "ephemeral-relayed"
		kind = "ephemeral"
	}

	if _, ok := h.hub.Relay(s.roomID, s, event, env); !ok {
		return
	}

	observability.IncRelayedEnvelope(kind)
	s.ack(frame.ID, ackText)
}

func (h *Handler) handleTyping(s *Session, frame Frame) {
	if s.roomID == "" {
		return
	}
	var req TypingRequest
	if err := json.Unmarshal(frame.Data, &req); err != nil {
		return
	}
	h.hub.Broadcast(s.roomID, EventTyping, models.TypingNotice{Username: s.username, IsTyping: req.IsTyping}, s)
}

func (h *Handler) handleShareSalt(s *Session, frame Frame) {
	var notice models.SaltNotice
	if err := json.Unmarshal(frame.Data, &notice); err != nil {
		return
	}
	if s.roomID == "" || s.roomID != notice.RoomID {
		log.Printf("salt share dropped: room mismatch conn_id=%s", s.connID)
		return
	}
	// Salt authority is a creator capability; a member that never presented
	// the creator token cannot replace the room's salt.
	if !s.isCreator {
		s.ack(frame.ID, ErrorAck{Error: "Only the room creator can share the encryption salt"})
		return
	}

	h.hub.CacheSalt(s.roomID, notice)
	h.hub.Broadcast(s.roomID, EventSalt, notice, s)
	s.ack(frame.ID, "salt-shared")
}

func (h *Handler) handleRequestSalt(s *Session, frame Frame) {
	var req SaltRequest
	if err := json.Unmarshal(frame.Data, &req); err != nil {
		return
	}
	if s.roomID == "" || s.roomID != req.RoomID {
		log.Printf("salt request dropped: room mismatch conn_id=%s", s.connID)
		return
	}

	if notice, ok := h.hub.CachedSalt(s.roomID); ok {
		_ = s.send(EventSalt, 0, notice)
		return
	}

	// No cached salt yet: forward the request to the creator, who will
	// re-broadcast. The requester's own timeout covers a creator that never
	// answers.
	if creatorConn, ok := h.hub.Creator(s.roomID); ok {
		h.hub.SendTo(creatorConn, EventProvideSalt, ProvideSalt{RoomID: s.roomID, RequesterID: s.connID})
		return
	}
	log.Printf("salt request unanswered: no creator in room room_id=%s", s.roomID)
}

func (h *Handler) handleDeleteRoom(ctx context.Context, s *Session, frame Frame) {
	if s.roomID == "" {
		s.ack(frame.ID, ErrorAck{Error: "Not in any room"})
		return
	}

	if _, err := h.registry.DeleteTicket(ctx, s.ticketID, s.creatorToken); err != nil {
		s.ack(frame.ID, ErrorAck{Error: "Only room creator can delete the room"})
		return
	}

	roomID := s.roomID
	members := h.hub.Teardown(roomID, ReasonDeleted)
	observability.IncRoomClosed(ReasonDeleted)
	_ = observability.PublishEvent(ctx, "room_events.closed", observability.EventEnvelope{
		EventType: "room_events",
		EventName: "room_deleted",
		Payload:   map[string]any{"room_id": roomID, "members": members},
	})

	s.ack(frame.ID, map[string]bool{"success": true})
	log.Printf("room deleted room_id=%s conn_id=%s members=%d", roomID, s.connID, members)
}

func (h *Handler) handleRoomInfo(ctx context.Context, s *Session, frame Frame) {
	if s.roomID == "" {
		s.ack(frame.ID, ErrorAck{Error: "Not in any room"})
		return
	}

	room, err := h.registry.LookupRoom(ctx, s.roomID)
	if err != nil || !room.IsActive {
		s.ack(frame.ID, ErrorAck{Error: "Room not found"})
		return
	}

	s.ack(frame.ID, RoomInfoAck{
		RoomID:    room.ID,
		ExpiresAt: room.ExpiresAt.UTC().Format(time.RFC3339),
		IsCreator: s.isCreator,
		UserCount: len(h.hub.Members(room.ID)),
	})
}

func (h *Handler) handleP2PSignal(s *Session, frame Frame) {
	var signal P2PSignal
	if err := json.Unmarshal(frame.Data, &signal); err != nil {
		return
	}
	if s.roomID == "" || s.roomID != signal.RoomID {
		return
	}
	h.hub.SendTo(signal.TargetPeer, EventP2PSignal, P2PSignal{
		FromPeer: s.connID,
		RoomID:   signal.RoomID,
		Message:  signal.Message,
	})
}

func (h *Handler) handleAnnouncePeer(s *Session, frame Frame) {
	var req AnnouncePeer
	if err := json.Unmarshal(frame.Data, &req); err != nil {
		return
	}
	if s.roomID == "" || s.roomID != req.RoomID {
		return
	}
	h.hub.Broadcast(s.roomID, EventPeerAvailable, PeerAvailable{PeerID: s.connID, Username: s.username}, s)
}

func connPayload(info ConnInfo, reason string, durationMS int64) map[string]any {
	return map[string]any{
		"ws": map[string]any{
			"conn_id":     info.ConnID,
			"duration_ms": durationMS,
			"reason":      reason,
		},
		"identity": map[string]any{
			"device_id": info.DeviceID,
			"ip":        info.IP,
		},
	}
}
