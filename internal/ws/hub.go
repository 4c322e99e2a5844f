package ws

import (
	"log"
	"sync"
	"time"

	"secure-chat-service/internal/models"
)

// Teardown reasons. Clients handle both notices identically; the event name
// tells an operator whether the creator or the clock closed the room.
const (
	ReasonDeleted = "deleted"
	ReasonExpired = "expired"
)

type roomState struct {
	members      []*Session // join order
	salt         string
	saltTicketID string
}

// Hub is the room membership table and message relay. One mutex serializes
// every operation on room state, so within a room events are delivered in
// the order the relay received them and each operation runs to completion
// before the next is applied. The hub never parses an envelope's ciphertext
// and holds no message state beyond the current call.
type Hub struct {
	mu    sync.Mutex
	rooms map[string]*roomState
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{rooms: make(map[string]*roomState)}
}

// Join adds the session to a room and returns the updated member list. A
// connection lives in at most one room: any entry it holds elsewhere is
// removed first, and within the room a stale entry with the same username
// or connection id is replaced rather than duplicated.
func (h *Hub) Join(roomID string, s *Session) []models.Member {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.removeElsewhereLocked(roomID, s.connID)

	state, ok := h.rooms[roomID]
	if !ok {
		state = &roomState{}
		h.rooms[roomID] = state
	}

	kept := state.members[:0]
	for _, member := range state.members {
		if member.connID == s.connID || member.username == s.username {
			if member.connID != s.connID {
				member.closeWriter()
			}
			continue
		}
		kept = append(kept, member)
	}
	state.members = append(kept, s)
	s.roomID = roomID

	return memberSnapshot(state)
}

// Leave removes the session from whatever room it belonged to. It returns
// the room, the remaining member list, and whether the session was a member.
func (h *Hub) Leave(connID string) (roomID string, remaining []models.Member, username string, found bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, state := range h.rooms {
		for i, member := range state.members {
			if member.connID != connID {
				continue
			}
			username = member.username
			state.members = append(state.members[:i], state.members[i+1:]...)
			// An emptied room survives only while it holds a cached salt, so
			// a reconnecting member can still hit the latecomer fast-path.
			// Saltless empty rooms are dropped outright.
			if len(state.members) == 0 && state.salt == "" {
				delete(h.rooms, id)
			}
			return id, memberSnapshot(state), username, true
		}
	}
	return "", nil, "", false
}

func (h *Hub) removeElsewhereLocked(roomID, connID string) {
	for id, state := range h.rooms {
		if id == roomID {
			continue
		}
		for i, member := range state.members {
			if member.connID != connID {
				continue
			}
			state.members = append(state.members[:i], state.members[i+1:]...)
			if len(state.members) == 0 && state.salt == "" {
				delete(h.rooms, id)
			}
			break
		}
	}
}

// Members returns the current member list of a room.
func (h *Hub) Members(roomID string) []models.Member {
	h.mu.Lock()
	defer h.mu.Unlock()
	state, ok := h.rooms[roomID]
	if !ok {
		return nil
	}
	return memberSnapshot(state)
}

// CacheSalt stores the room's authoritative key-derivation salt for
// latecomers. The last write wins; a room has at most one salt at a time.
func (h *Hub) CacheSalt(roomID string, notice models.SaltNotice) {
	h.mu.Lock()
	defer h.mu.Unlock()
	state, ok := h.rooms[roomID]
	if !ok {
		return
	}
	state.salt = notice.Salt
	state.saltTicketID = notice.TicketID
}

// CachedSalt returns the room's cached salt, if any.
func (h *Hub) CachedSalt(roomID string) (models.SaltNotice, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	state, ok := h.rooms[roomID]
	if !ok || state.salt == "" {
		return models.SaltNotice{}, false
	}
	return models.SaltNotice{RoomID: roomID, TicketID: state.saltTicketID, Salt: state.salt}, true
}

// Relay stamps the envelope with the sender's connection id and a relay
// timestamp, then forwards it verbatim to every other member of the room.
// A sender that is not a current member is silently dropped (and logged).
func (h *Hub) Relay(roomID string, sender *Session, event string, env models.Envelope) (receivers int, ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	state, exists := h.rooms[roomID]
	if !exists || !isMemberLocked(state, sender.connID) {
		log.Printf("relay dropped: sender not a room member conn_id=%s room_id=%s", sender.connID, roomID)
		return 0, false
	}

	env.SenderID = sender.connID
	env.RelayTimestamp = time.Now().UnixMilli()

	for _, member := range state.members {
		if member.connID == sender.connID {
			continue
		}
		if err := member.send(event, 0, env); err != nil {
			log.Printf("websocket write error: %v", err)
			member.closeWriter()
			continue
		}
		receivers++
	}
	return receivers, true
}

// Broadcast sends an event to every member of a room, minus except when
// non-nil.
func (h *Hub) Broadcast(roomID string, event string, data any, except *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	state, ok := h.rooms[roomID]
	if !ok {
		return
	}
	h.broadcastLocked(state, event, data, except)
}

// BroadcastUsers pushes the current member list to everyone in the room.
// Every membership change is followed by one of these so clients' user
// lists converge within one relay round trip.
func (h *Hub) BroadcastUsers(roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	state, ok := h.rooms[roomID]
	if !ok {
		return
	}
	h.broadcastLocked(state, EventUsers, memberSnapshot(state), nil)
}

// BroadcastSystem pushes a system text line to everyone in the room.
func (h *Hub) BroadcastSystem(roomID, text string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	state, ok := h.rooms[roomID]
	if !ok {
		return
	}
	h.broadcastLocked(state, EventSystem, text, nil)
}

// SendTo delivers an event to one connection in any room.
func (h *Hub) SendTo(connID, event string, data any) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, state := range h.rooms {
		for _, member := range state.members {
			if member.connID == connID {
				if err := member.send(event, 0, data); err != nil {
					log.Printf("websocket write error: %v", err)
					member.closeWriter()
					return false
				}
				return true
			}
		}
	}
	return false
}

// Creator returns the connection id of the room's creator, if present.
func (h *Hub) Creator(roomID string) (connID string, ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	state, exists := h.rooms[roomID]
	if !exists {
		return "", false
	}
	for _, member := range state.members {
		if member.isCreator {
			return member.connID, true
		}
	}
	return "", false
}

// Teardown notifies every member that the room is gone, instructs them to
// clear local message state and key material, disconnects them, and drops
// the room (including its cached salt). Each member receives exactly one
// closed notice. Returns the number of members disconnected.
func (h *Hub) Teardown(roomID, reason string) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	state, ok := h.rooms[roomID]
	if !ok {
		return 0
	}
	delete(h.rooms, roomID)

	event := EventRoomExpired
	notice := models.RoomClosed{Message: "Room has expired", ClearMessages: true}
	if reason == ReasonDeleted {
		event = EventRoomDeleted
		notice.Message = "Room has been deleted by the creator"
	}

	for _, member := range state.members {
		if err := member.send(event, 0, notice); err != nil {
			log.Printf("websocket write error: %v", err)
		}
		_ = member.send(EventClearRoomData, 0, map[string]string{"roomId": roomID})
		member.closeWriter()
	}
	return len(state.members)
}

// ConnectionCount reports how many connections are currently in rooms.
func (h *Hub) ConnectionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	total := 0
	for _, state := range h.rooms {
		total += len(state.members)
	}
	return total
}

func (h *Hub) broadcastLocked(state *roomState, event string, data any, except *Session) {
	for _, member := range state.members {
		if except != nil && member.connID == except.connID {
			continue
		}
		if err := member.send(event, 0, data); err != nil {
			log.Printf("websocket write error: %v", err)
			member.closeWriter()
		}
	}
}

func isMemberLocked(state *roomState, connID string) bool {
	for _, member := range state.members {
		if member.connID == connID {
			return true
		}
	}
	return false
}

func memberSnapshot(state *roomState) []models.Member {
	members := make([]models.Member, 0, len(state.members))
	for _, member := range state.members {
		members = append(members, models.Member{
			ConnID:    member.connID,
			Username:  member.username,
			IsCreator: member.isCreator,
		})
	}
	return members
}
