package client

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"

	"secure-chat-service/internal/models"
	"secure-chat-service/internal/ws"
)

// RelayTransport delivers envelopes through the server relay over a
// websocket connection. A direct peer channel implementing Transport slots
// into the engine the same way.
type RelayTransport struct {
	mu     sync.Mutex
	conn   *websocket.Conn
	nextID int64
}

// NewRelayTransport wraps an established websocket connection.
func NewRelayTransport(conn *websocket.Conn) *RelayTransport {
	return &RelayTransport{conn: conn}
}

// SendEnvelope relays an envelope to the room, picking the wire event from
// the envelope's ephemeral flag.
func (t *RelayTransport) SendEnvelope(ctx context.Context, env models.Envelope) error {
	event := ws.EventEncryptedMessage
	if env.Ephemeral {
		event = ws.EventEphemeralMessage
	}
	return t.write(event, env)
}

// ShareSalt pushes the salt to the room's salt cache and members.
func (t *RelayTransport) ShareSalt(ctx context.Context, notice models.SaltNotice) error {
	return t.write(ws.EventShareSalt, notice)
}

// RequestSalt asks the room for the cached salt, or the creator failing
// that.
func (t *RelayTransport) RequestSalt(ctx context.Context, roomID, ticketID string) error {
	return t.write(ws.EventRequestSalt, ws.SaltRequest{RoomID: roomID, TicketID: ticketID})
}

func (t *RelayTransport) write(event string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextID++
	return t.conn.WriteJSON(ws.Frame{Event: event, ID: t.nextID, Data: raw})
}
