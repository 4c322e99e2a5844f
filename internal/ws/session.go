package ws

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
)

// frameWriter is the write side of a member connection. *websocket.Conn
// satisfies it; tests inject recording writers.
type frameWriter interface {
	WriteJSON(v any) error
	Close() error
}

// Session is one live connection. Its room fields are set during join under
// the hub lock and only ever read afterwards by its own read loop and by
// the hub while holding that same lock.
type Session struct {
	connID       string
	username     string
	roomID       string
	ticketID     string
	creatorToken string
	isCreator    bool

	writer  frameWriter
	writeMu sync.Mutex

	info ConnInfo
}

// NewSession wraps a connection for hub membership.
func NewSession(writer frameWriter, info ConnInfo) *Session {
	if info.ConnID == "" {
		info.ConnID = newConnID()
	}
	return &Session{connID: info.ConnID, writer: writer, info: info}
}

// ConnID returns the connection identifier the relay stamps onto envelopes.
func (s *Session) ConnID() string { return s.connID }

// Username returns the display name presented at join.
func (s *Session) Username() string { return s.username }

// RoomID returns the joined room, or empty before a successful join.
func (s *Session) RoomID() string { return s.roomID }

// IsCreator reports whether the session presented the creator token.
func (s *Session) IsCreator() bool { return s.isCreator }

func (s *Session) send(event string, id int64, data any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.writer == nil {
		return nil
	}
	return s.writer.WriteJSON(OutFrame{Event: event, ID: id, Data: data})
}

func (s *Session) ack(id int64, data any) {
	if id == 0 {
		return
	}
	_ = s.send(EventAck, id, data)
}

func (s *Session) closeWriter() {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.writer != nil {
		_ = s.writer.Close()
	}
}

func newConnID() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return ""
	}
	return hex.EncodeToString(buf)
}
