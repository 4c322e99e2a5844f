package ws

import "encoding/json"

// Wire event names. Client-initiated events carry an optional id that the
// server echoes back in its ack frame.
const (
	EventJoin             = "join"
	EventEncryptedMessage = "encrypted-message"
	EventEphemeralMessage = "ephemeral-message"
	EventTyping           = "typing"
	EventShareSalt        = "share-encryption-salt"
	EventRequestSalt      = "request-encryption-salt"
	EventProvideSalt      = "provide-encryption-salt"
	EventSalt             = "encryption-salt"
	EventDeleteRoom       = "delete-room"
	EventRoomDeleted      = "room-deleted"
	EventRoomExpired      = "room-expired"
	EventClearRoomData    = "clear-room-data"
	EventGetRoomInfo      = "get-room-info"
	EventP2PSignal        = "p2p-signal"
	EventAnnouncePeer     = "announce-peer"
	EventPeerAvailable    = "peer-available"
	EventUsers            = "users"
	EventSystem           = "system"
	EventAck              = "ack"
)

// Frame is a client-to-server message.
type Frame struct {
	Event string          `json:"event"`
	ID    int64           `json:"id,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// OutFrame is a server-to-client message.
type OutFrame struct {
	Event string `json:"event"`
	ID    int64  `json:"id,omitempty"`
	Data  any    `json:"data,omitempty"`
}

// JoinRequest is the payload of a join event. CreatorToken is the
// capability issued at payment verification; presenting it is the only way
// to gain creator standing in the room.
type JoinRequest struct {
	TicketID     string `json:"ticketId"`
	Username     string `json:"username"`
	CreatorToken string `json:"creatorToken,omitempty"`
}

// JoinAck acknowledges a successful join.
type JoinAck struct {
	Success   bool   `json:"success"`
	RoomID    string `json:"roomId"`
	IsCreator bool   `json:"isCreator"`
	ExpiresAt string `json:"expiresAt"`
}

// ErrorAck reports a failed request back to its sender only.
type ErrorAck struct {
	Error string `json:"error"`
}

// TypingRequest is the payload of a typing event.
type TypingRequest struct {
	IsTyping bool `json:"isTyping"`
}

// SaltRequest asks for the room's cached key-derivation salt.
type SaltRequest struct {
	RoomID   string `json:"roomId"`
	TicketID string `json:"ticketId"`
}

// ProvideSalt asks the room creator to re-broadcast the salt.
type ProvideSalt struct {
	RoomID      string `json:"roomId"`
	RequesterID string `json:"requesterId"`
}

// RoomInfoAck answers a get-room-info request.
type RoomInfoAck struct {
	RoomID    string `json:"roomId"`
	ExpiresAt string `json:"expiresAt"`
	IsCreator bool   `json:"isCreator"`
	UserCount int    `json:"userCount"`
}

// P2PSignal forwards an opaque signaling payload to one target peer.
type P2PSignal struct {
	TargetPeer string          `json:"targetPeer,omitempty"`
	FromPeer   string          `json:"fromPeer,omitempty"`
	RoomID     string          `json:"roomId"`
	Message    json.RawMessage `json:"message"`
}

// AnnouncePeer advertises p2p availability to the room.
type AnnouncePeer struct {
	RoomID string `json:"roomId"`
}

// PeerAvailable is broadcast when a peer announces itself.
type PeerAvailable struct {
	PeerID   string `json:"peerId"`
	Username string `json:"username"`
}
