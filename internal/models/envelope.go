package models

// Envelope is the wire-level encrypted unit. The relay treats EncryptedData
// as opaque: it stamps SenderID and RelayTimestamp before rebroadcasting and
// never inspects or stores the payload.
type Envelope struct {
	EncryptedData  string `json:"encryptedData"`
	IV             string `json:"iv"`
	MessageID      string `json:"messageId"`
	Timestamp      int64  `json:"timestamp"`
	SenderID       string `json:"senderId,omitempty"`
	RelayTimestamp int64  `json:"relayTimestamp,omitempty"`
	Ephemeral      bool   `json:"ephemeral,omitempty"`
	// EphemeralKey carries the one-time key for ephemeral envelopes only.
	EphemeralKey string `json:"ephemeralKey,omitempty"`
}

// SaltNotice distributes the key-derivation salt of a room. Only the salt
// travels over the wire; deriving the key additionally requires the ticket
// and room ids already known to legitimate members.
type SaltNotice struct {
	RoomID   string `json:"roomId"`
	TicketID string `json:"ticketId"`
	Salt     string `json:"salt"`
}

// TypingNotice is broadcast to a room minus the typing user.
type TypingNotice struct {
	Username string `json:"username"`
	IsTyping bool   `json:"isTyping"`
}

// RoomClosed notifies members that a room is gone. Clients handle the
// deleted and expired variants identically: drop all message state and key
// material.
type RoomClosed struct {
	Message       string `json:"message"`
	ClearMessages bool   `json:"clearMessages"`
}
