package models

import "time"

// Room is created atomically with its ticket and lives for a fixed duration.
type Room struct {
	ID          string    `json:"room_id"`
	TicketID    string    `json:"ticket_id"`
	CreatorName string    `json:"creator_name"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Member is one live connection inside a room.
type Member struct {
	ConnID    string `json:"connectionId"`
	Username  string `json:"username"`
	IsCreator bool   `json:"isCreator"`
}
