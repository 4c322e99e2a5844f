package models

import "time"

// Ticket status values. A ticket only ever moves active -> expired
// (time-driven) or active -> deleted (creator action).
const (
	TicketActive  = "active"
	TicketExpired = "expired"
	TicketDeleted = "deleted"
)

// Ticket is the single-use credential binding a payer to a room.
type Ticket struct {
	ID          string    `json:"ticket_id"`
	PaymentID   string    `json:"payment_id"`
	RoomID      string    `json:"room_id"`
	CreatorName string    `json:"creator_name"`
	// CreatorToken is the capability issued once at creation. Creator-only
	// operations (delete-room, salt authority) require it; it is never
	// compared against display names and never broadcast to the room.
	CreatorToken string    `json:"creator_token"`
	Amount       int64     `json:"amount"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Payment status values.
const (
	PaymentPending   = "pending"
	PaymentCompleted = "completed"
)

// Payment tracks a gateway order from creation through verification.
type Payment struct {
	ID               string    `json:"payment_id"`
	GatewayOrderID   string    `json:"gateway_order_id"`
	GatewayPaymentID string    `json:"gateway_payment_id,omitempty"`
	Amount           int64     `json:"amount"`
	Currency         string    `json:"currency"`
	Status           string    `json:"status"`
	TicketID         string    `json:"ticket_id,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}
