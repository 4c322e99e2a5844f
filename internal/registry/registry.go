// Package registry is the single source of truth for tickets, rooms, and
// payment records. All state lives in an injected kv.Store; every mutation
// is an atomic per-key read-modify-write so concurrent joins, deletes, and
// sweeps never observe half-applied transitions.
package registry

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"secure-chat-service/internal/kv"
	"secure-chat-service/internal/models"
)

const (
	ticketPrefix  = "ticket:"
	roomPrefix    = "room:"
	paymentPrefix = "payment:"

	// retention keeps expired records readable past expiresAt so the sweeper
	// can flip statuses and report them before the store drops the keys.
	retention = time.Hour

	paymentTTL = 24 * time.Hour
)

var (
	// ErrTicketNotFound is returned for unknown ticket ids.
	ErrTicketNotFound = errors.New("registry: ticket not found")
	// ErrRoomNotFound is returned for unknown room ids.
	ErrRoomNotFound = errors.New("registry: room not found")
	// ErrPaymentNotFound is returned for unknown payment ids.
	ErrPaymentNotFound = errors.New("registry: payment not found")
	// ErrForbidden is returned when a creator-only operation is attempted
	// without the creator token.
	ErrForbidden = errors.New("registry: forbidden")
	// ErrTicketInvalid is returned when a ticket exists but is expired,
	// deleted, or otherwise not admitting joins.
	ErrTicketInvalid = errors.New("registry: ticket expired or inactive")
)

// Registry coordinates ticket and room lifecycle on top of a kv.Store.
type Registry struct {
	store        kv.Store
	roomLifetime time.Duration
	now          func() time.Time
}

// New constructs a Registry. roomLifetime is the fixed duration from
// creation to expiry shared by a ticket and its room.
func New(store kv.Store, roomLifetime time.Duration) *Registry {
	return &Registry{store: store, roomLifetime: roomLifetime, now: time.Now}
}

// IssuedTicket is the result of a successful payment verification.
type IssuedTicket struct {
	TicketID     string
	RoomID       string
	CreatorToken string
	ExpiresAt    time.Time
}

// CreatePayment records a pending gateway order.
func (r *Registry) CreatePayment(ctx context.Context, gatewayOrderID string, amount int64, currency string) (models.Payment, error) {
	payment := models.Payment{
		ID:             uuid.NewString(),
		GatewayOrderID: gatewayOrderID,
		Amount:         amount,
		Currency:       currency,
		Status:         models.PaymentPending,
		CreatedAt:      r.now(),
	}
	if err := r.put(ctx, paymentPrefix+payment.ID, payment, r.now().Add(paymentTTL)); err != nil {
		return models.Payment{}, err
	}
	return payment, nil
}

// LookupPayment returns a payment record.
func (r *Registry) LookupPayment(ctx context.Context, paymentID string) (models.Payment, error) {
	var payment models.Payment
	if err := r.get(ctx, paymentPrefix+paymentID, &payment); err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return models.Payment{}, ErrPaymentNotFound
		}
		return models.Payment{}, err
	}
	return payment, nil
}

// IssueTicket creates the ticket and its room after a verified payment. The
// room is written before the ticket so a visible ticket never points at a
// missing room; a failure in between leaves no admitting ticket behind.
func (r *Registry) IssueTicket(ctx context.Context, creatorName string, amount int64, paymentID, gatewayPaymentID string) (IssuedTicket, error) {
	now := r.now()
	expiresAt := now.Add(r.roomLifetime)
	ticketID := uuid.NewString()
	roomID := newRoomID(now)

	token, err := newCreatorToken()
	if err != nil {
		return IssuedTicket{}, err
	}

	room := models.Room{
		ID:          roomID,
		TicketID:    ticketID,
		CreatorName: creatorName,
		IsActive:    true,
		CreatedAt:   now,
		ExpiresAt:   expiresAt,
	}
	if err := r.put(ctx, roomPrefix+roomID, room, expiresAt.Add(retention)); err != nil {
		return IssuedTicket{}, err
	}

	ticket := models.Ticket{
		ID:           ticketID,
		PaymentID:    paymentID,
		RoomID:       roomID,
		CreatorName:  creatorName,
		CreatorToken: token,
		Amount:       amount,
		Status:       models.TicketActive,
		CreatedAt:    now,
		ExpiresAt:    expiresAt,
	}
	if err := r.put(ctx, ticketPrefix+ticketID, ticket, expiresAt.Add(retention)); err != nil {
		_ = r.store.Delete(ctx, roomPrefix+roomID)
		return IssuedTicket{}, err
	}

	if paymentID != "" {
		err := r.store.Update(ctx, paymentPrefix+paymentID, func(current []byte) ([]byte, time.Time, error) {
			var payment models.Payment
			if err := json.Unmarshal(current, &payment); err != nil {
				return nil, time.Time{}, err
			}
			payment.Status = models.PaymentCompleted
			payment.GatewayPaymentID = gatewayPaymentID
			payment.TicketID = ticketID
			next, err := json.Marshal(payment)
			return next, time.Time{}, err
		})
		if err != nil && !errors.Is(err, kv.ErrNotFound) {
			return IssuedTicket{}, err
		}
	}

	return IssuedTicket{TicketID: ticketID, RoomID: roomID, CreatorToken: token, ExpiresAt: expiresAt}, nil
}

// LookupTicket returns a ticket record.
func (r *Registry) LookupTicket(ctx context.Context, ticketID string) (models.Ticket, error) {
	var ticket models.Ticket
	if err := r.get(ctx, ticketPrefix+ticketID, &ticket); err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return models.Ticket{}, ErrTicketNotFound
		}
		return models.Ticket{}, err
	}
	return ticket, nil
}

// LookupRoom returns a room record.
func (r *Registry) LookupRoom(ctx context.Context, roomID string) (models.Room, error) {
	var room models.Room
	if err := r.get(ctx, roomPrefix+roomID, &room); err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return models.Room{}, ErrRoomNotFound
		}
		return models.Room{}, err
	}
	return room, nil
}

// ValidateTicket reports whether the ticket currently admits joins: status
// active and strictly before expiry.
func (r *Registry) ValidateTicket(ticket models.Ticket) bool {
	return ticket.Status == models.TicketActive && r.now().Before(ticket.ExpiresAt)
}

// DeleteTicket marks the ticket deleted and deactivates its room. Callers
// must present the creator token issued with the ticket; display names are
// never consulted. The ticket transition happens first and atomically, so a
// join racing the delete either completes before it or sees a dead ticket.
func (r *Registry) DeleteTicket(ctx context.Context, ticketID, creatorToken string) (models.Ticket, error) {
	var deleted models.Ticket
	err := r.store.Update(ctx, ticketPrefix+ticketID, func(current []byte) ([]byte, time.Time, error) {
		var ticket models.Ticket
		if err := json.Unmarshal(current, &ticket); err != nil {
			return nil, time.Time{}, err
		}
		if creatorToken == "" || ticket.CreatorToken != creatorToken {
			return nil, time.Time{}, ErrForbidden
		}
		if ticket.Status == models.TicketActive {
			ticket.Status = models.TicketDeleted
		}
		deleted = ticket
		next, err := json.Marshal(ticket)
		return next, time.Time{}, err
	})
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return models.Ticket{}, ErrTicketNotFound
		}
		return models.Ticket{}, err
	}

	if err := r.DeactivateRoom(ctx, deleted.RoomID); err != nil && !errors.Is(err, ErrRoomNotFound) {
		return models.Ticket{}, err
	}
	return deleted, nil
}

// DeactivateRoom clears the room's active flag.
func (r *Registry) DeactivateRoom(ctx context.Context, roomID string) error {
	err := r.store.Update(ctx, roomPrefix+roomID, func(current []byte) ([]byte, time.Time, error) {
		var room models.Room
		if err := json.Unmarshal(current, &room); err != nil {
			return nil, time.Time{}, err
		}
		room.IsActive = false
		next, err := json.Marshal(room)
		return next, time.Time{}, err
	})
	if errors.Is(err, kv.ErrNotFound) {
		return ErrRoomNotFound
	}
	return err
}

// ExpireTickets flips every active ticket past its expiry to expired and
// returns the flipped tickets. Per-ticket failures are logged by the caller
// and never stop the rest of the sweep.
func (r *Registry) ExpireTickets(ctx context.Context) ([]models.Ticket, error) {
	keys, err := r.store.Keys(ctx, ticketPrefix)
	if err != nil {
		return nil, err
	}

	var flipped []models.Ticket
	var firstErr error
	for _, key := range keys {
		var expired models.Ticket
		err := r.store.Update(ctx, key, func(current []byte) ([]byte, time.Time, error) {
			var ticket models.Ticket
			if err := json.Unmarshal(current, &ticket); err != nil {
				return nil, time.Time{}, err
			}
			if ticket.Status != models.TicketActive || r.now().Before(ticket.ExpiresAt) {
				return current, time.Time{}, nil
			}
			ticket.Status = models.TicketExpired
			expired = ticket
			next, err := json.Marshal(ticket)
			return next, time.Time{}, err
		})
		if err != nil {
			if !errors.Is(err, kv.ErrNotFound) && firstErr == nil {
				firstErr = err
			}
			continue
		}
		if expired.ID != "" {
			flipped = append(flipped, expired)
		}
	}
	return flipped, firstErr
}

// ExpiredRooms returns rooms that are still active but past their expiry.
// Creator-deleted rooms are deactivated at delete time with their own
// notice, so the sweep only ever reports time-driven expiry.
func (r *Registry) ExpiredRooms(ctx context.Context) ([]models.Room, error) {
	keys, err := r.store.Keys(ctx, roomPrefix)
	if err != nil {
		return nil, err
	}

	var expired []models.Room
	for _, key := range keys {
		var room models.Room
		if err := r.get(ctx, key, &room); err != nil {
			continue
		}
		if room.IsActive && !r.now().Before(room.ExpiresAt) {
			expired = append(expired, room)
		}
	}
	return expired, nil
}

// Counts reports active ticket and room totals for the health endpoint.
func (r *Registry) Counts(ctx context.Context) (activeTickets, activeRooms int, err error) {
	ticketKeys, err := r.store.Keys(ctx, ticketPrefix)
	if err != nil {
		return 0, 0, err
	}
	for _, key := range ticketKeys {
		var ticket models.Ticket
		if err := r.get(ctx, key, &ticket); err == nil && r.ValidateTicket(ticket) {
			activeTickets++
		}
	}

	roomKeys, err := r.store.Keys(ctx, roomPrefix)
	if err != nil {
		return 0, 0, err
	}
	for _, key := range roomKeys {
		var room models.Room
		if err := r.get(ctx, key, &room); err == nil && room.IsActive && r.now().Before(room.ExpiresAt) {
			activeRooms++
		}
	}
	return activeTickets, activeRooms, nil
}

func (r *Registry) put(ctx context.Context, key string, v any, expiresAt time.Time) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return r.store.Set(ctx, key, raw, expiresAt)
}

func (r *Registry) get(ctx context.Context, key string, v any) error {
	raw, err := r.store.Get(ctx, key)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}

func newRoomID(now time.Time) string {
	buf := make([]byte, 5)
	_, _ = rand.Read(buf)
	return fmt.Sprintf("room_%d_%s", now.UnixMilli(), hex.EncodeToString(buf))
}

func newCreatorToken() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
