// Package sweeper drives ticket and room expiry. Every iteration is
// error-isolated: one bad record never stops future sweeps.
package sweeper

import (
	"context"
	"log"
	"time"

	"secure-chat-service/internal/observability"
	"secure-chat-service/internal/registry"
	"secure-chat-service/internal/ws"
)

// Sweeper periodically expires tickets and tears down expired rooms.
type Sweeper struct {
	registry *registry.Registry
	hub      *ws.Hub

	ticketInterval time.Duration
	roomInterval   time.Duration

	stop chan struct{}
	done chan struct{}
}

// New constructs a Sweeper.
func New(reg *registry.Registry, hub *ws.Hub, ticketInterval, roomInterval time.Duration) *Sweeper {
	return &Sweeper{
		registry:       reg,
		hub:            hub,
		ticketInterval: ticketInterval,
		roomInterval:   roomInterval,
		stop:           make(chan struct{}),
		done:           make(chan struct{}),
	}
}

// Start runs the sweep loops until Stop is called.
func (s *Sweeper) Start() {
	go func() {
		defer close(s.done)

		ticketTicker := time.NewTicker(s.ticketInterval)
		roomTicker := time.NewTicker(s.roomInterval)
		defer ticketTicker.Stop()
		defer roomTicker.Stop()

		for {
			select {
			case <-ticketTicker.C:
				s.SweepTickets(context.Background())
			case <-roomTicker.C:
				s.SweepRooms(context.Background())
			case <-s.stop:
				return
			}
		}
	}()
}

// Stop halts the sweep loops and waits for the current iteration.
func (s *Sweeper) Stop() {
	close(s.stop)
	<-s.done
}

// SweepTickets flips every active ticket past its expiry to expired.
func (s *Sweeper) SweepTickets(ctx context.Context) {
	observability.IncSweep("tickets")

	flipped, err := s.registry.ExpireTickets(ctx)
	if err != nil {
		log.Printf("ticket sweep error: %v", err)
	}
	for _, ticket := range flipped {
		log.Printf("ticket expired ticket_id=%s room_id=%s", ticket.ID, ticket.RoomID)
	}
}

// SweepRooms deactivates every room past its expiry, broadcasts the expiry
// notice, and force-disconnects its members. Deactivation happens before
// the broadcast so a join racing the sweep fails its commit-time re-check
// instead of landing in a half-torn-down room.
func (s *Sweeper) SweepRooms(ctx context.Context) {
	observability.IncSweep("rooms")

	expired, err := s.registry.ExpiredRooms(ctx)
	if err != nil {
		log.Printf("room sweep error: %v", err)
		return
	}

	for _, room := range expired {
		if err := s.registry.DeactivateRoom(ctx, room.ID); err != nil {
			log.Printf("room sweep: deactivate %s: %v", room.ID, err)
			continue
		}

		members := s.hub.Teardown(room.ID, ws.ReasonExpired)
		observability.IncRoomClosed(ws.ReasonExpired)
		_ = observability.PublishEvent(ctx, "room_events.closed", observability.EventEnvelope{
			EventType: "room_events",
			EventName: "room_expired",
			Payload:   map[string]any{"room_id": room.ID, "members": members},
		})
		log.Printf("room expired room_id=%s members=%d", room.ID, members)
	}
}
