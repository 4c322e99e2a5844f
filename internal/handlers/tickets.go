package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"secure-chat-service/internal/registry"
	"secure-chat-service/internal/ws"
)

// TicketHandler serves ticket and room lookups.
type TicketHandler struct {
	registry *registry.Registry
	hub      *ws.Hub
}

// NewTicketHandler constructs a TicketHandler.
func NewTicketHandler(reg *registry.Registry, hub *ws.Hub) *TicketHandler {
	return &TicketHandler{registry: reg, hub: hub}
}

// GetTicket handles GET /api/ticket/:ticket_id.
func (h *TicketHandler) GetTicket(c *gin.Context) {
	ticket, err := h.registry.LookupTicket(c.Request.Context(), c.Param("ticket_id"))
	if err != nil {
		if errors.Is(err, registry.ErrTicketNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Ticket not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Storage error"})
		return
	}

	if !h.registry.ValidateTicket(ticket) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Ticket expired or inactive"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"ticketId":    ticket.ID,
		"roomId":      ticket.RoomID,
		"creatorName": ticket.CreatorName,
		"expiresAt":   ticket.ExpiresAt.UTC().Format(time.RFC3339),
		"isValid":     true,
	})
}

// GetRoomStats handles GET /api/room/:room_id/stats.
func (h *TicketHandler) GetRoomStats(c *gin.Context) {
	room, err := h.registry.LookupRoom(c.Request.Context(), c.Param("room_id"))
	if err != nil {
		if errors.Is(err, registry.ErrRoomNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Room not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Storage error"})
		return
	}

	now := time.Now()
	timeLeft := time.Duration(0)
	if room.ExpiresAt.After(now) {
		timeLeft = room.ExpiresAt.Sub(now)
	}

	c.JSON(http.StatusOK, gin.H{
		"roomId":       room.ID,
		"creatorName":  room.CreatorName,
		"createdAt":    room.CreatedAt.UTC().Format(time.RFC3339),
		"expiresAt":    room.ExpiresAt.UTC().Format(time.RFC3339),
		"timeLeftMs":   timeLeft.Milliseconds(),
		"isActive":     room.IsActive && timeLeft > 0,
		"currentUsers": len(h.hub.Members(room.ID)),
	})
}
