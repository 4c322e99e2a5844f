package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"secure-chat-service/internal/registry"
	"secure-chat-service/internal/ws"
)

// HealthHandler serves liveness and the root service banner.
type HealthHandler struct {
	registry  *registry.Registry
	hub       *ws.Hub
	storeMode string
	startedAt time.Time
}

// NewHealthHandler constructs a HealthHandler.
func NewHealthHandler(reg *registry.Registry, hub *ws.Hub, storeMode string) *HealthHandler {
	return &HealthHandler{registry: reg, hub: hub, storeMode: storeMode, startedAt: time.Now()}
}

// Root handles GET /.
func (h *HealthHandler) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message": "Secure Chat Server",
		"status":  "running",
		"endpoints": gin.H{
			"health":      "/api/health",
			"createOrder": "/api/create-order",
			"verifyPayment": "/api/verify-payment",
			"ticket":      "/api/ticket/:ticketId",
		},
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// Health handles GET /api/health.
func (h *HealthHandler) Health(c *gin.Context) {
	activeTickets, activeRooms, err := h.registry.Counts(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"status":    "unhealthy",
			"error":     err.Error(),
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"storage":   gin.H{"mode": h.storeMode},
		"stats": gin.H{
			"activeRooms":    activeRooms,
			"activeTickets":  activeTickets,
			"connectedUsers": h.hub.ConnectionCount(),
		},
		"uptimeSeconds": int64(time.Since(h.startedAt).Seconds()),
	})
}
