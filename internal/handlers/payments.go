package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"secure-chat-service/internal/observability"
	"secure-chat-service/internal/payments"
	"secure-chat-service/internal/registry"
	"secure-chat-service/internal/telemetry"
)

// PaymentHandler manages the payment-gateway boundary: order creation and
// webhook signature verification. A verified payment is the only way a
// ticket and room come into existence.
type PaymentHandler struct {
	registry *registry.Registry
	gateway  payments.Gateway
	audit    *telemetry.AuditEmitter
}

// NewPaymentHandler constructs a PaymentHandler.
func NewPaymentHandler(reg *registry.Registry, gateway payments.Gateway, audit *telemetry.AuditEmitter) *PaymentHandler {
	return &PaymentHandler{registry: reg, gateway: gateway, audit: audit}
}

// CreateOrder handles POST /api/create-order.
func (h *PaymentHandler) CreateOrder(c *gin.Context) {
	var req struct {
		Amount   int64  `json:"amount" binding:"required"`
		Currency string `json:"currency"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Currency == "" {
		req.Currency = "INR"
	}

	receipt := fmt.Sprintf("receipt_%d", time.Now().UnixMilli())
	order, err := h.gateway.CreateOrder(c.Request.Context(), req.Amount*100, req.Currency, receipt)
	if err != nil {
		h.audit.Emit(c.Request.Context(), "ERROR", "order creation failed", requestIDFromContext(c))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create order"})
		return
	}

	payment, err := h.registry.CreatePayment(c.Request.Context(), order.ID, req.Amount, req.Currency)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create order"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"orderId":   order.ID,
		"amount":    order.Amount,
		"currency":  order.Currency,
		"paymentId": payment.ID,
	})
}

// VerifyPayment handles POST /api/verify-payment. A valid gateway signature
// issues the ticket, its room, and the creator token in one step; an
// invalid one leaves no ticket or room behind.
func (h *PaymentHandler) VerifyPayment(c *gin.Context) {
	var req struct {
		GatewayPaymentID string `json:"gateway_payment_id" binding:"required"`
		GatewayOrderID   string `json:"gateway_order_id" binding:"required"`
		GatewaySignature string `json:"gateway_signature" binding:"required"`
		PaymentID        string `json:"paymentId"`
		CreatorName      string `json:"creatorName" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if !h.gateway.VerifySignature(req.GatewayOrderID, req.GatewayPaymentID, req.GatewaySignature) {
		h.audit.Emit(c.Request.Context(), "ERROR", "invalid payment signature", requestIDFromContext(c))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid signature"})
		return
	}

	amount := int64(1)
	if payment, err := h.registry.LookupPayment(c.Request.Context(), req.PaymentID); err == nil {
		amount = payment.Amount
	}

	issued, err := h.registry.IssueTicket(c.Request.Context(), req.CreatorName, amount, req.PaymentID, req.GatewayPaymentID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Payment verification failed"})
		return
	}

	observability.IncTicketIssued()
	h.audit.EmitRoom(c.Request.Context(), "INFO", "ticket issued", requestIDFromContext(c), issued.RoomID, issued.TicketID)

	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"ticketId":     issued.TicketID,
		"roomId":       issued.RoomID,
		"creatorToken": issued.CreatorToken,
		"expiresAt":    issued.ExpiresAt.UTC().Format(time.RFC3339),
	})
}
