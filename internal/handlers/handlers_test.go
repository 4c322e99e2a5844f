package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"secure-chat-service/internal/kv"
	"secure-chat-service/internal/mocks"
	"secure-chat-service/internal/payments"
	"secure-chat-service/internal/registry"
	"secure-chat-service/internal/telemetry"
	"secure-chat-service/internal/ws"
)

type apiRig struct {
	router  *gin.Engine
	reg     *registry.Registry
	hub     *ws.Hub
	gateway *mocks.GatewayMock
}

func newAPIRig(t *testing.T) *apiRig {
	t.Helper()
	gin.SetMode(gin.TestMode)

	reg := registry.New(kv.NewMemoryStore(), time.Hour)
	hub := ws.NewHub()
	gateway := &mocks.GatewayMock{}
	audit := telemetry.NewAuditEmitter(nil, "audit.chat", "secure-chat-service", "test")

	paymentHandler := NewPaymentHandler(reg, gateway, audit)
	ticketHandler := NewTicketHandler(reg, hub)
	healthHandler := NewHealthHandler(reg, hub, "in-memory")

	router := gin.New()
	router.GET("/", healthHandler.Root)
	router.GET("/api/health", healthHandler.Health)
	router.POST("/api/create-order", paymentHandler.CreateOrder)
	router.POST("/api/verify-payment", paymentHandler.VerifyPayment)
	router.GET("/api/ticket/:ticket_id", ticketHandler.GetTicket)
	router.GET("/api/room/:room_id/stats", ticketHandler.GetRoomStats)

	return &apiRig{router: router, reg: reg, hub: hub, gateway: gateway}
}

func (r *apiRig) do(t *testing.T, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.router.ServeHTTP(rec, req)

	var parsed map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &parsed))
	}
	return rec, parsed
}

func TestCreateOrder(t *testing.T) {
	rig := newAPIRig(t)
	rig.gateway.On("CreateOrder", mock.Anything, int64(10000), "INR", mock.AnythingOfType("string")).
		Return(payments.Order{ID: "order_1", Amount: 10000, Currency: "INR"}, nil)

	rec, body := rig.do(t, http.MethodPost, "/api/create-order", map[string]any{"amount": 100})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "order_1", body["orderId"])
	assert.EqualValues(t, 10000, body["amount"])
	assert.Equal(t, "INR", body["currency"])
	require.NotEmpty(t, body["paymentId"])

	payment, err := rig.reg.LookupPayment(context.Background(), body["paymentId"].(string))
	require.NoError(t, err)
	assert.Equal(t, "order_1", payment.GatewayOrderID)
	rig.gateway.AssertExpectations(t)
}

func TestCreateOrderMissingAmount(t *testing.T) {
	rig := newAPIRig(t)

	rec, _ := rig.do(t, http.MethodPost, "/api/create-order", map[string]any{"currency": "INR"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateOrderGatewayFailure(t *testing.T) {
	rig := newAPIRig(t)
	rig.gateway.On("CreateOrder", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(payments.Order{}, errors.New("gateway down"))

	rec, body := rig.do(t, http.MethodPost, "/api/create-order", map[string]any{"amount": 100})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Failed to create order", body["error"])
}

func TestVerifyPaymentIssuesTicket(t *testing.T) {
	rig := newAPIRig(t)
	rig.gateway.On("VerifySignature", "order_1", "pay_1", "good-sig").Return(true)

	rec, body := rig.do(t, http.MethodPost, "/api/verify-payment", map[string]any{
		"gateway_payment_id": "pay_1",
		"gateway_order_id":   "order_1",
		"gateway_signature":  "good-sig",
		"creatorName":        "alice",
	})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["success"])
	require.NotEmpty(t, body["ticketId"])
	require.NotEmpty(t, body["roomId"])
	require.NotEmpty(t, body["creatorToken"])
	require.NotEmpty(t, body["expiresAt"])

	// The issued ticket is immediately retrievable and valid.
	rec, ticketBody := rig.do(t, http.MethodGet, "/api/ticket/"+body["ticketId"].(string), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, ticketBody["isValid"])
	assert.Equal(t, "alice", ticketBody["creatorName"])
	assert.Equal(t, body["roomId"], ticketBody["roomId"])
}

func TestVerifyPaymentInvalidSignature(t *testing.T) {
	rig := newAPIRig(t)
	rig.gateway.On("VerifySignature", "order_1", "pay_1", "bad-sig").Return(false)

	rec, body := rig.do(t, http.MethodPost, "/api/verify-payment", map[string]any{
		"gateway_payment_id": "pay_1",
		"gateway_order_id":   "order_1",
		"gateway_signature":  "bad-sig",
		"creatorName":        "alice",
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid signature", body["error"])

	// A rejected verification leaves no ticket or room behind.
	tickets, rooms, err := rig.reg.Counts(context.Background())
	require.NoError(t, err)
	assert.Zero(t, tickets)
	assert.Zero(t, rooms)
}

func TestVerifyPaymentMissingFields(t *testing.T) {
	rig := newAPIRig(t)

	rec, _ := rig.do(t, http.MethodPost, "/api/verify-payment", map[string]any{
		"gateway_payment_id": "pay_1",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetTicketNotFound(t *testing.T) {
	rig := newAPIRig(t)

	rec, body := rig.do(t, http.MethodGet, "/api/ticket/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Ticket not found", body["error"])
}

func TestGetTicketInactive(t *testing.T) {
	rig := newAPIRig(t)
	issued, err := rig.reg.IssueTicket(context.Background(), "alice", 100, "", "pay_1")
	require.NoError(t, err)
	_, err = rig.reg.DeleteTicket(context.Background(), issued.TicketID, issued.CreatorToken)
	require.NoError(t, err)

	rec, body := rig.do(t, http.MethodGet, "/api/ticket/"+issued.TicketID, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Ticket expired or inactive", body["error"])
}

func TestRoomStats(t *testing.T) {
	rig := newAPIRig(t)
	issued, err := rig.reg.IssueTicket(context.Background(), "alice", 100, "", "pay_1")
	require.NoError(t, err)

	rec, body := rig.do(t, http.MethodGet, "/api/room/"+issued.RoomID+"/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, issued.RoomID, body["roomId"])
	assert.Equal(t, "alice", body["creatorName"])
	assert.Equal(t, true, body["isActive"])
	assert.EqualValues(t, 0, body["currentUsers"])
	assert.Greater(t, body["timeLeftMs"].(float64), float64(0))
}

func TestRoomStatsNotFound(t *testing.T) {
	rig := newAPIRig(t)

	rec, body := rig.do(t, http.MethodGet, "/api/room/nope/stats", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Room not found", body["error"])
}

func TestHealth(t *testing.T) {
	rig := newAPIRig(t)
	_, err := rig.reg.IssueTicket(context.Background(), "alice", 100, "", "pay_1")
	require.NoError(t, err)

	rec, body := rig.do(t, http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", body["status"])

	stats := body["stats"].(map[string]any)
	assert.EqualValues(t, 1, stats["activeTickets"])
	assert.EqualValues(t, 1, stats["activeRooms"])
	assert.EqualValues(t, 0, stats["connectedUsers"])
}

func TestRoot(t *testing.T) {
	rig := newAPIRig(t)

	rec, body := rig.do(t, http.MethodGet, "/", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Secure Chat Server", body["message"])
	assert.Equal(t, "running", body["status"])
	assert.NotEmpty(t, body["endpoints"])
}
