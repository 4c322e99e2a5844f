package main

import (
	"context"
	"log"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"secure-chat-service/internal/config"
	"secure-chat-service/internal/handlers"
	"secure-chat-service/internal/kv"
	"secure-chat-service/internal/observability"
	"secure-chat-service/internal/payments"
	"secure-chat-service/internal/rabbitmq"
	"secure-chat-service/internal/registry"
	"secure-chat-service/internal/sweeper"
	"secure-chat-service/internal/telemetry"
	"secure-chat-service/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx := context.Background()
	shutdownTracing, err := observability.SetupTracing(ctx, "secure-chat-service", cfg.OTLPEndpoint)
	if err != nil {
		log.Fatalf("failed to set up tracing: %v", err)
	}
	defer func() {
		if err := shutdownTracing(ctx); err != nil {
			log.Printf("tracing shutdown: %v", err)
		}
	}()

	var store kv.Store
	storeMode := "in-memory"
	if cfg.DatabaseDSN != "" {
		pg, err := kv.Connect(cfg.DatabaseDSN)
		if err != nil {
			log.Fatalf("failed to connect to db: %v", err)
		}
		store = pg
		storeMode = "postgres"
	} else {
		log.Println("no DB_DSN configured, using in-memory storage; tickets are lost on restart")
		store = kv.NewMemoryStore()
	}

	publisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange)
	defer publisher.Close()
	observability.SetPublisher(publisher)
	log.Printf("event publisher mode=%s", rabbitmq.PublisherMode(publisher))

	audit := telemetry.NewAuditEmitter(publisher, "audit.chat", "secure-chat-service", cfg.Environment)

	reg := registry.New(store, cfg.RoomLifetime)
	gateway := payments.NewClient(cfg.GatewayBaseURL, cfg.GatewayKeyID, cfg.GatewayKeySecret)

	hub := ws.NewHub()
	wsHandler := ws.NewHandler(hub, reg)

	paymentHandler := handlers.NewPaymentHandler(reg, gateway, audit)
	ticketHandler := handlers.NewTicketHandler(reg, hub)
	healthHandler := handlers.NewHealthHandler(reg, hub, storeMode)

	sweep := sweeper.New(reg, hub, cfg.TicketSweepInterval, cfg.RoomSweepInterval)
	sweep.Start()
	defer sweep.Stop()

	router := gin.Default()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("secure-chat-service"))
	router.Use(observability.HTTPMetricsMiddleware())

	router.GET("/", healthHandler.Root)
	router.GET("/api/health", healthHandler.Health)
	router.POST("/api/create-order", paymentHandler.CreateOrder)
	router.POST("/api/verify-payment", paymentHandler.VerifyPayment)
	router.GET("/api/ticket/:ticket_id", ticketHandler.GetTicket)
	router.GET("/api/room/:room_id/stats", ticketHandler.GetRoomStats)
	router.GET("/ws", wsHandler.Handle)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	handlers.RegisterDebugRoutes(router, audit, cfg.DebugRoutes)

	log.Printf("server starting port=%s storage=%s", cfg.Port, storeMode)
	if err := router.Run(":" + cfg.Port); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
