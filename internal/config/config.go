package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the full service configuration, parsed from the environment.
type Config struct {
	Port        string `env:"PORT" envDefault:"8083"`
	Environment string `env:"ENVIRONMENT" envDefault:"development"`

	// DatabaseDSN selects the durable store. Empty means in-memory storage;
	// tickets and rooms are then lost on restart.
	DatabaseDSN string `env:"DB_DSN"`

	AMQPURL      string `env:"AMQP_URL"`
	AMQPExchange string `env:"AMQP_EXCHANGE" envDefault:"chat.events"`

	OTLPEndpoint string `env:"OTLP_ENDPOINT"`

	GatewayBaseURL   string `env:"GATEWAY_BASE_URL" envDefault:"https://api.razorpay.com/v1"`
	GatewayKeyID     string `env:"GATEWAY_KEY_ID"`
	GatewayKeySecret string `env:"GATEWAY_KEY_SECRET"`

	RoomLifetime        time.Duration `env:"ROOM_LIFETIME" envDefault:"1h"`
	TicketSweepInterval time.Duration `env:"TICKET_SWEEP_INTERVAL" envDefault:"5m"`
	RoomSweepInterval   time.Duration `env:"ROOM_SWEEP_INTERVAL" envDefault:"1m"`

	DebugRoutes bool `env:"DEBUG_ROUTES" envDefault:"false"`
}

// Load parses configuration from environment variables.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}
