package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"
)

// minSecretLength is the minimum byte length of the ticket signing secret
// (256 bits). Anything shorter is refused at startup.
const minSecretLength = 32

type Config struct {
	// Server configuration
	Environment string

	// Redis configuration
	RedisURL      string
	RedisPassword string
	RedisDB       int

	// Ticket signing
	TicketHMACSecret string

	// Payment gateway webhook (shared HMAC key for signed deliveries)
	WebhookHMACKey string

	// Payment gateway PubNub notification channel
	GatewaySubscribeKey string
	GatewaySecretKey    string
	GatewayCipherKey    string
	GatewayUUID         string
	GatewayChannel      string

	// Payment gateway HTTP client (transaction re-checks)
	GatewayBaseURL   string
	GatewayPartnerID string
	GatewayClientID  string
	GatewayClientKey string

	// Proof artifacts
	QRStorageDir string
	QRSize       int

	// Cleanup configuration
	TicketRetention time.Duration
	SweepInterval   time.Duration

	// Gate protection
	GateScanRateLimit int

	// Monitoring
	EnableMetrics bool
	MetricsPort   string
}

// MustLoad reads the configuration from the environment and exits the
// process when a signing secret is missing or too short. A ticket signed
// with a weak secret is forgeable, and an empty webhook key would accept
// anyone's signature, so there is no degraded mode for either.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		log.Fatal(err)
	}
	return cfg
}

// Load reads the configuration from the environment and validates the
// signing material.
func Load() (*Config, error) {
	cfg := &Config{
		// Server
		Environment: getEnv("ENVIRONMENT", "development"),

		// Redis
		RedisURL:      getEnv("REDIS_URL", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),

		// Signing
		TicketHMACSecret: getEnv("TICKET_HMAC_SECRET", ""),
		WebhookHMACKey:   getEnv("WEBHOOK_HMAC_KEY", ""),

		// Gateway notifications
		GatewaySubscribeKey: getEnv("GATEWAY_SUBSCRIBE_KEY", ""),
		GatewaySecretKey:    getEnv("GATEWAY_SECRET_KEY", ""),
		GatewayCipherKey:    getEnv("GATEWAY_CIPHER_KEY", ""),
		GatewayUUID:         getEnv("GATEWAY_UUID", "ticket-engine"),
		GatewayChannel:      getEnv("GATEWAY_CHANNEL", "gateway-payment-notifications"),

		// Gateway client
		GatewayBaseURL:   getEnv("GATEWAY_BASE_URL", ""),
		GatewayPartnerID: getEnv("GATEWAY_PARTNER_ID", ""),
		GatewayClientID:  getEnv("GATEWAY_CLIENT_ID", ""),
		GatewayClientKey: getEnv("GATEWAY_CLIENT_KEY", ""),

		// Proof artifacts
		QRStorageDir: getEnv("QR_STORAGE_DIR", "pb_data/storage/qr"),
		QRSize:       getEnvAsInt("QR_SIZE", 256),

		// Cleanup
		TicketRetention: getEnvAsDuration("TICKET_RETENTION", "720h"),
		SweepInterval:   getEnvAsDuration("SWEEP_INTERVAL", "1h"),

		// Gate protection
		GateScanRateLimit: getEnvAsInt("GATE_SCAN_RATE_LIMIT", 60),

		// Monitoring
		EnableMetrics: getEnvAsBool("ENABLE_METRICS", true),
		MetricsPort:   getEnv("METRICS_PORT", "9090"),
	}

	if len(cfg.TicketHMACSecret) < minSecretLength {
		return nil, fmt.Errorf("TICKET_HMAC_SECRET must be set and at least %d bytes, got %d", minSecretLength, len(cfg.TicketHMACSecret))
	}
	if cfg.WebhookHMACKey == "" {
		return nil, errors.New("WEBHOOK_HMAC_KEY must be set; an empty key would verify any caller's webhook signature")
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	valueStr := getEnv(key, defaultValue)
	if duration, err := time.ParseDuration(valueStr); err == nil {
		return duration
	}
	// If parsing fails, fall back to the default value
	duration, _ := time.ParseDuration(defaultValue)
	return duration
}
