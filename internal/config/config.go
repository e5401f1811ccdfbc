package config

import (
	"fmt"
	"math/big"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/core-coin/go-core/v2/common"
	"github.com/joho/godotenv"
)

// Storage backends.
const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
)

type Config struct {
	Development bool
	// API configuration
	APIPort int
	// Storage selects the persistence backend: memory or postgres
	Storage string
	// Postgres configuration
	PostgresUser     string
	PostgresPassword string
	PostgresHost     string
	PostgresPort     int
	PostgresDB       string
	// Blockchain configuration
	BlockchainServiceURL string
	NetworkID            *big.Int

	// Payment configuration
	PaymentRecipient    string
	PaymentRequestTTL   time.Duration
	FacilitatorURL      string
	FacilitatorAPIKey   string
	FacilitatorTimeout  time.Duration
	CatalogPath         string
	GracePeriod         time.Duration
	SchedulerInterval   time.Duration
	TokenUpdateInterval time.Duration

	// Webhook configuration
	WebhookURLs    []string
	WebhookSecret  string
	WebhookTimeout time.Duration

	// Redis configuration
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisChannel  string

	// SMTP configuration
	SMTPHost            string
	SMTPPort            int
	SMTPAlternativePort int
	SMTPUser            string
	SMTPPassword        string
	SMTPSender          string
	EventEmailTo        []string

	// Notification configuration
	TelegramBotToken string
	TelegramChatID   string

	// Well-known configuration
	WellKnownURL string
}

// GetNetworkName returns the network name for well-known API based on NetworkID
// NetworkID 1 = xcb (mainnet), NetworkID 3 = xab (devin testnet)
func (c *Config) GetNetworkName() string {
	if c.NetworkID.Cmp(big.NewInt(1)) == 0 {
		return "xcb" // Mainnet
	}
	if c.NetworkID.Cmp(big.NewInt(3)) == 0 {
		return "xab" // Devin testnet
	}
	// Default to xab (testnet) for unknown networks
	return "xab"
}

// LoadConfig loads the configuration from environment variables
func LoadConfig() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{
		Development:          getEnvAsBool("DEVELOPMENT", false),
		Storage:              getEnv("STORAGE", StorageMemory),
		PostgresUser:         getEnv("POSTGRES_USER", "postgres"),
		PostgresPassword:     getEnv("POSTGRES_PASSWORD", "password"),
		PostgresHost:         getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:         getEnvAsInt("POSTGRES_PORT", 5432),
		PostgresDB:           getEnv("POSTGRES_DB", "x402"),
		BlockchainServiceURL: getEnv("BLOCKCHAIN_SERVICE_URL", "http://localhost:8545"),
		NetworkID:            getEnvAsBigInt("NETWORK_ID", big.NewInt(1)), // Default to Mainnet ID

		PaymentRecipient:    getEnv("PAYMENT_RECIPIENT", ""),
		PaymentRequestTTL:   getEnvAsDuration("PAYMENT_REQUEST_TTL", 5*time.Minute),
		FacilitatorURL:      getEnv("FACILITATOR_URL", ""),
		FacilitatorAPIKey:   getEnv("FACILITATOR_API_KEY", ""),
		FacilitatorTimeout:  getEnvAsDuration("FACILITATOR_TIMEOUT", 10*time.Second),
		CatalogPath:         getEnv("CATALOG_PATH", "./configs/catalog.yaml"),
		GracePeriod:         time.Duration(getEnvAsInt("GRACE_PERIOD_DAYS", 3)) * 24 * time.Hour,
		SchedulerInterval:   getEnvAsDuration("SCHEDULER_INTERVAL", 5*time.Second),
		TokenUpdateInterval: getEnvAsDuration("TOKEN_UPDATE_INTERVAL", time.Hour),

		WebhookURLs:    getEnvAsList("WEBHOOK_URLS"),
		WebhookSecret:  getEnv("WEBHOOK_SECRET", ""),
		WebhookTimeout: getEnvAsDuration("WEBHOOK_TIMEOUT", 10*time.Second),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),
		RedisChannel:  getEnv("REDIS_CHANNEL", "x402:events"),

		TelegramBotToken:    getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:      getEnv("TELEGRAM_CHAT_ID", ""),
		SMTPHost:            getEnv("SMTP_HOST", ""),
		SMTPPort:            getEnvAsInt("SMTP_PORT", 587),
		SMTPAlternativePort: getEnvAsInt("SMTP_ALTERNATIVE_PORT", 465),
		SMTPUser:            getEnv("SMTP_USER", ""),
		SMTPPassword:        getEnv("SMTP_PASSWORD", ""),
		SMTPSender:          getEnv("SMTP_SENDER", ""),
		EventEmailTo:        getEnvAsList("EVENT_EMAIL_TO"),

		APIPort: getEnvAsInt("API_PORT", 6532),

		WellKnownURL: getEnv("WELL_KNOWN_URL", "https://coreblockchain.net"),
	}

	// Set default network ID before validation (required for address validation)
	common.DefaultNetworkID = common.NetworkID(cfg.NetworkID.Int64())

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are properly set
func (c *Config) Validate() error {
	if c.PaymentRecipient == "" {
		return fmt.Errorf("PAYMENT_RECIPIENT is required")
	}

	// Validate recipient address format
	if _, err := common.HexToAddress(c.PaymentRecipient); err != nil {
		return fmt.Errorf("invalid PAYMENT_RECIPIENT format: %w", err)
	}

	if c.FacilitatorURL == "" && c.BlockchainServiceURL == "" {
		return fmt.Errorf("BLOCKCHAIN_SERVICE_URL is required without FACILITATOR_URL")
	}

	if c.CatalogPath == "" {
		return fmt.Errorf("CATALOG_PATH is required")
	}

	switch c.Storage {
	case StorageMemory:
	case StoragePostgres:
		if c.PostgresDB == "" {
			return fmt.Errorf("POSTGRES_DB is required")
		}
		if c.PostgresHost == "" {
			return fmt.Errorf("POSTGRES_HOST is required")
		}
	default:
		return fmt.Errorf("unknown STORAGE %q", c.Storage)
	}

	if c.PaymentRequestTTL <= 0 {
		return fmt.Errorf("PAYMENT_REQUEST_TTL must be positive")
	}

	if c.GracePeriod < 0 {
		return fmt.Errorf("GRACE_PERIOD_DAYS must not be negative")
	}

	return nil
}

// Helper functions to read environment variables
func getEnv(key string, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(name string, defaultValue int) int {
	if valueStr, exists := os.LookupEnv(name); exists {
		if value, err := strconv.Atoi(valueStr); err == nil {
			return value
		}
	}
	return defaultValue
}

func getEnvAsBool(name string, defaultValue bool) bool {
	if valueStr, exists := os.LookupEnv(name); exists {
		if value, err := strconv.ParseBool(valueStr); err == nil {
			return value
		}
	}
	return defaultValue
}

func getEnvAsBigInt(name string, defaultValue *big.Int) *big.Int {
	if valueStr, exists := os.LookupEnv(name); exists {
		if value, ok := new(big.Int).SetString(valueStr, 10); ok {
			return value
		}
	}
	return defaultValue
}

// getEnvAsDuration accepts Go durations ("30s") or plain seconds ("30").
func getEnvAsDuration(name string, defaultValue time.Duration) time.Duration {
	if valueStr, exists := os.LookupEnv(name); exists {
		if value, err := time.ParseDuration(valueStr); err == nil {
			return value
		}
		if secs, err := strconv.Atoi(valueStr); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultValue
}

// getEnvAsList splits a comma separated variable, dropping empty items.
func getEnvAsList(name string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(name), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
