package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	HTTPPort        string
	GRPCPort        string
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
	LogLevel        string

	// CartStore selects the remote cart backend: mongo or memory.
	CartStore             string
	MongoURI              string
	MongoDBName           string
	MongoMaxPool          int
	MongoMinPool          int
	MongoConnectTimeout   time.Duration
	MongoSelectionTimeout time.Duration

	PostgresHost       string
	PostgresPort       int
	PostgresUser       string
	PostgresPassword   string
	PostgresDB         string
	PostgresMigrations string

	// StorageDriver selects the session storage: redis, sqlite or memory.
	StorageDriver    string
	RedisAddr        string
	RedisPassword    string
	StorageTTL       time.Duration
	SQLitePath       string
	SQLiteMigrations string

	KafkaBrokers []string
	PaymentTopic string
	PaymentGroup string

	RecentEmptyWindow time.Duration
	TouchDebounce     time.Duration
	PersistDebounce   time.Duration

	BillingTTL          time.Duration
	TransferTTL         time.Duration
	ShippingTTL         time.Duration
	ThumbnailTTL        time.Duration
	ThumbnailMaxEntries int
	PruneInterval       time.Duration
	SessionIdleTimeout  time.Duration
}

// Load reads the configuration from the environment. Unset variables take
// their defaults; malformed numbers and durations are errors.
func Load() (*Config, error) {
	p := &parser{}
	cfg := &Config{
		HTTPPort:        getEnv("HTTP_PORT", "8080"),
		GRPCPort:        getEnv("GRPC_PORT", "50052"),
		RequestTimeout:  p.duration("REQUEST_TIMEOUT", 30*time.Second),
		ShutdownTimeout: p.duration("SHUTDOWN_TIMEOUT", 10*time.Second),
		LogLevel:        getEnv("LOG_LEVEL", "info"),

		CartStore:             strings.ToLower(getEnv("CART_STORE", "mongo")),
		MongoURI:              getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDBName:           getEnv("MONGO_DB_NAME", "cartdb"),
		MongoMaxPool:          p.int("MONGO_MAX_POOL", 100),
		MongoMinPool:          p.int("MONGO_MIN_POOL", 10),
		MongoConnectTimeout:   p.duration("MONGO_CONNECT_TIMEOUT", 10*time.Second),
		MongoSelectionTimeout: p.duration("MONGO_SERVER_SELECTION_TIMEOUT", 5*time.Second),

		PostgresHost:       getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:       p.int("POSTGRES_PORT", 5432),
		PostgresUser:       getEnv("POSTGRES_USER", "postgres"),
		PostgresPassword:   getEnv("POSTGRES_PASSWORD", ""),
		PostgresDB:         getEnv("POSTGRES_DB", "cartsync"),
		PostgresMigrations: getEnv("POSTGRES_MIGRATIONS", "internal/repository/migrations"),

		StorageDriver:    strings.ToLower(getEnv("STORAGE_DRIVER", "memory")),
		RedisAddr:        getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:    getEnv("REDIS_PASSWORD", ""),
		StorageTTL:       p.duration("STORAGE_TTL", 30*24*time.Hour),
		SQLitePath:       getEnv("SQLITE_PATH", "cartsync.db"),
		SQLiteMigrations: getEnv("SQLITE_MIGRATIONS", "internal/storage/migrations"),

		KafkaBrokers: splitList(getEnv("KAFKA_BROKERS", "")),
		PaymentTopic: getEnv("PAYMENT_TOPIC", "payment-events"),
		PaymentGroup: getEnv("PAYMENT_GROUP", "cartsync-payments"),

		RecentEmptyWindow: p.duration("RECENT_EMPTY_WINDOW", 10*time.Minute),
		TouchDebounce:     p.duration("TOUCH_DEBOUNCE", 150*time.Millisecond),
		PersistDebounce:   p.duration("PERSIST_DEBOUNCE", 300*time.Millisecond),

		BillingTTL:          p.duration("BILLING_TTL", 20*time.Minute),
		TransferTTL:         p.duration("TRANSFER_TTL", 20*time.Minute),
		ShippingTTL:         p.duration("SHIPPING_TTL", 10*time.Minute),
		ThumbnailTTL:        p.duration("THUMBNAIL_TTL", 30*time.Minute),
		ThumbnailMaxEntries: p.int("THUMBNAIL_MAX_ENTRIES", 5000),
		PruneInterval:       p.duration("PRUNE_INTERVAL", 5*time.Minute),
		SessionIdleTimeout:  p.duration("SESSION_IDLE_TIMEOUT", 24*time.Hour),
	}
	if p.err != nil {
		return nil, p.err
	}

	switch cfg.CartStore {
	case "mongo", "memory":
	default:
		return nil, fmt.Errorf("CART_STORE: unknown cart store %q", cfg.CartStore)
	}
	if cfg.MongoMaxPool < 1 || cfg.MongoMinPool < 0 || cfg.MongoMinPool > cfg.MongoMaxPool {
		return nil, fmt.Errorf("MONGO_MIN_POOL/MONGO_MAX_POOL: need 0 <= min <= max and max >= 1, got %d/%d", cfg.MongoMinPool, cfg.MongoMaxPool)
	}
	switch cfg.StorageDriver {
	case "redis", "sqlite", "memory":
	default:
		return nil, fmt.Errorf("STORAGE_DRIVER: unknown storage driver %q", cfg.StorageDriver)
	}
	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parser keeps the first malformed value so Load can report it once.
type parser struct {
	err error
}

func (p *parser) duration(key string, def time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("%s: %w", key, err)
	}
	if err != nil {
		return def
	}
	return d
}

func (p *parser) int(key string, def int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		if p.err == nil {
			p.err = fmt.Errorf("%s: %w", key, err)
		}
		return def
	}
	return n
}
