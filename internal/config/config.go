package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	CatalogMongo  = "mongo"
	CatalogSQLite = "sqlite"
	CatalogMemory = "memory"
)

type Config struct {
	HTTPPort           string
	RequestTimeout     time.Duration
	ShutdownTimeout    time.Duration
	MaxRequestBodySize int64
	CORSAllowedOrigins []string
	DemoUserID         string

	MongoURI    string
	MongoDBName string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	CatalogDriver          string
	SQLitePath             string
	CatalogSeedPath        string
	CatalogBreakerFailures int
	CatalogBreakerTimeout  time.Duration

	KafkaBrokers       []string
	KafkaCheckoutTopic string
	KafkaGroupID       string

	CartMaxAttempts int
	LogLevel        string
}

// Load reads an optional .env file and then the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := &Config{
		HTTPPort:           getEnv("HTTP_PORT", "5000"),
		CORSAllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		DemoUserID:         getEnv("DEMO_USER_ID", "demo-user"),
		MongoURI:           getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDBName:        getEnv("MONGO_DB_NAME", "amazon_clone"),
		RedisAddr:          getEnv("REDIS_ADDR", ""),
		RedisPassword:      getEnv("REDIS_PASSWORD", ""),
		CatalogDriver:      strings.ToLower(getEnv("CATALOG_DRIVER", CatalogMongo)),
		SQLitePath:         getEnv("SQLITE_PATH", "./catalog.db"),
		CatalogSeedPath:    getEnv("CATALOG_SEED_PATH", ""),
		KafkaBrokers:       getEnvList("KAFKA_BROKERS", nil),
		KafkaCheckoutTopic: getEnv("KAFKA_CHECKOUT_TOPIC", "checkout-completed"),
		KafkaGroupID:       getEnv("KAFKA_GROUP_ID", "cart-service-consumer"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
	}

	var err error
	if cfg.RequestTimeout, err = getEnvDuration("REQUEST_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.ShutdownTimeout, err = getEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.MaxRequestBodySize, err = getEnvInt64("MAX_REQUEST_BODY_BYTES", 1<<20); err != nil { // 1MB
		return nil, err
	}
	if cfg.RedisDB, err = getEnvInt("REDIS_DB", 0); err != nil {
		return nil, err
	}
	if cfg.CartMaxAttempts, err = getEnvInt("CART_MAX_ATTEMPTS", 5); err != nil {
		return nil, err
	}
	if cfg.CatalogBreakerFailures, err = getEnvInt("CATALOG_BREAKER_FAILURES", 5); err != nil {
		return nil, err
	}
	if cfg.CatalogBreakerTimeout, err = getEnvDuration("CATALOG_BREAKER_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.CatalogDriver {
	case CatalogMongo, CatalogSQLite, CatalogMemory:
	default:
		return fmt.Errorf("invalid CATALOG_DRIVER %q: want mongo, sqlite or memory", c.CatalogDriver)
	}
	if c.CartMaxAttempts < 1 {
		return fmt.Errorf("CART_MAX_ATTEMPTS must be at least 1, got %d", c.CartMaxAttempts)
	}
	if c.CatalogBreakerFailures < 1 {
		return fmt.Errorf("CATALOG_BREAKER_FAILURES must be at least 1, got %d", c.CatalogBreakerFailures)
	}
	if c.MaxRequestBodySize <= 0 {
		return fmt.Errorf("MAX_REQUEST_BODY_BYTES must be positive, got %d", c.MaxRequestBodySize)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getEnvInt64(key string, defaultValue int64) (int64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
