package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
)

type Config struct {
	Server    ServerConfig
	Storage   string
	Postgres  PostgresConfig
	Redis     RedisConfig
	Auth      AuthConfig
	Cache     CacheConfig
	RateLimit RateLimitConfig
	LogLevel  slog.Level
}

type ServerConfig struct {
	Host string
	Port int
}

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

type PostgresConfig struct {
	User         string
	Password     string
	Name         string
	Host         string
	Port         int
	SSLMode      string
	MaxConns     int32
	TxMaxRetries int
}

type AuthConfig struct {
	JWTSecret   string
	AssetIssuer string
}

type CacheConfig struct {
	TicketTTL time.Duration
	ListTTL   time.Duration
}

type RateLimitConfig struct {
	PurchaseLimit  int
	PurchaseWindow time.Duration
}

func New() (*Config, error) {
	const op = "config.New"

	_ = godotenv.Load()

	var err error
	cfg := &Config{}

	cfg.Server.Host = envDefault("SERVER_HOST", "localhost")
	if cfg.Server.Port, err = envInt("SERVER_PORT", 8080); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	cfg.Storage = strings.ToLower(envDefault("STORAGE_DRIVER", StoragePostgres))
	switch cfg.Storage {
	case StoragePostgres:
		if err := loadPostgres(&cfg.Postgres); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	case StorageMemory:
	default:
		return nil, fmt.Errorf("%s: unknown STORAGE_DRIVER %q", op, cfg.Storage)
	}

	if cfg.Redis.Enabled, err = envBool("REDIS_ENABLED", true); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	cfg.Redis.Addr = envDefault("REDIS_ADDR", "localhost:6380")
	cfg.Redis.Password = os.Getenv("REDIS_PASSWORD")
	if cfg.Redis.DB, err = envInt("REDIS_DB", 0); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	cfg.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	if cfg.Auth.JWTSecret == "" {
		return nil, fmt.Errorf("%s: missing JWT_SECRET", op)
	}
	cfg.Auth.AssetIssuer = os.Getenv("ASSET_ISSUER")

	if cfg.Cache.TicketTTL, err = envDuration("CACHE_TICKET_TTL", 30*time.Second); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if cfg.Cache.ListTTL, err = envDuration("CACHE_LIST_TTL", 5*time.Second); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if cfg.RateLimit.PurchaseLimit, err = envInt("PURCHASE_RATE_LIMIT", 10); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if cfg.RateLimit.PurchaseWindow, err = envDuration("PURCHASE_RATE_WINDOW", time.Minute); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := cfg.LogLevel.UnmarshalText([]byte(envDefault("LOG_LEVEL", "info"))); err != nil {
		return nil, fmt.Errorf("%s: invalid LOG_LEVEL: %w", op, err)
	}

	return cfg, nil
}

func loadPostgres(pg *PostgresConfig) error {
	var err error

	pg.Host = envDefault("POSTGRES_HOST", "localhost")
	if pg.Port, err = envInt("POSTGRES_PORT", 5432); err != nil {
		return err
	}

	pg.User = os.Getenv("POSTGRES_USER")
	if pg.User == "" {
		return fmt.Errorf("missing POSTGRES_USER")
	}

	pg.Password = os.Getenv("POSTGRES_PASSWORD")
	if pg.Password == "" {
		return fmt.Errorf("missing POSTGRES_PASSWORD")
	}

	pg.Name = os.Getenv("POSTGRES_DB")
	if pg.Name == "" {
		return fmt.Errorf("missing POSTGRES_DB")
	}

	pg.SSLMode = envDefault("POSTGRES_SSLMODE", "disable")

	maxConns, err := envInt("POSTGRES_MAX_CONNS", 10)
	if err != nil {
		return err
	}
	pg.MaxConns = int32(maxConns)

	if pg.TxMaxRetries, err = envInt("TX_MAX_RETRIES", 5); err != nil {
		return err
	}

	return nil
}

func envDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}

	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}

	return v, nil
}

func envBool(key string, def bool) (bool, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}

	v, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}

	return v, nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}

	v, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}

	return v, nil
}
