// Package config loads process configuration from the environment. A .env
// file in the working directory is loaded first when present; real
// environment variables win.
package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string
	Env             string
	LogLevel        string
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
}

// Auth configures bearer-token verification. An empty SigningKey disables
// authentication, which is only accepted outside production.
type Auth struct {
	SigningKey string
	Issuer     string
}

type Database struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig is consumed by the redis client constructor.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type Kafka struct {
	Brokers       []string
	AuditTopic    string
	RelayInterval time.Duration
	RelayBatch    int
}

// Attendance holds engine tuning and key material.
type Attendance struct {
	SealKey          []byte
	CoordinateKey    []byte
	TxTimeout        time.Duration
	FacilityTimeout  time.Duration
	FacilityCacheTTL time.Duration
	FacilityRadius   float64
	SeedDemo         bool
	// ClockRateLimit caps clock submissions per caller per ClockRateWindow.
	// Zero disables the limit.
	ClockRateLimit  int
	ClockRateWindow time.Duration
}

type Config struct {
	Server     Server
	Auth       Auth
	Database   Database
	Redis      RedisConfig
	Kafka      Kafka
	Attendance Attendance
}

const (
	devSealKey       = "dev-record-seal-key-change-in-production"
	devCoordinateKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"
)

// Load reads .env if present and builds the configuration.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return FromEnv()
}

// FromEnv builds a Config from environment variables so main stays lean.
func FromEnv() (Config, error) {
	var p parser
	cfg := Config{
		Server: Server{
			Addr:            envOr("ROTACLOCK_ADDR", ":8080"),
			Env:             envOr("ENV", "development"),
			LogLevel:        envOr("LOG_LEVEL", "info"),
			RequestTimeout:  p.duration("REQUEST_TIMEOUT", 10*time.Second),
			ShutdownTimeout: p.duration("SHUTDOWN_TIMEOUT", 15*time.Second),
		},
		Auth: Auth{
			SigningKey: os.Getenv("AUTH_SIGNING_KEY"),
			Issuer:     os.Getenv("AUTH_ISSUER"),
		},
		Database: Database{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    p.integer("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    p.integer("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: p.duration("DATABASE_CONN_MAX_LIFETIME", 30*time.Minute),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     p.integer("REDIS_POOL_SIZE", 10),
			MinIdleConns: p.integer("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  p.duration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  p.duration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: p.duration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Kafka: Kafka{
			Brokers:       splitList(os.Getenv("KAFKA_BROKERS")),
			AuditTopic:    envOr("KAFKA_AUDIT_TOPIC", "rotaclock.audit"),
			RelayInterval: p.duration("OUTBOX_RELAY_INTERVAL", time.Second),
			RelayBatch:    p.integer("OUTBOX_RELAY_BATCH", 100),
		},
		Attendance: Attendance{
			SealKey:          []byte(envOr("RECORD_SEAL_KEY", devSealKey)),
			CoordinateKey:    p.hexKey("COORDINATE_KEY", devCoordinateKey),
			TxTimeout:        p.duration("TX_TIMEOUT", 5*time.Second),
			FacilityTimeout:  p.duration("FACILITY_TIMEOUT", 2*time.Second),
			FacilityCacheTTL: p.duration("FACILITY_CACHE_TTL", 24*time.Hour),
			FacilityRadius:   p.float("FACILITY_MATCH_RADIUS_METERS", 500),
			SeedDemo:         os.Getenv("SEED_DEMO") == "true",
			ClockRateLimit:   p.integer("RATE_LIMIT_CLOCK_PER_WINDOW", 20),
			ClockRateWindow:  p.duration("RATE_LIMIT_CLOCK_WINDOW", time.Minute),
		},
	}
	if p.err != nil {
		return Config{}, p.err
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// IsProduction reports whether the process runs with production settings.
func (c Config) IsProduction() bool {
	return c.Server.Env == "production"
}

func (c Config) validate() error {
	if !c.IsProduction() {
		return nil
	}
	if c.Auth.SigningKey == "" {
		return fmt.Errorf("AUTH_SIGNING_KEY is required in production")
	}
	if string(c.Attendance.SealKey) == devSealKey {
		return fmt.Errorf("RECORD_SEAL_KEY must be set in production")
	}
	if hex.EncodeToString(c.Attendance.CoordinateKey) == devCoordinateKey {
		return fmt.Errorf("COORDINATE_KEY must be set in production")
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parser keeps the first conversion error so FromEnv reads top to bottom.
type parser struct {
	err error
}

func (p *parser) fail(key string, err error) {
	if p.err == nil {
		p.err = fmt.Errorf("invalid %s: %w", key, err)
	}
}

func (p *parser) duration(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		p.fail(key, err)
		return fallback
	}
	return d
}

func (p *parser) integer(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		p.fail(key, err)
		return fallback
	}
	return n
}

func (p *parser) float(key string, fallback float64) float64 {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		p.fail(key, err)
		return fallback
	}
	return f
}

func (p *parser) hexKey(key, fallback string) []byte {
	raw := envOr(key, fallback)
	b, err := hex.DecodeString(raw)
	if err != nil {
		p.fail(key, err)
		return nil
	}
	if len(b) != 32 {
		p.fail(key, fmt.Errorf("want 32 bytes, got %d", len(b)))
		return nil
	}
	return b
}
