package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Session  SessionConfig
	WebAuthn WebAuthnConfig
	Realtime RealtimeConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string `env:"PORT" envDefault:"8080"`
	ReadTimeout        int    `env:"READ_TIMEOUT_SEC" envDefault:"30"`
	WriteTimeout       int    `env:"WRITE_TIMEOUT_SEC" envDefault:"30"`
	CORSAllowedOrigins string `env:"CORS_ALLOWED_ORIGINS" envDefault:"http://localhost:3000"` // comma-separated, or "*"
	CookieSecure       bool   `env:"COOKIE_SECURE" envDefault:"false"`
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL      string `env:"DATABASE_URL"` // if set, used as-is
	Host     string `env:"DB_HOST" envDefault:"localhost"`
	Port     string `env:"DB_PORT" envDefault:"5432"`
	User     string `env:"DB_USER" envDefault:"postgres"`
	Password string `env:"DB_PASSWORD" envDefault:"postgres"`
	DBName   string `env:"DB_NAME" envDefault:"pollcast"`
	SSLMode  string `env:"DB_SSLMODE" envDefault:"disable"`
	MaxConns int32  `env:"DB_MAX_CONNS" envDefault:"20"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
}

// SessionConfig holds cookie session settings.
type SessionConfig struct {
	Secret string        `env:"SESSION_SECRET"`
	TTL    time.Duration `env:"SESSION_TTL" envDefault:"360s"` // sliding, renewed on activity
	Store  string        `env:"SESSION_STORE" envDefault:"redis"` // redis | memory
}

// WebAuthnConfig holds relying party settings for passkey ceremonies.
type WebAuthnConfig struct {
	RPID          string        `env:"WEBAUTHN_RP_ID" envDefault:"localhost"`
	RPDisplayName string        `env:"WEBAUTHN_RP_DISPLAY_NAME" envDefault:"Pollcast"`
	RPOrigins     []string      `env:"WEBAUTHN_RP_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000"`
	CeremonyTTL   time.Duration `env:"CEREMONY_TTL" envDefault:"5m"`
}

// RealtimeConfig holds broadcast hub settings.
type RealtimeConfig struct {
	HubBuffer   int  `env:"HUB_BUFFER" envDefault:"64"`
	RedisFanout bool `env:"REDIS_FANOUT" envDefault:"false"`
}

// DSN returns the PostgreSQL connection string.
// If DatabaseConfig.URL is set (e.g. DATABASE_URL env), it is used as-is; otherwise built from components.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()      // .env
	_ = godotenv.Load("env") // env (no leading dot)

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the server cannot run with.
func (c *Config) Validate() error {
	if c.Session.Secret == "" {
		return errors.New("SESSION_SECRET must be set")
	}
	if len(c.WebAuthn.RPOrigins) == 0 {
		return errors.New("WEBAUTHN_RP_ORIGINS must list at least one origin")
	}
	switch c.Session.Store {
	case "redis", "memory":
	default:
		return fmt.Errorf("SESSION_STORE %q: want redis or memory", c.Session.Store)
	}
	if c.Realtime.HubBuffer <= 0 {
		return errors.New("HUB_BUFFER must be positive")
	}
	return nil
}
