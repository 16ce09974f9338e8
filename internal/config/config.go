package config // package config loads application configuration from environment variables

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds all runtime configuration values.  Every field maps to an
// environment variable; nested sections share a prefix (DB_, REDIS_, ...).
// A .env file in the working directory is loaded first when present so
// local development does not need exported variables.
type Config struct {
	Env         string          `env:"APP_ENV" envDefault:"dev"`   // application environment (dev/test/prod)
	Port        string          `env:"APP_PORT" envDefault:"8080"` // port to bind the HTTP server
	JWTSecret   string          `env:"JWT_SECRET,required,notEmpty"` // secret used to verify access tokens
	CORSOrigins []string        `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"*"`
	DB          DBConfig        `envPrefix:"DB_"`
	Redis       RedisConfig     `envPrefix:"REDIS_"`
	RateLimit   RateLimitConfig `envPrefix:"RATE_LIMIT_"`
	Cache       CacheConfig     `envPrefix:"CACHE_"`
	Events      EventsConfig    `envPrefix:"EVENTS_"`
	Log         LogConfig       `envPrefix:"LOG_"`
	Policy      PolicyConfig    `envPrefix:"POLICY_"`
}

// DBConfig selects the storage backend.  MySQL is the production store;
// sqlite (a single file) is used for local runs and tests.
type DBConfig struct {
	Driver       string `env:"DRIVER" envDefault:"mysql"`
	User         string `env:"USER" envDefault:"root"`
	Pass         string `env:"PASS"`
	Host         string `env:"HOST" envDefault:"127.0.0.1"`
	Port         string `env:"PORT" envDefault:"3306"`
	Name         string `env:"NAME" envDefault:"playtest"`
	Path         string `env:"PATH" envDefault:"data/playtest.db"`
	MaxOpenConns int    `env:"MAX_OPEN_CONNS" envDefault:"25"`
}

// PolicyConfig carries the product decisions the registration engine
// consults at runtime.
type PolicyConfig struct {
	// AutoConfirm is the default for sessions created without an explicit flag.
	AutoConfirm bool `env:"AUTO_CONFIRM" envDefault:"false"`
	// ReleaseOnLateLeave frees the slot when a participant leaves an ACTIVE session.
	ReleaseOnLateLeave bool `env:"RELEASE_ON_LATE_LEAVE" envDefault:"true"`
	// AttendanceGrace is how long after completion attendance can still be marked.
	AttendanceGrace time.Duration `env:"ATTENDANCE_GRACE" envDefault:"1h"`
	// LockWaitTimeout bounds how long a request waits for a session's lock.
	LockWaitTimeout time.Duration `env:"LOCK_WAIT_TIMEOUT" envDefault:"2s"`
	// TxMaxRetries bounds retries of transient database conflicts.
	TxMaxRetries uint64 `env:"TX_MAX_RETRIES" envDefault:"5"`
}

// Parse reads the optional .env file and the process environment.
func Parse() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.DB.Driver = strings.ToLower(strings.TrimSpace(cfg.DB.Driver))
	switch cfg.DB.Driver {
	case "mysql", "sqlite":
	default:
		return Config{}, fmt.Errorf("unsupported DB_DRIVER %q", cfg.DB.Driver)
	}
	cfg.RateLimit.normalize()
	cfg.Cache.normalize()
	if cfg.Policy.LockWaitTimeout <= 0 {
		cfg.Policy.LockWaitTimeout = 2 * time.Second
	}
	return cfg, nil
}

// Load is Parse for process entry points: configuration errors are fatal.
func Load() Config {
	cfg, err := Parse()
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}
	return cfg
}
