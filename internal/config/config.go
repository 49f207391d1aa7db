package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Store drivers accepted by STORE_DRIVER.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName                string        `env:"APP_NAME" envDefault:"WalletLedger"`
	AppEnv                 string        `env:"APP_ENV" envDefault:"development"`
	Port                   string        `env:"PORT" envDefault:"8080"`
	LogLevel               string        `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat              string        `env:"LOG_FORMAT" envDefault:"json"`
	StoreDriver            string        `env:"STORE_DRIVER" envDefault:"memory"`
	DatabaseURL            string        `env:"DATABASE_URL"`
	DatabaseMaxConns       int32         `env:"DATABASE_MAX_CONNS" envDefault:"10"`
	SQLitePath             string        `env:"SQLITE_PATH" envDefault:"walletledger.db"`
	RedisURL               string        `env:"REDIS_URL"`
	JWTSecret              string        `env:"JWT_SECRET"`
	RefreshSecret          string        `env:"REFRESH_SECRET"`
	AccessTokenTTL         time.Duration `env:"ACCESS_TOKEN_TTL" envDefault:"15m"`
	RefreshTokenTTL        time.Duration `env:"REFRESH_TOKEN_TTL" envDefault:"168h"`
	ShutdownPeriod         time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	IdempotencyTTL         time.Duration `env:"IDEMPOTENCY_TTL" envDefault:"24h"`
	LoginAttemptsPerMinute int           `env:"LOGIN_ATTEMPTS_PER_MINUTE" envDefault:"5"`
}

const (
	devJWTSecret     = "dev-access-secret"
	devRefreshSecret = "dev-refresh-secret"
)

// Load reads an optional .env file, then the environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return Parse()
}

// Parse populates a Config from the process environment and validates it.
func Parse() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	cfg.StoreDriver = strings.ToLower(cfg.StoreDriver)

	if cfg.IsDev() {
		if cfg.JWTSecret == "" {
			cfg.JWTSecret = devJWTSecret
		}
		if cfg.RefreshSecret == "" {
			cfg.RefreshSecret = devRefreshSecret
		}
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.StoreDriver {
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL must be set when STORE_DRIVER=postgres")
		}
	case DriverSQLite:
		if c.SQLitePath == "" {
			return errors.New("SQLITE_PATH must be set when STORE_DRIVER=sqlite")
		}
	case DriverMemory:
		if !c.IsDev() {
			return fmt.Errorf("STORE_DRIVER=memory is not allowed when APP_ENV=%s", c.AppEnv)
		}
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}
	if c.IsDev() {
		return nil
	}
	if c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL must be set when APP_ENV=%s", c.AppEnv)
	}
	if c.JWTSecret == "" || c.RefreshSecret == "" {
		return fmt.Errorf("JWT_SECRET and REFRESH_SECRET must be set when APP_ENV=%s", c.AppEnv)
	}
	return nil
}

// IsDev reports whether the app runs in a local development environment.
func (c Config) IsDev() bool {
	switch strings.ToLower(c.AppEnv) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}
