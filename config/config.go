// Package config loads server settings from LEAL_* environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/sebastianahumada1/Leal/loyalty"
)

const prefix = "LEAL"

// Store drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config holds every setting of the server.
type Config struct {
	// --- HTTP ---
	Port        int      `envconfig:"PORT" default:"8080"`
	CORSOrigins []string `envconfig:"CORS_ORIGINS" default:"http://localhost:5173,http://localhost:3000"`

	// --- Store ---
	StoreDriver string `envconfig:"STORE_DRIVER" default:"sqlite"`
	SQLitePath  string `envconfig:"SQLITE_PATH" default:"./data/leal.db"`
	PostgresDSN string `envconfig:"POSTGRES_DSN"`
	DBMaxConns  int32  `envconfig:"DB_MAX_CONNS" default:"10"`
	DBMinConns  int32  `envconfig:"DB_MIN_CONNS" default:"2"`

	// --- Logging ---
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"text"`

	// --- Live sync ---
	PollInterval time.Duration `envconfig:"POLL_INTERVAL" default:"5s"`
	// Empty keeps change events in process.
	RedisAddr string `envconfig:"REDIS_ADDR"`

	// --- Ledger ---
	ReconcileSchedule string `envconfig:"RECONCILE_SCHEDULE" default:"@every 10m"`
	VisitMaxAmount    string `envconfig:"VISIT_MAX_AMOUNT" default:"1000000"`
	// CODE:amount pairs, e.g. "BOG01:10000,MED02:5000".
	LocationMinimums string `envconfig:"LOCATION_MINIMUMS"`

	// Filled by Load.
	AmountPolicy loyalty.AmountPolicy `ignored:"true"`
}

// Load reads the environment and validates the result.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(prefix, &cfg); err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}

	policy, err := cfg.amountPolicy()
	if err != nil {
		return nil, err
	}
	cfg.AmountPolicy = policy

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) amountPolicy() (loyalty.AmountPolicy, error) {
	ceiling, err := decimal.NewFromString(strings.TrimSpace(c.VisitMaxAmount))
	if err != nil {
		return loyalty.AmountPolicy{}, fmt.Errorf("%s_VISIT_MAX_AMOUNT: %w", prefix, err)
	}
	mins, err := loyalty.ParseLocationMinimums(c.LocationMinimums)
	if err != nil {
		return loyalty.AmountPolicy{}, fmt.Errorf("%s_LOCATION_MINIMUMS: %w", prefix, err)
	}
	return loyalty.AmountPolicy{Max: ceiling, MinByLocation: mins}, nil
}

func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%s_PORT out of range: %d", prefix, c.Port)
	}
	switch c.StoreDriver {
	case DriverSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("%s_SQLITE_PATH is required for the sqlite driver", prefix)
		}
	case DriverPostgres:
		if c.PostgresDSN == "" {
			return fmt.Errorf("%s_POSTGRES_DSN is required for the postgres driver", prefix)
		}
		if c.DBMaxConns <= 0 || c.DBMinConns < 0 || c.DBMinConns > c.DBMaxConns {
			return fmt.Errorf("invalid %s_DB_MIN_CONNS/%s_DB_MAX_CONNS", prefix, prefix)
		}
	default:
		return fmt.Errorf("%s_STORE_DRIVER must be %q or %q, got %q", prefix, DriverSQLite, DriverPostgres, c.StoreDriver)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("%s_POLL_INTERVAL must be > 0", prefix)
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%s_LOG_LEVEL: %w", prefix, err)
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("%s_LOG_FORMAT must be text or json", prefix)
	}
	if c.ReconcileSchedule != "" {
		if _, err := cron.ParseStandard(c.ReconcileSchedule); err != nil {
			return fmt.Errorf("%s_RECONCILE_SCHEDULE: %w", prefix, err)
		}
	}
	return nil
}

// SetupLogging applies level and format to the standard logrus logger.
func (c *Config) SetupLogging() {
	if c.LogFormat == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
		})
	}
	if level, err := log.ParseLevel(c.LogLevel); err == nil {
		log.SetLevel(level)
	}
}
