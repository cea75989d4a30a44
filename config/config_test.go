package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, DriverSQLite, cfg.StoreDriver)
	assert.Equal(t, 5*time.Second, cfg.PollInterval)
	assert.Equal(t, "@every 10m", cfg.ReconcileSchedule)
	assert.True(t, cfg.AmountPolicy.Max.Equal(decimal.NewFromInt(1_000_000)))
	assert.Empty(t, cfg.AmountPolicy.MinByLocation)
	assert.Len(t, cfg.CORSOrigins, 2)
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("LEAL_PORT", "9090")
	t.Setenv("LEAL_STORE_DRIVER", "postgres")
	t.Setenv("LEAL_POSTGRES_DSN", "postgres://leal@localhost/leal")
	t.Setenv("LEAL_POLL_INTERVAL", "2s")
	t.Setenv("LEAL_LOCATION_MINIMUMS", "bog01:10000")
	t.Setenv("LEAL_LOG_FORMAT", "json")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, 2*time.Second, cfg.PollInterval)
	assert.True(t, cfg.AmountPolicy.MinByLocation["BOG01"].Equal(decimal.NewFromInt(10000)))
}

func TestLoad_Rejects(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"unknown driver", "LEAL_STORE_DRIVER", "mongo"},
		{"postgres without dsn", "LEAL_STORE_DRIVER", "postgres"},
		{"bad level", "LEAL_LOG_LEVEL", "loud"},
		{"bad format", "LEAL_LOG_FORMAT", "xml"},
		{"bad schedule", "LEAL_RECONCILE_SCHEDULE", "sometimes"},
		{"bad max amount", "LEAL_VISIT_MAX_AMOUNT", "lots"},
		{"bad minimums", "LEAL_LOCATION_MINIMUMS", "BOG01"},
		{"zero interval", "LEAL_POLL_INTERVAL", "0s"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
