package api

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, ":8090", cfg.ListenAddr)
	assert.Equal(t, "sqlite", cfg.SourceDriver)
	assert.Equal(t, "fieldsync.runs", cfg.KafkaTopic)
	assert.Equal(t, 30, cfg.RetentionDays())
	assert.Zero(t, cfg.MaxRetries)
	assert.Equal(t, 7*24*time.Hour, cfg.WindowPast)
	assert.Equal(t, 30*24*time.Hour, cfg.WindowFuture)
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("SYNC_LISTEN_ADDR", ":9999")
	t.Setenv("SYNC_RETENTION", "14d")
	t.Setenv("SYNC_SWEEP_INTERVAL", "15m")
	t.Setenv("SYNC_MAX_RETRIES", "5")
	t.Setenv("SYNC_SOURCE_DRIVER", "sqlite3")
	t.Setenv("SYNC_KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("SYNC_CORS_ORIGINS", "https://ops.example.com")
	t.Setenv("SYNC_WEBHOOK_URL", "https://hooks.example.com/fieldsync")
	t.Setenv("SYNC_WEBHOOK_SECRET", "whsec")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, ":9999", cfg.ListenAddr)
	assert.Equal(t, 14, cfg.RetentionDays())
	assert.Equal(t, 15*time.Minute, cfg.SweepInterval)
	assert.Equal(t, 5, cfg.MaxRetries)
	assert.Equal(t, "sqlite3", cfg.SourceDriver)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Len(t, cfg.CORSAllowedOrigins, 1)
	assert.Equal(t, "https://hooks.example.com/fieldsync", cfg.WebhookURL)
	assert.Equal(t, "whsec", cfg.WebhookSecret)
}

func TestLoadConfigRejectsBadValues(t *testing.T) {
	t.Setenv("SYNC_MAX_RETRIES", "-1")
	t.Setenv("SYNC_RUN_TIMEOUT", "soon")
	t.Setenv("SYNC_SOURCE_DRIVER", "postgres")
	t.Setenv("SYNC_RETENTION", "2h")

	_, err := LoadConfig()
	require.Error(t, err)
	for _, want := range []string{"SYNC_MAX_RETRIES", "SYNC_RUN_TIMEOUT", "SYNC_SOURCE_DRIVER", "SYNC_RETENTION"} {
		assert.ErrorContains(t, err, want)
	}
}

func TestParseDaysDuration(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"30d", 30 * 24 * time.Hour},
		{" 1d ", 24 * time.Hour},
		{"90m", 90 * time.Minute},
		{"0d", 0},
		{"x", 0},
		{"36500d", 36500 * 24 * time.Hour},
		{"200000d", 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, parseDaysDuration(tt.in), tt.in)
	}
}
