package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ratewarden/ratewarden/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `{}`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "localhost:6379", cfg.Redis.GetRedisAddr())
	assert.Equal(t, 60, cfg.Limiter.DefaultRequests)
	assert.Equal(t, 100*time.Millisecond, cfg.Limiter.StoreTimeout())
	assert.Equal(t, 5*time.Minute, cfg.Limiter.TierCacheTTL())
	assert.Equal(t, 0.9, cfg.Behavior.AvgSmoothing)
	assert.Equal(t, 24*time.Hour, cfg.Behavior.SummaryTTL())
	assert.Equal(t, 3.0, cfg.Anomaly.RateSpikeRatio)
	assert.Equal(t, 5*time.Minute, cfg.Anomaly.AutoBlockTTL())
	assert.Equal(t, 30, cfg.Analytics.DayRetentionDay)
}

func TestLoadParsesTiersAndEndpoints(t *testing.T) {
	path := writeConfig(t, `{
		"limiter": {"default_requests": 120, "default_window_seconds": 60},
		"tiers": [
			{"name": "free", "requests_per_minute": 60, "burst_multiplier": 1.0, "priority_weight": 1.0},
			{"name": "premium", "requests_per_minute": 600, "burst_multiplier": 2.0, "priority_weight": 10.0}
		],
		"endpoints": [
			{"path_pattern": "/api/reports", "method": "GET", "complexity": "high", "cost_multiplier": 5.0},
			{"path_pattern": "/api/users/*/export", "method": "POST", "complexity": "critical", "cost_multiplier": 10.0, "max_concurrent": 2}
		]
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, models.Quota{Requests: 120, Window: time.Minute}, cfg.Limiter.DefaultQuota())
	require.Len(t, cfg.Tiers, 2)
	assert.Equal(t, 10.0, cfg.Tiers[1].PriorityWeight)
	require.Len(t, cfg.Endpoints, 2)
	assert.Equal(t, models.ComplexityCritical, cfg.Endpoints[1].Complexity)
	assert.Equal(t, 2, cfg.Endpoints[1].MaxConcurrent)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestLoadRejectsMalformedJSON(t *testing.T) {
	path := writeConfig(t, `{"limiter": `)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidateRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{
			name: "negative default requests",
			body: `{"limiter": {"default_requests": -1}}`,
		},
		{
			name: "negative burst",
			body: `{"limiter": {"default_burst": -5}}`,
		},
		{
			name: "tier without a name",
			body: `{"tiers": [{"requests_per_minute": 60}]}`,
		},
		{
			name: "negative tier quota",
			body: `{"tiers": [{"name": "free", "requests_per_minute": -60}]}`,
		},
		{
			name: "negative priority weight",
			body: `{"tiers": [{"name": "free", "priority_weight": -1.0}]}`,
		},
		{
			name: "endpoint without a pattern",
			body: `{"endpoints": [{"method": "GET"}]}`,
		},
		{
			name: "negative cost multiplier",
			body: `{"endpoints": [{"path_pattern": "/api/x", "method": "GET", "cost_multiplier": -2.0}]}`,
		},
		{
			name: "avg smoothing out of range",
			body: `{"behavior": {"avg_smoothing": 1.5}}`,
		},
		{
			name: "error up smoothing out of range",
			body: `{"behavior": {"error_up_smoothing": 1.0}}`,
		},
		{
			name: "error decay out of range",
			body: `{"behavior": {"error_decay": -0.5}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.body)
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://env-host/ratewarden")
	t.Setenv("REDIS_PASSWORD", "env-secret")
	t.Setenv("ADMIN_JWT_SECRET", "env-jwt")

	path := writeConfig(t, `{
		"postgres": {"dsn": "postgres://file-host/ratewarden"},
		"redis": {"password": "file-secret"}
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "postgres://env-host/ratewarden", cfg.Postgres.DSN)
	assert.Equal(t, "env-secret", cfg.Redis.Password)
	assert.Equal(t, "env-jwt", cfg.Server.JWTSecret)
}
