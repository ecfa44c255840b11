package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/ratewarden/ratewarden/internal/models"
)

type Config struct {
	Server    ServerConfig             `json:"server"`
	Redis     RedisConfig              `json:"redis"`
	Postgres  PostgresConfig           `json:"postgres"`
	Limiter   LimiterConfig            `json:"limiter"`
	Behavior  BehaviorConfig           `json:"behavior"`
	Anomaly   AnomalyConfig            `json:"anomaly"`
	Analytics AnalyticsConfig          `json:"analytics"`
	Tiers     []models.CallerTier      `json:"tiers"`
	Endpoints []models.EndpointProfile `json:"endpoints"`
}

type ServerConfig struct {
	Port        string `json:"port"`
	Environment string `json:"environment"`
	JWTSecret   string `json:"jwt_secret"` // overridable via ADMIN_JWT_SECRET
}

type RedisConfig struct {
	Host     string `json:"host"`
	Port     string `json:"port"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

func (r RedisConfig) GetRedisAddr() string {
	return r.Host + ":" + r.Port
}

type PostgresConfig struct {
	DSN string `json:"dsn"` // overridable via DATABASE_URL
}

type LimiterConfig struct {
	DefaultRequests    int  `json:"default_requests"`
	DefaultWindowSecs  int  `json:"default_window_seconds"`
	DefaultBurst       int  `json:"default_burst"`
	StoreTimeoutMs     int  `json:"store_timeout_ms"`
	TierCacheTTLSecs   int  `json:"tier_cache_ttl_seconds"`
	AnomalyDetection   bool `json:"anomaly_detection"`
	FailClosedCritical bool `json:"fail_closed_critical"`
}

func (l LimiterConfig) StoreTimeout() time.Duration {
	return time.Duration(l.StoreTimeoutMs) * time.Millisecond
}

func (l LimiterConfig) TierCacheTTL() time.Duration {
	return time.Duration(l.TierCacheTTLSecs) * time.Second
}

func (l LimiterConfig) DefaultQuota() models.Quota {
	return models.Quota{
		Requests: l.DefaultRequests,
		Window:   time.Duration(l.DefaultWindowSecs) * time.Second,
		Burst:    l.DefaultBurst,
	}
}

// Smoothing constants for the behavior tracker. The values are policy
// choices, kept configurable rather than hard-coded.
type BehaviorConfig struct {
	AvgSmoothing     float64 `json:"avg_smoothing"`      // weight of the previous average
	ErrorUpSmoothing float64 `json:"error_up_smoothing"` // weight of the previous error rate on a denial
	ErrorDecay       float64 `json:"error_decay"`        // decay applied on an allowed request
	SummaryTTLHours  int     `json:"summary_ttl_hours"`
	QueueSize        int     `json:"queue_size"`
}

func (b BehaviorConfig) SummaryTTL() time.Duration {
	return time.Duration(b.SummaryTTLHours) * time.Hour
}

type AnomalyConfig struct {
	RateSpikeRatio    float64 `json:"rate_spike_ratio"`
	ErrorSpikeRate    float64 `json:"error_spike_rate"`
	AbuseRequestFloor int64   `json:"abuse_request_floor"`
	AbuseEndpointCeil int     `json:"abuse_endpoint_ceil"`
	MinuteRequestCap  int64   `json:"minute_request_cap"`
	MinuteDenialCap   int64   `json:"minute_denial_cap"`
	AutoBlockTTLSecs  int     `json:"auto_block_ttl_seconds"`
	RetentionDays     int     `json:"retention_days"`
}

func (a AnomalyConfig) AutoBlockTTL() time.Duration {
	return time.Duration(a.AutoBlockTTLSecs) * time.Second
}

type AnalyticsConfig struct {
	QueueSize        int `json:"queue_size"`
	SweepIntervalSec int `json:"sweep_interval_seconds"`
	MinuteRetention  int `json:"minute_retention_minutes"`
	HourRetentionDay int `json:"hour_retention_days"`
	DayRetentionDay  int `json:"day_retention_days"`
	SampleCap        int `json:"sample_cap"`
	LogRetentionDays int `json:"log_retention_days"`
}

func (a AnalyticsConfig) SweepInterval() time.Duration {
	return time.Duration(a.SweepIntervalSec) * time.Second
}

func Load(path string) (*Config, error) {
	file, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var config Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()
	config.applyEnv()

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if c.Redis.Host == "" {
		c.Redis.Host = "localhost"
	}
	if c.Redis.Port == "" {
		c.Redis.Port = "6379"
	}
	if c.Limiter.DefaultRequests == 0 {
		c.Limiter.DefaultRequests = 60
	}
	if c.Limiter.DefaultWindowSecs == 0 {
		c.Limiter.DefaultWindowSecs = 60
	}
	if c.Limiter.StoreTimeoutMs == 0 {
		c.Limiter.StoreTimeoutMs = 100
	}
	if c.Limiter.TierCacheTTLSecs == 0 {
		c.Limiter.TierCacheTTLSecs = 300
	}
	if c.Behavior.AvgSmoothing == 0 {
		c.Behavior.AvgSmoothing = 0.9
	}
	if c.Behavior.ErrorUpSmoothing == 0 {
		c.Behavior.ErrorUpSmoothing = 0.95
	}
	if c.Behavior.ErrorDecay == 0 {
		c.Behavior.ErrorDecay = 0.98
	}
	if c.Behavior.SummaryTTLHours == 0 {
		c.Behavior.SummaryTTLHours = 24
	}
	if c.Behavior.QueueSize == 0 {
		c.Behavior.QueueSize = 4096
	}
	if c.Anomaly.RateSpikeRatio == 0 {
		c.Anomaly.RateSpikeRatio = 3.0
	}
	if c.Anomaly.ErrorSpikeRate == 0 {
		c.Anomaly.ErrorSpikeRate = 0.5
	}
	if c.Anomaly.AbuseRequestFloor == 0 {
		c.Anomaly.AbuseRequestFloor = 1000
	}
	if c.Anomaly.AbuseEndpointCeil == 0 {
		c.Anomaly.AbuseEndpointCeil = 3
	}
	if c.Anomaly.MinuteRequestCap == 0 {
		c.Anomaly.MinuteRequestCap = 100
	}
	if c.Anomaly.MinuteDenialCap == 0 {
		c.Anomaly.MinuteDenialCap = 10
	}
	if c.Anomaly.AutoBlockTTLSecs == 0 {
		c.Anomaly.AutoBlockTTLSecs = 300
	}
	if c.Anomaly.RetentionDays == 0 {
		c.Anomaly.RetentionDays = 7
	}
	if c.Analytics.QueueSize == 0 {
		c.Analytics.QueueSize = 8192
	}
	if c.Analytics.SweepIntervalSec == 0 {
		c.Analytics.SweepIntervalSec = 60
	}
	if c.Analytics.MinuteRetention == 0 {
		c.Analytics.MinuteRetention = 30
	}
	if c.Analytics.HourRetentionDay == 0 {
		c.Analytics.HourRetentionDay = 7
	}
	if c.Analytics.DayRetentionDay == 0 {
		c.Analytics.DayRetentionDay = 30
	}
	if c.Analytics.SampleCap == 0 {
		c.Analytics.SampleCap = 1000
	}
	if c.Analytics.LogRetentionDays == 0 {
		c.Analytics.LogRetentionDays = 30
	}
}

func (c *Config) applyEnv() {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Postgres.DSN = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("ADMIN_JWT_SECRET"); v != "" {
		c.Server.JWTSecret = v
	}
}

// Rejects configuration that must never reach the serving path.
func (c *Config) Validate() error {
	if c.Limiter.DefaultRequests < 0 {
		return fmt.Errorf("invalid config: default_requests must not be negative, got %d", c.Limiter.DefaultRequests)
	}
	if c.Limiter.DefaultBurst < 0 {
		return fmt.Errorf("invalid config: default_burst must not be negative, got %d", c.Limiter.DefaultBurst)
	}

	for _, tier := range c.Tiers {
		if tier.Name == "" {
			return fmt.Errorf("invalid config: tier with empty name")
		}
		if tier.RequestsPerMinute < 0 || tier.RequestsPerHour < 0 || tier.RequestsPerDay < 0 {
			return fmt.Errorf("invalid config: tier %q has a negative quota", tier.Name)
		}
		if tier.PriorityWeight < 0 {
			return fmt.Errorf("invalid config: tier %q has a negative priority weight", tier.Name)
		}
		if tier.BurstMultiplier < 0 {
			return fmt.Errorf("invalid config: tier %q has a negative burst multiplier", tier.Name)
		}
	}

	for _, ep := range c.Endpoints {
		if ep.PathPattern == "" {
			return fmt.Errorf("invalid config: endpoint profile with empty path pattern")
		}
		if ep.CostMultiplier < 0 {
			return fmt.Errorf("invalid config: endpoint %s %s has a negative cost multiplier", ep.Method, ep.PathPattern)
		}
		if ep.MaxConcurrent < 0 {
			return fmt.Errorf("invalid config: endpoint %s %s has a negative concurrency cap", ep.Method, ep.PathPattern)
		}
	}

	if c.Behavior.AvgSmoothing < 0 || c.Behavior.AvgSmoothing >= 1 {
		return fmt.Errorf("invalid config: avg_smoothing must be in [0,1), got %v", c.Behavior.AvgSmoothing)
	}
	if c.Behavior.ErrorUpSmoothing < 0 || c.Behavior.ErrorUpSmoothing >= 1 {
		return fmt.Errorf("invalid config: error_up_smoothing must be in [0,1), got %v", c.Behavior.ErrorUpSmoothing)
	}
	if c.Behavior.ErrorDecay < 0 || c.Behavior.ErrorDecay >= 1 {
		return fmt.Errorf("invalid config: error_decay must be in [0,1), got %v", c.Behavior.ErrorDecay)
	}

	return nil
}
