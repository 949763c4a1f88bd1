package config

import (
	"testing"
	"time"

	"courtslots/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		MongoURI:              DefaultMongoURI,
		MongoDatabaseName:     DefaultMongoDatabaseName,
		MongoConnTimeout:      DefaultMongoConnTimeout,
		Port:                  DefaultPort,
		RequestTimeout:        DefaultRequestTimeout,
		IdempotencyTTL:        DefaultIdempotencyTTL,
		MaxRequestSize:        DefaultMaxRequestSize,
		ReadTimeout:           DefaultReadTimeout,
		WriteTimeout:          DefaultWriteTimeout,
		IdleTimeout:           DefaultIdleTimeout,
		ShutdownTimeout:       DefaultShutdownTimeout,
		HoldDuration:          DefaultHoldDuration,
		SweepInterval:         DefaultSweepInterval,
		SlotGranularity:       DefaultSlotGranularity,
		BookingServiceURL:     DefaultBookingServiceURL,
		BookingServiceTimeout: DefaultBookingServiceTimeout,
		WSSendQueueSize:       DefaultWSSendQueueSize,
		WSPingInterval:        DefaultWSPingInterval,
		WSPongWait:            DefaultWSPongWait,
		WSWriteWait:           DefaultWSWriteWait,
		WSMaxMessageSize:      DefaultWSMaxMessageSize,
		LockRateLimit:         DefaultLockRateLimit,
		LockRateBurst:         DefaultLockRateBurst,
		BookingRateLimit:      DefaultBookingRateLimit,
		BookingRateBurst:      DefaultBookingRateBurst,
		Log:                   logger.Discard(),
	}
}

func TestValidate_Defaults(t *testing.T) {
	require.NoError(t, validConfig().Validate())
}

func TestValidate_Failures(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"bad port", func(c *Config) { c.Port = "99999" }, "Port must be between"},
		{"bad mongo uri", func(c *Config) { c.MongoURI = "postgres://x" }, "MongoURI must start"},
		{"zero hold", func(c *Config) { c.HoldDuration = 0 }, "HoldDuration must be positive"},
		{"sweep slower than hold", func(c *Config) { c.SweepInterval = 10 * time.Minute }, "SweepInterval (10m0s) must not exceed"},
		{"granularity", func(c *Config) { c.SlotGranularity = 45 * time.Minute }, "SlotGranularity must be 30m or 60m"},
		{"resource granularity", func(c *Config) {
			c.ResourceGranularity = map[string]time.Duration{"court-9": 15 * time.Minute}
		}, `resource "court-9"`},
		{"kafka topics", func(c *Config) {
			c.KafkaEnabled = true
			c.SlotEventsTopic = ""
		}, "required when Kafka is enabled"},
		{"ping vs pong", func(c *Config) { c.WSPingInterval = c.WSPongWait }, "WSPingInterval"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParseGranularityMap(t *testing.T) {
	got, err := parseGranularityMap("court-1=30, court-2=60")
	require.NoError(t, err)
	assert.Equal(t, 30*time.Minute, got["court-1"])
	assert.Equal(t, 60*time.Minute, got["court-2"])

	empty, err := parseGranularityMap("  ")
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = parseGranularityMap("court-1")
	assert.Error(t, err)
	_, err = parseGranularityMap("court-1=half")
	assert.Error(t, err)
}

func TestGranularityFor(t *testing.T) {
	cfg := validConfig()
	cfg.ResourceGranularity = map[string]time.Duration{"court_a": 30 * time.Minute}

	assert.Equal(t, 30*time.Minute, cfg.GranularityFor("court_a"))
	assert.Equal(t, DefaultSlotGranularity, cfg.GranularityFor("court_b"))
}

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv(EnvHoldDuration, "90s")
	t.Setenv(EnvWSAllowedOrigins, "https://a.example, ,https://b.example")
	t.Setenv(EnvKafkaEnabled, "true")
	t.Setenv(EnvLockRateLimit, "2.5")

	assert.Equal(t, 90*time.Second, getEnvDuration(EnvHoldDuration, DefaultHoldDuration))
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, getEnvList(EnvWSAllowedOrigins))
	assert.True(t, getEnvBool(EnvKafkaEnabled, false))
	assert.Equal(t, 2.5, getEnvFloat(EnvLockRateLimit, DefaultLockRateLimit))
	assert.Equal(t, DefaultSweepInterval, getEnvDuration(EnvSweepInterval, DefaultSweepInterval))
}

func TestRedactMongoURI(t *testing.T) {
	assert.Equal(t, "mongodb://***:***@db:27017", redactMongoURI("mongodb://user:secret@db:27017"))
}
