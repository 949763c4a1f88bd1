package config

import (
	"fmt"
	"maps"
	"os"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"courtslots/pkg/client"
	"courtslots/pkg/logger"
)

type Config struct {
	MongoURI          string
	MongoDatabaseName string
	MongoConnTimeout  time.Duration

	Port string

	RequestTimeout time.Duration
	IdempotencyTTL time.Duration
	MaxRequestSize int

	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	HoldDuration        time.Duration
	SweepInterval       time.Duration
	SlotGranularity     time.Duration
	ResourceGranularity map[string]time.Duration

	BookingServiceURL     string
	BookingServiceTimeout time.Duration

	KafkaEnabled          bool
	SlotEventsTopic       string
	BookingCancelledTopic string
	ConsumerGroupID       string

	WSAllowedOrigins []string
	WSSendQueueSize  int
	WSPingInterval   time.Duration
	WSPongWait       time.Duration
	WSWriteWait      time.Duration
	WSMaxMessageSize int

	LockRateLimit    float64
	LockRateBurst    int
	BookingRateLimit float64
	BookingRateBurst int

	Log    *logger.Logger
	Client *client.Client
}

func Load(serviceName string) *Config {
	log := logger.New(logger.Config{
		Level:     getEnvStr(EnvLogLevel, DefaultLogLevel),
		Format:    logger.JSON,
		AddSource: true,
		Service:   serviceName,
	})

	granularity, err := parseGranularityMap(getEnvStr(EnvResourceGranularity, ""))
	if err != nil {
		log.Fatal("Invalid resource granularity", "error", err)
	}

	cfg := &Config{
		MongoURI:          getEnvStr(EnvMongoURI, DefaultMongoURI),
		MongoDatabaseName: getEnvStr(EnvMongoDatabaseName, DefaultMongoDatabaseName),
		MongoConnTimeout:  getEnvDuration(EnvMongoConnTimeout, DefaultMongoConnTimeout),

		Port: getEnvStr(EnvPort, DefaultPort),

		RequestTimeout: getEnvDuration(EnvRequestTimeout, DefaultRequestTimeout),
		IdempotencyTTL: getEnvDuration(EnvIdempotencyTTL, DefaultIdempotencyTTL),
		MaxRequestSize: getEnvNum(EnvMaxRequestSize, DefaultMaxRequestSize),

		ReadTimeout:     getEnvDuration(EnvReadTimeout, DefaultReadTimeout),
		WriteTimeout:    getEnvDuration(EnvWriteTimeout, DefaultWriteTimeout),
		IdleTimeout:     getEnvDuration(EnvIdleTimeout, DefaultIdleTimeout),
		ShutdownTimeout: getEnvDuration(EnvShutdownTimeout, DefaultShutdownTimeout),

		HoldDuration:        getEnvDuration(EnvHoldDuration, DefaultHoldDuration),
		SweepInterval:       getEnvDuration(EnvSweepInterval, DefaultSweepInterval),
		SlotGranularity:     getEnvDuration(EnvSlotGranularity, DefaultSlotGranularity),
		ResourceGranularity: granularity,

		BookingServiceURL:     getEnvStr(EnvBookingServiceURL, DefaultBookingServiceURL),
		BookingServiceTimeout: getEnvDuration(EnvBookingServiceTimeout, DefaultBookingServiceTimeout),

		KafkaEnabled:          getEnvBool(EnvKafkaEnabled, DefaultKafkaEnabled),
		SlotEventsTopic:       getEnvStr(EnvSlotEventsTopic, DefaultSlotEventsTopic),
		BookingCancelledTopic: getEnvStr(EnvBookingCancelledTopic, DefaultBookingCancelledTopic),
		ConsumerGroupID:       getEnvStr(EnvConsumerGroupID, DefaultConsumerGroupID),

		WSAllowedOrigins: getEnvList(EnvWSAllowedOrigins),
		WSSendQueueSize:  getEnvNum(EnvWSSendQueueSize, DefaultWSSendQueueSize),
		WSPingInterval:   getEnvDuration(EnvWSPingInterval, DefaultWSPingInterval),
		WSPongWait:       getEnvDuration(EnvWSPongWait, DefaultWSPongWait),
		WSWriteWait:      getEnvDuration(EnvWSWriteWait, DefaultWSWriteWait),
		WSMaxMessageSize: getEnvNum(EnvWSMaxMessageSize, DefaultWSMaxMessageSize),

		LockRateLimit:    getEnvFloat(EnvLockRateLimit, DefaultLockRateLimit),
		LockRateBurst:    getEnvNum(EnvLockRateBurst, DefaultLockRateBurst),
		BookingRateLimit: getEnvFloat(EnvBookingRateLimit, DefaultBookingRateLimit),
		BookingRateBurst: getEnvNum(EnvBookingRateBurst, DefaultBookingRateBurst),

		Log:    log,
		Client: client.NewClient(),
	}

	if err := cfg.Validate(); err != nil {
		cfg.Log.Fatal(err.Error())
	}
	cfg.LogConfiguration()
	return cfg
}

func (cfg *Config) SetMongo() {
	cfg.Client.SetMongo(cfg.Log, cfg.MongoURI, cfg.MongoConnTimeout)
}

// GranularityFor returns the slot duration configured for a resource,
// falling back to the service-wide default.
func (cfg *Config) GranularityFor(resourceID string) time.Duration {
	if d, ok := cfg.ResourceGranularity[resourceID]; ok {
		return d
	}
	if cfg.SlotGranularity <= 0 {
		return DefaultSlotGranularity
	}
	return cfg.SlotGranularity
}

func (cfg *Config) Validate() error {
	var errors []string

	if port, err := strconv.Atoi(cfg.Port); err != nil || port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("Port must be between 1 and 65535, got: %s", cfg.Port))
	}

	if cfg.MongoURI == "" {
		errors = append(errors, "MongoURI cannot be empty")
	} else if !regexp.MustCompile(`^mongodb(\+srv)?://`).MatchString(cfg.MongoURI) {
		errors = append(errors, fmt.Sprintf("MongoURI must start with 'mongodb://' or 'mongodb+srv://', got: %s", redactMongoURI(cfg.MongoURI)))
	}
	if cfg.MongoDatabaseName == "" {
		errors = append(errors, "MongoDatabaseName cannot be empty")
	}

	positive := map[string]time.Duration{
		"MongoConnTimeout":      cfg.MongoConnTimeout,
		"RequestTimeout":        cfg.RequestTimeout,
		"IdempotencyTTL":        cfg.IdempotencyTTL,
		"ReadTimeout":           cfg.ReadTimeout,
		"WriteTimeout":          cfg.WriteTimeout,
		"IdleTimeout":           cfg.IdleTimeout,
		"ShutdownTimeout":       cfg.ShutdownTimeout,
		"HoldDuration":          cfg.HoldDuration,
		"SweepInterval":         cfg.SweepInterval,
		"BookingServiceTimeout": cfg.BookingServiceTimeout,
		"WSPingInterval":        cfg.WSPingInterval,
		"WSPongWait":            cfg.WSPongWait,
		"WSWriteWait":           cfg.WSWriteWait,
	}
	for _, name := range slices.Sorted(maps.Keys(positive)) {
		if positive[name] <= 0 {
			errors = append(errors, fmt.Sprintf("%s must be positive, got: %s", name, positive[name]))
		}
	}

	if cfg.SweepInterval > cfg.HoldDuration {
		errors = append(errors, fmt.Sprintf("SweepInterval (%s) must not exceed HoldDuration (%s)", cfg.SweepInterval, cfg.HoldDuration))
	}
	if cfg.WSPingInterval >= cfg.WSPongWait {
		errors = append(errors, fmt.Sprintf("WSPingInterval (%s) must be shorter than WSPongWait (%s)", cfg.WSPingInterval, cfg.WSPongWait))
	}

	if !validGranularity(cfg.SlotGranularity) {
		errors = append(errors, fmt.Sprintf("SlotGranularity must be 30m or 60m, got: %s", cfg.SlotGranularity))
	}
	for resource, d := range cfg.ResourceGranularity {
		if !validGranularity(d) {
			errors = append(errors, fmt.Sprintf("Granularity for resource %q must be 30m or 60m, got: %s", resource, d))
		}
	}

	if cfg.BookingServiceURL == "" {
		errors = append(errors, "BookingServiceURL cannot be empty")
	}
	if cfg.KafkaEnabled && (cfg.SlotEventsTopic == "" || cfg.BookingCancelledTopic == "" || cfg.ConsumerGroupID == "") {
		errors = append(errors, "SlotEventsTopic, BookingCancelledTopic and ConsumerGroupID are required when Kafka is enabled")
	}

	if cfg.MaxRequestSize <= 0 {
		errors = append(errors, fmt.Sprintf("MaxRequestSize must be positive, got: %d", cfg.MaxRequestSize))
	}
	if cfg.WSSendQueueSize <= 0 {
		errors = append(errors, fmt.Sprintf("WSSendQueueSize must be positive, got: %d", cfg.WSSendQueueSize))
	}
	if cfg.WSMaxMessageSize <= 0 {
		errors = append(errors, fmt.Sprintf("WSMaxMessageSize must be positive, got: %d", cfg.WSMaxMessageSize))
	}
	if cfg.LockRateLimit <= 0 || cfg.LockRateBurst <= 0 {
		errors = append(errors, fmt.Sprintf("LockRateLimit and LockRateBurst must be positive, got: %v/%d", cfg.LockRateLimit, cfg.LockRateBurst))
	}
	if cfg.BookingRateLimit <= 0 || cfg.BookingRateBurst <= 0 {
		errors = append(errors, fmt.Sprintf("BookingRateLimit and BookingRateBurst must be positive, got: %v/%d", cfg.BookingRateLimit, cfg.BookingRateBurst))
	}

	if len(errors) > 0 {
		errMsg := "Configuration validation failed:\n"
		for i, err := range errors {
			errMsg += fmt.Sprintf("  %d. %s\n", i+1, err)
		}
		return fmt.Errorf("%s", errMsg)
	}

	return nil
}

func (cfg *Config) LogConfiguration() {
	cfg.Log.Info("Configuration loaded successfully",
		"mongo_uri", redactMongoURI(cfg.MongoURI),
		"mongo_database", cfg.MongoDatabaseName,
		"mongo_conn_timeout", cfg.MongoConnTimeout,
		"port", cfg.Port,
		"request_timeout", cfg.RequestTimeout,
		"idempotency_ttl", cfg.IdempotencyTTL,
		"max_request_size", cfg.MaxRequestSize,
		"read_timeout", cfg.ReadTimeout,
		"write_timeout", cfg.WriteTimeout,
		"idle_timeout", cfg.IdleTimeout,
		"shutdown_timeout", cfg.ShutdownTimeout,
		"hold_duration", cfg.HoldDuration,
		"sweep_interval", cfg.SweepInterval,
		"slot_granularity", cfg.SlotGranularity,
		"resource_granularity_overrides", len(cfg.ResourceGranularity),
		"booking_service_url", cfg.BookingServiceURL,
		"booking_service_timeout", cfg.BookingServiceTimeout,
		"kafka_enabled", cfg.KafkaEnabled,
		"slot_events_topic", cfg.SlotEventsTopic,
		"booking_cancelled_topic", cfg.BookingCancelledTopic,
		"ws_allowed_origins", cfg.WSAllowedOrigins,
		"ws_send_queue_size", cfg.WSSendQueueSize,
		"ws_ping_interval", cfg.WSPingInterval,
		"lock_rate_limit", cfg.LockRateLimit,
		"lock_rate_burst", cfg.LockRateBurst,
		"booking_rate_limit", cfg.BookingRateLimit,
		"booking_rate_burst", cfg.BookingRateBurst,
	)
}

func (cfg *Config) GracefulShutdown() {
	cfg.Client.GracefulShutdown(cfg.Log)
}

func validGranularity(d time.Duration) bool {
	return d == 30*time.Minute || d == 60*time.Minute
}

// parseGranularityMap reads "court-1=30,court-2=60" (minutes).
func parseGranularityMap(raw string) (map[string]time.Duration, error) {
	out := make(map[string]time.Duration)
	if strings.TrimSpace(raw) == "" {
		return out, nil
	}
	for _, pair := range strings.Split(raw, ",") {
		resource, minutes, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok || resource == "" {
			return nil, fmt.Errorf("malformed entry %q, expected resource=minutes", pair)
		}
		n, err := strconv.Atoi(minutes)
		if err != nil {
			return nil, fmt.Errorf("malformed minutes for %q: %w", resource, err)
		}
		out[resource] = time.Duration(n) * time.Minute
	}
	return out, nil
}

func redactMongoURI(uri string) string {
	credentialRegex := regexp.MustCompile(`(mongodb(\+srv)?://)[^:]+:[^@]+@`)
	return credentialRegex.ReplaceAllString(uri, "${1}***:***@")
}

func getEnvStr(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvNum(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
