package config

const (
	EnvMongoURI          = "MONGO_URI"
	EnvMongoDatabaseName = "MONGO_DATABASE_NAME"
	EnvMongoConnTimeout  = "MONGO_CONN_TIMEOUT"

	EnvPort     = "PORT"
	EnvLogLevel = "LOG_LEVEL"

	EnvRequestTimeout = "REQUEST_TIMEOUT"
	EnvIdempotencyTTL = "IDEMPOTENCY_TTL"
	EnvMaxRequestSize = "MAX_REQUEST_SIZE"

	EnvReadTimeout     = "READ_TIMEOUT"
	EnvWriteTimeout    = "WRITE_TIMEOUT"
	EnvIdleTimeout     = "IDLE_TIMEOUT"
	EnvShutdownTimeout = "SHUTDOWN_TIMEOUT"

	EnvHoldDuration        = "HOLD_DURATION"
	EnvSweepInterval       = "SWEEP_INTERVAL"
	EnvSlotGranularity     = "SLOT_GRANULARITY"
	EnvResourceGranularity = "RESOURCE_GRANULARITY"

	EnvBookingServiceURL     = "BOOKING_SERVICE_URL"
	EnvBookingServiceTimeout = "BOOKING_SERVICE_TIMEOUT"

	EnvKafkaEnabled          = "KAFKA_ENABLED"
	EnvSlotEventsTopic       = "SLOT_EVENTS_TOPIC"
	EnvBookingCancelledTopic = "BOOKING_CANCELLED_TOPIC"
	EnvConsumerGroupID       = "KAFKA_CONSUMER_GROUP_ID"

	EnvWSAllowedOrigins = "WS_ALLOWED_ORIGINS"
	EnvWSSendQueueSize  = "WS_SEND_QUEUE_SIZE"
	EnvWSPingInterval   = "WS_PING_INTERVAL"
	EnvWSPongWait       = "WS_PONG_WAIT"
	EnvWSWriteWait      = "WS_WRITE_WAIT"
	EnvWSMaxMessageSize = "WS_MAX_MESSAGE_SIZE"

	EnvLockRateLimit    = "LOCK_RATE_LIMIT"
	EnvLockRateBurst    = "LOCK_RATE_BURST"
	EnvBookingRateLimit = "BOOKING_RATE_LIMIT"
	EnvBookingRateBurst = "BOOKING_RATE_BURST"
)
