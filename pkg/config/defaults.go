package config

import "time"

const (
	DefaultMongoURI          = "mongodb://localhost:27017"
	DefaultMongoDatabaseName = "courtslots"
	DefaultMongoConnTimeout  = 10 * time.Second

	DefaultPort     = "8080"
	DefaultLogLevel = "info"

	DefaultRequestTimeout = 30 * time.Second
	DefaultIdempotencyTTL = 24 * time.Hour
	DefaultMaxRequestSize = 1 * 1024 * 1024 // 1MB

	DefaultReadTimeout     = 15 * time.Second
	DefaultWriteTimeout    = 15 * time.Second
	DefaultIdleTimeout     = 60 * time.Second
	DefaultShutdownTimeout = 30 * time.Second

	DefaultHoldDuration    = 5 * time.Minute
	DefaultSweepInterval   = 1 * time.Second
	DefaultSlotGranularity = 60 * time.Minute

	DefaultBookingServiceURL     = "http://localhost:8081"
	DefaultBookingServiceTimeout = 10 * time.Second

	DefaultKafkaEnabled          = false
	DefaultSlotEventsTopic       = "slot-events"
	DefaultBookingCancelledTopic = "booking-cancelled"
	DefaultConsumerGroupID       = "courtslots"

	DefaultWSSendQueueSize  = 64
	DefaultWSPingInterval   = 25 * time.Second
	DefaultWSPongWait       = 60 * time.Second
	DefaultWSWriteWait      = 10 * time.Second
	DefaultWSMaxMessageSize = 4 * 1024

	DefaultLockRateLimit = 5.0 // lock requests per second per connection
	DefaultLockRateBurst = 10

	DefaultBookingRateLimit = 1.0 // booking submissions per second per user
	DefaultBookingRateBurst = 3
)

