package config

import "time"

const (
	DefaultPort      = "8080"
	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"

	DefaultRateLimitRPS   = 20.0
	DefaultRateLimitBurst = 40

	DefaultRequestTimeout = 30 * time.Second
	DefaultIdempotencyTTL = 24 * time.Hour
	DefaultMaxRequestSize = 1 * 1024 * 1024 // 1MB

	DefaultReadTimeout     = 15 * time.Second
	DefaultWriteTimeout    = 15 * time.Second
	DefaultIdleTimeout     = 60 * time.Second
	DefaultShutdownTimeout = 30 * time.Second

	DefaultPoolName     = "default"
	DefaultPricingKind  = "hourly"
	DefaultPricingRate  = 10
	DefaultPricingFlat  = 50
	DefaultTickDuration = time.Hour

	DefaultEventsEnabled = false
	DefaultEventsTopic   = "slotbook.bookings"

	DefaultPaginationLimit = 100
)
