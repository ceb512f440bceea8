package config

import "time"

// Database connection pool settings
const (
	DBMaxOpenConns    = 5
	DBMaxIdleConns    = 2
	DBConnMaxLifetime = 5 * time.Minute
)

// HTTP server timeouts
const (
	ServerRequestTimeout  = 30 * time.Second
	ServerReadTimeout     = 15 * time.Second
	ServerIdleTimeout     = 120 * time.Second
	ServerShutdownTimeout = 10 * time.Second
)

// Database and redis ping timeout at startup
const PingTimeout = 5 * time.Second

// Background job intervals
const ArchiveCleanupInterval = 1 * time.Hour

// Session layer
const (
	StateSaveTimeout  = 3 * time.Second
	EventApplyTimeout = 10 * time.Second
	StateKeyTTL       = 30 * 24 * time.Hour
)

// Control API limits
const (
	DefaultRateLimitPerMin = 120
	MaxRequestBodySize     = 1 << 20
)
