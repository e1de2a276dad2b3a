package loom

import "time"

// Config holds the configuration for a Loom instance.
type Config struct {
	// Concurrency is the number of delivery worker goroutines.
	Concurrency int

	// PollInterval is how often the delivery engine checks for due
	// deliveries. It doubles as the retry sweep interval.
	PollInterval time.Duration

	// BatchSize is the maximum number of deliveries dequeued per poll cycle.
	BatchSize int

	// RequestTimeout is the HTTP timeout per outbound attempt, for both
	// external system pulls and webhook deliveries.
	RequestTimeout time.Duration

	// HandshakeTimeout bounds the subscription verification POST.
	HandshakeTimeout time.Duration

	// DisableHandshake skips the automatic verification handshake after
	// subscription creation.
	DisableHandshake bool

	// ShutdownTimeout is the maximum time to wait for in-flight work on
	// shutdown.
	ShutdownTimeout time.Duration

	// CacheTTL is the TTL for the catalog's in-memory event type cache.
	// Set to 0 to disable caching.
	CacheTTL time.Duration

	// StandardHours is the engine-wide fte divisor for canonical mapping.
	// 0 falls back to canonical.DefaultStandardHours.
	StandardHours float64

	// DegradationThreshold is the consecutive-failure count at which an
	// active subscription is marked degraded. 0 falls back to
	// webhook.DegradationThreshold.
	DegradationThreshold int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:      10,
		PollInterval:     1 * time.Second,
		BatchSize:        50,
		RequestTimeout:   30 * time.Second,
		HandshakeTimeout: 10 * time.Second,
		ShutdownTimeout:  30 * time.Second,
		CacheTTL:         30 * time.Second,
	}
}
