package loom

import (
	"log/slog"
	"time"

	gu "github.com/xraph/go-utils/metrics"

	"github.com/loomhq/loom/canonical"
	"github.com/loomhq/loom/catalog"
	"github.com/loomhq/loom/connector"
	"github.com/loomhq/loom/delivery"
	"github.com/loomhq/loom/dlq"
	"github.com/loomhq/loom/execution"
	"github.com/loomhq/loom/monitor"
	"github.com/loomhq/loom/observability"
	"github.com/loomhq/loom/store"
	"github.com/loomhq/loom/syncer"
	"github.com/loomhq/loom/webhook"
)

// Loom is the root integration and synchronization engine.
type Loom struct {
	config  Config
	store   store.Store
	logger  *slog.Logger
	metrics *observability.Metrics
	tracer  *observability.Tracer

	customTransform canonical.CustomTransformFunc

	catalog      *catalog.Catalog
	connectorSvc *connector.Service
	execEngine   *execution.Engine
	mapper       *canonical.Engine
	registry     *canonical.Registry
	syncSvc      *syncer.Service
	webhookSvc   *webhook.Service
	dispatcher   *delivery.Dispatcher
	engine       *delivery.Engine
	dlqSvc       *dlq.Service
	monitorSvc   *monitor.Service
}

// Option configures a Loom instance.
type Option func(*Loom) error

// New creates a new Loom with the given options.
func New(opts ...Option) (*Loom, error) {
	l := &Loom{
		config: DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(l); err != nil {
			return nil, err
		}
	}
	if l.store == nil {
		return nil, ErrNoStore
	}
	l.wireServices()
	return l, nil
}

// WithStore sets the persistence backend for the Loom instance.
func WithStore(s store.Store) Option {
	return func(l *Loom) error {
		l.store = s
		return nil
	}
}

// WithLogger sets the structured logger for the Loom instance.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loom) error {
		l.logger = logger
		return nil
	}
}

// WithMetricFactory enables metrics collection through the given factory.
func WithMetricFactory(factory gu.MetricFactory) Option {
	return func(l *Loom) error {
		l.metrics = observability.NewMetrics(factory)
		return nil
	}
}

// WithTracing enables OpenTelemetry spans around executions, sync runs,
// and deliveries.
func WithTracing() Option {
	return func(l *Loom) error {
		l.tracer = observability.NewTracer()
		return nil
	}
}

// WithConcurrency sets the number of delivery worker goroutines.
func WithConcurrency(n int) Option {
	return func(l *Loom) error {
		l.config.Concurrency = n
		return nil
	}
}

// WithPollInterval sets how often the delivery engine checks for due
// deliveries.
func WithPollInterval(d time.Duration) Option {
	return func(l *Loom) error {
		l.config.PollInterval = d
		return nil
	}
}

// WithBatchSize sets the maximum number of deliveries dequeued per poll
// cycle.
func WithBatchSize(n int) Option {
	return func(l *Loom) error {
		l.config.BatchSize = n
		return nil
	}
}

// WithRequestTimeout sets the HTTP timeout per outbound attempt.
func WithRequestTimeout(d time.Duration) Option {
	return func(l *Loom) error {
		l.config.RequestTimeout = d
		return nil
	}
}

// WithHandshakeTimeout sets the timeout for subscription verification
// handshakes.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(l *Loom) error {
		l.config.HandshakeTimeout = d
		return nil
	}
}

// WithoutHandshake disables the automatic verification handshake after
// subscription creation. Subscriptions stay pending until verified
// explicitly.
func WithoutHandshake() Option {
	return func(l *Loom) error {
		l.config.DisableHandshake = true
		return nil
	}
}

// WithShutdownTimeout sets the maximum time to wait for in-flight work
// on shutdown.
func WithShutdownTimeout(d time.Duration) Option {
	return func(l *Loom) error {
		l.config.ShutdownTimeout = d
		return nil
	}
}

// WithCacheTTL sets the TTL for the catalog's in-memory event type cache.
func WithCacheTTL(d time.Duration) Option {
	return func(l *Loom) error {
		l.config.CacheTTL = d
		return nil
	}
}

// WithStandardHours sets the engine-wide fte divisor used by canonical
// mappings that do not carry their own standard_hours parameter.
func WithStandardHours(hours float64) Option {
	return func(l *Loom) error {
		l.config.StandardHours = hours
		return nil
	}
}

// WithCustomTransform registers the handler for mappings with the
// "custom" transformation kind.
func WithCustomTransform(fn canonical.CustomTransformFunc) Option {
	return func(l *Loom) error {
		l.customTransform = fn
		return nil
	}
}

// WithDegradationThreshold sets the consecutive-failure count at which an
// active subscription is marked degraded.
func WithDegradationThreshold(n int) Option {
	return func(l *Loom) error {
		l.config.DegradationThreshold = n
		return nil
	}
}
