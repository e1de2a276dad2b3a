package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/loomhq/loom/id"
	"github.com/loomhq/loom/observability"
	"github.com/loomhq/loom/ratelimit"
	"github.com/loomhq/loom/webhook"
)

// SubscriptionStore is the slice of the subscription contract the engine
// needs: reads plus the atomic failure counter operations.
type SubscriptionStore interface {
	GetSubscription(ctx context.Context, subID id.ID) (*webhook.Subscription, error)
	SetSubscriptionStatus(ctx context.Context, subID id.ID, status webhook.Status) error
	BumpConsecutiveFailures(ctx context.Context, subID id.ID) (int, error)
	ResetConsecutiveFailures(ctx context.Context, subID id.ID) error
}

// DLQPusher preserves permanently failed deliveries.
type DLQPusher interface {
	PushFailed(ctx context.Context, d *Delivery, sub *webhook.Subscription, lastError string, lastStatusCode int) error
}

// EngineConfig holds worker pool configuration.
type EngineConfig struct {
	Concurrency    int
	PollInterval   time.Duration
	BatchSize      int
	RequestTimeout time.Duration

	// DegradationThreshold is the consecutive-failure count at which an
	// active subscription is marked degraded.
	DegradationThreshold int

	Metrics *observability.Metrics
	Tracer  *observability.Tracer
}

// Engine is the delivery worker pool. Dispatchers enqueue and wake it;
// the poll loop doubles as the periodic sweep that re-attempts deliveries
// whose retry timestamp has elapsed.
type Engine struct {
	deliveries Store
	subs       SubscriptionStore
	sender     *Sender
	limiter    *ratelimit.Limiter
	dlq        DLQPusher
	config     EngineConfig
	logger     *slog.Logger

	wake   chan struct{}
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewEngine creates a delivery engine. dlq may be nil to drop exhausted
// deliveries after their terminal update.
func NewEngine(deliveries Store, subs SubscriptionStore, dlq DLQPusher, cfg EngineConfig, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 64
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.DegradationThreshold <= 0 {
		cfg.DegradationThreshold = webhook.DegradationThreshold
	}
	return &Engine{
		deliveries: deliveries,
		subs:       subs,
		sender:     NewSender(cfg.RequestTimeout),
		limiter:    ratelimit.New(),
		dlq:        dlq,
		config:     cfg,
		logger:     logger,
		wake:       make(chan struct{}, 1),
	}
}

// Wake nudges the poll loop without waiting for the next tick.
func (e *Engine) Wake() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// Start begins the poll loop and workers.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.pollLoop(ctx)
	}()
}

// Stop cancels the poll loop and waits for in-flight deliveries.
func (e *Engine) Stop(_ context.Context) {
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
}

// pollLoop drains due deliveries on every tick or wake.
func (e *Engine) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(e.config.PollInterval)
	defer ticker.Stop()

	sem := make(chan struct{}, e.config.Concurrency)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-e.wake:
		}
		e.drain(ctx, sem)
	}
}

// drain claims and processes due deliveries until the queue is empty.
func (e *Engine) drain(ctx context.Context, sem chan struct{}) {
	for {
		batch, err := e.deliveries.DequeueDue(ctx, time.Now().UTC(), e.config.BatchSize)
		if err != nil {
			e.logger.ErrorContext(ctx, "dequeue failed", "error", err)
			return
		}
		if len(batch) == 0 {
			return
		}

		for _, d := range batch {
			select {
			case <-ctx.Done():
				return
			case sem <- struct{}{}:
			}

			e.wg.Add(1)
			go func(del *Delivery) {
				defer e.wg.Done()
				defer func() { <-sem }()
				e.process(ctx, del)
			}(d)
		}
	}
}

// process runs one delivery attempt and applies the outcome.
func (e *Engine) process(ctx context.Context, d *Delivery) {
	var span trace.Span
	if e.config.Tracer != nil {
		ctx, span = e.config.Tracer.StartDeliverySpan(ctx, d.ID.String(), d.SubscriptionID.String(), d.EventType)
	}

	sub, err := e.subs.GetSubscription(ctx, d.SubscriptionID)
	if err != nil {
		e.logger.ErrorContext(ctx, "get subscription failed",
			"delivery_id", d.ID, "subscription_id", d.SubscriptionID, "error", err)
		e.requeue(ctx, d)
		e.endSpan(span, d)
		return
	}

	if err := e.limiter.Wait(ctx, sub.ID.String(), sub.RateLimit); err != nil {
		// Shutdown while throttled; hand the delivery back untouched.
		e.requeue(context.WithoutCancel(ctx), d)
		e.endSpan(span, d)
		return
	}

	d.AttemptCount++
	result := e.sender.Send(ctx, sub, d)

	d.LastError = result.Error
	d.LastStatusCode = result.StatusCode
	d.LastResponse = result.Response
	d.LastLatencyMs = result.LatencyMs
	if result.Error == "" && !result.OK() {
		d.LastError = fmt.Sprintf("subscriber returned %d", result.StatusCode)
	}

	latencySeconds := float64(result.LatencyMs) / 1000.0

	switch {
	case result.OK():
		e.succeed(ctx, d, latencySeconds)
	case d.AttemptCount >= d.MaxAttempts:
		e.exhaust(ctx, d, sub, result, latencySeconds)
	default:
		e.scheduleRetry(ctx, d, sub, latencySeconds)
	}

	e.endSpan(span, d)
	if err := e.deliveries.UpdateDelivery(ctx, d); err != nil {
		e.logger.ErrorContext(ctx, "update delivery failed", "delivery_id", d.ID, "error", err)
	}
}

// succeed finalizes a delivered attempt and clears the subscription's
// failure streak.
func (e *Engine) succeed(ctx context.Context, d *Delivery, latencySeconds float64) {
	now := time.Now().UTC()
	d.Status = StatusSucceeded
	d.CompletedAt = &now
	d.NextRetryAt = nil

	if err := e.subs.ResetConsecutiveFailures(ctx, d.SubscriptionID); err != nil {
		e.logger.ErrorContext(ctx, "reset failure counter failed",
			"subscription_id", d.SubscriptionID, "error", err)
	}
	if e.config.Metrics != nil {
		e.config.Metrics.RecordDelivery("succeeded", latencySeconds)
		e.config.Metrics.PendingDeliveries.Dec()
	}
	e.logger.DebugContext(ctx, "delivered",
		"delivery_id", d.ID, "status", d.LastStatusCode, "latency_ms", d.LastLatencyMs)
}

// exhaust finalizes a delivery whose retry budget is spent: bump the
// subscription's failure counter atomically, degrade it at the threshold,
// and preserve the delivery in the DLQ.
func (e *Engine) exhaust(ctx context.Context, d *Delivery, sub *webhook.Subscription, result Result, latencySeconds float64) {
	now := time.Now().UTC()
	d.Status = StatusFailed
	d.CompletedAt = &now
	d.NextRetryAt = nil

	count, err := e.subs.BumpConsecutiveFailures(ctx, d.SubscriptionID)
	if err != nil {
		e.logger.ErrorContext(ctx, "bump failure counter failed",
			"subscription_id", d.SubscriptionID, "error", err)
	} else if count >= e.config.DegradationThreshold && sub.Status == webhook.StatusActive {
		if err := e.subs.SetSubscriptionStatus(ctx, d.SubscriptionID, webhook.StatusDegraded); err != nil {
			e.logger.ErrorContext(ctx, "degrade subscription failed",
				"subscription_id", d.SubscriptionID, "error", err)
		} else {
			if e.config.Metrics != nil {
				e.config.Metrics.DegradedSubscriptions.Inc()
			}
			e.logger.WarnContext(ctx, "subscription degraded",
				"subscription_id", d.SubscriptionID, "consecutive_failures", count)
		}
	}

	if e.dlq != nil {
		if err := e.dlq.PushFailed(ctx, d, sub, d.LastError, result.StatusCode); err != nil {
			e.logger.ErrorContext(ctx, "push to DLQ failed", "delivery_id", d.ID, "error", err)
		} else if e.config.Metrics != nil {
			e.config.Metrics.DLQSize.Inc()
		}
	}
	if e.config.Metrics != nil {
		e.config.Metrics.RecordDelivery("failed", latencySeconds)
		e.config.Metrics.PendingDeliveries.Dec()
	}
	e.logger.WarnContext(ctx, "delivery failed permanently",
		"delivery_id", d.ID, "subscription_id", d.SubscriptionID,
		"attempts", d.AttemptCount, "status", d.LastStatusCode, "error", d.LastError)
}

// scheduleRetry computes the next attempt time from the subscription's
// backoff policy.
func (e *Engine) scheduleRetry(ctx context.Context, d *Delivery, sub *webhook.Subscription, latencySeconds float64) {
	next := time.Now().UTC().Add(sub.RetryPolicy.OrDefault().Delay(d.AttemptCount))
	d.Status = StatusRetrying
	d.NextRetryAt = &next

	if e.config.Metrics != nil {
		e.config.Metrics.RecordDelivery("retrying", latencySeconds)
	}
	e.logger.DebugContext(ctx, "retry scheduled",
		"delivery_id", d.ID, "attempt", d.AttemptCount, "next_retry_at", next)
}

// requeue hands a claimed delivery back to the queue untouched.
func (e *Engine) requeue(ctx context.Context, d *Delivery) {
	if d.AttemptCount == 0 {
		d.Status = StatusPending
	} else {
		d.Status = StatusRetrying
	}
	if err := e.deliveries.UpdateDelivery(ctx, d); err != nil {
		e.logger.ErrorContext(ctx, "requeue delivery failed", "delivery_id", d.ID, "error", err)
	}
}

func (e *Engine) endSpan(span trace.Span, d *Delivery) {
	if e.config.Tracer == nil || span == nil {
		return
	}
	e.config.Tracer.EndDeliverySpan(span, d.LastStatusCode, d.LastLatencyMs, d.LastError)
}
