package execution

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/loomhq/loom/connector"
	"github.com/loomhq/loom/id"
	"github.com/loomhq/loom/internal/entity"
	"github.com/loomhq/loom/observability"
	"github.com/loomhq/loom/scope"
)

// CallResult describes the outcome of one successful outbound call.
type CallResult struct {
	// Method is the HTTP method used.
	Method string

	// Endpoint is the URL that was called.
	Endpoint string

	// StatusCode is the HTTP status code returned.
	StatusCode int

	// RequestSummary is a short description of the request.
	RequestSummary string

	// Body is the raw response body.
	Body []byte
}

// Call performs one outbound attempt against an external system.
// It is invoked up to MaxRetryAttempts+1 times by the engine.
type Call func(ctx context.Context) (*CallResult, error)

const maxResponseSummary = 1024 // cap on response body stored in the log

// Config holds engine configuration.
type Config struct {
	Metrics *observability.Metrics
	Tracer  *observability.Tracer

	// Sleep waits between attempts. Defaults to a context-aware timer;
	// tests inject a recorder here.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Engine executes outbound calls under a connector's retry policy.
// Attempts within one call are strictly sequential; calls across different
// connectors run independently.
type Engine struct {
	connectors connector.Store
	logs       Store
	config     Config
	logger     *slog.Logger
}

// NewEngine creates an execution engine.
func NewEngine(connectors connector.Store, logs Store, cfg Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleepCtx
	}
	return &Engine{
		connectors: connectors,
		logs:       logs,
		config:     cfg,
		logger:     logger,
	}
}

// ExecuteWithRetry runs call under the connector's retry policy and persists
// exactly one IntegrationLog for the whole attempt-set.
//
// A disabled connector short-circuits to a Skipped log without invoking call.
// Call failures are not returned as errors: they are recorded on the log and
// the caller inspects log.Status. The returned error covers infrastructure
// problems only (unknown connector, store failures, cancelled context).
func (e *Engine) ExecuteWithRetry(ctx context.Context, connID id.ID, operationType, correlationID, initiator string, call Call) (*IntegrationLog, error) {
	conn, err := e.connectors.GetConnector(ctx, connID)
	if err != nil {
		return nil, fmt.Errorf("execution: connector %s: %w", connID, err)
	}

	if correlationID == "" {
		correlationID = scope.CorrelationID(ctx)
	}
	if initiator == "" {
		initiator = scope.Initiator(ctx)
	}

	log := &IntegrationLog{
		Entity:        entity.New(),
		ID:            id.NewLogID(),
		ConnectorID:   connID,
		CorrelationID: correlationID,
		OperationType: operationType,
		Initiator:     initiator,
		Status:        LogInProgress,
		StartedAt:     time.Now().UTC(),
	}

	// Safety gate: disabled connectors never reach the network.
	if !conn.Enabled() {
		log.Status = LogSkipped
		finalize(log, 0)
		if err := e.logs.CreateLog(ctx, log); err != nil {
			return nil, fmt.Errorf("execution: persist skipped log: %w", err)
		}
		e.logger.DebugContext(ctx, "execution skipped, connector disabled",
			"connector_id", connID, "operation", operationType, "correlation_id", correlationID)
		return log, nil
	}

	if err := e.logs.CreateLog(ctx, log); err != nil {
		return nil, fmt.Errorf("execution: persist log: %w", err)
	}

	var span trace.Span
	if e.config.Tracer != nil {
		ctx, span = e.config.Tracer.StartExecutionSpan(ctx, connID.String(), operationType, correlationID)
	}

	policy := conn.RetryPolicy.OrDefault()
	start := time.Now()

	var lastErr error
	attempts := 0
	for attempt := 1; attempt <= policy.MaxAttempts(); attempt++ {
		if attempt > 1 {
			if sleepErr := e.config.Sleep(ctx, policy.Delay(attempt-1)); sleepErr != nil {
				lastErr = sleepErr
				break
			}
		}
		attempts = attempt

		result, callErr := call(ctx)
		if callErr != nil {
			lastErr = callErr
			e.logger.DebugContext(ctx, "execution attempt failed",
				"connector_id", connID, "attempt", attempt, "error", callErr)
			continue
		}

		log.Status = LogSuccess
		log.Method = result.Method
		log.Endpoint = result.Endpoint
		log.StatusCode = result.StatusCode
		log.RequestSummary = result.RequestSummary
		log.ResponseSummary = capSummary(result.Body)
		log.SucceededAttempt = attempt
		log.RetryCount = attempt - 1
		finalize(log, time.Since(start))

		if finalizeErr := e.logs.FinalizeLog(ctx, log); finalizeErr != nil {
			endSpan(e.config.Tracer, span, log)
			return nil, fmt.Errorf("execution: finalize log: %w", finalizeErr)
		}
		if e.config.Metrics != nil {
			e.config.Metrics.RecordExecution(string(LogSuccess))
		}
		endSpan(e.config.Tracer, span, log)
		return log, nil
	}

	// A cancelled backoff sleep ends the loop early; the log records the
	// attempts that actually ran, not the policy's allowance.
	log.Status = LogFailed
	log.RetryCount = attempts - 1
	if lastErr != nil {
		log.Error = lastErr.Error()
	}
	finalize(log, time.Since(start))

	if finalizeErr := e.logs.FinalizeLog(ctx, log); finalizeErr != nil {
		endSpan(e.config.Tracer, span, log)
		return nil, fmt.Errorf("execution: finalize log: %w", finalizeErr)
	}
	if e.config.Metrics != nil {
		e.config.Metrics.RecordExecution(string(LogFailed))
	}
	e.logger.WarnContext(ctx, "execution failed after retries",
		"connector_id", connID, "operation", operationType,
		"retries", log.RetryCount, "error", log.Error)

	endSpan(e.config.Tracer, span, log)
	return log, nil
}

// finalize stamps the terminal timestamps on a log.
func finalize(l *IntegrationLog, d time.Duration) {
	now := time.Now().UTC()
	l.CompletedAt = &now
	l.Duration = d
}

func endSpan(tracer *observability.Tracer, span trace.Span, l *IntegrationLog) {
	if tracer == nil || span == nil {
		return
	}
	tracer.EndExecutionSpan(span, string(l.Status), l.StatusCode, l.RetryCount, l.Error)
}

func capSummary(body []byte) string {
	if len(body) > maxResponseSummary {
		body = body[:maxResponseSummary]
	}
	return string(body)
}

// sleepCtx waits for d or until the context is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
