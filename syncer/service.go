package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/loomhq/loom/connector"
	"github.com/loomhq/loom/execution"
	"github.com/loomhq/loom/id"
	"github.com/loomhq/loom/internal/entity"
	"github.com/loomhq/loom/observability"
	"github.com/loomhq/loom/scope"
)

// Resource paths pulled from external systems.
const (
	hrResource      = "employees"
	financeResource = "financial-data"

	hrOperation      = "hr.pull_employees"
	financeOperation = "finance.pull_financial_data"
)

const defaultRequestTimeout = 30 * time.Second

// Sentinel errors for sync preconditions.
var (
	// ErrConnectorType is returned when the connector's type does not
	// match the requested domain.
	ErrConnectorType = errors.New("syncer: connector type does not match sync domain")

	// ErrConnectorDisabled is returned when the connector is not enabled.
	ErrConnectorDisabled = errors.New("syncer: connector is disabled")
)

// Config configures the sync service.
type Config struct {
	// RequestTimeout bounds each HTTP attempt against the external system.
	RequestTimeout time.Duration

	Metrics *observability.Metrics
	Tracer  *observability.Tracer
}

// Service runs the connect, map, reconcile pipeline for both domains.
type Service struct {
	connectors connector.Store
	store      Store
	fetcher    *fetcher
	config     Config
	logger     *slog.Logger
}

// NewService creates a sync service on top of the execution engine.
func NewService(connectors connector.Store, store Store, engine *execution.Engine, cfg Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	return &Service{
		connectors: connectors,
		store:      store,
		fetcher:    newFetcher(engine, cfg.RequestTimeout),
		config:     cfg,
		logger:     logger,
	}
}

// SyncHR pulls employees from an HR connector and reconciles each record.
// Approved staging entities reject incoming updates.
func (s *Service) SyncHR(ctx context.Context, connID id.ID) (*BatchResult, error) {
	return s.run(ctx, connID, connector.TypeHR, "", func(ctx context.Context, conn *connector.Connector, job *ImportJob, raw rawRecord) Outcome {
		return s.reconcileHR(ctx, conn, job, raw)
	})
}

// SyncFinance pulls financial data from a finance connector and reconciles
// each record. Conflicts with approved entities are preserved unless
// overrideBy names the administrator authorizing the overwrite.
func (s *Service) SyncFinance(ctx context.Context, connID id.ID, overrideBy string) (*BatchResult, error) {
	return s.run(ctx, connID, connector.TypeFinance, overrideBy, func(ctx context.Context, conn *connector.Connector, job *ImportJob, raw rawRecord) Outcome {
		return s.reconcileFinance(ctx, conn, job, raw, overrideBy)
	})
}

type reconcileFunc func(ctx context.Context, conn *connector.Connector, job *ImportJob, raw rawRecord) Outcome

func (s *Service) run(ctx context.Context, connID id.ID, domain connector.Type, overrideBy string, reconcile reconcileFunc) (*BatchResult, error) {
	conn, err := s.precheck(ctx, connID, domain)
	if err != nil {
		return nil, err
	}

	job, err := s.startJob(ctx, conn, domain)
	if err != nil {
		return nil, err
	}

	var span trace.Span
	if s.config.Tracer != nil {
		ctx, span = s.config.Tracer.StartSyncSpan(ctx, string(domain), conn.ID.String(), job.ID.String())
		defer func() {
			s.config.Tracer.EndSyncSpan(span, job.Imported, job.Updated, job.ConflictsPreserved, job.Rejected, job.Failed)
		}()
	}

	resource, operation := hrResource, hrOperation
	if domain == connector.TypeFinance {
		resource, operation = financeResource, financeOperation
	}

	body, log, err := s.fetcher.pull(ctx, conn, resource, operation, job.CorrelationID)
	if err != nil {
		s.failJob(ctx, job, err)
		return nil, err
	}
	if log.Status != execution.LogSuccess {
		err := fmt.Errorf("syncer: %s pull failed: %s", domain, log.Error)
		s.failJob(ctx, job, err)
		return nil, err
	}

	records, err := parseRecords(body)
	if err != nil {
		s.failJob(ctx, job, err)
		return nil, err
	}

	result := &BatchResult{JobID: job.ID}
	for _, raw := range records {
		// Shutdown stops before the next record, never mid-record.
		if ctxErr := ctx.Err(); ctxErr != nil {
			s.finishJob(context.WithoutCancel(ctx), job, result, ctxErr)
			return result, ctxErr
		}

		outcome := reconcile(ctx, conn, job, raw)
		result.tally(outcome)
		if s.config.Metrics != nil {
			s.config.Metrics.RecordSyncOutcome(string(domain), string(outcome))
		}
	}

	s.finishJob(ctx, job, result, nil)
	s.logger.InfoContext(ctx, "sync batch finished",
		"domain", domain, "connector_id", conn.ID, "job_id", job.ID,
		"total", result.Total, "imported", result.Imported, "updated", result.Updated,
		"conflicts_preserved", result.ConflictsPreserved,
		"rejected", result.Rejected, "failed", result.Failed)
	return result, nil
}

// precheck fails fast before any network call: the connector must exist,
// match the domain, and be enabled.
func (s *Service) precheck(ctx context.Context, connID id.ID, domain connector.Type) (*connector.Connector, error) {
	conn, err := s.connectors.GetConnector(ctx, connID)
	if err != nil {
		return nil, fmt.Errorf("syncer: connector %s: %w", connID, err)
	}
	if conn.Type != domain {
		return nil, fmt.Errorf("%w: connector %s is %q, want %q", ErrConnectorType, connID, conn.Type, domain)
	}
	if !conn.Enabled() {
		return nil, fmt.Errorf("%w: %s", ErrConnectorDisabled, connID)
	}
	return conn, nil
}

func (s *Service) startJob(ctx context.Context, conn *connector.Connector, domain connector.Type) (*ImportJob, error) {
	job := &ImportJob{
		Entity:        entity.New(),
		ID:            id.NewJobID(),
		ConnectorID:   conn.ID,
		CorrelationID: scope.CorrelationID(ctx),
		Type:          domain,
		Status:        JobRunning,
		Initiator:     scope.Initiator(ctx),
		StartedAt:     time.Now().UTC(),
	}
	if err := s.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("syncer: create job: %w", err)
	}
	return job, nil
}

func (s *Service) finishJob(ctx context.Context, job *ImportJob, result *BatchResult, abortErr error) {
	job.Total = result.Total
	job.Imported = result.Imported
	job.Updated = result.Updated
	job.ConflictsPreserved = result.ConflictsPreserved
	job.Rejected = result.Rejected
	job.Failed = result.Failed

	if abortErr != nil {
		job.Status = JobFailed
		job.Error = abortErr.Error()
	} else {
		job.Status = JobCompleted
	}
	now := time.Now().UTC()
	job.CompletedAt = &now
	job.Touch()

	if err := s.store.UpdateJob(ctx, job); err != nil {
		s.logger.ErrorContext(ctx, "failed to finalize import job",
			"job_id", job.ID, "error", err)
	}
}

func (s *Service) failJob(ctx context.Context, job *ImportJob, cause error) {
	s.finishJob(ctx, job, &BatchResult{JobID: job.ID}, cause)
}

func (s *Service) reconcileHR(ctx context.Context, conn *connector.Connector, job *ImportJob, raw rawRecord) Outcome {
	rec := &HRSyncRecord{
		Entity:      entity.New(),
		ID:          id.NewSyncRecordID(),
		ConnectorID: conn.ID,
		ImportJobID: job.ID,
	}

	if raw.err != nil {
		rec.Outcome = OutcomeFailed
		rec.Error = raw.err.Error()
		if err := s.store.RecordHROutcome(ctx, nil, rec); err != nil {
			s.logger.WarnContext(ctx, "failed to record hr outcome", "job_id", job.ID, "error", err)
		}
		return OutcomeFailed
	}

	data := applyFieldMap(raw.data, conn.FieldMap)
	extID := resolveExternalID(data)
	if extID == "" {
		rec.Outcome = OutcomeFailed
		rec.Error = "record has no external id"
		if err := s.store.RecordHROutcome(ctx, nil, rec); err != nil {
			s.logger.WarnContext(ctx, "failed to record hr outcome", "job_id", job.ID, "error", err)
		}
		return OutcomeFailed
	}
	rec.ExternalID = extID

	incoming := &HREntity{
		Entity:      entity.New(),
		ID:          id.NewHREntityID(),
		ConnectorID: conn.ID,
		ExternalID:  extID,
		Data:        data,
		ImportJobID: job.ID,
	}
	if err := s.store.RecordHROutcome(ctx, incoming, rec); err != nil {
		s.logger.WarnContext(ctx, "failed to record hr outcome",
			"job_id", job.ID, "external_id", extID, "error", err)
		return OutcomeFailed
	}
	return rec.Outcome
}

func (s *Service) reconcileFinance(ctx context.Context, conn *connector.Connector, job *ImportJob, raw rawRecord, overrideBy string) Outcome {
	rec := &FinanceSyncRecord{
		Entity:             entity.New(),
		ID:                 id.NewSyncRecordID(),
		ConnectorID:        conn.ID,
		ImportJobID:        job.ID,
		ApprovedOverrideBy: overrideBy,
	}

	if raw.err != nil {
		rec.Outcome = OutcomeFailed
		rec.Error = raw.err.Error()
		rec.ApprovedOverrideBy = ""
		if err := s.store.RecordFinanceOutcome(ctx, nil, rec); err != nil {
			s.logger.WarnContext(ctx, "failed to record finance outcome", "job_id", job.ID, "error", err)
		}
		return OutcomeFailed
	}

	data := applyFieldMap(raw.data, conn.FieldMap)
	extID := resolveExternalID(data)
	if extID == "" {
		rec.Outcome = OutcomeFailed
		rec.Error = "record has no external id"
		rec.ApprovedOverrideBy = ""
		if err := s.store.RecordFinanceOutcome(ctx, nil, rec); err != nil {
			s.logger.WarnContext(ctx, "failed to record finance outcome", "job_id", job.ID, "error", err)
		}
		return OutcomeFailed
	}
	rec.ExternalID = extID

	incoming := &FinanceEntity{
		Entity:      entity.New(),
		ID:          id.NewFinEntityID(),
		ConnectorID: conn.ID,
		ExternalID:  extID,
		Data:        data,
		ImportJobID: job.ID,
	}
	if err := s.store.RecordFinanceOutcome(ctx, incoming, rec); err != nil {
		s.logger.WarnContext(ctx, "failed to record finance outcome",
			"job_id", job.ID, "external_id", extID, "error", err)
		return OutcomeFailed
	}
	return rec.Outcome
}
