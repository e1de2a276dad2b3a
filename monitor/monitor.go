// Package monitor exposes read-only operational views over import jobs,
// integration logs, and sync records. It aggregates what the other
// packages persist and adds no state of its own.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/loomhq/loom/execution"
	"github.com/loomhq/loom/id"
	"github.com/loomhq/loom/syncer"
)

// JobDetail pairs a job with every integration log sharing its
// correlation id.
type JobDetail struct {
	Job  *syncer.ImportJob          `json:"job"`
	Logs []*execution.IntegrationLog `json:"logs"`
}

// JobStats aggregates import job outcomes over a range.
type JobStats struct {
	Total       int     `json:"total"`
	Completed   int     `json:"completed"`
	Failed      int     `json:"failed"`
	Running     int     `json:"running"`
	SuccessRate float64 `json:"success_rate"`
}

// RecordStats aggregates per-record sync outcomes over a range, summed
// from job counters.
type RecordStats struct {
	Total              int     `json:"total"`
	Imported           int     `json:"imported"`
	Updated            int     `json:"updated"`
	ConflictsPreserved int     `json:"conflicts_preserved"`
	Rejected           int     `json:"rejected"`
	Failed             int     `json:"failed"`
	SuccessRate        float64 `json:"success_rate"`
}

// CallStats aggregates external API call outcomes over a range.
type CallStats struct {
	Total       int     `json:"total"`
	Succeeded   int     `json:"succeeded"`
	Failed      int     `json:"failed"`
	Skipped     int     `json:"skipped"`
	SuccessRate float64 `json:"success_rate"`
}

// Stats is the aggregate operational snapshot for a date range.
type Stats struct {
	From    time.Time   `json:"from"`
	To      time.Time   `json:"to"`
	Jobs    JobStats    `json:"jobs"`
	Records RecordStats `json:"records"`
	Calls   CallStats   `json:"calls"`
}

// ApprovalHistoryOpts filters the override audit listing.
type ApprovalHistoryOpts struct {
	Offset      int
	Limit       int
	ConnectorID *id.ID
}

// Service is the read-only monitoring facade.
type Service struct {
	jobs   syncer.Store
	logs   execution.Store
	logger *slog.Logger
}

// NewService creates a monitoring service over the sync and execution
// stores.
func NewService(jobs syncer.Store, logs execution.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		jobs:   jobs,
		logs:   logs,
		logger: logger,
	}
}

// SearchJobs returns import jobs matching the filters, newest first.
func (svc *Service) SearchJobs(ctx context.Context, opts syncer.JobSearchOpts) ([]*syncer.ImportJob, error) {
	return svc.jobs.SearchJobs(ctx, opts)
}

// JobDetail returns a job together with every integration log recorded
// under its correlation id.
func (svc *Service) JobDetail(ctx context.Context, jobID id.ID) (*JobDetail, error) {
	job, err := svc.jobs.GetJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("monitor: get job: %w", err)
	}
	logs, err := svc.logs.ListLogsByCorrelation(ctx, job.CorrelationID)
	if err != nil {
		return nil, fmt.Errorf("monitor: list logs: %w", err)
	}
	return &JobDetail{Job: job, Logs: logs}, nil
}

// ApprovalHistory returns every finance sync record where an admin
// override was actually applied.
func (svc *Service) ApprovalHistory(ctx context.Context, opts ApprovalHistoryOpts) ([]*syncer.FinanceSyncRecord, error) {
	return svc.jobs.ListFinanceSyncRecords(ctx, syncer.RecordSearchOpts{
		Offset:        opts.Offset,
		Limit:         opts.Limit,
		ConnectorID:   opts.ConnectorID,
		OverridesOnly: true,
	})
}

// Stats aggregates job, record, and API call counts with success rates
// over [from, to].
func (svc *Service) Stats(ctx context.Context, from, to time.Time) (*Stats, error) {
	jobs, err := svc.jobs.SearchJobs(ctx, syncer.JobSearchOpts{From: &from, To: &to})
	if err != nil {
		return nil, fmt.Errorf("monitor: search jobs: %w", err)
	}

	stats := &Stats{From: from, To: to}
	for _, j := range jobs {
		stats.Jobs.Total++
		switch j.Status {
		case syncer.JobCompleted:
			stats.Jobs.Completed++
		case syncer.JobFailed:
			stats.Jobs.Failed++
		case syncer.JobRunning:
			stats.Jobs.Running++
		}

		stats.Records.Imported += j.Imported
		stats.Records.Updated += j.Updated
		stats.Records.ConflictsPreserved += j.ConflictsPreserved
		stats.Records.Rejected += j.Rejected
		stats.Records.Failed += j.Failed
		stats.Records.Total += j.Total
	}
	if finished := stats.Jobs.Completed + stats.Jobs.Failed; finished > 0 {
		stats.Jobs.SuccessRate = float64(stats.Jobs.Completed) / float64(finished)
	}
	// Conflicts preserved are the system working as intended, so they
	// count toward the success rate alongside imports and updates.
	if stats.Records.Total > 0 {
		ok := stats.Records.Imported + stats.Records.Updated + stats.Records.ConflictsPreserved
		stats.Records.SuccessRate = float64(ok) / float64(stats.Records.Total)
	}

	logs, err := svc.logs.ListLogs(ctx, execution.ListOpts{From: &from, To: &to})
	if err != nil {
		return nil, fmt.Errorf("monitor: list logs: %w", err)
	}
	for _, l := range logs {
		stats.Calls.Total++
		switch l.Status {
		case execution.LogSuccess:
			stats.Calls.Succeeded++
		case execution.LogFailed:
			stats.Calls.Failed++
		case execution.LogSkipped:
			stats.Calls.Skipped++
		}
	}
	if attempted := stats.Calls.Succeeded + stats.Calls.Failed; attempted > 0 {
		stats.Calls.SuccessRate = float64(stats.Calls.Succeeded) / float64(attempted)
	}

	return stats, nil
}
