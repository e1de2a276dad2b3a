// Package execution runs outbound connector calls under the connector's
// retry policy and records every attempt-set as an immutable IntegrationLog.
package execution

import (
	"time"

	"github.com/loomhq/loom/id"
	"github.com/loomhq/loom/internal/entity"
)

// LogStatus is the outcome of one execution attempt-set.
type LogStatus string

const (
	// LogInProgress means the call is still being attempted.
	LogInProgress LogStatus = "in_progress"

	// LogSuccess means an attempt returned without error.
	LogSuccess LogStatus = "success"

	// LogFailed means every attempt errored.
	LogFailed LogStatus = "failed"

	// LogSkipped means the connector was disabled and no call was made.
	LogSkipped LogStatus = "skipped"
)

// IntegrationLog is the immutable record of one ExecuteWithRetry call.
// It is created once, finalized once by the engine, and never mutated after.
type IntegrationLog struct {
	entity.Entity

	// ID is the unique TypeID for this log.
	ID id.ID `json:"id"`

	// ConnectorID references the connector that was executed.
	ConnectorID id.ID `json:"connector_id"`

	// CorrelationID links this log to the job/deliveries of the same run.
	CorrelationID string `json:"correlation_id"`

	// OperationType names the logical operation (e.g. "hr.pull_employees").
	OperationType string `json:"operation_type"`

	// Initiator is the identity that started the operation.
	Initiator string `json:"initiator"`

	// Status is the terminal outcome of the attempt-set.
	Status LogStatus `json:"status"`

	// Method is the HTTP method of the outbound call.
	Method string `json:"method,omitempty"`

	// Endpoint is the URL the call targeted.
	Endpoint string `json:"endpoint,omitempty"`

	// StatusCode is the HTTP status code of the final attempt.
	StatusCode int `json:"status_code,omitempty"`

	// RequestSummary is a short description of the outbound request.
	RequestSummary string `json:"request_summary,omitempty"`

	// ResponseSummary is a capped extract of the response body.
	ResponseSummary string `json:"response_summary,omitempty"`

	// RetryCount is the number of attempts beyond the first.
	RetryCount int `json:"retry_count"`

	// SucceededAttempt is the 1-based attempt index that succeeded, 0 if none.
	SucceededAttempt int `json:"succeeded_attempt,omitempty"`

	// Error is the last error message when Status is failed.
	Error string `json:"error,omitempty"`

	// StartedAt is when the first attempt began.
	StartedAt time.Time `json:"started_at"`

	// CompletedAt is when the log was finalized.
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Duration is wall-clock time from first attempt to finalization.
	Duration time.Duration `json:"duration"`
}

// ListOpts configures filtering and pagination for log listing.
type ListOpts struct {
	Offset        int
	Limit         int
	ConnectorID   *id.ID
	Status        *LogStatus
	OperationType string
	Initiator     string
	From          *time.Time
	To            *time.Time
}
