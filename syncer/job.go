package syncer

import (
	"time"

	"github.com/loomhq/loom/connector"
	"github.com/loomhq/loom/id"
	"github.com/loomhq/loom/internal/entity"
)

// JobStatus is the lifecycle state of an import job.
type JobStatus string

const (
	// JobRunning means the batch is in flight.
	JobRunning JobStatus = "running"

	// JobCompleted means the batch finished and its counters are final.
	JobCompleted JobStatus = "completed"

	// JobFailed means the batch aborted before processing every record.
	JobFailed JobStatus = "failed"
)

// ImportJob represents one batch sync run. Its ID tags every staging
// entity and sync record produced by the run, and its correlation id links
// it to the integration logs of the same run.
type ImportJob struct {
	entity.Entity

	// ID is the unique TypeID for this job.
	ID id.ID `json:"id"`

	// ConnectorID references the connector the job pulled from.
	ConnectorID id.ID `json:"connector_id"`

	// CorrelationID links the job to its integration logs.
	CorrelationID string `json:"correlation_id"`

	// Type is the synced domain, hr or finance.
	Type connector.Type `json:"type"`

	// Status is the job lifecycle state.
	Status JobStatus `json:"status"`

	// Initiator is the identity that started the run.
	Initiator string `json:"initiator"`

	// Batch counters, final once the job leaves JobRunning.
	Total              int `json:"total"`
	Imported           int `json:"imported"`
	Updated            int `json:"updated"`
	ConflictsPreserved int `json:"conflicts_preserved"`
	Rejected           int `json:"rejected"`
	Failed             int `json:"failed"`

	// Error carries the abort reason when Status is failed.
	Error string `json:"error,omitempty"`

	// StartedAt is when the run began.
	StartedAt time.Time `json:"started_at"`

	// CompletedAt is when the job left JobRunning.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// JobSearchOpts filters import job searches.
type JobSearchOpts struct {
	Offset int
	Limit  int

	// From and To bound StartedAt, inclusive.
	From *time.Time
	To   *time.Time

	Status      *JobStatus
	ConnectorID *id.ID
	Type        connector.Type
	Initiator   string
}
