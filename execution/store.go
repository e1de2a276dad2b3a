package execution

import (
	"context"

	"github.com/loomhq/loom/id"
)

// Store defines the persistence contract for integration logs.
type Store interface {
	// CreateLog persists a new in-progress log.
	CreateLog(ctx context.Context, l *IntegrationLog) error

	// FinalizeLog records the terminal state of a log. Implementations must
	// reject finalizing a log twice; logs are immutable once completed.
	FinalizeLog(ctx context.Context, l *IntegrationLog) error

	// GetLog returns a log by ID.
	GetLog(ctx context.Context, logID id.ID) (*IntegrationLog, error)

	// ListLogs returns logs matching the given options, newest first.
	ListLogs(ctx context.Context, opts ListOpts) ([]*IntegrationLog, error)

	// ListLogsByCorrelation returns all logs sharing a correlation id.
	ListLogsByCorrelation(ctx context.Context, correlationID string) ([]*IntegrationLog, error)
}
