// Package bunstore implements the composite store on the Bun ORM.
// It targets PostgreSQL; the dequeue path relies on FOR UPDATE SKIP
// LOCKED and partial indexes.
package bunstore

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"

	loomstore "github.com/loomhq/loom/store"
)

// compile-time interface check.
var _ loomstore.Store = (*Store)(nil)

// Store implements store.Store using the Bun ORM.
type Store struct {
	db *bun.DB
}

// New creates a new Bun-backed store.
func New(db *bun.DB) *Store {
	return &Store{db: db}
}

// DB returns the underlying Bun database for direct access.
func (s *Store) DB() *bun.DB { return s.db }

// Migrate creates the required tables and indexes.
func (s *Store) Migrate(ctx context.Context) error {
	models := []any{
		(*connectorModel)(nil),
		(*integrationLogModel)(nil),
		(*schemaVersionModel)(nil),
		(*attributeModel)(nil),
		(*mappingModel)(nil),
		(*canonicalEntityModel)(nil),
		(*importJobModel)(nil),
		(*hrEntityModel)(nil),
		(*financeEntityModel)(nil),
		(*hrRecordModel)(nil),
		(*financeRecordModel)(nil),
		(*eventTypeModel)(nil),
		(*eventModel)(nil),
		(*subscriptionModel)(nil),
		(*deliveryModel)(nil),
		(*dlqEntryModel)(nil),
	}
	for _, model := range models {
		if _, err := s.db.NewCreateTable().
			Model(model).
			IfNotExists().
			Exec(ctx); err != nil {
			return fmt.Errorf("bunstore: create table: %w", err)
		}
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_loom_logs_connector ON loom_integration_logs (connector_id)",
		"CREATE INDEX IF NOT EXISTS idx_loom_logs_correlation ON loom_integration_logs (correlation_id)",
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_loom_schema_versions_key ON loom_schema_versions (entity_type, version)",
		"CREATE INDEX IF NOT EXISTS idx_loom_mappings_scope ON loom_mappings (connector_id, entity_type, version)",
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_loom_centities_key ON loom_canonical_entities (connector_id, entity_type, external_id)",
		"CREATE INDEX IF NOT EXISTS idx_loom_jobs_connector ON loom_import_jobs (connector_id)",
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_loom_hr_entities_key ON loom_hr_entities (connector_id, external_id)",
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_loom_finance_entities_key ON loom_finance_entities (connector_id, external_id)",
		"CREATE INDEX IF NOT EXISTS idx_loom_hr_records_job ON loom_hr_sync_records (import_job_id)",
		"CREATE INDEX IF NOT EXISTS idx_loom_finance_records_job ON loom_finance_sync_records (import_job_id)",
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_loom_events_idempotency ON loom_events (idempotency_key) WHERE idempotency_key != ''",
		"CREATE INDEX IF NOT EXISTS idx_loom_events_correlation ON loom_events (correlation_id)",
		"CREATE INDEX IF NOT EXISTS idx_loom_deliveries_due ON loom_deliveries (next_retry_at) WHERE status IN ('pending', 'retrying')",
		"CREATE INDEX IF NOT EXISTS idx_loom_deliveries_subscription ON loom_deliveries (subscription_id)",
		"CREATE INDEX IF NOT EXISTS idx_loom_deliveries_event ON loom_deliveries (event_id)",
		"CREATE INDEX IF NOT EXISTS idx_loom_dlq_subscription ON loom_dlq (subscription_id)",
		"CREATE INDEX IF NOT EXISTS idx_loom_dlq_failed_at ON loom_dlq (failed_at)",
	}
	for _, ddl := range indexes {
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("bunstore: create index: %w", err)
		}
	}

	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *Store) Close(_ context.Context) error {
	return s.db.Close()
}
