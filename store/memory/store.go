// Package memory provides an in-memory Store implementation for unit testing.
package memory

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/loomhq/loom"
	"github.com/loomhq/loom/canonical"
	"github.com/loomhq/loom/catalog"
	"github.com/loomhq/loom/connector"
	"github.com/loomhq/loom/delivery"
	"github.com/loomhq/loom/dlq"
	"github.com/loomhq/loom/event"
	"github.com/loomhq/loom/execution"
	"github.com/loomhq/loom/id"
	"github.com/loomhq/loom/internal/entity"
	"github.com/loomhq/loom/signature"
	loomstore "github.com/loomhq/loom/store"
	"github.com/loomhq/loom/syncer"
	"github.com/loomhq/loom/webhook"
)

// compile-time interface check.
var _ loomstore.Store = (*Store)(nil)

// Store is an in-memory implementation of store.Store for testing.
type Store struct {
	mu sync.RWMutex

	connectors map[string]*connector.Connector // keyed by ID string
	logs       map[string]*execution.IntegrationLog

	versions    map[string]*canonical.EntityVersion // keyed by entityType#version
	attributes  []*canonical.Attribute
	mappings    []*canonical.Mapping
	centities   map[string]*canonical.CanonicalEntity // keyed by ID string
	centityKeys map[string]string                     // (connector, type, external id) -> ID string

	jobs       map[string]*syncer.ImportJob
	hrEntities map[string]*syncer.HREntity // keyed by ID string
	hrKeys     map[string]string           // (connector, external id) -> ID string
	finEntities map[string]*syncer.FinanceEntity
	finKeys    map[string]string
	hrRecords  []*syncer.HRSyncRecord
	finRecords []*syncer.FinanceSyncRecord

	eventTypes      map[string]*catalog.EventType // keyed by name
	eventTypesByID  map[string]*catalog.EventType // keyed by ID string
	events          map[string]*event.Event       // keyed by ID string
	eventsByIdemKey map[string]*event.Event       // keyed by idempotency key
	subscriptions   map[string]*webhook.Subscription
	deliveries      map[string]*delivery.Delivery
	locked          map[string]bool // simulates SKIP LOCKED
	dlqEntries      map[string]*dlq.Entry

	closed bool
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		connectors:      make(map[string]*connector.Connector),
		logs:            make(map[string]*execution.IntegrationLog),
		versions:        make(map[string]*canonical.EntityVersion),
		centities:       make(map[string]*canonical.CanonicalEntity),
		centityKeys:     make(map[string]string),
		jobs:            make(map[string]*syncer.ImportJob),
		hrEntities:      make(map[string]*syncer.HREntity),
		hrKeys:          make(map[string]string),
		finEntities:     make(map[string]*syncer.FinanceEntity),
		finKeys:         make(map[string]string),
		eventTypes:      make(map[string]*catalog.EventType),
		eventTypesByID:  make(map[string]*catalog.EventType),
		events:          make(map[string]*event.Event),
		eventsByIdemKey: make(map[string]*event.Event),
		subscriptions:   make(map[string]*webhook.Subscription),
		deliveries:      make(map[string]*delivery.Delivery),
		locked:          make(map[string]bool),
		dlqEntries:      make(map[string]*dlq.Entry),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

// Migrate is a no-op for the in-memory store.
func (s *Store) Migrate(_ context.Context) error { return nil }

// Ping is a no-op for the in-memory store.
func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return loom.ErrStoreClosed
	}
	return nil
}

// Close marks the store as closed.
func (s *Store) Close(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// ──────────────────────────────────────────────────
// connector.Store
// ──────────────────────────────────────────────────

// CreateConnector persists a new connector.
func (s *Store) CreateConnector(_ context.Context, c *connector.Connector) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.connectors[c.ID.String()] = c
	return nil
}

// GetConnector returns a connector by ID.
func (s *Store) GetConnector(_ context.Context, connID id.ID) (*connector.Connector, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.connectors[connID.String()]
	if !ok {
		return nil, loom.ErrConnectorNotFound
	}
	return c, nil
}

// UpdateConnector modifies an existing connector.
func (s *Store) UpdateConnector(_ context.Context, c *connector.Connector) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.connectors[c.ID.String()]; !ok {
		return loom.ErrConnectorNotFound
	}
	c.Touch()
	s.connectors[c.ID.String()] = c
	return nil
}

// DeleteConnector removes a connector.
func (s *Store) DeleteConnector(_ context.Context, connID id.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.connectors[connID.String()]; !ok {
		return loom.ErrConnectorNotFound
	}
	delete(s.connectors, connID.String())
	return nil
}

// ListConnectors returns connectors, optionally filtered.
func (s *Store) ListConnectors(_ context.Context, opts connector.ListOpts) ([]*connector.Connector, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*connector.Connector, 0, len(s.connectors))
	for _, c := range s.connectors {
		if opts.Type != "" && c.Type != opts.Type {
			continue
		}
		if opts.Status != nil && c.Status != *opts.Status {
			continue
		}
		result = append(result, c)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})

	result = applyPagination(result, opts.Offset, opts.Limit)
	return result, nil
}

// SetConnectorStatus toggles a connector without rewriting its config.
func (s *Store) SetConnectorStatus(_ context.Context, connID id.ID, status connector.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.connectors[connID.String()]
	if !ok {
		return loom.ErrConnectorNotFound
	}
	c.Status = status
	c.Touch()
	return nil
}

// ──────────────────────────────────────────────────
// execution.Store
// ──────────────────────────────────────────────────

// CreateLog persists a new in-progress log.
func (s *Store) CreateLog(_ context.Context, l *execution.IntegrationLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logs[l.ID.String()] = l
	return nil
}

// FinalizeLog records the terminal state of a log. Logs are immutable
// once completed.
func (s *Store) FinalizeLog(_ context.Context, l *execution.IntegrationLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.logs[l.ID.String()]
	if !ok {
		return loom.ErrLogNotFound
	}
	if existing.CompletedAt != nil {
		return loom.ErrLogFinalized
	}
	l.Touch()
	s.logs[l.ID.String()] = l
	return nil
}

// GetLog returns a log by ID.
func (s *Store) GetLog(_ context.Context, logID id.ID) (*execution.IntegrationLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	l, ok := s.logs[logID.String()]
	if !ok {
		return nil, loom.ErrLogNotFound
	}
	return l, nil
}

// ListLogs returns logs matching the given options, newest first.
func (s *Store) ListLogs(_ context.Context, opts execution.ListOpts) ([]*execution.IntegrationLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*execution.IntegrationLog, 0, len(s.logs))
	for _, l := range s.logs {
		if matchLogOpts(l, opts) {
			result = append(result, l)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].StartedAt.After(result[j].StartedAt)
	})

	result = applyPagination(result, opts.Offset, opts.Limit)
	return result, nil
}

// ListLogsByCorrelation returns all logs sharing a correlation id.
func (s *Store) ListLogsByCorrelation(_ context.Context, correlationID string) ([]*execution.IntegrationLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*execution.IntegrationLog, 0)
	for _, l := range s.logs {
		if l.CorrelationID == correlationID {
			result = append(result, l)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].StartedAt.Before(result[j].StartedAt)
	})
	return result, nil
}

// ──────────────────────────────────────────────────
// canonical.Store
// ──────────────────────────────────────────────────

func versionKey(entityType string, version int) string {
	return entityType + "#" + strconv.Itoa(version)
}

// CreateVersion persists a schema version.
func (s *Store) CreateVersion(_ context.Context, v *canonical.EntityVersion) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := versionKey(v.EntityType, v.Version)
	if _, ok := s.versions[key]; ok {
		return canonical.ErrVersionExists
	}
	s.versions[key] = v
	return nil
}

// GetVersion returns one schema version.
func (s *Store) GetVersion(_ context.Context, entityType string, version int) (*canonical.EntityVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.versions[versionKey(entityType, version)]
	if !ok {
		return nil, loom.ErrSchemaVersionNotFound
	}
	return v, nil
}

// LatestActiveVersion returns the highest-numbered active, non-deprecated
// version for an entity type.
func (s *Store) LatestActiveVersion(_ context.Context, entityType string) (*canonical.EntityVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *canonical.EntityVersion
	for _, v := range s.versions {
		if v.EntityType != entityType || !v.IsActive || v.IsDeprecated {
			continue
		}
		if latest == nil || v.Version > latest.Version {
			latest = v
		}
	}
	if latest == nil {
		return nil, canonical.ErrNoActiveSchema
	}
	return latest, nil
}

// ListVersions returns all versions for an entity type, ascending.
func (s *Store) ListVersions(_ context.Context, entityType string) ([]*canonical.EntityVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*canonical.EntityVersion, 0)
	for _, v := range s.versions {
		if v.EntityType == entityType {
			result = append(result, v)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Version < result[j].Version
	})
	return result, nil
}

// UpdateVersion modifies a schema version.
func (s *Store) UpdateVersion(_ context.Context, v *canonical.EntityVersion) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := versionKey(v.EntityType, v.Version)
	if _, ok := s.versions[key]; !ok {
		return loom.ErrSchemaVersionNotFound
	}
	v.Touch()
	s.versions[key] = v
	return nil
}

// CreateAttribute persists an attribute definition.
func (s *Store) CreateAttribute(_ context.Context, a *canonical.Attribute) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.attributes = append(s.attributes, a)
	return nil
}

// ListAttributes returns the attributes of one schema version.
func (s *Store) ListAttributes(_ context.Context, entityType string, version int) ([]*canonical.Attribute, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*canonical.Attribute, 0)
	for _, a := range s.attributes {
		if a.EntityType == entityType && a.Version == version {
			result = append(result, a)
		}
	}
	return result, nil
}

// CreateMapping persists a mapping rule.
func (s *Store) CreateMapping(_ context.Context, m *canonical.Mapping) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.mappings = append(s.mappings, m)
	return nil
}

// ListActiveMappings returns the active mappings for
// (connector, entity type, version).
func (s *Store) ListActiveMappings(_ context.Context, connID id.ID, entityType string, version int) ([]*canonical.Mapping, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*canonical.Mapping, 0)
	for _, m := range s.mappings {
		if !m.IsActive {
			continue
		}
		if m.ConnectorID.String() != connID.String() {
			continue
		}
		if m.EntityType != entityType || m.Version != version {
			continue
		}
		result = append(result, m)
	}
	return result, nil
}

func centityKey(connID id.ID, entityType, externalID string) string {
	return connID.String() + "/" + entityType + "/" + externalID
}

// UpsertEntity creates or updates a canonical entity keyed by
// (connector, entity type, external id). The check-and-write is atomic
// under the store lock.
func (s *Store) UpsertEntity(_ context.Context, e *canonical.CanonicalEntity, overwriteApproved bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := centityKey(e.ConnectorID, e.EntityType, e.ExternalID)
	if existingID, ok := s.centityKeys[key]; ok {
		existing := s.centities[existingID]
		if existing.IsApproved && !overwriteApproved {
			return canonical.ErrEntityApproved
		}
		// The rewrite keeps the row identity and any human approval.
		e.ID = existing.ID
		e.Entity = existing.Entity
		e.IsApproved = existing.IsApproved
		e.ApprovedBy = existing.ApprovedBy
		e.ApprovedAt = existing.ApprovedAt
		e.Touch()
	}

	s.centities[e.ID.String()] = e
	s.centityKeys[key] = e.ID.String()
	return nil
}

// GetEntity returns a canonical entity by ID.
func (s *Store) GetEntity(_ context.Context, entID id.ID) (*canonical.CanonicalEntity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.centities[entID.String()]
	if !ok {
		return nil, loom.ErrEntityNotFound
	}
	return e, nil
}

// GetEntityByExternalID returns the canonical entity for
// (connector, entity type, external id).
func (s *Store) GetEntityByExternalID(_ context.Context, connID id.ID, entityType, externalID string) (*canonical.CanonicalEntity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entID, ok := s.centityKeys[centityKey(connID, entityType, externalID)]
	if !ok {
		return nil, loom.ErrEntityNotFound
	}
	return s.centities[entID], nil
}

// ListEntities returns canonical entities, optionally filtered.
func (s *Store) ListEntities(_ context.Context, opts canonical.ListOpts) ([]*canonical.CanonicalEntity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*canonical.CanonicalEntity, 0, len(s.centities))
	for _, e := range s.centities {
		if opts.EntityType != "" && e.EntityType != opts.EntityType {
			continue
		}
		if opts.ConnectorID != nil && e.ConnectorID.String() != opts.ConnectorID.String() {
			continue
		}
		if opts.Approved != nil && e.IsApproved != *opts.Approved {
			continue
		}
		result = append(result, e)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	result = applyPagination(result, opts.Offset, opts.Limit)
	return result, nil
}

// SetEntityApproval flips the approval flag on a canonical entity.
func (s *Store) SetEntityApproval(_ context.Context, entID id.ID, approved bool, approvedBy string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.centities[entID.String()]
	if !ok {
		return loom.ErrEntityNotFound
	}
	applyApproval(&e.IsApproved, &e.ApprovedBy, &e.ApprovedAt, approved, approvedBy)
	e.Touch()
	return nil
}

// ──────────────────────────────────────────────────
// syncer.Store
// ──────────────────────────────────────────────────

// CreateJob persists a new import job.
func (s *Store) CreateJob(_ context.Context, j *syncer.ImportJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.jobs[j.ID.String()] = j
	return nil
}

// UpdateJob rewrites a job.
func (s *Store) UpdateJob(_ context.Context, j *syncer.ImportJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[j.ID.String()]; !ok {
		return loom.ErrJobNotFound
	}
	j.Touch()
	s.jobs[j.ID.String()] = j
	return nil
}

// GetJob returns one import job.
func (s *Store) GetJob(_ context.Context, jobID id.ID) (*syncer.ImportJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	j, ok := s.jobs[jobID.String()]
	if !ok {
		return nil, loom.ErrJobNotFound
	}
	return j, nil
}

// SearchJobs returns jobs matching the filters, newest first.
func (s *Store) SearchJobs(_ context.Context, opts syncer.JobSearchOpts) ([]*syncer.ImportJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*syncer.ImportJob, 0, len(s.jobs))
	for _, j := range s.jobs {
		if matchJobOpts(j, opts) {
			result = append(result, j)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].StartedAt.After(result[j].StartedAt)
	})

	result = applyPagination(result, opts.Offset, opts.Limit)
	return result, nil
}

func syncKey(connID id.ID, externalID string) string {
	return connID.String() + "/" + externalID
}

// RecordHROutcome reconciles one incoming HR record and appends its sync
// record. The store lock is the critical section, so the staging write
// and the record write commit as one unit.
func (s *Store) RecordHROutcome(_ context.Context, incoming *syncer.HREntity, rec *syncer.HRSyncRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var existing *syncer.HREntity
	if incoming != nil {
		if entID, ok := s.hrKeys[syncKey(incoming.ConnectorID, incoming.ExternalID)]; ok {
			existing = s.hrEntities[entID]
		}
	}

	if syncer.ReconcileHR(existing, incoming, rec) {
		s.hrEntities[incoming.ID.String()] = incoming
		s.hrKeys[syncKey(incoming.ConnectorID, incoming.ExternalID)] = incoming.ID.String()
	}

	s.hrRecords = append(s.hrRecords, rec)
	return nil
}

// RecordFinanceOutcome is RecordHROutcome for the finance domain.
func (s *Store) RecordFinanceOutcome(_ context.Context, incoming *syncer.FinanceEntity, rec *syncer.FinanceSyncRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var existing *syncer.FinanceEntity
	if incoming != nil {
		if entID, ok := s.finKeys[syncKey(incoming.ConnectorID, incoming.ExternalID)]; ok {
			existing = s.finEntities[entID]
		}
	}

	if syncer.ReconcileFinance(existing, incoming, rec) {
		s.finEntities[incoming.ID.String()] = incoming
		s.finKeys[syncKey(incoming.ConnectorID, incoming.ExternalID)] = incoming.ID.String()
	}

	s.finRecords = append(s.finRecords, rec)
	return nil
}

// GetHREntity returns the staging entity for (connector, external id).
func (s *Store) GetHREntity(_ context.Context, connID id.ID, externalID string) (*syncer.HREntity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entID, ok := s.hrKeys[syncKey(connID, externalID)]
	if !ok {
		return nil, loom.ErrEntityNotFound
	}
	return s.hrEntities[entID], nil
}

// GetFinanceEntity returns the staging entity for (connector, external id).
func (s *Store) GetFinanceEntity(_ context.Context, connID id.ID, externalID string) (*syncer.FinanceEntity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entID, ok := s.finKeys[syncKey(connID, externalID)]
	if !ok {
		return nil, loom.ErrEntityNotFound
	}
	return s.finEntities[entID], nil
}

// SetHRApproval flips the approval flag on an HR staging entity.
func (s *Store) SetHRApproval(_ context.Context, entID id.ID, approved bool, approvedBy string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.hrEntities[entID.String()]
	if !ok {
		return loom.ErrEntityNotFound
	}
	applyApproval(&e.IsApproved, &e.ApprovedBy, &e.ApprovedAt, approved, approvedBy)
	e.Touch()
	return nil
}

// SetFinanceApproval flips the approval flag on a finance staging entity.
func (s *Store) SetFinanceApproval(_ context.Context, entID id.ID, approved bool, approvedBy string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.finEntities[entID.String()]
	if !ok {
		return loom.ErrEntityNotFound
	}
	applyApproval(&e.IsApproved, &e.ApprovedBy, &e.ApprovedAt, approved, approvedBy)
	e.Touch()
	return nil
}

// ListHRSyncRecords returns HR sync records matching the filters.
func (s *Store) ListHRSyncRecords(_ context.Context, opts syncer.RecordSearchOpts) ([]*syncer.HRSyncRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*syncer.HRSyncRecord, 0)
	for _, r := range s.hrRecords {
		if opts.ImportJobID != nil && r.ImportJobID.String() != opts.ImportJobID.String() {
			continue
		}
		if opts.ConnectorID != nil && r.ConnectorID.String() != opts.ConnectorID.String() {
			continue
		}
		if opts.Outcome != nil && r.Outcome != *opts.Outcome {
			continue
		}
		result = append(result, r)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	result = applyPagination(result, opts.Offset, opts.Limit)
	return result, nil
}

// ListFinanceSyncRecords returns finance sync records matching the filters.
func (s *Store) ListFinanceSyncRecords(_ context.Context, opts syncer.RecordSearchOpts) ([]*syncer.FinanceSyncRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*syncer.FinanceSyncRecord, 0)
	for _, r := range s.finRecords {
		if opts.ImportJobID != nil && r.ImportJobID.String() != opts.ImportJobID.String() {
			continue
		}
		if opts.ConnectorID != nil && r.ConnectorID.String() != opts.ConnectorID.String() {
			continue
		}
		if opts.Outcome != nil && r.Outcome != *opts.Outcome {
			continue
		}
		if opts.OverridesOnly && r.ApprovedOverrideBy == "" {
			continue
		}
		result = append(result, r)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	result = applyPagination(result, opts.Offset, opts.Limit)
	return result, nil
}

// ──────────────────────────────────────────────────
// catalog.Store
// ──────────────────────────────────────────────────

// RegisterType creates or updates an event type definition.
func (s *Store) RegisterType(_ context.Context, et *catalog.EventType) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.eventTypes[et.Definition.Name]; ok {
		delete(s.eventTypesByID, existing.ID.String())
	}
	s.eventTypes[et.Definition.Name] = et
	s.eventTypesByID[et.ID.String()] = et
	return nil
}

// GetType returns an event type by name.
func (s *Store) GetType(_ context.Context, name string) (*catalog.EventType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	et, ok := s.eventTypes[name]
	if !ok {
		return nil, loom.ErrEventTypeNotFound
	}
	return et, nil
}

// GetTypeByID returns an event type by its TypeID.
func (s *Store) GetTypeByID(_ context.Context, etID id.ID) (*catalog.EventType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	et, ok := s.eventTypesByID[etID.String()]
	if !ok {
		return nil, loom.ErrEventTypeNotFound
	}
	return et, nil
}

// ListTypes returns all registered event types, sorted by name.
func (s *Store) ListTypes(_ context.Context, opts catalog.ListOpts) ([]*catalog.EventType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*catalog.EventType, 0, len(s.eventTypes))
	for _, et := range s.eventTypes {
		if et.IsDeprecated && !opts.IncludeDeprecated {
			continue
		}
		if opts.Group != "" && et.Definition.Group != opts.Group {
			continue
		}
		result = append(result, et)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Definition.Name < result[j].Definition.Name
	})

	result = applyPagination(result, opts.Offset, opts.Limit)
	return result, nil
}

// DeprecateType soft-deletes an event type.
func (s *Store) DeprecateType(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	et, ok := s.eventTypes[name]
	if !ok {
		return loom.ErrEventTypeNotFound
	}
	now := time.Now().UTC()
	et.IsDeprecated = true
	et.DeprecatedAt = &now
	et.Touch()
	return nil
}

// ──────────────────────────────────────────────────
// event.Store
// ──────────────────────────────────────────────────

// CreateEvent persists an event, enforcing idempotency-key uniqueness
// atomically with the write.
func (s *Store) CreateEvent(_ context.Context, evt *event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if evt.IdempotencyKey != "" {
		if _, ok := s.eventsByIdemKey[evt.IdempotencyKey]; ok {
			return event.ErrDuplicateIdempotencyKey
		}
		s.eventsByIdemKey[evt.IdempotencyKey] = evt
	}
	s.events[evt.ID.String()] = evt
	return nil
}

// GetEvent returns an event by ID.
func (s *Store) GetEvent(_ context.Context, evtID id.ID) (*event.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	evt, ok := s.events[evtID.String()]
	if !ok {
		return nil, loom.ErrEventNotFound
	}
	return evt, nil
}

// ListEvents returns events, newest first.
func (s *Store) ListEvents(_ context.Context, opts event.ListOpts) ([]*event.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*event.Event, 0, len(s.events))
	for _, evt := range s.events {
		if matchEventOpts(evt, opts) {
			result = append(result, evt)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	result = applyPagination(result, opts.Offset, opts.Limit)
	return result, nil
}

// ListEventsByCorrelation returns the events raised under one
// correlation id.
func (s *Store) ListEventsByCorrelation(_ context.Context, correlationID string) ([]*event.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*event.Event, 0)
	for _, evt := range s.events {
		if evt.CorrelationID == correlationID {
			result = append(result, evt)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// ──────────────────────────────────────────────────
// webhook.Store
// ──────────────────────────────────────────────────

// copySubscription returns a shallow copy of the subscription.
func copySubscription(sub *webhook.Subscription) *webhook.Subscription {
	cp := *sub
	return &cp
}

// CreateSubscription persists a new subscription.
func (s *Store) CreateSubscription(_ context.Context, sub *webhook.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.subscriptions[sub.ID.String()] = copySubscription(sub)
	return nil
}

// GetSubscription returns a copy of the subscription by ID.
func (s *Store) GetSubscription(_ context.Context, subID id.ID) (*webhook.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, ok := s.subscriptions[subID.String()]
	if !ok {
		return nil, loom.ErrSubscriptionNotFound
	}
	return copySubscription(sub), nil
}

// UpdateSubscription modifies an existing subscription.
func (s *Store) UpdateSubscription(_ context.Context, sub *webhook.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.subscriptions[sub.ID.String()]; !ok {
		return loom.ErrSubscriptionNotFound
	}
	sub.Touch()
	s.subscriptions[sub.ID.String()] = copySubscription(sub)
	return nil
}

// DeleteSubscription removes a subscription.
func (s *Store) DeleteSubscription(_ context.Context, subID id.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.subscriptions[subID.String()]; !ok {
		return loom.ErrSubscriptionNotFound
	}
	delete(s.subscriptions, subID.String())
	return nil
}

// ListSubscriptions returns subscriptions, optionally filtered.
func (s *Store) ListSubscriptions(_ context.Context, opts webhook.ListOpts) ([]*webhook.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*webhook.Subscription, 0, len(s.subscriptions))
	for _, sub := range s.subscriptions {
		if opts.Status != nil && sub.Status != *opts.Status {
			continue
		}
		result = append(result, copySubscription(sub))
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})

	result = applyPagination(result, opts.Offset, opts.Limit)
	return result, nil
}

// ResolveSubscriptions returns all deliverable subscriptions whose event
// set matches the event type.
func (s *Store) ResolveSubscriptions(_ context.Context, eventType string) ([]*webhook.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*webhook.Subscription, 0)
	for _, sub := range s.subscriptions {
		if !sub.Deliverable() {
			continue
		}
		if !catalog.MatchAny(sub.EventTypes, eventType) {
			continue
		}
		result = append(result, copySubscription(sub))
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// SetSubscriptionStatus transitions a subscription's status.
func (s *Store) SetSubscriptionStatus(_ context.Context, subID id.ID, status webhook.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subscriptions[subID.String()]
	if !ok {
		return loom.ErrSubscriptionNotFound
	}
	sub.Status = status
	sub.Touch()
	return nil
}

// BumpConsecutiveFailures atomically increments the failure counter and
// returns the new value.
func (s *Store) BumpConsecutiveFailures(_ context.Context, subID id.ID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subscriptions[subID.String()]
	if !ok {
		return 0, loom.ErrSubscriptionNotFound
	}
	sub.ConsecutiveFailures++
	sub.Touch()
	return sub.ConsecutiveFailures, nil
}

// ResetConsecutiveFailures atomically zeroes the failure counter.
func (s *Store) ResetConsecutiveFailures(_ context.Context, subID id.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subscriptions[subID.String()]
	if !ok {
		return loom.ErrSubscriptionNotFound
	}
	sub.ConsecutiveFailures = 0
	sub.Touch()
	return nil
}

// ──────────────────────────────────────────────────
// delivery.Store
// ──────────────────────────────────────────────────

// copyDelivery returns a shallow copy of the delivery.
func copyDelivery(d *delivery.Delivery) *delivery.Delivery {
	cp := *d
	return &cp
}

// Enqueue creates a pending delivery.
func (s *Store) Enqueue(_ context.Context, d *delivery.Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.deliveries[d.ID.String()] = copyDelivery(d)
	return nil
}

// EnqueueBatch creates multiple deliveries atomically.
func (s *Store) EnqueueBatch(_ context.Context, ds []*delivery.Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, d := range ds {
		s.deliveries[d.ID.String()] = copyDelivery(d)
	}
	return nil
}

// DequeueDue claims deliveries ready for attempt (concurrent-safe).
// Claimed deliveries are marked in_progress; returns copies so callers
// can mutate without holding a lock.
func (s *Store) DequeueDue(_ context.Context, now time.Time, limit int) ([]*delivery.Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	candidates := make([]*delivery.Delivery, 0, len(s.deliveries))
	for _, d := range s.deliveries {
		if s.locked[d.ID.String()] {
			continue
		}
		switch d.Status {
		case delivery.StatusPending:
		case delivery.StatusRetrying:
			if d.NextRetryAt == nil || d.NextRetryAt.After(now) {
				continue
			}
		default:
			continue
		}
		candidates = append(candidates, d)
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
	})

	if limit > 0 && limit < len(candidates) {
		candidates = candidates[:limit]
	}

	result := make([]*delivery.Delivery, 0, len(candidates))
	for _, d := range candidates {
		d.Status = delivery.StatusInProgress
		s.locked[d.ID.String()] = true
		result = append(result, copyDelivery(d))
	}

	return result, nil
}

// UpdateDelivery rewrites a delivery and releases its claim.
func (s *Store) UpdateDelivery(_ context.Context, d *delivery.Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.deliveries[d.ID.String()]; !ok {
		return loom.ErrDeliveryNotFound
	}
	d.Touch()
	s.deliveries[d.ID.String()] = copyDelivery(d)
	delete(s.locked, d.ID.String())
	return nil
}

// GetDelivery returns a copy of the delivery by ID.
func (s *Store) GetDelivery(_ context.Context, delID id.ID) (*delivery.Delivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.deliveries[delID.String()]
	if !ok {
		return nil, loom.ErrDeliveryNotFound
	}
	return copyDelivery(d), nil
}

// ListBySubscription returns delivery history for a subscription.
func (s *Store) ListBySubscription(_ context.Context, subID id.ID, opts delivery.ListOpts) ([]*delivery.Delivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*delivery.Delivery, 0)
	for _, d := range s.deliveries {
		if d.SubscriptionID.String() != subID.String() {
			continue
		}
		if opts.Status != nil && d.Status != *opts.Status {
			continue
		}
		result = append(result, copyDelivery(d))
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	result = applyPagination(result, opts.Offset, opts.Limit)
	return result, nil
}

// ListByEvent returns all deliveries for a specific event.
func (s *Store) ListByEvent(_ context.Context, evtID id.ID) ([]*delivery.Delivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*delivery.Delivery, 0)
	for _, d := range s.deliveries {
		if d.EventID.String() != evtID.String() {
			continue
		}
		result = append(result, copyDelivery(d))
	}
	return result, nil
}

// CountPending returns the number of deliveries awaiting attempt.
func (s *Store) CountPending(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int64
	for _, d := range s.deliveries {
		if d.Status == delivery.StatusPending || d.Status == delivery.StatusRetrying {
			count++
		}
	}
	return count, nil
}

// ──────────────────────────────────────────────────
// dlq.Store
// ──────────────────────────────────────────────────

// Push moves a permanently failed delivery into the DLQ.
func (s *Store) Push(_ context.Context, entry *dlq.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.dlqEntries[entry.ID.String()] = entry
	return nil
}

// ListDLQ returns DLQ entries, newest first.
func (s *Store) ListDLQ(_ context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*dlq.Entry, 0, len(s.dlqEntries))
	for _, entry := range s.dlqEntries {
		if opts.SubscriptionID != nil && entry.SubscriptionID.String() != opts.SubscriptionID.String() {
			continue
		}
		if opts.EventType != "" && entry.EventType != opts.EventType {
			continue
		}
		if opts.From != nil && entry.FailedAt.Before(*opts.From) {
			continue
		}
		if opts.To != nil && entry.FailedAt.After(*opts.To) {
			continue
		}
		result = append(result, entry)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].FailedAt.After(result[j].FailedAt)
	})

	result = applyPagination(result, opts.Offset, opts.Limit)
	return result, nil
}

// GetDLQ returns a DLQ entry by ID.
func (s *Store) GetDLQ(_ context.Context, dlqID id.ID) (*dlq.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.dlqEntries[dlqID.String()]
	if !ok {
		return nil, loom.ErrDLQNotFound
	}
	return entry, nil
}

// Replay re-enqueues the entry's payload as a fresh pending delivery and
// stamps ReplayedAt. Entries already replayed are skipped.
func (s *Store) Replay(_ context.Context, dlqID id.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.dlqEntries[dlqID.String()]
	if !ok {
		return loom.ErrDLQNotFound
	}
	return s.replayLocked(entry)
}

// ReplayBulk replays all unreplayed DLQ entries in a time window.
func (s *Store) ReplayBulk(_ context.Context, from, to time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64
	for _, entry := range s.dlqEntries {
		if entry.ReplayedAt != nil {
			continue
		}
		if entry.FailedAt.Before(from) || entry.FailedAt.After(to) {
			continue
		}
		if err := s.replayLocked(entry); err != nil {
			// The subscription was deleted after the entry was pushed.
			continue
		}
		count++
	}
	return count, nil
}

// replayLocked creates a fresh pending delivery from a DLQ entry. The
// payload is re-signed with the subscription's current secret so a
// rotation between failure and replay does not ship a stale signature.
func (s *Store) replayLocked(entry *dlq.Entry) error {
	if entry.ReplayedAt != nil {
		return nil
	}

	sub, ok := s.subscriptions[entry.SubscriptionID.String()]
	if !ok {
		return loom.ErrSubscriptionNotFound
	}

	d := &delivery.Delivery{
		Entity:         entity.New(),
		ID:             id.NewDeliveryID(),
		SubscriptionID: entry.SubscriptionID,
		EventID:        entry.EventID,
		EventType:      entry.EventType,
		CorrelationID:  entry.CorrelationID,
		Payload:        entry.Payload,
		Signature:      signature.Sign(entry.Payload, sub.Secret),
		Status:         delivery.StatusPending,
		MaxAttempts:    sub.RetryPolicy.OrDefault().MaxAttempts(),
	}
	s.deliveries[d.ID.String()] = d

	now := time.Now().UTC()
	entry.ReplayedAt = &now
	entry.Touch()
	return nil
}

// Purge deletes DLQ entries that failed before a threshold.
func (s *Store) Purge(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64
	for key, entry := range s.dlqEntries {
		if entry.FailedAt.Before(before) {
			delete(s.dlqEntries, key)
			count++
		}
	}
	return count, nil
}

// CountDLQ returns the total number of DLQ entries.
func (s *Store) CountDLQ(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.dlqEntries)), nil
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

func matchLogOpts(l *execution.IntegrationLog, opts execution.ListOpts) bool {
	if opts.ConnectorID != nil && l.ConnectorID.String() != opts.ConnectorID.String() {
		return false
	}
	if opts.Status != nil && l.Status != *opts.Status {
		return false
	}
	if opts.OperationType != "" && l.OperationType != opts.OperationType {
		return false
	}
	if opts.Initiator != "" && l.Initiator != opts.Initiator {
		return false
	}
	if opts.From != nil && l.StartedAt.Before(*opts.From) {
		return false
	}
	if opts.To != nil && l.StartedAt.After(*opts.To) {
		return false
	}
	return true
}

func matchJobOpts(j *syncer.ImportJob, opts syncer.JobSearchOpts) bool {
	if opts.Status != nil && j.Status != *opts.Status {
		return false
	}
	if opts.ConnectorID != nil && j.ConnectorID.String() != opts.ConnectorID.String() {
		return false
	}
	if opts.Type != "" && j.Type != opts.Type {
		return false
	}
	if opts.Initiator != "" && j.Initiator != opts.Initiator {
		return false
	}
	if opts.From != nil && j.StartedAt.Before(*opts.From) {
		return false
	}
	if opts.To != nil && j.StartedAt.After(*opts.To) {
		return false
	}
	return true
}

func matchEventOpts(evt *event.Event, opts event.ListOpts) bool {
	if opts.Type != "" && evt.Type != opts.Type {
		return false
	}
	if opts.From != nil && evt.CreatedAt.Before(*opts.From) {
		return false
	}
	if opts.To != nil && evt.CreatedAt.After(*opts.To) {
		return false
	}
	return true
}

func applyApproval(flag *bool, by *string, at **time.Time, approved bool, approvedBy string) {
	*flag = approved
	if approved {
		now := time.Now().UTC()
		*by = approvedBy
		*at = &now
		return
	}
	*by = ""
	*at = nil
}

func applyPagination[T any](items []*T, offset, limit int) []*T {
	if offset > 0 && offset < len(items) {
		items = items[offset:]
	} else if offset >= len(items) && offset > 0 {
		return nil
	}

	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}

	return items
}
