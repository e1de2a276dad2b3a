package bunstore

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/loomhq/loom/backoff"
	"github.com/loomhq/loom/canonical"
	"github.com/loomhq/loom/catalog"
	"github.com/loomhq/loom/connector"
	"github.com/loomhq/loom/delivery"
	"github.com/loomhq/loom/dlq"
	"github.com/loomhq/loom/event"
	"github.com/loomhq/loom/execution"
	"github.com/loomhq/loom/id"
	"github.com/loomhq/loom/internal/entity"
	"github.com/loomhq/loom/syncer"
	"github.com/loomhq/loom/webhook"
)

func parseID(s string) (id.ID, error) {
	if s == "" {
		return id.Nil, nil
	}
	return id.Parse(s)
}

func stamp(m *entity.Entity, createdAt, updatedAt time.Time) entity.Entity {
	m.CreatedAt = createdAt
	m.UpdatedAt = updatedAt
	return *m
}

// --- Connector models ---

type connectorModel struct {
	bun.BaseModel `bun:"table:loom_connectors"`

	ID          string            `bun:"id,pk"`
	Name        string            `bun:"name,notnull"`
	Type        string            `bun:"type,notnull"`
	Status      string            `bun:"status,notnull"`
	BaseURL     string            `bun:"base_url"`
	AuthType    string            `bun:"auth_type"`
	SecretRef   string            `bun:"secret_ref"`
	RetryPolicy json.RawMessage   `bun:"retry_policy,type:jsonb"`
	FieldMap    map[string]string `bun:"field_map,type:jsonb"`
	Metadata    map[string]string `bun:"metadata,type:jsonb"`
	CreatedAt   time.Time         `bun:"created_at,notnull"`
	UpdatedAt   time.Time         `bun:"updated_at,notnull"`
}

func toConnectorModel(c *connector.Connector) (*connectorModel, error) {
	policy, err := json.Marshal(c.RetryPolicy)
	if err != nil {
		return nil, fmt.Errorf("marshal retry policy: %w", err)
	}
	return &connectorModel{
		ID:          c.ID.String(),
		Name:        c.Name,
		Type:        string(c.Type),
		Status:      string(c.Status),
		BaseURL:     c.BaseURL,
		AuthType:    string(c.AuthType),
		SecretRef:   c.SecretRef,
		RetryPolicy: policy,
		FieldMap:    c.FieldMap,
		Metadata:    c.Metadata,
		CreatedAt:   c.CreatedAt,
		UpdatedAt:   c.UpdatedAt,
	}, nil
}

func fromConnectorModel(m *connectorModel) (*connector.Connector, error) {
	connID, err := id.ParseConnectorID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse connector ID %q: %w", m.ID, err)
	}
	var policy backoff.Policy
	if len(m.RetryPolicy) > 0 {
		if err := json.Unmarshal(m.RetryPolicy, &policy); err != nil {
			return nil, fmt.Errorf("unmarshal retry policy: %w", err)
		}
	}
	c := &connector.Connector{
		ID:          connID,
		Name:        m.Name,
		Type:        connector.Type(m.Type),
		Status:      connector.Status(m.Status),
		BaseURL:     m.BaseURL,
		AuthType:    connector.AuthType(m.AuthType),
		SecretRef:   m.SecretRef,
		RetryPolicy: policy,
		FieldMap:    m.FieldMap,
		Metadata:    m.Metadata,
	}
	c.Entity = stamp(&c.Entity, m.CreatedAt, m.UpdatedAt)
	return c, nil
}

// --- Integration log models ---

type integrationLogModel struct {
	bun.BaseModel `bun:"table:loom_integration_logs"`

	ID               string     `bun:"id,pk"`
	ConnectorID      string     `bun:"connector_id,notnull"`
	CorrelationID    string     `bun:"correlation_id,notnull"`
	OperationType    string     `bun:"operation_type,notnull"`
	Initiator        string     `bun:"initiator"`
	Status           string     `bun:"status,notnull"`
	Method           string     `bun:"method"`
	Endpoint         string     `bun:"endpoint"`
	StatusCode       int        `bun:"status_code"`
	RequestSummary   string     `bun:"request_summary"`
	ResponseSummary  string     `bun:"response_summary"`
	RetryCount       int        `bun:"retry_count"`
	SucceededAttempt int        `bun:"succeeded_attempt"`
	Error            string     `bun:"error"`
	StartedAt        time.Time  `bun:"started_at,notnull"`
	CompletedAt      *time.Time `bun:"completed_at"`
	DurationNs       int64      `bun:"duration_ns"`
	CreatedAt        time.Time  `bun:"created_at,notnull"`
	UpdatedAt        time.Time  `bun:"updated_at,notnull"`
}

func toIntegrationLogModel(l *execution.IntegrationLog) *integrationLogModel {
	return &integrationLogModel{
		ID:               l.ID.String(),
		ConnectorID:      l.ConnectorID.String(),
		CorrelationID:    l.CorrelationID,
		OperationType:    l.OperationType,
		Initiator:        l.Initiator,
		Status:           string(l.Status),
		Method:           l.Method,
		Endpoint:         l.Endpoint,
		StatusCode:       l.StatusCode,
		RequestSummary:   l.RequestSummary,
		ResponseSummary:  l.ResponseSummary,
		RetryCount:       l.RetryCount,
		SucceededAttempt: l.SucceededAttempt,
		Error:            l.Error,
		StartedAt:        l.StartedAt,
		CompletedAt:      l.CompletedAt,
		DurationNs:       int64(l.Duration),
		CreatedAt:        l.CreatedAt,
		UpdatedAt:        l.UpdatedAt,
	}
}

func fromIntegrationLogModel(m *integrationLogModel) (*execution.IntegrationLog, error) {
	logID, err := id.ParseWithPrefix(m.ID, id.PrefixLog)
	if err != nil {
		return nil, fmt.Errorf("parse log ID %q: %w", m.ID, err)
	}
	connID, err := id.ParseConnectorID(m.ConnectorID)
	if err != nil {
		return nil, fmt.Errorf("parse connector ID %q: %w", m.ConnectorID, err)
	}
	l := &execution.IntegrationLog{
		ID:               logID,
		ConnectorID:      connID,
		CorrelationID:    m.CorrelationID,
		OperationType:    m.OperationType,
		Initiator:        m.Initiator,
		Status:           execution.LogStatus(m.Status),
		Method:           m.Method,
		Endpoint:         m.Endpoint,
		StatusCode:       m.StatusCode,
		RequestSummary:   m.RequestSummary,
		ResponseSummary:  m.ResponseSummary,
		RetryCount:       m.RetryCount,
		SucceededAttempt: m.SucceededAttempt,
		Error:            m.Error,
		StartedAt:        m.StartedAt,
		CompletedAt:      m.CompletedAt,
		Duration:         time.Duration(m.DurationNs),
	}
	l.Entity = stamp(&l.Entity, m.CreatedAt, m.UpdatedAt)
	return l, nil
}

// --- Canonical schema models ---

type schemaVersionModel struct {
	bun.BaseModel `bun:"table:loom_schema_versions"`

	ID               string          `bun:"id,pk"`
	EntityType       string          `bun:"entity_type,notnull"`
	Version          int             `bun:"version,notnull"`
	SchemaDefinition json.RawMessage `bun:"schema_definition,type:jsonb"`
	IsActive         bool            `bun:"is_active"`
	IsDeprecated     bool            `bun:"is_deprecated"`
	CompatibleWith   *int            `bun:"compatible_with"`
	DeprecatedAt     *time.Time      `bun:"deprecated_at"`
	CreatedAt        time.Time       `bun:"created_at,notnull"`
	UpdatedAt        time.Time       `bun:"updated_at,notnull"`
}

func toSchemaVersionModel(v *canonical.EntityVersion) *schemaVersionModel {
	return &schemaVersionModel{
		ID:               v.ID.String(),
		EntityType:       v.EntityType,
		Version:          v.Version,
		SchemaDefinition: v.SchemaDefinition,
		IsActive:         v.IsActive,
		IsDeprecated:     v.IsDeprecated,
		CompatibleWith:   v.CompatibleWith,
		DeprecatedAt:     v.DeprecatedAt,
		CreatedAt:        v.CreatedAt,
		UpdatedAt:        v.UpdatedAt,
	}
}

func fromSchemaVersionModel(m *schemaVersionModel) (*canonical.EntityVersion, error) {
	vID, err := id.ParseWithPrefix(m.ID, id.PrefixSchemaVersion)
	if err != nil {
		return nil, fmt.Errorf("parse schema version ID %q: %w", m.ID, err)
	}
	v := &canonical.EntityVersion{
		ID:               vID,
		EntityType:       m.EntityType,
		Version:          m.Version,
		SchemaDefinition: m.SchemaDefinition,
		IsActive:         m.IsActive,
		IsDeprecated:     m.IsDeprecated,
		CompatibleWith:   m.CompatibleWith,
		DeprecatedAt:     m.DeprecatedAt,
	}
	v.Entity = stamp(&v.Entity, m.CreatedAt, m.UpdatedAt)
	return v, nil
}

type attributeModel struct {
	bun.BaseModel `bun:"table:loom_schema_attributes"`

	ID         string    `bun:"id,pk"`
	EntityType string    `bun:"entity_type,notnull"`
	Version    int       `bun:"version,notnull"`
	Name       string    `bun:"name,notnull"`
	DataType   string    `bun:"data_type,notnull"`
	IsRequired bool      `bun:"is_required"`
	ReplacedBy string    `bun:"replaced_by"`
	CreatedAt  time.Time `bun:"created_at,notnull"`
	UpdatedAt  time.Time `bun:"updated_at,notnull"`
}

func toAttributeModel(a *canonical.Attribute) *attributeModel {
	return &attributeModel{
		ID:         a.ID.String(),
		EntityType: a.EntityType,
		Version:    a.Version,
		Name:       a.Name,
		DataType:   string(a.DataType),
		IsRequired: a.IsRequired,
		ReplacedBy: a.ReplacedBy,
		CreatedAt:  a.CreatedAt,
		UpdatedAt:  a.UpdatedAt,
	}
}

func fromAttributeModel(m *attributeModel) (*canonical.Attribute, error) {
	aID, err := id.ParseWithPrefix(m.ID, id.PrefixAttribute)
	if err != nil {
		return nil, fmt.Errorf("parse attribute ID %q: %w", m.ID, err)
	}
	a := &canonical.Attribute{
		ID:         aID,
		EntityType: m.EntityType,
		Version:    m.Version,
		Name:       m.Name,
		DataType:   canonical.AttributeType(m.DataType),
		IsRequired: m.IsRequired,
		ReplacedBy: m.ReplacedBy,
	}
	a.Entity = stamp(&a.Entity, m.CreatedAt, m.UpdatedAt)
	return a, nil
}

type mappingModel struct {
	bun.BaseModel `bun:"table:loom_mappings"`

	ID            string          `bun:"id,pk"`
	ConnectorID   string          `bun:"connector_id,notnull"`
	EntityType    string          `bun:"entity_type,notnull"`
	Version       int             `bun:"version,notnull"`
	ExternalField string          `bun:"external_field,notnull"`
	Attribute     string          `bun:"attribute,notnull"`
	Transform     string          `bun:"transform,notnull"`
	Params        json.RawMessage `bun:"params,type:jsonb"`
	IsRequired    bool            `bun:"is_required"`
	DefaultValue  json.RawMessage `bun:"default_value,type:jsonb"`
	Priority      int             `bun:"priority"`
	IsActive      bool            `bun:"is_active"`
	CreatedAt     time.Time       `bun:"created_at,notnull"`
	UpdatedAt     time.Time       `bun:"updated_at,notnull"`
}

func toMappingModel(mp *canonical.Mapping) *mappingModel {
	return &mappingModel{
		ID:            mp.ID.String(),
		ConnectorID:   mp.ConnectorID.String(),
		EntityType:    mp.EntityType,
		Version:       mp.Version,
		ExternalField: mp.ExternalField,
		Attribute:     mp.Attribute,
		Transform:     string(mp.Transform),
		Params:        mp.Params,
		IsRequired:    mp.IsRequired,
		DefaultValue:  mp.DefaultValue,
		Priority:      mp.Priority,
		IsActive:      mp.IsActive,
		CreatedAt:     mp.CreatedAt,
		UpdatedAt:     mp.UpdatedAt,
	}
}

func fromMappingModel(m *mappingModel) (*canonical.Mapping, error) {
	mpID, err := id.ParseWithPrefix(m.ID, id.PrefixMapping)
	if err != nil {
		return nil, fmt.Errorf("parse mapping ID %q: %w", m.ID, err)
	}
	connID, err := id.ParseConnectorID(m.ConnectorID)
	if err != nil {
		return nil, fmt.Errorf("parse connector ID %q: %w", m.ConnectorID, err)
	}
	mp := &canonical.Mapping{
		ID:            mpID,
		ConnectorID:   connID,
		EntityType:    m.EntityType,
		Version:       m.Version,
		ExternalField: m.ExternalField,
		Attribute:     m.Attribute,
		Transform:     canonical.TransformKind(m.Transform),
		Params:        m.Params,
		IsRequired:    m.IsRequired,
		DefaultValue:  m.DefaultValue,
		Priority:      m.Priority,
		IsActive:      m.IsActive,
	}
	mp.Entity = stamp(&mp.Entity, m.CreatedAt, m.UpdatedAt)
	return mp, nil
}

type canonicalEntityModel struct {
	bun.BaseModel `bun:"table:loom_canonical_entities"`

	ID               string          `bun:"id,pk"`
	ConnectorID      string          `bun:"connector_id,notnull"`
	EntityType       string          `bun:"entity_type,notnull"`
	SchemaVersion    int             `bun:"schema_version,notnull"`
	ExternalID       string          `bun:"external_id,notnull"`
	Data             json.RawMessage `bun:"data,type:jsonb"`
	VendorExtensions json.RawMessage `bun:"vendor_extensions,type:jsonb"`
	SourceSystem     string          `bun:"source_system"`
	IsApproved       bool            `bun:"is_approved"`
	ApprovedBy       string          `bun:"approved_by"`
	ApprovedAt       *time.Time      `bun:"approved_at"`
	ImportJobID      string          `bun:"import_job_id"`
	CreatedAt        time.Time       `bun:"created_at,notnull"`
	UpdatedAt        time.Time       `bun:"updated_at,notnull"`
}

func marshalPayload(p canonical.Payload) (json.RawMessage, error) {
	if p == nil {
		return nil, nil
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return raw, nil
}

func unmarshalPayload(raw json.RawMessage) (canonical.Payload, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	return canonical.ParsePayload(raw)
}

func toCanonicalEntityModel(e *canonical.CanonicalEntity) (*canonicalEntityModel, error) {
	data, err := marshalPayload(e.Data)
	if err != nil {
		return nil, err
	}
	ext, err := marshalPayload(e.VendorExtensions)
	if err != nil {
		return nil, err
	}
	return &canonicalEntityModel{
		ID:               e.ID.String(),
		ConnectorID:      e.ConnectorID.String(),
		EntityType:       e.EntityType,
		SchemaVersion:    e.SchemaVersion,
		ExternalID:       e.ExternalID,
		Data:             data,
		VendorExtensions: ext,
		SourceSystem:     e.SourceSystem,
		IsApproved:       e.IsApproved,
		ApprovedBy:       e.ApprovedBy,
		ApprovedAt:       e.ApprovedAt,
		ImportJobID:      e.ImportJobID.String(),
		CreatedAt:        e.CreatedAt,
		UpdatedAt:        e.UpdatedAt,
	}, nil
}

func fromCanonicalEntityModel(m *canonicalEntityModel) (*canonical.CanonicalEntity, error) {
	entID, err := id.ParseWithPrefix(m.ID, id.PrefixCanonical)
	if err != nil {
		return nil, fmt.Errorf("parse canonical entity ID %q: %w", m.ID, err)
	}
	connID, err := id.ParseConnectorID(m.ConnectorID)
	if err != nil {
		return nil, fmt.Errorf("parse connector ID %q: %w", m.ConnectorID, err)
	}
	jobID, err := parseID(m.ImportJobID)
	if err != nil {
		return nil, fmt.Errorf("parse import job ID %q: %w", m.ImportJobID, err)
	}
	data, err := unmarshalPayload(m.Data)
	if err != nil {
		return nil, err
	}
	ext, err := unmarshalPayload(m.VendorExtensions)
	if err != nil {
		return nil, err
	}
	e := &canonical.CanonicalEntity{
		ID:               entID,
		ConnectorID:      connID,
		EntityType:       m.EntityType,
		SchemaVersion:    m.SchemaVersion,
		ExternalID:       m.ExternalID,
		Data:             data,
		VendorExtensions: ext,
		SourceSystem:     m.SourceSystem,
		IsApproved:       m.IsApproved,
		ApprovedBy:       m.ApprovedBy,
		ApprovedAt:       m.ApprovedAt,
		ImportJobID:      jobID,
	}
	e.Entity = stamp(&e.Entity, m.CreatedAt, m.UpdatedAt)
	return e, nil
}

// --- Import job models ---

type importJobModel struct {
	bun.BaseModel `bun:"table:loom_import_jobs"`

	ID                 string     `bun:"id,pk"`
	ConnectorID        string     `bun:"connector_id,notnull"`
	CorrelationID      string     `bun:"correlation_id,notnull"`
	Type               string     `bun:"type,notnull"`
	Status             string     `bun:"status,notnull"`
	Initiator          string     `bun:"initiator"`
	Total              int        `bun:"total"`
	Imported           int        `bun:"imported"`
	Updated            int        `bun:"updated"`
	ConflictsPreserved int        `bun:"conflicts_preserved"`
	Rejected           int        `bun:"rejected"`
	Failed             int        `bun:"failed"`
	Error              string     `bun:"error"`
	StartedAt          time.Time  `bun:"started_at,notnull"`
	CompletedAt        *time.Time `bun:"completed_at"`
	CreatedAt          time.Time  `bun:"created_at,notnull"`
	UpdatedAt          time.Time  `bun:"updated_at,notnull"`
}

func toImportJobModel(j *syncer.ImportJob) *importJobModel {
	return &importJobModel{
		ID:                 j.ID.String(),
		ConnectorID:        j.ConnectorID.String(),
		CorrelationID:      j.CorrelationID,
		Type:               string(j.Type),
		Status:             string(j.Status),
		Initiator:          j.Initiator,
		Total:              j.Total,
		Imported:           j.Imported,
		Updated:            j.Updated,
		ConflictsPreserved: j.ConflictsPreserved,
		Rejected:           j.Rejected,
		Failed:             j.Failed,
		Error:              j.Error,
		StartedAt:          j.StartedAt,
		CompletedAt:        j.CompletedAt,
		CreatedAt:          j.CreatedAt,
		UpdatedAt:          j.UpdatedAt,
	}
}

func fromImportJobModel(m *importJobModel) (*syncer.ImportJob, error) {
	jobID, err := id.ParseJobID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse job ID %q: %w", m.ID, err)
	}
	connID, err := id.ParseConnectorID(m.ConnectorID)
	if err != nil {
		return nil, fmt.Errorf("parse connector ID %q: %w", m.ConnectorID, err)
	}
	j := &syncer.ImportJob{
		ID:                 jobID,
		ConnectorID:        connID,
		CorrelationID:      m.CorrelationID,
		Type:               connector.Type(m.Type),
		Status:             syncer.JobStatus(m.Status),
		Initiator:          m.Initiator,
		Total:              m.Total,
		Imported:           m.Imported,
		Updated:            m.Updated,
		ConflictsPreserved: m.ConflictsPreserved,
		Rejected:           m.Rejected,
		Failed:             m.Failed,
		Error:              m.Error,
		StartedAt:          m.StartedAt,
		CompletedAt:        m.CompletedAt,
	}
	j.Entity = stamp(&j.Entity, m.CreatedAt, m.UpdatedAt)
	return j, nil
}

// --- Staging entity models ---

type hrEntityModel struct {
	bun.BaseModel `bun:"table:loom_hr_entities"`

	ID          string          `bun:"id,pk"`
	ConnectorID string          `bun:"connector_id,notnull"`
	ExternalID  string          `bun:"external_id,notnull"`
	Data        json.RawMessage `bun:"data,type:jsonb"`
	IsApproved  bool            `bun:"is_approved"`
	ApprovedBy  string          `bun:"approved_by"`
	ApprovedAt  *time.Time      `bun:"approved_at"`
	ImportJobID string          `bun:"import_job_id"`
	CreatedAt   time.Time       `bun:"created_at,notnull"`
	UpdatedAt   time.Time       `bun:"updated_at,notnull"`
}

func toHREntityModel(e *syncer.HREntity) (*hrEntityModel, error) {
	data, err := marshalPayload(e.Data)
	if err != nil {
		return nil, err
	}
	return &hrEntityModel{
		ID:          e.ID.String(),
		ConnectorID: e.ConnectorID.String(),
		ExternalID:  e.ExternalID,
		Data:        data,
		IsApproved:  e.IsApproved,
		ApprovedBy:  e.ApprovedBy,
		ApprovedAt:  e.ApprovedAt,
		ImportJobID: e.ImportJobID.String(),
		CreatedAt:   e.CreatedAt,
		UpdatedAt:   e.UpdatedAt,
	}, nil
}

func fromHREntityModel(m *hrEntityModel) (*syncer.HREntity, error) {
	entID, err := id.ParseWithPrefix(m.ID, id.PrefixHREntity)
	if err != nil {
		return nil, fmt.Errorf("parse hr entity ID %q: %w", m.ID, err)
	}
	connID, err := id.ParseConnectorID(m.ConnectorID)
	if err != nil {
		return nil, fmt.Errorf("parse connector ID %q: %w", m.ConnectorID, err)
	}
	jobID, err := parseID(m.ImportJobID)
	if err != nil {
		return nil, fmt.Errorf("parse import job ID %q: %w", m.ImportJobID, err)
	}
	data, err := unmarshalPayload(m.Data)
	if err != nil {
		return nil, err
	}
	e := &syncer.HREntity{
		ID:          entID,
		ConnectorID: connID,
		ExternalID:  m.ExternalID,
		Data:        data,
		IsApproved:  m.IsApproved,
		ApprovedBy:  m.ApprovedBy,
		ApprovedAt:  m.ApprovedAt,
		ImportJobID: jobID,
	}
	e.Entity = stamp(&e.Entity, m.CreatedAt, m.UpdatedAt)
	return e, nil
}

type financeEntityModel struct {
	bun.BaseModel `bun:"table:loom_finance_entities"`

	ID          string          `bun:"id,pk"`
	ConnectorID string          `bun:"connector_id,notnull"`
	ExternalID  string          `bun:"external_id,notnull"`
	Data        json.RawMessage `bun:"data,type:jsonb"`
	IsApproved  bool            `bun:"is_approved"`
	ApprovedBy  string          `bun:"approved_by"`
	ApprovedAt  *time.Time      `bun:"approved_at"`
	ImportJobID string          `bun:"import_job_id"`
	CreatedAt   time.Time       `bun:"created_at,notnull"`
	UpdatedAt   time.Time       `bun:"updated_at,notnull"`
}

func toFinanceEntityModel(e *syncer.FinanceEntity) (*financeEntityModel, error) {
	data, err := marshalPayload(e.Data)
	if err != nil {
		return nil, err
	}
	return &financeEntityModel{
		ID:          e.ID.String(),
		ConnectorID: e.ConnectorID.String(),
		ExternalID:  e.ExternalID,
		Data:        data,
		IsApproved:  e.IsApproved,
		ApprovedBy:  e.ApprovedBy,
		ApprovedAt:  e.ApprovedAt,
		ImportJobID: e.ImportJobID.String(),
		CreatedAt:   e.CreatedAt,
		UpdatedAt:   e.UpdatedAt,
	}, nil
}

func fromFinanceEntityModel(m *financeEntityModel) (*syncer.FinanceEntity, error) {
	entID, err := id.ParseWithPrefix(m.ID, id.PrefixFinEntity)
	if err != nil {
		return nil, fmt.Errorf("parse finance entity ID %q: %w", m.ID, err)
	}
	connID, err := id.ParseConnectorID(m.ConnectorID)
	if err != nil {
		return nil, fmt.Errorf("parse connector ID %q: %w", m.ConnectorID, err)
	}
	jobID, err := parseID(m.ImportJobID)
	if err != nil {
		return nil, fmt.Errorf("parse import job ID %q: %w", m.ImportJobID, err)
	}
	data, err := unmarshalPayload(m.Data)
	if err != nil {
		return nil, err
	}
	e := &syncer.FinanceEntity{
		ID:          entID,
		ConnectorID: connID,
		ExternalID:  m.ExternalID,
		Data:        data,
		IsApproved:  m.IsApproved,
		ApprovedBy:  m.ApprovedBy,
		ApprovedAt:  m.ApprovedAt,
		ImportJobID: jobID,
	}
	e.Entity = stamp(&e.Entity, m.CreatedAt, m.UpdatedAt)
	return e, nil
}

// --- Sync record models ---

type hrRecordModel struct {
	bun.BaseModel `bun:"table:loom_hr_sync_records"`

	ID              string    `bun:"id,pk"`
	ConnectorID     string    `bun:"connector_id,notnull"`
	EntityID        string    `bun:"entity_id"`
	ExternalID      string    `bun:"external_id,notnull"`
	ImportJobID     string    `bun:"import_job_id,notnull"`
	Outcome         string    `bun:"outcome,notnull"`
	RejectionReason string    `bun:"rejection_reason"`
	Error           string    `bun:"error"`
	CreatedAt       time.Time `bun:"created_at,notnull"`
	UpdatedAt       time.Time `bun:"updated_at,notnull"`
}

func toHRRecordModel(r *syncer.HRSyncRecord) *hrRecordModel {
	return &hrRecordModel{
		ID:              r.ID.String(),
		ConnectorID:     r.ConnectorID.String(),
		EntityID:        r.EntityID.String(),
		ExternalID:      r.ExternalID,
		ImportJobID:     r.ImportJobID.String(),
		Outcome:         string(r.Outcome),
		RejectionReason: r.RejectionReason,
		Error:           r.Error,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
}

func fromHRRecordModel(m *hrRecordModel) (*syncer.HRSyncRecord, error) {
	recID, err := id.ParseWithPrefix(m.ID, id.PrefixSyncRecord)
	if err != nil {
		return nil, fmt.Errorf("parse sync record ID %q: %w", m.ID, err)
	}
	connID, err := id.ParseConnectorID(m.ConnectorID)
	if err != nil {
		return nil, fmt.Errorf("parse connector ID %q: %w", m.ConnectorID, err)
	}
	entID, err := parseID(m.EntityID)
	if err != nil {
		return nil, fmt.Errorf("parse entity ID %q: %w", m.EntityID, err)
	}
	jobID, err := id.ParseJobID(m.ImportJobID)
	if err != nil {
		return nil, fmt.Errorf("parse job ID %q: %w", m.ImportJobID, err)
	}
	r := &syncer.HRSyncRecord{
		ID:              recID,
		ConnectorID:     connID,
		EntityID:        entID,
		ExternalID:      m.ExternalID,
		ImportJobID:     jobID,
		Outcome:         syncer.Outcome(m.Outcome),
		RejectionReason: m.RejectionReason,
		Error:           m.Error,
	}
	r.Entity = stamp(&r.Entity, m.CreatedAt, m.UpdatedAt)
	return r, nil
}

type financeRecordModel struct {
	bun.BaseModel `bun:"table:loom_finance_sync_records"`

	ID                 string    `bun:"id,pk"`
	ConnectorID        string    `bun:"connector_id,notnull"`
	EntityID           string    `bun:"entity_id"`
	ExternalID         string    `bun:"external_id,notnull"`
	ImportJobID        string    `bun:"import_job_id,notnull"`
	Outcome            string    `bun:"outcome,notnull"`
	RejectionReason    string    `bun:"rejection_reason"`
	Error              string    `bun:"error"`
	ConflictDetected   bool      `bun:"conflict_detected"`
	ConflictResolution string    `bun:"conflict_resolution"`
	ApprovedOverrideBy string    `bun:"approved_override_by"`
	CreatedAt          time.Time `bun:"created_at,notnull"`
	UpdatedAt          time.Time `bun:"updated_at,notnull"`
}

func toFinanceRecordModel(r *syncer.FinanceSyncRecord) *financeRecordModel {
	return &financeRecordModel{
		ID:                 r.ID.String(),
		ConnectorID:        r.ConnectorID.String(),
		EntityID:           r.EntityID.String(),
		ExternalID:         r.ExternalID,
		ImportJobID:        r.ImportJobID.String(),
		Outcome:            string(r.Outcome),
		RejectionReason:    r.RejectionReason,
		Error:              r.Error,
		ConflictDetected:   r.ConflictDetected,
		ConflictResolution: r.ConflictResolution,
		ApprovedOverrideBy: r.ApprovedOverrideBy,
		CreatedAt:          r.CreatedAt,
		UpdatedAt:          r.UpdatedAt,
	}
}

func fromFinanceRecordModel(m *financeRecordModel) (*syncer.FinanceSyncRecord, error) {
	recID, err := id.ParseWithPrefix(m.ID, id.PrefixSyncRecord)
	if err != nil {
		return nil, fmt.Errorf("parse sync record ID %q: %w", m.ID, err)
	}
	connID, err := id.ParseConnectorID(m.ConnectorID)
	if err != nil {
		return nil, fmt.Errorf("parse connector ID %q: %w", m.ConnectorID, err)
	}
	entID, err := parseID(m.EntityID)
	if err != nil {
		return nil, fmt.Errorf("parse entity ID %q: %w", m.EntityID, err)
	}
	jobID, err := id.ParseJobID(m.ImportJobID)
	if err != nil {
		return nil, fmt.Errorf("parse job ID %q: %w", m.ImportJobID, err)
	}
	r := &syncer.FinanceSyncRecord{
		ID:                 recID,
		ConnectorID:        connID,
		EntityID:           entID,
		ExternalID:         m.ExternalID,
		ImportJobID:        jobID,
		Outcome:            syncer.Outcome(m.Outcome),
		RejectionReason:    m.RejectionReason,
		Error:              m.Error,
		ConflictDetected:   m.ConflictDetected,
		ConflictResolution: m.ConflictResolution,
		ApprovedOverrideBy: m.ApprovedOverrideBy,
	}
	r.Entity = stamp(&r.Entity, m.CreatedAt, m.UpdatedAt)
	return r, nil
}

// --- Event type models ---

type eventTypeModel struct {
	bun.BaseModel `bun:"table:loom_event_types"`

	ID           string            `bun:"id,pk"`
	Name         string            `bun:"name,notnull,unique"`
	Description  string            `bun:"description"`
	GroupName    string            `bun:"group_name"`
	Schema       json.RawMessage   `bun:"schema,type:jsonb"`
	Example      json.RawMessage   `bun:"example,type:jsonb"`
	IsDeprecated bool              `bun:"is_deprecated"`
	DeprecatedAt *time.Time        `bun:"deprecated_at"`
	Metadata     map[string]string `bun:"metadata,type:jsonb"`
	CreatedAt    time.Time         `bun:"created_at,notnull"`
	UpdatedAt    time.Time         `bun:"updated_at,notnull"`
}

func toEventTypeModel(et *catalog.EventType) *eventTypeModel {
	return &eventTypeModel{
		ID:           et.ID.String(),
		Name:         et.Definition.Name,
		Description:  et.Definition.Description,
		GroupName:    et.Definition.Group,
		Schema:       et.Definition.Schema,
		Example:      et.Definition.Example,
		IsDeprecated: et.IsDeprecated,
		DeprecatedAt: et.DeprecatedAt,
		Metadata:     et.Metadata,
		CreatedAt:    et.CreatedAt,
		UpdatedAt:    et.UpdatedAt,
	}
}

func fromEventTypeModel(m *eventTypeModel) (*catalog.EventType, error) {
	etID, err := id.ParseWithPrefix(m.ID, id.PrefixEventType)
	if err != nil {
		return nil, fmt.Errorf("parse event type ID %q: %w", m.ID, err)
	}
	et := &catalog.EventType{
		ID: etID,
		Definition: catalog.Definition{
			Name:        m.Name,
			Description: m.Description,
			Group:       m.GroupName,
			Schema:      m.Schema,
			Example:     m.Example,
		},
		IsDeprecated: m.IsDeprecated,
		DeprecatedAt: m.DeprecatedAt,
		Metadata:     m.Metadata,
	}
	et.Entity = stamp(&et.Entity, m.CreatedAt, m.UpdatedAt)
	return et, nil
}

// --- Event models ---

type eventModel struct {
	bun.BaseModel `bun:"table:loom_events"`

	ID             string          `bun:"id,pk"`
	Type           string          `bun:"type,notnull"`
	CorrelationID  string          `bun:"correlation_id"`
	Data           json.RawMessage `bun:"data,type:jsonb"`
	IdempotencyKey string          `bun:"idempotency_key"`
	CreatedAt      time.Time       `bun:"created_at,notnull"`
	UpdatedAt      time.Time       `bun:"updated_at,notnull"`
}

func toEventModel(evt *event.Event) (*eventModel, error) {
	var data json.RawMessage
	if evt.Data != nil {
		raw, err := json.Marshal(evt.Data)
		if err != nil {
			return nil, fmt.Errorf("marshal event data: %w", err)
		}
		data = raw
	}
	return &eventModel{
		ID:             evt.ID.String(),
		Type:           evt.Type,
		CorrelationID:  evt.CorrelationID,
		Data:           data,
		IdempotencyKey: evt.IdempotencyKey,
		CreatedAt:      evt.CreatedAt,
		UpdatedAt:      evt.UpdatedAt,
	}, nil
}

func fromEventModel(m *eventModel) (*event.Event, error) {
	evtID, err := id.ParseWithPrefix(m.ID, id.PrefixEvent)
	if err != nil {
		return nil, fmt.Errorf("parse event ID %q: %w", m.ID, err)
	}
	var data any
	if len(m.Data) > 0 {
		if err := json.Unmarshal(m.Data, &data); err != nil {
			return nil, fmt.Errorf("unmarshal event data: %w", err)
		}
	}
	evt := &event.Event{
		ID:             evtID,
		Type:           m.Type,
		CorrelationID:  m.CorrelationID,
		Data:           data,
		IdempotencyKey: m.IdempotencyKey,
	}
	evt.Entity = stamp(&evt.Entity, m.CreatedAt, m.UpdatedAt)
	return evt, nil
}

// --- Subscription models ---

type subscriptionModel struct {
	bun.BaseModel `bun:"table:loom_subscriptions"`

	ID                  string            `bun:"id,pk"`
	URL                 string            `bun:"url,notnull"`
	Description         string            `bun:"description"`
	EventTypes          []string          `bun:"event_types,array"`
	Status              string            `bun:"status,notnull"`
	Secret              string            `bun:"secret,notnull"`
	VerificationToken   string            `bun:"verification_token"`
	RetryPolicy         json.RawMessage   `bun:"retry_policy,type:jsonb"`
	ConsecutiveFailures int               `bun:"consecutive_failures"`
	RateLimit           int               `bun:"rate_limit"`
	Headers             map[string]string `bun:"headers,type:jsonb"`
	Metadata            map[string]string `bun:"metadata,type:jsonb"`
	VerifiedAt          *time.Time        `bun:"verified_at"`
	SecretRotatedAt     *time.Time        `bun:"secret_rotated_at"`
	CreatedAt           time.Time         `bun:"created_at,notnull"`
	UpdatedAt           time.Time         `bun:"updated_at,notnull"`
}

func toSubscriptionModel(sub *webhook.Subscription) (*subscriptionModel, error) {
	policy, err := json.Marshal(sub.RetryPolicy)
	if err != nil {
		return nil, fmt.Errorf("marshal retry policy: %w", err)
	}
	return &subscriptionModel{
		ID:                  sub.ID.String(),
		URL:                 sub.URL,
		Description:         sub.Description,
		EventTypes:          sub.EventTypes,
		Status:              string(sub.Status),
		Secret:              sub.Secret,
		VerificationToken:   sub.VerificationToken,
		RetryPolicy:         policy,
		ConsecutiveFailures: sub.ConsecutiveFailures,
		RateLimit:           sub.RateLimit,
		Headers:             sub.Headers,
		Metadata:            sub.Metadata,
		VerifiedAt:          sub.VerifiedAt,
		SecretRotatedAt:     sub.SecretRotatedAt,
		CreatedAt:           sub.CreatedAt,
		UpdatedAt:           sub.UpdatedAt,
	}, nil
}

func fromSubscriptionModel(m *subscriptionModel) (*webhook.Subscription, error) {
	subID, err := id.ParseSubscriptionID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse subscription ID %q: %w", m.ID, err)
	}
	var policy backoff.Policy
	if len(m.RetryPolicy) > 0 {
		if err := json.Unmarshal(m.RetryPolicy, &policy); err != nil {
			return nil, fmt.Errorf("unmarshal retry policy: %w", err)
		}
	}
	sub := &webhook.Subscription{
		ID:                  subID,
		URL:                 m.URL,
		Description:         m.Description,
		EventTypes:          m.EventTypes,
		Status:              webhook.Status(m.Status),
		Secret:              m.Secret,
		VerificationToken:   m.VerificationToken,
		RetryPolicy:         policy,
		ConsecutiveFailures: m.ConsecutiveFailures,
		RateLimit:           m.RateLimit,
		Headers:             m.Headers,
		Metadata:            m.Metadata,
		VerifiedAt:          m.VerifiedAt,
		SecretRotatedAt:     m.SecretRotatedAt,
	}
	sub.Entity = stamp(&sub.Entity, m.CreatedAt, m.UpdatedAt)
	return sub, nil
}

// --- Delivery models ---

type deliveryModel struct {
	bun.BaseModel `bun:"table:loom_deliveries"`

	ID             string     `bun:"id,pk"`
	SubscriptionID string     `bun:"subscription_id,notnull"`
	EventID        string     `bun:"event_id,notnull"`
	EventType      string     `bun:"event_type,notnull"`
	CorrelationID  string     `bun:"correlation_id"`
	Payload        []byte     `bun:"payload"`
	Signature      string     `bun:"signature"`
	Status         string     `bun:"status,notnull"`
	AttemptCount   int        `bun:"attempt_count"`
	MaxAttempts    int        `bun:"max_attempts"`
	LastError      string     `bun:"last_error"`
	LastStatusCode int        `bun:"last_status_code"`
	LastResponse   string     `bun:"last_response"`
	LastLatencyMs  int        `bun:"last_latency_ms"`
	NextRetryAt    *time.Time `bun:"next_retry_at"`
	CompletedAt    *time.Time `bun:"completed_at"`
	CreatedAt      time.Time  `bun:"created_at,notnull"`
	UpdatedAt      time.Time  `bun:"updated_at,notnull"`
}

func toDeliveryModel(d *delivery.Delivery) *deliveryModel {
	return &deliveryModel{
		ID:             d.ID.String(),
		SubscriptionID: d.SubscriptionID.String(),
		EventID:        d.EventID.String(),
		EventType:      d.EventType,
		CorrelationID:  d.CorrelationID,
		Payload:        d.Payload,
		Signature:      d.Signature,
		Status:         string(d.Status),
		AttemptCount:   d.AttemptCount,
		MaxAttempts:    d.MaxAttempts,
		LastError:      d.LastError,
		LastStatusCode: d.LastStatusCode,
		LastResponse:   d.LastResponse,
		LastLatencyMs:  d.LastLatencyMs,
		NextRetryAt:    d.NextRetryAt,
		CompletedAt:    d.CompletedAt,
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
	}
}

func fromDeliveryModel(m *deliveryModel) (*delivery.Delivery, error) {
	delID, err := id.ParseDeliveryID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse delivery ID %q: %w", m.ID, err)
	}
	subID, err := id.ParseSubscriptionID(m.SubscriptionID)
	if err != nil {
		return nil, fmt.Errorf("parse subscription ID %q: %w", m.SubscriptionID, err)
	}
	evtID, err := id.ParseWithPrefix(m.EventID, id.PrefixEvent)
	if err != nil {
		return nil, fmt.Errorf("parse event ID %q: %w", m.EventID, err)
	}
	d := &delivery.Delivery{
		ID:             delID,
		SubscriptionID: subID,
		EventID:        evtID,
		EventType:      m.EventType,
		CorrelationID:  m.CorrelationID,
		Payload:        m.Payload,
		Signature:      m.Signature,
		Status:         delivery.Status(m.Status),
		AttemptCount:   m.AttemptCount,
		MaxAttempts:    m.MaxAttempts,
		LastError:      m.LastError,
		LastStatusCode: m.LastStatusCode,
		LastResponse:   m.LastResponse,
		LastLatencyMs:  m.LastLatencyMs,
		NextRetryAt:    m.NextRetryAt,
		CompletedAt:    m.CompletedAt,
	}
	d.Entity = stamp(&d.Entity, m.CreatedAt, m.UpdatedAt)
	return d, nil
}

// --- DLQ models ---

type dlqEntryModel struct {
	bun.BaseModel `bun:"table:loom_dlq"`

	ID             string     `bun:"id,pk"`
	DeliveryID     string     `bun:"delivery_id,notnull"`
	EventID        string     `bun:"event_id,notnull"`
	SubscriptionID string     `bun:"subscription_id,notnull"`
	EventType      string     `bun:"event_type,notnull"`
	CorrelationID  string     `bun:"correlation_id"`
	URL            string     `bun:"url"`
	Payload        []byte     `bun:"payload"`
	Error          string     `bun:"error"`
	AttemptCount   int        `bun:"attempt_count"`
	LastStatusCode int        `bun:"last_status_code"`
	ReplayedAt     *time.Time `bun:"replayed_at"`
	FailedAt       time.Time  `bun:"failed_at,notnull"`
	CreatedAt      time.Time  `bun:"created_at,notnull"`
	UpdatedAt      time.Time  `bun:"updated_at,notnull"`
}

func toDLQEntryModel(entry *dlq.Entry) *dlqEntryModel {
	return &dlqEntryModel{
		ID:             entry.ID.String(),
		DeliveryID:     entry.DeliveryID.String(),
		EventID:        entry.EventID.String(),
		SubscriptionID: entry.SubscriptionID.String(),
		EventType:      entry.EventType,
		CorrelationID:  entry.CorrelationID,
		URL:            entry.URL,
		Payload:        entry.Payload,
		Error:          entry.Error,
		AttemptCount:   entry.AttemptCount,
		LastStatusCode: entry.LastStatusCode,
		ReplayedAt:     entry.ReplayedAt,
		FailedAt:       entry.FailedAt,
		CreatedAt:      entry.CreatedAt,
		UpdatedAt:      entry.UpdatedAt,
	}
}

func fromDLQEntryModel(m *dlqEntryModel) (*dlq.Entry, error) {
	dlqID, err := id.ParseDLQID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse dlq entry ID %q: %w", m.ID, err)
	}
	delID, err := parseID(m.DeliveryID)
	if err != nil {
		return nil, fmt.Errorf("parse delivery ID %q: %w", m.DeliveryID, err)
	}
	evtID, err := parseID(m.EventID)
	if err != nil {
		return nil, fmt.Errorf("parse event ID %q: %w", m.EventID, err)
	}
	subID, err := id.ParseSubscriptionID(m.SubscriptionID)
	if err != nil {
		return nil, fmt.Errorf("parse subscription ID %q: %w", m.SubscriptionID, err)
	}
	entry := &dlq.Entry{
		ID:             dlqID,
		DeliveryID:     delID,
		EventID:        evtID,
		SubscriptionID: subID,
		EventType:      m.EventType,
		CorrelationID:  m.CorrelationID,
		URL:            m.URL,
		Payload:        m.Payload,
		Error:          m.Error,
		AttemptCount:   m.AttemptCount,
		LastStatusCode: m.LastStatusCode,
		ReplayedAt:     m.ReplayedAt,
		FailedAt:       m.FailedAt,
	}
	entry.Entity = stamp(&entry.Entity, m.CreatedAt, m.UpdatedAt)
	return entry, nil
}
