package canonical

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"

	"github.com/loomhq/loom/id"
	"github.com/loomhq/loom/internal/entity"
)

// DefaultStandardHours is the fte divisor used when neither the engine
// configuration nor the mapping parameters override it.
const DefaultStandardHours = 40.0

// externalIDKeys are checked in order to resolve the source identifier.
var externalIDKeys = []string{"id", "externalId", "external_id"}

// Config configures the mapping engine.
type Config struct {
	// StandardHours is the default fte divisor (DefaultStandardHours if 0).
	StandardHours float64

	// Custom handles mappings with the "custom" transformation kind.
	Custom CustomTransformFunc
}

// Engine resolves mappings and produces canonical entities from raw
// external payloads.
type Engine struct {
	store     Store
	validator *Validator
	config    Config
	logger    *slog.Logger
}

// NewEngine creates a mapping engine.
func NewEngine(store Store, cfg Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.StandardHours <= 0 {
		cfg.StandardHours = DefaultStandardHours
	}
	return &Engine{
		store:     store,
		validator: NewValidator(),
		config:    cfg,
		logger:    logger,
	}
}

// Input is the payload for MapToCanonicalEntity.
type Input struct {
	// ConnectorID selects the mapping set.
	ConnectorID id.ID

	// EntityType is the target canonical entity type.
	EntityType string

	// SchemaVersion pins a schema version; 0 resolves the latest active.
	SchemaVersion int

	// ExternalData is the raw external payload.
	ExternalData Payload

	// SourceSystem names the external system for provenance.
	SourceSystem string

	// ImportJobID tags the batch run, when mapping inside a sync.
	ImportJobID id.ID

	// OverwriteApproved permits rewriting an approved entity (admin override).
	OverwriteApproved bool
}

// MapToCanonicalEntity normalizes one external payload into a canonical
// entity and persists it.
//
// The pipeline:
//  1. Resolve the schema version (latest active when unpinned).
//  2. Fetch active mappings for (connector, type, version).
//  3. Check required fields, naming every missing one.
//  4. Apply transformations in ascending priority order.
//  5. Preserve unmapped fields as vendor extensions.
//  6. Resolve the external id and persist, born unapproved.
func (e *Engine) MapToCanonicalEntity(ctx context.Context, in Input) (*CanonicalEntity, error) {
	version, err := e.resolveVersion(ctx, in)
	if err != nil {
		return nil, err
	}

	mappings, err := e.store.ListActiveMappings(ctx, in.ConnectorID, in.EntityType, version.Version)
	if err != nil {
		return nil, fmt.Errorf("canonical: list mappings: %w", err)
	}
	if len(mappings) == 0 {
		return nil, fmt.Errorf("%w: connector %s, %s v%d",
			ErrNoMappingsConfigured, in.ConnectorID, in.EntityType, version.Version)
	}

	if err := checkRequired(mappings, in.ExternalData); err != nil {
		return nil, err
	}

	// Ascending priority: when several mappings target one attribute the
	// highest priority is applied last and wins.
	sort.SliceStable(mappings, func(i, j int) bool {
		return mappings[i].Priority < mappings[j].Priority
	})

	env := transformEnv{standardHours: e.config.StandardHours, custom: e.config.Custom}
	data := make(Payload, len(mappings))
	mapped := make(map[string]bool, len(mappings))

	for _, m := range mappings {
		raw, present := in.ExternalData[m.ExternalField]
		mapped[m.ExternalField] = true

		if !present {
			if len(m.DefaultValue) == 0 {
				continue
			}
			var dv Value
			if err := json.Unmarshal(m.DefaultValue, &dv); err != nil {
				return nil, fmt.Errorf("canonical: mapping %s: bad default value: %w", m.ID, err)
			}
			raw = dv
		}

		out, err := applyTransform(raw, m, env)
		if err != nil {
			return nil, err
		}
		data[m.Attribute] = out
	}

	extensions := make(Payload)
	for k, v := range in.ExternalData {
		if !mapped[k] {
			extensions[k] = v
		}
	}

	if len(version.SchemaDefinition) > 0 {
		if err := e.validator.Validate(version.SchemaDefinition, data); err != nil {
			return nil, fmt.Errorf("canonical: schema validation for %s v%d: %w",
				in.EntityType, version.Version, err)
		}
	}

	ent := &CanonicalEntity{
		Entity:           entity.New(),
		ID:               id.NewCanonicalID(),
		ConnectorID:      in.ConnectorID,
		EntityType:       in.EntityType,
		SchemaVersion:    version.Version,
		ExternalID:       resolveExternalID(in.ExternalData),
		Data:             data,
		VendorExtensions: extensions,
		SourceSystem:     in.SourceSystem,
		IsApproved:       false, // imports are never implicitly trusted
		ImportJobID:      in.ImportJobID,
	}

	if err := e.store.UpsertEntity(ctx, ent, in.OverwriteApproved); err != nil {
		return nil, err
	}

	e.logger.DebugContext(ctx, "canonical entity mapped",
		"entity_id", ent.ID, "entity_type", ent.EntityType,
		"schema_version", ent.SchemaVersion, "external_id", ent.ExternalID,
		"vendor_extensions", len(extensions))

	return ent, nil
}

func (e *Engine) resolveVersion(ctx context.Context, in Input) (*EntityVersion, error) {
	if in.SchemaVersion > 0 {
		v, err := e.store.GetVersion(ctx, in.EntityType, in.SchemaVersion)
		if err != nil {
			return nil, fmt.Errorf("canonical: version %s v%d: %w", in.EntityType, in.SchemaVersion, err)
		}
		return v, nil
	}
	v, err := e.store.LatestActiveVersion(ctx, in.EntityType)
	if err != nil {
		return nil, err
	}
	return v, nil
}

// checkRequired collects every required external field that is neither
// present in the payload nor defaulted, so misconfiguration surfaces whole.
func checkRequired(mappings []*Mapping, data Payload) error {
	var missing []string
	for _, m := range mappings {
		if !m.IsRequired {
			continue
		}
		if _, ok := data[m.ExternalField]; ok {
			continue
		}
		if len(m.DefaultValue) > 0 {
			continue
		}
		missing = append(missing, m.ExternalField)
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return &MissingFieldsError{Fields: missing}
	}
	return nil
}

func resolveExternalID(data Payload) string {
	for _, key := range externalIDKeys {
		if v, ok := data[key]; ok && !v.IsNull() {
			return v.Text()
		}
	}
	return ""
}
