package canonical_test

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"testing"

	"github.com/loomhq/loom/canonical"
	"github.com/loomhq/loom/connector"
	"github.com/loomhq/loom/id"
	"github.com/loomhq/loom/store/memory"
)

func ctx() context.Context { return context.Background() }

type fixture struct {
	store    *memory.Store
	engine   *canonical.Engine
	registry *canonical.Registry
	connID   id.ID
}

func setup(t *testing.T) *fixture {
	t.Helper()
	s := memory.New()

	svc := connector.NewService(s, nil)
	c, err := svc.Create(ctx(), connector.Input{
		Name:    "workday-prod",
		Type:    connector.TypeHR,
		BaseURL: "https://hr.example.com",
	})
	if err != nil {
		t.Fatal(err)
	}

	return &fixture{
		store:    s,
		engine:   canonical.NewEngine(s, canonical.Config{}, nil),
		registry: canonical.NewRegistry(s, nil),
		connID:   c.ID,
	}
}

func (f *fixture) version(t *testing.T, entityType string, version int) {
	t.Helper()
	if _, err := f.registry.RegisterVersion(ctx(), canonical.VersionInput{
		EntityType: entityType,
		Version:    version,
	}); err != nil {
		t.Fatal(err)
	}
}

func (f *fixture) mapping(t *testing.T, in canonical.MappingInput) {
	t.Helper()
	in.ConnectorID = f.connID
	if _, err := f.registry.RegisterMapping(ctx(), in); err != nil {
		t.Fatal(err)
	}
}

func payload(t *testing.T, raw string) canonical.Payload {
	t.Helper()
	p, err := canonical.ParsePayload([]byte(raw))
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func TestMapNoActiveSchema(t *testing.T) {
	f := setup(t)

	_, err := f.engine.MapToCanonicalEntity(ctx(), canonical.Input{
		ConnectorID:  f.connID,
		EntityType:   "employee",
		ExternalData: payload(t, `{"id": "e-1"}`),
	})
	if !errors.Is(err, canonical.ErrNoActiveSchema) {
		t.Errorf("err = %v, want ErrNoActiveSchema", err)
	}
}

func TestMapNoMappingsConfigured(t *testing.T) {
	f := setup(t)
	f.version(t, "employee", 1)

	_, err := f.engine.MapToCanonicalEntity(ctx(), canonical.Input{
		ConnectorID:  f.connID,
		EntityType:   "employee",
		ExternalData: payload(t, `{"id": "e-1"}`),
	})
	if !errors.Is(err, canonical.ErrNoMappingsConfigured) {
		t.Errorf("err = %v, want ErrNoMappingsConfigured", err)
	}
}

func TestMapReportsEveryMissingRequiredField(t *testing.T) {
	f := setup(t)
	f.version(t, "employee", 1)
	f.mapping(t, canonical.MappingInput{
		EntityType: "employee", Version: 1,
		ExternalField: "emp_name", Attribute: "name",
		Transform: "direct", IsRequired: true,
	})
	f.mapping(t, canonical.MappingInput{
		EntityType: "employee", Version: 1,
		ExternalField: "emp_email", Attribute: "email",
		Transform: "direct", IsRequired: true,
	})
	f.mapping(t, canonical.MappingInput{
		EntityType: "employee", Version: 1,
		ExternalField: "dept", Attribute: "department",
		Transform: "direct",
	})

	_, err := f.engine.MapToCanonicalEntity(ctx(), canonical.Input{
		ConnectorID:  f.connID,
		EntityType:   "employee",
		ExternalData: payload(t, `{"id": "e-1", "dept": "engineering"}`),
	})

	var missing *canonical.MissingFieldsError
	if !errors.As(err, &missing) {
		t.Fatalf("err = %v, want MissingFieldsError", err)
	}
	// Every missing field is reported at once, sorted.
	want := []string{"emp_email", "emp_name"}
	if !reflect.DeepEqual(missing.Fields, want) {
		t.Errorf("missing fields = %v, want %v", missing.Fields, want)
	}
}

func TestMapDefaultSatisfiesRequired(t *testing.T) {
	f := setup(t)
	f.version(t, "employee", 1)
	f.mapping(t, canonical.MappingInput{
		EntityType: "employee", Version: 1,
		ExternalField: "emp_status", Attribute: "status",
		Transform: "direct", IsRequired: true,
		DefaultValue: json.RawMessage(`"active"`),
	})

	ent, err := f.engine.MapToCanonicalEntity(ctx(), canonical.Input{
		ConnectorID:  f.connID,
		EntityType:   "employee",
		ExternalData: payload(t, `{"id": "e-1"}`),
	})
	if err != nil {
		t.Fatal(err)
	}
	if s, _ := ent.Data["status"].AsString(); s != "active" {
		t.Errorf("status = %v, want default active", ent.Data["status"])
	}
}

func TestMapTransformsAndVendorExtensions(t *testing.T) {
	f := setup(t)
	f.version(t, "employee", 1)
	f.mapping(t, canonical.MappingInput{
		EntityType: "employee", Version: 1,
		ExternalField: "emp_name", Attribute: "name",
		Transform: "direct", IsRequired: true,
	})
	f.mapping(t, canonical.MappingInput{
		EntityType: "employee", Version: 1,
		ExternalField: "contracted_hours", Attribute: "fte",
		Transform: "fte",
	})
	f.mapping(t, canonical.MappingInput{
		EntityType: "employee", Version: 1,
		ExternalField: "status_code", Attribute: "status",
		Transform: "lookup",
		Params:    json.RawMessage(`{"table":{"A":"active","T":"terminated"}}`),
	})

	ent, err := f.engine.MapToCanonicalEntity(ctx(), canonical.Input{
		ConnectorID:  f.connID,
		EntityType:   "employee",
		SourceSystem: "workday",
		ExternalData: payload(t, `{
			"id": "e-42",
			"emp_name": "Ada",
			"contracted_hours": 20,
			"status_code": "A",
			"cost_center": "cc-9",
			"badge_color": "blue"
		}`),
	})
	if err != nil {
		t.Fatal(err)
	}

	if s, _ := ent.Data["name"].AsString(); s != "Ada" {
		t.Errorf("name = %v", ent.Data["name"])
	}
	if fte, _ := ent.Data["fte"].AsNumber(); fte != 0.5 {
		t.Errorf("fte = %v, want 0.5", fte)
	}
	if s, _ := ent.Data["status"].AsString(); s != "active" {
		t.Errorf("status = %v, want active", ent.Data["status"])
	}

	// Unmapped external fields survive as vendor extensions.
	if _, ok := ent.VendorExtensions["cost_center"]; !ok {
		t.Error("cost_center missing from vendor extensions")
	}
	if _, ok := ent.VendorExtensions["badge_color"]; !ok {
		t.Error("badge_color missing from vendor extensions")
	}
	if _, ok := ent.VendorExtensions["emp_name"]; ok {
		t.Error("mapped field emp_name leaked into vendor extensions")
	}

	if ent.ExternalID != "e-42" {
		t.Errorf("external id = %q, want e-42", ent.ExternalID)
	}
	if ent.SourceSystem != "workday" {
		t.Errorf("source system = %q", ent.SourceSystem)
	}
	if ent.IsApproved {
		t.Error("freshly mapped entity is approved")
	}

	// Also persisted under its external id.
	got, err := f.store.GetEntityByExternalID(ctx(), f.connID, "employee", "e-42")
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != ent.ID {
		t.Errorf("persisted entity id = %s, want %s", got.ID, ent.ID)
	}
}

func TestMapPriorityOrderingLastWins(t *testing.T) {
	f := setup(t)
	f.version(t, "employee", 1)
	f.mapping(t, canonical.MappingInput{
		EntityType: "employee", Version: 1,
		ExternalField: "legacy_name", Attribute: "name",
		Transform: "direct", Priority: 10,
	})
	f.mapping(t, canonical.MappingInput{
		EntityType: "employee", Version: 1,
		ExternalField: "preferred_name", Attribute: "name",
		Transform: "direct", Priority: 20,
	})

	ent, err := f.engine.MapToCanonicalEntity(ctx(), canonical.Input{
		ConnectorID: f.connID,
		EntityType:  "employee",
		ExternalData: payload(t, `{
			"id": "e-7",
			"legacy_name": "A. Lovelace",
			"preferred_name": "Ada"
		}`),
	})
	if err != nil {
		t.Fatal(err)
	}
	if s, _ := ent.Data["name"].AsString(); s != "Ada" {
		t.Errorf("name = %q, want higher-priority mapping to win", s)
	}
}

func TestMapExternalIDKeyOrder(t *testing.T) {
	f := setup(t)
	f.version(t, "employee", 1)
	f.mapping(t, canonical.MappingInput{
		EntityType: "employee", Version: 1,
		ExternalField: "emp_name", Attribute: "name",
		Transform: "direct",
	})

	cases := []struct {
		raw  string
		want string
	}{
		{`{"id": "a", "externalId": "b", "external_id": "c", "emp_name": "x"}`, "a"},
		{`{"externalId": "b", "external_id": "c", "emp_name": "x"}`, "b"},
		{`{"external_id": "c", "emp_name": "x"}`, "c"},
		{`{"emp_name": "x"}`, ""},
		{`{"id": 42, "emp_name": "x"}`, "42"},
	}
	for _, tc := range cases {
		ent, err := f.engine.MapToCanonicalEntity(ctx(), canonical.Input{
			ConnectorID:  f.connID,
			EntityType:   "employee",
			ExternalData: payload(t, tc.raw),
		})
		if err != nil {
			t.Fatal(err)
		}
		if ent.ExternalID != tc.want {
			t.Errorf("payload %s: external id = %q, want %q", tc.raw, ent.ExternalID, tc.want)
		}
	}
}

func TestMapPinnedAndLatestVersionResolution(t *testing.T) {
	f := setup(t)
	f.version(t, "employee", 1)
	f.version(t, "employee", 2)
	for _, v := range []int{1, 2} {
		f.mapping(t, canonical.MappingInput{
			EntityType: "employee", Version: v,
			ExternalField: "emp_name", Attribute: "name",
			Transform: "direct",
		})
	}

	data := payload(t, `{"id": "e-1", "emp_name": "Ada"}`)

	ent, err := f.engine.MapToCanonicalEntity(ctx(), canonical.Input{
		ConnectorID: f.connID, EntityType: "employee", ExternalData: data,
	})
	if err != nil {
		t.Fatal(err)
	}
	if ent.SchemaVersion != 2 {
		t.Errorf("unpinned schema version = %d, want latest 2", ent.SchemaVersion)
	}

	ent, err = f.engine.MapToCanonicalEntity(ctx(), canonical.Input{
		ConnectorID: f.connID, EntityType: "employee",
		SchemaVersion: 1, ExternalData: data,
	})
	if err != nil {
		t.Fatal(err)
	}
	if ent.SchemaVersion != 1 {
		t.Errorf("pinned schema version = %d, want 1", ent.SchemaVersion)
	}

	// Deprecating v2 drops it from implicit resolution.
	if err := f.registry.DeprecateVersion(ctx(), "employee", 2); err != nil {
		t.Fatal(err)
	}
	ent, err = f.engine.MapToCanonicalEntity(ctx(), canonical.Input{
		ConnectorID: f.connID, EntityType: "employee", ExternalData: data,
	})
	if err != nil {
		t.Fatal(err)
	}
	if ent.SchemaVersion != 1 {
		t.Errorf("schema version after deprecation = %d, want 1", ent.SchemaVersion)
	}
}

func TestMapApprovedEntityIsImmutable(t *testing.T) {
	f := setup(t)
	f.version(t, "employee", 1)
	f.mapping(t, canonical.MappingInput{
		EntityType: "employee", Version: 1,
		ExternalField: "emp_name", Attribute: "name",
		Transform: "direct",
	})

	ent, err := f.engine.MapToCanonicalEntity(ctx(), canonical.Input{
		ConnectorID:  f.connID,
		EntityType:   "employee",
		ExternalData: payload(t, `{"id": "e-1", "emp_name": "Ada"}`),
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := f.registry.Approve(ctx(), ent.ID, "admin@example.com"); err != nil {
		t.Fatal(err)
	}

	_, err = f.engine.MapToCanonicalEntity(ctx(), canonical.Input{
		ConnectorID:  f.connID,
		EntityType:   "employee",
		ExternalData: payload(t, `{"id": "e-1", "emp_name": "Mallory"}`),
	})
	if !errors.Is(err, canonical.ErrEntityApproved) {
		t.Errorf("remap of approved entity: err = %v, want ErrEntityApproved", err)
	}

	got, err := f.store.GetEntityByExternalID(ctx(), f.connID, "employee", "e-1")
	if err != nil {
		t.Fatal(err)
	}
	if s, _ := got.Data["name"].AsString(); s != "Ada" {
		t.Errorf("approved entity data changed: name = %q", s)
	}

	// Explicit override rewrites it.
	_, err = f.engine.MapToCanonicalEntity(ctx(), canonical.Input{
		ConnectorID:       f.connID,
		EntityType:        "employee",
		ExternalData:      payload(t, `{"id": "e-1", "emp_name": "Mallory"}`),
		OverwriteApproved: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	got, err = f.store.GetEntityByExternalID(ctx(), f.connID, "employee", "e-1")
	if err != nil {
		t.Fatal(err)
	}
	if s, _ := got.Data["name"].AsString(); s != "Mallory" {
		t.Errorf("override did not rewrite entity: name = %q", s)
	}
}

func TestMapSchemaValidationFailure(t *testing.T) {
	f := setup(t)
	if _, err := f.registry.RegisterVersion(ctx(), canonical.VersionInput{
		EntityType: "employee",
		Version:    1,
		SchemaDefinition: json.RawMessage(`{
			"type": "object",
			"properties": {"fte": {"type": "number", "maximum": 1}}
		}`),
	}); err != nil {
		t.Fatal(err)
	}
	f.mapping(t, canonical.MappingInput{
		EntityType: "employee", Version: 1,
		ExternalField: "contracted_hours", Attribute: "fte",
		Transform: "fte",
	})

	_, err := f.engine.MapToCanonicalEntity(ctx(), canonical.Input{
		ConnectorID:  f.connID,
		EntityType:   "employee",
		ExternalData: payload(t, `{"id": "e-1", "contracted_hours": 80}`),
	})
	if err == nil {
		t.Fatal("payload violating schema was accepted")
	}
}

func TestRegisterVersionRejectsDuplicate(t *testing.T) {
	f := setup(t)
	f.version(t, "employee", 1)

	_, err := f.registry.RegisterVersion(ctx(), canonical.VersionInput{
		EntityType: "employee",
		Version:    1,
	})
	if !errors.Is(err, canonical.ErrVersionExists) {
		t.Errorf("err = %v, want ErrVersionExists", err)
	}
}
