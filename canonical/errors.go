package canonical

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors returned by the mapping engine and registry.
var (
	// ErrNoActiveSchema is returned when schema version resolution finds no
	// active, non-deprecated version for an entity type.
	ErrNoActiveSchema = errors.New("canonical: no active schema version for entity type")

	// ErrNoMappingsConfigured is returned when no active mappings exist for
	// (connector, entity type, version).
	ErrNoMappingsConfigured = errors.New("canonical: no mappings configured")

	// ErrVersionExists is returned when registering a duplicate
	// (entity type, version) pair.
	ErrVersionExists = errors.New("canonical: schema version already exists")

	// ErrVersionNotFound is returned when a schema version cannot be found.
	ErrVersionNotFound = errors.New("canonical: schema version not found")

	// ErrEntityNotFound is returned when a canonical entity cannot be found.
	ErrEntityNotFound = errors.New("canonical: entity not found")

	// ErrEntityApproved is returned when automated sync attempts to rewrite
	// an approved entity without an admin override.
	ErrEntityApproved = errors.New("canonical: entity is approved and immutable to automated sync")
)

// MissingFieldsError reports every required external field absent from an
// external payload, not just the first.
type MissingFieldsError struct {
	Fields []string
}

func (e *MissingFieldsError) Error() string {
	return fmt.Sprintf("canonical: missing required fields: %s", strings.Join(e.Fields, ", "))
}
