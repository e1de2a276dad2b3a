// Package connector holds the registry of configured external system
// connectors. A connector is pure configuration: where an external system
// lives, how to authenticate against it, how aggressively to retry it, and
// how its fields map onto staging entities. All execution logic lives in the
// execution package.
package connector

import (
	"github.com/loomhq/loom/backoff"
	"github.com/loomhq/loom/id"
	"github.com/loomhq/loom/internal/entity"
)

// Type identifies the domain an external system belongs to.
type Type string

const (
	// TypeHR marks connectors to HR systems (employee data).
	TypeHR Type = "hr"

	// TypeFinance marks connectors to Finance systems (financial records).
	TypeFinance Type = "finance"
)

// Valid reports whether t is a known connector type.
func (t Type) Valid() bool {
	return t == TypeHR || t == TypeFinance
}

// Status is the operational state of a connector.
type Status string

const (
	// StatusDisabled means the connector performs no outbound calls.
	// Connectors are created Disabled and must be enabled explicitly.
	StatusDisabled Status = "disabled"

	// StatusEnabled means the connector may be executed.
	StatusEnabled Status = "enabled"
)

// AuthType identifies how outbound calls authenticate.
type AuthType string

const (
	AuthNone   AuthType = "none"
	AuthAPIKey AuthType = "api_key"
	AuthOAuth2 AuthType = "oauth2"
	AuthBasic  AuthType = "basic"
)

// Connector is the configuration for one external system integration.
type Connector struct {
	entity.Entity

	// ID is the unique TypeID for this connector.
	ID id.ID `json:"id"`

	// Name is a human-readable connector name.
	Name string `json:"name"`

	// Type is the domain of the external system ("hr" or "finance").
	Type Type `json:"type"`

	// Status gates execution. Disabled connectors never make network calls.
	Status Status `json:"status"`

	// BaseURL is the endpoint base URL of the external system.
	BaseURL string `json:"base_url"`

	// AuthType identifies the authentication scheme for outbound calls.
	AuthType AuthType `json:"auth_type"`

	// SecretRef points at the credential in the host's secret manager.
	// The secret itself is never stored or logged here.
	SecretRef string `json:"secret_ref,omitempty"`

	// RetryPolicy governs execution retries for this connector.
	RetryPolicy backoff.Policy `json:"retry_policy"`

	// FieldMap is the connector-embedded mapping from external field names
	// to staging entity field names, applied record-by-record during domain
	// sync. It is distinct from the versioned canonical mapping engine.
	FieldMap map[string]string `json:"field_map,omitempty"`

	// Metadata holds user-defined key-value pairs.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Enabled reports whether the connector may be executed.
func (c *Connector) Enabled() bool {
	return c.Status == StatusEnabled
}

// ListOpts configures filtering and pagination for connector listing.
type ListOpts struct {
	Offset int
	Limit  int
	Type   Type
	Status *Status
}
