package connector

import (
	"context"

	"github.com/loomhq/loom/id"
)

// Store defines the persistence contract for connector configuration.
type Store interface {
	// CreateConnector persists a new connector.
	CreateConnector(ctx context.Context, c *Connector) error

	// GetConnector returns a connector by ID.
	GetConnector(ctx context.Context, connID id.ID) (*Connector, error)

	// UpdateConnector modifies an existing connector.
	UpdateConnector(ctx context.Context, c *Connector) error

	// DeleteConnector removes a connector.
	DeleteConnector(ctx context.Context, connID id.ID) error

	// ListConnectors returns connectors, optionally filtered.
	ListConnectors(ctx context.Context, opts ListOpts) ([]*Connector, error)

	// SetConnectorStatus toggles a connector without rewriting its config.
	SetConnectorStatus(ctx context.Context, connID id.ID, status Status) error
}
