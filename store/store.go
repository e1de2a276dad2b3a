// Package store defines the composite Store interface for all Loom
// persistence.
//
// Each subsystem defines its own store interface; the aggregate Store
// composes them all so a single backend serves the whole engine.
package store

import (
	"context"

	"github.com/loomhq/loom/canonical"
	"github.com/loomhq/loom/catalog"
	"github.com/loomhq/loom/connector"
	"github.com/loomhq/loom/delivery"
	"github.com/loomhq/loom/dlq"
	"github.com/loomhq/loom/event"
	"github.com/loomhq/loom/execution"
	"github.com/loomhq/loom/syncer"
	"github.com/loomhq/loom/webhook"
)

// Store is the aggregate persistence interface.
type Store interface {
	connector.Store
	execution.Store
	canonical.Store
	syncer.Store
	catalog.Store
	event.Store
	webhook.Store
	delivery.Store
	dlq.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error

	// Close releases the backend connection. Operations after Close
	// report the store as closed.
	Close(ctx context.Context) error
}
