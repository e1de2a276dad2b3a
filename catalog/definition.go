package catalog

import "encoding/json"

// Definition describes one event type in the closed catalog. Subscriptions
// may only reference event types that have a registered definition.
type Definition struct {
	// Name is the dot-separated event type name.
	// Convention: "<resource>.<action>", e.g. "hr.sync_completed".
	Name string `json:"name"`

	// Description is a human-readable explanation of when this event fires.
	Description string `json:"description"`

	// Group is an optional category for organizing event types.
	Group string `json:"group,omitempty"`

	// Schema is an optional JSON Schema describing the payload shape.
	// When set, dispatch validates the event data against it.
	Schema json.RawMessage `json:"schema,omitempty"`

	// Example is an optional example payload for documentation.
	Example json.RawMessage `json:"example,omitempty"`
}
