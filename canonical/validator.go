package canonical

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Validator validates canonical payloads against JSON Schema definitions.
type Validator struct {
	mu    sync.RWMutex
	cache map[string]*jsonschema.Schema // keyed by schema JSON content
}

// NewValidator creates a new schema validator.
func NewValidator() *Validator {
	return &Validator{
		cache: make(map[string]*jsonschema.Schema),
	}
}

// Validate checks the payload against the schema. A nil schema is a no-op.
func (v *Validator) Validate(schema json.RawMessage, data Payload) error {
	if len(schema) == 0 {
		return nil
	}

	compiled, err := v.compile(schema)
	if err != nil {
		return fmt.Errorf("schema compilation error: %w", err)
	}

	// The compiler validates plain decoded JSON, so round-trip the payload
	// out of the tagged representation.
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}

	return compiled.Validate(doc)
}

// compile returns a compiled schema, using the cache for previously-seen
// definitions.
func (v *Validator) compile(schema json.RawMessage) (*jsonschema.Schema, error) {
	key := string(schema)

	v.mu.RLock()
	if cached, ok := v.cache[key]; ok {
		v.mu.RUnlock()
		return cached, nil
	}
	v.mu.RUnlock()

	var doc any
	if err := json.Unmarshal(schema, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}

	// Each compilation uses its own compiler, so a fixed resource URL is fine.
	const url = "loom://schema/definition"

	c := jsonschema.NewCompiler()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}

	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	v.mu.Lock()
	v.cache[key] = compiled
	v.mu.Unlock()

	return compiled, nil
}
