package connector

import (
	"context"
	"log/slog"
	"net/url"

	"github.com/loomhq/loom/backoff"
	"github.com/loomhq/loom/id"
	"github.com/loomhq/loom/internal/entity"
)

// Service provides connector registry operations.
type Service struct {
	store  Store
	logger *slog.Logger
}

// NewService creates a new connector registry service.
func NewService(store Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  store,
		logger: logger,
	}
}

// Input is the creation/update payload for connectors.
type Input struct {
	Name        string            `json:"name"`
	Type        Type              `json:"type"`
	BaseURL     string            `json:"base_url"`
	AuthType    AuthType          `json:"auth_type"`
	SecretRef   string            `json:"secret_ref,omitempty"`
	RetryPolicy backoff.Policy    `json:"retry_policy"`
	FieldMap    map[string]string `json:"field_map,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Create registers a new connector. New connectors always start Disabled so
// that a half-configured integration cannot be executed by accident.
func (svc *Service) Create(ctx context.Context, in Input) (*Connector, error) {
	if in.Name == "" {
		return nil, &ValidationError{Field: "name", Message: "required"}
	}
	if !in.Type.Valid() {
		return nil, &ValidationError{Field: "type", Message: "unknown connector type"}
	}
	if _, err := url.ParseRequestURI(in.BaseURL); err != nil {
		return nil, &ValidationError{Field: "base_url", Message: "invalid URL"}
	}

	authType := in.AuthType
	if authType == "" {
		authType = AuthNone
	}

	c := &Connector{
		Entity:      entity.New(),
		ID:          id.NewConnectorID(),
		Name:        in.Name,
		Type:        in.Type,
		Status:      StatusDisabled,
		BaseURL:     in.BaseURL,
		AuthType:    authType,
		SecretRef:   in.SecretRef,
		RetryPolicy: in.RetryPolicy.OrDefault(),
		FieldMap:    in.FieldMap,
		Metadata:    in.Metadata,
	}

	if err := svc.store.CreateConnector(ctx, c); err != nil {
		return nil, err
	}

	svc.logger.DebugContext(ctx, "connector created",
		"connector_id", c.ID, "type", c.Type, "name", c.Name)

	return c, nil
}

// Get returns a connector by ID.
func (svc *Service) Get(ctx context.Context, connID id.ID) (*Connector, error) {
	return svc.store.GetConnector(ctx, connID)
}

// Update modifies an existing connector's configuration. Status is not
// touched here; use Enable/Disable for that.
func (svc *Service) Update(ctx context.Context, connID id.ID, in Input) (*Connector, error) {
	c, err := svc.store.GetConnector(ctx, connID)
	if err != nil {
		return nil, err
	}

	if in.Name != "" {
		c.Name = in.Name
	}
	if in.BaseURL != "" {
		if _, err := url.ParseRequestURI(in.BaseURL); err != nil {
			return nil, &ValidationError{Field: "base_url", Message: "invalid URL"}
		}
		c.BaseURL = in.BaseURL
	}
	if in.AuthType != "" {
		c.AuthType = in.AuthType
	}
	if in.SecretRef != "" {
		c.SecretRef = in.SecretRef
	}
	if in.RetryPolicy != (backoff.Policy{}) {
		c.RetryPolicy = in.RetryPolicy
	}
	if in.FieldMap != nil {
		c.FieldMap = in.FieldMap
	}
	if in.Metadata != nil {
		c.Metadata = in.Metadata
	}
	c.Touch()

	if err := svc.store.UpdateConnector(ctx, c); err != nil {
		return nil, err
	}

	return c, nil
}

// Delete removes a connector.
func (svc *Service) Delete(ctx context.Context, connID id.ID) error {
	return svc.store.DeleteConnector(ctx, connID)
}

// List returns connectors matching the given options.
func (svc *Service) List(ctx context.Context, opts ListOpts) ([]*Connector, error) {
	return svc.store.ListConnectors(ctx, opts)
}

// Enable marks a connector as executable.
func (svc *Service) Enable(ctx context.Context, connID id.ID) error {
	return svc.store.SetConnectorStatus(ctx, connID, StatusEnabled)
}

// Disable stops all execution through a connector.
func (svc *Service) Disable(ctx context.Context, connID id.ID) error {
	return svc.store.SetConnectorStatus(ctx, connID, StatusDisabled)
}

// ValidationError indicates invalid input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return "connector validation: " + e.Field + ": " + e.Message
}
