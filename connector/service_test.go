package connector_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/loomhq/loom/backoff"
	"github.com/loomhq/loom/connector"
	"github.com/loomhq/loom/store/memory"
)

func ctx() context.Context { return context.Background() }

func newService(t *testing.T) *connector.Service {
	t.Helper()
	return connector.NewService(memory.New(), nil)
}

func TestCreateStartsDisabled(t *testing.T) {
	svc := newService(t)

	c, err := svc.Create(ctx(), connector.Input{
		Name:    "workday-prod",
		Type:    connector.TypeHR,
		BaseURL: "https://hr.example.com/api",
	})
	if err != nil {
		t.Fatal(err)
	}

	if c.Status != connector.StatusDisabled {
		t.Errorf("new connector status = %q, want %q", c.Status, connector.StatusDisabled)
	}
	if c.Enabled() {
		t.Error("new connector reports Enabled()")
	}
	if c.ID.IsNil() {
		t.Error("expected connector ID to be assigned")
	}
}

func TestCreateAppliesDefaultRetryPolicy(t *testing.T) {
	svc := newService(t)

	c, err := svc.Create(ctx(), connector.Input{
		Name:    "netsuite",
		Type:    connector.TypeFinance,
		BaseURL: "https://fin.example.com",
	})
	if err != nil {
		t.Fatal(err)
	}

	if c.RetryPolicy != backoff.Default {
		t.Errorf("retry policy = %+v, want Default", c.RetryPolicy)
	}
}

func TestCreateValidation(t *testing.T) {
	svc := newService(t)

	cases := []struct {
		name  string
		in    connector.Input
		field string
	}{
		{"missing name", connector.Input{Type: connector.TypeHR, BaseURL: "https://x.example.com"}, "name"},
		{"bad type", connector.Input{Name: "x", Type: "crm", BaseURL: "https://x.example.com"}, "type"},
		{"bad url", connector.Input{Name: "x", Type: connector.TypeHR, BaseURL: "not a url"}, "base_url"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Create(ctx(), tc.in)

			var verr *connector.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("Create() error = %v, want ValidationError", err)
			}
			if verr.Field != tc.field {
				t.Errorf("ValidationError.Field = %q, want %q", verr.Field, tc.field)
			}
		})
	}
}

func TestEnableDisable(t *testing.T) {
	svc := newService(t)

	c, err := svc.Create(ctx(), connector.Input{
		Name:    "bamboohr",
		Type:    connector.TypeHR,
		BaseURL: "https://hr.example.com",
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := svc.Enable(ctx(), c.ID); err != nil {
		t.Fatal(err)
	}
	got, err := svc.Get(ctx(), c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != connector.StatusEnabled {
		t.Errorf("status after Enable = %q, want enabled", got.Status)
	}

	if err := svc.Disable(ctx(), c.ID); err != nil {
		t.Fatal(err)
	}
	got, err = svc.Get(ctx(), c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != connector.StatusDisabled {
		t.Errorf("status after Disable = %q, want disabled", got.Status)
	}
}

func TestUpdatePreservesUnsetFields(t *testing.T) {
	svc := newService(t)

	c, err := svc.Create(ctx(), connector.Input{
		Name:     "sap",
		Type:     connector.TypeFinance,
		BaseURL:  "https://fin.example.com",
		AuthType: connector.AuthAPIKey,
		RetryPolicy: backoff.Policy{
			MaxRetryAttempts: 2,
			BaseDelay:        time.Second,
		},
		FieldMap: map[string]string{"emp_no": "employeeNumber"},
	})
	if err != nil {
		t.Fatal(err)
	}

	updated, err := svc.Update(ctx(), c.ID, connector.Input{Name: "sap-eu"})
	if err != nil {
		t.Fatal(err)
	}

	if updated.Name != "sap-eu" {
		t.Errorf("Name = %q, want sap-eu", updated.Name)
	}
	if updated.BaseURL != "https://fin.example.com" {
		t.Errorf("BaseURL changed unexpectedly: %q", updated.BaseURL)
	}
	if updated.AuthType != connector.AuthAPIKey {
		t.Errorf("AuthType changed unexpectedly: %q", updated.AuthType)
	}
	if updated.FieldMap["emp_no"] != "employeeNumber" {
		t.Error("FieldMap changed unexpectedly")
	}
}

func TestListFiltersByType(t *testing.T) {
	svc := newService(t)

	for _, in := range []connector.Input{
		{Name: "hr-1", Type: connector.TypeHR, BaseURL: "https://a.example.com"},
		{Name: "hr-2", Type: connector.TypeHR, BaseURL: "https://b.example.com"},
		{Name: "fin-1", Type: connector.TypeFinance, BaseURL: "https://c.example.com"},
	} {
		if _, err := svc.Create(ctx(), in); err != nil {
			t.Fatal(err)
		}
	}

	hr, err := svc.List(ctx(), connector.ListOpts{Type: connector.TypeHR})
	if err != nil {
		t.Fatal(err)
	}
	if len(hr) != 2 {
		t.Errorf("List(hr) returned %d connectors, want 2", len(hr))
	}
}
