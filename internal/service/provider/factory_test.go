package provider

import (
	"errors"
	"testing"

	"arbor/internal/capabilities"
	"arbor/internal/domain"
)

func testRegistry(t *testing.T) *capabilities.Registry {
	t.Helper()
	r, err := capabilities.NewRegistry()
	if err != nil {
		t.Fatalf("capability registry: %v", err)
	}
	return r
}

func TestForModel(t *testing.T) {
	f := NewFactory(testRegistry(t), map[string]string{
		"anthropic": "sk-ant-test",
		"openai":    "sk-test",
	}, nil, nil)

	tests := []struct {
		name     string
		model    string
		provider string
		wantErr  error
	}{
		{"anthropic keyed", "claude-sonnet-4-5-20250929", "anthropic", nil},
		{"openai keyed", "gpt-4o", "openai", nil},
		{"echo needs no key", "echo-1", "echo", nil},
		{"google key missing", "gemini-2.0-flash", "", domain.ErrValidation},
		{"unknown model", "frontier-9000", "", domain.ErrUnknownProvider},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := f.ForModel(tt.model)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ForModel: %v", err)
			}
			if p.Name() != tt.provider {
				t.Errorf("provider = %q, want %q", p.Name(), tt.provider)
			}
			if !p.SupportsModel(tt.model) {
				t.Errorf("%s does not claim %s", p.Name(), tt.model)
			}
		})
	}
}

func TestForProviderUnknown(t *testing.T) {
	f := NewFactory(testRegistry(t), nil, nil, nil)
	if _, err := f.ForProvider("acme"); !errors.Is(err, domain.ErrUnknownProvider) {
		t.Errorf("err = %v, want ErrUnknownProvider", err)
	}
}

func TestIsResumable(t *testing.T) {
	f := NewFactory(testRegistry(t), nil, nil, nil)

	tests := []struct {
		model string
		want  bool
	}{
		{"claude-sonnet-4-5-20250929", true},
		{"echo-1", true},
		{"gpt-4o", false},
		{"gemini-2.0-flash", false},
		{"frontier-9000", false},
	}
	for _, tt := range tests {
		if got := f.IsResumable(tt.model); got != tt.want {
			t.Errorf("IsResumable(%q) = %v, want %v", tt.model, got, tt.want)
		}
	}
}
