package capabilities

import (
	"sort"
	"testing"
)

func TestNewRegistryLoadsAllProviders(t *testing.T) {
	r, err := NewRegistry()
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	got := r.GetAllProviders()
	sort.Strings(got)
	want := []string{"anthropic", "echo", "google", "openai"}
	if len(got) != len(want) {
		t.Fatalf("providers = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("providers[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestGetModelCapabilities(t *testing.T) {
	r, err := NewRegistry()
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	caps, err := r.GetModelCapabilities("anthropic", "claude-sonnet-4-5-20250929")
	if err != nil {
		t.Fatalf("GetModelCapabilities: %v", err)
	}
	if caps.MaxOutput != 64000 {
		t.Errorf("max output = %d, want 64000", caps.MaxOutput)
	}
	if !caps.ImageInput {
		t.Error("expected image input support")
	}

	if _, err := r.GetModelCapabilities("anthropic", "claude-0"); err == nil {
		t.Error("expected an error for an unknown model")
	}
	if _, err := r.GetModelCapabilities("acme", "model-x"); err == nil {
		t.Error("expected an error for an unknown provider")
	}
}

func TestProviderFlags(t *testing.T) {
	r, err := NewRegistry()
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	tests := []struct {
		provider     string
		resumable    bool
		nativeSearch bool
	}{
		{"anthropic", true, true},
		{"openai", false, false},
		{"google", false, false},
		{"echo", true, false},
		{"acme", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.provider, func(t *testing.T) {
			if got := r.IsResumable(tt.provider); got != tt.resumable {
				t.Errorf("IsResumable = %v, want %v", got, tt.resumable)
			}
			if got := r.HasNativeSearch(tt.provider); got != tt.nativeSearch {
				t.Errorf("HasNativeSearch = %v, want %v", got, tt.nativeSearch)
			}
		})
	}
}

func TestListProviderModelsKeepsOrder(t *testing.T) {
	r, err := NewRegistry()
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	models, err := r.ListProviderModels("openai")
	if err != nil {
		t.Fatalf("ListProviderModels: %v", err)
	}
	if len(models) != 4 {
		t.Fatalf("models = %d, want 4", len(models))
	}
	if models[0].ID != "gpt-4o" || models[3].ID != "dall-e-3" {
		t.Errorf("unexpected order: first %q, last %q", models[0].ID, models[3].ID)
	}
	if !models[3].ImageGeneration {
		t.Error("dall-e-3 must advertise image generation")
	}
}
