// Package provider resolves models to concrete provider adapters and
// constructs clients scoped to a single request's credentials.
package provider

import (
	"fmt"
	"log/slog"
	"net/http"

	"arbor/internal/capabilities"
	"arbor/internal/domain"
	"arbor/internal/domain/models/conv"
	convSvc "arbor/internal/domain/services/conv"
	"arbor/internal/service/provider/anthropic"
	"arbor/internal/service/provider/echo"
	"arbor/internal/service/provider/google"
	"arbor/internal/service/provider/openai"
)

// Factory builds provider adapters for a single user's credentials.
// Callers construct one per request; adapters are never shared across
// users, so a key rotation takes effect on the next request.
type Factory struct {
	registry   *capabilities.Registry
	keys       map[string]string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewFactory creates a factory over the given provider keys. keys maps
// provider name to API key; providers without a key are unavailable.
func NewFactory(registry *capabilities.Registry, keys map[string]string, httpClient *http.Client, logger *slog.Logger) *Factory {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Factory{
		registry:   registry,
		keys:       keys,
		httpClient: httpClient,
		logger:     logger,
	}
}

// ForModel returns the adapter responsible for a model name.
func (f *Factory) ForModel(model string) (convSvc.Provider, error) {
	name, ok := conv.ProviderForModel(model)
	if !ok {
		return nil, fmt.Errorf("model %q: %w", model, domain.ErrUnknownProvider)
	}
	return f.ForProvider(name)
}

// ForProvider returns the adapter for a provider by name.
func (f *Factory) ForProvider(name string) (convSvc.Provider, error) {
	switch name {
	case conv.ProviderAnthropic:
		key := f.keys[conv.ProviderAnthropic]
		if key == "" {
			return nil, fmt.Errorf("anthropic API key not configured: %w", domain.ErrValidation)
		}
		return anthropic.New(key, f.httpClient, f.logger), nil
	case conv.ProviderOpenAI:
		key := f.keys[conv.ProviderOpenAI]
		if key == "" {
			return nil, fmt.Errorf("openai API key not configured: %w", domain.ErrValidation)
		}
		return openai.New(key, f.logger), nil
	case conv.ProviderGoogle:
		key := f.keys[conv.ProviderGoogle]
		if key == "" {
			return nil, fmt.Errorf("google API key not configured: %w", domain.ErrValidation)
		}
		return google.New(key, f.logger), nil
	case conv.ProviderEcho:
		return echo.New(), nil
	default:
		return nil, fmt.Errorf("provider %q: %w", name, domain.ErrUnknownProvider)
	}
}

// IsResumable reports whether a model's provider supports stream resumption.
func (f *Factory) IsResumable(model string) bool {
	name, ok := conv.ProviderForModel(model)
	if !ok {
		return false
	}
	return f.registry.IsResumable(name)
}
