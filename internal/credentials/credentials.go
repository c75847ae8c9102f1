// Package credentials resolves per-user provider API keys, layered over
// system defaults from the environment.
package credentials

import (
	"context"

	"arbor/internal/config"
	"arbor/internal/domain/models/conv"
)

// Resolver returns the provider API keys available to a user.
// The map is keyed by provider name and holds only non-empty keys.
type Resolver interface {
	APIKeys(ctx context.Context, userID string) (map[string]string, error)
}

// UserKeyStore is the persistence contract for user-supplied keys.
type UserKeyStore interface {
	GetProviderKeys(ctx context.Context, userID string) (map[string]string, error)
	SetProviderKey(ctx context.Context, userID, provider, key string) error
	DeleteProviderKey(ctx context.Context, userID, provider string) error
}

// StaticResolver serves the same system-level keys to every user.
type StaticResolver struct {
	keys map[string]string
}

// NewStaticResolver builds a resolver from the environment configuration.
func NewStaticResolver(cfg *config.Config) *StaticResolver {
	keys := make(map[string]string)
	if cfg.AnthropicAPIKey != "" {
		keys[conv.ProviderAnthropic] = cfg.AnthropicAPIKey
	}
	if cfg.OpenAIAPIKey != "" {
		keys[conv.ProviderOpenAI] = cfg.OpenAIAPIKey
	}
	if cfg.GoogleAPIKey != "" {
		keys[conv.ProviderGoogle] = cfg.GoogleAPIKey
	}
	return &StaticResolver{keys: keys}
}

func (r *StaticResolver) APIKeys(_ context.Context, _ string) (map[string]string, error) {
	out := make(map[string]string, len(r.keys))
	for k, v := range r.keys {
		out[k] = v
	}
	return out, nil
}

// LayeredResolver overlays user-stored keys on top of system defaults.
// A user key always wins over the system key for the same provider.
type LayeredResolver struct {
	defaults Resolver
	store    UserKeyStore
}

func NewLayeredResolver(defaults Resolver, store UserKeyStore) *LayeredResolver {
	return &LayeredResolver{defaults: defaults, store: store}
}

func (r *LayeredResolver) APIKeys(ctx context.Context, userID string) (map[string]string, error) {
	keys, err := r.defaults.APIKeys(ctx, userID)
	if err != nil {
		return nil, err
	}
	userKeys, err := r.store.GetProviderKeys(ctx, userID)
	if err != nil {
		return nil, err
	}
	for provider, key := range userKeys {
		if key != "" {
			keys[provider] = key
		}
	}
	return keys, nil
}
