package memory

import (
	"context"
	"sync"
)

// CredentialStore is an in-memory UserKeyStore for the dev mode and tests.
type CredentialStore struct {
	mu   sync.RWMutex
	keys map[string]map[string]string // userID -> provider -> key
}

func NewCredentialStore() *CredentialStore {
	return &CredentialStore{keys: make(map[string]map[string]string)}
}

func (s *CredentialStore) GetProviderKeys(_ context.Context, userID string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.keys[userID]))
	for provider, key := range s.keys[userID] {
		out[provider] = key
	}
	return out, nil
}

func (s *CredentialStore) SetProviderKey(_ context.Context, userID, provider, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.keys[userID] == nil {
		s.keys[userID] = make(map[string]string)
	}
	s.keys[userID][provider] = key
	return nil
}

func (s *CredentialStore) DeleteProviderKey(_ context.Context, userID, provider string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.keys[userID], provider)
	return nil
}
