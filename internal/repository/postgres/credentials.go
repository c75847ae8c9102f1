package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresCredentialStore persists per-user provider API keys as a JSONB
// map keyed by provider name.
type PostgresCredentialStore struct {
	pool   *pgxpool.Pool
	tables *TableNames
	logger *slog.Logger
}

// NewCredentialStore creates a new PostgresCredentialStore
func NewCredentialStore(config *RepositoryConfig) *PostgresCredentialStore {
	return &PostgresCredentialStore{
		pool:   config.Pool,
		tables: config.Tables,
		logger: config.Logger,
	}
}

// GetProviderKeys returns the stored keys for a user. A user with no row
// gets an empty map, not an error.
func (s *PostgresCredentialStore) GetProviderKeys(ctx context.Context, userID string) (map[string]string, error) {
	query := fmt.Sprintf(`
		SELECT provider_keys
		FROM %s
		WHERE user_id = $1
	`, s.tables.Preferences)

	var raw []byte
	executor := GetExecutor(ctx, s.pool)
	err := executor.QueryRow(ctx, query, userID).Scan(&raw)
	if err != nil {
		if err == pgx.ErrNoRows {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("get provider keys: %w", err)
	}

	keys := map[string]string{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &keys); err != nil {
			return nil, fmt.Errorf("decode provider keys: %w", err)
		}
	}
	return keys, nil
}

// SetProviderKey stores or replaces one provider key for a user.
func (s *PostgresCredentialStore) SetProviderKey(ctx context.Context, userID, provider, key string) error {
	keys, err := s.GetProviderKeys(ctx, userID)
	if err != nil {
		return err
	}
	keys[provider] = key
	return s.upsert(ctx, userID, keys)
}

// DeleteProviderKey removes one provider key for a user.
func (s *PostgresCredentialStore) DeleteProviderKey(ctx context.Context, userID, provider string) error {
	keys, err := s.GetProviderKeys(ctx, userID)
	if err != nil {
		return err
	}
	delete(keys, provider)
	return s.upsert(ctx, userID, keys)
}

func (s *PostgresCredentialStore) upsert(ctx context.Context, userID string, keys map[string]string) error {
	raw, err := json.Marshal(keys)
	if err != nil {
		return fmt.Errorf("encode provider keys: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (user_id, provider_keys, created_at, updated_at)
		VALUES ($1, $2, $3, $3)
		ON CONFLICT (user_id) DO UPDATE SET
			provider_keys = EXCLUDED.provider_keys,
			updated_at = EXCLUDED.updated_at
	`, s.tables.Preferences)

	executor := GetExecutor(ctx, s.pool)
	if _, err := executor.Exec(ctx, query, userID, raw, time.Now()); err != nil {
		return fmt.Errorf("upsert provider keys: %w", err)
	}
	return nil
}
