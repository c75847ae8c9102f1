package conv

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"arbor/internal/domain"
	convModels "arbor/internal/domain/models/conv"
	"arbor/internal/domain/repositories"
	"arbor/internal/repository/postgres"
)

// PostgresChatRepository implements the ChatRepository interface using PostgreSQL
type PostgresChatRepository struct {
	pool   *pgxpool.Pool
	tables *postgres.TableNames
	logger *slog.Logger
}

// NewChatRepository creates a new PostgresChatRepository
func NewChatRepository(config *postgres.RepositoryConfig) repositories.ChatRepository {
	return &PostgresChatRepository{
		pool:   config.Pool,
		tables: config.Tables,
		logger: config.Logger,
	}
}

// CreateChat creates a new chat container
func (r *PostgresChatRepository) CreateChat(ctx context.Context, chat *convModels.Chat) error {
	baseIDs, err := encodeStringIDs(chat.BaseMessageIDs)
	if err != nil {
		return fmt.Errorf("encode base message ids: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, user_id, title, default_model, active_branch_id, base_message_ids, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, r.tables.Chats)

	executor := postgres.GetExecutor(ctx, r.pool)
	_, err = executor.Exec(ctx, query,
		chat.ID,
		chat.UserID,
		chat.Title,
		chat.DefaultModel,
		chat.ActiveBranchID,
		baseIDs,
		chat.CreatedAt,
		chat.UpdatedAt,
	)
	if err != nil {
		if postgres.IsPgDuplicateError(err) {
			return &domain.ConflictError{
				Message:      "chat already exists",
				ResourceType: "chat",
				ResourceID:   chat.ID,
			}
		}
		return fmt.Errorf("create chat: %w", err)
	}

	return nil
}

// GetChat retrieves a chat by ID scoped to a user
func (r *PostgresChatRepository) GetChat(ctx context.Context, chatID, userID string) (*convModels.Chat, error) {
	query := fmt.Sprintf(`
		SELECT id, user_id, title, default_model, active_branch_id, base_message_ids, created_at, updated_at, deleted_at
		FROM %s
		WHERE id = $1 AND user_id = $2 AND deleted_at IS NULL
	`, r.tables.Chats)

	executor := postgres.GetExecutor(ctx, r.pool)
	chat, err := scanChatRow(executor.QueryRow(ctx, query, chatID, userID))
	if err != nil {
		if postgres.IsPgNoRowsError(err) {
			return nil, fmt.Errorf("chat %s: %w", chatID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get chat: %w", err)
	}

	return chat, nil
}

// ListChats retrieves all non-deleted chats for a user, newest first
func (r *PostgresChatRepository) ListChats(ctx context.Context, userID string) ([]convModels.Chat, error) {
	query := fmt.Sprintf(`
		SELECT id, user_id, title, default_model, active_branch_id, base_message_ids, created_at, updated_at, deleted_at
		FROM %s
		WHERE user_id = $1 AND deleted_at IS NULL
		ORDER BY updated_at DESC
	`, r.tables.Chats)

	executor := postgres.GetExecutor(ctx, r.pool)
	rows, err := executor.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	defer rows.Close()

	chats := make([]convModels.Chat, 0)
	for rows.Next() {
		chat, err := scanChatRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan chat: %w", err)
		}
		chats = append(chats, *chat)
	}

	return chats, rows.Err()
}

// UpdateChat writes the full chat aggregate back
func (r *PostgresChatRepository) UpdateChat(ctx context.Context, chat *convModels.Chat) error {
	baseIDs, err := encodeStringIDs(chat.BaseMessageIDs)
	if err != nil {
		return fmt.Errorf("encode base message ids: %w", err)
	}

	query := fmt.Sprintf(`
		UPDATE %s
		SET title = $2, default_model = $3, active_branch_id = $4, base_message_ids = $5, updated_at = $6
		WHERE id = $1 AND deleted_at IS NULL
	`, r.tables.Chats)

	executor := postgres.GetExecutor(ctx, r.pool)
	tag, err := executor.Exec(ctx, query,
		chat.ID,
		chat.Title,
		chat.DefaultModel,
		chat.ActiveBranchID,
		baseIDs,
		time.Now(),
	)
	if err != nil {
		return fmt.Errorf("update chat: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("chat %s: %w", chat.ID, domain.ErrNotFound)
	}

	return nil
}

// DeleteChat soft-deletes a chat
func (r *PostgresChatRepository) DeleteChat(ctx context.Context, chatID, userID string) error {
	query := fmt.Sprintf(`
		UPDATE %s
		SET deleted_at = $3
		WHERE id = $1 AND user_id = $2 AND deleted_at IS NULL
	`, r.tables.Chats)

	executor := postgres.GetExecutor(ctx, r.pool)
	tag, err := executor.Exec(ctx, query, chatID, userID, time.Now())
	if err != nil {
		return fmt.Errorf("delete chat: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("chat %s: %w", chatID, domain.ErrNotFound)
	}

	return nil
}

// scanner defines the interface for row scanning (implemented by both pgx.Row and pgx.Rows)
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanChatRow(row scanner) (*convModels.Chat, error) {
	var chat convModels.Chat
	var baseIDs []byte

	err := row.Scan(
		&chat.ID,
		&chat.UserID,
		&chat.Title,
		&chat.DefaultModel,
		&chat.ActiveBranchID,
		&baseIDs,
		&chat.CreatedAt,
		&chat.UpdatedAt,
		&chat.DeletedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := decodeStringIDs(baseIDs, &chat.BaseMessageIDs); err != nil {
		return nil, fmt.Errorf("decode base message ids: %w", err)
	}

	return &chat, nil
}

// encodeStringIDs marshals an id list for a JSONB column; nil becomes [].
func encodeStringIDs(ids []string) ([]byte, error) {
	if ids == nil {
		ids = []string{}
	}
	return json.Marshal(ids)
}

// decodeStringIDs unmarshals a JSONB id list; NULL becomes an empty slice.
func decodeStringIDs(data []byte, out *[]string) error {
	if len(data) == 0 {
		*out = []string{}
		return nil
	}
	return json.Unmarshal(data, out)
}
