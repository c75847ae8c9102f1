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

const messageColumns = `id, chat_id, branch_id, role, content, model, status, is_streaming,
	attachments, edit_history, versions, branch_ids, multi, created_at, updated_at`

// PostgresMessageRepository implements the MessageRepository interface using PostgreSQL
type PostgresMessageRepository struct {
	pool   *pgxpool.Pool
	tables *postgres.TableNames
	logger *slog.Logger
}

// NewMessageRepository creates a new PostgresMessageRepository
func NewMessageRepository(config *postgres.RepositoryConfig) repositories.MessageRepository {
	return &PostgresMessageRepository{
		pool:   config.Pool,
		tables: config.Tables,
		logger: config.Logger,
	}
}

// CreateMessage creates a new message
func (r *PostgresMessageRepository) CreateMessage(ctx context.Context, msg *convModels.Message) error {
	fields, err := encodeMessageFields(msg)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (%s)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`, r.tables.Messages, messageColumns)

	executor := postgres.GetExecutor(ctx, r.pool)
	_, err = executor.Exec(ctx, query,
		msg.ID,
		msg.ChatID,
		msg.BranchID,
		msg.Role,
		msg.Content,
		msg.Model,
		msg.Status,
		msg.IsStreaming,
		fields.attachments,
		fields.editHistory,
		fields.versions,
		fields.branchIDs,
		fields.multi,
		msg.CreatedAt,
		msg.UpdatedAt,
	)
	if err != nil {
		if postgres.IsPgForeignKeyError(err) {
			return fmt.Errorf("chat %s: %w", msg.ChatID, domain.ErrNotFound)
		}
		return fmt.Errorf("create message: %w", err)
	}

	return nil
}

// GetMessage retrieves a message by ID
func (r *PostgresMessageRepository) GetMessage(ctx context.Context, messageID string) (*convModels.Message, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, messageColumns, r.tables.Messages)

	executor := postgres.GetExecutor(ctx, r.pool)
	msg, err := scanMessageRow(executor.QueryRow(ctx, query, messageID))
	if err != nil {
		if postgres.IsPgNoRowsError(err) {
			return nil, fmt.Errorf("message %s: %w", messageID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get message: %w", err)
	}

	return msg, nil
}

// GetMessagesByIDs retrieves messages preserving the order of ids.
// Missing ids are skipped.
func (r *PostgresMessageRepository) GetMessagesByIDs(ctx context.Context, ids []string) ([]convModels.Message, error) {
	if len(ids) == 0 {
		return []convModels.Message{}, nil
	}

	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = ANY($1)`, messageColumns, r.tables.Messages)

	executor := postgres.GetExecutor(ctx, r.pool)
	rows, err := executor.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("get messages: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]convModels.Message, len(ids))
	for rows.Next() {
		msg, err := scanMessageRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		byID[msg.ID] = *msg
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	ordered := make([]convModels.Message, 0, len(ids))
	for _, id := range ids {
		if msg, ok := byID[id]; ok {
			ordered = append(ordered, msg)
		}
	}

	return ordered, nil
}

// ListMessagesByBranch retrieves all messages owned by a branch, oldest first
func (r *PostgresMessageRepository) ListMessagesByBranch(ctx context.Context, branchID string) ([]convModels.Message, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE branch_id = $1
		ORDER BY created_at ASC
	`, messageColumns, r.tables.Messages)

	executor := postgres.GetExecutor(ctx, r.pool)
	rows, err := executor.Query(ctx, query, branchID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	messages := make([]convModels.Message, 0)
	for rows.Next() {
		msg, err := scanMessageRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, *msg)
	}

	return messages, rows.Err()
}

// UpdateMessage writes the full message aggregate back in one step
func (r *PostgresMessageRepository) UpdateMessage(ctx context.Context, msg *convModels.Message) error {
	fields, err := encodeMessageFields(msg)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`
		UPDATE %s
		SET branch_id = $2, content = $3, model = $4, status = $5, is_streaming = $6,
		    attachments = $7, edit_history = $8, versions = $9, branch_ids = $10,
		    multi = $11, updated_at = $12
		WHERE id = $1
	`, r.tables.Messages)

	executor := postgres.GetExecutor(ctx, r.pool)
	tag, err := executor.Exec(ctx, query,
		msg.ID,
		msg.BranchID,
		msg.Content,
		msg.Model,
		msg.Status,
		msg.IsStreaming,
		fields.attachments,
		fields.editHistory,
		fields.versions,
		fields.branchIDs,
		fields.multi,
		time.Now(),
	)
	if err != nil {
		return fmt.Errorf("update message: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("message %s: %w", msg.ID, domain.ErrNotFound)
	}

	return nil
}

// SetContent patches only content, status and the is_streaming flag.
// Issued on every streaming delta, so it avoids re-writing the JSONB columns.
func (r *PostgresMessageRepository) SetContent(ctx context.Context, messageID, content, status string, isStreaming bool) error {
	query := fmt.Sprintf(`
		UPDATE %s
		SET content = $2, status = $3, is_streaming = $4, updated_at = $5
		WHERE id = $1
	`, r.tables.Messages)

	executor := postgres.GetExecutor(ctx, r.pool)
	tag, err := executor.Exec(ctx, query, messageID, content, status, isStreaming, time.Now())
	if err != nil {
		return fmt.Errorf("set message content: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("message %s: %w", messageID, domain.ErrNotFound)
	}

	return nil
}

// DeleteMessage removes a message permanently
func (r *PostgresMessageRepository) DeleteMessage(ctx context.Context, messageID string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, r.tables.Messages)

	executor := postgres.GetExecutor(ctx, r.pool)
	if _, err := executor.Exec(ctx, query, messageID); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}

	return nil
}

// DeleteMessages removes a batch of messages permanently
func (r *PostgresMessageRepository) DeleteMessages(ctx context.Context, messageIDs []string) error {
	if len(messageIDs) == 0 {
		return nil
	}

	query := fmt.Sprintf(`DELETE FROM %s WHERE id = ANY($1)`, r.tables.Messages)

	executor := postgres.GetExecutor(ctx, r.pool)
	if _, err := executor.Exec(ctx, query, messageIDs); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}

	return nil
}

// encodedMessageFields holds the JSONB columns of a message row
type encodedMessageFields struct {
	attachments []byte
	editHistory []byte
	versions    []byte
	branchIDs   []byte
	multi       []byte
}

func encodeMessageFields(msg *convModels.Message) (*encodedMessageFields, error) {
	attachments, err := json.Marshal(orEmptyAttachments(msg.Attachments))
	if err != nil {
		return nil, fmt.Errorf("encode attachments: %w", err)
	}
	editHistory, err := json.Marshal(orEmptyEdits(msg.EditHistory))
	if err != nil {
		return nil, fmt.Errorf("encode edit history: %w", err)
	}
	versions, err := json.Marshal(orEmptyVersions(msg.Versions))
	if err != nil {
		return nil, fmt.Errorf("encode versions: %w", err)
	}
	branchIDs, err := encodeStringIDs(msg.BranchIDs)
	if err != nil {
		return nil, fmt.Errorf("encode branch ids: %w", err)
	}

	var multi []byte
	if msg.Multi != nil {
		multi, err = json.Marshal(msg.Multi)
		if err != nil {
			return nil, fmt.Errorf("encode multi response: %w", err)
		}
	}

	return &encodedMessageFields{
		attachments: attachments,
		editHistory: editHistory,
		versions:    versions,
		branchIDs:   branchIDs,
		multi:       multi, // nil becomes NULL
	}, nil
}

func scanMessageRow(row scanner) (*convModels.Message, error) {
	var msg convModels.Message
	var attachments, editHistory, versions, branchIDs, multi []byte

	err := row.Scan(
		&msg.ID,
		&msg.ChatID,
		&msg.BranchID,
		&msg.Role,
		&msg.Content,
		&msg.Model,
		&msg.Status,
		&msg.IsStreaming,
		&attachments,
		&editHistory,
		&versions,
		&branchIDs,
		&multi,
		&msg.CreatedAt,
		&msg.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(attachments) > 0 {
		if err := json.Unmarshal(attachments, &msg.Attachments); err != nil {
			return nil, fmt.Errorf("decode attachments: %w", err)
		}
	}
	if len(editHistory) > 0 {
		if err := json.Unmarshal(editHistory, &msg.EditHistory); err != nil {
			return nil, fmt.Errorf("decode edit history: %w", err)
		}
	}
	if len(versions) > 0 {
		if err := json.Unmarshal(versions, &msg.Versions); err != nil {
			return nil, fmt.Errorf("decode versions: %w", err)
		}
	}
	if err := decodeStringIDs(branchIDs, &msg.BranchIDs); err != nil {
		return nil, fmt.Errorf("decode branch ids: %w", err)
	}
	if len(multi) > 0 {
		msg.Multi = &convModels.MultiResponse{}
		if err := json.Unmarshal(multi, msg.Multi); err != nil {
			return nil, fmt.Errorf("decode multi response: %w", err)
		}
	}

	return &msg, nil
}

func orEmptyAttachments(a []convModels.Attachment) []convModels.Attachment {
	if a == nil {
		return []convModels.Attachment{}
	}
	return a
}

func orEmptyEdits(e []convModels.EditEntry) []convModels.EditEntry {
	if e == nil {
		return []convModels.EditEntry{}
	}
	return e
}

func orEmptyVersions(v []convModels.Version) []convModels.Version {
	if v == nil {
		return []convModels.Version{}
	}
	return v
}
