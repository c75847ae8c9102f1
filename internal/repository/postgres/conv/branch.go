package conv

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"arbor/internal/domain"
	convModels "arbor/internal/domain/models/conv"
	"arbor/internal/domain/repositories"
	"arbor/internal/repository/postgres"
)

// PostgresBranchRepository implements the BranchRepository interface using PostgreSQL
type PostgresBranchRepository struct {
	pool   *pgxpool.Pool
	tables *postgres.TableNames
	logger *slog.Logger
}

// NewBranchRepository creates a new PostgresBranchRepository
func NewBranchRepository(config *postgres.RepositoryConfig) repositories.BranchRepository {
	return &PostgresBranchRepository{
		pool:   config.Pool,
		tables: config.Tables,
		logger: config.Logger,
	}
}

// CreateBranch creates a new branch
func (r *PostgresBranchRepository) CreateBranch(ctx context.Context, branch *convModels.Branch) error {
	messageIDs, err := encodeStringIDs(branch.MessageIDs)
	if err != nil {
		return fmt.Errorf("encode message ids: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, chat_id, name, message_ids, is_main, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, r.tables.Branches)

	executor := postgres.GetExecutor(ctx, r.pool)
	_, err = executor.Exec(ctx, query,
		branch.ID,
		branch.ChatID,
		branch.Name,
		messageIDs,
		branch.IsMain,
		branch.CreatedAt,
		branch.UpdatedAt,
	)
	if err != nil {
		if postgres.IsPgForeignKeyError(err) {
			return fmt.Errorf("chat %s: %w", branch.ChatID, domain.ErrNotFound)
		}
		return fmt.Errorf("create branch: %w", err)
	}

	return nil
}

// GetBranch retrieves a branch by ID
func (r *PostgresBranchRepository) GetBranch(ctx context.Context, branchID string) (*convModels.Branch, error) {
	query := fmt.Sprintf(`
		SELECT id, chat_id, name, message_ids, is_main, created_at, updated_at
		FROM %s
		WHERE id = $1
	`, r.tables.Branches)

	executor := postgres.GetExecutor(ctx, r.pool)
	branch, err := scanBranchRow(executor.QueryRow(ctx, query, branchID))
	if err != nil {
		if postgres.IsPgNoRowsError(err) {
			return nil, fmt.Errorf("branch %s: %w", branchID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get branch: %w", err)
	}

	return branch, nil
}

// ListBranchesByChat retrieves all branches of a chat, oldest first
func (r *PostgresBranchRepository) ListBranchesByChat(ctx context.Context, chatID string) ([]convModels.Branch, error) {
	query := fmt.Sprintf(`
		SELECT id, chat_id, name, message_ids, is_main, created_at, updated_at
		FROM %s
		WHERE chat_id = $1
		ORDER BY created_at ASC
	`, r.tables.Branches)

	executor := postgres.GetExecutor(ctx, r.pool)
	rows, err := executor.Query(ctx, query, chatID)
	if err != nil {
		return nil, fmt.Errorf("list branches: %w", err)
	}
	defer rows.Close()

	branches := make([]convModels.Branch, 0)
	for rows.Next() {
		branch, err := scanBranchRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan branch: %w", err)
		}
		branches = append(branches, *branch)
	}

	return branches, rows.Err()
}

// UpdateBranch writes the full branch aggregate back
func (r *PostgresBranchRepository) UpdateBranch(ctx context.Context, branch *convModels.Branch) error {
	messageIDs, err := encodeStringIDs(branch.MessageIDs)
	if err != nil {
		return fmt.Errorf("encode message ids: %w", err)
	}

	query := fmt.Sprintf(`
		UPDATE %s
		SET name = $2, message_ids = $3, is_main = $4, updated_at = $5
		WHERE id = $1
	`, r.tables.Branches)

	executor := postgres.GetExecutor(ctx, r.pool)
	tag, err := executor.Exec(ctx, query,
		branch.ID,
		branch.Name,
		messageIDs,
		branch.IsMain,
		time.Now(),
	)
	if err != nil {
		return fmt.Errorf("update branch: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("branch %s: %w", branch.ID, domain.ErrNotFound)
	}

	return nil
}

// DeleteBranch removes a branch
func (r *PostgresBranchRepository) DeleteBranch(ctx context.Context, branchID string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, r.tables.Branches)

	executor := postgres.GetExecutor(ctx, r.pool)
	if _, err := executor.Exec(ctx, query, branchID); err != nil {
		return fmt.Errorf("delete branch: %w", err)
	}

	return nil
}

func scanBranchRow(row scanner) (*convModels.Branch, error) {
	var branch convModels.Branch
	var messageIDs []byte

	err := row.Scan(
		&branch.ID,
		&branch.ChatID,
		&branch.Name,
		&messageIDs,
		&branch.IsMain,
		&branch.CreatedAt,
		&branch.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := decodeStringIDs(messageIDs, &branch.MessageIDs); err != nil {
		return nil, fmt.Errorf("decode message ids: %w", err)
	}

	return &branch, nil
}
