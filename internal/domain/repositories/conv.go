package repositories

import (
	"context"

	"arbor/internal/domain/models/conv"
)

// ChatRepository defines the interface for chat data access
type ChatRepository interface {
	// CreateChat creates a new chat container
	CreateChat(ctx context.Context, chat *conv.Chat) error

	// GetChat retrieves a chat by ID (scoped to user)
	// Returns domain.ErrNotFound if not found
	GetChat(ctx context.Context, chatID, userID string) (*conv.Chat, error)

	// ListChats retrieves all non-deleted chats for a user, newest first
	ListChats(ctx context.Context, userID string) ([]conv.Chat, error)

	// UpdateChat writes the full chat aggregate back (title, default model,
	// active branch, trunk message ids, updated_at)
	// Returns domain.ErrNotFound if not found
	UpdateChat(ctx context.Context, chat *conv.Chat) error

	// DeleteChat soft-deletes a chat
	// Returns domain.ErrNotFound if not found or already deleted
	DeleteChat(ctx context.Context, chatID, userID string) error
}

// BranchRepository defines the interface for branch data access.
// Branch membership is an ordered list of message ids; all cross-references
// are id lookups, never embedded documents.
type BranchRepository interface {
	// CreateBranch creates a new branch
	CreateBranch(ctx context.Context, branch *conv.Branch) error

	// GetBranch retrieves a branch by ID
	// Returns domain.ErrNotFound if not found
	GetBranch(ctx context.Context, branchID string) (*conv.Branch, error)

	// ListBranchesByChat retrieves all branches of a chat, oldest first
	ListBranchesByChat(ctx context.Context, chatID string) ([]conv.Branch, error)

	// UpdateBranch writes the full branch aggregate back
	// Returns domain.ErrNotFound if not found
	UpdateBranch(ctx context.Context, branch *conv.Branch) error

	// DeleteBranch removes a branch. Messages owned by it are deleted
	// separately by the caller.
	DeleteBranch(ctx context.Context, branchID string) error
}

// MessageRepository defines the interface for message data access
type MessageRepository interface {
	// CreateMessage creates a new message
	CreateMessage(ctx context.Context, msg *conv.Message) error

	// GetMessage retrieves a message by ID
	// Returns domain.ErrNotFound if not found
	GetMessage(ctx context.Context, messageID string) (*conv.Message, error)

	// GetMessagesByIDs retrieves messages preserving the order of ids.
	// Missing ids are skipped, not errors; branch lists may briefly
	// reference messages deleted by a concurrent cascade.
	GetMessagesByIDs(ctx context.Context, ids []string) ([]conv.Message, error)

	// ListMessagesByBranch retrieves all messages owned by a branch,
	// ordered by creation time
	ListMessagesByBranch(ctx context.Context, branchID string) ([]conv.Message, error)

	// UpdateMessage writes the full message aggregate back in one logical
	// step. Invariants like "exactly one active version" are maintained by
	// always read-modify-writing the whole aggregate.
	// Returns domain.ErrNotFound if not found
	UpdateMessage(ctx context.Context, msg *conv.Message) error

	// SetContent patches only the streaming-relevant fields of a message:
	// content, status and the is_streaming flag. Used on every delta so the
	// write stays cheap during generation.
	SetContent(ctx context.Context, messageID, content, status string, isStreaming bool) error

	// DeleteMessage removes a message permanently
	DeleteMessage(ctx context.Context, messageID string) error

	// DeleteMessages removes a batch of messages permanently
	DeleteMessages(ctx context.Context, messageIDs []string) error
}
