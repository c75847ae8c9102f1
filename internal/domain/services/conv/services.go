package conv

import (
	"context"

	"arbor/internal/domain/models/conv"
)

// Delete modes for DeleteMessage
const (
	DeleteModeFromHere = "from_here" // delete the message and everything after it
	DeleteModeAllAfter = "all_after" // keep the message, delete everything after it
)

// SendMessageRequest creates a user turn and triggers assistant generation.
// Models carries 2..8 entries in multi-model mode and is empty otherwise.
type SendMessageRequest struct {
	ChatID      string            `json:"chat_id"`
	UserID      string            `json:"-"`
	Content     string            `json:"content"`
	Model       string            `json:"model,omitempty"`
	Models      []string          `json:"models,omitempty"`
	Attachments []conv.Attachment `json:"attachments,omitempty"`
}

// SendMessageResponse returns both turns so the client can connect to the
// assistant message's SSE stream.
type SendMessageResponse struct {
	UserMessage      *conv.Message `json:"user_message"`
	AssistantMessage *conv.Message `json:"assistant_message"`
	StreamURL        string        `json:"stream_url"`
}

// EditMessageRequest edits a historical message, forking the conversation.
type EditMessageRequest struct {
	MessageID  string `json:"-"`
	UserID     string `json:"-"`
	NewContent string `json:"content"`
}

// EditMessageResponse identifies the edited message (a fresh id under the
// branch-preserving strategy) and the branch now active.
type EditMessageResponse struct {
	MessageID string `json:"message_id"`
	BranchID  string `json:"branch_id"`
}

// DeleteMessageResult reports what a deletion removed.
type DeleteMessageResult struct {
	DeletedCount int `json:"deleted_count"`
	FromIndex    int `json:"from_index"`
}

// RetryResponse identifies the new version created by a retry.
type RetryResponse struct {
	MessageID    string `json:"message_id"`
	NewVersionID string `json:"new_version_id"`
	StreamURL    string `json:"stream_url"`
}

// CreateChatRequest creates a new chat container.
type CreateChatRequest struct {
	UserID       string `json:"-"`
	Title        string `json:"title"`
	DefaultModel string `json:"default_model,omitempty"`
}

// ChatService is the public façade consumed by the transport layer.
type ChatService interface {
	CreateChat(ctx context.Context, req *CreateChatRequest) (*conv.Chat, error)
	GetChat(ctx context.Context, chatID, userID string) (*conv.Chat, error)
	ListChats(ctx context.Context, userID string) ([]conv.Chat, error)
	UpdateChatTitle(ctx context.Context, chatID, userID, title string) (*conv.Chat, error)
	DeleteChat(ctx context.Context, chatID, userID string) error

	// ActiveTranscript returns the ordered messages of the active branch,
	// trunk included.
	ActiveTranscript(ctx context.Context, chatID, userID string) ([]conv.Message, error)

	// GetMessage returns one message, scoped to the chat owner.
	GetMessage(ctx context.Context, messageID, userID string) (*conv.Message, error)

	SendMessage(ctx context.Context, req *SendMessageRequest) (*SendMessageResponse, error)
	SendMultiModelMessage(ctx context.Context, req *SendMessageRequest) (*SendMessageResponse, error)
	Retry(ctx context.Context, messageID, userID, model string) (*RetryResponse, error)
	StopStreaming(ctx context.Context, messageID, userID string) error
	EditMessage(ctx context.Context, req *EditMessageRequest) (*EditMessageResponse, error)
	SwitchBranch(ctx context.Context, chatID, userID, branchID string) (*conv.Chat, error)
	SwitchVersion(ctx context.Context, messageID, userID, versionID string) (*conv.Message, error)
	DeleteMessage(ctx context.Context, messageID, userID, mode string) (*DeleteMessageResult, error)

	// Multi-response coordination
	SetPrimaryResponse(ctx context.Context, messageID, userID, responseID string) (*conv.Message, error)
	DeleteResponse(ctx context.Context, messageID, userID, responseID string) (*conv.Message, error)
}
