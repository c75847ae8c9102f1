package conv

import (
	"time"
)

// Chat is a conversation container. The full ordered transcript of a chat is
// BaseMessageIDs (the trunk, shared by every branch) followed by the active
// branch's MessageIDs.
type Chat struct {
	ID             string     `json:"id" db:"id"`
	UserID         string     `json:"user_id" db:"user_id"`
	Title          string     `json:"title" db:"title"`
	DefaultModel   string     `json:"default_model" db:"default_model"`
	ActiveBranchID string     `json:"active_branch_id" db:"active_branch_id"`
	BaseMessageIDs []string   `json:"base_message_ids" db:"base_message_ids"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at" db:"updated_at"`
	DeletedAt      *time.Time `json:"deleted_at,omitempty" db:"deleted_at"`
}

// Branch is one line of conversation history after the trunk. Exactly one
// branch per chat has IsMain = true; a non-main branch that becomes empty is
// deleted and the chat falls back to the main branch.
type Branch struct {
	ID         string    `json:"id" db:"id"`
	ChatID     string    `json:"chat_id" db:"chat_id"`
	Name       string    `json:"name" db:"name"`
	MessageIDs []string  `json:"message_ids" db:"message_ids"`
	IsMain     bool      `json:"is_main" db:"is_main"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time `json:"updated_at" db:"updated_at"`
}

// Transcript returns the full ordered message id list for a branch of the
// given chat: trunk first, then the branch's own messages.
func Transcript(chat *Chat, branch *Branch) []string {
	ids := make([]string, 0, len(chat.BaseMessageIDs)+len(branch.MessageIDs))
	ids = append(ids, chat.BaseMessageIDs...)
	ids = append(ids, branch.MessageIDs...)
	return ids
}
