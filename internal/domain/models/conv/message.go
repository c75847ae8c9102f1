package conv

import (
	"time"
)

// Message roles
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Message statuses. A message moves created -> streaming -> one of
// {complete, stopped, error}; streaming -> resuming -> streaming happens when
// a dropped connection is continued via a provider resume token.
const (
	StatusCreated   = "created"
	StatusStreaming = "streaming"
	StatusResuming  = "resuming"
	StatusComplete  = "complete"
	StatusStopped   = "stopped"
	StatusError     = "error"
)

// Markers appended to message content when generation ends abnormally.
// Users always see completed content, partial content with a clear marker,
// or a validation error at submission time - never a silently stuck message.
const (
	StoppedMarker = "\n\n[stopped by user]"
	FailureText   = "I'm sorry, I wasn't able to generate a response. Please try again."
)

// Attachment references uploaded bytes in the blob store by content id.
type Attachment struct {
	ContentID string `json:"content_id"`
	Name      string `json:"name"`
	MimeType  string `json:"mime_type"`
	Size      int64  `json:"size"`
}

// EditEntry preserves superseded content when a message is edited.
type EditEntry struct {
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Version is a historical content snapshot of a single message. Versions
// replace one message's content in place; branches fork the conversation.
// At most one version is active, and the message's Content/Model always
// mirror the active version once versioning has been initialized.
type Version struct {
	ID        string                 `json:"version_id"`
	Content   string                 `json:"content"`
	Model     string                 `json:"model"`
	IsActive  bool                   `json:"is_active"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

// Message is one conversation turn.
type Message struct {
	ID          string       `json:"id" db:"id"`
	ChatID      string       `json:"chat_id" db:"chat_id"`
	BranchID    string       `json:"branch_id" db:"branch_id"`
	Role        string       `json:"role" db:"role"`
	Content     string       `json:"content" db:"content"`
	Model       string       `json:"model,omitempty" db:"model"`
	Status      string       `json:"status" db:"status"`
	IsStreaming bool         `json:"is_streaming" db:"is_streaming"`
	Attachments []Attachment `json:"attachments,omitempty" db:"attachments"`
	EditHistory []EditEntry  `json:"edit_history,omitempty" db:"edit_history"`
	Versions    []Version    `json:"versions,omitempty" db:"versions"`
	// BranchIDs lists forks rooted at this message, kept for cascade cleanup.
	BranchIDs []string       `json:"branch_ids,omitempty" db:"branch_ids"`
	Multi     *MultiResponse `json:"multi,omitempty" db:"multi"`
	CreatedAt time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt time.Time      `json:"updated_at" db:"updated_at"`
}

// ActiveVersion returns the active version, or nil when versioning has not
// been initialized for this message.
func (m *Message) ActiveVersion() *Version {
	for i := range m.Versions {
		if m.Versions[i].IsActive {
			return &m.Versions[i]
		}
	}
	return nil
}

// Citation is a source reference extracted from a provider's grounding or
// annotation payload, or from a fallback search API.
type Citation struct {
	Title     string `json:"title"`
	URL       string `json:"url"`
	Source    string `json:"source"`
	StartChar int    `json:"start_char,omitempty"`
	EndChar   int    `json:"end_char,omitempty"`
	CitedText string `json:"cited_text,omitempty"`
}
