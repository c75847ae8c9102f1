package conv

import (
	"time"
)

// Multi-model response limits. A multi-model message fans out to between
// MinModels and MaxModels providers; deletion never reduces the number of
// live responses below MinResponses.
const (
	MinModels    = 2
	MaxModels    = 8
	MinResponses = 2
)

// ResponseSlot is one provider response attached to a multi-model message.
type ResponseSlot struct {
	ID        string    `json:"response_id"`
	Model     string    `json:"model"`
	Content   string    `json:"content"`
	IsPrimary bool      `json:"is_primary"`
	IsDeleted bool      `json:"is_deleted"`
	CreatedAt time.Time `json:"created_at"`
}

// MultiResponse holds the N parallel provider responses of a single logical
// assistant turn. Exactly one non-deleted slot is primary; the parent
// message's visible content mirrors the primary slot.
type MultiResponse struct {
	SelectedModels    []string       `json:"selected_models"`
	Responses         []ResponseSlot `json:"responses"`
	PrimaryResponseID string         `json:"primary_response_id"`
}

// Slot returns the slot with the given id, or nil.
func (mr *MultiResponse) Slot(responseID string) *ResponseSlot {
	for i := range mr.Responses {
		if mr.Responses[i].ID == responseID {
			return &mr.Responses[i]
		}
	}
	return nil
}

// Primary returns the primary slot, or nil.
func (mr *MultiResponse) Primary() *ResponseSlot {
	return mr.Slot(mr.PrimaryResponseID)
}

// LiveCount returns the number of non-deleted slots.
func (mr *MultiResponse) LiveCount() int {
	n := 0
	for i := range mr.Responses {
		if !mr.Responses[i].IsDeleted {
			n++
		}
	}
	return n
}

// Resolved reports whether every non-deleted slot has non-empty content.
// The parent message stays in streaming state until then.
func (mr *MultiResponse) Resolved() bool {
	for i := range mr.Responses {
		if !mr.Responses[i].IsDeleted && mr.Responses[i].Content == "" {
			return false
		}
	}
	return true
}
