package streaming

import (
	"context"

	"arbor/internal/domain/models/conv"
	"arbor/internal/domain/repositories"
)

// MessageSink persists a generation into a message row. Streaming writes
// use the cheap content patch; the terminal write reads the aggregate
// back so the active version stays in sync with the message content.
type MessageSink struct {
	repo      repositories.MessageRepository
	messageID string
}

func NewMessageSink(repo repositories.MessageRepository, messageID string) *MessageSink {
	return &MessageSink{repo: repo, messageID: messageID}
}

func (s *MessageSink) Persist(ctx context.Context, content, status string, streaming bool) error {
	if streaming {
		return s.repo.SetContent(ctx, s.messageID, content, status, true)
	}

	msg, err := s.repo.GetMessage(ctx, s.messageID)
	if err != nil {
		return err
	}
	msg.Content = content
	msg.Status = status
	msg.IsStreaming = false
	if v := msg.ActiveVersion(); v != nil {
		v.Content = content
	}
	return s.repo.UpdateMessage(ctx, msg)
}

// Snapshot returns the current persisted content and status, used by the
// SSE catchup path for reconnecting clients.
func Snapshot(ctx context.Context, repo repositories.MessageRepository, messageID string) (*conv.CatchupEvent, error) {
	msg, err := repo.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	return &conv.CatchupEvent{
		MessageID: messageID,
		Content:   msg.Content,
		Status:    msg.Status,
	}, nil
}
