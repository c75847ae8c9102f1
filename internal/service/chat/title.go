package chat

import (
	"context"
	"strings"
	"time"

	"arbor/internal/domain/models/conv"
	convSvc "arbor/internal/domain/services/conv"
)

const (
	titleDelay     = 5 * time.Second
	titleMaxTokens = 32
	titlePrompt    = "Write a concise title for this conversation, at most six words. Reply with the title only, no quotes."
)

func titleJobKey(chatID string) string { return "title:" + chatID }

// maybeScheduleTitle queues deferred title generation for untitled chats.
// The delay lets the first exchange settle so the title has substance;
// repeated sends coalesce onto one pending job.
func (s *Service) maybeScheduleTitle(chat *conv.Chat, userID string) {
	if chat.Title != "" {
		return
	}
	chatID := chat.ID
	s.scheduler.Schedule(titleJobKey(chatID), titleDelay, func(ctx context.Context) {
		s.generateTitle(ctx, chatID, userID)
	})
}

func (s *Service) generateTitle(ctx context.Context, chatID, userID string) {
	chat, err := s.chatRepo.GetChat(ctx, chatID, userID)
	if err != nil || chat.Title != "" {
		return
	}

	prompt, err := s.buildPrompt(ctx, chat, "")
	if err != nil || len(prompt) == 0 {
		return
	}
	// The first exchange is enough signal
	if len(prompt) > 2 {
		prompt = prompt[:2]
	}

	factory, err := s.factoryFor(ctx, userID)
	if err != nil {
		return
	}
	prov, err := factory.ForModel(chat.DefaultModel)
	if err != nil {
		return
	}

	ch, err := prov.Stream(ctx, &convSvc.GenerateRequest{
		Model:     chat.DefaultModel,
		System:    titlePrompt,
		Messages:  prompt,
		MaxTokens: titleMaxTokens,
	})
	if err != nil {
		s.logger.Warn("title generation failed", "chat_id", chatID, "error", err)
		return
	}

	var b strings.Builder
	for d := range ch {
		if d.Err != nil {
			s.logger.Warn("title generation failed", "chat_id", chatID, "error", d.Err)
			return
		}
		b.WriteString(d.Text)
	}

	title := strings.Trim(strings.TrimSpace(b.String()), `"'`)
	if title == "" {
		return
	}
	if len(title) > maxChatTitleLength {
		title = title[:maxChatTitleLength]
	}

	chat.Title = title
	chat.UpdatedAt = time.Now()
	if err := s.chatRepo.UpdateChat(ctx, chat); err != nil {
		s.logger.Warn("title update failed", "chat_id", chatID, "error", err)
		return
	}
	s.logger.Info("chat title generated", "chat_id", chatID, "title", title)
}
