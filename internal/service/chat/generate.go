package chat

import (
	"context"
	"fmt"
	"strings"

	"arbor/internal/domain/models/conv"
	convSvc "arbor/internal/domain/services/conv"
	"arbor/internal/service/streaming"
)

// startGeneration resolves the provider, snapshots the prompt, and hands
// the run to the orchestrator on a background context so it survives the
// HTTP request that triggered it.
func (s *Service) startGeneration(ctx context.Context, chat *conv.Chat, msg *conv.Message, model, userID string) error {
	factory, err := s.factoryFor(ctx, userID)
	if err != nil {
		return err
	}
	prov, err := factory.ForModel(model)
	if err != nil {
		return err
	}
	prompt, err := s.buildPrompt(ctx, chat, msg.ID)
	if err != nil {
		return err
	}
	genReq, err := s.buildRequest(ctx, prov, model, prompt)
	if err != nil {
		return err
	}

	session := streaming.NewSession(msg.ID, "")
	s.registry.Register(session)

	go s.orchestrator.Run(context.WithoutCancel(ctx), &streaming.Generation{
		Session:   session,
		Provider:  prov,
		Request:   genReq,
		Sink:      streaming.NewMessageSink(s.msgRepo, msg.ID),
		MessageID: msg.ID,
		Model:     model,
	})

	s.logger.Info("generation started",
		"message_id", msg.ID,
		"model", model,
		"provider", prov.Name(),
	)
	return nil
}

// failStart settles an assistant row whose generation never launched.
// The rows are persisted before the provider is resolved, so a missing
// key or an unreadable attachment must not leave the message spinning
// with no session that will ever settle it.
func (s *Service) failStart(ctx context.Context, messageID string, cause error) {
	if err := s.msgRepo.SetContent(ctx, messageID, conv.FailureText, conv.StatusError, false); err != nil {
		s.logger.Error("settle failed start", "message_id", messageID, "error", err)
	}
	s.registry.Publish(messageID, conv.StreamEvent{
		Event: conv.SSEEventError,
		Data:  conv.ErrorEvent{MessageID: messageID, Error: cause.Error()},
	})
}

// buildPrompt flattens the active transcript into provider turns,
// excluding the message being generated and any turn with nothing usable.
func (s *Service) buildPrompt(ctx context.Context, chat *conv.Chat, excludeID string) ([]convSvc.PromptMessage, error) {
	msgs, err := s.branches.ActiveTranscript(ctx, chat)
	if err != nil {
		return nil, err
	}

	var prompt []convSvc.PromptMessage
	for i := range msgs {
		m := &msgs[i]
		if m.ID == excludeID {
			continue
		}
		if m.Status == conv.StatusError || m.IsStreaming {
			continue
		}
		if m.Content == "" && len(m.Attachments) == 0 {
			continue
		}
		prompt = append(prompt, convSvc.PromptMessage{
			Role:        m.Role,
			Content:     m.Content,
			Attachments: m.Attachments,
		})
	}
	return prompt, nil
}

func (s *Service) buildRequest(ctx context.Context, prov convSvc.Provider, model string, prompt []convSvc.PromptMessage) (*convSvc.GenerateRequest, error) {
	refs, err := s.uploads.Resolve(ctx, prov, prompt)
	if err != nil {
		return nil, err
	}

	maxTokens := 0
	if caps, err := s.capabilities.GetModelCapabilities(prov.Name(), model); err == nil {
		maxTokens = caps.MaxOutput
	}

	return &convSvc.GenerateRequest{
		Model:          model,
		Messages:       prompt,
		MaxTokens:      maxTokens,
		AttachmentRefs: refs,
	}, nil
}

// startImageCommand renders a /image prompt asynchronously. The result is
// a markdown image in the assistant message; failure of every image
// backend settles the message in error state like a failed generation.
func (s *Service) startImageCommand(ctx context.Context, chat *conv.Chat, msg *conv.Message, model, prompt string) {
	bg := context.WithoutCancel(ctx)
	session := streaming.NewSession(msg.ID, "")
	s.registry.Register(session)

	go func() {
		defer session.MarkComplete()
		defer s.registry.Release(session)

		s.registry.Publish(msg.ID, conv.StreamEvent{
			Event: conv.SSEEventStart,
			Data:  conv.StartEvent{MessageID: msg.ID, Model: model},
		})

		sink := streaming.NewMessageSink(s.msgRepo, msg.ID)
		factory, err := s.factoryFor(bg, chat.UserID)
		var url string
		if err == nil {
			url, err = s.images.Generate(bg, factory, model, prompt)
		}
		if err != nil {
			s.logger.Error("image command failed", "message_id", msg.ID, "error", err)
			_ = sink.Persist(bg, conv.FailureText, conv.StatusError, false)
			s.registry.Publish(msg.ID, conv.StreamEvent{
				Event: conv.SSEEventError,
				Data:  conv.ErrorEvent{MessageID: msg.ID, Error: err.Error()},
			})
			return
		}

		content := fmt.Sprintf("![%s](%s)", prompt, url)
		if session.IsStopped() {
			content += conv.StoppedMarker
			_ = sink.Persist(bg, content, conv.StatusStopped, false)
			s.registry.Publish(msg.ID, conv.StreamEvent{
				Event: conv.SSEEventStopped,
				Data:  conv.StoppedEvent{MessageID: msg.ID, Content: content},
			})
			return
		}
		if err := sink.Persist(bg, content, conv.StatusComplete, false); err != nil {
			s.logger.Error("persist image result failed", "message_id", msg.ID, "error", err)
			return
		}
		s.registry.Publish(msg.ID, conv.StreamEvent{
			Event: conv.SSEEventComplete,
			Data:  conv.CompleteEvent{MessageID: msg.ID, Model: model, Content: content},
		})
	}()
}

// startSearchCommand answers a /search query asynchronously through the
// search fallback chain. The chain never fails; worst case the message
// carries the degraded notice.
func (s *Service) startSearchCommand(ctx context.Context, chat *conv.Chat, msg *conv.Message, model, query string) {
	bg := context.WithoutCancel(ctx)
	session := streaming.NewSession(msg.ID, "")
	s.registry.Register(session)

	go func() {
		defer session.MarkComplete()
		defer s.registry.Release(session)

		s.registry.Publish(msg.ID, conv.StreamEvent{
			Event: conv.SSEEventStart,
			Data:  conv.StartEvent{MessageID: msg.ID, Model: model},
		})

		// Native search needs the model's provider; fall through to the
		// external backends when it cannot be built
		var prov convSvc.Provider
		if factory, err := s.factoryFor(bg, chat.UserID); err == nil {
			if name, ok := conv.ProviderForModel(model); ok && s.capabilities.HasNativeSearch(name) {
				prov, _ = factory.ForProvider(name)
			}
		}

		result := s.searcher.Search(bg, prov, query)
		content := formatSearchResult(result)

		sink := streaming.NewMessageSink(s.msgRepo, msg.ID)
		status := conv.StatusComplete
		if session.IsStopped() {
			content += conv.StoppedMarker
			status = conv.StatusStopped
		}
		if err := sink.Persist(bg, content, status, false); err != nil {
			s.logger.Error("persist search result failed", "message_id", msg.ID, "error", err)
			return
		}
		s.registry.Publish(msg.ID, conv.StreamEvent{
			Event: conv.SSEEventComplete,
			Data:  conv.CompleteEvent{MessageID: msg.ID, Model: model, Content: content},
		})
	}()
}

func formatSearchResult(result *convSvc.SearchResult) string {
	var b strings.Builder
	if result.Answer != "" {
		b.WriteString(result.Answer)
	} else {
		fmt.Fprintf(&b, "No direct answer found for %q.", result.Query)
	}
	if len(result.Citations) > 0 {
		b.WriteString("\n\nSources:\n")
		for _, c := range result.Citations {
			title := c.Title
			if title == "" {
				title = c.URL
			}
			fmt.Fprintf(&b, "- [%s](%s)\n", title, c.URL)
		}
	}
	return b.String()
}
