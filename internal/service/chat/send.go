package chat

import (
	"context"
	"fmt"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"

	"arbor/internal/domain"
	"arbor/internal/domain/models/conv"
	convSvc "arbor/internal/domain/services/conv"
	"arbor/internal/service/multi"
	"arbor/internal/service/provider"
	"arbor/internal/service/streaming"
)

func streamURL(messageID string) string {
	return fmt.Sprintf("/api/v1/messages/%s/stream", messageID)
}

// SendMessage creates a user turn and starts assistant generation. The
// response returns immediately; content arrives over the message's SSE
// stream.
func (s *Service) SendMessage(ctx context.Context, req *convSvc.SendMessageRequest) (*convSvc.SendMessageResponse, error) {
	if len(req.Models) > 0 {
		return s.SendMultiModelMessage(ctx, req)
	}
	if err := s.validateSend(req); err != nil {
		return nil, err
	}

	chat, err := s.chatRepo.GetChat(ctx, req.ChatID, req.UserID)
	if err != nil {
		return nil, err
	}

	model := req.Model
	if model == "" {
		model = chat.DefaultModel
	}
	if _, ok := conv.ProviderForModel(model); !ok {
		return nil, fmt.Errorf("model %q: %w", model, domain.ErrUnknownProvider)
	}

	userMsg, asstMsg, err := s.appendExchange(ctx, chat, req, model)
	if err != nil {
		return nil, err
	}

	command, rest := conv.ParseCommand(req.Content)
	switch command {
	case conv.CommandImage:
		s.startImageCommand(ctx, chat, asstMsg, model, rest)
	case conv.CommandSearch:
		s.startSearchCommand(ctx, chat, asstMsg, model, rest)
	default:
		if err := s.startGeneration(ctx, chat, asstMsg, model, req.UserID); err != nil {
			s.failStart(ctx, asstMsg.ID, err)
			return nil, err
		}
	}

	s.maybeScheduleTitle(chat, req.UserID)

	return &convSvc.SendMessageResponse{
		UserMessage:      userMsg,
		AssistantMessage: asstMsg,
		StreamURL:        streamURL(asstMsg.ID),
	}, nil
}

// SendMultiModelMessage fans the assistant turn out to several models.
func (s *Service) SendMultiModelMessage(ctx context.Context, req *convSvc.SendMessageRequest) (*convSvc.SendMessageResponse, error) {
	if err := s.validateSend(req); err != nil {
		return nil, err
	}
	if len(req.Models) < conv.MinModels || len(req.Models) > conv.MaxModels {
		return nil, fmt.Errorf("%d models requested, need between %d and %d: %w",
			len(req.Models), conv.MinModels, conv.MaxModels, domain.ErrInvalidModelCount)
	}
	for _, model := range req.Models {
		if _, ok := conv.ProviderForModel(model); !ok {
			return nil, fmt.Errorf("model %q: %w", model, domain.ErrUnknownProvider)
		}
	}

	chat, err := s.chatRepo.GetChat(ctx, req.ChatID, req.UserID)
	if err != nil {
		return nil, err
	}

	userMsg, asstMsg, err := s.appendExchange(ctx, chat, req, "")
	if err != nil {
		return nil, err
	}
	if err := multi.Initialize(asstMsg, req.Models); err != nil {
		return nil, err
	}
	if err := s.msgRepo.UpdateMessage(ctx, asstMsg); err != nil {
		return nil, err
	}

	factory, err := s.factoryFor(ctx, req.UserID)
	if err != nil {
		s.failStart(ctx, asstMsg.ID, err)
		return nil, err
	}
	prompt, err := s.buildPrompt(ctx, chat, asstMsg.ID)
	if err != nil {
		s.failStart(ctx, asstMsg.ID, err)
		return nil, err
	}

	var runs []multi.SlotRun
	for _, slot := range asstMsg.Multi.Responses {
		prov, err := factory.ForModel(slot.Model)
		if err != nil {
			s.releaseRuns(runs)
			s.failStart(ctx, asstMsg.ID, err)
			return nil, err
		}
		genReq, err := s.buildRequest(ctx, prov, slot.Model, prompt)
		if err != nil {
			s.releaseRuns(runs)
			s.failStart(ctx, asstMsg.ID, err)
			return nil, err
		}
		session := streaming.NewSession(asstMsg.ID, slot.ID)
		s.registry.Register(session)
		runs = append(runs, multi.SlotRun{
			ResponseID: slot.ID,
			Model:      slot.Model,
			Provider:   prov,
			Request:    genReq,
			Session:    session,
		})
	}

	go s.coordinator.Run(context.WithoutCancel(ctx), asstMsg.ID, runs)

	s.logger.Info("multi-model generation started",
		"message_id", asstMsg.ID,
		"models", req.Models,
	)
	s.maybeScheduleTitle(chat, req.UserID)

	return &convSvc.SendMessageResponse{
		UserMessage:      userMsg,
		AssistantMessage: asstMsg,
		StreamURL:        streamURL(asstMsg.ID),
	}, nil
}

// releaseRuns unregisters sessions of a fan-out that never launched.
func (s *Service) releaseRuns(runs []multi.SlotRun) {
	for _, run := range runs {
		s.registry.Release(run.Session)
	}
}

// Retry regenerates an assistant message as a new version. The previous
// answer stays switchable.
func (s *Service) Retry(ctx context.Context, messageID, userID, model string) (*convSvc.RetryResponse, error) {
	msg, err := s.ownedMessage(ctx, messageID, userID)
	if err != nil {
		return nil, err
	}
	if msg.Role != string(conv.RoleAssistant) {
		return nil, fmt.Errorf("%w: only assistant messages can be retried", domain.ErrValidation)
	}
	if msg.IsStreaming {
		return nil, fmt.Errorf("message %s is still streaming: %w", messageID, domain.ErrConflict)
	}

	chat, err := s.chatRepo.GetChat(ctx, msg.ChatID, userID)
	if err != nil {
		return nil, err
	}
	if model == "" {
		model = msg.Model
	}
	if model == "" {
		model = chat.DefaultModel
	}
	if _, ok := conv.ProviderForModel(model); !ok {
		return nil, fmt.Errorf("model %q: %w", model, domain.ErrUnknownProvider)
	}

	versionID, err := s.branches.AddVersion(ctx, msg, "", model, nil)
	if err != nil {
		return nil, err
	}
	msg.Status = conv.StatusCreated
	msg.IsStreaming = true
	if err := s.msgRepo.UpdateMessage(ctx, msg); err != nil {
		return nil, err
	}

	if err := s.startGeneration(ctx, chat, msg, model, userID); err != nil {
		s.failStart(ctx, msg.ID, err)
		return nil, err
	}

	s.logger.Info("retry started",
		"message_id", msg.ID,
		"version_id", versionID,
		"model", model,
	)
	return &convSvc.RetryResponse{
		MessageID:    msg.ID,
		NewVersionID: versionID,
		StreamURL:    streamURL(msg.ID),
	}, nil
}

// StopStreaming requests cooperative cancellation of every live stream of
// a message. Stopping a settled message is a no-op.
func (s *Service) StopStreaming(ctx context.Context, messageID, userID string) error {
	msg, err := s.ownedMessage(ctx, messageID, userID)
	if err != nil {
		return err
	}

	n := s.registry.StopAll(messageID)
	if n == 0 && msg.IsStreaming {
		// The stream lives on another process or died without cleanup;
		// settle the row so the client is not stuck on a spinner
		s.logger.Warn("stop requested but no live session", "message_id", messageID)
		return s.msgRepo.SetContent(ctx, messageID, msg.Content+conv.StoppedMarker, conv.StatusStopped, false)
	}

	s.logger.Info("stop requested", "message_id", messageID, "sessions", n)
	return nil
}

// EditMessage rewrites a historical user message by forking the
// conversation at that point, then regenerates the assistant reply on the
// new branch.
func (s *Service) EditMessage(ctx context.Context, req *convSvc.EditMessageRequest) (*convSvc.EditMessageResponse, error) {
	if err := validation.ValidateStruct(req,
		validation.Field(&req.MessageID, validation.Required),
		validation.Field(&req.UserID, validation.Required),
		validation.Field(&req.NewContent, validation.Required),
	); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	msg, err := s.ownedMessage(ctx, req.MessageID, req.UserID)
	if err != nil {
		return nil, err
	}
	if msg.Role != string(conv.RoleUser) {
		return nil, fmt.Errorf("%w: only user messages can be edited", domain.ErrValidation)
	}

	chat, err := s.chatRepo.GetChat(ctx, msg.ChatID, req.UserID)
	if err != nil {
		return nil, err
	}

	edited, fork, err := s.branches.ForkAt(ctx, chat, msg, req.NewContent)
	if err != nil {
		return nil, err
	}

	// Fresh assistant turn on the fork
	asstMsg := s.newAssistantMessage(chat)
	err = s.txManager.ExecTx(ctx, func(txCtx context.Context) error {
		if err := s.branches.AppendToActiveBranch(txCtx, chat, asstMsg); err != nil {
			return err
		}
		return s.msgRepo.CreateMessage(txCtx, asstMsg)
	})
	if err != nil {
		return nil, err
	}

	if err := s.startGeneration(ctx, chat, asstMsg, chat.DefaultModel, req.UserID); err != nil {
		s.failStart(ctx, asstMsg.ID, err)
		return nil, err
	}

	return &convSvc.EditMessageResponse{
		MessageID: edited.ID,
		BranchID:  fork.ID,
	}, nil
}

func (s *Service) validateSend(req *convSvc.SendMessageRequest) error {
	err := validation.ValidateStruct(req,
		validation.Field(&req.ChatID, validation.Required),
		validation.Field(&req.UserID, validation.Required),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	if strings.TrimSpace(req.Content) == "" && len(req.Attachments) == 0 {
		return fmt.Errorf("%w: content or attachments required", domain.ErrValidation)
	}
	return nil
}

// appendExchange persists the user turn and an empty assistant turn on
// the active branch in one transaction.
func (s *Service) appendExchange(ctx context.Context, chat *conv.Chat, req *convSvc.SendMessageRequest, model string) (*conv.Message, *conv.Message, error) {
	now := time.Now()
	userMsg := &conv.Message{
		ID:          uuid.NewString(),
		ChatID:      chat.ID,
		Role:        string(conv.RoleUser),
		Content:     req.Content,
		Status:      conv.StatusComplete,
		Attachments: req.Attachments,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	asstMsg := s.newAssistantMessage(chat)
	asstMsg.Model = model

	// Append first so the stored rows carry their branch id
	err := s.txManager.ExecTx(ctx, func(txCtx context.Context) error {
		if err := s.branches.AppendToActiveBranch(txCtx, chat, userMsg); err != nil {
			return err
		}
		if err := s.msgRepo.CreateMessage(txCtx, userMsg); err != nil {
			return err
		}
		if err := s.branches.AppendToActiveBranch(txCtx, chat, asstMsg); err != nil {
			return err
		}
		return s.msgRepo.CreateMessage(txCtx, asstMsg)
	})
	if err != nil {
		return nil, nil, err
	}
	return userMsg, asstMsg, nil
}

func (s *Service) newAssistantMessage(chat *conv.Chat) *conv.Message {
	now := time.Now()
	return &conv.Message{
		ID:          uuid.NewString(),
		ChatID:      chat.ID,
		Role:        string(conv.RoleAssistant),
		Status:      conv.StatusCreated,
		IsStreaming: true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// factoryFor builds a provider factory scoped to one user's credentials.
func (s *Service) factoryFor(ctx context.Context, userID string) (*provider.Factory, error) {
	keys, err := s.credentials.APIKeys(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("resolve credentials: %w", err)
	}
	return provider.NewFactory(s.capabilities, keys, s.httpClient, s.logger), nil
}
