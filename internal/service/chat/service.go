// Package chat is the service façade behind the HTTP layer. It owns chat
// CRUD, wires message sends into the streaming orchestrator, and
// delegates tree surgery to the branch manager.
package chat

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"

	"arbor/internal/capabilities"
	"arbor/internal/domain"
	"arbor/internal/domain/models/conv"
	"arbor/internal/domain/repositories"
	convSvc "arbor/internal/domain/services/conv"
	"arbor/internal/credentials"
	"arbor/internal/scheduler"
	"arbor/internal/service/branch"
	"arbor/internal/service/imagegen"
	"arbor/internal/service/multi"
	"arbor/internal/service/provider"
	"arbor/internal/service/search"
	"arbor/internal/service/streaming"
)

const maxChatTitleLength = 200

// Deps carries the collaborators of the chat service.
type Deps struct {
	ChatRepo     repositories.ChatRepository
	BranchRepo   repositories.BranchRepository
	MessageRepo  repositories.MessageRepository
	TxManager    repositories.TransactionManager
	Branches     *branch.Manager
	Registry     *streaming.Registry
	Orchestrator *streaming.Orchestrator
	Coordinator  *multi.Coordinator
	Capabilities *capabilities.Registry
	Credentials  credentials.Resolver
	Uploads      *provider.UploadCache
	Searcher     *search.Searcher
	Images       *imagegen.Generator
	Scheduler    *scheduler.Scheduler
	HTTPClient   *http.Client
	DefaultModel string
	Logger       *slog.Logger
}

type Service struct {
	chatRepo     repositories.ChatRepository
	branchRepo   repositories.BranchRepository
	msgRepo      repositories.MessageRepository
	txManager    repositories.TransactionManager
	branches     *branch.Manager
	registry     *streaming.Registry
	orchestrator *streaming.Orchestrator
	coordinator  *multi.Coordinator
	capabilities *capabilities.Registry
	credentials  credentials.Resolver
	uploads      *provider.UploadCache
	searcher     *search.Searcher
	images       *imagegen.Generator
	scheduler    *scheduler.Scheduler
	httpClient   *http.Client
	defaultModel string
	logger       *slog.Logger
}

// NewService creates the chat service façade.
func NewService(deps Deps) convSvc.ChatService {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	httpClient := deps.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Service{
		chatRepo:     deps.ChatRepo,
		branchRepo:   deps.BranchRepo,
		msgRepo:      deps.MessageRepo,
		txManager:    deps.TxManager,
		branches:     deps.Branches,
		registry:     deps.Registry,
		orchestrator: deps.Orchestrator,
		coordinator:  deps.Coordinator,
		capabilities: deps.Capabilities,
		credentials:  deps.Credentials,
		uploads:      deps.Uploads,
		searcher:     deps.Searcher,
		images:       deps.Images,
		scheduler:    deps.Scheduler,
		httpClient:   httpClient,
		defaultModel: deps.DefaultModel,
		logger:       logger,
	}
}

// CreateChat creates a chat with its main branch.
func (s *Service) CreateChat(ctx context.Context, req *convSvc.CreateChatRequest) (*conv.Chat, error) {
	if err := validation.ValidateStruct(req,
		validation.Field(&req.UserID, validation.Required),
		validation.Field(&req.Title, validation.Length(0, maxChatTitleLength)),
	); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	model := req.DefaultModel
	if model == "" {
		model = s.defaultModel
	}
	if _, ok := conv.ProviderForModel(model); !ok {
		return nil, fmt.Errorf("model %q: %w", model, domain.ErrUnknownProvider)
	}

	now := time.Now()
	chat := &conv.Chat{
		ID:           uuid.NewString(),
		UserID:       req.UserID,
		Title:        strings.TrimSpace(req.Title),
		DefaultModel: model,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	main := &conv.Branch{
		ID:        uuid.NewString(),
		ChatID:    chat.ID,
		Name:      "main",
		IsMain:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	chat.ActiveBranchID = main.ID

	err := s.txManager.ExecTx(ctx, func(txCtx context.Context) error {
		if err := s.chatRepo.CreateChat(txCtx, chat); err != nil {
			return err
		}
		return s.branchRepo.CreateBranch(txCtx, main)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("chat created",
		"id", chat.ID,
		"user_id", chat.UserID,
		"default_model", chat.DefaultModel,
	)
	return chat, nil
}

// GetChat retrieves a chat by ID
func (s *Service) GetChat(ctx context.Context, chatID, userID string) (*conv.Chat, error) {
	return s.chatRepo.GetChat(ctx, chatID, userID)
}

// ListChats retrieves all chats for a user
func (s *Service) ListChats(ctx context.Context, userID string) ([]conv.Chat, error) {
	return s.chatRepo.ListChats(ctx, userID)
}

// UpdateChatTitle renames a chat.
func (s *Service) UpdateChatTitle(ctx context.Context, chatID, userID, title string) (*conv.Chat, error) {
	title = strings.TrimSpace(title)
	if err := validation.Validate(title,
		validation.Required,
		validation.Length(1, maxChatTitleLength),
	); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	chat, err := s.chatRepo.GetChat(ctx, chatID, userID)
	if err != nil {
		return nil, err
	}
	chat.Title = title
	chat.UpdatedAt = time.Now()
	if err := s.chatRepo.UpdateChat(ctx, chat); err != nil {
		return nil, err
	}

	// A manual rename wins over a pending generated title
	s.scheduler.Cancel(titleJobKey(chatID))
	return chat, nil
}

// DeleteChat soft-deletes a chat
func (s *Service) DeleteChat(ctx context.Context, chatID, userID string) error {
	if err := s.chatRepo.DeleteChat(ctx, chatID, userID); err != nil {
		return err
	}
	s.logger.Info("chat deleted", "id", chatID, "user_id", userID)
	return nil
}

// ActiveTranscript returns the ordered messages of the active branch.
func (s *Service) ActiveTranscript(ctx context.Context, chatID, userID string) ([]conv.Message, error) {
	chat, err := s.chatRepo.GetChat(ctx, chatID, userID)
	if err != nil {
		return nil, err
	}
	return s.branches.ActiveTranscript(ctx, chat)
}

// SwitchBranch activates another branch of the chat.
func (s *Service) SwitchBranch(ctx context.Context, chatID, userID, branchID string) (*conv.Chat, error) {
	chat, err := s.chatRepo.GetChat(ctx, chatID, userID)
	if err != nil {
		return nil, err
	}
	if err := s.branches.SwitchBranch(ctx, chat, branchID); err != nil {
		return nil, err
	}
	return chat, nil
}

// SwitchVersion activates another stored version of a message.
func (s *Service) SwitchVersion(ctx context.Context, messageID, userID, versionID string) (*conv.Message, error) {
	msg, err := s.ownedMessage(ctx, messageID, userID)
	if err != nil {
		return nil, err
	}
	if err := s.branches.SwitchVersion(ctx, msg, versionID); err != nil {
		return nil, err
	}
	return msg, nil
}

// DeleteMessage removes a message, or a suffix of the conversation,
// depending on mode.
func (s *Service) DeleteMessage(ctx context.Context, messageID, userID, mode string) (*convSvc.DeleteMessageResult, error) {
	msg, err := s.ownedMessage(ctx, messageID, userID)
	if err != nil {
		return nil, err
	}
	chat, err := s.chatRepo.GetChat(ctx, msg.ChatID, userID)
	if err != nil {
		return nil, err
	}
	// Deleting a streaming message stops its generation first
	s.registry.StopAll(messageID)
	return s.branches.DeleteMessage(ctx, chat, messageID, mode)
}

// SetPrimaryResponse promotes one slot of a multi-model message.
func (s *Service) SetPrimaryResponse(ctx context.Context, messageID, userID, responseID string) (*conv.Message, error) {
	if _, err := s.ownedMessage(ctx, messageID, userID); err != nil {
		return nil, err
	}
	return s.coordinator.SetPrimary(ctx, messageID, responseID)
}

// DeleteResponse soft-deletes one slot of a multi-model message.
func (s *Service) DeleteResponse(ctx context.Context, messageID, userID, responseID string) (*conv.Message, error) {
	if _, err := s.ownedMessage(ctx, messageID, userID); err != nil {
		return nil, err
	}
	return s.coordinator.DeleteResponse(ctx, messageID, responseID)
}

// GetMessage returns one message, scoped to the chat owner.
func (s *Service) GetMessage(ctx context.Context, messageID, userID string) (*conv.Message, error) {
	return s.ownedMessage(ctx, messageID, userID)
}

// ownedMessage loads a message and verifies the caller owns its chat.
func (s *Service) ownedMessage(ctx context.Context, messageID, userID string) (*conv.Message, error) {
	msg, err := s.msgRepo.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if _, err := s.chatRepo.GetChat(ctx, msg.ChatID, userID); err != nil {
		return nil, err
	}
	return msg, nil
}
