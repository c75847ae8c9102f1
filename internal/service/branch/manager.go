// Package branch owns the branch/version DAG of a chat: which messages
// belong to which branch, which branch is active, and how edits fork
// history. Branch membership is kept as ordered message-id lists; every
// cross-reference is an id lookup through the repositories, never a pointer.
package branch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"arbor/internal/domain"
	"arbor/internal/domain/models/conv"
	"arbor/internal/domain/repositories"
	convSvc "arbor/internal/domain/services/conv"
)

// maxCascadeDepth bounds recursive fork cleanup. Forks rooted inside forks
// are legitimate; cycles are not, and this guard keeps a corrupted store
// from hanging the server.
const maxCascadeDepth = 50

// Manager implements the branch/version operations over the repositories.
type Manager struct {
	chatRepo   repositories.ChatRepository
	branchRepo repositories.BranchRepository
	msgRepo    repositories.MessageRepository
	logger     *slog.Logger
}

// NewManager creates a branch manager
func NewManager(
	chatRepo repositories.ChatRepository,
	branchRepo repositories.BranchRepository,
	msgRepo repositories.MessageRepository,
	logger *slog.Logger,
) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		chatRepo:   chatRepo,
		branchRepo: branchRepo,
		msgRepo:    msgRepo,
		logger:     logger,
	}
}

// ActiveBranch resolves the chat's active branch. A well-formed chat always
// has one; failure here indicates corrupted state and maps to
// domain.ErrNoActiveBranch.
func (m *Manager) ActiveBranch(ctx context.Context, chat *conv.Chat) (*conv.Branch, error) {
	if chat.ActiveBranchID == "" {
		return nil, fmt.Errorf("chat %s: %w", chat.ID, domain.ErrNoActiveBranch)
	}
	branch, err := m.branchRepo.GetBranch(ctx, chat.ActiveBranchID)
	if err != nil {
		return nil, fmt.Errorf("chat %s active branch %s: %w", chat.ID, chat.ActiveBranchID, domain.ErrNoActiveBranch)
	}
	return branch, nil
}

// MainBranch resolves the chat's main branch.
func (m *Manager) MainBranch(ctx context.Context, chat *conv.Chat) (*conv.Branch, error) {
	branches, err := m.branchRepo.ListBranchesByChat(ctx, chat.ID)
	if err != nil {
		return nil, err
	}
	for i := range branches {
		if branches[i].IsMain {
			return &branches[i], nil
		}
	}
	return nil, fmt.Errorf("chat %s has no main branch: %w", chat.ID, domain.ErrNoActiveBranch)
}

// AppendToActiveBranch inserts a message id at the tail of the active
// branch's list and touches the chat.
func (m *Manager) AppendToActiveBranch(ctx context.Context, chat *conv.Chat, msg *conv.Message) error {
	branch, err := m.ActiveBranch(ctx, chat)
	if err != nil {
		return err
	}

	msg.BranchID = branch.ID
	branch.MessageIDs = append(branch.MessageIDs, msg.ID)

	if err := m.branchRepo.UpdateBranch(ctx, branch); err != nil {
		return fmt.Errorf("append to branch %s: %w", branch.ID, err)
	}
	if err := m.chatRepo.UpdateChat(ctx, chat); err != nil {
		return fmt.Errorf("touch chat %s: %w", chat.ID, err)
	}

	return nil
}

// ActiveTranscript returns the ordered messages of the active branch, trunk
// included.
func (m *Manager) ActiveTranscript(ctx context.Context, chat *conv.Chat) ([]conv.Message, error) {
	branch, err := m.ActiveBranch(ctx, chat)
	if err != nil {
		return nil, err
	}
	return m.msgRepo.GetMessagesByIDs(ctx, conv.Transcript(chat, branch))
}

// ForkAt forks the conversation at a historical message: a fresh branch is
// created whose prefix is every message strictly before the edit point, a new
// message with the edited content becomes its tail, and the chat switches to
// the new branch. The old branch stays addressable. Fork ids are never
// memoized: forking the same message twice yields two independent branches.
func (m *Manager) ForkAt(ctx context.Context, chat *conv.Chat, msg *conv.Message, newContent string) (*conv.Message, *conv.Branch, error) {
	active, err := m.ActiveBranch(ctx, chat)
	if err != nil {
		return nil, nil, err
	}

	now := time.Now()
	newBranch := &conv.Branch{
		ID:        uuid.NewString(),
		ChatID:    chat.ID,
		Name:      fmt.Sprintf("edit of %s", shortID(msg.ID)),
		CreatedAt: now,
		UpdatedAt: now,
	}

	edited := &conv.Message{
		ID:       uuid.NewString(),
		ChatID:   chat.ID,
		BranchID: newBranch.ID,
		Role:     msg.Role,
		Content:  newContent,
		Model:    msg.Model,
		Status:   conv.StatusComplete,
		EditHistory: append(append([]conv.EditEntry{}, msg.EditHistory...),
			conv.EditEntry{Content: msg.Content, Timestamp: now}),
		Attachments: msg.Attachments,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if idx := indexOf(active.MessageIDs, msg.ID); idx >= 0 {
		// Edit point inside the active branch: the new branch shares the
		// id prefix and owns only the edited tail.
		newBranch.MessageIDs = append(append([]string{}, active.MessageIDs[:idx]...), edited.ID)
	} else if idx := indexOf(chat.BaseMessageIDs, msg.ID); idx >= 0 {
		// Edit point inside the trunk: re-root. The trunk shrinks to the
		// ids strictly before the edit point and every existing branch
		// absorbs the moved suffix, so all transcripts stay unchanged.
		moved := append([]string{}, chat.BaseMessageIDs[idx:]...)
		chat.BaseMessageIDs = append([]string{}, chat.BaseMessageIDs[:idx]...)

		branches, err := m.branchRepo.ListBranchesByChat(ctx, chat.ID)
		if err != nil {
			return nil, nil, err
		}
		for i := range branches {
			branches[i].MessageIDs = append(append([]string{}, moved...), branches[i].MessageIDs...)
			if err := m.branchRepo.UpdateBranch(ctx, &branches[i]); err != nil {
				return nil, nil, fmt.Errorf("re-root branch %s: %w", branches[i].ID, err)
			}
		}
		newBranch.MessageIDs = []string{edited.ID}
	} else {
		return nil, nil, fmt.Errorf("message %s not in active transcript: %w", msg.ID, domain.ErrNotFound)
	}

	if err := m.branchRepo.CreateBranch(ctx, newBranch); err != nil {
		return nil, nil, fmt.Errorf("create fork branch: %w", err)
	}
	if err := m.msgRepo.CreateMessage(ctx, edited); err != nil {
		return nil, nil, fmt.Errorf("create edited message: %w", err)
	}

	// Record the fork on the original message for cascade cleanup
	msg.BranchIDs = append(msg.BranchIDs, newBranch.ID)
	if err := m.msgRepo.UpdateMessage(ctx, msg); err != nil {
		return nil, nil, fmt.Errorf("record fork on message %s: %w", msg.ID, err)
	}

	chat.ActiveBranchID = newBranch.ID
	if err := m.chatRepo.UpdateChat(ctx, chat); err != nil {
		return nil, nil, fmt.Errorf("activate fork branch: %w", err)
	}

	m.logger.Info("conversation forked",
		"chat_id", chat.ID,
		"at_message", msg.ID,
		"new_branch", newBranch.ID,
	)

	return edited, newBranch, nil
}

// DeleteMessage removes a message from its branch. A user turn cascades to
// the immediately following assistant turn in the same branch. Forks rooted
// at any removed message are cascade-deleted. If the active branch becomes
// empty and is not main, it is deleted and the chat falls back to main.
//
// Mode widens the removal: DeleteModeFromHere removes the message and
// everything after it on the active transcript, DeleteModeAllAfter keeps the
// message and removes everything after it. An empty mode removes just the
// message (plus the assistant cascade).
func (m *Manager) DeleteMessage(ctx context.Context, chat *conv.Chat, messageID, mode string) (*convSvc.DeleteMessageResult, error) {
	active, err := m.ActiveBranch(ctx, chat)
	if err != nil {
		return nil, err
	}

	transcript := conv.Transcript(chat, active)
	idx := indexOf(transcript, messageID)
	if idx < 0 {
		return nil, fmt.Errorf("message %s not in active transcript: %w", messageID, domain.ErrNotFound)
	}

	var doomed []string
	switch mode {
	case convSvc.DeleteModeFromHere:
		doomed = transcript[idx:]
	case convSvc.DeleteModeAllAfter:
		doomed = transcript[idx+1:]
	case "":
		doomed = transcript[idx : idx+1]
		// Cascade: a user turn takes its immediate assistant reply with it
		if idx+1 < len(transcript) {
			msg, err := m.msgRepo.GetMessage(ctx, messageID)
			if err != nil {
				return nil, err
			}
			if msg.Role == conv.RoleUser {
				next, err := m.msgRepo.GetMessage(ctx, transcript[idx+1])
				if err == nil && next.Role == conv.RoleAssistant {
					doomed = transcript[idx : idx+2]
				}
			}
		}
	default:
		return nil, fmt.Errorf("%w: unknown delete mode %q", domain.ErrValidation, mode)
	}

	if err := m.deleteMessageSet(ctx, chat, active, doomed, 0); err != nil {
		return nil, err
	}

	if err := m.reactivateMainIfEmpty(ctx, chat); err != nil {
		return nil, err
	}
	if err := m.chatRepo.UpdateChat(ctx, chat); err != nil {
		return nil, fmt.Errorf("touch chat %s: %w", chat.ID, err)
	}

	return &convSvc.DeleteMessageResult{
		DeletedCount: len(doomed),
		FromIndex:    idx,
	}, nil
}

// deleteMessageSet removes the given ids from the trunk and branch lists,
// cascades into forks rooted at them, then deletes the message documents.
func (m *Manager) deleteMessageSet(ctx context.Context, chat *conv.Chat, active *conv.Branch, ids []string, depth int) error {
	if len(ids) == 0 {
		return nil
	}
	if depth > maxCascadeDepth {
		return fmt.Errorf("fork cascade exceeds depth %d, aborting", maxCascadeDepth)
	}

	doomedSet := make(map[string]bool, len(ids))
	for _, id := range ids {
		doomedSet[id] = true
	}

	chat.BaseMessageIDs = without(chat.BaseMessageIDs, doomedSet)
	active.MessageIDs = without(active.MessageIDs, doomedSet)
	if err := m.branchRepo.UpdateBranch(ctx, active); err != nil {
		return fmt.Errorf("update branch %s: %w", active.ID, err)
	}

	// Cascade into forks rooted at deleted messages
	msgs, err := m.msgRepo.GetMessagesByIDs(ctx, ids)
	if err != nil {
		return err
	}
	for i := range msgs {
		for _, forkID := range msgs[i].BranchIDs {
			if forkID == active.ID {
				continue
			}
			if err := m.deleteFork(ctx, chat, forkID, depth+1); err != nil {
				return err
			}
		}
	}

	if err := m.msgRepo.DeleteMessages(ctx, ids); err != nil {
		return err
	}

	return nil
}

// deleteFork removes a non-main fork branch together with the messages it
// owns (shared-prefix ids owned by other branches are left alone).
func (m *Manager) deleteFork(ctx context.Context, chat *conv.Chat, branchID string, depth int) error {
	if depth > maxCascadeDepth {
		return fmt.Errorf("fork cascade exceeds depth %d, aborting", maxCascadeDepth)
	}

	fork, err := m.branchRepo.GetBranch(ctx, branchID)
	if err != nil {
		// Already gone; cleanup is idempotent
		return nil
	}
	if fork.IsMain {
		return nil
	}

	owned, err := m.msgRepo.ListMessagesByBranch(ctx, branchID)
	if err != nil {
		return err
	}
	ownedIDs := make([]string, 0, len(owned))
	for i := range owned {
		ownedIDs = append(ownedIDs, owned[i].ID)
		for _, nested := range owned[i].BranchIDs {
			if err := m.deleteFork(ctx, chat, nested, depth+1); err != nil {
				return err
			}
		}
	}
	if err := m.msgRepo.DeleteMessages(ctx, ownedIDs); err != nil {
		return err
	}
	if err := m.branchRepo.DeleteBranch(ctx, branchID); err != nil {
		return err
	}

	if chat.ActiveBranchID == branchID {
		main, err := m.MainBranch(ctx, chat)
		if err != nil {
			return err
		}
		chat.ActiveBranchID = main.ID
	}

	m.logger.Debug("fork branch deleted", "chat_id", chat.ID, "branch_id", branchID)
	return nil
}

// reactivateMainIfEmpty deletes a non-main active branch that has become
// empty and switches the chat back to the main branch. The main branch is
// never deleted, even when empty.
func (m *Manager) reactivateMainIfEmpty(ctx context.Context, chat *conv.Chat) error {
	active, err := m.ActiveBranch(ctx, chat)
	if err != nil {
		return err
	}
	if active.IsMain || len(active.MessageIDs) > 0 {
		return nil
	}

	main, err := m.MainBranch(ctx, chat)
	if err != nil {
		return err
	}
	if err := m.branchRepo.DeleteBranch(ctx, active.ID); err != nil {
		return fmt.Errorf("delete empty branch %s: %w", active.ID, err)
	}
	chat.ActiveBranchID = main.ID

	m.logger.Info("empty branch removed, main branch reactivated",
		"chat_id", chat.ID,
		"removed_branch", active.ID,
	)
	return nil
}

// SwitchBranch activates a branch of the chat.
func (m *Manager) SwitchBranch(ctx context.Context, chat *conv.Chat, branchID string) error {
	branch, err := m.branchRepo.GetBranch(ctx, branchID)
	if err != nil {
		return err
	}
	if branch.ChatID != chat.ID {
		return fmt.Errorf("branch %s does not belong to chat %s: %w", branchID, chat.ID, domain.ErrNotFound)
	}

	chat.ActiveBranchID = branch.ID
	if err := m.chatRepo.UpdateChat(ctx, chat); err != nil {
		return fmt.Errorf("switch branch: %w", err)
	}
	return nil
}

// SwitchVersion marks the target version active, all others inactive, and
// mirrors its content and model onto the message.
func (m *Manager) SwitchVersion(ctx context.Context, msg *conv.Message, versionID string) error {
	found := false
	for i := range msg.Versions {
		if msg.Versions[i].ID == versionID {
			msg.Versions[i].IsActive = true
			msg.Content = msg.Versions[i].Content
			msg.Model = msg.Versions[i].Model
			found = true
		} else {
			msg.Versions[i].IsActive = false
		}
	}
	if !found {
		return fmt.Errorf("message %s version %s: %w", msg.ID, versionID, domain.ErrVersionNotFound)
	}

	if err := m.msgRepo.UpdateMessage(ctx, msg); err != nil {
		return fmt.Errorf("switch version: %w", err)
	}
	return nil
}

// AddVersion appends a new version snapshot to the message and activates it.
// On first use the message's current content is captured as the initial
// version so nothing is lost.
func (m *Manager) AddVersion(ctx context.Context, msg *conv.Message, content, model string, metadata map[string]interface{}) (string, error) {
	now := time.Now()

	if len(msg.Versions) == 0 && msg.Content != "" {
		msg.Versions = append(msg.Versions, conv.Version{
			ID:        uuid.NewString(),
			Content:   msg.Content,
			Model:     msg.Model,
			CreatedAt: msg.CreatedAt,
		})
	}
	for i := range msg.Versions {
		msg.Versions[i].IsActive = false
	}

	version := conv.Version{
		ID:        uuid.NewString(),
		Content:   content,
		Model:     model,
		IsActive:  true,
		Metadata:  metadata,
		CreatedAt: now,
	}
	msg.Versions = append(msg.Versions, version)
	msg.Content = content
	msg.Model = model

	if err := m.msgRepo.UpdateMessage(ctx, msg); err != nil {
		return "", fmt.Errorf("add version: %w", err)
	}
	return version.ID, nil
}

func indexOf(ids []string, id string) int {
	for i := range ids {
		if ids[i] == id {
			return i
		}
	}
	return -1
}

func without(ids []string, remove map[string]bool) []string {
	kept := make([]string, 0, len(ids))
	for _, id := range ids {
		if !remove[id] {
			kept = append(kept, id)
		}
	}
	return kept
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
