// Package memory provides in-memory implementations of the repository
// contracts. They back the test suite and the zero-dependency dev mode;
// semantics (single-document atomicity, not-found errors, id-ordered batch
// reads) match the Postgres implementations.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"arbor/internal/domain"
	"arbor/internal/domain/models/conv"
	"arbor/internal/domain/repositories"
)

// Store holds chats, branches and messages behind one mutex. Every read
// returns a deep copy so callers can read-modify-write aggregates without
// aliasing the stored state.
type Store struct {
	mu       sync.RWMutex
	chats    map[string]*conv.Chat
	branches map[string]*conv.Branch
	messages map[string]*conv.Message
}

// NewStore creates an empty in-memory store
func NewStore() *Store {
	return &Store{
		chats:    make(map[string]*conv.Chat),
		branches: make(map[string]*conv.Branch),
		messages: make(map[string]*conv.Message),
	}
}

// Chats returns the store's ChatRepository view
func (s *Store) Chats() repositories.ChatRepository { return (*chatRepo)(s) }

// Branches returns the store's BranchRepository view
func (s *Store) Branches() repositories.BranchRepository { return (*branchRepo)(s) }

// Messages returns the store's MessageRepository view
func (s *Store) Messages() repositories.MessageRepository { return (*messageRepo)(s) }

// TxManager returns a pass-through transaction manager. The in-memory store
// applies each mutation atomically under its mutex; there is nothing further
// to coordinate.
func (s *Store) TxManager() repositories.TransactionManager { return passthroughTx{} }

type passthroughTx struct{}

func (passthroughTx) ExecTx(ctx context.Context, fn repositories.TxFn) error {
	return fn(ctx)
}

// deepCopy round-trips through JSON; slow but obviously correct, and these
// aggregates are small.
func deepCopy[T any](src *T) *T {
	data, err := json.Marshal(src)
	if err != nil {
		panic(fmt.Sprintf("memory store copy: %v", err))
	}
	dst := new(T)
	if err := json.Unmarshal(data, dst); err != nil {
		panic(fmt.Sprintf("memory store copy: %v", err))
	}
	return dst
}

// --- ChatRepository ---

type chatRepo Store

func (r *chatRepo) CreateChat(_ context.Context, chat *conv.Chat) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.chats[chat.ID]; ok {
		return &domain.ConflictError{Message: "chat already exists", ResourceType: "chat", ResourceID: chat.ID}
	}
	r.chats[chat.ID] = deepCopy(chat)
	return nil
}

func (r *chatRepo) GetChat(_ context.Context, chatID, userID string) (*conv.Chat, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	chat, ok := r.chats[chatID]
	if !ok || chat.DeletedAt != nil || chat.UserID != userID {
		return nil, fmt.Errorf("chat %s: %w", chatID, domain.ErrNotFound)
	}
	return deepCopy(chat), nil
}

func (r *chatRepo) ListChats(_ context.Context, userID string) ([]conv.Chat, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	chats := make([]conv.Chat, 0)
	for _, chat := range r.chats {
		if chat.UserID == userID && chat.DeletedAt == nil {
			chats = append(chats, *deepCopy(chat))
		}
	}
	sort.Slice(chats, func(i, j int) bool {
		return chats[i].UpdatedAt.After(chats[j].UpdatedAt)
	})
	return chats, nil
}

func (r *chatRepo) UpdateChat(_ context.Context, chat *conv.Chat) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.chats[chat.ID]
	if !ok || existing.DeletedAt != nil {
		return fmt.Errorf("chat %s: %w", chat.ID, domain.ErrNotFound)
	}
	updated := deepCopy(chat)
	updated.UpdatedAt = time.Now()
	r.chats[chat.ID] = updated
	return nil
}

func (r *chatRepo) DeleteChat(_ context.Context, chatID, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	chat, ok := r.chats[chatID]
	if !ok || chat.DeletedAt != nil || chat.UserID != userID {
		return fmt.Errorf("chat %s: %w", chatID, domain.ErrNotFound)
	}
	now := time.Now()
	chat.DeletedAt = &now
	return nil
}

// --- BranchRepository ---

type branchRepo Store

func (r *branchRepo) CreateBranch(_ context.Context, branch *conv.Branch) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.chats[branch.ChatID]; !ok {
		return fmt.Errorf("chat %s: %w", branch.ChatID, domain.ErrNotFound)
	}
	r.branches[branch.ID] = deepCopy(branch)
	return nil
}

func (r *branchRepo) GetBranch(_ context.Context, branchID string) (*conv.Branch, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	branch, ok := r.branches[branchID]
	if !ok {
		return nil, fmt.Errorf("branch %s: %w", branchID, domain.ErrNotFound)
	}
	return deepCopy(branch), nil
}

func (r *branchRepo) ListBranchesByChat(_ context.Context, chatID string) ([]conv.Branch, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	branches := make([]conv.Branch, 0)
	for _, branch := range r.branches {
		if branch.ChatID == chatID {
			branches = append(branches, *deepCopy(branch))
		}
	}
	sort.Slice(branches, func(i, j int) bool {
		return branches[i].CreatedAt.Before(branches[j].CreatedAt)
	})
	return branches, nil
}

func (r *branchRepo) UpdateBranch(_ context.Context, branch *conv.Branch) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.branches[branch.ID]; !ok {
		return fmt.Errorf("branch %s: %w", branch.ID, domain.ErrNotFound)
	}
	updated := deepCopy(branch)
	updated.UpdatedAt = time.Now()
	r.branches[branch.ID] = updated
	return nil
}

func (r *branchRepo) DeleteBranch(_ context.Context, branchID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.branches, branchID)
	return nil
}

// --- MessageRepository ---

type messageRepo Store

func (r *messageRepo) CreateMessage(_ context.Context, msg *conv.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.chats[msg.ChatID]; !ok {
		return fmt.Errorf("chat %s: %w", msg.ChatID, domain.ErrNotFound)
	}
	r.messages[msg.ID] = deepCopy(msg)
	return nil
}

func (r *messageRepo) GetMessage(_ context.Context, messageID string) (*conv.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	msg, ok := r.messages[messageID]
	if !ok {
		return nil, fmt.Errorf("message %s: %w", messageID, domain.ErrNotFound)
	}
	return deepCopy(msg), nil
}

func (r *messageRepo) GetMessagesByIDs(_ context.Context, ids []string) ([]conv.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ordered := make([]conv.Message, 0, len(ids))
	for _, id := range ids {
		if msg, ok := r.messages[id]; ok {
			ordered = append(ordered, *deepCopy(msg))
		}
	}
	return ordered, nil
}

func (r *messageRepo) ListMessagesByBranch(_ context.Context, branchID string) ([]conv.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	messages := make([]conv.Message, 0)
	for _, msg := range r.messages {
		if msg.BranchID == branchID {
			messages = append(messages, *deepCopy(msg))
		}
	}
	sort.Slice(messages, func(i, j int) bool {
		return messages[i].CreatedAt.Before(messages[j].CreatedAt)
	})
	return messages, nil
}

func (r *messageRepo) UpdateMessage(_ context.Context, msg *conv.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.messages[msg.ID]; !ok {
		return fmt.Errorf("message %s: %w", msg.ID, domain.ErrNotFound)
	}
	updated := deepCopy(msg)
	updated.UpdatedAt = time.Now()
	r.messages[msg.ID] = updated
	return nil
}

func (r *messageRepo) SetContent(_ context.Context, messageID, content, status string, isStreaming bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	msg, ok := r.messages[messageID]
	if !ok {
		return fmt.Errorf("message %s: %w", messageID, domain.ErrNotFound)
	}
	msg.Content = content
	msg.Status = status
	msg.IsStreaming = isStreaming
	msg.UpdatedAt = time.Now()
	return nil
}

func (r *messageRepo) DeleteMessage(_ context.Context, messageID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.messages, messageID)
	return nil
}

func (r *messageRepo) DeleteMessages(_ context.Context, messageIDs []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, id := range messageIDs {
		delete(r.messages, id)
	}
	return nil
}
