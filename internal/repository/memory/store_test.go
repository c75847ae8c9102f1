package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"arbor/internal/domain"
	"arbor/internal/domain/models/conv"
)

func TestChatLifecycle(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	repo := s.Chats()

	chat := &conv.Chat{ID: "c1", UserID: "u1", Title: "first"}
	if err := repo.CreateChat(ctx, chat); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := repo.CreateChat(ctx, chat); err == nil {
		t.Error("expected a conflict on duplicate create")
	} else {
		var ce *domain.ConflictError
		if !errors.As(err, &ce) {
			t.Errorf("err = %v, want ConflictError", err)
		}
	}

	got, err := repo.GetChat(ctx, "c1", "u1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Title != "first" {
		t.Errorf("title = %q", got.Title)
	}

	// Ownership is part of the lookup key
	if _, err := repo.GetChat(ctx, "c1", "someone-else"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("foreign get err = %v, want ErrNotFound", err)
	}

	if err := repo.DeleteChat(ctx, "c1", "u1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := repo.GetChat(ctx, "c1", "u1"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("deleted get err = %v, want ErrNotFound", err)
	}
	if err := repo.UpdateChat(ctx, chat); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("deleted update err = %v, want ErrNotFound", err)
	}
}

func TestListChatsOrdersByRecency(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	repo := s.Chats()

	base := time.Now()
	for i, id := range []string{"c1", "c2", "c3"} {
		err := repo.CreateChat(ctx, &conv.Chat{
			ID:        id,
			UserID:    "u1",
			UpdatedAt: base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}
	if err := repo.CreateChat(ctx, &conv.Chat{ID: "other", UserID: "u2"}); err != nil {
		t.Fatalf("create other: %v", err)
	}

	chats, err := repo.ListChats(ctx, "u1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(chats) != 3 {
		t.Fatalf("listed %d chats, want 3", len(chats))
	}
	if chats[0].ID != "c3" || chats[2].ID != "c1" {
		t.Errorf("order = [%s %s %s], want newest first", chats[0].ID, chats[1].ID, chats[2].ID)
	}
}

func TestReadsReturnCopies(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	if err := s.Chats().CreateChat(ctx, &conv.Chat{ID: "c1", UserID: "u1"}); err != nil {
		t.Fatalf("create chat: %v", err)
	}
	msg := &conv.Message{ID: "m1", ChatID: "c1", Role: conv.RoleUser, Content: "original"}
	if err := s.Messages().CreateMessage(ctx, msg); err != nil {
		t.Fatalf("create message: %v", err)
	}

	// Mutating what a read returned must not leak into the store
	got, _ := s.Messages().GetMessage(ctx, "m1")
	got.Content = "tampered"

	again, _ := s.Messages().GetMessage(ctx, "m1")
	if again.Content != "original" {
		t.Errorf("content = %q, store state aliased a read", again.Content)
	}

	// Nor must later mutation of the written value
	msg.Content = "tampered too"
	again, _ = s.Messages().GetMessage(ctx, "m1")
	if again.Content != "original" {
		t.Errorf("content = %q, store state aliased a write", again.Content)
	}
}

func TestMessageRequiresExistingChat(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	err := s.Messages().CreateMessage(ctx, &conv.Message{ID: "m1", ChatID: "ghost"})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound for a ghost chat", err)
	}
}

func TestGetMessagesByIDsKeepsRequestedOrder(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	if err := s.Chats().CreateChat(ctx, &conv.Chat{ID: "c1", UserID: "u1"}); err != nil {
		t.Fatalf("create chat: %v", err)
	}
	for _, id := range []string{"m1", "m2", "m3"} {
		if err := s.Messages().CreateMessage(ctx, &conv.Message{ID: id, ChatID: "c1"}); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}

	// Requested order wins, holes are skipped
	msgs, err := s.Messages().GetMessagesByIDs(ctx, []string{"m3", "missing", "m1"})
	if err != nil {
		t.Fatalf("batch get: %v", err)
	}
	if len(msgs) != 2 || msgs[0].ID != "m3" || msgs[1].ID != "m1" {
		t.Errorf("batch = %v", msgs)
	}
}

func TestBranchListingAndDeletion(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	if err := s.Chats().CreateChat(ctx, &conv.Chat{ID: "c1", UserID: "u1"}); err != nil {
		t.Fatalf("create chat: %v", err)
	}
	base := time.Now()
	for i, id := range []string{"b1", "b2"} {
		err := s.Branches().CreateBranch(ctx, &conv.Branch{
			ID:        id,
			ChatID:    "c1",
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}
	if err := s.Branches().CreateBranch(ctx, &conv.Branch{ID: "bx", ChatID: "ghost"}); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("ghost chat branch err = %v, want ErrNotFound", err)
	}

	branches, err := s.Branches().ListBranchesByChat(ctx, "c1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(branches) != 2 || branches[0].ID != "b1" {
		t.Errorf("branches = %v, want creation order", branches)
	}

	// Branch deletion is idempotent
	if err := s.Branches().DeleteBranch(ctx, "b1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := s.Branches().DeleteBranch(ctx, "b1"); err != nil {
		t.Fatalf("repeat delete: %v", err)
	}
}

func TestSetContent(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	if err := s.Chats().CreateChat(ctx, &conv.Chat{ID: "c1", UserID: "u1"}); err != nil {
		t.Fatalf("create chat: %v", err)
	}
	msg := &conv.Message{ID: "m1", ChatID: "c1", Status: conv.StatusStreaming, IsStreaming: true}
	if err := s.Messages().CreateMessage(ctx, msg); err != nil {
		t.Fatalf("create message: %v", err)
	}

	if err := s.Messages().SetContent(ctx, "m1", "done", conv.StatusComplete, false); err != nil {
		t.Fatalf("set content: %v", err)
	}
	got, err := s.Messages().GetMessage(ctx, "m1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Content != "done" || got.Status != conv.StatusComplete || got.IsStreaming {
		t.Errorf("message = %+v", got)
	}

	if err := s.Messages().SetContent(ctx, "ghost", "x", conv.StatusComplete, false); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("ghost set err = %v, want ErrNotFound", err)
	}
}
