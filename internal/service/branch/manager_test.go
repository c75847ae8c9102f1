package branch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"arbor/internal/domain"
	"arbor/internal/domain/models/conv"
	convSvc "arbor/internal/domain/services/conv"
	"arbor/internal/repository/memory"
)

type fixture struct {
	store   *memory.Store
	manager *Manager
	chat    *conv.Chat
	main    *conv.Branch
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.NewStore()
	manager := NewManager(store.Chats(), store.Branches(), store.Messages(), nil)

	chat := &conv.Chat{ID: uuid.NewString(), UserID: "user-1", DefaultModel: "echo-1"}
	main := &conv.Branch{ID: uuid.NewString(), ChatID: chat.ID, Name: "main", IsMain: true}
	chat.ActiveBranchID = main.ID

	ctx := context.Background()
	if err := store.Chats().CreateChat(ctx, chat); err != nil {
		t.Fatalf("create chat: %v", err)
	}
	if err := store.Branches().CreateBranch(ctx, main); err != nil {
		t.Fatalf("create branch: %v", err)
	}
	return &fixture{store: store, manager: manager, chat: chat, main: main}
}

// appendTurn adds one persisted message to the active branch.
func (f *fixture) appendTurn(t *testing.T, role, content string) *conv.Message {
	t.Helper()
	ctx := context.Background()
	msg := &conv.Message{
		ID:        uuid.NewString(),
		ChatID:    f.chat.ID,
		Role:      role,
		Content:   content,
		Status:    conv.StatusComplete,
		CreatedAt: time.Now(),
	}
	if err := f.manager.AppendToActiveBranch(ctx, f.chat, msg); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := f.store.Messages().CreateMessage(ctx, msg); err != nil {
		t.Fatalf("create message: %v", err)
	}
	return msg
}

func (f *fixture) transcript(t *testing.T) []conv.Message {
	t.Helper()
	msgs, err := f.manager.ActiveTranscript(context.Background(), f.chat)
	if err != nil {
		t.Fatalf("transcript: %v", err)
	}
	return msgs
}

func contents(msgs []conv.Message) []string {
	out := make([]string, len(msgs))
	for i := range msgs {
		out[i] = msgs[i].Content
	}
	return out
}

func TestAppendAndTranscript(t *testing.T) {
	f := newFixture(t)
	f.appendTurn(t, conv.RoleUser, "q1")
	f.appendTurn(t, conv.RoleAssistant, "a1")

	msgs := f.transcript(t)
	if len(msgs) != 2 {
		t.Fatalf("transcript length = %d, want 2", len(msgs))
	}
	if msgs[0].Content != "q1" || msgs[1].Content != "a1" {
		t.Errorf("transcript order = %v", contents(msgs))
	}
	if msgs[0].BranchID != f.main.ID {
		t.Errorf("message branch id = %q, want main", msgs[0].BranchID)
	}
}

func TestForkAtActiveBranch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	q1 := f.appendTurn(t, conv.RoleUser, "q1")
	f.appendTurn(t, conv.RoleAssistant, "a1")
	q2 := f.appendTurn(t, conv.RoleUser, "q2")
	f.appendTurn(t, conv.RoleAssistant, "a2")
	_ = q1

	edited, fork, err := f.manager.ForkAt(ctx, f.chat, q2, "q2 edited")
	if err != nil {
		t.Fatalf("fork: %v", err)
	}
	if f.chat.ActiveBranchID != fork.ID {
		t.Fatal("chat did not switch to the fork")
	}
	if edited.Content != "q2 edited" {
		t.Errorf("edited content = %q", edited.Content)
	}
	if len(edited.EditHistory) != 1 || edited.EditHistory[0].Content != "q2" {
		t.Errorf("edit history = %+v, want the superseded content", edited.EditHistory)
	}

	// New branch transcript: shared prefix plus the edited tail
	got := contents(f.transcript(t))
	want := []string{"q1", "a1", "q2 edited"}
	if len(got) != len(want) {
		t.Fatalf("fork transcript = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("fork transcript = %v, want %v", got, want)
		}
	}

	// The original branch is untouched and still switchable
	if err := f.manager.SwitchBranch(ctx, f.chat, f.main.ID); err != nil {
		t.Fatalf("switch back: %v", err)
	}
	got = contents(f.transcript(t))
	if len(got) != 4 || got[2] != "q2" || got[3] != "a2" {
		t.Errorf("original transcript = %v, want the pre-edit turns", got)
	}

	// The fork is recorded on the original message for cascade cleanup
	stored, err := f.store.Messages().GetMessage(ctx, q2.ID)
	if err != nil {
		t.Fatalf("get message: %v", err)
	}
	if len(stored.BranchIDs) != 1 || stored.BranchIDs[0] != fork.ID {
		t.Errorf("fork not recorded on message: %v", stored.BranchIDs)
	}
}

func TestForkTwiceYieldsIndependentBranches(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	q1 := f.appendTurn(t, conv.RoleUser, "q1")
	f.appendTurn(t, conv.RoleAssistant, "a1")

	_, fork1, err := f.manager.ForkAt(ctx, f.chat, q1, "first edit")
	if err != nil {
		t.Fatalf("fork 1: %v", err)
	}
	// Fork again from the original message on the main branch
	if err := f.manager.SwitchBranch(ctx, f.chat, f.main.ID); err != nil {
		t.Fatalf("switch: %v", err)
	}
	_, fork2, err := f.manager.ForkAt(ctx, f.chat, q1, "second edit")
	if err != nil {
		t.Fatalf("fork 2: %v", err)
	}
	if fork1.ID == fork2.ID {
		t.Error("forking twice must create two branches")
	}
}

func TestForkAtTrunkReRoots(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Build a trunk by moving the first exchange into BaseMessageIDs
	q1 := f.appendTurn(t, conv.RoleUser, "q1")
	a1 := f.appendTurn(t, conv.RoleAssistant, "a1")
	f.chat.BaseMessageIDs = []string{q1.ID, a1.ID}
	f.main.MessageIDs = nil
	if err := f.store.Branches().UpdateBranch(ctx, f.main); err != nil {
		t.Fatalf("update branch: %v", err)
	}
	if err := f.store.Chats().UpdateChat(ctx, f.chat); err != nil {
		t.Fatalf("update chat: %v", err)
	}
	q2 := f.appendTurn(t, conv.RoleUser, "q2")
	_ = q2

	_, fork, err := f.manager.ForkAt(ctx, f.chat, q1, "q1 edited")
	if err != nil {
		t.Fatalf("fork at trunk: %v", err)
	}

	// Trunk shrank to nothing; the moved suffix lives on the branches now
	if len(f.chat.BaseMessageIDs) != 0 {
		t.Errorf("trunk = %v, want empty after re-root at the first message", f.chat.BaseMessageIDs)
	}

	got := contents(f.transcript(t))
	if len(got) != 1 || got[0] != "q1 edited" {
		t.Errorf("fork transcript = %v, want only the edited message", got)
	}

	// The main branch absorbed the moved trunk ids, so its transcript is
	// unchanged
	if err := f.manager.SwitchBranch(ctx, f.chat, f.main.ID); err != nil {
		t.Fatalf("switch: %v", err)
	}
	got = contents(f.transcript(t))
	want := []string{"q1", "a1", "q2"}
	if len(got) != len(want) {
		t.Fatalf("main transcript = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("main transcript = %v, want %v", got, want)
		}
	}
	_ = fork
}

func TestDeleteMessageCascadesToAssistantReply(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.appendTurn(t, conv.RoleUser, "q1")
	f.appendTurn(t, conv.RoleAssistant, "a1")
	q2 := f.appendTurn(t, conv.RoleUser, "q2")
	f.appendTurn(t, conv.RoleAssistant, "a2")

	res, err := f.manager.DeleteMessage(ctx, f.chat, q2.ID, "")
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if res.DeletedCount != 2 {
		t.Errorf("deleted = %d, want the user turn and its reply", res.DeletedCount)
	}
	got := contents(f.transcript(t))
	if len(got) != 2 || got[0] != "q1" || got[1] != "a1" {
		t.Errorf("transcript = %v", got)
	}
}

func TestDeleteMessageModes(t *testing.T) {
	tests := []struct {
		name      string
		mode      string
		wantCount int
		wantLeft  []string
	}{
		{name: "from here", mode: convSvc.DeleteModeFromHere, wantCount: 3, wantLeft: []string{"q1"}},
		{name: "all after", mode: convSvc.DeleteModeAllAfter, wantCount: 2, wantLeft: []string{"q1", "a1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.appendTurn(t, conv.RoleUser, "q1")
			a1 := f.appendTurn(t, conv.RoleAssistant, "a1")
			f.appendTurn(t, conv.RoleUser, "q2")
			f.appendTurn(t, conv.RoleAssistant, "a2")

			res, err := f.manager.DeleteMessage(context.Background(), f.chat, a1.ID, tt.mode)
			if err != nil {
				t.Fatalf("delete: %v", err)
			}
			if res.DeletedCount != tt.wantCount {
				t.Errorf("deleted = %d, want %d", res.DeletedCount, tt.wantCount)
			}
			got := contents(f.transcript(t))
			if len(got) != len(tt.wantLeft) {
				t.Fatalf("transcript = %v, want %v", got, tt.wantLeft)
			}
			for i := range tt.wantLeft {
				if got[i] != tt.wantLeft[i] {
					t.Fatalf("transcript = %v, want %v", got, tt.wantLeft)
				}
			}
		})
	}
}

func TestDeleteMessageUnknownMode(t *testing.T) {
	f := newFixture(t)
	msg := f.appendTurn(t, conv.RoleUser, "q1")

	_, err := f.manager.DeleteMessage(context.Background(), f.chat, msg.ID, "sideways")
	if !errors.Is(err, domain.ErrValidation) {
		t.Errorf("err = %v, want ErrValidation", err)
	}
}

func TestDeleteCascadesIntoForks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	q1 := f.appendTurn(t, conv.RoleUser, "q1")
	f.appendTurn(t, conv.RoleAssistant, "a1")

	// Fork at q1, then return to main so the fork is a dormant sibling
	edited, fork, err := f.manager.ForkAt(ctx, f.chat, q1, "q1 edited")
	if err != nil {
		t.Fatalf("fork: %v", err)
	}
	if err := f.manager.SwitchBranch(ctx, f.chat, f.main.ID); err != nil {
		t.Fatalf("switch: %v", err)
	}

	if _, err := f.manager.DeleteMessage(ctx, f.chat, q1.ID, ""); err != nil {
		t.Fatalf("delete: %v", err)
	}

	// The fork and its owned message must be gone
	if _, err := f.store.Branches().GetBranch(ctx, fork.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("fork branch err = %v, want ErrNotFound", err)
	}
	if _, err := f.store.Messages().GetMessage(ctx, edited.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("fork message err = %v, want ErrNotFound", err)
	}
}

func TestEmptiedForkFallsBackToMain(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	q1 := f.appendTurn(t, conv.RoleUser, "q1")
	f.appendTurn(t, conv.RoleAssistant, "a1")

	edited, fork, err := f.manager.ForkAt(ctx, f.chat, q1, "q1 edited")
	if err != nil {
		t.Fatalf("fork: %v", err)
	}

	// Deleting the only message of the active fork removes the branch and
	// reactivates main
	if _, err := f.manager.DeleteMessage(ctx, f.chat, edited.ID, ""); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if f.chat.ActiveBranchID != f.main.ID {
		t.Error("chat did not fall back to the main branch")
	}
	if _, err := f.store.Branches().GetBranch(ctx, fork.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("empty fork err = %v, want ErrNotFound", err)
	}
}

func TestSwitchBranchWrongChat(t *testing.T) {
	f := newFixture(t)
	other := newFixture(t)

	err := f.manager.SwitchBranch(context.Background(), f.chat, other.main.ID)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestVersioning(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	msg := f.appendTurn(t, conv.RoleAssistant, "original answer")
	msg.Model = "echo-1"

	// First AddVersion captures the existing content as the initial version
	v2, err := f.manager.AddVersion(ctx, msg, "second answer", "echo-2", nil)
	if err != nil {
		t.Fatalf("add version: %v", err)
	}
	if len(msg.Versions) != 2 {
		t.Fatalf("versions = %d, want 2 (initial snapshot plus the new one)", len(msg.Versions))
	}
	if msg.Content != "second answer" || msg.Model != "echo-2" {
		t.Errorf("message = %q / %q, must mirror the new active version", msg.Content, msg.Model)
	}
	active := msg.ActiveVersion()
	if active == nil || active.ID != v2 {
		t.Fatal("new version is not active")
	}

	// Switch back to the initial snapshot
	initial := msg.Versions[0].ID
	if err := f.manager.SwitchVersion(ctx, msg, initial); err != nil {
		t.Fatalf("switch version: %v", err)
	}
	if msg.Content != "original answer" || msg.Model != "echo-1" {
		t.Errorf("message = %q / %q after switching back", msg.Content, msg.Model)
	}
	for i := range msg.Versions {
		if msg.Versions[i].ID != initial && msg.Versions[i].IsActive {
			t.Error("more than one active version")
		}
	}

	if err := f.manager.SwitchVersion(ctx, msg, "missing"); !errors.Is(err, domain.ErrVersionNotFound) {
		t.Errorf("err = %v, want ErrVersionNotFound", err)
	}
}
