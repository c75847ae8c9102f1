package conv

import "testing"

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name    string
		content string
		command string
		rest    string
	}{
		{"plain text", "hello there", CommandNone, "hello there"},
		{"image command", "/image a cat in a hat", CommandImage, "a cat in a hat"},
		{"search command", "/search go 1.25 release notes", CommandSearch, "go 1.25 release notes"},
		{"leading whitespace", "  /image sunrise", CommandImage, "sunrise"},
		{"bare image", "/image", CommandNone, "/image"},
		{"bare search with spaces", "/search   ", CommandNone, "/search   "},
		{"command mid-sentence", "try /image later", CommandNone, "try /image later"},
		{"empty", "", CommandNone, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			command, rest := ParseCommand(tt.content)
			if command != tt.command {
				t.Errorf("command = %q, want %q", command, tt.command)
			}
			if rest != tt.rest {
				t.Errorf("rest = %q, want %q", rest, tt.rest)
			}
		})
	}
}

func TestProviderForModel(t *testing.T) {
	tests := []struct {
		model    string
		provider string
		ok       bool
	}{
		{"claude-sonnet-4-5-20250929", ProviderAnthropic, true},
		{"Claude-Haiku-4-5", ProviderAnthropic, true},
		{"gpt-4o", ProviderOpenAI, true},
		{"o1-mini", ProviderOpenAI, true},
		{"dall-e-3", ProviderOpenAI, true},
		{"gemini-2.0-flash", ProviderGoogle, true},
		{"imagen-3", ProviderGoogle, true},
		{"echo-1", ProviderEcho, true},
		{"llama-3", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			provider, ok := ProviderForModel(tt.model)
			if provider != tt.provider || ok != tt.ok {
				t.Errorf("ProviderForModel(%q) = (%q, %v), want (%q, %v)",
					tt.model, provider, ok, tt.provider, tt.ok)
			}
		})
	}
}

func TestTranscriptOrdersTrunkFirst(t *testing.T) {
	chat := &Chat{BaseMessageIDs: []string{"m1", "m2"}}
	branch := &Branch{MessageIDs: []string{"m3", "m4"}}

	got := Transcript(chat, branch)
	want := []string{"m1", "m2", "m3", "m4"}
	if len(got) != len(want) {
		t.Fatalf("transcript = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("transcript[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestMultiResponseHelpers(t *testing.T) {
	mr := &MultiResponse{
		SelectedModels: []string{"echo-1", "gpt-4o", "gemini-2.0-flash"},
		Responses: []ResponseSlot{
			{ID: "r1", Model: "echo-1", Content: "a", IsPrimary: true},
			{ID: "r2", Model: "gpt-4o", Content: ""},
			{ID: "r3", Model: "gemini-2.0-flash", Content: "c", IsDeleted: true},
		},
		PrimaryResponseID: "r1",
	}

	if slot := mr.Slot("r2"); slot == nil || slot.Model != "gpt-4o" {
		t.Error("Slot lookup failed")
	}
	if slot := mr.Slot("missing"); slot != nil {
		t.Error("Slot returned a phantom entry")
	}
	if primary := mr.Primary(); primary == nil || primary.ID != "r1" {
		t.Error("Primary lookup failed")
	}
	if got := mr.LiveCount(); got != 2 {
		t.Errorf("LiveCount = %d, want 2", got)
	}

	// r2 is live but still empty
	if mr.Resolved() {
		t.Error("Resolved with a pending slot")
	}
	mr.Responses[1].Content = "b"
	if !mr.Resolved() {
		t.Error("not Resolved after every live slot settled")
	}
}

func TestMessageActiveVersion(t *testing.T) {
	msg := &Message{}
	if msg.ActiveVersion() != nil {
		t.Error("unversioned message has an active version")
	}

	msg.Versions = []Version{
		{ID: "v1", Content: "old"},
		{ID: "v2", Content: "new", IsActive: true},
	}
	active := msg.ActiveVersion()
	if active == nil || active.ID != "v2" {
		t.Fatalf("active = %+v, want v2", active)
	}
	// The pointer aliases the slice so callers can mutate in place
	active.Content = "newer"
	if msg.Versions[1].Content != "newer" {
		t.Error("ActiveVersion returned a copy")
	}
}
