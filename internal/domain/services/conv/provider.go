package conv

import (
	"context"
	"io"

	"arbor/internal/domain/models/conv"
)

// Provider defines the interface that all LLM providers implement. It hides
// N distinct vendor streaming protocols behind uniform delta semantics: one
// Delta per new text fragment, exactly one terminal Delta with Final = true.
type Provider interface {
	// Name returns the provider name (e.g., "anthropic", "openai", "google")
	Name() string

	// SupportsModel returns true if the provider serves the given model
	SupportsModel(model string) bool

	// SupportsResume reports whether the provider exposes a resume
	// primitive. When false, the orchestrator restarts from scratch after
	// a transport drop instead of resuming.
	SupportsResume() bool

	// Stream starts a generation and returns a channel of normalized
	// deltas. The channel is closed after the terminal delta, or after a
	// delta carrying Err. Closing without a terminal delta is a transport
	// drop.
	Stream(ctx context.Context, req *GenerateRequest) (<-chan Delta, error)

	// Resume continues a dropped stream from the last acknowledged
	// position. Providers without a resume primitive return
	// domain.ErrResumeUnsupported.
	Resume(ctx context.Context, req *ResumeRequest) (<-chan Delta, error)

	// UploadAttachment pushes attachment bytes to the provider's file
	// mechanism and returns an opaque handle referenced in requests.
	UploadAttachment(ctx context.Context, att conv.Attachment, r io.Reader) (string, error)
}

// ImageGenerator is implemented by providers with a native image capability.
type ImageGenerator interface {
	GenerateImage(ctx context.Context, prompt string) (string, error)
}

// NativeSearcher is implemented by providers with a native web-search tool.
type NativeSearcher interface {
	Search(ctx context.Context, query string) (*SearchResult, error)
}

// GenerateRequest contains the parameters for a generation request.
type GenerateRequest struct {
	// Model is the model identifier (e.g., "claude-haiku-4-5-20251001")
	Model string

	// Messages is the canonical conversation history, oldest first
	Messages []PromptMessage

	// System is an optional system prompt
	System string

	// MaxTokens caps the response length; 0 means provider default
	MaxTokens int

	// Temperature, when non-nil, overrides the provider default
	Temperature *float32

	// AttachmentRefs maps content ids to provider upload handles
	AttachmentRefs map[string]string
}

// PromptMessage is one turn in a provider request.
type PromptMessage struct {
	Role        string
	Content     string
	Attachments []conv.Attachment
}

// ResumeRequest asks a provider to continue a dropped stream.
type ResumeRequest struct {
	// Request is the original generation request
	Request *GenerateRequest

	// ResumeToken is the opaque provider handle from the last delta
	ResumeToken string

	// LastSequence is the highest delta sequence number applied so far;
	// the provider must not re-emit fragments at or below it
	LastSequence int

	// AccumulatedText is everything applied to the message so far
	AccumulatedText string
}

// Delta is one normalized streaming fragment.
type Delta struct {
	// Text is the new fragment; may be empty on the terminal delta
	Text string

	// Final marks the single terminal delta of a stream
	Final bool

	// Sequence is a monotonic per-stream counter, used for resume dedupe
	Sequence int

	// ResumeToken is the provider's opaque resume handle, when supported
	ResumeToken string

	// Citations extracted from grounding/annotation payloads
	Citations []conv.Citation

	// Err marks a transport failure; the stream ends after it
	Err error
}

// SearchResult is the normalized output of a web search.
type SearchResult struct {
	Query     string
	Answer    string
	Citations []conv.Citation
	// Degraded is true for the synthetic "search unavailable" response
	// produced when every search backend failed
	Degraded bool
}
