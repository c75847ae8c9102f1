// Package echo is a deterministic in-process provider for development
// and tests. It streams the last user message back word by word and
// fully supports resumption, which makes it useful for exercising the
// recovery path without a network.
package echo

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"arbor/internal/domain"
	"arbor/internal/domain/models/conv"
	convSvc "arbor/internal/domain/services/conv"
)

const defaultDelay = 10 * time.Millisecond

type Provider struct {
	// Delay between deltas; zero means defaultDelay, negative means none
	Delay time.Duration

	// FailAfter, when positive, injects a transport error after that many
	// deltas on the first attempt. Resumed streams run clean.
	FailAfter int
}

func New() *Provider { return &Provider{} }

func (p *Provider) Name() string { return conv.ProviderEcho }

func (p *Provider) SupportsModel(model string) bool {
	return strings.HasPrefix(model, "echo-")
}

func (p *Provider) SupportsResume() bool { return true }

func (p *Provider) Stream(ctx context.Context, req *convSvc.GenerateRequest) (<-chan convSvc.Delta, error) {
	return p.run(ctx, words(req), 0, p.FailAfter), nil
}

func (p *Provider) Resume(ctx context.Context, req *convSvc.ResumeRequest) (<-chan convSvc.Delta, error) {
	if !strings.HasPrefix(req.ResumeToken, "echo-") {
		return nil, fmt.Errorf("bad resume token %q: %w", req.ResumeToken, domain.ErrResumeUnsupported)
	}
	return p.run(ctx, words(req.Request), req.LastSequence, 0), nil
}

func (p *Provider) UploadAttachment(_ context.Context, att conv.Attachment, r io.Reader) (string, error) {
	// Drain so callers see realistic reader consumption
	if _, err := io.Copy(io.Discard, r); err != nil {
		return "", err
	}
	return "echo-file-" + att.ContentID, nil
}

// GenerateImage returns a stable fake URL so the image command path can
// run end to end without a real renderer.
func (p *Provider) GenerateImage(_ context.Context, prompt string) (string, error) {
	return "https://echo.invalid/images/" + shortHash(prompt) + ".png", nil
}

func (p *Provider) run(ctx context.Context, parts []string, skip, failAfter int) <-chan convSvc.Delta {
	delay := p.Delay
	if delay == 0 {
		delay = defaultDelay
	}

	out := make(chan convSvc.Delta)
	go func() {
		defer close(out)

		send := func(d convSvc.Delta) bool {
			select {
			case out <- d:
				return true
			case <-ctx.Done():
				return false
			}
		}

		emitted := 0
		for i, w := range parts {
			seq := i + 1
			if seq <= skip {
				continue
			}
			if failAfter > 0 && emitted >= failAfter {
				send(convSvc.Delta{Err: domain.TransportError{
					Provider: conv.ProviderEcho,
					Err:      fmt.Errorf("injected drop after %d deltas", emitted),
				}})
				return
			}
			if delay > 0 {
				select {
				case <-time.After(delay):
				case <-ctx.Done():
					return
				}
			}
			text := w
			if i > 0 {
				text = " " + w
			}
			if !send(convSvc.Delta{Text: text, Sequence: seq, ResumeToken: "echo-stream"}) {
				return
			}
			emitted++
		}
		send(convSvc.Delta{Final: true, Sequence: len(parts) + 1, ResumeToken: "echo-stream"})
	}()
	return out
}

// words picks the text to echo: the last user message, or a canned line
// when the transcript is empty.
func words(req *convSvc.GenerateRequest) []string {
	text := ""
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == string(conv.RoleUser) {
			text = req.Messages[i].Content
			break
		}
	}
	if text == "" {
		text = "echo echo echo"
	}
	return strings.Fields(text)
}

func shortHash(s string) string {
	var h uint32 = 2166136261
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= 16777619
	}
	return fmt.Sprintf("%08x", h)
}
