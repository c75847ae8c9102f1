// Package google adapts the Gemini API to the provider contract. The
// client is created per stream because the genai client binds its
// transport to a context. Gemini exposes no stream resume primitive.
package google

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	genai "github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"arbor/internal/domain"
	"arbor/internal/domain/models/conv"
	convSvc "arbor/internal/domain/services/conv"
)

type Provider struct {
	apiKey string
	logger *slog.Logger
}

// New creates a Google provider with the given API key.
func New(apiKey string, logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{apiKey: apiKey, logger: logger}
}

func (p *Provider) Name() string { return conv.ProviderGoogle }

func (p *Provider) SupportsModel(model string) bool {
	return strings.HasPrefix(model, "gemini-") || strings.HasPrefix(model, "imagen-")
}

func (p *Provider) SupportsResume() bool { return false }

func (p *Provider) Resume(_ context.Context, _ *convSvc.ResumeRequest) (<-chan convSvc.Delta, error) {
	return nil, domain.ErrResumeUnsupported
}

func (p *Provider) newClient(ctx context.Context) (*genai.Client, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(p.apiKey))
	if err != nil {
		return nil, domain.TransportError{Provider: conv.ProviderGoogle, Err: err}
	}
	return client, nil
}

func (p *Provider) Stream(ctx context.Context, req *convSvc.GenerateRequest) (<-chan convSvc.Delta, error) {
	client, err := p.newClient(ctx)
	if err != nil {
		return nil, err
	}

	model := client.GenerativeModel(req.Model)
	if req.System != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(req.System)}}
	}
	if req.Temperature != nil {
		model.GenerationConfig.Temperature = req.Temperature
	}
	if req.MaxTokens > 0 {
		v := int32(req.MaxTokens)
		model.GenerationConfig.MaxOutputTokens = &v
	}

	history, last := splitHistory(req)
	if last == nil {
		client.Close()
		return nil, fmt.Errorf("gemini request has no user message: %w", domain.ErrValidation)
	}

	session := model.StartChat()
	session.History = history
	iter := session.SendMessageStream(ctx, last...)

	out := make(chan convSvc.Delta)
	go func() {
		defer close(out)
		defer client.Close()

		seq := 0
		send := func(d convSvc.Delta) bool {
			select {
			case out <- d:
				return true
			case <-ctx.Done():
				return false
			}
		}

		for {
			resp, err := iter.Next()
			if errors.Is(err, iterator.Done) {
				seq++
				send(convSvc.Delta{Final: true, Sequence: seq})
				return
			}
			if err != nil {
				if ctx.Err() == nil {
					send(convSvc.Delta{Err: classifyError(err)})
				}
				return
			}
			for _, cand := range resp.Candidates {
				if cand.Content == nil {
					continue
				}
				var text strings.Builder
				for _, part := range cand.Content.Parts {
					if t, ok := part.(genai.Text); ok {
						text.WriteString(string(t))
					}
				}
				if text.Len() == 0 {
					continue
				}
				seq++
				if !send(convSvc.Delta{
					Text:      text.String(),
					Sequence:  seq,
					Citations: extractCitations(cand),
				}) {
					return
				}
			}
		}
	}()
	return out, nil
}

// UploadAttachment pushes bytes to the Gemini file API; the returned URI
// is referenced from prompt parts.
func (p *Provider) UploadAttachment(ctx context.Context, att conv.Attachment, r io.Reader) (string, error) {
	client, err := p.newClient(ctx)
	if err != nil {
		return "", err
	}
	defer client.Close()

	file, err := client.UploadFile(ctx, "", r, &genai.UploadFileOptions{
		DisplayName: att.Name,
		MIMEType:    att.MimeType,
	})
	if err != nil {
		return "", classifyError(err)
	}
	return file.URI, nil
}

// splitHistory converts prior turns to chat history and returns the
// final user message's parts separately, as SendMessageStream expects.
func splitHistory(req *convSvc.GenerateRequest) ([]*genai.Content, []genai.Part) {
	contents := make([]*genai.Content, 0, len(req.Messages))
	for _, m := range req.Messages {
		role := "user"
		if m.Role == string(conv.RoleAssistant) {
			role = "model"
		}
		parts := []genai.Part{}
		if m.Content != "" {
			parts = append(parts, genai.Text(m.Content))
		}
		for _, att := range m.Attachments {
			if uri := req.AttachmentRefs[att.ContentID]; uri != "" {
				parts = append(parts, genai.FileData{MIMEType: att.MimeType, URI: uri})
			}
		}
		if len(parts) == 0 {
			continue
		}
		contents = append(contents, &genai.Content{Role: role, Parts: parts})
	}

	if len(contents) == 0 {
		return nil, nil
	}
	last := contents[len(contents)-1]
	if last.Role != "user" {
		return nil, nil
	}
	return contents[:len(contents)-1], last.Parts
}

func extractCitations(cand *genai.Candidate) []conv.Citation {
	if cand.CitationMetadata == nil {
		return nil
	}
	var out []conv.Citation
	for _, src := range cand.CitationMetadata.CitationSources {
		c := conv.Citation{Source: conv.ProviderGoogle}
		if src.URI != nil {
			c.URL = *src.URI
		}
		if src.StartIndex != nil {
			c.StartChar = int(*src.StartIndex)
		}
		if src.EndIndex != nil {
			c.EndChar = int(*src.EndIndex)
		}
		out = append(out, c)
	}
	return out
}

func classifyError(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch gerr.Code {
		case 400, 401, 403, 404:
			return fmt.Errorf("gemini rejected request (%d): %s: %w",
				gerr.Code, gerr.Message, domain.ErrProviderRejected)
		}
	}
	return domain.TransportError{Provider: conv.ProviderGoogle, Err: err}
}
