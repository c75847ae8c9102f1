// Package openai adapts the OpenAI chat completions API to the provider
// contract. OpenAI exposes no stream resume primitive, so a dropped
// stream is restarted from scratch by the caller.
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	go_openai "github.com/sashabaranov/go-openai"

	"arbor/internal/domain"
	"arbor/internal/domain/models/conv"
	convSvc "arbor/internal/domain/services/conv"
)

var modelPrefixes = []string{"gpt-", "o1-", "o3-", "chatgpt-", "dall-e-"}

type Provider struct {
	client *go_openai.Client
	logger *slog.Logger
}

// New creates an OpenAI provider with the given API key.
func New(apiKey string, logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{
		client: go_openai.NewClient(apiKey),
		logger: logger,
	}
}

func (p *Provider) Name() string { return conv.ProviderOpenAI }

func (p *Provider) SupportsModel(model string) bool {
	for _, prefix := range modelPrefixes {
		if strings.HasPrefix(model, prefix) {
			return true
		}
	}
	return false
}

func (p *Provider) SupportsResume() bool { return false }

func (p *Provider) Resume(_ context.Context, _ *convSvc.ResumeRequest) (<-chan convSvc.Delta, error) {
	return nil, domain.ErrResumeUnsupported
}

func (p *Provider) Stream(ctx context.Context, req *convSvc.GenerateRequest) (<-chan convSvc.Delta, error) {
	creq := go_openai.ChatCompletionRequest{
		Model:     req.Model,
		MaxTokens: req.MaxTokens,
		Stream:    true,
	}
	if req.Temperature != nil {
		creq.Temperature = *req.Temperature
	}
	if req.System != "" {
		creq.Messages = append(creq.Messages, go_openai.ChatCompletionMessage{
			Role:    go_openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	for _, m := range req.Messages {
		content := m.Content
		// Chat completions take no file references; uploaded attachments
		// are named so the model knows they exist
		for _, att := range m.Attachments {
			if handle := req.AttachmentRefs[att.ContentID]; handle != "" {
				content += fmt.Sprintf("\n[attached file: %s (%s)]", att.Name, handle)
			}
		}
		creq.Messages = append(creq.Messages, go_openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: content,
		})
	}

	stream, err := p.client.CreateChatCompletionStream(ctx, creq)
	if err != nil {
		return nil, classifyError(err)
	}

	out := make(chan convSvc.Delta)
	go func() {
		defer close(out)
		defer stream.Close()

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
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
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
			if len(resp.Choices) == 0 {
				continue
			}
			text := resp.Choices[0].Delta.Content
			if text == "" {
				continue
			}
			seq++
			if !send(convSvc.Delta{Text: text, Sequence: seq}) {
				return
			}
		}
	}()
	return out, nil
}

// UploadAttachment stages the bytes in a temp file because the client
// library uploads from a path, then pushes it to the files endpoint.
func (p *Provider) UploadAttachment(ctx context.Context, att conv.Attachment, r io.Reader) (string, error) {
	tmp, err := os.CreateTemp("", "arbor-upload-*")
	if err != nil {
		return "", fmt.Errorf("stage attachment: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return "", fmt.Errorf("stage attachment: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("stage attachment: %w", err)
	}

	file, err := p.client.CreateFile(ctx, go_openai.FileRequest{
		FileName: att.Name,
		FilePath: tmp.Name(),
		Purpose:  "assistants",
	})
	if err != nil {
		return "", classifyError(err)
	}
	return file.ID, nil
}

// GenerateImage renders a prompt with DALL-E and returns the image URL.
func (p *Provider) GenerateImage(ctx context.Context, prompt string) (string, error) {
	resp, err := p.client.CreateImage(ctx, go_openai.ImageRequest{
		Prompt:         prompt,
		Model:          go_openai.CreateImageModelDallE3,
		N:              1,
		Size:           go_openai.CreateImageSize1024x1024,
		ResponseFormat: go_openai.CreateImageResponseFormatURL,
	})
	if err != nil {
		return "", classifyError(err)
	}
	if len(resp.Data) == 0 {
		return "", fmt.Errorf("openai returned no image: %w", domain.ErrImageGeneration)
	}
	return resp.Data[0].URL, nil
}

// classifyError splits API errors into permanent rejections and
// transient transport failures.
func classifyError(err error) error {
	var apiErr *go_openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case 400, 401, 403, 404, 422:
			return fmt.Errorf("openai rejected request (%d): %s: %w",
				apiErr.HTTPStatusCode, apiErr.Message, domain.ErrProviderRejected)
		}
	}
	return domain.TransportError{Provider: conv.ProviderOpenAI, Err: err}
}
