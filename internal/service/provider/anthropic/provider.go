package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"arbor/internal/domain"
	"arbor/internal/domain/models/conv"
	convSvc "arbor/internal/domain/services/conv"
)

// Provider implements the provider contract over the Anthropic Messages
// API. It supports resumption by replaying the conversation with the
// accumulated partial answer as an assistant prefill, so the model
// continues from where the dropped stream left off.
type Provider struct {
	client *client
	logger *slog.Logger
}

// New creates an Anthropic provider with the given API key.
func New(apiKey string, httpClient *http.Client, logger *slog.Logger) *Provider {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{
		client: &client{
			apiKey:     apiKey,
			baseURL:    defaultBaseURL,
			httpClient: httpClient,
		},
		logger: logger,
	}
}

func (p *Provider) Name() string { return conv.ProviderAnthropic }

func (p *Provider) SupportsModel(model string) bool {
	return strings.HasPrefix(model, "claude-")
}

func (p *Provider) SupportsResume() bool { return true }

func (p *Provider) Stream(ctx context.Context, req *convSvc.GenerateRequest) (<-chan convSvc.Delta, error) {
	return p.stream(ctx, buildRequest(req, ""), 0)
}

func (p *Provider) Resume(ctx context.Context, req *convSvc.ResumeRequest) (<-chan convSvc.Delta, error) {
	p.logger.Info("resuming anthropic stream",
		"model", req.Request.Model,
		"last_sequence", req.LastSequence)
	return p.stream(ctx, buildRequest(req.Request, req.AccumulatedText), req.LastSequence)
}

func (p *Provider) stream(ctx context.Context, mr *messagesRequest, seqBase int) (<-chan convSvc.Delta, error) {
	resp, err := p.client.streamMessage(ctx, mr)
	if err != nil {
		return nil, err
	}

	out := make(chan convSvc.Delta)
	go func() {
		defer close(out)
		defer resp.Body.Close()

		seq := seqBase
		token := ""
		send := func(d convSvc.Delta) bool {
			select {
			case out <- d:
				return true
			case <-ctx.Done():
				return false
			}
		}

		err := scanEvents(ctx, resp.Body, func(ev streamEvent) bool {
			switch ev.Type {
			case eventMessageStart:
				if ev.Message != nil {
					token = ev.Message.ID
				}
				return true
			case eventContentBlockDelta:
				if ev.Delta == nil || ev.Delta.Text == "" {
					return true
				}
				seq++
				return send(convSvc.Delta{
					Text:        ev.Delta.Text,
					Sequence:    seq,
					ResumeToken: token,
				})
			case eventMessageStop:
				seq++
				return send(convSvc.Delta{Final: true, Sequence: seq, ResumeToken: token})
			case eventError:
				// Mid-stream error events (overloaded_error and friends) are
				// transient; surface them as transport failures so the
				// orchestrator can resume
				msg := "provider error"
				if ev.Error != nil {
					msg = ev.Error.Message
				}
				send(convSvc.Delta{Err: domain.TransportError{
					Provider: conv.ProviderAnthropic,
					Err:      errors.New(msg),
				}})
				return false
			default:
				// ping, content_block_start/stop, message_delta carry no text
				return true
			}
		})
		if err != nil && ctx.Err() == nil {
			select {
			case out <- convSvc.Delta{Err: err}:
			case <-ctx.Done():
			}
		}
	}()
	return out, nil
}

func (p *Provider) UploadAttachment(ctx context.Context, att conv.Attachment, r io.Reader) (string, error) {
	return p.client.uploadFile(ctx, att.Name, att.MimeType, r)
}

// Search runs the native web_search tool in a non-streaming call and
// flattens the tool result blocks into a single answer with citations.
func (p *Provider) Search(ctx context.Context, query string) (*convSvc.SearchResult, error) {
	resp, err := p.client.createMessage(ctx, &messagesRequest{
		Model:     "claude-haiku-4-5-20251001",
		MaxTokens: 1024,
		Messages: []wireMessage{{
			Role:    "user",
			Content: []wireBlock{{Type: "text", Text: query}},
		}},
		Tools: []wireTool{{Type: "web_search_20250305", Name: "web_search", MaxUses: 3}},
	})
	if err != nil {
		return nil, err
	}

	result := &convSvc.SearchResult{Query: query}
	var answer strings.Builder
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			answer.WriteString(block.Text)
		case "web_search_tool_result":
			result.Citations = append(result.Citations, parseSearchCitations(block.Content)...)
		}
	}
	result.Answer = answer.String()
	return result, nil
}

func parseSearchCitations(raw json.RawMessage) []conv.Citation {
	if len(raw) == 0 {
		return nil
	}
	var hits []struct {
		Type  string `json:"type"`
		Title string `json:"title"`
		URL   string `json:"url"`
	}
	if err := json.Unmarshal(raw, &hits); err != nil {
		return nil
	}
	var out []conv.Citation
	for _, h := range hits {
		if h.Type != "web_search_result" {
			continue
		}
		out = append(out, conv.Citation{
			Title:  h.Title,
			URL:    h.URL,
			Source: conv.ProviderAnthropic,
		})
	}
	return out
}

// buildRequest converts the normalized request to the wire form. When
// prefill is non-empty it is appended as a trailing assistant message so
// the model continues the partial answer instead of starting over.
func buildRequest(req *convSvc.GenerateRequest, prefill string) *messagesRequest {
	mr := &messagesRequest{
		Model:       req.Model,
		System:      req.System,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	if mr.MaxTokens == 0 {
		mr.MaxTokens = defaultMaxTokens
	}

	for _, m := range req.Messages {
		wm := wireMessage{Role: m.Role}
		if m.Content != "" {
			wm.Content = append(wm.Content, wireBlock{Type: "text", Text: m.Content})
		}
		for _, att := range m.Attachments {
			handle := req.AttachmentRefs[att.ContentID]
			if handle == "" {
				continue
			}
			wm.Content = append(wm.Content, wireBlock{
				Type:   "document",
				Source: &wireFileSource{Type: "file", FileID: handle},
			})
		}
		if len(wm.Content) == 0 {
			continue
		}
		mr.Messages = append(mr.Messages, wm)
	}

	if prefill != "" {
		mr.Messages = append(mr.Messages, wireMessage{
			Role:    "assistant",
			Content: []wireBlock{{Type: "text", Text: strings.TrimRight(prefill, " \n")}},
		})
	}
	return mr
}
