// Package anthropic adapts the Anthropic Messages API to the provider
// contract, including its multi-stage SSE event protocol.
package anthropic

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"arbor/internal/domain"
)

const (
	defaultBaseURL   = "https://api.anthropic.com"
	apiVersion       = "2023-06-01"
	filesBeta        = "files-api-2025-04-14"
	defaultMaxTokens = 4096
)

type eventType string

const (
	eventPing              eventType = "ping"
	eventMessageStart      eventType = "message_start"
	eventContentBlockStart eventType = "content_block_start"
	eventContentBlockDelta eventType = "content_block_delta"
	eventContentBlockStop  eventType = "content_block_stop"
	eventMessageDelta      eventType = "message_delta"
	eventMessageStop       eventType = "message_stop"
	eventError             eventType = "error"
)

type client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

type wireBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	Source    *wireFileSource `json:"source,omitempty"`
	Title     string          `json:"title,omitempty"`
	URL       string          `json:"url,omitempty"`
	CitedText string          `json:"cited_text,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
}

type wireFileSource struct {
	Type   string `json:"type"`
	FileID string `json:"file_id"`
}

type wireMessage struct {
	Role    string      `json:"role"`
	Content []wireBlock `json:"content"`
}

type wireTool struct {
	Type    string `json:"type"`
	Name    string `json:"name"`
	MaxUses int    `json:"max_uses,omitempty"`
}

type messagesRequest struct {
	Model       string        `json:"model"`
	System      string        `json:"system,omitempty"`
	Messages    []wireMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature *float32      `json:"temperature,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
	Tools       []wireTool    `json:"tools,omitempty"`
}

type messagesResponse struct {
	ID      string      `json:"id"`
	Role    string      `json:"role"`
	Content []wireBlock `json:"content"`
}

type streamEvent struct {
	Type    eventType `json:"type"`
	Message *struct {
		ID string `json:"id"`
	} `json:"message,omitempty"`
	Index any `json:"index,omitempty"`
	Delta *struct {
		Type       string `json:"type"`
		Text       string `json:"text,omitempty"`
		StopReason string `json:"stop_reason,omitempty"`
	} `json:"delta,omitempty"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (c *client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", apiVersion)
	return req, nil
}

// createMessage issues a non-streaming messages call.
func (c *client) createMessage(ctx context.Context, mr *messagesRequest) (*messagesResponse, error) {
	payload, err := json.Marshal(mr)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, domain.TransportError{Provider: "anthropic", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.statusError(resp)
	}

	var out messagesResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, domain.TransportError{Provider: "anthropic", Err: err}
	}
	return &out, nil
}

// streamMessage issues a streaming messages call and returns the open
// response body for event scanning.
func (c *client) streamMessage(ctx context.Context, mr *messagesRequest) (*http.Response, error) {
	mr.Stream = true
	payload, err := json.Marshal(mr)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, domain.TransportError{Provider: "anthropic", Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, c.statusError(resp)
	}
	return resp, nil
}

// uploadFile pushes bytes to the Files API and returns the file id.
func (c *client) uploadFile(ctx context.Context, name, mimeType string, r io.Reader) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(part, r); err != nil {
		return "", fmt.Errorf("read attachment: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", err
	}
	_ = mimeType // the Files API sniffs content type from the part

	req, err := c.newRequest(ctx, http.MethodPost, "/v1/files", &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("anthropic-beta", filesBeta)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", domain.TransportError{Provider: "anthropic", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", c.statusError(resp)
	}

	var file struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&file); err != nil {
		return "", domain.TransportError{Provider: "anthropic", Err: err}
	}
	return file.ID, nil
}

func (c *client) statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := strings.TrimSpace(string(body))

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("anthropic rejected credentials (%d): %w", resp.StatusCode, domain.ErrProviderRejected)
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity:
		return fmt.Errorf("anthropic rejected request (%d): %s: %w", resp.StatusCode, msg, domain.ErrProviderRejected)
	default:
		// 429s and 5xx are transient; the orchestrator may retry or resume
		return domain.TransportError{
			Provider: "anthropic",
			Err:      fmt.Errorf("status %d: %s", resp.StatusCode, msg),
		}
	}
}

// scanEvents reads the SSE body and invokes emit for each parsed event.
// It returns nil on a clean message_stop and a transport error when the
// body ends mid-stream.
func scanEvents(ctx context.Context, body io.Reader, emit func(streamEvent) bool) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var data strings.Builder
	sawStop := false

	dispatch := func() bool {
		if data.Len() == 0 {
			return true
		}
		var ev streamEvent
		err := json.Unmarshal([]byte(data.String()), &ev)
		data.Reset()
		if err != nil {
			// Skip malformed frames; the stream stays usable
			return true
		}
		if ev.Type == eventMessageStop {
			sawStop = true
		}
		return emit(ev)
	}

	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := scanner.Text()
		if line == "" {
			if !dispatch() {
				return nil
			}
			continue
		}
		if value, ok := strings.CutPrefix(line, "data: "); ok {
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(value)
		}
		// "event:" lines are redundant with the payload's type field
	}
	if !dispatch() {
		return nil
	}

	if err := scanner.Err(); err != nil {
		return domain.TransportError{Provider: "anthropic", Err: err}
	}
	if !sawStop {
		return domain.TransportError{
			Provider: "anthropic",
			Err:      fmt.Errorf("stream ended before message_stop"),
		}
	}
	return nil
}
