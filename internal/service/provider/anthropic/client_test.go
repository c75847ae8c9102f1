package anthropic

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"arbor/internal/domain"
)

func newTestResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

const cleanStream = `event: message_start
data: {"type":"message_start","message":{"id":"msg_abc"}}

event: content_block_start
data: {"type":"content_block_start","index":0}

event: content_block_delta
data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hello"}}

event: content_block_delta
data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":" world"}}

event: content_block_stop
data: {"type":"content_block_stop","index":0}

event: message_delta
data: {"type":"message_delta","delta":{"stop_reason":"end_turn"}}

event: message_stop
data: {"type":"message_stop"}

`

func TestScanEventsCleanStream(t *testing.T) {
	var texts []string
	var types []eventType

	err := scanEvents(context.Background(), strings.NewReader(cleanStream), func(ev streamEvent) bool {
		types = append(types, ev.Type)
		if ev.Delta != nil && ev.Delta.Text != "" {
			texts = append(texts, ev.Delta.Text)
		}
		return true
	})
	if err != nil {
		t.Fatalf("scanEvents: %v", err)
	}

	if got := strings.Join(texts, ""); got != "Hello world" {
		t.Errorf("text = %q, want %q", got, "Hello world")
	}
	if len(types) != 7 {
		t.Fatalf("events = %d, want 7", len(types))
	}
	if types[0] != eventMessageStart || types[len(types)-1] != eventMessageStop {
		t.Errorf("event order wrong: first %q, last %q", types[0], types[len(types)-1])
	}
}

func TestScanEventsTruncatedStreamIsTransport(t *testing.T) {
	truncated := `event: message_start
data: {"type":"message_start","message":{"id":"msg_abc"}}

event: content_block_delta
data: {"type":"content_block_delta","delta":{"type":"text_delta","text":"partial"}}

`
	err := scanEvents(context.Background(), strings.NewReader(truncated), func(streamEvent) bool {
		return true
	})
	var te domain.TransportError
	if !errors.As(err, &te) {
		t.Fatalf("err = %v, want a transport error for a truncated stream", err)
	}
}

func TestScanEventsEmitCanStopEarly(t *testing.T) {
	seen := 0
	err := scanEvents(context.Background(), strings.NewReader(cleanStream), func(streamEvent) bool {
		seen++
		return false
	})
	if err != nil {
		t.Fatalf("scanEvents: %v", err)
	}
	if seen != 1 {
		t.Errorf("emit called %d times, want 1 after declining more", seen)
	}
}

func TestScanEventsSkipsMalformedFrames(t *testing.T) {
	noisy := `data: {not json at all

data: {"type":"content_block_delta","delta":{"type":"text_delta","text":"ok"}}

data: {"type":"message_stop"}

`
	var texts []string
	err := scanEvents(context.Background(), strings.NewReader(noisy), func(ev streamEvent) bool {
		if ev.Delta != nil {
			texts = append(texts, ev.Delta.Text)
		}
		return true
	})
	if err != nil {
		t.Fatalf("scanEvents: %v", err)
	}
	if len(texts) != 1 || texts[0] != "ok" {
		t.Errorf("texts = %v, want the one well-formed delta", texts)
	}
}

func TestScanEventsMultilineData(t *testing.T) {
	// SSE allows a frame's payload to span several data lines
	split := "data: {\"type\":\"content_block_delta\",\n" +
		"data: \"delta\":{\"type\":\"text_delta\",\"text\":\"joined\"}}\n" +
		"\n" +
		"data: {\"type\":\"message_stop\"}\n" +
		"\n"

	var texts []string
	err := scanEvents(context.Background(), strings.NewReader(split), func(ev streamEvent) bool {
		if ev.Delta != nil {
			texts = append(texts, ev.Delta.Text)
		}
		return true
	})
	if err != nil {
		t.Fatalf("scanEvents: %v", err)
	}
	if len(texts) != 1 || texts[0] != "joined" {
		t.Errorf("texts = %v, want the joined delta", texts)
	}
}

func TestStatusErrorClassification(t *testing.T) {
	// statusError is exercised through the HTTP paths; the mapping itself
	// is what the orchestrator's retry decision depends on
	tests := []struct {
		name      string
		status    int
		transient bool
	}{
		{"unauthorized", 401, false},
		{"bad request", 400, false},
		{"rate limited", 429, true},
		{"overloaded", 529, true},
		{"server error", 500, true},
	}

	c := &client{}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := newTestResponse(tt.status, `{"error":{"type":"x","message":"y"}}`)
			err := c.statusError(resp)

			var te domain.TransportError
			gotTransient := errors.As(err, &te)
			if gotTransient != tt.transient {
				t.Errorf("transient = %v, want %v (err %v)", gotTransient, tt.transient, err)
			}
			if !tt.transient && !errors.Is(err, domain.ErrProviderRejected) {
				t.Errorf("err = %v, want ErrProviderRejected", err)
			}
		})
	}
}
