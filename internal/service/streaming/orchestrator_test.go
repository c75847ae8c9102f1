package streaming

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"arbor/internal/domain"
	"arbor/internal/domain/models/conv"
	convSvc "arbor/internal/domain/services/conv"
	"arbor/internal/service/provider/echo"
)

// recordSink captures every persist call for assertions.
type recordSink struct {
	mu       sync.Mutex
	content  string
	status   string
	statuses []string
}

func (s *recordSink) Persist(_ context.Context, content, status string, _ bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.content = content
	s.status = status
	s.statuses = append(s.statuses, status)
	return nil
}

func (s *recordSink) final() (string, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.content, s.status
}

func (s *recordSink) sawStatus(status string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range s.statuses {
		if st == status {
			return true
		}
	}
	return false
}

// scriptedProvider plays back one delta script per attempt. A script that
// ends without a Final delta simulates a transport drop.
type scriptedProvider struct {
	mu       sync.Mutex
	attempts int
	scripts  [][]convSvc.Delta
}

func (p *scriptedProvider) Name() string                { return "scripted" }
func (p *scriptedProvider) SupportsModel(string) bool   { return true }
func (p *scriptedProvider) SupportsResume() bool        { return false }
func (p *scriptedProvider) UploadAttachment(_ context.Context, _ conv.Attachment, _ io.Reader) (string, error) {
	return "", nil
}

func (p *scriptedProvider) Resume(context.Context, *convSvc.ResumeRequest) (<-chan convSvc.Delta, error) {
	return nil, domain.ErrResumeUnsupported
}

func (p *scriptedProvider) Stream(ctx context.Context, _ *convSvc.GenerateRequest) (<-chan convSvc.Delta, error) {
	p.mu.Lock()
	var script []convSvc.Delta
	if p.attempts < len(p.scripts) {
		script = p.scripts[p.attempts]
	}
	p.attempts++
	p.mu.Unlock()

	out := make(chan convSvc.Delta)
	go func() {
		defer close(out)
		for _, d := range script {
			select {
			case out <- d:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (p *scriptedProvider) attemptCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attempts
}

func echoRequest(text string) *convSvc.GenerateRequest {
	return &convSvc.GenerateRequest{
		Model: "echo-1",
		Messages: []convSvc.PromptMessage{
			{Role: conv.RoleUser, Content: text},
		},
	}
}

func newTestOrchestrator() (*Orchestrator, *Registry) {
	registry := NewRegistry()
	o := NewOrchestrator(registry, nil)
	o.backoff = time.Millisecond
	return o, registry
}

func runGeneration(o *Orchestrator, registry *Registry, prov convSvc.Provider, req *convSvc.GenerateRequest, sink Sink) *Session {
	sess := NewSession("msg-1", "")
	registry.Register(sess)
	o.Run(context.Background(), &Generation{
		Session:   sess,
		Provider:  prov,
		Request:   req,
		Sink:      sink,
		MessageID: "msg-1",
		Model:     req.Model,
	})
	return sess
}

func TestRunCompletesStream(t *testing.T) {
	o, registry := newTestOrchestrator()
	sink := &recordSink{}
	prov := &echo.Provider{Delay: -1}

	sess := runGeneration(o, registry, prov, echoRequest("the quick brown fox"), sink)

	content, status := sink.final()
	if status != conv.StatusComplete {
		t.Fatalf("status = %q, want %q", status, conv.StatusComplete)
	}
	if content != "the quick brown fox" {
		t.Errorf("content = %q, want %q", content, "the quick brown fox")
	}
	if !sess.IsComplete() {
		t.Error("session not marked complete")
	}
}

func TestRunStopBeforeFirstDelta(t *testing.T) {
	o, registry := newTestOrchestrator()
	sink := &recordSink{}
	prov := &echo.Provider{Delay: time.Second}

	sess := NewSession("msg-1", "")
	registry.Register(sess)
	sess.Stop()

	o.Run(context.Background(), &Generation{
		Session:   sess,
		Provider:  prov,
		Request:   echoRequest("never delivered"),
		Sink:      sink,
		MessageID: "msg-1",
		Model:     "echo-1",
	})

	content, status := sink.final()
	if status != conv.StatusStopped {
		t.Fatalf("status = %q, want %q", status, conv.StatusStopped)
	}
	if content != conv.StoppedMarker {
		t.Errorf("content = %q, want bare stop marker", content)
	}
}

func TestRunStopMidStream(t *testing.T) {
	o, registry := newTestOrchestrator()
	sink := &recordSink{}
	prov := &echo.Provider{Delay: 5 * time.Millisecond}

	sess := NewSession("msg-1", "")
	registry.Register(sess)
	events, cancel := registry.Subscribe("msg-1")
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		o.Run(context.Background(), &Generation{
			Session:   sess,
			Provider:  prov,
			Request:   echoRequest("one two three four five six seven eight nine ten"),
			Sink:      sink,
			MessageID: "msg-1",
			Model:     "echo-1",
		})
	}()

	// Stop after the first delta arrives
	deadline := time.After(2 * time.Second)
	for stopped := false; !stopped; {
		select {
		case ev := <-events:
			if ev.Event == conv.SSEEventDelta {
				registry.StopAll("msg-1")
				stopped = true
			}
		case <-deadline:
			t.Fatal("no delta before deadline")
		}
	}
	<-done

	content, status := sink.final()
	if status != conv.StatusStopped {
		t.Fatalf("status = %q, want %q", status, conv.StatusStopped)
	}
	if !strings.HasSuffix(content, conv.StoppedMarker) {
		t.Errorf("content %q missing stop marker", content)
	}
	if !strings.HasPrefix(content, "one") {
		t.Errorf("content %q lost the applied prefix", content)
	}
}

func TestRunResumesAfterDrop(t *testing.T) {
	o, registry := newTestOrchestrator()
	sink := &recordSink{}
	prov := &echo.Provider{Delay: -1, FailAfter: 2}

	runGeneration(o, registry, prov, echoRequest("alpha beta gamma delta epsilon"), sink)

	content, status := sink.final()
	if status != conv.StatusComplete {
		t.Fatalf("status = %q, want %q", status, conv.StatusComplete)
	}
	// Resume must continue where the drop happened, without replaying
	// fragments already applied
	if content != "alpha beta gamma delta epsilon" {
		t.Errorf("content = %q, want the full text exactly once", content)
	}
	if !sink.sawStatus(conv.StatusResuming) {
		t.Error("resume path never persisted the resuming status")
	}
}

func TestRunRestartsNonResumableFromScratch(t *testing.T) {
	o, registry := newTestOrchestrator()
	sink := &recordSink{}
	prov := &scriptedProvider{
		scripts: [][]convSvc.Delta{
			// First attempt drops after a partial answer
			{{Text: "partial ", Sequence: 1}},
			// Second attempt completes
			{
				{Text: "whole", Sequence: 1},
				{Text: " answer", Sequence: 2},
				{Final: true, Sequence: 3},
			},
		},
	}

	runGeneration(o, registry, prov, echoRequest("ignored"), sink)

	content, status := sink.final()
	if status != conv.StatusComplete {
		t.Fatalf("status = %q, want %q", status, conv.StatusComplete)
	}
	if content != "whole answer" {
		t.Errorf("content = %q, want %q (partial text must be discarded)", content, "whole answer")
	}
	if got := prov.attemptCount(); got != 2 {
		t.Errorf("attempts = %d, want 2", got)
	}
}

func TestRunGivesUpAfterRepeatedDrops(t *testing.T) {
	o, registry := newTestOrchestrator()
	sink := &recordSink{}
	// Every attempt drops immediately
	prov := &scriptedProvider{scripts: [][]convSvc.Delta{{}, {}, {}, {}, {}, {}}}

	runGeneration(o, registry, prov, echoRequest("ignored"), sink)

	content, status := sink.final()
	if status != conv.StatusError {
		t.Fatalf("status = %q, want %q", status, conv.StatusError)
	}
	if content != conv.FailureText {
		t.Errorf("content = %q, want the failure text", content)
	}
	if got := prov.attemptCount(); got != maxRestarts+1 {
		t.Errorf("attempts = %d, want %d", got, maxRestarts+1)
	}
}

func TestRunRejectionIsNotRetried(t *testing.T) {
	o, registry := newTestOrchestrator()
	sink := &recordSink{}
	prov := &scriptedProvider{
		scripts: [][]convSvc.Delta{
			{{Err: fmt.Errorf("invalid api key: %w", domain.ErrProviderRejected)}},
		},
	}

	runGeneration(o, registry, prov, echoRequest("ignored"), sink)

	content, status := sink.final()
	if status != conv.StatusError {
		t.Fatalf("status = %q, want %q", status, conv.StatusError)
	}
	if content != conv.FailureText {
		t.Errorf("content = %q, want the failure text", content)
	}
	if got := prov.attemptCount(); got != 1 {
		t.Errorf("attempts = %d, want 1 (rejections must not retry)", got)
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{
			name: "transport error",
			err:  domain.TransportError{Provider: "echo", Err: errors.New("conn reset")},
			want: true,
		},
		{
			name: "wrapped transport error",
			err:  fmt.Errorf("open stream: %w", domain.TransportError{Provider: "echo", Err: errors.New("eof")}),
			want: true,
		},
		{
			name: "provider rejection",
			err:  fmt.Errorf("bad key: %w", domain.ErrProviderRejected),
			want: false,
		},
		{
			name: "validation error",
			err:  fmt.Errorf("empty prompt: %w", domain.ErrValidation),
			want: false,
		},
		{
			name: "plain error",
			err:  errors.New("something else"),
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isTransient(tt.err); got != tt.want {
				t.Errorf("isTransient(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
