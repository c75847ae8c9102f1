package streaming

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"arbor/internal/domain/models/conv"
)

// Session is the ephemeral per-generation control object. It is owned
// exclusively by the orchestrator, never persisted with the conversation.
//
// Cancellation is message-passing: Stop closes the stop channel and the
// generation loop selects on it between delta deliveries. The stopped flag
// only mirrors the channel for observability.
type Session struct {
	ID         string
	MessageID  string
	ResponseID string // set when this session drives one slot of a multi-model message

	stopOnce sync.Once
	stopCh   chan struct{}
	stopped  atomic.Bool
	complete atomic.Bool

	mu          sync.Mutex
	lastSeq     int
	resumeToken string
}

// NewSession creates a session for one generation of a message.
func NewSession(messageID, responseID string) *Session {
	return &Session{
		ID:         uuid.NewString(),
		MessageID:  messageID,
		ResponseID: responseID,
		stopCh:     make(chan struct{}),
	}
}

// Stop requests cooperative cancellation. Safe to call more than once.
func (s *Session) Stop() {
	s.stopOnce.Do(func() {
		s.stopped.Store(true)
		close(s.stopCh)
	})
}

// StopC returns the channel closed when a stop was requested.
func (s *Session) StopC() <-chan struct{} { return s.stopCh }

// IsStopped reports whether a stop was requested.
func (s *Session) IsStopped() bool { return s.stopped.Load() }

// MarkComplete flags the session as finished.
func (s *Session) MarkComplete() { s.complete.Store(true) }

// IsComplete reports whether generation has finished.
func (s *Session) IsComplete() bool { return s.complete.Load() }

// RecordProgress stores the last applied delta sequence and resume token.
func (s *Session) RecordProgress(seq int, resumeToken string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq > s.lastSeq {
		s.lastSeq = seq
	}
	if resumeToken != "" {
		s.resumeToken = resumeToken
	}
}

// Progress returns the last applied sequence number and resume token.
func (s *Session) Progress() (int, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeq, s.resumeToken
}

// ResetProgress clears resume state before a restart-from-scratch.
func (s *Session) ResetProgress() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSeq = 0
	s.resumeToken = ""
}

// Registry tracks live sessions and fans stream events out to SSE
// subscribers. Sessions are registered before the generation goroutine
// starts so clients can connect without racing the stream.
type Registry struct {
	mu          sync.RWMutex
	sessions    map[string][]*Session // message id -> sessions (N in multi-model mode)
	subscribers map[string]map[int]chan conv.StreamEvent
	nextSubID   int
	retention   time.Duration
}

// NewRegistry creates a session registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions:    make(map[string][]*Session),
		subscribers: make(map[string]map[int]chan conv.StreamEvent),
		retention:   30 * time.Second,
	}
}

// Register adds a session for its message.
func (r *Registry) Register(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.MessageID] = append(r.sessions[s.MessageID], s)
}

// Sessions returns the live sessions of a message.
func (r *Registry) Sessions(messageID string) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, len(r.sessions[messageID]))
	copy(out, r.sessions[messageID])
	return out
}

// StopAll requests cancellation of every session of a message. Returns the
// number of sessions signalled.
func (r *Registry) StopAll(messageID string) int {
	for _, s := range r.Sessions(messageID) {
		s.Stop()
	}
	return len(r.Sessions(messageID))
}

// Release removes a finished session after a retention window, giving
// late SSE subscribers a chance to observe the terminal event.
func (r *Registry) Release(s *Session) {
	time.AfterFunc(r.retention, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		kept := r.sessions[s.MessageID][:0]
		for _, other := range r.sessions[s.MessageID] {
			if other != s {
				kept = append(kept, other)
			}
		}
		if len(kept) == 0 {
			delete(r.sessions, s.MessageID)
		} else {
			r.sessions[s.MessageID] = kept
		}
	})
}

// Subscribe attaches an SSE client to a message's event feed. The returned
// cancel func must be called when the client disconnects.
func (r *Registry) Subscribe(messageID string) (<-chan conv.StreamEvent, func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.subscribers[messageID] == nil {
		r.subscribers[messageID] = make(map[int]chan conv.StreamEvent)
	}
	id := r.nextSubID
	r.nextSubID++

	ch := make(chan conv.StreamEvent, 64)
	r.subscribers[messageID][id] = ch

	cancel := func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if sub, ok := r.subscribers[messageID][id]; ok {
			delete(r.subscribers[messageID], id)
			close(sub)
			if len(r.subscribers[messageID]) == 0 {
				delete(r.subscribers, messageID)
			}
		}
	}
	return ch, cancel
}

// Publish broadcasts an event to every subscriber of a message. Slow
// subscribers drop events rather than block the generation loop; the
// catchup path recovers the full content from the store.
func (r *Registry) Publish(messageID string, ev conv.StreamEvent) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, ch := range r.subscribers[messageID] {
		select {
		case ch <- ev:
		default:
		}
	}
}
