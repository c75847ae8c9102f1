// Package scheduler runs deferred one-shot jobs, like generating a chat
// title shortly after the first exchange settles.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type Scheduler struct {
	logger *slog.Logger

	mu     sync.Mutex
	timers map[string]*time.Timer
	closed bool
}

func New(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		logger: logger,
		timers: make(map[string]*time.Timer),
	}
}

// Schedule runs fn after delay. A second schedule under the same key
// replaces the pending one, so rapid repeat triggers coalesce.
func (s *Scheduler) Schedule(key string, delay time.Duration, fn func(ctx context.Context)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if t, ok := s.timers[key]; ok {
		t.Stop()
	}
	s.timers[key] = time.AfterFunc(delay, func() {
		s.mu.Lock()
		delete(s.timers, key)
		s.mu.Unlock()

		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("scheduled job panicked", "key", key, "panic", r)
			}
		}()
		fn(context.Background())
	})
}

// Cancel drops a pending job if it has not fired yet.
func (s *Scheduler) Cancel(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[key]; ok {
		t.Stop()
		delete(s.timers, key)
	}
}

// Close cancels everything pending; fired jobs keep running.
func (s *Scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for key, t := range s.timers {
		t.Stop()
		delete(s.timers, key)
	}
}
