package streaming

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"arbor/internal/domain"
	"arbor/internal/domain/models/conv"
	convSvc "arbor/internal/domain/services/conv"
)

const (
	// maxRestarts bounds recovery attempts after transport drops, whether
	// resumed or restarted from scratch
	maxRestarts = 3

	restartBackoff = 500 * time.Millisecond
)

// Sink persists the accumulated content of one generation. The single
// message path patches the message row; the multi-model path writes into
// one response slot.
type Sink interface {
	// Persist writes the full accumulated content with the given status.
	// streaming is false only on terminal persists.
	Persist(ctx context.Context, content, status string, streaming bool) error
}

// Generation describes one streaming run against a provider.
type Generation struct {
	Session  *Session
	Provider convSvc.Provider
	Request  *convSvc.GenerateRequest
	Sink     Sink

	// MessageID keys the SSE feed; ResponseID is set in multi-model mode
	MessageID  string
	ResponseID string
	Model      string
}

// Orchestrator drives generations through their lifecycle: streaming,
// user stop, transport recovery by resume or restart, and terminal
// persistence. Cancellation is cooperative: the loop selects between the
// session's stop channel and the provider's delta channel, so a stop
// takes effect at the next delta boundary and never tears mid-write.
type Orchestrator struct {
	registry *Registry
	logger   *slog.Logger
	backoff  time.Duration
}

func NewOrchestrator(registry *Registry, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		registry: registry,
		logger:   logger,
		backoff:  restartBackoff,
	}
}

// Run executes one generation to a terminal state. It blocks; callers
// run it in a goroutine. The session must already be registered.
func (o *Orchestrator) Run(ctx context.Context, gen *Generation) {
	defer gen.Session.MarkComplete()
	defer o.registry.Release(gen.Session)

	o.registry.Publish(gen.MessageID, conv.StreamEvent{
		Event: conv.SSEEventStart,
		Data: conv.StartEvent{
			MessageID:  gen.MessageID,
			Model:      gen.Model,
			ResponseID: gen.ResponseID,
		},
	})

	accumulated := ""
	restarts := 0

	for {
		ch, cancel, err := o.open(ctx, gen, accumulated)
		if err != nil {
			if isTransient(err) && restarts < maxRestarts {
				restarts++
				o.logger.Warn("stream open failed, retrying",
					"message_id", gen.MessageID,
					"attempt", restarts,
					"error", err)
				if !o.sleep(ctx, gen.Session) {
					o.finishStopped(ctx, gen, accumulated)
					return
				}
				continue
			}
			o.finishError(ctx, gen, accumulated, err)
			return
		}

		outcome, text := o.consume(ctx, gen, ch, accumulated)
		cancel()
		accumulated = text

		switch outcome {
		case outcomeComplete:
			o.finishComplete(ctx, gen, accumulated)
			return
		case outcomeStopped:
			o.finishStopped(ctx, gen, accumulated)
			return
		case outcomeRejected:
			o.finishError(ctx, gen, accumulated, errLastRejection)
			return
		case outcomeDropped:
			if restarts >= maxRestarts {
				o.finishError(ctx, gen, accumulated, errors.New("transport failed repeatedly"))
				return
			}
			restarts++
			if !o.resumable(gen) {
				// Restart from scratch: discard the partial answer
				accumulated = ""
				gen.Session.ResetProgress()
			}
			o.logger.Warn("stream dropped, recovering",
				"message_id", gen.MessageID,
				"attempt", restarts,
				"resuming", o.resumable(gen))
			if !o.sleep(ctx, gen.Session) {
				o.finishStopped(ctx, gen, accumulated)
				return
			}
		}
	}
}

// open starts a fresh stream, or resumes the dropped one when the
// provider supports it and progress was recorded.
func (o *Orchestrator) open(ctx context.Context, gen *Generation, accumulated string) (<-chan convSvc.Delta, context.CancelFunc, error) {
	provCtx, cancel := context.WithCancel(ctx)

	lastSeq, token := gen.Session.Progress()
	if token != "" && gen.Provider.SupportsResume() && accumulated != "" {
		_ = gen.Sink.Persist(ctx, accumulated, conv.StatusResuming, true)
		ch, err := gen.Provider.Resume(provCtx, &convSvc.ResumeRequest{
			Request:         gen.Request,
			ResumeToken:     token,
			LastSequence:    lastSeq,
			AccumulatedText: accumulated,
		})
		if err == nil {
			return ch, cancel, nil
		}
		if !errors.Is(err, domain.ErrResumeUnsupported) {
			cancel()
			return nil, nil, err
		}
		// Fall through to a fresh stream
	}

	ch, err := gen.Provider.Stream(provCtx, gen.Request)
	if err != nil {
		cancel()
		return nil, nil, err
	}
	return ch, cancel, nil
}

type outcome int

const (
	outcomeComplete outcome = iota
	outcomeStopped
	outcomeDropped
	outcomeRejected
)

var errLastRejection = errors.New("provider rejected the request")

// consume applies deltas in emission order until the stream ends, the
// user stops, or transport fails. It returns the accumulated text so far.
func (o *Orchestrator) consume(ctx context.Context, gen *Generation, ch <-chan convSvc.Delta, accumulated string) (outcome, string) {
	lastSeq, _ := gen.Session.Progress()

	for {
		select {
		case <-gen.Session.StopC():
			return outcomeStopped, accumulated

		case <-ctx.Done():
			return outcomeStopped, accumulated

		case d, ok := <-ch:
			if !ok {
				// Closed without a terminal delta
				return outcomeDropped, accumulated
			}
			if d.Err != nil {
				if isTransient(d.Err) {
					return outcomeDropped, accumulated
				}
				o.logger.Error("provider rejected generation",
					"message_id", gen.MessageID,
					"error", d.Err)
				return outcomeRejected, accumulated
			}
			if d.Final {
				gen.Session.RecordProgress(d.Sequence, d.ResumeToken)
				return outcomeComplete, accumulated
			}
			if d.Sequence != 0 && d.Sequence <= lastSeq {
				// Replayed fragment from a resume; already applied
				continue
			}

			accumulated += d.Text
			if err := gen.Sink.Persist(ctx, accumulated, conv.StatusStreaming, true); err != nil {
				o.logger.Error("persist delta failed",
					"message_id", gen.MessageID,
					"error", err)
			}
			lastSeq = d.Sequence
			gen.Session.RecordProgress(d.Sequence, d.ResumeToken)

			o.registry.Publish(gen.MessageID, conv.StreamEvent{
				Event: conv.SSEEventDelta,
				Data: conv.DeltaEvent{
					MessageID:  gen.MessageID,
					ResponseID: gen.ResponseID,
					Sequence:   d.Sequence,
					Text:       d.Text,
					Citations:  d.Citations,
				},
			})
		}
	}
}

func (o *Orchestrator) resumable(gen *Generation) bool {
	_, token := gen.Session.Progress()
	return gen.Provider.SupportsResume() && token != ""
}

// sleep waits the backoff between recovery attempts, aborting early on a
// stop request. Returns false when the wait was interrupted.
func (o *Orchestrator) sleep(ctx context.Context, s *Session) bool {
	select {
	case <-time.After(o.backoff):
		return true
	case <-s.StopC():
		return false
	case <-ctx.Done():
		return false
	}
}

func (o *Orchestrator) finishComplete(ctx context.Context, gen *Generation, content string) {
	if err := gen.Sink.Persist(ctx, content, conv.StatusComplete, false); err != nil {
		o.logger.Error("persist completion failed",
			"message_id", gen.MessageID,
			"error", err)
	}
	o.registry.Publish(gen.MessageID, conv.StreamEvent{
		Event: conv.SSEEventComplete,
		Data: conv.CompleteEvent{
			MessageID:  gen.MessageID,
			ResponseID: gen.ResponseID,
			Model:      gen.Model,
			Content:    content,
		},
	})
	o.logger.Info("generation complete",
		"message_id", gen.MessageID,
		"model", gen.Model,
		"chars", len(content))
}

// finishStopped truncates cleanly at the last applied delta and appends
// the visible marker. Stopped is a valid terminal state, not an error.
func (o *Orchestrator) finishStopped(ctx context.Context, gen *Generation, content string) {
	content += conv.StoppedMarker
	if err := gen.Sink.Persist(ctx, content, conv.StatusStopped, false); err != nil {
		o.logger.Error("persist stop failed",
			"message_id", gen.MessageID,
			"error", err)
	}
	o.registry.Publish(gen.MessageID, conv.StreamEvent{
		Event: conv.SSEEventStopped,
		Data: conv.StoppedEvent{
			MessageID:  gen.MessageID,
			ResponseID: gen.ResponseID,
			Content:    content,
		},
	})
	o.logger.Info("generation stopped by user", "message_id", gen.MessageID)
}

// finishError replaces the content with the apology text so the client
// always has something renderable, and records the error status.
func (o *Orchestrator) finishError(ctx context.Context, gen *Generation, content string, cause error) {
	_ = content
	if err := gen.Sink.Persist(ctx, conv.FailureText, conv.StatusError, false); err != nil {
		o.logger.Error("persist failure state failed",
			"message_id", gen.MessageID,
			"error", err)
	}
	o.registry.Publish(gen.MessageID, conv.StreamEvent{
		Event: conv.SSEEventError,
		Data: conv.ErrorEvent{
			MessageID:  gen.MessageID,
			ResponseID: gen.ResponseID,
			Error:      cause.Error(),
		},
	})
	o.logger.Error("generation failed",
		"message_id", gen.MessageID,
		"model", gen.Model,
		"error", cause)
}

// isTransient separates transport failures, which are recoverable, from
// provider rejections, which are not.
func isTransient(err error) bool {
	if errors.Is(err, domain.ErrProviderRejected) || errors.Is(err, domain.ErrValidation) {
		return false
	}
	var te domain.TransportError
	return errors.As(err, &te)
}
