// Package multi fans one logical assistant turn out to several models in
// parallel and coordinates the resulting response slots: primary
// selection, slot deletion floors, and the resolved transition of the
// parent message.
package multi

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"arbor/internal/domain"
	"arbor/internal/domain/models/conv"
	"arbor/internal/domain/repositories"
	convSvc "arbor/internal/domain/services/conv"
	"arbor/internal/service/streaming"
)

// Coordinator owns every write to a multi-model message aggregate. Slot
// streams, finalization and user actions (primary switch, slot deletion)
// all re-read the stored row under one lock and write the patched
// aggregate back, so a user action landing mid-stream is never reverted
// by a stale copy held by a streaming goroutine.
type Coordinator struct {
	msgRepo      repositories.MessageRepository
	orchestrator *streaming.Orchestrator
	registry     *streaming.Registry
	logger       *slog.Logger

	mu sync.Mutex
}

func NewCoordinator(msgRepo repositories.MessageRepository, orchestrator *streaming.Orchestrator, registry *streaming.Registry, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		msgRepo:      msgRepo,
		orchestrator: orchestrator,
		registry:     registry,
		logger:       logger,
	}
}

// Initialize attaches an empty multi-response block to the assistant
// message. The first slot is primary until the user picks another.
func Initialize(msg *conv.Message, models []string) error {
	if len(models) < conv.MinModels || len(models) > conv.MaxModels {
		return fmt.Errorf("%d models selected, need %d to %d: %w",
			len(models), conv.MinModels, conv.MaxModels, domain.ErrInvalidModelCount)
	}

	multi := &conv.MultiResponse{SelectedModels: models}
	now := time.Now()
	for i, model := range models {
		slot := conv.ResponseSlot{
			ID:        uuid.NewString(),
			Model:     model,
			IsPrimary: i == 0,
			CreatedAt: now,
		}
		if slot.IsPrimary {
			multi.PrimaryResponseID = slot.ID
		}
		multi.Responses = append(multi.Responses, slot)
	}
	msg.Multi = multi
	return nil
}

// SlotRun pairs one response slot with its provider and request.
type SlotRun struct {
	ResponseID string
	Model      string
	Provider   convSvc.Provider
	Request    *convSvc.GenerateRequest
	Session    *streaming.Session
}

// Run streams every slot concurrently and blocks until all reach a
// terminal state, then marks the parent message resolved. A slot failure
// never cancels its siblings. The caller keeps its own copy of the
// message; Run works against the stored row only.
func (c *Coordinator) Run(ctx context.Context, messageID string, runs []SlotRun) {
	g := new(errgroup.Group)
	for _, run := range runs {
		run := run
		g.Go(func() error {
			c.orchestrator.Run(ctx, &streaming.Generation{
				Session:    run.Session,
				Provider:   run.Provider,
				Request:    run.Request,
				Sink:       &slotSink{coordinator: c, messageID: messageID, responseID: run.ResponseID},
				MessageID:  messageID,
				ResponseID: run.ResponseID,
				Model:      run.Model,
			})
			return nil
		})
	}
	_ = g.Wait()

	if err := c.finalize(ctx, messageID); err != nil {
		c.logger.Error("finalize multi-model message failed",
			"message_id", messageID,
			"error", err)
	}
}

// finalize flips the parent out of streaming once every live slot has
// settled, deriving the message status from the surviving content.
func (c *Coordinator) finalize(ctx context.Context, messageID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	msg, err := c.msgRepo.GetMessage(ctx, messageID)
	if err != nil {
		return err
	}
	msg.IsStreaming = false

	anyUsable := false
	for i := range msg.Multi.Responses {
		slot := &msg.Multi.Responses[i]
		if !slot.IsDeleted && slot.Content != "" && slot.Content != conv.FailureText {
			anyUsable = true
			break
		}
	}
	if anyUsable {
		msg.Status = conv.StatusComplete
	} else {
		msg.Status = conv.StatusError
	}

	if primary := msg.Multi.Primary(); primary != nil {
		msg.Content = primary.Content
		if strings.HasSuffix(primary.Content, conv.StoppedMarker) {
			msg.Status = conv.StatusStopped
		}
	}
	if err := c.msgRepo.UpdateMessage(ctx, msg); err != nil {
		return err
	}

	// Aggregate terminal event, distinct from the per-slot events that
	// carried a response id
	switch msg.Status {
	case conv.StatusComplete:
		c.registry.Publish(msg.ID, conv.StreamEvent{
			Event: conv.SSEEventComplete,
			Data:  conv.CompleteEvent{MessageID: msg.ID, Content: msg.Content},
		})
	case conv.StatusStopped:
		c.registry.Publish(msg.ID, conv.StreamEvent{
			Event: conv.SSEEventStopped,
			Data:  conv.StoppedEvent{MessageID: msg.ID, Content: msg.Content},
		})
	default:
		c.registry.Publish(msg.ID, conv.StreamEvent{
			Event: conv.SSEEventError,
			Data:  conv.ErrorEvent{MessageID: msg.ID, Error: "all responses failed"},
		})
	}
	return nil
}

// SetPrimary moves the primary flag to another live slot and mirrors its
// content onto the parent message. Safe to call while slots are still
// streaming; subsequent slot writes see the new flag.
func (c *Coordinator) SetPrimary(ctx context.Context, messageID, responseID string) (*conv.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	msg, err := c.msgRepo.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg.Multi == nil {
		return nil, fmt.Errorf("message %s has no multi-model responses: %w", msg.ID, domain.ErrResponseNotFound)
	}
	slot := msg.Multi.Slot(responseID)
	if slot == nil || slot.IsDeleted {
		return nil, fmt.Errorf("response %s: %w", responseID, domain.ErrResponseNotFound)
	}

	for i := range msg.Multi.Responses {
		msg.Multi.Responses[i].IsPrimary = false
	}
	slot.IsPrimary = true
	msg.Multi.PrimaryResponseID = slot.ID
	msg.Content = slot.Content
	msg.Model = slot.Model
	if err := c.msgRepo.UpdateMessage(ctx, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// DeleteResponse soft-deletes one slot, refusing to go below the survivor
// floor. Deleting the primary promotes the first remaining live slot.
func (c *Coordinator) DeleteResponse(ctx context.Context, messageID, responseID string) (*conv.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	msg, err := c.msgRepo.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg.Multi == nil {
		return nil, fmt.Errorf("message %s has no multi-model responses: %w", msg.ID, domain.ErrResponseNotFound)
	}
	slot := msg.Multi.Slot(responseID)
	if slot == nil || slot.IsDeleted {
		return nil, fmt.Errorf("response %s: %w", responseID, domain.ErrResponseNotFound)
	}
	if msg.Multi.LiveCount() <= conv.MinResponses {
		return nil, fmt.Errorf("cannot delete below %d responses: %w", conv.MinResponses, domain.ErrMinimumResponses)
	}

	wasPrimary := slot.IsPrimary
	slot.IsDeleted = true
	slot.IsPrimary = false

	if wasPrimary {
		for i := range msg.Multi.Responses {
			s := &msg.Multi.Responses[i]
			if !s.IsDeleted {
				s.IsPrimary = true
				msg.Multi.PrimaryResponseID = s.ID
				msg.Content = s.Content
				msg.Model = s.Model
				break
			}
		}
	}
	if err := c.msgRepo.UpdateMessage(ctx, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// slotSink persists one slot's accumulated content. Every write re-reads
// the stored aggregate under the coordinator lock and patches only its
// own slot, so concurrent slots and concurrent user actions never
// clobber each other's fields.
type slotSink struct {
	coordinator *Coordinator
	messageID   string
	responseID  string
}

func (s *slotSink) Persist(ctx context.Context, content, status string, streaming bool) error {
	c := s.coordinator
	c.mu.Lock()
	defer c.mu.Unlock()

	msg, err := c.msgRepo.GetMessage(ctx, s.messageID)
	if err != nil {
		return err
	}
	slot := msg.Multi.Slot(s.responseID)
	if slot == nil {
		return fmt.Errorf("response %s: %w", s.responseID, domain.ErrResponseNotFound)
	}
	slot.Content = content

	if slot.IsPrimary {
		msg.Content = content
		msg.Status = status
	}
	return c.msgRepo.UpdateMessage(ctx, msg)
}
