package handler

import (
	"log/slog"
	"net/http"

	"arbor/internal/domain/models/conv"
	convSvc "arbor/internal/domain/services/conv"
	"arbor/internal/handler/sse"
	"arbor/internal/httputil"
	"arbor/internal/service/streaming"
)

// StreamHandler serves the per-message SSE feed. Clients subscribe before
// the catchup snapshot is taken, so no delta can fall between snapshot
// and live events; duplicates are resolved client-side because catchup
// carries full content.
type StreamHandler struct {
	service  convSvc.ChatService
	registry *streaming.Registry
	config   *sse.Config
	logger   *slog.Logger
}

func NewStreamHandler(service convSvc.ChatService, registry *streaming.Registry, config *sse.Config, logger *slog.Logger) *StreamHandler {
	if config == nil {
		config = sse.DefaultConfig()
	}
	return &StreamHandler{
		service:  service,
		registry: registry,
		config:   config,
		logger:   logger,
	}
}

// Stream handles GET /api/v1/messages/{id}/stream
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	messageID := r.PathValue("id")
	userID := httputil.GetUserID(r)

	events, cancel := h.registry.Subscribe(messageID)
	defer cancel()

	// One fetch covers both the ownership check and the catchup snapshot.
	// It runs after subscribing, so anything persisted before this point
	// is in the snapshot and anything after arrives as a live event
	msg, err := h.service.GetMessage(r.Context(), messageID, userID)
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}

	writer, err := sse.NewWriter(w)
	if err != nil {
		httputil.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	if err := writer.WriteEvent(conv.SSEEventCatchup, conv.CatchupEvent{
		MessageID: msg.ID,
		Content:   msg.Content,
		Status:    msg.Status,
	}); err != nil {
		return
	}

	if terminal(msg) {
		h.writeTerminal(writer, msg)
		return
	}

	keepAlive := sse.NewTickerKeepAlive(h.config.KeepAliveInterval)
	kaDone := keepAlive.Start(writer, h.logger)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-kaDone:
			// Connection health check failed
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := writer.WriteEvent(ev.Event, ev.Data); err != nil {
				h.logger.Debug("SSE write failed, client gone",
					"message_id", messageID, "error", err)
				return
			}
			if isTerminalEvent(ev) {
				return
			}
		}
	}
}

// terminal reports whether a message has settled with no live sessions.
func terminal(msg *conv.Message) bool {
	if msg.IsStreaming {
		return false
	}
	switch msg.Status {
	case conv.StatusComplete, conv.StatusStopped, conv.StatusError:
		return true
	}
	return false
}

func (h *StreamHandler) writeTerminal(writer *sse.Writer, msg *conv.Message) {
	switch msg.Status {
	case conv.StatusStopped:
		_ = writer.WriteEvent(conv.SSEEventStopped, conv.StoppedEvent{
			MessageID: msg.ID,
			Content:   msg.Content,
		})
	case conv.StatusError:
		_ = writer.WriteEvent(conv.SSEEventError, conv.ErrorEvent{
			MessageID: msg.ID,
			Error:     "generation failed",
		})
	default:
		_ = writer.WriteEvent(conv.SSEEventComplete, conv.CompleteEvent{
			MessageID: msg.ID,
			Model:     msg.Model,
			Content:   msg.Content,
		})
	}
}

// isTerminalEvent reports whether an event ends the stream. Per-slot
// completions of a multi-model message carry a response id and keep the
// stream open; the aggregate terminal events do not.
func isTerminalEvent(ev conv.StreamEvent) bool {
	switch data := ev.Data.(type) {
	case conv.CompleteEvent:
		return data.ResponseID == ""
	case conv.StoppedEvent:
		return data.ResponseID == ""
	case conv.ErrorEvent:
		return data.ResponseID == ""
	}
	return false
}
