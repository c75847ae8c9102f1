package handler

import (
	"log/slog"
	"net/http"

	convSvc "arbor/internal/domain/services/conv"
	"arbor/internal/httputil"
)

// MessageHandler serves message-level operations: sending, editing,
// retrying, stopping, deleting, and multi-response coordination.
type MessageHandler struct {
	service convSvc.ChatService
	logger  *slog.Logger
}

func NewMessageHandler(service convSvc.ChatService, logger *slog.Logger) *MessageHandler {
	return &MessageHandler{service: service, logger: logger}
}

// SendMessage handles POST /api/v1/chats/{id}/messages. A request with a
// models array fans out to multiple providers.
func (h *MessageHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req convSvc.SendMessageRequest
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	req.ChatID = r.PathValue("id")
	req.UserID = httputil.GetUserID(r)

	resp, err := h.service.SendMessage(r.Context(), &req)
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	httputil.RespondJSON(w, http.StatusAccepted, resp)
}

// EditMessage handles POST /api/v1/messages/{id}/edit
func (h *MessageHandler) EditMessage(w http.ResponseWriter, r *http.Request) {
	var req convSvc.EditMessageRequest
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	req.MessageID = r.PathValue("id")
	req.UserID = httputil.GetUserID(r)

	resp, err := h.service.EditMessage(r.Context(), &req)
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, resp)
}

// Retry handles POST /api/v1/messages/{id}/retry
func (h *MessageHandler) Retry(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Model string `json:"model"`
	}
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := h.service.Retry(r.Context(), r.PathValue("id"), httputil.GetUserID(r), req.Model)
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	httputil.RespondJSON(w, http.StatusAccepted, resp)
}

// Stop handles POST /api/v1/messages/{id}/stop
func (h *MessageHandler) Stop(w http.ResponseWriter, r *http.Request) {
	if err := h.service.StopStreaming(r.Context(), r.PathValue("id"), httputil.GetUserID(r)); err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Delete handles DELETE /api/v1/messages/{id}?mode=from_here|all_after
func (h *MessageHandler) Delete(w http.ResponseWriter, r *http.Request) {
	mode := r.URL.Query().Get("mode")

	result, err := h.service.DeleteMessage(r.Context(), r.PathValue("id"), httputil.GetUserID(r), mode)
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, result)
}

// SwitchVersion handles POST /api/v1/messages/{id}/version
func (h *MessageHandler) SwitchVersion(w http.ResponseWriter, r *http.Request) {
	var req struct {
		VersionID string `json:"version_id"`
	}
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	msg, err := h.service.SwitchVersion(r.Context(), r.PathValue("id"), httputil.GetUserID(r), req.VersionID)
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, msg)
}

// SetPrimaryResponse handles POST /api/v1/messages/{id}/responses/{responseID}/primary
func (h *MessageHandler) SetPrimaryResponse(w http.ResponseWriter, r *http.Request) {
	msg, err := h.service.SetPrimaryResponse(r.Context(),
		r.PathValue("id"), httputil.GetUserID(r), r.PathValue("responseID"))
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, msg)
}

// DeleteResponse handles DELETE /api/v1/messages/{id}/responses/{responseID}
func (h *MessageHandler) DeleteResponse(w http.ResponseWriter, r *http.Request) {
	msg, err := h.service.DeleteResponse(r.Context(),
		r.PathValue("id"), httputil.GetUserID(r), r.PathValue("responseID"))
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, msg)
}
