package handler

import (
	"log/slog"
	"net/http"

	convSvc "arbor/internal/domain/services/conv"
	"arbor/internal/httputil"
)

// ChatHandler serves chat CRUD and transcript endpoints.
type ChatHandler struct {
	service convSvc.ChatService
	logger  *slog.Logger
}

func NewChatHandler(service convSvc.ChatService, logger *slog.Logger) *ChatHandler {
	return &ChatHandler{service: service, logger: logger}
}

// CreateChat handles POST /api/v1/chats
func (h *ChatHandler) CreateChat(w http.ResponseWriter, r *http.Request) {
	var req convSvc.CreateChatRequest
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	req.UserID = httputil.GetUserID(r)

	chat, err := h.service.CreateChat(r.Context(), &req)
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	httputil.RespondJSON(w, http.StatusCreated, chat)
}

// ListChats handles GET /api/v1/chats
func (h *ChatHandler) ListChats(w http.ResponseWriter, r *http.Request) {
	chats, err := h.service.ListChats(r.Context(), httputil.GetUserID(r))
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, map[string]interface{}{"chats": chats})
}

// GetChat handles GET /api/v1/chats/{id}
func (h *ChatHandler) GetChat(w http.ResponseWriter, r *http.Request) {
	chat, err := h.service.GetChat(r.Context(), r.PathValue("id"), httputil.GetUserID(r))
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, chat)
}

// UpdateChat handles PATCH /api/v1/chats/{id}
func (h *ChatHandler) UpdateChat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title string `json:"title"`
	}
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	chat, err := h.service.UpdateChatTitle(r.Context(), r.PathValue("id"), httputil.GetUserID(r), req.Title)
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, chat)
}

// DeleteChat handles DELETE /api/v1/chats/{id}
func (h *ChatHandler) DeleteChat(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteChat(r.Context(), r.PathValue("id"), httputil.GetUserID(r)); err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetTranscript handles GET /api/v1/chats/{id}/messages
func (h *ChatHandler) GetTranscript(w http.ResponseWriter, r *http.Request) {
	msgs, err := h.service.ActiveTranscript(r.Context(), r.PathValue("id"), httputil.GetUserID(r))
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, map[string]interface{}{"messages": msgs})
}

// SwitchBranch handles POST /api/v1/chats/{id}/branch
func (h *ChatHandler) SwitchBranch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		BranchID string `json:"branch_id"`
	}
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	chat, err := h.service.SwitchBranch(r.Context(), r.PathValue("id"), httputil.GetUserID(r), req.BranchID)
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, chat)
}
