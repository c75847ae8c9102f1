package handler

import (
	"log/slog"
	"net/http"
	"sort"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"arbor/internal/credentials"
	"arbor/internal/domain"
	"arbor/internal/domain/models/conv"
	"arbor/internal/httputil"
)

// CredentialsHandler manages per-user provider API keys. Keys are
// never returned in full; listings carry a masked suffix only.
type CredentialsHandler struct {
	store  credentials.UserKeyStore
	logger *slog.Logger
}

func NewCredentialsHandler(store credentials.UserKeyStore, logger *slog.Logger) *CredentialsHandler {
	return &CredentialsHandler{store: store, logger: logger}
}

type storedKeyResponse struct {
	Provider  string `json:"provider"`
	MaskedKey string `json:"masked_key"`
}

type setKeyRequest struct {
	Key string `json:"key"`
}

func (r setKeyRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Key, validation.Required, validation.Length(8, 512)),
	)
}

// ListKeys handles GET /api/v1/users/me/credentials
func (h *CredentialsHandler) ListKeys(w http.ResponseWriter, r *http.Request) {
	userID := httputil.GetUserID(r)
	if userID == "" {
		httputil.RespondError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	keys, err := h.store.GetProviderKeys(r.Context(), userID)
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}

	out := make([]storedKeyResponse, 0, len(keys))
	for provider, key := range keys {
		out = append(out, storedKeyResponse{Provider: provider, MaskedKey: maskKey(key)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	httputil.RespondJSON(w, http.StatusOK, map[string]interface{}{"credentials": out})
}

// SetKey handles PUT /api/v1/users/me/credentials/{provider}
func (h *CredentialsHandler) SetKey(w http.ResponseWriter, r *http.Request) {
	userID := httputil.GetUserID(r)
	if userID == "" {
		httputil.RespondError(w, http.StatusUnauthorized, "Authentication required")
		return
	}
	provider := r.PathValue("provider")
	if !knownProvider(provider) {
		respondServiceError(w, h.logger, domain.ErrUnknownProvider)
		return
	}

	var req setKeyRequest
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.store.SetProviderKey(r.Context(), userID, provider, strings.TrimSpace(req.Key)); err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, storedKeyResponse{Provider: provider, MaskedKey: maskKey(req.Key)})
}

// DeleteKey handles DELETE /api/v1/users/me/credentials/{provider}
func (h *CredentialsHandler) DeleteKey(w http.ResponseWriter, r *http.Request) {
	userID := httputil.GetUserID(r)
	if userID == "" {
		httputil.RespondError(w, http.StatusUnauthorized, "Authentication required")
		return
	}
	provider := r.PathValue("provider")
	if !knownProvider(provider) {
		respondServiceError(w, h.logger, domain.ErrUnknownProvider)
		return
	}

	if err := h.store.DeleteProviderKey(r.Context(), userID, provider); err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func maskKey(key string) string {
	key = strings.TrimSpace(key)
	if len(key) <= 4 {
		return "****"
	}
	return "****" + key[len(key)-4:]
}

func knownProvider(name string) bool {
	switch name {
	case conv.ProviderAnthropic, conv.ProviderOpenAI, conv.ProviderGoogle:
		return true
	}
	return false
}
