package handler

import (
	"log/slog"
	"net/http"
	"sort"

	"arbor/internal/capabilities"
	"arbor/internal/httputil"
)

// ModelsHandler exposes the capability registry to clients so model
// pickers can be driven by the server's configuration.
type ModelsHandler struct {
	registry *capabilities.Registry
	logger   *slog.Logger
}

func NewModelsHandler(registry *capabilities.Registry, logger *slog.Logger) *ModelsHandler {
	return &ModelsHandler{registry: registry, logger: logger}
}

type providerCapabilitiesResponse struct {
	Provider     string                         `json:"provider"`
	Resumable    bool                           `json:"resumable"`
	NativeSearch bool                           `json:"native_search"`
	Models       []capabilities.ModelCapabilities `json:"models"`
}

// GetCapabilities handles GET /api/v1/models/capabilities
func (h *ModelsHandler) GetCapabilities(w http.ResponseWriter, r *http.Request) {
	providers := h.registry.GetAllProviders()
	sort.Strings(providers)

	out := make([]providerCapabilitiesResponse, 0, len(providers))
	for _, name := range providers {
		models, err := h.registry.ListProviderModels(name)
		if err != nil {
			continue
		}
		out = append(out, providerCapabilitiesResponse{
			Provider:     name,
			Resumable:    h.registry.IsResumable(name),
			NativeSearch: h.registry.HasNativeSearch(name),
			Models:       models,
		})
	}
	httputil.RespondJSON(w, http.StatusOK, map[string]interface{}{"providers": out})
}
