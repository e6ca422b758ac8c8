package handlers

import (
	"net/http"
	"strings"

	"github.com/mihaisavezi/gigachat-proxy/internal/config"
	"github.com/mihaisavezi/gigachat-proxy/internal/gigachat"
	"github.com/mihaisavezi/gigachat-proxy/internal/providers"
)

// ModelsHandler lists the configured vendor models followed by every known
// provider deployment.
type ModelsHandler struct {
	config   *config.Manager
	registry *providers.Registry
}

func NewModelsHandler(cfg *config.Manager, registry *providers.Registry) *ModelsHandler {
	return &ModelsHandler{config: cfg, registry: registry}
}

func (h *ModelsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", "invalid_request_error")
		return
	}
	writeJSON(w, http.StatusOK, h.List())
}

func (h *ModelsHandler) List() gigachat.ModelList {
	list := gigachat.ModelList{Object: "list", Data: []gigachat.Model{}}
	seen := make(map[string]bool)

	for _, id := range h.config.Get().Models {
		if id == "" || seen[strings.ToLower(id)] {
			continue
		}
		seen[strings.ToLower(id)] = true
		list.Data = append(list.Data, gigachat.Model{ID: id, Object: "model", OwnedBy: "gigachat"})
	}

	if h.registry != nil {
		for _, d := range h.registry.Deployments() {
			if seen[strings.ToLower(d.ModelName)] {
				continue
			}
			seen[strings.ToLower(d.ModelName)] = true
			list.Data = append(list.Data, gigachat.Model{ID: d.ModelName, Object: "model", OwnedBy: d.Provider})
		}
	}

	return list
}
