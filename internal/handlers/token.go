package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/mihaisavezi/gigachat-proxy/internal/token"
	"github.com/mihaisavezi/gigachat-proxy/internal/transform"
)

// TokenStore is the part of *token.Store the token endpoints use.
type TokenStore interface {
	Get(ctx context.Context, force bool) (token.Credential, error)
	Info() token.Info
}

// TokenHandler serves GET /token/info and POST /token/refresh.
type TokenHandler struct {
	store  TokenStore
	logger *slog.Logger
}

func NewTokenHandler(store TokenStore, logger *slog.Logger) *TokenHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &TokenHandler{store: store, logger: logger}
}

// RefreshResult is the body of POST /token/refresh.
type RefreshResult struct {
	Success   bool       `json:"success"`
	Error     string     `json:"error,omitempty"`
	Preview   string     `json:"token_preview,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Info      token.Info `json:"info"`
}

func (h *TokenHandler) Info(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", "invalid_request_error")
		return
	}
	writeJSON(w, http.StatusOK, h.store.Info())
}

func (h *TokenHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", "invalid_request_error")
		return
	}

	cred, err := h.store.Get(r.Context(), true)
	if err != nil {
		h.logger.Error("Forced token refresh failed", "error", err)

		code := http.StatusBadGateway
		if errors.Is(err, token.ErrNoAuthorizationKey) {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, RefreshResult{Error: err.Error(), Info: h.store.Info()})
		return
	}

	expires := cred.ExpiresAt
	writeJSON(w, http.StatusOK, RefreshResult{
		Success:   true,
		Preview:   cred.Preview(),
		ExpiresAt: &expires,
		Info:      h.store.Info(),
	})
}

// StatsHandler serves GET /stats with the request transformer counters.
type StatsHandler struct {
	requests *transform.RequestTransformer
}

func NewStatsHandler(requests *transform.RequestTransformer) *StatsHandler {
	return &StatsHandler{requests: requests}
}

func (h *StatsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, h.requests.Stats())
	case http.MethodDelete:
		h.requests.ResetStats()
		w.WriteHeader(http.StatusNoContent)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", "invalid_request_error")
	}
}
