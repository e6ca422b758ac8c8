package middleware

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaisavezi/gigachat-proxy/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newManager(t *testing.T, apiKey string) *config.Manager {
	t.Helper()
	for _, v := range config.EnvVars {
		t.Setenv(v.Name, "")
	}
	t.Setenv("GIGACHAT_PROXY_API_KEY", apiKey)

	m := config.NewManager(t.TempDir())
	_, err := m.Load()
	require.NoError(t, err)
	return m
}

var ok = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	_, _ = w.Write([]byte("ok"))
})

func TestAuth(t *testing.T) {
	tests := []struct {
		name   string
		apiKey string
		path   string
		header map[string]string
		want   int
	}{
		{"no key configured", "", "/v1/chat/completions", nil, http.StatusOK},
		{"bearer", "secret", "/v1/chat/completions", map[string]string{"Authorization": "Bearer secret"}, http.StatusOK},
		{"x-api-key", "secret", "/token/info", map[string]string{"X-API-Key": "secret"}, http.StatusOK},
		{"wrong key", "secret", "/v1/models", map[string]string{"Authorization": "Bearer nope"}, http.StatusUnauthorized},
		{"missing key", "secret", "/v1/models", nil, http.StatusUnauthorized},
		{"health is public", "secret", "/health", nil, http.StatusOK},
		{"metrics is public", "secret", "/metrics", nil, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewAuthMiddleware(newManager(t, tt.apiKey), testLogger())(ok)

			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.want, rec.Code)
			if tt.want == http.StatusUnauthorized {
				assert.Contains(t, rec.Body.String(), "authentication_error")
			}
		})
	}
}

func TestChainOrder(t *testing.T) {
	var order []string
	mark := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	base := New(mark("a"), mark("b"))
	first := base.Then(mark("c"))
	second := base.Then(mark("d"))

	first.Handler(ok).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, []string{"a", "b", "c"}, order)

	order = nil
	second.Handler(ok).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, []string{"a", "b", "d"}, order, "Then does not share backing arrays")
}

func TestRecovery(t *testing.T) {
	handler := NewRecoveryMiddleware(testLogger())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "api_error")
	assert.NotContains(t, rec.Body.String(), "boom")
}

func TestRequestID(t *testing.T) {
	var seen string
	handler := NewRequestIDMiddleware()(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = RequestIDFrom(r.Context())
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get(RequestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "client-id-1")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, "client-id-1", seen)
}

func TestLoggingKeepsFlusher(t *testing.T) {
	handler := NewLoggingMiddleware(testLogger())(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, isFlusher := w.(http.Flusher)
		assert.True(t, isFlusher)
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte("abc"))
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "abc", rec.Body.String())
}
