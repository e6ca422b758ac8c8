package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaisavezi/gigachat-proxy/internal/gigachat"
	"github.com/mihaisavezi/gigachat-proxy/internal/providers"
	"github.com/mihaisavezi/gigachat-proxy/internal/token"
	"github.com/mihaisavezi/gigachat-proxy/internal/transform"
)

func TestTokenHandler_Info(t *testing.T) {
	h := NewTokenHandler(&fakeTokens{value: "abcdefghijklmnopqrstuvwxyz"}, testLogger())

	rec := httptest.NewRecorder()
	h.Info(rec, httptest.NewRequest(http.MethodGet, "/token/info", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var info map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, true, info["has_credential"])
	assert.Equal(t, "abcd...wxyz", info["token_preview"])
	assert.NotContains(t, rec.Body.String(), "abcdefghijklmnopqrstuvwxyz")

	rec = httptest.NewRecorder()
	h.Info(rec, httptest.NewRequest(http.MethodPost, "/token/info", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestTokenHandler_Refresh(t *testing.T) {
	tests := []struct {
		name    string
		tokens  *fakeTokens
		code    int
		success bool
	}{
		{"ok", &fakeTokens{value: "fresh-token-value-123"}, http.StatusOK, true},
		{"issuance failure", &fakeTokens{err: &token.AcquisitionError{StatusCode: 500}}, http.StatusBadGateway, false},
		{"no key", &fakeTokens{err: token.ErrNoAuthorizationKey}, http.StatusServiceUnavailable, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewTokenHandler(tt.tokens, testLogger())

			rec := httptest.NewRecorder()
			h.Refresh(rec, httptest.NewRequest(http.MethodPost, "/token/refresh", nil))

			assert.Equal(t, tt.code, rec.Code)
			var got RefreshResult
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
			assert.Equal(t, tt.success, got.Success)
			assert.EqualValues(t, 1, tt.tokens.forced.Load(), "refresh is forced")
			if tt.success {
				assert.Equal(t, "fres...-123", got.Preview)
				assert.NotNil(t, got.ExpiresAt)
			} else {
				assert.NotEmpty(t, got.Error)
			}
		})
	}
}

func TestModelsHandler(t *testing.T) {
	f := newProxyFixture(t)
	f.registry.SetDeployments(providers.InternalProvider, []providers.Deployment{
		{ModelName: "gigachat-max-internal", UpstreamModel: "GigaChat-Max"},
		{ModelName: "gigachat-internal", UpstreamModel: "GigaChat"},
	})

	h := NewModelsHandler(f.manager, f.registry)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/models", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var list gigachat.ModelList
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))

	assert.Equal(t, "list", list.Object)
	ids := make([]string, 0, len(list.Data))
	for _, m := range list.Data {
		ids = append(ids, m.ID)
	}
	assert.Equal(t, []string{"GigaChat", "GigaChat-Pro", "GigaChat-Max", "gigachat-internal", "gigachat-max-internal"}, ids)
	assert.Equal(t, providers.InternalProvider, list.Data[4].OwnedBy)
}

func TestStatsHandler(t *testing.T) {
	requests := transform.NewRequestTransformer(testLogger(), nil)
	requests.Transform(map[string]any{"model": "GigaChat", "messages": []any{map[string]any{"role": "user", "content": []any{"a"}}}})

	h := NewStatsHandler(requests)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var stats transform.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.EqualValues(t, 1, stats.ProcessedRequests)
	assert.EqualValues(t, 1, stats.ConvertedMessages)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/stats", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Zero(t, requests.Stats().ProcessedRequests)
}

func TestHealthHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	NewHealthHandler(nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}
