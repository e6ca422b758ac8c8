package modelsync

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaisavezi/gigachat-proxy/internal/gigachat"
	"github.com/mihaisavezi/gigachat-proxy/internal/providers"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

// modelServer serves GET /models with a list that tests can swap.
type modelServer struct {
	mu     sync.Mutex
	ids    []string
	status int
	calls  atomic.Int32
	header http.Header
}

func (m *modelServer) set(status int, ids ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status = status
	m.ids = ids
}

func (m *modelServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	m.calls.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()

	m.header = r.Header.Clone()
	if r.URL.Path != "/v1/models" || r.Method != http.MethodGet {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if m.status != 0 && m.status != http.StatusOK {
		w.WriteHeader(m.status)
		_, _ = w.Write([]byte(`{"message":"nope"}`))
		return
	}

	list := gigachat.ModelList{Object: "list"}
	for _, id := range m.ids {
		list.Data = append(list.Data, gigachat.Model{ID: id, Object: "model"})
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(list)
}

func newSyncFixture(t *testing.T) (*modelServer, *providers.Registry, *Syncer) {
	t.Helper()

	ms := &modelServer{}
	srv := httptest.NewServer(ms)
	t.Cleanup(srv.Close)

	p := providers.Provider{
		Name:       providers.InternalProvider,
		Enabled:    true,
		URL:        srv.URL + "/v1/",
		AuthHeader: "X-Client-Id",
		AuthValue:  "client-42",
		Suffix:     "internal",
		Timeout:    5 * time.Second,
	}
	registry := providers.NewRegistry()
	registry.Register(p)

	return ms, registry, NewSyncer(p, registry, srv.Client(), testLogger(), nil)
}

func TestSyncer_Fetch(t *testing.T) {
	ms, _, s := newSyncFixture(t)
	ms.set(http.StatusOK, "GigaChat", "GigaChat-Pro")

	models, err := s.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, models, 2)
	assert.Equal(t, "GigaChat-Pro", models[1].ID)

	assert.Equal(t, "client-42", ms.header.Get("X-Client-Id"))
	assert.Equal(t, "application/json", ms.header.Get("Accept"))
}

func TestSyncer_SyncBuildsDeployments(t *testing.T) {
	ms, registry, s := newSyncFixture(t)
	ms.set(http.StatusOK, "GigaChat", "", "GigaChat-Max")

	require.NoError(t, s.Sync(context.Background()))

	deployments := registry.Deployments()
	require.Len(t, deployments, 2, "empty ids are skipped")

	d, ok := registry.Deployment("gigachat-max-internal")
	require.True(t, ok)
	assert.Equal(t, "GigaChat-Max", d.UpstreamModel)
	assert.Equal(t, s.Provider().URL, d.APIBase)
	assert.Equal(t, providers.InternalProvider, d.Provider)
}

func TestSyncer_SyncReplacesSet(t *testing.T) {
	ms, registry, s := newSyncFixture(t)

	ms.set(http.StatusOK, "A", "B")
	require.NoError(t, s.Sync(context.Background()))

	ms.set(http.StatusOK, "B", "C")
	require.NoError(t, s.Sync(context.Background()))

	_, hasA := registry.Deployment("a-internal")
	_, hasC := registry.Deployment("c-internal")
	assert.False(t, hasA)
	assert.True(t, hasC)
	assert.Len(t, registry.Deployments(), 2)
}

func TestSyncer_FailureKeepsLastKnown(t *testing.T) {
	ms, registry, s := newSyncFixture(t)

	ms.set(http.StatusOK, "GigaChat")
	require.NoError(t, s.Sync(context.Background()))

	ms.set(http.StatusUnauthorized)
	err := s.Sync(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")

	_, ok := registry.Deployment("gigachat-internal")
	assert.True(t, ok)
}

func TestSyncer_MalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("not json"))
	}))
	defer srv.Close()

	p := providers.Provider{Name: "p", Enabled: true, URL: srv.URL, AuthValue: "v", Suffix: "p"}
	s := NewSyncer(p, providers.NewRegistry(), srv.Client(), testLogger(), nil)

	_, err := s.Fetch(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode models")
}

func TestSyncer_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	p := providers.Provider{Name: "p", Enabled: true, URL: url, AuthValue: "v", Suffix: "p"}
	s := NewSyncer(p, providers.NewRegistry(), nil, testLogger(), nil)

	assert.Error(t, s.Sync(context.Background()))
}
