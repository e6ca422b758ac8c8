// Package modelsync keeps the deployments of header-authenticated providers in
// step with the models their endpoints advertise.
package modelsync

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/mihaisavezi/gigachat-proxy/internal/gigachat"
	"github.com/mihaisavezi/gigachat-proxy/internal/metrics"
	"github.com/mihaisavezi/gigachat-proxy/internal/providers"
)

// Syncer mirrors the model list of one provider into the registry.
type Syncer struct {
	provider providers.Provider
	registry *providers.Registry
	client   *http.Client
	logger   *slog.Logger
	metrics  *metrics.Collector
}

func NewSyncer(p providers.Provider, registry *providers.Registry, client *http.Client, logger *slog.Logger, m *metrics.Collector) *Syncer {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Syncer{
		provider: p,
		registry: registry,
		client:   client,
		logger:   logger.With("component", "modelsync", "provider", p.Name),
		metrics:  m,
	}
}

func (s *Syncer) Provider() providers.Provider {
	return s.provider
}

// Fetch lists the provider's models from GET {url}/models.
func (s *Syncer) Fetch(ctx context.Context) ([]gigachat.Model, error) {
	if s.provider.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.provider.Timeout)
		defer cancel()
	}

	url := strings.TrimRight(s.provider.URL, "/") + "/models"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create models request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	for name, value := range s.provider.AuthHeaders() {
		req.Header.Set(name, value)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch models: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<10))
		return nil, fmt.Errorf("fetch models: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var list gigachat.ModelList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("decode models: %w", err)
	}

	return list.Data, nil
}

// Sync replaces the provider's deployments with the fetched list. On failure
// the previous deployments are kept.
func (s *Syncer) Sync(ctx context.Context) error {
	models, err := s.Fetch(ctx)
	if err != nil {
		s.logger.Warn("Model sync failed, keeping last known models", "error", err)
		return err
	}

	deployments := make([]providers.Deployment, 0, len(models))
	for _, m := range models {
		if m.ID == "" {
			continue
		}
		deployments = append(deployments, providers.Deployment{
			ModelName:     s.provider.ModelName(m.ID),
			UpstreamModel: m.ID,
			APIBase:       s.provider.URL,
		})
	}

	added, removed := s.registry.SetDeployments(s.provider.Name, deployments)
	s.metrics.Deployments(s.provider.Name, len(deployments))

	if len(added) > 0 || len(removed) > 0 {
		s.logger.Info("Model list changed",
			"added", added,
			"removed", removed,
			"total", len(deployments),
		)
	} else {
		s.logger.Debug("Model list unchanged", "total", len(deployments))
	}

	return nil
}
