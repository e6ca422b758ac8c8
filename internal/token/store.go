package token

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/mihaisavezi/gigachat-proxy/internal/metrics"
)

// FallbackPolicy decides what Get returns when a refresh fails while an older
// credential is still cached.
type FallbackPolicy string

const (
	// PolicyDegrade serves the stale credential and logs the failure.
	PolicyDegrade FallbackPolicy = "degrade"
	// PolicyFailFast returns the acquisition error.
	PolicyFailFast FallbackPolicy = "fail-fast"
)

func ParseFallbackPolicy(s string) (FallbackPolicy, error) {
	switch FallbackPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", PolicyDegrade:
		return PolicyDegrade, nil
	case PolicyFailFast:
		return PolicyFailFast, nil
	default:
		return "", fmt.Errorf("unknown fallback policy %q (want %q or %q)", s, PolicyDegrade, PolicyFailFast)
	}
}

// Acquirer obtains a new credential. *Client is the production implementation.
type Acquirer interface {
	RequestCredential(ctx context.Context, authorizationKey, scope string) (Credential, error)
}

// StoreConfig configures a Store. A zero RefreshBuffer selects
// DefaultRefreshBuffer and a negative one disables early refresh.
type StoreConfig struct {
	AuthorizationKey string
	Scope            string
	RefreshBuffer    time.Duration
	Policy           FallbackPolicy
	Logger           *slog.Logger
	Metrics          *metrics.Collector
}

// Info is a read-only snapshot of the store.
type Info struct {
	HasCredential      bool      `json:"has_credential"`
	SecondsUntilExpiry float64   `json:"seconds_until_expiry"`
	IsRefreshDue       bool      `json:"is_refresh_due"`
	ExpiresAt          time.Time `json:"expires_at,omitzero"`
	Scope              string    `json:"scope,omitempty"`
	Preview            string    `json:"token_preview,omitempty"`
}

// Store caches one credential for the process. Every operation runs under a
// single mutex which is held across the network call, so refreshes are
// serialized and concurrent callers observing a due credential trigger one
// acquisition.
type Store struct {
	mu      sync.Mutex
	current *Credential

	acquirer Acquirer
	authKey  string
	scope    string
	buffer   time.Duration
	policy   FallbackPolicy
	logger   *slog.Logger
	metrics  *metrics.Collector
	now      func() time.Time
}

func NewStore(acquirer Acquirer, cfg StoreConfig) *Store {
	s := &Store{
		acquirer: acquirer,
		authKey:  cfg.AuthorizationKey,
		scope:    cfg.Scope,
		buffer:   cfg.RefreshBuffer,
		policy:   cfg.Policy,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
		now:      time.Now,
	}

	if s.scope == "" {
		s.scope = DefaultScope
	}
	if s.buffer < 0 {
		s.buffer = 0
	} else if s.buffer == 0 {
		s.buffer = DefaultRefreshBuffer
	}
	if s.policy == "" {
		s.policy = PolicyDegrade
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	return s
}

// Get returns a usable credential, acquiring a new one when none is cached,
// the cached one is refresh-due, or force is set. With PolicyDegrade a failed
// non-forced refresh falls back to the cached credential.
func (s *Store) Get(ctx context.Context, force bool) (Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if !force && s.current != nil && !s.current.RefreshDue(now, s.buffer) {
		return *s.current, nil
	}

	if s.authKey == "" {
		return Credential{}, ErrNoAuthorizationKey
	}

	cred, err := s.acquirer.RequestCredential(ctx, s.authKey, s.scope)
	if err == nil {
		s.metrics.TokenRefresh(true)
		s.current = &cred
		s.logger.Info("Credential refreshed",
			"scope", cred.Scope,
			"expires_at", cred.ExpiresAt,
			"forced", force,
		)
		return cred, nil
	}

	s.metrics.TokenRefresh(false)

	if s.current != nil && !force && s.policy == PolicyDegrade {
		s.metrics.TokenFallback()
		s.logger.Warn("Credential refresh failed, using cached credential",
			"error", err,
			"expires_at", s.current.ExpiresAt,
			"expired", !now.Before(s.current.ExpiresAt),
		)
		return *s.current, nil
	}

	s.logger.Error("Credential refresh failed", "error", err, "forced", force)
	return Credential{}, err
}

// Invalidate drops the cached credential; the next Get always acquires.
func (s *Store) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.current = nil
	s.metrics.TokenInvalidated()
	s.logger.Info("Credential invalidated")
}

// Info never triggers a refresh.
func (s *Store) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil {
		return Info{IsRefreshDue: true, Scope: s.scope}
	}

	now := s.now()
	return Info{
		HasCredential:      true,
		SecondsUntilExpiry: s.current.ExpiresAt.Sub(now).Seconds(),
		IsRefreshDue:       s.current.RefreshDue(now, s.buffer),
		ExpiresAt:          s.current.ExpiresAt,
		Scope:              s.current.Scope,
		Preview:            s.current.Preview(),
	}
}

func (s *Store) Policy() FallbackPolicy {
	return s.policy
}
