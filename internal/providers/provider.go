package providers

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	DefaultAuthHeader   = "X-Client-Id"
	DefaultSyncInterval = 5 * time.Minute

	// InternalProvider is the vendor installation reached through a private
	// gateway with header authentication instead of OAuth tokens.
	InternalProvider = "internal"
	// ProxyProvider is a generic OpenAI-compatible endpoint with header auth.
	ProxyProvider = "proxy"
)

// Provider is an endpoint that authenticates with a static header. Models
// routed to it carry the "-<Suffix>" ending.
type Provider struct {
	Name         string
	Enabled      bool
	URL          string
	AuthHeader   string
	AuthValue    string
	Suffix       string
	SyncEnabled  bool
	SyncInterval time.Duration
	Timeout      time.Duration
}

// Matches reports whether model is routed to p.
func (p Provider) Matches(model string) bool {
	if !p.Enabled || p.Suffix == "" {
		return false
	}
	return strings.HasSuffix(model, "-"+p.Suffix)
}

// UpstreamModel strips the routing suffix from model.
func (p Provider) UpstreamModel(model string) string {
	if p.Suffix == "" {
		return model
	}
	return strings.TrimSuffix(model, "-"+p.Suffix)
}

// ModelName is the routed name registered for an upstream model id.
func (p Provider) ModelName(upstream string) string {
	return strings.ToLower(upstream) + "-" + p.Suffix
}

// AuthHeaders returns the header to attach to every call, or nil when the
// provider is disabled or has no value.
func (p Provider) AuthHeaders() map[string]string {
	if !p.Enabled || p.AuthValue == "" {
		return nil
	}
	name := p.AuthHeader
	if name == "" {
		name = DefaultAuthHeader
	}
	return map[string]string{name: p.AuthValue}
}

// Validate checks an enabled provider has what it needs to route requests.
func (p Provider) Validate() error {
	if !p.Enabled {
		return nil
	}

	var errs []error
	if p.Name == "" {
		errs = append(errs, errors.New("name is required"))
	}
	if p.URL == "" {
		errs = append(errs, errors.New("url is required"))
	}
	if p.AuthHeader == "" {
		errs = append(errs, errors.New("auth header name is required"))
	}
	if p.AuthValue == "" {
		errs = append(errs, errors.New("auth header value is required"))
	}
	if p.Suffix == "" {
		errs = append(errs, errors.New("model suffix is required"))
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("provider %q: %w", p.Name, err)
	}
	return nil
}

// Deployment is a routable model name and where it goes.
type Deployment struct {
	ModelName     string `json:"model_name"`
	UpstreamModel string `json:"upstream_model"`
	APIBase       string `json:"api_base"`
	Provider      string `json:"provider"`
}
