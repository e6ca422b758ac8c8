package providers

import (
	"errors"
	"slices"
	"strings"
	"sync"
)

// Registry holds the configured providers and the deployments discovered for
// them. It is safe for concurrent use.
type Registry struct {
	mu          sync.RWMutex
	providers   map[string]Provider
	deployments map[string]map[string]Deployment
}

func NewRegistry() *Registry {
	return &Registry{
		providers:   make(map[string]Provider),
		deployments: make(map[string]map[string]Deployment),
	}
}

// Register adds or replaces a provider
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.providers[p.Name] = p
}

// Get retrieves a provider by name
func (r *Registry) Get(name string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[name]
	return p, ok
}

// List returns all registered provider names, sorted
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Enabled returns the enabled providers in name order.
func (r *Registry) Enabled() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Provider, 0, len(r.providers))
	for _, p := range r.providers {
		if p.Enabled {
			out = append(out, p)
		}
	}
	slices.SortFunc(out, func(a, b Provider) int { return strings.Compare(a.Name, b.Name) })
	return out
}

// BySuffix returns the enabled provider whose suffix model ends with. The
// longest suffix wins when several match.
func (r *Registry) BySuffix(model string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var best Provider
	found := false
	for _, p := range r.providers {
		if p.Matches(model) && (!found || len(p.Suffix) > len(best.Suffix)) {
			best, found = p, true
		}
	}
	return best, found
}

// ByURL returns the enabled provider whose URL is contained in apiBase.
func (r *Registry) ByURL(apiBase string) (Provider, bool) {
	if apiBase == "" {
		return Provider{}, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	target := strings.TrimRight(apiBase, "/")
	for _, p := range r.providers {
		if p.Enabled && p.URL != "" && strings.Contains(target, strings.TrimRight(p.URL, "/")) {
			return p, true
		}
	}
	return Provider{}, false
}

// SetDeployments replaces the deployments of one provider and reports which
// model names were added and removed.
func (r *Registry) SetDeployments(provider string, deployments []Deployment) (added, removed []string) {
	next := make(map[string]Deployment, len(deployments))
	for _, d := range deployments {
		d.Provider = provider
		next[d.ModelName] = d
	}

	r.mu.Lock()
	prev := r.deployments[provider]
	r.deployments[provider] = next
	r.mu.Unlock()

	for name := range next {
		if _, ok := prev[name]; !ok {
			added = append(added, name)
		}
	}
	for name := range prev {
		if _, ok := next[name]; !ok {
			removed = append(removed, name)
		}
	}
	slices.Sort(added)
	slices.Sort(removed)
	return added, removed
}

// Deployments returns every known deployment sorted by model name.
func (r *Registry) Deployments() []Deployment {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Deployment
	for _, set := range r.deployments {
		for _, d := range set {
			out = append(out, d)
		}
	}
	slices.SortFunc(out, func(a, b Deployment) int { return strings.Compare(a.ModelName, b.ModelName) })
	return out
}

// Deployment looks a deployment up by its routed model name.
func (r *Registry) Deployment(name string) (Deployment, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, set := range r.deployments {
		if d, ok := set[name]; ok {
			return d, true
		}
	}
	return Deployment{}, false
}

// Validate joins the problems of every enabled provider.
func (r *Registry) Validate() error {
	var errs []error
	for _, p := range r.Enabled() {
		if err := p.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
