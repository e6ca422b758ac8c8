package config

import (
	"github.com/mihaisavezi/gigachat-proxy/internal/providers"
	"github.com/mihaisavezi/gigachat-proxy/internal/token"
)

func (p ProviderConfig) provider(name string) providers.Provider {
	return providers.Provider{
		Name:         name,
		Enabled:      p.Enabled,
		URL:          p.URL,
		AuthHeader:   p.AuthHeader,
		AuthValue:    p.AuthValue,
		Suffix:       p.ModelSuffix,
		SyncEnabled:  p.SyncModels,
		SyncInterval: p.SyncInterval.Std(),
		Timeout:      p.Timeout.Std(),
	}
}

// ProviderRegistry builds a registry holding the internal installation and
// the proxy provider, enabled or not.
func (c *Config) ProviderRegistry() *providers.Registry {
	r := providers.NewRegistry()
	r.Register(c.Providers.Internal.provider(providers.InternalProvider))
	r.Register(c.Providers.Proxy.provider(providers.ProxyProvider))
	return r
}

// HasAuthKey reports whether a vendor authorization key is configured.
func (g GigaChatConfig) HasAuthKey() bool {
	return g.AuthKey != ""
}

// Redacted returns a copy safe to print.
func (c *Config) Redacted() *Config {
	out := *c
	out.Models = append([]string(nil), c.Models...)
	out.APIKey = redact(c.APIKey)
	out.GigaChat.AuthKey = redact(c.GigaChat.AuthKey)
	out.Providers.Internal.AuthValue = redact(c.Providers.Internal.AuthValue)
	out.Providers.Proxy.AuthValue = redact(c.Providers.Proxy.AuthValue)
	return &out
}

func redact(s string) string {
	if s == "" {
		return ""
	}
	return token.Mask(s)
}
