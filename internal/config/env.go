package config

import (
	"os"
	"strconv"
)

// EnvVar describes a recognized environment knob.
type EnvVar struct {
	Name        string
	Description string
	Secret      bool
	Required    bool
}

// EnvVars lists every variable applyEnvOverrides reads.
var EnvVars = []EnvVar{
	{Name: "GIGACHAT_AUTH_KEY", Description: "Authorization key for token issuance", Secret: true, Required: true},
	{Name: "GIGACHAT_SCOPE", Description: "Token scope"},
	{Name: "GIGACHAT_TOKEN_URL", Description: "Token issuance endpoint"},
	{Name: "GIGACHAT_BASE_URL", Description: "Vendor API base URL"},
	{Name: "GIGACHAT_VERIFY_SSL_CERTS", Description: "Verify TLS certificates"},
	{Name: "GIGACHAT_CA_FILE", Description: "Extra CA bundle (PEM)"},
	{Name: "GIGACHAT_TOKEN_LIFETIME", Description: "Assumed token lifetime"},
	{Name: "GIGACHAT_REFRESH_BUFFER", Description: "Refresh this long before expiry"},
	{Name: "GIGACHAT_TOKEN_TIMEOUT", Description: "Token request timeout"},
	{Name: "GIGACHAT_FALLBACK_POLICY", Description: "degrade or fail-fast"},
	{Name: "GIGACHAT_MODEL_MARKER", Description: "Model substring marking vendor requests"},
	{Name: "GIGACHAT_HOST_MARKER", Description: "API base substring marking vendor requests"},
	{Name: "GIGACHAT_PROXY_HOST", Description: "Listen host"},
	{Name: "GIGACHAT_PROXY_PORT", Description: "Listen port"},
	{Name: "GIGACHAT_PROXY_API_KEY", Description: "API key clients must present", Secret: true},
	{Name: "GIGACHAT_INTERNAL_ENABLED", Description: "Enable the internal installation"},
	{Name: "GIGACHAT_INTERNAL_URL", Description: "Internal installation URL"},
	{Name: "GIGACHAT_AUTH_HEADER_NAME", Description: "Internal installation auth header"},
	{Name: "GIGACHAT_AUTH_HEADER_VALUE", Description: "Internal installation auth value", Secret: true},
	{Name: "GIGACHAT_INTERNAL_MODEL_SUFFIX", Description: "Internal installation model suffix"},
	{Name: "PROXY_PROVIDER_ENABLED", Description: "Enable the proxy provider"},
	{Name: "PROXY_PROVIDER_URL", Description: "Proxy provider URL"},
	{Name: "PROXY_PROVIDER_AUTH_HEADER", Description: "Proxy provider auth header"},
	{Name: "PROXY_PROVIDER_AUTH_VALUE", Description: "Proxy provider auth value", Secret: true},
	{Name: "PROXY_PROVIDER_MODEL_SUFFIX", Description: "Proxy provider model suffix"},
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Unparsable values are ignored and the file value is kept.
func applyEnvOverrides(cfg *Config) {
	g := &cfg.GigaChat

	setString("GIGACHAT_AUTH_KEY", &g.AuthKey)
	setString("GIGACHAT_SCOPE", &g.Scope)
	setString("GIGACHAT_TOKEN_URL", &g.TokenURL)
	setString("GIGACHAT_BASE_URL", &g.APIBase)
	setBool("GIGACHAT_VERIFY_SSL_CERTS", &g.VerifySSL)
	setString("GIGACHAT_CA_FILE", &g.CAFile)
	setDuration("GIGACHAT_TOKEN_LIFETIME", &g.TokenLifetime)
	setDuration("GIGACHAT_REFRESH_BUFFER", &g.RefreshBuffer)
	setDuration("GIGACHAT_TOKEN_TIMEOUT", &g.TokenTimeout)
	setString("GIGACHAT_FALLBACK_POLICY", &g.FallbackPolicy)
	setString("GIGACHAT_MODEL_MARKER", &g.ModelMarker)
	setString("GIGACHAT_HOST_MARKER", &g.HostMarker)

	setString("GIGACHAT_PROXY_HOST", &cfg.Host)
	if val := os.Getenv("GIGACHAT_PROXY_PORT"); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			cfg.Port = i
		}
	}
	setString("GIGACHAT_PROXY_API_KEY", &cfg.APIKey)

	in := &cfg.Providers.Internal
	setBool("GIGACHAT_INTERNAL_ENABLED", &in.Enabled)
	setString("GIGACHAT_INTERNAL_URL", &in.URL)
	setString("GIGACHAT_AUTH_HEADER_NAME", &in.AuthHeader)
	setString("GIGACHAT_AUTH_HEADER_VALUE", &in.AuthValue)
	setString("GIGACHAT_INTERNAL_MODEL_SUFFIX", &in.ModelSuffix)

	px := &cfg.Providers.Proxy
	setBool("PROXY_PROVIDER_ENABLED", &px.Enabled)
	setString("PROXY_PROVIDER_URL", &px.URL)
	setString("PROXY_PROVIDER_AUTH_HEADER", &px.AuthHeader)
	setString("PROXY_PROVIDER_AUTH_VALUE", &px.AuthValue)
	setString("PROXY_PROVIDER_MODEL_SUFFIX", &px.ModelSuffix)
}

func setString(name string, dst *string) {
	if val := os.Getenv(name); val != "" {
		*dst = val
	}
}

func setBool(name string, dst *bool) {
	if val := os.Getenv(name); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			*dst = b
		}
	}
}

func setDuration(name string, dst *Duration) {
	if val := os.Getenv(name); val != "" {
		if d, err := ParseDuration(val); err == nil {
			*dst = Duration(d)
		}
	}
}
