package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"

	"github.com/mihaisavezi/gigachat-proxy/internal/token"
)

// Validate returns every problem found in cfg, joined.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}

	var errs []error

	if cfg.Port < 1 || cfg.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", cfg.Port))
	}

	g := cfg.GigaChat
	if err := validateURL("gigachat.token_url", g.TokenURL); err != nil {
		errs = append(errs, err)
	}
	if err := validateURL("gigachat.api_base", g.APIBase); err != nil {
		errs = append(errs, err)
	}
	if g.TokenLifetime <= 0 {
		errs = append(errs, errors.New("gigachat.token_lifetime must be positive"))
	}
	if g.RefreshBuffer > 0 && g.RefreshBuffer >= g.TokenLifetime {
		errs = append(errs, fmt.Errorf("gigachat.refresh_buffer %s must be shorter than token_lifetime %s",
			g.RefreshBuffer, g.TokenLifetime))
	}
	if g.TokenTimeout < 0 {
		errs = append(errs, errors.New("gigachat.token_timeout must not be negative"))
	}
	if _, err := token.ParseFallbackPolicy(g.FallbackPolicy); err != nil {
		errs = append(errs, fmt.Errorf("gigachat.fallback_policy: %w", err))
	}
	if g.CAFile != "" {
		if _, err := os.Stat(g.CAFile); err != nil {
			errs = append(errs, fmt.Errorf("gigachat.ca_file: %w", err))
		}
	}

	if err := cfg.ProviderRegistry().Validate(); err != nil {
		errs = append(errs, err)
	}
	for name, p := range map[string]ProviderConfig{"internal": cfg.Providers.Internal, "proxy": cfg.Providers.Proxy} {
		if p.Enabled && p.SyncModels && p.SyncInterval <= 0 {
			errs = append(errs, fmt.Errorf("providers.%s.sync_interval must be positive", name))
		}
	}

	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.level %q is not one of debug, info, warn, error", cfg.Logging.Level))
	}
	switch cfg.Logging.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format %q is not text or json", cfg.Logging.Format))
	}

	return errors.Join(errs...)
}

func validateURL(field, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s: %q must be an http(s) URL", field, raw)
	}
	if u.Host == "" {
		return fmt.Errorf("%s: %q has no host", field, raw)
	}
	return nil
}
