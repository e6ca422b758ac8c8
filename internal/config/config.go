package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mihaisavezi/gigachat-proxy/internal/gigachat"
	"github.com/mihaisavezi/gigachat-proxy/internal/providers"
	"github.com/mihaisavezi/gigachat-proxy/internal/token"
)

const (
	DefaultPort           = 4000
	DefaultHost           = "127.0.0.1"
	DefaultConfigFilename = "config.json"
	DefaultYAMLFilename   = "config.yaml"

	DefaultRequestTimeout = 120 * time.Second
	DefaultSyncTimeout    = 60 * time.Second
)

// DefaultModels are advertised on /v1/models next to synced deployments.
var DefaultModels = []string{"GigaChat", "GigaChat-Pro", "GigaChat-Max"}

type GigaChatConfig struct {
	AuthKey        string   `json:"auth_key,omitempty" yaml:"auth_key,omitempty"`
	Scope          string   `json:"scope,omitempty" yaml:"scope,omitempty"`
	TokenURL       string   `json:"token_url,omitempty" yaml:"token_url,omitempty"`
	APIBase        string   `json:"api_base,omitempty" yaml:"api_base,omitempty"`
	VerifySSL      bool     `json:"verify_ssl_certs" yaml:"verify_ssl_certs"`
	CAFile         string   `json:"ca_file,omitempty" yaml:"ca_file,omitempty"`
	TokenLifetime  Duration `json:"token_lifetime,omitzero" yaml:"token_lifetime,omitempty"`
	RefreshBuffer  Duration `json:"refresh_buffer,omitzero" yaml:"refresh_buffer,omitempty"`
	TokenTimeout   Duration `json:"token_timeout,omitzero" yaml:"token_timeout,omitempty"`
	RequestTimeout Duration `json:"request_timeout,omitzero" yaml:"request_timeout,omitempty"`
	FallbackPolicy string   `json:"fallback_policy,omitempty" yaml:"fallback_policy,omitempty"`
	ModelMarker    string   `json:"model_marker,omitempty" yaml:"model_marker,omitempty"`
	HostMarker     string   `json:"host_marker,omitempty" yaml:"host_marker,omitempty"`
}

// ProviderConfig configures one header-authenticated endpoint.
type ProviderConfig struct {
	Enabled      bool     `json:"enabled" yaml:"enabled"`
	URL          string   `json:"url,omitempty" yaml:"url,omitempty"`
	AuthHeader   string   `json:"auth_header,omitempty" yaml:"auth_header,omitempty"`
	AuthValue    string   `json:"auth_value,omitempty" yaml:"auth_value,omitempty"`
	ModelSuffix  string   `json:"model_suffix,omitempty" yaml:"model_suffix,omitempty"`
	SyncModels   bool     `json:"sync_models" yaml:"sync_models"`
	SyncInterval Duration `json:"sync_interval,omitzero" yaml:"sync_interval,omitempty"`
	Timeout      Duration `json:"timeout,omitzero" yaml:"timeout,omitempty"`
}

type ProvidersConfig struct {
	Internal ProviderConfig `json:"internal" yaml:"internal"`
	Proxy    ProviderConfig `json:"proxy" yaml:"proxy"`
}

type TransformConfig struct {
	// CountTokens logs a prompt token estimate for every vendor request.
	CountTokens   bool   `json:"count_tokens" yaml:"count_tokens"`
	TokenEncoding string `json:"token_encoding,omitempty" yaml:"token_encoding,omitempty"`
}

type LoggingConfig struct {
	Level  string `json:"level,omitempty" yaml:"level,omitempty"`
	Format string `json:"format,omitempty" yaml:"format,omitempty"`
}

type Config struct {
	Host      string          `json:"host,omitempty" yaml:"host,omitempty"`
	Port      int             `json:"port,omitempty" yaml:"port,omitempty"`
	APIKey    string          `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	GigaChat  GigaChatConfig  `json:"gigachat" yaml:"gigachat"`
	Providers ProvidersConfig `json:"providers" yaml:"providers"`
	Transform TransformConfig `json:"transform" yaml:"transform"`
	Logging   LoggingConfig   `json:"logging" yaml:"logging"`
	Models    []string        `json:"models,omitempty" yaml:"models,omitempty"`
}

// Default returns a configuration with every default filled in.
func Default() *Config {
	return &Config{
		Host: DefaultHost,
		Port: DefaultPort,
		GigaChat: GigaChatConfig{
			Scope:          token.DefaultScope,
			TokenURL:       token.DefaultTokenURL,
			APIBase:        gigachat.DefaultAPIBase,
			VerifySSL:      true,
			TokenLifetime:  Duration(token.DefaultLifetime),
			RefreshBuffer:  Duration(token.DefaultRefreshBuffer),
			TokenTimeout:   Duration(token.DefaultTimeout),
			RequestTimeout: Duration(DefaultRequestTimeout),
			FallbackPolicy: string(token.PolicyDegrade),
			ModelMarker:    gigachat.DefaultModelMarker,
			HostMarker:     gigachat.DefaultHostMarker,
		},
		Providers: ProvidersConfig{
			Internal: ProviderConfig{
				AuthHeader:   providers.DefaultAuthHeader,
				ModelSuffix:  providers.InternalProvider,
				SyncModels:   true,
				SyncInterval: Duration(providers.DefaultSyncInterval),
				Timeout:      Duration(DefaultSyncTimeout),
			},
			Proxy: ProviderConfig{
				AuthHeader:   providers.DefaultAuthHeader,
				ModelSuffix:  providers.ProxyProvider,
				SyncInterval: Duration(providers.DefaultSyncInterval),
				Timeout:      Duration(DefaultSyncTimeout),
			},
		},
		Transform: TransformConfig{TokenEncoding: "cl100k_base"},
		Logging:   LoggingConfig{Level: "info", Format: "text"},
		Models:    append([]string(nil), DefaultModels...),
	}
}

type Manager struct {
	baseDir     string
	configValue atomic.Value
}

func NewManager(baseDir string) *Manager {
	return &Manager{baseDir: baseDir}
}

func (m *Manager) yamlPath() string { return filepath.Join(m.baseDir, DefaultYAMLFilename) }
func (m *Manager) jsonPath() string { return filepath.Join(m.baseDir, DefaultConfigFilename) }

// Load reads the config file, applies environment overrides and validates the
// result. config.yaml wins over config.json. Without any file the defaults and
// the environment are used.
func (m *Manager) Load() (*Config, error) {
	cfg := Default()

	path, found := m.existingPath()
	if found {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := decode(path, data, cfg); err != nil {
			return nil, err
		}
	}

	applyEnvOverrides(cfg)
	normalize(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	m.configValue.Store(cfg)
	return cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	if isYAML(path) {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("unmarshal yaml config: %w", err)
		}
		return nil
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("unmarshal config: %w", err)
	}
	return nil
}

// normalize restores defaults for values a file explicitly blanked.
func normalize(cfg *Config) {
	d := Default()
	if cfg.Host == "" {
		cfg.Host = d.Host
	}
	if cfg.Port == 0 {
		cfg.Port = d.Port
	}
	if cfg.GigaChat.Scope == "" {
		cfg.GigaChat.Scope = d.GigaChat.Scope
	}
	if cfg.GigaChat.TokenURL == "" {
		cfg.GigaChat.TokenURL = d.GigaChat.TokenURL
	}
	if cfg.GigaChat.APIBase == "" {
		cfg.GigaChat.APIBase = d.GigaChat.APIBase
	}
	if cfg.GigaChat.FallbackPolicy == "" {
		cfg.GigaChat.FallbackPolicy = d.GigaChat.FallbackPolicy
	}
	if cfg.GigaChat.ModelMarker == "" {
		cfg.GigaChat.ModelMarker = d.GigaChat.ModelMarker
	}
	if cfg.GigaChat.HostMarker == "" {
		cfg.GigaChat.HostMarker = d.GigaChat.HostMarker
	}
	if cfg.GigaChat.TokenLifetime == 0 {
		cfg.GigaChat.TokenLifetime = d.GigaChat.TokenLifetime
	}
	if cfg.GigaChat.TokenTimeout == 0 {
		cfg.GigaChat.TokenTimeout = d.GigaChat.TokenTimeout
	}
	if cfg.GigaChat.RequestTimeout == 0 {
		cfg.GigaChat.RequestTimeout = d.GigaChat.RequestTimeout
	}
	normalizeProvider(&cfg.Providers.Internal, d.Providers.Internal)
	normalizeProvider(&cfg.Providers.Proxy, d.Providers.Proxy)
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = d.Logging.Level
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = d.Logging.Format
	}
	if cfg.Transform.TokenEncoding == "" {
		cfg.Transform.TokenEncoding = d.Transform.TokenEncoding
	}
	cfg.Logging.Level = strings.ToLower(cfg.Logging.Level)
	cfg.Logging.Format = strings.ToLower(cfg.Logging.Format)
}

func normalizeProvider(p *ProviderConfig, d ProviderConfig) {
	if p.AuthHeader == "" {
		p.AuthHeader = d.AuthHeader
	}
	if p.ModelSuffix == "" {
		p.ModelSuffix = d.ModelSuffix
	}
	if p.SyncInterval == 0 {
		p.SyncInterval = d.SyncInterval
	}
	if p.Timeout == 0 {
		p.Timeout = d.Timeout
	}
}

func (m *Manager) Get() *Config {
	if v := m.configValue.Load(); v != nil {
		return v.(*Config)
	}

	cfg, err := m.Load()
	if err != nil {
		// Return a config with defaults if loading fails
		return Default()
	}
	return cfg
}

// Save writes cfg to the active config file, keeping its format.
func (m *Manager) Save(cfg *Config) error {
	path := m.GetPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(cfg)
	} else {
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	// Secrets live in this file.
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	m.configValue.Store(cfg)
	return nil
}

// GetPath returns the file Load reads, or the YAML path when none exists.
func (m *Manager) GetPath() string {
	if path, ok := m.existingPath(); ok {
		return path
	}
	return m.yamlPath()
}

func (m *Manager) Exists() bool {
	_, ok := m.existingPath()
	return ok
}

func (m *Manager) BaseDir() string {
	return m.baseDir
}

func (m *Manager) existingPath() (string, bool) {
	for _, path := range []string{m.yamlPath(), m.jsonPath()} {
		if _, err := os.Stat(path); err == nil {
			return path, true
		} else if !errors.Is(err, os.ErrNotExist) {
			return path, true
		}
	}
	return "", false
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}
