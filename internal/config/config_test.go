package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaisavezi/gigachat-proxy/internal/providers"
	"github.com/mihaisavezi/gigachat-proxy/internal/token"
)

// clearEnv blanks every recognized variable so the host environment does not
// leak into a test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, v := range EnvVars {
		t.Setenv(v.Name, "")
	}
}

func TestConfig_LoadAndSave(t *testing.T) {
	clearEnv(t)
	tmpDir := t.TempDir()
	manager := NewManager(tmpDir)

	cfg := Default()
	cfg.Port = 8080
	cfg.APIKey = "test-key"
	cfg.GigaChat.AuthKey = "auth-key-value"
	cfg.GigaChat.TokenLifetime = Duration(20 * time.Minute)

	require.NoError(t, manager.Save(cfg))
	assert.True(t, manager.Exists())
	assert.Equal(t, filepath.Join(tmpDir, DefaultYAMLFilename), manager.GetPath())

	info, err := os.Stat(manager.GetPath())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	loaded, err := manager.Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, loaded.Port)
	assert.Equal(t, "test-key", loaded.APIKey)
	assert.Equal(t, "auth-key-value", loaded.GigaChat.AuthKey)
	assert.Equal(t, 20*time.Minute, loaded.GigaChat.TokenLifetime.Std())
	assert.Same(t, loaded, manager.Get())
}

func TestConfig_NoFileUsesDefaults(t *testing.T) {
	clearEnv(t)
	manager := NewManager(t.TempDir())

	assert.False(t, manager.Exists())

	cfg, err := manager.Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultHost, cfg.Host)
	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, token.DefaultScope, cfg.GigaChat.Scope)
	assert.Equal(t, token.DefaultTokenURL, cfg.GigaChat.TokenURL)
	assert.True(t, cfg.GigaChat.VerifySSL)
	assert.Equal(t, 30*time.Minute, cfg.GigaChat.TokenLifetime.Std())
	assert.Equal(t, 5*time.Minute, cfg.GigaChat.RefreshBuffer.Std())
	assert.Equal(t, string(token.PolicyDegrade), cfg.GigaChat.FallbackPolicy)
	assert.Equal(t, "internal", cfg.Providers.Internal.ModelSuffix)
	assert.Equal(t, "proxy", cfg.Providers.Proxy.ModelSuffix)
	assert.Equal(t, "X-Client-Id", cfg.Providers.Internal.AuthHeader)
	assert.False(t, cfg.Providers.Internal.Enabled)
	assert.Equal(t, DefaultModels, cfg.Models)
}

func TestConfig_JSON(t *testing.T) {
	clearEnv(t)
	tmpDir := t.TempDir()

	jsonConfig := `{
		"port": 9000,
		"gigachat": {"auth_key": "k", "token_lifetime": 600, "refresh_buffer": "1m", "verify_ssl_certs": false},
		"providers": {"internal": {"enabled": true, "url": "https://internal/api/v1", "auth_value": "v"}}
	}`
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, DefaultConfigFilename), []byte(jsonConfig), 0o644))

	cfg, err := NewManager(tmpDir).Load()
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, 10*time.Minute, cfg.GigaChat.TokenLifetime.Std(), "integer seconds")
	assert.Equal(t, time.Minute, cfg.GigaChat.RefreshBuffer.Std())
	assert.False(t, cfg.GigaChat.VerifySSL)
	assert.True(t, cfg.Providers.Internal.Enabled)
	assert.Equal(t, "X-Client-Id", cfg.Providers.Internal.AuthHeader, "unset fields keep defaults")
	assert.True(t, cfg.Providers.Internal.SyncModels)
}

func TestConfig_InvalidFile(t *testing.T) {
	clearEnv(t)
	tmpDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, DefaultConfigFilename), []byte("{"), 0o644))

	manager := NewManager(tmpDir)
	_, err := manager.Load()
	require.Error(t, err)

	assert.Equal(t, DefaultPort, manager.Get().Port, "Get falls back to defaults")
}

func TestEnvOverrides(t *testing.T) {
	clearEnv(t)
	tmpDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, DefaultYAMLFilename), []byte("port: 5000\ngigachat:\n  scope: FILE_SCOPE\n"), 0o644))

	t.Setenv("GIGACHAT_AUTH_KEY", "env-key")
	t.Setenv("GIGACHAT_SCOPE", "GIGACHAT_API_CORP")
	t.Setenv("GIGACHAT_PROXY_PORT", "4100")
	t.Setenv("GIGACHAT_VERIFY_SSL_CERTS", "false")
	t.Setenv("GIGACHAT_REFRESH_BUFFER", "120")
	t.Setenv("GIGACHAT_TOKEN_LIFETIME", "not-a-duration")
	t.Setenv("GIGACHAT_INTERNAL_ENABLED", "true")
	t.Setenv("GIGACHAT_INTERNAL_URL", "https://my-gigachat.company.com/api/v1")
	t.Setenv("GIGACHAT_AUTH_HEADER_VALUE", "client-id")
	t.Setenv("PROXY_PROVIDER_MODEL_SUFFIX", "edge")

	cfg, err := NewManager(tmpDir).Load()
	require.NoError(t, err)

	assert.Equal(t, "env-key", cfg.GigaChat.AuthKey)
	assert.Equal(t, "GIGACHAT_API_CORP", cfg.GigaChat.Scope, "env wins over file")
	assert.Equal(t, 4100, cfg.Port)
	assert.False(t, cfg.GigaChat.VerifySSL)
	assert.Equal(t, 2*time.Minute, cfg.GigaChat.RefreshBuffer.Std())
	assert.Equal(t, token.DefaultLifetime, cfg.GigaChat.TokenLifetime.Std(), "bad value ignored")

	registry := cfg.ProviderRegistry()
	p, ok := registry.BySuffix("gigachat-pro-internal")
	require.True(t, ok)
	assert.Equal(t, "https://my-gigachat.company.com/api/v1", p.URL)
	assert.Equal(t, map[string]string{"X-Client-Id": "client-id"}, p.AuthHeaders())

	proxy, ok := registry.Get(providers.ProxyProvider)
	require.True(t, ok)
	assert.Equal(t, "edge", proxy.Suffix)
	assert.False(t, proxy.Enabled)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr []string
	}{
		{"defaults", func(*Config) {}, nil},
		{"bad port", func(c *Config) { c.Port = 70000 }, []string{"port 70000"}},
		{"bad token url", func(c *Config) { c.GigaChat.TokenURL = "ftp://x" }, []string{"gigachat.token_url"}},
		{"buffer exceeds lifetime", func(c *Config) {
			c.GigaChat.RefreshBuffer = Duration(time.Hour)
		}, []string{"refresh_buffer"}},
		{"negative buffer allowed", func(c *Config) { c.GigaChat.RefreshBuffer = Duration(-time.Second) }, nil},
		{"bad policy", func(c *Config) { c.GigaChat.FallbackPolicy = "retry" }, []string{"fallback_policy"}},
		{"missing ca file", func(c *Config) { c.GigaChat.CAFile = "/does/not/exist.pem" }, []string{"ca_file"}},
		{"enabled provider incomplete", func(c *Config) { c.Providers.Proxy.Enabled = true }, []string{"url is required", "auth header value is required"}},
		{"bad logging", func(c *Config) {
			c.Logging.Level = "trace"
			c.Logging.Format = "xml"
		}, []string{"logging.level", "logging.format"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := Validate(cfg)
			if len(tt.wantErr) == 0 {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			for _, want := range tt.wantErr {
				assert.Contains(t, err.Error(), want)
			}
		})
	}
}

func TestRedacted(t *testing.T) {
	cfg := Default()
	cfg.GigaChat.AuthKey = "abcdefghijklmnopqrstuvwxyz"
	cfg.Providers.Internal.AuthValue = "short"

	r := cfg.Redacted()

	assert.Equal(t, "abcd...wxyz", r.GigaChat.AuthKey)
	assert.Equal(t, "***", r.Providers.Internal.AuthValue)
	assert.Equal(t, "", r.APIKey)
	assert.Equal(t, "abcdefghijklmnopqrstuvwxyz", cfg.GigaChat.AuthKey, "original untouched")
}
