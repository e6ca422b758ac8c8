package providers

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRegistry() *Registry {
	registry := NewRegistry()
	registry.Register(Provider{
		Name:       InternalProvider,
		Enabled:    true,
		URL:        "https://gigachat.internal.corp/v1",
		AuthHeader: "X-Client-Id",
		AuthValue:  "secret",
		Suffix:     "internal",
	})
	registry.Register(Provider{
		Name:       ProxyProvider,
		Enabled:    true,
		URL:        "http://llm-proxy.local:8080/api",
		AuthHeader: "X-Api-Token",
		AuthValue:  "proxy-secret",
		Suffix:     "proxy",
	})
	registry.Register(Provider{
		Name:    "disabled",
		URL:     "http://disabled.local",
		Suffix:  "off",
		Enabled: false,
	})
	return registry
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	registry := testRegistry()

	p, exists := registry.Get(InternalProvider)
	assert.True(t, exists, "provider should exist after registration")
	assert.Equal(t, "internal", p.Suffix)

	_, exists = registry.Get("nonexistent")
	assert.False(t, exists, "non-existent provider should not exist")
}

func TestRegistry_List(t *testing.T) {
	registry := testRegistry()

	assert.Equal(t, []string{"disabled", "internal", "proxy"}, registry.List())

	enabled := registry.Enabled()
	require.Len(t, enabled, 2)
	assert.Equal(t, "internal", enabled[0].Name)
	assert.Equal(t, "proxy", enabled[1].Name)
}

func TestRegistry_BySuffix(t *testing.T) {
	registry := testRegistry()

	testCases := []struct {
		model    string
		expected string
		found    bool
	}{
		{"gigachat-pro-internal", "internal", true},
		{"llama-3-proxy", "proxy", true},
		{"gigachat-pro", "", false},
		{"internal", "", false},
		{"model-off", "", false},
		{"model-proxy-internal", "internal", true},
	}

	for _, tc := range testCases {
		p, found := registry.BySuffix(tc.model)
		assert.Equal(t, tc.found, found, "model %s", tc.model)
		assert.Equal(t, tc.expected, p.Name, "model %s", tc.model)
	}
}

func TestRegistry_BySuffix_LongestWins(t *testing.T) {
	registry := NewRegistry()
	registry.Register(Provider{Name: "short", Enabled: true, Suffix: "x"})
	registry.Register(Provider{Name: "long", Enabled: true, Suffix: "internal-x"})

	p, ok := registry.BySuffix("model-internal-x")
	require.True(t, ok)
	assert.Equal(t, "long", p.Name)
}

func TestRegistry_ByURL(t *testing.T) {
	registry := testRegistry()

	p, ok := registry.ByURL("https://gigachat.internal.corp/v1/chat/completions")
	require.True(t, ok)
	assert.Equal(t, InternalProvider, p.Name)

	_, ok = registry.ByURL("http://disabled.local/v1")
	assert.False(t, ok)

	_, ok = registry.ByURL("")
	assert.False(t, ok)
}

func TestRegistry_Deployments(t *testing.T) {
	registry := testRegistry()

	added, removed := registry.SetDeployments(InternalProvider, []Deployment{
		{ModelName: "gigachat-pro-internal", UpstreamModel: "GigaChat-Pro"},
		{ModelName: "gigachat-internal", UpstreamModel: "GigaChat"},
	})
	assert.Equal(t, []string{"gigachat-internal", "gigachat-pro-internal"}, added)
	assert.Empty(t, removed)

	registry.SetDeployments(ProxyProvider, []Deployment{{ModelName: "a-proxy", UpstreamModel: "A"}})

	all := registry.Deployments()
	require.Len(t, all, 3)
	assert.Equal(t, "a-proxy", all[0].ModelName)
	assert.Equal(t, ProxyProvider, all[0].Provider, "provider is stamped on every deployment")

	d, ok := registry.Deployment("gigachat-pro-internal")
	require.True(t, ok)
	assert.Equal(t, "GigaChat-Pro", d.UpstreamModel)

	added, removed = registry.SetDeployments(InternalProvider, []Deployment{
		{ModelName: "gigachat-max-internal", UpstreamModel: "GigaChat-Max"},
		{ModelName: "gigachat-internal", UpstreamModel: "GigaChat"},
	})
	assert.Equal(t, []string{"gigachat-max-internal"}, added)
	assert.Equal(t, []string{"gigachat-pro-internal"}, removed)

	_, ok = registry.Deployment("gigachat-pro-internal")
	assert.False(t, ok)
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	registry := testRegistry()

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			registry.SetDeployments(InternalProvider, []Deployment{{ModelName: "m-internal", UpstreamModel: "M"}})
		}()
		go func() {
			defer wg.Done()
			_, _ = registry.BySuffix("m-internal")
			_ = registry.Deployments()
		}()
	}
	wg.Wait()

	_, ok := registry.Deployment("m-internal")
	assert.True(t, ok)
}

func TestProvider_Helpers(t *testing.T) {
	p := Provider{Name: "internal", Enabled: true, AuthValue: "v", Suffix: "internal"}

	assert.Equal(t, "GigaChat-Pro", p.UpstreamModel("GigaChat-Pro-internal"))
	assert.Equal(t, "gigachat-pro-internal", p.ModelName("GigaChat-Pro"))
	assert.Equal(t, map[string]string{DefaultAuthHeader: "v"}, p.AuthHeaders())

	p.Enabled = false
	assert.Nil(t, p.AuthHeaders())
	assert.False(t, p.Matches("x-internal"))
}

func TestProvider_Validate(t *testing.T) {
	assert.NoError(t, Provider{Name: "off"}.Validate(), "disabled providers are not validated")

	err := Provider{Name: "internal", Enabled: true}.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "url is required")
	assert.Contains(t, err.Error(), "auth header value is required")

	assert.NoError(t, testRegistry().Validate())

	registry := testRegistry()
	registry.Register(Provider{Name: "broken", Enabled: true, Suffix: "b"})
	assert.ErrorContains(t, registry.Validate(), `provider "broken"`)
}
