package hooks

import (
	"maps"

	"github.com/mihaisavezi/gigachat-proxy/internal/transform"
)

// Envelope is the mutable request dictionary passed through the hook chain.
// The host owns it; hooks only write to copies.
type Envelope map[string]any

// Clone copies the top level and the nested parameters object, the two
// levels hooks write to.
func (e Envelope) Clone() Envelope {
	out := Envelope(maps.Clone(map[string]any(e)))
	if out == nil {
		out = Envelope{}
	}
	if params, ok := out.Params(); ok {
		out[transform.ParamsKey] = maps.Clone(params)
	}
	return out
}

// Params returns the nested parameters object when the envelope has one.
func (e Envelope) Params() (map[string]any, bool) {
	params, ok := e[transform.ParamsKey].(map[string]any)
	return params, ok && params != nil
}

// Lookup returns key from the nested parameters object, falling back to the
// top level.
func (e Envelope) Lookup(key string) (any, bool) {
	if params, ok := e.Params(); ok {
		if v, ok := params[key]; ok && v != nil {
			return v, true
		}
	}
	v, ok := e[key]
	return v, ok && v != nil
}

// LookupString is Lookup for string values.
func (e Envelope) LookupString(key string) string {
	v, _ := e.Lookup(key)
	s, _ := v.(string)
	return s
}

// Model is the top-level model name.
func (e Envelope) Model() string {
	s, _ := e["model"].(string)
	return s
}

// setParam writes into the nested parameters object when present, else at
// the top level. It must only be called on a clone.
func (e Envelope) setParam(key string, value any) {
	if params, ok := e.Params(); ok {
		params[key] = value
		return
	}
	e[key] = value
}

// mergeHeaders adds headers to the map stored under key in dst, copying the
// existing map first.
func mergeHeaders(dst map[string]any, key string, headers map[string]string) {
	merged := make(map[string]any, len(headers))
	if existing, ok := transform.MapOf(dst[key]); ok {
		maps.Copy(merged, existing)
	}
	for name, value := range headers {
		merged[name] = value
	}
	dst[key] = merged
}
