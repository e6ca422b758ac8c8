// Package hooks implements the pre-call, post-call success and post-call
// failure hooks the proxy runs around every upstream chat call.
package hooks

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mihaisavezi/gigachat-proxy/internal/providers"
	"github.com/mihaisavezi/gigachat-proxy/internal/token"
	"github.com/mihaisavezi/gigachat-proxy/internal/transform"
)

// NoAPIKey marks a request that authenticates through provider headers.
const NoAPIKey = "none"

// CallType is the kind of upstream call being made.
type CallType string

const (
	CallCompletion     CallType = "completion"
	CallTextCompletion CallType = "text_completion"
	CallEmbeddings     CallType = "embeddings"
)

// Caller describes the authenticated proxy client.
type Caller struct {
	APIKey     string
	RemoteAddr string
	UserAgent  string
}

// Cache is the host cache context. Hooks accept it for signature
// compatibility and do not use it.
type Cache interface {
	Get(key string) (any, bool)
	Set(key string, value any)
}

// TokenSource supplies vendor credentials. *token.Store implements it.
type TokenSource interface {
	Get(ctx context.Context, force bool) (token.Credential, error)
	Invalidate()
}

// authFailureMarkers are matched against the lowercased error text.
var authFailureMarkers = []string{"401", "unauthorized", "authentication", "invalid token"}

// IsAuthFailure reports whether err looks like a rejected credential.
func IsAuthFailure(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range authFailureMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

type Config struct {
	Tokens     TokenSource
	Classifier transform.Classifier
	Requests   *transform.RequestTransformer
	Responses  *transform.ResponseTransformer
	Registry   *providers.Registry
	Logger     *slog.Logger
}

// Hooks is constructed once per process and shared by every request.
type Hooks struct {
	tokens     TokenSource
	classifier transform.Classifier
	requests   *transform.RequestTransformer
	responses  *transform.ResponseTransformer
	registry   *providers.Registry
	logger     *slog.Logger
}

func New(cfg Config) *Hooks {
	h := &Hooks{
		tokens:     cfg.Tokens,
		classifier: cfg.Classifier,
		requests:   cfg.Requests,
		responses:  cfg.Responses,
		registry:   cfg.Registry,
		logger:     cfg.Logger,
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	if h.classifier == (transform.Classifier{}) {
		h.classifier = transform.NewClassifier("", "")
	}
	if h.requests == nil {
		h.requests = transform.NewRequestTransformer(h.logger, nil)
	}
	if h.responses == nil {
		h.responses = transform.NewResponseTransformer(h.logger, nil)
	}
	if h.registry == nil {
		h.registry = providers.NewRegistry()
	}
	return h
}

// IsTarget reports whether env is a vendor-bound request.
func (h *Hooks) IsTarget(env Envelope) bool {
	return h.classifier.IsTargetRequest(env)
}

// PreCall prepares env for dispatch and returns the envelope to send. A
// provider model gets its routing and header auth; any other vendor request
// gets a bearer token. Vendor requests are then reshaped. env itself is not
// modified, and on failure it is returned as is.
func (h *Hooks) PreCall(ctx context.Context, caller Caller, _ Cache, env Envelope, callType CallType) (out Envelope) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("Pre-call hook failed, using original request", "error", fmt.Errorf("panic: %v", r))
			out = env
		}
	}()

	work := env.Clone()
	model := work.Model()

	if p, ok := h.registry.BySuffix(model); ok {
		h.applyProvider(work, p, model)
	} else if h.IsTarget(work) {
		h.applyToken(ctx, work, model)
	}

	if h.IsTarget(work) {
		work = h.requests.Transform(work)
	}

	h.logger.Debug("Pre-call hook done",
		"model", model,
		"call_type", callType,
		"remote_addr", caller.RemoteAddr,
	)

	return work
}

func (h *Hooks) applyToken(ctx context.Context, work Envelope, model string) {
	if h.tokens == nil {
		return
	}

	cred, err := h.tokens.Get(ctx, false)
	if err != nil {
		h.logger.Error("Failed to obtain vendor token, continuing with current credentials",
			"model", model,
			"error", err,
		)
		return
	}

	work.setParam("api_key", cred.Value)
	h.logger.Debug("Vendor token attached", "model", model, "token", cred.Preview())
}

func (h *Hooks) applyProvider(work Envelope, p providers.Provider, model string) {
	upstream := p.UpstreamModel(model)
	apiBase := p.URL
	if d, ok := h.registry.Deployment(model); ok {
		upstream = d.UpstreamModel
		if d.APIBase != "" {
			apiBase = d.APIBase
		}
	}

	if apiBase != "" {
		work.setParam("api_base", apiBase)
	}

	if headers := p.AuthHeaders(); len(headers) > 0 {
		if params, ok := work.Params(); ok {
			mergeHeaders(params, "extra_headers", headers)
		} else {
			mergeHeaders(work, "extra_headers", headers)
		}
		if _, ok := work["headers"]; ok {
			mergeHeaders(work, "headers", headers)
		}
	}

	work.setParam("api_key", NoAPIKey)
	work.setParam("model", upstream)

	h.logger.Info("Routing model through provider",
		"model", model,
		"upstream_model", upstream,
		"provider", p.Name,
		"api_base", apiBase,
	)
}

// PostCallSuccess returns the OpenAI-shaped completion for vendor responses
// that transform cleanly and resp unchanged otherwise.
func (h *Hooks) PostCallSuccess(_ context.Context, env Envelope, _ Caller, resp any) (out any) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("Post-call hook failed, using original response", "error", fmt.Errorf("panic: %v", r))
			out = resp
		}
	}()

	if !h.IsTarget(env) {
		return resp
	}

	completion, ok := h.responses.Transform(resp)
	if !ok {
		return resp
	}
	return completion
}

// PostCallFailure invalidates the vendor token when a vendor request failed
// with what looks like an authentication error.
func (h *Hooks) PostCallFailure(_ context.Context, env Envelope, callErr error, _ Caller) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("Failure hook failed", "error", fmt.Errorf("panic: %v", r))
		}
	}()

	if !IsAuthFailure(callErr) {
		return
	}

	model := env.Model()
	if p, ok := h.registry.BySuffix(model); ok {
		h.logger.Warn("Provider rejected credentials",
			"model", model,
			"provider", p.Name,
			"error", callErr,
		)
	}

	if !h.IsTarget(env) || h.tokens == nil {
		return
	}

	h.logger.Warn("Vendor authentication failed, invalidating token", "model", model, "error", callErr)
	h.tokens.Invalidate()
}
