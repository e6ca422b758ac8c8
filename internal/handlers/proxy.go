package handlers

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/pkoukk/tiktoken-go"

	"github.com/mihaisavezi/gigachat-proxy/internal/config"
	"github.com/mihaisavezi/gigachat-proxy/internal/gigachat"
	"github.com/mihaisavezi/gigachat-proxy/internal/hooks"
	"github.com/mihaisavezi/gigachat-proxy/internal/metrics"
	"github.com/mihaisavezi/gigachat-proxy/internal/providers"
	"github.com/mihaisavezi/gigachat-proxy/internal/transform"
)

const maxRequestBody = 16 << 20

// hostOnlyKeys are envelope fields that describe routing and never reach the
// upstream body.
var hostOnlyKeys = []string{"api_key", "api_base", transform.ParamsKey, "extra_headers", "headers"}

// ProxyHandler serves chat completions by running the hook chain around the
// upstream call.
type ProxyHandler struct {
	config   *config.Manager
	hooks    *hooks.Hooks
	registry *providers.Registry
	client   *http.Client
	metrics  *metrics.Collector
	logger   *slog.Logger

	encOnce sync.Once
	enc     *tiktoken.Tiktoken
}

func NewProxyHandler(cfg *config.Manager, h *hooks.Hooks, registry *providers.Registry, client *http.Client, m *metrics.Collector, logger *slog.Logger) *ProxyHandler {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ProxyHandler{
		config:   cfg,
		hooks:    h,
		registry: registry,
		client:   client,
		metrics:  m,
		logger:   logger,
	}
}

func (h *ProxyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", "invalid_request_error")
		return
	}

	cfg := h.config.Get()

	var env hooks.Envelope
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody)).Decode(&env); err != nil {
		h.httpError(w, http.StatusBadRequest, "invalid request body: %v", err)
		return
	}
	if env == nil {
		h.httpError(w, http.StatusBadRequest, "request body must be a JSON object")
		return
	}
	stripHostOnlyKeys(env, h.logger)

	caller := hooks.Caller{
		APIKey:     clientAPIKey(r),
		RemoteAddr: r.RemoteAddr,
		UserAgent:  r.UserAgent(),
	}

	out := h.hooks.PreCall(r.Context(), caller, nil, env, hooks.CallCompletion)
	isTarget := h.hooks.IsTarget(out)

	base := out.LookupString("api_base")
	if base == "" {
		base = cfg.GigaChat.APIBase
	}
	target := h.targetLabel(base, isTarget)

	body := upstreamBody(out, isTarget)
	if cfg.Transform.CountTokens && isTarget {
		h.logger.Info("Prompt token estimate",
			"model", body["model"],
			"prompt_tokens", h.countPromptTokens(cfg.Transform.TokenEncoding, body["messages"]),
		)
	}

	payload, err := json.Marshal(body)
	if err != nil {
		h.httpError(w, http.StatusInternalServerError, "failed to encode upstream request: %v", err)
		return
	}

	url := strings.TrimRight(base, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(r.Context(), http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		h.httpError(w, http.StatusInternalServerError, "failed to create upstream request: %v", err)
		return
	}
	setUpstreamHeaders(req, out)

	streaming, _ := body["stream"].(bool)

	h.logger.Info("Proxying request",
		"model", env.Model(),
		"upstream_model", body["model"],
		"target", target,
		"url", url,
		"stream", streaming,
	)

	start := time.Now()
	resp, err := h.client.Do(req)
	if err != nil {
		h.metrics.Upstream(target, "error", time.Since(start))
		h.hooks.PostCallFailure(r.Context(), out, fmt.Errorf("upstream request failed: %w", err), caller)
		h.httpError(w, http.StatusBadGateway, "upstream request failed: %v", err)
		return
	}
	defer resp.Body.Close()

	bodyReader, err := h.decompressReader(resp)
	if err != nil {
		h.metrics.Upstream(target, strconv.Itoa(resp.StatusCode), time.Since(start))
		h.httpError(w, http.StatusBadGateway, "decompression error: %v", err)
		return
	}
	if closer, ok := bodyReader.(io.Closer); ok && bodyReader != resp.Body {
		defer closer.Close()
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		h.handleFailure(r.Context(), w, resp, bodyReader, out, caller)
	} else if streaming {
		h.handleStreamingResponse(w, resp, bodyReader)
	} else {
		h.handleResponse(r.Context(), w, resp, bodyReader, out, caller)
	}

	h.metrics.Upstream(target, strconv.Itoa(resp.StatusCode), time.Since(start))
}

func (h *ProxyHandler) handleFailure(ctx context.Context, w http.ResponseWriter, resp *http.Response, body io.Reader, env hooks.Envelope, caller hooks.Caller) {
	respBody, err := io.ReadAll(body)
	if err != nil {
		h.logger.Warn("Failed to read upstream error body", "error", err)
	}

	callErr := fmt.Errorf("upstream returned %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	h.hooks.PostCallFailure(ctx, env, callErr, caller)

	h.logger.Error("Upstream error response",
		"status", resp.StatusCode,
		"model", env.Model(),
		"body", truncate(string(respBody), 512),
	)

	h.copyHeaders(w, resp)
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(respBody)
}

func (h *ProxyHandler) handleResponse(ctx context.Context, w http.ResponseWriter, resp *http.Response, body io.Reader, env hooks.Envelope, caller hooks.Caller) {
	respBody, err := io.ReadAll(body)
	if err != nil {
		h.httpError(w, http.StatusBadGateway, "failed to read upstream response: %v", err)
		return
	}

	out := respBody

	var vendor gigachat.ChatResponse
	if err := json.Unmarshal(respBody, &vendor); err != nil {
		h.logger.Warn("Upstream response is not a chat completion, passing through", "error", err)
	} else if completion, ok := h.hooks.PostCallSuccess(ctx, env, caller, &vendor).(transform.Completion); ok {
		encoded, err := json.Marshal(completion)
		if err != nil {
			h.logger.Warn("Response encoding failed, using original", "error", err)
		} else {
			out = encoded
		}
		h.logUsage(resp.StatusCode, completion.Usage)
	}

	h.copyHeaders(w, resp)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.StatusCode)
	if _, err := w.Write(out); err != nil {
		h.logger.Error("Failed to write response", "error", err)
	}
}

// handleStreamingResponse pipes the event stream through unchanged.
func (h *ProxyHandler) handleStreamingResponse(w http.ResponseWriter, resp *http.Response, body io.Reader) {
	h.copyHeaders(w, resp)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(resp.StatusCode)

	reader := bufio.NewReader(body)
	lines := 0
	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			lines++
			if _, werr := w.Write(line); werr != nil {
				h.logger.Warn("Client went away during stream", "error", werr)
				return
			}
			h.flushResponse(w)
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				h.logger.Error("Stream read error", "error", err)
			}
			break
		}
	}

	h.logger.Info("Completed streaming response", "status", resp.StatusCode, "lines", lines)
}

func (h *ProxyHandler) targetLabel(base string, isTarget bool) string {
	if h.registry != nil {
		if p, ok := h.registry.ByURL(base); ok {
			return p.Name
		}
	}
	if isTarget {
		return "gigachat"
	}
	return "other"
}

// upstreamBody is the envelope without host-only keys. The model comes from
// the nested parameters object when the pre-call hook routed it there.
func upstreamBody(env hooks.Envelope, isTarget bool) map[string]any {
	body := maps.Clone(map[string]any(env))
	if model := env.LookupString("model"); model != "" {
		body["model"] = model
	}
	for _, key := range hostOnlyKeys {
		delete(body, key)
	}
	if isTarget {
		if _, ok := body["functions"]; ok {
			delete(body, "tools")
		}
		delete(body, "tool_choice")
	}
	return body
}

// stripHostOnlyKeys removes routing and credential fields a client sent.
// Only the hooks and the configuration may set them.
func stripHostOnlyKeys(env hooks.Envelope, logger *slog.Logger) {
	var dropped []string
	for _, key := range hostOnlyKeys {
		if _, ok := env[key]; ok {
			delete(env, key)
			dropped = append(dropped, key)
		}
	}
	if len(dropped) > 0 {
		logger.Warn("Ignoring client supplied routing fields", "fields", dropped)
	}
}

func setUpstreamHeaders(req *http.Request, env hooks.Envelope) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	if key := env.LookupString("api_key"); key != "" && key != hooks.NoAPIKey {
		req.Header.Set("Authorization", "Bearer "+key)
	}

	for _, key := range []string{"extra_headers", "headers"} {
		v, ok := env.Lookup(key)
		if !ok {
			continue
		}
		headers, ok := transform.MapOf(v)
		if !ok {
			continue
		}
		for name, value := range headers {
			if s, ok := value.(string); ok && s != "" {
				req.Header.Set(name, s)
			}
		}
	}
}

func clientAPIKey(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return r.Header.Get("X-API-Key")
}

func (h *ProxyHandler) countPromptTokens(encoding string, messages any) int {
	h.encOnce.Do(func() {
		enc, err := tiktoken.GetEncoding(encoding)
		if err != nil {
			h.logger.Error("Failed to get tiktoken encoding", "encoding", encoding, "error", err)
			return
		}
		h.enc = enc
	})
	if h.enc == nil {
		return 0
	}

	list, _ := transform.SliceOf(messages)
	var sb strings.Builder
	for _, msg := range list {
		if content, ok := transform.Field(msg, "content"); ok {
			sb.WriteString(transform.Flatten(content))
			sb.WriteByte('\n')
		}
	}
	return len(h.enc.Encode(sb.String(), nil, nil))
}

func (h *ProxyHandler) logUsage(status int, usage transform.CompletionUsage) {
	h.logger.Info("Successful response",
		"status", status,
		"prompt_tokens", usage.PromptTokens,
		"completion_tokens", usage.CompletionTokens,
		"total_tokens", usage.TotalTokens,
	)
}

func (h *ProxyHandler) decompressReader(resp *http.Response) (io.Reader, error) {
	var bodyReader io.Reader = resp.Body

	switch strings.ToLower(resp.Header.Get("Content-Encoding")) {
	case "gzip":
		gzipReader, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, err
		}
		bodyReader = gzipReader
	case "br":
		bodyReader = brotli.NewReader(resp.Body)
	}

	return bodyReader, nil
}

func (h *ProxyHandler) copyHeaders(w http.ResponseWriter, resp *http.Response) {
	for key, values := range resp.Header {
		// Skip compression headers since we handle decompression
		if key == "Content-Encoding" || key == "Content-Length" {
			continue
		}
		for _, value := range values {
			w.Header().Add(key, value)
		}
	}
}

func (h *ProxyHandler) flushResponse(w http.ResponseWriter) {
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
}

func (h *ProxyHandler) httpError(w http.ResponseWriter, code int, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	h.logger.Error("HTTP Error", "code", code, "message", msg)
	writeError(w, code, msg, errorType(code))
}

func errorType(code int) string {
	if code >= 500 {
		return "api_error"
	}
	return "invalid_request_error"
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
