package transform

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"strings"
	"sync/atomic"

	"github.com/mihaisavezi/gigachat-proxy/internal/gigachat"
	"github.com/mihaisavezi/gigachat-proxy/internal/metrics"
)

// ParamsKey is the nested parameters object some hosts keep routing fields in.
const ParamsKey = "litellm_params"

var errMessagesNotList = errors.New("messages is not a list")

// payloadKeys are copied from the request into the vendor payload when set.
var payloadKeys = []string{"model", "temperature", "max_tokens", "top_p", "stream"}

// Classifier decides whether a request targets the vendor.
type Classifier struct {
	modelMarker string
	hostMarker  string
}

// NewClassifier lowercases both markers. Empty markers use the vendor
// defaults.
func NewClassifier(modelMarker, hostMarker string) Classifier {
	if modelMarker == "" {
		modelMarker = gigachat.DefaultModelMarker
	}
	if hostMarker == "" {
		hostMarker = gigachat.DefaultHostMarker
	}
	return Classifier{
		modelMarker: strings.ToLower(modelMarker),
		hostMarker:  strings.ToLower(hostMarker),
	}
}

// IsTargetRequest checks model and api_base at the top level and inside the
// nested parameters object. It has no side effects.
func (c Classifier) IsTargetRequest(envelope map[string]any) bool {
	if c.matches(envelope) {
		return true
	}
	if params, ok := Field(envelope, ParamsKey); ok {
		return c.matches(params)
	}
	return false
}

func (c Classifier) matches(v any) bool {
	if model, ok := StringField(v, "model"); ok && strings.Contains(strings.ToLower(model), c.modelMarker) {
		return true
	}
	if base, ok := StringField(v, "api_base"); ok && strings.Contains(strings.ToLower(base), c.hostMarker) {
		return true
	}
	return false
}

// Stats are best-effort counters; they never drive control flow.
type Stats struct {
	ProcessedRequests int64 `json:"processed_requests"`
	TotalMessages     int64 `json:"total_messages"`
	ConvertedMessages int64 `json:"converted_messages"`
	Errors            int64 `json:"errors"`
}

// RequestTransformer rewrites OpenAI chat requests into the vendor shape.
type RequestTransformer struct {
	logger  *slog.Logger
	metrics *metrics.Collector

	processed atomic.Int64
	messages  atomic.Int64
	converted atomic.Int64
	errors    atomic.Int64
}

func NewRequestTransformer(logger *slog.Logger, m *metrics.Collector) *RequestTransformer {
	if logger == nil {
		logger = slog.Default()
	}
	return &RequestTransformer{logger: logger, metrics: m}
}

// Transform returns a copy of envelope with flattened message content,
// tools mapped to functions and tool_choice mapped to function_call. The
// input is never modified. On any failure the original envelope is returned.
func (t *RequestTransformer) Transform(envelope map[string]any) (out map[string]any) {
	defer func() {
		if r := recover(); r != nil {
			t.fail(fmt.Errorf("panic: %v", r))
			out = envelope
		}
	}()

	result, total, converted, err := t.transform(envelope)
	if err != nil {
		t.fail(err)
		return envelope
	}

	t.processed.Add(1)
	t.messages.Add(int64(total))
	t.converted.Add(int64(converted))
	t.metrics.Messages(total, converted)
	t.metrics.Transform("request", false)

	t.logger.Debug("Transformed request",
		"model", result["model"],
		"messages", total,
		"converted", converted,
		"functions", len(asFunctions(result["functions"])),
	)

	return result
}

func (t *RequestTransformer) transform(envelope map[string]any) (map[string]any, int, int, error) {
	work := maps.Clone(envelope)
	if work == nil {
		work = map[string]any{}
	}

	payload := make(map[string]any, len(payloadKeys)+3)
	for _, key := range payloadKeys {
		if v, ok := work[key]; ok && v != nil {
			payload[key] = v
		}
	}

	var total, converted int
	if raw, ok := work["messages"]; ok && raw != nil {
		list, ok := SliceOf(raw)
		if !ok {
			return nil, 0, 0, errMessagesNotList
		}
		messages, n := normalizeMessages(list)
		total, converted = len(messages), n
		payload["messages"] = messages
	}

	if tools, ok := work["tools"]; ok && tools != nil {
		if functions := ToolsToFunctions(tools); len(functions) > 0 {
			payload["functions"] = functions
		}
	}

	if choice, ok := work["tool_choice"]; ok && choice != nil && choice != "none" {
		payload["function_call"] = ToolChoiceToFunctionCall(choice)
	}

	maps.Copy(work, payload)
	return work, total, converted, nil
}

// normalizeMessages returns a new slice; changed messages are copied, others
// are shared with the input.
func normalizeMessages(list []any) ([]any, int) {
	out := make([]any, len(list))
	converted := 0

	for i, msg := range list {
		out[i] = msg

		m, ok := msg.(map[string]any)
		if !ok {
			continue
		}

		content, ok := m["content"]
		if !ok || content == nil {
			continue
		}
		if _, isString := content.(string); isString {
			continue
		}

		var flat string
		if _, isList := SliceOf(content); isList {
			flat = Flatten(content)
		} else {
			flat = stringify(content)
		}

		cp := maps.Clone(m)
		cp["content"] = flat
		out[i] = cp
		converted++
	}

	return out, converted
}

func (t *RequestTransformer) fail(err error) {
	t.errors.Add(1)
	t.metrics.Transform("request", true)
	t.logger.Error("Request transformation failed, using original", "error", err)
}

func (t *RequestTransformer) Stats() Stats {
	return Stats{
		ProcessedRequests: t.processed.Load(),
		TotalMessages:     t.messages.Load(),
		ConvertedMessages: t.converted.Load(),
		Errors:            t.errors.Load(),
	}
}

func (t *RequestTransformer) ResetStats() {
	t.processed.Store(0)
	t.messages.Store(0)
	t.converted.Store(0)
	t.errors.Store(0)
}

func asFunctions(v any) []map[string]any {
	fns, _ := v.([]map[string]any)
	return fns
}
