package transform

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mihaisavezi/gigachat-proxy/internal/metrics"
)

// DefaultResponseModel names the model when the vendor response has none.
const DefaultResponseModel = "GigaChat"

const (
	FinishStop      = "stop"
	FinishToolCalls = "tool_calls"
)

var errNoChoices = errors.New("response has no choices")

// Completion is an OpenAI chat.completion object.
type Completion struct {
	ID      string             `json:"id"`
	Object  string             `json:"object"`
	Created int64              `json:"created"`
	Model   string             `json:"model"`
	Choices []CompletionChoice `json:"choices"`
	Usage   CompletionUsage    `json:"usage"`
}

type CompletionChoice struct {
	Index        int               `json:"index"`
	Message      CompletionMessage `json:"message"`
	FinishReason string            `json:"finish_reason"`
}

// CompletionMessage.Content is nil, encoded as null, when the model asked for
// a tool call.
type CompletionMessage struct {
	Role      string     `json:"role"`
	Content   *string    `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

type CompletionUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ResponseTransformer rebuilds OpenAI completions from vendor responses.
type ResponseTransformer struct {
	logger  *slog.Logger
	metrics *metrics.Collector
	now     func() time.Time
}

func NewResponseTransformer(logger *slog.Logger, m *metrics.Collector) *ResponseTransformer {
	if logger == nil {
		logger = slog.Default()
	}
	return &ResponseTransformer{logger: logger, metrics: m, now: time.Now}
}

// Transform accepts a decoded mapping, a gigachat.ChatResponse or any struct
// with the same fields. ok is false when the response has no usable choice or
// the conversion failed; the caller should then use the raw response.
func (t *ResponseTransformer) Transform(resp any) (completion Completion, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			t.fail(fmt.Errorf("panic: %v", r))
			completion, ok = Completion{}, false
		}
	}()

	completion, err := t.transform(resp)
	if err != nil {
		t.fail(err)
		return Completion{}, false
	}

	t.metrics.Transform("response", false)
	return completion, true
}

func (t *ResponseTransformer) transform(resp any) (Completion, error) {
	raw, _ := Field(resp, "choices")
	choices, _ := SliceOf(raw)
	if len(choices) == 0 {
		return Completion{}, errNoChoices
	}

	msg, _ := Field(choices[0], "message")

	role, _ := StringField(msg, "role")
	if role == "" {
		role = "assistant"
	}

	message := CompletionMessage{Role: role, Content: contentOf(msg)}
	finish := FinishStop

	if fc, ok := Field(msg, "function_call"); ok {
		if calls := FunctionCallToToolCalls(fc); len(calls) > 0 {
			message.ToolCalls = calls
			message.Content = nil
			finish = FinishToolCalls
		}
	}

	model, _ := StringField(resp, "model")
	if model == "" {
		model = DefaultResponseModel
	}

	return Completion{
		ID:      NewCompletionID(),
		Object:  "chat.completion",
		Created: t.now().Unix(),
		Model:   model,
		Choices: []CompletionChoice{{
			Index:        0,
			Message:      message,
			FinishReason: finish,
		}},
		Usage: usageOf(resp),
	}, nil
}

func contentOf(msg any) *string {
	content, ok := Field(msg, "content")
	if !ok {
		return nil
	}
	s, isString := content.(string)
	if !isString {
		s = Flatten(content)
	}
	return &s
}

func usageOf(resp any) CompletionUsage {
	usage, ok := Field(resp, "usage")
	if !ok {
		return CompletionUsage{}
	}
	prompt, _ := IntField(usage, "prompt_tokens")
	completion, _ := IntField(usage, "completion_tokens")
	total, _ := IntField(usage, "total_tokens")
	return CompletionUsage{
		PromptTokens:     prompt,
		CompletionTokens: completion,
		TotalTokens:      total,
	}
}

func (t *ResponseTransformer) fail(err error) {
	t.metrics.Transform("response", true)
	t.logger.Warn("Response transformation failed, using original", "error", err)
}

// NewCompletionID returns a fresh "chatcmpl-" identifier.
func NewCompletionID() string {
	return "chatcmpl-" + strings.ReplaceAll(uuid.NewString(), "-", "")
}
