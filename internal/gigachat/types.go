// Package gigachat holds the vendor wire model and the HTTP client settings
// used for every call to the vendor.
package gigachat

// ChatResponse is the body returned by the vendor chat completions endpoint.
type ChatResponse struct {
	ID      string   `json:"id,omitempty"`
	Object  string   `json:"object,omitempty"`
	Created int64    `json:"created,omitempty"`
	Model   string   `json:"model,omitempty"`
	Choices []Choice `json:"choices,omitempty"`
	Usage   *Usage   `json:"usage,omitempty"`
}

type Choice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason,omitempty"`
}

// Message is a single vendor message. The vendor reports an invoked function
// through FunctionCall and has no notion of tool call identifiers.
type Message struct {
	Role             string        `json:"role,omitempty"`
	Content          string        `json:"content"`
	Name             string        `json:"name,omitempty"`
	Created          int64         `json:"created,omitempty"`
	FunctionCall     *FunctionCall `json:"function_call,omitempty"`
	FunctionsStateID string        `json:"functions_state_id,omitempty"`
}

// FunctionCall usually carries arguments as a decoded object, unlike OpenAI
// which sends them as a JSON string. Some compatible upstreams send the
// string form, so both are accepted.
type FunctionCall struct {
	Name      string `json:"name,omitempty"`
	Arguments any    `json:"arguments,omitempty"`
}

type Usage struct {
	PromptTokens          int `json:"prompt_tokens"`
	CompletionTokens      int `json:"completion_tokens"`
	TotalTokens           int `json:"total_tokens"`
	PrecachedPromptTokens int `json:"precached_prompt_tokens,omitempty"`
}

// Function is the flat function definition accepted in the request
// "functions" list.
type Function struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Parameters  any    `json:"parameters,omitempty"`
}

// ModelList is the body of GET {base}/models.
type ModelList struct {
	Object string  `json:"object,omitempty"`
	Data   []Model `json:"data"`
}

type Model struct {
	ID      string `json:"id"`
	Object  string `json:"object,omitempty"`
	OwnedBy string `json:"owned_by,omitempty"`
}
