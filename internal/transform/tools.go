package transform

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"
)

// ToolCall is an OpenAI tool invocation synthesized from a vendor
// function_call.
type ToolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	Function ToolCallFunction `json:"function"`
}

type ToolCallFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolsToFunctions maps OpenAI tools to flat vendor function definitions.
// Tools that are not of type "function", lack a function object or lack a
// name are dropped. Order is preserved.
func ToolsToFunctions(tools any) []map[string]any {
	list, ok := SliceOf(tools)
	if !ok {
		return nil
	}

	functions := make([]map[string]any, 0, len(list))
	for _, tool := range list {
		if typ, _ := StringField(tool, "type"); typ != "function" {
			continue
		}

		fn, ok := Field(tool, "function")
		if !ok {
			continue
		}

		name, _ := StringField(fn, "name")
		if name == "" {
			continue
		}

		description, _ := StringField(fn, "description")
		parameters, ok := Field(fn, "parameters")
		if !ok {
			parameters = map[string]any{}
		}

		functions = append(functions, map[string]any{
			"name":        name,
			"description": description,
			"parameters":  parameters,
		})
	}

	return functions
}

// ToolChoiceToFunctionCall maps tool_choice to the vendor function_call.
// {"type":"function","function":{"name":X}} becomes {"name":X}; every other
// value, including "none" and "auto", passes through unchanged.
func ToolChoiceToFunctionCall(choice any) any {
	if _, ok := choice.(string); ok {
		return choice
	}

	if typ, _ := StringField(choice, "type"); typ != "function" {
		return choice
	}

	fn, ok := Field(choice, "function")
	if !ok {
		return choice
	}

	name, _ := StringField(fn, "name")
	if name == "" {
		return choice
	}

	return map[string]any{"name": name}
}

// FunctionCallToToolCalls synthesizes OpenAI tool calls from a vendor
// function_call given as a mapping or a struct. It returns nil when the call
// has no name and exactly one tool call otherwise. The id is always new.
func FunctionCallToToolCalls(functionCall any) []ToolCall {
	name, _ := StringField(functionCall, "name")
	if name == "" {
		return nil
	}

	args, ok := Field(functionCall, "arguments")
	if !ok {
		args = map[string]any{}
	}

	return []ToolCall{{
		ID:   NewToolCallID(),
		Type: "function",
		Function: ToolCallFunction{
			Name:      name,
			Arguments: encodeArguments(args),
		},
	}}
}

// NewToolCallID returns a fresh "call_" identifier.
func NewToolCallID() string {
	return "call_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// encodeArguments returns args as a JSON string. A string that already holds
// valid JSON is kept verbatim.
func encodeArguments(args any) string {
	if s, ok := args.(string); ok {
		if trimmed := strings.TrimSpace(s); trimmed != "" && json.Valid([]byte(trimmed)) {
			return trimmed
		}
	}

	encoded, err := encodeJSON(args)
	if err != nil {
		return "{}"
	}
	return encoded
}
