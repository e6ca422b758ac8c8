package gigachat

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFunctionCallArgumentsShapes(t *testing.T) {
	tests := []struct {
		name string
		body string
		want any
	}{
		{
			name: "object",
			body: `{"name":"f","arguments":{"city":"Москва"}}`,
			want: map[string]any{"city": "Москва"},
		},
		{
			name: "json string",
			body: `{"name":"f","arguments":"{\"city\":\"Moscow\"}"}`,
			want: `{"city":"Moscow"}`,
		},
		{
			name: "missing",
			body: `{"name":"f"}`,
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var fc FunctionCall
			require.NoError(t, json.Unmarshal([]byte(tt.body), &fc))
			assert.Equal(t, "f", fc.Name)
			assert.Equal(t, tt.want, fc.Arguments)
		})
	}
}

func TestChatResponseWithStringArguments(t *testing.T) {
	raw := `{"model":"GigaChat","choices":[{"index":0,"finish_reason":"function_call",
		"message":{"role":"assistant","content":"","function_call":{"name":"get_weather","arguments":"{\"location\":\"Moscow\"}"}}}]}`

	var resp ChatResponse
	require.NoError(t, json.Unmarshal([]byte(raw), &resp))
	require.Len(t, resp.Choices, 1)
	require.NotNil(t, resp.Choices[0].Message.FunctionCall)
	assert.Equal(t, `{"location":"Moscow"}`, resp.Choices[0].Message.FunctionCall.Arguments)
}
