package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractToolCall(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		wantTool string
		wantArgs map[string]any
		wantOK   bool
	}{
		{
			name:   "plain prose has no call",
			text:   "The current time is 12:00 UTC.",
			wantOK: false,
		},
		{
			name:   "empty text",
			text:   "",
			wantOK: false,
		},
		{
			name:     "bare call",
			text:     `{"tool": "get_time", "args": {}}`,
			wantTool: "get_time",
			wantArgs: map[string]any{},
			wantOK:   true,
		},
		{
			name:     "call embedded in prose",
			text:     `Let me look that up. {"tool": "search_records", "args": {"query": "deploys", "limit": 3}} One moment.`,
			wantTool: "search_records",
			wantArgs: map[string]any{"query": "deploys", "limit": float64(3)},
			wantOK:   true,
		},
		{
			name:     "missing args yields empty map",
			text:     `{"tool": "get_time"}`,
			wantTool: "get_time",
			wantArgs: map[string]any{},
			wantOK:   true,
		},
		{
			name:     "null args yields empty map",
			text:     `{"tool": "get_time", "args": null}`,
			wantTool: "get_time",
			wantArgs: map[string]any{},
			wantOK:   true,
		},
		{
			name:   "string args rejected",
			text:   `{"tool": "get_time", "args": "now"}`,
			wantOK: false,
		},
		{
			name:   "array args rejected",
			text:   `{"tool": "get_time", "args": [1, 2]}`,
			wantOK: false,
		},
		{
			name:   "empty tool name rejected",
			text:   `{"tool": "", "args": {}}`,
			wantOK: false,
		},
		{
			name:   "numeric tool field rejected",
			text:   `{"tool": 42, "args": {}}`,
			wantOK: false,
		},
		{
			name:   "non-JSON braces rejected",
			text:   "if (x) { return y }",
			wantOK: false,
		},
		{
			name:     "braces inside quoted values do not break the scan",
			text:     `{"tool": "show_notification", "args": {"message": "use {curly} braces {here}"}}`,
			wantTool: "show_notification",
			wantArgs: map[string]any{"message": "use {curly} braces {here}"},
			wantOK:   true,
		},
		{
			name:     "escaped quotes inside values",
			text:     `{"tool": "show_notification", "args": {"message": "say \"hi\" to {everyone}"}}`,
			wantTool: "show_notification",
			wantArgs: map[string]any{"message": `say "hi" to {everyone}`},
			wantOK:   true,
		},
		{
			name:     "first of two calls wins",
			text:     `{"tool": "get_time", "args": {}} and later {"tool": "system_status", "args": {}}`,
			wantTool: "get_time",
			wantArgs: map[string]any{},
			wantOK:   true,
		},
		{
			name:     "non-call object before the call is skipped",
			text:     `{"status": "thinking"} {"tool": "get_time", "args": {}}`,
			wantTool: "get_time",
			wantArgs: map[string]any{},
			wantOK:   true,
		},
		{
			name:     "call nested in a wrapper object is found",
			text:     `{"response": {"tool": "get_time", "args": {}}}`,
			wantTool: "get_time",
			wantArgs: map[string]any{},
			wantOK:   true,
		},
		{
			name:     "unbalanced brace before the call is skipped",
			text:     `stray { opener then {"tool": "get_time", "args": {}}`,
			wantTool: "get_time",
			wantArgs: map[string]any{},
			wantOK:   true,
		},
		{
			name:   "truncated call is not extracted",
			text:   `{"tool": "get_time", "args": {`,
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tool, args, ok := ExtractToolCall(tt.text)
			require.Equal(t, tt.wantOK, ok)
			if !tt.wantOK {
				return
			}
			assert.Equal(t, tt.wantTool, tool)
			assert.Equal(t, tt.wantArgs, args)
		})
	}
}

func TestExtractToolCall_NestedArgsSurvive(t *testing.T) {
	text := `{"tool": "render_chart", "args": {"chart_type": "line", "series": [{"label": "a", "points": [1, 2]}]}}`

	name, args, ok := ExtractToolCall(text)
	require.True(t, ok)
	assert.Equal(t, "render_chart", name)
	assert.Equal(t, "line", args["chart_type"])

	series, ok := args["series"].([]any)
	require.True(t, ok)
	require.Len(t, series, 1)

	first, ok := series[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "a", first["label"])
}
