package tool

import (
	"fmt"
)

// Category groups tools by the kind of backend that serves them. The render
// category is special: its calls are broadcast to connected UI clients
// instead of being executed.
type Category string

const (
	CategorySystem Category = "system"
	CategoryData   Category = "data"
	CategoryRender Category = "render"
)

// Source identifies which backend produced a tool result.
type Source string

const (
	// SourceLocal marks results from a registered capability provider.
	SourceLocal Source = "local"
	// SourceMCP marks results forwarded to a server process over the
	// transport.
	SourceMCP Source = "mcp"
	// SourceWebsocket marks render commands handed to the broadcaster.
	SourceWebsocket Source = "websocket"
)

// Descriptor declares one callable tool.
//
// Name is globally unique and is what models and callers use. HandlerKey is
// the implementation-side key: the method name a capability provider exposes,
// or the command field of a broadcast envelope. Parameters is a minimal
// JSON-Schema-like map (type, properties, required) used for schema export
// and optional argument validation.
type Descriptor struct {
	Name        string         `json:"name"`
	Category    Category       `json:"category"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters,omitempty"`
	HandlerKey  string         `json:"handler_key"`
}

// Definition is the function-calling export shape consumed by inference
// engines: {"type":"function","function":{name, description, parameters}}.
type Definition struct {
	Type     string         `json:"type"`
	Function FunctionSchema `json:"function"`
}

// FunctionSchema is the inner function declaration of a Definition.
type FunctionSchema struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Definition renders the descriptor in the function-calling export shape.
func (d Descriptor) Definition() Definition {
	params := d.Parameters
	if params == nil {
		params = map[string]any{"type": "object", "properties": map[string]any{}}
	}
	return Definition{
		Type: "function",
		Function: FunctionSchema{
			Name:        d.Name,
			Description: d.Description,
			Parameters:  params,
		},
	}
}

// ToolError represents errors that occur during tool execution.
type ToolError struct {
	Tool    string `json:"tool"`              // Name of the tool that failed
	Message string `json:"message"`           // Error message
	Code    string `json:"code"`              // Error code for categorization
	Details any    `json:"details,omitempty"` // Additional error details
}

func (e *ToolError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("tool error [%s] in %s: %s", e.Code, e.Tool, e.Message)
	}
	return fmt.Sprintf("tool error in %s: %s", e.Tool, e.Message)
}

// NewToolError creates a new ToolError with the specified details.
func NewToolError(tool, message, code string) *ToolError {
	return &ToolError{
		Tool:    tool,
		Message: message,
		Code:    code,
	}
}
