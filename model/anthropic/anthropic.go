// Package anthropic provides an engine wrapper for the Anthropic Claude API.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"

	"github.com/hupe1980/toolmesh/core"
	"github.com/hupe1980/toolmesh/model"
	"github.com/hupe1980/toolmesh/tool"
)

// Options configures the Anthropic engine adapter (temperature, model id,
// max tokens, API key). Extend via functional options to preserve stability.
type Options struct {
	Model       anthropic.Model
	Temperature float64
	MaxTokens   int64
	APIKey      string
}

// Engine wraps the Anthropic Messages API behind the generic model.Engine
// interface.
type Engine struct {
	client *anthropic.Client
	opts   Options
}

var _ model.Engine = (*Engine)(nil)

// NewEngine creates a new Anthropic engine using the official client
func NewEngine(optFns ...func(o *Options)) *Engine {
	opts := defaultOptions()

	for _, fn := range optFns {
		fn(&opts)
	}

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}

	client := anthropic.NewClient(clientOpts...)

	return &Engine{
		client: &client,
		opts:   opts,
	}
}

// NewEngineFromClient creates a new Anthropic engine from an existing client
func NewEngineFromClient(client *anthropic.Client, optFns ...func(o *Options)) *Engine {
	opts := defaultOptions()

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Engine{
		client: client,
		opts:   opts,
	}
}

func defaultOptions() Options {
	return Options{
		Model:       anthropic.ModelClaude3_5Sonnet20241022,
		Temperature: 0.7,
		MaxTokens:   4096,
	}
}

// Complete implements non-streaming generation with tool calling.
func (e *Engine) Complete(ctx context.Context, req model.Request) (*model.Response, error) {
	params := anthropic.MessageNewParams{
		Model:       e.opts.Model,
		Messages:    buildMessages(req.Messages),
		MaxTokens:   e.opts.MaxTokens,
		Temperature: anthropic.Float(e.opts.Temperature),
	}

	if systemBlocks := buildSystemBlocks(req); len(systemBlocks) > 0 {
		params.System = systemBlocks
	}

	if len(req.Tools) > 0 {
		params.Tools = buildTools(req.Tools)
	}

	resp, err := e.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic api error: %w", err)
	}

	out := &model.Response{
		FinishReason: "stop",
		Usage: &model.TokenUsage{
			PromptTokens:     int(resp.Usage.InputTokens),
			CompletionTokens: int(resp.Usage.OutputTokens),
			TotalTokens:      int(resp.Usage.InputTokens + resp.Usage.OutputTokens),
		},
	}
	if resp.StopReason != "" {
		out.FinishReason = string(resp.StopReason)
	}

	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			out.Text += block.AsText().Text
		case "tool_use":
			toolBlock := block.AsToolUse()
			out.ToolCalls = append(out.ToolCalls, model.ToolCall{
				ID:   toolBlock.ID,
				Name: toolBlock.Name,
				Args: decodeInput(toolBlock.Input),
			})
		}
	}

	return out, nil
}

// buildSystemBlocks combines the standing instructions with any system-role
// messages from the log; the Messages API takes them out of band.
func buildSystemBlocks(req model.Request) []anthropic.TextBlockParam {
	var blocks []anthropic.TextBlockParam

	if req.Instructions != "" {
		blocks = append(blocks, anthropic.TextBlockParam{Text: req.Instructions})
	}

	for _, m := range req.Messages {
		if m.Role == core.RoleSystem && m.Content != "" {
			blocks = append(blocks, anthropic.TextBlockParam{Text: m.Content})
		}
	}

	return blocks
}

// buildMessages converts the normalized log to Anthropic message params.
// Tool results become user turns, and consecutive same-role turns are merged
// into one message since the Messages API requires alternating roles.
func buildMessages(messages []core.Message) []anthropic.MessageParam {
	var out []anthropic.MessageParam

	appendBlock := func(role string, block anthropic.ContentBlockParamUnion) {
		if len(out) > 0 && string(out[len(out)-1].Role) == role {
			last := &out[len(out)-1]
			last.Content = append(last.Content, block)
			return
		}
		if role == core.RoleAssistant {
			out = append(out, anthropic.NewAssistantMessage(block))
			return
		}
		out = append(out, anthropic.NewUserMessage(block))
	}

	for _, m := range messages {
		switch m.Role {
		case core.RoleSystem:
			continue // handled out of band
		case core.RoleAssistant:
			if m.Content != "" {
				appendBlock(core.RoleAssistant, anthropic.NewTextBlock(m.Content))
			}
		case core.RoleTool:
			text := m.Content
			if m.ToolName != "" {
				text = fmt.Sprintf("[tool %s result] %s", m.ToolName, m.Content)
			}
			appendBlock(core.RoleUser, anthropic.NewTextBlock(text))
		default:
			if m.Content != "" {
				appendBlock(core.RoleUser, anthropic.NewTextBlock(m.Content))
			}
		}
	}

	return out
}

// buildTools converts tool definitions to the Anthropic tool format.
func buildTools(tools []tool.Definition) []anthropic.ToolUnionParam {
	anthropicTools := make([]anthropic.ToolUnionParam, len(tools))

	for i, t := range tools {
		inputSchema := anthropic.ToolInputSchemaParam{
			Type: constant.Object("object"),
		}

		if params := t.Function.Parameters; params != nil {
			if properties, exists := params["properties"]; exists {
				inputSchema.Properties = properties
			}
			if required, exists := params["required"]; exists {
				inputSchema.Required = requiredStrings(required)
			}
		}

		anthropicTools[i] = anthropic.ToolUnionParamOfTool(inputSchema, t.Function.Name)
	}

	return anthropicTools
}

// requiredStrings normalizes a schema required list, which may arrive as
// []string or as []any from decoded JSON.
func requiredStrings(required any) []string {
	switch list := required.(type) {
	case []string:
		return list
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// decodeInput converts the SDK's tool input payload into a plain map.
func decodeInput(input any) map[string]any {
	if input == nil {
		return nil
	}

	raw, err := json.Marshal(input)
	if err != nil {
		return nil
	}

	var args map[string]any
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil
	}

	return args
}

// Info returns metadata describing this Anthropic engine implementation.
func (e *Engine) Info() model.Info {
	return model.Info{
		Name:          string(e.opts.Model),
		Provider:      "anthropic",
		SupportsTools: true,
	}
}
