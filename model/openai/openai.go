// Package openai provides an implementation of model.Engine using the OpenAI
// Chat Completions API (including function/tool calling). It adapts
// ToolMesh's normalized Request/Response structures into the SDK's message
// format and back.
package openai

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/openai/openai-go"

	"github.com/hupe1980/toolmesh/core"
	"github.com/hupe1980/toolmesh/model"
)

// Options configure the OpenAI engine adapter.
// Fields mirror a subset of Chat Completion parameters intentionally kept
// minimal; extend via functional options without breaking callers.
type Options struct {
	Model               string
	Temperature         float64
	MaxCompletionTokens int64
}

// Engine wraps the OpenAI Chat Completions API behind the generic
// model.Engine interface.
type Engine struct {
	client *openai.Client
	opts   Options
}

var _ model.Engine = (*Engine)(nil)

// NewEngine creates a new OpenAI engine using the official client
func NewEngine(optFns ...func(o *Options)) *Engine {
	client := openai.NewClient()
	return NewEngineFromClient(&client, optFns...)
}

// NewEngineFromClient creates a new OpenAI engine from an existing client
func NewEngineFromClient(client *openai.Client, optFns ...func(o *Options)) *Engine {
	opts := Options{
		Model:               openai.ChatModelGPT4oMini,
		Temperature:         0.7,
		MaxCompletionTokens: 4096,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Engine{client: client, opts: opts}
}

// Complete implements non-streaming generation with tool calling.
func (e *Engine) Complete(ctx context.Context, req model.Request) (*model.Response, error) {
	params := e.buildParams(req, buildMessages(req))

	resp, err := e.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai api error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no choices returned")
	}

	ch0 := resp.Choices[0]

	out := &model.Response{
		Text:         ch0.Message.Content,
		FinishReason: ch0.FinishReason,
		Usage: &model.TokenUsage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
	}

	for _, tc := range ch0.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, model.ToolCall{
			ID:   tc.ID,
			Name: tc.Function.Name,
			Args: decodeArgs(tc.Function.Arguments),
		})
	}

	return out, nil
}

// buildMessages converts the normalized request into OpenAI chat messages.
// Tool-result messages are flattened into user turns since the message log
// carries plain text rather than call/response id pairs.
func buildMessages(req model.Request) []openai.ChatCompletionMessageParamUnion {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)

	if req.Instructions != "" {
		messages = append(messages, openai.SystemMessage(req.Instructions))
	}

	for _, m := range req.Messages {
		switch m.Role {
		case core.RoleSystem:
			messages = append(messages, openai.SystemMessage(m.Content))
		case core.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(m.Content))
		case core.RoleTool:
			messages = append(messages, openai.UserMessage(toolResultText(m)))
		default:
			if m.Content != "" {
				messages = append(messages, openai.UserMessage(m.Content))
			}
		}
	}

	return messages
}

// buildParams assembles the OpenAI request parameters including tool
// definitions.
func (e *Engine) buildParams(
	req model.Request,
	messages []openai.ChatCompletionMessageParamUnion,
) openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Messages:            messages,
		Model:               e.opts.Model,
		Temperature:         openai.Float(e.opts.Temperature),
		MaxCompletionTokens: openai.Int(e.opts.MaxCompletionTokens),
	}
	if len(req.Tools) == 0 {
		return params
	}
	tools := make([]openai.ChatCompletionToolParam, len(req.Tools))
	for i, tdef := range req.Tools {
		tools[i] = openai.ChatCompletionToolParam{
			Type: "function",
			Function: openai.FunctionDefinitionParam{
				Name:        tdef.Function.Name,
				Description: openai.String(tdef.Function.Description),
				Parameters:  tdef.Function.Parameters,
			},
		}
	}
	params.Tools = tools
	return params
}

// decodeArgs parses the SDK's JSON argument string into a map. Malformed
// argument payloads yield nil rather than failing the whole completion.
func decodeArgs(raw string) map[string]any {
	if raw == "" {
		return nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil
	}
	return args
}

func toolResultText(m core.Message) string {
	if m.ToolName != "" {
		return fmt.Sprintf("[tool %s result] %s", m.ToolName, m.Content)
	}
	return fmt.Sprintf("[tool result] %s", m.Content)
}

// Info returns metadata describing this OpenAI engine implementation.
func (e *Engine) Info() model.Info {
	return model.Info{
		Name:          e.opts.Model,
		Provider:      "openai",
		SupportsTools: true,
	}
}
