package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/toolmesh/core"
	"github.com/hupe1980/toolmesh/internal/util"
	"github.com/hupe1980/toolmesh/logging"
	"github.com/hupe1980/toolmesh/model"
	"github.com/hupe1980/toolmesh/router"
	"github.com/hupe1980/toolmesh/tool"
)

const (
	// DefaultMaxIterations bounds the tool loop within one chat turn.
	DefaultMaxIterations = 5

	// DefaultHistoryWindow is how many trailing messages each completion
	// request carries.
	DefaultHistoryWindow = 20
)

// Options configures an Orchestrator.
type Options struct {
	// MaxIterations bounds the tool loop per turn. Defaults to
	// DefaultMaxIterations.
	MaxIterations int

	// HistoryWindow bounds the message history sent per completion request.
	// Defaults to DefaultHistoryWindow; <= 0 sends the whole log.
	HistoryWindow int

	// Instructions is a standing system prompt, rendered as a text template
	// against the conversation metadata (plus ConversationID) each turn.
	Instructions string

	// PreferSpeed biases routing toward low-latency engines.
	PreferSpeed bool

	// Model pins every turn to one registered engine, skipping routing.
	// Overridable per call.
	Model string

	// Router picks engines per task. Defaults to router.New().
	Router *router.Router

	// Callbacks receive lifecycle events. Defaults to an empty manager.
	Callbacks *CallbackManager

	// Logger receives loop events. Defaults to a no-op logger.
	Logger logging.Logger
}

// ChatOptions tunes a single turn.
type ChatOptions struct {
	// Model pins this turn to one registered engine, skipping routing.
	Model string

	// TaskType overrides keyword detection for this turn.
	TaskType router.TaskType

	// PreferSpeed biases routing toward low-latency engines.
	PreferSpeed bool
}

// TurnResult summarizes one completed chat turn.
type TurnResult struct {
	ConversationID string           `json:"conversation_id"`
	Answer         string           `json:"answer"`
	Model          string           `json:"model"`
	TaskType       router.TaskType  `json:"task_type"`
	Iterations     int              `json:"iterations"`
	ToolResults    []tool.Result    `json:"tool_results,omitempty"`
	Usage          model.TokenUsage `json:"usage"`
	LoopExhausted  bool             `json:"loop_exhausted"`
}

// Stats are the orchestrator's aggregate counters, updated on every append.
type Stats struct {
	Conversations int64            `json:"conversations"`
	Messages      int64            `json:"messages"`
	ToolCalls     int64            `json:"tool_calls"`
	ToolUsage     map[string]int64 `json:"tool_usage"`
}

// Orchestrator drives chat turns over explicitly injected dependencies.
//
// Contract:
//   - Chat appends the user message before anything can fail besides
//     validation and instruction rendering, so the log always reflects what
//     the caller sent.
//   - At most MaxIterations completions run per turn; a model-call limiter
//     enforces the bound independently of loop bookkeeping.
//   - Native structured tool calls take precedence over text extraction;
//     an extracted name missing from the catalog means no tool call.
//   - Safe for concurrent turns on distinct or shared conversations.
type Orchestrator struct {
	store    core.ConversationStore
	pool     *model.Pool
	executor *tool.Executor
	router   *router.Router

	maxIterations int
	window        int
	instructions  string
	preferSpeed   bool
	fixedModel    string
	callbacks     *CallbackManager
	logger        logging.Logger

	statsMu sync.Mutex
	stats   Stats
}

// New constructs an Orchestrator over the given store, engine pool and tool
// executor.
func New(store core.ConversationStore, pool *model.Pool, executor *tool.Executor, optFns ...func(o *Options)) *Orchestrator {
	opts := Options{
		MaxIterations: DefaultMaxIterations,
		HistoryWindow: DefaultHistoryWindow,
		Logger:        logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Router == nil {
		opts.Router = router.New()
	}

	if opts.Callbacks == nil {
		opts.Callbacks = NewCallbackManager()
	}

	if opts.MaxIterations <= 0 {
		opts.MaxIterations = DefaultMaxIterations
	}

	return &Orchestrator{
		store:         store,
		pool:          pool,
		executor:      executor,
		router:        opts.Router,
		maxIterations: opts.MaxIterations,
		window:        opts.HistoryWindow,
		instructions:  opts.Instructions,
		preferSpeed:   opts.PreferSpeed,
		fixedModel:    opts.Model,
		callbacks:     opts.Callbacks,
		logger:        opts.Logger,
		stats:         Stats{ToolUsage: make(map[string]int64)},
	}
}

// Chat runs one turn: append the user message, then loop completions and
// tool executions until the engine answers in plain text or the iteration
// budget runs out. The last completion text is the answer either way.
func (o *Orchestrator) Chat(ctx context.Context, conversationID, message string, optFns ...func(o *ChatOptions)) (*TurnResult, error) {
	copts := ChatOptions{
		Model:       o.fixedModel,
		PreferSpeed: o.preferSpeed,
	}

	for _, fn := range optFns {
		fn(&copts)
	}

	if strings.TrimSpace(message) == "" {
		return nil, fmt.Errorf("empty message")
	}

	conv, created, err := o.store.GetOrCreate(conversationID)
	if err != nil {
		return nil, fmt.Errorf("conversation: %w", err)
	}

	if created {
		o.bumpConversations()
	}

	instructions, err := o.renderInstructions(conv)
	if err != nil {
		return nil, fmt.Errorf("render instructions: %w", err)
	}

	taskType := copts.TaskType
	if taskType == "" {
		taskType = router.DetectTaskType(message)
	}

	start := time.Now()
	o.logger.Info("chat.turn.start", "conversation", conversationID, "task", string(taskType))

	baseCtx := CallbackContext{ConversationID: conversationID, TaskType: taskType}

	history := conv.GetMessages()
	userMsg, err := o.appendMessage(ctx, conversationID, core.Message{Role: core.RoleUser, Content: message}, baseCtx)
	if err != nil {
		return nil, err
	}
	history = append(history, userMsg)

	result := &TurnResult{
		ConversationID: conversationID,
		TaskType:       taskType,
		LoopExhausted:  true,
	}

	limiter := core.NewModelLimiter(o.maxIterations)
	definitions := o.executor.Catalog().Definitions()

	for i := 0; i < o.maxIterations; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if err := limiter.Increment(); err != nil {
			break
		}

		result.Iterations = i + 1

		engineName, engine, err := o.selectEngine(taskType, copts)
		if err != nil {
			return nil, err
		}

		result.Model = engineName

		cc := baseCtx
		cc.Model = engineName
		cc.Iteration = result.Iterations
		if err := o.callbacks.Execute(ctx, CallbackOnModelSelect, &cc); err != nil {
			return nil, fmt.Errorf("on_model_select callback: %w", err)
		}

		resp, err := engine.Complete(ctx, model.Request{
			Instructions: instructions,
			Messages:     windowOf(history, o.window),
			Tools:        definitions,
		})
		if err != nil {
			o.logger.Error("chat.model_error", "conversation", conversationID, "model", engineName, "error", err.Error())
			return nil, fmt.Errorf("model completion: %w", err)
		}

		if resp.Usage != nil {
			result.Usage.PromptTokens += resp.Usage.PromptTokens
			result.Usage.CompletionTokens += resp.Usage.CompletionTokens
			result.Usage.TotalTokens += resp.Usage.TotalTokens
		}

		result.Answer = resp.Text

		calls := o.findToolCalls(resp)

		assistantMsg, err := o.appendMessage(ctx, conversationID, core.Message{
			Role:    core.RoleAssistant,
			Content: assistantContent(resp, calls),
			Model:   engineName,
		}, cc)
		if err != nil {
			return nil, err
		}
		history = append(history, assistantMsg)

		if len(calls) == 0 {
			result.LoopExhausted = false
			break
		}

		toolMsgs, results, err := o.runToolCalls(ctx, conversationID, calls, cc)
		if err != nil {
			return nil, err
		}
		history = append(history, toolMsgs...)
		result.ToolResults = append(result.ToolResults, results...)
	}

	if result.LoopExhausted {
		cc := baseCtx
		cc.Model = result.Model
		cc.Iteration = result.Iterations
		if err := o.callbacks.Execute(ctx, CallbackOnLoopExhausted, &cc); err != nil {
			return nil, fmt.Errorf("on_loop_exhausted callback: %w", err)
		}
		o.logger.Warn("chat.loop_exhausted", "conversation", conversationID, "iterations", result.Iterations)
	}

	o.logger.Info("chat.turn.complete",
		"conversation", conversationID,
		"model", result.Model,
		"iterations", result.Iterations,
		"tool_calls", len(result.ToolResults),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return result, nil
}

// SearchConversations scans message logs for a substring, newest
// conversations first.
func (o *Orchestrator) SearchConversations(query string, limit int) []core.SearchMatch {
	return o.store.Search(query, limit)
}

// Stats returns a snapshot of the aggregate counters.
func (o *Orchestrator) Stats() Stats {
	o.statsMu.Lock()
	defer o.statsMu.Unlock()

	snapshot := o.stats
	snapshot.ToolUsage = make(map[string]int64, len(o.stats.ToolUsage))
	for name, count := range o.stats.ToolUsage {
		snapshot.ToolUsage[name] = count
	}

	return snapshot
}

// findToolCalls resolves the iteration's tool invocations: native structured
// calls when the engine surfaced any, otherwise the first embedded call
// extracted from the completion text, provided its name is in the catalog.
func (o *Orchestrator) findToolCalls(resp *model.Response) []tool.Call {
	if len(resp.ToolCalls) > 0 {
		calls := make([]tool.Call, 0, len(resp.ToolCalls))
		for _, tc := range resp.ToolCalls {
			args := tc.Args
			if args == nil {
				args = map[string]any{}
			}
			calls = append(calls, tool.Call{Tool: tc.Name, Args: args})
		}
		return calls
	}

	name, args, ok := ExtractToolCall(resp.Text)
	if !ok || !o.executor.Catalog().Has(name) {
		return nil
	}

	return []tool.Call{{Tool: name, Args: args}}
}

// runToolCalls executes the calls, records them and appends their result
// envelopes as tool messages. Results and messages keep input order.
func (o *Orchestrator) runToolCalls(ctx context.Context, conversationID string, calls []tool.Call, cc CallbackContext) ([]core.Message, []tool.Result, error) {
	results := o.executor.ExecuteMany(ctx, calls)

	messages := make([]core.Message, 0, len(results))
	for i, res := range results {
		o.bumpToolCall(res.Tool)

		rec := core.NewToolCallRecord(calls[i].Tool, calls[i].Args)
		rec.Success = res.Success
		rec.Error = res.Error
		rec.Source = string(res.Source)
		rec.DurationMS = res.DurationMS
		if err := o.store.AppendToolCall(conversationID, rec); err != nil {
			return nil, nil, fmt.Errorf("append tool call: %w", err)
		}

		tcc := cc
		tcc.ToolResult = &results[i]
		if err := o.callbacks.Execute(ctx, CallbackOnToolCall, &tcc); err != nil {
			return nil, nil, fmt.Errorf("on_tool_call callback: %w", err)
		}

		payload, err := json.Marshal(res)
		if err != nil {
			return nil, nil, fmt.Errorf("marshal tool result: %w", err)
		}

		msg, err := o.appendMessage(ctx, conversationID, core.Message{
			Role:     core.RoleTool,
			Content:  string(payload),
			ToolName: res.Tool,
		}, cc)
		if err != nil {
			return nil, nil, err
		}
		messages = append(messages, msg)
	}

	return messages, results, nil
}

// appendMessage stores the message, bumps counters and fires the on_message
// callback with the stored (id and timestamp assigned) message.
func (o *Orchestrator) appendMessage(ctx context.Context, conversationID string, msg core.Message, cc CallbackContext) (core.Message, error) {
	stored, err := o.store.AppendMessage(conversationID, msg)
	if err != nil {
		return core.Message{}, fmt.Errorf("append message: %w", err)
	}

	o.bumpMessages()

	cc.Message = &stored
	if err := o.callbacks.Execute(ctx, CallbackOnMessage, &cc); err != nil {
		return core.Message{}, fmt.Errorf("on_message callback: %w", err)
	}

	return stored, nil
}

// selectEngine resolves the engine for one iteration: a pinned model when
// set, otherwise the router's pick over the pool's registered names. A
// routed name missing from the pool (the router's default fallback need not
// be registered) degrades to the first registered engine.
func (o *Orchestrator) selectEngine(taskType router.TaskType, copts ChatOptions) (string, model.Engine, error) {
	if copts.Model != "" {
		engine, ok := o.pool.Get(copts.Model)
		if !ok {
			return "", nil, fmt.Errorf("model %s not registered", copts.Model)
		}
		return copts.Model, engine, nil
	}

	names := o.pool.Names()
	if len(names) == 0 {
		return "", nil, fmt.Errorf("no engines registered")
	}

	sel := o.router.SelectModel(names, taskType, func(so *router.SelectOptions) {
		so.PreferSpeed = copts.PreferSpeed
	})

	if engine, ok := o.pool.Get(sel.Model); ok {
		return sel.Model, engine, nil
	}

	o.logger.Warn("chat.model_unregistered", "model", sel.Model, "using", names[0])
	engine, _ := o.pool.Get(names[0])

	return names[0], engine, nil
}

// renderInstructions renders the standing instructions template against the
// conversation metadata. ConversationID is always available to the template.
func (o *Orchestrator) renderInstructions(conv *core.Conversation) (string, error) {
	if o.instructions == "" {
		return "", nil
	}

	state := make(map[string]any, len(conv.Metadata)+1)
	for k, v := range conv.Metadata {
		state[k] = v
	}
	state["ConversationID"] = conv.ID

	return util.RenderTemplate(o.instructions, state)
}

func (o *Orchestrator) bumpConversations() {
	o.statsMu.Lock()
	defer o.statsMu.Unlock()
	o.stats.Conversations++
}

func (o *Orchestrator) bumpMessages() {
	o.statsMu.Lock()
	defer o.statsMu.Unlock()
	o.stats.Messages++
}

func (o *Orchestrator) bumpToolCall(name string) {
	o.statsMu.Lock()
	defer o.statsMu.Unlock()
	o.stats.ToolCalls++
	o.stats.ToolUsage[name]++
}

// assistantContent is what gets logged for the assistant turn. Engines that
// answer through native tool calls often return empty text; synthesizing the
// embedded-call shape keeps the permanent log self-describing.
func assistantContent(resp *model.Response, calls []tool.Call) string {
	if resp.Text != "" || len(calls) == 0 {
		return resp.Text
	}

	payload, err := json.Marshal(struct {
		Tool string         `json:"tool"`
		Args map[string]any `json:"args"`
	}{Tool: calls[0].Tool, Args: calls[0].Args})
	if err != nil {
		return resp.Text
	}

	return string(payload)
}

// windowOf returns the trailing n messages (all of them when n <= 0).
func windowOf(messages []core.Message, n int) []core.Message {
	if n > 0 && len(messages) > n {
		return messages[len(messages)-n:]
	}

	return messages
}
