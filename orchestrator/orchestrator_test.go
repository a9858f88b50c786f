package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/toolmesh/conversation"
	"github.com/hupe1980/toolmesh/core"
	"github.com/hupe1980/toolmesh/model"
	"github.com/hupe1980/toolmesh/router"
	"github.com/hupe1980/toolmesh/tool"
)

// -------------------- Fixture --------------------

// chatFixture wires a store, a pool holding one scripted mock engine and an
// executor with a local system provider into an orchestrator pinned to the
// mock. The provider records the arguments each get_time call received.
type chatFixture struct {
	orch  *Orchestrator
	mock  *model.MockEngine
	store *conversation.InMemoryStore

	mu       sync.Mutex
	timeArgs []map[string]any
}

func newChatFixture(t *testing.T, optFns ...func(o *Options)) *chatFixture {
	t.Helper()

	f := &chatFixture{
		mock:  model.NewMockEngine("mock-1"),
		store: conversation.NewInMemoryStore(),
	}

	pool := model.NewPool()
	pool.Register("mock-1", f.mock)

	exec := tool.NewExecutor(tool.DefaultCatalog())
	require.NoError(t, exec.RegisterProvider(tool.NewFuncProvider(tool.CategorySystem, map[string]tool.Handler{
		"getTime": func(ctx context.Context, args map[string]any) (any, error) {
			f.mu.Lock()
			f.timeArgs = append(f.timeArgs, args)
			f.mu.Unlock()
			return "2026-01-02T12:00:00Z", nil
		},
	})))

	all := append([]func(o *Options){func(o *Options) {
		o.Model = "mock-1"
	}}, optFns...)

	f.orch = New(f.store, pool, exec, all...)
	return f
}

func (f *chatFixture) recordedTimeArgs() []map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]map[string]any(nil), f.timeArgs...)
}

// failingEngine errors on every completion.
type failingEngine struct{ err error }

func (e *failingEngine) Complete(ctx context.Context, req model.Request) (*model.Response, error) {
	return nil, e.err
}

func (e *failingEngine) Info() model.Info {
	return model.Info{Name: "failing", Provider: "test"}
}

var _ model.Engine = (*failingEngine)(nil)

// -------------------- Plain Turns --------------------

func TestOrchestrator_PlainAnswerTurn(t *testing.T) {
	f := newChatFixture(t)
	f.mock.Enqueue(model.Response{Text: "The service is healthy."})

	res, err := f.orch.Chat(context.Background(), "conv-1", "How is the service doing?")
	require.NoError(t, err)

	assert.Equal(t, "conv-1", res.ConversationID)
	assert.Equal(t, "The service is healthy.", res.Answer)
	assert.Equal(t, "mock-1", res.Model)
	assert.Equal(t, 1, res.Iterations)
	assert.False(t, res.LoopExhausted)
	assert.Empty(t, res.ToolResults)
	assert.Equal(t, router.TaskChat, res.TaskType)

	conv, err := f.store.Get("conv-1")
	require.NoError(t, err)
	require.NotNil(t, conv)

	msgs := conv.GetMessages()
	require.Len(t, msgs, 2)
	assert.Equal(t, core.RoleUser, msgs[0].Role)
	assert.Equal(t, "How is the service doing?", msgs[0].Content)
	assert.Equal(t, core.RoleAssistant, msgs[1].Role)
	assert.Equal(t, "The service is healthy.", msgs[1].Content)
	assert.Equal(t, "mock-1", msgs[1].Model)
	assert.Greater(t, msgs[1].ID, msgs[0].ID)

	stats := f.orch.Stats()
	assert.Equal(t, int64(1), stats.Conversations)
	assert.Equal(t, int64(2), stats.Messages)
	assert.Equal(t, int64(0), stats.ToolCalls)
}

func TestOrchestrator_EmptyMessageRejected(t *testing.T) {
	f := newChatFixture(t)

	_, err := f.orch.Chat(context.Background(), "conv-1", "   ")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty message")

	conv, err := f.store.Get("conv-1")
	require.NoError(t, err)
	assert.Nil(t, conv, "validation runs before the conversation is created")

	stats := f.orch.Stats()
	assert.Equal(t, int64(0), stats.Conversations)
	assert.Equal(t, int64(0), stats.Messages)
}

func TestOrchestrator_SecondTurnReusesConversation(t *testing.T) {
	f := newChatFixture(t)
	f.mock.Enqueue(model.Response{Text: "one"})
	f.mock.Enqueue(model.Response{Text: "two"})

	_, err := f.orch.Chat(context.Background(), "conv-1", "first question")
	require.NoError(t, err)
	_, err = f.orch.Chat(context.Background(), "conv-1", "second question")
	require.NoError(t, err)

	conv, err := f.store.Get("conv-1")
	require.NoError(t, err)
	require.NotNil(t, conv)
	assert.Len(t, conv.GetMessages(), 4)

	stats := f.orch.Stats()
	assert.Equal(t, int64(1), stats.Conversations, "only the first turn created the conversation")
	assert.Equal(t, int64(4), stats.Messages)
}

// -------------------- Tool Loop --------------------

func TestOrchestrator_EmbeddedToolCallLoop(t *testing.T) {
	f := newChatFixture(t)
	f.mock.Enqueue(model.Response{Text: `Checking. {"tool": "get_time", "args": {}}`})
	f.mock.Enqueue(model.Response{Text: "It is 12:00 UTC."})

	res, err := f.orch.Chat(context.Background(), "conv-1", "What time is it?")
	require.NoError(t, err)

	assert.Equal(t, "It is 12:00 UTC.", res.Answer)
	assert.Equal(t, 2, res.Iterations)
	assert.False(t, res.LoopExhausted)
	require.Len(t, res.ToolResults, 1)
	assert.Equal(t, "get_time", res.ToolResults[0].Tool)
	assert.True(t, res.ToolResults[0].Success)
	assert.Equal(t, tool.SourceLocal, res.ToolResults[0].Source)

	conv, err := f.store.Get("conv-1")
	require.NoError(t, err)
	require.NotNil(t, conv)

	msgs := conv.GetMessages()
	require.Len(t, msgs, 4)
	assert.Equal(t, core.RoleUser, msgs[0].Role)
	assert.Equal(t, core.RoleAssistant, msgs[1].Role)
	assert.Equal(t, core.RoleTool, msgs[2].Role)
	assert.Equal(t, "get_time", msgs[2].ToolName)
	assert.Equal(t, core.RoleAssistant, msgs[3].Role)

	for i := 1; i < len(msgs); i++ {
		assert.Greater(t, msgs[i].ID, msgs[i-1].ID)
	}

	// The tool message carries the whole result envelope as JSON.
	var envelope tool.Result
	require.NoError(t, json.Unmarshal([]byte(msgs[2].Content), &envelope))
	assert.Equal(t, "get_time", envelope.Tool)
	assert.True(t, envelope.Success)
	assert.Equal(t, "2026-01-02T12:00:00Z", envelope.Result)

	records := conv.GetToolCalls()
	require.Len(t, records, 1)
	assert.Equal(t, "get_time", records[0].Tool)
	assert.True(t, records[0].Success)
	assert.Equal(t, string(tool.SourceLocal), records[0].Source)
	assert.NotEmpty(t, records[0].ID)
	assert.False(t, records[0].Timestamp.IsZero())

	stats := f.orch.Stats()
	assert.Equal(t, int64(4), stats.Messages)
	assert.Equal(t, int64(1), stats.ToolCalls)
	assert.Equal(t, int64(1), stats.ToolUsage["get_time"])

	// The second completion saw the tool result in its history.
	reqs := f.mock.Requests()
	require.Len(t, reqs, 2)
	assert.Len(t, reqs[0].Messages, 1)
	require.Len(t, reqs[1].Messages, 3)
	assert.Equal(t, core.RoleTool, reqs[1].Messages[2].Role)
}

func TestOrchestrator_NativeCallsTakePrecedence(t *testing.T) {
	f := newChatFixture(t)
	f.mock.Enqueue(model.Response{
		Text:      `{"tool": "search_records", "args": {"query": "x"}}`,
		ToolCalls: []model.ToolCall{{ID: "call_1", Name: "get_time"}},
	})
	f.mock.Enqueue(model.Response{Text: "Done."})

	res, err := f.orch.Chat(context.Background(), "conv-1", "check the clock")
	require.NoError(t, err)

	require.Len(t, res.ToolResults, 1)
	assert.Equal(t, "get_time", res.ToolResults[0].Tool, "structured calls win over embedded text")
	assert.True(t, res.ToolResults[0].Success)

	// Nil structured arguments arrive at the handler as an empty map.
	recorded := f.recordedTimeArgs()
	require.Len(t, recorded, 1)
	assert.NotNil(t, recorded[0])
	assert.Empty(t, recorded[0])
}

func TestOrchestrator_NativeCallSynthesizesAssistantContent(t *testing.T) {
	f := newChatFixture(t)
	f.mock.Enqueue(model.Response{ToolCalls: []model.ToolCall{{ID: "c1", Name: "get_time"}}})
	f.mock.Enqueue(model.Response{Text: "noon"})

	_, err := f.orch.Chat(context.Background(), "conv-1", "time please")
	require.NoError(t, err)

	conv, err := f.store.Get("conv-1")
	require.NoError(t, err)
	require.NotNil(t, conv)

	msgs := conv.GetMessages()
	require.Len(t, msgs, 4)

	name, _, ok := ExtractToolCall(msgs[1].Content)
	require.True(t, ok, "assistant turn records the call shape when the engine returned no text")
	assert.Equal(t, "get_time", name)
}

func TestOrchestrator_UnknownEmbeddedToolIsFinalAnswer(t *testing.T) {
	f := newChatFixture(t)
	answer := `{"tool": "launch_rockets", "args": {}}`
	f.mock.Enqueue(model.Response{Text: answer})

	res, err := f.orch.Chat(context.Background(), "conv-1", "do something")
	require.NoError(t, err)

	assert.Equal(t, answer, res.Answer)
	assert.Equal(t, 1, res.Iterations)
	assert.False(t, res.LoopExhausted)
	assert.Empty(t, res.ToolResults)

	conv, err := f.store.Get("conv-1")
	require.NoError(t, err)
	require.NotNil(t, conv)
	assert.Len(t, conv.GetMessages(), 2)
}

func TestOrchestrator_UnknownNativeToolSettlesIntoEnvelope(t *testing.T) {
	f := newChatFixture(t)
	f.mock.Enqueue(model.Response{ToolCalls: []model.ToolCall{{ID: "c1", Name: "launch_rockets"}}})
	f.mock.Enqueue(model.Response{Text: "That tool does not exist."})

	res, err := f.orch.Chat(context.Background(), "conv-1", "do something")
	require.NoError(t, err)

	assert.Equal(t, "That tool does not exist.", res.Answer)
	require.Len(t, res.ToolResults, 1)
	assert.False(t, res.ToolResults[0].Success)
	assert.Contains(t, res.ToolResults[0].Error, "unknown tool")
}

func TestOrchestrator_LoopExhaustion(t *testing.T) {
	var exhaustedAt []int
	cbs := NewCallbackManager()
	cbs.Register(NewFunctionCallback(CallbackOnLoopExhausted, func(ctx context.Context, cc *CallbackContext) error {
		exhaustedAt = append(exhaustedAt, cc.Iteration)
		return nil
	}))

	f := newChatFixture(t, func(o *Options) {
		o.MaxIterations = 2
		o.Callbacks = cbs
	})

	f.mock.Enqueue(model.Response{Text: `{"tool": "get_time", "args": {}}`})
	f.mock.Enqueue(model.Response{Text: `Still checking. {"tool": "get_time", "args": {}}`})

	res, err := f.orch.Chat(context.Background(), "conv-1", "keep checking the clock")
	require.NoError(t, err)

	assert.True(t, res.LoopExhausted)
	assert.Equal(t, 2, res.Iterations)
	assert.Equal(t, `Still checking. {"tool": "get_time", "args": {}}`, res.Answer,
		"last completion text stands as the answer")
	assert.Len(t, res.ToolResults, 2)
	assert.Equal(t, []int{2}, exhaustedAt)
	assert.Len(t, f.mock.Requests(), 2, "no completion beyond the budget")
}

func TestOrchestrator_UsageAccumulatesAcrossIterations(t *testing.T) {
	f := newChatFixture(t)
	f.mock.Enqueue(model.Response{
		Text:  `{"tool": "get_time", "args": {}}`,
		Usage: &model.TokenUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	})
	f.mock.Enqueue(model.Response{
		Text:  "noon",
		Usage: &model.TokenUsage{PromptTokens: 20, CompletionTokens: 2, TotalTokens: 22},
	})

	res, err := f.orch.Chat(context.Background(), "conv-1", "time please")
	require.NoError(t, err)
	assert.Equal(t, model.TokenUsage{PromptTokens: 30, CompletionTokens: 7, TotalTokens: 37}, res.Usage)
}

// -------------------- History & Instructions --------------------

func TestOrchestrator_HistoryWindowBoundsRequests(t *testing.T) {
	f := newChatFixture(t, func(o *Options) {
		o.HistoryWindow = 2
	})

	f.mock.Enqueue(model.Response{Text: "first answer"})
	f.mock.Enqueue(model.Response{Text: "second answer"})

	_, err := f.orch.Chat(context.Background(), "conv-1", "first question")
	require.NoError(t, err)
	_, err = f.orch.Chat(context.Background(), "conv-1", "second question")
	require.NoError(t, err)

	reqs := f.mock.Requests()
	require.Len(t, reqs, 2)
	assert.Len(t, reqs[0].Messages, 1)

	// Three messages exist when the second completion runs; only the
	// trailing two are sent.
	require.Len(t, reqs[1].Messages, 2)
	assert.Equal(t, core.RoleAssistant, reqs[1].Messages[0].Role)
	assert.Equal(t, "first answer", reqs[1].Messages[0].Content)
	assert.Equal(t, "second question", reqs[1].Messages[1].Content)
}

func TestOrchestrator_RequestsCarryCatalogDefinitions(t *testing.T) {
	f := newChatFixture(t)
	f.mock.Enqueue(model.Response{Text: "ok"})

	_, err := f.orch.Chat(context.Background(), "conv-1", "hi")
	require.NoError(t, err)

	reqs := f.mock.Requests()
	require.Len(t, reqs, 1)
	require.NotEmpty(t, reqs[0].Tools)
	assert.Equal(t, "function", reqs[0].Tools[0].Type)
}

func TestOrchestrator_InstructionsTemplate(t *testing.T) {
	f := newChatFixture(t, func(o *Options) {
		o.Instructions = "You are assisting {{.user}} in conversation {{.ConversationID}}."
	})
	require.NoError(t, f.store.SetMetadata("conv-7", "user", "ada"))

	f.mock.Enqueue(model.Response{Text: "Hello ada."})

	_, err := f.orch.Chat(context.Background(), "conv-7", "hi")
	require.NoError(t, err)

	reqs := f.mock.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "You are assisting ada in conversation conv-7.", reqs[0].Instructions)
}

// -------------------- Callbacks --------------------

func TestOrchestrator_CallbackSequence(t *testing.T) {
	var seq []string
	record := func(kind CallbackType) *FunctionCallback {
		return NewFunctionCallback(kind, func(ctx context.Context, cc *CallbackContext) error {
			switch kind {
			case CallbackOnMessage:
				seq = append(seq, "message:"+cc.Message.Role)
			case CallbackOnToolCall:
				seq = append(seq, "tool:"+cc.ToolResult.Tool)
			case CallbackOnModelSelect:
				seq = append(seq, "model:"+cc.Model)
			}
			return nil
		})
	}

	cbs := NewCallbackManager()
	cbs.Register(record(CallbackOnMessage))
	cbs.Register(record(CallbackOnToolCall))
	cbs.Register(record(CallbackOnModelSelect))

	f := newChatFixture(t, func(o *Options) { o.Callbacks = cbs })
	f.mock.Enqueue(model.Response{Text: `{"tool": "get_time", "args": {}}`})
	f.mock.Enqueue(model.Response{Text: "noon"})

	_, err := f.orch.Chat(context.Background(), "conv-1", "time please")
	require.NoError(t, err)

	assert.Equal(t, []string{
		"message:user",
		"model:mock-1",
		"message:assistant",
		"tool:get_time",
		"message:tool",
		"model:mock-1",
		"message:assistant",
	}, seq)
}

func TestOrchestrator_CallbackErrorAbortsTurn(t *testing.T) {
	cbs := NewCallbackManager()
	cbs.Register(NewFunctionCallback(CallbackOnMessage, func(ctx context.Context, cc *CallbackContext) error {
		return errors.New("sink unavailable")
	}))

	f := newChatFixture(t, func(o *Options) {
		o.Callbacks = cbs
	})
	f.mock.Enqueue(model.Response{Text: "never delivered"})

	_, err := f.orch.Chat(context.Background(), "conv-1", "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "on_message callback")
	assert.Contains(t, err.Error(), "sink unavailable")

	// The append itself preceded the callback failure.
	conv, err := f.store.Get("conv-1")
	require.NoError(t, err)
	require.NotNil(t, conv)
	assert.Len(t, conv.GetMessages(), 1)
	assert.Empty(t, f.mock.Requests())
}

// -------------------- Engine Selection --------------------

func TestOrchestrator_RoutedSelection(t *testing.T) {
	store := conversation.NewInMemoryStore()
	pool := model.NewPool()
	pool.Register("gpt-4o", model.NewMockEngine("gpt-4o"))
	pool.Register("gpt-4o-mini", model.NewMockEngine("gpt-4o-mini"))

	orch := New(store, pool, tool.NewExecutor(tool.DefaultCatalog()))

	res, err := orch.Chat(context.Background(), "conv-1", "hello there")
	require.NoError(t, err)

	// A plain greeting reads as chat, and the benchmark table's chat winner
	// is registered.
	assert.Equal(t, router.TaskChat, res.TaskType)
	assert.Equal(t, "gpt-4o", res.Model)
}

func TestOrchestrator_RoutedFallbackDegradesToRegistered(t *testing.T) {
	store := conversation.NewInMemoryStore()
	pool := model.NewPool()
	pool.Register("my-local-llm", model.NewMockEngine("my-local-llm"))

	orch := New(store, pool, tool.NewExecutor(tool.DefaultCatalog()))

	res, err := orch.Chat(context.Background(), "conv-1", "hello there")
	require.NoError(t, err)
	assert.Equal(t, "my-local-llm", res.Model,
		"router default is unregistered, the registered engine serves anyway")
}

func TestOrchestrator_PinnedModelMustBeRegistered(t *testing.T) {
	f := newChatFixture(t)

	_, err := f.orch.Chat(context.Background(), "conv-1", "hi", func(o *ChatOptions) {
		o.Model = "ghost"
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not registered")

	// The user message was already logged when selection failed.
	conv, err := f.store.Get("conv-1")
	require.NoError(t, err)
	require.NotNil(t, conv)
	assert.Len(t, conv.GetMessages(), 1)
}

func TestOrchestrator_NoEnginesRegistered(t *testing.T) {
	store := conversation.NewInMemoryStore()
	orch := New(store, model.NewPool(), tool.NewExecutor(tool.DefaultCatalog()))

	_, err := orch.Chat(context.Background(), "conv-1", "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no engines registered")
}

func TestOrchestrator_ModelErrorPropagates(t *testing.T) {
	store := conversation.NewInMemoryStore()
	pool := model.NewPool()
	pool.Register("failing", &failingEngine{err: errors.New("quota exceeded")})

	orch := New(store, pool, tool.NewExecutor(tool.DefaultCatalog()), func(o *Options) {
		o.Model = "failing"
	})

	_, err := orch.Chat(context.Background(), "conv-1", "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model completion")
	assert.Contains(t, err.Error(), "quota exceeded")

	conv, err := store.Get("conv-1")
	require.NoError(t, err)
	require.NotNil(t, conv)
	assert.Len(t, conv.GetMessages(), 1, "only the user message made it into the log")
}

func TestOrchestrator_CanceledContext(t *testing.T) {
	f := newChatFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.orch.Chat(ctx, "conv-1", "hi")
	require.ErrorIs(t, err, context.Canceled)
}

// -------------------- Concurrency & Aggregates --------------------

func TestOrchestrator_ConcurrentTurns(t *testing.T) {
	f := newChatFixture(t)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := f.orch.Chat(context.Background(), fmt.Sprintf("conv-%d", n), "ping")
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	stats := f.orch.Stats()
	assert.Equal(t, int64(8), stats.Conversations)
	assert.Equal(t, int64(16), stats.Messages)
	assert.Len(t, f.store.List(0), 8)
}

func TestOrchestrator_StatsSnapshotIsolated(t *testing.T) {
	f := newChatFixture(t)
	f.mock.Enqueue(model.Response{Text: `{"tool": "get_time", "args": {}}`})
	f.mock.Enqueue(model.Response{Text: "noon"})

	_, err := f.orch.Chat(context.Background(), "conv-1", "time please")
	require.NoError(t, err)

	snap := f.orch.Stats()
	snap.ToolUsage["get_time"] = 99

	assert.Equal(t, int64(1), f.orch.Stats().ToolUsage["get_time"])
}

func TestOrchestrator_SearchConversations(t *testing.T) {
	f := newChatFixture(t)
	f.mock.AddResponse("how do I restart the ingest service", "Use the restart action on the ops console.")

	_, err := f.orch.Chat(context.Background(), "ops-1", "how do I restart the ingest service")
	require.NoError(t, err)

	matches := f.orch.SearchConversations("ingest", 10)
	require.NotEmpty(t, matches)
	assert.Equal(t, "ops-1", matches[0].ConversationID)

	assert.Empty(t, f.orch.SearchConversations("no such phrase", 10))
}
