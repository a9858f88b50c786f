// Package toolmesh provides a high-level façade over the control-tower
// components (server registry, tool catalog & executor, model router, engine
// pool and conversation orchestrator). Most applications interact with this
// package by:
//  1. Creating a Mesh via New() (optionally overriding the default in-memory
//     conversation store, catalog, broadcaster or router)
//  2. Registering one or more inference engines and capability providers
//  3. Driving conversations with Chat, or calling tools directly with
//     ExecuteTool
//
// The façade delegates the reasoning loop to orchestrator.Orchestrator while
// keeping setup and usage ergonomics concise. All defaults are safe for local
// development and testing; production deployments typically supply a
// connected transport, a websocket broadcaster and a structured logger.
package toolmesh

import (
	"context"
	"time"

	"github.com/hupe1980/toolmesh/conversation"
	"github.com/hupe1980/toolmesh/core"
	"github.com/hupe1980/toolmesh/logging"
	"github.com/hupe1980/toolmesh/model"
	"github.com/hupe1980/toolmesh/orchestrator"
	"github.com/hupe1980/toolmesh/registry"
	"github.com/hupe1980/toolmesh/router"
	"github.com/hupe1980/toolmesh/tool"
)

// Options configures the Mesh instance.
type Options struct {
	// Catalog is the set of callable tools. Defaults to the builtin
	// catalog (system, data and render categories).
	Catalog *tool.Catalog

	// ConversationStore persists conversation logs. Defaults to an
	// in-memory store without eviction.
	ConversationStore core.ConversationStore

	// Broadcaster serves render-category tools. Without one, render calls
	// settle into failure envelopes.
	Broadcaster core.Broadcaster

	// Remote forwards tool calls that no local provider claims, typically
	// a connected transport.Transport.
	Remote tool.RemoteCaller

	// Router picks the serving model per request. Defaults to router.New().
	Router *router.Router

	// MaxIterations bounds the tool loop per chat turn.
	MaxIterations int

	// HistoryWindow bounds the message history sent per completion request.
	HistoryWindow int

	// Instructions is a standing system prompt, rendered as a template
	// against the conversation metadata.
	Instructions string

	// Model pins every turn to one registered engine, skipping routing.
	Model string

	// PreferSpeed biases routing toward low-latency engines.
	PreferSpeed bool

	// MaxParallelTools bounds concurrent tool execution within one loop
	// step. Zero means unbounded.
	MaxParallelTools int

	// GracePeriod is the registry's liveness window between spawning a
	// server process and declaring it running.
	GracePeriod time.Duration

	// Callbacks receive chat lifecycle events. Register callbacks before
	// the first turn; the manager is not safe for concurrent registration.
	Callbacks *orchestrator.CallbackManager

	// Logger (defaults to NoOp logger if nil)
	Logger logging.Logger
}

// Mesh is the high-level façade aggregating the underlying components. It is
// the single place all cross-component wiring happens; nothing in this module
// reaches for package-level state.
type Mesh struct {
	opts     Options
	store    core.ConversationStore
	pool     *model.Pool
	executor *tool.Executor
	registry *registry.Registry
	orch     *orchestrator.Orchestrator
}

// New creates a new Mesh instance with optional overrides. Any unset
// component is initialized with an in-memory implementation.
func New(optFns ...func(o *Options)) *Mesh {
	opts := Options{
		Catalog:           tool.DefaultCatalog(),
		ConversationStore: conversation.NewInMemoryStore(),
		MaxIterations:     orchestrator.DefaultMaxIterations,
		HistoryWindow:     orchestrator.DefaultHistoryWindow,
		GracePeriod:       registry.DefaultGracePeriod,
		Logger:            logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	pool := model.NewPool()

	executor := tool.NewExecutor(opts.Catalog, func(o *tool.Options) {
		o.Broadcaster = opts.Broadcaster
		o.Remote = opts.Remote
		o.MaxParallel = opts.MaxParallelTools
		o.Logger = opts.Logger
	})

	reg := registry.New(func(o *registry.Options) {
		o.GracePeriod = opts.GracePeriod
		o.Logger = opts.Logger
	})

	orch := orchestrator.New(opts.ConversationStore, pool, executor, func(o *orchestrator.Options) {
		o.MaxIterations = opts.MaxIterations
		o.HistoryWindow = opts.HistoryWindow
		o.Instructions = opts.Instructions
		o.PreferSpeed = opts.PreferSpeed
		o.Model = opts.Model
		o.Router = opts.Router
		o.Callbacks = opts.Callbacks
		o.Logger = opts.Logger
	})

	return &Mesh{
		opts:     opts,
		store:    opts.ConversationStore,
		pool:     pool,
		executor: executor,
		registry: reg,
		orch:     orch,
	}
}

// RegisterEngine adds a named inference engine to the pool, making it
// available to the router.
func (m *Mesh) RegisterEngine(name string, engine model.Engine) { m.pool.Register(name, engine) }

// RegisterProvider adds a capability provider to the executor's typed lookup
// table. Only one provider may serve a category.
func (m *Mesh) RegisterProvider(p tool.Provider) error { return m.executor.RegisterProvider(p) }

// Chat runs one conversational turn against the orchestrator.
func (m *Mesh) Chat(
	ctx context.Context,
	conversationID string,
	message string,
	optFns ...func(o *orchestrator.ChatOptions),
) (*orchestrator.TurnResult, error) {
	return m.orch.Chat(ctx, conversationID, message, optFns...)
}

// ExecuteTool dispatches a single tool call outside any conversation and
// returns its result envelope.
func (m *Mesh) ExecuteTool(ctx context.Context, name string, args map[string]any) tool.Result {
	return m.executor.Execute(ctx, name, args)
}

// SearchConversations returns conversations whose logs contain the query.
func (m *Mesh) SearchConversations(query string, limit int) []core.SearchMatch {
	return m.orch.SearchConversations(query, limit)
}

// Stats returns the orchestrator's aggregate chat counters.
func (m *Mesh) Stats() orchestrator.Stats { return m.orch.Stats() }

// Shutdown stops every supervised server process and reports how many were
// running.
func (m *Mesh) Shutdown() int { return m.registry.StopAll() }

// Registry returns the server registry for process supervision.
func (m *Mesh) Registry() *registry.Registry { return m.registry }

// Executor returns the tool executor.
func (m *Mesh) Executor() *tool.Executor { return m.executor }

// Catalog returns the tool catalog the executor dispatches against.
func (m *Mesh) Catalog() *tool.Catalog { return m.executor.Catalog() }

// Pool returns the engine pool.
func (m *Mesh) Pool() *model.Pool { return m.pool }

// Store returns the conversation store.
func (m *Mesh) Store() core.ConversationStore { return m.store }

// Orchestrator returns the conversation orchestrator.
func (m *Mesh) Orchestrator() *orchestrator.Orchestrator { return m.orch }
