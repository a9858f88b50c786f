package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/toolmesh/core"
	"github.com/hupe1980/toolmesh/internal/util"
	"github.com/hupe1980/toolmesh/logging"
)

// RemoteCaller forwards a tool call to a connected server process. The
// transport package's StdioTransport satisfies this.
type RemoteCaller interface {
	CallTool(ctx context.Context, name string, args map[string]any) (json.RawMessage, error)
}

// Result is the uniform envelope every tool call settles into, whatever
// backend served it and however it failed.
type Result struct {
	Tool       string `json:"tool"`
	Success    bool   `json:"success"`
	Result     any    `json:"result,omitempty"`
	Error      string `json:"error,omitempty"`
	Source     Source `json:"source,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

// Call names one tool invocation for ExecuteMany.
type Call struct {
	Tool string         `json:"tool"`
	Args map[string]any `json:"args"`
}

// RenderEnvelope is what render-category calls broadcast to UI clients.
type RenderEnvelope struct {
	Type      string         `json:"type"`
	Command   string         `json:"command"`
	Payload   map[string]any `json:"payload"`
	Timestamp string         `json:"timestamp"`
}

// Stats are the executor's running counters.
type Stats struct {
	Calls     int64 `json:"calls"`
	Failures  int64 `json:"failures"`
	Local     int64 `json:"local"`
	Remote    int64 `json:"remote"`
	Broadcast int64 `json:"broadcast"`
}

// Options configure an Executor.
type Options struct {
	// Broadcaster serves render-category calls. Without one, render calls
	// fail with an envelope, not an error.
	Broadcaster core.Broadcaster
	// Remote serves calls that no provider claims.
	Remote RemoteCaller
	// MaxParallel bounds ExecuteMany fan-out; <=0 means unbounded.
	MaxParallel int
	// ValidateArgs validates arguments against the descriptor schema before
	// local dispatch.
	ValidateArgs bool
	// Logger receives per-call events.
	Logger logging.Logger
}

// Executor resolves tool calls against the catalog and dispatches them.
//
// Dispatch order for a known tool: render category → broadcaster; registered
// capability provider exposing the descriptor's handler key → local call;
// configured remote transport → forwarded call; otherwise a no-handler
// failure envelope. Unknown tools and panics inside any backend also settle
// into failure envelopes; Execute never panics and never returns an error
// out of band.
type Executor struct {
	catalog *Catalog

	providersMu sync.RWMutex
	providers   map[Category]Provider

	broadcaster core.Broadcaster
	remote      RemoteCaller
	maxParallel int
	validate    bool
	logger      logging.Logger

	statsMu sync.Mutex
	stats   Stats
}

// NewExecutor constructs an executor over the given catalog.
func NewExecutor(catalog *Catalog, optFns ...func(o *Options)) *Executor {
	opts := Options{
		ValidateArgs: true,
		Logger:       logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Executor{
		catalog:     catalog,
		providers:   make(map[Category]Provider),
		broadcaster: opts.Broadcaster,
		remote:      opts.Remote,
		maxParallel: opts.MaxParallel,
		validate:    opts.ValidateArgs,
		logger:      opts.Logger,
	}
}

// RegisterProvider adds a capability provider to the typed lookup table.
// Only one provider may serve a category.
func (e *Executor) RegisterProvider(p Provider) error {
	category := p.Category()

	e.providersMu.Lock()
	defer e.providersMu.Unlock()

	if _, exists := e.providers[category]; exists {
		return fmt.Errorf("category %s already has a provider", category)
	}
	e.providers[category] = p
	return nil
}

// Catalog returns the catalog this executor dispatches against.
func (e *Executor) Catalog() *Catalog { return e.catalog }

// Execute runs one tool call and returns its envelope.
func (e *Executor) Execute(ctx context.Context, name string, args map[string]any) Result {
	start := time.Now()
	e.logger.Debug("tool.call.start", "tool", name)

	res := e.safeDispatch(ctx, name, args)
	res.Tool = name
	res.DurationMS = time.Since(start).Milliseconds()

	e.record(res)

	if res.Success {
		e.logger.Info("tool.call.success", "tool", name, "source", string(res.Source), "duration_ms", res.DurationMS)
	} else {
		e.logger.Warn("tool.call.failed", "tool", name, "source", string(res.Source), "error", res.Error)
	}
	return res
}

// ExecuteMany runs all calls concurrently and returns their envelopes
// aligned to input order. One call's failure never cancels its siblings.
func (e *Executor) ExecuteMany(ctx context.Context, calls []Call) []Result {
	n := len(calls)
	if n == 0 {
		return nil
	}
	if n == 1 {
		return []Result{e.Execute(ctx, calls[0].Tool, calls[0].Args)}
	}

	maxPar := e.maxParallel
	if maxPar <= 0 || maxPar > n {
		maxPar = n
	}

	results := make([]Result, n)
	var wg sync.WaitGroup
	sem := make(chan struct{}, maxPar)

	batchStart := time.Now()
	for i := range calls {
		wg.Add(1)
		sem <- struct{}{}
		go func(idx int, call Call) {
			defer wg.Done()
			defer func() { <-sem }()
			results[idx] = e.Execute(ctx, call.Tool, call.Args)
		}(i, calls[i])
	}
	wg.Wait()

	e.logger.Debug("tool.batch.complete", "count", n, "parallelism", maxPar, "duration_ms", time.Since(batchStart).Milliseconds())
	return results
}

// Stats returns a copy of the running counters.
func (e *Executor) Stats() Stats {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	return e.stats
}

func (e *Executor) record(res Result) {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	e.stats.Calls++
	if !res.Success {
		e.stats.Failures++
	}
	switch res.Source {
	case SourceLocal:
		e.stats.Local++
	case SourceMCP:
		e.stats.Remote++
	case SourceWebsocket:
		e.stats.Broadcast++
	}
}

// safeDispatch shields callers from panics inside handlers and backends.
func (e *Executor) safeDispatch(ctx context.Context, name string, args map[string]any) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("tool.call.panic", "tool", name, "recover", fmt.Sprintf("%v", r))
			res = Result{Success: false, Error: fmt.Sprintf("panic in tool %s: %v", name, r)}
		}
	}()
	return e.dispatch(ctx, name, args)
}

func (e *Executor) dispatch(ctx context.Context, name string, args map[string]any) Result {
	desc, ok := e.catalog.Get(name)
	if !ok {
		return Result{Success: false, Error: fmt.Sprintf("unknown tool: %s", name)}
	}

	if desc.Category == CategoryRender {
		return e.dispatchBroadcast(desc, args)
	}

	e.providersMu.RLock()
	provider, hasProvider := e.providers[desc.Category]
	e.providersMu.RUnlock()

	if hasProvider {
		if handler, ok := provider.Handler(desc.HandlerKey); ok {
			return e.dispatchLocal(ctx, desc, handler, args)
		}
	}

	if e.remote != nil {
		return e.dispatchRemote(ctx, desc, args)
	}

	return Result{Success: false, Error: fmt.Sprintf("no handler available for tool %s (category %s)", name, desc.Category)}
}

func (e *Executor) dispatchBroadcast(desc Descriptor, args map[string]any) Result {
	if e.broadcaster == nil {
		return Result{Success: false, Error: fmt.Sprintf("no broadcaster configured for render tool %s", desc.Name)}
	}

	envelope := RenderEnvelope{
		Type:      "tool",
		Command:   desc.HandlerKey,
		Payload:   args,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if err := e.broadcaster.Broadcast(envelope); err != nil {
		return Result{Success: false, Error: err.Error(), Source: SourceWebsocket}
	}
	return Result{
		Success: true,
		Result:  map[string]any{"sent": true, "command": desc.HandlerKey},
		Source:  SourceWebsocket,
	}
}

func (e *Executor) dispatchLocal(ctx context.Context, desc Descriptor, handler Handler, args map[string]any) Result {
	if e.validate && desc.Parameters != nil {
		if err := util.ValidateParameters(args, desc.Parameters); err != nil {
			return Result{Success: false, Error: fmt.Sprintf("parameter validation failed: %v", err), Source: SourceLocal}
		}
	}

	value, err := handler(ctx, args)
	if err != nil {
		return Result{Success: false, Error: err.Error(), Source: SourceLocal}
	}
	return Result{Success: true, Result: value, Source: SourceLocal}
}

func (e *Executor) dispatchRemote(ctx context.Context, desc Descriptor, args map[string]any) Result {
	raw, err := e.remote.CallTool(ctx, desc.Name, args)
	if err != nil {
		return Result{Success: false, Error: err.Error(), Source: SourceMCP}
	}

	var decoded any
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &decoded); err != nil {
			decoded = string(raw)
		}
	}
	return Result{Success: true, Result: decoded, Source: SourceMCP}
}
