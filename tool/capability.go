package tool

import (
	"context"
)

// Handler executes one capability function. Arguments arrive as the decoded
// JSON object the caller supplied; the returned value must be
// JSON-serializable.
//
// Handlers should return *ToolError for failures that carry a code; any
// other error is wrapped by the executor. A handler must tolerate concurrent
// invocation.
type Handler func(ctx context.Context, args map[string]any) (any, error)

// Provider supplies the implementations behind one tool category. Each
// descriptor in that category names the provider function to invoke via its
// HandlerKey. Providers are registered on the Executor in a typed lookup
// table; there is no reflective or string-keyed method dispatch on arbitrary
// objects.
type Provider interface {
	// Category returns the tool category this provider serves.
	Category() Category

	// Handler returns the implementation behind the given handler key, or
	// false when the provider does not expose it.
	Handler(key string) (Handler, bool)
}

// FuncProvider is a map-backed Provider for assembling a capability from
// plain functions.
//
// Example:
//
//	provider := tool.NewFuncProvider(tool.CategorySystem, map[string]tool.Handler{
//	  "getTime": func(ctx context.Context, args map[string]any) (any, error) {
//	    return time.Now().UTC().Format(time.RFC3339), nil
//	  },
//	})
type FuncProvider struct {
	category Category
	handlers map[string]Handler
}

// NewFuncProvider constructs a provider serving category from the given
// handler map. The map is copied; later mutation of the argument has no
// effect.
func NewFuncProvider(category Category, handlers map[string]Handler) *FuncProvider {
	copied := make(map[string]Handler, len(handlers))
	for key, h := range handlers {
		copied[key] = h
	}
	return &FuncProvider{category: category, handlers: copied}
}

// Category returns the served tool category.
func (p *FuncProvider) Category() Category { return p.category }

// Handler looks up the implementation registered under key.
func (p *FuncProvider) Handler(key string) (Handler, bool) {
	h, ok := p.handlers[key]
	return h, ok
}

var _ Provider = (*FuncProvider)(nil)
