package model

import (
	"sort"
	"sync"
)

// Pool is a named registry of inference engines. The orchestrator resolves
// the router's chosen model name against it, and Names doubles as the
// router's availability list. Safe for concurrent use.
type Pool struct {
	mu      sync.RWMutex
	engines map[string]Engine
}

// NewPool constructs an empty engine pool.
func NewPool() *Pool {
	return &Pool{engines: make(map[string]Engine)}
}

// Register adds an engine under the given name, replacing any existing
// registration. Registration during active chat turns is safe but not
// recommended as in-flight selections may still resolve the old engine.
func (p *Pool) Register(name string, engine Engine) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.engines[name] = engine
}

// Get retrieves a registered engine by name.
func (p *Pool) Get(name string) (Engine, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	e, ok := p.engines[name]
	return e, ok
}

// Unregister removes an engine, reporting whether it was registered.
func (p *Pool) Unregister(name string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.engines[name]
	delete(p.engines, name)
	return ok
}

// Names returns the registered engine names in sorted order.
func (p *Pool) Names() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	names := make([]string, 0, len(p.engines))
	for name := range p.engines {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered engines.
func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.engines)
}
