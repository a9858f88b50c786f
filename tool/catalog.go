package tool

import (
	"fmt"
	"sort"
)

// Catalog is the immutable set of tool descriptors known to the system.
// It is built once at startup; lookups are safe for concurrent use.
type Catalog struct {
	byName map[string]Descriptor
}

// NewCatalog builds a catalog from descriptors. Every descriptor needs a
// name and a handler key, and names must be unique.
func NewCatalog(descriptors ...Descriptor) (*Catalog, error) {
	byName := make(map[string]Descriptor, len(descriptors))
	for i, d := range descriptors {
		if d.Name == "" {
			return nil, fmt.Errorf("descriptor %d: missing name", i)
		}
		if d.HandlerKey == "" {
			return nil, fmt.Errorf("tool %s: missing handler key", d.Name)
		}
		if _, dup := byName[d.Name]; dup {
			return nil, fmt.Errorf("tool %s: duplicate name", d.Name)
		}
		byName[d.Name] = d
	}
	return &Catalog{byName: byName}, nil
}

// DefaultCatalog returns a catalog holding the builtin descriptor table.
func DefaultCatalog() *Catalog {
	c, err := NewCatalog(Builtins()...)
	if err != nil {
		// The builtin table is static; a failure here is a programming error.
		panic(fmt.Sprintf("tool: invalid builtin table: %v", err))
	}
	return c
}

// Get returns the descriptor registered under name.
func (c *Catalog) Get(name string) (Descriptor, bool) {
	d, ok := c.byName[name]
	return d, ok
}

// Has reports whether a tool with the given name exists.
func (c *Catalog) Has(name string) bool {
	_, ok := c.byName[name]
	return ok
}

// Names returns all tool names in sorted order.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.byName))
	for name := range c.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ByCategory returns the descriptors of one category, sorted by name.
func (c *Catalog) ByCategory(category Category) []Descriptor {
	var out []Descriptor
	for _, name := range c.Names() {
		if d := c.byName[name]; d.Category == category {
			out = append(out, d)
		}
	}
	return out
}

// Len returns the number of registered tools.
func (c *Catalog) Len() int { return len(c.byName) }

// Definitions exports every descriptor in the function-calling shape, sorted
// by name so the export is stable.
func (c *Catalog) Definitions() []Definition {
	names := c.Names()
	defs := make([]Definition, 0, len(names))
	for _, name := range names {
		defs = append(defs, c.byName[name].Definition())
	}
	return defs
}
