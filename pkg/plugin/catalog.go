package plugin

import (
	"fmt"
	"sort"
	"sync"
)

// RegisterFunc returns the functions a module exports. It is called once per
// scan, in the order the module appears in the installed list.
type RegisterFunc func() ([]Descriptor, error)

// Catalog holds the registration functions of every plugin linked into the binary.
type Catalog struct {
	mu      sync.RWMutex
	plugins map[string]RegisterFunc
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{plugins: make(map[string]RegisterFunc)}
}

// Default is the catalog used by Register.
var Default = NewCatalog()

// Register adds a plugin to the Default catalog.
// It panics if id is empty, fn is nil, or id is already registered.
func Register(id string, fn RegisterFunc) {
	Default.Register(id, fn)
}

// Register adds a plugin to the catalog.
// It panics if id is empty, fn is nil, or id is already registered.
func (c *Catalog) Register(id string, fn RegisterFunc) {
	if id == "" {
		panic("plugin: Register called with empty id")
	}
	if fn == nil {
		panic("plugin: Register called with nil func for " + id)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, dup := c.plugins[id]; dup {
		panic(fmt.Sprintf("plugin: Register called twice for %q", id))
	}
	c.plugins[id] = fn
}

// Lookup returns the registration function for id.
func (c *Catalog) Lookup(id string) (RegisterFunc, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	fn, ok := c.plugins[id]
	return fn, ok
}

// IDs returns the registered plugin identifiers, sorted.
func (c *Catalog) IDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ids := make([]string, 0, len(c.plugins))
	for id := range c.plugins {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of registered plugins.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.plugins)
}
