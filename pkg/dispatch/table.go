// Package dispatch builds the table of functions the mushroom server exposes.
//
// Each classified plugin function becomes one Entry per role:
//
//	rpc_<module>_<name>        reachable by clients as "<module>_<name>"
//	scheduled_<module>_<name>  started once at boot by the launcher
//
// A Builder accumulates entries and Build returns an immutable Table, so the
// server never observes a partially built table.
package dispatch

import (
	"context"
	"sort"

	"github.com/vango-dev/mushroom/pkg/plugin"
)

const (
	// RPCPrefix prefixes the qualified name of RPC entries.
	RPCPrefix = "rpc_"

	// ScheduledPrefix prefixes the qualified name of scheduled entries.
	ScheduledPrefix = "scheduled_"
)

// QualifiedName returns the table key for a function of module under role.
// It returns "" for roles other than RPC or Scheduled.
func QualifiedName(role plugin.Capability, module, name string) string {
	switch role {
	case plugin.CapRPC:
		return RPCPrefix + module + "_" + name
	case plugin.CapScheduled:
		return ScheduledPrefix + module + "_" + name
	}
	return ""
}

// Entry is one registered function.
type Entry struct {
	// QualifiedName is the unique table key.
	QualifiedName string

	// Role is the capability this entry is registered under (RPC or Scheduled).
	Role plugin.Capability

	// Capability is the full classification of the underlying function.
	Capability plugin.Capability

	// Module is the plugin identifier the function came from.
	Module string

	// Name is the function name inside the module.
	Name string

	fn plugin.Func
}

// Call invokes the entry with an explicit host and request.
func (e *Entry) Call(ctx context.Context, host plugin.Host, req *plugin.Request) (any, error) {
	return e.fn(ctx, host, req)
}

// Run invokes the entry as a scheduled task.
func (e *Entry) Run(ctx context.Context, host plugin.Host) error {
	_, err := e.fn(ctx, host, nil)
	return err
}

// Method returns the name clients use to call an RPC entry.
func (e *Entry) Method() string {
	return e.Module + "_" + e.Name
}

// Table is an immutable mapping from qualified name to Entry.
// It is safe for concurrent use.
type Table struct {
	entries   map[string]*Entry
	names     []string
	scheduled []string
}

// Empty returns a table with no entries.
func Empty() *Table {
	return &Table{entries: map[string]*Entry{}}
}

// Lookup returns the entry registered under a qualified name.
func (t *Table) Lookup(qualifiedName string) (*Entry, bool) {
	if t == nil {
		return nil, false
	}
	e, ok := t.entries[qualifiedName]
	return e, ok
}

// LookupRPC resolves a client method name ("<module>_<name>") to its RPC entry.
func (t *Table) LookupRPC(method string) (*Entry, bool) {
	e, ok := t.Lookup(RPCPrefix + method)
	if !ok || e.Role != plugin.CapRPC {
		return nil, false
	}
	return e, true
}

// Len returns the number of entries.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.entries)
}

// Names returns every qualified name, sorted.
func (t *Table) Names() []string {
	if t == nil {
		return nil
	}
	out := make([]string, len(t.names))
	copy(out, t.names)
	return out
}

// Entries returns every entry ordered by qualified name.
func (t *Table) Entries() []*Entry {
	if t == nil {
		return nil
	}
	out := make([]*Entry, 0, len(t.names))
	for _, name := range t.names {
		out = append(out, t.entries[name])
	}
	return out
}

// Scheduled returns the scheduled entries in registration order.
func (t *Table) Scheduled() []*Entry {
	if t == nil {
		return nil
	}
	out := make([]*Entry, 0, len(t.scheduled))
	for _, name := range t.scheduled {
		out = append(out, t.entries[name])
	}
	return out
}

// Methods returns the client-facing names of every RPC entry, sorted.
func (t *Table) Methods() []string {
	if t == nil {
		return nil
	}
	var out []string
	for _, name := range t.names {
		if e := t.entries[name]; e.Role == plugin.CapRPC {
			out = append(out, e.Method())
		}
	}
	sort.Strings(out)
	return out
}
