package dispatch

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/vango-dev/mushroom/pkg/plugin"
)

// ErrNameCollision is returned by Build under RejectCollisions when two
// modules register the same qualified name.
var ErrNameCollision = errors.New("dispatch: qualified name collision")

// CollisionPolicy decides what happens when a qualified name is registered twice.
type CollisionPolicy int

const (
	// LastWriteWins replaces the earlier entry with the later one.
	LastWriteWins CollisionPolicy = iota

	// RejectCollisions makes Build fail with ErrNameCollision.
	RejectCollisions
)

// String returns the string representation of CollisionPolicy.
func (p CollisionPolicy) String() string {
	switch p {
	case LastWriteWins:
		return "last-write-wins"
	case RejectCollisions:
		return "reject"
	default:
		return "unknown"
	}
}

// ParseCollisionPolicy parses the config spelling of a policy.
// The empty string selects LastWriteWins.
func ParseCollisionPolicy(s string) (CollisionPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "last-write-wins", "overwrite":
		return LastWriteWins, nil
	case "reject", "error":
		return RejectCollisions, nil
	}
	return LastWriteWins, fmt.Errorf("dispatch: unknown collision policy %q", s)
}

// Collision records one overwritten qualified name.
type Collision struct {
	QualifiedName string
	Previous      string // module that registered first
	Replacement   string // module that registered later
}

// Builder accumulates entries before they are frozen into a Table.
// A Builder is not safe for concurrent use.
type Builder struct {
	policy     CollisionPolicy
	logger     *slog.Logger
	entries    map[string]*Entry
	scheduled  []string
	collisions []Collision
}

// Option configures a Builder.
type Option func(*Builder)

// WithCollisionPolicy sets the collision policy.
func WithCollisionPolicy(p CollisionPolicy) Option {
	return func(b *Builder) {
		b.policy = p
	}
}

// WithLogger sets the builder logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Builder) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// NewBuilder creates an empty builder.
func NewBuilder(opts ...Option) *Builder {
	b := &Builder{
		policy:  LastWriteWins,
		logger:  slog.Default(),
		entries: make(map[string]*Entry),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With("component", "dispatch_builder")
	return b
}

// AddModule adds every descriptor of a loaded module.
func (b *Builder) AddModule(m plugin.Module) {
	for _, d := range m.Descriptors {
		b.Add(m.ID, d)
	}
}

// Add classifies d and adds one entry per role it carries.
// Descriptors classified as None are ignored.
func (b *Builder) Add(module string, d plugin.Descriptor) {
	capability := plugin.Classify(d)
	if capability == plugin.CapNone {
		return
	}
	for _, role := range []plugin.Capability{plugin.CapRPC, plugin.CapScheduled} {
		if !capability.Has(role) {
			continue
		}
		b.put(&Entry{
			QualifiedName: QualifiedName(role, module, d.Name),
			Role:          role,
			Capability:    capability,
			Module:        module,
			Name:          d.Name,
			fn:            d.Func,
		})
	}
}

func (b *Builder) put(e *Entry) {
	if prev, exists := b.entries[e.QualifiedName]; exists {
		b.collisions = append(b.collisions, Collision{
			QualifiedName: e.QualifiedName,
			Previous:      prev.Module,
			Replacement:   e.Module,
		})
		b.logger.Warn("function registered twice",
			"name", e.QualifiedName,
			"previous", prev.Module,
			"replacement", e.Module,
			"policy", b.policy.String())
	} else if e.Role == plugin.CapScheduled {
		b.scheduled = append(b.scheduled, e.QualifiedName)
	}
	b.entries[e.QualifiedName] = e
}

// Collisions returns the names that were registered more than once.
func (b *Builder) Collisions() []Collision {
	out := make([]Collision, len(b.collisions))
	copy(out, b.collisions)
	return out
}

// Build freezes the accumulated entries into a Table.
// Under RejectCollisions it fails if any name was registered twice.
func (b *Builder) Build() (*Table, error) {
	if b.policy == RejectCollisions && len(b.collisions) > 0 {
		c := b.collisions[0]
		return nil, fmt.Errorf("%w: %s registered by %s and %s",
			ErrNameCollision, c.QualifiedName, c.Previous, c.Replacement)
	}

	entries := make(map[string]*Entry, len(b.entries))
	names := make([]string, 0, len(b.entries))
	for name, e := range b.entries {
		copied := *e
		entries[name] = &copied
		names = append(names, name)
	}
	sort.Strings(names)

	scheduled := make([]string, len(b.scheduled))
	copy(scheduled, b.scheduled)

	return &Table{
		entries:   entries,
		names:     names,
		scheduled: scheduled,
	}, nil
}

// Discover scans ids in catalog and builds a table from the loaded modules.
// Skipped modules are reported in the scan result and never fail discovery.
func Discover(catalog *plugin.Catalog, ids []string, opts ...Option) (*Table, plugin.ScanResult, error) {
	b := NewBuilder(opts...)
	result := plugin.NewScanner(catalog, b.logger).Scan(ids)
	for _, m := range result.Modules {
		b.AddModule(m)
	}
	table, err := b.Build()
	return table, result, err
}
