package vtest

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/vango-dev/mushroom/pkg/plugin"
)

// HostBuilder allows fluent construction of test hosts.
type HostBuilder struct {
	host *Host
}

// NewHost creates a new host builder for testing.
//
// Example:
//
//	host := vtest.NewHost().
//	    WithSession("s1", nil).
//	    WithFunctions("rpc_clock_now").
//	    Build()
func NewHost() *HostBuilder {
	return &HostBuilder{host: &Host{
		sessions: &Sessions{},
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}}
}

// WithSession adds a connected session with the given auth payload.
func (b *HostBuilder) WithSession(id string, auth any) *HostBuilder {
	b.host.sessions.Add(NewSession(id, auth))
	return b
}

// WithFunctions sets the qualified names returned by Functions.
func (b *HostBuilder) WithFunctions(names ...string) *HostBuilder {
	b.host.functions = append(b.host.functions, names...)
	return b
}

// WithLogger replaces the discarding logger.
func (b *HostBuilder) WithLogger(logger *slog.Logger) *HostBuilder {
	b.host.logger = logger
	return b
}

// Build returns the host.
func (b *HostBuilder) Build() *Host {
	return b.host
}

// Host is an in-memory plugin.Host.
type Host struct {
	sessions  *Sessions
	functions []string
	logger    *slog.Logger
}

// Sessions returns the live session set.
func (h *Host) Sessions() plugin.SessionSet { return h.sessions }

// SessionSet returns the concrete session set for assertions.
func (h *Host) SessionSet() *Sessions { return h.sessions }

// Functions returns the configured function names.
func (h *Host) Functions() []string { return h.functions }

// Logger returns the host logger.
func (h *Host) Logger() *slog.Logger { return h.logger }

// Request builds a request for method carrying data encoded as JSON.
// A nil data produces a request with no payload.
func Request(t *testing.T, method string, data any) *plugin.Request {
	t.Helper()
	req := &plugin.Request{Method: method}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			t.Fatalf("encode request data: %v", err)
		}
		req.Data = raw
	}
	return req
}

// Call invokes fn as an RPC call and fails the test on error.
//
// Example:
//
//	got := vtest.Call(t, host, echoFunc, "hello")
func Call(t *testing.T, host plugin.Host, fn plugin.Func, data any) any {
	t.Helper()
	result, err := fn(context.Background(), host, Request(t, "", data))
	if err != nil {
		t.Fatalf("call returned error: %v", err)
	}
	return result
}

// CallErr invokes fn and returns its error, failing the test if there is none.
func CallErr(t *testing.T, host plugin.Host, fn plugin.Func, data any) error {
	t.Helper()
	_, err := fn(context.Background(), host, Request(t, "", data))
	if err == nil {
		t.Fatal("expected call to return an error")
	}
	return err
}

// Find returns the descriptor named name, failing the test if it is missing.
func Find(t *testing.T, descriptors []plugin.Descriptor, name string) plugin.Descriptor {
	t.Helper()
	for _, d := range descriptors {
		if d.Name == name {
			return d
		}
	}
	t.Fatalf("descriptor %q not found", name)
	return plugin.Descriptor{}
}

// ExpectCapability asserts the classified capability of a descriptor.
func ExpectCapability(t *testing.T, d plugin.Descriptor, want plugin.Capability) {
	t.Helper()
	if got := plugin.Classify(d); got != want {
		t.Errorf("%s capability = %v, want %v", d.Name, got, want)
	}
}
