package plugin

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
)

// ErrNoData is returned by Request.Bind when the call carried no payload.
var ErrNoData = errors.New("plugin: request has no data")

// Func is the signature shared by RPC handlers and scheduled tasks.
// Scheduled invocations receive a nil req; their result value is discarded.
type Func func(ctx context.Context, host Host, req *Request) (any, error)

// TaskFunc is the convenience signature for scheduled-only functions.
type TaskFunc func(ctx context.Context, host Host) error

// Descriptor declares one function exported by a plugin module.
type Descriptor struct {
	// Name is the function name inside the module (e.g. "ping").
	Name string

	// RPC marks the function as callable by clients.
	RPC bool

	// Scheduled marks the function as a task started once at boot.
	Scheduled bool

	// Func is the implementation.
	Func Func
}

// Capability returns the classified capability of the descriptor.
func (d Descriptor) Capability() Capability {
	return Classify(d)
}

// RPC declares a function callable by remote clients.
func RPC(name string, fn Func) Descriptor {
	return Descriptor{Name: name, RPC: true, Func: fn}
}

// Scheduled declares a task started once when the server boots.
func Scheduled(name string, fn TaskFunc) Descriptor {
	return Descriptor{Name: name, Scheduled: true, Func: fn.asFunc()}
}

// Both declares a function that is callable by clients and also started as a
// scheduled task. When scheduled, fn receives a nil request.
func Both(name string, fn Func) Descriptor {
	return Descriptor{Name: name, RPC: true, Scheduled: true, Func: fn}
}

func (fn TaskFunc) asFunc() Func {
	if fn == nil {
		return nil
	}
	return func(ctx context.Context, host Host, _ *Request) (any, error) {
		return nil, fn(ctx, host)
	}
}

// Request is an inbound remote call.
type Request struct {
	// MessageID is the client-assigned id of the request message.
	MessageID int64

	// Method is the method name as sent by the client ("<module>_<name>").
	Method string

	// Data is the raw JSON payload. It may be empty or "null".
	Data json.RawMessage

	// Session is the calling session.
	Session Session

	// Notification is true when the client does not expect a response.
	Notification bool
}

// Bind decodes the request payload into v.
func (r *Request) Bind(v any) error {
	if r == nil || len(r.Data) == 0 || string(r.Data) == "null" {
		return ErrNoData
	}
	return json.Unmarshal(r.Data, v)
}

// Session is a connected client as seen by plugin code.
type Session interface {
	// ID returns the session identifier.
	ID() string

	// Auth returns the auth payload the client connected with.
	Auth() json.RawMessage

	// Notify sends a notification to this client.
	Notify(method string, data any) error
}

// SessionSet is the read-only view of the live sessions.
type SessionSet interface {
	// Len returns the number of live sessions.
	Len() int

	// Get returns the session with the given id.
	Get(id string) (Session, bool)

	// Each calls fn for every live session until fn returns false.
	Each(fn func(Session) bool)

	// Notify sends a notification to every live session and returns how
	// many sessions accepted it.
	Notify(method string, data any) int
}

// Host is the shared server state passed to every plugin function.
type Host interface {
	// Sessions returns the live session set.
	Sessions() SessionSet

	// Functions returns the qualified names of every registered function.
	Functions() []string

	// Logger returns the server logger.
	Logger() *slog.Logger
}
