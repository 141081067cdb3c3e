package server

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/vango-dev/mushroom/pkg/dispatch"
	"github.com/vango-dev/mushroom/pkg/plugin"
	"github.com/vango-dev/mushroom/pkg/protocol"
)

// Call is one inbound request or notification on its way to an RPC entry.
type Call struct {
	// Method is the name the client used, e.g. "appA_ping".
	Method string

	// Entry is the RPC entry for Method, or nil when none exists.
	Entry *dispatch.Entry

	// Session is the calling session.
	Session *Session

	// Request is what the entry receives.
	Request *plugin.Request
}

// CallHandler handles a call and returns its result.
type CallHandler func(ctx context.Context, call *Call) (any, error)

// CallMiddleware wraps a CallHandler, e.g. to record metrics or traces.
type CallMiddleware func(next CallHandler) CallHandler

// Use adds call middleware. The first middleware added runs outermost.
// Use must be called before the server starts handling requests.
func (s *Server) Use(mw ...CallMiddleware) {
	s.middleware = append(s.middleware, mw...)
}

// invoke is the innermost handler: it runs the entry with panic recovery.
func (s *Server) invoke(ctx context.Context, call *Call) (result any, err error) {
	if call.Entry == nil {
		return nil, ErrMethodNotFound
	}

	defer func() {
		if r := recover(); r != nil {
			s.metrics.callPanics.Add(1)
			s.logger.Error("rpc function panicked",
				"method", call.Method,
				"function", call.Entry.QualifiedName,
				"panic", r,
				"stack", string(debug.Stack()))
			result, err = nil, fmt.Errorf("%w: %v", ErrCallPanicked, r)
		}
	}()

	return call.Entry.Call(ctx, s.host, call.Request)
}

// handleCall runs a call through the rate limiter and middleware chain.
func (s *Server) handleCall(ctx context.Context, call *Call) (any, error) {
	s.metrics.calls.Add(1)

	if !s.callLimiter.allow("session:"+call.Session.id, time.Now()) {
		s.metrics.rateLimited.Add(1)
		return nil, ErrRateLimited
	}

	handler := CallHandler(s.invoke)
	for i := len(s.middleware) - 1; i >= 0; i-- {
		handler = s.middleware[i](handler)
	}

	result, err := handler(ctx, call)
	if err != nil {
		s.metrics.callErrors.Add(1)
	}
	return result, err
}

// handleMessage processes one inbound message for a session.
func (s *Server) handleMessage(sess *Session, msg protocol.Message) {
	s.metrics.messagesReceived.Add(1)
	sess.touch()

	switch msg.Type {
	case protocol.TypeHeartbeat:
		sess.ack(msg.LastID)

	case protocol.TypeDisconnect:
		sess.logger.Debug("client disconnected")
		sess.Close()

	case protocol.TypeNotification, protocol.TypeRequest:
		s.dispatch(sess, msg)

	default:
		sess.logger.Debug("ignoring unexpected message", "type", msg.Type.String())
	}
}

func (s *Server) dispatch(sess *Session, msg protocol.Message) {
	entry, _ := s.table.LookupRPC(msg.Method)
	isNotification := msg.Type == protocol.TypeNotification

	call := &Call{
		Method:  msg.Method,
		Entry:   entry,
		Session: sess,
		Request: &plugin.Request{
			MessageID:    msg.ID,
			Method:       msg.Method,
			Data:         msg.Data,
			Session:      sess,
			Notification: isNotification,
		},
	}

	result, err := s.handleCall(sess.ctx, call)

	if isNotification {
		if err != nil {
			sess.logger.Debug("notification failed", "method", msg.Method, "error", err)
		}
		return
	}

	var sendErr error
	if err != nil {
		data := errorData(msg.Method, err)
		sendErr = sess.send(func(id int64) (protocol.Message, error) {
			return protocol.Error(id, msg.ID, data)
		})
	} else {
		sendErr = sess.send(func(id int64) (protocol.Message, error) {
			return protocol.Response(id, msg.ID, result)
		})
	}
	if sendErr != nil {
		sess.logger.Debug("could not answer request", "method", msg.Method, "error", sendErr)
	}
}
