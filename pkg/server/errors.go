package server

import (
	"errors"
	"fmt"
)

// Sentinel errors for common session and server error conditions.
var (
	// ErrSessionClosed is returned when an operation is attempted on a closed session.
	ErrSessionClosed = errors.New("server: session closed")

	// ErrSessionNotFound is returned when a session ID does not exist.
	ErrSessionNotFound = errors.New("server: session not found")

	// ErrMethodNotFound is returned when a client calls a method with no RPC entry.
	ErrMethodNotFound = errors.New("server: method not found")

	// ErrRateLimited is returned when a session exceeds its call rate limit.
	ErrRateLimited = errors.New("server: rate limit exceeded")

	// ErrCallPanicked is returned when an RPC function panics.
	ErrCallPanicked = errors.New("server: call panicked")

	// ErrOutboxFull is returned when a session has too many unacknowledged messages.
	ErrOutboxFull = errors.New("server: outbox full")

	// ErrWrongTransport is returned when a session is used over a transport
	// it did not negotiate.
	ErrWrongTransport = errors.New("server: wrong transport")

	// ErrAlreadyConnected is returned when a second WebSocket attaches to a session.
	ErrAlreadyConnected = errors.New("server: session already connected")

	// ErrNotListening is returned by Serve when Listen has not been called.
	ErrNotListening = errors.New("server: not listening")

	// ErrAlreadyListening is returned by Listen when the server is already bound.
	ErrAlreadyListening = errors.New("server: already listening")
)

// SessionError wraps an error with session context for debugging.
type SessionError struct {
	SessionID string
	Op        string // Operation that failed
	Err       error  // Underlying error
}

// Error returns the error message with session context.
func (e *SessionError) Error() string {
	if e.SessionID == "" {
		return fmt.Sprintf("server: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("server: session %s: %s: %v", e.SessionID, e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As.
func (e *SessionError) Unwrap() error {
	return e.Err
}

// NewSessionError creates a new SessionError.
func NewSessionError(sessionID, op string, err error) *SessionError {
	return &SessionError{
		SessionID: sessionID,
		Op:        op,
		Err:       err,
	}
}

// errorData converts a call error into the data of an error message.
func errorData(method string, err error) any {
	switch {
	case errors.Is(err, ErrMethodNotFound):
		return "method not found: " + method
	case errors.Is(err, ErrRateLimited):
		return "rate limit exceeded"
	case errors.Is(err, ErrCallPanicked):
		return "internal error"
	default:
		return err.Error()
	}
}
