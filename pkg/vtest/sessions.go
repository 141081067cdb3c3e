package vtest

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/vango-dev/mushroom/pkg/plugin"
)

// Notification is a message a Session received.
type Notification struct {
	Method string
	Data   any
}

// Session is an in-memory plugin.Session that records notifications.
type Session struct {
	id   string
	auth json.RawMessage

	mu       sync.Mutex
	received []Notification
	closed   bool
	notify   chan struct{}
}

// NewSession creates a session. auth is encoded as JSON.
func NewSession(id string, auth any) *Session {
	s := &Session{id: id, notify: make(chan struct{}, 1)}
	if auth != nil {
		s.auth, _ = json.Marshal(auth)
	}
	return s
}

func (s *Session) ID() string { return s.id }

func (s *Session) Auth() json.RawMessage { return s.auth }

// Notify records the notification. It fails once the session is closed.
func (s *Session) Notify(method string, data any) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.received = append(s.received, Notification{Method: method, Data: data})
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
	return nil
}

// Close makes later notifications fail.
func (s *Session) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

// Received returns a copy of the recorded notifications.
func (s *Session) Received() []Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Notification, len(s.received))
	copy(out, s.received)
	return out
}

// WaitFor blocks until at least n notifications were recorded or timeout
// elapses. It reports whether n was reached.
func (s *Session) WaitFor(n int, timeout time.Duration) bool {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		if len(s.Received()) >= n {
			return true
		}
		select {
		case <-s.notify:
		case <-deadline.C:
			return len(s.Received()) >= n
		}
	}
}

// Sessions is an in-memory plugin.SessionSet.
type Sessions struct {
	mu       sync.RWMutex
	sessions []*Session
}

// Add adds a session to the set.
func (ss *Sessions) Add(s *Session) {
	ss.mu.Lock()
	ss.sessions = append(ss.sessions, s)
	ss.mu.Unlock()
}

// Remove drops the session with the given id.
func (ss *Sessions) Remove(id string) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	for i, s := range ss.sessions {
		if s.id == id {
			ss.sessions = append(ss.sessions[:i], ss.sessions[i+1:]...)
			return
		}
	}
}

// Session returns the concrete session with the given id, or nil.
func (ss *Sessions) Session(id string) *Session {
	ss.mu.RLock()
	defer ss.mu.RUnlock()
	for _, s := range ss.sessions {
		if s.id == id {
			return s
		}
	}
	return nil
}

func (ss *Sessions) Len() int {
	ss.mu.RLock()
	defer ss.mu.RUnlock()
	return len(ss.sessions)
}

func (ss *Sessions) Get(id string) (plugin.Session, bool) {
	if s := ss.Session(id); s != nil {
		return s, true
	}
	return nil, false
}

func (ss *Sessions) Each(fn func(plugin.Session) bool) {
	ss.mu.RLock()
	snapshot := append([]*Session(nil), ss.sessions...)
	ss.mu.RUnlock()
	for _, s := range snapshot {
		if !fn(s) {
			return
		}
	}
}

func (ss *Sessions) Notify(method string, data any) int {
	n := 0
	ss.Each(func(s plugin.Session) bool {
		if s.Notify(method, data) == nil {
			n++
		}
		return true
	})
	return n
}
