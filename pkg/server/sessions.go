package server

import (
	"sort"
	"sync"
	"time"

	"github.com/vango-dev/mushroom/pkg/plugin"
)

// SessionSet is the set of live sessions. It is safe for concurrent use.
// Only the server adds and removes sessions; everyone else reads.
type SessionSet struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	peak     int
}

var _ plugin.SessionSet = (*SessionSet)(nil)

func newSessionSet() *SessionSet {
	return &SessionSet{sessions: make(map[string]*Session)}
}

func (ss *SessionSet) add(s *Session) {
	ss.mu.Lock()
	ss.sessions[s.id] = s
	if len(ss.sessions) > ss.peak {
		ss.peak = len(ss.sessions)
	}
	ss.mu.Unlock()
}

func (ss *SessionSet) remove(id string) bool {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	if _, ok := ss.sessions[id]; !ok {
		return false
	}
	delete(ss.sessions, id)
	return true
}

// Lookup returns the session with the given ID.
func (ss *SessionSet) Lookup(id string) (*Session, bool) {
	ss.mu.RLock()
	defer ss.mu.RUnlock()
	s, ok := ss.sessions[id]
	return s, ok
}

// Get returns the session with the given ID.
func (ss *SessionSet) Get(id string) (plugin.Session, bool) {
	s, ok := ss.Lookup(id)
	if !ok {
		return nil, false
	}
	return s, true
}

// Len returns the number of live sessions.
func (ss *SessionSet) Len() int {
	ss.mu.RLock()
	defer ss.mu.RUnlock()
	return len(ss.sessions)
}

// Peak returns the highest number of simultaneous sessions seen.
func (ss *SessionSet) Peak() int {
	ss.mu.RLock()
	defer ss.mu.RUnlock()
	return ss.peak
}

// IDs returns the IDs of every live session, sorted.
func (ss *SessionSet) IDs() []string {
	ss.mu.RLock()
	ids := make([]string, 0, len(ss.sessions))
	for id := range ss.sessions {
		ids = append(ids, id)
	}
	ss.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// snapshot copies the session list so callbacks run without the lock held.
func (ss *SessionSet) snapshot() []*Session {
	ss.mu.RLock()
	defer ss.mu.RUnlock()
	out := make([]*Session, 0, len(ss.sessions))
	for _, s := range ss.sessions {
		out = append(out, s)
	}
	return out
}

// Each calls fn for every live session until fn returns false.
func (ss *SessionSet) Each(fn func(plugin.Session) bool) {
	for _, s := range ss.snapshot() {
		if !fn(s) {
			return
		}
	}
}

// Notify sends a notification to every live session and returns how many
// accepted it.
func (ss *SessionSet) Notify(method string, data any) int {
	n := 0
	for _, s := range ss.snapshot() {
		if err := s.Notify(method, data); err == nil {
			n++
		}
	}
	return n
}

// expired returns sessions that have neither a poll in flight nor a
// WebSocket attached and have been idle for longer than timeout.
func (ss *SessionSet) expired(now time.Time, timeout time.Duration) []*Session {
	var out []*Session
	for _, s := range ss.snapshot() {
		if s.idleFor(now) > timeout {
			out = append(out, s)
		}
	}
	return out
}
