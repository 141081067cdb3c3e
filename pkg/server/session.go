package server

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vango-dev/mushroom/pkg/protocol"
)

// Session is one connected mushroom client.
//
// Outbound messages are written straight to the WebSocket once one is
// attached. Until then, and for the whole life of a poll session, they wait
// in the outbox. Poll sessions drop outbox messages when the client
// acknowledges them with a heartbeat.
type Session struct {
	id        string
	transport string
	auth      json.RawMessage
	remoteIP  string
	createdAt time.Time

	server *Server
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	nextID     int64
	outbox     []protocol.Message
	signal     chan struct{} // closed and replaced whenever the outbox grows
	lastActive time.Time
	polling    int
	conn       *websocket.Conn
	closed     bool

	writeMu   sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
}

// generateSessionID generates a cryptographically random session ID.
func generateSessionID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		// SECURITY: Fatal on entropy failure - weak IDs are dangerous
		panic(fmt.Sprintf("crypto/rand failed: %v", err))
	}
	return hex.EncodeToString(b)
}

func newSession(s *Server, transport string, auth json.RawMessage, remoteIP string) *Session {
	now := time.Now()
	id := generateSessionID()
	ctx, cancel := context.WithCancel(s.ctx)
	return &Session{
		id:         id,
		transport:  transport,
		auth:       auth,
		remoteIP:   remoteIP,
		createdAt:  now,
		server:     s,
		logger:     s.logger.With("session_id", id, "transport", transport),
		ctx:        ctx,
		cancel:     cancel,
		signal:     make(chan struct{}),
		lastActive: now,
		done:       make(chan struct{}),
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Auth returns the credential the client sent during bootstrap.
func (s *Session) Auth() json.RawMessage { return s.auth }

// Transport returns the negotiated transport name.
func (s *Session) Transport() string { return s.transport }

// RemoteIP returns the client IP seen at bootstrap.
func (s *Session) RemoteIP() string { return s.remoteIP }

// CreatedAt returns when the session was bootstrapped.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// Context is canceled when the session closes.
func (s *Session) Context() context.Context { return s.ctx }

// Done is closed when the session closes.
func (s *Session) Done() <-chan struct{} { return s.done }

// IsClosed reports whether the session has been closed.
func (s *Session) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// LastActive returns the time of the last inbound activity.
func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastActive = time.Now()
	s.mu.Unlock()
}

// Notify sends a notification to the client.
func (s *Session) Notify(method string, data any) error {
	return s.send(func(id int64) (protocol.Message, error) {
		return protocol.Notification(id, method, data)
	})
}

// send assigns the next message ID, builds the message and delivers it.
// writeMu is held across ID assignment and the socket write so messages
// reach the client in ID order; clients drop anything out of order.
func (s *Session) send(build func(id int64) (protocol.Message, error)) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return NewSessionError(s.id, "send", ErrSessionClosed)
	}
	msg, err := build(s.nextID)
	if err != nil {
		s.mu.Unlock()
		return NewSessionError(s.id, "send", err)
	}
	s.nextID++

	conn := s.conn
	if conn == nil {
		if len(s.outbox) >= s.server.config.OutboxSize {
			s.mu.Unlock()
			return NewSessionError(s.id, "send", ErrOutboxFull)
		}
		s.outbox = append(s.outbox, msg)
		close(s.signal)
		s.signal = make(chan struct{})
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	return s.writeLocked(conn, msg)
}

// writeLocked writes one message. The caller holds writeMu.
func (s *Session) writeLocked(conn *websocket.Conn, msg protocol.Message) error {
	b, err := protocol.Encode(msg)
	if err != nil {
		return NewSessionError(s.id, "encode", err)
	}

	conn.SetWriteDeadline(time.Now().Add(s.server.config.WriteTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
		s.server.metrics.writeErrors.Add(1)
		s.logger.Debug("websocket write failed", "error", err)
		go s.Close()
		return NewSessionError(s.id, "write", err)
	}
	s.server.metrics.messagesSent.Add(1)
	return nil
}

// ack drops outbox messages up to and including lastID.
func (s *Session) ack(lastID *int64) {
	if lastID == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	i := 0
	for i < len(s.outbox) && s.outbox[i].ID <= *lastID {
		i++
	}
	if i > 0 {
		s.outbox = append(s.outbox[:0:0], s.outbox[i:]...)
	}
}

// waitOutbox blocks until the outbox is non-empty, the timeout elapses, ctx
// is done or the session closes, then returns a copy of the outbox.
func (s *Session) waitOutbox(ctx context.Context, timeout time.Duration) []protocol.Message {
	s.mu.Lock()
	s.polling++
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.polling--
		s.lastActive = time.Now()
		s.mu.Unlock()
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		s.mu.Lock()
		if len(s.outbox) > 0 || s.closed {
			pending := append([]protocol.Message(nil), s.outbox...)
			s.mu.Unlock()
			return pending
		}
		signal := s.signal
		s.mu.Unlock()

		select {
		case <-signal:
		case <-timer.C:
			return nil
		case <-ctx.Done():
			return nil
		case <-s.done:
			return nil
		}
	}
}

// attach binds a WebSocket to the session and flushes queued messages.
func (s *Session) attach(conn *websocket.Conn) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.conn != nil {
		s.mu.Unlock()
		return ErrAlreadyConnected
	}
	s.conn = conn
	pending := s.outbox
	s.outbox = nil
	s.lastActive = time.Now()
	s.mu.Unlock()

	for _, msg := range pending {
		if err := s.writeLocked(conn, msg); err != nil {
			return err
		}
	}
	return nil
}

// idleFor reports how long the session has gone without a poll in flight
// or an attached WebSocket.
func (s *Session) idleFor(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.polling > 0 || s.conn != nil {
		return 0
	}
	return now.Sub(s.lastActive)
}

// Close closes the session and removes it from the server. Safe to call
// more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		conn := s.conn
		s.mu.Unlock()

		s.cancel()
		close(s.done)

		if conn != nil {
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			conn.Close()
		}

		s.server.sessionClosed(s)
	})
}
