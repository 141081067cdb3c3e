package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/vango-dev/mushroom/pkg/protocol"
)

// newRouter builds the mushroom routes:
//
//	POST /            bootstrap a session
//	GET  /{session}   WebSocket transport
//	POST /{session}   poll transport
func (s *Server) newRouter() chi.Router {
	r := chi.NewRouter()
	r.Post("/", s.handleConnect)
	r.Get("/{sessionID}", s.handleWebSocket)
	r.Post("/{sessionID}", s.handlePoll)
	return r
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Preflight never reaches the router, whatever the dispatch table holds.
	if r.Method == http.MethodOptions {
		writePreflight(w)
		return
	}
	s.router.ServeHTTP(w, r)
}

// Handler returns the server as an http.Handler for mounting in other routers.
func (s *Server) Handler() http.Handler {
	return s
}

func writePreflight(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Access-Control-Request-Method", "POST")
	h.Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
}

// handleConnect negotiates a transport and creates a session.
func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")

	ip := s.clientIP(r)
	if !s.connectLimiter.allow("ip:"+ip, time.Now()) {
		s.metrics.rateLimited.Add(1)
		http.Error(w, "Too many requests", http.StatusTooManyRequests)
		return
	}

	req, err := protocol.ReadConnectRequest(r.Body, s.config.MaxMessageSize)
	if err != nil {
		s.metrics.decodeErrors.Add(1)
		http.Error(w, "Invalid connect request", http.StatusBadRequest)
		return
	}

	transport, err := protocol.ChooseTransport(req.Transports, s.config.Transports)
	if err != nil {
		http.Error(w, "No supported transport", http.StatusBadRequest)
		return
	}

	sess := newSession(s, transport, req.Auth, ip)
	if s.authFunc != nil && !s.authFunc(sess, req.Auth) {
		sess.cancel()
		s.logger.Info("session rejected by auth function", "remote_ip", ip)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	s.sessionOpened(sess)

	resp := protocol.ConnectResponse{
		Transport: transport,
		URL:       s.sessionURL(r, sess),
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		sess.logger.Debug("write connect response failed", "error", err)
	}
}

// sessionURL builds the URL a client uses for its transport.
func (s *Server) sessionURL(r *http.Request, sess *Session) string {
	base := &url.URL{Scheme: "http", Host: r.Host}
	if r.TLS != nil {
		base.Scheme = "https"
	}
	if s.publicURL != nil {
		copied := *s.publicURL
		base = &copied
	}

	if sess.transport == protocol.TransportWebSocket {
		switch base.Scheme {
		case "https":
			base.Scheme = "wss"
		default:
			base.Scheme = "ws"
		}
	}
	base.Path = strings.TrimSuffix(base.Path, "/") + "/" + sess.id
	base.RawQuery = ""
	return base.String()
}

func (s *Server) sessionFor(w http.ResponseWriter, r *http.Request, transport string) (*Session, bool) {
	sess, ok := s.sessions.Lookup(chi.URLParam(r, "sessionID"))
	if !ok {
		http.Error(w, "Session not found", http.StatusNotFound)
		return nil, false
	}
	if sess.transport != transport {
		http.Error(w, "Wrong transport for session", http.StatusBadRequest)
		return nil, false
	}
	return sess, true
}

// handleWebSocket attaches a WebSocket to a bootstrapped session.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFor(w, r, protocol.TransportWebSocket)
	if !ok {
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		sess.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	if err := sess.attach(conn); err != nil {
		sess.logger.Debug("websocket attach failed", "error", err)
		if errors.Is(err, ErrAlreadyConnected) {
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "already connected"),
				time.Now().Add(time.Second))
		}
		conn.Close()
		return
	}

	sess.logger.Debug("websocket attached")
	sess.readLoop(conn)
}

// handlePoll processes a batch of client messages. A heartbeat in the batch
// makes the request wait for outbound messages.
func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")

	sess, ok := s.sessionFor(w, r, protocol.TransportPoll)
	if !ok {
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, s.config.MaxMessageSize+1))
	if err != nil {
		http.Error(w, "Read error", http.StatusBadRequest)
		return
	}
	if int64(len(body)) > s.config.MaxMessageSize {
		http.Error(w, "Message too large", http.StatusRequestEntityTooLarge)
		return
	}

	msgs, err := protocol.DecodeBatch(body)
	if err != nil {
		s.metrics.decodeErrors.Add(1)
		http.Error(w, "Invalid message batch", http.StatusBadRequest)
		return
	}

	sess.touch()
	wait := false
	for _, msg := range msgs {
		if msg.Type == protocol.TypeHeartbeat {
			wait = true
		}
		s.handleMessage(sess, msg)
	}

	var pending []protocol.Message
	if wait && !sess.IsClosed() {
		pending = sess.waitOutbox(r.Context(), s.config.PollTimeout)
	}

	out, err := protocol.EncodeBatch(pending)
	if err != nil {
		sess.logger.Error("encode poll response failed", "error", err)
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}
	s.metrics.messagesSent.Add(int64(len(pending)))

	w.Header().Set("Content-Type", "application/json")
	w.Write(out)
}
