package server

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vango-dev/mushroom/pkg/protocol"
)

// readLoop reads messages from the WebSocket until it closes. Requests are
// dispatched concurrently so a slow function does not stall the connection.
// It blocks until the connection is closed.
func (s *Session) readLoop(conn *websocket.Conn) {
	var calls sync.WaitGroup
	defer func() {
		s.Close()
		calls.Wait()
	}()

	pingInterval := s.server.config.PingInterval
	conn.SetReadLimit(s.server.config.MaxMessageSize)
	conn.SetReadDeadline(time.Now().Add(2 * pingInterval))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(2 * pingInterval))
		return nil
	})

	go s.pingLoop(conn, pingInterval)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				s.logger.Warn("read error", "error", err)
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(2 * pingInterval))

		msg, err := protocol.Decode(data)
		if err != nil {
			s.server.metrics.decodeErrors.Add(1)
			s.logger.Debug("message decode error", "error", err)
			continue
		}

		switch msg.Type {
		case protocol.TypeRequest, protocol.TypeNotification:
			calls.Add(1)
			go func() {
				defer calls.Done()
				s.server.handleMessage(s, msg)
			}()
		default:
			s.server.handleMessage(s, msg)
		}

		if s.IsClosed() {
			return
		}
	}
}

// pingLoop keeps the connection alive until the session closes.
func (s *Session) pingLoop(conn *websocket.Conn, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			deadline := time.Now().Add(s.server.config.WriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				s.logger.Debug("ping failed", "error", err)
				s.Close()
				return
			}
		case <-s.done:
			return
		}
	}
}
