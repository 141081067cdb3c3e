package server

import (
	"sync/atomic"
	"time"
)

// ServerMetrics is a point-in-time snapshot of server counters.
type ServerMetrics struct {
	// Sessions
	ActiveSessions int64
	PeakSessions   int64
	SessionCreates int64
	SessionCloses  int64

	// Messages
	MessagesReceived int64
	MessagesSent     int64

	// Calls
	Calls       int64
	CallErrors  int64
	CallPanics  int64
	RateLimited int64

	// Errors
	DecodeErrors int64
	WriteErrors  int64

	// Timestamp
	CollectedAt time.Time
}

// metricsCollector holds the live counters behind ServerMetrics.
type metricsCollector struct {
	sessionCreates   atomic.Int64
	sessionCloses    atomic.Int64
	messagesReceived atomic.Int64
	messagesSent     atomic.Int64
	calls            atomic.Int64
	callErrors       atomic.Int64
	callPanics       atomic.Int64
	rateLimited      atomic.Int64
	decodeErrors     atomic.Int64
	writeErrors      atomic.Int64
}

// Metrics collects and returns server metrics.
func (s *Server) Metrics() *ServerMetrics {
	m := s.metrics
	return &ServerMetrics{
		ActiveSessions:   int64(s.sessions.Len()),
		PeakSessions:     int64(s.sessions.Peak()),
		SessionCreates:   m.sessionCreates.Load(),
		SessionCloses:    m.sessionCloses.Load(),
		MessagesReceived: m.messagesReceived.Load(),
		MessagesSent:     m.messagesSent.Load(),
		Calls:            m.calls.Load(),
		CallErrors:       m.callErrors.Load(),
		CallPanics:       m.callPanics.Load(),
		RateLimited:      m.rateLimited.Load(),
		DecodeErrors:     m.decodeErrors.Load(),
		WriteErrors:      m.writeErrors.Load(),
		CollectedAt:      time.Now(),
	}
}
