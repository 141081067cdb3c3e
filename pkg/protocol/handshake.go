package protocol

import (
	"encoding/json"
	"fmt"
	"io"
)

// Transport names used during bootstrap.
const (
	TransportWebSocket = "ws"
	TransportPoll      = "poll"
)

// DefaultTransports lists the transports a server offers, in order of preference.
var DefaultTransports = []string{TransportWebSocket, TransportPoll}

// ConnectRequest is the bootstrap body a client POSTs to the server root.
type ConnectRequest struct {
	// Transports are the client's transports in order of preference.
	Transports []string `json:"transports"`

	// Auth is an opaque credential passed to the server's auth function.
	Auth json.RawMessage `json:"auth"`
}

// ConnectResponse tells the client which transport to use and where.
type ConnectResponse struct {
	Transport string `json:"transport"`
	URL       string `json:"url"`
}

// ReadConnectRequest decodes a bootstrap body of at most limit bytes.
// A client that names no transports is assumed to support only polling.
func ReadConnectRequest(r io.Reader, limit int64) (*ConnectRequest, error) {
	if limit <= 0 {
		limit = DefaultMaxMessageSize
	}
	var req ConnectRequest
	if err := json.NewDecoder(io.LimitReader(r, limit)).Decode(&req); err != nil {
		return nil, fmt.Errorf("%w: connect request: %v", ErrInvalidFrame, err)
	}
	if len(req.Transports) == 0 {
		req.Transports = []string{TransportPoll}
	}
	return &req, nil
}

// ChooseTransport returns the first client transport the server supports.
func ChooseTransport(client, server []string) (string, error) {
	for _, c := range client {
		for _, s := range server {
			if c == s {
				return c, nil
			}
		}
	}
	return "", ErrNoTransport
}
