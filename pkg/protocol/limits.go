package protocol

const (
	// MaxBatchSize is the maximum number of messages in one poll body.
	MaxBatchSize = 1024

	// DefaultMaxMessageSize bounds a single WebSocket frame or poll body (1MB).
	DefaultMaxMessageSize = 1 << 20
)
