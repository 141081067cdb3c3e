package protocol

import "errors"

// Protocol errors.
var (
	// ErrInvalidFrame is returned for messages that are not well-formed.
	ErrInvalidFrame = errors.New("protocol: invalid message")

	// ErrUnknownType is returned for an unrecognized message type code.
	ErrUnknownType = errors.New("protocol: unknown message type")

	// ErrInvalidData is returned when a payload cannot be encoded as JSON.
	ErrInvalidData = errors.New("protocol: invalid message data")

	// ErrBatchTooLarge is returned when a poll batch exceeds MaxBatchSize.
	ErrBatchTooLarge = errors.New("protocol: batch too large")

	// ErrNoTransport is returned when client and server share no transport.
	ErrNoTransport = errors.New("protocol: no supported transport")
)
