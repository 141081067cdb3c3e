package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// MessageType identifies a mushroom message.
type MessageType int

const (
	TypeDisconnect   MessageType = -1
	TypeHeartbeat    MessageType = 0
	TypeNotification MessageType = 1
	TypeRequest      MessageType = 2
	TypeResponse     MessageType = 3
	TypeError        MessageType = 4
)

// String returns the string representation of the message type.
func (t MessageType) String() string {
	switch t {
	case TypeDisconnect:
		return "Disconnect"
	case TypeHeartbeat:
		return "Heartbeat"
	case TypeNotification:
		return "Notification"
	case TypeRequest:
		return "Request"
	case TypeResponse:
		return "Response"
	case TypeError:
		return "Error"
	default:
		return "Unknown"
	}
}

// HasID reports whether messages of this type carry a message ID.
func (t MessageType) HasID() bool {
	return t >= TypeNotification && t <= TypeError
}

var null = json.RawMessage("null")

// Message is a single decoded mushroom message. Which fields are meaningful
// depends on Type.
type Message struct {
	Type MessageType

	// ID is the message ID of notifications, requests, responses and errors.
	ID int64

	// LastID is the last message ID acknowledged by a heartbeat.
	// Nil means nothing has been received yet.
	LastID *int64

	// Method is the method name of notifications and requests.
	Method string

	// RequestID is the ID of the request a response or error answers.
	RequestID int64

	// Data is the raw JSON payload. Never nil after decoding.
	Data json.RawMessage
}

// Heartbeat creates a heartbeat acknowledging lastID. A negative lastID
// encodes as null.
func Heartbeat(lastID int64) Message {
	m := Message{Type: TypeHeartbeat}
	if lastID >= 0 {
		m.LastID = &lastID
	}
	return m
}

// Disconnect creates a disconnect message.
func Disconnect() Message {
	return Message{Type: TypeDisconnect}
}

// Notification creates a notification carrying data encoded as JSON.
func Notification(id int64, method string, data any) (Message, error) {
	raw, err := encodeData(data)
	if err != nil {
		return Message{}, err
	}
	return Message{Type: TypeNotification, ID: id, Method: method, Data: raw}, nil
}

// Request creates a request carrying data encoded as JSON.
func Request(id int64, method string, data any) (Message, error) {
	raw, err := encodeData(data)
	if err != nil {
		return Message{}, err
	}
	return Message{Type: TypeRequest, ID: id, Method: method, Data: raw}, nil
}

// Response creates a response to requestID.
func Response(id, requestID int64, data any) (Message, error) {
	raw, err := encodeData(data)
	if err != nil {
		return Message{}, err
	}
	return Message{Type: TypeResponse, ID: id, RequestID: requestID, Data: raw}, nil
}

// Error creates an error answer to requestID.
func Error(id, requestID int64, data any) (Message, error) {
	raw, err := encodeData(data)
	if err != nil {
		return Message{}, err
	}
	return Message{Type: TypeError, ID: id, RequestID: requestID, Data: raw}, nil
}

func encodeData(data any) (json.RawMessage, error) {
	switch v := data.(type) {
	case nil:
		return null, nil
	case json.RawMessage:
		if len(v) == 0 {
			return null, nil
		}
		return v, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidData, err)
	}
	return raw, nil
}

// MarshalJSON encodes the message as a JSON array.
func (m Message) MarshalJSON() ([]byte, error) {
	data := m.Data
	if len(data) == 0 {
		data = null
	}

	var fields []any
	switch m.Type {
	case TypeDisconnect:
		fields = []any{m.Type}
	case TypeHeartbeat:
		fields = []any{m.Type, m.LastID}
	case TypeNotification, TypeRequest:
		fields = []any{m.Type, m.ID, m.Method, data}
	case TypeResponse, TypeError:
		fields = []any{m.Type, m.ID, m.RequestID, data}
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownType, int(m.Type))
	}
	return json.Marshal(fields)
}

// UnmarshalJSON decodes a message from its JSON array form.
func (m *Message) UnmarshalJSON(b []byte) error {
	var fields []json.RawMessage
	if err := json.Unmarshal(b, &fields); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidFrame, err)
	}
	if len(fields) == 0 {
		return fmt.Errorf("%w: empty message", ErrInvalidFrame)
	}

	var typ MessageType
	if err := json.Unmarshal(fields[0], &typ); err != nil {
		return fmt.Errorf("%w: message type: %v", ErrInvalidFrame, err)
	}

	out := Message{Type: typ, Data: null}
	switch typ {
	case TypeDisconnect:
		if len(fields) != 1 {
			return fieldCountError(typ, len(fields))
		}

	case TypeHeartbeat:
		if len(fields) > 2 {
			return fieldCountError(typ, len(fields))
		}
		if len(fields) == 2 && !isNull(fields[1]) {
			var last int64
			if err := json.Unmarshal(fields[1], &last); err != nil {
				return fmt.Errorf("%w: heartbeat last message id: %v", ErrInvalidFrame, err)
			}
			out.LastID = &last
		}

	case TypeNotification, TypeRequest, TypeResponse, TypeError:
		if len(fields) != 4 {
			return fieldCountError(typ, len(fields))
		}
		if err := json.Unmarshal(fields[1], &out.ID); err != nil {
			return fmt.Errorf("%w: message id: %v", ErrInvalidFrame, err)
		}
		if typ == TypeNotification || typ == TypeRequest {
			if err := json.Unmarshal(fields[2], &out.Method); err != nil {
				return fmt.Errorf("%w: method: %v", ErrInvalidFrame, err)
			}
			if out.Method == "" {
				return fmt.Errorf("%w: empty method", ErrInvalidFrame)
			}
		} else if err := json.Unmarshal(fields[2], &out.RequestID); err != nil {
			return fmt.Errorf("%w: request message id: %v", ErrInvalidFrame, err)
		}
		out.Data = append(json.RawMessage(nil), fields[3]...)

	default:
		return fmt.Errorf("%w: %d", ErrUnknownType, int(typ))
	}

	*m = out
	return nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), null)
}

func fieldCountError(typ MessageType, n int) error {
	return fmt.Errorf("%w: %s with %d fields", ErrInvalidFrame, typ, n)
}
