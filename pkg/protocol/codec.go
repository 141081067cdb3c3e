package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Decode decodes one message.
func Decode(b []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(b, &m); err != nil {
		if errors.Is(err, ErrInvalidFrame) || errors.Is(err, ErrUnknownType) {
			return Message{}, err
		}
		return Message{}, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
	}
	return m, nil
}

// DecodeBatch decodes a JSON array of messages as sent by the poll transport.
// The first malformed message fails the whole batch.
func DecodeBatch(b []byte) ([]Message, error) {
	var raws []json.RawMessage
	if err := json.Unmarshal(b, &raws); err != nil {
		return nil, fmt.Errorf("%w: batch: %v", ErrInvalidFrame, err)
	}
	if len(raws) > MaxBatchSize {
		return nil, fmt.Errorf("%w: %d messages", ErrBatchTooLarge, len(raws))
	}

	msgs := make([]Message, 0, len(raws))
	for i, raw := range raws {
		m, err := Decode(raw)
		if err != nil {
			return nil, fmt.Errorf("batch message %d: %w", i, err)
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

// Encode encodes one message.
func Encode(m Message) ([]byte, error) {
	return json.Marshal(m)
}

// EncodeBatch encodes messages as a JSON array. An empty batch encodes as [].
func EncodeBatch(msgs []Message) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, m := range msgs {
		if i > 0 {
			buf.WriteByte(',')
		}
		b, err := m.MarshalJSON()
		if err != nil {
			return nil, err
		}
		buf.Write(b)
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}
