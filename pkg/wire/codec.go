package wire

import (
	"encoding/json"
	"fmt"
)

// Encode serializes a message to its JSON wire form.
// An encode exceeding MaxWireSize is a local validation failure
// (ErrMessageTooLarge), never sent.
func Encode(m *Message) ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("invalid message: %w", err)
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}
	if len(data) > MaxWireSize {
		return nil, fmt.Errorf("%w: %d > %d bytes", ErrMessageTooLarge, len(data), MaxWireSize)
	}
	return data, nil
}

// Decode parses and structurally validates JSON wire bytes.
// Unknown kinds are coerced to KindMessage for forward compatibility.
func Decode(data []byte) (*Message, error) {
	if len(data) > MaxWireSize {
		return nil, fmt.Errorf("%w: %d > %d bytes", ErrMessageTooLarge, len(data), MaxWireSize)
	}

	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to decode message: %w", err)
	}
	if !m.Kind.IsValid() {
		m.Kind = KindMessage
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("invalid message: %w", err)
	}
	return &m, nil
}

// EncodedSize returns the serialized size of the message in bytes.
func EncodedSize(m *Message) (int, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return 0, err
	}
	return len(data), nil
}
