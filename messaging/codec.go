package messaging

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// ValidationError reports a message that fails the ingress shape contract.
// Messages carrying a ValidationError are dropped at the transport boundary
// and never reach a subscriber handler.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid message: %s %s", e.Field, e.Reason)
}

// Validate enforces the message shape invariant: a non-empty type, a source
// identifier, a timestamp, and a content field.
func Validate(msg *Message) error {
	if msg.Type == "" {
		return &ValidationError{Field: "type", Reason: "is empty"}
	}
	if msg.Source == "" {
		return &ValidationError{Field: "source", Reason: "is empty"}
	}
	if msg.Timestamp.IsZero() {
		return &ValidationError{Field: "timestamp", Reason: "is missing"}
	}
	if msg.Content == nil {
		return &ValidationError{Field: "content", Reason: "is missing"}
	}
	return nil
}

// wireMessage is the transport representation. Source and sender are
// synonyms reconciled at decode time; timestamp accepts RFC 3339 strings
// or integer epoch milliseconds from legacy producers.
type wireMessage struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Source    string          `json:"source,omitempty"`
	Sender    string          `json:"sender,omitempty"`
	Target    string          `json:"target,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	Timestamp json.RawMessage `json:"timestamp,omitempty"`
	ReplyTo   string          `json:"reply_to,omitempty"`
	Metadata  Metadata        `json:"metadata,omitempty"`
}

// Encode validates the message and serializes it for the wire.
func Encode(msg *Message) ([]byte, error) {
	if err := Validate(msg); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	return payload, nil
}

// Decode parses a raw payload into a Message and enforces the ingress
// invariant. Malformed payloads return an error; callers drop them without
// delivering to handlers.
func Decode(payload []byte) (*Message, error) {
	var wire wireMessage
	if err := json.Unmarshal(payload, &wire); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}

	source := wire.Source
	if source == "" {
		source = wire.Sender
	}

	timestamp, err := decodeTimestamp(wire.Timestamp)
	if err != nil {
		return nil, &ValidationError{Field: "timestamp", Reason: err.Error()}
	}

	msg := &Message{
		ID:        wire.ID,
		Type:      wire.Type,
		Source:    source,
		Target:    wire.Target,
		Timestamp: timestamp,
		ReplyTo:   wire.ReplyTo,
		Metadata:  wire.Metadata,
	}
	if len(wire.Content) > 0 && !bytes.Equal(wire.Content, []byte("null")) {
		msg.Content = wire.Content
	}
	if msg.ID == "" {
		msg.ID = generateID()
	}

	if err := Validate(msg); err != nil {
		return nil, err
	}
	return msg, nil
}

func decodeTimestamp(raw json.RawMessage) (time.Time, error) {
	if len(raw) == 0 {
		return time.Time{}, nil
	}

	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		parsed, err := time.Parse(time.RFC3339, text)
		if err != nil {
			return time.Time{}, fmt.Errorf("is not RFC 3339: %q", text)
		}
		return parsed, nil
	}

	var epochMillis int64
	if err := json.Unmarshal(raw, &epochMillis); err != nil {
		return time.Time{}, fmt.Errorf("is not a string or number: %s", raw)
	}
	return time.UnixMilli(epochMillis).UTC(), nil
}
