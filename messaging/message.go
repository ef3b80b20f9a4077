// Package messaging defines the unit of inter-agent communication: the
// Message, its priority scale, and the wire codec used at the transport
// boundary. A Message is created by a publisher, validated at ingress, and
// consumed by zero or more subscribers; it is never persisted by this module.
package messaging

import (
	"encoding/json"
	"fmt"
	"maps"
	"time"

	"github.com/google/uuid"
)

// Well-known message type tags. The type set is open: applications may
// publish messages with their own tags, but every message must carry a
// non-empty tag.
const (
	TypeRequest      = "request"
	TypeResponse     = "response"
	TypeNotification = "notification"
	TypeBroadcast    = "broadcast"
	TypeStepRequest  = "workflow.step.request"
	TypeStepResult   = "workflow.step.result"
)

// Metadata carries delivery hints and correlation data alongside a message.
type Metadata struct {
	Priority      Priority          `json:"priority,omitempty"`
	CorrelationID string            `json:"correlation_id,omitempty"`
	Headers       map[string]string `json:"headers,omitempty"`
}

// Message is the unit of inter-agent communication. Target is empty for
// broadcast messages. Content is opaque to this layer beyond the ingress
// requirement that it be present; use ContentAs to decode it into a typed
// payload.
type Message struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Source    string    `json:"source"`
	Target    string    `json:"target,omitempty"`
	Content   any       `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	ReplyTo   string    `json:"reply_to,omitempty"`
	Metadata  Metadata  `json:"metadata,omitempty"`
}

func (msg *Message) IsRequest() bool {
	return msg.Type == TypeRequest
}

func (msg *Message) IsResponse() bool {
	return msg.Type == TypeResponse
}

func (msg *Message) IsBroadcast() bool {
	return msg.Type == TypeBroadcast || msg.Target == "*" || msg.Target == ""
}

// Priority returns the delivery priority, substituting the default for the
// zero value so callers never branch on unset metadata.
func (msg *Message) Priority() Priority {
	if msg.Metadata.Priority == 0 {
		return PriorityMedium
	}
	return msg.Metadata.Priority
}

func (msg *Message) Clone() *Message {
	clone := *msg
	clone.Metadata.Headers = maps.Clone(msg.Metadata.Headers)
	return &clone
}

func (msg *Message) String() string {
	return fmt.Sprintf(
		"Message{ID: %s, Type: %s, Source: %s, Target: %s}",
		msg.ID,
		msg.Type,
		msg.Source,
		msg.Target,
	)
}

// ContentAs decodes the message content into a typed payload. Content that
// arrived over the wire is held as raw JSON and unmarshaled directly;
// locally constructed content is round-tripped through JSON so the result
// is identical on both paths.
func ContentAs[T any](msg *Message) (T, error) {
	var out T

	raw, ok := msg.Content.(json.RawMessage)
	if !ok {
		encoded, err := json.Marshal(msg.Content)
		if err != nil {
			return out, fmt.Errorf("encode content: %w", err)
		}
		raw = encoded
	}

	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("decode content: %w", err)
	}
	return out, nil
}

func generateID() string {
	return uuid.Must(uuid.NewV7()).String()
}
