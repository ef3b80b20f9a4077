package messaging

import "time"

// MessageBuilder constructs messages with generated IDs and timestamps.
type MessageBuilder struct {
	message *Message
}

// NewMessage starts a builder for a message of the given type. The ID and
// timestamp are assigned immediately; priority defaults to medium.
func NewMessage(messageType, source string, content any) *MessageBuilder {
	return &MessageBuilder{
		message: &Message{
			ID:        generateID(),
			Type:      messageType,
			Source:    source,
			Content:   content,
			Timestamp: time.Now().UTC(),
			Metadata:  Metadata{Priority: PriorityMedium},
		},
	}
}

func NewRequest(source, target string, content any) *MessageBuilder {
	return NewMessage(TypeRequest, source, content).Target(target)
}

func NewResponse(source, target, replyTo string, content any) *MessageBuilder {
	return NewMessage(TypeResponse, source, content).Target(target).ReplyTo(replyTo)
}

func NewNotification(source, target string, content any) *MessageBuilder {
	return NewMessage(TypeNotification, source, content).Target(target)
}

// NewBroadcast targets every agent; the "*" target maps to the shared
// broadcast channel.
func NewBroadcast(source string, content any) *MessageBuilder {
	return NewMessage(TypeBroadcast, source, content).Target("*")
}

func (mb *MessageBuilder) Target(target string) *MessageBuilder {
	mb.message.Target = target
	return mb
}

func (mb *MessageBuilder) ReplyTo(replyTo string) *MessageBuilder {
	mb.message.ReplyTo = replyTo
	return mb
}

func (mb *MessageBuilder) Priority(priority Priority) *MessageBuilder {
	mb.message.Metadata.Priority = priority
	return mb
}

func (mb *MessageBuilder) CorrelationID(id string) *MessageBuilder {
	mb.message.Metadata.CorrelationID = id
	return mb
}

func (mb *MessageBuilder) Header(key, value string) *MessageBuilder {
	if mb.message.Metadata.Headers == nil {
		mb.message.Metadata.Headers = make(map[string]string)
	}
	mb.message.Metadata.Headers[key] = value
	return mb
}

func (mb *MessageBuilder) Build() *Message {
	return mb.message
}
