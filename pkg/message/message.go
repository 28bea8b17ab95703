package message

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Message is a single routable unit.
type Message struct {
	// ID is an opaque identifier, caller-assigned or generated by New
	ID string `json:"id"`

	// Topic is the dot-segmented subject of the message
	Topic string `json:"topic"`

	// Type is the message kind, used by content filters
	Type MessageType `json:"type"`

	// Priority is the message urgency, independent of route priority
	Priority Priority `json:"priority"`

	// Metadata holds string headers
	Metadata map[string]string `json:"metadata,omitempty"`

	// Payload holds structured fields addressed by name
	Payload map[string]any `json:"payload,omitempty"`

	// CreatedAt is when the message was constructed
	CreatedAt time.Time `json:"createdAt"`
}

// Option configures a Message under construction.
type Option func(*Message)

// New creates a Message for topic. Unless overridden by options, the message
// gets a random UUID, TypeEvent and PriorityMedium.
func New(topic string, opts ...Option) *Message {
	msg := &Message{
		ID:        uuid.NewString(),
		Topic:     topic,
		Type:      TypeEvent,
		Priority:  PriorityMedium,
		Metadata:  make(map[string]string),
		Payload:   make(map[string]any),
		CreatedAt: time.Now().UTC(),
	}
	for _, opt := range opts {
		opt(msg)
	}
	return msg
}

// WithID sets a caller-assigned identifier.
func WithID(id string) Option {
	return func(m *Message) {
		m.ID = id
	}
}

// WithType sets the message type.
func WithType(t MessageType) Option {
	return func(m *Message) {
		m.Type = t
	}
}

// WithPriority sets the message priority.
func WithPriority(p Priority) Option {
	return func(m *Message) {
		m.Priority = p
	}
}

// WithMetadata sets a single metadata header.
func WithMetadata(key, value string) Option {
	return func(m *Message) {
		m.Metadata[key] = value
	}
}

// WithPayload merges the given fields into the payload.
// The map is copied so later mutation by the caller has no effect.
func WithPayload(fields map[string]any) Option {
	return func(m *Message) {
		for k, v := range fields {
			m.Payload[k] = v
		}
	}
}

// WithField sets a single payload field.
func WithField(name string, value any) Option {
	return func(m *Message) {
		m.Payload[name] = value
	}
}

// Meta returns a metadata value and whether it was present.
func (m *Message) Meta(key string) (string, bool) {
	if m == nil || m.Metadata == nil {
		return "", false
	}
	v, ok := m.Metadata[key]
	return v, ok
}

// Field returns a payload field by name. A name that is not a top-level key is
// resolved as a dotted path through nested maps, so "customer.tier" reads
// Payload["customer"].(map[string]any)["tier"].
func (m *Message) Field(name string) (any, bool) {
	if m == nil || m.Payload == nil {
		return nil, false
	}
	if v, ok := m.Payload[name]; ok {
		return v, true
	}
	if !strings.Contains(name, ".") {
		return nil, false
	}

	var current any = m.Payload
	for _, part := range strings.Split(name, ".") {
		fields, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = fields[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// Copy returns a copy of the message with independent metadata and payload maps.
// Nested payload values are shared.
func (m *Message) Copy() *Message {
	metadata := make(map[string]string, len(m.Metadata))
	for k, v := range m.Metadata {
		metadata[k] = v
	}
	payload := make(map[string]any, len(m.Payload))
	for k, v := range m.Payload {
		payload[k] = v
	}

	return &Message{
		ID:        m.ID,
		Topic:     m.Topic,
		Type:      m.Type,
		Priority:  m.Priority,
		Metadata:  metadata,
		Payload:   payload,
		CreatedAt: m.CreatedAt,
	}
}
