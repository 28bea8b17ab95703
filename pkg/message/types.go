package message

import (
	"fmt"
	"strings"
)

// MessageType classifies a message.
type MessageType int

const (
	// TypeCommand asks a receiver to perform an action
	TypeCommand MessageType = iota

	// TypeEvent reports something that happened
	TypeEvent

	// TypeQuery asks for information
	TypeQuery

	// TypeResponse answers a command or query
	TypeResponse
)

func (t MessageType) String() string {
	switch t {
	case TypeCommand:
		return "command"
	case TypeEvent:
		return "event"
	case TypeQuery:
		return "query"
	case TypeResponse:
		return "response"
	default:
		return "unknown"
	}
}

// ParseType converts a type name into a MessageType.
func ParseType(s string) (MessageType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "command":
		return TypeCommand, nil
	case "event":
		return TypeEvent, nil
	case "query":
		return TypeQuery, nil
	case "response":
		return TypeResponse, nil
	default:
		return 0, fmt.Errorf("unknown message type: %q", s)
	}
}

// MarshalText encodes the type by name.
func (t MessageType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText decodes a type name.
func (t *MessageType) UnmarshalText(text []byte) error {
	parsed, err := ParseType(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Priority is an ordered urgency level. Higher values are more urgent.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
	PriorityUrgent
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityMedium:
		return "medium"
	case PriorityHigh:
		return "high"
	case PriorityUrgent:
		return "urgent"
	default:
		return "unknown"
	}
}

// ParsePriority converts a priority name into a Priority.
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return PriorityLow, nil
	case "medium":
		return PriorityMedium, nil
	case "high":
		return PriorityHigh, nil
	case "urgent":
		return PriorityUrgent, nil
	default:
		return 0, fmt.Errorf("unknown priority: %q", s)
	}
}

// MarshalText encodes the priority by name.
func (p Priority) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText decodes a priority name.
func (p *Priority) UnmarshalText(text []byte) error {
	parsed, err := ParsePriority(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
