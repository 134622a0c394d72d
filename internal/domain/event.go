// Package domain defines the core types and interfaces for Harrier.
package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrInvalidEvent is returned when an event is rejected before scoring.
var ErrInvalidEvent = errors.New("invalid event")

// EventKind identifies the type of incoming event.
type EventKind string

const (
	EventKindCall     EventKind = "call"
	EventKindMessage  EventKind = "message"
	EventKindBehavior EventKind = "behavior"
)

// Event is one incoming call record, message, or behavior sample to be scored.
type Event interface {
	// EventID returns the unique identifier of the event.
	EventID() string

	// Kind returns the event kind.
	Kind() EventKind

	// Source returns the address or subject the event is attributed to.
	Source() string

	// EventTime returns when the event occurred.
	EventTime() time.Time

	// Validate rejects events missing required fields.
	Validate() error
}

// CallKind distinguishes voice calls from SMS delivery records in the CDR feed.
type CallKind string

const (
	CallKindVoice CallKind = "voice"
	CallKindSMS   CallKind = "sms"
)

// CallRecord is a call detail record (CDR) entering the scoring pipeline.
type CallRecord struct {
	ID              string    `json:"id"`
	FromAddr        string    `json:"fromAddr"`
	ToAddr          string    `json:"toAddr"`
	DurationSeconds int       `json:"durationSeconds"`
	Timestamp       time.Time `json:"timestamp"`
	CallKind        CallKind  `json:"kind"`
	Location        string    `json:"location,omitempty"`
	DeviceID        string    `json:"deviceId,omitempty"`
}

func (c *CallRecord) EventID() string      { return c.ID }
func (c *CallRecord) Kind() EventKind      { return EventKindCall }
func (c *CallRecord) Source() string       { return c.FromAddr }
func (c *CallRecord) EventTime() time.Time { return c.Timestamp }

// Validate checks required CDR fields.
func (c *CallRecord) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("%w: call record id is required", ErrInvalidEvent)
	}
	if c.FromAddr == "" || c.ToAddr == "" {
		return fmt.Errorf("%w: call record fromAddr and toAddr are required", ErrInvalidEvent)
	}
	if c.DurationSeconds < 0 {
		return fmt.Errorf("%w: call duration must not be negative", ErrInvalidEvent)
	}
	if c.CallKind != CallKindVoice && c.CallKind != CallKindSMS {
		return fmt.Errorf("%w: unknown call kind %q", ErrInvalidEvent, c.CallKind)
	}
	return nil
}

// MessageKind distinguishes text from binary SMS payloads.
type MessageKind string

const (
	MessageKindText   MessageKind = "text"
	MessageKindBinary MessageKind = "binary"
)

// MessageRecord is SMS metadata plus body entering the scoring pipeline.
type MessageRecord struct {
	ID          string      `json:"id"`
	FromAddr    string      `json:"fromAddr"`
	ToAddr      string      `json:"toAddr"`
	Body        string      `json:"body"`
	Timestamp   time.Time   `json:"timestamp"`
	MessageKind MessageKind `json:"kind"`
}

func (m *MessageRecord) EventID() string      { return m.ID }
func (m *MessageRecord) Kind() EventKind      { return EventKindMessage }
func (m *MessageRecord) Source() string       { return m.FromAddr }
func (m *MessageRecord) EventTime() time.Time { return m.Timestamp }

// Validate checks required message fields.
func (m *MessageRecord) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("%w: message id is required", ErrInvalidEvent)
	}
	if m.FromAddr == "" || m.ToAddr == "" {
		return fmt.Errorf("%w: message fromAddr and toAddr are required", ErrInvalidEvent)
	}
	if m.MessageKind != MessageKindText && m.MessageKind != MessageKindBinary {
		return fmt.Errorf("%w: unknown message kind %q", ErrInvalidEvent, m.MessageKind)
	}
	return nil
}

// ActivitySnapshot is one entry in a behavior sample's recent-activity window.
type ActivitySnapshot struct {
	ActivityType string    `json:"activityType"`
	PeerAddress  string    `json:"peerAddress,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// BehaviorSample is a subject's recent activity window fed into scoring.
type BehaviorSample struct {
	SubjectID      string             `json:"subjectId"`
	RecentActivity []ActivitySnapshot `json:"recentActivity"`
	Timestamp      time.Time          `json:"timestamp"`
}

func (b *BehaviorSample) EventID() string      { return b.SubjectID + "@" + b.Timestamp.UTC().Format(time.RFC3339) }
func (b *BehaviorSample) Kind() EventKind      { return EventKindBehavior }
func (b *BehaviorSample) Source() string       { return b.SubjectID }
func (b *BehaviorSample) EventTime() time.Time { return b.Timestamp }

// Validate checks required behavior sample fields.
func (b *BehaviorSample) Validate() error {
	if b.SubjectID == "" {
		return fmt.Errorf("%w: behavior sample subjectId is required", ErrInvalidEvent)
	}
	return nil
}

// EventEnvelope is the wire form of an Event used by the API and the event bus.
// Exactly one of Call, Message, or Behavior is set, matching Kind.
type EventEnvelope struct {
	Kind     EventKind       `json:"kind"`
	Call     *CallRecord     `json:"call,omitempty"`
	Message  *MessageRecord  `json:"message,omitempty"`
	Behavior *BehaviorSample `json:"behavior,omitempty"`
}

// Decode returns the typed event carried by the envelope.
func (e *EventEnvelope) Decode() (Event, error) {
	switch e.Kind {
	case EventKindCall:
		if e.Call == nil {
			return nil, fmt.Errorf("%w: envelope kind is call but call payload is missing", ErrInvalidEvent)
		}
		return e.Call, nil
	case EventKindMessage:
		if e.Message == nil {
			return nil, fmt.Errorf("%w: envelope kind is message but message payload is missing", ErrInvalidEvent)
		}
		return e.Message, nil
	case EventKindBehavior:
		if e.Behavior == nil {
			return nil, fmt.Errorf("%w: envelope kind is behavior but behavior payload is missing", ErrInvalidEvent)
		}
		return e.Behavior, nil
	default:
		return nil, fmt.Errorf("%w: unknown event kind %q", ErrInvalidEvent, e.Kind)
	}
}

// WrapEvent builds the envelope for a typed event.
func WrapEvent(ev Event) (*EventEnvelope, error) {
	switch v := ev.(type) {
	case *CallRecord:
		return &EventEnvelope{Kind: EventKindCall, Call: v}, nil
	case *MessageRecord:
		return &EventEnvelope{Kind: EventKindMessage, Message: v}, nil
	case *BehaviorSample:
		return &EventEnvelope{Kind: EventKindBehavior, Behavior: v}, nil
	default:
		return nil, fmt.Errorf("%w: unsupported event type %T", ErrInvalidEvent, ev)
	}
}

// MarshalEvent serializes an event as its envelope, for persistence and bus publication.
func MarshalEvent(ev Event) ([]byte, error) {
	env, err := WrapEvent(ev)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}
