// Package wire defines the typed inter-agent message envelope and its JSON
// frame encoding. Every frame on the REST and WebSocket transports has this
// shape.
package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mistakeknot/concord/internal/core"
)

// MessageType is the closed set of inter-agent message kinds.
type MessageType string

const (
	TypeHandshake            MessageType = "handshake"
	TypeSchedulingProposal   MessageType = "scheduling_proposal"
	TypeProposalResponse     MessageType = "proposal_response"
	TypeAvailabilityRequest  MessageType = "availability_request"
	TypeAvailabilityResponse MessageType = "availability_response"
	TypeMeetingConfirmation  MessageType = "meeting_confirmation"
	TypeMeetingUpdate        MessageType = "meeting_update"
	TypeMeetingCancellation  MessageType = "meeting_cancellation"
	TypeStatusUpdate         MessageType = "status_update"
	TypeHeartbeat            MessageType = "heartbeat"
	TypeError                MessageType = "error"
)

var knownTypes = map[MessageType]struct{}{
	TypeHandshake:            {},
	TypeSchedulingProposal:   {},
	TypeProposalResponse:     {},
	TypeAvailabilityRequest:  {},
	TypeAvailabilityResponse: {},
	TypeMeetingConfirmation:  {},
	TypeMeetingUpdate:        {},
	TypeMeetingCancellation:  {},
	TypeStatusUpdate:         {},
	TypeHeartbeat:            {},
	TypeError:                {},
}

// Valid reports whether t is a recognized message type.
func (t MessageType) Valid() bool {
	_, ok := knownTypes[t]
	return ok
}

// DefaultResponseTimeout bounds how long a sender waits for a reply when it
// requests one and does not say otherwise.
const DefaultResponseTimeout = 300 * time.Second

// Message is the envelope carried by every inter-agent frame.
type Message struct {
	ID               string         `json:"message_id"`
	FromAgentID      string         `json:"from_agent_id"`
	ToAgentID        string         `json:"to_agent_id"`
	Type             MessageType    `json:"message_type"`
	Payload          map[string]any `json:"payload"`
	Priority         core.Priority  `json:"priority"`
	Timestamp        time.Time      `json:"timestamp"`
	ConversationID   string         `json:"conversation_id,omitempty"`
	RequiresResponse bool           `json:"requires_response"`

	// ExpiresAt is set only when a response is required.
	ExpiresAt time.Time `json:"expires_at,omitzero"`
}

// Option adjusts a message built by New.
type Option func(*Message)

// WithPriority overrides the default normal priority.
func WithPriority(p core.Priority) Option {
	return func(m *Message) { m.Priority = p }
}

// WithConversation tags the message with a conversation session.
func WithConversation(id string) Option {
	return func(m *Message) { m.ConversationID = id }
}

// WithResponse marks the message as requiring a response within timeout.
// A zero timeout uses DefaultResponseTimeout.
func WithResponse(timeout time.Duration) Option {
	return func(m *Message) {
		m.RequiresResponse = true
		if timeout <= 0 {
			timeout = DefaultResponseTimeout
		}
		m.ExpiresAt = m.Timestamp.Add(timeout)
	}
}

// New builds a message envelope with a fresh ID and UTC timestamp.
func New(from, to string, msgType MessageType, payload map[string]any, opts ...Option) Message {
	m := Message{
		ID:          uuid.NewString(),
		FromAgentID: from,
		ToAgentID:   to,
		Type:        msgType,
		Payload:     payload,
		Priority:    core.PriorityNormal,
		Timestamp:   time.Now().UTC(),
	}
	if m.Payload == nil {
		m.Payload = map[string]any{}
	}
	for _, opt := range opts {
		opt(&m)
	}
	return m
}

// Expired reports whether a required response deadline has passed.
func (m Message) Expired(now time.Time) bool {
	return !m.ExpiresAt.IsZero() && now.After(m.ExpiresAt)
}

// Protocol errors surfaced by Decode. Malformed frames are dropped by the
// router; the connection stays open.
var (
	ErrMalformedFrame  = errors.New("malformed message frame")
	ErrMissingField    = errors.New("missing required field")
	ErrUnknownType     = errors.New("unknown message type")
	ErrInvalidPriority = errors.New("invalid priority")
)

// Encode renders the envelope as a JSON frame.
func Encode(m Message) ([]byte, error) {
	if err := validate(m); err != nil {
		return nil, err
	}
	return json.Marshal(m)
}

// Decode parses and validates a JSON frame.
func Decode(frame []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(frame, &m); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if m.Priority == 0 {
		m.Priority = core.PriorityNormal
	}
	if err := validate(m); err != nil {
		return Message{}, err
	}
	return m, nil
}

// Validate checks the envelope invariants without re-encoding.
func (m Message) Validate() error {
	return validate(m)
}

func validate(m Message) error {
	switch {
	case m.ID == "":
		return fmt.Errorf("%w: message_id", ErrMissingField)
	case m.FromAgentID == "":
		return fmt.Errorf("%w: from_agent_id", ErrMissingField)
	case m.ToAgentID == "":
		return fmt.Errorf("%w: to_agent_id", ErrMissingField)
	}
	if !m.Type.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownType, m.Type)
	}
	if !m.Priority.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidPriority, m.Priority)
	}
	return nil
}
