// Package events turns bus frames into typed session events and fans them out
// to sinks.
package events

import (
	"github.com/astrosevaa/sessiond/internal/model"
)

type Type string

const (
	TypeQueueUpdated     Type = "queue_updated"
	TypeRequestAccepted  Type = "request_accepted"
	TypeCallSessionReady Type = "call_session_ready"
	TypePresenceChanged  Type = "presence_changed"
	TypePresenceSnapshot Type = "presence_snapshot"
	TypeSessionUpdated   Type = "session_updated"
	TypeMessageReceived  Type = "message_received"
	TypeTypingChanged    Type = "typing_changed"
	TypeTimerTick        Type = "timer_tick"
	TypeSessionEnded     Type = "session_ended"
)

// Event is one inbound variant. Switch on the concrete type.
type Event interface {
	EventType() Type
}

// QueueUpdated signals that a request entered the provider's queue.
type QueueUpdated struct {
	Msg string `json:"msg"`
}

type RequestAccepted struct {
	Session model.Session `json:"session"`
}

type CallSessionReady struct {
	Call model.CallSession `json:"call"`
}

type PresenceChanged struct {
	AstrologerID string `json:"astrologerId"`
	Online       bool   `json:"online"`
}

// PresenceSnapshot replaces the presence set wholesale.
type PresenceSnapshot struct {
	IDs []string `json:"ids"`
}

type SessionUpdated struct {
	SessionID string              `json:"sessionId"`
	Status    model.SessionStatus `json:"status"`
}

type MessageReceived struct {
	Message model.Message `json:"message"`
}

type TypingChanged struct {
	SenderID   string `json:"senderId" validate:"required"`
	ReceiverID string `json:"receiverId"`
	SessionID  string `json:"sessionId"`
	Typing     bool   `json:"typing"`
}

// TimerTick carries the server-formatted timer text, displayed verbatim.
type TimerTick struct {
	SessionID string `json:"sessionId"`
	Display   string `json:"display"`
}

type SessionEnded struct {
	SessionID string `json:"sessionId"`
}

func (QueueUpdated) EventType() Type     { return TypeQueueUpdated }
func (RequestAccepted) EventType() Type  { return TypeRequestAccepted }
func (CallSessionReady) EventType() Type { return TypeCallSessionReady }
func (PresenceChanged) EventType() Type  { return TypePresenceChanged }
func (PresenceSnapshot) EventType() Type { return TypePresenceSnapshot }
func (SessionUpdated) EventType() Type   { return TypeSessionUpdated }
func (MessageReceived) EventType() Type  { return TypeMessageReceived }
func (TypingChanged) EventType() Type    { return TypeTypingChanged }
func (TimerTick) EventType() Type        { return TypeTimerTick }
func (SessionEnded) EventType() Type     { return TypeSessionEnded }
