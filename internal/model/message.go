package model

import "time"

type Message struct {
	ID         string      `json:"id,omitempty"`
	SenderID   string      `json:"senderId" validate:"required"`
	ReceiverID string      `json:"receiverId"`
	SessionID  string      `json:"sessionId"`
	Body       string      `json:"message"`
	Type       MessageType `json:"type" validate:"omitempty,oneof=TEXT IMAGE"`
	Timestamp  time.Time   `json:"timestamp"`
}

// Key identifies a message for deduplication: the assigned id when present,
// otherwise the sender and timestamp pair.
func (m Message) Key() string {
	if m.ID != "" {
		return m.ID
	}
	return m.SenderID + "|" + m.Timestamp.UTC().Format(time.RFC3339Nano)
}

// MessagePage is one page of chat history, newest page first.
type MessagePage struct {
	Messages    []Message `json:"messages"`
	CurrentPage int       `json:"currentPage"`
	IsLastPage  bool      `json:"isLastPage"`
}
