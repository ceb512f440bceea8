package model

import "time"

// ArchivedMessage is a chat message as stored in the local archive.
type ArchivedMessage struct {
	MessageKey string    `db:"message_key" json:"key"`
	ID         string    `db:"message_id" json:"id,omitempty"`
	SessionID  string    `db:"session_id" json:"sessionId"`
	SenderID   string    `db:"sender_id" json:"senderId"`
	ReceiverID string    `db:"receiver_id" json:"receiverId"`
	Body       string    `db:"body" json:"message"`
	Type       string    `db:"message_type" json:"type"`
	SentAt     time.Time `db:"sent_at" json:"timestamp"`
	ArchivedAt time.Time `db:"archived_at" json:"archivedAt"`
}

func NewArchivedMessage(m Message) ArchivedMessage {
	typ := m.Type
	if typ == "" {
		typ = MessageTypeText
	}
	return ArchivedMessage{
		MessageKey: m.Key(),
		ID:         m.ID,
		SessionID:  m.SessionID,
		SenderID:   m.SenderID,
		ReceiverID: m.ReceiverID,
		Body:       m.Body,
		Type:       string(typ),
		SentAt:     m.Timestamp,
	}
}

func (a ArchivedMessage) Message() Message {
	return Message{
		ID:         a.ID,
		SenderID:   a.SenderID,
		ReceiverID: a.ReceiverID,
		SessionID:  a.SessionID,
		Body:       a.Body,
		Type:       MessageType(a.Type),
		Timestamp:  a.SentAt,
	}
}
