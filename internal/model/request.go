package model

// SessionRequest is the body of a chat or call request to the REST collaborator.
type SessionRequest struct {
	AstrologerID string      `json:"astrologerId" validate:"required"`
	SessionType  SessionType `json:"sessionType" validate:"required,oneof=CHAT AUDIO VIDEO"`
	Duration     int         `json:"duration" validate:"gt=0"`
	FreeChat     bool        `json:"isFreeChat,omitempty"`
}
