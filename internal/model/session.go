package model

import "time"

type Participant struct {
	ID       string `json:"id" validate:"required"`
	Name     string `json:"name,omitempty"`
	ImageURI string `json:"imgUri,omitempty"`
}

// Session is a chat/audio/video interaction between a requester and an astrologer.
type Session struct {
	ID             string        `json:"id" validate:"required"`
	Type           SessionType   `json:"sessionType,omitempty"`
	Status         SessionStatus `json:"status,omitempty"`
	User           *Participant  `json:"user,omitempty" validate:"omitempty"`
	Astrologer     *Participant  `json:"astrologer,omitempty" validate:"omitempty"`
	Duration       int           `json:"duration,omitempty" validate:"gte=0"`
	PricePerMinute float64       `json:"pricePerMinute,omitempty" validate:"gte=0"`
	StartedAt      *time.Time    `json:"startedAt,omitempty"`
}

// Counterpart returns the participant that is not userID.
func (s *Session) Counterpart(userID string) *Participant {
	if s == nil {
		return nil
	}
	if s.User != nil && s.User.ID != userID {
		return s.User
	}
	if s.Astrologer != nil && s.Astrologer.ID != userID {
		return s.Astrologer
	}
	return nil
}

// Involves reports whether participantID is one side of the session.
func (s *Session) Involves(participantID string) bool {
	if s == nil {
		return false
	}
	return (s.User != nil && s.User.ID == participantID) ||
		(s.Astrologer != nil && s.Astrologer.ID == participantID)
}

type CallSession struct {
	SessionID string      `json:"sessionId" validate:"required"`
	Type      SessionType `json:"type,omitempty"`
	Channel   string      `json:"channelName,omitempty"`
	Token     string      `json:"token,omitempty"`
	Duration  int         `json:"duration,omitempty" validate:"gte=0"`
}

// Provider carries the pricing snapshot the requester saw when asking for a session.
type Provider struct {
	ID                  string  `json:"id" validate:"required"`
	Name                string  `json:"name,omitempty"`
	PricePerMinuteChat  float64 `json:"pricePerMinuteChat" validate:"gte=0"`
	PricePerMinuteVoice float64 `json:"pricePerMinuteVoice" validate:"gte=0"`
	PricePerMinuteVideo float64 `json:"pricePerMinuteVideo" validate:"gte=0"`
}

func (p Provider) PriceFor(t SessionType) float64 {
	switch t {
	case SessionTypeAudio:
		return p.PricePerMinuteVoice
	case SessionTypeVideo:
		return p.PricePerMinuteVideo
	default:
		return p.PricePerMinuteChat
	}
}

func (p Provider) Participant() *Participant {
	return &Participant{ID: p.ID, Name: p.Name}
}
