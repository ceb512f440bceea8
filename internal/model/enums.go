package model

import (
	"fmt"
	"strings"
)

type Role string

const (
	RoleUser       Role = "USER"
	RoleAstrologer Role = "ASTROLOGER"
)

type SessionType string

const (
	SessionTypeChat  SessionType = "CHAT"
	SessionTypeAudio SessionType = "AUDIO"
	SessionTypeVideo SessionType = "VIDEO"
)

// ParseSessionType accepts the upper or lower case wire names.
func ParseSessionType(s string) (SessionType, error) {
	switch t := SessionType(strings.ToUpper(strings.TrimSpace(s))); t {
	case SessionTypeChat, SessionTypeAudio, SessionTypeVideo:
		return t, nil
	default:
		return "", fmt.Errorf("unknown session type %q", s)
	}
}

// IsCall reports whether the session runs on the external calling surface.
func (t SessionType) IsCall() bool {
	return t == SessionTypeAudio || t == SessionTypeVideo
}

type SessionStatus string

const (
	SessionStatusRequested SessionStatus = "REQUESTED"
	SessionStatusWaiting   SessionStatus = "WAITING"
	SessionStatusActive    SessionStatus = "ACTIVE"
	SessionStatusEnded     SessionStatus = "ENDED"
)

// ParseSessionStatus normalizes server spellings such as "ended" or "PENDING".
func ParseSessionStatus(s string) (SessionStatus, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "REQUESTED", "PENDING":
		return SessionStatusRequested, true
	case "WAITING":
		return SessionStatusWaiting, true
	case "ACTIVE", "STARTED":
		return SessionStatusActive, true
	case "ENDED", "COMPLETED":
		return SessionStatusEnded, true
	default:
		return "", false
	}
}

// Rank orders statuses along the lifecycle; transitions may only increase it.
func (s SessionStatus) Rank() int {
	switch s {
	case SessionStatusRequested:
		return 1
	case SessionStatusWaiting:
		return 2
	case SessionStatusActive:
		return 3
	case SessionStatusEnded:
		return 4
	default:
		return 0
	}
}

type MessageType string

const (
	MessageTypeText  MessageType = "TEXT"
	MessageTypeImage MessageType = "IMAGE"
)
