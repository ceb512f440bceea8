package session

import (
	"github.com/astrosevaa/sessiond/internal/model"
)

type State string

const (
	StateIdle    State = "IDLE"
	StateWaiting State = "WAITING"
	StateActive  State = "ACTIVE"
	StateEnded   State = "ENDED"
)

func (s State) rank() int {
	switch s {
	case StateWaiting:
		return 1
	case StateActive:
		return 2
	case StateEnded:
		return 3
	default:
		return 0
	}
}

// CanAdvance reports whether to is strictly later in the lifecycle than s.
func (s State) CanAdvance(to State) bool {
	return to.rank() > s.rank()
}

func stateForStatus(status model.SessionStatus) State {
	switch status {
	case model.SessionStatusRequested, model.SessionStatusWaiting:
		return StateWaiting
	case model.SessionStatusActive:
		return StateActive
	case model.SessionStatusEnded:
		return StateEnded
	default:
		return StateIdle
	}
}

// View is the read model handed to the UI.
type View struct {
	UserID        string             `json:"userId"`
	Role          model.Role         `json:"role"`
	State         State              `json:"state"`
	Connected     bool               `json:"connected"`
	Session       *model.Session     `json:"session,omitempty"`
	ActiveSession *model.Session     `json:"activeSession,omitempty"`
	CallSession   *model.CallSession `json:"callSession,omitempty"`
	OtherParty    *model.Participant `json:"otherParty,omitempty"`
	FreeChatUsed  bool               `json:"freeChatUsed"`
	Balance       float64            `json:"balance"`
	Online        bool               `json:"online"`
	Queue         []model.QueueEntry `json:"queue"`
	QueueCount    int                `json:"queueCount"`
	Presence      []string           `json:"presence"`
}
