package session

import (
	"context"

	"github.com/astrosevaa/sessiond/internal/model"
)

// API is the transactional half of session operations, served by the REST
// collaborator.
type API interface {
	RequestSession(ctx context.Context, req model.SessionRequest) error
	RequestCall(ctx context.Context, req model.SessionRequest) error
	AcceptSession(ctx context.Context, requesterID string) error
	SkipSession(ctx context.Context, requesterID string) error
	DeleteQueue(ctx context.Context) error
	Queue(ctx context.Context) ([]model.QueueEntry, error)
	Balance(ctx context.Context) (float64, error)
	SetOnline(ctx context.Context, online bool) error
}

// Publisher is the realtime half: the bus connection.
type Publisher interface {
	Send(destination string, headers map[string]string, body []byte) error
	IsConnected() bool
}

// Emitter pushes UI-facing events.
type Emitter interface {
	Emit(ctx context.Context, eventType string, data any)
}

// Persister stores the whitelisted state snapshot.
type Persister interface {
	Save(ctx context.Context, snap model.StateSnapshot) error
}

const (
	EventState  = "state"
	EventNotice = "notice"
)

type NoticeLevel string

const (
	NoticeInfo    NoticeLevel = "info"
	NoticeSuccess NoticeLevel = "success"
	NoticeWarning NoticeLevel = "warning"
	NoticeError   NoticeLevel = "error"
)

// Notice is the toast-equivalent surfaced to the UI.
type Notice struct {
	Level   NoticeLevel `json:"level"`
	Message string      `json:"message"`
}
