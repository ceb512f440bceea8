package audit

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type EventType string

const (
	EventAuthFailure     EventType = "auth_failure"
	EventRateLimitExceed EventType = "rate_limit_exceeded"
	EventSessionRequest  EventType = "session_request"
	EventSessionAccept   EventType = "session_accept"
	EventSessionSkip     EventType = "session_skip"
	EventQueueClear      EventType = "queue_clear"
	EventSessionClear    EventType = "session_clear"
	EventOnlineToggle    EventType = "online_toggle"
	EventChatOpen        EventType = "chat_open"
	EventChatClose       EventType = "chat_close"
)

// Event is one control-plane action. Outcome is "ok" or the error code.
type Event struct {
	Type      EventType
	Outcome   string
	IP        string
	UserAgent string
	Details   map[string]any
}

func Log(event Event) {
	logger := log.With().
		Str("audit", "control").
		Str("event_type", string(event.Type)).
		Time("timestamp", time.Now()).
		Logger()

	if event.IP != "" {
		logger = logger.With().Str("ip", event.IP).Logger()
	}
	if event.UserAgent != "" {
		logger = logger.With().Str("user_agent", event.UserAgent).Logger()
	}

	var logEvent *zerolog.Event
	if event.Outcome == "" || event.Outcome == OutcomeOK {
		logEvent = logger.Info()
	} else {
		logEvent = logger.Warn()
	}
	logEvent = logEvent.Str("outcome", event.Outcome)
	for k, v := range event.Details {
		logEvent = addField(logEvent, k, v)
	}
	logEvent.Msg("control audit event")
}

const OutcomeOK = "ok"

func addField(e *zerolog.Event, key string, value any) *zerolog.Event {
	switch v := value.(type) {
	case string:
		return e.Str(key, v)
	case int:
		return e.Int(key, v)
	case int64:
		return e.Int64(key, v)
	case bool:
		return e.Bool(key, v)
	default:
		return e.Interface(key, v)
	}
}

func LogFromRequest(r *http.Request, event Event) {
	event.IP = r.RemoteAddr
	event.UserAgent = r.UserAgent()
	Log(event)
}
