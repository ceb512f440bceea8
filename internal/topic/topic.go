// Package topic builds and validates bus destinations. Subscribe destinations
// live under /topic, publish destinations under /app.
package topic

import (
	"fmt"
	"strings"
)

type Kind string

const (
	KindQueue           Kind = "queue"
	KindRequestAccepted Kind = "request-accepted"
	KindCallSession     Kind = "call-session"
	KindPresence        Kind = "presence"
	KindPresenceList    Kind = "presence-list"
	KindActiveSession   Kind = "active-session"
	KindChatMessages    Kind = "chat-messages"
	KindTyping          Kind = "typing"
	KindTimer           Kind = "timer"
	KindSessionEnd      Kind = "session-end"
)

// Publish destinations.
const (
	ChatSend      = "/app/chat.send"
	ChatTyping    = "/app/chat.typing"
	SessionActive = "/app/session.active"
	OnlineUser    = "/app/online.user"
)

const (
	subscribePrefix = "/topic/"
	publishPrefix   = "/app/"
)

const (
	paramUserID    = "userId"
	paramSessionID = "sessionId"
)

var patterns = map[Kind]string{
	KindQueue:           "/topic/queue/{userId}",
	KindRequestAccepted: "/topic/chat/{userId}/chatId",
	KindCallSession:     "/topic/call/{userId}/session",
	KindPresence:        "/topic/online/astrologer",
	KindPresenceList:    "/topic/online/astrologer/list",
	KindActiveSession:   "/topic/session/{userId}",
	KindChatMessages:    "/topic/chat/{userId}/messages",
	KindTyping:          "/topic/chat/{userId}/typing",
	KindTimer:           "/topic/chat/{sessionId}/timer",
	KindSessionEnd:      "/topic/chat/{sessionId}",
}

// Topic is a subscribe destination in structured form.
type Topic struct {
	Kind    Kind
	Pattern string
	Params  map[string]string
}

// Destination renders the topic with its parameters substituted.
func (t Topic) Destination() string {
	dest := t.Pattern
	for k, v := range t.Params {
		dest = strings.ReplaceAll(dest, "{"+k+"}", v)
	}
	return dest
}

func (t Topic) String() string {
	return t.Destination()
}

// Param returns a named parameter, empty when absent.
func (t Topic) Param(name string) string {
	return t.Params[name]
}

func build(kind Kind, params map[string]string) (Topic, error) {
	for name, value := range params {
		if err := validateParam(value); err != nil {
			return Topic{}, fmt.Errorf("%s %s: %w", kind, name, err)
		}
	}
	return Topic{Kind: kind, Pattern: patterns[kind], Params: params}, nil
}

func userTopic(kind Kind, userID string) (Topic, error) {
	return build(kind, map[string]string{paramUserID: userID})
}

func sessionTopic(kind Kind, sessionID string) (Topic, error) {
	return build(kind, map[string]string{paramSessionID: sessionID})
}

func Queue(userID string) (Topic, error)           { return userTopic(KindQueue, userID) }
func RequestAccepted(userID string) (Topic, error) { return userTopic(KindRequestAccepted, userID) }
func CallSession(userID string) (Topic, error)     { return userTopic(KindCallSession, userID) }
func ActiveSession(userID string) (Topic, error)   { return userTopic(KindActiveSession, userID) }
func ChatMessages(userID string) (Topic, error)    { return userTopic(KindChatMessages, userID) }
func Typing(userID string) (Topic, error)          { return userTopic(KindTyping, userID) }
func Timer(sessionID string) (Topic, error)        { return sessionTopic(KindTimer, sessionID) }
func SessionEnd(sessionID string) (Topic, error)   { return sessionTopic(KindSessionEnd, sessionID) }

func Presence() Topic {
	return Topic{Kind: KindPresence, Pattern: patterns[KindPresence]}
}

func PresenceList() Topic {
	return Topic{Kind: KindPresenceList, Pattern: patterns[KindPresenceList]}
}

// UserTopics returns the per-user topics every authenticated client listens on.
func UserTopics(userID string) ([]Topic, error) {
	builders := []func(string) (Topic, error){Queue, RequestAccepted, CallSession, ActiveSession}
	topics := make([]Topic, 0, len(builders)+2)
	for _, b := range builders {
		t, err := b(userID)
		if err != nil {
			return nil, err
		}
		topics = append(topics, t)
	}
	return append(topics, Presence(), PresenceList()), nil
}

// ChatTopics returns the per-user chat feeds. They carry every session's
// messages and typing signals, so they are bound once per user.
func ChatTopics(userID string) ([]Topic, error) {
	msgs, err := ChatMessages(userID)
	if err != nil {
		return nil, err
	}
	typing, err := Typing(userID)
	if err != nil {
		return nil, err
	}
	return []Topic{msgs, typing}, nil
}

// SessionTopics returns the topics owned by one open session.
func SessionTopics(sessionID string) ([]Topic, error) {
	timer, err := Timer(sessionID)
	if err != nil {
		return nil, err
	}
	end, err := SessionEnd(sessionID)
	if err != nil {
		return nil, err
	}
	return []Topic{timer, end}, nil
}

// Parse maps a subscribe destination back to its structured form.
func Parse(destination string) (Topic, error) {
	if !strings.HasPrefix(destination, subscribePrefix) {
		return Topic{}, fmt.Errorf("destination %q must start with %s", destination, subscribePrefix)
	}
	segs := strings.Split(strings.TrimPrefix(destination, subscribePrefix), "/")
	for _, s := range segs {
		if s == "" {
			return Topic{}, fmt.Errorf("destination %q has an empty segment", destination)
		}
	}

	switch {
	case len(segs) == 2 && segs[0] == "queue":
		return Queue(segs[1])
	case len(segs) == 2 && segs[0] == "session":
		return ActiveSession(segs[1])
	case len(segs) == 2 && segs[0] == "online" && segs[1] == "astrologer":
		return Presence(), nil
	case len(segs) == 3 && segs[0] == "online" && segs[1] == "astrologer" && segs[2] == "list":
		return PresenceList(), nil
	case len(segs) == 3 && segs[0] == "call" && segs[2] == "session":
		return CallSession(segs[1])
	case len(segs) == 2 && segs[0] == "chat":
		return SessionEnd(segs[1])
	case len(segs) == 3 && segs[0] == "chat":
		switch segs[2] {
		case "chatId":
			return RequestAccepted(segs[1])
		case "messages":
			return ChatMessages(segs[1])
		case "typing":
			return Typing(segs[1])
		case "timer":
			return Timer(segs[1])
		}
	}
	return Topic{}, fmt.Errorf("destination %q matches no known topic", destination)
}

// ValidateSubscribe reports whether destination is a known subscribe topic.
func ValidateSubscribe(destination string) error {
	_, err := Parse(destination)
	return err
}

// ValidatePublish reports whether destination is a well-formed /app destination.
func ValidatePublish(destination string) error {
	if !strings.HasPrefix(destination, publishPrefix) {
		return fmt.Errorf("publish destination %q must start with %s", destination, publishPrefix)
	}
	name := strings.TrimPrefix(destination, publishPrefix)
	if name == "" || strings.ContainsAny(name, " \t\r\n") {
		return fmt.Errorf("publish destination %q is malformed", destination)
	}
	return nil
}

func validateParam(value string) error {
	switch {
	case value == "":
		return fmt.Errorf("must not be empty")
	case value == "undefined" || value == "null":
		return fmt.Errorf("must not be %q", value)
	case strings.ContainsAny(value, "/{} \t\r\n"):
		return fmt.Errorf("contains an illegal character")
	}
	return nil
}
