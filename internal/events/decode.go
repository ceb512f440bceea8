package events

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"

	"github.com/astrosevaa/sessiond/internal/model"
	"github.com/astrosevaa/sessiond/internal/topic"
)

var validate = validator.New()

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// DecodeBody normalizes a raw frame body to UTF-8 text.
func DecodeBody(raw []byte) ([]byte, error) {
	body := bytes.TrimPrefix(raw, utf8BOM)
	body = bytes.TrimRight(body, "\x00")
	if !utf8.Valid(body) {
		return nil, errors.New("body is not valid UTF-8")
	}
	return body, nil
}

// Decode parses the body of a frame received on t. A nil event with a nil
// error means the frame carries nothing to act on.
func Decode(t topic.Topic, raw []byte) (Event, error) {
	body, err := DecodeBody(raw)
	if err != nil {
		return nil, err
	}

	switch t.Kind {
	case topic.KindQueue:
		var ev QueueUpdated
		if err := unmarshal(body, &ev); err != nil {
			return nil, err
		}
		return ev, nil

	case topic.KindRequestAccepted:
		var s model.Session
		if err := unmarshalValid(body, &s); err != nil {
			return nil, err
		}
		return RequestAccepted{Session: s}, nil

	case topic.KindCallSession:
		var c model.CallSession
		if err := unmarshalValid(body, &c); err != nil {
			return nil, err
		}
		return CallSessionReady{Call: c}, nil

	case topic.KindPresence:
		return decodePresence(body)

	case topic.KindPresenceList:
		return decodePresenceList(body)

	case topic.KindActiveSession:
		return decodeSessionUpdate(body)

	case topic.KindChatMessages:
		var m model.Message
		if err := unmarshalValid(body, &m); err != nil {
			return nil, err
		}
		if m.Type == "" {
			m.Type = model.MessageTypeText
		}
		return MessageReceived{Message: m}, nil

	case topic.KindTyping:
		var ev TypingChanged
		if err := unmarshalValid(body, &ev); err != nil {
			return nil, err
		}
		return ev, nil

	case topic.KindTimer:
		return TimerTick{SessionID: t.Param("sessionId"), Display: timerText(body)}, nil

	case topic.KindSessionEnd:
		var payload struct {
			Status string `json:"status"`
		}
		if err := unmarshal(body, &payload); err != nil {
			return nil, err
		}
		if !strings.EqualFold(payload.Status, "ended") {
			return nil, nil
		}
		return SessionEnded{SessionID: t.Param("sessionId")}, nil
	}

	return nil, fmt.Errorf("no decoder for topic kind %q", t.Kind)
}

func unmarshal(body []byte, v any) error {
	if len(bytes.TrimSpace(body)) == 0 {
		return errors.New("empty body")
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}

func unmarshalValid(body []byte, v any) error {
	if err := unmarshal(body, v); err != nil {
		return err
	}
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	return nil
}

// timerText accepts both a bare string and a JSON-quoted one.
func timerText(body []byte) string {
	text := strings.TrimSpace(string(body))
	if strings.HasPrefix(text, `"`) {
		var s string
		if err := json.Unmarshal([]byte(text), &s); err == nil {
			return s
		}
	}
	return text
}

func decodePresence(body []byte) (Event, error) {
	var payload struct {
		AstrologerID string `json:"astrologerId"`
		ID           string `json:"id"`
		Online       *bool  `json:"online"`
		IsOnline     *bool  `json:"isOnline"`
	}
	if err := unmarshal(body, &payload); err != nil {
		return nil, err
	}

	id := payload.AstrologerID
	if id == "" {
		id = payload.ID
	}
	if id == "" {
		return nil, errors.New("presence update without astrologer id")
	}

	online := payload.Online
	if online == nil {
		online = payload.IsOnline
	}
	if online == nil {
		return nil, errors.New("presence update without online flag")
	}

	return PresenceChanged{AstrologerID: id, Online: *online}, nil
}

// decodePresenceList accepts an array of ids or an array of {id} objects.
func decodePresenceList(body []byte) (Event, error) {
	var ids []string
	if err := json.Unmarshal(body, &ids); err == nil {
		return PresenceSnapshot{IDs: compact(ids)}, nil
	}

	var objs []struct {
		ID           string `json:"id"`
		AstrologerID string `json:"astrologerId"`
	}
	if err := unmarshal(body, &objs); err != nil {
		return nil, err
	}

	ids = make([]string, 0, len(objs))
	for _, o := range objs {
		if o.ID != "" {
			ids = append(ids, o.ID)
		} else {
			ids = append(ids, o.AstrologerID)
		}
	}
	return PresenceSnapshot{IDs: compact(ids)}, nil
}

func decodeSessionUpdate(body []byte) (Event, error) {
	var payload struct {
		SessionID string `json:"sessionId"`
		ID        string `json:"id"`
		Status    string `json:"status"`
	}
	if err := unmarshal(body, &payload); err != nil {
		return nil, err
	}

	id := payload.SessionID
	if id == "" {
		id = payload.ID
	}
	status, ok := model.ParseSessionStatus(payload.Status)
	if !ok {
		return nil, fmt.Errorf("unknown session status %q", payload.Status)
	}
	return SessionUpdated{SessionID: id, Status: status}, nil
}

func compact(ids []string) []string {
	out := ids[:0]
	for _, id := range ids {
		if id != "" {
			out = append(out, id)
		}
	}
	return out
}
