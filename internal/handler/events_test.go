package handler

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astrosevaa/sessiond/internal/session"
	"github.com/astrosevaa/sessiond/internal/sse"
)

type fixedState struct {
	view session.View
}

func (s fixedState) View() session.View { return s.view }

func readEvent(t *testing.T, r *bufio.Reader) (string, string) {
	t.Helper()
	var eventType, data string
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		switch {
		case strings.HasPrefix(line, "event: "):
			eventType = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		case line == "" && eventType != "":
			return eventType, data
		}
	}
}

func TestEventsHandler_ServeHTTP(t *testing.T) {
	broker := sse.NewBroker(nil, "u1")
	defer broker.Close()

	h := NewEventsHandler(broker, fixedState{view: session.View{UserID: "u1", State: session.StateIdle}})
	srv := httptest.NewServer(h)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	reader := bufio.NewReader(resp.Body)

	t.Run("replays current state first", func(t *testing.T) {
		eventType, data := readEvent(t, reader)
		assert.Equal(t, session.EventState, eventType)

		var view session.View
		require.NoError(t, json.Unmarshal([]byte(data), &view))
		assert.Equal(t, session.StateIdle, view.State)
	})

	t.Run("forwards broker events", func(t *testing.T) {
		require.Eventually(t, func() bool { return broker.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

		broker.Emit(context.Background(), session.EventNotice, session.Notice{Level: session.NoticeInfo, Message: "Session Ended"})

		eventType, data := readEvent(t, reader)
		assert.Equal(t, session.EventNotice, eventType)
		assert.Contains(t, data, "Session Ended")
	})
}

func TestEventsHandler_sendRawEvent(t *testing.T) {
	t.Run("writes event and data lines", func(t *testing.T) {
		handler := &EventsHandler{}
		rec := httptest.NewRecorder()

		event := sse.Event{
			Type: "chat.message",
			Data: json.RawMessage(`{"message": "hello"}`),
		}

		err := handler.sendRawEvent(rec, rec, event)

		assert.NoError(t, err)
		body := rec.Body.String()
		assert.Contains(t, body, "event: chat.message\n")
		assert.Contains(t, body, `data: {"message": "hello"}`)
		assert.Contains(t, body, "\n\n")
	})
}

func TestEventsHandler_sendEvent(t *testing.T) {
	handler := &EventsHandler{}
	rec := httptest.NewRecorder()

	err := handler.sendEvent(rec, rec, "chat.timer", map[string]string{"display": "04:59"})

	assert.NoError(t, err)
	assert.Contains(t, rec.Body.String(), "event: chat.timer\n")
	assert.Contains(t, rec.Body.String(), "04:59")
}
