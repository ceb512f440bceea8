package handler

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astrosevaa/sessiond/internal/bus"
	"github.com/astrosevaa/sessiond/internal/chat"
	"github.com/astrosevaa/sessiond/internal/events"
	"github.com/astrosevaa/sessiond/internal/model"
)

type stubSubscriber struct {
	mu    sync.Mutex
	dests map[string]bool
}

func (s *stubSubscriber) Subscribe(destination string, handler bus.Handler) (*bus.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dests == nil {
		s.dests = make(map[string]bool)
	}
	s.dests[destination] = true
	return &bus.Subscription{ID: destination, Destination: destination}, nil
}

func (s *stubSubscriber) UnsubscribeAll(destinations []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range destinations {
		delete(s.dests, d)
	}
}

type stubPublisher struct {
	mu        sync.Mutex
	connected bool
	sent      []string
}

func (p *stubPublisher) Send(destination string, headers map[string]string, body []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, destination)
	return nil
}

func (p *stubPublisher) destinations() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.sent...)
}

func (p *stubPublisher) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

type stubHistory struct {
	pages map[int]model.MessagePage
}

func (h *stubHistory) Messages(ctx context.Context, sessionID string, page, size int) (model.MessagePage, error) {
	return h.pages[page], nil
}

type stubPeers struct {
	peer *model.Participant
}

func (p stubPeers) OtherParty() *model.Participant { return p.peer }

type stubArchive struct {
	msgs []model.ArchivedMessage
	err  error
}

func (a *stubArchive) FindByKey(ctx context.Context, key string) (*model.ArchivedMessage, error) {
	if a.err != nil {
		return nil, a.err
	}
	for _, m := range a.msgs {
		if m.MessageKey == key {
			return &m, nil
		}
	}
	return nil, nil
}

func (a *stubArchive) ListBySession(ctx context.Context, sessionID string, limit, offset int) ([]model.ArchivedMessage, error) {
	return a.msgs, a.err
}

func (a *stubArchive) CountBySession(ctx context.Context, sessionID string) (int, error) {
	return len(a.msgs), a.err
}

type chatFixture struct {
	router  http.Handler
	service *chat.Service
	pub     *stubPublisher
}

func newChatFixture(peer *model.Participant, archive ArchiveReader) *chatFixture {
	pub := &stubPublisher{connected: true}
	history := &stubHistory{pages: map[int]model.MessagePage{
		1: {Messages: []model.Message{{ID: "h1", SenderID: "a1", SessionID: "s1", Body: "welcome"}}, CurrentPage: 1, IsLastPage: true},
	}}
	svc := chat.NewService(chat.ServiceOptions{
		UserID:    "u1",
		Binder:    events.NewRouter(&stubSubscriber{}),
		Publisher: pub,
		History:   history,
	})

	r := chi.NewRouter()
	r.Mount("/v1/chat", NewChatHandler(svc, stubPeers{peer: peer}, archive).Routes())
	return &chatFixture{router: r, service: svc, pub: pub}
}

func TestChatHandler_Open(t *testing.T) {
	t.Run("opens with current counterpart and loads first page", func(t *testing.T) {
		f := newChatFixture(&model.Participant{ID: "a1", Name: "Guru"}, nil)
		defer f.service.CloseAll()

		rec := serve(t, f.router, http.MethodPost, "/v1/chat/s1/open", "")

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"welcome"`)
		assert.Contains(t, rec.Body.String(), `"hasMore":false`)
		assert.Equal(t, []string{"s1"}, f.service.OpenSessions())
	})

	t.Run("explicit peer wins", func(t *testing.T) {
		f := newChatFixture(nil, nil)
		defer f.service.CloseAll()

		rec := serve(t, f.router, http.MethodPost, "/v1/chat/s1/open", `{"peer":{"id":"a7"}}`)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"id":"a7"`)
	})

	t.Run("requires a peer", func(t *testing.T) {
		f := newChatFixture(nil, nil)

		rec := serve(t, f.router, http.MethodPost, "/v1/chat/s1/open", "")

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "MISSING_REQUIRED")
	})
}

func TestChatHandler_SendAndRead(t *testing.T) {
	f := newChatFixture(&model.Participant{ID: "a1"}, nil)
	defer f.service.CloseAll()

	require.Equal(t, http.StatusOK, serve(t, f.router, http.MethodPost, "/v1/chat/s1/open", "").Code)

	rec := serve(t, f.router, http.MethodPost, "/v1/chat/s1/messages", `{"text":"namaste"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Body.String(), `"message":"namaste"`)
	assert.Contains(t, rec.Body.String(), `"type":"TEXT"`)

	rec = serve(t, f.router, http.MethodPost, "/v1/chat/s1/messages", `{"imageUri":"https://cdn.example.com/a.png"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Body.String(), `"type":"IMAGE"`)

	rec = serve(t, f.router, http.MethodPost, "/v1/chat/s1/messages", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(t, f.router, http.MethodGet, "/v1/chat/s1/messages", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "welcome")
	assert.Contains(t, rec.Body.String(), "namaste")

	assert.Contains(t, f.pub.destinations(), "/app/chat.send")
}

func TestChatHandler_TypingAndHistory(t *testing.T) {
	f := newChatFixture(&model.Participant{ID: "a1"}, nil)
	defer f.service.CloseAll()

	t.Run("unknown channel", func(t *testing.T) {
		assert.Equal(t, http.StatusNotFound, serve(t, f.router, http.MethodPost, "/v1/chat/zz/typing", "").Code)
		assert.Equal(t, http.StatusNotFound, serve(t, f.router, http.MethodPost, "/v1/chat/zz/history", "").Code)
	})

	require.Equal(t, http.StatusOK, serve(t, f.router, http.MethodPost, "/v1/chat/s1/open", "").Code)

	t.Run("typing publishes", func(t *testing.T) {
		rec := serve(t, f.router, http.MethodPost, "/v1/chat/s1/typing", "")
		assert.Equal(t, http.StatusAccepted, rec.Code)
		assert.Contains(t, f.pub.destinations(), "/app/chat.typing")
	})

	t.Run("history exhausted", func(t *testing.T) {
		rec := serve(t, f.router, http.MethodPost, "/v1/chat/s1/history", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"added":0,"hasMore":false}`, rec.Body.String())
	})
}

func TestChatHandler_Close(t *testing.T) {
	f := newChatFixture(&model.Participant{ID: "a1"}, nil)

	require.Equal(t, http.StatusOK, serve(t, f.router, http.MethodPost, "/v1/chat/s1/open", "").Code)

	assert.Equal(t, http.StatusNoContent, serve(t, f.router, http.MethodDelete, "/v1/chat/s1", "").Code)
	assert.Equal(t, http.StatusNotFound, serve(t, f.router, http.MethodDelete, "/v1/chat/s1", "").Code)
}

func TestChatHandler_Archive(t *testing.T) {
	t.Run("no archive configured", func(t *testing.T) {
		f := newChatFixture(nil, nil)

		rec := serve(t, f.router, http.MethodGet, "/v1/chat/s1/archive", "")

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("lists archived messages", func(t *testing.T) {
		archive := &stubArchive{msgs: []model.ArchivedMessage{{MessageKey: "m1", SessionID: "s1", Body: "old"}}}
		f := newChatFixture(nil, archive)

		rec := serve(t, f.router, http.MethodGet, "/v1/chat/s1/archive?limit=10", "")

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"total":1`)
		assert.Contains(t, rec.Body.String(), `"limit":10`)
		assert.Contains(t, rec.Body.String(), `"old"`)
	})

	t.Run("database failure", func(t *testing.T) {
		f := newChatFixture(nil, &stubArchive{err: errors.New("connection reset")})

		rec := serve(t, f.router, http.MethodGet, "/v1/chat/s1/archive", "")

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Contains(t, rec.Body.String(), "DATABASE_ERROR")
	})
}

func TestChatHandler_ArchivedMessage(t *testing.T) {
	archive := &stubArchive{msgs: []model.ArchivedMessage{
		{MessageKey: "m1", SessionID: "s1", Body: "old"},
		{MessageKey: "a1|1700000000000", SessionID: "s1", Body: "keyed by sender"},
	}}

	tests := []struct {
		name     string
		archive  ArchiveReader
		target   string
		wantCode int
		wantBody string
	}{
		{"found", archive, "/v1/chat/s1/archive/m1", http.StatusOK, `"old"`},
		{"escaped fallback key", archive, "/v1/chat/s1/archive/a1%7C1700000000000", http.StatusOK, `"keyed by sender"`},
		{"other session", archive, "/v1/chat/s2/archive/m1", http.StatusNotFound, "NOT_FOUND"},
		{"missing", archive, "/v1/chat/s1/archive/nope", http.StatusNotFound, "NOT_FOUND"},
		{"no archive", nil, "/v1/chat/s1/archive/m1", http.StatusNotFound, "NOT_FOUND"},
		{"database failure", &stubArchive{err: errors.New("connection reset")}, "/v1/chat/s1/archive/m1", http.StatusInternalServerError, "DATABASE_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newChatFixture(nil, tt.archive)

			rec := serve(t, f.router, http.MethodGet, tt.target, "")

			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.wantBody)
		})
	}
}
