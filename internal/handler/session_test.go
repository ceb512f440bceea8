package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	apperrors "github.com/astrosevaa/sessiond/internal/errors"
	"github.com/astrosevaa/sessiond/internal/model"
	"github.com/astrosevaa/sessiond/internal/session"
)

type mockMachine struct {
	mock.Mock
}

func (m *mockMachine) View() session.View {
	args := m.Called()
	return args.Get(0).(session.View)
}

func (m *mockMachine) SendSessionRequest(ctx context.Context, req session.Request) (*model.Session, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Session), args.Error(1)
}

func (m *mockMachine) AcceptSessionRequest(ctx context.Context, requesterID string) (*session.Acceptance, error) {
	args := m.Called(ctx, requesterID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*session.Acceptance), args.Error(1)
}

func (m *mockMachine) SkipSessionRequest(ctx context.Context, requesterID string) error {
	return m.Called(ctx, requesterID).Error(0)
}

func (m *mockMachine) DeleteSessionRequest(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockMachine) RefreshQueue(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockMachine) RefreshBalance(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockMachine) ClearSession(ctx context.Context) {
	m.Called(ctx)
}

func (m *mockMachine) SetOnline(ctx context.Context, online bool) error {
	return m.Called(ctx, online).Error(0)
}

func newSessionRouter(machine SessionMachine) http.Handler {
	h := NewSessionHandler(machine)
	r := chi.NewRouter()
	r.Get("/v1/state", h.State)
	r.Put("/v1/presence/online", h.SetOnline)
	r.Mount("/v1/sessions", h.Routes())
	return r
}

func serve(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestSessionHandler_State(t *testing.T) {
	machine := &mockMachine{}
	machine.On("View").Return(session.View{UserID: "u1", State: session.StateWaiting, Queue: []model.QueueEntry{}})

	rec := serve(t, newSessionRouter(machine), http.MethodGet, "/v1/state", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"state":"WAITING"`)
	assert.Contains(t, rec.Body.String(), `"userId":"u1"`)
}

func TestSessionHandler_Request(t *testing.T) {
	t.Run("creates session request", func(t *testing.T) {
		machine := &mockMachine{}
		machine.On("SendSessionRequest", mock.Anything, mock.MatchedBy(func(req session.Request) bool {
			return req.Provider.ID == "a1" && req.Type == model.SessionTypeChat && req.Duration == 5
		})).Return(&model.Session{ID: "s1", Status: model.SessionStatusWaiting}, nil)

		rec := serve(t, newSessionRouter(machine), http.MethodPost, "/v1/sessions/request",
			`{"provider":{"id":"a1","pricePerMinuteChat":10},"sessionType":"CHAT","duration":5}`)

		assert.Equal(t, http.StatusCreated, rec.Code)
		assert.Contains(t, rec.Body.String(), `"id":"s1"`)
		machine.AssertExpectations(t)
	})

	t.Run("rejects invalid body", func(t *testing.T) {
		tests := []struct {
			name string
			body string
		}{
			{name: "empty", body: ""},
			{name: "malformed", body: `{"provider":`},
			{name: "missing provider id", body: `{"provider":{},"sessionType":"CHAT"}`},
			{name: "unknown session type", body: `{"provider":{"id":"a1"},"sessionType":"FAX"}`},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				machine := &mockMachine{}

				rec := serve(t, newSessionRouter(machine), http.MethodPost, "/v1/sessions/request", tt.body)

				assert.Equal(t, http.StatusBadRequest, rec.Code)
				assert.Contains(t, rec.Body.String(), "VALIDATION_ERROR")
				machine.AssertNotCalled(t, "SendSessionRequest", mock.Anything, mock.Anything)
			})
		}
	})

	t.Run("maps machine errors", func(t *testing.T) {
		tests := []struct {
			err  error
			want int
		}{
			{apperrors.InsufficientBalance(50, 10), http.StatusPaymentRequired},
			{apperrors.DuplicateRequest("u1"), http.StatusConflict},
			{apperrors.NotConnected(), http.StatusServiceUnavailable},
			{apperrors.RequestTimeout(context.DeadlineExceeded), http.StatusGatewayTimeout},
		}

		for _, tt := range tests {
			t.Run(string(apperrors.GetCode(tt.err)), func(t *testing.T) {
				machine := &mockMachine{}
				machine.On("SendSessionRequest", mock.Anything, mock.Anything).Return(nil, tt.err)

				rec := serve(t, newSessionRouter(machine), http.MethodPost, "/v1/sessions/request",
					`{"provider":{"id":"a1"},"sessionType":"CHAT","duration":5}`)

				assert.Equal(t, tt.want, rec.Code)
			})
		}
	})
}

func TestSessionHandler_Accept(t *testing.T) {
	t.Run("accepts named requester", func(t *testing.T) {
		machine := &mockMachine{}
		machine.On("AcceptSessionRequest", mock.Anything, "u9").
			Return(&session.Acceptance{Entry: model.QueueEntry{RequesterID: "u9"}, Route: session.RouteChat}, nil)

		rec := serve(t, newSessionRouter(machine), http.MethodPost, "/v1/sessions/accept/u9", "")

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"route":"/chat"`)
	})

	t.Run("accepts head of queue", func(t *testing.T) {
		machine := &mockMachine{}
		machine.On("AcceptSessionRequest", mock.Anything, "").
			Return(&session.Acceptance{Handoff: true, Route: session.RouteAppLink}, nil)

		rec := serve(t, newSessionRouter(machine), http.MethodPost, "/v1/sessions/accept", "")

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"handoff":true`)
	})

	t.Run("missing entry", func(t *testing.T) {
		machine := &mockMachine{}
		machine.On("AcceptSessionRequest", mock.Anything, "u9").Return(nil, apperrors.NotFound("Queue entry"))

		rec := serve(t, newSessionRouter(machine), http.MethodPost, "/v1/sessions/accept/u9", "")

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestSessionHandler_QueueOperations(t *testing.T) {
	machine := &mockMachine{}
	machine.On("SkipSessionRequest", mock.Anything, "u2").Return(nil)
	machine.On("DeleteSessionRequest", mock.Anything).Return(nil)
	machine.On("RefreshQueue", mock.Anything).Return(nil)
	machine.On("ClearSession", mock.Anything).Return()
	machine.On("View").Return(session.View{QueueCount: 2})
	router := newSessionRouter(machine)

	assert.Equal(t, http.StatusNoContent, serve(t, router, http.MethodPost, "/v1/sessions/skip/u2", "").Code)
	assert.Equal(t, http.StatusNoContent, serve(t, router, http.MethodDelete, "/v1/sessions/queue", "").Code)
	assert.Equal(t, http.StatusNoContent, serve(t, router, http.MethodPost, "/v1/sessions/clear", "").Code)

	rec := serve(t, router, http.MethodPost, "/v1/sessions/queue/refresh", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"queueCount":2`)

	machine.AssertExpectations(t)
}

func TestSessionHandler_SetOnline(t *testing.T) {
	t.Run("toggles online", func(t *testing.T) {
		machine := &mockMachine{}
		machine.On("SetOnline", mock.Anything, false).Return(nil)

		rec := serve(t, newSessionRouter(machine), http.MethodPut, "/v1/presence/online", `{"online":false}`)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"online":false}`, rec.Body.String())
	})

	t.Run("requires online flag", func(t *testing.T) {
		machine := &mockMachine{}

		rec := serve(t, newSessionRouter(machine), http.MethodPut, "/v1/presence/online", `{}`)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("surfaces rollback error", func(t *testing.T) {
		machine := &mockMachine{}
		machine.On("SetOnline", mock.Anything, true).Return(apperrors.RequestFailed("status update failed"))

		rec := serve(t, newSessionRouter(machine), http.MethodPut, "/v1/presence/online", `{"online":true}`)

		assert.Equal(t, http.StatusBadGateway, rec.Code)
		assert.Contains(t, rec.Body.String(), "status update failed")
	})
}
