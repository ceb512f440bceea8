package restapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astrosevaa/sessiond/internal/chat"
	apperrors "github.com/astrosevaa/sessiond/internal/errors"
	"github.com/astrosevaa/sessiond/internal/model"
	"github.com/astrosevaa/sessiond/internal/session"
)

var (
	_ session.API     = (*Client)(nil)
	_ chat.HistoryAPI = (*Client)(nil)
)

func TestNeedsAuth(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"/api/v1/auth/login", false},
		{"/api/v1/auth/register", false},
		{"/api/v1/public/astrologers", false},
		{"/api/v1/publicity", true},
		{"/api/v1/session/queue", true},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, needsAuth(tt.path))
		})
	}
}

func TestClient_RequestSession(t *testing.T) {
	var got model.SessionRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/session/request", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"success":true,"msg":"Request sent"}`))
	}))
	defer server.Close()

	c := NewClient(server.URL+"/", "tok", time.Second)
	err := c.RequestSession(context.Background(), model.SessionRequest{
		AstrologerID: "a1", SessionType: model.SessionTypeChat, Duration: 2, FreeChat: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "a1", got.AstrologerID)
	assert.True(t, got.FreeChat)
}

func TestClient_EnvelopeFailure(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		code    apperrors.ErrorCode
		message string
	}{
		{"success false", http.StatusOK, `{"success":false,"msg":"Astrologer is busy"}`, apperrors.ErrCodeRequestFailed, "Astrologer is busy"},
		{"server error", http.StatusInternalServerError, `{"message":"boom"}`, apperrors.ErrCodeRequestFailed, "boom"},
		{"empty error body", http.StatusBadGateway, ``, apperrors.ErrCodeRequestFailed, "Request failed"},
		{"unauthorized", http.StatusUnauthorized, `{}`, apperrors.ErrCodeUnauthorized, "Session expired, log in again"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			err := NewClient(server.URL, "tok", time.Second).SkipSession(context.Background(), "u1")
			appErr, ok := apperrors.AsAppError(err)
			require.True(t, ok)
			assert.Equal(t, tt.code, appErr.Code)
			assert.Equal(t, tt.message, appErr.Message)
		})
	}
}

func TestClient_TimeoutIsDistinct(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	err := NewClient(server.URL, "tok", 50*time.Millisecond).DeleteQueue(context.Background())
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeRequestTimeout))
}

func TestClient_Queue(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/session/queue", r.URL.Path)
		w.Write([]byte(`{"success":true,"users":[{"userId":"A","sessionType":"CHAT"},{"userId":"B","sessionType":"VIDEO"}]}`))
	}))
	defer server.Close()

	entries, err := NewClient(server.URL, "tok", time.Second).Queue(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "B", entries[1].RequesterID)
	assert.Equal(t, model.SessionTypeVideo, entries[1].Type)
	assert.Equal(t, 2, entries[1].Position)
}

func TestClient_BalanceAndMessages(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/wallet/transactions", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "1", r.URL.Query().Get("page"))
		w.Write([]byte(`{"success":true,"wallet":{"balance":321.5}}`))
	})
	mux.HandleFunc("/api/v1/session/messages/s1", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "2", r.URL.Query().Get("page"))
		assert.Equal(t, "15", r.URL.Query().Get("size"))
		w.Write([]byte(`{"success":true,"messages":[{"id":"m1","senderId":"a1","message":"hi","type":"TEXT","timestamp":"2024-05-01T10:00:00Z"}],"isLastPage":true}`))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	c := NewClient(server.URL, "tok", time.Second)

	balance, err := c.Balance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 321.5, balance)

	page, err := c.Messages(context.Background(), "s1", 2, 15)
	require.NoError(t, err)
	assert.Equal(t, 2, page.CurrentPage)
	assert.True(t, page.IsLastPage)
	require.Len(t, page.Messages, 1)
	assert.Equal(t, "hi", page.Messages[0].Body)
}

func TestClient_SetOnlineAndProfile(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/astrologers/status", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		var body map[string]bool
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.True(t, body["isOnline"])
		w.Write([]byte(`{"success":true}`))
	})
	mux.HandleFunc("/api/v1/users", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":true,"user":{"id":"u1","name":"Ravi","role":"USER","freeChatUsed":true}}`))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	c := NewClient(server.URL, "tok", time.Second)
	require.NoError(t, c.SetOnline(context.Background(), true))

	p, err := c.Profile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "u1", p.ID)
	assert.True(t, p.FreeChatUsed)
}
