package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAuthMiddleware(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	tests := []struct {
		name       string
		token      string
		header     string
		query      string
		wantStatus int
		wantBody   string
	}{
		{name: "empty token disables auth", token: "", wantStatus: http.StatusOK},
		{name: "missing token", token: "secret", wantStatus: http.StatusUnauthorized, wantBody: "Missing authentication token"},
		{name: "wrong token", token: "secret", header: "Bearer nope", wantStatus: http.StatusUnauthorized, wantBody: "Invalid token"},
		{name: "bearer header", token: "secret", header: "Bearer secret", wantStatus: http.StatusOK},
		{name: "query token", token: "secret", query: "secret", wantStatus: http.StatusOK},
		{name: "non bearer scheme", token: "secret", header: "Basic secret", wantStatus: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewAuthMiddleware(tt.token).Handler(ok)

			target := "/v1/state"
			if tt.query != "" {
				target += "?token=" + tt.query
			}
			req := httptest.NewRequest(http.MethodGet, target, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantBody != "" {
				assert.Contains(t, rec.Body.String(), tt.wantBody)
				assert.Contains(t, rec.Body.String(), "UNAUTHORIZED")
			}
		})
	}
}

func TestBodyLimitMiddleware(t *testing.T) {
	handler := NewBodyLimitMiddleware(8).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("rejects oversized content length", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/v1/chat/s1/messages", strings.NewReader("0123456789"))
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	})

	t.Run("passes small bodies", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/v1/chat/s1/messages", strings.NewReader("{}"))
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
	})
}
