// Package restapi is the client for the marketplace REST backend.
package restapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	apperrors "github.com/astrosevaa/sessiond/internal/errors"
	"github.com/astrosevaa/sessiond/internal/model"
)

const (
	DefaultTimeout = 10 * time.Second
	maxBodyBytes   = 4 << 20
)

// skipAuthPaths never carry the bearer token.
var skipAuthPaths = []string{
	"/api/v1/auth/login",
	"/api/v1/auth/register",
	"/api/v1/public",
}

type Client struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewClient(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: timeout},
	}
}

// envelope is the common response wrapper.
type envelope struct {
	Success *bool  `json:"success"`
	Msg     string `json:"msg"`
	Message string `json:"message"`
}

func (e envelope) text() string {
	if e.Msg != "" {
		return e.Msg
	}
	return e.Message
}

func needsAuth(path string) bool {
	for _, p := range skipAuthPaths {
		if path == p || strings.HasPrefix(path, p+"/") {
			return false
		}
	}
	return true
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" && needsAuth(path) {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		log.Warn().
			Err(err).
			Str("method", method).
			Str("path", path).
			Dur("elapsed", elapsed).
			Msg("api request error")
		if isTimeout(err) {
			return apperrors.RequestTimeout(err)
		}
		return apperrors.RequestFailed("").WithCause(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		if isTimeout(err) {
			return apperrors.RequestTimeout(err)
		}
		return apperrors.RequestFailed("").WithCause(err)
	}

	var env envelope
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &env); err != nil && resp.StatusCode < 300 {
			return apperrors.RequestFailed("Malformed response").WithCause(err)
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 || (env.Success != nil && !*env.Success) {
		log.Warn().
			Str("method", method).
			Str("path", path).
			Int("status", resp.StatusCode).
			Str("msg", env.text()).
			Dur("elapsed", elapsed).
			Msg("api request failed")
		if resp.StatusCode == http.StatusUnauthorized {
			return apperrors.Unauthorized(orDefault(env.text(), "Session expired, log in again"))
		}
		return apperrors.RequestFailed(env.text())
	}

	log.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("elapsed", elapsed).
		Msg("api request ok")

	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return apperrors.RequestFailed("Malformed response").WithCause(err)
		}
	}
	return nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func (c *Client) RequestSession(ctx context.Context, req model.SessionRequest) error {
	return c.do(ctx, http.MethodPost, "/api/v1/session/request", nil, req, nil)
}

func (c *Client) RequestCall(ctx context.Context, req model.SessionRequest) error {
	return c.do(ctx, http.MethodPost, "/api/v1/call/request", nil, req, nil)
}

func (c *Client) AcceptSession(ctx context.Context, requesterID string) error {
	return c.do(ctx, http.MethodPost, "/api/v1/session/accept/"+url.PathEscape(requesterID), nil, nil, nil)
}

func (c *Client) SkipSession(ctx context.Context, requesterID string) error {
	return c.do(ctx, http.MethodPost, "/api/v1/session/skip/"+url.PathEscape(requesterID), nil, nil, nil)
}

func (c *Client) DeleteQueue(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/session/queue", nil, nil, nil)
}

func (c *Client) Queue(ctx context.Context) ([]model.QueueEntry, error) {
	var resp struct {
		Users []model.QueueEntry `json:"users"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/session/queue", nil, nil, &resp); err != nil {
		return nil, err
	}
	for i := range resp.Users {
		resp.Users[i].Position = i + 1
	}
	return resp.Users, nil
}

func (c *Client) Balance(ctx context.Context) (float64, error) {
	var resp struct {
		Wallet struct {
			Balance float64 `json:"balance"`
		} `json:"wallet"`
	}
	query := url.Values{"page": {"1"}}
	if err := c.do(ctx, http.MethodGet, "/api/v1/wallet/transactions", query, nil, &resp); err != nil {
		return 0, err
	}
	return resp.Wallet.Balance, nil
}

func (c *Client) SetOnline(ctx context.Context, online bool) error {
	body := map[string]bool{"isOnline": online}
	return c.do(ctx, http.MethodPut, "/api/v1/astrologers/status", nil, body, nil)
}

func (c *Client) Messages(ctx context.Context, sessionID string, page, size int) (model.MessagePage, error) {
	query := url.Values{
		"page": {strconv.Itoa(page)},
		"size": {strconv.Itoa(size)},
	}
	var resp model.MessagePage
	if err := c.do(ctx, http.MethodGet, "/api/v1/session/messages/"+url.PathEscape(sessionID), query, nil, &resp); err != nil {
		return model.MessagePage{}, err
	}
	if resp.CurrentPage == 0 {
		resp.CurrentPage = page
	}
	return resp, nil
}

// Profile is the subset of the user record the agent seeds state from.
type Profile struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Role         model.Role `json:"role"`
	FreeChatUsed bool       `json:"freeChatUsed"`
}

func (c *Client) Profile(ctx context.Context) (Profile, error) {
	var resp struct {
		User Profile `json:"user"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/users", nil, nil, &resp); err != nil {
		return Profile{}, err
	}
	return resp.User, nil
}
