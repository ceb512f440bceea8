package bus

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-stomp/stomp/v3/frame"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/astrosevaa/sessiond/internal/model"
)

const (
	stompVersion     = "1.2"
	writeWait        = 10 * time.Second
	messageBufferLen = 256
	// a peer is considered gone after this many missed heart-beat intervals
	heartbeatGrace = 2
)

// WebSocketDialer speaks STOMP 1.2 over a WebSocket, one frame per text message.
type WebSocketDialer struct {
	// Heartbeat is the outgoing heart-beat interval; zero disables it.
	Heartbeat time.Duration
	Dialer    *websocket.Dialer
}

func NewWebSocketDialer(heartbeat time.Duration) *WebSocketDialer {
	return &WebSocketDialer{
		Heartbeat: heartbeat,
		Dialer:    websocket.DefaultDialer,
	}
}

func (d *WebSocketDialer) Dial(ctx context.Context, endpoint string, identity model.Identity) (Conn, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}

	header := http.Header{}
	if identity.Token != "" {
		header.Set("Authorization", "Bearer "+identity.Token)
	}

	wsDialer := d.Dialer
	if wsDialer == nil {
		wsDialer = websocket.DefaultDialer
	}

	ws, resp, err := wsDialer.DialContext(ctx, endpoint, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket dial: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("websocket dial: %w", err)
	}

	c := &stompConn{
		ws:       ws,
		messages: make(chan Message, messageBufferLen),
		done:     make(chan struct{}),
	}

	if deadline, ok := ctx.Deadline(); ok {
		ws.SetReadDeadline(deadline)
	}

	connected, err := c.handshake(u.Hostname(), identity, d.Heartbeat)
	if err != nil {
		ws.Close()
		return nil, err
	}

	sendEvery, expectEvery := negotiateHeartbeat(d.Heartbeat, connected.Header.Get(frame.HeartBeat))
	if expectEvery > 0 {
		c.readTimeout = heartbeatGrace * expectEvery
	}
	c.extendReadDeadline()

	log.Debug().
		Dur("send", sendEvery).
		Dur("expect", expectEvery).
		Msg("bus heart-beat negotiated")

	go c.readLoop()
	if sendEvery > 0 {
		go c.heartbeatLoop(sendEvery)
	}

	return c, nil
}

// negotiateHeartbeat combines our interval with the server's CONNECTED
// heart-beat header "sx,sy". Zero on either side disables that direction.
func negotiateHeartbeat(ours time.Duration, header string) (send, expect time.Duration) {
	sx, sy, ok := parseHeartbeat(header)
	if !ok || ours <= 0 {
		return 0, 0
	}
	if sy > 0 {
		send = max(ours, sy)
	}
	if sx > 0 {
		expect = max(ours, sx)
	}
	return send, expect
}

func parseHeartbeat(v string) (sx, sy time.Duration, ok bool) {
	if v == "" {
		return 0, 0, false
	}
	parts := strings.Split(v, ",")
	if len(parts) != 2 {
		log.Warn().Str("heartBeat", v).Msg("malformed heart-beat header")
		return 0, 0, false
	}
	x, errX := strconv.ParseInt(strings.TrimSpace(parts[0]), 10, 64)
	y, errY := strconv.ParseInt(strings.TrimSpace(parts[1]), 10, 64)
	if errX != nil || errY != nil || x < 0 || y < 0 {
		log.Warn().Str("heartBeat", v).Msg("malformed heart-beat header")
		return 0, 0, false
	}
	return time.Duration(x) * time.Millisecond, time.Duration(y) * time.Millisecond, true
}

type stompConn struct {
	ws       *websocket.Conn
	messages chan Message
	done     chan struct{}

	// readTimeout is the longest silence tolerated from the broker; zero waits forever.
	readTimeout time.Duration

	writeMu   sync.Mutex
	errMu     sync.Mutex
	err       error
	closeOnce sync.Once
}

func (c *stompConn) handshake(host string, identity model.Identity, heartbeat time.Duration) (*frame.Frame, error) {
	ms := heartbeat.Milliseconds()
	hdrs := []string{
		frame.AcceptVersion, stompVersion,
		frame.Host, host,
		frame.HeartBeat, fmt.Sprintf("%d,%d", ms, ms),
		"userId", identity.UserID,
	}
	if identity.Token != "" {
		hdrs = append(hdrs, "Authorization", "Bearer "+identity.Token)
	}

	if err := c.writeFrame(frame.New(frame.CONNECT, hdrs...)); err != nil {
		return nil, fmt.Errorf("send CONNECT: %w", err)
	}

	for {
		f, err := c.readFrame()
		if err != nil {
			return nil, fmt.Errorf("await CONNECTED: %w", err)
		}
		if f == nil {
			continue
		}
		switch f.Command {
		case frame.CONNECTED:
			return f, nil
		case frame.ERROR:
			return nil, fmt.Errorf("broker rejected connection: %s", errorText(f))
		default:
			return nil, fmt.Errorf("unexpected %s frame during handshake", f.Command)
		}
	}
}

// extendReadDeadline moves the read deadline past the next expected heart-beat,
// or clears it when none is expected.
func (c *stompConn) extendReadDeadline() {
	if c.readTimeout <= 0 {
		c.ws.SetReadDeadline(time.Time{})
		return
	}
	c.ws.SetReadDeadline(time.Now().Add(c.readTimeout))
}

// readFrame returns nil for heart-beats.
func (c *stompConn) readFrame() (*frame.Frame, error) {
	_, r, err := c.ws.NextReader()
	if err != nil {
		return nil, err
	}
	f, err := frame.NewReader(r).Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	return f, err
}

func (c *stompConn) writeFrame(f *frame.Frame) error {
	var buf bytes.Buffer
	if err := frame.NewWriter(&buf).Write(f); err != nil {
		return err
	}
	return c.writeRaw(buf.Bytes())
}

func (c *stompConn) writeRaw(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *stompConn) readLoop() {
	defer close(c.messages)

	for {
		f, err := c.readFrame()
		if err != nil {
			select {
			case <-c.done:
			default:
				var netErr interface{ Timeout() bool }
				if errors.As(err, &netErr) && netErr.Timeout() {
					err = fmt.Errorf("no broker traffic within %s: %w", c.readTimeout, err)
				}
				c.setErr(err)
				c.ws.Close()
			}
			return
		}
		c.extendReadDeadline()
		if f == nil {
			continue
		}

		switch f.Command {
		case frame.MESSAGE:
			c.messages <- toMessage(f)
		case frame.ERROR:
			c.setErr(fmt.Errorf("broker error: %s", errorText(f)))
			c.ws.Close()
			return
		default:
			log.Debug().Str("command", f.Command).Msg("ignoring bus frame")
		}
	}
}

func (c *stompConn) heartbeatLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.writeRaw([]byte("\n")); err != nil {
				log.Debug().Err(err).Msg("heart-beat write failed")
				return
			}
		}
	}
}

func toMessage(f *frame.Frame) Message {
	headers := make(map[string]string, f.Header.Len())
	for i := 0; i < f.Header.Len(); i++ {
		k, v := f.Header.GetAt(i)
		if _, seen := headers[k]; !seen {
			headers[k] = v
		}
	}
	return Message{
		Destination:  f.Header.Get(frame.Destination),
		Subscription: f.Header.Get(frame.Subscription),
		Headers:      headers,
		Body:         f.Body,
	}
}

func errorText(f *frame.Frame) string {
	if msg := f.Header.Get(frame.Message); msg != "" {
		return msg
	}
	return string(f.Body)
}

func (c *stompConn) setErr(err error) {
	c.errMu.Lock()
	if c.err == nil {
		c.err = err
	}
	c.errMu.Unlock()
}

func (c *stompConn) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

func (c *stompConn) Messages() <-chan Message {
	return c.messages
}

func (c *stompConn) Send(destination string, headers map[string]string, body []byte) error {
	hdrs := []string{frame.Destination, destination}
	if _, ok := headers[frame.ContentType]; !ok {
		hdrs = append(hdrs, frame.ContentType, "application/json")
	}
	for k, v := range headers {
		hdrs = append(hdrs, k, v)
	}
	f := frame.New(frame.SEND, hdrs...)
	f.Body = body
	return c.writeFrame(f)
}

func (c *stompConn) Subscribe(id, destination string) error {
	return c.writeFrame(frame.New(frame.SUBSCRIBE,
		frame.Id, id,
		frame.Destination, destination,
	))
}

func (c *stompConn) Unsubscribe(id string) error {
	return c.writeFrame(frame.New(frame.UNSUBSCRIBE, frame.Id, id))
}

func (c *stompConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		if werr := c.writeFrame(frame.New(frame.DISCONNECT)); werr != nil {
			log.Debug().Err(werr).Msg("DISCONNECT frame not sent")
		}
		c.writeMu.Lock()
		c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = c.ws.Close()
	})
	return err
}
