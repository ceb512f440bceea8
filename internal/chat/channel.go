// Package chat implements the per-session chat sub-channel: typing indicator,
// message send, history pagination and the server-driven timer.
package chat

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	apperrors "github.com/astrosevaa/sessiond/internal/errors"
	"github.com/astrosevaa/sessiond/internal/events"
	"github.com/astrosevaa/sessiond/internal/model"
	"github.com/astrosevaa/sessiond/internal/topic"
)

const (
	PageSize      = 15
	TypingTimeout = 1500 * time.Millisecond
)

const (
	EventMessage = "chat.message"
	EventTyping  = "chat.typing"
	EventTimer   = "chat.timer"
	EventHistory = "chat.history"
	EventEnded   = "chat.ended"
)

type Publisher interface {
	Send(destination string, headers map[string]string, body []byte) error
	IsConnected() bool
}

// HistoryAPI serves paginated history, newest page first.
type HistoryAPI interface {
	Messages(ctx context.Context, sessionID string, page, size int) (model.MessagePage, error)
}

// Archiver keeps a local copy of every message shown.
type Archiver interface {
	Archive(ctx context.Context, msg model.Message) error
}

// BatchArchiver is implemented by archives that store a history page in one go.
type BatchArchiver interface {
	ArchiveAll(ctx context.Context, msgs []model.Message) error
}

type Emitter interface {
	Emit(ctx context.Context, eventType string, data any)
}

type typingPayload struct {
	SenderID   string `json:"senderId"`
	ReceiverID string `json:"receiverId"`
	SessionID  string `json:"sessionId"`
	Typing     bool   `json:"typing"`
}

type Options struct {
	UserID    string
	SessionID string
	Peer      model.Participant
	Publisher Publisher
	History   HistoryAPI
	// Archive and Emitter are optional.
	Archive Archiver
	Emitter Emitter
	Clock   Clock
}

type Channel struct {
	userID    string
	sessionID string
	peer      model.Participant
	pub       Publisher
	history   HistoryAPI
	archive   Archiver
	emit      Emitter
	clock     Clock

	timeline *Timeline

	mu           sync.Mutex
	typingActive bool
	typingTimer  Timer
	// typingGen invalidates trailing timers that fired after being replaced.
	typingGen  uint64
	peerTyping bool
	timer      string
	ended      bool
	closed     bool
	nextPage   int
	hasMore    bool
	onClose    func()
}

func NewChannel(opts Options) *Channel {
	clock := opts.Clock
	if clock == nil {
		clock = RealClock
	}
	return &Channel{
		userID:    opts.UserID,
		sessionID: opts.SessionID,
		peer:      opts.Peer,
		pub:       opts.Publisher,
		history:   opts.History,
		archive:   opts.Archive,
		emit:      opts.Emitter,
		clock:     clock,
		timeline:  NewTimeline(),
		nextPage:  1,
		hasMore:   true,
	}
}

func (c *Channel) SessionID() string { return c.sessionID }
func (c *Channel) Peer() model.Participant { return c.peer }

// Keystroke publishes typing:true on the leading edge and schedules a single
// trailing typing:false after TypingTimeout without keystrokes.
func (c *Channel) Keystroke() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ended || c.closed {
		return apperrors.ValidationError("Session has ended")
	}

	if !c.typingActive {
		if err := c.publishTyping(true); err != nil {
			return err
		}
		c.typingActive = true
	}

	if c.typingTimer != nil {
		c.typingTimer.Stop()
	}
	c.typingGen++
	gen := c.typingGen
	c.typingTimer = c.clock.AfterFunc(TypingTimeout, func() { c.typingExpired(gen) })
	return nil
}

func (c *Channel) typingExpired(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.typingGen || !c.typingActive {
		return
	}
	c.typingActive = false
	c.typingTimer = nil
	if err := c.publishTyping(false); err != nil {
		log.Debug().Err(err).Str("sessionId", c.sessionID).Msg("typing stop not published")
	}
}

// stopTypingLocked cancels the trailing timer and publishes typing:false when
// the indicator is on.
func (c *Channel) stopTypingLocked() {
	if c.typingTimer != nil {
		c.typingTimer.Stop()
		c.typingTimer = nil
	}
	c.typingGen++
	if c.typingActive {
		c.typingActive = false
		if err := c.publishTyping(false); err != nil {
			log.Debug().Err(err).Str("sessionId", c.sessionID).Msg("typing stop not published")
		}
	}
}

func (c *Channel) publishTyping(typing bool) error {
	body, err := json.Marshal(typingPayload{
		SenderID:   c.userID,
		ReceiverID: c.peer.ID,
		SessionID:  c.sessionID,
		Typing:     typing,
	})
	if err != nil {
		return err
	}
	return c.pub.Send(topic.ChatTyping, nil, body)
}

func (c *Channel) SendText(ctx context.Context, text string) (*model.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, apperrors.MissingRequired("message")
	}
	return c.send(ctx, text, model.MessageTypeText)
}

// SendImage sends a reference to an already uploaded image.
func (c *Channel) SendImage(ctx context.Context, imageURI string) (*model.Message, error) {
	imageURI = strings.TrimSpace(imageURI)
	if imageURI == "" {
		return nil, apperrors.MissingRequired("imageUri")
	}
	return c.send(ctx, imageURI, model.MessageTypeImage)
}

// send publishes first and appends to the local timeline without waiting for
// the broker's echo.
func (c *Channel) send(ctx context.Context, body string, typ model.MessageType) (*model.Message, error) {
	c.mu.Lock()
	if c.ended || c.closed {
		c.mu.Unlock()
		return nil, apperrors.ValidationError("Session has ended")
	}
	if !c.pub.IsConnected() {
		c.mu.Unlock()
		return nil, apperrors.NotConnected()
	}

	msg := model.Message{
		ID:         uuid.NewString(),
		SenderID:   c.userID,
		ReceiverID: c.peer.ID,
		SessionID:  c.sessionID,
		Body:       body,
		Type:       typ,
		Timestamp:  c.clock.Now().UTC(),
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		c.mu.Unlock()
		return nil, apperrors.Internal("Failed to encode message")
	}
	if err := c.pub.Send(topic.ChatSend, nil, payload); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	c.stopTypingLocked()
	c.mu.Unlock()

	c.appendMessage(ctx, msg)
	return &msg, nil
}

func (c *Channel) appendMessage(ctx context.Context, msg model.Message) {
	if !c.timeline.Append(msg) {
		return
	}
	c.archiveMessages(ctx, []model.Message{msg})
	c.publish(ctx, EventMessage, msg)
}

func (c *Channel) archiveMessages(ctx context.Context, msgs []model.Message) {
	if c.archive == nil || len(msgs) == 0 {
		return
	}
	if batch, ok := c.archive.(BatchArchiver); ok && len(msgs) > 1 {
		if err := batch.ArchiveAll(ctx, msgs); err != nil {
			log.Warn().Err(err).Str("sessionId", c.sessionID).Int("count", len(msgs)).Msg("failed to archive history page")
		}
		return
	}
	for _, m := range msgs {
		if err := c.archive.Archive(ctx, m); err != nil {
			log.Warn().Err(err).Str("sessionId", c.sessionID).Msg("failed to archive message")
		}
	}
}

// LoadPage fetches the next older page. Page 1 replaces the timeline; later
// pages are prepended. It returns how many messages were added.
func (c *Channel) LoadPage(ctx context.Context) (int, error) {
	c.mu.Lock()
	page := c.nextPage
	more := c.hasMore
	c.mu.Unlock()

	if page > 1 && !more {
		return 0, nil
	}

	result, err := c.history.Messages(ctx, c.sessionID, page, PageSize)
	if err != nil {
		return 0, err
	}

	var added int
	if page == 1 {
		added = c.timeline.Replace(result.Messages)
	} else {
		added = c.timeline.Prepend(result.Messages)
	}

	c.mu.Lock()
	c.nextPage = page + 1
	c.hasMore = !result.IsLastPage && len(result.Messages) > 0
	more = c.hasMore
	c.mu.Unlock()

	c.archiveMessages(ctx, result.Messages)
	c.publish(ctx, EventHistory, map[string]any{
		"sessionId": c.sessionID,
		"page":      page,
		"added":     added,
		"hasMore":   more,
	})

	log.Debug().
		Str("sessionId", c.sessionID).
		Int("page", page).
		Int("added", added).
		Bool("hasMore", more).
		Msg("chat history page loaded")

	return added, nil
}

func (c *Channel) HasMore() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hasMore
}

func (c *Channel) Messages() []model.Message {
	return c.timeline.Messages()
}

func (c *Channel) Timer() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timer
}

func (c *Channel) PeerTyping() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peerTyping
}

func (c *Channel) Ended() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ended
}

// Handle applies chat events routed from the session topics.
func (c *Channel) Handle(ctx context.Context, ev events.Event) {
	switch e := ev.(type) {
	case events.MessageReceived:
		msg := e.Message
		if msg.SessionID != "" && msg.SessionID != c.sessionID {
			return
		}
		if msg.SessionID == "" && msg.SenderID != c.peer.ID && msg.SenderID != c.userID {
			return
		}
		if msg.Timestamp.IsZero() {
			msg.Timestamp = c.clock.Now().UTC()
		}
		c.appendMessage(ctx, msg)

	case events.TypingChanged:
		if e.SenderID != c.peer.ID {
			return
		}
		c.mu.Lock()
		c.peerTyping = e.Typing
		c.mu.Unlock()
		c.publish(ctx, EventTyping, map[string]any{"sessionId": c.sessionID, "typing": e.Typing})

	case events.TimerTick:
		if e.SessionID != "" && e.SessionID != c.sessionID {
			return
		}
		c.mu.Lock()
		c.timer = e.Display
		c.mu.Unlock()
		c.publish(ctx, EventTimer, map[string]any{"sessionId": c.sessionID, "display": e.Display})

	case events.SessionEnded:
		if e.SessionID != "" && e.SessionID != c.sessionID {
			return
		}
		c.mu.Lock()
		c.ended = true
		c.peerTyping = false
		c.stopTypingLocked()
		c.mu.Unlock()
		c.publish(ctx, EventEnded, map[string]any{"sessionId": c.sessionID})
	}
}

// OnClose registers fn to run once when the channel closes.
func (c *Channel) OnClose(fn func()) {
	c.mu.Lock()
	c.onClose = fn
	c.mu.Unlock()
}

// Close stops the typing timer and releases the channel's subscriptions.
func (c *Channel) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	if c.typingTimer != nil {
		c.typingTimer.Stop()
		c.typingTimer = nil
	}
	c.typingGen++
	c.typingActive = false
	fn := c.onClose
	c.mu.Unlock()

	if fn != nil {
		fn()
	}
}

func (c *Channel) publish(ctx context.Context, eventType string, data any) {
	if c.emit != nil {
		c.emit.Emit(ctx, eventType, data)
	}
}
