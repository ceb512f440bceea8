package chat

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	apperrors "github.com/astrosevaa/sessiond/internal/errors"
	"github.com/astrosevaa/sessiond/internal/events"
	"github.com/astrosevaa/sessiond/internal/model"
)

// Binder subscribes the chat topics. The per-user feeds are bound once for the
// service; each channel binds only its own session topics.
type Binder interface {
	BindChat(userID string, sinks ...events.Sink) (*events.Binding, error)
	BindSession(sessionID string, sinks ...events.Sink) (*events.Binding, error)
}

// Service keeps one Channel per open session.
type Service struct {
	userID  string
	binder  Binder
	pub     Publisher
	history HistoryAPI
	archive Archiver
	emit    Emitter
	clock   Clock
	// extra sinks receive the session topics too, e.g. the state machine for
	// the end signal.
	extra []events.Sink

	mu       sync.Mutex
	channels map[string]*Channel
	// live holds the session bindings of channels that have not ended.
	live map[string]*events.Binding
	feed *events.Binding
}

type ServiceOptions struct {
	UserID     string
	Binder     Binder
	Publisher  Publisher
	History    HistoryAPI
	Archive    Archiver
	Emitter    Emitter
	Clock      Clock
	ExtraSinks []events.Sink
}

func NewService(opts ServiceOptions) *Service {
	return &Service{
		userID:   opts.UserID,
		binder:   opts.Binder,
		pub:      opts.Publisher,
		history:  opts.History,
		archive:  opts.Archive,
		emit:     opts.Emitter,
		clock:    opts.Clock,
		extra:    opts.ExtraSinks,
		channels: make(map[string]*Channel),
		live:     make(map[string]*events.Binding),
	}
}

// Open returns the channel for sessionID, creating and binding it on first use.
// Ended channels left open are dropped when a new one is created.
func (s *Service) Open(ctx context.Context, sessionID string, peer model.Participant) (*Channel, error) {
	if sessionID == "" {
		return nil, apperrors.MissingRequired("sessionId")
	}
	if peer.ID == "" {
		return nil, apperrors.MissingRequired("peer.id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if ch, ok := s.channels[sessionID]; ok {
		return ch, nil
	}
	s.pruneEndedLocked()

	if s.feed == nil {
		feed, err := s.binder.BindChat(s.userID, events.SinkFunc(s.route))
		if err != nil {
			return nil, err
		}
		s.feed = feed
	}

	ch := NewChannel(Options{
		UserID:    s.userID,
		SessionID: sessionID,
		Peer:      peer,
		Publisher: s.pub,
		History:   s.history,
		Archive:   s.archive,
		Emitter:   s.emit,
		Clock:     s.clock,
	})

	sinks := append([]events.Sink{ch}, s.extra...)
	sinks = append(sinks, events.SinkFunc(func(_ context.Context, ev events.Event) {
		if e, ok := ev.(events.SessionEnded); ok && (e.SessionID == "" || e.SessionID == sessionID) {
			s.release(sessionID)
		}
	}))
	binding, err := s.binder.BindSession(sessionID, sinks...)
	if err != nil {
		s.releaseFeedLocked()
		return nil, err
	}
	ch.OnClose(binding.Close)
	s.channels[sessionID] = ch
	s.live[sessionID] = binding

	log.Info().
		Str("sessionId", sessionID).
		Str("peerId", peer.ID).
		Strs("destinations", binding.Destinations()).
		Msg("chat channel opened")

	return ch, nil
}

// route hands a per-user chat event to the channel it names, or to every live
// channel when the payload carries no session id.
func (s *Service) route(ctx context.Context, ev events.Event) {
	var sessionID string
	switch e := ev.(type) {
	case events.MessageReceived:
		sessionID = e.Message.SessionID
	case events.TypingChanged:
		sessionID = e.SessionID
	default:
		return
	}

	s.mu.Lock()
	targets := make([]*Channel, 0, len(s.live))
	for id := range s.live {
		if sessionID == "" || sessionID == id {
			targets = append(targets, s.channels[id])
		}
	}
	s.mu.Unlock()

	if len(targets) == 0 {
		log.Debug().Str("sessionId", sessionID).Str("event", string(ev.EventType())).Msg("no open channel for chat event")
	}
	for _, ch := range targets {
		ch.Handle(ctx, ev)
	}
}

// release drops the session subscriptions of an ended channel. The channel
// stays readable until it is closed or a new channel is opened.
func (s *Service) release(sessionID string) {
	s.mu.Lock()
	binding, ok := s.live[sessionID]
	delete(s.live, sessionID)
	feed := s.takeFeedIfIdleLocked()
	s.mu.Unlock()

	if ok {
		binding.Close()
		log.Info().Str("sessionId", sessionID).Msg("chat channel released after end")
	}
	if feed != nil {
		feed.Close()
	}
}

func (s *Service) pruneEndedLocked() {
	for id, ch := range s.channels {
		if _, live := s.live[id]; live {
			continue
		}
		delete(s.channels, id)
		ch.Close()
	}
}

func (s *Service) takeFeedIfIdleLocked() *events.Binding {
	if len(s.live) > 0 || s.feed == nil {
		return nil
	}
	feed := s.feed
	s.feed = nil
	return feed
}

func (s *Service) releaseFeedLocked() {
	if feed := s.takeFeedIfIdleLocked(); feed != nil {
		feed.Close()
	}
}

// Get returns an open channel or NOT_FOUND.
func (s *Service) Get(sessionID string) (*Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, ok := s.channels[sessionID]
	if !ok {
		return nil, apperrors.NotFound("Chat channel")
	}
	return ch, nil
}

// Close tears down the channel for sessionID. It reports whether one was open.
func (s *Service) Close(sessionID string) bool {
	s.mu.Lock()
	ch, ok := s.channels[sessionID]
	delete(s.channels, sessionID)
	delete(s.live, sessionID)
	feed := s.takeFeedIfIdleLocked()
	s.mu.Unlock()

	if feed != nil {
		feed.Close()
	}
	if !ok {
		return false
	}
	ch.Close()
	log.Info().Str("sessionId", sessionID).Msg("chat channel closed")
	return true
}

func (s *Service) CloseAll() {
	s.mu.Lock()
	channels := s.channels
	s.channels = make(map[string]*Channel)
	s.live = make(map[string]*events.Binding)
	feed := s.feed
	s.feed = nil
	s.mu.Unlock()

	for _, ch := range channels {
		ch.Close()
	}
	if feed != nil {
		feed.Close()
	}
}

func (s *Service) OpenSessions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.channels))
	for id := range s.channels {
		ids = append(ids, id)
	}
	return ids
}
