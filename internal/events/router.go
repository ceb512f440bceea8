package events

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/astrosevaa/sessiond/internal/bus"
	"github.com/astrosevaa/sessiond/internal/config"
	apperrors "github.com/astrosevaa/sessiond/internal/errors"
	"github.com/astrosevaa/sessiond/internal/topic"
)

// Subscriber is the part of the connection manager the router needs.
type Subscriber interface {
	Subscribe(destination string, handler bus.Handler) (*bus.Subscription, error)
	UnsubscribeAll(destinations []string)
}

type Sink interface {
	Handle(ctx context.Context, ev Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, ev Event)

func (f SinkFunc) Handle(ctx context.Context, ev Event) { f(ctx, ev) }

// Router subscribes topic groups and delivers decoded events to sinks.
type Router struct {
	sub Subscriber
}

func NewRouter(sub Subscriber) *Router {
	return &Router{sub: sub}
}

// Binding is the set of destinations one Bind call registered.
type Binding struct {
	sub   Subscriber
	dests []string
	once  sync.Once
}

func (b *Binding) Destinations() []string {
	return append([]string(nil), b.dests...)
}

// Close unsubscribes every destination of the binding. Safe to call twice.
func (b *Binding) Close() {
	b.once.Do(func() {
		b.sub.UnsubscribeAll(b.dests)
		log.Debug().Strs("destinations", b.dests).Msg("binding closed")
	})
}

// BindUser subscribes the per-user topics: queue, accepted requests, call
// sessions, active-session updates and both presence feeds.
func (r *Router) BindUser(userID string, sinks ...Sink) (*Binding, error) {
	topics, err := topic.UserTopics(userID)
	if err != nil {
		return nil, apperrors.Subscription(userID, err.Error())
	}
	return r.bind(topics, sinks)
}

// BindChat subscribes the per-user chat message and typing feeds.
func (r *Router) BindChat(userID string, sinks ...Sink) (*Binding, error) {
	topics, err := topic.ChatTopics(userID)
	if err != nil {
		return nil, apperrors.Subscription(userID, err.Error())
	}
	return r.bind(topics, sinks)
}

// BindSession subscribes the timer and end topics of one open session.
func (r *Router) BindSession(sessionID string, sinks ...Sink) (*Binding, error) {
	topics, err := topic.SessionTopics(sessionID)
	if err != nil {
		return nil, apperrors.Subscription(sessionID, err.Error())
	}
	return r.bind(topics, sinks)
}

func (r *Router) bind(topics []topic.Topic, sinks []Sink) (*Binding, error) {
	b := &Binding{sub: r.sub}

	for _, t := range topics {
		dest := t.Destination()
		if _, err := r.sub.Subscribe(dest, r.handler(t, sinks)); err != nil {
			r.sub.UnsubscribeAll(b.dests)
			return nil, err
		}
		b.dests = append(b.dests, dest)
	}

	return b, nil
}

func (r *Router) handler(t topic.Topic, sinks []Sink) bus.Handler {
	return func(msg bus.Message) {
		ev, err := Decode(t, msg.Body)
		if err != nil {
			perr := apperrors.Parse(t.Destination(), err)
			log.Warn().
				Err(perr).
				Str("code", string(perr.Code)).
				Str("destination", t.Destination()).
				Msg("dropping malformed frame")
			return
		}
		if ev == nil {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), config.EventApplyTimeout)
		defer cancel()

		for _, s := range sinks {
			deliver(ctx, s, ev)
		}
	}
}

func deliver(ctx context.Context, s Sink, ev Event) {
	defer func() {
		if p := recover(); p != nil {
			log.Error().
				Interface("panic", p).
				Str("event", string(ev.EventType())).
				Msg("event sink panicked")
		}
	}()
	s.Handle(ctx, ev)
}
