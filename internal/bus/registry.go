package bus

import (
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

type Subscription struct {
	ID          string
	Destination string
	handler     Handler
}

// Registry owns the destination → handler mapping. It records subscriptions
// while no connection is attached and replays them on Attach.
type Registry struct {
	byDest map[string]*Subscription
	byID   map[string]*Subscription
	conn   Conn
	mu     sync.RWMutex
}

func NewRegistry() *Registry {
	return &Registry{
		byDest: make(map[string]*Subscription),
		byID:   make(map[string]*Subscription),
	}
}

// Subscribe registers handler for destination, replacing any existing handler.
func (r *Registry) Subscribe(destination string, handler Handler) *Subscription {
	sub := &Subscription{
		ID:          uuid.NewString(),
		Destination: destination,
		handler:     handler,
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.byDest[destination]; ok {
		r.removeLocked(old)
		log.Debug().Str("destination", destination).Msg("replacing existing subscription")
	}

	r.byDest[destination] = sub
	r.byID[sub.ID] = sub

	if r.conn != nil {
		if err := r.conn.Subscribe(sub.ID, destination); err != nil {
			// kept registered; the next Attach replays it
			log.Warn().Err(err).Str("destination", destination).Msg("subscribe frame failed")
		}
	}

	return sub
}

// Unsubscribe removes the subscription for destination. It reports whether one existed.
func (r *Registry) Unsubscribe(destination string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub, ok := r.byDest[destination]
	if !ok {
		return false
	}
	r.removeLocked(sub)
	return true
}

func (r *Registry) UnsubscribeAll(destinations []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, dest := range destinations {
		if sub, ok := r.byDest[dest]; ok {
			r.removeLocked(sub)
		}
	}
}

func (r *Registry) removeLocked(sub *Subscription) {
	delete(r.byDest, sub.Destination)
	delete(r.byID, sub.ID)

	if r.conn != nil {
		if err := r.conn.Unsubscribe(sub.ID); err != nil {
			log.Warn().Err(err).Str("destination", sub.Destination).Msg("unsubscribe frame failed")
		}
	}
}

// Attach binds a fresh connection and re-establishes every registered destination.
func (r *Registry) Attach(conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.conn = conn
	for _, sub := range r.byDest {
		if err := conn.Subscribe(sub.ID, sub.Destination); err != nil {
			log.Warn().Err(err).Str("destination", sub.Destination).Msg("resubscribe failed")
		}
	}

	log.Debug().Int("count", len(r.byDest)).Msg("subscriptions attached")
}

// Detach forgets the connection; registrations are kept.
func (r *Registry) Detach() {
	r.mu.Lock()
	r.conn = nil
	r.mu.Unlock()
}

// Clear drops every registration without sending frames.
func (r *Registry) Clear() {
	r.mu.Lock()
	r.byDest = make(map[string]*Subscription)
	r.byID = make(map[string]*Subscription)
	r.mu.Unlock()
}

// Dispatch delivers msg to the handler it was subscribed for. Frames for a
// subscription that no longer exists are dropped.
func (r *Registry) Dispatch(msg Message) {
	r.mu.RLock()
	var sub *Subscription
	if msg.Subscription != "" {
		sub = r.byID[msg.Subscription]
	} else {
		sub = r.byDest[msg.Destination]
	}
	r.mu.RUnlock()

	if sub == nil {
		log.Debug().
			Str("destination", msg.Destination).
			Str("subscription", msg.Subscription).
			Msg("dropping frame for unknown subscription")
		return
	}

	invoke(sub, msg)
}

func invoke(sub *Subscription, msg Message) {
	defer func() {
		if p := recover(); p != nil {
			log.Error().
				Interface("panic", p).
				Str("destination", sub.Destination).
				Msg("subscription handler panicked")
		}
	}()
	sub.handler(msg)
}

// Destinations lists the registered destinations in sorted order.
func (r *Registry) Destinations() []string {
	r.mu.RLock()
	dests := make([]string, 0, len(r.byDest))
	for d := range r.byDest {
		dests = append(dests, d)
	}
	r.mu.RUnlock()
	sort.Strings(dests)
	return dests
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byDest)
}
