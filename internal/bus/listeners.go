package bus

import (
	"sync"

	"github.com/rs/zerolog/log"
)

type listener struct {
	id int
	fn func()
}

// listenerSet keeps lifecycle callbacks in registration order.
type listenerSet struct {
	mu     sync.Mutex
	nextID int
	items  []listener
}

func (s *listenerSet) add(fn func()) func() {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.items = append(s.items, listener{id: id, fn: fn})
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { s.remove(id) })
	}
}

func (s *listenerSet) remove(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, l := range s.items {
		if l.id == id {
			s.items = append(s.items[:i], s.items[i+1:]...)
			return
		}
	}
}

func (s *listenerSet) clear() {
	s.mu.Lock()
	s.items = nil
	s.mu.Unlock()
}

// fire calls every listener; a panicking listener does not stop the rest.
func (s *listenerSet) fire(event string) {
	s.mu.Lock()
	items := make([]listener, len(s.items))
	copy(items, s.items)
	s.mu.Unlock()

	for _, l := range items {
		func() {
			defer func() {
				if p := recover(); p != nil {
					log.Error().Interface("panic", p).Str("event", event).Msg("lifecycle listener panicked")
				}
			}()
			l.fn()
		}()
	}
}
