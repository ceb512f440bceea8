package bus

import (
	"sync"

	"github.com/rs/zerolog/log"

	apperrors "github.com/astrosevaa/sessiond/internal/errors"
	"github.com/astrosevaa/sessiond/internal/model"
)

// Hub holds the process-wide connection handle with an explicit lifecycle:
// Init creates it, Get returns it, Reset disposes it.
type Hub struct {
	dialer  Dialer
	opts    Options
	current *Manager
	mu      sync.Mutex
}

func NewHub(dialer Dialer, opts Options) *Hub {
	return &Hub{dialer: dialer, opts: opts}
}

// Init returns the manager for identity, replacing a manager that belongs to a
// different identity or endpoint. It fails while the same identity is still
// connecting; callers should wait on the existing manager instead.
func (h *Hub) Init(identity model.Identity, endpoint string) (*Manager, error) {
	h.mu.Lock()

	if cur := h.current; cur != nil {
		if cur.identity.Same(identity) && cur.endpoint == endpoint {
			defer h.mu.Unlock()
			if cur.Status() == StatusConnecting {
				return nil, apperrors.AlreadyConnecting(identity.UserID)
			}
			return cur, nil
		}

		h.current = nil
		h.mu.Unlock()

		log.Info().
			Str("previousUserId", cur.identity.UserID).
			Str("userId", identity.UserID).
			Msg("identity changed, tearing down previous connection")
		cur.Reset()

		h.mu.Lock()
	}
	defer h.mu.Unlock()

	if h.current != nil {
		// lost a race with a concurrent Init
		if h.current.identity.Same(identity) && h.current.endpoint == endpoint {
			return h.current, nil
		}
		return nil, apperrors.AlreadyConnecting(h.current.identity.UserID)
	}

	h.current = NewManager(identity, endpoint, h.dialer, h.opts)
	return h.current, nil
}

// Get returns the current manager or NOT_CONNECTED when none was initialized.
func (h *Hub) Get() (*Manager, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.current == nil {
		return nil, apperrors.NotConnected()
	}
	return h.current, nil
}

// Reset disposes the current manager; the next Init starts fresh.
func (h *Hub) Reset() {
	h.mu.Lock()
	cur := h.current
	h.current = nil
	h.mu.Unlock()

	if cur != nil {
		cur.Reset()
	}
}
