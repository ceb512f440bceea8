package bus

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	apperrors "github.com/astrosevaa/sessiond/internal/errors"
	"github.com/astrosevaa/sessiond/internal/model"
	"github.com/astrosevaa/sessiond/internal/topic"
)

const DefaultConnectTimeout = 10 * time.Second

type Options struct {
	ConnectTimeout time.Duration
	Backoff        Backoff
	// AutoReconnect restarts the connection after drops not caused by Disconnect.
	AutoReconnect bool
}

func DefaultOptions() Options {
	return Options{
		ConnectTimeout: DefaultConnectTimeout,
		Backoff:        DefaultBackoff(),
		AutoReconnect:  true,
	}
}

// Manager owns the single bus connection of one identity.
type Manager struct {
	identity model.Identity
	endpoint string
	dialer   Dialer
	registry *Registry
	opts     Options

	onConnect    listenerSet
	onDisconnect listenerSet

	mu         sync.Mutex
	status     Status
	conn       Conn
	inflight   chan struct{}
	connectErr error
	// epoch changes on every Disconnect so stale reconnect loops stop.
	epoch    uint64
	disposed bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewManager(identity model.Identity, endpoint string, dialer Dialer, opts Options) *Manager {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		identity: identity,
		endpoint: endpoint,
		dialer:   dialer,
		registry: NewRegistry(),
		opts:     opts,
		status:   StatusDisconnected,
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (m *Manager) Identity() model.Identity { return m.identity }
func (m *Manager) Endpoint() string         { return m.endpoint }

func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

func (m *Manager) IsConnected() bool {
	return m.Status() == StatusConnected
}

// Connect establishes the transport. It returns immediately when connected and
// waits for the in-flight attempt when one is running.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	epoch := m.epoch
	m.mu.Unlock()
	return m.connect(ctx, epoch)
}

func (m *Manager) connect(ctx context.Context, epoch uint64) error {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return apperrors.Connection(errors.New("connection manager was reset"))
	}
	if m.status == StatusConnected {
		m.mu.Unlock()
		return nil
	}
	if m.inflight != nil {
		wait := m.inflight
		m.mu.Unlock()
		select {
		case <-wait:
		case <-ctx.Done():
			return apperrors.Connection(ctx.Err())
		}
		m.mu.Lock()
		err := m.connectErr
		m.mu.Unlock()
		return err
	}

	done := make(chan struct{})
	m.inflight = done
	m.status = StatusConnecting
	m.mu.Unlock()

	log.Info().
		Str("userId", m.identity.UserID).
		Str("endpoint", m.endpoint).
		Msg("connecting to bus")

	dialCtx, cancel := context.WithTimeout(ctx, m.opts.ConnectTimeout)
	conn, err := m.dialer.Dial(dialCtx, m.endpoint, m.identity)
	cancel()

	m.mu.Lock()
	stale := m.disposed || m.epoch != epoch
	switch {
	case err != nil:
		m.status = StatusFailed
		m.connectErr = apperrors.Connection(err)
	case stale:
		m.status = StatusDisconnected
		m.connectErr = apperrors.Connection(errors.New("disconnected while connecting"))
	default:
		m.status = StatusConnected
		m.conn = conn
		m.connectErr = nil
	}
	result := m.connectErr
	m.inflight = nil
	close(done)
	m.mu.Unlock()

	if err != nil {
		log.Warn().Err(err).Str("userId", m.identity.UserID).Msg("bus connect failed")
		return result
	}
	if stale {
		conn.Close()
		return result
	}

	m.registry.Attach(conn)

	m.wg.Add(1)
	go m.readLoop(conn)

	log.Info().Str("userId", m.identity.UserID).Msg("bus connected")
	m.onConnect.fire("connect")
	return nil
}

func (m *Manager) readLoop(conn Conn) {
	defer m.wg.Done()

	for msg := range conn.Messages() {
		m.registry.Dispatch(msg)
	}

	m.handleDrop(conn, conn.Err())
}

func (m *Manager) handleDrop(conn Conn, cause error) {
	m.mu.Lock()
	if m.conn != conn {
		// already torn down by Disconnect
		m.mu.Unlock()
		return
	}
	m.conn = nil
	m.status = StatusDisconnected
	epoch := m.epoch
	reconnect := m.opts.AutoReconnect && !m.disposed
	m.mu.Unlock()

	m.registry.Detach()

	log.Warn().Err(cause).Str("userId", m.identity.UserID).Msg("bus connection lost")
	m.onDisconnect.fire("disconnect")

	if reconnect {
		m.wg.Add(1)
		go m.reconnectLoop(epoch)
	}
}

func (m *Manager) reconnectLoop(epoch uint64) {
	defer m.wg.Done()

	for attempt := 0; ; attempt++ {
		delay := m.opts.Backoff.Delay(attempt)
		log.Info().Dur("delay", delay).Int("attempt", attempt+1).Msg("scheduling bus reconnect")

		select {
		case <-m.ctx.Done():
			return
		case <-time.After(delay):
		}

		m.mu.Lock()
		stale := m.epoch != epoch || m.disposed
		m.mu.Unlock()
		if stale {
			return
		}

		if err := m.connect(m.ctx, epoch); err == nil {
			return
		}
	}
}

// Disconnect closes the connection and stops reconnect attempts. It is idempotent.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.epoch++
	conn := m.conn
	m.conn = nil
	wasConnected := m.status == StatusConnected
	if m.inflight == nil {
		m.status = StatusDisconnected
	}
	m.mu.Unlock()

	if conn == nil {
		return
	}

	m.registry.Detach()
	if err := conn.Close(); err != nil {
		log.Debug().Err(err).Msg("bus close returned error")
	}

	log.Info().Str("userId", m.identity.UserID).Msg("bus disconnected")
	if wasConnected {
		m.onDisconnect.fire("disconnect")
	}
}

// Reset disconnects and discards every subscription and listener. The manager
// cannot be reused afterwards.
func (m *Manager) Reset() {
	m.Disconnect()

	m.mu.Lock()
	m.disposed = true
	m.mu.Unlock()

	m.cancel()
	m.registry.Clear()
	m.onConnect.clear()
	m.onDisconnect.clear()
	m.wg.Wait()
}

// Send publishes body to an /app destination.
func (m *Manager) Send(destination string, headers map[string]string, body []byte) error {
	if err := topic.ValidatePublish(destination); err != nil {
		return apperrors.ValidationError(err.Error())
	}

	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()

	if conn == nil {
		return apperrors.NotConnected()
	}
	if err := conn.Send(destination, headers, body); err != nil {
		return apperrors.Connection(err)
	}
	return nil
}

// Subscribe registers handler for a /topic destination with replace semantics.
// It works while disconnected; the registration is replayed on connect.
func (m *Manager) Subscribe(destination string, handler Handler) (*Subscription, error) {
	if err := topic.ValidateSubscribe(destination); err != nil {
		return nil, apperrors.Subscription(destination, err.Error())
	}
	if handler == nil {
		return nil, apperrors.Subscription(destination, "handler is nil")
	}
	return m.registry.Subscribe(destination, handler), nil
}

func (m *Manager) Unsubscribe(destination string) {
	m.registry.Unsubscribe(destination)
}

func (m *Manager) UnsubscribeAll(destinations []string) {
	m.registry.UnsubscribeAll(destinations)
}

func (m *Manager) Destinations() []string {
	return m.registry.Destinations()
}

func (m *Manager) AddOnConnect(fn func()) func() {
	return m.onConnect.add(fn)
}

func (m *Manager) AddOnDisconnect(fn func()) func() {
	return m.onDisconnect.add(fn)
}
