// Package session drives the requester and provider side of the session
// lifecycle: requests, the provider queue, accept/skip, and the end signal.
package session

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/astrosevaa/sessiond/internal/config"
	apperrors "github.com/astrosevaa/sessiond/internal/errors"
	"github.com/astrosevaa/sessiond/internal/events"
	"github.com/astrosevaa/sessiond/internal/model"
	"github.com/astrosevaa/sessiond/internal/topic"
)

// FreeChatMinutes is the length of the one-time free chat.
const FreeChatMinutes = 2

// Request is a requester asking a provider for a session.
type Request struct {
	Provider model.Provider    `json:"provider"`
	Type     model.SessionType `json:"sessionType" validate:"required,oneof=CHAT AUDIO VIDEO"`
	Duration int               `json:"duration" validate:"gte=0"`
}

// Acceptance describes what the provider UI should do after accepting.
type Acceptance struct {
	Entry model.QueueEntry `json:"entry"`
	// Handoff is set for AUDIO/VIDEO, which continue on the external calling surface.
	Handoff bool   `json:"handoff"`
	Route   string `json:"route"`
}

const (
	RouteChat    = "/chat"
	RouteAppLink = "/applink"
)

type Machine struct {
	identity model.Identity
	api      API
	pub      Publisher
	emit     Emitter
	persist  Persister

	queue    *Queue
	presence *model.PresenceSet

	mu            sync.Mutex
	state         State
	session       *model.Session
	activeSession *model.Session
	callSession   *model.CallSession
	otherParty    *model.Participant
	freeChatUsed  bool
	balance       float64
	online        bool
	requesting    bool

	// both run off the bus read goroutine
	queueSync *coalescer
	saver     *coalescer
}

// NewMachine wires the state machine. persist may be nil.
func NewMachine(identity model.Identity, api API, pub Publisher, emit Emitter, persist Persister) *Machine {
	m := &Machine{
		identity: identity,
		api:      api,
		pub:      pub,
		emit:     emit,
		persist:  persist,
		queue:    NewQueue(),
		presence: model.NewPresenceSet(),
		state:    StateIdle,
	}
	m.queueSync = newCoalescer(m.syncQueue)
	m.saver = newCoalescer(m.save)
	return m
}

// Flush waits for pending queue refreshes and state writes to finish.
func (m *Machine) Flush() {
	m.queueSync.Wait()
	m.saver.Wait()
}

// Hydrate restores a persisted snapshot. It must run before the first connect.
func (m *Machine) Hydrate(snap model.StateSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.freeChatUsed = snap.FreeChatUsed
	m.balance = snap.Balance
	m.otherParty = snap.OtherParty
	if snap.ActiveSession != nil {
		s := *snap.ActiveSession
		m.activeSession = &s
		m.session = &s
		m.state = StateActive
	}

	log.Info().
		Str("userId", m.identity.UserID).
		Bool("activeSession", snap.ActiveSession != nil).
		Msg("session state hydrated")
}

func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Machine) Queue() *Queue {
	return m.queue
}

func (m *Machine) Presence() *model.PresenceSet {
	return m.presence
}

// Transition moves the lifecycle forward. Backward moves are rejected.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	err := m.advanceLocked(to)
	m.mu.Unlock()
	if err == nil {
		m.changed(context.Background())
	}
	return err
}

func (m *Machine) advanceLocked(to State) error {
	if !m.state.CanAdvance(to) {
		return apperrors.InvalidTransition(string(m.state), string(to))
	}
	log.Debug().Str("from", string(m.state)).Str("to", string(to)).Msg("session state transition")
	m.state = to
	return nil
}

// SendSessionRequest asks req.Provider for a session. On success the requester
// is WAITING on that provider; on failure the state is unchanged.
func (m *Machine) SendSessionRequest(ctx context.Context, req Request) (*model.Session, error) {
	if !m.pub.IsConnected() {
		return nil, apperrors.NotConnected()
	}
	if req.Provider.ID == "" {
		return nil, apperrors.MissingRequired("provider.id")
	}
	if req.Type == "" {
		req.Type = model.SessionTypeChat
	}

	m.mu.Lock()
	switch {
	case m.state == StateActive && m.activeSession.Involves(req.Provider.ID):
		s := *m.activeSession
		m.mu.Unlock()
		return &s, nil
	case m.state == StateActive:
		m.mu.Unlock()
		return nil, apperrors.InvalidTransition(string(StateActive), string(StateWaiting))
	case m.state == StateWaiting || m.requesting:
		m.mu.Unlock()
		return nil, apperrors.DuplicateRequest(m.identity.UserID)
	}

	free := req.Type == model.SessionTypeChat && !m.freeChatUsed
	duration := req.Duration
	price := req.Provider.PriceFor(req.Type)
	if free {
		duration = FreeChatMinutes
	} else {
		if duration <= 0 {
			m.mu.Unlock()
			return nil, apperrors.ValidationError("duration must be at least one minute")
		}
		if required := price * float64(duration); required > m.balance {
			available := m.balance
			m.mu.Unlock()
			return nil, apperrors.InsufficientBalance(required, available)
		}
	}
	m.requesting = true
	m.mu.Unlock()

	apiReq := model.SessionRequest{
		AstrologerID: req.Provider.ID,
		SessionType:  req.Type,
		Duration:     duration,
		FreeChat:     free,
	}

	var err error
	if req.Type.IsCall() {
		err = m.api.RequestCall(ctx, apiReq)
	} else {
		err = m.api.RequestSession(ctx, apiReq)
	}

	m.mu.Lock()
	m.requesting = false
	if err != nil {
		m.mu.Unlock()
		log.Warn().Err(err).Str("astrologerId", req.Provider.ID).Msg("session request failed")
		return nil, requestError(err)
	}

	if m.state == StateEnded {
		m.resetLocked()
	}
	s := &model.Session{
		Type:           req.Type,
		Status:         model.SessionStatusWaiting,
		User:           &model.Participant{ID: m.identity.UserID},
		Astrologer:     req.Provider.Participant(),
		Duration:       duration,
		PricePerMinute: price,
	}
	if free {
		s.PricePerMinute = 0
		m.freeChatUsed = true
	}
	m.session = s
	m.otherParty = req.Provider.Participant()
	// a broadcast for this request may already have moved us past WAITING
	if m.state.CanAdvance(StateWaiting) {
		m.state = StateWaiting
	}
	out := *s
	m.mu.Unlock()

	log.Info().
		Str("astrologerId", req.Provider.ID).
		Str("sessionType", string(req.Type)).
		Int("duration", duration).
		Bool("freeChat", free).
		Msg("session requested")

	m.notify(ctx, NoticeSuccess, "Request sent, waiting for the astrologer")
	m.changed(ctx)
	return &out, nil
}

// AcceptSessionRequest accepts requesterID's entry, or the head of the queue
// when requesterID is empty. Calls are handed off without a backend call.
func (m *Machine) AcceptSessionRequest(ctx context.Context, requesterID string) (*Acceptance, error) {
	if !m.pub.IsConnected() {
		return nil, apperrors.NotConnected()
	}

	var (
		entry model.QueueEntry
		ok    bool
	)
	if requesterID == "" {
		entry, ok = m.queue.Head()
	} else {
		entry, ok = m.queue.Find(requesterID)
	}
	if !ok {
		return nil, apperrors.NotFound("Queue entry")
	}

	if entry.Type.IsCall() {
		log.Info().
			Str("requesterId", entry.RequesterID).
			Str("sessionType", string(entry.Type)).
			Msg("call request handed off to calling surface")
		return &Acceptance{Entry: entry, Handoff: true, Route: RouteAppLink}, nil
	}

	if err := m.api.AcceptSession(ctx, entry.RequesterID); err != nil {
		return nil, requestError(err)
	}

	m.queue.Remove(entry.RequesterID)

	m.mu.Lock()
	if m.state == StateEnded {
		m.resetLocked()
	}
	m.otherParty = entry.Requester
	if m.otherParty == nil {
		m.otherParty = &model.Participant{ID: entry.RequesterID}
	}
	if m.state.CanAdvance(StateWaiting) {
		m.state = StateWaiting
	}
	m.mu.Unlock()

	log.Info().Str("requesterId", entry.RequesterID).Msg("chat request accepted")
	m.changed(ctx)
	return &Acceptance{Entry: entry, Route: RouteChat}, nil
}

// SkipSessionRequest declines requesterID's entry.
func (m *Machine) SkipSessionRequest(ctx context.Context, requesterID string) error {
	if !m.pub.IsConnected() {
		return apperrors.NotConnected()
	}
	if requesterID == "" {
		return apperrors.MissingRequired("requesterId")
	}

	if err := m.api.SkipSession(ctx, requesterID); err != nil {
		return requestError(err)
	}

	m.queue.Remove(requesterID)

	m.mu.Lock()
	if m.state != StateActive && m.session.Involves(requesterID) {
		m.session = nil
		m.otherParty = nil
		m.state = StateIdle
	}
	m.mu.Unlock()

	log.Info().Str("requesterId", requesterID).Msg("session request skipped")
	m.changed(ctx)
	return nil
}

// DeleteSessionRequest clears the provider's whole queue.
func (m *Machine) DeleteSessionRequest(ctx context.Context) error {
	if err := m.api.DeleteQueue(ctx); err != nil {
		return requestError(err)
	}
	m.queue.Clear()

	log.Info().Str("userId", m.identity.UserID).Msg("session queue cleared")
	m.changed(ctx)
	return nil
}

// RefreshQueue reloads the provider queue from the backend.
func (m *Machine) RefreshQueue(ctx context.Context) error {
	entries, err := m.api.Queue(ctx)
	if err != nil {
		return requestError(err)
	}
	m.queue.Replace(entries)
	m.changed(ctx)
	return nil
}

// EndSession handles the end signal. A signal for a different session than the
// one held is ignored.
func (m *Machine) EndSession(ctx context.Context, sessionID string) {
	m.mu.Lock()
	if sessionID != "" && m.session != nil && m.session.ID != "" && m.session.ID != sessionID {
		m.mu.Unlock()
		log.Debug().Str("sessionId", sessionID).Msg("ignoring end signal for another session")
		return
	}
	if m.state == StateEnded {
		m.mu.Unlock()
		return
	}
	m.state = StateEnded
	if m.session != nil {
		s := *m.session
		s.Status = model.SessionStatusEnded
		m.session = &s
	}
	m.activeSession = nil
	m.callSession = nil
	m.mu.Unlock()

	log.Info().Str("sessionId", sessionID).Msg("session ended")
	m.notify(ctx, NoticeInfo, "Session Ended")
	m.changed(ctx)
}

// ClearSession drops every session reference and returns to IDLE.
func (m *Machine) ClearSession(ctx context.Context) {
	m.mu.Lock()
	m.resetLocked()
	m.mu.Unlock()
	m.changed(ctx)
}

func (m *Machine) resetLocked() {
	m.state = StateIdle
	m.session = nil
	m.activeSession = nil
	m.callSession = nil
	m.otherParty = nil
}

// SetOnline toggles the provider's availability, reverting when the backend
// rejects it.
func (m *Machine) SetOnline(ctx context.Context, online bool) error {
	m.mu.Lock()
	prev := m.online
	m.online = online
	m.mu.Unlock()
	m.changed(ctx)

	if err := m.api.SetOnline(ctx, online); err != nil {
		m.mu.Lock()
		m.online = prev
		m.mu.Unlock()
		m.changed(ctx)
		log.Warn().Err(err).Bool("online", online).Msg("online toggle rolled back")
		return requestError(err)
	}
	return nil
}

// AnnounceActive tells the broker this user is present so it can replay
// session state.
func (m *Machine) AnnounceActive() error {
	body, _ := json.Marshal(map[string]string{"astrologerId": m.identity.UserID})
	return m.pub.Send(topic.SessionActive, nil, body)
}

// RequestPresence asks the broker for a presence snapshot.
func (m *Machine) RequestPresence() error {
	return m.pub.Send(topic.OnlineUser, nil, nil)
}

// RefreshBalance reloads the wallet balance.
func (m *Machine) RefreshBalance(ctx context.Context) error {
	balance, err := m.api.Balance(ctx)
	if err != nil {
		return requestError(err)
	}
	m.mu.Lock()
	m.balance = balance
	m.mu.Unlock()
	m.changed(ctx)
	return nil
}

// Handle applies a routed event. Events on distinct topics may arrive in any
// order, so each case only moves the lifecycle forward.
func (m *Machine) Handle(ctx context.Context, ev events.Event) {
	switch e := ev.(type) {
	case events.QueueUpdated:
		if e.Msg != "" {
			m.notify(ctx, NoticeSuccess, e.Msg)
		}
		if m.identity.IsProvider() {
			m.queueSync.Trigger()
		}

	case events.RequestAccepted:
		m.applyAccepted(ctx, e.Session)

	case events.CallSessionReady:
		call := e.Call
		m.mu.Lock()
		m.callSession = &call
		m.mu.Unlock()
		m.changed(ctx)
		m.refreshBalanceAsync(ctx)

	case events.PresenceChanged:
		m.presence.Set(e.AstrologerID, e.Online)
		m.changed(ctx)

	case events.PresenceSnapshot:
		m.presence.Replace(e.IDs)
		m.changed(ctx)

	case events.SessionUpdated:
		m.applyStatus(ctx, e.SessionID, e.Status)

	case events.SessionEnded:
		m.EndSession(ctx, e.SessionID)
	}
}

func (m *Machine) applyAccepted(ctx context.Context, s model.Session) {
	if status, ok := model.ParseSessionStatus(string(s.Status)); ok {
		s.Status = status
	}
	if s.Status == "" || s.Status.Rank() < model.SessionStatusActive.Rank() {
		s.Status = model.SessionStatusActive
	}
	if s.StartedAt == nil {
		now := time.Now().UTC()
		s.StartedAt = &now
	}

	m.mu.Lock()
	if m.state == StateEnded && (m.session == nil || m.session.ID != s.ID) {
		m.resetLocked()
	}
	if !m.state.CanAdvance(StateActive) && m.state != StateActive {
		m.mu.Unlock()
		log.Debug().Str("sessionId", s.ID).Msg("ignoring accept for ended session")
		return
	}
	m.state = StateActive
	m.session = &s
	active := s
	m.activeSession = &active
	if cp := s.Counterpart(m.identity.UserID); cp != nil {
		m.otherParty = cp
	}
	m.mu.Unlock()

	log.Info().Str("sessionId", s.ID).Msg("session accepted")

	msg := "Request accepted by the astrologer"
	if m.identity.IsProvider() {
		msg = "Session will start soon"
	}
	m.notify(ctx, NoticeInfo, msg)
	m.changed(ctx)
	m.refreshBalanceAsync(ctx)
}

func (m *Machine) applyStatus(ctx context.Context, sessionID string, status model.SessionStatus) {
	if status == model.SessionStatusEnded {
		m.EndSession(ctx, sessionID)
		return
	}

	m.mu.Lock()
	if m.session == nil || (sessionID != "" && m.session.ID != "" && m.session.ID != sessionID) {
		m.mu.Unlock()
		return
	}
	if status.Rank() <= m.session.Status.Rank() {
		m.mu.Unlock()
		log.Debug().
			Str("sessionId", sessionID).
			Str("status", string(status)).
			Msg("ignoring stale session status")
		return
	}
	s := *m.session
	s.Status = status
	if sessionID != "" {
		s.ID = sessionID
	}
	m.session = &s
	if to := stateForStatus(status); m.state.CanAdvance(to) {
		m.state = to
	}
	if m.state == StateActive {
		active := s
		m.activeSession = &active
	}
	m.mu.Unlock()

	m.changed(ctx)
}

// balance refresh must not hold up the bus read goroutine
func (m *Machine) refreshBalanceAsync(ctx context.Context) {
	go func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), config.EventApplyTimeout)
		defer cancel()
		if err := m.RefreshBalance(ctx); err != nil {
			log.Warn().Err(err).Msg("balance refresh failed")
		}
	}()
}

// View returns a copy of the current state.
func (m *Machine) View() View {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries := m.queue.Entries()
	v := View{
		UserID:       m.identity.UserID,
		Role:         m.identity.Role,
		State:        m.state,
		Connected:    m.pub.IsConnected(),
		FreeChatUsed: m.freeChatUsed,
		Balance:      m.balance,
		Online:       m.online,
		Queue:        entries,
		QueueCount:   len(entries),
		Presence:     m.presence.IDs(),
	}
	if m.session != nil {
		s := *m.session
		v.Session = &s
	}
	if m.activeSession != nil {
		s := *m.activeSession
		v.ActiveSession = &s
	}
	if m.callSession != nil {
		c := *m.callSession
		v.CallSession = &c
	}
	if m.otherParty != nil {
		p := *m.otherParty
		v.OtherParty = &p
	}
	return v
}

// Snapshot returns the whitelisted persisted slice of state.
func (m *Machine) Snapshot() model.StateSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := model.StateSnapshot{
		UserID:       m.identity.UserID,
		Token:        m.identity.Token,
		Role:         m.identity.Role,
		FreeChatUsed: m.freeChatUsed,
		Balance:      m.balance,
	}
	if m.activeSession != nil {
		s := *m.activeSession
		snap.ActiveSession = &s
	}
	if m.otherParty != nil {
		p := *m.otherParty
		snap.OtherParty = &p
	}
	return snap
}

// OtherParty returns the counterpart of the current session, if any.
func (m *Machine) OtherParty() *model.Participant {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.otherParty == nil {
		return nil
	}
	p := *m.otherParty
	return &p
}

// Notify surfaces a notice to the UI.
func (m *Machine) Notify(ctx context.Context, level NoticeLevel, message string) {
	m.notify(ctx, level, message)
}

func (m *Machine) notify(ctx context.Context, level NoticeLevel, message string) {
	if m.emit == nil {
		return
	}
	m.emit.Emit(ctx, EventNotice, Notice{Level: level, Message: message})
}

func (m *Machine) changed(ctx context.Context) {
	if m.emit != nil {
		m.emit.Emit(ctx, EventState, m.View())
	}
	if m.persist != nil {
		m.saver.Trigger()
	}
}

// save writes the latest snapshot. Bursts of changes collapse into one write.
func (m *Machine) save() {
	ctx, cancel := context.WithTimeout(context.Background(), config.StateSaveTimeout)
	defer cancel()
	if err := m.persist.Save(ctx, m.Snapshot()); err != nil {
		log.Warn().Err(err).Msg("failed to persist session state")
	}
}

func (m *Machine) syncQueue() {
	ctx, cancel := context.WithTimeout(context.Background(), config.EventApplyTimeout)
	defer cancel()
	if err := m.RefreshQueue(ctx); err != nil {
		log.Warn().Err(err).Msg("queue refresh failed")
	}
}

// requestError keeps typed errors and wraps everything else as REQUEST_FAILED.
func requestError(err error) error {
	if apperrors.IsAppError(err) {
		return err
	}
	msg := strings.TrimSpace(err.Error())
	return apperrors.RequestFailed(msg).WithCause(err)
}
