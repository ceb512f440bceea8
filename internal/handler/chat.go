package handler

import (
	"context"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/astrosevaa/sessiond/internal/audit"
	"github.com/astrosevaa/sessiond/internal/chat"
	apperrors "github.com/astrosevaa/sessiond/internal/errors"
	"github.com/astrosevaa/sessiond/internal/model"
)

// ChatChannels opens and looks up per-session chat channels.
type ChatChannels interface {
	Open(ctx context.Context, sessionID string, peer model.Participant) (*chat.Channel, error)
	Get(sessionID string) (*chat.Channel, error)
	Close(sessionID string) bool
}

// PeerSource supplies the counterpart of the current session.
type PeerSource interface {
	OtherParty() *model.Participant
}

// ArchiveReader reads the local chat archive.
type ArchiveReader interface {
	FindByKey(ctx context.Context, key string) (*model.ArchivedMessage, error)
	ListBySession(ctx context.Context, sessionID string, limit, offset int) ([]model.ArchivedMessage, error)
	CountBySession(ctx context.Context, sessionID string) (int, error)
}

type ChatHandler struct {
	channels ChatChannels
	peers    PeerSource
	archive  ArchiveReader
}

// NewChatHandler builds the chat routes. archive may be nil.
func NewChatHandler(channels ChatChannels, peers PeerSource, archive ArchiveReader) *ChatHandler {
	return &ChatHandler{
		channels: channels,
		peers:    peers,
		archive:  archive,
	}
}

func (h *ChatHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/{sessionId}/open", h.Open)
	r.Delete("/{sessionId}", h.Close)
	r.Post("/{sessionId}/typing", h.Typing)
	r.Post("/{sessionId}/messages", h.Send)
	r.Get("/{sessionId}/messages", h.Messages)
	r.Post("/{sessionId}/history", h.History)
	r.Get("/{sessionId}/archive", h.Archive)
	r.Get("/{sessionId}/archive/{messageKey}", h.ArchivedMessage)

	return r
}

type openRequest struct {
	Peer *model.Participant `json:"peer"`
}

type channelView struct {
	SessionID  string            `json:"sessionId"`
	Peer       model.Participant `json:"peer"`
	Messages   []model.Message   `json:"messages"`
	HasMore    bool              `json:"hasMore"`
	Timer      string            `json:"timer,omitempty"`
	PeerTyping bool              `json:"peerTyping"`
	Ended      bool              `json:"ended"`
}

func viewOf(ch *chat.Channel) channelView {
	msgs := ch.Messages()
	if msgs == nil {
		msgs = []model.Message{}
	}
	return channelView{
		SessionID:  ch.SessionID(),
		Peer:       ch.Peer(),
		Messages:   msgs,
		HasMore:    ch.HasMore(),
		Timer:      ch.Timer(),
		PeerTyping: ch.PeerTyping(),
		Ended:      ch.Ended(),
	}
}

// POST /v1/chat/{sessionId}/open
func (h *ChatHandler) Open(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")

	var req openRequest
	if err := decodeBody(r, &req, true); err != nil {
		writeError(w, err)
		return
	}

	peer := req.Peer
	if peer == nil && h.peers != nil {
		peer = h.peers.OtherParty()
	}
	if peer == nil {
		writeError(w, apperrors.MissingRequired("peer"))
		return
	}

	ch, err := h.channels.Open(r.Context(), sessionID, *peer)
	auditAction(r, audit.EventChatOpen, err, map[string]any{"sessionId": sessionID, "peerId": peer.ID})
	if err != nil {
		writeError(w, err)
		return
	}

	if len(ch.Messages()) == 0 {
		if _, err := ch.LoadPage(r.Context()); err != nil {
			log.Warn().Err(err).Str("sessionId", sessionID).Msg("failed to load first history page")
		}
	}

	writeJSON(w, http.StatusOK, viewOf(ch))
}

// DELETE /v1/chat/{sessionId}
func (h *ChatHandler) Close(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")
	if !h.channels.Close(sessionID) {
		writeError(w, apperrors.NotFound("Chat channel"))
		return
	}
	auditAction(r, audit.EventChatClose, nil, map[string]any{"sessionId": sessionID})
	w.WriteHeader(http.StatusNoContent)
}

// POST /v1/chat/{sessionId}/typing
func (h *ChatHandler) Typing(w http.ResponseWriter, r *http.Request) {
	ch, err := h.channels.Get(chi.URLParam(r, "sessionId"))
	if err != nil {
		writeError(w, err)
		return
	}

	if err := ch.Keystroke(); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

type sendRequest struct {
	Text     string `json:"text" validate:"required_without=ImageURI"`
	ImageURI string `json:"imageUri" validate:"omitempty,uri"`
}

// POST /v1/chat/{sessionId}/messages
func (h *ChatHandler) Send(w http.ResponseWriter, r *http.Request) {
	ch, err := h.channels.Get(chi.URLParam(r, "sessionId"))
	if err != nil {
		writeError(w, err)
		return
	}

	var req sendRequest
	if err := decodeBody(r, &req, false); err != nil {
		writeError(w, err)
		return
	}

	var msg *model.Message
	if req.ImageURI != "" {
		msg, err = ch.SendImage(r.Context(), req.ImageURI)
	} else {
		msg, err = ch.SendText(r.Context(), req.Text)
	}
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, msg)
}

// GET /v1/chat/{sessionId}/messages
func (h *ChatHandler) Messages(w http.ResponseWriter, r *http.Request) {
	ch, err := h.channels.Get(chi.URLParam(r, "sessionId"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(ch))
}

// POST /v1/chat/{sessionId}/history
func (h *ChatHandler) History(w http.ResponseWriter, r *http.Request) {
	ch, err := h.channels.Get(chi.URLParam(r, "sessionId"))
	if err != nil {
		writeError(w, err)
		return
	}

	added, err := ch.LoadPage(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"added":   added,
		"hasMore": ch.HasMore(),
	})
}

// GET /v1/chat/{sessionId}/archive
func (h *ChatHandler) Archive(w http.ResponseWriter, r *http.Request) {
	if h.archive == nil {
		writeError(w, apperrors.NotFound("Chat archive"))
		return
	}

	sessionID := chi.URLParam(r, "sessionId")
	params := ParsePagination(r)
	ctx := r.Context()

	msgs, err := h.archive.ListBySession(ctx, sessionID, params.Limit, params.Offset)
	if err != nil {
		log.Error().Err(err).Str("sessionId", sessionID).Msg("failed to list archived messages")
		writeError(w, apperrors.Database(err))
		return
	}

	total, err := h.archive.CountBySession(ctx, sessionID)
	if err != nil {
		log.Error().Err(err).Str("sessionId", sessionID).Msg("failed to count archived messages")
		writeError(w, apperrors.Database(err))
		return
	}

	if msgs == nil {
		msgs = []model.ArchivedMessage{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"messages": msgs,
		"total":    total,
		"limit":    params.Limit,
		"offset":   params.Offset,
	})
}

// ArchivedMessage returns one archived message of the session by its key.
func (h *ChatHandler) ArchivedMessage(w http.ResponseWriter, r *http.Request) {
	if h.archive == nil {
		writeError(w, apperrors.NotFound("Chat archive"))
		return
	}

	sessionID := chi.URLParam(r, "sessionId")
	key, err := url.PathUnescape(chi.URLParam(r, "messageKey"))
	if err != nil || key == "" {
		writeError(w, apperrors.ValidationError("invalid message key"))
		return
	}

	msg, err := h.archive.FindByKey(r.Context(), key)
	if err != nil {
		log.Error().Err(err).Str("sessionId", sessionID).Str("key", key).Msg("failed to load archived message")
		writeError(w, apperrors.Database(err))
		return
	}
	if msg == nil || msg.SessionID != sessionID {
		writeError(w, apperrors.NotFound("Archived message"))
		return
	}

	writeJSON(w, http.StatusOK, msg)
}
