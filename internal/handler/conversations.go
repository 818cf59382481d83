// Package handler provides the sidecar's local HTTP API over the synced
// conversation store.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/campuslink/chat-sync/internal/directory"
	"github.com/campuslink/chat-sync/internal/identity"
	"github.com/campuslink/chat-sync/internal/model"
	"github.com/campuslink/chat-sync/internal/session"
	"github.com/campuslink/chat-sync/internal/store"
	"github.com/campuslink/chat-sync/internal/transport"
	"github.com/campuslink/chat-sync/pkg/logger"
)

// Syncer is the slice of the session the handlers need.
type Syncer interface {
	Store() *store.Store
	Identity() identity.Identity
	Open(ctx context.Context, partnerID int64) error
	CloseConversation() error
	Send(ctx context.Context, receiverID int64, body string) (model.Message, error)
	Refresh(ctx context.Context) error
}

// ConversationHandler exposes the synced store over HTTP.
type ConversationHandler struct {
	sync   Syncer
	logger *logger.Logger
}

// NewConversationHandler creates a new conversation handler.
func NewConversationHandler(sync Syncer, log *logger.Logger) *ConversationHandler {
	return &ConversationHandler{
		sync:   sync,
		logger: log,
	}
}

// SendRequest is the body for POST .../messages.
type SendRequest struct {
	Body string `json:"message"`
}

// StatusResponse is the body for GET /status.
type StatusResponse struct {
	UserID    int64                 `json:"user_id"`
	UserName  string                `json:"user_name"`
	Role      model.Role            `json:"role"`
	Dashboard string                `json:"dashboard"`
	Channel   model.ConnectionState `json:"channel"`
}

// Status handles GET /api/v1/status
func (h *ConversationHandler) Status(w http.ResponseWriter, r *http.Request) {
	self := h.sync.Identity()
	writeJSON(w, http.StatusOK, StatusResponse{
		UserID:    self.ID,
		UserName:  self.Name,
		Role:      self.Role,
		Dashboard: self.Role.DashboardPath(),
		Channel:   h.sync.Store().ConnectionState(),
	})
}

// List handles GET /api/v1/conversations
func (h *ConversationHandler) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.sync.Store().Conversations())
}

// Partners handles GET /api/v1/partners
func (h *ConversationHandler) Partners(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.sync.Store().Partners())
}

// Messages handles GET /api/v1/conversations/{id}/messages
func (h *ConversationHandler) Messages(w http.ResponseWriter, r *http.Request) {
	partnerID, ok := partnerParam(w, r)
	if !ok {
		return
	}
	msgs := h.sync.Store().Messages(partnerID)
	if msgs == nil {
		msgs = []model.Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

// Open handles POST /api/v1/conversations/{id}/open — makes the conversation
// active, seeds its history and runs the mark-read round.
func (h *ConversationHandler) Open(w http.ResponseWriter, r *http.Request) {
	partnerID, ok := partnerParam(w, r)
	if !ok {
		return
	}

	if err := h.sync.Open(r.Context(), partnerID); err != nil {
		h.writeSyncError(w, "open conversation", err)
		return
	}
	writeJSON(w, http.StatusOK, h.sync.Store().Messages(partnerID))
}

// Close handles POST /api/v1/conversations/close — clears the active
// selection.
func (h *ConversationHandler) Close(w http.ResponseWriter, r *http.Request) {
	if err := h.sync.CloseConversation(); err != nil {
		h.writeSyncError(w, "close conversation", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Send handles POST /api/v1/conversations/{id}/messages
func (h *ConversationHandler) Send(w http.ResponseWriter, r *http.Request) {
	partnerID, ok := partnerParam(w, r)
	if !ok {
		return
	}

	var req SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Body) == "" {
		writeError(w, http.StatusBadRequest, "message body is required")
		return
	}

	msg, err := h.sync.Send(r.Context(), partnerID, req.Body)
	if err != nil {
		h.writeSyncError(w, "send message", err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

// Refresh handles POST /api/v1/refresh — the explicit full resynchronization
// recovery path.
func (h *ConversationHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	if err := h.sync.Refresh(r.Context()); err != nil {
		h.writeSyncError(w, "refresh", err)
		return
	}
	writeJSON(w, http.StatusOK, h.sync.Store().Conversations())
}

func (h *ConversationHandler) writeSyncError(w http.ResponseWriter, op string, err error) {
	var dirErr *directory.Error
	switch {
	case errors.Is(err, transport.ErrNotConnected):
		writeError(w, http.StatusServiceUnavailable, "realtime channel not connected")
	case errors.Is(err, session.ErrSendTimeout):
		writeError(w, http.StatusGatewayTimeout, "message not acknowledged, try again")
	case errors.As(err, &dirErr) && dirErr.Kind == directory.KindUnauthorized:
		writeError(w, http.StatusUnauthorized, "upstream rejected credential")
	case errors.As(err, &dirErr):
		writeError(w, http.StatusBadGateway, "upstream unavailable, retry")
	default:
		writeError(w, http.StatusInternalServerError, "failed to "+op)
	}
}

func partnerParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := chi.URLParam(r, "id")
	partnerID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || partnerID <= 0 {
		writeError(w, http.StatusBadRequest, "invalid partner id")
		return 0, false
	}
	return partnerID, true
}
