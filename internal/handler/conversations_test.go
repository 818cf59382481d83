package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"

	"github.com/campuslink/chat-sync/internal/identity"
	"github.com/campuslink/chat-sync/internal/model"
	"github.com/campuslink/chat-sync/internal/store"
	"github.com/campuslink/chat-sync/internal/transport"
	"github.com/campuslink/chat-sync/pkg/logger"
)

// fakeSyncer backs the handlers with a real store and recorded calls.
type fakeSyncer struct {
	st      *store.Store
	red     *store.Reducer
	opened  []int64
	sends   []int64
	sendErr error
	openErr error
}

func newFakeSyncer() *fakeSyncer {
	st := store.New(1)
	return &fakeSyncer{st: st, red: store.NewReducer(st, logger.NewNop())}
}

func (f *fakeSyncer) Store() *store.Store { return f.st }

func (f *fakeSyncer) Identity() identity.Identity {
	return identity.Identity{ID: 1, Name: "Self", Role: model.RoleAdmin}
}

func (f *fakeSyncer) Open(ctx context.Context, partnerID int64) error {
	if f.openErr != nil {
		return f.openErr
	}
	f.opened = append(f.opened, partnerID)
	return nil
}

func (f *fakeSyncer) CloseConversation() error { return nil }

func (f *fakeSyncer) Send(ctx context.Context, receiverID int64, body string) (model.Message, error) {
	if f.sendErr != nil {
		return model.Message{}, f.sendErr
	}
	f.sends = append(f.sends, receiverID)
	return model.Message{ID: 99, SenderID: 1, ReceiverID: receiverID, Body: body}, nil
}

func (f *fakeSyncer) Refresh(ctx context.Context) error { return nil }

func newRouter(f *fakeSyncer) *chi.Mux {
	h := NewConversationHandler(f, logger.NewNop())
	r := chi.NewRouter()
	r.Get("/api/v1/status", h.Status)
	r.Get("/api/v1/partners", h.Partners)
	r.Get("/api/v1/conversations", h.List)
	r.Get("/api/v1/conversations/{id}/messages", h.Messages)
	r.Post("/api/v1/conversations/{id}/messages", h.Send)
	r.Post("/api/v1/conversations/{id}/open", h.Open)
	return r
}

func TestListConversations(t *testing.T) {
	f := newFakeSyncer()
	f.red.SeedConversations([]model.Conversation{
		{PartnerID: 2, PartnerName: "Acme", UnreadCount: 3},
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/conversations", nil)
	rec := httptest.NewRecorder()
	newRouter(f).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var convs []model.Conversation
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &convs))
	assert.Len(t, convs, 1)
	assert.Equal(t, int64(2), convs[0].PartnerID)
	assert.Equal(t, 3, convs[0].UnreadCount)
}

func TestMessagesEmptyLogIsArray(t *testing.T) {
	f := newFakeSyncer()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/conversations/5/messages", nil)
	rec := httptest.NewRecorder()
	newRouter(f).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]\n", rec.Body.String())
}

func TestMessagesBadPartnerID(t *testing.T) {
	f := newFakeSyncer()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/conversations/abc/messages", nil)
	rec := httptest.NewRecorder()
	newRouter(f).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSendMessage(t *testing.T) {
	f := newFakeSyncer()

	body := bytes.NewBufferString(`{"message":"hello"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/conversations/2/messages", body)
	rec := httptest.NewRecorder()
	newRouter(f).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, []int64{2}, f.sends)

	var msg model.Message
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &msg))
	assert.Equal(t, int64(99), msg.ID)
}

func TestSendEmptyBodyRejected(t *testing.T) {
	f := newFakeSyncer()

	body := bytes.NewBufferString(`{"message":"   "}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/conversations/2/messages", body)
	rec := httptest.NewRecorder()
	newRouter(f).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, f.sends)
}

func TestSendWhileDisconnected(t *testing.T) {
	f := newFakeSyncer()
	f.sendErr = transport.ErrNotConnected

	body := bytes.NewBufferString(`{"message":"hello"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/conversations/2/messages", body)
	rec := httptest.NewRecorder()
	newRouter(f).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestOpenConversation(t *testing.T) {
	f := newFakeSyncer()
	f.red.SeedHistory(2, []model.Message{
		{ID: 1, SenderID: 2, ReceiverID: 1, Body: "hi", CreatedAt: time.Now()},
	})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/conversations/2/open", nil)
	rec := httptest.NewRecorder()
	newRouter(f).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []int64{2}, f.opened)

	var msgs []model.Message
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &msgs))
	assert.Len(t, msgs, 1)
}

func TestStatus(t *testing.T) {
	f := newFakeSyncer()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	rec := httptest.NewRecorder()
	newRouter(f).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var status StatusResponse
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, int64(1), status.UserID)
	assert.Equal(t, model.RoleAdmin, status.Role)
	assert.Equal(t, "/admin", status.Dashboard)
}
