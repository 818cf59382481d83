package store

import (
	"time"

	"go.uber.org/zap"

	"github.com/campuslink/chat-sync/internal/model"
	"github.com/campuslink/chat-sync/internal/transport"
	"github.com/campuslink/chat-sync/pkg/logger"
	"github.com/campuslink/chat-sync/pkg/metrics"
)

// Reducer is the only writer of the Store. It is invoked serially from the
// session's owner goroutine, once per inbound event, and is deterministic
// and idempotent under redelivery.
type Reducer struct {
	store *Store
	log   *logger.Logger

	// onOpenInbound fires when a message addressed to the current user
	// arrives in the conversation that is currently open, so the read-receipt
	// coordinator can run its mark-read round.
	onOpenInbound func(partnerID int64)

	now func() time.Time
}

// NewReducer creates a reducer over the given store.
func NewReducer(s *Store, log *logger.Logger) *Reducer {
	return &Reducer{
		store: s,
		log:   log,
		now:   time.Now,
	}
}

// OnOpenInbound registers the mark-read trigger.
func (r *Reducer) OnOpenInbound(fn func(partnerID int64)) {
	r.onOpenInbound = fn
}

// Apply folds one inbound transport event into the store.
func (r *Reducer) Apply(ev transport.Event) {
	metrics.EventsApplied.WithLabelValues(string(ev.Type)).Inc()

	switch ev.Type {
	case transport.EventNewMessage:
		r.applyMessage(*ev.Message, true)
	case transport.EventMessageSent:
		r.applyMessage(*ev.Message, false)
	case transport.EventMessagesRead:
		r.applyMessagesRead(ev.ReaderID)
	case transport.EventError:
		r.applyChannelError(ev.ErrMessage)
	case transport.EventConnect:
		r.applyConnectivity(true, "")
	case transport.EventDisconnect:
		r.applyConnectivity(false, ev.ErrMessage)
	default:
		r.log.Warn("reducer ignoring unknown event", zap.String("type", string(ev.Type)))
	}
}

// applyMessage handles new_message and message_sent. Both share the dedupe
// and sorted-insert rule; only unsolicited inbound messages can raise the
// unread count.
func (r *Reducer) applyMessage(m model.Message, inbound bool) {
	s := r.store
	partnerID := m.PartnerID(s.selfID)
	toSelf := m.ReceiverID == s.selfID

	s.mu.Lock()
	c := s.ensure(partnerID)
	if !c.insert(m) {
		s.mu.Unlock()
		metrics.DuplicateEventsDropped.Inc()
		r.log.Debug("dropped redelivered message",
			zap.Int64("message_id", m.ID),
			zap.Int64("partner_id", partnerID))
		return
	}

	open := s.openPartner == partnerID
	if inbound && (!open || toSelf) {
		c.summary.UnreadCount++
	}
	c.refreshPreview(m, m.SentBy(s.selfID))
	s.updateUnreadMetric()
	s.mu.Unlock()

	if inbound && open && toSelf && r.onOpenInbound != nil {
		r.onOpenInbound(partnerID)
	}
}

// applyMessagesRead flips is-read on the current user's messages addressed
// to the reader. Messages to other partners are untouched; already-read
// messages keep their original read-at.
func (r *Reducer) applyMessagesRead(readerID int64) {
	s := r.store
	now := r.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.conversations[readerID]
	if !ok {
		return
	}
	for i := range c.log {
		m := &c.log[i]
		if m.SenderID == s.selfID && m.ReceiverID == readerID && !m.IsRead {
			m.IsRead = true
			t := now
			m.ReadAt = &t
		}
	}
}

func (r *Reducer) applyChannelError(message string) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connState.LastError = message
}

func (r *Reducer) applyConnectivity(connected bool, errMessage string) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connState = model.ConnectionState{Connected: connected, LastError: errMessage}
}

// SeedConversations folds a REST conversation snapshot into the store. The
// server-computed summaries replace local ones wholesale; message logs and
// dedupe sets survive. This is both initial load and the explicit full
// resynchronization recovery path.
func (r *Reducer) SeedConversations(convs []model.Conversation) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, conv := range convs {
		c := s.ensure(conv.PartnerID)
		c.summary = conv
	}
	s.updateUnreadMetric()
}

// SeedPartners records the universe of eligible chat partners and backfills
// names on conversations created implicitly from bare message events.
func (r *Reducer) SeedPartners(partners []model.ChatPartner) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range partners {
		s.partners[p.ID] = p
		if c, ok := s.conversations[p.ID]; ok && c.summary.PartnerName == "" {
			c.summary.PartnerName = p.Name
			c.summary.PartnerRole = p.Role
		}
	}
}

// SeedHistory folds a fetched message history into one conversation's log.
// Insertion shares the reducer's dedupe rule, so a history fetch racing with
// live events never produces duplicates.
func (r *Reducer) SeedHistory(partnerID int64, msgs []model.Message) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.ensure(partnerID)
	for _, m := range msgs {
		if c.insert(m) {
			c.refreshPreview(m, m.SentBy(s.selfID))
		}
	}
}

// SetOpen records which conversation the presentation layer has open.
// Zero clears the selection.
func (r *Reducer) SetOpen(partnerID int64) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()
	s.openPartner = partnerID
}

// MarkConversationRead locally zeroes one conversation's unread count after
// a mark-read round has been issued.
func (r *Reducer) MarkConversationRead(partnerID int64) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.conversations[partnerID]; ok {
		c.summary.UnreadCount = 0
	}
	s.updateUnreadMetric()
}
