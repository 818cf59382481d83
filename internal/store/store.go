// Package store holds the authoritative in-memory model of the user's
// conversations and the reducer that is its only writer.
package store

import (
	"sort"
	"sync"

	"github.com/campuslink/chat-sync/internal/model"
	"github.com/campuslink/chat-sync/pkg/metrics"
)

// conversation is the per-partner aggregate: summary, ordered message log and
// the set of message ids already applied.
type conversation struct {
	summary model.Conversation
	log     []model.Message
	seen    map[int64]struct{}
}

// Store maps partner identity to conversation state. All writes go through
// the Reducer on the session's single owner goroutine; reads return copies.
type Store struct {
	mu sync.RWMutex

	selfID        int64
	conversations map[int64]*conversation
	partners      map[int64]model.ChatPartner
	openPartner   int64 // 0 means no conversation is open
	connState     model.ConnectionState
}

// New creates an empty store for the given user.
func New(selfID int64) *Store {
	return &Store{
		selfID:        selfID,
		conversations: make(map[int64]*conversation),
		partners:      make(map[int64]model.ChatPartner),
	}
}

// SelfID returns the current user's id.
func (s *Store) SelfID() int64 {
	return s.selfID
}

// Conversations returns summaries ordered most-recently-active first.
// Conversations without any preview sort last, by partner id.
func (s *Store) Conversations() []model.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Conversation, 0, len(s.conversations))
	for _, c := range s.conversations {
		out = append(out, c.summary)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].LastMessage, out[j].LastMessage
		switch {
		case a != nil && b != nil:
			if !a.CreatedAt.Equal(b.CreatedAt) {
				return a.CreatedAt.After(b.CreatedAt)
			}
			return out[i].PartnerID < out[j].PartnerID
		case a != nil:
			return true
		case b != nil:
			return false
		default:
			return out[i].PartnerID < out[j].PartnerID
		}
	})
	return out
}

// Conversation returns one summary and whether it exists.
func (s *Store) Conversation(partnerID int64) (model.Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conversations[partnerID]
	if !ok {
		return model.Conversation{}, false
	}
	return c.summary, true
}

// Messages returns a copy of one conversation's ordered log.
func (s *Store) Messages(partnerID int64) []model.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conversations[partnerID]
	if !ok {
		return nil
	}
	out := make([]model.Message, len(c.log))
	copy(out, c.log)
	return out
}

// Partners returns the known universe of eligible chat partners.
func (s *Store) Partners() []model.ChatPartner {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.ChatPartner, 0, len(s.partners))
	for _, p := range s.partners {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// OpenPartner returns the currently open conversation's partner id, or 0.
func (s *Store) OpenPartner() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.openPartner
}

// ConnectionState returns the realtime channel's visible state.
func (s *Store) ConnectionState() model.ConnectionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connState
}

// ensure returns the conversation for a partner, creating it implicitly the
// first time any message involving that partner is observed.
func (s *Store) ensure(partnerID int64) *conversation {
	c, ok := s.conversations[partnerID]
	if !ok {
		c = &conversation{
			summary: model.Conversation{PartnerID: partnerID},
			seen:    make(map[int64]struct{}),
		}
		if p, known := s.partners[partnerID]; known {
			c.summary.PartnerName = p.Name
			c.summary.PartnerRole = p.Role
		}
		s.conversations[partnerID] = c
	}
	return c
}

// insert adds a message in created-at order, id as tiebreak. Returns false
// when the id was already applied (redelivery is a silent no-op).
func (c *conversation) insert(m model.Message) bool {
	if _, dup := c.seen[m.ID]; dup {
		return false
	}
	c.seen[m.ID] = struct{}{}

	i := sort.Search(len(c.log), func(i int) bool {
		if !c.log[i].CreatedAt.Equal(m.CreatedAt) {
			return c.log[i].CreatedAt.After(m.CreatedAt)
		}
		return c.log[i].ID > m.ID
	})
	c.log = append(c.log, model.Message{})
	copy(c.log[i+1:], c.log[i:])
	c.log[i] = m
	return true
}

// refreshPreview updates the summary preview if m is newer than what is
// stored. The preview may run ahead of a closed conversation's fetched log.
func (c *conversation) refreshPreview(m model.Message, fromSelf bool) {
	prev := c.summary.LastMessage
	if prev != nil && prev.CreatedAt.After(m.CreatedAt) {
		return
	}
	c.summary.LastMessage = &model.MessagePreview{
		Body:      m.Body,
		CreatedAt: m.CreatedAt,
		FromSelf:  fromSelf,
	}
}

func (s *Store) updateUnreadMetric() {
	total := 0
	for _, c := range s.conversations {
		total += c.summary.UnreadCount
	}
	metrics.UnreadTotal.Set(float64(total))
}
