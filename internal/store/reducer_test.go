package store

import (
	"math/rand"
	"testing"
	"time"

	"github.com/campuslink/chat-sync/internal/model"
	"github.com/campuslink/chat-sync/internal/transport"
	"github.com/campuslink/chat-sync/pkg/logger"
)

const selfID = int64(1)

func newTestReducer() (*Store, *Reducer) {
	s := New(selfID)
	return s, NewReducer(s, logger.NewNop())
}

func msg(id, sender, receiver int64, body string, at time.Time) model.Message {
	return model.Message{
		ID:         id,
		SenderID:   sender,
		ReceiverID: receiver,
		Body:       body,
		CreatedAt:  at,
	}
}

func newMessageEvent(m model.Message) transport.Event {
	return transport.Event{Type: transport.EventNewMessage, Message: &m}
}

func messageSentEvent(m model.Message) transport.Event {
	return transport.Event{Type: transport.EventMessageSent, Message: &m}
}

func TestIdempotentRedelivery(t *testing.T) {
	s, r := newTestReducer()
	base := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)

	m := msg(100, 2, selfID, "hello", base)
	r.Apply(newMessageEvent(m))
	r.Apply(newMessageEvent(m))
	r.Apply(messageSentEvent(m)) // same id redelivered under a different type
	r.Apply(newMessageEvent(m))

	log := s.Messages(2)
	if len(log) != 1 {
		t.Fatalf("expected exactly 1 entry, got %d", len(log))
	}
	if log[0].ID != 100 {
		t.Fatalf("unexpected message id %d", log[0].ID)
	}

	conv, ok := s.Conversation(2)
	if !ok {
		t.Fatal("conversation missing")
	}
	if conv.UnreadCount != 1 {
		t.Fatalf("redelivery must not bump unread: got %d", conv.UnreadCount)
	}
}

func TestOrderInvariance(t *testing.T) {
	base := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)
	msgs := []model.Message{
		msg(10, 2, selfID, "a", base),
		msg(11, selfID, 2, "b", base.Add(time.Second)),
		msg(12, 2, selfID, "c", base.Add(2*time.Second)),
		msg(13, 2, selfID, "d", base.Add(3*time.Second)),
		msg(14, selfID, 2, "e", base.Add(4*time.Second)),
	}

	rng := rand.New(rand.NewSource(7))
	for trial := 0; trial < 20; trial++ {
		s, r := newTestReducer()
		perm := rng.Perm(len(msgs))
		for _, i := range perm {
			m := msgs[i]
			if m.SenderID == selfID {
				r.Apply(messageSentEvent(m))
			} else {
				r.Apply(newMessageEvent(m))
			}
		}

		log := s.Messages(2)
		if len(log) != len(msgs) {
			t.Fatalf("trial %d: expected %d entries, got %d", trial, len(msgs), len(log))
		}
		for i := 1; i < len(log); i++ {
			if log[i].CreatedAt.Before(log[i-1].CreatedAt) {
				t.Fatalf("trial %d: log not sorted at %d: %v after %v",
					trial, i, log[i].CreatedAt, log[i-1].CreatedAt)
			}
		}
		conv, _ := s.Conversation(2)
		if conv.LastMessage == nil || conv.LastMessage.Body != "e" {
			t.Fatalf("trial %d: preview must reflect newest message, got %+v", trial, conv.LastMessage)
		}
	}
}

func TestUnreadCounting(t *testing.T) {
	s, r := newTestReducer()
	base := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)

	// Inbound while conversation closed: increments.
	r.Apply(newMessageEvent(msg(1, 2, selfID, "a", base)))
	r.Apply(newMessageEvent(msg(2, 2, selfID, "b", base.Add(time.Second))))
	conv, _ := s.Conversation(2)
	if conv.UnreadCount != 2 {
		t.Fatalf("expected unread=2, got %d", conv.UnreadCount)
	}

	// Own outgoing echo never increments.
	r.Apply(messageSentEvent(msg(3, selfID, 2, "c", base.Add(2*time.Second))))
	conv, _ = s.Conversation(2)
	if conv.UnreadCount != 2 {
		t.Fatalf("message_sent bumped unread: got %d", conv.UnreadCount)
	}

	// Explicit mark-read completion is the only decrement.
	r.MarkConversationRead(2)
	conv, _ = s.Conversation(2)
	if conv.UnreadCount != 0 {
		t.Fatalf("expected unread=0 after mark-read, got %d", conv.UnreadCount)
	}
}

func TestMarkReadTriggerOnOpenConversation(t *testing.T) {
	s, r := newTestReducer()
	base := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)

	var triggered []int64
	r.OnOpenInbound(func(partnerID int64) {
		triggered = append(triggered, partnerID)
		r.MarkConversationRead(partnerID)
	})

	r.SetOpen(2)
	r.Apply(newMessageEvent(msg(100, 2, selfID, "hi", base)))

	if len(triggered) != 1 || triggered[0] != 2 {
		t.Fatalf("expected mark-read trigger for partner 2, got %v", triggered)
	}
	if log := s.Messages(2); len(log) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(log))
	}
	conv, _ := s.Conversation(2)
	if conv.UnreadCount != 0 {
		t.Fatalf("open conversation should end at unread=0, got %d", conv.UnreadCount)
	}

	// A message for a different, closed conversation must not trigger.
	r.Apply(newMessageEvent(msg(101, 3, selfID, "yo", base.Add(time.Second))))
	if len(triggered) != 1 {
		t.Fatalf("closed conversation triggered mark-read: %v", triggered)
	}
	conv, _ = s.Conversation(3)
	if conv.UnreadCount != 1 {
		t.Fatalf("expected unread=1 for closed conversation, got %d", conv.UnreadCount)
	}
}

func TestReadReceiptScoping(t *testing.T) {
	s, r := newTestReducer()
	base := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)

	r.Apply(messageSentEvent(msg(1, selfID, 2, "to partner 2", base)))
	r.Apply(messageSentEvent(msg(2, selfID, 3, "to partner 3", base.Add(time.Second))))
	r.Apply(newMessageEvent(msg(3, 2, selfID, "from partner 2", base.Add(2*time.Second))))

	r.Apply(transport.Event{Type: transport.EventMessagesRead, ReaderID: 2})

	for _, m := range s.Messages(2) {
		if m.SenderID == selfID {
			if !m.IsRead || m.ReadAt == nil {
				t.Fatalf("own message to reader 2 not flipped: %+v", m)
			}
		} else if m.IsRead {
			t.Fatalf("partner's own message must not flip: %+v", m)
		}
	}
	for _, m := range s.Messages(3) {
		if m.IsRead {
			t.Fatalf("message to other partner flipped: %+v", m)
		}
	}
}

func TestReadReceiptIdempotent(t *testing.T) {
	s, r := newTestReducer()
	base := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)

	fixed := base.Add(time.Hour)
	r.now = func() time.Time { return fixed }

	r.Apply(messageSentEvent(msg(1, selfID, 2, "x", base)))
	r.Apply(transport.Event{Type: transport.EventMessagesRead, ReaderID: 2})

	first := s.Messages(2)[0].ReadAt
	if first == nil || !first.Equal(fixed) {
		t.Fatalf("expected read-at %v, got %v", fixed, first)
	}

	r.now = func() time.Time { return fixed.Add(time.Hour) }
	r.Apply(transport.Event{Type: transport.EventMessagesRead, ReaderID: 2})

	second := s.Messages(2)[0].ReadAt
	if !second.Equal(fixed) {
		t.Fatalf("read-at moved on redelivered receipt: %v", second)
	}
}

func TestImplicitConversationFromUnknownPartner(t *testing.T) {
	s, r := newTestReducer()
	base := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)

	r.Apply(newMessageEvent(msg(100, 9, selfID, "first contact", base)))

	conv, ok := s.Conversation(9)
	if !ok {
		t.Fatal("conversation not created implicitly")
	}
	if conv.UnreadCount != 1 {
		t.Fatalf("expected unread=1, got %d", conv.UnreadCount)
	}
	if conv.LastMessage == nil || conv.LastMessage.Body != "first contact" {
		t.Fatalf("preview missing: %+v", conv.LastMessage)
	}

	// A later partner-directory seed backfills the display name.
	r.SeedPartners([]model.ChatPartner{{ID: 9, Name: "New Recruiter", Role: model.RoleCompany}})
	conv, _ = s.Conversation(9)
	if conv.PartnerName != "New Recruiter" || conv.PartnerRole != model.RoleCompany {
		t.Fatalf("partner seed did not backfill: %+v", conv)
	}
}

func TestSeedHistoryRacingLiveEvents(t *testing.T) {
	s, r := newTestReducer()
	base := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)

	// A live event lands before the history fetch completes.
	r.Apply(newMessageEvent(msg(3, 2, selfID, "live", base.Add(2*time.Second))))

	r.SeedHistory(2, []model.Message{
		msg(1, 2, selfID, "old", base),
		msg(2, selfID, 2, "older reply", base.Add(time.Second)),
		msg(3, 2, selfID, "live", base.Add(2*time.Second)), // overlaps the live event
	})

	log := s.Messages(2)
	if len(log) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(log))
	}
	if log[0].ID != 1 || log[1].ID != 2 || log[2].ID != 3 {
		t.Fatalf("unexpected order: %v %v %v", log[0].ID, log[1].ID, log[2].ID)
	}
}

func TestSeedConversationsReplacesSummaries(t *testing.T) {
	s, r := newTestReducer()

	r.SeedConversations([]model.Conversation{
		{PartnerID: 2, PartnerName: "Acme", PartnerRole: model.RoleCompany, UnreadCount: 4},
		{PartnerID: 5, PartnerName: "Priya", PartnerRole: model.RoleStudent, UnreadCount: 0},
	})

	convs := s.Conversations()
	if len(convs) != 2 {
		t.Fatalf("expected 2 conversations, got %d", len(convs))
	}
	conv, _ := s.Conversation(2)
	if conv.UnreadCount != 4 || conv.PartnerName != "Acme" {
		t.Fatalf("unexpected summary: %+v", conv)
	}
}

func TestPreviewAheadOfClosedLog(t *testing.T) {
	s, r := newTestReducer()
	base := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)
	newer := base.Add(time.Hour)

	// Summary arrives with a preview newer than anything in the fetched log.
	r.SeedConversations([]model.Conversation{{
		PartnerID:   2,
		PartnerName: "Acme",
		LastMessage: &model.MessagePreview{Body: "newest", CreatedAt: newer},
	}})
	r.SeedHistory(2, []model.Message{msg(1, 2, selfID, "old", base)})

	conv, _ := s.Conversation(2)
	if conv.LastMessage == nil || conv.LastMessage.Body != "newest" {
		t.Fatalf("history seed regressed the preview: %+v", conv.LastMessage)
	}
}

func TestConnectivityEvents(t *testing.T) {
	s, r := newTestReducer()

	r.Apply(transport.Event{Type: transport.EventConnect})
	if st := s.ConnectionState(); !st.Connected || st.LastError != "" {
		t.Fatalf("unexpected state after connect: %+v", st)
	}

	r.Apply(transport.Event{Type: transport.EventError, ErrMessage: "malformed payload"})
	if st := s.ConnectionState(); !st.Connected || st.LastError != "malformed payload" {
		t.Fatalf("channel error must be ambient, not a disconnect: %+v", st)
	}

	// Conversation data is untouched by channel errors.
	if len(s.Conversations()) != 0 {
		t.Fatal("channel error altered conversation data")
	}

	r.Apply(transport.Event{Type: transport.EventDisconnect, ErrMessage: "gone"})
	if st := s.ConnectionState(); st.Connected || st.LastError != "gone" {
		t.Fatalf("unexpected state after disconnect: %+v", st)
	}
}

func TestConversationOrdering(t *testing.T) {
	s, r := newTestReducer()
	base := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)

	r.Apply(newMessageEvent(msg(1, 2, selfID, "older", base)))
	r.Apply(newMessageEvent(msg(2, 3, selfID, "newer", base.Add(time.Minute))))
	r.SeedConversations([]model.Conversation{{PartnerID: 4, PartnerName: "No Preview"}})

	convs := s.Conversations()
	if len(convs) != 3 {
		t.Fatalf("expected 3 conversations, got %d", len(convs))
	}
	if convs[0].PartnerID != 3 || convs[1].PartnerID != 2 || convs[2].PartnerID != 4 {
		t.Fatalf("unexpected order: %d, %d, %d", convs[0].PartnerID, convs[1].PartnerID, convs[2].PartnerID)
	}
}
