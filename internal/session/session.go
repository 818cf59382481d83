// Package session runs the single-owner synchronization loop that keeps the
// conversation store consistent across the REST snapshot and the realtime
// event stream, and coordinates read-receipt rounds.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/campuslink/chat-sync/internal/identity"
	"github.com/campuslink/chat-sync/internal/model"
	"github.com/campuslink/chat-sync/internal/store"
	"github.com/campuslink/chat-sync/internal/transport"
	"github.com/campuslink/chat-sync/pkg/logger"
	"github.com/campuslink/chat-sync/pkg/metrics"
)

var (
	// ErrSendTimeout is returned when no message_sent or error event arrives
	// for an outbound send within the acknowledgement deadline. The message
	// may still land later; the reducer's dedupe makes that safe.
	ErrSendTimeout = errors.New("send not acknowledged before deadline")
	// ErrClosed is returned for operations on a stopped session.
	ErrClosed = errors.New("session closed")
)

// Directory is the pull-based REST boundary the session seeds from.
type Directory interface {
	ListConversations(ctx context.Context) ([]model.Conversation, error)
	ListPartners(ctx context.Context) ([]model.ChatPartner, error)
	FetchHistory(ctx context.Context, partnerID int64) ([]model.Message, error)
}

// Channel is the realtime transport boundary.
type Channel interface {
	Connect(ctx context.Context) error
	Events() <-chan transport.Event
	SendMessage(receiverID int64, body string) (string, error)
	MarkRead(partnerID int64) error
	IsConnected() bool
	Close()
}

// Options configures a session.
type Options struct {
	// SendAckTimeout bounds the wait for a message_sent echo.
	SendAckTimeout time.Duration
}

// sendResult is delivered to a waiting Send caller.
type sendResult struct {
	msg model.Message
	err error
}

// sendWaiter tracks one in-flight outbound send until its echo arrives.
type sendWaiter struct {
	receiverID    int64
	correlationID string
	startedAt     time.Time
	ch            chan sendResult
}

// Session owns the store. One goroutine (run) consumes inbound events and
// posted commands serially; nothing else writes the store.
type Session struct {
	self    identity.Identity
	dir     Directory
	channel Channel
	store   *store.Store
	reducer *store.Reducer
	log     *logger.Logger
	opts    Options

	commands chan func()
	stopped  chan struct{}

	// pending is owned by the run goroutine; FIFO per arrival.
	pending []*sendWaiter
}

// New wires a session from its collaborators. Call Start to begin syncing.
func New(self identity.Identity, dir Directory, ch Channel, log *logger.Logger, opts Options) *Session {
	if opts.SendAckTimeout <= 0 {
		opts.SendAckTimeout = 10 * time.Second
	}
	st := store.New(self.ID)
	red := store.NewReducer(st, log)

	s := &Session{
		self:     self,
		dir:      dir,
		channel:  ch,
		store:    st,
		reducer:  red,
		log:      log,
		opts:     opts,
		commands: make(chan func(), 32),
		stopped:  make(chan struct{}),
	}

	// Mark-read round for an open conversation receiving inbound messages.
	// Runs on the owner goroutine during Apply, so touching the reducer
	// directly here keeps the single-writer discipline.
	red.OnOpenInbound(func(partnerID int64) {
		if err := s.channel.MarkRead(partnerID); err != nil {
			s.log.Warn("mark-read emit failed", zap.Int64("partner_id", partnerID), zap.Error(err))
		}
		s.reducer.MarkConversationRead(partnerID)
	})

	return s
}

// Store exposes the read side of the conversation model.
func (s *Session) Store() *store.Store {
	return s.store
}

// Identity returns the session's resolved user.
func (s *Session) Identity() identity.Identity {
	return s.self
}

// Start connects the realtime channel, begins the owner loop, and seeds the
// store from the directory. A seed failure is returned but leaves the loop
// running; the caller may Refresh later.
func (s *Session) Start(ctx context.Context) error {
	go s.run(ctx)

	if err := s.channel.Connect(ctx); err != nil {
		return fmt.Errorf("connect realtime channel: %w", err)
	}
	if err := s.Refresh(ctx); err != nil {
		return err
	}
	return nil
}

// run is the serialization point: every store mutation flows through here.
func (s *Session) run(ctx context.Context) {
	defer close(s.stopped)
	for {
		select {
		case <-ctx.Done():
			s.failPending(ErrClosed)
			return
		case ev := <-s.channel.Events():
			s.handleEvent(ev)
		case cmd := <-s.commands:
			cmd()
		}
	}
}

func (s *Session) handleEvent(ev transport.Event) {
	switch ev.Type {
	case transport.EventMessageSent:
		if ev.Message != nil && ev.Message.SenderID == s.self.ID {
			s.completeSend(*ev.Message)
		}
	case transport.EventError:
		// Channel errors are surfaced to the in-flight sender when the
		// correlation id matches; otherwise they stay ambient.
		if ev.CorrelationID != "" {
			s.failSend(ev.CorrelationID, fmt.Errorf("channel error: %s", ev.ErrMessage))
		} else {
			s.log.Warn("ambient channel error", zap.String("message", ev.ErrMessage))
		}
	case transport.EventDisconnect:
		s.failPending(transport.ErrNotConnected)
	}

	s.reducer.Apply(ev)
}

// post schedules fn on the owner goroutine and waits for it to run.
func (s *Session) post(fn func()) error {
	done := make(chan struct{})
	select {
	case s.commands <- func() { fn(); close(done) }:
	case <-s.stopped:
		return ErrClosed
	}
	select {
	case <-done:
		return nil
	case <-s.stopped:
		return ErrClosed
	}
}

// Refresh performs a full resynchronization from the directory: the explicit
// recovery path, not the default update mechanism. A failed fetch leaves the
// store unchanged.
func (s *Session) Refresh(ctx context.Context) error {
	convs, err := s.dir.ListConversations(ctx)
	if err != nil {
		return fmt.Errorf("list conversations: %w", err)
	}
	partners, err := s.dir.ListPartners(ctx)
	if err != nil {
		return fmt.Errorf("list partners: %w", err)
	}
	return s.post(func() {
		s.reducer.SeedConversations(convs)
		s.reducer.SeedPartners(partners)
	})
}

// Open makes a conversation the active one: seeds its log from the full
// history, emits mark_read for the partner, and locally zeroes the unread
// count. The fetch happens on the caller's goroutine; results are folded in
// through the owner loop.
func (s *Session) Open(ctx context.Context, partnerID int64) error {
	if err := s.post(func() { s.reducer.SetOpen(partnerID) }); err != nil {
		return err
	}

	history, err := s.dir.FetchHistory(ctx, partnerID)
	if err != nil {
		return fmt.Errorf("fetch history: %w", err)
	}

	return s.post(func() {
		s.reducer.SeedHistory(partnerID, history)
		if err := s.channel.MarkRead(partnerID); err != nil {
			s.log.Warn("mark-read emit failed", zap.Int64("partner_id", partnerID), zap.Error(err))
		}
		s.reducer.MarkConversationRead(partnerID)
	})
}

// CloseConversation clears the active selection. Inactive conversations keep
// receiving live events, so no further action is needed.
func (s *Session) CloseConversation() error {
	return s.post(func() { s.reducer.SetOpen(0) })
}

// Send emits a message to a receiver and waits, bounded by the ack deadline,
// for the server's message_sent echo. There is no optimistic local insert:
// the log changes only when the echo is folded in by the reducer.
func (s *Session) Send(ctx context.Context, receiverID int64, body string) (model.Message, error) {
	if !s.channel.IsConnected() {
		return model.Message{}, transport.ErrNotConnected
	}

	waiter := &sendWaiter{
		receiverID: receiverID,
		startedAt:  time.Now(),
		ch:         make(chan sendResult, 1),
	}

	// Register before emitting so an immediate echo cannot be missed.
	if err := s.post(func() { s.pending = append(s.pending, waiter) }); err != nil {
		return model.Message{}, err
	}

	correlationID, err := s.channel.SendMessage(receiverID, body)
	if err != nil {
		s.post(func() { s.removeWaiter(waiter) })
		return model.Message{}, err
	}
	s.post(func() { waiter.correlationID = correlationID })

	timer := time.NewTimer(s.opts.SendAckTimeout)
	defer timer.Stop()

	select {
	case res := <-waiter.ch:
		return res.msg, res.err
	case <-timer.C:
		s.post(func() { s.removeWaiter(waiter) })
		return model.Message{}, ErrSendTimeout
	case <-ctx.Done():
		s.post(func() { s.removeWaiter(waiter) })
		return model.Message{}, ctx.Err()
	}
}

// completeSend resolves the oldest pending send to the echoed receiver.
func (s *Session) completeSend(m model.Message) {
	for i, w := range s.pending {
		if w.receiverID == m.ReceiverID {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			metrics.SendAckLatency.Observe(time.Since(w.startedAt).Seconds())
			w.ch <- sendResult{msg: m}
			return
		}
	}
}

// failSend resolves the pending send with a matching correlation id.
func (s *Session) failSend(correlationID string, err error) {
	for i, w := range s.pending {
		if w.correlationID == correlationID {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			w.ch <- sendResult{err: err}
			return
		}
	}
	s.log.Warn("channel error for unknown correlation id",
		zap.String("correlation_id", correlationID), zap.Error(err))
}

func (s *Session) failPending(err error) {
	for _, w := range s.pending {
		w.ch <- sendResult{err: err}
	}
	s.pending = nil
}

func (s *Session) removeWaiter(target *sendWaiter) {
	for i, w := range s.pending {
		if w == target {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			return
		}
	}
}
