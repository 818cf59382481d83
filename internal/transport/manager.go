package transport

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/campuslink/chat-sync/pkg/logger"
	"github.com/campuslink/chat-sync/pkg/metrics"
)

var (
	// ErrNotConnected is returned when an outbound call is made while the
	// channel is down. No optimistic local state is ever created for it.
	ErrNotConnected = errors.New("realtime channel not connected")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("realtime channel closed")
	// ErrOutboundFull is returned when the outbound queue is saturated.
	ErrOutboundFull = errors.New("outbound queue full")
)

// Options configures the connection manager.
type Options struct {
	URL   string
	Token string

	ReconnectInitialWait time.Duration
	ReconnectMaxWait     time.Duration
	// ReconnectMaxElapsed bounds transparent reconnection. When the budget
	// is exhausted a terminal disconnect event is emitted.
	ReconnectMaxElapsed time.Duration
}

// Manager owns exactly one live, authenticated websocket channel per
// session. It is constructed explicitly and passed by reference; there is no
// package-level connection.
type Manager struct {
	opts   Options
	dialer *websocket.Dialer
	log    *logger.Logger

	events   chan Event
	outbound chan []byte

	mu     sync.Mutex
	conn   *websocket.Conn
	stop   chan struct{} // closed when the current connection dies
	closed bool
}

// NewManager creates a connection manager. The channel is not opened until
// Connect is called.
func NewManager(opts Options, log *logger.Logger) *Manager {
	if opts.ReconnectInitialWait <= 0 {
		opts.ReconnectInitialWait = time.Second
	}
	if opts.ReconnectMaxWait <= 0 {
		opts.ReconnectMaxWait = 30 * time.Second
	}
	if opts.ReconnectMaxElapsed <= 0 {
		opts.ReconnectMaxElapsed = 5 * time.Minute
	}
	return &Manager{
		opts:     opts,
		dialer:   &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		log:      log,
		events:   make(chan Event, 64),
		outbound: make(chan []byte, 64),
	}
}

// Events is the inbound event stream. Connectivity transitions appear here
// alongside server events; transparent reconnects do not.
func (m *Manager) Events() <-chan Event {
	return m.events
}

// Connect opens the channel, attaching the credential at handshake time.
// Idempotent: if a live channel exists this is a no-op.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.conn != nil {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	conn, _, err := m.dial(ctx)
	if err != nil {
		return err
	}

	m.attach(conn)
	m.emit(Event{Type: EventConnect})
	return nil
}

// IsConnected reports whether a live channel exists right now.
func (m *Manager) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn != nil
}

// SendMessage emits an outbound send_message frame. Fire-and-forget: the
// only acknowledgement is the corresponding message_sent event. Returns the
// frame's correlation id so channel errors can be attributed to it.
func (m *Manager) SendMessage(receiverID int64, body string) (string, error) {
	correlationID := uuid.NewString()
	frame, err := encodePayload(EventSendMessage, correlationID, SendMessagePayload{
		ReceiverID: receiverID,
		Body:       body,
	})
	if err != nil {
		return "", err
	}
	if err := m.send(frame); err != nil {
		return "", err
	}
	return correlationID, nil
}

// MarkRead emits an outbound mark_read frame for one partner.
func (m *Manager) MarkRead(partnerID int64) error {
	frame, err := encodePayload(EventMarkRead, uuid.NewString(), MarkReadPayload{
		PartnerID: partnerID,
	})
	if err != nil {
		return err
	}
	return m.send(frame)
}

// Close tears the channel down permanently.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	conn := m.conn
	m.conn = nil
	if m.stop != nil {
		close(m.stop)
		m.stop = nil
	}
	m.mu.Unlock()

	metrics.ConnectionUp.Set(0)

	// The write pump may still hold the connection; closing it directly is
	// the only safe way to stop both pumps.
	if conn != nil {
		conn.Close()
	}
}

func (m *Manager) send(frame []byte) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.conn == nil {
		m.mu.Unlock()
		return ErrNotConnected
	}
	m.mu.Unlock()

	select {
	case m.outbound <- frame:
		return nil
	default:
		return ErrOutboundFull
	}
}

func (m *Manager) dial(ctx context.Context) (*websocket.Conn, *http.Response, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+m.opts.Token)
	return m.dialer.DialContext(ctx, m.opts.URL, header)
}

// attach installs a live connection and starts its pumps.
func (m *Manager) attach(conn *websocket.Conn) {
	stop := make(chan struct{})

	m.mu.Lock()
	m.conn = conn
	m.stop = stop
	m.mu.Unlock()

	metrics.ConnectionUp.Set(1)

	go m.writePump(conn, stop)
	go m.readPump(conn)
}

// detach clears the current connection. Returns false if the manager was
// already closed or the connection had already been replaced.
func (m *Manager) detach(conn *websocket.Conn) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || m.conn != conn {
		return false
	}
	m.conn = nil
	if m.stop != nil {
		close(m.stop)
		m.stop = nil
	}
	metrics.ConnectionUp.Set(0)
	return true
}

func (m *Manager) readPump(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			conn.Close()
			if m.detach(conn) {
				m.reconnect(err)
			}
			return
		}

		ev, err := DecodeEvent(data)
		if err != nil {
			m.log.Warn("dropping malformed inbound frame", zap.Error(err))
			continue
		}
		m.emit(ev)
	}
}

func (m *Manager) writePump(conn *websocket.Conn, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case frame := <-m.outbound:
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				m.log.Warn("websocket write failed", zap.Error(err))
				conn.Close()
				if m.detach(conn) {
					go m.reconnect(err)
				}
				return
			}
		}
	}
}

// reconnect re-dials with exponential backoff. Subscribers are not notified
// of disconnects that self-heal; only exhaustion of the backoff budget
// surfaces as a terminal disconnect event.
func (m *Manager) reconnect(cause error) {
	m.log.Warn("realtime channel lost, reconnecting", zap.Error(cause))

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = m.opts.ReconnectInitialWait
	policy.MaxInterval = m.opts.ReconnectMaxWait
	policy.MaxElapsedTime = m.opts.ReconnectMaxElapsed

	err := backoff.Retry(func() error {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return backoff.Permanent(ErrClosed)
		}
		m.mu.Unlock()

		metrics.WebsocketReconnects.Inc()
		conn, _, err := m.dial(context.Background())
		if err != nil {
			return err
		}
		m.attach(conn)
		return nil
	}, policy)

	if err == nil {
		m.log.Info("realtime channel restored")
		return
	}
	if errors.Is(err, ErrClosed) {
		return
	}

	m.log.Error("realtime reconnection exhausted", zap.Error(err))
	m.emit(Event{Type: EventDisconnect, ErrMessage: err.Error()})
}

func (m *Manager) emit(ev Event) {
	select {
	case m.events <- ev:
	default:
		// The consumer loop has stalled badly; dropping the newest event is
		// preferable to blocking the read pump forever.
		m.log.Error("inbound event queue full, dropping event",
			zap.String("type", string(ev.Type)))
	}
}
