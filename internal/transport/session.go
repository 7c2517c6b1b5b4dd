// Package transport owns one duplex WebSocket connection to the gateway:
// connect, disconnect, raw request send, and the read loop that feeds the
// event dispatcher.
package transport

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/mvaleev/reelchat/internal/dispatch"
	"github.com/mvaleev/reelchat/internal/protocol"
)

// defaultWriteTimeout bounds every Send so a dead connection cannot block the
// caller indefinitely.
const defaultWriteTimeout = 10 * time.Second

// Session is one client connection. Inbound events are decoded on a single
// read goroutine and dispatched synchronously, which preserves arrival order.
// The session does not auto-reconnect and does not replay unacknowledged
// sends; on unexpected loss it emits a disconnected event and a later
// Connect may establish a fresh connection.
type Session struct {
	url        string
	dispatcher *dispatch.Dispatcher
	logger     *slog.Logger

	mu   sync.Mutex
	conn *websocket.Conn

	writeTimeout time.Duration
}

// NewSession creates a session for the given WebSocket URL.
func NewSession(url string, dispatcher *dispatch.Dispatcher, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		url:          url,
		dispatcher:   dispatcher,
		logger:       logger,
		writeTimeout: defaultWriteTimeout,
	}
}

// Connect establishes the connection if none exists. It is idempotent and
// returns whether a usable connection now exists.
func (s *Session) Connect(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn != nil {
		return true
	}

	conn, _, err := websocket.Dial(ctx, s.url, nil)
	if err != nil {
		s.logger.Warn("connect failed", "url", s.url, "error", err)
		return false
	}
	s.conn = conn
	go s.readLoop(conn)
	s.logger.Info("connected", "url", s.url)
	return true
}

// Disconnect releases the connection. Safe to call when already disconnected.
func (s *Session) Disconnect() {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	if conn == nil {
		return
	}
	if err := conn.Close(websocket.StatusNormalClosure, "client disconnect"); err != nil {
		s.logger.Debug("close failed", "error", err)
	}
}

// Connected reports whether a connection is currently held.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// Send writes one request. Returns false when not connected or when the
// bounded write fails; the request is not queued for replay.
func (s *Session) Send(req protocol.Request) bool {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	if conn == nil {
		s.logger.Warn("send while disconnected", "kind", req.Kind)
		return false
	}

	data, err := req.Encode()
	if err != nil {
		s.logger.Error("encode request failed", "kind", req.Kind, "error", err)
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.writeTimeout)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		s.logger.Warn("send failed", "kind", req.Kind, "error", err)
		return false
	}
	return true
}

// AddListener registers an event handler with the session's dispatcher.
func (s *Session) AddListener(kind protocol.EventKind, fn dispatch.Handler) dispatch.ListenerID {
	return s.dispatcher.AddListener(kind, fn)
}

// RemoveListener unregisters an event handler.
func (s *Session) RemoveListener(kind protocol.EventKind, id dispatch.ListenerID) {
	s.dispatcher.RemoveListener(kind, id)
}

// readLoop decodes inbound events and dispatches them in arrival order. On
// any read error it drops the connection and emits a disconnected event;
// whether the loss was expected is for the listeners to decide.
func (s *Session) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(context.Background())
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				s.logger.Debug("connection closed", "error", err)
			} else {
				s.logger.Warn("read error", "error", err)
			}
			s.dropConn(conn)
			s.dispatcher.Dispatch(protocol.Event{Kind: protocol.EventDisconnected})
			return
		}

		evt, err := protocol.DecodeEvent(data)
		if err != nil {
			// Malformed events are dropped at the transport; they must not
			// reach (or crash) the listeners.
			s.logger.Warn("dropping malformed event", "error", err)
			continue
		}
		s.dispatcher.Dispatch(evt)
	}
}

// dropConn clears the held connection if it is still the one the loop owns.
// A newer connection from a subsequent Connect is left alone.
func (s *Session) dropConn(conn *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == conn {
		s.conn = nil
	}
}
