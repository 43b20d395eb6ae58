package relay

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// writeWait is the deadline for a single outbound write.
	writeWait = 10 * time.Second
	// pongWait is how long a connection may stay silent before the read side
	// gives up on it.
	pongWait = 60 * time.Second
	// pingPeriod must be shorter than pongWait so pings keep the peer alive.
	pingPeriod = 54 * time.Second
)

// Handle is the send side of a connection as the Registry sees it: a
// best-effort delivery capability that can be closed when superseded.
type Handle interface {
	// TrySend queues payload for delivery without blocking. It reports false
	// when the session is closed or its buffer is full; the message is dropped.
	TrySend(payload []byte) bool
	Close() error
}

// Conn is the full bidirectional capability the Router serves.
type Conn interface {
	Handle
	// ReadFrame blocks for the next inbound frame and returns an error once
	// the connection closes or errors.
	ReadFrame() ([]byte, error)
}

// SessionOptions carries the per-connection tunables taken from configuration.
type SessionOptions struct {
	SendBuffer      int
	MaxMessageSize  int64
	RateLimitBurst  int
	RateLimitRefill time.Duration
}

// Session wraps one WebSocket connection with a buffered outbound queue and a
// write pump, so slow or dead receivers never stall the goroutine fanning out
// a broadcast.
type Session struct {
	conn    *websocket.Conn
	send    chan []byte
	done    chan struct{}
	log     *slog.Logger
	addr    string
	limiter *rateLimiter

	closeOnce sync.Once
	closeErr  error
}

// NewSession builds a session around conn. Start must be called before the
// session is registered, so queued payloads are drained.
func NewSession(conn *websocket.Conn, log *slog.Logger, opts SessionOptions) *Session {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 256
	}
	addr := "unknown"
	if conn != nil {
		conn.SetReadLimit(opts.MaxMessageSize)
		addr = conn.RemoteAddr().String()
	}
	return &Session{
		conn:    conn,
		send:    make(chan []byte, opts.SendBuffer),
		done:    make(chan struct{}),
		log:     log,
		addr:    addr,
		limiter: newRateLimiter(opts.RateLimitBurst, opts.RateLimitRefill),
	}
}

// Start configures keepalive deadlines and launches the write pump.
func (s *Session) Start() {
	if err := s.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		s.log.Warn("setting initial read deadline", "addr", s.addr, "error", err)
	}
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go s.writePump()
}

// ReadFrame returns the next inbound frame, silently discarding frames that
// exceed the rate limit.
func (s *Session) ReadFrame() ([]byte, error) {
	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if !s.limiter.allow() {
			s.log.Warn("rate limit exceeded, discarding frame", "addr", s.addr)
			continue
		}
		return raw, nil
	}
}

// TrySend implements Handle. It never blocks.
func (s *Session) TrySend(payload []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.send <- payload:
		return true
	default:
		return false
	}
}

// Close shuts the session down. Safe to call from any goroutine, any number
// of times.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		if s.conn != nil {
			s.closeErr = s.conn.Close()
		}
	})
	return s.closeErr
}

func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = s.Close()
	}()

	for {
		select {
		case payload := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				if !isExpectedCloseError(err) {
					s.log.Warn("writing frame", "addr", s.addr, "error", err)
				}
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.done:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = s.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
