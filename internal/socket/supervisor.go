// Package socket supervises a single logical WebSocket connection:
// dialing, frame dispatch, and reconnection after abnormal closure.
// It is transport only; frame contents are opaque to this package.
package socket

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultReconnectDelay is the pause before a reconnection attempt.
	DefaultReconnectDelay = time.Second

	// Time allowed to flush the close frame on deliberate teardown.
	writeWait = 10 * time.Second

	handshakeTimeout = 45 * time.Second
)

// State is the lifecycle state of a supervised connection.
type State int

const (
	StateConnecting State = iota
	StateOpen
	StateClosedClean
	StateClosedAbnormal
)

// String returns the string representation of State.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateOpen:
		return "OPEN"
	case StateClosedClean:
		return "CLOSED_CLEAN"
	case StateClosedAbnormal:
		return "CLOSED_ABNORMAL"
	default:
		return "UNKNOWN"
	}
}

// EventType identifies an event delivered to the consumer's handler.
type EventType int

const (
	// EventOpen fires once per established connection, including after
	// every successful reconnect. Consumers reset any state that must
	// not survive across connections here.
	EventOpen EventType = iota

	// EventFrame carries one inbound frame payload.
	EventFrame

	// EventError carries a transport error. The supervisor does not
	// classify errors; recovery is driven by closure handling alone.
	EventError

	// EventClosed reports that the connection closed and whether the
	// closure was clean. An abnormal closure is followed by a
	// reconnection attempt unless Close was called.
	EventClosed
)

// Event is the tagged union delivered to a Handler. Exactly one of
// Frame, Err, WasClean is meaningful depending on Type.
type Event struct {
	Type     EventType
	Frame    []byte
	Err      error
	WasClean bool
}

// Handler consumes supervisor events. Events for one supervisor are
// delivered sequentially from a single goroutine, so handlers never
// run concurrently with themselves.
type Handler func(Event)

// Spec is the immutable description of a connection: where to dial and
// which subprotocols to offer at handshake time. Subprotocols are how
// the chat service carries the auth token on per-room connections.
type Spec struct {
	URL          string
	Subprotocols []string
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithReconnectDelay overrides the fixed delay before reconnecting.
func WithReconnectDelay(d time.Duration) Option {
	return func(s *Supervisor) {
		s.delay = d
	}
}

// Supervisor owns one live connection at a time for a Spec. After an
// abnormal close it redials the same Spec after a fixed delay, forever,
// until Close is called or the peer closes cleanly.
type Supervisor struct {
	spec    Spec
	handler Handler
	delay   time.Duration
	log     *logrus.Entry

	mu    sync.RWMutex
	conn  *websocket.Conn
	state State

	// ctx cancels an in-flight dial when Close is called, so teardown
	// never waits out a stalled handshake.
	ctx    context.Context
	cancel context.CancelFunc

	done     chan struct{}
	doneOnce sync.Once
	wg       sync.WaitGroup
}

// Open dials the spec and starts the read loop. The initial dial is
// synchronous: a failure is returned to the caller and nothing is
// retried. Once Open returns successfully, recovery from abnormal
// closure is automatic until Close.
func Open(spec Spec, handler Handler, opts ...Option) (*Supervisor, error) {
	s := &Supervisor{
		spec:    spec,
		handler: handler,
		delay:   DefaultReconnectDelay,
		state:   StateConnecting,
		done:    make(chan struct{}),
		log: logrus.WithFields(logrus.Fields{
			"component": "socket",
			"conn":      uuid.New().String(),
			"url":       spec.URL,
		}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	conn, err := s.dial()
	if err != nil {
		s.cancel()
		s.setState(StateClosedAbnormal)
		return nil, fmt.Errorf("failed to open %s: %w", spec.URL, err)
	}
	s.mu.Lock()
	s.conn = conn
	s.state = StateOpen
	s.mu.Unlock()

	s.wg.Add(1)
	go s.run(conn)

	return s, nil
}

// State returns the current connection state.
func (s *Supervisor) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Send marshals v as a JSON text frame and writes it to the live
// connection. Returns ErrNotConnected when the connection is not open;
// nothing is queued.
func (s *Supervisor) Send(v interface{}) error {
	s.mu.RLock()
	conn, state := s.conn, s.state
	s.mu.RUnlock()

	if conn == nil || state != StateOpen {
		return ErrNotConnected
	}
	if err := conn.WriteJSON(v); err != nil {
		return fmt.Errorf("failed to send frame: %w", err)
	}
	return nil
}

// Close tears the connection down deliberately: the reconnect loop is
// suppressed, a normal-closure frame is sent best effort, and the read
// goroutine is waited for. Safe to call more than once.
func (s *Supervisor) Close() {
	s.doneOnce.Do(func() {
		close(s.done)
		s.cancel()
	})

	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.state = StateClosedClean
	s.mu.Unlock()

	if conn != nil {
		deadline := time.Now().Add(writeWait)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		conn.Close()
	}

	s.wg.Wait()
}

func (s *Supervisor) run(conn *websocket.Conn) {
	defer s.wg.Done()

	s.handler(Event{Type: EventOpen})

	for {
		_, frame, err := conn.ReadMessage()
		if err == nil {
			s.handler(Event{Type: EventFrame, Frame: frame})
			continue
		}

		clean := s.closing() || isCleanClose(err)
		if clean {
			s.setState(StateClosedClean)
			s.log.Debug("connection closed")
		} else {
			s.setState(StateClosedAbnormal)
			s.log.WithError(err).Warn("connection lost, scheduling reconnect")
		}
		s.handler(Event{Type: EventClosed, WasClean: clean})
		if clean {
			return
		}

		conn = s.reconnect()
		if conn == nil || !s.install(conn) {
			s.setState(StateClosedClean)
			return
		}
		s.log.Info("reconnected")
		s.handler(Event{Type: EventOpen})
	}
}

// reconnect redials the spec after the fixed delay until a dial
// succeeds or Close is called. Returns nil once closing; Close cancels
// the dial context, so a stalled handshake is abandoned immediately.
func (s *Supervisor) reconnect() *websocket.Conn {
	for {
		s.setState(StateConnecting)

		timer := time.NewTimer(s.delay)
		select {
		case <-s.done:
			timer.Stop()
			return nil
		case <-timer.C:
		}

		conn, err := s.dial()
		if err != nil {
			if s.closing() {
				return nil
			}
			s.log.WithError(err).Warn("reconnect attempt failed")
			s.handler(Event{Type: EventError, Err: err})
			continue
		}
		return conn
	}
}

// install publishes the replacement connection unless Close has begun,
// in which case the connection is discarded instead. The done check
// and the publish happen under one lock so a concurrent Close either
// sees the fresh conn or prevents it from going live.
func (s *Supervisor) install(conn *websocket.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case <-s.done:
		conn.Close()
		return false
	default:
	}

	s.conn = conn
	s.state = StateOpen
	return true
}

func (s *Supervisor) dial() (*websocket.Conn, error) {
	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: handshakeTimeout,
		Subprotocols:     s.spec.Subprotocols,
	}
	conn, _, err := dialer.DialContext(s.ctx, s.spec.URL, nil)
	return conn, err
}

func (s *Supervisor) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *Supervisor) closing() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// isCleanClose reports whether the read error corresponds to the peer
// closing the connection with a close frame rather than the transport
// dropping out from under us.
func isCleanClose(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}
