// Package grabberclient is the observer's reconnecting connection to the
// privileged grabber process.
//
// A Client owns one object id on a shared dispatcher and mutates its state
// only from tasks on that id. Socket I/O runs on a separate reconnect loop
// which reports back by enqueueing tasks, so lifecycle events reach the
// EventHandler from the client's queue rather than the caller's goroutine.
package grabberclient

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"weak"

	"vawter.tech/stopper"

	"github.com/mattjoyce/observerd/internal/dispatcher"
	"github.com/mattjoyce/observerd/internal/log"
	"github.com/mattjoyce/observerd/internal/metrics"
	"github.com/mattjoyce/observerd/internal/protocol"
	"github.com/mattjoyce/observerd/internal/transport"
)

var errPeerGone = errors.New("grabberclient: peer gone")

// Client connects to the grabber, reconnects on failure, and sends
// best-effort operation messages while connected.
type Client struct {
	weakDispatcher weak.Pointer[dispatcher.Dispatcher]
	id             dispatcher.ObjectID

	cfg     Config
	handler EventHandler
	dial    DialFunc
	policy  protocol.StringPolicy
	logger  *slog.Logger

	// Only touched from tasks on id.
	session *session

	state atomic.Int32

	// mu orders enqueues against Close so none lands on a retired id.
	mu     sync.RWMutex
	closed bool
}

// session is one AsyncStart..AsyncStop span. Results posted by a session's
// loop are ignored once it is no longer the client's current session.
type session struct {
	sctx *stopper.Context

	// conn is set while connected; only touched from tasks on the client id.
	conn *transport.Conn

	// broken wakes the loop when a send fails on the current connection.
	broken chan brokenConn
}

type brokenConn struct {
	conn *transport.Conn
	err  error
}

// Option configures a Client.
type Option func(*Client)

// WithLogger overrides the component logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// WithDialer replaces transport.Dial.
func WithDialer(dial DialFunc) Option {
	return func(c *Client) {
		c.dial = dial
	}
}

// WithStringPolicy selects how over-long string fields are encoded.
func WithStringPolicy(p protocol.StringPolicy) Option {
	return func(c *Client) {
		c.policy = p
	}
}

// New attaches a Client to d. The client keeps only a weak reference to d;
// the caller owns the dispatcher and must keep it alive until Close returns.
func New(d *dispatcher.Dispatcher, cfg Config, handler EventHandler, opts ...Option) *Client {
	c := &Client{
		weakDispatcher: weak.Make(d),
		id:             dispatcher.NewObjectID(),
		cfg:            cfg.withDefaults(),
		handler:        handler,
		dial:           transport.Dial,
		policy:         protocol.Truncate,
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.logger == nil {
		c.logger = log.WithObject("grabber_client", c.id.String())
	}

	d.Attach(c.id)
	return c
}

// State returns a snapshot of the connection state.
func (c *Client) State() State {
	return State(c.state.Load())
}

// AsyncStart begins the reconnect loop. Starting a started client is a logged no-op.
func (c *Client) AsyncStart() {
	c.enqueue(func() {
		if c.session != nil {
			c.logger.Warn("grabber client is already started")
			return
		}

		s := &session{
			sctx:   stopper.WithContext(context.Background()),
			broken: make(chan brokenConn, 1),
		}
		c.session = s
		c.setState(StateConnecting)

		s.sctx.Go(func(sctx *stopper.Context) error {
			c.run(sctx, s)
			return nil
		})

		c.logger.Info("grabber client is started",
			"socket_path", c.cfg.SocketPath,
			"server_check_interval", c.cfg.ServerCheckInterval,
			"reconnect_interval", c.cfg.ReconnectInterval,
		)
	})
}

// AsyncStop tears down the loop and socket. Events for attempts still in
// flight are never emitted. Stopping a stopped client is a no-op.
func (c *Client) AsyncStop() {
	c.enqueue(func() {
		c.stop()
	})
}

// Close stops the client and detaches it from the dispatcher, blocking until
// done. No event is delivered after Close returns. It is idempotent.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	d := c.weakDispatcher.Value()
	if d == nil {
		return
	}
	d.Detach(c.id, func() {
		c.stop()
	})
}

// AsyncSend encodes and transmits m if the client is connected. Otherwise the
// message is dropped: delivery is best-effort with no retry queue.
func (c *Client) AsyncSend(m protocol.Message) {
	c.enqueue(func() {
		c.send(m)
	})
}

// AsyncGrabbableStateChanged sends a device's grabbable state.
func (c *Client) AsyncGrabbableStateChanged(v protocol.GrabbableStateValue) {
	c.AsyncSend(protocol.GrabbableStateChanged{GrabbableState: v})
}

// AsyncConnectConsoleUserServer announces this process to the grabber.
func (c *Client) AsyncConnectConsoleUserServer() {
	c.AsyncSend(protocol.ConnectConsoleUserServer{PID: int32(os.Getpid())})
}

// AsyncSystemPreferencesUpdated forwards the keyboard-related system preferences.
func (c *Client) AsyncSystemPreferencesUpdated(p protocol.SystemPreferences) {
	c.AsyncSend(protocol.SystemPreferencesUpdated{SystemPreferences: p})
}

// AsyncFrontmostApplicationChanged reports the focused application.
func (c *Client) AsyncFrontmostApplicationChanged(bundleIdentifier, filePath string) {
	c.AsyncSend(protocol.FrontmostApplicationChanged{
		BundleIdentifier: bundleIdentifier,
		FilePath:         filePath,
	})
}

// AsyncInputSourceChanged reports the active input source. Empty values are absent.
func (c *Client) AsyncInputSourceChanged(language, inputSourceID, inputModeID string) {
	c.AsyncSend(protocol.InputSourceChanged{
		Language:      language,
		InputSourceID: inputSourceID,
		InputModeID:   inputModeID,
	})
}

func (c *Client) enqueue(task func()) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		c.logger.Debug("grabber client is closed, task dropped")
		return
	}
	d := c.weakDispatcher.Value()
	if d == nil {
		c.logger.Debug("dispatcher is gone, task dropped")
		return
	}
	d.Enqueue(c.id, task)
}

func (c *Client) setState(s State) {
	c.state.Store(int32(s))
}

// stop runs on the client id. It blocks until the loop goroutine has exited,
// which never needs the client queue, so it cannot deadlock.
func (c *Client) stop() {
	s := c.session
	if s == nil {
		return
	}
	c.session = nil

	s.sctx.Stop(stopGracePeriod)
	if err := s.sctx.Wait(); err != nil {
		c.logger.Debug("reconnect loop exited with error", "error", err)
	}
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}

	c.setState(StateStopped)
	c.logger.Info("grabber client is stopped")
}

func (c *Client) send(m protocol.Message) {
	kind := m.OperationType().String()

	s := c.session
	if s == nil || s.conn == nil {
		metrics.GrabberMessages.WithLabelValues(kind, "dropped").Inc()
		c.logger.Debug("grabber client is not connected, message dropped", "kind", kind)
		return
	}

	b, err := protocol.EncodeWithPolicy(m, c.policy)
	if err != nil {
		metrics.GrabberMessages.WithLabelValues(kind, "failed").Inc()
		c.logger.Warn("failed to encode message", "kind", kind, "error", err)
		return
	}

	if err := s.conn.Send(b); err != nil {
		metrics.GrabberMessages.WithLabelValues(kind, "failed").Inc()
		c.logger.Warn("failed to send message", "kind", kind, "error", err)
		select {
		case s.broken <- brokenConn{conn: s.conn, err: err}:
		default:
		}
		return
	}

	metrics.GrabberMessages.WithLabelValues(kind, "sent").Inc()
}

func (c *Client) emit(ev Event) {
	metrics.GrabberEvents.WithLabelValues(ev.Kind.String()).Inc()
	if c.handler != nil {
		c.handler(ev)
	}
}

func (c *Client) onAttempt(s *session) {
	if c.session != s {
		return
	}
	c.setState(StateConnecting)
}

func (c *Client) onConnected(s *session, conn *transport.Conn) {
	if c.session != s {
		_ = conn.Close()
		return
	}

	s.conn = conn
	c.setState(StateConnected)
	c.logger.Info("grabber client is connected")
	c.emit(Event{Kind: EventConnected})
}

func (c *Client) onConnectFailed(s *session, err error) {
	if c.session != s {
		return
	}

	c.setState(StateConnecting)
	c.logger.Debug("grabber client connect failed", "error", err)
	c.emit(Event{Kind: EventConnectFailed, Err: err})
}

func (c *Client) onClosed(s *session, err error) {
	if c.session != s {
		return
	}

	s.conn = nil
	c.setState(StateDisconnected)
	c.logger.Info("grabber client is closed", "reason", err)
	c.emit(Event{Kind: EventClosed, Err: err})
}
