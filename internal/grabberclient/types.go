package grabberclient

import (
	"context"
	"time"

	"github.com/mattjoyce/observerd/internal/transport"
)

const (
	// DefaultServerCheckInterval is how often a connected client probes the grabber.
	DefaultServerCheckInterval = 3000 * time.Millisecond

	// DefaultReconnectInterval is the pause between connection attempts.
	DefaultReconnectInterval = 1000 * time.Millisecond

	// stopGracePeriod bounds how long an in-flight dial may run after a stop request.
	stopGracePeriod = 100 * time.Millisecond
)

// State is the connection state of a Client.
type State int32

const (
	StateStopped State = iota
	StateConnecting
	StateConnected
	// StateDisconnected follows a closed connection until the next attempt begins.
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// EventKind names a connection lifecycle event.
type EventKind int

const (
	EventConnected EventKind = iota + 1
	EventConnectFailed
	EventClosed
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventConnectFailed:
		return "connect_failed"
	case EventClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Event is delivered to the client's EventHandler. Err is set for
// EventConnectFailed and, when known, for EventClosed.
type Event struct {
	Kind EventKind
	Err  error
}

// EventHandler receives lifecycle events on the client's own dispatcher queue,
// never on the caller's. A consumer must re-enqueue onto its own object id
// before touching its state.
type EventHandler func(Event)

// Config is the transport configuration of a Client.
type Config struct {
	SocketPath          string
	ServerCheckInterval time.Duration
	ReconnectInterval   time.Duration
}

func (c Config) withDefaults() Config {
	if c.ServerCheckInterval <= 0 {
		c.ServerCheckInterval = DefaultServerCheckInterval
	}
	if c.ReconnectInterval <= 0 {
		c.ReconnectInterval = DefaultReconnectInterval
	}
	return c
}

// DialFunc opens a connection to the grabber socket.
type DialFunc func(ctx context.Context, path string) (*transport.Conn, error)
