// Package transport carries whole datagrams between the observer and the
// grabber over a local unixgram socket at a well-known path.
//
// The observer side dials and probes; the grabber side (and tests) listen.
// There is no handshake and no acknowledgment: a datagram is either
// delivered whole or the write fails.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"
)

const (
	// Network is the socket type used for the grabber channel.
	Network = "unixgram"

	// MaxDatagramSize bounds a single read on the listening side.
	MaxDatagramSize = 64 * 1024

	// DefaultWriteTimeout bounds a single Send so a wedged peer cannot stall the caller.
	DefaultWriteTimeout = 1 * time.Second
)

// ErrClosed is returned by operations on a closed Conn or Listener.
var ErrClosed = errors.New("transport: closed")

// OpError describes a failed transport operation.
type OpError struct {
	// Op is the operation that failed (dial, probe, send, listen, receive).
	Op string
	// Path is the socket path involved.
	Path string
	// Err is the underlying error.
	Err error
}

// Error returns a formatted error message.
func (e *OpError) Error() string {
	return fmt.Sprintf("transport %s %q: %v", e.Op, e.Path, e.Err)
}

// Unwrap returns the underlying error for error chain inspection.
func (e *OpError) Unwrap() error {
	return e.Err
}

// Conn is a connected datagram socket to the grabber.
// Send and Close are safe to call from different goroutines.
type Conn struct {
	path         string
	writeTimeout time.Duration
	conn         net.Conn

	closeOnce sync.Once
	closed    chan struct{}
}

// Dial connects to the grabber socket at path. It fails if nothing is bound there.
func Dial(ctx context.Context, path string) (*Conn, error) {
	var d net.Dialer
	c, err := d.DialContext(ctx, Network, path)
	if err != nil {
		return nil, &OpError{Op: "dial", Path: path, Err: err}
	}

	return &Conn{
		path:         path,
		writeTimeout: DefaultWriteTimeout,
		conn:         c,
		closed:       make(chan struct{}),
	}, nil
}

// Path returns the socket path this Conn was dialed to.
func (c *Conn) Path() string {
	return c.path
}

// Send writes p as a single datagram.
func (c *Conn) Send(p []byte) error {
	select {
	case <-c.closed:
		return &OpError{Op: "send", Path: c.path, Err: ErrClosed}
	default:
	}

	if c.writeTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	if _, err := c.conn.Write(p); err != nil {
		return &OpError{Op: "send", Path: c.path, Err: err}
	}
	return nil
}

// Probe checks that a peer is still bound at the socket path by opening and
// immediately closing a second connection to it.
func (c *Conn) Probe(ctx context.Context) error {
	select {
	case <-c.closed:
		return &OpError{Op: "probe", Path: c.path, Err: ErrClosed}
	default:
	}

	var d net.Dialer
	pc, err := d.DialContext(ctx, Network, c.path)
	if err != nil {
		return &OpError{Op: "probe", Path: c.path, Err: err}
	}
	return pc.Close()
}

// Close releases the socket. It is idempotent.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.conn.Close()
	})
	return err
}

// Listener is the receiving end of the channel, bound at a filesystem path.
type Listener struct {
	path string
	conn *net.UnixConn

	closeOnce sync.Once
}

// Listen binds a datagram socket at path, replacing a stale socket file left
// behind by a previous process.
func Listen(path string) (*Listener, error) {
	if info, err := os.Lstat(path); err == nil {
		if info.Mode()&os.ModeSocket == 0 {
			return nil, &OpError{Op: "listen", Path: path, Err: fmt.Errorf("existing file is not a socket")}
		}
		if err := os.Remove(path); err != nil {
			return nil, &OpError{Op: "listen", Path: path, Err: err}
		}
	}

	conn, err := net.ListenUnixgram(Network, &net.UnixAddr{Name: path, Net: Network})
	if err != nil {
		return nil, &OpError{Op: "listen", Path: path, Err: err}
	}

	return &Listener{path: path, conn: conn}, nil
}

// Path returns the bound socket path.
func (l *Listener) Path() string {
	return l.path
}

// Serve reads datagrams and hands a copy of each to handle until ctx is done
// or the listener is closed. The listener is closed and its socket file
// removed by the time Serve returns. It returns nil on a clean shutdown.
func (l *Listener) Serve(ctx context.Context, handle func([]byte)) error {
	stop := context.AfterFunc(ctx, func() { _ = l.Close() })
	defer stop()
	// Waits out a close already in flight so the socket file is gone on return.
	defer func() { _ = l.Close() }()

	buf := make([]byte, MaxDatagramSize)
	for {
		n, _, err := l.conn.ReadFromUnix(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return &OpError{Op: "receive", Path: l.path, Err: err}
		}

		p := make([]byte, n)
		copy(p, buf[:n])
		handle(p)
	}
}

// Close unbinds the socket and removes its file. It is idempotent.
func (l *Listener) Close() error {
	var err error
	l.closeOnce.Do(func() {
		err = l.conn.Close()
		if rmErr := os.Remove(l.path); rmErr != nil && !os.IsNotExist(rmErr) && err == nil {
			err = rmErr
		}
	})
	return err
}
