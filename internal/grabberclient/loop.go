package grabberclient

import (
	"fmt"
	"time"

	"vawter.tech/stopper"

	"github.com/mattjoyce/observerd/internal/transport"
)

// run is the reconnect loop of one session. It owns dialing and probing and
// reports every outcome by posting a task onto the client id.
func (c *Client) run(sctx *stopper.Context, s *session) {
	first := true
	for {
		if !first {
			c.enqueue(func() { c.onAttempt(s) })
		}
		first = false

		conn, err := c.dial(sctx, c.cfg.SocketPath)
		if sctx.IsStopping() {
			if conn != nil {
				_ = conn.Close()
			}
			return
		}
		if err != nil {
			c.enqueue(func() { c.onConnectFailed(s, err) })
			if !sleep(sctx, c.cfg.ReconnectInterval) {
				return
			}
			continue
		}

		c.enqueue(func() { c.onConnected(s, conn) })

		reason := c.monitor(sctx, s, conn)
		_ = conn.Close()
		if sctx.IsStopping() {
			return
		}

		c.enqueue(func() { c.onClosed(s, reason) })
		if !sleep(sctx, c.cfg.ReconnectInterval) {
			return
		}
	}
}

// monitor blocks while conn is healthy. It returns the reason the peer was
// considered gone, or nil when the session is stopping.
func (c *Client) monitor(sctx *stopper.Context, s *session, conn *transport.Conn) error {
	ticker := time.NewTicker(c.cfg.ServerCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-sctx.Stopping():
			return nil

		case b := <-s.broken:
			if b.conn != conn {
				// Left over from an earlier connection.
				continue
			}
			return b.err

		case <-ticker.C:
			if err := conn.Probe(sctx); err != nil {
				c.logger.Debug("grabber server check failed", "error", err)
				return fmt.Errorf("%w: %w", errPeerGone, err)
			}
		}
	}
}

// sleep waits for d, returning false if the session starts stopping first.
func sleep(sctx *stopper.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-sctx.Stopping():
		return false
	case <-t.C:
		return true
	}
}
