package transport

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// socketPath returns a short path; t.TempDir can exceed the sun_path limit.
func socketPath(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "obs")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	return filepath.Join(dir, "grabber.sock")
}

func serve(t *testing.T, l *Listener) <-chan []byte {
	t.Helper()
	received := make(chan []byte, 16)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Serve(ctx, func(p []byte) { received <- p }) }()
	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-done)
	})
	return received
}

func TestDialWithoutListenerFails(t *testing.T) {
	path := socketPath(t)

	_, err := Dial(context.Background(), path)
	require.Error(t, err)

	var opErr *OpError
	require.True(t, errors.As(err, &opErr))
	assert.Equal(t, "dial", opErr.Op)
	assert.Equal(t, path, opErr.Path)
}

func TestSendDeliversWholeDatagrams(t *testing.T) {
	path := socketPath(t)
	l, err := Listen(path)
	require.NoError(t, err)
	received := serve(t, l)

	c, err := Dial(context.Background(), path)
	require.NoError(t, err)
	defer func() { _ = c.Close() }()

	require.NoError(t, c.Send([]byte("first")))
	require.NoError(t, c.Send([]byte("second")))

	for _, want := range []string{"first", "second"} {
		select {
		case got := <-received:
			assert.Equal(t, want, string(got))
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %q", want)
		}
	}
}

func TestProbeDetectsVanishedPeer(t *testing.T) {
	path := socketPath(t)
	l, err := Listen(path)
	require.NoError(t, err)

	c, err := Dial(context.Background(), path)
	require.NoError(t, err)
	defer func() { _ = c.Close() }()

	require.NoError(t, c.Probe(context.Background()))

	require.NoError(t, l.Close())
	assert.Error(t, c.Probe(context.Background()))
	assert.Error(t, c.Send([]byte("lost")))
}

func TestConnCloseIsIdempotent(t *testing.T) {
	path := socketPath(t)
	l, err := Listen(path)
	require.NoError(t, err)
	defer func() { _ = l.Close() }()

	c, err := Dial(context.Background(), path)
	require.NoError(t, err)

	require.NoError(t, c.Close())
	assert.NoError(t, c.Close())
	assert.ErrorIs(t, c.Send([]byte("x")), ErrClosed)
	assert.ErrorIs(t, c.Probe(context.Background()), ErrClosed)
}

func TestListenReplacesStaleSocket(t *testing.T) {
	path := socketPath(t)
	first, err := Listen(path)
	require.NoError(t, err)
	// Simulate a crashed grabber: the fd goes away but the file stays.
	require.NoError(t, first.conn.Close())

	second, err := Listen(path)
	require.NoError(t, err)
	defer func() { _ = second.Close() }()

	c, err := Dial(context.Background(), path)
	require.NoError(t, err)
	assert.NoError(t, c.Close())
}

func TestListenRefusesRegularFile(t *testing.T) {
	path := socketPath(t)
	require.NoError(t, os.WriteFile(path, []byte("not a socket"), 0o644))

	_, err := Listen(path)
	assert.Error(t, err)
}

func TestListenerCloseRemovesSocketFile(t *testing.T) {
	path := socketPath(t)
	l, err := Listen(path)
	require.NoError(t, err)

	require.NoError(t, l.Close())
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
	assert.NoError(t, l.Close())
}

func TestServeReturnsAfterSocketFileRemoved(t *testing.T) {
	path := socketPath(t)

	for i := range 100 {
		l, err := Listen(path)
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- l.Serve(ctx, func([]byte) {}) }()

		cancel()
		require.NoError(t, <-done)

		_, err = os.Lstat(path)
		require.True(t, os.IsNotExist(err), "iteration %d: socket file outlived Serve", i)

		// A successor bound right away must stay reachable.
		next, err := Listen(path)
		require.NoError(t, err)
		conn, err := Dial(context.Background(), path)
		require.NoError(t, err, "iteration %d: successor listener unreachable", i)
		require.NoError(t, conn.Close())
		require.NoError(t, next.Close())
	}
}
