// Package versionwatch notices when the installed observerd version changes
// underneath a running process.
//
// The version file is hashed at Begin. Later checks, triggered either by a
// filesystem event in the file's directory or by ManualCheck, re-hash it and
// call OnChanged once the digest differs. A missing file is not a change:
// installers may remove and recreate it.
package versionwatch

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/zeebo/blake3"
	"vawter.tech/stopper"

	"github.com/mattjoyce/observerd/internal/log"
	"github.com/mattjoyce/observerd/internal/metrics"
)

const (
	triggerManual   = "manual"
	triggerFsnotify = "fsnotify"

	stopGracePeriod = 100 * time.Millisecond
)

// ErrAlreadyBegun is returned by a second call to Begin.
var ErrAlreadyBegun = errors.New("versionwatch: already begun")

// Watcher watches a single version file.
type Watcher struct {
	path      string
	onChanged func()
	logger    *slog.Logger

	mu       sync.Mutex
	begun    bool
	closed   bool
	baseline string
	fired    bool
	sctx     *stopper.Context
	requests chan string
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger overrides the component logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Watcher) {
		w.logger = l
	}
}

// New returns a Watcher for path. onChanged runs at most once, on the
// watcher's goroutine. An empty path yields a watcher that never fires.
func New(path string, onChanged func(), opts ...Option) *Watcher {
	w := &Watcher{
		path:      filepath.Clean(path),
		onChanged: onChanged,
		requests:  make(chan string, 1),
	}
	if path == "" {
		w.path = ""
	}

	for _, opt := range opts {
		opt(w)
	}
	if w.logger == nil {
		w.logger = log.WithComponent("version_watcher")
	}
	return w
}

// Path returns the watched file, or "" for a no-op watcher.
func (w *Watcher) Path() string {
	return w.path
}

// Begin records the current digest and starts watching.
func (w *Watcher) Begin() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.begun {
		return ErrAlreadyBegun
	}
	w.begun = true

	if w.path == "" {
		w.logger.Debug("version watcher disabled, no path configured")
		return nil
	}

	digest, err := Digest(w.path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("hash version file: %w", err)
	}
	w.baseline = digest

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		_ = fsw.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(w.path), err)
	}

	sctx := stopper.WithContext(context.Background())
	sctx.Defer(func() {
		_ = fsw.Close()
	})
	sctx.Go(func(sctx *stopper.Context) error {
		w.loop(sctx, fsw)
		return nil
	})
	w.sctx = sctx

	w.logger.Info("version watcher started", "path", w.path, "digest", digest)
	return nil
}

// ManualCheck requests an immediate re-check. It never blocks; requests
// made while one is already pending are coalesced.
func (w *Watcher) ManualCheck() {
	w.mu.Lock()
	active := w.sctx != nil && !w.closed
	w.mu.Unlock()
	if !active {
		return
	}

	select {
	case w.requests <- triggerManual:
	default:
	}
}

// Changed reports whether OnChanged has fired.
func (w *Watcher) Changed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.fired
}

// Close stops watching. It is idempotent.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	sctx := w.sctx
	w.mu.Unlock()

	if sctx == nil {
		return nil
	}
	sctx.Stop(stopGracePeriod)
	return sctx.Wait()
}

func (w *Watcher) loop(sctx *stopper.Context, fsw *fsnotify.Watcher) {
	for {
		select {
		case <-sctx.Stopping():
			return

		case trigger := <-w.requests:
			w.check(trigger)

		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.check(triggerFsnotify)

		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("version watcher error", "error", err)
		}
	}
}

func (w *Watcher) check(trigger string) {
	metrics.VersionChecks.WithLabelValues(trigger).Inc()

	digest, err := Digest(w.path)
	if err != nil {
		if !os.IsNotExist(err) {
			w.logger.Warn("failed to hash version file", "path", w.path, "error", err)
		}
		return
	}

	w.mu.Lock()
	if w.fired || digest == w.baseline {
		w.mu.Unlock()
		return
	}
	w.fired = true
	w.mu.Unlock()

	w.logger.Info("version changed", "path", w.path, "trigger", trigger, "digest", digest)
	if w.onChanged != nil {
		w.onChanged()
	}
}

// Digest returns the hex BLAKE3 digest of the file at path.
func Digest(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
