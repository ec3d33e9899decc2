// Package supervisor keeps the grabber connection and the device observer in
// lockstep.
//
// A Supervisor owns one object id on a private dispatcher. Every change to its
// subsystems happens in a task on that id, so connection events, observer
// start/stop and teardown are totally ordered without locks.
package supervisor

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/mattjoyce/observerd/internal/deviceobserver"
	"github.com/mattjoyce/observerd/internal/dispatcher"
	"github.com/mattjoyce/observerd/internal/events"
	"github.com/mattjoyce/observerd/internal/grabberclient"
	"github.com/mattjoyce/observerd/internal/log"
	"github.com/mattjoyce/observerd/internal/versionwatch"
)

//go:generate mockgen -destination=mocks/mock_version_watcher.go -package=mocks github.com/mattjoyce/observerd/internal/supervisor VersionWatcher

// VersionWatcher notices an on-disk version change of the running binary.
type VersionWatcher interface {
	Begin() error
	ManualCheck()
	Close() error
}

// DeviceObserver runs only while the grabber is connected.
type DeviceObserver interface {
	Close() error
}

// DeviceObserverFactory builds a DeviceObserver for a freshly connected client.
type DeviceObserverFactory func(d *dispatcher.Dispatcher, c *grabberclient.Client) (DeviceObserver, error)

// Config holds the supervisor's runtime settings.
type Config struct {
	// Workers sizes the dispatcher pool; zero means one per CPU.
	Workers int

	Grabber grabberclient.Config

	// VersionPath is the file watched for upgrades; empty disables watching.
	VersionPath string

	// OnVersionChanged is called once when VersionPath changes.
	OnVersionChanged func()
}

// Supervisor is the observer process's component manager.
type Supervisor struct {
	d      *dispatcher.Dispatcher
	id     dispatcher.ObjectID
	cfg    Config
	logger *slog.Logger

	hub         *events.Hub
	newObserver DeviceObserverFactory
	clientOpts  []grabberclient.Option

	// Only touched from tasks on id, and from New before the first task.
	watcher  VersionWatcher
	client   *grabberclient.Client
	observer DeviceObserver

	closeOnce sync.Once
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithLogger overrides the component logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Supervisor) {
		s.logger = l
	}
}

// WithEventHub publishes lifecycle events to h.
func WithEventHub(h *events.Hub) Option {
	return func(s *Supervisor) {
		s.hub = h
	}
}

// WithVersionWatcher replaces the file-based version watcher.
func WithVersionWatcher(w VersionWatcher) Option {
	return func(s *Supervisor) {
		s.watcher = w
	}
}

// WithDeviceObserverFactory replaces the default device observer.
func WithDeviceObserverFactory(f DeviceObserverFactory) Option {
	return func(s *Supervisor) {
		s.newObserver = f
	}
}

// WithClientOptions passes options through to the grabber client.
func WithClientOptions(opts ...grabberclient.Option) Option {
	return func(s *Supervisor) {
		s.clientOpts = append(s.clientOpts, opts...)
	}
}

// DefaultDeviceObserverFactory builds a deviceobserver.Observer reporting through c.
func DefaultDeviceObserverFactory(d *dispatcher.Dispatcher, c *grabberclient.Client) (DeviceObserver, error) {
	return deviceobserver.New(d, c), nil
}

// New starts the supervisor: it begins version watching and asynchronously
// starts the grabber client. Close must be called to release it.
func New(cfg Config, opts ...Option) (*Supervisor, error) {
	s := &Supervisor{
		cfg:         cfg,
		id:          dispatcher.NewObjectID(),
		newObserver: DefaultDeviceObserverFactory,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = log.WithObject("supervisor", s.id.String())
	}
	if s.hub == nil {
		s.hub = events.NewHub(0)
	}
	if s.watcher == nil {
		s.watcher = versionwatch.New(cfg.VersionPath, s.versionChanged)
	}

	dopts := []dispatcher.Option{dispatcher.WithLogger(log.WithComponent("dispatcher"))}
	if cfg.Workers > 0 {
		dopts = append(dopts, dispatcher.WithWorkers(cfg.Workers))
	}
	s.d = dispatcher.New(dopts...)
	s.d.Attach(s.id)

	if err := s.watcher.Begin(); err != nil {
		s.d.Detach(s.id, func() {})
		s.d.Terminate()
		return nil, fmt.Errorf("begin version watcher: %w", err)
	}

	s.asyncStartClient()
	return s, nil
}

// Events returns the hub lifecycle events are published to.
func (s *Supervisor) Events() *events.Hub {
	return s.hub
}

// Close tears everything down in dependency order and stops the dispatcher.
// Connection events racing the teardown are discarded. It is idempotent.
func (s *Supervisor) Close() {
	s.closeOnce.Do(func() {
		s.d.Detach(s.id, func() {
			s.stopClient()
			s.stopObserver()

			if s.watcher != nil {
				if err := s.watcher.Close(); err != nil {
					s.logger.Warn("failed to close version watcher", "error", err)
				}
				s.watcher = nil
			}
		})
		s.d.Terminate()
		s.logger.Info("supervisor is closed")
	})
}

func (s *Supervisor) asyncStartClient() {
	s.d.Enqueue(s.id, func() {
		if s.client != nil {
			return
		}

		s.client = grabberclient.New(s.d, s.cfg.Grabber, s.onClientEvent, s.clientOpts...)
		s.client.AsyncStart()
	})
}

// onClientEvent runs on the client's queue and only hands off to ours.
func (s *Supervisor) onClientEvent(ev grabberclient.Event) {
	s.d.Enqueue(s.id, func() {
		s.handleClientEvent(ev)
	})
}

func (s *Supervisor) handleClientEvent(ev grabberclient.Event) {
	switch ev.Kind {
	case grabberclient.EventConnected:
		s.hub.Publish(events.GrabberConnected, nil)
	case grabberclient.EventConnectFailed:
		s.hub.Publish(events.GrabberConnectFailed, ev.Err)
	case grabberclient.EventClosed:
		s.hub.Publish(events.GrabberClosed, ev.Err)
	default:
		s.logger.Warn("unknown grabber client event", "kind", ev.Kind)
		return
	}

	if s.watcher != nil {
		s.watcher.ManualCheck()
	}

	if ev.Kind == grabberclient.EventConnected {
		s.startObserver()
	} else {
		s.stopObserver()
	}
}

func (s *Supervisor) startObserver() {
	if s.observer != nil {
		return
	}

	o, err := s.newObserver(s.d, s.client)
	if err != nil {
		s.logger.Error("failed to start device observer", "error", err)
		return
	}
	s.observer = o
	s.hub.Publish(events.DeviceObserverStarted, nil)
}

func (s *Supervisor) stopObserver() {
	if s.observer == nil {
		return
	}

	if err := s.observer.Close(); err != nil {
		s.logger.Warn("device observer closed with error", "error", err)
	}
	s.observer = nil
	s.hub.Publish(events.DeviceObserverStopped, nil)
}

func (s *Supervisor) stopClient() {
	if s.client == nil {
		return
	}
	s.client.Close()
	s.client = nil
}

func (s *Supervisor) versionChanged() {
	s.hub.Publish(events.VersionChanged, nil)
	if s.cfg.OnVersionChanged != nil {
		s.cfg.OnVersionChanged()
	}
}
