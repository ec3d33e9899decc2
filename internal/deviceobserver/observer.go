// Package deviceobserver runs while the grabber is reachable and forwards
// device grabbable state to it.
//
// Device discovery is out of scope here: callers feed observations through
// Report. The observer owns its own dispatcher object id, so reports are
// serialized without any locking and reach the grabber in order.
package deviceobserver

import (
	"log/slog"
	"sync"
	"weak"

	"github.com/mattjoyce/observerd/internal/dispatcher"
	"github.com/mattjoyce/observerd/internal/log"
	"github.com/mattjoyce/observerd/internal/metrics"
	"github.com/mattjoyce/observerd/internal/protocol"
)

// Sender is the part of the grabber client an Observer needs.
type Sender interface {
	AsyncConnectConsoleUserServer()
	AsyncGrabbableStateChanged(v protocol.GrabbableStateValue)
}

// Observer tracks the last reported state per device.
type Observer struct {
	weakDispatcher weak.Pointer[dispatcher.Dispatcher]
	id             dispatcher.ObjectID
	sender         Sender
	logger         *slog.Logger

	// Only touched from tasks on id.
	states map[uint64]protocol.GrabbableStateValue

	mu     sync.RWMutex
	closed bool
}

// New attaches an Observer to d and announces this process to the grabber.
// The observer keeps only a weak reference to d; the caller owns it.
func New(d *dispatcher.Dispatcher, sender Sender) *Observer {
	o := &Observer{
		weakDispatcher: weak.Make(d),
		id:             dispatcher.NewObjectID(),
		sender:         sender,
		states:         make(map[uint64]protocol.GrabbableStateValue),
	}
	o.logger = log.WithObject("device_observer", o.id.String())

	d.Attach(o.id)
	d.Enqueue(o.id, func() {
		metrics.DeviceObserverActive.Inc()
		o.sender.AsyncConnectConsoleUserServer()
		o.logger.Info("device observer is started")
	})
	return o
}

// Report forwards v unless it repeats the device's last reported state and
// reason. Reports after Close are dropped.
func (o *Observer) Report(v protocol.GrabbableStateValue) {
	o.enqueue(func() {
		last, ok := o.states[v.RegistryEntryID]
		if ok && last.State == v.State && last.Reason == v.Reason {
			return
		}
		o.states[v.RegistryEntryID] = v
		o.sender.AsyncGrabbableStateChanged(v)
	})
}

// Forget drops a removed device so a later report for the same id is sent.
func (o *Observer) Forget(registryEntryID uint64) {
	o.enqueue(func() {
		delete(o.states, registryEntryID)
	})
}

// Close detaches the observer, blocking until queued reports have been
// forwarded. It is idempotent.
func (o *Observer) Close() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	o.mu.Unlock()

	d := o.weakDispatcher.Value()
	if d == nil {
		return nil
	}
	d.Detach(o.id, func() {
		o.logger.Info("device observer is stopped", "devices", len(o.states))
		o.states = nil
		metrics.DeviceObserverActive.Dec()
	})
	return nil
}

func (o *Observer) enqueue(task func()) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	if o.closed {
		return
	}
	d := o.weakDispatcher.Value()
	if d == nil {
		o.logger.Debug("dispatcher is gone, task dropped")
		return
	}
	d.Enqueue(o.id, task)
}
