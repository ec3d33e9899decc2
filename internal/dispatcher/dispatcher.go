package dispatcher

import (
	"log/slog"
	"runtime"
	"sync"

	"github.com/google/uuid"

	"github.com/mattjoyce/observerd/internal/log"
	"github.com/mattjoyce/observerd/internal/metrics"
)

// ObjectID identifies one owner's task queue.
type ObjectID struct {
	u uuid.UUID
}

// NewObjectID mints a fresh id. It is not registered until Attach.
func NewObjectID() ObjectID {
	return ObjectID{u: uuid.New()}
}

// String returns the canonical form of the id.
func (id ObjectID) String() string {
	return id.u.String()
}

// IsZero reports whether id is the zero value (never minted).
func (id ObjectID) IsZero() bool {
	return id.u == uuid.Nil
}

// Task is a unit of work bound to one ObjectID.
type Task func()

type objectQueue struct {
	id    ObjectID
	tasks []Task

	// scheduled is true while the queue sits in the run queue or is being executed.
	scheduled bool
	running   bool
	detaching bool
}

func (q *objectQueue) pop() Task {
	task := q.tasks[0]
	q.tasks[0] = nil
	q.tasks = q.tasks[1:]
	return task
}

// Dispatcher runs tasks on a fixed pool of worker goroutines, serialized per ObjectID.
type Dispatcher struct {
	mu         sync.Mutex
	cond       *sync.Cond
	objects    map[ObjectID]*objectQueue
	runq       []*objectQueue
	terminated bool

	workers int
	wg      sync.WaitGroup
	logger  *slog.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithWorkers sets the size of the worker pool.
func WithWorkers(n int) Option {
	return func(d *Dispatcher) {
		d.workers = n
	}
}

// WithLogger overrides the component logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = l
	}
}

// New creates a Dispatcher and starts its workers.
func New(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		objects: make(map[ObjectID]*objectQueue),
		workers: runtime.NumCPU(),
	}

	for _, opt := range opts {
		opt(d)
	}

	if d.workers < 1 {
		d.workers = 1
	}
	if d.logger == nil {
		d.logger = log.WithComponent("dispatcher")
	}
	d.cond = sync.NewCond(&d.mu)

	d.wg.Add(d.workers)
	for range d.workers {
		go d.worker()
	}

	return d
}

// Attach registers id as active. Enqueue becomes valid for it.
func (d *Dispatcher) Attach(id ObjectID) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.objects[id]; ok {
		panic(&MisuseError{Op: "attach", ID: id, Err: ErrAlreadyAttached})
	}
	if d.terminated {
		// Registered so Detach stays valid; its tasks are dropped.
		d.logger.Warn("attach after terminate", "object_id", id.String())
	}

	d.objects[id] = &objectQueue{id: id}
}

// Attached reports whether id is attached and not yet retired.
func (d *Dispatcher) Attached(id ObjectID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	_, ok := d.objects[id]
	return ok
}

// Enqueue schedules task on id. It never blocks.
//
// Enqueue on an id that is not attached panics, before or after Terminate.
// Tasks offered to an attached id while its Detach is pending, or after
// Terminate, are discarded.
func (d *Dispatcher) Enqueue(id ObjectID, task Task) {
	if task == nil {
		panic(&MisuseError{Op: "enqueue", ID: id, Err: ErrNilTask})
	}

	d.mu.Lock()
	q, ok := d.objects[id]
	if !ok {
		d.mu.Unlock()
		panic(&MisuseError{Op: "enqueue", ID: id, Err: ErrNotAttached})
	}

	if d.terminated {
		d.mu.Unlock()
		metrics.DispatcherDiscarded.Inc()
		d.logger.Warn("enqueue after terminate ignored", "object_id", id.String())
		return
	}

	if q.detaching {
		d.mu.Unlock()
		metrics.DispatcherDiscarded.Inc()
		d.logger.Debug("enqueue during detach discarded", "object_id", id.String())
		return
	}

	q.tasks = append(q.tasks, task)
	d.scheduleLocked(q)
	d.mu.Unlock()
}

// Detach enqueues cleanup as the final task for id, blocks until it has run,
// and retires id. It must not be called from one of id's own tasks.
//
// When no worker currently holds id's queue, the calling goroutine drains it
// itself, so Detach is safe from inside another object's task regardless of
// pool size.
func (d *Dispatcher) Detach(id ObjectID, cleanup Task) {
	d.mu.Lock()
	q, ok := d.objects[id]
	if !ok {
		d.mu.Unlock()
		panic(&MisuseError{Op: "detach", ID: id, Err: ErrNotAttached})
	}
	if q.detaching {
		d.mu.Unlock()
		panic(&MisuseError{Op: "detach", ID: id, Err: ErrDetachPending})
	}

	done := make(chan struct{})
	q.detaching = true
	q.tasks = append(q.tasks, func() {
		defer close(done)
		if cleanup != nil {
			cleanup()
		}

		d.mu.Lock()
		delete(d.objects, id)
		d.mu.Unlock()
	})

	if !q.running {
		d.unscheduleLocked(q)
		q.scheduled = true
		for len(q.tasks) > 0 {
			d.runOneLocked(q)
		}
		q.scheduled = false
		d.mu.Unlock()
		d.logger.Debug("object detached inline", "object_id", id.String())
		return
	}

	d.mu.Unlock()
	<-done
	d.logger.Debug("object detached", "object_id", id.String())
}

// Terminate stops accepting new ids and tasks, drains everything already
// queued, and waits for the workers to exit. It is idempotent and must not
// be called from inside a task.
func (d *Dispatcher) Terminate() {
	d.mu.Lock()
	if !d.terminated {
		d.terminated = true
		d.cond.Broadcast()
		d.logger.Debug("dispatcher terminating", "queued_objects", len(d.runq))
	}
	d.mu.Unlock()

	d.wg.Wait()
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()

	d.mu.Lock()
	for {
		for len(d.runq) == 0 && !d.terminated {
			d.cond.Wait()
		}
		if len(d.runq) == 0 {
			d.mu.Unlock()
			return
		}

		q := d.runq[0]
		d.runq[0] = nil
		d.runq = d.runq[1:]

		d.runOneLocked(q)

		if len(q.tasks) > 0 {
			// Requeue at the tail so one busy object cannot starve the others.
			d.runq = append(d.runq, q)
			d.cond.Signal()
		} else {
			q.scheduled = false
		}
	}
}

// runOneLocked pops and runs the head task of q with d.mu released.
// It is called, and returns, with d.mu held.
func (d *Dispatcher) runOneLocked(q *objectQueue) {
	task := q.pop()
	q.running = true
	d.mu.Unlock()

	task()
	metrics.DispatcherTasks.Inc()

	d.mu.Lock()
	q.running = false
}

func (d *Dispatcher) scheduleLocked(q *objectQueue) {
	if q.scheduled {
		return
	}
	q.scheduled = true
	d.runq = append(d.runq, q)
	d.cond.Signal()
}

func (d *Dispatcher) unscheduleLocked(q *objectQueue) {
	for i, candidate := range d.runq {
		if candidate == q {
			d.runq = append(d.runq[:i], d.runq[i+1:]...)
			break
		}
	}
	q.scheduled = false
}
