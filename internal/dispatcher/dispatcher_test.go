package dispatcher

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// requireMisuse runs fn and asserts it panics with a *MisuseError wrapping want.
func requireMisuse(t *testing.T, want error, fn func()) {
	t.Helper()

	var recovered any
	func() {
		defer func() { recovered = recover() }()
		fn()
	}()

	require.NotNil(t, recovered, "expected a panic")
	err, ok := recovered.(error)
	require.True(t, ok, "panic value %v is not an error", recovered)

	var misuse *MisuseError
	require.True(t, errors.As(err, &misuse), "panic value %T is not *MisuseError", recovered)
	assert.ErrorIs(t, err, want)
}

func newTestDispatcher(t *testing.T, workers int) *Dispatcher {
	t.Helper()
	d := New(WithWorkers(workers))
	t.Cleanup(d.Terminate)
	return d
}

func TestObjectIDsAreUnique(t *testing.T) {
	seen := make(map[ObjectID]struct{})
	for range 1000 {
		id := NewObjectID()
		require.False(t, id.IsZero())
		_, dup := seen[id]
		require.False(t, dup, "duplicate object id %s", id)
		seen[id] = struct{}{}
	}

	var zero ObjectID
	assert.True(t, zero.IsZero())
}

func TestEnqueueRunsInSubmissionOrder(t *testing.T) {
	d := newTestDispatcher(t, 8)
	id := NewObjectID()
	d.Attach(id)

	const n = 2000
	var (
		mu       sync.Mutex
		got      []int
		inflight atomic.Int32
		overlap  atomic.Bool
	)

	done := make(chan struct{})
	for i := range n {
		d.Enqueue(id, func() {
			if inflight.Add(1) != 1 {
				overlap.Store(true)
			}
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
			inflight.Add(-1)
			if i == n-1 {
				close(done)
			}
		})
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for tasks")
	}

	assert.False(t, overlap.Load(), "tasks for the same id overlapped")
	require.Len(t, got, n)
	for i, v := range got {
		if v != i {
			t.Fatalf("task %d ran at position %d", v, i)
		}
	}
}

func TestEnqueueFromManyGoroutinesKeepsPerProducerOrder(t *testing.T) {
	d := newTestDispatcher(t, 4)
	id := NewObjectID()
	d.Attach(id)

	const producers = 8
	const perProducer = 250

	var (
		inflight atomic.Int32
		overlap  atomic.Bool
		wg       sync.WaitGroup
		executed sync.WaitGroup
	)

	// Only touched from tasks on id, so no lock is needed.
	last := make([]int, producers)
	for p := range last {
		last[p] = -1
	}
	var outOfOrder atomic.Bool

	executed.Add(producers * perProducer)
	for p := range producers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range perProducer {
				d.Enqueue(id, func() {
					defer executed.Done()
					if inflight.Add(1) != 1 {
						overlap.Store(true)
					}
					if last[p] != i-1 {
						outOfOrder.Store(true)
					}
					last[p] = i
					inflight.Add(-1)
				})
			}
		}()
	}
	wg.Wait()
	executed.Wait()

	assert.False(t, overlap.Load(), "tasks for the same id overlapped")
	assert.False(t, outOfOrder.Load(), "a producer's tasks ran out of order")
}

func TestDistinctObjectsRunInParallel(t *testing.T) {
	d := newTestDispatcher(t, 2)
	a, b := NewObjectID(), NewObjectID()
	d.Attach(a)
	d.Attach(b)

	release := make(chan struct{})
	started := make(chan struct{})
	d.Enqueue(a, func() {
		close(started)
		<-release
	})
	<-started

	ran := make(chan struct{})
	d.Enqueue(b, func() { close(ran) })

	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("task on b was blocked by a long task on a")
	}
	close(release)
}

func TestEnqueueUnattachedPanics(t *testing.T) {
	d := newTestDispatcher(t, 1)

	requireMisuse(t, ErrNotAttached, func() {
		d.Enqueue(NewObjectID(), func() {})
	})
}

func TestEnqueueNilTaskPanics(t *testing.T) {
	d := newTestDispatcher(t, 1)
	id := NewObjectID()
	d.Attach(id)

	requireMisuse(t, ErrNilTask, func() {
		d.Enqueue(id, nil)
	})
}

func TestAttachTwicePanics(t *testing.T) {
	d := newTestDispatcher(t, 1)
	id := NewObjectID()
	d.Attach(id)

	requireMisuse(t, ErrAlreadyAttached, func() {
		d.Attach(id)
	})
}

func TestDetachRunsCleanupLastAndRetires(t *testing.T) {
	d := newTestDispatcher(t, 4)
	id := NewObjectID()
	d.Attach(id)

	var order []string
	release := make(chan struct{})
	d.Enqueue(id, func() {
		<-release
		order = append(order, "first")
	})
	d.Enqueue(id, func() { order = append(order, "second") })

	go func() {
		time.Sleep(20 * time.Millisecond)
		close(release)
	}()

	d.Detach(id, func() { order = append(order, "cleanup") })

	assert.Equal(t, []string{"first", "second", "cleanup"}, order)
	assert.False(t, d.Attached(id))

	requireMisuse(t, ErrNotAttached, func() {
		d.Enqueue(id, func() { t.Error("task ran after detach") })
	})
}

func TestDetachDiscardsTasksEnqueuedWhilePending(t *testing.T) {
	d := newTestDispatcher(t, 2)
	id := NewObjectID()
	d.Attach(id)

	release := make(chan struct{})
	entered := make(chan struct{})
	var lateRan atomic.Bool

	d.Enqueue(id, func() {
		close(entered)
		<-release
		// Detach is pending by now; this must never run.
		d.Enqueue(id, func() { lateRan.Store(true) })
	})
	<-entered

	go func() {
		assert.Eventually(t, func() bool {
			d.mu.Lock()
			defer d.mu.Unlock()
			q, ok := d.objects[id]
			return ok && q.detaching
		}, time.Second, time.Millisecond)
		close(release)
	}()

	cleaned := false
	d.Detach(id, func() { cleaned = true })

	assert.True(t, cleaned)
	assert.False(t, lateRan.Load())
}

func TestDetachFromAnotherObjectsTaskWithSingleWorker(t *testing.T) {
	d := newTestDispatcher(t, 1)
	owner, child := NewObjectID(), NewObjectID()
	d.Attach(owner)
	d.Attach(child)

	var childRan, childCleaned bool
	d.Enqueue(child, func() { childRan = true })

	done := make(chan struct{})
	d.Enqueue(owner, func() {
		d.Detach(child, func() { childCleaned = true })
		close(done)
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("detach from inside a task deadlocked")
	}
	assert.True(t, childRan)
	assert.True(t, childCleaned)
}

func TestDetachTwicePanics(t *testing.T) {
	d := newTestDispatcher(t, 1)
	id := NewObjectID()
	d.Attach(id)
	d.Detach(id, nil)

	requireMisuse(t, ErrNotAttached, func() {
		d.Detach(id, nil)
	})
}

func TestTerminateDrainsAndIsIdempotent(t *testing.T) {
	d := New(WithWorkers(3))
	id := NewObjectID()
	d.Attach(id)

	var count atomic.Int32
	for range 100 {
		d.Enqueue(id, func() {
			time.Sleep(100 * time.Microsecond)
			count.Add(1)
		})
	}

	d.Terminate()
	assert.Equal(t, int32(100), count.Load())

	d.Terminate()

	d.Enqueue(id, func() { count.Add(1) })
	assert.Equal(t, int32(100), count.Load(), "enqueue after terminate must not run")
}

func TestDetachAfterTerminateRunsCleanup(t *testing.T) {
	d := New(WithWorkers(1))
	id := NewObjectID()
	d.Attach(id)
	d.Terminate()

	cleaned := false
	d.Detach(id, func() { cleaned = true })
	assert.True(t, cleaned)
	assert.False(t, d.Attached(id))
}

func TestEnqueueUnattachedPanicsAfterTerminate(t *testing.T) {
	d := New(WithWorkers(2))
	id := NewObjectID()
	d.Attach(id)
	d.Detach(id, nil)
	d.Terminate()

	requireMisuse(t, ErrNotAttached, func() {
		d.Enqueue(id, func() {})
	})
	requireMisuse(t, ErrNotAttached, func() {
		d.Enqueue(NewObjectID(), func() {})
	})
}

func TestAttachAfterTerminateDropsTasks(t *testing.T) {
	d := New(WithWorkers(1))
	d.Terminate()

	id := NewObjectID()
	d.Attach(id)
	require.True(t, d.Attached(id))

	ran := false
	assert.NotPanics(t, func() {
		d.Enqueue(id, func() { ran = true })
	})

	cleaned := false
	d.Detach(id, func() { cleaned = true })
	assert.False(t, ran)
	assert.True(t, cleaned)
	assert.False(t, d.Attached(id))
}
