// Package dispatcher provides the serialized, per-owner task executor every
// observer component is built on.
//
// Each component mints an ObjectID, attaches it, and expresses every mutation
// of its own state as a task enqueued on that id:
//
//	id := dispatcher.NewObjectID()
//	d.Attach(id)
//	d.Enqueue(id, func() { c.state = next })
//	...
//	d.Detach(id, func() { c.closeSocket() })
//
// Guarantees:
//   - Tasks enqueued on the same id run in enqueue order and never overlap.
//   - Tasks on different ids run in parallel on the worker pool.
//   - Enqueue never blocks. Detach blocks until its cleanup has run.
//   - Terminate stops intake and drains everything already queued.
//
// Misuse (enqueueing on an id that was never attached or has been detached)
// indicates a lifecycle bug and panics with a *MisuseError.
//
// Tasks enqueued while a Detach is pending are discarded: the cleanup is
// always the last task an id runs.
package dispatcher
