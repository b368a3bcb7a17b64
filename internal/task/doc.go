// Package task runs claimed tasks to a terminal state.
//
// An Executor owns a pool of workers. Each worker claims one task at a time
// through the store's conditional write, calls the generator with no store
// transaction open, and finalizes the task and its related entity in one
// transaction. The Reaper fails tasks whose leases keep expiring and the
// Reconciler repairs related entities whose mirrored status fell behind.
package task
