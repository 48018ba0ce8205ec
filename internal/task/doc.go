// Package task runs media tasks against processing engines. The
// Orchestrator drives a single task through download, engine invocation,
// retry and result persistence; the Runner feeds it from an in-memory queue
// drained by a worker pool so callers can submit work without blocking, and
// requeues unfinished work after a restart.
package task
