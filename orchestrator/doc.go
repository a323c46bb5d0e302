// Package orchestrator runs ingestion tasks on a bounded worker pool.
//
// Every submitted document version becomes a core.Task that moves through
//
//	PENDING -> PROCESSING -> SUCCEEDED | FAILED
//	PROCESSING -> PENDING (transient failure, retried after backoff)
//	PENDING -> CANCELLED
//
// Submissions are deduplicated by idempotency key. While a task for a key is
// PENDING or PROCESSING, submitting the key again returns that task. After it
// SUCCEEDED the stored task is returned and the pipeline is not run again.
// After FAILED or CANCELLED a new task is created.
//
// The backlog is bounded: every admitted task that has not reached a terminal
// state counts against MaxQueueDepth, and submissions beyond it fail with
// core.ErrCapacity.
//
// A single dispatcher goroutine owns the FIFO queue. Submitters and retry
// timers send it task IDs; workers report back when a run finishes. Task
// records are saved to the task repository on every transition so status
// survives a restart; tasks left unfinished by a previous process are marked
// FAILED by Start, since their text is not retained.
package orchestrator
