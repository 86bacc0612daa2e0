// Package engine provides the asynchronous generation job executor.
// It drives each job through its progress checkpoints, borrowing a pipeline
// handle from the shared cache, invoking the synthesis worker, persisting
// artifacts, and committing the finished record to history. It also owns
// cooperative cancellation and the broker that fans job snapshots out to
// progress stream subscribers.
package engine
