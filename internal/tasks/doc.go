// Package tasks runs background work with bounded retries.
//
// Retry wraps a single idempotent operation in a constant-delay retry loop.
// Runner executes named tasks on a fixed number of worker slots, tracks
// each job's status, and reports exhausted retries through metrics and
// logs rather than to the caller that scheduled the job.
//
// Delivery is at-least-once: a task may run more than once, so tasks must
// be safe to repeat.
package tasks
