// Package batch amortizes writes: producers append unsigned entries to a
// bounded in-memory Buffer, and a single Flusher drains it when it fills
// or on a timer, signs the drained entries and persists them as one batch.
//
// A batch whose insert keeps failing is written to a JSONL dead-letter
// file with its ids and signatures intact, so it can be replayed later
// without creating duplicates.
//
// Entries still in the buffer are lost if the process exits before a
// flush.
package batch
