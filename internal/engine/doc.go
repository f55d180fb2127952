// Package engine is the facade over the audit trail: it accepts new
// entries into the buffer, serves verified reads and exports, and
// schedules archival.
//
// ARCHITECTURE:
//
// Write path:
//  1. Create validates the request and appends an unsigned entry to the
//     bounded buffer. Appends block while the buffer is full.
//  2. The flusher, started by Run, drains the buffer when it fills or
//     every flush interval, signs each entry and inserts the batch.
//  3. Inserts are retried with a constant delay. A batch that still
//     fails is dead-lettered with its signatures intact.
//
// Read path:
//
// List, Export and Verify pass every stored row through the signer.
// Rows that fail verification are never returned; they are counted in
// audittrail_tampered_records_total and logged.
//
// Archival:
//
// Archive schedules a relocation pass on the task runner and returns the
// job immediately. ArchiveNow runs the pass in the caller's goroutine.
//
// CRITICAL PATTERNS:
//   - Entries are signed exactly once, before the first insert attempt,
//     so retries and replays carry the same ids.
//   - Every write is idempotent by id.
//   - Caller input errors are *ValidationError; check with IsValidation.
package engine
