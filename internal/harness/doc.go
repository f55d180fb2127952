// Package harness runs conformance scenarios against the audit trail engine.
//
// A scenario drives a fresh engine over an in-memory SQLite store with a
// manual clock and sequential record ids, so every run produces the same
// trace and can be compared against a golden file.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: tamper_detection
//	description: "A modified record disappears from reads"
//	steps:
//	  - op: create
//	    action: login
//	    user: u1
//	    details: { ip: "1.2.3.4" }
//	  - op: flush
//	  - op: tamper
//	    id: entry-000001
//	    field: action
//	    value: tampered
//	  - op: list
//	    expect: { count: 0 }
//	assertions:
//	  - type: collection_count
//	    collection: logs
//	    count: 1
//
// # Operations
//
//   - create: queue an entry (repeat N times, optionally advancing the clock by every)
//   - flush: persist everything buffered
//   - advance: move the clock by duration and/or days
//   - tamper: overwrite one stored column of one record, bypassing the signer
//   - archive: run one archival pass for records older than days
//   - list: read one verified page (filter, limit, offset)
//   - export: stream verified records in format and record the self-audit entry
//   - verify: scan a collection and report rejected ids
//
// # Assertion Types
//
//   - collection_count: the logs or archive collection holds exactly count rows
//   - all_valid: every row in the collection verifies
//   - trace_count: op was executed exactly count times
//
// # Deterministic Testing
//
// The engine runs its flush loop in the background, so capacity-triggered
// flushes happen as they would in production. Trace outcomes only record
// values that do not depend on that timing.
package harness
