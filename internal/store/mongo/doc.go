// Package mongo is the MongoDB backend for audit log storage.
//
// Entries live in the audit_logs and logs_archive collections of the
// configured database, keyed by _id = entry id. Details are stored as a
// native subdocument; integers are written as int64 so they decode back to
// the same canonical form. Timestamps are BSON dates at whole-second
// precision.
//
// Idempotency matches the SQLite backend: inserts ignore duplicate-key
// errors and archive writes use ReplaceOne with upsert.
package mongo
