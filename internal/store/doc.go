// Package store persists audit log entries.
//
// It defines the Collection contract every backend satisfies (insertOne,
// insertBatch, upsert, find, count, deleteOne) and ships the default
// SQLite backend. The MongoDB backend lives in store/mongo.
//
// A backend exposes two structurally identical collections: the primary
// log and the archive.
//
// # Idempotency
//
//   - InsertOne and InsertBatch ignore rows whose id already exists, so a
//     retried or replayed flush never duplicates a record.
//   - Upsert replaces by id, so re-running an archival pass converges.
//
// # Ordering
//
// Find always orders by timestamp with an id tiebreaker, newest first unless
// the options ask otherwise. Indexes cover (user_id, timestamp DESC),
// (action, timestamp DESC) and (timestamp DESC).
//
// # Database Configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL: balance durability and throughput
//   - busy_timeout: the configured store timeout (default 2000ms)
//   - foreign_keys=ON
//
// Timestamps are stored as Unix seconds; details as canonical JSON text.
package store
