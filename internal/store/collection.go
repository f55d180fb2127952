package store

import (
	"context"
	"errors"

	"github.com/roach88/audittrail/internal/logentry"
	"github.com/roach88/audittrail/internal/query"
)

// ErrUnavailable marks a failure to reach the backing store. Open wraps it
// on connection failure; callers treat it as fatal at startup.
var ErrUnavailable = errors.New("store unavailable")

// Collection is an append-only keyed collection of log entries.
type Collection interface {
	// Name identifies the collection in logs and metrics.
	Name() string

	// InsertOne stores e. An existing id is left untouched.
	InsertOne(ctx context.Context, e logentry.LogEntry) error

	// InsertBatch stores entries atomically where the backend allows.
	// Existing ids are left untouched.
	InsertBatch(ctx context.Context, entries []logentry.LogEntry) error

	// Upsert inserts e or replaces the entry with the same id.
	Upsert(ctx context.Context, e logentry.LogEntry) error

	// Find returns a cursor over entries matching p. The caller must Close
	// it.
	Find(ctx context.Context, p query.Predicate, opts query.Options) (Cursor, error)

	// Count returns how many entries match p.
	Count(ctx context.Context, p query.Predicate) (int64, error)

	// DeleteOne removes the entry with id. Deleting a missing id is not an
	// error.
	DeleteOne(ctx context.Context, id string) error
}

// Cursor iterates lazily over a find result.
//
//	cur, err := coll.Find(ctx, p, opts)
//	if err != nil { ... }
//	defer cur.Close()
//	for cur.Next(ctx) {
//		e, err := cur.Decode()
//		...
//	}
//	if err := cur.Err(); err != nil { ... }
type Cursor interface {
	Next(ctx context.Context) bool

	// Decode returns the current entry. An error means this row could not
	// be decoded; iteration may continue.
	Decode() (logentry.LogEntry, error)

	Err() error
	Close() error
}

// Backend bundles the primary and archive collections of one store.
type Backend interface {
	Logs() Collection
	Archive() Collection
	Ping(ctx context.Context) error
	Close() error
}

// Collect drains a cursor into a slice, stopping at the first decode error.
// Intended for small result sets such as archival pages and tests.
func Collect(ctx context.Context, cur Cursor) ([]logentry.LogEntry, error) {
	defer cur.Close()

	entries := []logentry.LogEntry{}
	for cur.Next(ctx) {
		e, err := cur.Decode()
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}
