package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/roach88/audittrail/internal/logentry"
	"github.com/roach88/audittrail/internal/query"
	"github.com/roach88/audittrail/internal/store"
)

const (
	// LogsCollection holds live entries.
	LogsCollection = "audit_logs"
	// ArchiveCollection holds relocated entries.
	ArchiveCollection = "logs_archive"

	duplicateKeyCode = 11000
)

// Options configures Open.
type Options struct {
	URI      string
	Database string
	// Timeout bounds connect and server selection. Zero means
	// store.DefaultTimeout.
	Timeout time.Duration
}

// Store is the MongoDB backend.
type Store struct {
	client  *mongo.Client
	logs    *collection
	archive *collection
}

var _ store.Backend = (*Store)(nil)

// Open connects, pings within the timeout and ensures indexes on both
// collections. A connection failure is wrapped in store.ErrUnavailable.
func Open(ctx context.Context, opts Options) (*Store, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = store.DefaultTimeout
	}

	clientOpts := options.Client().
		ApplyURI(opts.URI).
		SetConnectTimeout(opts.Timeout).
		SetServerSelectionTimeout(opts.Timeout)

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("%w: connect: %v", store.ErrUnavailable, err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("%w: ping: %v", store.ErrUnavailable, err)
	}

	db := client.Database(opts.Database)
	s := &Store{
		client:  client,
		logs:    &collection{coll: db.Collection(LogsCollection)},
		archive: &collection{coll: db.Collection(ArchiveCollection)},
	}

	for _, c := range []*collection{s.logs, s.archive} {
		if err := c.ensureIndexes(ctx); err != nil {
			_ = client.Disconnect(context.Background())
			return nil, err
		}
	}
	return s, nil
}

// Logs returns the primary collection.
func (s *Store) Logs() store.Collection {
	return s.logs
}

// Archive returns the archive collection.
func (s *Store) Archive() store.Collection {
	return s.archive
}

// Ping checks that the primary is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// Close disconnects the client.
func (s *Store) Close() error {
	return s.client.Disconnect(context.Background())
}

type collection struct {
	coll *mongo.Collection
}

func (c *collection) Name() string {
	return c.coll.Name()
}

func (c *collection) ensureIndexes(ctx context.Context) error {
	_, err := c.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "timestamp", Value: -1}}},
		{Keys: bson.D{{Key: "action", Value: 1}, {Key: "timestamp", Value: -1}}},
		{Keys: bson.D{{Key: "timestamp", Value: -1}}},
	})
	if err != nil {
		return fmt.Errorf("create indexes on %s: %w", c.Name(), err)
	}
	return nil
}

// InsertOne inserts e. A duplicate _id is ignored.
func (c *collection) InsertOne(ctx context.Context, e logentry.LogEntry) error {
	doc, err := toDocument(e)
	if err != nil {
		return fmt.Errorf("insert into %s: %w", c.Name(), err)
	}
	if _, err := c.coll.InsertOne(ctx, doc); err != nil && !mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("insert into %s: %w", c.Name(), err)
	}
	return nil
}

// InsertBatch inserts entries unordered so one existing id does not stop
// the rest. Duplicate-key failures are ignored; any other write error is
// returned and the caller retries the whole batch.
func (c *collection) InsertBatch(ctx context.Context, entries []logentry.LogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	docs := make([]any, len(entries))
	for i, e := range entries {
		doc, err := toDocument(e)
		if err != nil {
			return fmt.Errorf("insert batch into %s: %w", c.Name(), err)
		}
		docs[i] = doc
	}

	_, err := c.coll.InsertMany(ctx, docs, options.InsertMany().SetOrdered(false))
	if err == nil || onlyDuplicates(err) {
		return nil
	}
	return fmt.Errorf("insert batch into %s: %w", c.Name(), err)
}

func onlyDuplicates(err error) bool {
	var bwe mongo.BulkWriteException
	if !errors.As(err, &bwe) || bwe.WriteConcernError != nil || len(bwe.WriteErrors) == 0 {
		return false
	}
	for _, we := range bwe.WriteErrors {
		if we.Code != duplicateKeyCode {
			return false
		}
	}
	return true
}

// Upsert replaces the document with e's id, inserting it if absent.
func (c *collection) Upsert(ctx context.Context, e logentry.LogEntry) error {
	doc, err := toDocument(e)
	if err != nil {
		return fmt.Errorf("upsert into %s: %w", c.Name(), err)
	}
	_, err = c.coll.ReplaceOne(ctx, bson.D{{Key: "_id", Value: e.ID}}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("upsert into %s: entry %s: %w", c.Name(), e.ID, err)
	}
	return nil
}

// DeleteOne removes the document with id, if present.
func (c *collection) DeleteOne(ctx context.Context, id string) error {
	if _, err := c.coll.DeleteOne(ctx, bson.D{{Key: "_id", Value: id}}); err != nil {
		return fmt.Errorf("delete from %s: %w", c.Name(), err)
	}
	return nil
}

// Find returns a driver cursor over matching documents.
func (c *collection) Find(ctx context.Context, p query.Predicate, opts query.Options) (store.Cursor, error) {
	filter, err := compileFilter(p)
	if err != nil {
		return nil, fmt.Errorf("find in %s: %w", c.Name(), err)
	}

	dir := -1
	if opts.Sort == query.OldestFirst {
		dir = 1
	}
	findOpts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: dir}, {Key: "_id", Value: dir}})
	if opts.Limit > 0 {
		findOpts.SetLimit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		findOpts.SetSkip(int64(opts.Offset))
	}

	cur, err := c.coll.Find(ctx, filter, findOpts)
	if err != nil {
		return nil, fmt.Errorf("find in %s: %w", c.Name(), err)
	}
	return &cursor{cur: cur, name: c.Name()}, nil
}

// Count returns the number of matching documents.
func (c *collection) Count(ctx context.Context, p query.Predicate) (int64, error) {
	filter, err := compileFilter(p)
	if err != nil {
		return 0, fmt.Errorf("count in %s: %w", c.Name(), err)
	}
	n, err := c.coll.CountDocuments(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("count in %s: %w", c.Name(), err)
	}
	return n, nil
}

type cursor struct {
	cur  *mongo.Cursor
	name string
}

func (c *cursor) Next(ctx context.Context) bool {
	return c.cur.Next(ctx)
}

func (c *cursor) Decode() (logentry.LogEntry, error) {
	var doc document
	if err := c.cur.Decode(&doc); err != nil {
		return logentry.LogEntry{}, fmt.Errorf("decode %s document: %w", c.name, err)
	}
	return fromDocument(doc)
}

func (c *cursor) Err() error {
	if err := c.cur.Err(); err != nil {
		return fmt.Errorf("iterate %s: %w", c.name, err)
	}
	return nil
}

func (c *cursor) Close() error {
	return c.cur.Close(context.Background())
}
