package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/audittrail/internal/logentry"
)

// sqliteCollection is one table of the SQLite backend.
type sqliteCollection struct {
	db    *sql.DB
	table string
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (c *sqliteCollection) Name() string {
	return c.table
}

// InsertOne inserts e. Uses ON CONFLICT(id) DO NOTHING so a duplicate id is
// silently ignored; other constraint violations still fail.
func (c *sqliteCollection) InsertOne(ctx context.Context, e logentry.LogEntry) error {
	if err := c.insert(ctx, c.db, e); err != nil {
		return fmt.Errorf("insert into %s: %w", c.table, err)
	}
	return nil
}

// InsertBatch inserts entries in a single transaction. Either every new
// row is committed or none is.
func (c *sqliteCollection) InsertBatch(ctx context.Context, entries []logentry.LogEntry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("insert batch into %s: begin: %w", c.table, err)
	}
	defer tx.Rollback()

	for _, e := range entries {
		if err := c.insert(ctx, tx, e); err != nil {
			return fmt.Errorf("insert batch into %s: %w", c.table, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("insert batch into %s: commit: %w", c.table, err)
	}
	return nil
}

func (c *sqliteCollection) insert(ctx context.Context, ex execer, e logentry.LogEntry) error {
	details, err := marshalDetails(e.Details)
	if err != nil {
		return fmt.Errorf("entry %s: %w", e.ID, err)
	}

	_, err = ex.ExecContext(ctx, `
		INSERT INTO `+c.table+`
		(id, timestamp, action, user_id, details, signature)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		e.ID,
		e.Timestamp.Unix(),
		e.Action,
		nullString(e.UserID),
		details,
		e.Signature,
	)
	if err != nil {
		return fmt.Errorf("entry %s: %w", e.ID, err)
	}
	return nil
}

// Upsert inserts e or overwrites every column of the row with the same id.
func (c *sqliteCollection) Upsert(ctx context.Context, e logentry.LogEntry) error {
	details, err := marshalDetails(e.Details)
	if err != nil {
		return fmt.Errorf("upsert into %s: entry %s: %w", c.table, e.ID, err)
	}

	_, err = c.db.ExecContext(ctx, `
		INSERT INTO `+c.table+`
		(id, timestamp, action, user_id, details, signature)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			timestamp = excluded.timestamp,
			action    = excluded.action,
			user_id   = excluded.user_id,
			details   = excluded.details,
			signature = excluded.signature
	`,
		e.ID,
		e.Timestamp.Unix(),
		e.Action,
		nullString(e.UserID),
		details,
		e.Signature,
	)
	if err != nil {
		return fmt.Errorf("upsert into %s: entry %s: %w", c.table, e.ID, err)
	}
	return nil
}

// DeleteOne removes the row with id, if present.
func (c *sqliteCollection) DeleteOne(ctx context.Context, id string) error {
	if _, err := c.db.ExecContext(ctx, `DELETE FROM `+c.table+` WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete from %s: %w", c.table, err)
	}
	return nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
