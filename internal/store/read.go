package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/roach88/audittrail/internal/logentry"
	"github.com/roach88/audittrail/internal/query"
)

const entryColumns = "id, timestamp, action, user_id, details, signature"

// Find runs the compiled predicate and returns a cursor over the rows.
// Rows are decoded one at a time as the caller advances.
func (c *sqliteCollection) Find(ctx context.Context, p query.Predicate, opts query.Options) (Cursor, error) {
	stmt, params, err := query.CompileSQL(c.table, entryColumns, p, opts)
	if err != nil {
		return nil, fmt.Errorf("find in %s: %w", c.table, err)
	}

	rows, err := c.db.QueryContext(ctx, stmt, params...)
	if err != nil {
		return nil, fmt.Errorf("find in %s: %w", c.table, err)
	}
	return &rowsCursor{rows: rows, table: c.table}, nil
}

// Count returns the number of rows matching p.
func (c *sqliteCollection) Count(ctx context.Context, p query.Predicate) (int64, error) {
	stmt, params, err := query.CompileCountSQL(c.table, p)
	if err != nil {
		return 0, fmt.Errorf("count in %s: %w", c.table, err)
	}

	var n int64
	if err := c.db.QueryRowContext(ctx, stmt, params...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count in %s: %w", c.table, err)
	}
	return n, nil
}

// rowsCursor adapts *sql.Rows to Cursor.
type rowsCursor struct {
	rows  *sql.Rows
	table string
}

func (c *rowsCursor) Next(_ context.Context) bool {
	return c.rows.Next()
}

func (c *rowsCursor) Decode() (logentry.LogEntry, error) {
	return scanEntry(c.rows)
}

func (c *rowsCursor) Err() error {
	if err := c.rows.Err(); err != nil {
		return fmt.Errorf("iterate %s: %w", c.table, err)
	}
	return nil
}

func (c *rowsCursor) Close() error {
	return c.rows.Close()
}

// scanEntry scans a row into a LogEntry.
func scanEntry(rows *sql.Rows) (logentry.LogEntry, error) {
	var (
		e       logentry.LogEntry
		ts      int64
		userID  sql.NullString
		details string
	)
	if err := rows.Scan(&e.ID, &ts, &e.Action, &userID, &details, &e.Signature); err != nil {
		return logentry.LogEntry{}, fmt.Errorf("scan entry: %w", err)
	}

	e.Timestamp = time.Unix(ts, 0).UTC()
	if userID.Valid {
		u := userID.String
		e.UserID = &u
	}

	obj, err := unmarshalDetails(details)
	if err != nil {
		return e, fmt.Errorf("entry %s: %w", e.ID, err)
	}
	e.Details = obj
	return e, nil
}
