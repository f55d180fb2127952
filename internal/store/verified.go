package store

import (
	"context"
	"log/slog"

	"github.com/roach88/audittrail/internal/logentry"
	"github.com/roach88/audittrail/internal/telemetry"
)

// Verifier checks an entry's signature against its fields.
type Verifier interface {
	Verify(e logentry.LogEntry) bool
}

// Rejection describes a stored row left out of a verified read. Err is
// set when the row could not be decoded and nil on a signature mismatch.
type Rejection struct {
	Collection string
	ID         string
	Err        error
}

// VerifiedCursor yields only entries that decode and verify. Rejected
// rows are passed to the reject callback and skipped, never returned as
// errors.
type VerifiedCursor struct {
	cur    Cursor
	name   string
	v      Verifier
	reject func(Rejection)
	entry  logentry.LogEntry
}

// NewVerifiedCursor wraps cur. A nil reject discards rejections.
func NewVerifiedCursor(cur Cursor, collection string, v Verifier, reject func(Rejection)) *VerifiedCursor {
	if reject == nil {
		reject = func(Rejection) {}
	}
	return &VerifiedCursor{cur: cur, name: collection, v: v, reject: reject}
}

// Next advances to the next trusted entry.
func (c *VerifiedCursor) Next(ctx context.Context) bool {
	for c.cur.Next(ctx) {
		e, err := c.cur.Decode()
		if err != nil {
			c.reject(Rejection{Collection: c.name, ID: e.ID, Err: err})
			continue
		}
		if !c.v.Verify(e) {
			c.reject(Rejection{Collection: c.name, ID: e.ID})
			continue
		}
		c.entry = e
		return true
	}
	return false
}

// Entry returns the current entry.
func (c *VerifiedCursor) Entry() logentry.LogEntry {
	return c.entry
}

func (c *VerifiedCursor) Err() error {
	return c.cur.Err()
}

func (c *VerifiedCursor) Close() error {
	return c.cur.Close()
}

// ReportRejections returns a reject callback that counts and logs each
// excluded row. Signature mismatches go to
// audittrail_tampered_records_total, decode failures to
// audittrail_undecodable_records_total.
func ReportRejections(logger *slog.Logger, m *telemetry.Metrics) func(Rejection) {
	if logger == nil {
		logger = slog.Default()
	}
	m = telemetry.Discard(m)
	return func(r Rejection) {
		if r.Err != nil {
			m.DecodeFailures.WithLabelValues(r.Collection).Inc()
			logger.Warn("excluding undecodable record", "collection", r.Collection, "id", r.ID, "error", r.Err)
			return
		}
		m.Tampered.WithLabelValues(r.Collection).Inc()
		logger.Warn("excluding record with invalid signature", "collection", r.Collection, "id", r.ID)
	}
}
