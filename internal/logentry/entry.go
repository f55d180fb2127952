package logentry

import (
	"fmt"
	"time"

	"github.com/roach88/audittrail/internal/value"
)

// TimestampLayout is the canonical timestamp form used in signing input.
// The offset is always +00:00 because timestamps are normalized to UTC.
const TimestampLayout = "2006-01-02 15:04:05+00:00"

// LogEntry is a signed audit record. Once Signature is set the entry is
// never modified; changing any field makes verification fail.
type LogEntry struct {
	ID        string       `json:"id"`
	Timestamp time.Time    `json:"timestamp"`
	Action    string       `json:"action"`
	UserID    *string      `json:"user_id"`
	Details   value.Object `json:"details"`
	Signature string       `json:"signature"`
}

// ArchiveEntry is a LogEntry relocated to the archive collection.
type ArchiveEntry = LogEntry

// Pending is an unsigned entry waiting in the buffer. It exists only in
// process memory and is lost if the process exits before a flush.
type Pending struct {
	Action    string
	UserID    *string
	Details   value.Object
	CreatedAt time.Time
}

// CanonicalTimestamp formats t in UTC at whole-second resolution.
func CanonicalTimestamp(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format(TimestampLayout)
}

// SigningPayload returns the canonical bytes covered by the signature:
// every field except the signature itself, keys sorted.
func (e LogEntry) SigningPayload() ([]byte, error) {
	var user value.Value = value.Null{}
	if e.UserID != nil {
		user = value.String(*e.UserID)
	}
	details := e.Details
	if details == nil {
		details = value.Object{}
	}

	payload := value.Object{
		"id":        value.String(e.ID),
		"timestamp": value.String(CanonicalTimestamp(e.Timestamp)),
		"action":    value.String(e.Action),
		"user_id":   user,
		"details":   details,
	}
	b, err := value.MarshalCanonical(payload)
	if err != nil {
		return nil, fmt.Errorf("canonicalize entry %s: %w", e.ID, err)
	}
	return b, nil
}

// UserIDValue returns the user id or "" when absent.
func (e LogEntry) UserIDValue() string {
	if e.UserID == nil {
		return ""
	}
	return *e.UserID
}

// StringPtr returns a pointer to s, or nil for the empty string.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
