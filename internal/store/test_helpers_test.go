package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/audittrail/internal/logentry"
	"github.com/roach88/audittrail/internal/value"
)

var baseTime = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

// createTestStore creates a file-backed store in a temp dir.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(context.Background(), path, Options{})
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestEntry creates an entry offset seconds after baseTime. The
// signature is a placeholder; the store never checks it.
func createTestEntry(id, action, user string, offset int) logentry.LogEntry {
	return logentry.LogEntry{
		ID:        id,
		Timestamp: baseTime.Add(time.Duration(offset) * time.Second),
		Action:    action,
		UserID:    logentry.StringPtr(user),
		Details:   value.Object{"n": value.Int(int64(offset))},
		Signature: "sig-" + id,
	}
}
