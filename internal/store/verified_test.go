package store

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/roach88/audittrail/internal/logentry"
	"github.com/roach88/audittrail/internal/query"
	"github.com/roach88/audittrail/internal/telemetry"
)

// sigVerifier accepts entries whose signature is "sig-" + id, matching
// createTestEntry.
type sigVerifier struct{}

func (sigVerifier) Verify(e logentry.LogEntry) bool {
	return e.Signature == "sig-"+e.ID
}

func TestVerifiedCursorExcludesRejectedRows(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	good1 := createTestEntry("a", "login", "u1", 1)
	tampered := createTestEntry("b", "login", "u1", 2)
	tampered.Signature = "forged"
	good2 := createTestEntry("c", "logout", "u1", 3)
	if err := s.Logs().InsertBatch(ctx, []logentry.LogEntry{good1, tampered, good2}); err != nil {
		t.Fatalf("InsertBatch() failed: %v", err)
	}
	if _, err := s.DB().Exec(
		`INSERT INTO audit_logs (id, timestamp, action, user_id, details, signature) VALUES ('d', ?, 'x', NULL, '[', 'sig-d')`,
		baseTime.Unix()); err != nil {
		t.Fatalf("corrupt row: %v", err)
	}

	var rejected []Rejection
	cur := NewVerifiedCursor(mustFind(t, s.Logs(), nil, query.Options{Sort: query.OldestFirst}),
		LogsTable, sigVerifier{}, func(r Rejection) { rejected = append(rejected, r) })
	defer cur.Close()

	var got []string
	for cur.Next(ctx) {
		got = append(got, cur.Entry().ID)
	}
	if err := cur.Err(); err != nil {
		t.Fatalf("cursor error: %v", err)
	}

	if !equalIDs(got, []string{"a", "c"}) {
		t.Errorf("verified ids = %v, want [a c]", got)
	}
	if len(rejected) != 2 {
		t.Fatalf("rejections = %d, want 2", len(rejected))
	}
	for _, r := range rejected {
		switch r.ID {
		case "b":
			if r.Err != nil {
				t.Errorf("tampered row reported decode error: %v", r.Err)
			}
		case "d":
			if r.Err == nil {
				t.Error("corrupt row reported without decode error")
			}
		default:
			t.Errorf("unexpected rejection %q", r.ID)
		}
	}
}

func TestReportRejections(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	m := telemetry.NewMetrics(false)
	report := ReportRejections(logger, m)

	report(Rejection{Collection: LogsTable, ID: "x"})
	report(Rejection{Collection: LogsTable, ID: "y"})
	report(Rejection{Collection: ArchiveTable, ID: "z", Err: errors.New("corrupt")})

	if got := testutil.ToFloat64(m.Tampered.WithLabelValues(LogsTable)); got != 2 {
		t.Errorf("tampered count = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.DecodeFailures.WithLabelValues(ArchiveTable)); got != 1 {
		t.Errorf("decode failure count = %v, want 1", got)
	}
	if !strings.Contains(buf.String(), "id=x") {
		t.Errorf("log output missing record id: %s", buf.String())
	}
}
