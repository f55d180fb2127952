package export

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/roach88/audittrail/internal/logentry"
	"github.com/roach88/audittrail/internal/query"
	"github.com/roach88/audittrail/internal/store"
	"github.com/roach88/audittrail/internal/telemetry"
	"github.com/roach88/audittrail/internal/value"
)

const (
	// SelfAuditAction is the action of the entry recorded after each export.
	SelfAuditAction = "export_logs"

	// DefaultFlushEvery is how many entries are written between flushes.
	DefaultFlushEvery = 100
)

// Recorder accepts the self-audit entry. The entry buffer satisfies it.
type Recorder interface {
	Append(ctx context.Context, p logentry.Pending) error
}

// Request describes one export.
type Request struct {
	Filter    query.Filter
	Format    Format
	Requester *string
	// Flush, when set, is called after each group of entries reaches the
	// writer, so clients start receiving data early.
	Flush func()
}

// Options configures a Streamer.
type Options struct {
	FlushEvery int
	Now        func() time.Time
	Logger     *slog.Logger
	Metrics    *telemetry.Metrics
}

// Streamer writes verified entries from a collection to a writer.
type Streamer struct {
	src        store.Collection
	verifier   store.Verifier
	recorder   Recorder
	flushEvery int
	now        func() time.Time
	logger     *slog.Logger
	metrics    *telemetry.Metrics
	reject     func(store.Rejection)
}

// New creates a streamer over src. Verified entries are written; the
// self-audit entry goes to rec.
func New(src store.Collection, v store.Verifier, rec Recorder, opts Options) *Streamer {
	if opts.FlushEvery <= 0 {
		opts.FlushEvery = DefaultFlushEvery
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	m := telemetry.Discard(opts.Metrics)
	return &Streamer{
		src:        src,
		verifier:   v,
		recorder:   rec,
		flushEvery: opts.FlushEvery,
		now:        opts.Now,
		logger:     opts.Logger,
		metrics:    m,
		reject:     store.ReportRejections(opts.Logger, m),
	}
}

// Export writes every verified entry matching req.Filter to w, newest
// first, and returns how many were written. Entries failing verification
// are left out.
//
// After the last entry is written, an export_logs entry recording the
// count, filter and format is appended through the recorder. A failed
// export records nothing.
func (s *Streamer) Export(ctx context.Context, w io.Writer, req Request) (n int, err error) {
	if err := req.Filter.Validate(); err != nil {
		return 0, err
	}
	if req.Format == "" {
		req.Format = FormatJSON
	}
	if _, err := ParseFormat(string(req.Format)); err != nil {
		return 0, err
	}

	ctx, span := telemetry.Tracer().Start(ctx, "export.stream")
	defer func() {
		span.SetAttributes(attribute.Int("audittrail.export.count", n))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "export failed")
		}
		span.End()
	}()
	span.SetAttributes(attribute.String("audittrail.export.format", string(req.Format)))

	raw, err := s.src.Find(ctx, req.Filter.Predicate(), query.Options{Sort: query.NewestFirst})
	if err != nil {
		return 0, fmt.Errorf("export: %w", err)
	}
	cur := store.NewVerifiedCursor(raw, s.src.Name(), s.verifier, s.reject)
	defer cur.Close()

	bw := bufio.NewWriter(w)
	enc := newEncoder(req.Format, bw)
	flush := func() error {
		if err := bw.Flush(); err != nil {
			return err
		}
		if req.Flush != nil {
			req.Flush()
		}
		return nil
	}

	for cur.Next(ctx) {
		if err := enc.Encode(cur.Entry()); err != nil {
			return n, fmt.Errorf("export: encode entry: %w", err)
		}
		n++
		if n%s.flushEvery == 0 {
			if err := flush(); err != nil {
				return n, fmt.Errorf("export: write: %w", err)
			}
		}
	}
	if err := cur.Err(); err != nil {
		return n, fmt.Errorf("export: %w", err)
	}
	if err := enc.Close(); err != nil {
		return n, fmt.Errorf("export: encode: %w", err)
	}
	if err := flush(); err != nil {
		return n, fmt.Errorf("export: write: %w", err)
	}

	s.metrics.Exports.WithLabelValues(string(req.Format)).Inc()
	if err := s.recordExport(ctx, req, n); err != nil {
		return n, err
	}
	s.logger.Info("export complete", "format", req.Format, "count", n, "requester", deref(req.Requester))
	return n, nil
}

func (s *Streamer) recordExport(ctx context.Context, req Request, n int) error {
	if s.recorder == nil {
		return nil
	}
	err := s.recorder.Append(ctx, logentry.Pending{
		Action: SelfAuditAction,
		UserID: req.Requester,
		Details: value.Object{
			"count":  value.Int(int64(n)),
			"filter": req.Filter.Object(),
			"format": value.String(string(req.Format)),
		},
		CreatedAt: s.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("export: record self-audit entry: %w", err)
	}
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
