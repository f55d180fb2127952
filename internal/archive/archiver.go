package archive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/audittrail/internal/logentry"
	"github.com/roach88/audittrail/internal/query"
	"github.com/roach88/audittrail/internal/store"
	"github.com/roach88/audittrail/internal/tasks"
	"github.com/roach88/audittrail/internal/telemetry"
)

const (
	// DefaultDays is the age threshold used when none is given.
	DefaultDays = 30
	// PageSize is the number of entries relocated per read.
	PageSize = 500

	// TaskName labels archive jobs in the runner and in metrics.
	TaskName = "archive"

	DefaultMaxAttempts = 3
	DefaultRetryDelay  = 60 * time.Second
)

// ErrInvalidDays is returned for a negative cutoff.
var ErrInvalidDays = errors.New("days must be a non-negative integer")

// Result reports one archival pass.
type Result struct {
	Cutoff time.Time `json:"cutoff"`
	Moved  int       `json:"moved"`
}

// Options configures an Archiver.
type Options struct {
	// Now is the clock used to compute the cutoff. Default time.Now.
	Now     func() time.Time
	Logger  *slog.Logger
	Metrics *telemetry.Metrics
}

// Archiver moves entries older than a cutoff from the primary collection
// to the archive.
type Archiver struct {
	backend store.Backend
	now     func() time.Time
	logger  *slog.Logger
	metrics *telemetry.Metrics
}

// New creates an archiver over backend's collections.
func New(backend store.Backend, opts Options) *Archiver {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Archiver{
		backend: backend,
		now:     opts.Now,
		logger:  opts.Logger,
		metrics: telemetry.Discard(opts.Metrics),
	}
}

// Archive relocates every primary entry with a timestamp before
// now - days*24h. It ignores cancellation of ctx once started.
func (a *Archiver) Archive(ctx context.Context, days int) (Result, error) {
	if days < 0 {
		return Result{}, ErrInvalidDays
	}

	cutoff := a.now().UTC().Add(-time.Duration(days) * 24 * time.Hour)
	res := Result{Cutoff: cutoff}

	ctx = context.WithoutCancel(ctx)
	ctx, span := telemetry.Tracer().Start(ctx, "archive.pass")
	defer span.End()
	span.SetAttributes(attribute.Int("audittrail.archive.days", days))

	logs, arch := a.backend.Logs(), a.backend.Archive()
	older := query.TimeLT{Time: cutoff}

	// Undecodable rows stay behind; skipping past them keeps the pass
	// moving.
	skipped := 0
	for {
		page, bad, err := a.readPage(ctx, logs, older, skipped)
		if err != nil {
			return a.fail(span, res, fmt.Errorf("read page: %w", err))
		}
		skipped += bad

		for _, e := range page {
			if err := arch.Upsert(ctx, e); err != nil {
				return a.fail(span, res, err)
			}
			if err := logs.DeleteOne(ctx, e.ID); err != nil {
				return a.fail(span, res, err)
			}
			res.Moved++
			a.metrics.ArchivedEntries.Inc()
		}

		if len(page)+bad < PageSize {
			break
		}
	}

	span.SetAttributes(attribute.Int("audittrail.archive.moved", res.Moved))
	a.logger.Info("archive pass complete",
		"cutoff", cutoff.Format(time.RFC3339), "moved", res.Moved, "skipped", skipped)
	return res, nil
}

func (a *Archiver) readPage(ctx context.Context, c store.Collection, p query.Predicate, offset int) ([]logentry.LogEntry, int, error) {
	cur, err := c.Find(ctx, p, query.Options{Sort: query.OldestFirst, Limit: PageSize, Offset: offset})
	if err != nil {
		return nil, 0, err
	}
	defer cur.Close()

	var page []logentry.LogEntry
	bad := 0
	for cur.Next(ctx) {
		e, err := cur.Decode()
		if err != nil {
			bad++
			a.metrics.DecodeFailures.WithLabelValues(c.Name()).Inc()
			a.logger.Warn("skipping undecodable entry", "collection", c.Name(), "error", err)
			continue
		}
		page = append(page, e)
	}
	return page, bad, cur.Err()
}

func (a *Archiver) fail(span trace.Span, res Result, err error) (Result, error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, "archive pass failed")
	return res, fmt.Errorf("archive after %d moved: %w", res.Moved, err)
}

// Scheduler runs archival passes on a task runner.
type Scheduler struct {
	archiver *Archiver
	runner   *tasks.Runner
	policy   tasks.RetryPolicy
}

// NewScheduler creates a scheduler. Zero policy fields select the
// defaults of 3 attempts 60 seconds apart.
func NewScheduler(a *Archiver, r *tasks.Runner, policy tasks.RetryPolicy) *Scheduler {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = DefaultMaxAttempts
	}
	if policy.Delay <= 0 {
		policy.Delay = DefaultRetryDelay
	}
	return &Scheduler{archiver: a, runner: r, policy: policy}
}

// Schedule validates days and queues a pass. It returns the job
// acknowledgement without waiting for the pass to run.
func (s *Scheduler) Schedule(days int) (tasks.Job, error) {
	if days < 0 {
		return tasks.Job{}, ErrInvalidDays
	}
	return s.runner.Schedule(TaskName, func(ctx context.Context) (any, error) {
		return s.archiver.Archive(ctx, days)
	}, s.policy)
}

// Status returns the job with id.
func (s *Scheduler) Status(id string) (tasks.Job, bool) {
	return s.runner.Get(id)
}
