package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/roach88/audittrail/internal/archive"
	"github.com/roach88/audittrail/internal/batch"
	"github.com/roach88/audittrail/internal/export"
	"github.com/roach88/audittrail/internal/logentry"
	"github.com/roach88/audittrail/internal/query"
	"github.com/roach88/audittrail/internal/signer"
	"github.com/roach88/audittrail/internal/store"
	"github.com/roach88/audittrail/internal/tasks"
	"github.com/roach88/audittrail/internal/telemetry"
	"github.com/roach88/audittrail/internal/value"
)

const (
	// DefaultListLimit is the page size when a list request sets none.
	DefaultListLimit = 100
	// DefaultListMaxLimit caps the page size a caller may ask for.
	DefaultListMaxLimit = 1000
)

// Engine wires the buffer, flusher, task runner, archiver and export
// streamer around one store backend and one signer.
//
// Thread-safety model:
//   - Create, List, Export, Verify, Archive, ArchiveStatus: safe from any
//     goroutine
//   - Run: must be called from exactly one goroutine
type Engine struct {
	backend store.Backend
	signer  *signer.Signer

	buf       *batch.Buffer
	flusher   *batch.Flusher
	runner    *tasks.Runner
	archiver  *archive.Archiver
	scheduler *archive.Scheduler
	exporter  *export.Streamer

	cfg     config
	logger  *slog.Logger
	metrics *telemetry.Metrics
	reject  func(store.Rejection)
}

type config struct {
	bufferCapacity int
	flushInterval  time.Duration
	flushRetry     tasks.RetryPolicy
	archiveRetry   tasks.RetryPolicy
	workers        int
	deadLetter     batch.DeadLetterSink
	listLimit      int
	listMaxLimit   int
	now            func() time.Time
	logger         *slog.Logger
	metrics        *telemetry.Metrics
}

// Option configures an Engine.
type Option func(*config)

// WithBufferCapacity sets the number of entries that triggers a flush.
//
// Default: 100 (batch.DefaultCapacity)
func WithBufferCapacity(n int) Option {
	return func(c *config) { c.bufferCapacity = n }
}

// WithFlushInterval sets the timer flush period.
//
// Default: 10s
func WithFlushInterval(d time.Duration) Option {
	return func(c *config) { c.flushInterval = d }
}

// WithFlushRetry sets the insert retry budget per batch.
//
// Default: 5 attempts, 10s apart
func WithFlushRetry(p tasks.RetryPolicy) Option {
	return func(c *config) { c.flushRetry = p }
}

// WithArchiveRetry sets the retry budget per archival pass.
//
// Default: 3 attempts, 60s apart
func WithArchiveRetry(p tasks.RetryPolicy) Option {
	return func(c *config) { c.archiveRetry = p }
}

// WithWorkers sets how many background tasks may run at once.
//
// Default: 2
func WithWorkers(n int) Option {
	return func(c *config) { c.workers = n }
}

// WithDeadLetter sets where exhausted batches are written.
func WithDeadLetter(sink batch.DeadLetterSink) Option {
	return func(c *config) { c.deadLetter = sink }
}

// WithListLimits sets the default and maximum list page sizes.
func WithListLimits(defaultLimit, maxLimit int) Option {
	return func(c *config) {
		c.listLimit = defaultLimit
		c.listMaxLimit = maxLimit
	}
}

// WithClock sets the time source for entry timestamps and archive
// cutoffs.
func WithClock(now func() time.Time) Option {
	return func(c *config) { c.now = now }
}

// WithLogger sets the logger. Default slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *config) { c.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(c *config) { c.metrics = m }
}

// New creates an engine. Call Run to start flushing and Shutdown to stop
// background tasks.
func New(backend store.Backend, s *signer.Signer, opts ...Option) *Engine {
	cfg := config{
		bufferCapacity: batch.DefaultCapacity,
		flushInterval:  batch.DefaultInterval,
		flushRetry:     tasks.RetryPolicy{MaxAttempts: batch.DefaultMaxAttempts, Delay: batch.DefaultRetryDelay},
		archiveRetry:   tasks.RetryPolicy{MaxAttempts: archive.DefaultMaxAttempts, Delay: archive.DefaultRetryDelay},
		workers:        2,
		listLimit:      DefaultListLimit,
		listMaxLimit:   DefaultListMaxLimit,
		now:            time.Now,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg.metrics = telemetry.Discard(cfg.metrics)

	buf := batch.NewBuffer(cfg.bufferCapacity)
	runner := tasks.NewRunner(tasks.RunnerOptions{
		Workers: cfg.workers,
		Logger:  cfg.logger,
		Metrics: cfg.metrics,
		Now:     cfg.now,
	})
	archiver := archive.New(backend, archive.Options{Now: cfg.now, Logger: cfg.logger, Metrics: cfg.metrics})

	return &Engine{
		backend: backend,
		signer:  s,
		buf:     buf,
		flusher: batch.NewFlusher(buf, s, backend.Logs(), batch.FlusherOptions{
			Interval:   cfg.flushInterval,
			Retry:      cfg.flushRetry,
			DeadLetter: cfg.deadLetter,
			Logger:     cfg.logger,
			Metrics:    cfg.metrics,
		}),
		runner:    runner,
		archiver:  archiver,
		scheduler: archive.NewScheduler(archiver, runner, cfg.archiveRetry),
		exporter: export.New(backend.Logs(), s, buf, export.Options{
			Now:     cfg.now,
			Logger:  cfg.logger,
			Metrics: cfg.metrics,
		}),
		cfg:     cfg,
		logger:  cfg.logger,
		metrics: cfg.metrics,
		reject:  store.ReportRejections(cfg.logger, cfg.metrics),
	}
}

// Run flushes the buffer until ctx ends, then flushes what is left and
// returns. It must be called from exactly one goroutine.
func (e *Engine) Run(ctx context.Context) error {
	return e.flusher.Run(ctx)
}

// Flush persists buffered entries now. It is used by one-shot commands
// that do not start Run.
func (e *Engine) Flush(ctx context.Context) (batch.FlushResult, error) {
	return e.flusher.Flush(ctx)
}

// Shutdown waits for scheduled tasks to finish or ctx to end.
func (e *Engine) Shutdown(ctx context.Context) error {
	return e.runner.Shutdown(ctx)
}

// Metrics returns the metrics the engine reports to.
func (e *Engine) Metrics() *telemetry.Metrics {
	return e.metrics
}

// CreateRequest is a new audit entry before signing.
type CreateRequest struct {
	Action  string
	UserID  *string
	Details value.Object
}

// Create validates req and queues it for the next flush. The entry's
// timestamp is taken now.
//
// Create blocks while the buffer is full, until a flush drains it or ctx
// ends. Flushes run one at a time and a flush holds its batch through every
// retry, so during a store outage a full buffer stays full for up to
// (MaxAttempts-1) * Delay of the flush retry policy plus the failed insert
// attempts themselves: about 40s plus five store timeouts with the defaults.
// Callers that must not wait that long should pass a ctx with a deadline.
func (e *Engine) Create(ctx context.Context, req CreateRequest) error {
	if strings.TrimSpace(req.Action) == "" {
		return invalid("action", "action required")
	}
	if req.Details == nil {
		req.Details = value.Object{}
	}
	if _, err := value.MarshalCanonical(req.Details); err != nil {
		return &ValidationError{Field: "details", Message: "details must be JSON-compatible: " + err.Error(), Err: err}
	}

	err := e.buf.Append(ctx, logentry.Pending{
		Action:    req.Action,
		UserID:    req.UserID,
		Details:   req.Details,
		CreatedAt: e.cfg.now().UTC(),
	})
	if err != nil {
		return err
	}
	e.metrics.LogsCreated.Inc()
	return nil
}

// ListResult is one page of verified entries.
type ListResult struct {
	Count   int                 `json:"count"`
	Results []logentry.LogEntry `json:"results"`
}

// List returns a newest-first page of verified primary entries matching
// f. Paging applies before verification, so a page holding tampered rows
// comes back short.
func (e *Engine) List(ctx context.Context, f query.Filter, page query.Page) (ListResult, error) {
	if err := f.Validate(); err != nil {
		return ListResult{}, validation("filter", err)
	}
	page, err := page.Normalize(e.cfg.listLimit, e.cfg.listMaxLimit)
	if err != nil {
		return ListResult{}, validation("page", err)
	}

	ctx, span := telemetry.Tracer().Start(ctx, "engine.list")
	defer span.End()

	logs := e.backend.Logs()
	raw, err := logs.Find(ctx, f.Predicate(), query.Options{Sort: query.NewestFirst, Limit: page.Limit, Offset: page.Offset})
	if err != nil {
		return ListResult{}, err
	}
	cur := store.NewVerifiedCursor(raw, logs.Name(), e.signer, e.reject)
	defer cur.Close()

	results := []logentry.LogEntry{}
	for cur.Next(ctx) {
		results = append(results, cur.Entry())
	}
	if err := cur.Err(); err != nil {
		return ListResult{}, err
	}

	span.SetAttributes(attribute.Int("audittrail.list.count", len(results)))
	e.metrics.LogsListed.Inc()
	return ListResult{Count: len(results), Results: results}, nil
}

// ExportRequest describes an export.
type ExportRequest struct {
	Filter    query.Filter
	Format    string
	Requester *string
	// Flush is called whenever a group of entries has been written.
	Flush func()
}

// Export writes every verified primary entry matching req.Filter to w and
// records an export_logs entry. It returns the number of entries written.
func (e *Engine) Export(ctx context.Context, w io.Writer, req ExportRequest) (int, error) {
	format, err := e.ValidateExport(req)
	if err != nil {
		return 0, err
	}
	return e.exporter.Export(ctx, w, export.Request{
		Filter:    req.Filter,
		Format:    format,
		Requester: req.Requester,
		Flush:     req.Flush,
	})
}

// ValidateExport checks req without side effects, so HTTP handlers can
// reject a bad request before writing headers.
func (e *Engine) ValidateExport(req ExportRequest) (export.Format, error) {
	if err := req.Filter.Validate(); err != nil {
		return "", validation("filter", err)
	}
	format, err := export.ParseFormat(req.Format)
	if err != nil {
		return "", validation("format", err)
	}
	return format, nil
}

// Archive schedules a relocation of primary entries older than days and
// returns the queued job without waiting.
func (e *Engine) Archive(days int) (tasks.Job, error) {
	job, err := e.scheduler.Schedule(days)
	if errors.Is(err, archive.ErrInvalidDays) {
		return tasks.Job{}, validation("days", err)
	}
	return job, err
}

// ArchiveStatus returns the job with id.
func (e *Engine) ArchiveStatus(id string) (tasks.Job, bool) {
	return e.scheduler.Status(id)
}

// ArchiveNow runs one relocation pass in the calling goroutine, retrying
// with the archive retry policy.
func (e *Engine) ArchiveNow(ctx context.Context, days int) (archive.Result, error) {
	if days < 0 {
		return archive.Result{}, validation("days", archive.ErrInvalidDays)
	}

	var res archive.Result
	_, err := tasks.Retry(ctx, e.cfg.archiveRetry, func(ctx context.Context) error {
		var err error
		res, err = e.archiver.Archive(ctx, days)
		return err
	}, func(attempt int, err error, next time.Duration) {
		e.logger.Warn("archive pass failed, retrying", "attempt", attempt, "retry_in", next, "error", err)
	})
	if errors.Is(err, tasks.ErrRetryExhausted) {
		e.metrics.RetryExhausted.WithLabelValues(archive.TaskName).Inc()
	}
	return res, err
}

// Source selects the collection a verification scan reads.
type Source string

const (
	SourceLogs    Source = "logs"
	SourceArchive Source = "archive"
)

// VerifyReport summarizes a verification scan.
type VerifyReport struct {
	Collection  string   `json:"collection"`
	Scanned     int      `json:"scanned"`
	Valid       int      `json:"valid"`
	Tampered    []string `json:"tampered"`
	Undecodable []string `json:"undecodable"`
}

// Clean reports whether the scan found no rejected rows.
func (r VerifyReport) Clean() bool {
	return len(r.Tampered) == 0 && len(r.Undecodable) == 0
}

// Verify scans every entry in src matching f and reports the rows that
// fail verification. fn, when set, is called for each rejected row as it
// is found. Unlike reads, a scan does not count rejections in metrics.
func (e *Engine) Verify(ctx context.Context, src Source, f query.Filter, fn func(store.Rejection)) (VerifyReport, error) {
	if err := f.Validate(); err != nil {
		return VerifyReport{}, validation("filter", err)
	}

	var coll store.Collection
	switch src {
	case SourceLogs, "":
		coll = e.backend.Logs()
	case SourceArchive:
		coll = e.backend.Archive()
	default:
		return VerifyReport{}, invalid("source", "unknown collection %q", src)
	}

	report := VerifyReport{Collection: coll.Name(), Tampered: []string{}, Undecodable: []string{}}
	raw, err := coll.Find(ctx, f.Predicate(), query.Options{Sort: query.OldestFirst})
	if err != nil {
		return report, err
	}
	cur := store.NewVerifiedCursor(raw, coll.Name(), e.signer, func(r store.Rejection) {
		report.Scanned++
		if r.Err != nil {
			report.Undecodable = append(report.Undecodable, r.ID)
		} else {
			report.Tampered = append(report.Tampered, r.ID)
		}
		if fn != nil {
			fn(r)
		}
	})
	defer cur.Close()

	for cur.Next(ctx) {
		report.Scanned++
		report.Valid++
	}
	return report, cur.Err()
}

// VerifyEntry reports whether e's signature matches its fields.
func (e *Engine) VerifyEntry(entry logentry.LogEntry) bool {
	return e.signer.Verify(entry)
}

// ReplayDeadLetters reinserts verified entries from a dead-letter file.
func (e *Engine) ReplayDeadLetters(ctx context.Context, path string) (batch.ReplayResult, error) {
	return batch.Replay(ctx, path, e.backend.Logs(), e.signer.Verify)
}
