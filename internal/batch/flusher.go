package batch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/roach88/audittrail/internal/logentry"
	"github.com/roach88/audittrail/internal/tasks"
	"github.com/roach88/audittrail/internal/telemetry"
	"github.com/roach88/audittrail/internal/value"
)

const (
	// DefaultInterval is the timer flush period.
	DefaultInterval = 10 * time.Second
	// DefaultMaxAttempts bounds insert attempts per batch.
	DefaultMaxAttempts = 5
	// DefaultRetryDelay is the constant wait between insert attempts.
	DefaultRetryDelay = 10 * time.Second
)

// BatchInserter persists a signed batch. Implementations must be
// idempotent by entry id.
type BatchInserter interface {
	InsertBatch(ctx context.Context, entries []logentry.LogEntry) error
}

// Signer turns a pending entry into a signed one.
type Signer interface {
	Sign(action string, userID *string, details value.Object, ts time.Time) (logentry.LogEntry, error)
}

// FlusherOptions configures a Flusher. Zero values select defaults.
type FlusherOptions struct {
	Interval time.Duration
	Retry    tasks.RetryPolicy
	// DeadLetter receives batches whose retries were exhausted. Nil means
	// they are only logged and counted.
	DeadLetter DeadLetterSink
	Logger     *slog.Logger
	Metrics    *telemetry.Metrics
}

// FlushResult describes one flush.
type FlushResult struct {
	Persisted    int
	Attempts     int
	DeadLettered int
}

// Flusher is the single consumer of a Buffer.
type Flusher struct {
	buf      *Buffer
	signer   Signer
	dst      BatchInserter
	interval time.Duration
	retry    tasks.RetryPolicy
	dead     DeadLetterSink
	logger   *slog.Logger
	metrics  *telemetry.Metrics

	mu      sync.Mutex // serializes flushes
	flushes int
}

// NewFlusher creates a flusher draining buf into dst.
func NewFlusher(buf *Buffer, s Signer, dst BatchInserter, opts FlusherOptions) *Flusher {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry.MaxAttempts = DefaultMaxAttempts
	}
	if opts.Retry.Delay <= 0 {
		opts.Retry.Delay = DefaultRetryDelay
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Flusher{
		buf:      buf,
		signer:   s,
		dst:      dst,
		interval: opts.Interval,
		retry:    opts.Retry,
		dead:     opts.DeadLetter,
		logger:   opts.Logger,
		metrics:  telemetry.Discard(opts.Metrics),
	}
}

// Run flushes whenever the buffer fills or the interval elapses. When ctx
// ends it closes the buffer, flushes what is left and returns nil.
func (f *Flusher) Run(ctx context.Context) error {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	f.logger.Info("flusher starting", "interval", f.interval, "capacity", f.buf.Cap())

	for {
		select {
		case <-ctx.Done():
			f.buf.Close()
			res, err := f.Flush(ctx)
			f.logger.Info("flusher stopping", "final_batch", res.Persisted+res.DeadLettered)
			if err != nil && !errors.Is(err, tasks.ErrRetryExhausted) {
				return err
			}
			return nil
		case <-f.buf.Full():
		case <-ticker.C:
		}

		if _, err := f.Flush(ctx); err != nil {
			// Exhaustion has already been dead-lettered and logged.
			if !errors.Is(err, tasks.ErrRetryExhausted) {
				f.logger.Error("flush failed", "error", err)
			}
		}
	}
}

// Flush drains the buffer, signs every entry once and persists the batch
// with retries. Persistence ignores cancellation of ctx.
//
// An empty buffer is a no-op. When retries are exhausted the signed batch
// is dead-lettered and the returned error wraps tasks.ErrRetryExhausted.
func (f *Flusher) Flush(ctx context.Context) (FlushResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	pending := f.buf.Drain()
	if len(pending) == 0 {
		return FlushResult{}, nil
	}

	ctx = context.WithoutCancel(ctx)
	ctx, span := telemetry.Tracer().Start(ctx, "batch.flush")
	defer span.End()
	span.SetAttributes(attribute.Int("audittrail.batch.size", len(pending)))

	signed := f.sign(pending)
	if len(signed) == 0 {
		return FlushResult{}, nil
	}

	attempts, err := tasks.Retry(ctx, f.retry, func(ctx context.Context) error {
		return f.dst.InsertBatch(ctx, signed)
	}, func(attempt int, err error, next time.Duration) {
		f.metrics.FlushRetries.Inc()
		f.logger.Warn("batch insert failed, retrying",
			"batch", len(signed), "attempt", attempt, "retry_in", next, "error", err)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "flush failed")
		f.deadLetter(ctx, signed, err)
		return FlushResult{Attempts: attempts, DeadLettered: len(signed)}, err
	}

	f.flushes++
	f.metrics.Flushes.Inc()
	f.metrics.FlushedEntries.Add(float64(len(signed)))
	f.logger.Debug("batch flushed", "batch", len(signed), "attempts", attempts)
	return FlushResult{Persisted: len(signed), Attempts: attempts}, nil
}

// Flushes returns the number of non-empty batches persisted so far.
func (f *Flusher) Flushes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.flushes
}

func (f *Flusher) sign(pending []logentry.Pending) []logentry.LogEntry {
	signed := make([]logentry.LogEntry, 0, len(pending))
	for _, p := range pending {
		e, err := f.signer.Sign(p.Action, p.UserID, p.Details, p.CreatedAt)
		if err != nil {
			f.logger.Error("dropping unsignable entry", "action", p.Action, "error", err)
			continue
		}
		signed = append(signed, e)
	}
	return signed
}

func (f *Flusher) deadLetter(ctx context.Context, signed []logentry.LogEntry, cause error) {
	f.metrics.DeadLettered.Add(float64(len(signed)))
	f.logger.Error("flush retries exhausted, dead-lettering batch",
		"batch", len(signed),
		"first_id", signed[0].ID,
		"last_id", signed[len(signed)-1].ID,
		"error", cause)

	if f.dead == nil {
		return
	}
	if err := f.dead.Write(ctx, signed); err != nil {
		f.metrics.DeadLetterErrors.Inc()
		f.logger.Error("dead-letter write failed; batch lost",
			"batch", len(signed), "error", err)
	}
}
