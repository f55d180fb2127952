package tasks

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/audittrail/internal/telemetry"
)

const (
	// DefaultRetention is how long a finished job stays queryable.
	DefaultRetention = 24 * time.Hour
	// DefaultMaxJobs caps the number of jobs kept in memory.
	DefaultMaxJobs = 1000
)

// ErrShutdown is returned by Schedule once the runner is shutting down.
var ErrShutdown = errors.New("task runner is shut down")

// Status is the lifecycle state of a job.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Terminal reports whether the job has finished.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// Task is one unit of background work. The returned result is recorded on
// the job and must be JSON-encodable.
type Task func(ctx context.Context) (any, error)

// Job is a snapshot of a scheduled task.
type Job struct {
	ID         string     `json:"job_id"`
	Name       string     `json:"name"`
	Status     Status     `json:"status"`
	Attempts   int        `json:"attempts"`
	Result     any        `json:"result,omitempty"`
	Error      string     `json:"error,omitempty"`
	QueuedAt   time.Time  `json:"queued_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// RunnerOptions configures a Runner. Zero values select defaults.
type RunnerOptions struct {
	// Workers bounds how many tasks run at once. Default 2.
	Workers int
	Logger  *slog.Logger
	Metrics *telemetry.Metrics
	// Now is the clock for job timestamps. Default time.Now.
	Now func() time.Time
	// NewID generates job ids. Default random UUIDs.
	NewID func() string
	// Retention is how long finished jobs remain visible to Get. Default
	// DefaultRetention.
	Retention time.Duration
	// MaxJobs bounds the job table. Once reached, the oldest finished jobs
	// are evicted first. Unfinished jobs are never evicted. Default
	// DefaultMaxJobs.
	MaxJobs int
}

// Runner executes scheduled tasks on a fixed pool of worker slots.
//
// Thread-safety: all methods are safe for concurrent use.
type Runner struct {
	mu          sync.RWMutex
	jobs        map[string]*Job
	closed      bool
	workerSlots chan struct{}
	wg          sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc

	logger  *slog.Logger
	metrics *telemetry.Metrics
	now     func() time.Time
	newID   func() string

	retention time.Duration
	maxJobs   int
}

// NewRunner creates a runner. Jobs run detached from any request context
// until Shutdown.
func NewRunner(opts RunnerOptions) *Runner {
	if opts.Workers <= 0 {
		opts.Workers = 2
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	if opts.Retention <= 0 {
		opts.Retention = DefaultRetention
	}
	if opts.MaxJobs <= 0 {
		opts.MaxJobs = DefaultMaxJobs
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		jobs:        map[string]*Job{},
		workerSlots: make(chan struct{}, opts.Workers),
		ctx:         ctx,
		cancel:      cancel,
		logger:      opts.Logger,
		metrics:     telemetry.Discard(opts.Metrics),
		now:         opts.Now,
		newID:       opts.NewID,
		retention:   opts.Retention,
		maxJobs:     opts.MaxJobs,
	}
}

// Schedule queues task under name and returns its acknowledgement
// immediately. The task is retried according to policy; when every
// attempt fails the job ends as failed, an error is logged and
// audittrail_task_retry_exhausted_total is incremented.
func (r *Runner) Schedule(name string, task Task, policy RetryPolicy) (Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return Job{}, ErrShutdown
	}

	now := r.now().UTC()
	r.pruneLocked(now)

	job := &Job{
		ID:       r.newID(),
		Name:     name,
		Status:   StatusQueued,
		QueuedAt: now,
	}
	r.jobs[job.ID] = job

	r.wg.Add(1)
	go r.run(job.ID, name, task, policy)

	return *job, nil
}

// pruneLocked drops finished jobs older than the retention period, then
// the oldest finished jobs until there is room for one more.
func (r *Runner) pruneLocked(now time.Time) {
	cutoff := now.Add(-r.retention)
	var finished []*Job
	for id, job := range r.jobs {
		if job.FinishedAt == nil {
			continue
		}
		if job.FinishedAt.Before(cutoff) {
			delete(r.jobs, id)
			continue
		}
		finished = append(finished, job)
	}

	excess := len(r.jobs) - r.maxJobs + 1
	if excess <= 0 {
		return
	}
	slices.SortFunc(finished, func(a, b *Job) int {
		return a.FinishedAt.Compare(*b.FinishedAt)
	})
	for _, job := range finished[:min(excess, len(finished))] {
		delete(r.jobs, job.ID)
	}
}

// Get returns a snapshot of the job with id.
func (r *Runner) Get(id string) (Job, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	job, ok := r.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *job, true
}

// Shutdown stops accepting jobs and waits for running and queued ones to
// finish, or for ctx to end. Tasks still waiting between retries when ctx
// ends are cancelled.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.cancel()
		return nil
	case <-ctx.Done():
		r.cancel()
		<-done
		return ctx.Err()
	}
}

func (r *Runner) run(id, name string, task Task, policy RetryPolicy) {
	defer r.wg.Done()

	select {
	case r.workerSlots <- struct{}{}:
	case <-r.ctx.Done():
		r.finish(id, nil, 0, r.ctx.Err())
		return
	}
	defer func() { <-r.workerSlots }()

	r.update(id, func(job *Job) {
		start := r.now().UTC()
		job.Status = StatusRunning
		job.StartedAt = &start
	})
	r.logger.Debug("task started", "task", name, "job", id)

	var result any
	attempts, err := Retry(r.ctx, policy, func(ctx context.Context) error {
		res, err := task(ctx)
		if err == nil {
			result = res
		}
		return err
	}, func(attempt int, err error, next time.Duration) {
		r.update(id, func(job *Job) { job.Attempts = attempt })
		r.logger.Warn("task attempt failed, retrying",
			"task", name, "job", id, "attempt", attempt, "retry_in", next, "error", err)
	})

	r.finish(id, result, attempts, err)
	if err == nil {
		r.logger.Info("task succeeded", "task", name, "job", id, "attempts", attempts)
		return
	}
	if errors.Is(err, ErrRetryExhausted) {
		r.metrics.RetryExhausted.WithLabelValues(name).Inc()
	}
	r.logger.Error("task failed", "task", name, "job", id, "attempts", attempts, "error", err)
}

func (r *Runner) finish(id string, result any, attempts int, err error) {
	r.update(id, func(job *Job) {
		end := r.now().UTC()
		job.FinishedAt = &end
		job.Attempts = attempts
		if err != nil {
			job.Status = StatusFailed
			job.Error = err.Error()
			return
		}
		job.Status = StatusSucceeded
		job.Result = result
	})
}

func (r *Runner) update(id string, fn func(*Job)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if job, ok := r.jobs[id]; ok {
		fn(job)
	}
}
