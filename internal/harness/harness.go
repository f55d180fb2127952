package harness

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/roach88/audittrail/internal/engine"
	"github.com/roach88/audittrail/internal/logentry"
	"github.com/roach88/audittrail/internal/query"
	"github.com/roach88/audittrail/internal/signer"
	"github.com/roach88/audittrail/internal/store"
	"github.com/roach88/audittrail/internal/tasks"
	"github.com/roach88/audittrail/internal/testutil"
	"github.com/roach88/audittrail/internal/value"
)

// SigningKey signs every scenario entry.
const SigningKey = "harness-signing-key"

// DefaultCapacity is the buffer capacity when a scenario names none.
const DefaultCapacity = 100

// Harness holds the per-run engine and its deterministic collaborators.
type Harness struct {
	store  *store.Store
	engine *engine.Engine
	clock  *testutil.Clock
	ids    *testutil.SequentialIDs
}

// Run executes a scenario against a fresh engine and returns the result.
//
// Execution flow:
//  1. Open an in-memory store and start the engine's flush loop
//  2. Execute steps, checking each step's expect clause
//  3. Stop the flush loop, which persists anything still buffered
//  4. Evaluate assertions against the trace and the store
//
// The returned error covers failures of the harness itself. Scenario
// failures are reported in Result.Errors.
func Run(scenario *Scenario) (*Result, error) {
	ctx := context.Background()

	st, err := store.Open(ctx, ":memory:", store.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	start := DefaultStart
	if scenario.Start != nil {
		start = scenario.Start.UTC()
	}
	capacity := scenario.Capacity
	if capacity == 0 {
		capacity = DefaultCapacity
	}

	h := &Harness{
		store: st,
		clock: testutil.NewClock(start),
		ids:   testutil.NewSequentialIDs("entry"),
	}
	sig, err := signer.New([]byte(SigningKey), h.ids)
	if err != nil {
		return nil, err
	}
	h.engine = engine.New(st, sig,
		engine.WithBufferCapacity(capacity),
		engine.WithFlushInterval(time.Hour),
		engine.WithFlushRetry(tasks.RetryPolicy{MaxAttempts: 1, Delay: time.Millisecond}),
		engine.WithArchiveRetry(tasks.RetryPolicy{MaxAttempts: 1, Delay: time.Millisecond}),
		engine.WithWorkers(1),
		engine.WithClock(h.clock.Now),
		engine.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)

	// Capacity-triggered flushes need the loop running, or Create blocks
	// once the buffer fills.
	runCtx, stop := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- h.engine.Run(runCtx) }()

	result := NewResult()
	stepErr := h.executeSteps(ctx, scenario.Steps, result)

	stop()
	runErr := <-done
	if err := h.engine.Shutdown(ctx); err != nil {
		return nil, fmt.Errorf("failed to stop engine: %w", err)
	}
	if stepErr != nil {
		return nil, stepErr
	}
	if runErr != nil {
		return nil, fmt.Errorf("flush loop: %w", runErr)
	}

	actx := &AssertionContext{Store: st, Engine: h.engine, Ctx: ctx}
	for _, errMsg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(errMsg)
	}
	return result, nil
}

// executeSteps runs steps in order. An engine error is recorded in the
// step outcome and checked against expect.error; only harness failures
// abort the run.
func (h *Harness) executeSteps(ctx context.Context, steps []Step, result *Result) error {
	for i, step := range steps {
		outcome, opErr := h.execute(ctx, step)
		var fe *fatalError
		if errors.As(opErr, &fe) {
			return fmt.Errorf("step %d (%s): %w", i+1, step.Op, fe.err)
		}
		if opErr != nil {
			outcome = map[string]any{"error": opErr.Error()}
		}
		result.AddTrace(i+1, step.Op, outcome)

		for _, msg := range checkExpect(step, outcome, opErr) {
			result.AddError(fmt.Sprintf("step %d (%s): %s", i+1, step.Op, msg))
		}
	}
	return nil
}

func (h *Harness) execute(ctx context.Context, step Step) (map[string]any, error) {
	switch step.Op {
	case OpCreate:
		return h.create(ctx, step)
	case OpFlush:
		return h.flush(ctx)
	case OpAdvance:
		return h.advance(step)
	case OpTamper:
		return h.tamper(ctx, step)
	case OpArchive:
		res, err := h.engine.ArchiveNow(ctx, *step.Days)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"moved":  res.Moved,
			"cutoff": res.Cutoff.Format(time.RFC3339),
		}, nil
	case OpList:
		res, err := h.engine.List(ctx, step.Filter.query(), query.Page{Limit: step.Limit, Offset: step.Offset})
		if err != nil {
			return nil, err
		}
		return entriesOutcome("count", res.Results), nil
	case OpExport:
		return h.export(ctx, step)
	case OpVerify:
		return h.verify(ctx, step)
	}
	return nil, fatal(fmt.Errorf("unknown op %q", step.Op))
}

func (h *Harness) create(ctx context.Context, step Step) (map[string]any, error) {
	details := value.Object{}
	if step.Details != nil {
		v, err := value.FromGo(step.Details)
		if err != nil {
			return nil, fatal(fmt.Errorf("details: %w", err))
		}
		details = v.(value.Object)
	}
	var every time.Duration
	if step.Every != "" {
		every, _ = time.ParseDuration(step.Every)
	}

	n := max(step.Repeat, 1)
	for range n {
		err := h.engine.Create(ctx, engine.CreateRequest{
			Action:  step.Action,
			UserID:  step.User,
			Details: details,
		})
		if err != nil {
			return nil, err
		}
		h.clock.Advance(every)
	}
	return map[string]any{"queued": n}, nil
}

// flush persists the buffer and reports how many entries the primary
// collection holds. The per-call persisted count depends on background
// flush timing and is left out.
func (h *Harness) flush(ctx context.Context) (map[string]any, error) {
	res, err := h.engine.Flush(ctx)
	if err != nil {
		return nil, err
	}
	stored, err := h.store.Logs().Count(ctx, query.All())
	if err != nil {
		return nil, fatal(err)
	}
	return map[string]any{
		"stored":        int(stored),
		"dead_lettered": res.DeadLettered,
	}, nil
}

func (h *Harness) advance(step Step) (map[string]any, error) {
	if step.Duration != "" {
		d, _ := time.ParseDuration(step.Duration)
		h.clock.Advance(d)
	}
	if step.Days != nil {
		h.clock.Advance(time.Duration(*step.Days) * 24 * time.Hour)
	}
	return map[string]any{"now": h.clock.Now().Format(time.RFC3339)}, nil
}

func (h *Harness) export(ctx context.Context, step Step) (map[string]any, error) {
	format := step.Format
	if format == "" {
		format = "ndjson"
	}
	var buf bytes.Buffer
	n, err := h.engine.Export(ctx, &buf, engine.ExportRequest{
		Filter:    step.Filter.query(),
		Format:    format,
		Requester: step.Requester,
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"written": n,
		"format":  format,
	}, nil
}

func (h *Harness) verify(ctx context.Context, step Step) (map[string]any, error) {
	src := engine.SourceLogs
	if step.Archive {
		src = engine.SourceArchive
	}
	report, err := h.engine.Verify(ctx, src, step.Filter.query(), nil)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"collection":  report.Collection,
		"scanned":     report.Scanned,
		"valid":       report.Valid,
		"tampered":    strs(report.Tampered),
		"undecodable": strs(report.Undecodable),
	}, nil
}

// tamperColumns maps tamperable fields to a conversion from the scenario
// value to the stored column value.
var tamperColumns = map[string]func(any) (any, error){
	"action": func(v any) (any, error) {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("action must be a string")
		}
		return s, nil
	},
	"user_id": func(v any) (any, error) {
		if v == nil {
			return nil, nil
		}
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("user_id must be a string or null")
		}
		return s, nil
	},
	"details": func(v any) (any, error) {
		data, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		return string(data), nil
	},
	"timestamp": func(v any) (any, error) {
		switch t := v.(type) {
		case time.Time:
			return t.Unix(), nil
		case string:
			parsed, err := time.Parse(time.RFC3339, t)
			if err != nil {
				return nil, err
			}
			return parsed.Unix(), nil
		}
		return nil, fmt.Errorf("timestamp must be RFC 3339")
	},
	"signature": func(v any) (any, error) {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("signature must be a string")
		}
		return s, nil
	},
}

// tamper rewrites one column of a stored row directly, as an attacker with
// database access would.
func (h *Harness) tamper(ctx context.Context, step Step) (map[string]any, error) {
	conv := tamperColumns[step.Field]
	if !validIdentifier.MatchString(step.Field) {
		return nil, fatal(fmt.Errorf("invalid field %q", step.Field))
	}
	v, err := conv(step.Value)
	if err != nil {
		return nil, fatal(fmt.Errorf("tamper %s: %w", step.Field, err))
	}

	table := "audit_logs"
	if step.Archive {
		table = "logs_archive"
	}
	res, err := h.store.DB().ExecContext(ctx,
		"UPDATE "+table+" SET "+step.Field+" = ? WHERE id = ?", v, step.ID)
	if err != nil {
		return nil, fatal(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fatal(err)
	}
	if n == 0 {
		return nil, fmt.Errorf("no row %s in %s", step.ID, table)
	}
	return map[string]any{"id": step.ID, "field": step.Field}, nil
}

func (f Filter) query() query.Filter {
	qf := query.Filter{
		UserID:         f.UserID,
		Action:         f.Action,
		ActionContains: f.ActionContains,
		ActionIn:       f.ActionIn,
		ActionNotIn:    f.ActionNotIn,
	}
	if f.Start != nil {
		t := f.Start.UTC()
		qf.Start = &t
	}
	if f.End != nil {
		t := f.End.UTC()
		qf.End = &t
	}
	return qf
}

func entriesOutcome(countKey string, entries []logentry.LogEntry) map[string]any {
	ids := make([]string, len(entries))
	actions := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
		actions[i] = e.Action
	}
	return map[string]any{
		countKey:  len(entries),
		"ids":     strs(ids),
		"actions": strs(actions),
	}
}

// checkExpect compares a step outcome with its expect clause and returns
// one message per mismatch.
func checkExpect(step Step, outcome map[string]any, opErr error) []string {
	exp := step.Expect
	if exp == nil {
		if opErr != nil {
			return []string{fmt.Sprintf("unexpected error: %v", opErr)}
		}
		return nil
	}

	if exp.Error != "" {
		switch {
		case opErr == nil:
			return []string{fmt.Sprintf("expected error containing %q, got success", exp.Error)}
		case !strings.Contains(opErr.Error(), exp.Error):
			return []string{fmt.Sprintf("expected error containing %q, got %q", exp.Error, opErr.Error())}
		}
		return nil
	}
	if opErr != nil {
		return []string{fmt.Sprintf("unexpected error: %v", opErr)}
	}

	var msgs []string
	checkInt := func(key string, want *int) {
		if want == nil {
			return
		}
		if got, ok := outcome[key].(int); !ok || got != *want {
			msgs = append(msgs, fmt.Sprintf("%s: expected %d, got %v", key, *want, outcome[key]))
		}
	}
	checkList := func(key string, want []string) {
		if want == nil {
			return
		}
		got, _ := outcome[key].([]any)
		if !slices.Equal(strs(want), got) {
			msgs = append(msgs, fmt.Sprintf("%s: expected %v, got %v", key, want, got))
		}
	}

	checkInt("count", exp.Count)
	checkInt("moved", exp.Moved)
	checkInt("stored", exp.Stored)
	checkInt("written", exp.Written)
	checkList("actions", exp.Actions)
	checkList("ids", exp.IDs)
	checkList("tampered", exp.Tampered)
	return msgs
}

// fatalError marks a failure of the harness itself, as opposed to an
// engine error the scenario may expect.
type fatalError struct{ err error }

func (e *fatalError) Error() string { return e.err.Error() }
func (e *fatalError) Unwrap() error { return e.err }

func fatal(err error) error {
	return &fatalError{err: err}
}
