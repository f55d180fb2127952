package harness

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/roach88/audittrail/internal/engine"
	"github.com/roach88/audittrail/internal/query"
	"github.com/roach88/audittrail/internal/store"
)

// validIdentifier matches valid SQL identifiers (table/column names).
// Only allows alphanumeric and underscore, must start with letter or underscore.
// This prevents SQL injection via identifier interpolation.
var validIdentifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, event := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s %v\n", event.Step, event.Op, event.Outcome)
		}
	}
	return buf.String()
}

// AssertionContext provides store access for assertions that inspect
// final contents.
type AssertionContext struct {
	Store  *store.Store
	Engine *engine.Engine
	Ctx    context.Context
}

func (a *AssertionContext) collection(name string) store.Collection {
	if name == "archive" {
		return a.Store.Archive()
	}
	return a.Store.Logs()
}

// assertTraceCount checks that op was executed exactly Count times.
func assertTraceCount(trace []TraceEvent, assertion Assertion) error {
	count := 0
	for _, event := range trace {
		if event.Op == assertion.Op {
			count++
		}
	}
	if count == assertion.Count {
		return nil
	}
	return &AssertionError{
		Type:     AssertTraceCount,
		Expected: fmt.Sprintf("%d %s steps", assertion.Count, assertion.Op),
		Actual:   fmt.Sprintf("%d %s steps", count, assertion.Op),
		Trace:    trace,
	}
}

// assertCollectionCount counts every stored row, valid or not.
func assertCollectionCount(actx *AssertionContext, assertion Assertion) error {
	n, err := actx.collection(assertion.Collection).Count(actx.Ctx, query.All())
	if err != nil {
		return fmt.Errorf("count %s: %w", assertion.Collection, err)
	}
	if int(n) == assertion.Count {
		return nil
	}
	return &AssertionError{
		Type:     AssertCollectionCount,
		Expected: fmt.Sprintf("%d rows in %s", assertion.Count, assertion.Collection),
		Actual:   fmt.Sprintf("%d rows", n),
	}
}

// assertAllValid scans the collection and fails on any rejected row.
func assertAllValid(actx *AssertionContext, assertion Assertion) error {
	src := engine.SourceLogs
	if assertion.Collection == "archive" {
		src = engine.SourceArchive
	}
	report, err := actx.Engine.Verify(actx.Ctx, src, query.Filter{}, nil)
	if err != nil {
		return fmt.Errorf("verify %s: %w", assertion.Collection, err)
	}
	if report.Clean() {
		return nil
	}
	return &AssertionError{
		Type:     AssertAllValid,
		Expected: fmt.Sprintf("every row in %s verifies", assertion.Collection),
		Actual:   fmt.Sprintf("tampered %v, undecodable %v", report.Tampered, report.Undecodable),
	}
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
// The actx parameter provides store access for collection assertions.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, assertion)
		case AssertCollectionCount, AssertAllValid:
			if actx == nil || actx.Store == nil || actx.Engine == nil {
				err = fmt.Errorf("assertion[%d]: %s requires store context", i, assertion.Type)
			} else if assertion.Type == AssertCollectionCount {
				err = assertCollectionCount(actx, assertion)
			} else {
				err = assertAllValid(actx, assertion)
			}
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
