package harness

import (
	"bytes"
	"fmt"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultStart is the clock start when a scenario names none.
var DefaultStart = time.Date(2024, 6, 1, 12, 30, 45, 0, time.UTC)

// Scenario defines a conformance test scenario.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Start is the initial clock time. Default DefaultStart.
	Start *time.Time `yaml:"start,omitempty"`

	// Capacity is the buffer capacity. Default 100.
	Capacity int `yaml:"capacity,omitempty"`

	// Steps run in order.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final trace and store contents.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// Step operations.
const (
	OpCreate  = "create"
	OpFlush   = "flush"
	OpAdvance = "advance"
	OpTamper  = "tamper"
	OpArchive = "archive"
	OpList    = "list"
	OpExport  = "export"
	OpVerify  = "verify"
)

var validOps = []string{OpCreate, OpFlush, OpAdvance, OpTamper, OpArchive, OpList, OpExport, OpVerify}

// Step is one operation against the engine.
type Step struct {
	Op string `yaml:"op"`

	// create
	Action  string         `yaml:"action,omitempty"`
	User    *string        `yaml:"user,omitempty"`
	Details map[string]any `yaml:"details,omitempty"`
	Repeat  int            `yaml:"repeat,omitempty"`
	Every   string         `yaml:"every,omitempty"`

	// advance, archive
	Duration string `yaml:"duration,omitempty"`
	Days     *int   `yaml:"days,omitempty"`

	// tamper
	ID    string `yaml:"id,omitempty"`
	Field string `yaml:"field,omitempty"`
	Value any    `yaml:"value,omitempty"`

	// list, export, verify
	Filter  Filter `yaml:"filter,omitempty"`
	Limit   int    `yaml:"limit,omitempty"`
	Offset  int    `yaml:"offset,omitempty"`
	Format  string `yaml:"format,omitempty"`
	Archive bool   `yaml:"archive,omitempty"`

	// Requester is recorded on the export_logs entry.
	Requester *string `yaml:"requester,omitempty"`

	// Expect, when set, is checked against the step outcome.
	Expect *Expect `yaml:"expect,omitempty"`
}

// Filter mirrors query.Filter in YAML form.
type Filter struct {
	UserID         *string    `yaml:"user_id,omitempty"`
	Action         string     `yaml:"action,omitempty"`
	ActionContains string     `yaml:"action__contains,omitempty"`
	ActionIn       []string   `yaml:"action__in,omitempty"`
	ActionNotIn    []string   `yaml:"action__not_in,omitempty"`
	Start          *time.Time `yaml:"start_time,omitempty"`
	End            *time.Time `yaml:"end_time,omitempty"`
}

// Expect is a subset match on a step outcome. Unset fields are not checked.
type Expect struct {
	// Error is a substring of the expected error. Empty means success.
	Error string `yaml:"error,omitempty"`

	Count    *int     `yaml:"count,omitempty"`
	Actions  []string `yaml:"actions,omitempty"`
	IDs      []string `yaml:"ids,omitempty"`
	Tampered []string `yaml:"tampered,omitempty"`
	Moved    *int     `yaml:"moved,omitempty"`
	Stored   *int     `yaml:"stored,omitempty"`
	Written  *int     `yaml:"written,omitempty"`
}

// Assertion validates the trace or final store contents.
type Assertion struct {
	// Type is one of collection_count, all_valid, trace_count.
	Type string `yaml:"type"`

	// Collection is "logs" or "archive" (collection_count, all_valid).
	Collection string `yaml:"collection,omitempty"`

	// Op is the step operation counted by trace_count.
	Op string `yaml:"op,omitempty"`

	Count int `yaml:"count,omitempty"`
}

// Assertion type constants.
const (
	AssertCollectionCount = "collection_count"
	AssertAllValid        = "all_valid"
	AssertTraceCount      = "trace_count"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict decoding catches typos like "assertion:" vs "assertions:".
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if s.Capacity < 0 {
		return fmt.Errorf("capacity must not be negative")
	}

	for i := range s.Steps {
		if err := validateStep(i, &s.Steps[i]); err != nil {
			return err
		}
	}
	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(index int, st *Step) error {
	if !slices.Contains(validOps, st.Op) {
		return fmt.Errorf("step %d: unknown op %q (valid: %v)", index, st.Op, validOps)
	}
	for _, d := range []string{st.Every, st.Duration} {
		if d == "" {
			continue
		}
		if _, err := time.ParseDuration(d); err != nil {
			return fmt.Errorf("step %d: %w", index, err)
		}
	}

	switch st.Op {
	case OpTamper:
		if st.ID == "" || st.Field == "" {
			return fmt.Errorf("step %d: tamper requires id and field", index)
		}
		if _, ok := tamperColumns[st.Field]; !ok {
			return fmt.Errorf("step %d: cannot tamper with field %q", index, st.Field)
		}
	case OpArchive:
		if st.Days == nil {
			return fmt.Errorf("step %d: archive requires days", index)
		}
	case OpAdvance:
		if st.Duration == "" && st.Days == nil {
			return fmt.Errorf("step %d: advance requires duration or days", index)
		}
	}
	return nil
}

// validateAssertion checks that an assertion has the fields its type needs.
func validateAssertion(index int, a *Assertion) error {
	switch a.Type {
	case AssertCollectionCount, AssertAllValid:
		if a.Collection != "logs" && a.Collection != "archive" {
			return fmt.Errorf("assertion %d: %s requires collection logs or archive", index, a.Type)
		}
	case AssertTraceCount:
		if !slices.Contains(validOps, a.Op) {
			return fmt.Errorf("assertion %d: trace_count requires a valid op", index)
		}
	default:
		return fmt.Errorf("assertion %d: unknown type %q", index, a.Type)
	}
	return nil
}
