package query

import (
	"errors"
	"fmt"
	"time"

	"github.com/roach88/audittrail/internal/value"
)

var (
	// ErrConflictingActionModes is returned when a filter sets more than one
	// action mode.
	ErrConflictingActionModes = errors.New("action filters are mutually exclusive: use only one of action, action__contains, action__in, action__not_in")

	// ErrInvertedRange is returned when start is after end.
	ErrInvertedRange = errors.New("start_time must not be after end_time")
)

// Filter is the caller-facing description of a query. At most one of the
// four action modes may be set. A nil slice leaves ActionIn or ActionNotIn
// unset; a non-nil empty slice is a set with no members.
type Filter struct {
	UserID         *string
	Action         string
	ActionContains string
	ActionIn       []string
	ActionNotIn    []string
	Start          *time.Time
	End            *time.Time
}

// Validate checks that the filter is well formed.
func (f Filter) Validate() error {
	modes := 0
	if f.Action != "" {
		modes++
	}
	if f.ActionContains != "" {
		modes++
	}
	if f.ActionIn != nil {
		modes++
	}
	if f.ActionNotIn != nil {
		modes++
	}
	if modes > 1 {
		return ErrConflictingActionModes
	}
	if f.Start != nil && f.End != nil && f.Start.After(*f.End) {
		return ErrInvertedRange
	}
	return nil
}

// Predicate builds the predicate tree for the filter. Callers should
// Validate first; Predicate does not reject conflicting modes.
func (f Filter) Predicate() Predicate {
	var preds []Predicate
	if f.UserID != nil {
		preds = append(preds, Equals{Field: FieldUserID, Value: *f.UserID})
	}
	switch {
	case f.Action != "":
		preds = append(preds, Equals{Field: FieldAction, Value: f.Action})
	case f.ActionContains != "":
		preds = append(preds, ContainsFold{Field: FieldAction, Substring: f.ActionContains})
	case f.ActionIn != nil:
		preds = append(preds, In{Field: FieldAction, Values: f.ActionIn})
	case f.ActionNotIn != nil:
		preds = append(preds, NotIn{Field: FieldAction, Values: f.ActionNotIn})
	}
	if f.Start != nil {
		preds = append(preds, TimeGTE{Time: *f.Start})
	}
	if f.End != nil {
		preds = append(preds, TimeLTE{Time: *f.End})
	}
	return And{Predicates: preds}
}

// Object renders the filter as a details value, using the same parameter
// names as the HTTP API. Unset fields are omitted.
func (f Filter) Object() value.Object {
	obj := value.Object{}
	if f.UserID != nil {
		obj["user_id"] = value.String(*f.UserID)
	}
	if f.Action != "" {
		obj["action"] = value.String(f.Action)
	}
	if f.ActionContains != "" {
		obj["action__contains"] = value.String(f.ActionContains)
	}
	if f.ActionIn != nil {
		obj["action__in"] = stringArray(f.ActionIn)
	}
	if f.ActionNotIn != nil {
		obj["action__not_in"] = stringArray(f.ActionNotIn)
	}
	if f.Start != nil {
		obj["start_time"] = value.String(f.Start.UTC().Format(time.RFC3339))
	}
	if f.End != nil {
		obj["end_time"] = value.String(f.End.UTC().Format(time.RFC3339))
	}
	return obj
}

func stringArray(ss []string) value.Array {
	arr := make(value.Array, len(ss))
	for i, s := range ss {
		arr[i] = value.String(s)
	}
	return arr
}

// Page is a limit/offset window over a newest-first result set.
type Page struct {
	Limit  int
	Offset int
}

// Normalize applies the default limit when unset and clamps to max.
func (p Page) Normalize(defaultLimit, maxLimit int) (Page, error) {
	if p.Limit < 0 {
		return p, fmt.Errorf("limit must be a non-negative integer")
	}
	if p.Offset < 0 {
		return p, fmt.Errorf("offset must be a non-negative integer")
	}
	if p.Limit == 0 {
		p.Limit = defaultLimit
	}
	if maxLimit > 0 && p.Limit > maxLimit {
		p.Limit = maxLimit
	}
	return p, nil
}
