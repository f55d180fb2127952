package query

import (
	"time"
)

// Field names a string column that predicates can filter on.
type Field string

const (
	FieldUserID Field = "user_id"
	FieldAction Field = "action"
)

// Predicate is a filter condition over log entries.
//
// This is a sealed interface: only types in this package implement it, so
// backend compilers can switch over it exhaustively.
//
// Predicate types:
//   - Equals: field = value
//   - ContainsFold: case-insensitive substring match
//   - In / NotIn: set membership and exclusion
//   - TimeGTE / TimeLTE / TimeLT: timestamp bounds
//   - And: conjunction; an empty And matches everything
type Predicate interface {
	predicateNode()
}

// Equals matches entries whose field equals Value exactly.
type Equals struct {
	Field Field
	Value string
}

func (Equals) predicateNode() {}

// ContainsFold matches entries whose field contains Substring, ignoring
// case.
type ContainsFold struct {
	Field     Field
	Substring string
}

func (ContainsFold) predicateNode() {}

// In matches entries whose field is one of Values. An empty set matches
// nothing.
type In struct {
	Field  Field
	Values []string
}

func (In) predicateNode() {}

// NotIn matches entries whose field is none of Values. An empty set
// matches everything. Entries with no value for the field match.
type NotIn struct {
	Field  Field
	Values []string
}

func (NotIn) predicateNode() {}

// TimeGTE matches entries with timestamp >= Time.
type TimeGTE struct {
	Time time.Time
}

func (TimeGTE) predicateNode() {}

// TimeLTE matches entries with timestamp <= Time.
type TimeLTE struct {
	Time time.Time
}

func (TimeLTE) predicateNode() {}

// TimeLT matches entries with timestamp strictly before Time. Archival uses
// it for the cutoff.
type TimeLT struct {
	Time time.Time
}

func (TimeLT) predicateNode() {}

// And matches when every child predicate matches.
type And struct {
	Predicates []Predicate
}

func (And) predicateNode() {}

// All returns a predicate that matches every entry.
func All() Predicate {
	return And{}
}

// Sort is the result order by timestamp. Ties break on id in the same
// direction so paging is stable.
type Sort int

const (
	NewestFirst Sort = iota
	OldestFirst
)

// Options controls ordering and paging of a find. A zero Limit means no
// limit.
type Options struct {
	Sort   Sort
	Limit  int
	Offset int
}

// floorSecond and ceilSecond map an arbitrary instant onto the whole-second
// grid that stored timestamps live on, so a bound with sub-second precision
// compares exactly.
func floorSecond(t time.Time) int64 {
	return t.Unix()
}

func ceilSecond(t time.Time) int64 {
	if t.Nanosecond() > 0 {
		return t.Unix() + 1
	}
	return t.Unix()
}

// CeilTime returns t rounded up to the next whole second, in UTC.
func CeilTime(t time.Time) time.Time {
	return time.Unix(ceilSecond(t), 0).UTC()
}

// FloorTime returns t truncated to the whole second, in UTC.
func FloorTime(t time.Time) time.Time {
	return time.Unix(floorSecond(t), 0).UTC()
}
