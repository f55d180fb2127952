// Package query describes which log entries a read should return.
//
// A Filter is the caller-facing form: exact user id, one of four mutually
// exclusive action modes (exact, case-insensitive substring, in-set,
// not-in-set) and an inclusive timestamp range. Filter.Predicate lowers it
// into a sealed predicate tree that each storage backend compiles on its
// own: CompileSQL for SQLite here, BSON in the mongo backend, and Match for
// in-memory evaluation.
//
// Stored timestamps have whole-second resolution. Bounds with sub-second
// precision are rounded toward the inside of the range (start up, end
// down), which gives the same answer as comparing the exact instants.
package query
