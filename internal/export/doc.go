// Package export streams verified log entries as JSON, NDJSON or YAML.
//
// Entries are read lazily from a store cursor and written as they arrive,
// so memory use does not grow with the size of the result set. Every
// completed export records an "export_logs" entry describing who exported
// what.
package export
