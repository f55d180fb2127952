// Package logentry holds the audit record model shared by every layer:
// the signed LogEntry, the unsigned Pending entry held by the buffer, the
// canonical timestamp form, and id generation.
package logentry
