package batch

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/roach88/audittrail/internal/logentry"
)

// DeadLetterSink receives signed batches that could not be persisted.
type DeadLetterSink interface {
	Write(ctx context.Context, entries []logentry.LogEntry) error
}

// DeadLetterFile appends signed entries to a JSONL file, one entry per
// line. The file is created on first write.
//
// Thread-safety: safe for concurrent use.
type DeadLetterFile struct {
	path string
	mu   sync.Mutex
	f    *os.File
}

// NewDeadLetterFile creates a sink writing to path.
func NewDeadLetterFile(path string) (*DeadLetterFile, error) {
	if path == "" {
		return nil, os.ErrInvalid
	}
	return &DeadLetterFile{path: path}, nil
}

// Path returns the file location.
func (d *DeadLetterFile) Path() string {
	return d.path
}

// Write appends entries and syncs the file.
func (d *DeadLetterFile) Write(ctx context.Context, entries []logentry.LogEntry) error {
	if len(entries) == 0 {
		return nil
	}

	var buf []byte
	for _, e := range entries {
		line, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("encode dead-letter entry %s: %w", e.ID, err)
		}
		buf = append(buf, line...)
		buf = append(buf, '\n')
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.f == nil {
		if err := os.MkdirAll(filepath.Dir(d.path), 0o755); err != nil {
			return fmt.Errorf("create dead-letter dir: %w", err)
		}
		f, err := os.OpenFile(d.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return fmt.Errorf("open dead-letter file: %w", err)
		}
		d.f = f
	}
	if _, err := d.f.Write(buf); err != nil {
		return fmt.Errorf("write dead-letter file: %w", err)
	}
	return d.f.Sync()
}

// Close closes the underlying file if it was opened.
func (d *DeadLetterFile) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.f == nil {
		return nil
	}
	err := d.f.Close()
	d.f = nil
	return err
}

// ReadDeadLetters parses a dead-letter file. Malformed lines are skipped
// and counted. A missing file yields no entries.
func ReadDeadLetters(path string) (entries []logentry.LogEntry, malformed int, err error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, 0, nil
		}
		return nil, 0, err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var e logentry.LogEntry
		if err := json.Unmarshal(line, &e); err != nil || e.ID == "" {
			malformed++
			continue
		}
		entries = append(entries, e)
	}
	if err := sc.Err(); err != nil {
		return nil, 0, fmt.Errorf("read dead-letter file: %w", err)
	}
	return entries, malformed, nil
}

// ReplayResult summarizes a dead-letter replay.
type ReplayResult struct {
	Replayed  int `json:"replayed"`
	Invalid   int `json:"invalid"`
	Malformed int `json:"malformed"`
}

// Replay reinserts dead-lettered entries into dst in batches. Entries that
// fail verify are left out. Inserts are idempotent by id, so replaying
// the same file twice does not duplicate records.
func Replay(ctx context.Context, path string, dst BatchInserter, verify func(logentry.LogEntry) bool) (ReplayResult, error) {
	entries, malformed, err := ReadDeadLetters(path)
	if err != nil {
		return ReplayResult{}, err
	}
	res := ReplayResult{Malformed: malformed}

	valid := make([]logentry.LogEntry, 0, len(entries))
	for _, e := range entries {
		if verify != nil && !verify(e) {
			res.Invalid++
			continue
		}
		valid = append(valid, e)
	}

	for start := 0; start < len(valid); start += DefaultCapacity {
		end := min(start+DefaultCapacity, len(valid))
		if err := dst.InsertBatch(ctx, valid[start:end]); err != nil {
			return res, fmt.Errorf("replay dead letters: %w", err)
		}
		res.Replayed = end
	}
	return res, nil
}
