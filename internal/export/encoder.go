package export

import (
	"encoding/json"
	"io"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/audittrail/internal/logentry"
	"github.com/roach88/audittrail/internal/value"
)

// encoder writes a sequence of entries in one format.
type encoder interface {
	Encode(e logentry.LogEntry) error
	Close() error
}

func newEncoder(f Format, w io.Writer) encoder {
	switch f {
	case FormatNDJSON:
		return &ndjsonEncoder{w: w}
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		return &yamlEncoder{enc: enc}
	}
	return &jsonArrayEncoder{w: w}
}

// jsonArrayEncoder writes one JSON array, one element per line.
type jsonArrayEncoder struct {
	w io.Writer
	n int
}

func (e *jsonArrayEncoder) Encode(entry logentry.LogEntry) error {
	b, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	sep := ",\n"
	if e.n == 0 {
		sep = "[\n"
	}
	e.n++
	if _, err := io.WriteString(e.w, sep); err != nil {
		return err
	}
	_, err = e.w.Write(b)
	return err
}

func (e *jsonArrayEncoder) Close() error {
	end := "\n]\n"
	if e.n == 0 {
		end = "[]\n"
	}
	_, err := io.WriteString(e.w, end)
	return err
}

type ndjsonEncoder struct {
	w io.Writer
}

func (e *ndjsonEncoder) Encode(entry logentry.LogEntry) error {
	b, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	_, err = e.w.Write(append(b, '\n'))
	return err
}

func (e *ndjsonEncoder) Close() error { return nil }

// yamlRecord fixes field order and renders details as plain YAML.
type yamlRecord struct {
	ID        string         `yaml:"id"`
	Timestamp string         `yaml:"timestamp"`
	Action    string         `yaml:"action"`
	UserID    *string        `yaml:"user_id"`
	Details   map[string]any `yaml:"details"`
	Signature string         `yaml:"signature"`
}

type yamlEncoder struct {
	enc *yaml.Encoder
}

func (e *yamlEncoder) Encode(entry logentry.LogEntry) error {
	details, _ := value.ToGo(entry.Details).(map[string]any)
	if details == nil {
		details = map[string]any{}
	}
	return e.enc.Encode(yamlRecord{
		ID:        entry.ID,
		Timestamp: entry.Timestamp.UTC().Format(time.RFC3339),
		Action:    entry.Action,
		UserID:    entry.UserID,
		Details:   details,
		Signature: entry.Signature,
	})
}

func (e *yamlEncoder) Close() error {
	return e.enc.Close()
}
