package export

import (
	"errors"
	"fmt"
	"strings"
)

// Format selects the export encoding.
type Format string

const (
	FormatJSON   Format = "json"
	FormatNDJSON Format = "ndjson"
	FormatYAML   Format = "yaml"
)

// ErrUnsupportedFormat is returned by ParseFormat for unknown names.
var ErrUnsupportedFormat = errors.New("unsupported export format")

// ParseFormat maps a format name to a Format. The empty string selects
// JSON.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "json":
		return FormatJSON, nil
	case "ndjson", "jsonl":
		return FormatNDJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	}
	return "", fmt.Errorf("%w: %q (use json, ndjson or yaml)", ErrUnsupportedFormat, s)
}

// Extension is the file extension for downloads.
func (f Format) Extension() string {
	switch f {
	case FormatNDJSON:
		return "ndjson"
	case FormatYAML:
		return "yaml"
	}
	return "json"
}

// ContentType is the HTTP media type.
func (f Format) ContentType() string {
	switch f {
	case FormatNDJSON:
		return "application/x-ndjson"
	case FormatYAML:
		return "application/yaml"
	}
	return "application/json"
}
