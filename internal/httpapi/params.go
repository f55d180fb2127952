package httpapi

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/roach88/audittrail/internal/engine"
	"github.com/roach88/audittrail/internal/query"
)

// Accepted time layouts. Layouts without a zone are read as UTC.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTime reads a filter bound.
func ParseTime(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q: use RFC 3339", s)
}

// splitList reads a comma list. An empty parameter is an empty set.
func splitList(s string) []string {
	out := []string{}
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// filterFromQuery builds a filter from list and export query parameters.
func filterFromQuery(q url.Values) (query.Filter, error) {
	var f query.Filter
	if q.Has("user_id") {
		uid := q.Get("user_id")
		f.UserID = &uid
	}
	f.Action = q.Get("action")
	f.ActionContains = q.Get("action__contains")
	if q.Has("action__in") {
		f.ActionIn = splitList(q.Get("action__in"))
	}
	if q.Has("action__not_in") {
		f.ActionNotIn = splitList(q.Get("action__not_in"))
	}
	if v := q.Get("start_time"); v != "" {
		t, err := ParseTime(v)
		if err != nil {
			return f, &engine.ValidationError{Field: "start_time", Message: err.Error(), Err: err}
		}
		f.Start = &t
	}
	if v := q.Get("end_time"); v != "" {
		t, err := ParseTime(v)
		if err != nil {
			return f, &engine.ValidationError{Field: "end_time", Message: err.Error(), Err: err}
		}
		f.End = &t
	}
	return f, nil
}

func pageFromQuery(q url.Values) (query.Page, error) {
	var p query.Page
	for _, field := range []struct {
		name string
		dst  *int
	}{{"limit", &p.Limit}, {"offset", &p.Offset}} {
		v := q.Get(field.name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			msg := field.name + " must be a non-negative integer"
			return p, &engine.ValidationError{Field: field.name, Message: msg, Err: err}
		}
		*field.dst = n
	}
	return p, nil
}
