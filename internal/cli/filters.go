package cli

import (
	"github.com/spf13/cobra"

	"github.com/roach88/audittrail/internal/httpapi"
	"github.com/roach88/audittrail/internal/query"
)

// filterFlags are the record filters shared by list, export and verify.
type filterFlags struct {
	User     string
	Action   string
	Contains string
	In       []string
	NotIn    []string
	Start    string
	End      string
}

func (f *filterFlags) bind(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringVar(&f.User, "user", "", "only entries by this user id")
	fs.StringVar(&f.Action, "action", "", "only entries with exactly this action")
	fs.StringVar(&f.Contains, "contains", "", "only entries whose action contains this text (case-insensitive)")
	fs.StringSliceVar(&f.In, "in", nil, "only entries whose action is in this list")
	fs.StringSliceVar(&f.NotIn, "not-in", nil, "exclude entries whose action is in this list")
	fs.StringVar(&f.Start, "start", "", "only entries at or after this time (RFC 3339)")
	fs.StringVar(&f.End, "end", "", "only entries at or before this time (RFC 3339)")
}

// filter builds the query filter. A flag given with an empty list, such as
// --in "", selects an empty set rather than leaving the mode unset.
func (f *filterFlags) filter(cmd *cobra.Command) (query.Filter, error) {
	var out query.Filter
	fs := cmd.Flags()
	if fs.Changed("user") {
		user := f.User
		out.UserID = &user
	}
	out.Action = f.Action
	out.ActionContains = f.Contains
	if fs.Changed("in") {
		out.ActionIn = nonNil(f.In)
	}
	if fs.Changed("not-in") {
		out.ActionNotIn = nonNil(f.NotIn)
	}
	if f.Start != "" {
		t, err := httpapi.ParseTime(f.Start)
		if err != nil {
			return out, WrapExitError(ExitCommandError, "invalid --start", err)
		}
		out.Start = &t
	}
	if f.End != "" {
		t, err := httpapi.ParseTime(f.End)
		if err != nil {
			return out, WrapExitError(ExitCommandError, "invalid --end", err)
		}
		out.End = &t
	}
	return out, nil
}

func nonNil(ss []string) []string {
	if ss == nil {
		return []string{}
	}
	return ss
}
