package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/audittrail/internal/engine"
	"github.com/roach88/audittrail/internal/logentry"
	"github.com/roach88/audittrail/internal/query"
	"github.com/roach88/audittrail/internal/value"
)

// ListOptions holds flags for the list command.
type ListOptions struct {
	*RootOptions
	filterFlags
	Limit  int
	Offset int
}

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ListOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List verified entries, newest first",
		Long: `List a page of primary entries, newest first. Entries whose signature
does not verify are left out.

Example:
  audittrail list --contains log --limit 20
  audittrail list --user u1 --start 2024-06-01T00:00:00Z --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(cmd, opts)
		},
	}

	opts.filterFlags.bind(cmd)
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "page size (0 uses AUDITTRAIL_LIST_LIMIT)")
	cmd.Flags().IntVar(&opts.Offset, "offset", 0, "entries to skip")

	return cmd
}

type listResult engine.ListResult

func (r listResult) WriteText(w io.Writer) error {
	if r.Count == 0 {
		_, err := fmt.Fprintln(w, "No entries.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTIMESTAMP\tACTION\tUSER\tDETAILS")
	for _, e := range r.Results {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			e.ID, logentry.CanonicalTimestamp(e.Timestamp), e.Action, userText(e.UserID), detailsText(e.Details))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "%d entries\n", r.Count)
	return err
}

func userText(u *string) string {
	if u == nil {
		return "-"
	}
	return *u
}

func detailsText(d value.Object) string {
	b, err := value.MarshalCanonical(d)
	if err != nil {
		return "?"
	}
	return string(b)
}

func runList(cmd *cobra.Command, opts *ListOptions) error {
	f, err := opts.filter(cmd)
	if err != nil {
		return err
	}

	a, err := opts.openApp(cmd, false)
	if err != nil {
		return err
	}
	defer closeApp(cmd.Context(), a)

	res, err := a.engine.List(cmd.Context(), f, query.Page{Limit: opts.Limit, Offset: opts.Offset})
	if err != nil {
		return engineFailure("failed to list entries", err)
	}
	return opts.formatter(cmd).Success(listResult(res))
}
