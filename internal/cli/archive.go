package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/audittrail/internal/logentry"
)

// ArchiveOptions holds flags for the archive command.
type ArchiveOptions struct {
	*RootOptions
	Days int
}

// NewArchiveCommand creates the archive command.
func NewArchiveCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ArchiveOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Move aged entries to the archive",
		Long: `Move every primary entry older than --days days to the archive, then
exit. Entries keep their ids and signatures. Running it again is safe.

Example:
  audittrail archive --days 30`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runArchive(cmd, opts)
		},
	}

	cmd.Flags().IntVar(&opts.Days, "days", 0, "age threshold in days (default AUDITTRAIL_ARCHIVE_DAYS)")

	return cmd
}

type archiveResult struct {
	Days   int       `json:"days"`
	Cutoff time.Time `json:"cutoff"`
	Moved  int       `json:"moved"`
}

func (r archiveResult) WriteText(w io.Writer) error {
	_, err := fmt.Fprintf(w, "Archived %d entries older than %d days (before %s)\n",
		r.Moved, r.Days, logentry.CanonicalTimestamp(r.Cutoff))
	return err
}

func runArchive(cmd *cobra.Command, opts *ArchiveOptions) error {
	a, err := opts.openApp(cmd, false)
	if err != nil {
		return err
	}
	defer closeApp(cmd.Context(), a)

	days := a.cfg.ArchiveDays
	if cmd.Flags().Changed("days") {
		days = opts.Days
	}

	res, err := a.engine.ArchiveNow(cmd.Context(), days)
	if err != nil {
		return engineFailure("archive failed", err)
	}
	return opts.formatter(cmd).Success(archiveResult{Days: days, Cutoff: res.Cutoff, Moved: res.Moved})
}
