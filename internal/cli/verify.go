package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/audittrail/internal/engine"
	"github.com/roach88/audittrail/internal/store"
)

// VerifyOptions holds flags for the verify command.
type VerifyOptions struct {
	*RootOptions
	filterFlags
	Archive bool
}

// NewVerifyCommand creates the verify command.
func NewVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &VerifyOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Scan stored entries for tampering",
		Long: `Re-verify the signature of every entry in the primary collection, or the
archive with --archive, and list the ids that fail. Exits 1 when any entry
is tampered or cannot be decoded.

Example:
  audittrail verify
  audittrail verify --archive --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(cmd, opts)
		},
	}

	opts.filterFlags.bind(cmd)
	cmd.Flags().BoolVar(&opts.Archive, "archive", false, "scan the archive instead of the primary collection")

	return cmd
}

type verifyResult engine.VerifyReport

func (r verifyResult) WriteText(w io.Writer) error {
	fmt.Fprintf(w, "Scanned %d entries in %s: %d valid, %d tampered, %d undecodable\n",
		r.Scanned, r.Collection, r.Valid, len(r.Tampered), len(r.Undecodable))
	for _, id := range r.Tampered {
		fmt.Fprintf(w, "  tampered     %s\n", id)
	}
	for _, id := range r.Undecodable {
		fmt.Fprintf(w, "  undecodable  %s\n", id)
	}
	return nil
}

func runVerify(cmd *cobra.Command, opts *VerifyOptions) error {
	f, err := opts.filter(cmd)
	if err != nil {
		return err
	}
	src := engine.SourceLogs
	if opts.Archive {
		src = engine.SourceArchive
	}

	a, err := opts.openApp(cmd, false)
	if err != nil {
		return err
	}
	defer closeApp(cmd.Context(), a)

	out := opts.formatter(cmd)
	report, err := a.engine.Verify(cmd.Context(), src, f, func(r store.Rejection) {
		reason := "signature mismatch"
		if r.Err != nil {
			reason = r.Err.Error()
		}
		out.VerboseLog("rejected %s: %s", r.ID, reason)
	})
	if err != nil {
		return engineFailure("verification failed", err)
	}

	if !report.Clean() {
		msg := fmt.Sprintf("%d of %d entries failed verification",
			len(report.Tampered)+len(report.Undecodable), report.Scanned)
		if err := out.Error(CodeTampered, msg, verifyResult(report)); err != nil {
			return err
		}
		return NewExitError(ExitFailure, msg)
	}
	return out.Success(verifyResult(report))
}
