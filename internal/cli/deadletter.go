package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/audittrail/internal/batch"
)

// DeadLetterOptions holds flags for the deadletter commands.
type DeadLetterOptions struct {
	*RootOptions
	File string
}

// NewDeadLetterCommand creates the deadletter command group.
func NewDeadLetterCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DeadLetterOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "deadletter",
		Short: "Inspect and replay batches the store rejected",
	}

	replay := &cobra.Command{
		Use:   "replay",
		Short: "Reinsert dead-lettered entries",
		Long: `Reinsert entries from a dead-letter file into the primary collection.
Entries keep their original ids, so replaying twice is safe. Entries whose
signature no longer verifies are skipped.

Example:
  audittrail deadletter replay
  audittrail deadletter replay --file /var/lib/audittrail/deadletter.jsonl`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(cmd, opts)
		},
	}
	replay.Flags().StringVar(&opts.File, "file", "", "dead-letter file (default AUDITTRAIL_DEADLETTER_PATH)")

	cmd.AddCommand(replay)
	return cmd
}

type replayResult struct {
	File string `json:"file"`
	batch.ReplayResult
}

func (r replayResult) WriteText(w io.Writer) error {
	_, err := fmt.Fprintf(w, "Replayed %d entries from %s (%d invalid, %d malformed)\n",
		r.Replayed, r.File, r.Invalid, r.Malformed)
	return err
}

func runReplay(cmd *cobra.Command, opts *DeadLetterOptions) error {
	a, err := opts.openApp(cmd, false)
	if err != nil {
		return err
	}
	defer closeApp(cmd.Context(), a)

	path := opts.File
	if path == "" {
		path = a.cfg.DeadLetterPath
	}
	if path == "" {
		return NewExitError(ExitCommandError, "no dead-letter file configured")
	}

	res, err := a.engine.ReplayDeadLetters(cmd.Context(), path)
	if err != nil {
		return engineFailure("replay failed", err)
	}
	return opts.formatter(cmd).Success(replayResult{File: path, ReplayResult: res})
}
