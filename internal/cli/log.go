package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/audittrail/internal/engine"
	"github.com/roach88/audittrail/internal/value"
)

// LogOptions holds flags for the log command.
type LogOptions struct {
	*RootOptions
	User    string
	Details string
}

// NewLogCommand creates the log command.
func NewLogCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LogOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "log <action>",
		Short: "Record one audit entry",
		Long: `Record one signed audit entry and flush it to the store before exiting.

Example:
  audittrail log login --user u1 --details '{"ip":"1.2.3.4"}'
  audittrail log system_start`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLog(cmd, opts, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.User, "user", "", "acting user id (omit for system actions)")
	cmd.Flags().StringVar(&opts.Details, "details", "{}", "details as a JSON object")

	return cmd
}

type logResult struct {
	Action    string  `json:"action"`
	UserID    *string `json:"user_id"`
	Persisted int     `json:"persisted"`
}

func (r logResult) WriteText(w io.Writer) error {
	_, err := fmt.Fprintf(w, "Logged %q (%d persisted)\n", r.Action, r.Persisted)
	return err
}

func runLog(cmd *cobra.Command, opts *LogOptions, action string) error {
	details, err := value.ParseObject([]byte(opts.Details))
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid --details", err)
	}
	var user *string
	if cmd.Flags().Changed("user") {
		user = &opts.User
	}

	a, err := opts.openApp(cmd, false)
	if err != nil {
		return err
	}
	defer closeApp(cmd.Context(), a)

	ctx := cmd.Context()
	if err := a.engine.Create(ctx, engine.CreateRequest{Action: action, UserID: user, Details: details}); err != nil {
		return engineFailure("failed to record entry", err)
	}
	res, err := a.engine.Flush(ctx)
	if res.DeadLettered > 0 {
		return WrapExitError(ExitFailure, "entry dead-lettered to "+a.cfg.DeadLetterPath, err)
	}
	if err != nil {
		return engineFailure("failed to flush entry", err)
	}

	return opts.formatter(cmd).Success(logResult{Action: action, UserID: user, Persisted: res.Persisted})
}
