package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/audittrail/internal/signer"
)

// KeygenOptions holds flags for the keygen command.
type KeygenOptions struct {
	*RootOptions
	Bytes int
}

// NewKeygenCommand creates the keygen command.
func NewKeygenCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &KeygenOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a random signing key",
		Long: `Print a hex-encoded random key suitable for AUDITTRAIL_SIGNING_KEY or
AUDITTRAIL_JWT_SECRET. Does not read configuration.

Example:
  audittrail keygen --bytes 32`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := signer.GenerateKey(opts.Bytes, nil)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to generate key", err)
			}
			return opts.formatter(cmd).Success(keygenResult{Key: key, Bytes: opts.Bytes})
		},
	}

	cmd.Flags().IntVar(&opts.Bytes, "bytes", 32, "key length in bytes")

	return cmd
}

type keygenResult struct {
	Key   string `json:"key"`
	Bytes int    `json:"bytes"`
}

func (r keygenResult) WriteText(w io.Writer) error {
	_, err := fmt.Fprintln(w, r.Key)
	return err
}
