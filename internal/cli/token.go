package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/audittrail/internal/httpapi"
)

// TokenOptions holds flags for the token command.
type TokenOptions struct {
	*RootOptions
	Subject string
	Admin   bool
	TTL     time.Duration
}

// NewTokenCommand creates the token command.
func NewTokenCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TokenOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an API bearer token",
		Long: `Mint an HS256 bearer token for the HTTP API, signed with
AUDITTRAIL_JWT_SECRET. The subject becomes the requester and the default
user id of entries created with the token. --admin allows archival.

Example:
  audittrail token --subject alice
  audittrail token --subject ops --admin --ttl 1h`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runToken(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Subject, "subject", "", "caller identity (required)")
	cmd.Flags().BoolVar(&opts.Admin, "admin", false, "grant admin privileges")
	cmd.Flags().DurationVar(&opts.TTL, "ttl", httpapi.TokenTTL, "token lifetime")
	_ = cmd.MarkFlagRequired("subject")

	return cmd
}

type tokenResult struct {
	Token     string    `json:"token"`
	Subject   string    `json:"subject"`
	Admin     bool      `json:"admin"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (r tokenResult) WriteText(w io.Writer) error {
	_, err := fmt.Fprintf(w, "%s\nExpires at %s\n", r.Token, r.ExpiresAt.Format(time.RFC3339))
	return err
}

func runToken(cmd *cobra.Command, opts *TokenOptions) error {
	if opts.TTL <= 0 {
		return NewExitError(ExitCommandError, "--ttl must be positive")
	}
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	if cfg.JWTSecret == "" {
		return NewExitError(ExitCommandError, "AUDITTRAIL_JWT_SECRET is not set")
	}

	now := opts.now().UTC()
	token, err := httpapi.IssueToken([]byte(cfg.JWTSecret), opts.Subject, opts.Admin, now, opts.TTL)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to mint token", err)
	}
	return opts.formatter(cmd).Success(tokenResult{
		Token:     token,
		Subject:   opts.Subject,
		Admin:     opts.Admin,
		ExpiresAt: now.Add(opts.TTL),
	})
}
