package cli

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/audittrail/internal/config"
	atestutil "github.com/roach88/audittrail/internal/testutil"
)

var t0 = time.Date(2024, 6, 1, 12, 30, 45, 0, time.UTC)

type testEnv struct {
	opts  *RootOptions
	cfg   *config.Config
	clock *atestutil.Clock
	dir   string
}

// newTestEnv builds options over a fresh SQLite database with
// deterministic ids and time.
func newTestEnv(t *testing.T, extra map[string]string) *testEnv {
	t.Helper()
	dir := t.TempDir()
	environ := map[string]string{
		"AUDITTRAIL_SIGNING_KEY":          "test-signing-key",
		"AUDITTRAIL_SQLITE_PATH":          filepath.Join(dir, "audit.db"),
		"AUDITTRAIL_DEADLETTER_PATH":      filepath.Join(dir, "deadletter.jsonl"),
		"AUDITTRAIL_FLUSH_MAX_ATTEMPTS":   "1",
		"AUDITTRAIL_ARCHIVE_MAX_ATTEMPTS": "1",
		"AUDITTRAIL_LOG_LEVEL":            "error",
	}
	for k, v := range extra {
		environ[k] = v
	}
	cfg, err := config.LoadFrom(environ)
	require.NoError(t, err)

	clock := atestutil.NewClock(t0)
	return &testEnv{
		opts: &RootOptions{
			Config: &cfg,
			IDs:    atestutil.NewSequentialIDs("entry"),
			Now:    clock.Now,
		},
		cfg:   &cfg,
		clock: clock,
		dir:   dir,
	}
}

// run executes the root command with args and returns stdout and stderr.
func (e *testEnv) run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	return e.runContext(context.Background(), t, args...)
}

func (e *testEnv) runContext(ctx context.Context, t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	cmd := newRootCommand(e.opts)
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetArgs(args)
	cmd.SetContext(ctx)
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

func (e *testEnv) mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, errOut, err := e.run(t, args...)
	require.NoError(t, err, "stderr: %s", errOut)
	return out
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "audittrail", cmd.Use)
	assert.Contains(t, cmd.Long, "signed audit entries")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := [][]string{
		{"serve"}, {"log"}, {"list"}, {"export"}, {"archive"},
		{"verify"}, {"keygen"}, {"token"}, {"deadletter", "replay"},
	}

	for _, path := range commands {
		t.Run(path[len(path)-1], func(t *testing.T) {
			subCmd, _, err := cmd.Find(path)
			require.NoError(t, err, "Command %v should exist", path)
			require.NotNil(t, subCmd)
			assert.Equal(t, path[len(path)-1], subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)
	assert.Equal(t, "false", verboseFlag.DefValue)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)

	envFlag := cmd.PersistentFlags().Lookup("env-file")
	require.NotNil(t, envFlag)
	assert.Equal(t, ".env", envFlag.DefValue)
}

func TestExportCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	exportCmd, _, err := cmd.Find([]string{"export"})
	require.NoError(t, err)

	outputFlag := exportCmd.Flags().Lookup("output")
	require.NotNil(t, outputFlag)
	assert.Equal(t, "o", outputFlag.Shorthand)

	formatFlag := exportCmd.Flags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "json", formatFlag.DefValue, "export --format selects the encoding")
}

func TestInvalidOutputFormat(t *testing.T) {
	env := newTestEnv(t, nil)
	_, _, err := env.run(t, "list", "--format", "xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestMissingConfig(t *testing.T) {
	t.Setenv("AUDITTRAIL_SIGNING_KEY", "")
	t.Setenv("AUDITTRAIL_STORE_DRIVER", "sqlite")

	opts := &RootOptions{}
	cmd := newRootCommand(opts)
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"list", "--env-file", filepath.Join(t.TempDir(), "absent.env")})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "failed to load config")
}

func TestStoreUnavailable(t *testing.T) {
	env := newTestEnv(t, map[string]string{
		"AUDITTRAIL_SQLITE_PATH": "/nonexistent/dir/audit.db",
	})
	_, _, err := env.run(t, "list")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "failed to open store")
}
