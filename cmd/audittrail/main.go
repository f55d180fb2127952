// Command audittrail runs the tamper-evident audit log service and its
// management commands.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/audittrail/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
