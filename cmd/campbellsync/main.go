// Command campbellsync polls Campbell Scientific dataloggers and
// reconciles their readings into a device / sensor / history store.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/campbellsync/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.ExitCode(err))
	}
}
