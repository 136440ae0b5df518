// Command pulse is the command-line interface of the poll ledger.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/pulse/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		if !cli.IsReported(err) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(cli.GetExitCode(err))
	}
}
