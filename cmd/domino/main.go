// Command domino compiles, runs, traces and replays domino programs.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/domino/internal/cli"
)

func main() {
	err := cli.NewRootCommand().Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	os.Exit(cli.GetExitCode(err))
}
