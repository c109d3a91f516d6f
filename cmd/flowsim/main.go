// Command flowsim simulates user flows and streams the resulting events.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/roach88/flowsim/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
