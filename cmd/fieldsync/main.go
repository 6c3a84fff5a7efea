// Command fieldsync operates settings stores and runs the cloud sync server.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/fieldsync/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fieldsync: %v\n", err)
		os.Exit(cli.GetExitCode(err))
	}
}
