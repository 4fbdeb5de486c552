// Command replikv-cli is an interactive text client for the
// replication core's wire protocol: it reads command lines, frames
// them, and prints the decoded response.
package main

import (
	"fmt"
	"os"

	"replikv/cmd/replikv-cli/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "replikv-cli: %v\n", err)
		os.Exit(1)
	}
}
