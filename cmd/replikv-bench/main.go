// Command replikv-bench drives a configurable load of SET/GET requests
// against a replikv-server node and reports throughput and latency
// percentiles.
package main

import (
	"fmt"
	"os"

	"replikv/cmd/replikv-bench/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "replikv-bench: %v\n", err)
		os.Exit(1)
	}
}
