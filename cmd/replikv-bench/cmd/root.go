package cmd

import (
	"time"

	"github.com/spf13/cobra"
)

var (
	address     string
	connections int
	rps         float64
	duration    time.Duration
	valueSize   int
	getRatio    float64
)

var rootCmd = &cobra.Command{
	Use:   "replikv-bench",
	Short: "Load generator for a replikv-server node",
	RunE:  run,
}

// Execute runs the root command. Called once from main.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.Flags().StringVarP(&address, "address", "a", "127.0.0.1:4567", "replikv-server host:port")
	rootCmd.Flags().IntVarP(&connections, "connections", "c", 8, "number of concurrent connections")
	rootCmd.Flags().Float64VarP(&rps, "rate", "r", 1000, "target aggregate requests per second")
	rootCmd.Flags().DurationVarP(&duration, "duration", "d", 10*time.Second, "how long to run the benchmark")
	rootCmd.Flags().IntVar(&valueSize, "value-size", 64, "size in bytes of generated SET values")
	rootCmd.Flags().Float64Var(&getRatio, "get-ratio", 0.5, "fraction of requests that are GET (rest are SET)")
}
