package cmd

import (
	"github.com/spf13/cobra"
)

var (
	address string
	once    string
)

var rootCmd = &cobra.Command{
	Use:   "replikv-cli",
	Short: "Interactive text client for a replikv node",
	Long: `replikv-cli connects to a replikv-server node and speaks its wire
protocol directly: SET key value, GET key, DELETE key, and
LAST_REPLICATION_ID, one command per line.`,
	RunE: runInteractive,
}

// Execute adds all child commands and runs the root command. Called
// once from main.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&address, "address", "a", "127.0.0.1:4567", "replikv-server host:port")
	rootCmd.PersistentFlags().StringVar(&once, "once", "", "run a single command non-interactively and exit")
}
