// Command handoff runs small interactive scenarios that exercise the
// coordination primitives: FIFO lock hand-off, mode-partitioned batching,
// and pushable stream consumption.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "handoff",
	Short: "Demo scenarios for the handoff coordination primitives",
	Long: `handoff runs demonstration scenarios for the three coordination
primitives in the library: the FIFO Lock, the mode-partitioned BatchQueue,
and the single-consumer Pushable stream.`,
}

func main() {
	rootCmd.AddCommand(lockCmd)
	rootCmd.AddCommand(batchCmd)
	rootCmd.AddCommand(streamCmd)

	rootCmd.PersistentFlags().Bool("no-color", false, "disable colored output")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
