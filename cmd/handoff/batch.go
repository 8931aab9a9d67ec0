package main

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/baxromumarov/handoff"
)

var (
	batchMessages int
	batchKeys     int
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Show mode-partitioned batching of a message queue",
	RunE:  runBatchDemo,
}

func init() {
	batchCmd.Flags().IntVar(&batchMessages, "messages", 20, "number of messages to produce")
	batchCmd.Flags().IntVar(&batchKeys, "keys", 3, "number of distinct partition keys")
}

func runBatchDemo(cmd *cobra.Command, args []string) error {
	configureColor(cmd)

	q := handoff.NewBatchQueue(func(k string) string { return k })
	keyColor := color.New(color.FgCyan)

	ctx := cmd.Context()

	c := handoff.NewConsumer(ctx, q, func(ctx context.Context, b handoff.Batch[string, string]) error {
		keyColor.Printf("--- batch for %s (isolated=%v) ---\n", b.Key, b.Isolated)
		fmt.Println(b.Message)
		return nil
	})

	for i := range batchMessages {
		key := fmt.Sprintf("key-%d", rand.IntN(batchKeys))
		if err := q.Push(fmt.Sprintf("message %d", i), key); err != nil {
			return err
		}
		if i%5 == 4 {
			time.Sleep(10 * time.Millisecond) // let runs of same-key messages build up
		}
	}

	// Supersede whatever is still queued with one isolated summary.
	if err := q.PushIsolateAndClear(fmt.Sprintf("produced %d messages", batchMessages), "summary"); err != nil {
		return err
	}

	time.Sleep(50 * time.Millisecond)
	q.Close()
	if err := c.Close(); err != nil {
		return err
	}

	st := q.Stats()
	fmt.Printf("pushed=%d batches=%d cleared=%d\n", st.Pushed, st.Batches, st.Cleared)
	return nil
}
