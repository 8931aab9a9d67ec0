package main

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/baxromumarov/handoff"
)

var (
	lockWorkers int
	lockHold    time.Duration
	lockTimeout time.Duration
)

var lockCmd = &cobra.Command{
	Use:   "lock",
	Short: "Show FIFO lock hand-off and timeout behavior",
	RunE:  runLockDemo,
}

func init() {
	lockCmd.Flags().IntVar(&lockWorkers, "workers", 4, "number of competing workers")
	lockCmd.Flags().DurationVar(&lockHold, "hold", 50*time.Millisecond, "how long each worker holds the lock")
	lockCmd.Flags().DurationVar(&lockTimeout, "timeout", 0, "per-acquisition timeout (0 waits indefinitely)")
}

func runLockDemo(cmd *cobra.Command, args []string) error {
	configureColor(cmd)

	l := handoff.NewLock(handoff.WithLockName("demo"))
	ctx := cmd.Context()

	ok := color.New(color.FgGreen)
	warn := color.New(color.FgYellow)

	done := make(chan struct{})
	for i := 1; i <= lockWorkers; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			start := time.Now()
			_, err := handoff.RunExclusive(ctx, l, lockTimeout, func(ctx context.Context) (struct{}, error) {
				ok.Printf("worker %d acquired after %s, holding %s\n", i, time.Since(start).Round(time.Millisecond), lockHold)
				time.Sleep(lockHold)
				return struct{}{}, nil
			})
			if handoff.IsLockTimeout(err) {
				warn.Printf("worker %d timed out: %v\n", i, err)
			} else if err != nil {
				fmt.Printf("worker %d failed: %v\n", i, err)
			}
		}()
		// Stagger starts so the FIFO grant order is visible.
		time.Sleep(time.Millisecond)
	}

	for range lockWorkers {
		<-done
	}
	fmt.Printf("waiters left: %d, held: %v\n", l.Waiters(), l.Held())
	return nil
}

func configureColor(cmd *cobra.Command) {
	if noColor, _ := cmd.Flags().GetBool("no-color"); noColor {
		color.NoColor = true
	}
}
