package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/baxromumarov/handoff"
)

var (
	streamValues int
	streamFail   bool
)

var streamCmd = &cobra.Command{
	Use:   "stream",
	Short: "Show pushable stream production and consumption",
	RunE:  runStreamDemo,
}

func init() {
	streamCmd.Flags().IntVar(&streamValues, "values", 10, "number of values to push")
	streamCmd.Flags().BoolVar(&streamFail, "fail", false, "terminate the stream with an error")
}

func runStreamDemo(cmd *cobra.Command, args []string) error {
	configureColor(cmd)

	p := handoff.NewPushable[string]()
	ctx := cmd.Context()

	go func() {
		for i := range streamValues {
			if err := p.Push(fmt.Sprintf("value %d", i)); err != nil {
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
		if streamFail {
			p.Fail(errors.New("producer gave up"))
			return
		}
		p.End()
	}()

	errColor := color.New(color.FgRed)
	for v, err := range p.All(ctx) {
		if err != nil {
			errColor.Printf("stream failed: %v\n", err)
			break
		}
		fmt.Println(v)
	}

	fmt.Printf("done=%v failed=%v buffered=%d\n", p.Done(), p.Failed(), p.Buffered())
	return nil
}
