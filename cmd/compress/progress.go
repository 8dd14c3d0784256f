package main

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"media-compressor/internal/progress"
)

type progressFlags struct {
	interval time.Duration
	seed     uint64
	sse      bool
}

func newProgressCmd(g *globalOptions) *cobra.Command {
	f := &progressFlags{}

	cmd := &cobra.Command{
		Use:   "progress",
		Short: "Run the simulated progress stream",
		Long: `Drive a progress channel with the simulated cadence used by
/api/compress-progress: a 0% event, then random steps until 100%.

Examples:
  compress progress
  compress progress --interval 100ms --seed 42
  compress progress --sse      # print the server-sent event frames`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProgress(cmd, g, f)
		},
	}

	cmd.Flags().DurationVar(&f.interval, "interval", progress.DefaultInterval, "time between events")
	cmd.Flags().Uint64Var(&f.seed, "seed", 0, "random seed (0 picks one)")
	cmd.Flags().BoolVar(&f.sse, "sse", false, "print raw server-sent event frames")
	return cmd
}

func runProgress(cmd *cobra.Command, g *globalOptions, f *progressFlags) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	var rng *rand.Rand
	if f.seed != 0 {
		rng = rand.New(rand.NewPCG(f.seed, f.seed))
	}

	ch := progress.NewChannel(uuid.NewString())
	done := make(chan error, 1)
	go func() {
		done <- progress.Simulate(ctx, ch, f.interval, rng)
	}()

	events := ch.Subscribe(ctx)
	switch {
	case f.sse:
		for ev := range events {
			if err := progress.WriteEvent(cmd.OutOrStdout(), ev); err != nil {
				return err
			}
		}
	case g.quiet:
		for range events {
		}
	default:
		newRenderer(cmd.OutOrStdout()).Run(events)
	}

	if err := <-done; err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
