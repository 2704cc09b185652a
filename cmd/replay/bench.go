package main

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/cartridge/per/internal/actor"
	"github.com/cartridge/per/internal/config"
	"github.com/cartridge/per/internal/replay"
	"github.com/cartridge/per/internal/service"
)

type benchOptions struct {
	replayAddr string
	actors     int
	actor      actor.Config
	learner    actor.LearnerConfig
}

var bopts = benchOptions{
	actors:  2,
	actor:   actor.Default(),
	learner: actor.DefaultLearner(),
}

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Drive a replay buffer with synthetic actors and a learner",
	Long: `Runs synthetic actors that store random-walk experience and a learner
that samples batches and reports TD errors as priorities.

Without --replay-addr the buffer runs in-process; otherwise the actors and the
learner talk to a running replay service over gRPC.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, err := bench(cmd.Context(), cfg, bopts, newLogger(cfg.LogLevel))
		return err
	},
}

func init() {
	flags := benchCmd.Flags()
	flags.StringVar(&bopts.replayAddr, "replay-addr", "", "Replay service address (empty runs in-process)")
	flags.IntVar(&bopts.actors, "actors", bopts.actors, "Number of concurrent actors")
	flags.IntVar(&bopts.actor.Envs, "envs", bopts.actor.Envs, "Environments per actor")
	flags.IntVar(&bopts.actor.StateDim, "state-dim", bopts.actor.StateDim, "State dimension of the synthetic environment")
	flags.IntVar(&bopts.actor.RolloutLength, "rollout-length", bopts.actor.RolloutLength, "Steps per stored rollout")
	flags.IntVar(&bopts.actor.MaxSteps, "max-steps", 1000, "Steps per actor (-1 for unlimited)")
	flags.DurationVar(&bopts.actor.FlushInterval, "flush-interval", bopts.actor.FlushInterval, "Interval to flush partial rollouts")
	flags.IntVar(&bopts.learner.MaxIterations, "iterations", 500, "Learner iterations (-1 for unlimited)")
	flags.IntVar(&bopts.learner.LogEvery, "log-every", bopts.learner.LogEvery, "Learner progress log interval")
}

// bench runs the actors and the learner to completion and returns the
// learner's counters.
func bench(ctx context.Context, cfg *config.Config, opts benchOptions, logger zerolog.Logger) (actor.LearnerStats, error) {
	var r actor.Replay
	if opts.replayAddr != "" {
		client, err := service.Dial(opts.replayAddr)
		if err != nil {
			return actor.LearnerStats{}, err
		}
		defer client.Close()
		r = client
	} else {
		engine, err := replay.New(cfg.Replay, replay.WithLogger(logger))
		if err != nil {
			return actor.LearnerStats{}, err
		}
		defer engine.Close()
		r = engine
	}

	learner, err := actor.NewLearner(opts.learner, r, logger)
	if err != nil {
		return actor.LearnerStats{}, err
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < opts.actors; i++ {
		acfg := opts.actor
		acfg.ActorID = fmt.Sprintf("actor-%d", i+1)
		if cfg.Replay.Seed != 0 {
			acfg.Seed = cfg.Replay.Seed + int64(i) + 1
		}
		a, err := actor.New(acfg, r, logger)
		if err != nil {
			return actor.LearnerStats{}, err
		}
		g.Go(func() error { return a.Run(gctx) })
	}

	start := time.Now()
	g.Go(func() error { return learner.Run(gctx) })
	if err := g.Wait(); err != nil {
		return learner.Stats(), err
	}

	stats := learner.Stats()
	elapsed := time.Since(start)
	logger.Info().
		Int("iterations", stats.Iterations).
		Int("updated", stats.Updated).
		Int("stale", stats.Stale).
		Int("cold_starts", stats.ColdStarts).
		Float64("last_loss", stats.LastLoss).
		Dur("elapsed", elapsed).
		Float64("iterations_per_sec", float64(stats.Iterations)/elapsed.Seconds()).
		Msg("Benchmark complete")

	return stats, nil
}
