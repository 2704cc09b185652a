package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cartridge/per/internal/config"
)

var (
	cfgFile string
	cfg     *config.Config
	v       = viper.New()
)

var rootCmd = &cobra.Command{
	Use:   "replay",
	Short: "Cartridge prioritized experience replay",
	Long: `Replay service that stores experience from actors in a fixed-capacity
circular buffer and serves prioritized mini-batches to learners.

Learners report per-row losses back, which become the sampling priorities
of those rows.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(v, cfgFile)
		if err != nil {
			return err
		}
		cfg = loaded
		return nil
	},
}

func init() {
	defaults := config.Default()
	flags := rootCmd.PersistentFlags()

	flags.StringVar(&cfgFile, "config", "", "Path to a YAML config file")
	flags.String("log-level", defaults.LogLevel, "Log level (debug, info, warn, error)")

	// Buffer and sampling
	flags.Int("capacity", defaults.Replay.Capacity, "Maximum number of rows held by the buffer")
	flags.Int("batch-size", defaults.Replay.BatchSize, "Rows per sampled mini-batch")
	flags.Int("cold-start", defaults.Replay.ColdStart, "Rows required before sampling starts")
	flags.Bool("prioritized", defaults.Replay.Prioritized, "Sample proportionally to priority instead of uniformly")
	flags.Float64("alpha", defaults.Replay.Alpha, "Priority exponent applied to learner losses")
	flags.Float64("clip-priorities", defaults.Replay.ClipPriorities, "Upper bound for stored priorities")
	flags.Float64("beta-start", defaults.Replay.BetaStart, "Initial importance-sampling exponent")
	flags.Int("beta-iterations", defaults.Replay.BetaIterations, "Iterations over which beta anneals to 1")
	flags.Int64("seed", 0, "Sampling RNG seed (0 seeds from the clock)")

	for key, flag := range map[string]string{
		"log_level":              "log-level",
		"replay.capacity":        "capacity",
		"replay.batch_size":      "batch-size",
		"replay.cold_start":      "cold-start",
		"replay.prioritized":     "prioritized",
		"replay.alpha":           "alpha",
		"replay.clip_priorities": "clip-priorities",
		"replay.beta_start":      "beta-start",
		"replay.beta_iterations": "beta-iterations",
		"replay.seed":            "seed",
	} {
		if err := v.BindPFlag(key, flags.Lookup(flag)); err != nil {
			panic(err)
		}
	}

	rootCmd.AddCommand(serveCmd, benchCmd, configCmd)
}

// newLogger builds the process logger. Unknown levels fall back to info.
func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(os.Stdout).Level(lvl).With().Timestamp().Logger()
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
