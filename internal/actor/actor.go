// Package actor drives a replay backend with synthetic experience and a
// stand-in learner, so the full store/sample/feedback loop can be exercised
// without an environment or a network.
package actor

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog"

	"github.com/cartridge/per/internal/replay"
	"github.com/cartridge/per/internal/rollout"
	"github.com/cartridge/per/internal/storage"
)

// Replay is the part of the replay API actors and learners use. Both the
// in-process engine and the gRPC client satisfy it.
type Replay interface {
	Store(ctx context.Context, batch *storage.Storage) ([]int, error)
	Sample(ctx context.Context) (*replay.Batch, bool, error)
	UpdatePriorities(ctx context.Context, sampleID string, indices []int, losses []float64) (replay.FeedbackResult, error)
}

// Actor steps a set of parallel environments and sends rollouts to replay
type Actor struct {
	cfg    Config
	replay Replay
	logger zerolog.Logger

	envs      []*walkEnv
	states    [][]float64
	policy    *RandomPolicy
	collector *rollout.Collector

	steps  int
	stored int
}

// New creates a new actor instance
func New(cfg Config, r Replay, logger zerolog.Logger) (*Actor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid actor config: %w", err)
	}
	collector, err := rollout.NewCollector(cfg.RolloutLength)
	if err != nil {
		return nil, err
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	a := &Actor{
		cfg:       cfg,
		replay:    r,
		logger:    logger.With().Str("actor_id", cfg.ActorID).Logger(),
		envs:      make([]*walkEnv, cfg.Envs),
		states:    make([][]float64, cfg.Envs),
		policy:    NewRandom(cfg.NumActions, rng),
		collector: collector,
	}
	for i := range a.envs {
		a.envs[i] = newWalkEnv(cfg.StateDim, cfg.NumActions, cfg.EpisodeLength, rng)
		a.states[i] = a.envs[i].reset()
	}

	a.logger.Info().
		Int("envs", cfg.Envs).
		Int("state_dim", cfg.StateDim).
		Int("rollout_length", cfg.RolloutLength).
		Msg("Actor initialized")

	return a, nil
}

// Run starts the actor main loop
func (a *Actor) Run(ctx context.Context) error {
	flushTicker := time.NewTicker(a.cfg.FlushInterval)
	defer flushTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.logger.Info().Int("steps", a.steps).Int("stored", a.stored).Msg("Context cancelled, stopping actor")
			return ctx.Err()

		case <-flushTicker.C:
			// Flush partial rollouts periodically
			if err := a.flush(ctx); err != nil {
				a.logger.Error().Err(err).Msg("Failed to flush rollout")
			}

		default:
			if a.cfg.MaxSteps >= 0 && a.steps >= a.cfg.MaxSteps {
				if err := a.flush(ctx); err != nil {
					return err
				}
				a.logger.Info().Int("steps", a.steps).Int("stored", a.stored).Msg("Reached maximum steps, stopping")
				return nil
			}
			if err := a.step(ctx); err != nil {
				return err
			}
		}
	}
}

// step advances every environment once and hands the step batch to the
// rollout collector.
func (a *Actor) step(ctx context.Context) error {
	records := make([]storage.Record, len(a.envs))
	for i, env := range a.envs {
		action := a.policy.SelectAction()
		next, reward, done := env.step(action)

		discount := a.cfg.Gamma
		if done {
			discount = 0
		}
		records[i] = storage.Record{
			State:     a.states[i],
			Action:    []float64{float64(action)},
			Reward:    reward,
			NextState: next,
			Discount:  discount,
		}

		if done {
			a.states[i] = env.reset()
		} else {
			a.states[i] = next
		}
	}
	a.steps++

	batch, err := storage.FromRecords(records, storage.KindInt)
	if err != nil {
		return err
	}
	full, ok, err := a.collector.Add(batch)
	if err != nil {
		return err
	}
	if ok {
		return a.send(ctx, full)
	}
	return nil
}

func (a *Actor) flush(ctx context.Context) error {
	pending, err := a.collector.Flush()
	if err != nil || pending == nil {
		return err
	}
	return a.send(ctx, pending)
}

func (a *Actor) send(ctx context.Context, batch *storage.Storage) error {
	indices, err := a.replay.Store(ctx, batch)
	if err != nil {
		return fmt.Errorf("failed to store rollout: %w", err)
	}
	a.stored += len(indices)
	a.logger.Debug().Int("rows", len(indices)).Msg("Stored rollout")
	return nil
}

// Steps is the number of environment steps taken so far.
func (a *Actor) Steps() int {
	return a.steps
}

// Stored is the number of rows accepted by replay.
func (a *Actor) Stored() int {
	return a.stored
}
