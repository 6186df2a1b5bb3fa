// Package rollout drives closed-loop policy evaluation: the batched
// simulation rollout loop, per-episode compilation of the raw step tensors,
// and metric aggregation across batches.
package rollout

import (
	"fmt"

	"github.com/emer/etable/etensor"

	"github.com/robolab/roboeval/internal/envs"
	"github.com/robolab/roboeval/internal/policy"
)

// Options configures one batched rollout.
type Options struct {
	// Seeds, if non-nil, seeds each environment once at reset (one entry per
	// environment) for reproducibility.
	Seeds []int64
	// ReturnObservations retains per-step observation snapshots. Off by
	// default because they dominate memory.
	ReturnObservations bool
	// RenderCallback, if set, runs after the reset and after every step.
	RenderCallback func(envs.VectorEnv)
}

// RawBatch is the raw result of one batched rollout. All environments run
// until the last one is done, so sequences contain post-termination data that
// the cumulative Dones mask identifies for downstream discarding.
type RawBatch struct {
	// Actions has shape [batch, seq, action_dim].
	Actions *etensor.Float32
	// Rewards has shape [batch, seq].
	Rewards *etensor.Float32
	// Successes[i][t] is only true on the step environment i finished with a
	// success.
	Successes [][]bool
	// Dones[i] is cumulative: sticky true from the first terminal step on.
	Dones [][]bool
	// Observations, if requested, maps each channel to a [batch, seq+1, ...]
	// tensor; the extra entry is the observation captured after the loop
	// exits, needed for next-step training-style datasets.
	Observations map[string]*etensor.Float32
	Steps        int
}

// Rollout runs the policy once through a batch of environments until every
// element reports done. Already-finished environments keep receiving actions;
// their extra transitions are wasted but harmless.
func Rollout(env envs.VectorEnv, p policy.Policy, opts Options) (*RawBatch, error) {
	n := env.NumEnvs()
	if opts.Seeds != nil && len(opts.Seeds) != n {
		return nil, fmt.Errorf("rollout: got %d seeds for %d envs", len(opts.Seeds), n)
	}

	p.Reset()
	obs, err := env.Reset(opts.Seeds)
	if err != nil {
		return nil, fmt.Errorf("rollout: reset: %w", err)
	}
	if opts.RenderCallback != nil {
		opts.RenderCallback(env)
	}

	var (
		stepActions  []*etensor.Float32
		stepRewards  [][]float32
		stepSuccess  [][]bool
		stepDones    [][]bool
		observations []envs.Observation
	)
	done := make([]bool, n)
	// Envs truncate themselves at MaxEpisodeSteps; the bound here only guards
	// against a collaborator that never reports done.
	maxSteps := env.MaxEpisodeSteps() + 1

	for step := 0; !all(done); step++ {
		if step >= maxSteps {
			return nil, fmt.Errorf("rollout: no done after %d steps; environment never terminates", step)
		}
		if opts.ReturnObservations {
			observations = append(observations, obs.Clone())
		}

		action, err := p.SelectAction(obs)
		if err != nil {
			return nil, fmt.Errorf("rollout: select action at step %d: %w", step, err)
		}
		if action.NumDims() != 2 || action.Dim(0) != n {
			return nil, fmt.Errorf("rollout: action must have shape [%d, action_dim], got %v", n, action.Shape.Shp)
		}

		nextObs, rewards, terminated, truncated, successes, err := env.Step(action)
		if err != nil {
			return nil, fmt.Errorf("rollout: env step %d: %w", step, err)
		}
		obs = nextObs
		if opts.RenderCallback != nil {
			opts.RenderCallback(env)
		}

		for i := 0; i < n; i++ {
			done[i] = done[i] || terminated[i] || truncated[i]
		}

		rewards32 := make([]float32, n)
		for i, r := range rewards {
			rewards32[i] = float32(r)
		}
		stepActions = append(stepActions, action)
		stepRewards = append(stepRewards, rewards32)
		stepSuccess = append(stepSuccess, append([]bool(nil), successes...))
		stepDones = append(stepDones, append([]bool(nil), done...))
	}

	// One extra observation after loop exit.
	if opts.ReturnObservations {
		observations = append(observations, obs.Clone())
	}

	return stackBatch(n, stepActions, stepRewards, stepSuccess, stepDones, observations)
}

func stackBatch(
	n int,
	stepActions []*etensor.Float32,
	stepRewards [][]float32,
	stepSuccess, stepDones [][]bool,
	observations []envs.Observation,
) (*RawBatch, error) {
	seq := len(stepActions)
	if seq == 0 {
		return nil, fmt.Errorf("rollout: empty batch")
	}
	dim := stepActions[0].Dim(1)

	actions := etensor.NewFloat32([]int{n, seq, dim}, nil, nil)
	rewards := etensor.NewFloat32([]int{n, seq}, nil, nil)
	successes := make([][]bool, n)
	dones := make([][]bool, n)
	for i := 0; i < n; i++ {
		successes[i] = make([]bool, seq)
		dones[i] = make([]bool, seq)
		for t := 0; t < seq; t++ {
			src := stepActions[t].Values[i*dim : (i+1)*dim]
			copy(actions.Values[(i*seq+t)*dim:(i*seq+t+1)*dim], src)
			rewards.Values[i*seq+t] = stepRewards[t][i]
			successes[i][t] = stepSuccess[t][i]
			dones[i][t] = stepDones[t][i]
		}
	}

	batch := &RawBatch{
		Actions:   actions,
		Rewards:   rewards,
		Successes: successes,
		Dones:     dones,
		Steps:     seq,
	}

	if observations != nil {
		batch.Observations = make(map[string]*etensor.Float32, len(observations[0]))
		for key, first := range observations[0] {
			inner := first.Shape.Shp[1:] // drop batch dim
			innerLen := 1
			for _, d := range inner {
				innerLen *= d
			}
			shp := append([]int{n, seq + 1}, inner...)
			out := etensor.NewFloat32(shp, nil, nil)
			for t, o := range observations {
				src, ok := o[key]
				if !ok {
					return nil, fmt.Errorf("rollout: step %d is missing observation key %q", t, key)
				}
				for i := 0; i < n; i++ {
					copy(
						out.Values[((i*(seq+1))+t)*innerLen:((i*(seq+1))+t+1)*innerLen],
						src.Values[i*innerLen:(i+1)*innerLen],
					)
				}
			}
			batch.Observations[key] = out
		}
	}
	return batch, nil
}

func all(flags []bool) bool {
	for _, f := range flags {
		if !f {
			return false
		}
	}
	return true
}
