package envs

import (
	"fmt"

	"github.com/emer/etable/etensor"
)

// SyncVector steps a set of environments sequentially in lockstep. A finished
// environment is reset in place and keeps accepting actions so the batch can
// continue until every element has terminated; the rollout loop's cumulative
// done mask discards the post-termination data.
type SyncVector struct {
	envs []Environment
}

func NewSyncVector(envs []Environment) (*SyncVector, error) {
	if len(envs) == 0 {
		return nil, fmt.Errorf("sync vector env: need at least one environment")
	}
	return &SyncVector{envs: envs}, nil
}

func (v *SyncVector) NumEnvs() int { return len(v.envs) }

func (v *SyncVector) MaxEpisodeSteps() int { return v.envs[0].MaxEpisodeSteps() }

func (v *SyncVector) RenderFPS() float64 { return v.envs[0].RenderFPS() }

func (v *SyncVector) Reset(seeds []int64) (Observation, error) {
	if seeds != nil && len(seeds) != len(v.envs) {
		return nil, fmt.Errorf("sync vector env: got %d seeds for %d envs", len(seeds), len(v.envs))
	}
	obs := make([]Observation, len(v.envs))
	for i, e := range v.envs {
		var seed *int64
		if seeds != nil {
			s := seeds[i]
			seed = &s
		}
		o, _, err := e.Reset(seed)
		if err != nil {
			return nil, fmt.Errorf("reset env %d: %w", i, err)
		}
		obs[i] = o
	}
	return stackObservations(obs)
}

func (v *SyncVector) Step(actions *etensor.Float32) (Observation, []float64, []bool, []bool, []bool, error) {
	n := len(v.envs)
	if actions.NumDims() != 2 || actions.Dim(0) != n {
		return nil, nil, nil, nil, nil, fmt.Errorf("sync vector env: actions must have shape [%d, action_dim]", n)
	}
	dim := actions.Dim(1)

	obs := make([]Observation, n)
	rewards := make([]float64, n)
	terminated := make([]bool, n)
	truncated := make([]bool, n)
	successes := make([]bool, n)

	for i, e := range v.envs {
		action := actions.Values[i*dim : (i+1)*dim]
		o, r, term, trunc, info, err := e.Step(action)
		if err != nil {
			return nil, nil, nil, nil, nil, fmt.Errorf("step env %d: %w", i, err)
		}
		rewards[i] = r
		terminated[i] = term
		truncated[i] = trunc
		if term || trunc {
			if s, ok := info["is_success"].(bool); ok {
				successes[i] = s
			}
			// Auto-reset so the lockstep batch can keep moving.
			o, _, err = e.Reset(nil)
			if err != nil {
				return nil, nil, nil, nil, nil, fmt.Errorf("auto-reset env %d: %w", i, err)
			}
		}
		obs[i] = o
	}

	batched, err := stackObservations(obs)
	if err != nil {
		return nil, nil, nil, nil, nil, err
	}
	return batched, rewards, terminated, truncated, successes, nil
}

func (v *SyncVector) Render() ([]*etensor.Float32, error) {
	frames := make([]*etensor.Float32, len(v.envs))
	for i, e := range v.envs {
		f, err := e.Render()
		if err != nil {
			return nil, fmt.Errorf("render env %d: %w", i, err)
		}
		frames[i] = f
	}
	return frames, nil
}

func (v *SyncVector) Close() error {
	var first error
	for i, e := range v.envs {
		if err := e.Close(); err != nil && first == nil {
			first = fmt.Errorf("close env %d: %w", i, err)
		}
	}
	return first
}

func stackObservations(obs []Observation) (Observation, error) {
	out := make(Observation, len(obs[0]))
	for key := range obs[0] {
		parts := make([]*etensor.Float32, len(obs))
		for i, o := range obs {
			t, ok := o[key]
			if !ok {
				return nil, fmt.Errorf("env %d is missing observation key %q", i, key)
			}
			parts[i] = t
		}
		stacked, err := StackBatch(parts)
		if err != nil {
			return nil, fmt.Errorf("stack %q: %w", key, err)
		}
		out[key] = stacked
	}
	return out, nil
}
