package envs

import (
	"fmt"

	"github.com/emer/etable/etensor"
)

// Observation maps named sensor channels (image tensors, proprioceptive state
// vectors) to their current values. In the batched simulation path every
// tensor carries a leading batch dimension; in the hardware path tensors are
// single-instance and the batch dimension is added just before inference.
type Observation map[string]*etensor.Float32

// Clone deep-copies the observation so a caller can retain it across steps.
func (o Observation) Clone() Observation {
	out := make(Observation, len(o))
	for k, v := range o {
		t := etensor.NewFloat32(v.Shape.Shp, nil, nil)
		copy(t.Values, v.Values)
		out[k] = t
	}
	return out
}

// Info carries auxiliary per-step data from an environment. The only key the
// rollout loop interprets is "is_success", reported on the step an episode
// finishes.
type Info map[string]any

// Environment is a single gym-style environment. Implementations are external
// collaborators; the harness only relies on this contract.
type Environment interface {
	// Reset starts a new episode. A nil seed leaves the RNG state untouched.
	Reset(seed *int64) (Observation, Info, error)
	// Step applies one action vector and advances the episode.
	Step(action []float32) (obs Observation, reward float64, terminated, truncated bool, info Info, err error)
	// MaxEpisodeSteps is the truncation bound for one episode.
	MaxEpisodeSteps() int
	// Render returns an RGB frame with shape [H, W, 3] and values in [0, 255].
	Render() (*etensor.Float32, error)
	// RenderFPS is the frame rate rendered videos should be written at.
	RenderFPS() float64
	Close() error
}

// VectorEnv advances a batch of environments in lockstep.
type VectorEnv interface {
	NumEnvs() int
	// Reset resets every environment. seeds, if non-nil, must have one entry
	// per environment.
	Reset(seeds []int64) (Observation, error)
	// Step applies actions with shape [num_envs, action_dim]. successes[i] is
	// only true on the step environment i finishes with a success; on all
	// other steps it is false.
	Step(actions *etensor.Float32) (obs Observation, rewards []float64, terminated, truncated, successes []bool, err error)
	// Render returns one frame per environment.
	Render() ([]*etensor.Float32, error)
	MaxEpisodeSteps() int
	RenderFPS() float64
	Close() error
}

// StackBatch stacks per-environment tensors of identical shape into a single
// tensor with a leading batch dimension.
func StackBatch(parts []*etensor.Float32) (*etensor.Float32, error) {
	if len(parts) == 0 {
		return nil, fmt.Errorf("stack batch: no tensors")
	}
	inner := parts[0].Shape.Shp
	shp := append([]int{len(parts)}, inner...)
	out := etensor.NewFloat32(shp, nil, nil)
	stride := parts[0].Len()
	for i, p := range parts {
		if p.Len() != stride {
			return nil, fmt.Errorf("stack batch: tensor %d has %d values, want %d", i, p.Len(), stride)
		}
		copy(out.Values[i*stride:(i+1)*stride], p.Values)
	}
	return out, nil
}
