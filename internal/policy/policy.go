// Package policy defines the contracts the rollout loops place on a learned
// control policy, together with the action-sequence buffering layers that sit
// between a multi-step predictor and a loop that consumes one action per step.
package policy

import (
	"fmt"

	"github.com/emer/etable/etensor"

	"github.com/robolab/roboeval/internal/envs"
)

// Policy is the capability the simulation rollout loop needs: reset internal
// state at episode boundaries, and produce one action per step for a batched
// observation.
type Policy interface {
	// Reset clears any internally buffered predictions. It must be called once
	// before a new rollout and is idempotent.
	Reset()
	// SelectAction returns the [batch, action_dim] action to apply this step.
	SelectAction(obs envs.Observation) (*etensor.Float32, error)
}

// Predictor is the opaque model behind a policy. One call yields a full
// prediction horizon of actions; the network architecture behind it is an
// external collaborator.
type Predictor interface {
	// PredictSequence returns actions with shape [batch, horizon, action_dim].
	PredictSequence(obs envs.Observation) (*etensor.Float32, error)
}

// ActionSequence is an ordered run of action vectors produced by one inference
// call, consumed one or a few steps at a time.
type ActionSequence struct {
	actions   *etensor.Float32 // [steps, action_dim]
	ObsTime   float64
	FirstTime float64
}

func NewActionSequence(actions *etensor.Float32) (*ActionSequence, error) {
	if actions == nil || actions.NumDims() != 2 || actions.Dim(0) == 0 {
		return nil, fmt.Errorf("action sequence must be a non-empty [steps, action_dim] tensor")
	}
	return &ActionSequence{actions: actions}, nil
}

func (s *ActionSequence) Len() int { return s.actions.Dim(0) }

// At returns the i-th action vector. The returned slice aliases the sequence.
func (s *ActionSequence) At(i int) []float32 {
	dim := s.actions.Dim(1)
	return s.actions.Values[i*dim : (i+1)*dim]
}
