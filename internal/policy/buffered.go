package policy

import (
	"fmt"

	"github.com/emer/etable/etensor"

	"github.com/robolab/roboeval/internal/envs"
)

// Buffered adapts a multi-step Predictor into a per-step Policy. Each
// inference fills an internal queue with the first nActionSteps actions of the
// predicted horizon; SelectAction pops one entry per call and only re-invokes
// the predictor when the queue is exhausted.
type Buffered struct {
	pred         Predictor
	nActionSteps int
	queue        []*etensor.Float32 // each [batch, action_dim]
}

func NewBuffered(pred Predictor, nActionSteps int) (*Buffered, error) {
	if pred == nil {
		return nil, fmt.Errorf("buffered policy: predictor is nil")
	}
	if nActionSteps <= 0 {
		return nil, fmt.Errorf("buffered policy: n_action_steps must be > 0, got %d", nActionSteps)
	}
	return &Buffered{pred: pred, nActionSteps: nActionSteps}, nil
}

func (b *Buffered) Reset() { b.queue = nil }

func (b *Buffered) SelectAction(obs envs.Observation) (*etensor.Float32, error) {
	if len(b.queue) == 0 {
		if err := b.refill(obs); err != nil {
			return nil, err
		}
	}
	action := b.queue[0]
	b.queue = b.queue[1:]
	return action, nil
}

func (b *Buffered) refill(obs envs.Observation) error {
	seq, err := b.pred.PredictSequence(obs)
	if err != nil {
		return fmt.Errorf("predict action sequence: %w", err)
	}
	if seq.NumDims() != 3 {
		return fmt.Errorf("predicted sequence must have shape [batch, horizon, action_dim], got %v", seq.Shape.Shp)
	}
	batch, horizon, dim := seq.Dim(0), seq.Dim(1), seq.Dim(2)
	if horizon == 0 {
		return fmt.Errorf("predicted sequence is empty")
	}
	n := b.nActionSteps
	if n > horizon {
		n = horizon
	}
	for step := 0; step < n; step++ {
		action := etensor.NewFloat32([]int{batch, dim}, nil, nil)
		for i := 0; i < batch; i++ {
			src := (i*horizon + step) * dim
			copy(action.Values[i*dim:(i+1)*dim], seq.Values[src:src+dim])
		}
		b.queue = append(b.queue, action)
	}
	return nil
}
