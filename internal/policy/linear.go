package policy

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/emer/etable/etensor"
	"gonum.org/v1/gonum/mat"

	"github.com/robolab/roboeval/internal/envs"
)

// LinearWeights is the on-disk weight format for the linear reference
// predictor: one affine map from the state vector to an action, applied with a
// per-step decay across the prediction horizon.
type LinearWeights struct {
	W       [][]float64 `json:"w"` // [action_dim][obs_dim]
	B       []float64   `json:"b"` // [action_dim]
	Horizon int         `json:"horizon"`
	Decay   float64     `json:"decay"`
}

// Linear is a deterministic reference Predictor. It stands in for the
// diffusion model in tests and smoke runs; the real network is an external
// collaborator loaded behind the same interface.
type Linear struct {
	w        *mat.Dense
	b        *mat.VecDense
	horizon  int
	decay    float64
	stateKey string
}

func NewLinear(weights LinearWeights, stateKey string) (*Linear, error) {
	if len(weights.W) == 0 || len(weights.W[0]) == 0 {
		return nil, fmt.Errorf("linear predictor: empty weight matrix")
	}
	if weights.Horizon <= 0 {
		return nil, fmt.Errorf("linear predictor: horizon must be > 0, got %d", weights.Horizon)
	}
	rows, cols := len(weights.W), len(weights.W[0])
	if len(weights.B) != rows {
		return nil, fmt.Errorf("linear predictor: bias has %d entries, weights have %d rows", len(weights.B), rows)
	}
	w := mat.NewDense(rows, cols, nil)
	for i, row := range weights.W {
		if len(row) != cols {
			return nil, fmt.Errorf("linear predictor: ragged weight row %d", i)
		}
		w.SetRow(i, row)
	}
	decay := weights.Decay
	if decay == 0 {
		decay = 1
	}
	if stateKey == "" {
		stateKey = "observation.state"
	}
	return &Linear{
		w:        w,
		b:        mat.NewVecDense(rows, weights.B),
		horizon:  weights.Horizon,
		decay:    decay,
		stateKey: stateKey,
	}, nil
}

func (l *Linear) PredictSequence(obs envs.Observation) (*etensor.Float32, error) {
	state, ok := obs[l.stateKey]
	if !ok {
		return nil, fmt.Errorf("linear predictor: observation is missing %q", l.stateKey)
	}
	if state.NumDims() != 2 {
		return nil, fmt.Errorf("linear predictor: %q must be batched [batch, obs_dim], got %v", l.stateKey, state.Shape.Shp)
	}
	batch, obsDim := state.Dim(0), state.Dim(1)
	actDim, wCols := l.w.Dims()
	if obsDim != wCols {
		return nil, fmt.Errorf("linear predictor: obs_dim %d does not match weights (%d)", obsDim, wCols)
	}

	out := etensor.NewFloat32([]int{batch, l.horizon, actDim}, nil, nil)
	s := mat.NewVecDense(obsDim, nil)
	a := mat.NewVecDense(actDim, nil)
	for i := 0; i < batch; i++ {
		for j := 0; j < obsDim; j++ {
			s.SetVec(j, float64(state.Values[i*obsDim+j]))
		}
		a.MulVec(l.w, s)
		a.AddVec(a, l.b)
		scale := 1.0
		for h := 0; h < l.horizon; h++ {
			base := (i*l.horizon + h) * actDim
			for j := 0; j < actDim; j++ {
				out.Values[base+j] = float32(a.AtVec(j) * scale)
			}
			scale *= l.decay
		}
	}
	return out, nil
}

// LoadLinear reads weights.json from a pretrained directory.
func LoadLinear(dir string) (*Linear, error) {
	raw, err := os.ReadFile(filepath.Join(dir, "weights.json"))
	if err != nil {
		return nil, fmt.Errorf("read pretrained weights: %w", err)
	}
	var weights LinearWeights
	if err := json.Unmarshal(raw, &weights); err != nil {
		return nil, fmt.Errorf("parse pretrained weights: %w", err)
	}
	return NewLinear(weights, "")
}
