package rollout

import (
	"testing"

	"github.com/emer/etable/etensor"

	"github.com/robolab/roboeval/internal/envs"
	"github.com/robolab/roboeval/internal/policy"
)

// scriptedVec is a deterministic vector env: environment i terminates after
// lengths[i] steps with a scripted success flag, auto-resetting like a gym
// vector env. Rewards are scripted per global step so tests can inject
// post-termination values.
type scriptedVec struct {
	lengths   []int
	successes []bool
	rewardAt  func(env, globalStep int) float64
	maxSteps  int

	stepCounts []int
	globalStep int
	renders    int
}

func newScriptedVec(lengths []int, successes []bool, rewardAt func(env, step int) float64) *scriptedVec {
	if rewardAt == nil {
		rewardAt = func(int, int) float64 { return 1 }
	}
	return &scriptedVec{
		lengths:    lengths,
		successes:  successes,
		rewardAt:   rewardAt,
		maxSteps:   64,
		stepCounts: make([]int, len(lengths)),
	}
}

func (v *scriptedVec) NumEnvs() int         { return len(v.lengths) }
func (v *scriptedVec) MaxEpisodeSteps() int { return v.maxSteps }
func (v *scriptedVec) RenderFPS() float64   { return 10 }
func (v *scriptedVec) Close() error         { return nil }

func (v *scriptedVec) Reset(seeds []int64) (envs.Observation, error) {
	for i := range v.stepCounts {
		v.stepCounts[i] = 0
	}
	v.globalStep = 0
	return v.observe(), nil
}

func (v *scriptedVec) observe() envs.Observation {
	state := etensor.NewFloat32([]int{len(v.lengths), 1}, nil, nil)
	for i := range v.lengths {
		state.Values[i] = float32(v.stepCounts[i])
	}
	return envs.Observation{"observation.state": state}
}

func (v *scriptedVec) Step(actions *etensor.Float32) (envs.Observation, []float64, []bool, []bool, []bool, error) {
	n := len(v.lengths)
	rewards := make([]float64, n)
	terminated := make([]bool, n)
	truncated := make([]bool, n)
	successes := make([]bool, n)
	for i := 0; i < n; i++ {
		v.stepCounts[i]++
		rewards[i] = v.rewardAt(i, v.globalStep)
		if v.stepCounts[i] >= v.lengths[i] {
			terminated[i] = true
			successes[i] = v.successes[i]
			v.stepCounts[i] = 0
		}
	}
	v.globalStep++
	return v.observe(), rewards, terminated, truncated, successes, nil
}

func (v *scriptedVec) Render() ([]*etensor.Float32, error) {
	v.renders++
	frames := make([]*etensor.Float32, len(v.lengths))
	for i := range frames {
		f := etensor.NewFloat32([]int{2, 2, 3}, nil, nil)
		f.Values[0] = float32(v.renders)
		frames[i] = f
	}
	return frames, nil
}

// constantPolicy emits the same action vector every step.
type constantPolicy struct {
	dim    int
	resets int
}

func (p *constantPolicy) Reset() { p.resets++ }

func (p *constantPolicy) SelectAction(obs envs.Observation) (*etensor.Float32, error) {
	batch := obs["observation.state"].Dim(0)
	out := etensor.NewFloat32([]int{batch, p.dim}, nil, nil)
	for i := range out.Values {
		out.Values[i] = 0.5
	}
	return out, nil
}

func TestRollout_CumulativeDoneIsSticky(t *testing.T) {
	env := newScriptedVec([]int{2, 4}, []bool{true, false}, nil)
	batch, err := Rollout(env, &constantPolicy{dim: 1}, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if batch.Steps != 4 {
		t.Fatalf("batch ran %d steps, want 4 (until last env done)", batch.Steps)
	}
	for i, row := range batch.Dones {
		seen := false
		for tix, d := range row {
			if seen && !d {
				t.Fatalf("env %d done flag flipped back to false at step %d", i, tix)
			}
			seen = seen || d
		}
		if !seen {
			t.Fatalf("env %d never reported done", i)
		}
	}
	if !batch.Dones[0][1] || batch.Dones[0][0] {
		t.Fatalf("env 0 should first be done at step 1, got %v", batch.Dones[0])
	}
}

func TestRollout_PolicyResetOncePerRollout(t *testing.T) {
	env := newScriptedVec([]int{2, 2}, []bool{true, true}, nil)
	p := &constantPolicy{dim: 1}
	if _, err := Rollout(env, p, Options{}); err != nil {
		t.Fatal(err)
	}
	if p.resets != 1 {
		t.Fatalf("policy reset %d times, want 1", p.resets)
	}
}

func TestRollout_ExtraTerminalObservation(t *testing.T) {
	env := newScriptedVec([]int{3, 3}, []bool{true, true}, nil)
	batch, err := Rollout(env, &constantPolicy{dim: 1}, Options{ReturnObservations: true})
	if err != nil {
		t.Fatal(err)
	}
	obs := batch.Observations["observation.state"]
	if got := obs.Dim(1); got != batch.Steps+1 {
		t.Fatalf("observation sequence length = %d, want %d (one more than actions)", got, batch.Steps+1)
	}
	if got := batch.Actions.Dim(1); got != batch.Steps {
		t.Fatalf("action sequence length = %d, want %d", got, batch.Steps)
	}
}

func TestRollout_RenderCallbackAfterResetAndEveryStep(t *testing.T) {
	env := newScriptedVec([]int{2, 2}, []bool{true, true}, nil)
	calls := 0
	_, err := Rollout(env, &constantPolicy{dim: 1}, Options{
		RenderCallback: func(envs.VectorEnv) { calls++ },
	})
	if err != nil {
		t.Fatal(err)
	}
	if calls != 3 {
		t.Fatalf("render callback ran %d times, want 3 (reset + 2 steps)", calls)
	}
}

func TestRollout_SeedCountMismatch(t *testing.T) {
	env := newScriptedVec([]int{1, 1}, []bool{true, true}, nil)
	if _, err := Rollout(env, &constantPolicy{dim: 1}, Options{Seeds: []int64{1}}); err == nil {
		t.Fatal("expected error for seed count mismatch")
	}
}

func TestRollout_DeterministicWithSameSeeds(t *testing.T) {
	run := func() *RawBatch {
		e1, e2 := envs.NewPointmass(12), envs.NewPointmass(12)
		vec, err := envs.NewSyncVector([]envs.Environment{e1, e2})
		if err != nil {
			t.Fatal(err)
		}
		pred, err := policy.NewLinear(policy.LinearWeights{
			W:       [][]float64{{-0.05, 0, 0.05, 0}, {0, -0.05, 0, 0.05}},
			B:       []float64{0, 0},
			Horizon: 6,
			Decay:   0.9,
		}, "")
		if err != nil {
			t.Fatal(err)
		}
		p, err := policy.NewBuffered(pred, 3)
		if err != nil {
			t.Fatal(err)
		}
		batch, err := Rollout(vec, p, Options{Seeds: []int64{101, 202}})
		if err != nil {
			t.Fatal(err)
		}
		return batch
	}

	a, b := run(), run()
	if a.Steps != b.Steps {
		t.Fatalf("runs differ in length: %d vs %d", a.Steps, b.Steps)
	}
	for i, v := range a.Actions.Values {
		if b.Actions.Values[i] != v {
			t.Fatalf("actions diverge at %d: %v vs %v", i, v, b.Actions.Values[i])
		}
	}
	for i, v := range a.Rewards.Values {
		if b.Rewards.Values[i] != v {
			t.Fatalf("rewards diverge at %d: %v vs %v", i, v, b.Rewards.Values[i])
		}
	}
	for i := range a.Dones {
		for tix := range a.Dones[i] {
			if a.Dones[i][tix] != b.Dones[i][tix] || a.Successes[i][tix] != b.Successes[i][tix] {
				t.Fatalf("done/success diverge at env %d step %d", i, tix)
			}
		}
	}
}
