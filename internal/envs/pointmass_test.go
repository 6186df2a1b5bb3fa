package envs

import (
	"testing"

	"github.com/emer/etable/etensor"
)

func TestPointmass_SameSeedSameTrajectory(t *testing.T) {
	run := func() []float32 {
		env := NewPointmass(20)
		seed := int64(7)
		obs, _, err := env.Reset(&seed)
		if err != nil {
			t.Fatal(err)
		}
		out := append([]float32(nil), obs["observation.state"].Values...)
		for i := 0; i < 5; i++ {
			obs, _, _, _, _, err = env.Step([]float32{0.02, -0.01})
			if err != nil {
				t.Fatal(err)
			}
			out = append(out, obs["observation.state"].Values...)
		}
		return out
	}

	a, b := run(), run()
	if len(a) != len(b) {
		t.Fatalf("trajectory lengths differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("trajectories diverge at %d: %v vs %v", i, a[i], b[i])
		}
	}
}

func TestPointmass_SuccessNearGoal(t *testing.T) {
	env := NewPointmass(200)
	seed := int64(3)
	obs, _, err := env.Reset(&seed)
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 200; i++ {
		s := obs["observation.state"].Values
		action := []float32{s[2] - s[0], s[3] - s[1]}
		var terminated, truncated bool
		var info Info
		obs, _, terminated, truncated, info, err = env.Step(action)
		if err != nil {
			t.Fatal(err)
		}
		if terminated {
			if ok, _ := info["is_success"].(bool); !ok {
				t.Fatal("terminated episode should report is_success=true")
			}
			return
		}
		if truncated {
			t.Fatal("truncated before reaching goal")
		}
	}
	t.Fatal("never terminated")
}

func TestSyncVector_StepShapes(t *testing.T) {
	env1, env2 := NewPointmass(10), NewPointmass(10)
	vec, err := NewSyncVector([]Environment{env1, env2})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := vec.Reset([]int64{1, 2}); err != nil {
		t.Fatal(err)
	}

	actions := etensor.NewFloat32([]int{2, 2}, nil, nil)
	obs, rewards, terminated, truncated, successes, err := vec.Step(actions)
	if err != nil {
		t.Fatal(err)
	}
	if got := obs["observation.state"].Shape.Shp; got[0] != 2 || got[1] != 4 {
		t.Fatalf("batched state shape = %v, want [2 4]", got)
	}
	for _, n := range []int{len(rewards), len(terminated), len(truncated), len(successes)} {
		if n != 2 {
			t.Fatalf("per-env slice length = %d, want 2", n)
		}
	}
}

func TestSyncVector_RejectsSeedMismatch(t *testing.T) {
	vec, err := NewSyncVector([]Environment{NewPointmass(10), NewPointmass(10)})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := vec.Reset([]int64{1}); err == nil {
		t.Fatal("expected error for seed count mismatch")
	}
}
