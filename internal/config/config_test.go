package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestEvalValidate(t *testing.T) {
	good := Eval{NEpisodes: 10, BatchSize: 4}
	if err := good.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	cases := []struct {
		name string
		cfg  Eval
		want string
	}{
		{"zero episodes", Eval{NEpisodes: 0, BatchSize: 1}, "n_episodes"},
		{"zero batch", Eval{NEpisodes: 5, BatchSize: 0}, "batch_size"},
		{"batch exceeds episodes", Eval{NEpisodes: 3, BatchSize: 8}, "must not exceed"},
		{"negative render cap", Eval{NEpisodes: 5, BatchSize: 2, MaxEpisodesRendered: -1}, "max_episodes_rendered"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func validDiffusion() Diffusion {
	return Diffusion{
		Horizon:        16,
		NObsSteps:      2,
		NActionSteps:   8,
		VisionBackbone: "resnet18",
		CropShape:      []int{84, 84},
		InputShapes: map[string][]int{
			"observation.image.top": {3, 96, 96},
			"observation.state":     {2},
		},
		PredictionType: "epsilon",
		NoiseScheduler: "DDPM",
	}
}

func TestDiffusionValidate(t *testing.T) {
	c := validDiffusion()
	if err := c.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	mutate := []struct {
		name string
		f    func(*Diffusion)
		want string
	}{
		{"non-resnet backbone", func(c *Diffusion) { c.VisionBackbone = "vit_base" }, "resnet"},
		{"crop taller than input", func(c *Diffusion) { c.CropShape = []int{128, 84} }, "exceeds input shape"},
		{"crop wider than input", func(c *Diffusion) { c.CropShape = []int{84, 128} }, "exceeds input shape"},
		{"bad crop rank", func(c *Diffusion) { c.CropShape = []int{84} }, "crop_shape"},
		{"bad prediction type", func(c *Diffusion) { c.PredictionType = "velocity" }, "prediction type"},
		{"bad scheduler", func(c *Diffusion) { c.NoiseScheduler = "PNDM" }, "noise scheduler"},
		{"action steps past horizon", func(c *Diffusion) { c.NActionSteps = 17 }, "n_action_steps"},
		{"zero horizon", func(c *Diffusion) { c.Horizon = 0 }, "horizon"},
	}
	for _, tc := range mutate {
		t.Run(tc.name, func(t *testing.T) {
			c := validDiffusion()
			tc.f(&c)
			err := c.Validate()
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestDiffusionValidateNoCrop(t *testing.T) {
	c := validDiffusion()
	c.CropShape = nil
	if err := c.Validate(); err != nil {
		t.Fatalf("nil crop must be allowed: %v", err)
	}
}

func TestLoadDiffusion(t *testing.T) {
	dir := t.TempDir()
	c := validDiffusion()
	raw, err := json.Marshal(c)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "config.json"), raw, 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := LoadDiffusion(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Horizon != 16 || got.VisionBackbone != "resnet18" {
		t.Fatalf("loaded config mismatch: %+v", got)
	}

	if _, err := LoadDiffusion(t.TempDir()); err == nil {
		t.Fatal("expected error for missing config.json")
	}
}

func TestLoadDiffusionRejectsInvalidFile(t *testing.T) {
	dir := t.TempDir()
	c := validDiffusion()
	c.NoiseScheduler = "PNDM"
	raw, _ := json.Marshal(c)
	if err := os.WriteFile(filepath.Join(dir, "config.json"), raw, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadDiffusion(dir); err == nil {
		t.Fatal("invalid stored config must fail to load")
	}
}

func TestParseOverrides(t *testing.T) {
	got, err := ParseOverrides([]string{
		"n_episodes=20",
		"threshold=0.5",
		"strict=true",
		"name='pick cube'",
		"label=plain",
	})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := []Override{
		{"n_episodes", 20},
		{"threshold", 0.5},
		{"strict", true},
		{"name", "pick cube"},
		{"label", "plain"},
	}
	if len(got) != len(want) {
		t.Fatalf("got %d overrides, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].Key != want[i].Key || got[i].Value != want[i].Value {
			t.Errorf("override %d = %+v, want %+v", i, got[i], want[i])
		}
	}

	if _, err := ParseOverrides([]string{"no-equals"}); err == nil {
		t.Error("expected error for missing =")
	}
	if _, err := ParseOverrides([]string{"=5"}); err == nil {
		t.Error("expected error for empty key")
	}
}

func TestApplyOverrides(t *testing.T) {
	e := Eval{NEpisodes: 10, BatchSize: 2}
	ovr, err := ParseOverrides([]string{"n_episodes=50", "batch_size=5", "seed=7", "out_dir='runs/a'"})
	if err != nil {
		t.Fatal(err)
	}
	if err := Apply(&e, ovr); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if e.NEpisodes != 50 || e.BatchSize != 5 || e.StartSeed != 7 || e.OutDir != "runs/a" {
		t.Fatalf("overrides not applied: %+v", e)
	}

	if err := Apply(&e, []Override{{Key: "nope", Value: 1}}); err == nil {
		t.Error("unknown key must be rejected")
	}
	if err := Apply(&e, []Override{{Key: "n_episodes", Value: "ten"}}); err == nil {
		t.Error("type mismatch must be rejected")
	}
}

func TestRuntimeDefaultsAndEnv(t *testing.T) {
	t.Setenv("ROBOEVAL_SNAPSHOT_URL", "")
	t.Setenv("ROBOEVAL_EXPR_CACHE_MAX", "")
	r := Load()
	if r.SnapshotBaseURL != "" {
		t.Errorf("default snapshot url = %q, want empty", r.SnapshotBaseURL)
	}
	if r.ExprCacheMax != 1024 {
		t.Errorf("default expr cache max = %d, want 1024", r.ExprCacheMax)
	}
	if r.SnapshotCacheDir == "" {
		t.Error("snapshot cache dir must have a default")
	}

	t.Setenv("ROBOEVAL_SNAPSHOT_URL", "http://registry.local")
	t.Setenv("ROBOEVAL_EXPR_CACHE_MAX", "32")
	t.Setenv("ROBOEVAL_CYCLE_OBS_BUFFER", "-3")
	r = Load()
	if r.SnapshotBaseURL != "http://registry.local" {
		t.Errorf("snapshot url = %q", r.SnapshotBaseURL)
	}
	if r.ExprCacheMax != 32 {
		t.Errorf("expr cache max = %d, want 32", r.ExprCacheMax)
	}
	if r.CycleObsBuffer != 4096 {
		t.Errorf("below-min buffer must fall back to default, got %d", r.CycleObsBuffer)
	}
}
