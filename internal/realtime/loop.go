// Package realtime drives a single physical environment through a fixed-period
// control loop: one-step-ahead action buffering against a background inference
// worker, deadline tracking against the wall-clock control period, and
// dropped-cycle/over-time detection.
package realtime

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/emer/etable/etensor"

	"github.com/robolab/roboeval/internal/envs"
	"github.com/robolab/roboeval/internal/policy"
	"github.com/robolab/roboeval/internal/robot"
	"github.com/robolab/roboeval/internal/scoring"
)

const imageKeyPrefix = "observation.image"

// ScoreFunc computes the instantaneous reward/success from the current
// proprioceptive state. Scoring is task-specific and fully pluggable; a nil
// ScoreFunc disables scoring (the episode then only ends via quit or
// MaxSteps).
type ScoreFunc func(state []float64) (scoring.Result, error)

// Config parameterizes one hardware rollout.
type Config struct {
	FPS float64
	// NActionBuffer is how many future actions the policy wrapper may keep
	// buffered before it triggers a new inference. Zero refills only when the
	// buffer runs dry.
	NActionBuffer int
	// WarmupS is how long the loop holds the initial pose and keeps the
	// policy's buffer clean before the episode starts.
	WarmupS float64
	// RelativeActionsMax, when positive, interprets policy actions as deltas
	// clamped to +/- this bound and converts them to absolute targets.
	RelativeActionsMax float64
	// MaxSteps, when positive, force-terminates the episode.
	MaxSteps int
	// InferenceMargin is subtracted from the remaining period when computing
	// the inference deadline.
	InferenceMargin time.Duration
	// BusyWaitMargin is reserved for the fine-grained spin at the end of each
	// cycle.
	BusyWaitMargin time.Duration
	// Quit externally ends the rollout.
	Quit <-chan struct{}
	// StateKey is the proprioceptive channel name used for the hold pose and
	// scoring. Defaults to "observation.state".
	StateKey string
	Score    ScoreFunc
	Observer CycleObserver
}

func (c *Config) applyDefaults() error {
	if c.FPS <= 0 {
		return fmt.Errorf("realtime rollout: fps must be > 0, got %v", c.FPS)
	}
	if c.InferenceMargin <= 0 {
		c.InferenceMargin = 25 * time.Millisecond
	}
	if c.BusyWaitMargin <= 0 {
		c.BusyWaitMargin = time.Millisecond
	}
	if c.StateKey == "" {
		c.StateKey = "observation.state"
	}
	return nil
}

// Episode is the hardware loop's compiled output: equal-length per-frame
// fields after trailing-pad post-processing.
type Episode struct {
	Index        []int
	EpisodeIndex []int
	FrameIndex   []int
	Timestamp    []float64
	Action       [][]float32
	NextReward   []float64
	NextSuccess  []bool
	NextDone     []bool
	Observations map[string][]*etensor.Float32
}

func (e *Episode) Frames() int { return len(e.Index) }

// Rollout runs one episode on the robot at a fixed control frequency.
//
// Action buffering keeps a one-step lookahead: the action applied this cycle
// was decided last cycle; a sequence served this cycle caches its second
// element for the next cycle, and a cycle with nothing served repeats the
// current action instead of stalling the arm.
func Rollout(r robot.Robot, pred policy.Predictor, cfg Config) (*Episode, error) {
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	if !r.IsConnected() {
		return nil, fmt.Errorf("realtime rollout: robot is not connected")
	}

	wrapper := policy.NewRolloutWrapper(pred, cfg.FPS, cfg.NActionBuffer)
	defer wrapper.Close()
	wrapper.Reset()

	period := time.Duration(float64(time.Second) / cfg.FPS)
	periodS := 1 / cfg.FPS
	start := time.Now()
	rel := func() float64 { return time.Since(start).Seconds() }

	ep := &Episode{Observations: make(map[string][]*etensor.Float32)}
	var (
		step       int
		nextAction []float32
		holdPose   []float32
	)

	for {
		dropped := false
		overTime := false
		startStep := rel()
		warmup := startStep <= cfg.WarmupS

		obs, err := r.CaptureObservation()
		if err != nil {
			return nil, fmt.Errorf("capture observation at step %d: %w", step, err)
		}
		state, ok := obs[cfg.StateKey]
		if !ok {
			return nil, fmt.Errorf("observation is missing state channel %q", cfg.StateKey)
		}
		if holdPose == nil {
			holdPose = append([]float32(nil), state.Values...)
		}

		if !warmup {
			ep.Index = append(ep.Index, step)
			ep.EpisodeIndex = append(ep.EpisodeIndex, 0)
			ep.Timestamp = append(ep.Timestamp, startStep)
			ep.FrameIndex = append(ep.FrameIndex, step)
			for k, t := range obs {
				if strings.HasPrefix(k, imageKeyPrefix) {
					img, err := normalizeImage(t)
					if err != nil {
						return nil, fmt.Errorf("normalize %q: %w", k, err)
					}
					ep.Observations[k] = append(ep.Observations[k], img)
				} else {
					ep.Observations[k] = append(ep.Observations[k], cloneTensor(t))
				}
			}

			if step > 0 && cfg.Score != nil {
				res, err := cfg.Score(toFloat64(state.Values))
				if err != nil {
					return nil, fmt.Errorf("score step %d: %w", step, err)
				}
				ep.NextReward = append(ep.NextReward, res.Reward)
				ep.NextSuccess = append(ep.NextSuccess, res.Success)
				ep.NextDone = append(ep.NextDone, res.Success)
			}
		}

		if rel()-startStep > periodS {
			overTime = true
			log.Printf("over time after capturing observation step=%d elapsed_s=%.4f", step, rel()-startStep)
		}

		if warmup {
			// Keep the policy buffer clean so the episode starts fresh, and
			// hold the initial pose.
			wrapper.Reset()
			if _, err := r.SendAction(holdPose); err != nil {
				return nil, fmt.Errorf("send hold pose: %w", err)
			}
			log.Printf("warming up step_time_s=%.3f", startStep)
			finishCycle(cfg, startStep, rel, period)
			observeCycle(cfg.Observer, Cycle{Step: step, Warmup: true, OverTime: overTime, Elapsed: time.Duration((rel() - startStep) * float64(time.Second))})
			if quitRequested(cfg.Quit) {
				break
			}
			continue
		}

		modelObs, err := modelObservation(obs)
		if err != nil {
			return nil, err
		}

		// Blocking on the first step: no buffered action exists yet.
		var timeout time.Duration
		if step > 0 {
			timeout = period - time.Duration((rel()-startStep)*float64(time.Second)) - cfg.InferenceMargin
			if timeout <= 0 {
				timeout = time.Millisecond
			}
		}
		seq, err := wrapper.ProvideObservationGetActions(modelObs, startStep, startStep, step > 0, timeout)
		if err != nil {
			return nil, fmt.Errorf("get actions at step %d: %w", step, err)
		}

		var action []float32
		if step == 0 {
			if seq == nil {
				return nil, fmt.Errorf("no action sequence on first step")
			}
			action = append([]float32(nil), seq.At(0)...)
			if seq.Len() > 1 {
				nextAction = append([]float32(nil), seq.At(1)...)
			} else {
				nextAction = append([]float32(nil), action...)
				dropped = true
			}
		} else {
			action = nextAction
			if seq != nil && seq.Len() > 1 {
				nextAction = append([]float32(nil), seq.At(1)...)
			} else {
				nextAction = append([]float32(nil), action...)
				dropped = true
			}
		}
		if dropped {
			log.Printf("dropped inference cycle step=%d; repeating current action", step)
		}

		recorded := append([]float32(nil), action...)
		if cfg.RelativeActionsMax > 0 {
			action = absoluteFromRelative(action, state.Values, float32(cfg.RelativeActionsMax))
		}
		if _, err := r.SendAction(action); err != nil {
			return nil, fmt.Errorf("send action at step %d: %w", step, err)
		}
		ep.Action = append(ep.Action, recorded)

		finishCycle(cfg, startStep, rel, period)
		observeCycle(cfg.Observer, Cycle{Step: step, Dropped: dropped, OverTime: overTime, Elapsed: time.Duration((rel() - startStep) * float64(time.Second))})

		if quitRequested(cfg.Quit) {
			break
		}

		step++

		if cfg.MaxSteps > 0 && step >= cfg.MaxSteps {
			break
		}
		if len(ep.NextDone) > 0 && ep.NextDone[len(ep.NextDone)-1] {
			break
		}
	}

	if ep.Frames() == 0 {
		return nil, fmt.Errorf("realtime rollout: no active frames recorded")
	}
	finalize(ep)
	return ep, nil
}

func finishCycle(cfg Config, startStep float64, rel func() float64, period time.Duration) {
	elapsed := time.Duration((rel() - startStep) * float64(time.Second))
	if elapsed > period {
		log.Printf("step took too long elapsed_s=%.4f period_s=%.4f", elapsed.Seconds(), period.Seconds())
		return
	}
	busyWait(period - elapsed - cfg.BusyWaitMargin)
}

// busyWait is a coarse sleep followed by a fine-grained spin to correct for OS
// scheduling jitter; plain time.Sleep alone is too imprecise to hold a stable
// control frequency.
func busyWait(d time.Duration) {
	if d <= 0 {
		return
	}
	deadline := time.Now().Add(d)
	if coarse := d - 2*time.Millisecond; coarse > 0 {
		time.Sleep(coarse)
	}
	for time.Now().Before(deadline) {
		time.Sleep(100 * time.Microsecond)
	}
}

func quitRequested(quit <-chan struct{}) bool {
	if quit == nil {
		return false
	}
	select {
	case <-quit:
		return true
	default:
		return false
	}
}

func observeCycle(o CycleObserver, c Cycle) {
	if o != nil {
		o.ObserveCycle(c)
	}
}

// finalize applies the trailing-pad post-processing: next.* fields duplicate
// their last value so all fields share a common length, the final done is
// forced true, and the first captured frame (inference warm-up artifact) is
// dropped with indices re-based.
func finalize(ep *Episode) {
	if len(ep.NextReward) > 0 {
		ep.NextReward = append(ep.NextReward, ep.NextReward[len(ep.NextReward)-1])
		ep.NextSuccess = append(ep.NextSuccess, ep.NextSuccess[len(ep.NextSuccess)-1])
		ep.NextDone = append(ep.NextDone, ep.NextDone[len(ep.NextDone)-1])
		ep.NextDone[len(ep.NextDone)-1] = true
	}

	ep.Index = reindex(ep.Index[1:])
	ep.FrameIndex = reindex(ep.FrameIndex[1:])
	ep.EpisodeIndex = ep.EpisodeIndex[1:]
	ep.Timestamp = ep.Timestamp[1:]
	if len(ep.Action) > 0 {
		ep.Action = ep.Action[1:]
	}
	if len(ep.NextReward) > 0 {
		ep.NextReward = ep.NextReward[1:]
		ep.NextSuccess = ep.NextSuccess[1:]
		ep.NextDone = ep.NextDone[1:]
	}
	for k := range ep.Observations {
		ep.Observations[k] = ep.Observations[k][1:]
	}
}

func reindex(ix []int) []int {
	out := make([]int, len(ix))
	for i, v := range ix {
		out[i] = v - 1
	}
	return out
}

// modelObservation converts raw sensor tensors to the model's expected layout:
// images to float32 in [0,1], channel-first, and every channel gains a leading
// batch dimension.
func modelObservation(obs envs.Observation) (envs.Observation, error) {
	out := make(envs.Observation, len(obs))
	for k, t := range obs {
		v := t
		if strings.HasPrefix(k, imageKeyPrefix) {
			img, err := normalizeImage(t)
			if err != nil {
				return nil, fmt.Errorf("normalize %q: %w", k, err)
			}
			v = img
		}
		out[k] = addBatchDim(v)
	}
	return out, nil
}

// normalizeImage converts an [H, W, 3] frame in [0, 255] to a [3, H, W]
// float32 tensor in [0, 1].
func normalizeImage(t *etensor.Float32) (*etensor.Float32, error) {
	if t.NumDims() != 3 || t.Dim(2) != 3 {
		return nil, fmt.Errorf("image must have shape [H, W, 3], got %v", t.Shape.Shp)
	}
	h, w := t.Dim(0), t.Dim(1)
	out := etensor.NewFloat32([]int{3, h, w}, nil, nil)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			for c := 0; c < 3; c++ {
				out.Values[c*h*w+y*w+x] = t.Values[(y*w+x)*3+c] / 255
			}
		}
	}
	return out, nil
}

func addBatchDim(t *etensor.Float32) *etensor.Float32 {
	out := etensor.NewFloat32(append([]int{1}, t.Shape.Shp...), nil, nil)
	copy(out.Values, t.Values)
	return out
}

func cloneTensor(t *etensor.Float32) *etensor.Float32 {
	out := etensor.NewFloat32(t.Shape.Shp, nil, nil)
	copy(out.Values, t.Values)
	return out
}

func toFloat64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}

func absoluteFromRelative(action, current []float32, maxDelta float32) []float32 {
	out := make([]float32, len(action))
	for i := range action {
		d := action[i]
		if d > maxDelta {
			d = maxDelta
		} else if d < -maxDelta {
			d = -maxDelta
		}
		base := float32(0)
		if i < len(current) {
			base = current[i]
		}
		out[i] = base + d
	}
	return out
}
