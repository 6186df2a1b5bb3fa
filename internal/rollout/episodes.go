package rollout

import (
	"fmt"

	"github.com/emer/etable/etensor"
)

// padRule says how a field's copy-padded terminal frame differs from the last
// true transition. The table below is the single place these policies are
// defined; no per-key branching happens at use sites.
type padRule int

const (
	// padHold duplicates the last value unchanged.
	padHold padRule = iota
	// padAdvancePeriod duplicates the last value advanced by one control
	// period (1/fps).
	padAdvancePeriod
	// padAdvanceIndex duplicates the last value incremented by one.
	padAdvanceIndex
)

var episodePadRules = map[string]padRule{
	"action":        padHold,
	"episode_index": padHold,
	"next.done":     padHold,
	"next.success":  padHold,
	"next.reward":   padHold,
	"timestamp":     padAdvancePeriod,
	"frame_index":   padAdvanceIndex,
}

// EpisodeData is a set of finalized episodes flattened along the frame axis,
// in the layout training-style datasets consume.
type EpisodeData struct {
	Action       *etensor.Float32 // [frames, action_dim]
	EpisodeIndex []int
	FrameIndex   []int
	Index        []int
	Timestamp    []float64
	NextDone     []bool
	NextSuccess  []bool
	NextReward   []float32
	Observations map[string]*etensor.Float32 // [frames, ...]
}

func (d *EpisodeData) Frames() int { return len(d.Index) }

// DoneIndices finds each batch element's first done step. Cumulative dones are
// sticky-true, so the first occurrence is the episode's terminal step.
func DoneIndices(dones [][]bool) []int {
	out := make([]int, len(dones))
	for i, row := range dones {
		for t, d := range row {
			if d {
				out[i] = t
				break
			}
		}
	}
	return out
}

// MaskedEpisodeStats reduces one batch element's rewards and successes over
// steps 0..doneIndex inclusive. Steps after the first done are excluded
// regardless of their raw values, so post-termination padding never
// contributes to metrics.
func MaskedEpisodeStats(batch *RawBatch, ep, doneIndex int) (sumReward, maxReward float64, success bool) {
	seq := batch.Steps
	last := doneIndex
	if last >= seq {
		last = seq - 1
	}
	maxReward = float64(batch.Rewards.Values[ep*seq])
	for t := 0; t <= last; t++ {
		r := float64(batch.Rewards.Values[ep*seq+t])
		sumReward += r
		if r > maxReward {
			maxReward = r
		}
		success = success || batch.Successes[ep][t]
	}
	return sumReward, maxReward, success
}

// Compile reconstructs fixed-shape per-episode records from a raw batch and
// its first-done indices. Every episode spans doneIndex+2 frames: the frames
// up to and including the terminal step, plus one copy-padded frame whose
// fields follow the pad-rule table.
func Compile(batch *RawBatch, doneIndices []int, startEpisodeIndex, startDataIndex int, fps float64) (*EpisodeData, error) {
	if fps <= 0 {
		return nil, fmt.Errorf("compile episodes: fps must be > 0, got %v", fps)
	}
	nEps := len(batch.Dones)
	if len(doneIndices) != nEps {
		return nil, fmt.Errorf("compile episodes: %d done indices for %d episodes", len(doneIndices), nEps)
	}
	seq := batch.Steps
	dim := batch.Actions.Dim(2)

	totalFrames := 0
	for _, di := range doneIndices {
		totalFrames += di + 2
	}

	out := &EpisodeData{
		Action:       etensor.NewFloat32([]int{totalFrames, dim}, nil, nil),
		EpisodeIndex: make([]int, 0, totalFrames),
		FrameIndex:   make([]int, 0, totalFrames),
		Index:        make([]int, 0, totalFrames),
		Timestamp:    make([]float64, 0, totalFrames),
		NextDone:     make([]bool, 0, totalFrames),
		NextSuccess:  make([]bool, 0, totalFrames),
		NextReward:   make([]float32, 0, totalFrames),
	}

	frame := 0
	for ep := 0; ep < nEps; ep++ {
		numFrames := doneIndices[ep] + 2
		if numFrames-1 > seq {
			return nil, fmt.Errorf("compile episodes: done index %d exceeds sequence length %d", doneIndices[ep], seq)
		}
		// All fields except the pad frame.
		for t := 0; t < numFrames-1; t++ {
			copy(out.Action.Values[frame*dim:(frame+1)*dim], batch.Actions.Values[(ep*seq+t)*dim:(ep*seq+t+1)*dim])
			out.EpisodeIndex = append(out.EpisodeIndex, startEpisodeIndex+ep)
			out.FrameIndex = append(out.FrameIndex, t)
			out.Timestamp = append(out.Timestamp, float64(t)/fps)
			out.NextDone = append(out.NextDone, batch.Dones[ep][t])
			out.NextSuccess = append(out.NextSuccess, batch.Successes[ep][t])
			out.NextReward = append(out.NextReward, batch.Rewards.Values[ep*seq+t])
			frame++
		}
		// Copy-padded terminal frame, one rule per semantic field.
		lastT := numFrames - 2
		copy(out.Action.Values[frame*dim:(frame+1)*dim], batch.Actions.Values[(ep*seq+lastT)*dim:(ep*seq+lastT+1)*dim])
		out.EpisodeIndex = append(out.EpisodeIndex, padInt(out.EpisodeIndex[len(out.EpisodeIndex)-1], episodePadRules["episode_index"]))
		out.FrameIndex = append(out.FrameIndex, padInt(out.FrameIndex[len(out.FrameIndex)-1], episodePadRules["frame_index"]))
		out.Timestamp = append(out.Timestamp, padTime(out.Timestamp[len(out.Timestamp)-1], episodePadRules["timestamp"], fps))
		out.NextDone = append(out.NextDone, out.NextDone[len(out.NextDone)-1])
		out.NextSuccess = append(out.NextSuccess, out.NextSuccess[len(out.NextSuccess)-1])
		out.NextReward = append(out.NextReward, out.NextReward[len(out.NextReward)-1])
		frame++
	}

	out.Index = make([]int, totalFrames)
	for i := range out.Index {
		out.Index[i] = startDataIndex + i
	}

	if batch.Observations != nil {
		out.Observations = make(map[string]*etensor.Float32, len(batch.Observations))
		for key, tensor := range batch.Observations {
			inner := tensor.Shape.Shp[2:]
			innerLen := 1
			for _, d := range inner {
				innerLen *= d
			}
			obsOut := etensor.NewFloat32(append([]int{totalFrames}, inner...), nil, nil)
			f := 0
			for ep := 0; ep < nEps; ep++ {
				numFrames := doneIndices[ep] + 2
				for t := 0; t < numFrames; t++ {
					src := ((ep * (seq + 1)) + t) * innerLen
					copy(obsOut.Values[f*innerLen:(f+1)*innerLen], tensor.Values[src:src+innerLen])
					f++
				}
			}
			out.Observations[key] = obsOut
		}
	}

	return out, nil
}

// Append concatenates a later batch's episode data onto d, asserting index
// continuity across the batch boundary. A discontinuity signals a bug in the
// batching logic and is a fatal internal-consistency error.
func (d *EpisodeData) Append(next *EpisodeData) error {
	if d.Frames() == 0 || next.Frames() == 0 {
		return fmt.Errorf("append episode data: empty side")
	}
	if got, want := next.EpisodeIndex[0], d.EpisodeIndex[d.Frames()-1]+1; got != want {
		return fmt.Errorf("episode index discontinuity across batches: got %d, want %d", got, want)
	}
	if got, want := next.Index[0], d.Index[d.Frames()-1]+1; got != want {
		return fmt.Errorf("data index discontinuity across batches: got %d, want %d", got, want)
	}

	merged := etensor.NewFloat32([]int{d.Frames() + next.Frames(), d.Action.Dim(1)}, nil, nil)
	copy(merged.Values, d.Action.Values)
	copy(merged.Values[len(d.Action.Values):], next.Action.Values)
	d.Action = merged

	d.EpisodeIndex = append(d.EpisodeIndex, next.EpisodeIndex...)
	d.FrameIndex = append(d.FrameIndex, next.FrameIndex...)
	d.Index = append(d.Index, next.Index...)
	d.Timestamp = append(d.Timestamp, next.Timestamp...)
	d.NextDone = append(d.NextDone, next.NextDone...)
	d.NextSuccess = append(d.NextSuccess, next.NextSuccess...)
	d.NextReward = append(d.NextReward, next.NextReward...)

	if d.Observations != nil && next.Observations != nil {
		for key, tensor := range d.Observations {
			nt, ok := next.Observations[key]
			if !ok {
				return fmt.Errorf("append episode data: next batch is missing observation %q", key)
			}
			shp := append([]int{tensor.Dim(0) + nt.Dim(0)}, tensor.Shape.Shp[1:]...)
			mergedObs := etensor.NewFloat32(shp, nil, nil)
			copy(mergedObs.Values, tensor.Values)
			copy(mergedObs.Values[len(tensor.Values):], nt.Values)
			d.Observations[key] = mergedObs
		}
	}
	return nil
}

func padInt(last int, rule padRule) int {
	if rule == padAdvanceIndex {
		return last + 1
	}
	return last
}

func padTime(last float64, rule padRule, fps float64) float64 {
	if rule == padAdvancePeriod {
		return last + 1/fps
	}
	return last
}
