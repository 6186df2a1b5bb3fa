// Package metrics accumulates per-episode reward/success scalars and writes
// the aggregated result document. It never holds raw step tensors.
package metrics

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"
)

// Episode is one finished episode's scalar summary.
type Episode struct {
	EpisodeIx int     `json:"episode_ix"`
	SumReward float64 `json:"sum_reward"`
	MaxReward float64 `json:"max_reward"`
	Success   bool    `json:"success"`
	Seed      *int64  `json:"seed"`
}

// Aggregate summarises an evaluation run.
type Aggregate struct {
	AvgSumReward float64 `json:"avg_sum_reward"`
	AvgMaxReward float64 `json:"avg_max_reward"`
	PcSuccess    float64 `json:"pc_success"`
	EvalS        float64 `json:"eval_s"`
	EvalEpS      float64 `json:"eval_ep_s"`
}

// Report is the result document written once per evaluation run.
type Report struct {
	RunID      string    `json:"run_id"`
	PerEpisode []Episode `json:"per_episode"`
	Aggregated Aggregate `json:"aggregated"`
	VideoPaths []string  `json:"video_paths,omitempty"`
}

// Accumulator collects episode summaries across batches, keeping only the
// first limit episodes even when the final batch over-produces.
type Accumulator struct {
	limit    int
	episodes []Episode
	started  time.Time
}

func NewAccumulator(limit int) (*Accumulator, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("metrics accumulator: episode limit must be > 0, got %d", limit)
	}
	return &Accumulator{limit: limit, started: time.Now()}, nil
}

// Add records one episode's scalars. Episodes past the limit are discarded.
func (a *Accumulator) Add(sumReward, maxReward float64, success bool, seed *int64) {
	if len(a.episodes) >= a.limit {
		return
	}
	a.episodes = append(a.episodes, Episode{
		EpisodeIx: len(a.episodes),
		SumReward: sumReward,
		MaxReward: maxReward,
		Success:   success,
		Seed:      seed,
	})
}

func (a *Accumulator) Count() int { return len(a.episodes) }

// SuccessRate is the running fraction of successful episodes, for progress
// logging.
func (a *Accumulator) SuccessRate() float64 {
	if len(a.episodes) == 0 {
		return math.NaN()
	}
	n := 0
	for _, ep := range a.episodes {
		if ep.Success {
			n++
		}
	}
	return float64(n) / float64(len(a.episodes))
}

// Report finalizes the accumulated episodes into a result document.
func (a *Accumulator) Report(runID string) Report {
	var sumR, maxR, succ float64
	for _, ep := range a.episodes {
		sumR += ep.SumReward
		maxR += ep.MaxReward
		if ep.Success {
			succ++
		}
	}
	n := float64(len(a.episodes))
	agg := Aggregate{
		AvgSumReward: math.NaN(),
		AvgMaxReward: math.NaN(),
		PcSuccess:    math.NaN(),
		EvalS:        time.Since(a.started).Seconds(),
	}
	if n > 0 {
		agg.AvgSumReward = sumR / n
		agg.AvgMaxReward = maxR / n
		agg.PcSuccess = succ / n * 100
		agg.EvalEpS = agg.EvalS / n
	}
	return Report{RunID: runID, PerEpisode: a.episodes, Aggregated: agg}
}

// Write serializes the report as indented JSON.
func (r Report) Write(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	raw, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}
