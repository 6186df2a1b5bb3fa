package rollout

import (
	"fmt"
	"log"
	"path/filepath"

	"github.com/emer/etable/etensor"

	"github.com/robolab/roboeval/internal/envs"
	"github.com/robolab/roboeval/internal/metrics"
	"github.com/robolab/roboeval/internal/policy"
	"github.com/robolab/roboeval/internal/video"
)

// EvalOptions configures a multi-batch evaluation run.
type EvalOptions struct {
	NEpisodes int
	// MaxEpisodesRendered caps how many finished episodes get a video. When
	// positive, VideosDir and Encoder must be set.
	MaxEpisodesRendered int
	VideosDir           string
	Encoder             video.Encoder
	// ReturnEpisodeData compiles and concatenates EpisodeData across batches.
	ReturnEpisodeData bool
	// StartSeed seeds the first environment of the first batch; subsequent
	// environments and batches increment it. Nil leaves envs unseeded.
	StartSeed *int64
	RunID     string
}

// EvalResult bundles the metric report with the optional episode data.
type EvalResult struct {
	Report   metrics.Report
	Episodes *EpisodeData
}

// EvalPolicy runs ceil(NEpisodes / NumEnvs) batched rollouts and aggregates
// per-episode metrics over exactly NEpisodes episodes; excess episodes from
// the final batch are discarded from the stats but may still be rendered.
func EvalPolicy(env envs.VectorEnv, p policy.Policy, opts EvalOptions) (*EvalResult, error) {
	if opts.NEpisodes <= 0 {
		return nil, fmt.Errorf("eval: n_episodes must be > 0, got %d", opts.NEpisodes)
	}
	if opts.MaxEpisodesRendered > 0 && (opts.VideosDir == "" || opts.Encoder == nil) {
		return nil, fmt.Errorf("eval: rendering requires a videos dir and an encoder")
	}

	n := env.NumEnvs()
	nBatches := opts.NEpisodes / n
	if opts.NEpisodes%n != 0 {
		nBatches++
	}

	acc, err := metrics.NewAccumulator(opts.NEpisodes)
	if err != nil {
		return nil, err
	}

	var (
		pool        video.Pool
		nRendered   int
		episodeData *EpisodeData
	)

	for batchIx := 0; batchIx < nBatches; batchIx++ {
		var seeds []int64
		if opts.StartSeed != nil {
			seeds = make([]int64, n)
			for i := range seeds {
				seeds[i] = *opts.StartSeed + int64(batchIx*n+i)
			}
		}

		// Frames cached per step for this batch's videos; epFrames[t][i] is
		// environment i's frame at step t.
		var epFrames [][]*etensor.Float32
		var renderCallback func(envs.VectorEnv)
		if opts.MaxEpisodesRendered > 0 {
			renderCallback = func(e envs.VectorEnv) {
				if nRendered >= opts.MaxEpisodesRendered {
					return
				}
				frames, err := e.Render()
				if err != nil {
					log.Printf("render failed batch=%d: %v", batchIx, err)
					return
				}
				epFrames = append(epFrames, frames)
			}
		}

		batch, err := Rollout(env, p, Options{
			Seeds:              seeds,
			ReturnObservations: opts.ReturnEpisodeData,
			RenderCallback:     renderCallback,
		})
		if err != nil {
			pool.Wait()
			return nil, fmt.Errorf("eval batch %d: %w", batchIx, err)
		}

		doneIndices := DoneIndices(batch.Dones)
		for i := 0; i < n; i++ {
			sumR, maxR, success := MaskedEpisodeStats(batch, i, doneIndices[i])
			var seed *int64
			if seeds != nil {
				s := seeds[i]
				seed = &s
			}
			acc.Add(sumR, maxR, success, seed)
		}

		if opts.ReturnEpisodeData {
			startDataIndex := 0
			if episodeData != nil {
				startDataIndex = episodeData.Index[episodeData.Frames()-1] + 1
			}
			compiled, err := Compile(batch, doneIndices, batchIx*n, startDataIndex, env.RenderFPS())
			if err != nil {
				pool.Wait()
				return nil, fmt.Errorf("eval batch %d: %w", batchIx, err)
			}
			if episodeData == nil {
				episodeData = compiled
			} else if err := episodeData.Append(compiled); err != nil {
				pool.Wait()
				return nil, fmt.Errorf("eval batch %d: %w", batchIx, err)
			}
		}

		if opts.MaxEpisodesRendered > 0 && len(epFrames) > 0 {
			for i := 0; i < n && nRendered < opts.MaxEpisodesRendered; i++ {
				// Each video keeps done_index + 1 frames: the reset frame plus
				// one per step up to the finishing one.
				last := doneIndices[i]
				if last >= len(epFrames) {
					last = len(epFrames) - 1
				}
				frames := make([]*etensor.Float32, 0, last+1)
				for t := 0; t <= last; t++ {
					if i < len(epFrames[t]) {
						frames = append(frames, epFrames[t][i])
					}
				}
				path := filepath.Join(opts.VideosDir, fmt.Sprintf("eval_episode_%d", nRendered))
				pool.Write(opts.Encoder, path, frames, env.RenderFPS())
				nRendered++
			}
		}

		log.Printf("eval batch=%d/%d running_success_rate=%.1f%%", batchIx+1, nBatches, acc.SuccessRate()*100)
	}

	// Every writer must be joined before returning; a writer failure surfaces
	// here rather than being dropped.
	if err := pool.Wait(); err != nil {
		return nil, fmt.Errorf("eval: video writer: %w", err)
	}

	report := acc.Report(opts.RunID)
	report.VideoPaths = pool.Paths()
	return &EvalResult{Report: report, Episodes: episodeData}, nil
}
