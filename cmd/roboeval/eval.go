package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/robolab/roboeval/internal/config"
	"github.com/robolab/roboeval/internal/envs"
	"github.com/robolab/roboeval/internal/policy"
	"github.com/robolab/roboeval/internal/rollout"
	"github.com/robolab/roboeval/internal/video"
)

func newEvalCmd() *cobra.Command {
	var (
		pretrained  string
		configDir   string
		maxSteps    int
		maxRendered int
		overrides   []string
	)
	eval := config.Eval{
		NEpisodes: 10,
		BatchSize: 4,
		StartSeed: 1000,
		OutDir:    "outputs/eval",
	}

	cmd := &cobra.Command{
		Use:   "eval",
		Short: "evaluate a policy over batched simulated episodes",
		RunE: func(cmd *cobra.Command, args []string) error {
			eval.MaxEpisodesRendered = maxRendered
			ovr, err := config.ParseOverrides(overrides)
			if err != nil {
				return err
			}
			if err := config.Apply(&eval, ovr); err != nil {
				return err
			}
			// The run configuration is rejected before any environment or
			// policy resource is created.
			if err := eval.Validate(); err != nil {
				return err
			}

			dir, err := resolvePolicyDir(pretrained, configDir)
			if err != nil {
				return err
			}
			cfg, pred, err := loadPolicy(dir)
			if err != nil {
				return err
			}
			buffered, err := policy.NewBuffered(pred, cfg.NActionSteps)
			if err != nil {
				return err
			}

			members := make([]envs.Environment, eval.BatchSize)
			for i := range members {
				members[i] = envs.NewPointmass(maxSteps)
			}
			vec, err := envs.NewSyncVector(members)
			if err != nil {
				return err
			}
			defer vec.Close()

			if err := os.MkdirAll(eval.OutDir, 0o755); err != nil {
				return fmt.Errorf("create output dir: %w", err)
			}
			videosDir := filepath.Join(eval.OutDir, "videos")
			var encoder video.Encoder
			if eval.MaxEpisodesRendered > 0 {
				if err := os.MkdirAll(videosDir, 0o755); err != nil {
					return fmt.Errorf("create videos dir: %w", err)
				}
				encoder = video.PNGSequence{}
			}

			runID := uuid.NewString()
			seed := eval.StartSeed
			log.Printf("eval run_id=%s policy=%s n_episodes=%d batch_size=%d seed=%d",
				runID, dir, eval.NEpisodes, eval.BatchSize, seed)

			res, err := rollout.EvalPolicy(vec, buffered, rollout.EvalOptions{
				NEpisodes:           eval.NEpisodes,
				MaxEpisodesRendered: eval.MaxEpisodesRendered,
				VideosDir:           videosDir,
				Encoder:             encoder,
				StartSeed:           &seed,
				RunID:               runID,
			})
			if err != nil {
				return err
			}

			out := filepath.Join(eval.OutDir, "eval_info.json")
			if err := res.Report.Write(out); err != nil {
				return err
			}
			log.Printf("eval done run_id=%s pc_success=%.1f avg_sum_reward=%.4f report=%s",
				runID, res.Report.Aggregated.PcSuccess, res.Report.Aggregated.AvgSumReward, out)
			return nil
		},
	}

	cmd.Flags().StringVarP(&pretrained, "pretrained", "p", "", "registry repo ID or local snapshot directory")
	cmd.Flags().StringVar(&configDir, "config", "", "local policy snapshot directory (mutually exclusive with -p)")
	cmd.Flags().IntVarP(&eval.NEpisodes, "n-episodes", "n", eval.NEpisodes, "number of episodes to evaluate")
	cmd.Flags().IntVarP(&eval.BatchSize, "batch-size", "b", eval.BatchSize, "number of parallel environments")
	cmd.Flags().Int64Var(&eval.StartSeed, "seed", eval.StartSeed, "seed of the first episode")
	cmd.Flags().StringVar(&eval.OutDir, "out-dir", eval.OutDir, "directory for the result report and videos")
	cmd.Flags().IntVar(&maxSteps, "max-steps", 300, "per-episode step limit of the environment")
	cmd.Flags().IntVar(&maxRendered, "max-episodes-rendered", 0, "how many episodes get a video")
	cmd.Flags().StringArrayVarP(&overrides, "override", "o", nil, "config override key=value (repeatable)")
	return cmd
}
