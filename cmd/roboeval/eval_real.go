package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/robolab/roboeval/internal/config"
	"github.com/robolab/roboeval/internal/realtime"
	"github.com/robolab/roboeval/internal/robot"
	"github.com/robolab/roboeval/internal/scoring"
)

func newEvalRealCmd() *cobra.Command {
	var (
		pretrained    string
		configDir     string
		fps           float64
		nActionBuffer int
		warmupS       float64
		relMax        float64
		maxSteps      int
		outDir        string
		goalArg       string
		rewardExpr    string
		successExpr   string
	)

	cmd := &cobra.Command{
		Use:   "eval-real",
		Short: "run one policy episode on the (simulated) arm at a fixed control frequency",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := resolvePolicyDir(pretrained, configDir)
			if err != nil {
				return err
			}
			cfg, pred, err := loadPolicy(dir)
			if err != nil {
				return err
			}

			goal, err := parseGoal(goalArg)
			if err != nil {
				return err
			}

			rt := config.Load()
			scorer, err := scoring.NewExpr(rewardExpr, successExpr, scoring.NewCache(rt.ExprCacheMax))
			if err != nil {
				return err
			}
			score := func(state []float64) (scoring.Result, error) {
				vars, err := scoring.GoalFeatures(state, goal)
				if err != nil {
					return scoring.Result{}, err
				}
				return scorer.Score(vars)
			}

			arm := robot.NewSim(make([]float32, len(goal)), 0.5)
			if err := arm.Connect(); err != nil {
				return err
			}
			defer arm.Disconnect()

			observer := realtime.NewAsyncCycleObserver(realtime.NewCycleLogger(log.Default()), rt.CycleObsBuffer)
			defer observer.Close()

			// Ctrl-C ends the episode cleanly instead of killing the process
			// mid-cycle.
			sigC := make(chan os.Signal, 1)
			signal.Notify(sigC, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(sigC)
			quit := make(chan struct{})
			go func() {
				<-sigC
				close(quit)
			}()

			runID := uuid.NewString()
			log.Printf("eval-real run_id=%s policy=%s fps=%.1f warmup_s=%.1f horizon=%d",
				runID, dir, fps, warmupS, cfg.Horizon)

			start := time.Now()
			ep, err := realtime.Rollout(arm, pred, realtime.Config{
				FPS:                fps,
				NActionBuffer:      nActionBuffer,
				WarmupS:            warmupS,
				RelativeActionsMax: relMax,
				MaxSteps:           maxSteps,
				Quit:               quit,
				Score:              score,
				Observer:           observer,
			})
			if err != nil {
				return err
			}

			if err := os.MkdirAll(outDir, 0o755); err != nil {
				return fmt.Errorf("create output dir: %w", err)
			}
			out := filepath.Join(outDir, "eval_real_info.json")
			if err := writeRealReport(out, runID, ep, time.Since(start)); err != nil {
				return err
			}
			success := len(ep.NextSuccess) > 0 && ep.NextSuccess[len(ep.NextSuccess)-1]
			log.Printf("eval-real done run_id=%s frames=%d success=%t dropped_cycles=%d report=%s",
				runID, ep.Frames(), success, observer.Dropped(), out)
			return nil
		},
	}

	cmd.Flags().StringVarP(&pretrained, "pretrained", "p", "", "registry repo ID or local snapshot directory")
	cmd.Flags().StringVar(&configDir, "config", "", "local policy snapshot directory (mutually exclusive with -p)")
	cmd.Flags().Float64Var(&fps, "fps", 30, "control frequency")
	cmd.Flags().IntVar(&nActionBuffer, "n-action-buffer", 0, "future actions kept buffered before a new inference is triggered")
	cmd.Flags().Float64Var(&warmupS, "warmup-s", 2, "seconds to hold the initial pose before the episode starts")
	cmd.Flags().Float64Var(&relMax, "relative-actions-max", 0, "clamp bound when actions are joint deltas (0 disables)")
	cmd.Flags().IntVar(&maxSteps, "max-steps", 0, "step limit (0 means until success or quit)")
	cmd.Flags().StringVar(&outDir, "out-dir", "outputs/eval_real", "directory for the episode report")
	cmd.Flags().StringVar(&goalArg, "goal", "0,0", "comma-separated goal joint positions")
	cmd.Flags().StringVar(&rewardExpr, "reward-expr", scoring.DefaultRewardExpr, "reward expression over state features")
	cmd.Flags().StringVar(&successExpr, "success-expr", scoring.DefaultSuccessExpr, "success expression over state features")
	return cmd
}

func parseGoal(raw string) ([]float64, error) {
	parts := strings.Split(raw, ",")
	goal := make([]float64, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid goal %q: %w", raw, err)
		}
		goal = append(goal, v)
	}
	if len(goal) == 0 {
		return nil, fmt.Errorf("goal must name at least one joint")
	}
	return goal, nil
}

type realReport struct {
	RunID      string      `json:"run_id"`
	NumFrames  int         `json:"num_frames"`
	SumReward  float64     `json:"sum_reward"`
	MaxReward  float64     `json:"max_reward"`
	Success    bool        `json:"success"`
	EvalS      float64     `json:"eval_s"`
	Timestamps []float64   `json:"timestamps"`
	Actions    [][]float32 `json:"actions"`
}

func writeRealReport(path, runID string, ep *realtime.Episode, elapsed time.Duration) error {
	rep := realReport{
		RunID:      runID,
		NumFrames:  ep.Frames(),
		EvalS:      elapsed.Seconds(),
		Timestamps: ep.Timestamp,
		Actions:    ep.Action,
	}
	for i, r := range ep.NextReward {
		rep.SumReward += r
		if i == 0 || r > rep.MaxReward {
			rep.MaxReward = r
		}
	}
	if n := len(ep.NextSuccess); n > 0 {
		rep.Success = ep.NextSuccess[n-1]
	}
	raw, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("write episode report: %w", err)
	}
	return nil
}
