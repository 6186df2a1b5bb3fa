// roboeval evaluates a learned robot-control policy, either against batched
// simulated environments or on a physical arm in real time.
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/robolab/roboeval/internal/config"
	"github.com/robolab/roboeval/internal/policy"
)

func main() {
	// Optional; a missing .env is not an error.
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:           "roboeval",
		Short:         "closed-loop evaluation of robot-control policies",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newEvalCmd(), newEvalRealCmd(), newGraphCmd())

	if err := root.Execute(); err != nil {
		log.Printf("error: %v", err)
		os.Exit(1)
	}
}

// resolvePolicyDir turns the -p / --config pair into a local snapshot
// directory. Exactly one of the two must be given: -p goes through the
// registry with a local-directory fallback, --config is local-only.
func resolvePolicyDir(pretrained, configDir string) (string, error) {
	switch {
	case pretrained != "" && configDir != "":
		return "", fmt.Errorf("-p and --config are mutually exclusive")
	case pretrained == "" && configDir == "":
		return "", fmt.Errorf("either -p or --config is required")
	case configDir != "":
		info, err := os.Stat(configDir)
		if err != nil || !info.IsDir() {
			return "", fmt.Errorf("--config %q is not an existing directory", configDir)
		}
		return configDir, nil
	}

	rt := config.Load()
	var client *policy.SnapshotClient
	if rt.SnapshotBaseURL != "" {
		client = policy.NewSnapshotClient(rt.SnapshotBaseURL, rt.SnapshotCacheDir)
	}
	return policy.ResolvePretrained(pretrained, client)
}

// loadPolicy reads the snapshot: validated policy configuration plus the
// reference predictor weights.
func loadPolicy(dir string) (*config.Diffusion, *policy.Linear, error) {
	cfg, err := config.LoadDiffusion(dir)
	if err != nil {
		return nil, nil, err
	}
	pred, err := policy.LoadLinear(dir)
	if err != nil {
		return nil, nil, err
	}
	return cfg, pred, nil
}
