package config

import (
	"fmt"
)

// Eval parameterizes one simulation evaluation run.
type Eval struct {
	NEpisodes           int
	BatchSize           int
	StartSeed           int64
	MaxEpisodesRendered int
	OutDir              string
}

// Validate rejects an eval configuration before any environment is created.
// In particular a batch wider than the episode count would evaluate episodes
// that are then discarded, which is always a mistake in the run setup.
func (e Eval) Validate() error {
	if e.NEpisodes <= 0 {
		return fmt.Errorf("n_episodes must be > 0, got %d", e.NEpisodes)
	}
	if e.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be > 0, got %d", e.BatchSize)
	}
	if e.BatchSize > e.NEpisodes {
		return fmt.Errorf("batch_size (%d) must not exceed n_episodes (%d)", e.BatchSize, e.NEpisodes)
	}
	if e.MaxEpisodesRendered < 0 {
		return fmt.Errorf("max_episodes_rendered must be >= 0, got %d", e.MaxEpisodesRendered)
	}
	return nil
}
