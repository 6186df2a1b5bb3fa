package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Diffusion is the configuration of a diffusion action-sequence policy as
// stored in a pretrained snapshot's config.json. Only the fields the harness
// validates and consumes are modeled; unknown fields in the file are ignored.
type Diffusion struct {
	Horizon        int              `json:"horizon"`
	NObsSteps      int              `json:"n_obs_steps"`
	NActionSteps   int              `json:"n_action_steps"`
	InputShapes    map[string][]int `json:"input_shapes"`
	VisionBackbone string           `json:"vision_backbone"`
	CropShape      []int            `json:"crop_shape"`
	PredictionType string           `json:"prediction_type"`
	NoiseScheduler string           `json:"noise_scheduler_type"`
}

// LoadDiffusion reads and validates a snapshot's config.json.
func LoadDiffusion(dir string) (*Diffusion, error) {
	path := filepath.Join(dir, "config.json")
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy config: %w", err)
	}
	var c Diffusion
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Diffusion) Validate() error {
	if c.Horizon <= 0 {
		return fmt.Errorf("horizon must be > 0, got %d", c.Horizon)
	}
	if c.NActionSteps <= 0 || c.NActionSteps > c.Horizon {
		return fmt.Errorf("n_action_steps (%d) must be in 1..horizon (%d)", c.NActionSteps, c.Horizon)
	}
	if !strings.HasPrefix(c.VisionBackbone, "resnet") {
		return fmt.Errorf("vision backbone %q is not supported, only resnet variants are", c.VisionBackbone)
	}
	if c.CropShape != nil {
		if len(c.CropShape) != 2 {
			return fmt.Errorf("crop_shape must be [height, width], got %v", c.CropShape)
		}
		for key, shape := range c.InputShapes {
			if !strings.HasPrefix(key, "observation.image") {
				continue
			}
			// Image input shapes are channel-first [C, H, W].
			if len(shape) != 3 {
				return fmt.Errorf("image input %q must have shape [C, H, W], got %v", key, shape)
			}
			if c.CropShape[0] > shape[1] || c.CropShape[1] > shape[2] {
				return fmt.Errorf("crop_shape %v exceeds input shape %v of %q", c.CropShape, shape, key)
			}
		}
	}
	switch c.PredictionType {
	case "epsilon", "sample":
	default:
		return fmt.Errorf("prediction type %q is not supported, expected epsilon or sample", c.PredictionType)
	}
	switch c.NoiseScheduler {
	case "DDPM", "DDIM":
		return nil
	default:
		return fmt.Errorf("noise scheduler %q is not supported, expected DDPM or DDIM", c.NoiseScheduler)
	}
}
