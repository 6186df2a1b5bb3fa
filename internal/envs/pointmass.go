package envs

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/emer/etable/etensor"
)

const (
	pointmassMaxSpeed   = 0.1
	pointmassSuccessTol = 0.05
	pointmassFrameSize  = 24
	pointmassRenderFPS  = 10.0
)

// Pointmass is a small deterministic reference environment: a point agent on
// the unit square is driven towards a goal by 2D velocity actions. It exists
// so the rollout machinery can be exercised end to end without a simulator
// attached.
type Pointmass struct {
	x, y     float64
	goalX    float64
	goalY    float64
	steps    int
	maxSteps int
	rng      *rand.Rand
}

func NewPointmass(maxSteps int) *Pointmass {
	if maxSteps <= 0 {
		maxSteps = 50
	}
	return &Pointmass{
		maxSteps: maxSteps,
		rng:      rand.New(rand.NewSource(rand.Int63())),
	}
}

func (p *Pointmass) MaxEpisodeSteps() int { return p.maxSteps }

func (p *Pointmass) RenderFPS() float64 { return pointmassRenderFPS }

func (p *Pointmass) Reset(seed *int64) (Observation, Info, error) {
	if seed != nil {
		p.rng = rand.New(rand.NewSource(*seed))
	}
	p.x = p.rng.Float64()
	p.y = p.rng.Float64()
	p.goalX = p.rng.Float64()
	p.goalY = p.rng.Float64()
	p.steps = 0
	return p.observe(), Info{}, nil
}

func (p *Pointmass) Step(action []float32) (Observation, float64, bool, bool, Info, error) {
	if len(action) != 2 {
		return nil, 0, false, false, nil, fmt.Errorf("pointmass: action must have 2 elements, got %d", len(action))
	}
	p.x += clampF(float64(action[0]), pointmassMaxSpeed)
	p.y += clampF(float64(action[1]), pointmassMaxSpeed)
	p.steps++

	dist := math.Hypot(p.goalX-p.x, p.goalY-p.y)
	reward := -dist
	terminated := dist <= pointmassSuccessTol
	truncated := !terminated && p.steps >= p.maxSteps

	info := Info{}
	if terminated || truncated {
		info["is_success"] = terminated
	}
	return p.observe(), reward, terminated, truncated, info, nil
}

// Render paints the agent and goal on a small RGB frame.
func (p *Pointmass) Render() (*etensor.Float32, error) {
	frame := etensor.NewFloat32([]int{pointmassFrameSize, pointmassFrameSize, 3}, nil, nil)
	paint := func(x, y float64, channel int) {
		px := int(clamp01(x) * (pointmassFrameSize - 1))
		py := int(clamp01(y) * (pointmassFrameSize - 1))
		frame.Values[(py*pointmassFrameSize+px)*3+channel] = 255
	}
	paint(p.goalX, p.goalY, 1)
	paint(p.x, p.y, 0)
	return frame, nil
}

func (p *Pointmass) Close() error { return nil }

func (p *Pointmass) observe() Observation {
	state := etensor.NewFloat32([]int{4}, nil, nil)
	state.Values[0] = float32(p.x)
	state.Values[1] = float32(p.y)
	state.Values[2] = float32(p.goalX)
	state.Values[3] = float32(p.goalY)
	return Observation{"observation.state": state}
}

func clampF(v, max float64) float64 {
	if v > max {
		return max
	}
	if v < -max {
		return -max
	}
	return v
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
