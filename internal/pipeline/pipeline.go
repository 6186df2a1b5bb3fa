// Package pipeline renders the evaluation data flow as a DOT graph, mainly
// for documentation and debugging of run wiring.
package pipeline

import (
	"fmt"

	"github.com/awalterschulze/gographviz"
)

// Mode selects which rollout pipeline to describe.
type Mode string

const (
	Sim  Mode = "sim"
	Real Mode = "real"
)

type edge struct {
	from, to, label string
}

// Dot returns the pipeline graph for the given mode in DOT syntax.
func Dot(mode Mode) (string, error) {
	var edges []edge
	switch mode {
	case Sim:
		edges = []edge{
			{"pretrained", "predictor", "weights"},
			{"predictor", "buffered_policy", "action horizon"},
			{"buffered_policy", "vector_env", "action batch"},
			{"vector_env", "buffered_policy", "observation batch"},
			{"vector_env", "episode_compiler", "raw batch"},
			{"episode_compiler", "metrics", "masked stats"},
			{"vector_env", "video_pool", "rendered frames"},
			{"metrics", "report", "aggregate"},
		}
	case Real:
		edges = []edge{
			{"pretrained", "predictor", "weights"},
			{"predictor", "rollout_wrapper", "action sequence"},
			{"robot", "control_loop", "observation"},
			{"control_loop", "rollout_wrapper", "observation"},
			{"rollout_wrapper", "control_loop", "buffered action"},
			{"control_loop", "robot", "action"},
			{"control_loop", "scorer", "state"},
			{"scorer", "control_loop", "reward / success"},
			{"control_loop", "episode", "frames"},
		}
	default:
		return "", fmt.Errorf("unknown pipeline mode %q", mode)
	}

	name := fmt.Sprintf("roboeval_%s", mode)
	g := gographviz.NewGraph()
	if err := g.SetName(name); err != nil {
		return "", err
	}
	if err := g.SetDir(true); err != nil {
		return "", err
	}
	seen := map[string]bool{}
	addNode := func(n string) error {
		if seen[n] {
			return nil
		}
		seen[n] = true
		return g.AddNode(name, n, map[string]string{"shape": "box"})
	}
	for _, e := range edges {
		if err := addNode(e.from); err != nil {
			return "", err
		}
		if err := addNode(e.to); err != nil {
			return "", err
		}
		attrs := map[string]string{"label": fmt.Sprintf("%q", e.label)}
		if err := g.AddEdge(e.from, e.to, true, attrs); err != nil {
			return "", err
		}
	}
	return g.String(), nil
}
