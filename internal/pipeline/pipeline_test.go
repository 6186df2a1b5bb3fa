package pipeline

import (
	"strings"
	"testing"

	"github.com/awalterschulze/gographviz"
)

func TestDotSimParses(t *testing.T) {
	out, err := Dot(Sim)
	if err != nil {
		t.Fatalf("dot: %v", err)
	}
	ast, err := gographviz.ParseString(out)
	if err != nil {
		t.Fatalf("emitted DOT does not parse: %v\n%s", err, out)
	}
	g := gographviz.NewGraph()
	if err := gographviz.Analyse(ast, g); err != nil {
		t.Fatalf("analyse: %v", err)
	}
	for _, node := range []string{"predictor", "buffered_policy", "vector_env", "metrics"} {
		if !strings.Contains(out, node) {
			t.Errorf("sim pipeline missing node %q", node)
		}
	}
}

func TestDotRealParses(t *testing.T) {
	out, err := Dot(Real)
	if err != nil {
		t.Fatalf("dot: %v", err)
	}
	if _, err := gographviz.ParseString(out); err != nil {
		t.Fatalf("emitted DOT does not parse: %v\n%s", err, out)
	}
	for _, node := range []string{"robot", "control_loop", "rollout_wrapper", "scorer"} {
		if !strings.Contains(out, node) {
			t.Errorf("real pipeline missing node %q", node)
		}
	}
}

func TestDotUnknownMode(t *testing.T) {
	if _, err := Dot(Mode("both")); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}
