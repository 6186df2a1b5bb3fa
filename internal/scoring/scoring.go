// Package scoring computes per-step reward and success for the hardware
// rollout loop. Scoring is task-specific, so it is fully pluggable: the
// default implementation evaluates compiled expressions over named state
// features rather than hard-coding any goal heuristic.
package scoring

import (
	"fmt"
	"math"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"gonum.org/v1/gonum/mat"
)

// Result is one step's score.
type Result struct {
	Reward  float64
	Success bool
}

// Scorer maps the current step's feature variables to a reward and a success
// flag.
type Scorer interface {
	Score(vars map[string]any) (Result, error)
}

// Expr evaluates a reward expression and a success expression over the
// feature variables. Programs are compiled once and cached.
type Expr struct {
	reward  *vm.Program
	success *vm.Program
}

// NewExpr compiles the two expressions, reusing cached programs when the same
// source was compiled before. The reward expression must evaluate to a number
// and the success expression to a bool.
func NewExpr(rewardSrc, successSrc string, cache *Cache) (*Expr, error) {
	if rewardSrc == "" || successSrc == "" {
		return nil, fmt.Errorf("scoring expressions must be non-empty")
	}
	compileFloat := func() (*vm.Program, error) {
		return expr.Compile(rewardSrc, expr.AsFloat64())
	}
	compileBool := func() (*vm.Program, error) {
		return expr.Compile(successSrc, expr.AsBool())
	}

	var reward, success *vm.Program
	var err error
	if cache != nil {
		reward, err = cache.GetOrCompile(rewardSrc, compileFloat)
	} else {
		reward, err = compileFloat()
	}
	if err != nil {
		return nil, fmt.Errorf("compile reward expression: %w", err)
	}
	if cache != nil {
		success, err = cache.GetOrCompile(successSrc, compileBool)
	} else {
		success, err = compileBool()
	}
	if err != nil {
		return nil, fmt.Errorf("compile success expression: %w", err)
	}
	return &Expr{reward: reward, success: success}, nil
}

func (e *Expr) Score(vars map[string]any) (Result, error) {
	rewardOut, err := expr.Run(e.reward, vars)
	if err != nil {
		return Result{}, fmt.Errorf("evaluate reward: %w", err)
	}
	reward, ok := rewardOut.(float64)
	if !ok {
		return Result{}, fmt.Errorf("reward must evaluate to float64 (got %T)", rewardOut)
	}
	successOut, err := expr.Run(e.success, vars)
	if err != nil {
		return Result{}, fmt.Errorf("evaluate success: %w", err)
	}
	success, ok := successOut.(bool)
	if !ok {
		return Result{}, fmt.Errorf("success must evaluate to bool (got %T)", successOut)
	}
	return Result{Reward: reward, Success: success}, nil
}

// GoalFeatures derives the feature variables the default expressions consume
// from the current and goal state vectors: per-joint absolute errors, their
// mean and max.
func GoalFeatures(current, goal []float64) (map[string]any, error) {
	if len(current) != len(goal) {
		return nil, fmt.Errorf("state has %d elements, goal has %d", len(current), len(goal))
	}
	if len(current) == 0 {
		return nil, fmt.Errorf("empty state vector")
	}
	cur := mat.NewVecDense(len(current), current)
	g := mat.NewVecDense(len(goal), goal)
	diff := mat.NewVecDense(len(current), nil)
	diff.SubVec(g, cur)

	maxErr := 0.0
	sumErr := 0.0
	for i := 0; i < diff.Len(); i++ {
		e := math.Abs(diff.AtVec(i))
		sumErr += e
		if e > maxErr {
			maxErr = e
		}
	}
	return map[string]any{
		"state":    current,
		"goal":     goal,
		"mean_err": sumErr / float64(len(current)),
		"max_err":  maxErr,
		"dist":     mat.Norm(diff, 2),
	}, nil
}

// Default goal-distance heuristic: reward is the negated mean absolute joint
// error scaled down, success requires every joint within tolerance.
const (
	DefaultRewardExpr  = "-mean_err / 10"
	DefaultSuccessExpr = "max_err <= 3.0"
)
