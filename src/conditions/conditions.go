package conditions

import (
	"log/slog"

	"rebalancer/src/datamodels"
	"rebalancer/src/utils/errors"
)

// CompiledCondition pairs a configured condition with its parsed
// expression. A condition whose expression failed to parse stays in the
// set but can never be satisfied.
type CompiledCondition struct {
	Source     datamodels.Condition
	expr       Expr
	compileErr error
}

func (c *CompiledCondition) CompileError() error { return c.compileErr }

// evaluate applies the condition to one instrument's context. A windowed
// condition is satisfied if any session in the window satisfies the
// expression; an unwindowed one looks at the latest session only.
// Evaluation errors (missing fields, type mismatches, degenerate
// arithmetic) make the condition unsatisfied rather than aborting the
// run.
func (c *CompiledCondition) evaluate(provider SnapshotProvider) (bool, error) {
	if c.compileErr != nil {
		return false, c.compileErr
	}

	if c.Source.WindowDays > 0 {
		window := provider.Window(c.Source.WindowDays)
		if len(window) == 0 {
			return false, errors.Wrap(errors.ErrDataUnavailable, "no sessions available in window")
		}
		var lastErr error
		for _, src := range window {
			ok, err := c.evalOne(src)
			if err != nil {
				lastErr = err
				continue
			}
			if ok {
				return true, nil
			}
		}
		return false, lastErr
	}

	src, ok := provider.Snapshot()
	if !ok {
		return false, errors.Wrap(errors.ErrDataUnavailable, "no session available before the decision date")
	}
	return c.evalOne(src)
}

func (c *CompiledCondition) evalOne(src FieldSource) (bool, error) {
	v, err := c.expr.Eval(src)
	if err != nil {
		return false, err
	}
	if v.Kind != KindBool {
		return false, errors.Wrapf(errors.ErrConditionEval,
			"expression %q evaluates to a %s, want bool", c.Source.Expression, v.Kind)
	}
	return v.Bool, nil
}

// CompiledSet is a compiled ConditionSet. Compilation never fails: a
// condition with a bad expression is logged once and degrades to
// permanently unsatisfied, which for a required condition means no
// instrument is ever eligible through this set.
type CompiledSet struct {
	conditions   []CompiledCondition
	minSatisfied int
}

func Compile(set datamodels.ConditionSet) *CompiledSet {
	compiled := &CompiledSet{minSatisfied: set.MinSatisfied}
	for _, cond := range set.Conditions {
		cc := CompiledCondition{Source: cond}
		expr, err := Parse(cond.Expression)
		if err != nil {
			slog.Warn("Condition expression failed to compile; it will never be satisfied",
				"expression", cond.Expression, "required", cond.Required, "error", err)
			cc.compileErr = err
		} else {
			cc.expr = expr
		}
		compiled.conditions = append(compiled.conditions, cc)
	}
	return compiled
}

func (s *CompiledSet) Len() int          { return len(s.conditions) }
func (s *CompiledSet) MinSatisfied() int { return s.minSatisfied }

func (s *CompiledSet) OptionalCount() int {
	n := 0
	for _, c := range s.conditions {
		if !c.Source.Required {
			n++
		}
	}
	return n
}

// SetResult is the outcome of evaluating a CompiledSet against one
// instrument's context.
type SetResult struct {
	RequiredSatisfied bool // all required conditions held
	OptionalSatisfied int  // how many optional conditions held
	Errors            []error
}

// Eligible reports whether the result clears the set's gate: every
// required condition holds and at least minSatisfied optional ones do.
func (r SetResult) Eligible(minSatisfied int) bool {
	return r.RequiredSatisfied && r.OptionalSatisfied >= minSatisfied
}

// Evaluate runs every condition in the set against the provider.
// Required conditions gate, optional conditions are counted. An empty
// set is trivially satisfied.
func (s *CompiledSet) Evaluate(provider SnapshotProvider) SetResult {
	result := SetResult{RequiredSatisfied: true}
	for i := range s.conditions {
		cond := &s.conditions[i]
		ok, err := cond.evaluate(provider)
		if err != nil {
			result.Errors = append(result.Errors, err)
		}
		if cond.Source.Required {
			if !ok {
				result.RequiredSatisfied = false
			}
		} else if ok {
			result.OptionalSatisfied++
		}
	}
	return result
}

// EvaluateEligible is the common gate + count in one call.
func (s *CompiledSet) EvaluateEligible(provider SnapshotProvider) (bool, int) {
	result := s.Evaluate(provider)
	return result.Eligible(s.minSatisfied), result.OptionalSatisfied
}
