// Package condition evaluates edge conditions against node outputs.
// Conditions are CEL expressions over an `output` variable; `$.field`
// is accepted as shorthand for `output.field`.
package condition

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
)

// Evaluator compiles and caches condition programs. Compilation is
// expensive relative to evaluation, so programs are cached per
// expression for the life of the evaluator.
type Evaluator struct {
	mu       sync.RWMutex
	env      *cel.Env
	programs map[string]cel.Program
}

// NewEvaluator creates an evaluator with an `output` variable bound to
// the source node's output mapping.
func NewEvaluator() (*Evaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("output", cel.DynType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create condition environment: %w", err)
	}
	return &Evaluator{
		env:      env,
		programs: make(map[string]cel.Program),
	}, nil
}

// Evaluate runs a condition against a source node's output. An empty
// condition is vacuously true. Non-boolean results are errors.
func (e *Evaluator) Evaluate(condition string, output map[string]interface{}) (bool, error) {
	if strings.TrimSpace(condition) == "" {
		return true, nil
	}

	prg, err := e.program(normalize(condition))
	if err != nil {
		return false, err
	}

	if output == nil {
		output = map[string]interface{}{}
	}
	result, _, err := prg.Eval(map[string]interface{}{"output": output})
	if err != nil {
		return false, fmt.Errorf("failed to evaluate condition %q: %w", condition, err)
	}

	b, ok := result.Value().(bool)
	if !ok {
		return false, fmt.Errorf("condition %q evaluated to %T, want bool", condition, result.Value())
	}
	return b, nil
}

func (e *Evaluator) program(expr string) (cel.Program, error) {
	e.mu.RLock()
	prg, ok := e.programs[expr]
	e.mu.RUnlock()
	if ok {
		return prg, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if prg, ok := e.programs[expr]; ok {
		return prg, nil
	}

	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile condition %q: %w", expr, issues.Err())
	}
	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to build condition program %q: %w", expr, err)
	}
	e.programs[expr] = prg
	return prg, nil
}

// normalize rewrites the `$.` shorthand to the `output.` variable
func normalize(condition string) string {
	return strings.ReplaceAll(condition, "$.", "output.")
}
