// Package accesscontrol evaluates an action's AccessControl predicates — CEL
// expressions over the auth claims and the execution context's key/value
// store — as Step 0.5 of the pipeline, immediately after authentication.
package accesscontrol

import (
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
)

// Environment builds and compiles CEL programs against the auth/store
// variable bag exposed to access control predicates.
type Environment struct {
	env *cel.Env
}

// NewEnvironment declares the two variables an access control predicate may
// reference: the populated auth claims and the context's free-form store.
func NewEnvironment() (*Environment, error) {
	env, err := cel.NewEnv(
		cel.Variable("auth", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("store", cel.MapType(cel.StringType, cel.DynType)),
		cel.HomogeneousAggregateLiterals(),
	)
	if err != nil {
		return nil, fmt.Errorf("accesscontrol: build environment: %w", err)
	}
	return &Environment{env: env}, nil
}

// Policy is a set of compiled predicates that must all evaluate to true for
// an action to be allowed.
type Policy struct {
	predicates []compiledPredicate
}

type compiledPredicate struct {
	source  string
	program cel.Program
}

// Compile compiles a list of CEL boolean expressions into a Policy.
func (e *Environment) Compile(expressions []string) (Policy, error) {
	predicates := make([]compiledPredicate, 0, len(expressions))
	for _, expr := range expressions {
		trimmed := strings.TrimSpace(expr)
		if trimmed == "" {
			continue
		}
		ast, issues := e.env.Compile(trimmed)
		if issues != nil && issues.Err() != nil {
			return Policy{}, fmt.Errorf("accesscontrol: compile %q: %w", trimmed, issues.Err())
		}
		if t := ast.OutputType(); t != cel.BoolType && t != cel.DynType {
			return Policy{}, fmt.Errorf("accesscontrol: %q must return bool, got %s", trimmed, cel.FormatCELType(t))
		}
		program, err := e.env.Program(ast)
		if err != nil {
			return Policy{}, fmt.Errorf("accesscontrol: program %q: %w", trimmed, err)
		}
		predicates = append(predicates, compiledPredicate{source: trimmed, program: program})
	}
	return Policy{predicates: predicates}, nil
}

// Allows evaluates every compiled predicate against vars. All predicates
// must evaluate to true; the first false or erroring predicate is reported
// with its source expression attached for the pipeline's error message.
func (p Policy) Allows(vars map[string]any) (bool, error) {
	for _, pred := range p.predicates {
		val, _, err := pred.program.Eval(vars)
		if err != nil {
			return false, fmt.Errorf("predicate %q errored: %w", pred.source, err)
		}
		allowed, ok := asBool(val)
		if !ok {
			return false, fmt.Errorf("predicate %q did not yield a boolean", pred.source)
		}
		if !allowed {
			return false, fmt.Errorf("predicate %q evaluated to false", pred.source)
		}
	}
	return true, nil
}

func asBool(val ref.Val) (bool, bool) {
	switch v := val.(type) {
	case types.Bool:
		return bool(v), true
	case ref.Val:
		if v.Type() == types.BoolType {
			if b, ok := v.Value().(bool); ok {
				return b, true
			}
		}
	}
	return false, false
}
