package lattice

import (
	"fmt"

	"github.com/expr-lang/expr"

	"github.com/tasklattice/tasklattice/pkg/placeholder"
)

// CompilePredicate compiles a boolean expr-lang expression against the
// variable names a SubstitutionMap will provide, for use as a Filter or
// ConstrainedProduct predicate. Grounded on the teacher's
// pkg/runtime/engine.go evalCondition, which compiles with expr.AsBool()
// once and reuses the program across evaluations.
func CompilePredicate(source string, varNames []placeholder.Name) (*expr.Program, error) {
	env := make(map[string]any, len(varNames))
	for _, n := range varNames {
		env[string(n)] = any(nil)
	}
	program, err := expr.Compile(source, expr.Env(env), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("lattice: compile predicate %q: %w", source, err)
	}
	return program, nil
}

// RunPredicate evaluates a program compiled by CompilePredicate against m.
func RunPredicate(program *expr.Program, m SubstitutionMap) (bool, error) {
	env := toExprEnv(m)
	out, err := expr.Run(program, env)
	if err != nil {
		return false, fmt.Errorf("lattice: evaluate predicate: %w", err)
	}
	b, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("lattice: predicate did not return bool (got %T)", out)
	}
	return b, nil
}

func toExprEnv(m SubstitutionMap) map[string]any {
	env := make(map[string]any, len(m))
	for k, v := range m {
		switch v.Kind {
		case placeholder.KindStr:
			env[string(k)] = v.S
		case placeholder.KindInt:
			env[string(k)] = v.I
		case placeholder.KindFloat:
			env[string(k)] = v.F
		case placeholder.KindBool:
			env[string(k)] = v.B
		}
	}
	return env
}

// ExprPredicate adapts a compiled expr-lang program into the function shape
// Filter and ConstrainedProduct expect.
func ExprPredicate(program *expr.Program) func(SubstitutionMap) (bool, error) {
	return func(m SubstitutionMap) (bool, error) {
		return RunPredicate(program, m)
	}
}
