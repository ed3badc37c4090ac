// Package cel wraps google/cel-go for search result filtering. A Filter is a
// compiled boolean expression over a "cube" attribute map, e.g.
// "cube.changed && cube.name.startsWith('rate')".
package cel

import (
	"fmt"
	"reflect"

	"github.com/google/cel-go/cel"
)

// Filter holds a compiled CEL program evaluating to a boolean.
type Filter struct {
	Expression string
	program    cel.Program
}

// NewFilter compiles a boolean CEL expression over the "cube" variable.
func NewFilter(expression string) (*Filter, error) {
	if expression == "" {
		return nil, fmt.Errorf("expression can't be empty string")
	}

	env, err := cel.NewEnv(
		// Declare the cube attribute map the expression is evaluated against.
		cel.Variable("cube", cel.MapType(cel.StringType, cel.AnyType)),
	)
	if err != nil {
		return nil, fmt.Errorf("error creating CEL environment: %v", err)
	}

	ast, issues := env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("error compiling CEL expression: %v", issues.Err())
	}
	p, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("error creating Program: %v", err)
	}
	return &Filter{
		Expression: expression,
		program:    p,
	}, nil
}

// Matches evaluates the expression against one cube attribute map.
func (f *Filter) Matches(attributes map[string]any) (bool, error) {
	out, _, err := f.program.Eval(map[string]any{
		"cube": attributes,
	})
	if err != nil {
		return false, fmt.Errorf("error evaluating CEL expression: %v", err)
	}
	nv, err := out.ConvertToNative(reflect.TypeOf(true))
	if err != nil {
		return false, fmt.Errorf("error ConvertToNative, got err: %v", err)
	}

	if v, ok := nv.(bool); !ok {
		return false, fmt.Errorf("error converting to bool, nv: %v", nv)
	} else {
		return v, nil
	}
}
