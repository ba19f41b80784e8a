package query

import (
	"encoding/json"
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Filter compiles and evaluates expr-lang expressions against cached entities.
type Filter struct {
	expression string
	program    *vm.Program
}

// NewFilter compiles expression. sample is a zero entity used to type-check field names.
func NewFilter(expression string, sample any) (*Filter, error) {
	f := &Filter{expression: expression}
	if err := f.compile(sample); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *Filter) compile(sample any) error {
	env, err := envOf(sample)
	if err != nil {
		return err
	}

	// Fields tagged omitempty are absent from the sample, so unknown names resolve to nil.
	program, err := expr.Compile(f.expression,
		expr.Env(env),
		expr.AllowUndefinedVariables(),
		expr.AsBool(),
	)
	if err != nil {
		return fmt.Errorf("compile filter: %w", err)
	}

	f.program = program
	return nil
}

// Match evaluates the filter against a JSON payload.
func (f *Filter) Match(payload []byte, pending bool) (bool, error) {
	env := make(map[string]any)
	if err := json.Unmarshal(payload, &env); err != nil {
		return false, fmt.Errorf("decode filter env: %w", err)
	}
	env["pending"] = pending

	result, err := expr.Run(f.program, env)
	if err != nil {
		return false, fmt.Errorf("evaluate filter: %w", err)
	}

	matched, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("filter did not return bool: got %T", result)
	}
	return matched, nil
}

// Expression returns the original expression string.
func (f *Filter) Expression() string {
	return f.expression
}

func envOf(sample any) (map[string]any, error) {
	env := map[string]any{"pending": false}
	if sample == nil {
		return env, nil
	}
	payload, err := json.Marshal(sample)
	if err != nil {
		return nil, fmt.Errorf("encode filter sample: %w", err)
	}
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("decode filter sample: %w", err)
	}
	return env, nil
}
