// Package expression evaluates expr-lang expressions used in
// configuration (authorization rules, validations, computed attributes).
// Compiled programs are cached by source.
package expression

import (
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Evaluator compiles and runs expressions. Safe for concurrent use.
type Evaluator struct {
	mu    sync.RWMutex
	cache map[string]*vm.Program
}

// New creates an Evaluator with an empty cache.
func New() *Evaluator {
	return &Evaluator{cache: make(map[string]*vm.Program)}
}

// Compile returns the cached program for expression, compiling it once.
// Variables are resolved at run time; unknown ones evaluate to nil.
func (e *Evaluator) Compile(expression string) (*vm.Program, error) {
	e.mu.RLock()
	program, ok := e.cache[expression]
	e.mu.RUnlock()
	if ok {
		return program, nil
	}

	program, err := expr.Compile(expression, expr.AllowUndefinedVariables())
	if err != nil {
		return nil, fmt.Errorf("compile %q: %w", expression, err)
	}

	e.mu.Lock()
	if existing, ok := e.cache[expression]; ok {
		e.mu.Unlock()
		return existing, nil
	}
	e.cache[expression] = program
	e.mu.Unlock()

	return program, nil
}

// Eval runs expression against env.
func (e *Evaluator) Eval(expression string, env map[string]any) (any, error) {
	program, err := e.Compile(expression)
	if err != nil {
		return nil, err
	}

	result, err := expr.Run(program, env)
	if err != nil {
		return nil, fmt.Errorf("eval %q: %w", expression, err)
	}
	return result, nil
}

// Bool runs expression and requires a boolean result.
func (e *Evaluator) Bool(expression string, env map[string]any) (bool, error) {
	result, err := e.Eval(expression, env)
	if err != nil {
		return false, err
	}
	b, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("eval %q: result is %T, want bool", expression, result)
	}
	return b, nil
}
