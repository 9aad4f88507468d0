package expression

import (
	"sync"
	"testing"
)

func TestEvaluator_Eval(t *testing.T) {
	e := New()
	env := map[string]any{
		"value":     "abc",
		"principal": map[string]any{"role": "admin"},
	}

	tests := []struct {
		expression string
		want       any
	}{
		{`len(value)`, 3},
		{`principal.role == "admin"`, true},
		{`value + "!"`, "abc!"},
		{`missing == nil`, true},
	}

	for _, tt := range tests {
		t.Run(tt.expression, func(t *testing.T) {
			got, err := e.Eval(tt.expression, env)
			if err != nil {
				t.Fatalf("Eval() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Eval() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEvaluator_Bool(t *testing.T) {
	e := New()

	ok, err := e.Bool(`x > 1`, map[string]any{"x": 2})
	if err != nil || !ok {
		t.Errorf("Bool() = %v, %v; want true", ok, err)
	}

	if _, err := e.Bool(`"text"`, nil); err == nil {
		t.Error("Bool() should fail for a non-boolean result")
	}
}

func TestEvaluator_CompileError(t *testing.T) {
	if _, err := New().Compile(`(`); err == nil {
		t.Error("Compile() should fail for invalid syntax")
	}
}

func TestEvaluator_Cache(t *testing.T) {
	e := New()
	p1, err := e.Compile(`1 + 1`)
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	p2, _ := e.Compile(`1 + 1`)
	if p1 != p2 {
		t.Error("Compile() should return the cached program")
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = e.Eval(`1 + 1`, nil)
		}()
	}
	wg.Wait()
}
