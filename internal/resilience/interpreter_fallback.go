package resilience

import (
	"context"

	"github.com/fennwaldt/pulsetrace/internal/interpret"
)

// InterpreterFallback implements [interpret.Interpreter] with automatic
// failover across multiple interpreters. Each interpreter has its own circuit
// breaker; when the primary fails or its breaker is open, the next healthy
// fallback is tried. The usual arrangement is an LLM interpreter backed by
// the local heuristic, which cannot fail.
type InterpreterFallback struct {
	group *FallbackGroup[interpret.Interpreter]
}

// Compile-time interface assertion.
var _ interpret.Interpreter = (*InterpreterFallback)(nil)

// NewInterpreterFallback creates an [InterpreterFallback] with primary as the
// preferred interpreter. Entries are named after [interpret.Interpreter.Name].
func NewInterpreterFallback(primary interpret.Interpreter, cfg FallbackConfig) *InterpreterFallback {
	return &InterpreterFallback{
		group: NewFallbackGroup(primary, primary.Name(), cfg),
	}
}

// AddFallback registers an additional interpreter as a fallback.
func (f *InterpreterFallback) AddFallback(in interpret.Interpreter) {
	f.group.AddFallback(in.Name(), in)
}

// Interpret sends the reading to the first healthy interpreter and returns
// its report. If the primary fails, subsequent fallbacks are tried.
func (f *InterpreterFallback) Interpret(ctx context.Context, r interpret.Reading) (*interpret.Report, error) {
	return ExecuteWithResult(f.group, func(in interpret.Interpreter) (*interpret.Report, error) {
		return in.Interpret(ctx, r)
	})
}

// Name reports the primary interpreter's name.
func (f *InterpreterFallback) Name() string {
	if len(f.group.members) > 0 {
		return f.group.members[0].name
	}
	return "fallback"
}
