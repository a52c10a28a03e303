// Package mock provides a call-recording test double for the
// interpret.Interpreter interface.
package mock

import (
	"context"
	"sync"

	"github.com/fennwaldt/pulsetrace/internal/interpret"
)

// Interpreter is a mock implementation of interpret.Interpreter.
// Zero values for result fields cause Interpret to return nil, nil.
type Interpreter struct {
	mu sync.Mutex

	// --- Configurable results ---

	// InterpretResult is returned by Interpret. May be nil.
	InterpretResult *interpret.Report

	// InterpretError, if non-nil, is returned as the error from Interpret.
	InterpretError error

	// NameResult is returned by Name. Defaults to "mock" when empty.
	NameResult string

	// --- Call records (read after test) ---

	// CallCountInterpret is the number of times Interpret was called.
	CallCountInterpret int

	// RecordedReadings holds every reading passed to Interpret, in order.
	RecordedReadings []interpret.Reading
}

// Interpret records the call and returns the configured result.
func (m *Interpreter) Interpret(_ context.Context, r interpret.Reading) (*interpret.Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CallCountInterpret++
	m.RecordedReadings = append(m.RecordedReadings, r)
	return m.InterpretResult, m.InterpretError
}

// Name returns NameResult, or "mock" when unset.
func (m *Interpreter) Name() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.NameResult == "" {
		return "mock"
	}
	return m.NameResult
}

// Calls returns CallCountInterpret under the mock's lock. Use this instead
// of the field when the mock is driven from another goroutine.
func (m *Interpreter) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.CallCountInterpret
}

// Ensure Interpreter implements interpret.Interpreter at compile time.
var _ interpret.Interpreter = (*Interpreter)(nil)
