package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fennwaldt/pulsetrace/internal/interpret"
	interpretmock "github.com/fennwaldt/pulsetrace/internal/interpret/mock"
	"github.com/fennwaldt/pulsetrace/pkg/waveform"
)

func TestInterpreterFallback_PrimarySuccess(t *testing.T) {
	primary := &interpretmock.Interpreter{
		NameResult:      "primary",
		InterpretResult: &interpret.Report{Status: interpret.StatusNormal, HeartRate: 72},
	}
	secondary := &interpretmock.Interpreter{
		NameResult:      "secondary",
		InterpretResult: &interpret.Report{Status: interpret.StatusNoise},
	}

	fb := NewInterpreterFallback(primary, FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback(secondary)

	rep, err := fb.Interpret(context.Background(), interpret.Reading{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rep.Status != interpret.StatusNormal {
		t.Fatalf("status = %q, want %q", rep.Status, interpret.StatusNormal)
	}
	if primary.CallCountInterpret != 1 {
		t.Fatalf("primary called %d times, want 1", primary.CallCountInterpret)
	}
	if secondary.CallCountInterpret != 0 {
		t.Fatalf("secondary called %d times, want 0", secondary.CallCountInterpret)
	}
}

func TestInterpreterFallback_Failover(t *testing.T) {
	primary := &interpretmock.Interpreter{
		NameResult:     "primary",
		InterpretError: errors.New("primary down"),
	}
	secondary := &interpretmock.Interpreter{
		NameResult:      "secondary",
		InterpretResult: &interpret.Report{Status: interpret.StatusBradycardia, HeartRate: 44},
	}

	fb := NewInterpreterFallback(primary, FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback(secondary)

	rep, err := fb.Interpret(context.Background(), interpret.Reading{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rep.Status != interpret.StatusBradycardia {
		t.Fatalf("status = %q, want %q", rep.Status, interpret.StatusBradycardia)
	}
	if primary.CallCountInterpret != 1 {
		t.Fatalf("primary called %d times, want 1", primary.CallCountInterpret)
	}
	if secondary.CallCountInterpret != 1 {
		t.Fatalf("secondary called %d times, want 1", secondary.CallCountInterpret)
	}
}

func TestInterpreterFallback_AllFail(t *testing.T) {
	primary := &interpretmock.Interpreter{NameResult: "primary", InterpretError: errors.New("primary down")}
	secondary := &interpretmock.Interpreter{NameResult: "secondary", InterpretError: errors.New("secondary down")}

	fb := NewInterpreterFallback(primary, FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback(secondary)

	_, err := fb.Interpret(context.Background(), interpret.Reading{})
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}

func TestInterpreterFallback_HeuristicBackstop(t *testing.T) {
	// A failing LLM interpreter backed by the real heuristic should always
	// produce a report.
	primary := &interpretmock.Interpreter{
		NameResult:     "anyllm:openai",
		InterpretError: errors.New("rate limited"),
	}

	fb := NewInterpreterFallback(primary, FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback(interpret.NewHeuristic())

	samples := []waveform.Sample{
		{At: 20 * time.Millisecond, Voltage: 0.1},
		{At: 40 * time.Millisecond, Voltage: 0.1},
		{At: 60 * time.Millisecond, Voltage: 0.1},
	}
	rep, err := fb.Interpret(context.Background(), interpret.NewReading(samples))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rep.Status != interpret.StatusNoise {
		t.Fatalf("status = %q, want %q for a flat trace", rep.Status, interpret.StatusNoise)
	}
}

func TestInterpreterFallback_Name(t *testing.T) {
	primary := &interpretmock.Interpreter{NameResult: "anyllm:openai"}
	fb := NewInterpreterFallback(primary, FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback(&interpretmock.Interpreter{NameResult: "heuristic"})

	if got := fb.Name(); got != "anyllm:openai" {
		t.Fatalf("Name() = %q, want %q", got, "anyllm:openai")
	}
}
