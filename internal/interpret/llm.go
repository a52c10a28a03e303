package interpret

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fennwaldt/pulsetrace/pkg/provider/llm"
	"github.com/fennwaldt/pulsetrace/pkg/waveform"
)

// LLM interpreter defaults. The sample cap bounds the prompt regardless of
// window size; temperature stays low because the reply must be machine
// parseable.
const (
	defaultMaxSamples  = 256
	defaultTemperature = 0.2
	defaultMaxTokens   = 600
)

// llmSystemPrompt frames the task and pins the reply format. The model sees
// amateur-rig data, never clinical recordings.
const llmSystemPrompt = "You analyse single-lead voltage waveforms captured by a hobbyist " +
	"acquisition rig. This is not a medical device and your output is used for display only. " +
	"Reply with a single JSON object and nothing else: no prose, no markdown fences."

// LLM interprets readings by asking a language model for the analysis. The
// reading is downsampled, rendered as compact text, and the model's strict
// JSON reply is parsed into a [Report].
type LLM struct {
	provider    llm.Provider
	name        string
	maxSamples  int
	temperature float64
	maxTokens   int
}

// LLMOption customises an LLM interpreter.
type LLMOption func(*LLM)

// WithMaxSamples caps how many samples are rendered into the prompt.
func WithMaxSamples(n int) LLMOption {
	return func(l *LLM) {
		l.maxSamples = n
	}
}

// WithTemperature overrides the completion temperature.
func WithTemperature(t float64) LLMOption {
	return func(l *LLM) {
		l.temperature = t
	}
}

// WithMaxTokens overrides the completion token cap.
func WithMaxTokens(n int) LLMOption {
	return func(l *LLM) {
		l.maxTokens = n
	}
}

// NewLLM returns an interpreter backed by p. name labels the backend in logs
// and metrics (e.g. "anyllm:openai").
func NewLLM(p llm.Provider, name string, opts ...LLMOption) (*LLM, error) {
	if p == nil {
		return nil, fmt.Errorf("interpret: provider must not be nil")
	}
	if name == "" {
		return nil, fmt.Errorf("interpret: name must not be empty")
	}
	l := &LLM{
		provider:    p,
		name:        name,
		maxSamples:  defaultMaxSamples,
		temperature: defaultTemperature,
		maxTokens:   defaultMaxTokens,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Name implements Interpreter.
func (l *LLM) Name() string {
	return l.name
}

// Interpret implements Interpreter.
func (l *LLM) Interpret(ctx context.Context, r Reading) (*Report, error) {
	resp, err := l.provider.Complete(ctx, llm.CompletionRequest{
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: l.buildPrompt(r)},
		},
		SystemPrompt: llmSystemPrompt,
		Temperature:  l.temperature,
		MaxTokens:    l.maxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("interpret: %s completion: %w", l.name, err)
	}
	rep, err := parseReport(resp.Content)
	if err != nil {
		return nil, fmt.Errorf("interpret: %s reply: %w", l.name, err)
	}
	return rep, nil
}

// buildPrompt renders r as compact text. All sample pairs share one line so
// the prompt stays short and the shape is trivial to audit in logs.
func (l *LLM) buildPrompt(r Reading) string {
	kept := downsample(r.Samples, l.maxSamples)
	pairs := make([]string, len(kept))
	for i, s := range kept {
		pairs[i] = fmt.Sprintf("%d:%.3f", s.At.Milliseconds(), s.Voltage)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Analyse the following voltage window.\n\n")
	fmt.Fprintf(&b, "Window span: %d ms\n", r.Span.Milliseconds())
	fmt.Fprintf(&b, "Samples rendered: %d of %d\n", len(kept), len(r.Samples))
	if r.EstimatedRate > 0 {
		fmt.Fprintf(&b, "Estimated rate: %.1f bpm\n", r.EstimatedRate)
	}
	fmt.Fprintf(&b, "\nSamples as time_ms:voltage_mv pairs:\n%s\n", strings.Join(pairs, " "))
	fmt.Fprintf(&b, "\nReply with exactly this JSON shape:\n")
	fmt.Fprintf(&b, `{"heartRate":<bpm>,"hrv":<ms>,"status":"normal|irregular|tachycardia|bradycardia|noise",`)
	fmt.Fprintf(&b, `"confidence":<0..1>,"recommendation":"<short guidance>","detailedAnalysis":"<2-3 sentences>"}`)
	return b.String()
}

// downsample keeps at most max samples, striding evenly from the front.
func downsample(samples []waveform.Sample, max int) []waveform.Sample {
	if max <= 0 || len(samples) <= max {
		return samples
	}
	stride := (len(samples) + max - 1) / max
	out := make([]waveform.Sample, 0, max)
	for i := 0; i < len(samples); i += stride {
		out = append(out, samples[i])
	}
	return out
}

// parseReport extracts the JSON object from a model reply. Some models wrap
// JSON in markdown fences or prose despite instructions, so everything
// outside the outermost braces is ignored.
func parseReport(content string) (*Report, error) {
	start := strings.IndexByte(content, '{')
	end := strings.LastIndexByte(content, '}')
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in reply")
	}

	var rep Report
	if err := json.Unmarshal([]byte(content[start:end+1]), &rep); err != nil {
		return nil, fmt.Errorf("decode reply: %w", err)
	}

	rep.Status = Status(strings.ToLower(strings.TrimSpace(string(rep.Status))))
	if !rep.Status.IsValid() {
		return nil, fmt.Errorf("unknown status %q", rep.Status)
	}
	if rep.Confidence < 0 {
		rep.Confidence = 0
	}
	if rep.Confidence > 1 {
		rep.Confidence = 1
	}
	return &rep, nil
}
