// Package config provides the configuration schema, loader, and factory
// registry for the pulsetrace acquisition service.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/fennwaldt/pulsetrace/internal/acquire"
	"github.com/fennwaldt/pulsetrace/internal/frame"
)

// DefaultRate is the synthetic source rate applied when the config leaves it
// unset. 0 bpm is never valid, so zero unambiguously means "unset".
const DefaultRate = 72.0

// LogLevel controls log verbosity for the pulsetrace server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Duration wraps time.Duration so YAML configs can use "250ms" / "5s"
// notation; yaml.v3 has no native duration support.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("duration must be a string like \"250ms\": %w", err)
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the root configuration structure for pulsetrace.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Acquisition AcquisitionConfig `yaml:"acquisition"`
	Sensor      SensorConfig      `yaml:"sensor"`
	Interpreter InterpreterConfig `yaml:"interpreter"`
	Export      ExportConfig      `yaml:"export"`
}

// ServerConfig holds network and logging settings for the pulsetrace server.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// AcquisitionConfig holds the defaults applied to new acquisition runs.
// Source, rate, and noise can be overridden per run through the API; the
// window geometry is fixed for the process lifetime.
type AcquisitionConfig struct {
	// Source selects where samples come from ("synthetic" or "sensor").
	Source acquire.SourceKind `yaml:"source"`

	// Rate is the synthetic source target rate in bpm. Ignored for the
	// sensor source, whose rate is physical.
	Rate float64 `yaml:"rate"`

	// Noise is the synthetic source noise level in [0, 1].
	Noise float64 `yaml:"noise"`

	// SampleInterval is the cadence at which samples are folded into the
	// window. Zero means the built-in 20ms default.
	SampleInterval Duration `yaml:"sample_interval"`

	// Countdown is the delay between starting a run and accepting samples.
	// Zero means the built-in 5s default.
	Countdown Duration `yaml:"countdown"`

	// WindowSize caps how many samples the window retains.
	WindowSize int `yaml:"window_size"`

	// PendingLimit bounds the staging queue between cadence ticks. Zero
	// means the built-in default.
	PendingLimit int `yaml:"pending_limit"`
}

// SensorConfig describes how to reach the wireless sensor link.
type SensorConfig struct {
	// Transport selects the registered link implementation ("ws" or
	// "replay"). Empty disables the sensor source.
	Transport string `yaml:"transport"`

	// URL is the gateway endpoint used when Transport is "ws"
	// (e.g., "wss://gateway.local/stream"). Ignored for replay.
	URL string `yaml:"url"`

	// Token is an optional Bearer token sent when connecting to the
	// gateway. Ignored for replay.
	Token string `yaml:"token"`

	// Framing selects how raw chunks are reassembled into samples
	// ("text" or "binary").
	Framing frame.Mode `yaml:"framing"`

	// Path is the capture file replayed when Transport is "replay".
	Path string `yaml:"path"`

	// Interval is the pacing between replayed chunks. Zero means the
	// replay default.
	Interval Duration `yaml:"interval"`

	// Loop restarts the capture from the beginning when it is exhausted.
	Loop bool `yaml:"loop"`
}

// InterpreterConfig selects and bounds the rhythm interpreter.
type InterpreterConfig struct {
	// Provider selects the LLM backend used for interpretation. When the
	// name is empty only the built-in heuristic interpreter runs.
	Provider ProviderEntry `yaml:"provider"`

	// MaxSamples caps how many samples are rendered into an LLM prompt.
	// Zero means the interpreter default.
	MaxSamples int `yaml:"max_samples"`

	// Timeout bounds a single interpretation round trip. Zero means no
	// additional bound beyond the request context.
	Timeout Duration `yaml:"timeout"`
}

// ProviderEntry is the configuration block for an LLM backend. The Name
// field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "openai",
	// "ollama").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "gpt-4o-mini").
	Model string `yaml:"model"`
}

// ExportConfig configures the periodic snapshot exporter.
type ExportConfig struct {
	// Interval is the period between export cycles. Zero means the
	// exporter default.
	Interval Duration `yaml:"interval"`

	// Path enables the delimited-file sink when non-empty.
	Path string `yaml:"path"`

	// NATS enables the NATS publisher sink when non-nil.
	NATS *NATSConfig `yaml:"nats"`
}

// NATSConfig holds the NATS sink settings.
type NATSConfig struct {
	// URL is the NATS server address. Empty falls back to the client
	// default (nats://127.0.0.1:4222).
	URL string `yaml:"url"`

	// Subject is the subject batches are published on.
	Subject string `yaml:"subject"`
}
