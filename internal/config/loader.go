package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/fennwaldt/pulsetrace/internal/acquire"
	"github.com/fennwaldt/pulsetrace/internal/frame"
	"github.com/fennwaldt/pulsetrace/internal/signal"
)

// ValidTransportNames lists the sensor transports pulsetrace ships with.
// Other names are allowed (custom registrations) but produce a warning.
var ValidTransportNames = []string{"ws", "replay"}

// ValidLLMProviders lists the LLM backends pulsetrace ships with. Other
// names are allowed (custom registrations) but produce a warning.
var ValidLLMProviders = []string{
	"openai", "anthropic", "gemini", "ollama", "deepseek",
	"mistral", "groq", "llamacpp", "llamafile",
}

// Load reads and parses a YAML config file from the given path, applies
// defaults, and validates the result.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config file %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader parses YAML config data from r, applies defaults, and
// validates the result. Unknown fields are rejected so typos surface
// instead of silently falling back to defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = ":8080"
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = LogInfo
	}
	if c.Acquisition.Source == "" {
		c.Acquisition.Source = acquire.SourceSynthetic
	}
	if c.Acquisition.Rate == 0 {
		c.Acquisition.Rate = DefaultRate
	}
	if c.Acquisition.WindowSize == 0 {
		c.Acquisition.WindowSize = acquire.DefaultWindowSize
	}
	if c.Sensor.Framing == "" {
		c.Sensor.Framing = frame.ModeText
	}
}

// Validate checks the configuration for errors. All problems found are
// joined into the returned error rather than stopping at the first one.
func (c *Config) Validate() error {
	var errs []error

	if !c.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level: unknown level %q", c.Server.LogLevel))
	}
	if tls := c.Server.TLS; tls != nil {
		if tls.CertFile == "" {
			errs = append(errs, errors.New("server.tls.cert_file: required when TLS is enabled"))
		}
		if tls.KeyFile == "" {
			errs = append(errs, errors.New("server.tls.key_file: required when TLS is enabled"))
		}
	}

	errs = append(errs, c.validateAcquisition()...)
	errs = append(errs, c.validateSensor()...)
	errs = append(errs, c.validateInterpreter()...)
	errs = append(errs, c.validateExport()...)

	return errors.Join(errs...)
}

func (c *Config) validateAcquisition() []error {
	var errs []error
	a := c.Acquisition

	if !a.Source.IsValid() {
		errs = append(errs, fmt.Errorf("acquisition.source: unknown source %q", a.Source))
	}
	if a.Rate != 0 && (a.Rate < signal.MinRate || a.Rate > signal.MaxRate) {
		errs = append(errs, fmt.Errorf("acquisition.rate: %v outside [%v, %v]", a.Rate, signal.MinRate, signal.MaxRate))
	}
	if a.Noise < 0 || a.Noise > 1 {
		errs = append(errs, fmt.Errorf("acquisition.noise: %v outside [0, 1]", a.Noise))
	}
	if a.SampleInterval < 0 {
		errs = append(errs, errors.New("acquisition.sample_interval: must not be negative"))
	}
	if a.Countdown < 0 {
		errs = append(errs, errors.New("acquisition.countdown: must not be negative"))
	}
	if a.WindowSize != 0 && (a.WindowSize < acquire.MinWindowSize || a.WindowSize > acquire.MaxWindowSize) {
		errs = append(errs, fmt.Errorf("acquisition.window_size: %d outside [%d, %d]", a.WindowSize, acquire.MinWindowSize, acquire.MaxWindowSize))
	}
	if a.PendingLimit < 0 {
		errs = append(errs, errors.New("acquisition.pending_limit: must not be negative"))
	}
	if a.Source == acquire.SourceSensor && c.Sensor.Transport == "" {
		errs = append(errs, errors.New("sensor.transport: required when acquisition.source is \"sensor\""))
	}
	return errs
}

func (c *Config) validateSensor() []error {
	var errs []error
	s := c.Sensor

	if s.Transport != "" {
		validateKnownName("sensor.transport", s.Transport, ValidTransportNames)
	}
	switch s.Transport {
	case "ws":
		if s.URL == "" {
			errs = append(errs, errors.New("sensor.url: required for the ws transport"))
		}
	case "replay":
		if s.Path == "" {
			errs = append(errs, errors.New("sensor.path: required for the replay transport"))
		}
	}
	if !s.Framing.IsValid() {
		errs = append(errs, fmt.Errorf("sensor.framing: unknown mode %q", s.Framing))
	}
	if s.Interval < 0 {
		errs = append(errs, errors.New("sensor.interval: must not be negative"))
	}
	return errs
}

func (c *Config) validateInterpreter() []error {
	var errs []error
	i := c.Interpreter

	if i.Provider.Name != "" {
		validateKnownName("interpreter.provider.name", i.Provider.Name, ValidLLMProviders)
		if i.Provider.Model == "" {
			errs = append(errs, errors.New("interpreter.provider.model: required when a provider is configured"))
		}
	}
	if i.MaxSamples < 0 {
		errs = append(errs, errors.New("interpreter.max_samples: must not be negative"))
	}
	if i.Timeout < 0 {
		errs = append(errs, errors.New("interpreter.timeout: must not be negative"))
	}
	return errs
}

func (c *Config) validateExport() []error {
	var errs []error
	e := c.Export

	if e.Interval < 0 {
		errs = append(errs, errors.New("export.interval: must not be negative"))
	}
	if e.NATS != nil && e.NATS.Subject == "" {
		errs = append(errs, errors.New("export.nats.subject: required when NATS export is enabled"))
	}
	return errs
}

// validateKnownName warns about names outside the built-in set. Custom
// registrations are legitimate, so this is advisory rather than an error.
func validateKnownName(field, name string, known []string) {
	if !slices.Contains(known, name) {
		slog.Warn("Unrecognized name in config. If this is a custom registration you can ignore this warning.",
			"field", field, "name", name, "known", known)
	}
}
