package config

// ConfigDiff describes what changed between two configs. The boolean flags
// are coarse on purpose: the reload path restarts the affected component
// rather than patching individual fields.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	AcquisitionChanged bool
	SensorChanged      bool
	InterpreterChanged bool
	ExportChanged      bool
}

// Any reports whether the diff carries at least one change.
func (d ConfigDiff) Any() bool {
	return d.LogLevelChanged || d.AcquisitionChanged || d.SensorChanged ||
		d.InterpreterChanged || d.ExportChanged
}

// Diff compares old and new configs and returns what changed. Server
// settings other than the log level (listen address, TLS) need a restart
// and are not tracked here.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Acquisition != new.Acquisition {
		d.AcquisitionChanged = true
	}
	if old.Sensor != new.Sensor {
		d.SensorChanged = true
	}
	if old.Interpreter != new.Interpreter {
		d.InterpreterChanged = true
	}
	if exportChanged(old.Export, new.Export) {
		d.ExportChanged = true
	}

	return d
}

// exportChanged compares export blocks field by field because the NATS
// block is a pointer and must be compared by value.
func exportChanged(old, new ExportConfig) bool {
	if old.Interval != new.Interval || old.Path != new.Path {
		return true
	}
	switch {
	case old.NATS == nil && new.NATS == nil:
		return false
	case old.NATS == nil || new.NATS == nil:
		return true
	default:
		return *old.NATS != *new.NATS
	}
}
