package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Runtime holds the engine defaults loaded from configuration.
type Runtime struct {
	// MaxStepsPerRun bounds total step executions in one run, including
	// loop iterations, as infinite-loop protection.
	MaxStepsPerRun int

	// DefaultTimeout bounds each externally delegated call when the tool
	// or model declares no timeout of its own.
	DefaultTimeout time.Duration

	// MaxToolIterations caps the AI tool-calling loop.
	MaxToolIterations int

	// BreakerThreshold and BreakerReset configure the shared circuit
	// breaker registry.
	BreakerThreshold int
	BreakerReset     time.Duration

	// JournalPath is the SQLite run journal location. Empty disables
	// durable journaling.
	JournalPath string
}

// DefaultRuntime returns the built-in defaults.
func DefaultRuntime() Runtime {
	return Runtime{
		MaxStepsPerRun:    1000,
		DefaultTimeout:    30 * time.Second,
		MaxToolIterations: 10,
		BreakerThreshold:  5,
		BreakerReset:      30 * time.Second,
	}
}

// RuntimeFrom extracts Runtime settings from a parsed Config, falling back
// to DefaultRuntime for anything unset.
func RuntimeFrom(c Config) Runtime {
	d := DefaultRuntime()
	engine := c.Section("engine")
	breaker := c.Section("breaker")
	return Runtime{
		MaxStepsPerRun:    engine.Int("max_steps_per_run", d.MaxStepsPerRun),
		DefaultTimeout:    engine.Duration("default_timeout", d.DefaultTimeout),
		MaxToolIterations: engine.Int("max_tool_iterations", d.MaxToolIterations),
		BreakerThreshold:  breaker.Int("failure_threshold", d.BreakerThreshold),
		BreakerReset:      breaker.Duration("reset_timeout", d.BreakerReset),
		JournalPath:       c.String("journal_path", ""),
	}
}

// FromFile loads configuration from a file, auto-detecting format by extension.
// Supported extensions: .yaml, .yml, .json
func FromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		return FromYAML(data)
	case ".json":
		return FromJSON(data)
	default:
		return Config{}, fmt.Errorf("unsupported config file extension: %s", ext)
	}
}

// FromYAML parses YAML data into a Config.
func FromYAML(data []byte) (Config, error) {
	var m map[string]any
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Config{}, fmt.Errorf("parse yaml: %w", err)
	}
	return New(normalize(m)), nil
}

// FromJSON parses JSON data into a Config.
func FromJSON(data []byte) (Config, error) {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return Config{}, fmt.Errorf("parse json: %w", err)
	}
	return New(m), nil
}

// normalize converts yaml.v3's map[string]any values recursively so Section
// works uniformly for YAML and JSON sources.
func normalize(m map[string]any) map[string]any {
	for k, v := range m {
		if nested, ok := v.(map[string]any); ok {
			m[k] = normalize(nested)
		}
	}
	return m
}
