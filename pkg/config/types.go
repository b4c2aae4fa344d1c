package config

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration written as a Go duration string ("250ms", "5s")
// in YAML, CUE and environment variables.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	*d = Duration(parsed)
	return nil
}

// UnmarshalJSON accepts a duration string or a number of nanoseconds.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return d.UnmarshalText([]byte(s))
	}
	n, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid duration %s", data)
	}
	*d = Duration(n)
	return nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a scalar", node.Line)
	}
	return d.UnmarshalText([]byte(node.Value))
}

// Config is the inkhost configuration file.
type Config struct {
	// Stories lists the story files tracked at startup.
	Stories StoriesConfig `yaml:"stories" json:"stories" envPrefix:"STORIES_"`

	// Scripts lists Starlark and Lua scripts run at startup.
	Scripts ScriptsConfig `yaml:"scripts" json:"scripts" envPrefix:"SCRIPTS_"`

	// Runtime controls the tick loop.
	Runtime RuntimeConfig `yaml:"runtime" json:"runtime" envPrefix:"RUNTIME_"`

	// Watch controls file system watching.
	Watch WatchConfig `yaml:"watch" json:"watch" envPrefix:"WATCH_"`

	// Compiler optionally pipes story sources through an external command.
	Compiler CompilerConfig `yaml:"compiler" json:"compiler" envPrefix:"COMPILER_"`

	// Journal configures the SQLite load journal.
	Journal JournalConfig `yaml:"journal" json:"journal" envPrefix:"JOURNAL_"`

	// Telemetry configures logging, metrics and tracing.
	Telemetry TelemetryConfig `yaml:"telemetry" json:"telemetry" envPrefix:"TELEMETRY_"`
}

// StoriesConfig lists story sources.
type StoriesConfig struct {
	// Root resolves relative story paths.
	Root string `yaml:"root" json:"root" env:"ROOT"`

	// Paths are story files, relative to Root.
	Paths []string `yaml:"paths" json:"paths" env:"PATHS" validate:"dive,required"`
}

// ScriptsConfig lists script files.
type ScriptsConfig struct {
	Paths []string `yaml:"paths" json:"paths" env:"PATHS" validate:"dive,required"`
}

// RuntimeConfig controls the tick loop.
type RuntimeConfig struct {
	// TickInterval is the time between runtime ticks.
	TickInterval Duration `yaml:"tick_interval" json:"tick_interval" env:"TICK_INTERVAL" validate:"gt=0"`
}

// WatchConfig controls file system watching.
type WatchConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled" env:"ENABLED"`

	// Debounce coalesces bursts of file system events for one file.
	Debounce Duration `yaml:"debounce" json:"debounce" env:"DEBOUNCE" validate:"gte=0"`
}

// CompilerConfig configures an external source-to-source step run on story
// files before parsing. Its output must be ink source.
type CompilerConfig struct {
	Command    string   `yaml:"command" json:"command" env:"COMMAND"`
	Args       []string `yaml:"args" json:"args" env:"ARGS"`
	Extensions []string `yaml:"extensions" json:"extensions" env:"EXTENSIONS" validate:"required_with=Command,dive,startswith=."`
	Timeout    Duration `yaml:"timeout" json:"timeout" env:"TIMEOUT" validate:"gte=0"`
}

// Enabled reports whether a compiler command is configured.
func (c CompilerConfig) Enabled() bool {
	return c.Command != ""
}

// JournalConfig configures the load journal.
type JournalConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled" env:"ENABLED"`
	Path    string `yaml:"path" json:"path" env:"PATH" validate:"required_if=Enabled true"`

	// Retention prunes entries older than this at startup. Zero keeps everything.
	Retention Duration `yaml:"retention" json:"retention" env:"RETENTION" validate:"gte=0"`
}

// TelemetryConfig is the subset of telemetry settings exposed in the
// configuration file.
type TelemetryConfig struct {
	LogLevel  string `yaml:"log_level" json:"log_level" env:"LOG_LEVEL" validate:"oneof=trace debug info warn error fatal"`
	LogFormat string `yaml:"log_format" json:"log_format" env:"LOG_FORMAT" validate:"oneof=console json"`

	MetricsEnabled bool   `yaml:"metrics_enabled" json:"metrics_enabled" env:"METRICS_ENABLED"`
	MetricsAddress string `yaml:"metrics_address" json:"metrics_address" env:"METRICS_ADDRESS" validate:"required_if=MetricsEnabled true"`

	TracingEnabled  bool   `yaml:"tracing_enabled" json:"tracing_enabled" env:"TRACING_ENABLED"`
	TracingExporter string `yaml:"tracing_exporter" json:"tracing_exporter" env:"TRACING_EXPORTER" validate:"oneof=otlp stdout none"`
	TracingEndpoint string `yaml:"tracing_endpoint" json:"tracing_endpoint" env:"TRACING_ENDPOINT"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Stories: StoriesConfig{Root: "."},
		Runtime: RuntimeConfig{TickInterval: Duration(100 * time.Millisecond)},
		Watch: WatchConfig{
			Enabled:  true,
			Debounce: Duration(100 * time.Millisecond),
		},
		Compiler: CompilerConfig{Timeout: Duration(30 * time.Second)},
		Journal: JournalConfig{
			Path: "inkhost.db",
		},
		Telemetry: TelemetryConfig{
			LogLevel:        "info",
			LogFormat:       "console",
			MetricsAddress:  ":9464",
			TracingExporter: "none",
		},
	}
}
