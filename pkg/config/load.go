package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/openfroyo/inkhost/pkg/telemetry"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, as in INKHOST_RUNTIME_TICK_INTERVAL.
const EnvPrefix = "INKHOST_"

// Loader reads configuration files, applies environment overrides and
// validates the result.
type Loader struct {
	schema    *Schema
	validator *validator.Validate

	// Environment replaces the process environment when non-nil.
	Environment map[string]string
}

// NewLoader creates a loader.
func NewLoader() (*Loader, error) {
	schema, err := NewSchema()
	if err != nil {
		return nil, err
	}
	return &Loader{
		schema:    schema,
		validator: validator.New(validator.WithRequiredStructEnabled()),
	}, nil
}

// Load returns the configuration in path layered over Default. An empty path
// loads only defaults and environment overrides. The format follows the file
// extension: .yaml, .yml or .cue.
func (l *Loader) Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := l.decode(path, data, cfg); err != nil {
			return nil, err
		}
	}

	if err := env.ParseWithOptions(cfg, env.Options{
		Prefix:      EnvPrefix,
		Environment: l.Environment,
	}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := l.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (l *Loader) decode(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("failed to parse %s: %w", path, err)
		}
		return nil

	case ".cue":
		val, err := l.schema.Compile(path, data)
		if err != nil {
			return err
		}
		// Exported JSON only carries the fields the file set, so defaults
		// survive the decode.
		raw, err := val.MarshalJSON()
		if err != nil {
			return fmt.Errorf("failed to export %s: %w", path, err)
		}
		if err := json.Unmarshal(raw, cfg); err != nil {
			return fmt.Errorf("failed to decode %s: %w", path, err)
		}
		return nil

	default:
		return fmt.Errorf("unsupported config format: %s", path)
	}
}

// Validate checks struct constraints.
func (l *Loader) Validate(cfg *Config) error {
	if err := l.validator.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Load reads path with a fresh Loader using the process environment.
func Load(path string) (*Config, error) {
	l, err := NewLoader()
	if err != nil {
		return nil, err
	}
	return l.Load(path)
}

// ToTelemetry maps the telemetry section onto a telemetry.Config.
func (c *Config) ToTelemetry(version string) *telemetry.Config {
	tc := telemetry.DefaultConfig()
	if version != "" {
		tc.ServiceVersion = version
	}
	tc.Logging.Level = c.Telemetry.LogLevel
	tc.Logging.Format = c.Telemetry.LogFormat
	tc.Metrics.Enabled = c.Telemetry.MetricsEnabled
	tc.Metrics.ListenAddress = c.Telemetry.MetricsAddress
	tc.Tracing.Enabled = c.Telemetry.TracingEnabled && c.Telemetry.TracingExporter != "none"
	tc.Tracing.Exporter = c.Telemetry.TracingExporter
	tc.Tracing.Endpoint = c.Telemetry.TracingEndpoint
	return tc
}
