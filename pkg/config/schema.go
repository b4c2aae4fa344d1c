package config

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// configSchema constrains CUE configuration files. Unknown fields are rejected
// because #Config is closed.
const configSchema = `
#Duration: string & =~"^([0-9]+(\\.[0-9]+)?(ns|us|µs|ms|s|m|h))+$"

#Config: {
	stories?: {
		root?: string
		paths?: [...string & !=""]
	}
	scripts?: {
		paths?: [...string & =~"\\.(star|starlark|lua)$"]
	}
	runtime?: {
		tick_interval?: #Duration
	}
	watch?: {
		enabled?:  bool
		debounce?: #Duration
	}
	compiler?: {
		command?:    string
		args?:       [...string]
		extensions?: [...string & =~"^\\."]
		timeout?:    #Duration
	}
	journal?: {
		enabled?:   bool
		path?:      string
		retention?: #Duration
	}
	telemetry?: {
		log_level?:        "trace" | "debug" | "info" | "warn" | "error" | "fatal"
		log_format?:       "console" | "json"
		metrics_enabled?:  bool
		metrics_address?:  string
		tracing_enabled?:  bool
		tracing_exporter?: "otlp" | "stdout" | "none"
		tracing_endpoint?: string
	}
}
`

// Schema validates CUE configuration values against #Config.
type Schema struct {
	ctx    *cue.Context
	config cue.Value
}

// NewSchema compiles the configuration schema.
func NewSchema() (*Schema, error) {
	ctx := cuecontext.New()
	val := ctx.CompileString(configSchema, cue.Filename("schema.cue"))
	if err := val.Err(); err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}

	def := val.LookupPath(cue.ParsePath("#Config"))
	if err := def.Err(); err != nil {
		return nil, fmt.Errorf("schema has no #Config: %w", err)
	}

	return &Schema{ctx: ctx, config: def}, nil
}

// Compile parses CUE source and unifies it with #Config. The result is
// concrete and ready for export.
func (s *Schema) Compile(filename string, src []byte) (cue.Value, error) {
	val := s.ctx.CompileBytes(src, cue.Filename(filename))
	if err := val.Err(); err != nil {
		return cue.Value{}, fmt.Errorf("failed to parse %s: %w", filename, err)
	}

	unified := s.config.Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return cue.Value{}, fmt.Errorf("%s does not match the configuration schema: %w", filename, err)
	}
	return unified, nil
}
