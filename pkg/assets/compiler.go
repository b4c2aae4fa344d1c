package assets

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// CommandCompiler pipes source bytes through an external command and publishes
// its standard output. The command is a source-to-source step, such as a
// template or macro preprocessor: its output must be ink source text. Compilers
// that emit compiled story JSON, like inklecate, cannot be used.
type CommandCompiler struct {
	// Command is the executable to run.
	Command string

	// Args are passed to the command. The source is written to its stdin.
	Args []string

	// Extensions lists the path suffixes this compiler applies to, such as ".ink".
	Extensions []string

	// Timeout bounds a single compilation. Zero means 30 seconds.
	Timeout time.Duration
}

// Handles reports whether path ends in one of the configured extensions.
func (c *CommandCompiler) Handles(path string) bool {
	for _, ext := range c.Extensions {
		if strings.HasSuffix(path, ext) {
			return true
		}
	}
	return false
}

// Compile runs the command with src on stdin.
func (c *CommandCompiler) Compile(ctx context.Context, path string, src []byte) ([]byte, error) {
	timeout := c.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, c.Command, c.Args...)
	cmd.Stdin = bytes.NewReader(src)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return nil, fmt.Errorf("compile %s with %s: %w", path, c.Command, err)
		}
		return nil, fmt.Errorf("compile %s with %s: %w: %s", path, c.Command, err, msg)
	}

	out := stdout.Bytes()
	if trimmed := bytes.TrimSpace(out); len(trimmed) > 0 && trimmed[0] == '{' {
		return nil, fmt.Errorf("compile %s with %s: output is JSON, ink source expected", path, c.Command)
	}
	return out, nil
}
