package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/openfroyo/inkhost/pkg/assets"
	"github.com/openfroyo/inkhost/pkg/config"
	"github.com/openfroyo/inkhost/pkg/ink"
	"github.com/spf13/cobra"
)

// checkResult is the outcome of checking one story file.
type checkResult struct {
	Path        string           `json:"path"`
	OK          bool             `json:"ok"`
	Knots       []string         `json:"knots,omitempty"`
	Diagnostics []ink.Diagnostic `json:"diagnostics,omitempty"`
	Error       string           `json:"error,omitempty"`
}

func newCheckCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check <file>...",
		Short: "Parse story files and report problems",
		Long: `Parse story files the way the runtime does and print every problem found.

Sources matching the configured compiler extensions are compiled first.
The command fails if any file does not parse.`,
		Example: `  # Check one story
  inkhost check intro.ink

  # Check several stories, JSON output
  inkhost check --json stories/*.ink`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			results := make([]checkResult, 0, len(args))
			failed := 0
			for _, path := range args {
				res := checkFile(cmd, cfg, path)
				if !res.OK {
					failed++
				}
				results = append(results, res)
			}

			if err := printCheckResults(cmd.OutOrStdout(), results); err != nil {
				return err
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d stories failed to parse", failed, len(args))
			}
			return nil
		},
	}

	return cmd
}

func checkFile(cmd *cobra.Command, cfg *config.Config, path string) checkResult {
	res := checkResult{Path: path}

	src, err := os.ReadFile(path)
	if err != nil {
		res.Error = err.Error()
		return res
	}

	if cfg.Compiler.Enabled() {
		compiler := &assets.CommandCompiler{
			Command:    cfg.Compiler.Command,
			Args:       cfg.Compiler.Args,
			Extensions: cfg.Compiler.Extensions,
			Timeout:    cfg.Compiler.Timeout.Std(),
		}
		if compiler.Handles(path) {
			if src, err = compiler.Compile(cmd.Context(), path, src); err != nil {
				res.Error = err.Error()
				return res
			}
		}
	}

	story, err := ink.Parse(string(src))
	if err != nil {
		var perr *ink.ParseError
		if errors.As(err, &perr) {
			res.Diagnostics = perr.Diagnostics
		} else {
			res.Error = err.Error()
		}
		return res
	}

	res.OK = true
	res.Knots = story.KnotNames()
	return res
}

func printCheckResults(w io.Writer, results []checkResult) error {
	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}

	for _, res := range results {
		switch {
		case res.OK:
			fmt.Fprintf(w, "ok    %s (%d knots)\n", res.Path, len(res.Knots))
		case res.Error != "":
			fmt.Fprintf(w, "FAIL  %s: %s\n", res.Path, res.Error)
		default:
			fmt.Fprintf(w, "FAIL  %s\n", res.Path)
			for _, d := range res.Diagnostics {
				fmt.Fprintf(w, "      %s:%s\n", res.Path, diagnosticSuffix(d))
			}
		}
	}
	return nil
}

func diagnosticSuffix(d ink.Diagnostic) string {
	if d.Line == 0 {
		return " " + d.Message
	}
	return fmt.Sprintf("%d: %s", d.Line, d.Message)
}
