package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/openfroyo/inkhost/pkg/config"
	"github.com/openfroyo/inkhost/pkg/telemetry"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newRunCommand(version string) *cobra.Command {
	var (
		scripts  []string
		interval time.Duration
		noWatch  bool
	)

	cmd := &cobra.Command{
		Use:   "run [story...]",
		Short: "Host stories and scripts until interrupted",
		Long: `Load the configured stories and scripts and keep them in sync with their files.

Each tick the runtime:
  - Parses stories whose content has arrived since the last tick
  - Re-parses stories whose files changed, keeping the old story on a parse error
  - Calls on_story_load and on_story_reload in the loaded scripts

Stories given as arguments are added to the configured ones.`,
		Example: `  # Host the stories listed in a config file
  inkhost run -c inkhost.yaml

  # Host one story with a Starlark hook script
  inkhost run intro.ink --script hooks.star

  # Faster ticks, no file watching
  inkhost run intro.ink --interval 20ms --no-watch`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			cfg.Stories.Paths = append(cfg.Stories.Paths, args...)
			cfg.Scripts.Paths = append(cfg.Scripts.Paths, scripts...)
			if interval > 0 {
				cfg.Runtime.TickInterval = config.Duration(interval)
			}
			if noWatch {
				cfg.Watch.Enabled = false
			}

			ctx := cmd.Context()
			a, err := newApp(ctx, cfg, version)
			if err != nil {
				return err
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				a.Close(shutdownCtx)
			}()

			for _, path := range cfg.Stories.Paths {
				a.track(path)
			}
			if err := a.runScripts(ctx, cfg.Scripts.Paths); err != nil {
				return err
			}
			if len(a.runtime.Keys()) == 0 {
				return fmt.Errorf("no stories to host")
			}

			a.logEvents(a.tel.Logger.NewComponentLogger("events"), telemetry.EventLevelInfo)

			if cfg.Watch.Enabled {
				if err := a.store.Watch(ctx); err != nil {
					return err
				}
			}

			go func() {
				if err := a.tel.Metrics.Serve(ctx); err != nil {
					log.Error().Err(err).Msg("Metrics server failed")
				}
			}()

			log.Info().
				Int("stories", len(a.runtime.Keys())).
				Int("scripts", a.scripts.Len()).
				Bool("watch", cfg.Watch.Enabled).
				Msg("Hosting stories")

			return a.runtime.Run(ctx, cfg.Runtime.TickInterval.Std())
		},
	}

	cmd.Flags().StringSliceVarP(&scripts, "script", "s", nil, "Starlark or Lua script to run (repeatable)")
	cmd.Flags().DurationVar(&interval, "interval", 0, "tick interval (overrides config)")
	cmd.Flags().BoolVar(&noWatch, "no-watch", false, "disable file system watching")

	return cmd
}
