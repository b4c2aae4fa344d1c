package commands

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/openfroyo/inkhost/pkg/stories"
	"github.com/openfroyo/inkhost/pkg/telemetry"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newPlayCommand(version string) *cobra.Command {
	var noWatch bool

	cmd := &cobra.Command{
		Use:   "play <file>",
		Short: "Play a story in the terminal with hot reload",
		Long: `Play a story interactively. Choices are picked by number; q quits.

While playing, the story file is watched. Saving the file restarts the story
from the top with the new text. A save that does not parse is reported in the
log and the current story keeps running.`,
		Example: `  # Play a story
  inkhost play intro.ink

  # Play without watching for edits
  inkhost play intro.ink --no-watch`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			cfg.Stories.Root = filepath.Dir(args[0])
			cfg.Telemetry.MetricsEnabled = false
			if noWatch {
				cfg.Watch.Enabled = false
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			a, err := newApp(ctx, cfg, version)
			if err != nil {
				return err
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				a.Close(shutdownCtx)
			}()

			key := a.track(filepath.Base(args[0]))
			if cfg.Watch.Enabled {
				if err := a.store.Watch(ctx); err != nil {
					return err
				}
			}

			// The session shows reloads itself; only problems go to the log.
			a.logEvents(a.tel.Logger.NewComponentLogger("events"), telemetry.EventLevelWarning)

			s := newPlaySession(a.runtime, key, cmd.InOrStdin(), cmd.OutOrStdout())
			a.runtime.Subscribe(s.onEvent)

			// The runtime must stop ticking before a.Close runs.
			runDone := make(chan struct{})
			go func() {
				defer close(runDone)
				if err := a.runtime.Run(ctx, cfg.Runtime.TickInterval.Std()); err != nil {
					log.Error().Err(err).Msg("Story runtime failed")
					cancel()
				}
			}()

			err = s.run(ctx)
			cancel()
			<-runDone
			return err
		},
	}

	cmd.Flags().BoolVar(&noWatch, "no-watch", false, "disable file system watching")

	return cmd
}

// playable is what a play session needs from the runtime.
type playable interface {
	stories.Capabilities
	State(key stories.Key) stories.State
}

// playSession drives one story from terminal input.
type playSession struct {
	stories  playable
	key      stories.Key
	out      io.Writer
	lines    <-chan string
	reloaded chan struct{}
	poll     time.Duration
}

func newPlaySession(p playable, key stories.Key, in io.Reader, out io.Writer) *playSession {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- strings.TrimSpace(scanner.Text())
		}
	}()

	return &playSession{
		stories:  p,
		key:      key,
		out:      out,
		lines:    lines,
		reloaded: make(chan struct{}, 1),
		poll:     20 * time.Millisecond,
	}
}

// onEvent is a stories.Listener.
func (s *playSession) onEvent(ev stories.Event) {
	if ev.Key != s.key || ev.Kind != stories.EventReloaded {
		return
	}
	select {
	case s.reloaded <- struct{}{}:
	default:
	}
}

func (s *playSession) run(ctx context.Context) error {
	if err := s.waitReady(ctx); err != nil {
		return err
	}

	for {
		if err := s.showText(); err != nil {
			return err
		}

		choices, err := s.stories.CurrentChoices(s.key)
		if err != nil {
			return err
		}
		if len(choices) == 0 {
			fmt.Fprintln(s.out, "-- end --")
		}
		for i, c := range choices {
			fmt.Fprintf(s.out, "%d: %s\n", i+1, c)
		}
		fmt.Fprint(s.out, "> ")

		select {
		case <-ctx.Done():
			return nil

		case <-s.reloaded:
			fmt.Fprintln(s.out, "\n(story reloaded)")

		case line, ok := <-s.lines:
			if !ok || line == "q" {
				return nil
			}
			if len(choices) == 0 {
				fmt.Fprintln(s.out, "The story has ended. Edit the file to reload it, or q to quit.")
				continue
			}
			n, err := strconv.Atoi(line)
			if err != nil || n < 1 || n > len(choices) {
				fmt.Fprintf(s.out, "Pick a number from 1 to %d.\n", len(choices))
				continue
			}
			if err := s.stories.Choose(s.key, n-1); err != nil {
				return err
			}
		}
	}
}

// waitReady blocks until the story has parsed once.
func (s *playSession) waitReady(ctx context.Context) error {
	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()

	reported := false
	for {
		switch s.stories.State(s.key) {
		case stories.StateReady:
			return nil
		case stories.StateFailed:
			if !reported {
				fmt.Fprintln(s.out, "The story does not parse yet. Waiting for a fix...")
				reported = true
			}
		case stories.StateUnknown:
			return fmt.Errorf("story %s is not tracked", s.key)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *playSession) showText() error {
	for {
		ok, err := s.stories.CanContinue(s.key)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		line, err := s.stories.Advance(s.key)
		if err != nil {
			return err
		}
		fmt.Fprint(s.out, line)
	}
}
