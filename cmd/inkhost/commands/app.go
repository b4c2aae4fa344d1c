package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/openfroyo/inkhost/pkg/assets"
	"github.com/openfroyo/inkhost/pkg/config"
	"github.com/openfroyo/inkhost/pkg/scripting"
	"github.com/openfroyo/inkhost/pkg/stores"
	"github.com/openfroyo/inkhost/pkg/stories"
	"github.com/openfroyo/inkhost/pkg/telemetry"
	"github.com/rs/zerolog"
)

// app wires the asset store, the story runtime and their observers for the
// long-running commands.
type app struct {
	cfg     *config.Config
	tel     *telemetry.Telemetry
	logger  zerolog.Logger
	store   *assets.Store
	runtime *stories.Runtime
	scripts *scripting.Scripts

	journal *stores.SQLiteStore
	writer  *stores.JournalObserver
	session *stores.Session
}

func newApp(ctx context.Context, cfg *config.Config, version string) (*app, error) {
	tel, err := telemetry.NewTelemetry(cfg.ToTelemetry(version))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	// Library packages add their own component field.
	root := tel.Logger.Zerolog()

	a := &app{cfg: cfg, tel: tel, logger: tel.Logger.NewComponentLogger("host").Zerolog()}

	opts := assets.Options{
		Root:     cfg.Stories.Root,
		Debounce: cfg.Watch.Debounce.Std(),
		Logger:   root,
	}
	if cfg.Compiler.Enabled() {
		opts.Compiler = &assets.CommandCompiler{
			Command:    cfg.Compiler.Command,
			Args:       cfg.Compiler.Args,
			Extensions: cfg.Compiler.Extensions,
			Timeout:    cfg.Compiler.Timeout.Std(),
		}
	}
	a.store = assets.NewStore(opts)

	observers := stories.Observers{
		telemetry.NewStoryObserver(tel.Metrics, tel.Events, a.describe, tel.Logger.NewComponentLogger("observer")),
	}
	if cfg.Journal.Enabled {
		if err := a.openJournal(ctx); err != nil {
			a.Close(ctx)
			return nil, err
		}
		observers = append(observers, a.writer)
	}

	a.runtime, err = stories.New(stories.Options{
		Source:   a.store,
		Observer: observers,
		Tracer:   tel.Tracer.Trace(),
		Logger:   root,
	})
	if err != nil {
		a.Close(ctx)
		return nil, err
	}

	a.scripts = scripting.NewScripts(root)
	a.runtime.Subscribe(a.scripts.OnEvent)

	return a, nil
}

// logEvents writes lifecycle events at minLevel or above to logger.
func (a *app) logEvents(logger *telemetry.Logger, minLevel string) {
	a.tel.Events.Subscribe(telemetry.LogEvents(logger), telemetry.FilterByLevel(minLevel))
}

func (a *app) openJournal(ctx context.Context) error {
	journal, err := stores.Open(ctx, stores.Config{Path: a.cfg.Journal.Path})
	if err != nil {
		return fmt.Errorf("failed to open journal: %w", err)
	}
	a.journal = journal

	if retention := a.cfg.Journal.Retention.Std(); retention > 0 {
		n, err := journal.Prune(ctx, time.Now().Add(-retention))
		if err != nil {
			return fmt.Errorf("failed to prune journal: %w", err)
		}
		a.logger.Debug().Int64("entries", n).Msg("Pruned journal")
	}

	host, _ := os.Hostname()
	session, err := journal.StartSession(ctx, host)
	if err != nil {
		return fmt.Errorf("failed to start journal session: %w", err)
	}
	a.session = session

	a.writer = stores.NewJournalObserver(journal, stores.JournalOptions{
		SessionID: session.ID,
		Describe:  a.describe,
		Logger:    a.tel.Logger.Zerolog(),
	})
	return nil
}

// describe names an asset by its file path.
func (a *app) describe(h assets.Handle) string {
	if path, ok := a.store.Path(h); ok {
		return path
	}
	return h.String()
}

// track loads path and starts tracking it.
func (a *app) track(path string) stories.Key {
	h := a.store.Load(path)
	key := a.runtime.BeginTracking(h)
	a.logger.Info().Str("path", path).Stringer("key", key).Msg("Tracking story")
	return key
}

// runScripts executes each script and registers it for story events.
func (a *app) runScripts(ctx context.Context, paths []string) error {
	ctx = a.tel.WithContext(ctx)
	caps := telemetry.InstrumentStories(a.runtime, a.tel.Metrics)

	for _, path := range paths {
		engine := scriptEngineName(path)
		op := telemetry.StartOperation(ctx, "script.exec",
			telemetry.AttrScriptEngine.String(engine),
			telemetry.AttrScriptPath.String(path),
		)

		host := scripting.Host{
			Stories:  caps,
			Loader:   a.store,
			Recorder: a.tel.Metrics,
			Logger:   a.tel.Logger.WithScript(engine, path).Zerolog(),
		}
		e, err := scripting.RunFile(op.Ctx, path, host)
		op.End(err)
		if err != nil {
			op.Logger.WithError(err).Error("Script failed")
			return fmt.Errorf("script %s: %w", path, err)
		}

		a.scripts.Add(e)
		op.Logger.WithScript(engine, path).
			WithField("stories", len(e.Keys())).
			WithField("duration", op.Timer.Duration().String()).
			Info("Script loaded")
	}
	return nil
}

func scriptEngineName(path string) string {
	if name, ok := scripting.EngineName(path); ok {
		return name
	}
	return "unknown"
}

// Close releases everything newApp opened.
func (a *app) Close(ctx context.Context) {
	if a.scripts != nil {
		a.scripts.Close()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("Failed to close asset store")
		}
	}
	if a.writer != nil {
		a.writer.Close()
	}
	if a.journal != nil {
		if a.session != nil {
			if err := a.journal.EndSession(ctx, a.session.ID); err != nil {
				a.logger.Warn().Err(err).Msg("Failed to end journal session")
			}
		}
		if err := a.journal.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("Failed to close journal")
		}
	}
	if err := a.tel.Shutdown(ctx); err != nil {
		a.logger.Warn().Err(err).Msg("Failed to shut down telemetry")
	}
}
