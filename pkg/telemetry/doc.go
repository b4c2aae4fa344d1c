// Package telemetry provides observability for inkhost.
//
// It combines structured logging (zerolog), tracing (OpenTelemetry), metrics
// (Prometheus) and a lifecycle event publisher behind one Telemetry value:
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//		return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	rt, err := stories.New(stories.Options{
//		Source:   store,
//		Logger:   tel.Logger.Zerolog(),
//		Tracer:   tel.Tracer.Trace(),
//		Observer: telemetry.NewStoryObserver(tel.Metrics, tel.Events, nil, tel.Logger),
//	})
//	tel.Events.Subscribe(telemetry.LogEvents(tel.Logger), telemetry.FilterByLevel(telemetry.EventLevelWarning))
//
// StoryObserver turns runtime outcomes into the stories_* counters and
// story.* events. InstrumentStories wraps the consumer capabilities handed to
// scripts so each call is counted by operation and result.
//
// Metrics live in a private registry and are served by Metrics.Serve. Every
// Record method is a no-op when metrics are disabled.
package telemetry
