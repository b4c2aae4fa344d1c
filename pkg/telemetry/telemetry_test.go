package telemetry

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/openfroyo/inkhost/pkg/assets"
	"github.com/openfroyo/inkhost/pkg/stories"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"default", func(*Config) {}, false},
		{"missing service name", func(c *Config) { c.ServiceName = "" }, true},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, true},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }, true},
		{"bad exporter", func(c *Config) {
			c.Tracing.Enabled = true
			c.Tracing.Exporter = "jaeger"
		}, true},
		{"sampling out of range", func(c *Config) { c.Tracing.SamplingRate = 1.5 }, true},
		{"metrics without address", func(c *Config) { c.Metrics.ListenAddress = "" }, true},
		{"zero event buffer", func(c *Config) { c.Events.BufferSize = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLogger_JSONFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerTo(&buf, LoggingConfig{Level: "debug", Format: "json"})

	logger.NewComponentLogger("poller").WithStory(3, "intro.ink").Info("Story loaded")

	out := buf.String()
	for _, want := range []string{`"component":"poller"`, `"story_key":3`, `"story_path":"intro.ink"`, `"message":"Story loaded"`} {
		if !strings.Contains(out, want) {
			t.Errorf("log output %s missing %s", out, want)
		}
	}
}

func TestLogger_Level(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerTo(&buf, LoggingConfig{Level: "warn", Format: "json"})

	logger.Info("hidden")
	logger.Warn("shown")

	if strings.Contains(buf.String(), "hidden") {
		t.Error("info message logged at warn level")
	}
	if !strings.Contains(buf.String(), "shown") {
		t.Error("warn message missing")
	}
}

func TestLogger_Context(t *testing.T) {
	logger := NewLoggerTo(&bytes.Buffer{}, LoggingConfig{Level: "info", Format: "json"})
	ctx := logger.WithContext(context.Background())
	if FromContext(ctx) != logger {
		t.Error("FromContext() did not return the stored logger")
	}
	if FromContext(context.Background()) == nil {
		t.Error("FromContext() returned nil without a logger")
	}
}

func newTestMetrics(t *testing.T) *Metrics {
	t.Helper()
	cfg := DefaultConfig().Metrics
	m, err := NewMetrics(cfg)
	if err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}
	return m
}

func TestMetrics_DisabledIsNoop(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{Enabled: false})
	if err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}

	m.RecordLoaded()
	m.RecordReloaded()
	m.RecordParseFailure(true)
	m.RecordDropped()
	m.RecordTick(1, 1, time.Millisecond)
	m.RecordConsumerCall("advance", "ok")
	m.RecordScriptRun("lua", time.Millisecond, nil)

	if m.Registry() != nil {
		t.Error("disabled metrics have a registry")
	}
	if err := m.Serve(context.Background()); err != nil {
		t.Errorf("Serve() on disabled metrics error = %v", err)
	}
}

func TestStoryObserver(t *testing.T) {
	m := newTestMetrics(t)
	ep, err := NewEventPublisher(EventsConfig{Enabled: true, BufferSize: 10})
	if err != nil {
		t.Fatalf("NewEventPublisher() error = %v", err)
	}

	var events []Event
	ep.Subscribe(func(e Event) { events = append(events, e) }, nil)

	obs := NewStoryObserver(m, ep, func(h assets.Handle) string { return "stories/" + h.String() }, nil)
	h := assets.NewHandle(7)

	obs.StoryLoaded(1, h)
	obs.StoryReloaded(1, h)
	obs.StoryReloaded(2, h)
	obs.ParseFailed(3, h, errors.New("bad divert"), false)
	obs.ParseFailed(1, h, errors.New("bad divert"), true)
	obs.PendingDropped(4)
	obs.TickCompleted(stories.TickStats{Tracked: 5, Pending: 2, Duration: time.Millisecond})

	if got := testutil.ToFloat64(m.storiesLoaded); got != 1 {
		t.Errorf("stories_loaded_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.storiesReloaded); got != 2 {
		t.Errorf("stories_reloaded_total = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.parseFailures.WithLabelValues("reload")); got != 1 {
		t.Errorf("reload parse failures = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.pendingDropped); got != 1 {
		t.Errorf("stories_dropped_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.storiesTracked); got != 5 {
		t.Errorf("stories_tracked = %v, want 5", got)
	}

	if len(events) != 6 {
		t.Fatalf("got %d events, want 6", len(events))
	}
	if events[0].Type != EventTypeStoryLoaded || events[0].Asset != "stories/asset#7" {
		t.Errorf("first event = %+v", events[0])
	}
	if events[0].ID == "" || events[0].Timestamp.IsZero() {
		t.Error("published event missing id or timestamp")
	}
	if events[4].Source != "reloader" || events[4].Level != EventLevelError {
		t.Errorf("reload failure event = %+v", events[4])
	}
}

type fakeCaps struct {
	stories.Capabilities
}

func (fakeCaps) Advance(key stories.Key) (string, error) {
	if key == 1 {
		return "Hello.\n", nil
	}
	return "", &stories.Error{Kind: stories.KindNotLoaded, Key: key, Op: "advance"}
}

func TestInstrumentStories(t *testing.T) {
	m := newTestMetrics(t)
	caps := InstrumentStories(fakeCaps{}, m)

	if _, err := caps.Advance(1); err != nil {
		t.Fatalf("Advance() error = %v", err)
	}
	if _, err := caps.Advance(2); !stories.IsNotLoaded(err) {
		t.Fatalf("Advance() error = %v, want not loaded", err)
	}

	if got := testutil.ToFloat64(m.consumerCalls.WithLabelValues("advance", "ok")); got != 1 {
		t.Errorf("ok calls = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.consumerCalls.WithLabelValues("advance", "not_loaded")); got != 1 {
		t.Errorf("not_loaded calls = %v, want 1", got)
	}
}

func TestEventPublisher_SubscriberFilter(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{Enabled: true, BufferSize: 10})
	if err != nil {
		t.Fatalf("NewEventPublisher() error = %v", err)
	}

	var all, problems []Event
	ep.Subscribe(func(e Event) { all = append(all, e) }, nil)
	ep.Subscribe(func(e Event) { problems = append(problems, e) }, FilterByLevel(EventLevelWarning))

	_ = ep.PublishStoryLoaded(1, "a.ink")
	_ = ep.PublishStoryReloaded(1, "a.ink")
	_ = ep.PublishStoryDropped(2)
	_ = ep.PublishParseFailed(3, "b.ink", "oops", true)

	if len(all) != 4 {
		t.Errorf("unfiltered subscriber got %d events, want 4", len(all))
	}
	if len(problems) != 2 || problems[0].Type != EventTypeStoryDropped || problems[1].Type != EventTypeStoryParseFailed {
		t.Errorf("warning subscriber got %+v", problems)
	}
}

func TestLogEvents(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerTo(&buf, LoggingConfig{Level: "info", Format: "json"}).NewComponentLogger("events")

	ep, err := NewEventPublisher(EventsConfig{Enabled: true, BufferSize: 10})
	if err != nil {
		t.Fatalf("NewEventPublisher() error = %v", err)
	}
	ep.Subscribe(LogEvents(logger), nil)

	_ = ep.PublishStoryLoaded(1, "intro.ink")
	_ = ep.PublishParseFailed(1, "intro.ink", "unknown divert target", true)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d log lines, want 2:\n%s", len(lines), buf.String())
	}
	for _, want := range []string{`"level":"info"`, `"component":"events"`, `"event":"story.loaded"`, `"story_path":"intro.ink"`} {
		if !strings.Contains(lines[0], want) {
			t.Errorf("load line %s missing %s", lines[0], want)
		}
	}
	for _, want := range []string{`"level":"error"`, `"event":"story.parse_failed"`, "unknown divert target"} {
		if !strings.Contains(lines[1], want) {
			t.Errorf("failure line %s missing %s", lines[1], want)
		}
	}
}

func TestStoryObserver_LogsPublishErrors(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerTo(&buf, LoggingConfig{Level: "info", Format: "json"})

	ep, err := NewEventPublisher(EventsConfig{Enabled: true, EnableAsync: true, BufferSize: 1, MaxBatchSize: 1})
	if err != nil {
		t.Fatalf("NewEventPublisher() error = %v", err)
	}
	if err := ep.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	obs := NewStoryObserver(nil, ep, nil, logger)
	obs.StoryReloaded(4, assets.NewHandle(1))

	out := buf.String()
	if !strings.Contains(out, "Failed to publish story event") || !strings.Contains(out, `"story_key":4`) {
		t.Errorf("publish failure not logged: %s", out)
	}
}

func TestEventPublisher_AsyncShutdownDelivers(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{
		Enabled:       true,
		EnableAsync:   true,
		BufferSize:    10,
		MaxBatchSize:  100,
		FlushInterval: time.Hour,
	})
	if err != nil {
		t.Fatalf("NewEventPublisher() error = %v", err)
	}

	var mu sync.Mutex
	var got []Event
	ep.Subscribe(func(e Event) {
		mu.Lock()
		got = append(got, e)
		mu.Unlock()
	}, nil)

	for i := uint64(1); i <= 3; i++ {
		if err := ep.PublishStoryLoaded(i, "a.ink"); err != nil {
			t.Fatalf("Publish() error = %v", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := ep.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 3 {
		t.Errorf("delivered %d events, want 3", len(got))
	}
	if err := ep.PublishStoryLoaded(9, "a.ink"); err == nil {
		t.Error("Publish() after Shutdown expected error")
	}
}

func TestStartOperation_WithoutTelemetry(t *testing.T) {
	op := StartOperation(context.Background(), "script.exec")
	if op.Logger == nil || op.Timer == nil || op.Span == nil {
		t.Fatalf("StartOperation() = %+v", op)
	}
	op.End(errors.New("boom"))
}

func TestNewTelemetry(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Metrics.Enabled = false
	cfg.Tracing.Enabled = true
	cfg.Tracing.Exporter = "none"

	tel, err := NewTelemetry(cfg)
	if err != nil {
		t.Fatalf("NewTelemetry() error = %v", err)
	}

	ctx := tel.WithContext(context.Background())
	if FromTelemetryContext(ctx) != tel {
		t.Error("FromTelemetryContext() did not return the stored telemetry")
	}

	op := StartOperation(ctx, "script.exec", AttrScriptEngine.String("lua"))
	if TraceID(op.Ctx) == "" {
		t.Error("operation context has no trace id")
	}
	op.End(nil)

	if err := tel.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
}
