package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for the story runtime. A Metrics built
// from a disabled config records nothing.
type Metrics struct {
	config MetricsConfig

	// Story lifecycle
	storiesTracked  prometheus.Gauge
	storiesPending  prometheus.Gauge
	storiesLoaded   prometheus.Counter
	storiesReloaded prometheus.Counter
	parseFailures   *prometheus.CounterVec
	pendingDropped  prometheus.Counter
	tickDuration    prometheus.Histogram

	// Consumers
	consumerCalls *prometheus.CounterVec

	// Scripts
	scriptRuns     *prometheus.CounterVec
	scriptDuration *prometheus.HistogramVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		storiesTracked: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stories_tracked",
			Help:      "Current number of tracked story keys",
		}),
		storiesPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stories_pending",
			Help:      "Current number of story keys awaiting their first load",
		}),
		storiesLoaded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stories_loaded_total",
			Help:      "Total number of successful first loads",
		}),
		storiesReloaded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stories_reloaded_total",
			Help:      "Total number of successful hot reloads",
		}),
		parseFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "story_parse_failures_total",
				Help:      "Total number of story parse failures",
			},
			[]string{"phase"},
		),
		pendingDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stories_dropped_total",
			Help:      "Total number of pending keys dropped before their content arrived",
		}),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tick_duration_seconds",
			Help:      "Duration of runtime ticks in seconds",
			Buckets:   buckets,
		}),
		consumerCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "consumer_calls_total",
				Help:      "Total number of story consumer calls",
			},
			[]string{"operation", "result"},
		),
		scriptRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "script_runs_total",
				Help:      "Total number of script executions",
			},
			[]string{"engine", "result"},
		),
		scriptDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "script_duration_seconds",
				Help:      "Duration of script executions in seconds",
				Buckets:   buckets,
			},
			[]string{"engine"},
		),
	}

	registry.MustRegister(
		m.storiesTracked,
		m.storiesPending,
		m.storiesLoaded,
		m.storiesReloaded,
		m.parseFailures,
		m.pendingDropped,
		m.tickDuration,
		m.consumerCalls,
		m.scriptRuns,
		m.scriptDuration,
	)

	return m, nil
}

// RecordLoaded counts a successful first load.
func (m *Metrics) RecordLoaded() {
	if m.storiesLoaded == nil {
		return
	}
	m.storiesLoaded.Inc()
}

// RecordReloaded counts a successful hot reload.
func (m *Metrics) RecordReloaded() {
	if m.storiesReloaded == nil {
		return
	}
	m.storiesReloaded.Inc()
}

// RecordParseFailure counts a parse failure during a first load or a reload.
func (m *Metrics) RecordParseFailure(reload bool) {
	if m.parseFailures == nil {
		return
	}
	phase := "load"
	if reload {
		phase = "reload"
	}
	m.parseFailures.WithLabelValues(phase).Inc()
}

// RecordDropped counts a pending key dropped before its content arrived.
func (m *Metrics) RecordDropped() {
	if m.pendingDropped == nil {
		return
	}
	m.pendingDropped.Inc()
}

// RecordTick records the gauges and duration of one runtime tick.
func (m *Metrics) RecordTick(tracked, pending int, duration time.Duration) {
	if m.tickDuration == nil {
		return
	}
	m.storiesTracked.Set(float64(tracked))
	m.storiesPending.Set(float64(pending))
	m.tickDuration.Observe(duration.Seconds())
}

// RecordConsumerCall counts a consumer call by operation and result.
func (m *Metrics) RecordConsumerCall(operation, result string) {
	if m.consumerCalls == nil {
		return
	}
	m.consumerCalls.WithLabelValues(operation, result).Inc()
}

// RecordScriptRun records a script execution.
func (m *Metrics) RecordScriptRun(engine string, duration time.Duration, err error) {
	if m.scriptRuns == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.scriptRuns.WithLabelValues(engine, result).Inc()
	m.scriptDuration.WithLabelValues(engine).Observe(duration.Seconds())
}

// Registry returns the private registry, or nil when metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Serve exposes the metrics endpoint until ctx is done.
func (m *Metrics) Serve(ctx context.Context) error {
	if !m.config.Enabled {
		return nil
	}

	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}
