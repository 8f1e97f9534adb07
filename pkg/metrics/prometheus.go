// Package metrics exposes run metrics in the Prometheus format, either
// served on /metrics or written as a node_exporter textfile.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/waftester/zapgate/pkg/coordinator"
	"github.com/waftester/zapgate/pkg/defaults"
	"github.com/waftester/zapgate/pkg/duration"
	"github.com/waftester/zapgate/pkg/finding"
)

// Compile-time interface check.
var _ coordinator.Observer = (*Recorder)(nil)

const namespace = defaults.ToolName

// Recorder turns coordinator events into Prometheus metrics held in a
// private registry.
type Recorder struct {
	registry *prometheus.Registry
	logger   *slog.Logger

	phaseDuration *prometheus.GaugeVec
	phaseTotal    *prometheus.CounterVec
	jobProgress   *prometheus.GaugeVec
	jobPolls      *prometheus.CounterVec
	alerts        *prometheus.GaugeVec
	spiderURLs    prometheus.Gauge
	verdictPass   prometheus.Gauge
	runDuration   prometheus.Gauge
	runInfo       *prometheus.GaugeVec

	mu     sync.Mutex
	server *http.Server
	addr   string
	closed bool
}

// NewRecorder creates a Recorder with every metric registered.
func NewRecorder(logger *slog.Logger) (*Recorder, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		logger:   logger,
	}
	if err := r.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}
	return r, nil
}

func (r *Recorder) initMetrics() error {
	r.phaseDuration = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "phase_duration_seconds",
		Help:      "Wall time spent in each run phase",
	}, []string{"phase"})

	r.phaseTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "phase_total",
		Help:      "Phases finished, by terminal state",
	}, []string{"phase", "state"})

	r.jobProgress = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "job_progress_percent",
		Help:      "Last progress reading of a scan job",
	}, []string{"phase"})

	r.jobPolls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "job_polls_total",
		Help:      "Status polls issued per scan job",
	}, []string{"phase"})

	r.alerts = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "alerts",
		Help:      "Alerts reported by the engine, by risk level",
	}, []string{"severity"})

	r.spiderURLs = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "spider_urls",
		Help:      "URLs discovered by the spider",
	})

	r.verdictPass = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "verdict_pass",
		Help:      "1 when all alert counts were within thresholds",
	})

	r.runDuration = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "run_duration_seconds",
		Help:      "Total run duration",
	})

	r.runInfo = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "run_info",
		Help:      "Run metadata; always 1",
	}, []string{"run_id", "target", "engine_version"})

	collectors := []prometheus.Collector{
		r.phaseDuration, r.phaseTotal, r.jobProgress, r.jobPolls,
		r.alerts, r.spiderURLs, r.verdictPass, r.runDuration, r.runInfo,
	}
	for _, c := range collectors {
		if err := r.registry.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Registry returns the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// Handler serves the registry in the exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// OnEvent updates metrics from a coordinator event.
func (r *Recorder) OnEvent(_ context.Context, event coordinator.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}

	switch e := event.(type) {
	case *coordinator.ProgressEvent:
		r.jobProgress.WithLabelValues(string(e.Phase)).Set(float64(e.Percent))
	case *coordinator.PhaseEndEvent:
		phase := string(e.Phase)
		r.phaseDuration.WithLabelValues(phase).Set(e.Elapsed.Seconds())
		r.phaseTotal.WithLabelValues(phase, string(e.State)).Inc()
		if e.Polls > 0 && (e.Phase == coordinator.PhaseSpider || e.Phase == coordinator.PhaseActiveScan) {
			r.jobPolls.WithLabelValues(phase).Add(float64(e.Polls))
		}
	case *coordinator.RunCompleteEvent:
		r.handleComplete(e)
	}
	return nil
}

func (r *Recorder) handleComplete(e *coordinator.RunCompleteEvent) {
	res := e.Result
	if res == nil {
		return
	}
	r.runDuration.Set(res.Duration.Seconds())
	r.spiderURLs.Set(float64(res.SpiderURLs))
	r.runInfo.WithLabelValues(res.RunID.String(), res.Target, res.EngineVersion).Set(1)

	if res.Verdict == nil {
		r.verdictPass.Set(0)
		return
	}
	for _, s := range append(finding.Known(), finding.Unknown) {
		r.alerts.WithLabelValues(s.Label()).Set(float64(res.Verdict.Counts.Of(s)))
	}
	if res.Verdict.Pass {
		r.verdictPass.Set(1)
	} else {
		r.verdictPass.Set(0)
	}
}

// Serve starts an HTTP server exposing /metrics on addr (e.g. ":9090").
// The listener is bound before Serve returns so address errors surface here.
func (r *Recorder) Serve(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", r.Handler())
	srv := &http.Server{
		Handler:      mux,
		ReadTimeout:  duration.MetricsShutdown,
		WriteTimeout: duration.MetricsWrite,
	}

	r.mu.Lock()
	r.server = srv
	r.addr = ln.Addr().String()
	r.mu.Unlock()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Error("metrics server error", slog.String("error", err.Error()))
		}
	}()
	r.logger.Info("serving metrics", slog.String("addr", r.MetricsAddr()))
	return nil
}

// MetricsAddr returns the URL metrics are served on, or "" before Serve.
func (r *Recorder) MetricsAddr() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.addr == "" {
		return ""
	}
	host, port, err := net.SplitHostPort(r.addr)
	if err != nil || host == "" || host == "::" || host == "0.0.0.0" {
		host = "localhost"
	}
	return fmt.Sprintf("http://%s/metrics", net.JoinHostPort(host, port))
}

// WriteTextfile writes the current metrics to path in the text format
// read by node_exporter's textfile collector.
func (r *Recorder) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}

// Close shuts down the metrics server, if running.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	if r.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), duration.MetricsShutdown)
	defer cancel()
	return r.server.Shutdown(ctx)
}
