// Package coordinator drives one scan run against the engine: readiness,
// context setup, spider, active scan, passive settle, reports and verdict.
//
// Phases run strictly in that order. A phase that does not complete aborts
// the run, and no report is written after a failed phase.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/waftester/zapgate/pkg/config"
	"github.com/waftester/zapgate/pkg/finding"
	"github.com/waftester/zapgate/pkg/health"
	"github.com/waftester/zapgate/pkg/job"
	"github.com/waftester/zapgate/pkg/report"
	"github.com/waftester/zapgate/pkg/verdict"
	"github.com/waftester/zapgate/pkg/zap"
)

// Phase names a step of the run.
type Phase string

const (
	PhaseReadiness  Phase = "readiness"
	PhaseSetup      Phase = "context-setup"
	PhaseSpider     Phase = "spider"
	PhaseActiveScan Phase = "active-scan"
	PhaseSettle     Phase = "passive-settle"
	PhaseReports    Phase = "reports"
	PhaseAlerts     Phase = "alerts"
	PhaseVerdict    Phase = "verdict"
)

// Phases lists every phase in execution order.
func Phases() []Phase {
	return []Phase{
		PhaseReadiness, PhaseSetup, PhaseSpider, PhaseActiveScan,
		PhaseSettle, PhaseReports, PhaseAlerts, PhaseVerdict,
	}
}

// Result describes a finished run. Fields past the failing phase stay zero.
type Result struct {
	RunID         uuid.UUID        `json:"run_id"`
	Target        string           `json:"target"`
	EngineVersion string           `json:"engine_version,omitempty"`
	ContextID     string           `json:"context_id,omitempty"`
	SpiderURLs    int              `json:"spider_urls"`
	Reports       []string         `json:"reports,omitempty"`
	Summary       string           `json:"summary,omitempty"`
	Alerts        int              `json:"alerts"`
	Verdict       *verdict.Verdict `json:"verdict,omitempty"`
	Phases        []PhaseResult    `json:"phases"`
	Started       time.Time        `json:"started"`
	Duration      time.Duration    `json:"duration"`
}

// Phase returns the recorded result for p.
func (r *Result) Phase(p Phase) (PhaseResult, bool) {
	for _, pr := range r.Phases {
		if pr.Phase == p {
			return pr, true
		}
	}
	return PhaseResult{}, false
}

// Passed reports whether every phase completed and the verdict passed.
func (r *Result) Passed() bool {
	return r != nil && r.Verdict != nil && r.Verdict.Pass
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger (default: slog.Default()).
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// WithObserver adds lifecycle observers.
func WithObserver(obs ...Observer) Option {
	return func(c *Coordinator) { c.observers = append(c.observers, obs...) }
}

// WithClock replaces the wall clock used for polling and the passive
// settle delay.
func WithClock(clk job.Clock) Option {
	return func(c *Coordinator) { c.clock = clk }
}

// WithRunID fixes the run identifier instead of generating one.
func WithRunID(id uuid.UUID) Option {
	return func(c *Coordinator) { c.runID = id }
}

// Coordinator runs the scan workflow. A Coordinator is single-use.
type Coordinator struct {
	scanner   zap.Scanner
	cfg       *config.Config
	logger    *slog.Logger
	observers []Observer
	clock     job.Clock
	runID     uuid.UUID
	emitter   *report.Emitter
	alerts    []finding.Alert
}

// New returns a Coordinator for cfg backed by scanner.
func New(scanner zap.Scanner, cfg *config.Config, opts ...Option) *Coordinator {
	c := &Coordinator{
		scanner: scanner,
		cfg:     cfg,
		logger:  slog.Default(),
		clock:   job.RealClock{},
	}
	for _, o := range opts {
		o(c)
	}
	if c.runID == uuid.Nil {
		c.runID = uuid.New()
	}
	c.logger = c.logger.With(slog.String("run_id", c.runID.String()))
	c.emitter = report.NewEmitter(cfg.Reports.OutputDir, c.logger)
	return c
}

// Run executes every phase in order. It returns a non-nil Result in all
// cases; err is a *PhaseError when a phase did not complete. A failing
// verdict is not an error: check Result.Verdict.
func (c *Coordinator) Run(ctx context.Context) (*Result, error) {
	res := &Result{
		RunID:   c.runID,
		Target:  c.cfg.TargetURL,
		Started: c.clock.Now(),
	}
	c.emit(ctx, &RunStartEvent{
		baseEvent: c.event(EventRunStart),
		RunID:     c.runID,
		Target:    c.cfg.TargetURL,
		Context:   c.cfg.Context.Name,
	})

	err := c.run(ctx, res)
	res.Duration = c.clock.Now().Sub(res.Started)

	if err != nil {
		c.logger.Error("scan run aborted",
			slog.String("kind", string(KindOf(err))),
			slog.String("error", err.Error()))
	}
	c.emit(ctx, &RunCompleteEvent{baseEvent: c.event(EventRunComplete), Result: res, Err: err})
	return res, err
}

func (c *Coordinator) run(ctx context.Context, res *Result) error {
	steps := []struct {
		phase Phase
		fn    func(context.Context, *Result) (job.Outcome, error)
	}{
		{PhaseReadiness, c.readiness},
		{PhaseSetup, c.setup},
		{PhaseSpider, c.spider},
		{PhaseActiveScan, c.activeScan},
		{PhaseSettle, c.settle},
		{PhaseReports, c.reports},
		{PhaseAlerts, c.fetchAlerts},
		{PhaseVerdict, c.verdict},
	}
	for _, s := range steps {
		if err := c.phase(ctx, res, s.phase, s.fn); err != nil {
			return err
		}
	}
	return nil
}

// phase wraps fn with timing, observer events and the result record.
func (c *Coordinator) phase(ctx context.Context, res *Result, p Phase, fn func(context.Context, *Result) (job.Outcome, error)) error {
	start := c.clock.Now()
	c.emit(ctx, &PhaseStartEvent{baseEvent: c.event(EventPhaseStart), RunID: c.runID, Phase: p})
	c.logger.Debug("phase started", slog.String("phase", string(p)))

	out, err := fn(ctx, res)
	pr := PhaseResult{
		Phase:    p,
		State:    out.State,
		Progress: out.Progress,
		Polls:    out.Polls,
		Elapsed:  c.clock.Now().Sub(start),
		Err:      err,
	}
	if err != nil {
		pr.State = job.Failed
		if KindOf(err) == KindCancelled {
			pr.State = job.Cancelled
		}
	}
	res.Phases = append(res.Phases, pr)
	c.emit(ctx, &PhaseEndEvent{baseEvent: c.event(EventPhaseEnd), RunID: c.runID, PhaseResult: pr})

	if err != nil {
		return err
	}
	c.logger.Debug("phase completed",
		slog.String("phase", string(p)),
		slog.Duration("elapsed", pr.Elapsed))
	return nil
}

func (c *Coordinator) readiness(ctx context.Context, res *Result) (job.Outcome, error) {
	p := c.cfg.Polling
	c.logger.Info("waiting for engine", slog.String("address", c.cfg.ZAPProxy))

	w := health.NewWaiter(func(ctx context.Context) error {
		v, err := c.scanner.Version(ctx)
		if err == nil {
			res.EngineVersion = v
		}
		return err
	}, &health.WaiterConfig{
		Timeout:      p.ReadinessTimeout.D(),
		Interval:     p.ReadinessInterval.D(),
		ProbeTimeout: c.cfg.API.Timeout.D(),
		OnAttempt: func(attempt int, err error) {
			if err != nil {
				c.logger.Debug("engine not ready",
					slog.Int("attempt", attempt),
					slog.String("error", err.Error()))
			}
		},
	})

	wr := w.Wait(ctx)
	if !wr.Success {
		cause := wr.Err
		if errors.Is(cause, health.ErrTimeout) && wr.LastErr != nil {
			cause = fmt.Errorf("%w after %d attempts: %w", health.ErrTimeout, wr.Attempts, wr.LastErr)
		}
		return job.Outcome{}, c.fail(ctx, KindConnectivity, PhaseReadiness, cause)
	}
	c.logger.Info("engine ready",
		slog.String("version", res.EngineVersion),
		slog.Int("attempts", wr.Attempts))
	return job.Outcome{State: job.Completed, Polls: wr.Attempts}, nil
}

// setup creates the context and applies every include then every exclude
// pattern, one call each, stopping at the first failure.
func (c *Coordinator) setup(ctx context.Context, res *Result) (job.Outcome, error) {
	name := c.cfg.Context.Name
	id, err := c.scanner.NewContext(ctx, name)
	if err != nil {
		return job.Outcome{}, c.fail(ctx, KindSetup, PhaseSetup, fmt.Errorf("create context %q: %w", name, err))
	}
	res.ContextID = id
	c.logger.Info("context created", slog.String("context", name), slog.String("context_id", id))

	for _, re := range c.cfg.Context.Include {
		if err := c.scanner.IncludeInContext(ctx, name, re); err != nil {
			return job.Outcome{}, c.fail(ctx, KindSetup, PhaseSetup, fmt.Errorf("include %q: %w", re, err))
		}
	}
	for _, re := range c.cfg.Context.Exclude {
		if err := c.scanner.ExcludeFromContext(ctx, name, re); err != nil {
			return job.Outcome{}, c.fail(ctx, KindSetup, PhaseSetup, fmt.Errorf("exclude %q: %w", re, err))
		}
	}
	c.logger.Info("context scope applied",
		slog.Int("include", len(c.cfg.Context.Include)),
		slog.Int("exclude", len(c.cfg.Context.Exclude)))
	return job.Outcome{State: job.Completed}, nil
}

func (c *Coordinator) spider(ctx context.Context, res *Result) (job.Outcome, error) {
	p := c.cfg.Polling
	c.logger.Info("starting spider", slog.String("target", c.cfg.TargetURL))

	handle, out := job.Run(ctx,
		func(ctx context.Context) (zap.JobHandle, error) {
			return c.scanner.StartSpider(ctx, zap.SpiderRequest{
				URL:         c.cfg.TargetURL,
				MaxChildren: c.cfg.Spider.MaxChildren,
				Recurse:     c.cfg.SpiderRecurse(),
				ContextName: c.cfg.Context.Name,
			})
		},
		c.scanner.SpiderStatus,
		c.jobOptions(ctx, PhaseSpider, p.SpiderInterval.D(), p.SpiderMaxDuration.D()),
	)
	if out.State != job.Completed {
		return out, c.jobError(ctx, PhaseSpider, out)
	}

	urls, err := c.scanner.SpiderResults(ctx, handle)
	if err != nil {
		c.logger.Warn("could not fetch spider results", slog.String("error", err.Error()))
	} else {
		res.SpiderURLs = len(urls)
	}
	c.logger.Info("spider completed", slog.Int("urls", res.SpiderURLs), slog.Int("polls", out.Polls))
	return out, nil
}

func (c *Coordinator) activeScan(ctx context.Context, res *Result) (job.Outcome, error) {
	p := c.cfg.Polling
	c.logger.Info("starting active scan", slog.String("context_id", res.ContextID))

	_, out := job.Run(ctx,
		func(ctx context.Context) (zap.JobHandle, error) {
			return c.scanner.StartActiveScan(ctx, zap.ActiveScanRequest{
				URL:       c.cfg.TargetURL,
				Recurse:   c.cfg.ActiveScanRecurse(),
				ContextID: res.ContextID,
			})
		},
		c.scanner.ActiveScanStatus,
		c.jobOptions(ctx, PhaseActiveScan, p.ActiveScanInterval.D(), p.ActiveScanMaxDuration.D()),
	)
	if out.State != job.Completed {
		return out, c.jobError(ctx, PhaseActiveScan, out)
	}
	c.logger.Info("active scan completed", slog.Int("polls", out.Polls))
	return out, nil
}

func (c *Coordinator) jobOptions(ctx context.Context, p Phase, interval, maxDur time.Duration) job.Options {
	return job.Options{
		Name:        string(p),
		Interval:    interval,
		MaxDuration: maxDur,
		Clock:       c.clock,
		Tracker:     job.NewTracker(string(p)),
		OnProgress: func(pct int) {
			c.logger.Info(string(p)+" progress", slog.Int("percent", pct))
			c.emit(ctx, &ProgressEvent{baseEvent: c.event(EventProgress), RunID: c.runID, Phase: p, Percent: pct})
		},
	}
}

func (c *Coordinator) jobError(ctx context.Context, p Phase, out job.Outcome) error {
	if out.State == job.Cancelled {
		return &PhaseError{Kind: KindCancelled, Phase: p, Err: out.Err}
	}
	return c.fail(ctx, KindJob, p, out.Error())
}

// settle gives passive analysis time to catch up with the active scan.
func (c *Coordinator) settle(ctx context.Context, _ *Result) (job.Outcome, error) {
	d := c.cfg.Polling.PassiveSettle.D()
	c.logger.Info("waiting for passive scan", slog.Duration("delay", d))
	if err := c.clock.Sleep(ctx, d); err != nil {
		return job.Outcome{}, &PhaseError{Kind: KindCancelled, Phase: PhaseSettle, Err: err}
	}
	return job.Outcome{State: job.Completed}, nil
}

func (c *Coordinator) reports(ctx context.Context, res *Result) (job.Outcome, error) {
	if err := c.emitter.Prepare(); err != nil {
		return job.Outcome{}, c.fail(ctx, KindReport, PhaseReports, err)
	}
	for _, f := range c.cfg.Reports.Formats {
		body, err := c.scanner.Report(ctx, f)
		if err != nil {
			return job.Outcome{}, c.discardReports(ctx, res, fmt.Errorf("fetch %s report: %w", f, err))
		}
		path, err := c.emitter.Write(f, body)
		if err != nil {
			return job.Outcome{}, c.discardReports(ctx, res, err)
		}
		res.Reports = append(res.Reports, path)
	}
	return job.Outcome{State: job.Completed}, nil
}

// discardReports removes the formats already written so a failed phase
// leaves no partial report set, then reports err as a Report failure.
func (c *Coordinator) discardReports(ctx context.Context, res *Result, err error) error {
	c.emitter.Discard(res.Reports)
	res.Reports = nil
	return c.fail(ctx, KindReport, PhaseReports, err)
}

// fetchAlerts reads the alert set once. A failure here means the set is
// incomplete, so no verdict is computed.
func (c *Coordinator) fetchAlerts(ctx context.Context, res *Result) (job.Outcome, error) {
	alerts, err := c.scanner.Alerts(ctx)
	if err != nil {
		return job.Outcome{}, c.fail(ctx, KindReport, PhaseAlerts, fmt.Errorf("fetch alerts: %w", err))
	}
	c.alerts = alerts
	res.Alerts = len(alerts)
	return job.Outcome{State: job.Completed}, nil
}

func (c *Coordinator) verdict(_ context.Context, res *Result) (job.Outcome, error) {
	v := verdict.Evaluate(c.alerts, c.cfg.Thresholds)
	res.Verdict = &v

	for _, w := range v.Warnings {
		c.logger.Warn(w)
	}
	c.logger.Info("verdict",
		slog.Bool("pass", v.Pass),
		slog.Any("failures", v.Failures),
		slog.Int("high", v.Counts.Of(finding.High)),
		slog.Int("medium", v.Counts.Of(finding.Medium)),
		slog.Int("low", v.Counts.Of(finding.Low)),
		slog.Int("informational", v.Counts.Of(finding.Informational)),
		slog.Int("unknown", v.Counts.Of(finding.Unknown)))

	if !c.cfg.WriteSummary() {
		return job.Outcome{State: job.Completed}, nil
	}
	path, err := c.emitter.WriteSummary(v, report.SummaryMeta{
		RunID:      c.runID.String(),
		Target:     c.cfg.TargetURL,
		Context:    c.cfg.Context.Name,
		SpiderURLs: res.SpiderURLs,
		Reports:    res.Reports,
		Started:    res.Started,
		Duration:   c.clock.Now().Sub(res.Started),
	})
	if err != nil {
		c.logger.Warn("could not write summary", slog.String("error", err.Error()))
		return job.Outcome{State: job.Completed}, nil
	}
	res.Summary = path
	return job.Outcome{State: job.Completed}, nil
}

// fail builds a PhaseError, reporting cancellation instead of kind when
// ctx has ended.
func (c *Coordinator) fail(ctx context.Context, kind Kind, p Phase, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return &PhaseError{Kind: KindCancelled, Phase: p, Err: ctxErr}
	}
	return &PhaseError{Kind: kind, Phase: p, Err: err}
}

func (c *Coordinator) event(t EventType) baseEvent {
	return baseEvent{typ: t, at: c.clock.Now()}
}

func (c *Coordinator) emit(ctx context.Context, e Event) {
	for _, o := range c.observers {
		if err := o.OnEvent(ctx, e); err != nil {
			c.logger.Debug("observer error",
				slog.String("event", string(e.Type())),
				slog.String("error", err.Error()))
		}
	}
}
