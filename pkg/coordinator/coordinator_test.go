package coordinator

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waftester/zapgate/pkg/config"
	"github.com/waftester/zapgate/pkg/finding"
	"github.com/waftester/zapgate/pkg/iohelper"
	"github.com/waftester/zapgate/pkg/job"
	"github.com/waftester/zapgate/pkg/report"
	"github.com/waftester/zapgate/pkg/verdict"
	"github.com/waftester/zapgate/pkg/zap"
	"github.com/waftester/zapgate/pkg/zap/zaptest"
)

type fakeClock struct {
	mu     sync.Mutex
	t      time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
	c.t = c.t.Add(d)
	return nil
}

func (c *fakeClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{
		ZAPProxy:  "http://zap.local:8080",
		TargetURL: "http://target.local",
		Context: config.ContextConfig{
			Name:    "webapp",
			Include: []string{"http://target.local/.*", "http://target.local/api/.*"},
			Exclude: []string{".*logout.*"},
		},
		Spider:     config.SpiderConfig{MaxChildren: 10},
		Thresholds: verdict.Thresholds{High: 0, Medium: 5, Low: 10},
		Reports: config.ReportsConfig{
			OutputDir: filepath.Join(t.TempDir(), "reports"),
			Formats:   report.Formats(),
		},
		Polling: config.PollingConfig{
			ReadinessTimeout:  config.Duration(200 * time.Millisecond),
			ReadinessInterval: config.Duration(5 * time.Millisecond),
		},
	}
	cfg.ApplyDefaults()
	return cfg
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestCoordinator(t *testing.T, f *zaptest.Fake, cfg *config.Config, opts ...Option) (*Coordinator, *fakeClock) {
	t.Helper()
	clk := newFakeClock()
	opts = append([]Option{WithLogger(quietLogger()), WithClock(clk)}, opts...)
	return New(f, cfg, opts...), clk
}

func phaseStates(res *Result) map[Phase]job.State {
	out := make(map[Phase]job.State, len(res.Phases))
	for _, p := range res.Phases {
		out[p.Phase] = p.State
	}
	return out
}

func TestRun_PassingScan(t *testing.T) {
	f := &zaptest.Fake{
		ContextID:          "7",
		SpiderProgress:     []int{0, 50, 100},
		SpiderURLs:         []string{"http://target.local/", "http://target.local/login"},
		ActiveScanProgress: []int{20, 100},
		AlertSet:           zaptest.Alerts("Medium", "Medium", "Low", "Informational"),
		Reports:            map[report.Format]string{report.HTML: "<html>r</html>"},
	}
	cfg := testConfig(t)
	c, clk := newTestCoordinator(t, f, cfg)

	res, err := c.Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, res.Verdict)
	assert.True(t, res.Verdict.Pass)
	assert.True(t, res.Passed())
	assert.Equal(t, 0, res.Verdict.ExitCode())

	assert.Equal(t, []string{
		zaptest.MethodVersion,
		zaptest.MethodNewContext,
		zaptest.MethodInclude, zaptest.MethodInclude,
		zaptest.MethodExclude,
		zaptest.MethodStartSpider,
		zaptest.MethodSpiderStatus, zaptest.MethodSpiderStatus, zaptest.MethodSpiderStatus,
		zaptest.MethodSpiderResults,
		zaptest.MethodStartActiveScan,
		zaptest.MethodActiveScanStatus, zaptest.MethodActiveScanStatus,
		zaptest.MethodReport, zaptest.MethodReport, zaptest.MethodReport,
		zaptest.MethodAlerts,
	}, f.Methods())

	calls := f.Calls()
	assert.Equal(t, []string{"webapp", "http://target.local/.*"}, calls[2].Args)
	assert.Equal(t, []string{"webapp", "http://target.local/api/.*"}, calls[3].Args)
	assert.Equal(t, []string{"webapp", ".*logout.*"}, calls[4].Args)

	sp := f.SpiderRequests()
	require.Len(t, sp, 1)
	assert.Equal(t, zap.SpiderRequest{URL: "http://target.local", MaxChildren: 10, Recurse: true, ContextName: "webapp"}, sp[0])
	as := f.ActiveScanRequests()
	require.Len(t, as, 1)
	assert.Equal(t, "7", as[0].ContextID)

	assert.Equal(t, "2.15.0", res.EngineVersion)
	assert.Equal(t, "7", res.ContextID)
	assert.Equal(t, 2, res.SpiderURLs)
	assert.Equal(t, 4, res.Alerts)
	assert.Len(t, res.Phases, len(Phases()))
	for _, p := range res.Phases {
		assert.Equal(t, job.Completed, p.State, p.Phase)
	}

	// spider 5s x2, active scan 10s x1, settle 10s.
	assert.Equal(t, []time.Duration{5 * time.Second, 5 * time.Second, 10 * time.Second, 10 * time.Second}, clk.Sleeps())

	require.Len(t, res.Reports, 3)
	html, err := os.ReadFile(filepath.Join(cfg.Reports.OutputDir, "security-report.html"))
	require.NoError(t, err)
	assert.Equal(t, "<html>r</html>", string(html))
	for _, name := range []string{"security-report.xml", "security-report.json", "security-summary.md"} {
		assert.FileExists(t, filepath.Join(cfg.Reports.OutputDir, name))
	}
	assert.Equal(t, filepath.Join(cfg.Reports.OutputDir, "security-summary.md"), res.Summary)
}

func TestRun_ThresholdExceeded(t *testing.T) {
	risks := append(zaptest.Repeat("Medium", 3), zaptest.Repeat("Low", 12)...)
	f := &zaptest.Fake{AlertSet: zaptest.Alerts(risks...)}
	c, _ := newTestCoordinator(t, f, testConfig(t))

	res, err := c.Run(context.Background())
	require.NoError(t, err, "a failing verdict is not a run error")
	require.NotNil(t, res.Verdict)
	assert.False(t, res.Verdict.Pass)
	assert.Equal(t, 1, res.Verdict.ExitCode())
	assert.Equal(t, 3, res.Verdict.Counts.Of(finding.Medium))
	assert.Equal(t, 12, res.Verdict.Counts.Of(finding.Low))
	require.Len(t, res.Verdict.Failures, 1)
	assert.Contains(t, res.Verdict.Failures[0], "Low")
	assert.Len(t, res.Reports, 3)
}

func TestRun_VerdictFailuresLoggedOnce(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))
	f := &zaptest.Fake{AlertSet: zaptest.Alerts("High")}
	c, _ := newTestCoordinator(t, f, testConfig(t), WithLogger(logger))

	res, err := c.Run(context.Background())
	require.NoError(t, err)
	require.False(t, res.Verdict.Pass)

	out := logs.String()
	assert.Equal(t, 1, strings.Count(out, "exceed threshold"))
	assert.Contains(t, out, "msg=verdict")
	assert.NotContains(t, out, "level=ERROR")
}

func TestRun_WithinThresholds(t *testing.T) {
	risks := append(append(zaptest.Repeat("Medium", 2), zaptest.Repeat("Low", 5)...), "Informational")
	f := &zaptest.Fake{AlertSet: zaptest.Alerts(risks...)}
	c, _ := newTestCoordinator(t, f, testConfig(t))

	res, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Passed())
}

func TestRun_ReadinessFailure(t *testing.T) {
	f := &zaptest.Fake{VersionErr: zap.ErrUnreachable}
	cfg := testConfig(t)
	c, _ := newTestCoordinator(t, f, cfg)

	res, err := c.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConnectivity)
	assert.ErrorIs(t, err, zap.ErrUnreachable)
	assert.Equal(t, KindConnectivity, KindOf(err))

	for _, m := range f.Methods() {
		assert.Equal(t, zaptest.MethodVersion, m)
	}
	assert.Greater(t, f.Count(zaptest.MethodVersion), 1)
	assert.Nil(t, res.Verdict)
	assert.NoDirExists(t, cfg.Reports.OutputDir)
	assert.Equal(t, job.Failed, phaseStates(res)[PhaseReadiness])
}

func TestRun_ReadinessRecovers(t *testing.T) {
	f := &zaptest.Fake{VersionFailures: 2}
	c, _ := newTestCoordinator(t, f, testConfig(t))

	_, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, f.Count(zaptest.MethodVersion))
}

func TestRun_SetupFailureStopsBeforeSpider(t *testing.T) {
	f := &zaptest.Fake{IncludeErr: &zap.APIError{Endpoint: "includeInContext", StatusCode: 400, Code: "illegal_parameter"}}
	cfg := testConfig(t)
	c, _ := newTestCoordinator(t, f, cfg)

	res, err := c.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSetup)
	var pe *PhaseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, PhaseSetup, pe.Phase)

	assert.Equal(t, 1, f.Count(zaptest.MethodInclude))
	assert.Zero(t, f.Count(zaptest.MethodExclude))
	assert.Zero(t, f.Count(zaptest.MethodStartSpider))
	assert.NoDirExists(t, cfg.Reports.OutputDir)
	_, ran := res.Phase(PhaseSpider)
	assert.False(t, ran)
}

func TestRun_NewContextFailure(t *testing.T) {
	f := &zaptest.Fake{NewContextErr: errors.New("context exists")}
	c, _ := newTestCoordinator(t, f, testConfig(t))

	_, err := c.Run(context.Background())
	assert.ErrorIs(t, err, ErrSetup)
	assert.Zero(t, f.Count(zaptest.MethodInclude))
}

func TestRun_ExcludeFailure(t *testing.T) {
	f := &zaptest.Fake{ExcludeErr: errors.New("bad regex")}
	c, _ := newTestCoordinator(t, f, testConfig(t))

	_, err := c.Run(context.Background())
	assert.ErrorIs(t, err, ErrSetup)
	assert.Equal(t, 2, f.Count(zaptest.MethodInclude))
	assert.Zero(t, f.Count(zaptest.MethodStartSpider))
}

func TestRun_SpiderFailureSkipsActiveScan(t *testing.T) {
	f := &zaptest.Fake{SpiderStatusErr: errors.New("does_not_exist")}
	cfg := testConfig(t)
	c, _ := newTestCoordinator(t, f, cfg)

	res, err := c.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrJob)
	assert.NotErrorIs(t, err, ErrCancelled)

	var jobErr *job.Error
	require.ErrorAs(t, err, &jobErr)
	assert.Equal(t, job.Failed, jobErr.State)

	assert.Zero(t, f.Count(zaptest.MethodStartActiveScan))
	assert.Zero(t, f.Count(zaptest.MethodReport))
	assert.Zero(t, f.Count(zaptest.MethodAlerts))
	assert.NoDirExists(t, cfg.Reports.OutputDir)
	assert.Equal(t, job.Failed, phaseStates(res)[PhaseSpider])
}

func TestRun_SpiderStartFailure(t *testing.T) {
	f := &zaptest.Fake{SpiderErr: errors.New("url_not_found")}
	c, _ := newTestCoordinator(t, f, testConfig(t))

	_, err := c.Run(context.Background())
	assert.ErrorIs(t, err, ErrJob)
	assert.Zero(t, f.Count(zaptest.MethodSpiderStatus))
	assert.Zero(t, f.Count(zaptest.MethodStartActiveScan))
}

func TestRun_SpiderTimeout(t *testing.T) {
	f := &zaptest.Fake{SpiderProgress: []int{10}}
	cfg := testConfig(t)
	cfg.Polling.SpiderMaxDuration = config.Duration(time.Minute)
	c, _ := newTestCoordinator(t, f, cfg)

	_, err := c.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrJob)
	assert.ErrorIs(t, err, job.ErrTimeout)
	// Polls at 0,5,...,60; waiting past 60s is refused.
	assert.Equal(t, 13, f.Count(zaptest.MethodSpiderStatus))
	assert.Zero(t, f.Count(zaptest.MethodStartActiveScan))
}

func TestRun_SpiderResultsFailureIsNotFatal(t *testing.T) {
	f := &zaptest.Fake{SpiderURLsErr: errors.New("boom")}
	c, _ := newTestCoordinator(t, f, testConfig(t))

	res, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.SpiderURLs)
	assert.Equal(t, 1, f.Count(zaptest.MethodStartActiveScan))
}

func TestRun_ActiveScanFailure(t *testing.T) {
	f := &zaptest.Fake{ActiveScanStatusErr: errors.New("scanner crashed")}
	cfg := testConfig(t)
	c, _ := newTestCoordinator(t, f, cfg)

	_, err := c.Run(context.Background())
	var pe *PhaseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, PhaseActiveScan, pe.Phase)
	assert.Equal(t, KindJob, pe.Kind)
	assert.Zero(t, f.Count(zaptest.MethodReport))
	assert.NoDirExists(t, cfg.Reports.OutputDir)
}

func TestRun_CancelledDuringActiveScan(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f := &zaptest.Fake{ActiveScanProgress: []int{10, 20, 100}}
	f.Hook = func(method string) {
		if method == zaptest.MethodActiveScanStatus {
			cancel()
		}
	}
	cfg := testConfig(t)
	c, _ := newTestCoordinator(t, f, cfg)

	res, err := c.Run(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCancelled)
	assert.NotErrorIs(t, err, ErrJob)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, KindCancelled, KindOf(err))

	assert.Equal(t, 1, f.Count(zaptest.MethodActiveScanStatus))
	assert.Zero(t, f.Count(zaptest.MethodReport))
	assert.NoDirExists(t, cfg.Reports.OutputDir)
	assert.Equal(t, job.Cancelled, phaseStates(res)[PhaseActiveScan])
}

func TestRun_CancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f := &zaptest.Fake{}
	c, _ := newTestCoordinator(t, f, testConfig(t))

	_, err := c.Run(ctx)
	assert.ErrorIs(t, err, ErrCancelled)
	assert.Empty(t, f.Methods())
}

func TestRun_CancelledDuringSetup(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f := &zaptest.Fake{IncludeErr: context.Canceled}
	f.Hook = func(method string) {
		if method == zaptest.MethodInclude {
			cancel()
		}
	}
	c, _ := newTestCoordinator(t, f, testConfig(t))

	_, err := c.Run(ctx)
	assert.ErrorIs(t, err, ErrCancelled)
	assert.NotErrorIs(t, err, ErrSetup)
}

func TestRun_ReportFetchFailure(t *testing.T) {
	f := &zaptest.Fake{ReportErrs: map[report.Format]error{report.XML: errors.New("render failed")}}
	c, _ := newTestCoordinator(t, f, testConfig(t))

	res, err := c.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrReport)
	assert.Contains(t, err.Error(), "XML")
	assert.Zero(t, f.Count(zaptest.MethodAlerts))
	assert.Nil(t, res.Verdict)
	assert.Empty(t, res.Reports)
}

func TestRun_ReportFailureRemovesEarlierFormats(t *testing.T) {
	cfg := testConfig(t)
	cfg.Reports.Formats = []report.Format{report.HTML, report.XML, report.JSON}
	f := &zaptest.Fake{ReportErrs: map[report.Format]error{report.XML: errors.New("render failed")}}
	c, _ := newTestCoordinator(t, f, cfg)

	_, err := c.Run(context.Background())
	require.ErrorIs(t, err, ErrReport)

	entries, err := os.ReadDir(cfg.Reports.OutputDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "no partial report set is left behind")
}

func TestRun_OutputDirUnusable(t *testing.T) {
	cfg := testConfig(t)
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))
	cfg.Reports.OutputDir = blocker

	f := &zaptest.Fake{}
	c, _ := newTestCoordinator(t, f, cfg)

	_, err := c.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrReport)
	assert.ErrorIs(t, err, report.ErrOutputDir)
	assert.Zero(t, f.Count(zaptest.MethodReport))
}

func TestRun_AlertsFailure(t *testing.T) {
	f := &zaptest.Fake{AlertsErr: errors.New("timeout")}
	c, _ := newTestCoordinator(t, f, testConfig(t))

	res, err := c.Run(context.Background())
	var pe *PhaseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, PhaseAlerts, pe.Phase)
	assert.Equal(t, KindReport, pe.Kind)
	assert.Nil(t, res.Verdict)
}

func TestRun_UnknownSeverityWarnsButPasses(t *testing.T) {
	f := &zaptest.Fake{AlertSet: zaptest.Alerts("Critical", "Low")}
	c, _ := newTestCoordinator(t, f, testConfig(t))

	res, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Passed())
	assert.Equal(t, 1, res.Verdict.Counts.Of(finding.Unknown))
	assert.Equal(t, 2, res.Verdict.Counts.Total())
	assert.NotEmpty(t, res.Verdict.Warnings)
}

func TestRun_SummaryDisabled(t *testing.T) {
	cfg := testConfig(t)
	off := false
	cfg.Reports.Summary = &off
	c, _ := newTestCoordinator(t, &zaptest.Fake{}, cfg)

	res, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, res.Summary)
	assert.NoFileExists(t, filepath.Join(cfg.Reports.OutputDir, "security-summary.md"))
}

func TestRun_RecurseFlags(t *testing.T) {
	cfg := testConfig(t)
	off := false
	cfg.Spider.Recurse = &off
	cfg.ActiveScan.Recurse = &off
	f := &zaptest.Fake{}
	c, _ := newTestCoordinator(t, f, cfg)

	_, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.False(t, f.SpiderRequests()[0].Recurse)
	assert.False(t, f.ActiveScanRequests()[0].Recurse)
}

func TestRun_ObserverEvents(t *testing.T) {
	var mu sync.Mutex
	var types []EventType
	var progress []int
	obs := ObserverFunc(func(_ context.Context, e Event) error {
		mu.Lock()
		defer mu.Unlock()
		types = append(types, e.Type())
		if p, ok := e.(*ProgressEvent); ok && p.Phase == PhaseSpider {
			progress = append(progress, p.Percent)
		}
		return errors.New("observer errors are ignored")
	})

	id := uuid.MustParse("6f1c1b5e-0d7a-4d4c-9e0f-0a9b7d1f2c3e")
	f := &zaptest.Fake{SpiderProgress: []int{40, 100}}
	c, _ := newTestCoordinator(t, f, testConfig(t), WithObserver(obs), WithRunID(id))

	res, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, id, res.RunID)

	require.NotEmpty(t, types)
	assert.Equal(t, EventRunStart, types[0])
	assert.Equal(t, EventRunComplete, types[len(types)-1])
	assert.Equal(t, []int{40, 100}, progress)

	starts, ends := 0, 0
	for _, ty := range types {
		switch ty {
		case EventPhaseStart:
			starts++
		case EventPhaseEnd:
			ends++
		}
	}
	assert.Equal(t, len(Phases()), starts)
	assert.Equal(t, len(Phases()), ends)
}

func TestRun_GeneratesRunID(t *testing.T) {
	c, _ := newTestCoordinator(t, &zaptest.Fake{}, testConfig(t))
	res, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, res.RunID)
}

func TestRun_AgainstHTTPEngine(t *testing.T) {
	f := &zaptest.Fake{
		ContextID:          "2",
		SpiderProgress:     []int{50, 100},
		ActiveScanProgress: []int{100},
		AlertSet:           zaptest.Alerts("High"),
	}
	srv := zaptest.NewEngine(t, f, "k")
	client, err := zap.New(zap.Options{BaseURL: srv.URL, APIKey: "k", Logger: quietLogger()})
	require.NoError(t, err)

	cfg := testConfig(t)
	clk := newFakeClock()
	res, err := New(client, cfg, WithLogger(quietLogger()), WithClock(clk)).Run(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Passed())
	assert.Equal(t, 1, res.Verdict.Counts.Of(finding.High))
	assert.Equal(t, "2", f.ActiveScanRequests()[0].ContextID)
}

func TestRun_OversizedReportFailsTheRun(t *testing.T) {
	f := &zaptest.Fake{
		SpiderProgress:     []int{100},
		ActiveScanProgress: []int{100},
		Reports:            map[report.Format]string{report.HTML: "<html>" + strings.Repeat("x", 64) + "</html>"},
	}
	srv := zaptest.NewEngine(t, f, "k")
	client, err := zap.New(zap.Options{BaseURL: srv.URL, APIKey: "k", ReportMaxBytes: 32, Logger: quietLogger()})
	require.NoError(t, err)

	cfg := testConfig(t)
	res, err := New(client, cfg, WithLogger(quietLogger()), WithClock(newFakeClock())).Run(context.Background())
	var pe *PhaseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, KindReport, pe.Kind)
	assert.ErrorIs(t, err, iohelper.ErrBodyTooLarge)
	assert.Empty(t, res.Reports)
	assert.NoFileExists(t, filepath.Join(cfg.Reports.OutputDir, report.HTML.Filename()))
}
