// Package zaptest provides scripted engine doubles for tests: Fake is an
// in-memory zap.Scanner, and NewEngine serves a Scanner over the engine's
// HTTP API.
package zaptest

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/waftester/zapgate/pkg/finding"
	"github.com/waftester/zapgate/pkg/report"
	"github.com/waftester/zapgate/pkg/zap"
)

var _ zap.Scanner = (*Fake)(nil)

// Method names recorded by Fake.
const (
	MethodVersion          = "Version"
	MethodNewContext       = "NewContext"
	MethodInclude          = "IncludeInContext"
	MethodExclude          = "ExcludeFromContext"
	MethodStartSpider      = "StartSpider"
	MethodSpiderStatus     = "SpiderStatus"
	MethodSpiderResults    = "SpiderResults"
	MethodStartActiveScan  = "StartActiveScan"
	MethodActiveScanStatus = "ActiveScanStatus"
	MethodAlerts           = "Alerts"
	MethodReport           = "Report"
)

// Call is one recorded Scanner invocation.
type Call struct {
	Method string
	Args   []string
}

// Fake is a scripted zap.Scanner. The zero value is a healthy engine whose
// jobs complete on the first poll and which holds no alerts.
type Fake struct {
	EngineVersion string
	// VersionFailures makes the first N Version calls fail.
	VersionFailures int
	VersionErr      error

	ContextID     string
	NewContextErr error
	IncludeErr    error
	ExcludeErr    error

	SpiderErr       error
	SpiderProgress  []int
	SpiderStatusErr error
	SpiderURLs      []string
	SpiderURLsErr   error

	ActiveScanErr       error
	ActiveScanProgress  []int
	ActiveScanStatusErr error

	AlertSet  []finding.Alert
	AlertsErr error

	// Reports maps a format to its payload; missing formats get a stub.
	Reports    map[report.Format]string
	ReportErrs map[report.Format]error

	// Hook runs before every call is served.
	Hook func(method string)

	mu         sync.Mutex
	calls      []Call
	versionN   int
	spiderPos  int
	ascanPos   int
	spiderReqs []zap.SpiderRequest
	ascanReqs  []zap.ActiveScanRequest
}

func (f *Fake) record(method string, args ...string) {
	f.mu.Lock()
	f.calls = append(f.calls, Call{Method: method, Args: args})
	hook := f.Hook
	f.mu.Unlock()
	if hook != nil {
		hook(method)
	}
}

// Calls returns every recorded call in order.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.calls)
}

// Methods returns the recorded method names in order.
func (f *Fake) Methods() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	for i, c := range f.calls {
		out[i] = c.Method
	}
	return out
}

// Count returns how many times method was called.
func (f *Fake) Count(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// SpiderRequests returns the requests passed to StartSpider.
func (f *Fake) SpiderRequests() []zap.SpiderRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.spiderReqs)
}

// ActiveScanRequests returns the requests passed to StartActiveScan.
func (f *Fake) ActiveScanRequests() []zap.ActiveScanRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.ascanReqs)
}

func (f *Fake) Version(ctx context.Context) (string, error) {
	f.record(MethodVersion)
	if err := ctx.Err(); err != nil {
		return "", err
	}
	f.mu.Lock()
	f.versionN++
	n := f.versionN
	f.mu.Unlock()
	if f.VersionErr != nil {
		return "", f.VersionErr
	}
	if n <= f.VersionFailures {
		return "", fmt.Errorf("%w: connection refused", zap.ErrUnreachable)
	}
	if f.EngineVersion == "" {
		return "2.15.0", nil
	}
	return f.EngineVersion, nil
}

func (f *Fake) NewContext(ctx context.Context, name string) (string, error) {
	f.record(MethodNewContext, name)
	if f.NewContextErr != nil {
		return "", f.NewContextErr
	}
	if f.ContextID == "" {
		return "1", nil
	}
	return f.ContextID, nil
}

func (f *Fake) IncludeInContext(ctx context.Context, contextName, regex string) error {
	f.record(MethodInclude, contextName, regex)
	return f.IncludeErr
}

func (f *Fake) ExcludeFromContext(ctx context.Context, contextName, regex string) error {
	f.record(MethodExclude, contextName, regex)
	return f.ExcludeErr
}

func (f *Fake) StartSpider(ctx context.Context, req zap.SpiderRequest) (zap.JobHandle, error) {
	f.record(MethodStartSpider, req.URL)
	f.mu.Lock()
	f.spiderReqs = append(f.spiderReqs, req)
	f.mu.Unlock()
	if f.SpiderErr != nil {
		return "", f.SpiderErr
	}
	return "0", nil
}

func (f *Fake) SpiderStatus(ctx context.Context, job zap.JobHandle) (int, error) {
	f.record(MethodSpiderStatus, string(job))
	if f.SpiderStatusErr != nil {
		return 0, f.SpiderStatusErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return next(f.SpiderProgress, &f.spiderPos), nil
}

func (f *Fake) SpiderResults(ctx context.Context, job zap.JobHandle) ([]string, error) {
	f.record(MethodSpiderResults, string(job))
	if f.SpiderURLsErr != nil {
		return nil, f.SpiderURLsErr
	}
	return slices.Clone(f.SpiderURLs), nil
}

func (f *Fake) StartActiveScan(ctx context.Context, req zap.ActiveScanRequest) (zap.JobHandle, error) {
	f.record(MethodStartActiveScan, req.URL, req.ContextID)
	f.mu.Lock()
	f.ascanReqs = append(f.ascanReqs, req)
	f.mu.Unlock()
	if f.ActiveScanErr != nil {
		return "", f.ActiveScanErr
	}
	return "0", nil
}

func (f *Fake) ActiveScanStatus(ctx context.Context, job zap.JobHandle) (int, error) {
	f.record(MethodActiveScanStatus, string(job))
	if f.ActiveScanStatusErr != nil {
		return 0, f.ActiveScanStatusErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return next(f.ActiveScanProgress, &f.ascanPos), nil
}

func (f *Fake) Alerts(ctx context.Context) ([]finding.Alert, error) {
	f.record(MethodAlerts)
	if f.AlertsErr != nil {
		return nil, f.AlertsErr
	}
	return slices.Clone(f.AlertSet), nil
}

func (f *Fake) Report(ctx context.Context, format report.Format) (string, error) {
	f.record(MethodReport, string(format))
	if err := f.ReportErrs[format]; err != nil {
		return "", err
	}
	if body, ok := f.Reports[format]; ok {
		return body, nil
	}
	return fmt.Sprintf("%s report", format), nil
}

// next returns the reading at *pos and advances it. The last reading
// repeats once the script is exhausted; an empty script reports 100.
func next(script []int, pos *int) int {
	if len(script) == 0 {
		return 100
	}
	i := min(*pos, len(script)-1)
	*pos++
	return script[i]
}

// Alerts builds one alert per risk label, for scripting AlertSet.
func Alerts(risks ...string) []finding.Alert {
	out := make([]finding.Alert, len(risks))
	for i, r := range risks {
		out[i] = finding.Alert{
			ID:   fmt.Sprint(i + 1),
			Name: "Test alert " + fmt.Sprint(i+1),
			Risk: r,
			URL:  "http://target.local/",
		}
	}
	return out
}

// Repeat returns n copies of risk, for use with Alerts.
func Repeat(risk string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = risk
	}
	return out
}
