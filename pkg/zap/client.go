package zap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/waftester/zapgate/pkg/defaults"
	"github.com/waftester/zapgate/pkg/duration"
	"github.com/waftester/zapgate/pkg/finding"
	"github.com/waftester/zapgate/pkg/httpclient"
	"github.com/waftester/zapgate/pkg/iohelper"
	"github.com/waftester/zapgate/pkg/jsonutil"
	"github.com/waftester/zapgate/pkg/report"
	"github.com/waftester/zapgate/pkg/retry"
)

// Compile-time interface check.
var _ Scanner = (*Client)(nil)

// Options configures a Client.
type Options struct {
	// BaseURL is the engine's API address, e.g. http://localhost:8080.
	BaseURL string

	// APIKey is sent in the X-ZAP-API-Key header when non-empty.
	APIKey string

	// Timeout bounds a single API call (default: 30s). Report downloads
	// use duration.HTTPReport instead.
	Timeout time.Duration

	// Retries is the number of extra attempts for view calls.
	// Actions are never retried.
	Retries int

	// RateLimit caps requests per second; 0 disables throttling.
	RateLimit int

	// AlertPageSize is the page size for core/view/alerts (default: 5000).
	AlertPageSize int

	// ReportMaxBytes caps a report download (default: 256MB). A larger
	// report is an error, never a truncated file.
	ReportMaxBytes int64

	// InsecureTLS skips certificate verification for https engine
	// addresses. Ignored when HTTPClient is set.
	InsecureTLS bool

	// HTTPClient overrides the transport (tests, proxies).
	HTTPClient *http.Client

	Logger *slog.Logger
}

// Client talks to the engine over its JSON API.
type Client struct {
	base      *url.URL
	apiKey    string
	timeout   time.Duration
	retry     retry.Config
	pageSize  int
	maxReport int64
	limiter   *rate.Limiter
	http      *http.Client
	logger    *slog.Logger
}

// New validates opts and returns a Client.
func New(opts Options) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("zap: invalid base URL %q", opts.BaseURL)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = duration.HTTPAPI
	}
	if opts.AlertPageSize <= 0 {
		opts.AlertPageSize = defaults.AlertPageSize
	}
	if opts.ReportMaxBytes <= 0 {
		opts.ReportMaxBytes = iohelper.ReportMaxBodySize
	}
	if opts.HTTPClient == nil {
		hc := httpclient.WithTimeout(duration.HTTPReport)
		hc.InsecureSkipVerify = opts.InsecureTLS
		opts.HTTPClient = httpclient.New(hc)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	c := &Client{
		base:      base,
		apiKey:    opts.APIKey,
		timeout:   opts.Timeout,
		retry:     retry.ForRetries(opts.Retries),
		pageSize:  opts.AlertPageSize,
		maxReport: opts.ReportMaxBytes,
		http:      opts.HTTPClient,
		logger:    opts.Logger.With(slog.String("component", "zap")),
	}
	if opts.RateLimit > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), opts.RateLimit)
	}
	c.retry.OnRetry = func(attempt int, err error, delay time.Duration) {
		c.logger.Warn("engine call failed, retrying",
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()))
	}
	return c, nil
}

// BaseURL returns the engine address the client targets.
func (c *Client) BaseURL() string {
	return c.base.String()
}

// Version returns the engine version. It doubles as the liveness check,
// so it makes exactly one attempt: the readiness waiter owns the retry
// interval and deadline.
func (c *Client) Version(ctx context.Context) (string, error) {
	var out struct {
		Version string `json:"version"`
	}
	if err := c.once(ctx, "/JSON/core/view/version/", nil, &out); err != nil {
		return "", err
	}
	return out.Version, nil
}

// NewContext creates a named context and returns its numeric ID.
func (c *Client) NewContext(ctx context.Context, name string) (string, error) {
	var out struct {
		ContextID string `json:"contextId"`
	}
	if err := c.action(ctx, "context", "newContext", url.Values{"contextName": {name}}, &out); err != nil {
		return "", err
	}
	if out.ContextID == "" {
		return "", fmt.Errorf("%w: newContext returned no contextId", ErrMalformedResponse)
	}
	return out.ContextID, nil
}

// IncludeInContext adds an include regex to the named context.
func (c *Client) IncludeInContext(ctx context.Context, contextName, regex string) error {
	return c.okAction(ctx, "context", "includeInContext", url.Values{
		"contextName": {contextName},
		"regex":       {regex},
	})
}

// ExcludeFromContext adds an exclude regex to the named context.
func (c *Client) ExcludeFromContext(ctx context.Context, contextName, regex string) error {
	return c.okAction(ctx, "context", "excludeFromContext", url.Values{
		"contextName": {contextName},
		"regex":       {regex},
	})
}

// StartSpider starts a crawl and returns its scan ID.
func (c *Client) StartSpider(ctx context.Context, req SpiderRequest) (JobHandle, error) {
	params := url.Values{
		"url":         {req.URL},
		"maxChildren": {strconv.Itoa(req.MaxChildren)},
		"recurse":     {strconv.FormatBool(req.Recurse)},
	}
	if req.ContextName != "" {
		params.Set("contextName", req.ContextName)
	}
	return c.startScan(ctx, "spider", params)
}

// SpiderStatus returns crawl progress in percent.
func (c *Client) SpiderStatus(ctx context.Context, job JobHandle) (int, error) {
	return c.status(ctx, "spider", job)
}

// SpiderResults returns the URLs the crawl discovered.
func (c *Client) SpiderResults(ctx context.Context, job JobHandle) ([]string, error) {
	var out struct {
		Results []string `json:"results"`
	}
	if err := c.view(ctx, "spider", "results", url.Values{"scanId": {string(job)}}, &out); err != nil {
		return nil, err
	}
	return out.Results, nil
}

// StartActiveScan starts an active scan and returns its scan ID.
func (c *Client) StartActiveScan(ctx context.Context, req ActiveScanRequest) (JobHandle, error) {
	params := url.Values{
		"url":     {req.URL},
		"recurse": {strconv.FormatBool(req.Recurse)},
	}
	if req.ContextID != "" {
		params.Set("contextId", req.ContextID)
	}
	return c.startScan(ctx, "ascan", params)
}

// ActiveScanStatus returns active scan progress in percent.
func (c *Client) ActiveScanStatus(ctx context.Context, job JobHandle) (int, error) {
	return c.status(ctx, "ascan", job)
}

// Alerts returns every alert the engine holds, paging through
// core/view/alerts until a short page is returned.
func (c *Client) Alerts(ctx context.Context) ([]finding.Alert, error) {
	var all []finding.Alert
	for start := 0; ; start += c.pageSize {
		var out struct {
			Alerts []finding.Alert `json:"alerts"`
		}
		params := url.Values{
			"start": {strconv.Itoa(start)},
			"count": {strconv.Itoa(c.pageSize)},
		}
		if err := c.view(ctx, "core", "alerts", params, &out); err != nil {
			return nil, err
		}
		all = append(all, out.Alerts...)
		if len(out.Alerts) < c.pageSize {
			break
		}
	}
	return all, nil
}

// Report downloads a rendered report. The payload is returned unmodified.
func (c *Client) Report(ctx context.Context, format report.Format) (string, error) {
	var other string
	switch format {
	case report.HTML:
		other = "htmlreport"
	case report.XML:
		other = "xmlreport"
	case report.JSON:
		other = "jsonreport"
	default:
		return "", fmt.Errorf("zap: unsupported report format %q", format)
	}

	var body []byte
	err := retry.Do(ctx, c.retry, func() error {
		var err error
		body, err = c.get(ctx, "/OTHER/core/other/"+other+"/", nil, duration.HTTPReport, c.maxReport)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("zap: %s report: %w", format, err)
	}
	return string(body), nil
}

func (c *Client) startScan(ctx context.Context, component string, params url.Values) (JobHandle, error) {
	var out struct {
		Scan string `json:"scan"`
	}
	if err := c.action(ctx, component, "scan", params, &out); err != nil {
		return "", err
	}
	if _, err := strconv.Atoi(strings.TrimSpace(out.Scan)); err != nil {
		return "", fmt.Errorf("%w: %s/action/scan returned scan id %q", ErrMalformedResponse, component, out.Scan)
	}
	return JobHandle(strings.TrimSpace(out.Scan)), nil
}

func (c *Client) status(ctx context.Context, component string, job JobHandle) (int, error) {
	var out struct {
		Status string `json:"status"`
	}
	if err := c.view(ctx, component, "status", url.Values{"scanId": {string(job)}}, &out); err != nil {
		return 0, err
	}
	pct, err := strconv.Atoi(strings.TrimSpace(out.Status))
	if err != nil {
		return 0, fmt.Errorf("%w: %s status %q is not a number", ErrMalformedResponse, component, out.Status)
	}
	return pct, nil
}

func (c *Client) okAction(ctx context.Context, component, name string, params url.Values) error {
	var out struct {
		Result string `json:"Result"`
	}
	if err := c.action(ctx, component, name, params, &out); err != nil {
		return err
	}
	if !strings.EqualFold(out.Result, "OK") {
		return fmt.Errorf("%w: %s/%s returned %q", ErrMalformedResponse, component, name, out.Result)
	}
	return nil
}

// view calls a read-only endpoint, retrying transient failures.
func (c *Client) view(ctx context.Context, component, name string, params url.Values, out any) error {
	path := "/JSON/" + component + "/view/" + name + "/"
	return retry.Do(ctx, c.retry, func() error {
		return c.getJSON(ctx, path, params, out)
	})
}

// action calls a state-changing endpoint exactly once.
func (c *Client) action(ctx context.Context, component, name string, params url.Values, out any) error {
	return c.once(ctx, "/JSON/"+component+"/action/"+name+"/", params, out)
}

// once calls path a single time, unwrapping retry.Stop markers.
func (c *Client) once(ctx context.Context, path string, params url.Values, out any) error {
	err := c.getJSON(ctx, path, params, out)
	var stop *retry.StopError
	if errors.As(err, &stop) {
		return stop.Err
	}
	return err
}

func (c *Client) getJSON(ctx context.Context, path string, params url.Values, out any) error {
	body, err := c.get(ctx, path, params, c.timeout, iohelper.DefaultMaxBodySize)
	if err != nil {
		return err
	}
	if err := jsonutil.Unmarshal(body, out); err != nil {
		return retry.Stop(fmt.Errorf("%w: %s: %v", ErrMalformedResponse, path, err))
	}
	return nil
}

// get performs one request. API errors are wrapped in retry.Stop because
// the engine will answer the same way again.
func (c *Client) get(ctx context.Context, path string, params url.Values, timeout time.Duration, limit int64) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + path
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, retry.Stop(fmt.Errorf("zap: build request: %w", err))
	}
	req.Header.Set("Accept", defaults.AcceptJSON)
	req.Header.Set("User-Agent", defaults.UserAgent())
	if c.apiKey != "" {
		req.Header.Set(defaults.APIKeyHeader, c.apiKey)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer iohelper.DrainAndClose(resp.Body)

	c.logger.Debug("engine call",
		slog.String("path", path),
		slog.Int("status", resp.StatusCode),
		slog.Duration("latency", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Endpoint: path, StatusCode: resp.StatusCode}
		if raw := iohelper.ReadBodyOrLog(resp.Body, c.logger); len(raw) > 0 {
			_ = jsonutil.Unmarshal(raw, apiErr)
		}
		apiErr.Endpoint, apiErr.StatusCode = path, resp.StatusCode
		if resp.StatusCode >= 500 && apiErr.Code == "" {
			// Proxies in front of the engine return bare 502/503 while it starts.
			return nil, fmt.Errorf("%w: %v", ErrUnreachable, apiErr)
		}
		return nil, retry.Stop(apiErr)
	}

	body, err := iohelper.ReadBody(resp.Body, limit)
	if errors.Is(err, iohelper.ErrBodyTooLarge) {
		return nil, retry.Stop(fmt.Errorf("zap: reading %s: %w", path, err))
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: reading %s: %v", ErrUnreachable, path, err)
	}
	return body, nil
}

// IsUnreachable reports whether err means the engine could not be reached.
func IsUnreachable(err error) bool {
	return errors.Is(err, ErrUnreachable)
}
