// Package duration provides canonical time constants for zapgate.
// This is the single source of truth for time-based configuration.
//
// Usage:
//
//	ctx, cancel := context.WithTimeout(ctx, duration.HTTPAPI)
//	cfg.Polling.SpiderInterval = duration.SpiderPoll
//
// Do not use hardcoded time.Duration values like `5 * time.Second` in
// packages; reference the appropriate constant from here instead.
package duration

import "time"

// ============================================================================
// HTTP CLIENT TIMEOUTS
// ============================================================================

const (
	// HTTPProbing is for a single liveness request (5s)
	HTTPProbing = 5 * time.Second

	// HTTPAPI is the default per-request timeout for engine API calls (30s)
	HTTPAPI = 30 * time.Second

	// HTTPReport is for report downloads, which ZAP renders on demand (2min)
	HTTPReport = 2 * time.Minute
)

// ============================================================================
// READINESS
// ============================================================================
//
// The engine is usually started alongside zapgate (container, CI service),
// so the first few liveness checks are expected to fail.
// ============================================================================

const (
	// ReadinessTimeout is how long to wait for the engine to answer (60s)
	ReadinessTimeout = 60 * time.Second

	// ReadinessInterval is the delay between liveness checks (2s)
	ReadinessInterval = 2 * time.Second
)

// ============================================================================
// JOB POLLING
// ============================================================================
//
// Poll intervals match the cadence of the upstream automation script.
// Max durations bound phases that the engine never reports as finished.
// ============================================================================

const (
	// SpiderPoll is the spider status poll interval (5s)
	SpiderPoll = 5 * time.Second

	// SpiderMax bounds a spider phase (30min)
	SpiderMax = 30 * time.Minute

	// ActiveScanPoll is the active scan status poll interval (10s)
	ActiveScanPoll = 10 * time.Second

	// ActiveScanMax bounds an active scan phase (2h)
	ActiveScanMax = 2 * time.Hour

	// PassiveSettle lets passive analysis drain its queue before alerts are read (10s)
	PassiveSettle = 10 * time.Second
)

// ============================================================================
// RETRY / SHUTDOWN
// ============================================================================

const (
	// RetryFast is the initial retry backoff (1s)
	RetryFast = 1 * time.Second

	// RetryMaxDelay caps a single retry backoff (15s)
	RetryMaxDelay = 15 * time.Second

	// ShutdownGrace is how long a second interrupt is awaited before exit (10s)
	ShutdownGrace = 10 * time.Second

	// MetricsShutdown is the metrics server shutdown timeout (5s)
	MetricsShutdown = 5 * time.Second

	// MetricsWrite is the metrics server write timeout (10s)
	MetricsWrite = 10 * time.Second

	// TelemetryConnect bounds the OTLP exporter setup (10s)
	TelemetryConnect = 10 * time.Second
)
