// Package defaults provides canonical default values for zapgate.
// This is the single source of truth for runtime configuration defaults.
//
// Usage:
//
//	cfg.API.Retries = defaults.RetryLow
//	req.Header.Set("Accept", defaults.AcceptJSON)
//
// Do not hardcode values like `Retries: 2` in packages; reference the
// appropriate constant from here instead.
package defaults

// ToolName is the binary and service name.
const ToolName = "zapgate"

// Version is the current zapgate version.
// It can be overridden at build time via ldflags.
var Version = "0.4.1"

// ============================================================================
// RETRY SETTINGS
// ============================================================================
//
// Retries apply only to idempotent view calls against the engine.
// ============================================================================

const (
	// RetryNone disables retries (0)
	RetryNone = 0

	// RetryLow is the default number of extra attempts for view calls (2)
	RetryLow = 2

	// RetryMax caps configured retries (10)
	RetryMax = 10
)

// ============================================================================
// ENGINE API
// ============================================================================

const (
	// RateLimit is the default request rate against the engine in requests/second (20)
	RateLimit = 20

	// AlertPageSize is the number of alerts fetched per core/view/alerts call (5000)
	AlertPageSize = 5000

	// APIKeyHeader is the header ZAP reads the API key from
	APIKeyHeader = "X-ZAP-API-Key"

	// AcceptJSON accepts JSON
	AcceptJSON = "application/json"
)

// ============================================================================
// CONFIGURATION
// ============================================================================

const (
	// ConfigFile is the default configuration path
	ConfigFile = "zap-config.yml"

	// ReportDir is the default report output directory
	ReportDir = "reports"

	// SummaryFile is the markdown verdict summary filename
	SummaryFile = "security-summary.md"
)

// UserAgent returns the User-Agent sent to the engine.
func UserAgent() string {
	return ToolName + "/" + Version
}
