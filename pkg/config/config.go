// Package config loads the scan configuration document.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/waftester/zapgate/pkg/defaults"
	"github.com/waftester/zapgate/pkg/duration"
	"github.com/waftester/zapgate/pkg/report"
	"github.com/waftester/zapgate/pkg/verdict"
	"gopkg.in/yaml.v3"
)

// Environment variables that override file values.
const (
	EnvProxy  = "ZAP_PROXY"
	EnvAPIKey = "ZAP_API_KEY"
	EnvTarget = "ZAP_TARGET_URL"
)

// Config is the scan configuration. It is loaded once and not mutated
// after Load returns.
type Config struct {
	// ZAPProxy is the engine's API base address.
	ZAPProxy string `yaml:"zap_proxy"`
	// APIKey is sent with every request when non-empty.
	APIKey string `yaml:"api_key"`
	// TargetURL is the application under test.
	TargetURL string `yaml:"target_url"`

	Context    ContextConfig      `yaml:"context"`
	Spider     SpiderConfig       `yaml:"spider"`
	ActiveScan ActiveScanConfig   `yaml:"active_scan"`
	Thresholds verdict.Thresholds `yaml:"alert_thresholds"`
	Reports    ReportsConfig      `yaml:"reports"`
	Polling    PollingConfig      `yaml:"polling"`
	API        APIConfig          `yaml:"api"`
}

// ContextConfig names the scan context and its URL regex scope.
// Patterns are applied in the order listed.
type ContextConfig struct {
	Name    string   `yaml:"name"`
	Include []string `yaml:"include_regex"`
	Exclude []string `yaml:"exclude_regex"`
}

// SpiderConfig controls the crawl. MaxChildren 0 means unlimited.
type SpiderConfig struct {
	MaxChildren int   `yaml:"max_children"`
	Recurse     *bool `yaml:"recurse"`
}

// ActiveScanConfig controls the active scan.
type ActiveScanConfig struct {
	Recurse *bool `yaml:"recurse"`
}

// ReportsConfig selects output location and formats.
type ReportsConfig struct {
	OutputDir string          `yaml:"output_dir"`
	Formats   []report.Format `yaml:"-"`
	Summary   *bool           `yaml:"summary"`

	RawFormats []string `yaml:"formats"`
}

// PollingConfig holds readiness and job polling parameters.
type PollingConfig struct {
	ReadinessTimeout      Duration `yaml:"readiness_timeout"`
	ReadinessInterval     Duration `yaml:"readiness_interval"`
	SpiderInterval        Duration `yaml:"spider_interval"`
	SpiderMaxDuration     Duration `yaml:"spider_max_duration"`
	ActiveScanInterval    Duration `yaml:"active_scan_interval"`
	ActiveScanMaxDuration Duration `yaml:"active_scan_max_duration"`
	PassiveSettle         Duration `yaml:"passive_settle"`
}

// APIConfig tunes the engine client.
type APIConfig struct {
	Timeout   Duration `yaml:"timeout"`
	Retries   *int     `yaml:"retries"`
	RateLimit *int     `yaml:"rate_limit"`

	// InsecureTLS accepts any certificate from an https zap_proxy.
	InsecureTLS bool `yaml:"insecure_tls"`
}

// SpiderRecurse reports whether the crawl recurses (default true).
func (c *Config) SpiderRecurse() bool { return boolOr(c.Spider.Recurse, true) }

// ActiveScanRecurse reports whether the active scan recurses (default true).
func (c *Config) ActiveScanRecurse() bool { return boolOr(c.ActiveScan.Recurse, true) }

// WriteSummary reports whether the markdown summary is written (default true).
func (c *Config) WriteSummary() bool { return boolOr(c.Reports.Summary, true) }

// Retries returns the configured extra attempts for view calls.
func (c *Config) Retries() int { return intOr(c.API.Retries, defaults.RetryLow) }

// RateLimit returns requests/second to the engine; 0 disables throttling.
func (c *Config) RateLimit() int { return intOr(c.API.RateLimit, defaults.RateLimit) }

// Load reads and parses the configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML data, applies defaults and environment overrides,
// and validates the result.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	cfg.ApplyDefaults()
	cfg.applyEnv(os.LookupEnv)
	if err := cfg.normalizeFormats(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills zero-valued optional fields.
func (c *Config) ApplyDefaults() {
	if c.Reports.OutputDir == "" {
		c.Reports.OutputDir = defaults.ReportDir
	}
	if len(c.Reports.RawFormats) == 0 && len(c.Reports.Formats) == 0 {
		for _, f := range report.Formats() {
			c.Reports.RawFormats = append(c.Reports.RawFormats, string(f))
		}
	}

	p := &c.Polling
	setDuration(&p.ReadinessTimeout, duration.ReadinessTimeout)
	setDuration(&p.ReadinessInterval, duration.ReadinessInterval)
	setDuration(&p.SpiderInterval, duration.SpiderPoll)
	setDuration(&p.SpiderMaxDuration, duration.SpiderMax)
	setDuration(&p.ActiveScanInterval, duration.ActiveScanPoll)
	setDuration(&p.ActiveScanMaxDuration, duration.ActiveScanMax)
	setDuration(&p.PassiveSettle, duration.PassiveSettle)
	setDuration(&c.API.Timeout, duration.HTTPAPI)
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvProxy); ok && v != "" {
		c.ZAPProxy = v
	}
	if v, ok := lookup(EnvAPIKey); ok && v != "" {
		c.APIKey = v
	}
	if v, ok := lookup(EnvTarget); ok && v != "" {
		c.TargetURL = v
	}
}

// normalizeFormats parses RawFormats into Formats, dropping duplicates
// while keeping first-seen order.
func (c *Config) normalizeFormats() error {
	if len(c.Reports.RawFormats) == 0 {
		return nil
	}
	seen := make(map[report.Format]bool)
	c.Reports.Formats = c.Reports.Formats[:0]
	for _, raw := range c.Reports.RawFormats {
		f, err := report.ParseFormat(raw)
		if err != nil {
			return fmt.Errorf("%w: reports.formats: %v", ErrInvalidConfig, err)
		}
		if seen[f] {
			continue
		}
		seen[f] = true
		c.Reports.Formats = append(c.Reports.Formats, f)
	}
	return nil
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	var missing []string
	if c.ZAPProxy == "" {
		missing = append(missing, "zap_proxy")
	}
	if c.TargetURL == "" {
		missing = append(missing, "target_url")
	}
	if c.Context.Name == "" {
		missing = append(missing, "context.name")
	}
	if c.Reports.OutputDir == "" {
		missing = append(missing, "reports.output_dir")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingRequired, strings.Join(missing, ", "))
	}

	if err := checkURL("zap_proxy", c.ZAPProxy); err != nil {
		return err
	}
	if err := checkURL("target_url", c.TargetURL); err != nil {
		return err
	}
	if err := c.Thresholds.Validate(); err != nil {
		return fmt.Errorf("%w: alert_thresholds: %v", ErrInvalidConfig, err)
	}
	if c.Spider.MaxChildren < 0 {
		return fmt.Errorf("%w: spider.max_children must be >= 0", ErrInvalidConfig)
	}
	if c.Retries() < 0 || c.Retries() > defaults.RetryMax {
		return fmt.Errorf("%w: api.retries must be between 0 and %d", ErrInvalidConfig, defaults.RetryMax)
	}
	if c.RateLimit() < 0 {
		return fmt.Errorf("%w: api.rate_limit must be >= 0", ErrInvalidConfig)
	}
	for i, p := range c.Context.Include {
		if strings.TrimSpace(p) == "" {
			return fmt.Errorf("%w: context.include_regex[%d] is empty", ErrInvalidConfig, i)
		}
	}
	for i, p := range c.Context.Exclude {
		if strings.TrimSpace(p) == "" {
			return fmt.Errorf("%w: context.exclude_regex[%d] is empty", ErrInvalidConfig, i)
		}
	}

	p := c.Polling
	for _, d := range []struct {
		name  string
		value Duration
	}{
		{"polling.readiness_timeout", p.ReadinessTimeout},
		{"polling.readiness_interval", p.ReadinessInterval},
		{"polling.spider_interval", p.SpiderInterval},
		{"polling.active_scan_interval", p.ActiveScanInterval},
		{"api.timeout", c.API.Timeout},
	} {
		if d.value <= 0 {
			return fmt.Errorf("%w: %s must be positive", ErrInvalidConfig, d.name)
		}
	}
	for _, d := range []struct {
		name  string
		value Duration
	}{
		{"polling.spider_max_duration", p.SpiderMaxDuration},
		{"polling.active_scan_max_duration", p.ActiveScanMaxDuration},
		{"polling.passive_settle", p.PassiveSettle},
	} {
		if d.value < 0 {
			return fmt.Errorf("%w: %s must not be negative", ErrInvalidConfig, d.name)
		}
	}
	return nil
}

func checkURL(field, raw string) error {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %s must be an absolute http(s) URL, got %q", ErrInvalidConfig, field, raw)
	}
	return nil
}

func setDuration(d *Duration, def time.Duration) {
	if *d == 0 {
		*d = Duration(def)
	}
}

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

func intOr(p *int, def int) int {
	if p == nil {
		return def
	}
	return *p
}
