// Package verdict turns the engine's alert list into a pass/fail decision
// against per-severity ceilings.
//
// Evaluation is pure: no I/O, no clock, no engine access. The coordinator
// fetches alerts once and hands them over; tests feed literal lists.
package verdict

import (
	"errors"
	"fmt"
	"strings"

	"github.com/waftester/zapgate/pkg/defaults"
	"github.com/waftester/zapgate/pkg/finding"
)

// ErrNegativeThreshold is returned by Thresholds.Validate.
var ErrNegativeThreshold = errors.New("verdict: threshold must be non-negative")

// Thresholds are inclusive ceilings: a count equal to the ceiling passes,
// one above fails. Informational findings have no ceiling.
type Thresholds struct {
	High   int `yaml:"high" json:"high"`
	Medium int `yaml:"medium" json:"medium"`
	Low    int `yaml:"low" json:"low"`
}

// Validate rejects negative ceilings.
func (t Thresholds) Validate() error {
	for _, c := range []struct {
		name  string
		value int
	}{{"high", t.High}, {"medium", t.Medium}, {"low", t.Low}} {
		if c.value < 0 {
			return fmt.Errorf("%w: %s=%d", ErrNegativeThreshold, c.name, c.value)
		}
	}
	return nil
}

// Limit returns the ceiling for s and whether s is gated at all.
func (t Thresholds) Limit(s finding.Severity) (int, bool) {
	switch s {
	case finding.High:
		return t.High, true
	case finding.Medium:
		return t.Medium, true
	case finding.Low:
		return t.Low, true
	default:
		return 0, false
	}
}

// Counts holds one bucket per severity, including Unknown.
type Counts [finding.High + 1]int

// Of returns the count for s. Out-of-range values read the Unknown bucket.
func (c Counts) Of(s finding.Severity) int {
	return c[bucket(s)]
}

// Total returns the sum over every bucket.
func (c Counts) Total() int {
	n := 0
	for _, v := range c {
		n += v
	}
	return n
}

// Map returns the counts keyed by lowercase level label.
func (c Counts) Map() map[string]int {
	m := make(map[string]int, len(c))
	for _, s := range append(finding.Known(), finding.Unknown) {
		m[s.Label()] = c.Of(s)
	}
	return m
}

func bucket(s finding.Severity) finding.Severity {
	if !s.IsKnown() {
		return finding.Unknown
	}
	return s
}

// Verdict is the outcome of one evaluation.
type Verdict struct {
	Counts     Counts     `json:"counts"`
	Thresholds Thresholds `json:"thresholds"`
	Pass       bool       `json:"pass"`
	Failures   []string   `json:"failures,omitempty"`
	Warnings   []string   `json:"warnings,omitempty"`
}

// gated lists the severities compared against a ceiling, most severe first.
var gated = []finding.Severity{finding.High, finding.Medium, finding.Low}

// Evaluate counts alerts by severity and compares against thresholds.
func Evaluate(alerts []finding.Alert, thresholds Thresholds) Verdict {
	return EvaluateSeverities(finding.Severities(alerts), thresholds)
}

// EvaluateSeverities is Evaluate over already-parsed levels.
func EvaluateSeverities(levels []finding.Severity, thresholds Thresholds) Verdict {
	v := Verdict{
		Thresholds: thresholds,
		Failures:   make([]string, 0),
		Warnings:   make([]string, 0),
	}
	for _, s := range levels {
		v.Counts[bucket(s)]++
	}

	for _, s := range gated {
		limit, _ := thresholds.Limit(s)
		if n := v.Counts.Of(s); n > limit {
			v.Failures = append(v.Failures,
				fmt.Sprintf("%s risk alerts (%d) exceed threshold (%d)", s, n, limit))
		}
	}

	if n := v.Counts.Of(finding.Unknown); n > 0 {
		v.Warnings = append(v.Warnings,
			fmt.Sprintf("%d alert(s) with unrecognised risk level counted as Unknown", n))
	}

	v.Pass = len(v.Failures) == 0
	return v
}

// ExitCode maps the verdict to the process exit code.
func (v Verdict) ExitCode() int {
	if v.Pass {
		return defaults.ExitSuccess
	}
	return defaults.ExitFailure
}

// Summary returns a human-readable breakdown, most severe level first.
func (v Verdict) Summary() string {
	var b strings.Builder
	b.WriteString("Security Alert Summary:\n")
	for _, s := range []finding.Severity{finding.High, finding.Medium, finding.Low, finding.Informational} {
		fmt.Fprintf(&b, "  %s: %d\n", s, v.Counts.Of(s))
	}
	if n := v.Counts.Of(finding.Unknown); n > 0 {
		fmt.Fprintf(&b, "  %s: %d\n", finding.Unknown, n)
	}
	for _, w := range v.Warnings {
		fmt.Fprintf(&b, "WARN: %s\n", w)
	}
	for _, f := range v.Failures {
		fmt.Fprintf(&b, "FAIL: %s\n", f)
	}
	if v.Pass {
		b.WriteString("PASS: all severities within thresholds\n")
	}
	return b.String()
}
