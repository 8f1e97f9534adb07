package finding

import "strings"

// Severity is the risk level ZAP attaches to an alert.
type Severity int

const (
	// Unknown is any risk string outside the four levels ZAP documents.
	Unknown Severity = iota

	// Informational findings carry no direct security impact.
	Informational

	// Low represents limited impact (verbose errors, missing hardening headers).
	Low

	// Medium represents moderate impact (reflected XSS, CSRF).
	Medium

	// High represents significant impact requiring prompt fix (SQLi, RCE).
	High
)

var severityNames = [...]string{
	Unknown:       "Unknown",
	Informational: "Informational",
	Low:           "Low",
	Medium:        "Medium",
	High:          "High",
}

// Known returns the four recognised levels in ascending order.
func Known() []Severity {
	return []Severity{Informational, Low, Medium, High}
}

// ParseSeverity maps an engine risk string to a Severity.
// Matching is case-insensitive; "Info" is accepted for Informational.
func ParseSeverity(s string) Severity {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "informational", "info":
		return Informational
	case "low":
		return Low
	case "medium":
		return Medium
	case "high":
		return High
	default:
		return Unknown
	}
}

// IsKnown reports whether s is one of the four recognised levels.
func (s Severity) IsKnown() bool {
	return s >= Informational && s <= High
}

// Score returns a numeric score for sorting and comparison.
// High=4, Medium=3, Low=2, Informational=1, Unknown=0.
func (s Severity) Score() int {
	if !s.IsKnown() {
		return 0
	}
	return int(s)
}

// String returns the engine's spelling of the level.
func (s Severity) String() string {
	if !s.IsKnown() {
		return severityNames[Unknown]
	}
	return severityNames[s]
}

// Label returns the lowercase form used for metric labels and config keys.
func (s Severity) Label() string {
	return strings.ToLower(s.String())
}
