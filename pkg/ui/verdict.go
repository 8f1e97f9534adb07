package ui

import (
	"fmt"
	"io"
	"strings"

	"github.com/waftester/zapgate/pkg/finding"
	"github.com/waftester/zapgate/pkg/verdict"
)

// PrintVerdict writes the verdict to the UI output. See WriteVerdict.
func PrintVerdict(v verdict.Verdict) {
	WriteVerdict(writer(), v)
}

// WriteVerdict writes the per-severity table followed by warnings,
// threshold failures and the final PASS/FAIL line to w. The outcome line is
// written even in silent mode.
func WriteVerdict(w io.Writer, v verdict.Verdict) {
	line := func(s string) { fmt.Fprintln(w, SanitizeString(s)) }

	if !IsSilent() {
		fmt.Fprintln(w)
		line(SectionStyle.Render("> Security Alert Summary"))
		line(DividerStyle.Render(strings.Repeat("-", 60)))
		levels := []finding.Severity{finding.High, finding.Medium, finding.Low, finding.Informational}
		if v.Counts.Of(finding.Unknown) > 0 {
			levels = append(levels, finding.Unknown)
		}
		for _, s := range levels {
			limit := "-"
			if n, ok := v.Thresholds.Limit(s); ok {
				limit = fmt.Sprint(n)
			}
			badge := SeverityStyle(s).Render(fmt.Sprintf("%-13s", s.String()))
			line(fmt.Sprintf("  %s %s  threshold %s", badge, StatValueStyle.Render(fmt.Sprintf("%4d", v.Counts.Of(s))), limit))
		}
		fmt.Fprintln(w)
		for _, warn := range v.Warnings {
			line(WarnStyle.Render("  " + Icon("⚠", "[!]") + " " + warn))
		}
	}

	if v.Pass {
		line(PassStyle.Render("  " + Icon("✔", "[+]") + " PASS: all alert counts within thresholds"))
		return
	}
	line(FailStyle.Render("  " + Icon("✖", "[X]") + " FAIL: " + strings.Join(v.Failures, "; ")))
}
