package ui

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waftester/zapgate/pkg/defaults"
	"github.com/waftester/zapgate/pkg/finding"
	"github.com/waftester/zapgate/pkg/verdict"
)

// capture redirects UI output for the duration of a test.
func capture(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := SetOutput(&buf)
	SetNoColor(true)
	t.Cleanup(func() {
		SetOutput(prev)
		SetSilent(false)
	})
	return &buf
}

func TestPrintHelpers(t *testing.T) {
	buf := capture(t)

	PrintSuccess("engine ready")
	PrintWarning("slow")
	PrintInfo("spidering")
	PrintError("boom")
	PrintConfigLine("Target", "https://example.com")

	out := buf.String()
	assert.Contains(t, out, "engine ready")
	assert.Contains(t, out, "slow")
	assert.Contains(t, out, "spidering")
	assert.Contains(t, out, "boom")
	assert.Contains(t, out, "Target:")
	assert.Contains(t, out, "https://example.com")
}

func TestSilentSuppressesAllButErrors(t *testing.T) {
	buf := capture(t)
	SetSilent(true)
	assert.True(t, IsSilent())

	PrintBanner()
	PrintSection("Scan")
	PrintSuccess("hidden")
	PrintProgress("spider", 50)
	PrintError("visible")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.NotContains(t, out, "Scan")
	assert.Contains(t, out, "visible")
}

func TestPrintBanner(t *testing.T) {
	buf := capture(t)
	PrintBanner()
	assert.Contains(t, buf.String(), defaults.ToolName)
	assert.Contains(t, buf.String(), "v"+defaults.Version)
}

func TestProgressBar(t *testing.T) {
	SetNoColor(true)
	tests := []struct {
		percent int
		full    int
	}{
		{0, 0},
		{50, 15},
		{100, 30},
		{150, 30},
		{-5, 0},
	}
	for _, tt := range tests {
		bar := ProgressBar(tt.percent)
		assert.Equal(t, tt.full, strings.Count(bar, "#"), "percent %d", tt.percent)
		assert.Equal(t, barWidth, len(bar), "percent %d", tt.percent)
	}
}

func TestPrintProgressClamps(t *testing.T) {
	buf := capture(t)
	PrintProgress("spider", 250)
	assert.Contains(t, buf.String(), "100%")
	assert.Contains(t, buf.String(), "spider")
}

func TestPrintVerdictPass(t *testing.T) {
	buf := capture(t)
	v := verdict.EvaluateSeverities(
		[]finding.Severity{finding.Low, finding.Informational},
		verdict.Thresholds{High: 0, Medium: 5, Low: 10},
	)
	require.True(t, v.Pass)

	PrintVerdict(v)
	out := buf.String()
	assert.Contains(t, out, "Security Alert Summary")
	assert.Contains(t, out, "PASS")
	assert.NotContains(t, out, "Unknown")
}

func TestPrintVerdictFailAndUnknown(t *testing.T) {
	buf := capture(t)
	v := verdict.EvaluateSeverities(
		[]finding.Severity{finding.High, finding.Unknown},
		verdict.Thresholds{High: 0, Medium: 5, Low: 10},
	)
	require.False(t, v.Pass)

	PrintVerdict(v)
	out := buf.String()
	assert.Contains(t, out, "FAIL: High risk alerts (1) exceed threshold (0)")
	assert.Contains(t, out, "Unknown")
	assert.Contains(t, out, "unrecognised risk level")
}

func TestPrintVerdictSilentKeepsOutcome(t *testing.T) {
	buf := capture(t)
	SetSilent(true)
	PrintVerdict(verdict.EvaluateSeverities(nil, verdict.Thresholds{}))
	assert.Contains(t, buf.String(), "PASS")
	assert.NotContains(t, buf.String(), "Security Alert Summary")
}

func TestWriteVerdictTargetsGivenWriter(t *testing.T) {
	uiOut := capture(t)
	var stdout bytes.Buffer
	v := verdict.EvaluateSeverities(
		[]finding.Severity{finding.High, finding.High},
		verdict.Thresholds{High: 0, Medium: 5, Low: 10},
	)

	WriteVerdict(&stdout, v)
	assert.Empty(t, uiOut.String())
	assert.Contains(t, stdout.String(), "Security Alert Summary")
	assert.Contains(t, stdout.String(), "FAIL: High risk alerts (2) exceed threshold (0)")
	assert.Equal(t, 1, strings.Count(stdout.String(), "exceed threshold"))
}

func TestSeverityStyle(t *testing.T) {
	for _, s := range finding.Known() {
		assert.True(t, SeverityStyle(s).GetBold(), s.String())
	}
	assert.Equal(t, High, SeverityStyle(finding.High).GetBackground())
	assert.Equal(t, Muted, SeverityStyle(finding.Unknown).GetForeground())
}

func TestIconFallback(t *testing.T) {
	// go test output is not a terminal
	if UnicodeTerminal() {
		t.Skip("stderr is a unicode terminal")
	}
	assert.Equal(t, "[+]", Icon("✔", "[+]"))
	assert.Equal(t, "ok ", SanitizeString("ok ✔"))
	assert.Equal(t, "café", SanitizeString("café"))
}

func TestIsTerminalBuffer(t *testing.T) {
	assert.False(t, IsTerminal(&bytes.Buffer{}))
}
