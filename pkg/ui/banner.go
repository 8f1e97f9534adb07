// Package ui renders human-facing terminal output, on stderr by default:
// the banner, status lines, job progress and the verdict table. Structured
// logs are separate and go through slog.
package ui

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/waftester/zapgate/pkg/defaults"
)

// Global UI state
var (
	silentMode  bool
	noColorMode bool
	output      io.Writer = os.Stderr
	uiMu        sync.RWMutex
)

// SetSilent enables or disables silent mode (suppresses most output)
func SetSilent(silent bool) {
	uiMu.Lock()
	defer uiMu.Unlock()
	silentMode = silent
}

// IsSilent returns whether silent mode is enabled
func IsSilent() bool {
	uiMu.RLock()
	defer uiMu.RUnlock()
	return silentMode
}

// SetNoColor disables colored output
func SetNoColor(noColor bool) {
	uiMu.Lock()
	defer uiMu.Unlock()
	noColorMode = noColor
	if noColor {
		lipgloss.SetColorProfile(termenv.Ascii)
	}
}

// IsNoColor returns whether color is disabled
func IsNoColor() bool {
	uiMu.RLock()
	defer uiMu.RUnlock()
	return noColorMode
}

// SetOutput redirects UI output (default: os.Stderr). It returns the
// previous writer.
func SetOutput(w io.Writer) io.Writer {
	uiMu.Lock()
	defer uiMu.Unlock()
	prev := output
	output = w
	return prev
}

func writer() io.Writer {
	uiMu.RLock()
	defer uiMu.RUnlock()
	return output
}

func emit(s string) {
	if IsSilent() {
		return
	}
	fmt.Fprintln(writer(), SanitizeString(s))
}

const bannerSeparator = "________________________________________________"

// PrintBanner prints the tool name and version.
func PrintBanner() {
	if IsSilent() {
		return
	}
	w := writer()
	fmt.Fprintln(w, DividerStyle.Render(bannerSeparator))
	fmt.Fprintf(w, "\n %s %s\n", BannerStyle.Render(defaults.ToolName), VersionStyle.Render("v"+defaults.Version))
	fmt.Fprintln(w, SubtitleStyle.Render(" OWASP ZAP scan gate"))
	fmt.Fprintf(w, "%s\n\n", DividerStyle.Render(bannerSeparator))
}

// PrintDivider prints a stylized divider
func PrintDivider() {
	emit(DividerStyle.Render(strings.Repeat("-", 60)))
}

// PrintSection prints a section header
func PrintSection(title string) {
	if IsSilent() {
		return
	}
	fmt.Fprintln(writer())
	emit(SectionStyle.Render("> " + title))
	PrintDivider()
}

// PrintConfigLine prints a single config line
func PrintConfigLine(key, value string) {
	emit(fmt.Sprintf("  %s %s", ConfigLabelStyle.Render(key+":"), ConfigValueStyle.Render(value)))
}

// PrintSuccess prints a success message
func PrintSuccess(message string) {
	emit(PassStyle.Render("  " + Icon("✔", "[+]") + " " + message))
}

// PrintError prints an error message. Errors are shown even in silent mode.
func PrintError(message string) {
	fmt.Fprintln(writer(), SanitizeString(FailStyle.Render("  "+Icon("✖", "[X]")+" "+message)))
}

// PrintWarning prints a warning message
func PrintWarning(message string) {
	emit(WarnStyle.Render("  " + Icon("⚠", "[!]") + " " + message))
}

// PrintInfo prints an info message
func PrintInfo(message string) {
	emit(fmt.Sprintf("  %s %s", SpinnerStyle.Render("*"), message))
}
