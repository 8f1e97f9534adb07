package ui

import (
	"fmt"
	"strings"

	"github.com/waftester/zapgate/pkg/job"
)

const barWidth = 30

// ProgressBar renders percent as a fixed-width bar.
func ProgressBar(percent int) string {
	percent = job.Clamp(percent)
	full := percent * barWidth / 100
	return ProgressFullStyle.Render(strings.Repeat("#", full)) +
		ProgressEmptyStyle.Render(strings.Repeat("-", barWidth-full))
}

// PrintProgress prints one job progress reading, e.g.
//
//	spider      [##########--------------------]  33%
func PrintProgress(phase string, percent int) {
	emit(fmt.Sprintf("  %-12s [%s] %3d%%", phase, ProgressBar(percent), job.Clamp(percent)))
}
