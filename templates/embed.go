// Package templates embeds the text templates used to render run output.
//
// Usage:
//
//	data, _ := templates.FS.ReadFile("output/" + templates.SummaryTemplate)
package templates

import "embed"

// SummaryTemplate is the markdown verdict summary, under output/.
const SummaryTemplate = "summary.md.tmpl"

// FS contains the bundled templates. Subdirectory structure matches the
// on-disk templates/ layout minus this Go file.
//
//go:embed output/*.tmpl
var FS embed.FS
