// Package report persists the engine's rendered reports and the verdict
// summary under a single output directory.
//
// Report payloads are written verbatim: the engine owns their content and
// zapgate never parses or rewrites them. Each format has a fixed filename so
// CI jobs can archive them by path.
package report
