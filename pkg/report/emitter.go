package report

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// ErrOutputDir is returned when the output directory cannot be created.
// It is a configuration error: no report can be written.
var ErrOutputDir = errors.New("report: output directory unavailable")

// Emitter writes report payloads under Dir.
type Emitter struct {
	Dir    string
	Logger *slog.Logger
}

// NewEmitter returns an Emitter rooted at dir.
func NewEmitter(dir string, logger *slog.Logger) *Emitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Emitter{Dir: dir, Logger: logger}
}

// Prepare creates the output directory and any missing parents.
func (e *Emitter) Prepare() error {
	if e.Dir == "" {
		return fmt.Errorf("%w: empty path", ErrOutputDir)
	}
	if err := os.MkdirAll(e.Dir, 0o755); err != nil {
		return fmt.Errorf("%w: %v", ErrOutputDir, err)
	}
	info, err := os.Stat(e.Dir)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrOutputDir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", ErrOutputDir, e.Dir)
	}
	return nil
}

// Write stores payload as the report for format and returns its path.
func (e *Emitter) Write(format Format, payload string) (string, error) {
	path := filepath.Join(e.Dir, format.Filename())
	if err := writeAtomic(path, []byte(payload)); err != nil {
		return "", fmt.Errorf("write %s report: %w", format, err)
	}
	e.Logger.Info("report saved",
		slog.String("format", string(format)),
		slog.String("path", path),
		slog.Int("bytes", len(payload)))
	return path, nil
}

// Discard removes reports written earlier in a run that did not finish, so
// the output directory never holds a partial report set. Missing files are
// ignored; other removal failures are logged.
func (e *Emitter) Discard(paths []string) {
	for _, path := range paths {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			e.Logger.Warn("could not remove partial report",
				slog.String("path", path),
				slog.String("error", err.Error()))
			continue
		}
		e.Logger.Debug("partial report removed", slog.String("path", path))
	}
}

// writeAtomic writes to a sibling temp file and renames it into place so a
// failed write never leaves a truncated report behind.
func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
