// Package iohelper provides helpers for safely reading engine responses
// with size limits.
package iohelper

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
)

// ErrBodyTooLarge is returned when a body exceeds the read limit.
var ErrBodyTooLarge = errors.New("body exceeds size limit")

// Body size limits
const (
	// SmallMaxBodySize is for error payloads and short API answers (8KB)
	SmallMaxBodySize int64 = 8 * 1024

	// DefaultMaxBodySize is for JSON API responses (16MB)
	// Alert listings on large targets run to several megabytes.
	DefaultMaxBodySize int64 = 16 * 1024 * 1024

	// ReportMaxBodySize is for rendered reports (256MB)
	ReportMaxBodySize int64 = 256 * 1024 * 1024
)

// ReadBody reads from r with a size limit. A body longer than maxSize
// returns the first maxSize bytes and ErrBodyTooLarge; it is never
// silently truncated.
// If r is nil, returns an empty slice and no error.
func ReadBody(r io.Reader, maxSize int64) ([]byte, error) {
	if r == nil {
		return []byte{}, nil
	}
	data, err := io.ReadAll(io.LimitReader(r, maxSize+1))
	if err != nil {
		return data, err
	}
	if int64(len(data)) > maxSize {
		return data[:maxSize], fmt.Errorf("%w (%d bytes)", ErrBodyTooLarge, maxSize)
	}
	return data, nil
}

// ReadBodyDefault reads from r with DefaultMaxBodySize.
func ReadBodyDefault(r io.Reader) ([]byte, error) {
	return ReadBody(r, DefaultMaxBodySize)
}

// ReadBodySmall reads from r with SmallMaxBodySize.
func ReadBodySmall(r io.Reader) ([]byte, error) {
	return ReadBody(r, SmallMaxBodySize)
}

// ReadBodyOrLog reads r with ReadBodySmall and logs any error.
// It returns the bytes read, which may be partial on error.
func ReadBodyOrLog(r io.Reader, logger *slog.Logger) []byte {
	data, err := ReadBodySmall(r)
	if err != nil && logger != nil {
		logger.Warn("body read failed", slog.String("error", err.Error()))
	}
	return data
}

// DrainAndClose reads any remaining data from r and closes it if it is
// a ReadCloser, so the connection can be reused.
// Always returns nil to allow use in defer.
func DrainAndClose(r io.Reader) error {
	if r == nil {
		return nil
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(r, 64*1024))
	if rc, ok := r.(io.ReadCloser); ok {
		rc.Close()
	}
	return nil
}
