package report

import (
	"fmt"
	"strings"
)

// Format is a report format the engine can render.
type Format string

const (
	HTML Format = "HTML"
	XML  Format = "XML"
	JSON Format = "JSON"
)

// Formats returns every supported format in the order reports are written.
func Formats() []Format {
	return []Format{HTML, XML, JSON}
}

// ParseFormat accepts any casing of a supported format name.
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToUpper(strings.TrimSpace(s)))
	switch f {
	case HTML, XML, JSON:
		return f, nil
	}
	return "", fmt.Errorf("unsupported report format %q (want one of HTML, XML, JSON)", s)
}

// Ext returns the file extension without the dot.
func (f Format) Ext() string {
	return strings.ToLower(string(f))
}

// Filename returns the fixed output filename for the format.
func (f Format) Filename() string {
	return "security-report." + f.Ext()
}
