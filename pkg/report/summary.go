package report

import (
	"bytes"
	"fmt"
	"path/filepath"
	"text/template"
	"time"

	"github.com/Masterminds/sprig/v3"
	"github.com/waftester/zapgate/pkg/defaults"
	"github.com/waftester/zapgate/pkg/finding"
	"github.com/waftester/zapgate/pkg/verdict"
	"github.com/waftester/zapgate/templates"
)

// SummaryMeta is run context rendered alongside the verdict.
type SummaryMeta struct {
	RunID      string
	Target     string
	Context    string
	SpiderURLs int
	Reports    []string
	Started    time.Time
	Duration   time.Duration
}

type summaryRow struct {
	Level     string
	Count     int
	Threshold string
	Status    string
}

type summaryData struct {
	SummaryMeta
	Verdict   verdict.Verdict
	Rows      []summaryRow
	Generated string
	Tool      string
}

var summaryTmpl = template.Must(template.New(templates.SummaryTemplate).
	Funcs(sprig.TxtFuncMap()).
	ParseFS(templates.FS, "output/"+templates.SummaryTemplate))

// RenderSummary renders the markdown verdict summary.
func RenderSummary(v verdict.Verdict, meta SummaryMeta) (string, error) {
	data := summaryData{
		SummaryMeta: meta,
		Verdict:     v,
		Generated:   meta.Started.Add(meta.Duration).UTC().Format(time.RFC3339),
		Tool:        defaults.UserAgent(),
	}
	for _, s := range []finding.Severity{finding.High, finding.Medium, finding.Low, finding.Informational, finding.Unknown} {
		n := v.Counts.Of(s)
		if s == finding.Unknown && n == 0 {
			continue
		}
		row := summaryRow{Level: s.String(), Count: n, Threshold: "-", Status: "-"}
		if limit, ok := v.Thresholds.Limit(s); ok {
			row.Threshold = fmt.Sprint(limit)
			row.Status = "ok"
			if n > limit {
				row.Status = "exceeded"
			}
		}
		data.Rows = append(data.Rows, row)
	}

	var buf bytes.Buffer
	if err := summaryTmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render summary: %w", err)
	}
	return buf.String(), nil
}

// WriteSummary renders the summary and stores it next to the reports.
func (e *Emitter) WriteSummary(v verdict.Verdict, meta SummaryMeta) (string, error) {
	body, err := RenderSummary(v, meta)
	if err != nil {
		return "", err
	}
	path := filepath.Join(e.Dir, defaults.SummaryFile)
	if err := writeAtomic(path, []byte(body)); err != nil {
		return "", fmt.Errorf("write summary: %w", err)
	}
	e.Logger.Info("summary saved", "path", path)
	return path, nil
}
