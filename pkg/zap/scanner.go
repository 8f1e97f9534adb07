// Package zap is the client for the OWASP ZAP JSON/HTTP control API.
//
// The coordinator only depends on the Scanner interface so it can run
// against the scripted fakes in zaptest.
package zap

import (
	"context"

	"github.com/waftester/zapgate/pkg/finding"
	"github.com/waftester/zapgate/pkg/report"
)

// JobHandle identifies a spider or active scan started on the engine.
// It is only meaningful until the job reports completion.
type JobHandle string

// SpiderRequest holds spider/action/scan parameters.
type SpiderRequest struct {
	URL         string
	MaxChildren int
	Recurse     bool
	ContextName string
}

// ActiveScanRequest holds ascan/action/scan parameters.
type ActiveScanRequest struct {
	URL       string
	Recurse   bool
	ContextID string
}

// Scanner is the set of engine operations the scan workflow needs.
type Scanner interface {
	// Version is the liveness check.
	Version(ctx context.Context) (string, error)

	NewContext(ctx context.Context, name string) (string, error)
	IncludeInContext(ctx context.Context, contextName, regex string) error
	ExcludeFromContext(ctx context.Context, contextName, regex string) error

	StartSpider(ctx context.Context, req SpiderRequest) (JobHandle, error)
	SpiderStatus(ctx context.Context, job JobHandle) (int, error)
	SpiderResults(ctx context.Context, job JobHandle) ([]string, error)

	StartActiveScan(ctx context.Context, req ActiveScanRequest) (JobHandle, error)
	ActiveScanStatus(ctx context.Context, job JobHandle) (int, error)

	Alerts(ctx context.Context) ([]finding.Alert, error)
	Report(ctx context.Context, format report.Format) (string, error)
}
