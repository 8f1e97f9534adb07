package zaptest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/waftester/zapgate/pkg/jsonutil"
	"github.com/waftester/zapgate/pkg/report"
	"github.com/waftester/zapgate/pkg/zap"
)

// NewEngine starts an httptest server speaking the engine's JSON API and
// backed by s. When apiKey is non-empty, requests without a matching
// X-ZAP-API-Key header are rejected the way the engine does.
func NewEngine(t testing.TB, s zap.Scanner, apiKey string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(Handler(s, apiKey))
	t.Cleanup(srv.Close)
	return srv
}

// Handler returns the http.Handler behind NewEngine.
func Handler(s zap.Scanner, apiKey string) http.Handler {
	e := &engine{scanner: s}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /JSON/core/view/version/", e.version)
	mux.HandleFunc("GET /JSON/context/action/newContext/", e.newContext)
	mux.HandleFunc("GET /JSON/context/action/includeInContext/", e.include)
	mux.HandleFunc("GET /JSON/context/action/excludeFromContext/", e.exclude)
	mux.HandleFunc("GET /JSON/spider/action/scan/", e.spiderScan)
	mux.HandleFunc("GET /JSON/spider/view/status/", e.spiderStatus)
	mux.HandleFunc("GET /JSON/spider/view/results/", e.spiderResults)
	mux.HandleFunc("GET /JSON/ascan/action/scan/", e.ascanScan)
	mux.HandleFunc("GET /JSON/ascan/view/status/", e.ascanStatus)
	mux.HandleFunc("GET /JSON/core/view/alerts/", e.alerts)
	mux.HandleFunc("GET /OTHER/core/other/htmlreport/", e.report(report.HTML))
	mux.HandleFunc("GET /OTHER/core/other/xmlreport/", e.report(report.XML))
	mux.HandleFunc("GET /OTHER/core/other/jsonreport/", e.report(report.JSON))

	if apiKey == "" {
		return mux
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-ZAP-API-Key") != apiKey {
			writeError(w, http.StatusUnauthorized, "bad_api_key", "Missing or invalid API key")
			return
		}
		mux.ServeHTTP(w, r)
	})
}

type engine struct {
	scanner zap.Scanner
}

func (e *engine) version(w http.ResponseWriter, r *http.Request) {
	v, err := e.scanner.Version(r.Context())
	if err != nil {
		// An engine that is still booting drops the connection.
		hijackClose(w)
		return
	}
	writeJSON(w, map[string]string{"version": v})
}

func (e *engine) newContext(w http.ResponseWriter, r *http.Request) {
	id, err := e.scanner.NewContext(r.Context(), r.URL.Query().Get("contextName"))
	if failed(w, err) {
		return
	}
	writeJSON(w, map[string]string{"contextId": id})
}

func (e *engine) include(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if failed(w, e.scanner.IncludeInContext(r.Context(), q.Get("contextName"), q.Get("regex"))) {
		return
	}
	writeJSON(w, map[string]string{"Result": "OK"})
}

func (e *engine) exclude(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if failed(w, e.scanner.ExcludeFromContext(r.Context(), q.Get("contextName"), q.Get("regex"))) {
		return
	}
	writeJSON(w, map[string]string{"Result": "OK"})
}

func (e *engine) spiderScan(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	maxChildren, _ := strconv.Atoi(q.Get("maxChildren"))
	h, err := e.scanner.StartSpider(r.Context(), zap.SpiderRequest{
		URL:         q.Get("url"),
		MaxChildren: maxChildren,
		Recurse:     q.Get("recurse") != "false",
		ContextName: q.Get("contextName"),
	})
	if failed(w, err) {
		return
	}
	writeJSON(w, map[string]string{"scan": string(h)})
}

func (e *engine) spiderStatus(w http.ResponseWriter, r *http.Request) {
	e.status(w, r, e.scanner.SpiderStatus)
}

func (e *engine) spiderResults(w http.ResponseWriter, r *http.Request) {
	urls, err := e.scanner.SpiderResults(r.Context(), zap.JobHandle(r.URL.Query().Get("scanId")))
	if failed(w, err) {
		return
	}
	if urls == nil {
		urls = []string{}
	}
	writeJSON(w, map[string][]string{"results": urls})
}

func (e *engine) ascanScan(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	h, err := e.scanner.StartActiveScan(r.Context(), zap.ActiveScanRequest{
		URL:       q.Get("url"),
		Recurse:   q.Get("recurse") != "false",
		ContextID: q.Get("contextId"),
	})
	if failed(w, err) {
		return
	}
	writeJSON(w, map[string]string{"scan": string(h)})
}

func (e *engine) ascanStatus(w http.ResponseWriter, r *http.Request) {
	e.status(w, r, e.scanner.ActiveScanStatus)
}

func (e *engine) status(w http.ResponseWriter, r *http.Request, fn func(context.Context, zap.JobHandle) (int, error)) {
	pct, err := fn(r.Context(), zap.JobHandle(r.URL.Query().Get("scanId")))
	if failed(w, err) {
		return
	}
	writeJSON(w, map[string]string{"status": strconv.Itoa(pct)})
}

// alerts serves the whole set on the first page and an empty page after.
func (e *engine) alerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	start, _ := strconv.Atoi(q.Get("start"))
	count, _ := strconv.Atoi(q.Get("count"))

	all, err := e.scanner.Alerts(r.Context())
	if failed(w, err) {
		return
	}
	start = min(max(start, 0), len(all))
	end := len(all)
	if count > 0 {
		end = min(start+count, len(all))
	}
	writeJSON(w, map[string]any{"alerts": all[start:end]})
}

func (e *engine) report(f report.Format) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := e.scanner.Report(r.Context(), f)
		if failed(w, err) {
			return
		}
		fmt.Fprint(w, body)
	}
}

// failed writes err as an engine error response and reports whether it did.
func failed(w http.ResponseWriter, err error) bool {
	if err == nil {
		return false
	}
	var apiErr *zap.APIError
	if errors.As(err, &apiErr) {
		status := apiErr.StatusCode
		if status == 0 {
			status = http.StatusBadRequest
		}
		writeError(w, status, apiErr.Code, apiErr.Message)
		return true
	}
	writeError(w, http.StatusBadRequest, "internal_error", err.Error())
	return true
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	body, _ := jsonutil.Marshal(map[string]string{"code": code, "message": message})
	_, _ = w.Write(body)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	body, err := jsonutil.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	_, _ = w.Write(body)
}

func hijackClose(w http.ResponseWriter) {
	hj, ok := w.(http.Hijacker)
	if !ok {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	conn, _, err := hj.Hijack()
	if err != nil {
		return
	}
	conn.Close()
}
