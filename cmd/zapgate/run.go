package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/waftester/zapgate/pkg/cli"
	"github.com/waftester/zapgate/pkg/config"
	"github.com/waftester/zapgate/pkg/coordinator"
	"github.com/waftester/zapgate/pkg/defaults"
	"github.com/waftester/zapgate/pkg/duration"
	"github.com/waftester/zapgate/pkg/metrics"
	"github.com/waftester/zapgate/pkg/tracing"
	"github.com/waftester/zapgate/pkg/ui"
	"github.com/waftester/zapgate/pkg/zap"
	"github.com/waftester/zapgate/presets"
)

// flags holds process-level options. Scan behaviour lives in the config file.
type flags struct {
	ConfigPath   string
	Verbose      bool
	Silent       bool
	NoColor      bool
	JSONLogs     bool
	MetricsAddr  string
	MetricsFile  string
	OTelEndpoint string
	OTelInsecure bool
	Init         bool
	Version      bool
}

func parseFlags(args []string, stderr io.Writer) (*flags, error) {
	f := &flags{}
	fs := flag.NewFlagSet(defaults.ToolName, flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&f.ConfigPath, "config", defaults.ConfigFile, "Path to the YAML scan configuration")
	fs.BoolVar(&f.Verbose, "verbose", false, "Debug logging")
	fs.BoolVar(&f.Verbose, "v", false, "Debug logging (alias)")
	fs.BoolVar(&f.Silent, "silent", false, "Only print errors and the verdict")
	fs.BoolVar(&f.NoColor, "no-color", false, "Disable colored output")
	fs.BoolVar(&f.JSONLogs, "json-logs", false, "Emit logs as JSON lines")
	fs.StringVar(&f.MetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address during the run (e.g. :9090)")
	fs.StringVar(&f.MetricsFile, "metrics-file", "", "Write Prometheus metrics to this textfile when the run ends")
	fs.StringVar(&f.OTelEndpoint, "otel-endpoint", "", "OTLP gRPC endpoint for run traces (e.g. localhost:4317)")
	fs.BoolVar(&f.OTelInsecure, "otel-insecure", false, "Disable TLS for the OTLP exporter")
	fs.BoolVar(&f.Init, "init", false, "Write an example config to the -config path and exit")
	fs.BoolVar(&f.Version, "version", false, "Print version and exit")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	return f, nil
}

// run is the single error boundary: every failure, including a panic,
// ends in defaults.ExitFailure.
func run(args []string, stdout, stderr io.Writer) (code int) {
	f, err := parseFlags(args, stderr)
	if errors.Is(err, flag.ErrHelp) {
		return defaults.ExitSuccess
	}
	if err != nil {
		fmt.Fprintln(stderr, err)
		return defaults.ExitFailure
	}
	if f.Version {
		fmt.Fprintf(stdout, "%s %s\n", defaults.ToolName, defaults.Version)
		return defaults.ExitSuccess
	}
	if f.Init {
		if err := writeExample(f.ConfigPath); err != nil {
			fmt.Fprintln(stderr, err)
			return defaults.ExitFailure
		}
		fmt.Fprintf(stdout, "wrote %s\n", f.ConfigPath)
		return defaults.ExitSuccess
	}

	ui.SetOutput(stderr)
	ui.SetSilent(f.Silent)
	ui.SetNoColor(f.NoColor || f.JSONLogs)
	logger := cli.NewLogger(stderr, cli.LogOptions{Verbose: f.Verbose, Quiet: f.Silent, JSON: f.JSONLogs})

	defer func() {
		if r := recover(); r != nil {
			logger.Error("internal error", slog.Any("panic", r))
			ui.PrintError(fmt.Sprintf("internal error: %v", r))
			code = defaults.ExitFailure
		}
	}()

	ctx, cancel := cli.SignalContext(context.Background(), logger, duration.ShutdownGrace)
	defer cancel()

	res, err := scan(ctx, f, logger)
	if err != nil {
		logger.Error("scan failed", slog.String("error", err.Error()))
		return defaults.ExitFailure
	}
	printResult(stdout, res)
	return res.Verdict.ExitCode()
}

// writeExample creates path from the bundled example. An existing file is
// never overwritten.
func writeExample(path string) error {
	fh, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("init: %w", err)
	}
	if _, err := fh.Write(presets.ExampleConfig); err != nil {
		fh.Close()
		return fmt.Errorf("init: %w", err)
	}
	return fh.Close()
}

// scan loads the config, wires observers and runs the coordinator. A nil
// error means every phase completed and res.Verdict is set.
func scan(ctx context.Context, f *flags, logger *slog.Logger) (*coordinator.Result, error) {
	cfg, err := config.Load(f.ConfigPath)
	if err != nil {
		return nil, err
	}

	client, err := zap.New(zap.Options{
		BaseURL:     cfg.ZAPProxy,
		APIKey:      cfg.APIKey,
		Timeout:     cfg.API.Timeout.D(),
		Retries:     cfg.Retries(),
		RateLimit:   cfg.RateLimit(),
		InsecureTLS: cfg.API.InsecureTLS,
		Logger:      logger,
	})
	if err != nil {
		return nil, fmt.Errorf("engine client: %w", err)
	}

	ui.PrintBanner()
	ui.PrintConfigLine("Engine", client.BaseURL())
	ui.PrintConfigLine("Config", f.ConfigPath)

	observers := []coordinator.Observer{ui.NewConsole()}

	if f.MetricsAddr != "" || f.MetricsFile != "" {
		rec, err := metrics.NewRecorder(logger)
		if err != nil {
			return nil, fmt.Errorf("metrics: %w", err)
		}
		defer func() {
			if f.MetricsFile != "" {
				if err := rec.WriteTextfile(f.MetricsFile); err != nil {
					logger.Warn("writing metrics textfile failed", slog.String("path", f.MetricsFile), slog.String("error", err.Error()))
				}
			}
			if err := rec.Close(); err != nil {
				logger.Warn("closing metrics server failed", slog.String("error", err.Error()))
			}
		}()
		if f.MetricsAddr != "" {
			if err := rec.Serve(f.MetricsAddr); err != nil {
				return nil, fmt.Errorf("metrics: %w", err)
			}
			ui.PrintConfigLine("Metrics", "http://"+rec.MetricsAddr()+"/metrics")
		}
		observers = append(observers, rec)
	}

	if f.OTelEndpoint != "" {
		tr, err := tracing.New(tracing.Options{
			Endpoint: f.OTelEndpoint,
			Insecure: f.OTelInsecure,
		})
		if err != nil {
			return nil, fmt.Errorf("tracing: %w", err)
		}
		defer func() {
			if err := tr.Close(); err != nil {
				logger.Warn("flushing traces failed", slog.String("error", err.Error()))
			}
		}()
		ui.PrintConfigLine("Traces", tr.Endpoint())
		observers = append(observers, tr)
	}

	c := coordinator.New(client, cfg,
		coordinator.WithLogger(logger),
		coordinator.WithObserver(observers...),
	)
	return c.Run(ctx)
}

// printResult writes report paths and the verdict summary to stdout. On an
// interactive terminal the styled table replaces the plain summary.
func printResult(stdout io.Writer, res *coordinator.Result) {
	for _, p := range res.Reports {
		fmt.Fprintf(stdout, "report: %s\n", p)
	}
	if res.Summary != "" {
		fmt.Fprintf(stdout, "summary: %s\n", res.Summary)
	}
	if ui.IsTerminal(stdout) {
		ui.WriteVerdict(stdout, *res.Verdict)
		return
	}
	fmt.Fprint(stdout, res.Verdict.Summary())
}
