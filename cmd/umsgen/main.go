package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/pflag"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/busybeaver/lp-libs/umsgen/config"
	"github.com/busybeaver/lp-libs/umsgen/internal/cmdutil"
	umsversion "github.com/busybeaver/lp-libs/umsgen/internal/version"
	"github.com/busybeaver/lp-libs/umsgen/mapping"
	"github.com/busybeaver/lp-libs/umsgen/observability/prom"
	"github.com/busybeaver/lp-libs/umsgen/pipeline"
	"github.com/busybeaver/lp-libs/umsgen/umserrors"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func versionString() string {
	return umsversion.Resolve(version, commit, date).String()
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

type options struct {
	configPath  string
	outDir      string
	check       bool
	strict      bool
	concurrency int
	failFast    bool
	metricsFile string
	traceFile   string
	logLevel    string
	logFormat   string
}

func run(ctx context.Context, args []string, stdout io.Writer, stderr io.Writer) int {
	env := cmdutil.Env{Prefix: "UMSGEN"}
	opts := options{
		configPath:  env.String("config", ""),
		outDir:      env.String("out", ""),
		metricsFile: env.String("metrics-textfile", ""),
		traceFile:   env.String("trace-file", ""),
		logLevel:    env.String("log-level", "info"),
		logFormat:   env.String("log-format", "text"),
	}
	var err error
	for _, b := range []struct {
		name string
		dst  *bool
	}{{"check", &opts.check}, {"strict-mapping", &opts.strict}, {"fail-fast", &opts.failFast}} {
		if *b.dst, err = env.Bool(b.name, false); err != nil {
			fmt.Fprintf(stderr, "invalid %v\n", err)
			return 2
		}
	}
	if opts.concurrency, err = env.Int("concurrency", 0); err != nil {
		fmt.Fprintf(stderr, "invalid %v\n", err)
		return 2
	}

	showVersion := false
	fs := pflag.NewFlagSet("umsgen", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.SortFlags = false
	fs.BoolVar(&showVersion, "version", false, "print version and exit")
	fs.StringVarP(&opts.configPath, "config", "c", opts.configPath, "umsgen.yaml to generate from (required) (env: UMSGEN_CONFIG)")
	fs.StringVar(&opts.outDir, "out", opts.outDir, "output root, overrides output.dir (env: UMSGEN_OUT)")
	fs.BoolVar(&opts.check, "check", opts.check, "compare generated files against disk instead of writing them (env: UMSGEN_CHECK)")
	fs.BoolVar(&opts.strict, "strict-mapping", opts.strict, "fail on requests without a mapped response, overrides mapping_policy (env: UMSGEN_STRICT_MAPPING)")
	fs.IntVar(&opts.concurrency, "concurrency", opts.concurrency, "schema pipelines running at once (0 uses the config, then GOMAXPROCS) (env: UMSGEN_CONCURRENCY)")
	fs.BoolVar(&opts.failFast, "fail-fast", opts.failFast, "cancel remaining schemas after the first failure (env: UMSGEN_FAIL_FAST)")
	fs.StringVar(&opts.metricsFile, "metrics-textfile", opts.metricsFile, "write Prometheus metrics to this file after the run (env: UMSGEN_METRICS_TEXTFILE)")
	fs.StringVar(&opts.traceFile, "trace-file", opts.traceFile, "write OpenTelemetry spans as JSON to this file (env: UMSGEN_TRACE_FILE)")
	fs.StringVar(&opts.logLevel, "log-level", opts.logLevel, "debug, info, warn or error (env: UMSGEN_LOG_LEVEL)")
	fs.StringVar(&opts.logFormat, "log-format", opts.logFormat, "text or json (env: UMSGEN_LOG_FORMAT)")
	fs.Usage = func() {
		out := fs.Output()
		fmt.Fprintln(out, "Usage:")
		fmt.Fprintln(out, "  umsgen --config <umsgen.yaml> [flags]")
		fmt.Fprintln(out, "")
		fmt.Fprintln(out, "Examples:")
		fmt.Fprintln(out, "  # Generate every module listed in umsgen.yaml.")
		fmt.Fprintln(out, "  umsgen --config umsgen.yaml")
		fmt.Fprintln(out, "  # Fail CI when the checked-in bindings are stale.")
		fmt.Fprintln(out, "  umsgen --config umsgen.yaml --check --strict-mapping")
		fmt.Fprintln(out, "")
		fmt.Fprintln(out, "Output:")
		fmt.Fprintln(out, "  files: one package per schema, the common module and the aggregator")
		fmt.Fprintln(out, "  stderr: logs")
		fmt.Fprintln(out, "")
		fmt.Fprintln(out, "Exit codes:")
		fmt.Fprintln(out, "  0: success")
		fmt.Fprintln(out, "  2: usage error (bad flags/invalid config)")
		fmt.Fprintln(out, "  1: generation failed, or --check found stale files")
		fmt.Fprintln(out, "")
		fmt.Fprintln(out, "Env defaults:")
		fmt.Fprintln(out, "  UMSGEN_* (flags override env)")
		fmt.Fprintln(out, "")
		fmt.Fprintln(out, "Flags:")
		fs.PrintDefaults()
	}
	usageErr := func(msg string) int {
		if msg != "" {
			fmt.Fprintln(stderr, msg)
		}
		fs.Usage()
		return 2
	}
	// pflag leaves reporting to the caller under ContinueOnError, except for --help.
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return usageErr(err.Error())
	}
	if showVersion {
		_, _ = fmt.Fprintln(stdout, versionString())
		return 0
	}
	if fs.NArg() > 0 {
		return usageErr("unexpected arguments: " + strings.Join(fs.Args(), " "))
	}
	if strings.TrimSpace(opts.configPath) == "" {
		return usageErr("missing --config (or " + config.EnvConfig + ")")
	}
	if opts.concurrency < 0 {
		return usageErr("--concurrency must be >= 0")
	}
	logger, err := newLogger(stderr, opts.logLevel, opts.logFormat)
	if err != nil {
		return usageErr(err.Error())
	}

	cfg, err := config.LoadFile(opts.configPath)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}
	return generate(ctx, cfg, opts, logger, stderr)
}

func generate(ctx context.Context, cfg *config.Config, opts options, logger *slog.Logger, stderr io.Writer) int {
	popts := pipeline.Options{
		Logger:      logger,
		OutDir:      opts.outDir,
		Concurrency: opts.concurrency,
		FailFast:    opts.failFast,
		Check:       opts.check,
	}
	if opts.strict {
		popts.Policy = mapping.PolicyStrict
	}

	reg := prom.NewRegistry()
	if opts.metricsFile != "" {
		popts.Observer = prom.NewGenObserver(reg)
	}

	if opts.traceFile != "" {
		tp, closeTraces, err := newTracerProvider(opts.traceFile)
		if err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}
		defer func() {
			if err := closeTraces(context.WithoutCancel(ctx)); err != nil {
				logger.Warn("flush traces failed", "err", err)
			}
		}()
		popts.TracerProvider = tp
	}

	res, runErr := pipeline.Run(ctx, cfg, popts)

	if opts.metricsFile != "" {
		if err := prom.WriteTextfile(reg, opts.metricsFile); err != nil {
			logger.Warn("write metrics textfile failed", "path", opts.metricsFile, "err", err)
		}
	}
	if runErr != nil {
		if code, _ := umserrors.CodeOf(runErr); code == umserrors.CodeDrift {
			for _, p := range res.Drift {
				fmt.Fprintln(stderr, "stale:", p)
			}
		}
		fmt.Fprintln(stderr, runErr)
		return 1
	}
	written := 0
	for _, m := range res.Modules {
		if m.Written {
			written++
		}
	}
	logger.Info("generation finished", "modules", len(res.Modules), "written", written, "conflicts", len(res.Conflicts), "check", opts.check)
	return 0
}

func newLogger(w io.Writer, level string, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid --log-level %q", level)
	}
	hopts := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "text":
		return slog.New(slog.NewTextHandler(w, hopts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, hopts)), nil
	default:
		return nil, fmt.Errorf("invalid --log-format %q (want text or json)", format)
	}
}

// newTracerProvider exports spans synchronously to filename. The returned
// func shuts the provider down and closes the file.
func newTracerProvider(filename string) (*sdktrace.TracerProvider, func(context.Context) error, error) {
	f, err := os.Create(filename)
	if err != nil {
		return nil, nil, fmt.Errorf("open trace file: %w", err)
	}
	exp, err := stdouttrace.New(stdouttrace.WithWriter(f))
	if err != nil {
		_ = f.Close()
		return nil, nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(exp),
		sdktrace.WithResource(resource.NewSchemaless(
			attribute.String("service.name", "umsgen"),
			attribute.String("service.version", version),
		)),
	)
	return tp, func(ctx context.Context) error {
		return errors.Join(tp.Shutdown(ctx), f.Close())
	}, nil
}
