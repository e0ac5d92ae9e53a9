// Package pipeline runs one generation: a concurrent pipeline per schema,
// then, once every pipeline succeeded, the common module and the aggregator.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/busybeaver/lp-libs/umsgen/assemble"
	"github.com/busybeaver/lp-libs/umsgen/config"
	"github.com/busybeaver/lp-libs/umsgen/internal/outfile"
	"github.com/busybeaver/lp-libs/umsgen/mapping"
	"github.com/busybeaver/lp-libs/umsgen/observability"
	"github.com/busybeaver/lp-libs/umsgen/schema"
	"github.com/busybeaver/lp-libs/umsgen/umserrors"
)

const instrumentationName = "github.com/busybeaver/lp-libs/umsgen"

// Options tune a run. The zero value writes files with the configured settings.
type Options struct {
	Logger   *slog.Logger
	Observer observability.GenObserver
	// TracerProvider supplies the tracer. Defaults to otel.GetTracerProvider().
	TracerProvider trace.TracerProvider
	// Fetcher reads schema documents. Defaults to schema.DefaultFetcher.
	Fetcher schema.Fetcher

	// OutDir overrides the configured output directory.
	OutDir string
	// Policy overrides the configured mapping policy.
	Policy mapping.Policy
	// Concurrency overrides the configured pipeline limit.
	Concurrency int
	// FailFast cancels the remaining pipelines after the first failure.
	FailFast bool
	// Check compares the generated files against disk instead of writing them.
	Check bool
}

// ModuleResult describes one generated file.
type ModuleResult struct {
	Name string
	Ref  string
	// Path is the file path on disk.
	Path   string
	Digest string
	State  outfile.State
	// Written is set when the file was replaced.
	Written  bool
	Variants int
	Methods  []string
	// Skipped lists request titles left without a method.
	Skipped []string
}

// Result summarizes a run.
type Result struct {
	// Modules follow processing order: schemas, common module, aggregator.
	// Failed schemas are absent.
	Modules   []ModuleResult
	Conflicts []assemble.Conflict
	// Drift lists the files that differ from disk in check mode.
	Drift []string
}

type runner struct {
	cfg    *config.Config
	opts   Options
	layout assemble.Layout
	outDir string
	policy mapping.Policy
	logger *slog.Logger
	obs    observability.GenObserver
	tracer trace.Tracer
}

// Run generates every module of cfg. Schema pipelines share no state; each
// fills its own result slot. The common module and the aggregator are only
// produced when all pipelines succeeded, otherwise the joined pipeline errors
// are returned.
func Run(ctx context.Context, cfg *config.Config, opts Options) (*Result, error) {
	r := newRunner(cfg, opts)
	start := time.Now()
	res, err := r.run(ctx)
	result := observability.RunResultOK
	if err != nil {
		result = observability.RunResultFail
	}
	r.obs.Run(result, time.Since(start))
	return res, err
}

func newRunner(cfg *config.Config, opts Options) *runner {
	r := &runner{
		cfg:  cfg,
		opts: opts,
		layout: assemble.Layout{
			ImportPath:   cfg.Output.ImportPath,
			Package:      cfg.Output.Package,
			CommonModule: cfg.Output.CommonModule,
			IndexFile:    cfg.Output.IndexFile,
		},
		outDir: cfg.OutputDir(),
		policy: cfg.Policy(),
		logger: opts.Logger,
		obs:    observability.OrNoop(opts.Observer),
	}
	if opts.OutDir != "" {
		r.outDir = opts.OutDir
	}
	if opts.Policy != "" {
		r.policy = opts.Policy
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	tp := opts.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	r.tracer = tp.Tracer(instrumentationName)
	return r
}

func (r *runner) concurrency() int {
	n := r.cfg.Concurrency
	if r.opts.Concurrency > 0 {
		n = r.opts.Concurrency
	}
	if n <= 0 {
		n = runtime.GOMAXPROCS(0)
	}
	return n
}

func (r *runner) run(ctx context.Context) (*Result, error) {
	ctx, span := r.tracer.Start(ctx, "umsgen.run", trace.WithAttributes(
		attribute.Int("umsgen.schemas", len(r.cfg.Schemas)),
		attribute.Bool("umsgen.check", r.opts.Check),
	))
	defer span.End()

	n := len(r.cfg.Schemas)
	slots := make([]*built, n)
	errs := make([]error, n)

	var g *errgroup.Group
	gctx := ctx
	if r.opts.FailFast {
		g, gctx = errgroup.WithContext(ctx)
	} else {
		g = &errgroup.Group{}
	}
	g.SetLimit(r.concurrency())
	for i, s := range r.cfg.Schemas {
		g.Go(func() error {
			b, err := r.schema(gctx, s)
			if err != nil {
				errs[i] = err
				if r.opts.FailFast {
					return err
				}
				return nil
			}
			slots[i] = b
			return nil
		})
	}
	_ = g.Wait()

	res := &Result{}
	for _, b := range slots {
		if b != nil {
			res.Modules = append(res.Modules, b.result)
			if b.result.State == outfile.StateDiffers || b.result.State == outfile.StateMissing {
				res.Drift = append(res.Drift, b.result.Path)
			}
		}
	}
	if err := errors.Join(errs...); err != nil {
		r.logger.Error("generation failed, aggregator not written", "failed", countErrs(errs), "schemas", n)
		span.RecordError(err)
		span.SetStatus(codes.Error, "schema pipelines failed")
		return res, err
	}

	mods := make([]*assemble.Module, 0, n+1)
	for _, b := range slots {
		mods = append(mods, b.module)
	}
	if err := r.finish(ctx, mods, res); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return res, err
	}
	if len(res.Drift) > 0 {
		err := &umserrors.Error{Stage: umserrors.StageWrite, Code: umserrors.CodeDrift,
			Err: fmt.Errorf("%d generated file(s) out of date: %v", len(res.Drift), res.Drift)}
		span.SetStatus(codes.Error, err.Error())
		return res, err
	}
	return res, nil
}

// finish writes the common module and the aggregator.
func (r *runner) finish(ctx context.Context, mods []*assemble.Module, res *Result) error {
	ctx, span := r.tracer.Start(ctx, "umsgen.aggregate")
	defer span.End()

	env := assemble.Envelope{
		Discriminant: r.cfg.Convention.Discriminant,
		ID:           r.cfg.Convention.IDField,
		RequestID:    r.cfg.Convention.RequestIDField,
	}
	common, err := r.layout.AssembleCommon(env)
	if err != nil {
		return umserrors.WithModule(r.cfg.Output.CommonModule, umserrors.StageAssemble, umserrors.CodeFormatFailed, err)
	}
	mods = append(mods, common)

	index, conflicts, err := r.layout.Aggregate(mods)
	if err != nil {
		return umserrors.WithModule("index", umserrors.StageAssemble, umserrors.CodeFormatFailed, err)
	}
	res.Conflicts = conflicts
	r.obs.Conflicts(len(conflicts))
	for _, c := range conflicts {
		r.logger.Warn("exported name already re-exported, skipped", "name", c.Name, "module", c.Module, "winner", c.Winner)
	}
	span.SetAttributes(attribute.Int("umsgen.conflicts", len(conflicts)))

	for _, m := range []*assemble.Module{common, index} {
		mr, err := r.emit(ctx, m)
		if err != nil {
			return umserrors.WithModule(m.Name, umserrors.StageWrite, umserrors.CodeWriteFailed, err)
		}
		res.Modules = append(res.Modules, mr)
		if mr.State == outfile.StateDiffers || mr.State == outfile.StateMissing {
			res.Drift = append(res.Drift, mr.Path)
		}
	}
	return nil
}

// emit writes m below the output root, or compares it in check mode.
func (r *runner) emit(ctx context.Context, m *assemble.Module) (ModuleResult, error) {
	mr := ModuleResult{
		Name:   m.Name,
		Ref:    m.Ref,
		Path:   filepath.Join(r.outDir, filepath.FromSlash(m.Path)),
		Digest: outfile.Digest(m.Source),
	}
	if err := ctx.Err(); err != nil {
		return mr, err
	}
	if r.opts.Check {
		st, err := outfile.Compare(mr.Path, m.Source)
		if err != nil {
			return mr, err
		}
		mr.State = st
		switch st {
		case outfile.StateSame:
			r.obs.File(observability.FileResultUnchanged)
		case outfile.StateMissing:
			r.obs.File(observability.FileResultMissing)
			r.logger.Warn("generated file missing", "module", m.Name, "path", mr.Path)
		default:
			r.obs.File(observability.FileResultDrift)
			r.logger.Warn("generated file out of date", "module", m.Name, "path", mr.Path)
		}
		return mr, nil
	}

	changed, err := outfile.Write(mr.Path, m.Source, 0o644)
	if err != nil {
		return mr, err
	}
	mr.State = outfile.StateSame
	mr.Written = changed
	if changed {
		r.obs.File(observability.FileResultWritten)
		r.logger.Info("wrote module", "module", m.Name, "path", mr.Path, "digest", mr.Digest[:12])
	} else {
		r.obs.File(observability.FileResultUnchanged)
		r.logger.Debug("module unchanged", "module", m.Name, "path", mr.Path)
	}
	return mr, nil
}

func countErrs(errs []error) int {
	n := 0
	for _, err := range errs {
		if err != nil {
			n++
		}
	}
	return n
}
