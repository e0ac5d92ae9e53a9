package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/busybeaver/lp-libs/umsgen/assemble"
	"github.com/busybeaver/lp-libs/umsgen/binding"
	"github.com/busybeaver/lp-libs/umsgen/config"
	"github.com/busybeaver/lp-libs/umsgen/eventmodel"
	"github.com/busybeaver/lp-libs/umsgen/mapping"
	"github.com/busybeaver/lp-libs/umsgen/observability"
	"github.com/busybeaver/lp-libs/umsgen/schema"
	"github.com/busybeaver/lp-libs/umsgen/typegen"
	"github.com/busybeaver/lp-libs/umsgen/umserrors"
)

type built struct {
	module *assemble.Module
	result ModuleResult
}

// schema runs load, extract, synthesize, map, bind, assemble and write for
// one schema. Nothing it touches is shared with sibling pipelines.
func (r *runner) schema(ctx context.Context, s config.Schema) (b *built, err error) {
	name := s.ModuleName()
	log := r.logger.With("module", name, "ref", s.Ref)
	ctx, span := r.tracer.Start(ctx, "umsgen.schema", trace.WithAttributes(
		attribute.String("umsgen.module", name),
		attribute.String("umsgen.ref", s.Ref),
		attribute.String("umsgen.hook", string(s.Hook)),
	))
	start := time.Now()
	failed := umserrors.Stage("")
	defer func() {
		result := observability.ModuleResultOK
		if err != nil {
			result = observability.ModuleResultFail
			if code, _ := umserrors.CodeOf(err); code == umserrors.CodeCanceled {
				result = observability.ModuleResultCanceled
			}
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			log.Error("schema pipeline failed", "stage", string(failed), "err", err)
		}
		r.obs.Module(name, result, string(failed), time.Since(start))
		span.End()
	}()

	loader := &schema.Loader{Fetcher: r.opts.Fetcher, Logger: log, BaseDir: r.cfg.BaseDir}
	if loader.Fetcher == nil {
		loader.Fetcher = schema.DefaultFetcher{}
	}
	conv := eventmodel.Convention{Variants: r.cfg.Convention.Variants, Discriminant: r.cfg.Convention.Discriminant}
	common := r.layout.Common()

	var (
		doc      *schema.Document
		model    *eventmodel.Model
		file     *typegen.File
		req      binding.RequestModule
		res      *mapping.Resolution
		contract *binding.Contract
		module   *assemble.Module
		mr       ModuleResult
	)
	steps := []struct {
		stage umserrors.Stage
		code  umserrors.Code
		run   func(context.Context) error
	}{
		{umserrors.StageLoad, umserrors.CodeFetchFailed, func(ctx context.Context) (err error) {
			doc, err = loader.Load(ctx, s.Ref)
			return err
		}},
		{umserrors.StageExtract, umserrors.CodeInvalidVariants, func(context.Context) (err error) {
			model, err = eventmodel.Extract(doc, conv)
			if err != nil {
				return err
			}
			model.Name = name
			log.Debug("event model extracted", "variants", len(model.Variants))
			r.obs.Variants(name, len(model.Variants))
			return nil
		}},
		{umserrors.StageSynthesize, umserrors.CodeUnsupportedSchema, func(context.Context) (err error) {
			file, err = typegen.Synthesize(doc, model, conv.Discriminant)
			return err
		}},
		{umserrors.StageMap, umserrors.CodeMappingGap, func(ctx context.Context) (err error) {
			if s.Hook != config.HookResponses {
				return nil
			}
			req, res, err = r.resolve(ctx, loader, s, file, conv)
			if err != nil {
				return err
			}
			mr.Skipped = res.Skipped
			r.obs.MappingGaps(name, len(res.Skipped))
			return nil
		}},
		{umserrors.StageBind, umserrors.CodeNameCollision, func(context.Context) (err error) {
			switch s.Hook {
			case config.HookNotifications:
				contract, err = binding.Notifications(file, common.Name)
			case config.HookResponses:
				contract = binding.Responses(file, req, res, common.Name)
			}
			if err == nil && contract != nil {
				r.obs.Methods(name, len(contract.Methods))
			}
			return err
		}},
		{umserrors.StageAssemble, umserrors.CodeFormatFailed, func(context.Context) (err error) {
			sections := []assemble.Section{file}
			if contract != nil {
				sections = append(sections, contract)
			}
			module, err = r.layout.Assemble(name, s.Ref, sections...)
			return err
		}},
		{umserrors.StageWrite, umserrors.CodeWriteFailed, func(ctx context.Context) error {
			written, err := r.emit(ctx, module)
			if err != nil {
				return err
			}
			written.Skipped = mr.Skipped
			mr = written
			return nil
		}},
	}
	for _, st := range steps {
		if err := r.step(ctx, name, st.stage, st.code, st.run); err != nil {
			failed = st.stage
			return nil, err
		}
	}

	mr.Variants = len(model.Variants)
	if contract != nil {
		mr.Methods = contract.MethodNames()
	}
	return &built{module: module, result: mr}, nil
}

// step runs one stage under its own span. Unstructured errors get code.
func (r *runner) step(ctx context.Context, module string, stage umserrors.Stage, code umserrors.Code, run func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return umserrors.Wrap(module, stage, umserrors.CodeCanceled, err)
	}
	ctx, span := r.tracer.Start(ctx, "umsgen."+string(stage))
	defer span.End()
	if err := run(ctx); err != nil {
		if ctx.Err() != nil {
			err = umserrors.Wrap(module, stage, umserrors.CodeCanceled, err)
		}
		err = umserrors.WithModule(module, stage, code, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

// resolve loads the request schema named by s.Requests independently of its
// own pipeline and resolves the mapping against it.
func (r *runner) resolve(ctx context.Context, loader *schema.Loader, s config.Schema, file *typegen.File, conv eventmodel.Convention) (binding.RequestModule, *mapping.Resolution, error) {
	var req binding.RequestModule
	reqSchema, ok := r.cfg.Schema(s.Requests)
	if !ok {
		return req, nil, &umserrors.Error{Stage: umserrors.StageMap, Code: umserrors.CodeUnknownRequest, Err: fmt.Errorf("no configured module %q", s.Requests)}
	}
	reqDoc, err := loader.Load(ctx, reqSchema.Ref)
	if err != nil {
		return req, nil, err
	}
	reqModel, err := eventmodel.Extract(reqDoc, conv)
	if err != nil {
		return req, nil, err
	}
	reqModel.Name = s.Requests

	res, err := mapping.Resolve(reqModel, file, s.Mapping, r.policy, r.logger.With("module", s.ModuleName()))
	if err != nil {
		return req, nil, err
	}
	req = binding.RequestModule{Model: reqModel, Import: r.layout.Import(s.Requests), Discriminant: conv.Discriminant}
	return req, res, nil
}
