package umserrors

import (
	"errors"
	"fmt"
)

// Stage identifies which step of a schema pipeline failed.
type Stage string

const (
	StageConfig     Stage = "config"
	StageLoad       Stage = "load"
	StageExtract    Stage = "extract"
	StageSynthesize Stage = "synthesize"
	StageMap        Stage = "map"
	StageBind       Stage = "bind"
	StageAssemble   Stage = "assemble"
	StageWrite      Stage = "write"
)

// Code is a stable, programmatic error identifier.
type Code string

const (
	// Resolution errors.
	CodeRefNotFound   Code = "ref_not_found"
	CodeRefInvalid    Code = "ref_invalid"
	CodeRefCycle      Code = "ref_cycle"
	CodeFetchFailed   Code = "fetch_failed"
	CodeDecodeFailed  Code = "decode_failed"
	CodePointerTarget Code = "pointer_target"

	// Model errors.
	CodeInvalidVariants     Code = "invalid_variants"
	CodeInvalidVariant      Code = "invalid_variant"
	CodeMissingTitle        Code = "missing_title"
	CodeMissingDiscriminant Code = "missing_discriminant"
	CodeDuplicateTitle      Code = "duplicate_title"
	CodeNameCollision       Code = "name_collision"
	CodeUnsupportedSchema   Code = "unsupported_schema"

	// Mapping errors.
	CodeMappingGap      Code = "mapping_gap"
	CodeUnknownRequest  Code = "unknown_request"
	CodeUnknownResponse Code = "unknown_response"
	CodeDuplicateKey    Code = "duplicate_key"

	// Output errors.
	CodeFormatFailed Code = "format_failed"
	CodeWriteFailed  Code = "write_failed"
	CodeDrift        Code = "drift"

	CodeInvalidConfig Code = "invalid_config"
	CodeCanceled      Code = "canceled"
)

// Error is a structured error carrying enough context to locate the offending schema fragment.
type Error struct {
	Module  string
	Stage   Stage
	Code    Code
	Variant string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	where := e.Module
	if where == "" {
		where = "run"
	}
	if e.Variant != "" {
		where += " variant " + e.Variant
	}
	if e.Err != nil {
		return fmt.Sprintf("%s %s (%s): %v", where, e.Stage, e.Code, e.Err)
	}
	return fmt.Sprintf("%s %s (%s)", where, e.Stage, e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

func Wrap(module string, stage Stage, code Code, err error) error {
	return &Error{Module: module, Stage: stage, Code: code, Err: err}
}

// WithModule fills in the module name of a structured error that was raised
// before the module was known. Other errors are wrapped with the fallback
// stage and code.
func WithModule(module string, stage Stage, code Code, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		if e.Module == "" {
			cp := *e
			cp.Module = module
			return &cp
		}
		return err
	}
	return Wrap(module, stage, code, err)
}

// CodeOf returns the code of the first structured error in err's chain.
func CodeOf(err error) (Code, bool) {
	var e *Error
	if !errors.As(err, &e) {
		return "", false
	}
	return e.Code, true
}
