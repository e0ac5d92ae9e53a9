package umserrors

import (
	"errors"
	"io"
	"strings"
	"testing"
)

func TestErrorString(t *testing.T) {
	t.Parallel()

	err := &Error{Module: "consumer_requests", Stage: StageExtract, Code: CodeMissingTitle, Variant: "#2", Err: io.EOF}
	s := err.Error()
	for _, want := range []string{"consumer_requests", "variant #2", "extract", "missing_title", "EOF"} {
		if !strings.Contains(s, want) {
			t.Fatalf("expected %q in %q", want, s)
		}
	}
	if !errors.Is(err, io.EOF) {
		t.Fatalf("expected unwrap to io.EOF")
	}
}

func TestWithModuleFillsMissingModule(t *testing.T) {
	t.Parallel()

	base := &Error{Stage: StageLoad, Code: CodeRefNotFound}
	err := WithModule("agent_responses", StageLoad, CodeFetchFailed, base)
	var e *Error
	if !errors.As(err, &e) {
		t.Fatalf("expected *Error")
	}
	if e.Module != "agent_responses" || e.Code != CodeRefNotFound {
		t.Fatalf("unexpected error: %+v", e)
	}
	if base.Module != "" {
		t.Fatalf("original error must not be mutated")
	}

	plain := WithModule("m", StageWrite, CodeWriteFailed, io.ErrShortWrite)
	if code, ok := CodeOf(plain); !ok || code != CodeWriteFailed {
		t.Fatalf("unexpected code: %q %v", code, ok)
	}
	if WithModule("m", StageWrite, CodeWriteFailed, nil) != nil {
		t.Fatalf("nil must stay nil")
	}
}
