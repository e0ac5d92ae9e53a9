package version

import (
	"strings"
	"testing"
)

func TestResolve_UsesProvidedValues(t *testing.T) {
	t.Parallel()

	got := Resolve("v1.2.3", "abc", "2020-01-01T00:00:00Z")
	got.Go = "go1.25.0"
	want := "umsgen v1.2.3 (abc) 2020-01-01T00:00:00Z go1.25.0"
	if got.String() != want {
		t.Fatalf("unexpected version string: got %q, want %q", got.String(), want)
	}
}

func TestString_OmitsUnknownVCSFields(t *testing.T) {
	t.Parallel()

	got := Info{Version: "v1.2.3", Commit: "unknown", Date: "unknown"}.String()
	if got != "umsgen v1.2.3" {
		t.Fatalf("unexpected version string: %q", got)
	}
}

func TestResolve_DefaultsToDev(t *testing.T) {
	t.Parallel()

	got := Resolve("", "unknown", "unknown")
	if got.Version == "" {
		t.Fatalf("expected a version")
	}
	if strings.Contains(got.String(), "unknown") {
		t.Fatalf("expected VCS placeholders to be omitted, got %q", got)
	}
}
