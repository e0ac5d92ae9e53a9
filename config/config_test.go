package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/busybeaver/lp-libs/umsgen/mapping"
	"github.com/busybeaver/lp-libs/umsgen/umserrors"
)

const sample = `
output:
  dir: gen/ums
  import_path: github.com/acme/app/gen/ums
mapping_policy: strict
concurrency: 4
schemas:
  - ref: schemas/ws/consumerRequests.json
  - ref: schemas/ws/consumerNotifications.json
    hook: notifications
  - ref: https://schemas.example.com/ws/consumerResponses.json
    hook: responses
    requests: consumerRequests
    mapping:
      InitConnection: ConnectionResponse
      PublishEvent: GenericResponse
`

func TestLoadFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	p := filepath.Join(dir, "umsgen.yaml")
	if err := os.WriteFile(p, []byte(sample), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadFile(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.OutputDir() != filepath.Join(dir, "gen", "ums") {
		t.Fatalf("unexpected output dir: %s", cfg.OutputDir())
	}
	if cfg.Output.CommonModule != "common_ums" || cfg.Output.IndexFile != "index.gen.go" {
		t.Fatalf("defaults not applied: %+v", cfg.Output)
	}
	if cfg.Convention.Discriminant != "type" || cfg.Convention.RequestIDField != "requestId" {
		t.Fatalf("convention defaults not applied: %+v", cfg.Convention)
	}
	if cfg.Policy() != mapping.PolicyStrict || cfg.Concurrency != 4 {
		t.Fatalf("unexpected policy/concurrency: %s %d", cfg.Policy(), cfg.Concurrency)
	}

	var names []string
	for _, s := range cfg.Schemas {
		names = append(names, s.ModuleName()+":"+string(s.Hook))
	}
	if got := strings.Join(names, ","); got != "consumerRequests:none,consumerNotifications:notifications,consumerResponses:responses" {
		t.Fatalf("unexpected schemas: %s", got)
	}
	resp, ok := cfg.Schema("consumerResponses")
	if !ok || resp.Mapping["PublishEvent"] != "GenericResponse" {
		t.Fatalf("unexpected responses schema: %+v", resp)
	}
}

func TestLoadUsesEnv(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "umsgen.yaml")
	if err := os.WriteFile(p, []byte(sample), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv(EnvConfig, p)
	if _, err := Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	t.Setenv(EnvConfig, "")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error without %s", EnvConfig)
	}
}

func TestParseRejects(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		src  string
		want string
	}{
		{"unknown key", "output: {import_path: a.com/b}\nschemas: [{ref: a.json}]\nextra: 1\n", "field extra not found"},
		{"no schemas", "output: {import_path: a.com/b}\n", "schemas is empty"},
		{"bad import path", "output: {import_path: 'a b'}\nschemas: [{ref: a.json}]\n", "output.import_path"},
		{"bad package", "output: {import_path: a.com/b, package: func}\nschemas: [{ref: a.json}]\n", "output.package"},
		{"duplicate module", "output: {import_path: a.com/b}\nschemas: [{ref: x/consumerRequests.json}, {ref: y/consumer_requests.json}]\n", "collides"},
		{"common collision", "output: {import_path: a.com/b}\nschemas: [{ref: x/commonUms.json}]\n", "collides"},
		{"unknown hook", "output: {import_path: a.com/b}\nschemas: [{ref: a.json, hook: pushes}]\n", "unknown hook"},
		{"responses without requests", "output: {import_path: a.com/b}\nschemas: [{ref: a.json, hook: responses}]\n", "needs requests"},
		{"unknown requests", "output: {import_path: a.com/b}\nschemas: [{ref: a.json, hook: responses, requests: b}]\n", "unknown module \"b\""},
		{"mapping without responses", "output: {import_path: a.com/b}\nschemas: [{ref: a.json, mapping: {A: B}}]\n", "only valid with hook: responses"},
		{"policy", "output: {import_path: a.com/b}\nmapping_policy: lax\nschemas: [{ref: a.json}]\n", "mapping_policy"},
		{"envelope names", "output: {import_path: a.com/b}\nconvention: {id_field: type}\nschemas: [{ref: a.json}]\n", "both map to field Type"},
		{"variants path", "output: {import_path: a.com/b}\nconvention: {variants: '$.anyOf[*'}\nschemas: [{ref: a.json}]\n", "convention.variants: invalid path"},
		{"negative concurrency", "output: {import_path: a.com/b}\nconcurrency: -1\nschemas: [{ref: a.json}]\n", "concurrency"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := Parse([]byte(tc.src), "/tmp")
			if err == nil {
				t.Fatalf("expected error")
			}
			if code, ok := umserrors.CodeOf(err); !ok || code != umserrors.CodeInvalidConfig {
				t.Fatalf("expected invalid_config, got %v", err)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected %q in %v", tc.want, err)
			}
		})
	}
}

func TestParseAcceptsJSONPathVariants(t *testing.T) {
	t.Parallel()

	cfg, err := Parse([]byte("output: {import_path: a.com/b}\nconvention: {variants: '$.definitions.events[*]'}\nschemas: [{ref: a.json}]\n"), "/tmp")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Convention.Variants != "$.definitions.events[*]" {
		t.Fatalf("unexpected variants: %q", cfg.Convention.Variants)
	}
}

func TestValidateReportsEveryProblem(t *testing.T) {
	t.Parallel()

	_, err := Parse([]byte("output: {import_path: ''}\nmapping_policy: lax\n"), "")
	if err == nil {
		t.Fatalf("expected error")
	}
	for _, want := range []string{"output.import_path", "mapping_policy", "schemas is empty"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %q in %v", want, err)
		}
	}
}
