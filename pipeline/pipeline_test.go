package pipeline

import (
	"bytes"
	"context"
	"errors"
	"go/ast"
	"go/importer"
	"go/parser"
	"go/token"
	"go/types"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/busybeaver/lp-libs/umsgen/config"
	"github.com/busybeaver/lp-libs/umsgen/internal/outfile"
	"github.com/busybeaver/lp-libs/umsgen/schema"
	"github.com/busybeaver/lp-libs/umsgen/umserrors"
)

const base = "https://schemas.test/ws/"

var schemas = schema.MapFetcher{
	base + "envelope.json": []byte(`{
		"definitions": {
			"send": {"type": "object", "required": ["type", "id"], "properties": {"type": {"type": "string"}, "id": {"type": "string"}}},
			"response": {"type": "object", "required": ["type", "requestId"], "properties": {"type": {"type": "string"}, "requestId": {"type": "string"}}}
		}
	}`),
	base + "consumerRequests.json": []byte(`{
		// Requests a consumer sends over the socket.
		"description": "Requests sent by a consumer.",
		"anyOf": [
			{"title": "InitConnection", "allOf": [
				{"$ref": "envelope.json#/definitions/send"},
				{"properties": {"type": {"default": "InitConnection"}, "protocolVersion": {"type": "integer"}, "token": {"type": "string"}}, "required": ["protocolVersion"]}
			]},
			{"title": "PublishEvent", "allOf": [
				{"$ref": "envelope.json#/definitions/send"},
				{"properties": {"type": {"default": "ms.PublishEvent"}, "event": {"$ref": "#/definitions/event"}}, "required": ["event"]}
			]},
			{"title": "Subscribe", "allOf": [
				{"$ref": "envelope.json#/definitions/send"},
				{"properties": {"type": {"default": "ms.Subscribe"}, "topics": {"type": "array", "items": {"type": "string"}}}}
			]},
		],
		"definitions": {
			"event": {"title": "Event", "type": "object", "properties": {"name": {"type": "string"}, "data": {}}}
		}
	}`),
	base + "consumerResponses.json": []byte(`{
		"anyOf": [
			{"title": "ConnectionResponse", "allOf": [
				{"$ref": "envelope.json#/definitions/response"},
				{"properties": {"type": {"default": "ConnectionResponse"}, "sessionId": {"type": "string"}}}
			]},
			{"title": "GenericResponse", "allOf": [
				{"$ref": "envelope.json#/definitions/response"},
				{"properties": {"type": {"default": "GenericResponse"}, "ok": {"type": "boolean"}}}
			]}
		]
	}`),
	base + "consumerNotifications.json": []byte(`{
		"anyOf": [
			{"title": "ServerEvent", "properties": {"type": {"const": "ms.ServerEvent"}, "event": {"type": "object", "properties": {"name": {"type": "string"}}}}},
			{"title": "ConnectionClosed", "properties": {"type": {"const": "ConnectionClosed"}, "reason": {"type": "string"}}}
		]
	}`),
	base + "broken.json": []byte(`{"anyOf": [{"properties": {"type": {"default": "x"}}}]}`),
}

const sampleConfig = `
output:
  dir: ums
  import_path: example.com/app/ums
mapping_policy: warn
schemas:
  - ref: https://schemas.test/ws/consumerRequests.json
  - ref: https://schemas.test/ws/consumerResponses.json
    hook: responses
    requests: consumerRequests
    mapping:
      InitConnection: ConnectionResponse
      PublishEvent: GenericResponse
  - ref: https://schemas.test/ws/consumerNotifications.json
    hook: notifications
`

func loadConfig(t *testing.T, src string) *config.Config {
	t.Helper()
	cfg, err := config.Parse([]byte(src), t.TempDir())
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	return cfg
}

func read(t *testing.T, dir, rel string) string {
	t.Helper()
	b, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(rel)))
	if err != nil {
		t.Fatalf("read %s: %v", rel, err)
	}
	return string(b)
}

func TestRunGeneratesEveryModule(t *testing.T) {
	t.Parallel()

	out := t.TempDir()
	var logs bytes.Buffer
	res, err := Run(context.Background(), loadConfig(t, sampleConfig), Options{
		Fetcher: schemas,
		OutDir:  out,
		Logger:  slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug})),
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	var names []string
	for _, m := range res.Modules {
		names = append(names, m.Name)
		if !m.Written || m.State != outfile.StateSame || len(m.Digest) != 64 {
			t.Fatalf("unexpected module result: %+v", m)
		}
	}
	if got := strings.Join(names, ","); got != "consumerRequests,consumerResponses,consumerNotifications,common_ums,ums" {
		t.Fatalf("unexpected processing order: %s", got)
	}

	resp := res.Modules[1]
	if strings.Join(resp.Methods, ",") != "DoInitConnection,DoPublishEvent" || strings.Join(resp.Skipped, ",") != "Subscribe" {
		t.Fatalf("unexpected responses binding: %+v", resp)
	}
	if !strings.Contains(logs.String(), "variant=Subscribe") {
		t.Fatalf("expected a warning for the unmapped request:\n%s", logs.String())
	}

	reqs := read(t, out, "consumer_requests/consumer_requests.gen.go")
	for _, want := range []string{
		"// Code generated by umsgen from https://schemas.test/ws/consumerRequests.json. DO NOT EDIT.",
		"package consumerrequests",
		`ConsumerRequestsEventPublishEvent   ConsumerRequestsEvent = "ms.PublishEvent"`,
		"func DecodeConsumerRequests(data []byte) (ConsumerRequests, error) {",
		"\tInitConnectionPayload\n}",
	} {
		if !strings.Contains(reqs, want) {
			t.Fatalf("expected %q in\n%s", want, reqs)
		}
	}

	responses := read(t, out, "consumer_responses/consumer_responses.gen.go")
	for _, want := range []string{
		`consumerrequests "example.com/app/ums/consumer_requests"`,
		"func (w *WrappedConsumerResponses) DoInitConnection(ctx context.Context, data consumerrequests.InitConnectionPayload) (*ConnectionResponse, error) {",
		"Type: string(consumerrequests.ConsumerRequestsEventPublishEvent), PublishEventPayload: data}",
	} {
		if !strings.Contains(responses, want) {
			t.Fatalf("expected %q in\n%s", want, responses)
		}
	}
	if strings.Contains(responses, "DoSubscribe") {
		t.Fatalf("unmapped request got a method:\n%s", responses)
	}

	notes := read(t, out, "consumer_notifications/consumer_notifications.gen.go")
	if !strings.Contains(notes, "OnServerEvent(cb func(*ServerEvent))") || !strings.Contains(notes, "OnConnectionClosed(cb func(*ConnectionClosed))") {
		t.Fatalf("missing notification methods:\n%s", notes)
	}

	index := read(t, out, "index.gen.go")
	if !strings.Contains(index, "package ums") || !strings.Contains(index, `commonums "example.com/app/ums/common_ums"`) {
		t.Fatalf("unexpected aggregator:\n%s", index)
	}
	if strings.Index(index, "consumerrequests.") > strings.Index(index, "consumerresponses.") ||
		strings.Index(index, "consumernotifications.") > strings.Index(index, "commonums.") {
		t.Fatalf("aggregator out of processing order:\n%s", index)
	}
}

func TestRunIsDeterministic(t *testing.T) {
	t.Parallel()

	cfg := loadConfig(t, sampleConfig)
	a, b := t.TempDir(), t.TempDir()
	first, err := Run(context.Background(), cfg, Options{Fetcher: schemas, OutDir: a, Concurrency: 1})
	if err != nil {
		t.Fatalf("run a: %v", err)
	}
	second, err := Run(context.Background(), cfg, Options{Fetcher: schemas, OutDir: b, Concurrency: 8})
	if err != nil {
		t.Fatalf("run b: %v", err)
	}
	for i := range first.Modules {
		if first.Modules[i].Digest != second.Modules[i].Digest {
			t.Fatalf("module %s differs between runs", first.Modules[i].Name)
		}
	}

	again, err := Run(context.Background(), cfg, Options{Fetcher: schemas, OutDir: a})
	if err != nil {
		t.Fatalf("rerun: %v", err)
	}
	for _, m := range again.Modules {
		if m.Written {
			t.Fatalf("identical output rewritten: %s", m.Path)
		}
	}
}

func TestRunFailureWritesNoAggregator(t *testing.T) {
	t.Parallel()

	cfg := loadConfig(t, sampleConfig+"  - ref: https://schemas.test/ws/broken.json\n")
	out := t.TempDir()
	res, err := Run(context.Background(), cfg, Options{Fetcher: schemas, OutDir: out})
	if err == nil {
		t.Fatalf("expected failure")
	}
	var e *umserrors.Error
	if !errors.As(err, &e) || e.Code != umserrors.CodeMissingTitle || e.Module != "broken" || e.Stage != umserrors.StageExtract {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(res.Modules) != 3 {
		t.Fatalf("siblings must complete independently, got %d modules", len(res.Modules))
	}
	if _, err := os.Stat(filepath.Join(out, "consumer_requests", "consumer_requests.gen.go")); err != nil {
		t.Fatalf("sibling module not written: %v", err)
	}
	for _, p := range []string{"index.gen.go", filepath.Join("common_ums", "common_ums.gen.go"), "broken"} {
		if _, err := os.Stat(filepath.Join(out, p)); !os.IsNotExist(err) {
			t.Fatalf("%s must not exist after a failed run (err=%v)", p, err)
		}
	}
}

func TestRunFailFastCancelsSiblings(t *testing.T) {
	t.Parallel()

	cfg := loadConfig(t, `
output: {import_path: example.com/app/ums}
schemas:
  - ref: https://schemas.test/ws/broken.json
  - ref: https://schemas.test/ws/consumerRequests.json
`)
	out := t.TempDir()
	res, err := Run(context.Background(), cfg, Options{Fetcher: schemas, OutDir: out, FailFast: true, Concurrency: 1})
	if err == nil {
		t.Fatalf("expected failure")
	}
	if !strings.Contains(err.Error(), "consumerRequests load (canceled)") {
		t.Fatalf("expected the sibling to be canceled: %v", err)
	}
	if len(res.Modules) != 0 {
		t.Fatalf("unexpected modules: %+v", res.Modules)
	}
}

func TestRunStrictMappingFailsModule(t *testing.T) {
	t.Parallel()

	cfg := loadConfig(t, strings.Replace(sampleConfig, "mapping_policy: warn", "mapping_policy: strict", 1))
	_, err := Run(context.Background(), cfg, Options{Fetcher: schemas, OutDir: t.TempDir()})
	var e *umserrors.Error
	if !errors.As(err, &e) || e.Code != umserrors.CodeMappingGap || e.Module != "consumerResponses" || e.Variant != "Subscribe" {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRunCheckDetectsDrift(t *testing.T) {
	t.Parallel()

	cfg := loadConfig(t, sampleConfig)
	out := t.TempDir()
	if _, err := Run(context.Background(), cfg, Options{Fetcher: schemas, OutDir: out}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if _, err := Run(context.Background(), cfg, Options{Fetcher: schemas, OutDir: out, Check: true}); err != nil {
		t.Fatalf("check on fresh output: %v", err)
	}

	p := filepath.Join(out, "consumer_notifications", "consumer_notifications.gen.go")
	if err := os.WriteFile(p, []byte("package consumernotifications\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	res, err := Run(context.Background(), cfg, Options{Fetcher: schemas, OutDir: out, Check: true})
	if code, ok := umserrors.CodeOf(err); !ok || code != umserrors.CodeDrift {
		t.Fatalf("expected drift, got %v", err)
	}
	if len(res.Drift) != 1 || res.Drift[0] != p {
		t.Fatalf("unexpected drift: %v", res.Drift)
	}
	if b, _ := os.ReadFile(p); string(b) != "package consumernotifications\n" {
		t.Fatalf("check mode must not write")
	}
}

func TestRunTracesStages(t *testing.T) {
	t.Parallel()

	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	cfg := loadConfig(t, sampleConfig)
	if _, err := Run(context.Background(), cfg, Options{Fetcher: schemas, OutDir: t.TempDir(), TracerProvider: tp}); err != nil {
		t.Fatalf("run: %v", err)
	}
	counts := make(map[string]int)
	for _, s := range rec.Ended() {
		counts[s.Name()]++
	}
	for name, want := range map[string]int{
		"umsgen.run":       1,
		"umsgen.schema":    3,
		"umsgen.load":      3,
		"umsgen.map":       3,
		"umsgen.write":     3,
		"umsgen.aggregate": 1,
	} {
		if counts[name] != want {
			t.Fatalf("expected %d %s spans, got %d (%v)", want, name, counts[name], counts)
		}
	}
}

// genImporter type-checks generated packages from disk and everything else
// from GOROOT sources.
type genImporter struct {
	fset   *token.FileSet
	prefix string
	dir    string
	std    types.Importer
	pkgs   map[string]*types.Package
}

func (g *genImporter) Import(path string) (*types.Package, error) {
	if p, ok := g.pkgs[path]; ok {
		return p, nil
	}
	if path != g.prefix && !strings.HasPrefix(path, g.prefix+"/") {
		return g.std.Import(path)
	}
	dir := filepath.Join(g.dir, filepath.FromSlash(strings.TrimPrefix(strings.TrimPrefix(path, g.prefix), "/")))
	matches, err := filepath.Glob(filepath.Join(dir, "*.go"))
	if err != nil {
		return nil, err
	}
	var files []*ast.File
	for _, m := range matches {
		f, err := parser.ParseFile(g.fset, m, nil, parser.ParseComments)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	conf := types.Config{Importer: g, GoVersion: "go1.24"}
	pkg, err := conf.Check(path, g.fset, files, nil)
	if err != nil {
		return nil, err
	}
	g.pkgs[path] = pkg
	return pkg, nil
}

func TestGeneratedTreeTypeChecks(t *testing.T) {
	if testing.Short() {
		t.Skip("type-checks the standard library from source")
	}
	t.Parallel()

	out := t.TempDir()
	if _, err := Run(context.Background(), loadConfig(t, sampleConfig), Options{Fetcher: schemas, OutDir: out}); err != nil {
		t.Fatalf("run: %v", err)
	}
	fset := token.NewFileSet()
	imp := &genImporter{
		fset:   fset,
		prefix: "example.com/app/ums",
		dir:    out,
		std:    importer.ForCompiler(fset, "source", nil),
		pkgs:   make(map[string]*types.Package),
	}
	index, err := imp.Import("example.com/app/ums")
	if err != nil {
		t.Fatalf("generated code does not type-check: %v", err)
	}
	for _, name := range []string{"DecodeConsumerRequests", "WrapConsumerResponses", "WrapConsumerNotifications", "ExpectResponse", "NotificationHandler", "Modules"} {
		if index.Scope().Lookup(name) == nil {
			t.Fatalf("aggregator does not re-export %s", name)
		}
	}

	resp := imp.pkgs["example.com/app/ums/consumer_responses"]
	wrapped, _ := resp.Scope().Lookup("WrappedConsumerResponses").Type().(*types.Named)
	ms := types.NewMethodSet(types.NewPointer(wrapped))
	for _, m := range []string{"DoInitConnection", "DoPublishEvent", "SendMessage"} {
		if ms.Lookup(resp, m) == nil {
			t.Fatalf("WrappedConsumerResponses lacks %s", m)
		}
	}
}

const delegationTest = `package stub

import (
	"context"
	"errors"
	"testing"

	"example.com/app/ums"
	commonums "example.com/app/ums/common_ums"
	notifications "example.com/app/ums/consumer_notifications"
	requests "example.com/app/ums/consumer_requests"
	responses "example.com/app/ums/consumer_responses"
)

type recorder struct {
	events []notifications.ConsumerNotificationsEvent
	cbs    []func(commonums.Typed)
}

func (r *recorder) OnNotification(e notifications.ConsumerNotificationsEvent, cb func(commonums.Typed)) {
	r.events = append(r.events, e)
	r.cbs = append(r.cbs, cb)
}

type sender struct {
	sent []requests.ConsumerRequests
}

func (s *sender) SendMessage(_ context.Context, req requests.ConsumerRequests) (responses.ConsumerResponses, error) {
	s.sent = append(s.sent, req)
	return &responses.ConnectionResponse{Type: "ConnectionResponse"}, nil
}

func TestDelegation(t *testing.T) {
	rec := &recorder{}
	w := notifications.WrapConsumerNotifications(rec)
	var got *notifications.ServerEvent
	w.OnServerEvent(func(m *notifications.ServerEvent) { got = m })
	if len(rec.events) != 1 || rec.events[0] != notifications.ConsumerNotificationsEventServerEvent {
		t.Fatalf("unexpected registrations: %v", rec.events)
	}
	msg, err := notifications.DecodeConsumerNotifications([]byte(` + "`" + `{"type":"ms.ServerEvent"}` + "`" + `))
	if err != nil {
		t.Fatal(err)
	}
	rec.cbs[0](msg)
	if got == nil {
		t.Fatalf("callback not invoked")
	}

	s := &sender{}
	r := responses.WrapConsumerResponses(s)
	resp, err := r.DoInitConnection(context.Background(), requests.InitConnectionPayload{ProtocolVersion: 3})
	if err != nil || resp == nil {
		t.Fatalf("unexpected result: %v %v", resp, err)
	}
	sent, ok := s.sent[0].(*requests.InitConnection)
	if !ok || sent.Type != "InitConnection" || sent.ProtocolVersion != 3 {
		t.Fatalf("unexpected request: %#v", s.sent[0])
	}

	_, err = r.DoPublishEvent(context.Background(), requests.PublishEventPayload{})
	var unexpected *commonums.UnexpectedResponseError
	if !errors.As(err, &unexpected) {
		t.Fatalf("expected UnexpectedResponseError, got %v", err)
	}
	if len(ums.Modules) != 4 {
		t.Fatalf("unexpected modules: %v", ums.Modules)
	}
}
`

// TestGeneratedBindingsDelegate compiles the generated tree in a scratch
// module and runs a stub base through the typed wrappers.
func TestGeneratedBindingsDelegate(t *testing.T) {
	if testing.Short() {
		t.Skip("builds a scratch module with the go command")
	}
	goBin, err := exec.LookPath("go")
	if err != nil {
		t.Skip("go command not available")
	}
	t.Parallel()

	root := t.TempDir()
	if _, err := Run(context.Background(), loadConfig(t, sampleConfig), Options{Fetcher: schemas, OutDir: filepath.Join(root, "ums")}); err != nil {
		t.Fatalf("run: %v", err)
	}
	files := map[string]string{
		"go.mod":            "module example.com/app\n\ngo 1.24\n",
		"stub/stub_test.go": delegationTest,
	}
	for name, body := range files {
		p := filepath.Join(root, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	cmd := exec.Command(goBin, "test", "./...")
	cmd.Dir = root
	cmd.Env = append(os.Environ(), "GOWORK=off", "GOFLAGS=-mod=mod", "GOPROXY=off", "GOTOOLCHAIN=local")
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("go test in generated module: %v\n%s", err, out)
	}
}
