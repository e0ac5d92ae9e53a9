// Package config loads the umsgen configuration.
//
// Configuration is read from a single YAML file named by:
//   - the UMSGEN_CONFIG environment variable, or
//   - the --config flag passed to umsgen
//
// There is no automatic discovery. Relative schema references and the output
// directory resolve against the directory holding the file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"go/token"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/mod/module"
	"gopkg.in/yaml.v3"

	"github.com/busybeaver/lp-libs/umsgen/internal/naming"
	"github.com/busybeaver/lp-libs/umsgen/mapping"
	"github.com/busybeaver/lp-libs/umsgen/schema"
	"github.com/busybeaver/lp-libs/umsgen/umserrors"
)

// EnvConfig names the environment variable holding the config path.
const EnvConfig = "UMSGEN_CONFIG"

// Hook selects the binding generated for a schema.
type Hook string

const (
	// HookNone emits types and the event model only.
	HookNone Hook = "none"
	// HookNotifications emits On<Title> subscriptions for server pushes.
	HookNotifications Hook = "notifications"
	// HookResponses emits Do<Title> calls returning the mapped response.
	HookResponses Hook = "responses"
)

// Config is the full generator configuration.
type Config struct {
	// Output configures where and how modules are written.
	Output Output `yaml:"output"`

	// Convention locates variants and envelope properties in the schemas.
	Convention Convention `yaml:"convention"`

	// MappingPolicy decides what happens to unmapped requests: warn, strict or ignore.
	// Default: warn
	MappingPolicy string `yaml:"mapping_policy"`

	// Concurrency bounds the schema pipelines running at once. Zero means GOMAXPROCS.
	Concurrency int `yaml:"concurrency"`

	// Schemas are processed, and re-exported, in this order.
	Schemas []Schema `yaml:"schemas"`

	// BaseDir is the directory of the loaded file.
	BaseDir string `yaml:"-"`
}

// Output configures the generated tree.
type Output struct {
	// Dir is the output root. Default: ums
	Dir string `yaml:"dir"`

	// ImportPath is the Go import path of Dir. Required.
	ImportPath string `yaml:"import_path"`

	// Package is the package name of the aggregator. Default: derived from ImportPath.
	Package string `yaml:"package"`

	// CommonModule names the shared module. Default: common_ums
	CommonModule string `yaml:"common_module"`

	// IndexFile is the aggregator file name. Default: index.gen.go
	IndexFile string `yaml:"index_file"`
}

// Convention names the schema locations the generator reads.
type Convention struct {
	// Variants is the JSONPath of the alternatives, either a list
	// ("anyOf") or a multi-valued selector ("$.anyOf[*]"). Default: anyOf
	Variants string `yaml:"variants"`

	// Discriminant is the tag property. Default: type
	Discriminant string `yaml:"discriminant"`

	// IDField is the message id property. Default: id
	IDField string `yaml:"id_field"`

	// RequestIDField is the property of a response naming its request. Default: requestId
	RequestIDField string `yaml:"request_id_field"`
}

// Schema is one schema document to generate.
type Schema struct {
	// Ref is a local path or an http(s) URL.
	Ref string `yaml:"ref"`

	// Name overrides the module name derived from Ref.
	Name string `yaml:"name,omitempty"`

	// Hook selects the binding. Default: none
	Hook Hook `yaml:"hook,omitempty"`

	// Requests names the module holding the request variants (hook: responses).
	Requests string `yaml:"requests,omitempty"`

	// Mapping pairs request titles with response variants (hook: responses).
	Mapping map[string]string `yaml:"mapping,omitempty"`
}

// ModuleName returns Name, or the base name of Ref.
func (s Schema) ModuleName() string {
	if s.Name != "" {
		return s.Name
	}
	return schema.NameOf(s.Ref)
}

// Default returns the configuration every file is decoded over.
func Default() *Config {
	return &Config{
		Output: Output{
			Dir:          "ums",
			CommonModule: "common_ums",
			IndexFile:    "index.gen.go",
		},
		Convention: Convention{
			Variants:       "anyOf",
			Discriminant:   "type",
			IDField:        "id",
			RequestIDField: "requestId",
		},
		MappingPolicy: string(mapping.PolicyWarn),
	}
}

// Load loads the file named by UMSGEN_CONFIG.
func Load() (*Config, error) {
	p := strings.TrimSpace(os.Getenv(EnvConfig))
	if p == "" {
		return nil, configErr(fmt.Errorf("%s is not set; point it at your umsgen.yaml or pass --config", EnvConfig))
	}
	return LoadFile(p)
}

// LoadFile loads and validates the file at path.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, configErr(err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, configErr(err)
	}
	return Parse(data, filepath.Dir(abs))
}

// Parse decodes data over Default and validates the result. Unknown keys are
// rejected.
func Parse(data []byte, baseDir string) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, configErr(fmt.Errorf("decode: %w", err))
	}
	cfg.BaseDir = baseDir
	for i := range cfg.Schemas {
		if cfg.Schemas[i].Hook == "" {
			cfg.Schemas[i].Hook = HookNone
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// OutputDir returns the output root, resolved against BaseDir.
func (c *Config) OutputDir() string {
	if filepath.IsAbs(c.Output.Dir) || c.BaseDir == "" {
		return c.Output.Dir
	}
	return filepath.Join(c.BaseDir, c.Output.Dir)
}

// Policy returns the parsed mapping policy.
func (c *Config) Policy() mapping.Policy {
	p, err := mapping.ParsePolicy(c.MappingPolicy)
	if err != nil {
		return mapping.PolicyWarn
	}
	return p
}

// Schema returns the schema whose module is name.
func (c *Config) Schema(name string) (Schema, bool) {
	for _, s := range c.Schemas {
		if s.ModuleName() == name {
			return s, true
		}
	}
	return Schema{}, false
}

// Validate reports every problem of c at once.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.Output.Dir == "" {
		add("output.dir is empty")
	}
	if err := module.CheckImportPath(c.Output.ImportPath); err != nil {
		add("output.import_path: %v", err)
	}
	if p := c.Output.Package; p != "" && (!token.IsIdentifier(p) || token.IsKeyword(p) || p == "_") {
		add("output.package %q is not a package name", p)
	}
	if c.Output.IndexFile == "" || filepath.Base(c.Output.IndexFile) != c.Output.IndexFile || !strings.HasSuffix(c.Output.IndexFile, ".go") {
		add("output.index_file %q must be a .go file name", c.Output.IndexFile)
	}
	if naming.Package(c.Output.CommonModule) == "" {
		add("output.common_module %q has no identifier characters", c.Output.CommonModule)
	}
	if _, err := mapping.ParsePolicy(c.MappingPolicy); err != nil {
		add("mapping_policy: %v", err)
	}
	if c.Concurrency < 0 {
		add("concurrency must not be negative, got %d", c.Concurrency)
	}
	c.validateConvention(add)

	if len(c.Schemas) == 0 {
		add("schemas is empty")
	}
	dirs := map[string]string{naming.Snake(c.Output.CommonModule): c.Output.CommonModule}
	names := make(map[string]Hook, len(c.Schemas))
	for i, s := range c.Schemas {
		name := s.ModuleName()
		where := fmt.Sprintf("schemas[%d]", i)
		if strings.TrimSpace(s.Ref) == "" {
			add("%s: ref is empty", where)
			continue
		}
		if naming.Pascal(name) == "" {
			add("%s: module name %q has no identifier characters", where, name)
			continue
		}
		dir := naming.Snake(name)
		if prev, dup := dirs[dir]; dup {
			add("%s: module %q collides with %q", where, name, prev)
			continue
		}
		dirs[dir] = name
		names[name] = s.Hook
	}
	for i, s := range c.Schemas {
		where := fmt.Sprintf("schemas[%d] (%s)", i, s.ModuleName())
		switch s.Hook {
		case HookNone, HookNotifications:
			if s.Requests != "" || len(s.Mapping) > 0 {
				add("%s: requests and mapping are only valid with hook: responses", where)
			}
		case HookResponses:
			if s.Requests == "" {
				add("%s: hook: responses needs requests", where)
			} else if s.Requests == s.ModuleName() {
				add("%s: requests must name another module", where)
			} else if _, ok := names[s.Requests]; !ok {
				add("%s: requests names unknown module %q", where, s.Requests)
			}
		default:
			add("%s: unknown hook %q (want none, notifications or responses)", where, s.Hook)
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return configErr(errors.Join(errs...))
}

func (c *Config) validateConvention(add func(string, ...any)) {
	conv := c.Convention
	if strings.TrimSpace(conv.Variants) == "" {
		add("convention.variants is empty")
	} else if _, err := schema.ParsePath(conv.Variants); err != nil {
		add("convention.variants: %v", err)
	}
	seen := make(map[string]string, 3)
	for _, f := range []struct{ key, val string }{
		{"discriminant", conv.Discriminant},
		{"id_field", conv.IDField},
		{"request_id_field", conv.RequestIDField},
	} {
		goName := naming.Pascal(f.val)
		if goName == "" {
			add("convention.%s %q has no identifier characters", f.key, f.val)
			continue
		}
		if prev, dup := seen[goName]; dup {
			add("convention.%s and convention.%s both map to field %s", prev, f.key, goName)
			continue
		}
		seen[goName] = f.key
	}
}

func configErr(err error) error {
	return &umserrors.Error{Stage: umserrors.StageConfig, Code: umserrors.CodeInvalidConfig, Err: err}
}
