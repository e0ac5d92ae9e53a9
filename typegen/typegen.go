// Package typegen turns a dereferenced schema into named Go types: one struct
// per variant, split into discriminant and payload, plus nested structs for
// object properties and a sealed union interface.
package typegen

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/busybeaver/lp-libs/umsgen/eventmodel"
	"github.com/busybeaver/lp-libs/umsgen/internal/naming"
	"github.com/busybeaver/lp-libs/umsgen/schema"
	"github.com/busybeaver/lp-libs/umsgen/umserrors"
)

const rawJSON = "json.RawMessage"

// Field is one struct member.
type Field struct {
	Name     string
	JSON     string
	Type     string
	Optional bool
	Doc      string
}

// Struct is one emitted struct type.
type Struct struct {
	Name   string
	Doc    string
	Fields []Field
	// Embeds lists embedded types, emitted after Fields.
	Embeds []string
}

// VariantDecl groups the declarations of one variant.
type VariantDecl struct {
	Variant eventmodel.Variant
	// Struct holds the discriminant field and embeds Payload.
	Struct *Struct
	// Payload holds every other property.
	Payload *Struct
	// DiscField is the Go name of the discriminant field.
	DiscField string
}

// File is the synthesized type set of one module.
type File struct {
	Names        Names
	Doc          string
	Model        *eventmodel.Model
	Discriminant string
	Variants     []VariantDecl
	Nested       []*Struct

	declared map[string]struct{}
	variants map[string]struct{}
}

// Declared reports whether name is a type or value declared by the file.
func (f *File) Declared(name string) bool {
	_, ok := f.declared[name]
	return ok
}

// IsVariantType reports whether name is the struct type of one of the variants.
func (f *File) IsVariantType(name string) bool {
	_, ok := f.variants[name]
	return ok
}

// VariantTypes returns the variant struct names in declaration order.
func (f *File) VariantTypes() []string {
	out := make([]string, len(f.Variants))
	for i, v := range f.Variants {
		out[i] = v.Struct.Name
	}
	return out
}

type titledShape struct {
	name        string
	fingerprint string
}

type synth struct {
	file   *File
	titled map[string][]titledShape
}

// Synthesize declares the Go types for doc. Every variant of model becomes a
// struct named after its title; discriminant names the tag property.
func Synthesize(doc *schema.Document, model *eventmodel.Model, discriminant string) (*File, error) {
	if discriminant == "" {
		discriminant = eventmodel.DefaultConvention.Discriminant
	}
	names := Names{Module: model.Name}
	f := &File{
		Names:        names,
		Doc:          rootDoc(doc),
		Model:        model,
		Discriminant: discriminant,
		declared:     make(map[string]struct{}),
		variants:     make(map[string]struct{}),
	}
	s := &synth{file: f, titled: make(map[string][]titledShape)}

	if err := s.reserve(names); err != nil {
		return nil, err
	}

	discField := naming.Pascal(discriminant)
	for _, v := range model.Variants {
		props, required := mergedProperties(v.Schema)
		payload := &Struct{Name: names.Payload(v.Title)}
		payload.Doc = fmt.Sprintf("%s holds the %s fields other than %s.", payload.Name, v.Title, discriminant)
		fields, err := s.fields(names.Variant(v.Title), props, required, discriminant)
		if err != nil {
			return nil, umserrors.WithModule("", umserrors.StageSynthesize, umserrors.CodeUnsupportedSchema, err)
		}
		payload.Fields = fields

		st := &Struct{
			Name:   names.Variant(v.Title),
			Doc:    describe(v.Schema),
			Fields: []Field{{Name: discField, JSON: discriminant, Type: "string"}},
			Embeds: []string{payload.Name},
		}
		f.Variants = append(f.Variants, VariantDecl{Variant: v, Struct: st, Payload: payload, DiscField: discField})
		f.variants[st.Name] = struct{}{}
	}
	return f, nil
}

// reserve claims every convention name before nested types are named, so that
// references from other modules always resolve.
func (s *synth) reserve(names Names) error {
	owner := make(map[string]string)
	claim := func(name, what string) error {
		if prev, ok := owner[name]; ok {
			return &umserrors.Error{Stage: umserrors.StageSynthesize, Code: umserrors.CodeNameCollision, Variant: what,
				Err: fmt.Errorf("identifier %s is claimed by both %s and %s", name, prev, what)}
		}
		owner[name] = what
		s.file.declared[name] = struct{}{}
		return nil
	}
	for _, n := range names.reserved() {
		if err := claim(n, "module "+names.Module); err != nil {
			return err
		}
	}
	for _, v := range s.file.Model.Variants {
		for _, n := range []string{names.Variant(v.Title), names.Payload(v.Title), names.EventConst(v.Title)} {
			if err := claim(n, v.Title); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *synth) alloc(base string) string {
	if base == "" {
		base = "Object"
	}
	name := base
	for i := 2; s.file.Declared(name); i++ {
		name = base + strconv.Itoa(i)
	}
	s.file.declared[name] = struct{}{}
	return name
}

// mergedProperties collects properties of obj and its allOf members; later
// members override earlier ones. required is the union of all required lists.
func mergedProperties(obj map[string]any) (map[string]map[string]any, map[string]bool) {
	props := make(map[string]map[string]any)
	required := make(map[string]bool)
	for _, part := range schema.AllOf(obj) {
		if p, ok := part["properties"].(map[string]any); ok {
			for k, v := range p {
				if m, ok := v.(map[string]any); ok {
					props[k] = m
				} else {
					props[k] = map[string]any{}
				}
			}
		}
		if req, ok := part["required"].([]any); ok {
			for _, r := range req {
				if s, ok := r.(string); ok {
					required[s] = true
				}
			}
		}
	}
	return props, required
}

func (s *synth) fields(owner string, props map[string]map[string]any, required map[string]bool, skip string) ([]Field, error) {
	keys := make([]string, 0, len(props))
	for k := range props {
		if k == skip {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	used := make(map[string]struct{}, len(keys))
	out := make([]Field, 0, len(keys))
	for _, k := range keys {
		goName := naming.Pascal(k)
		if goName == "" {
			goName = "Field"
		}
		base := goName
		for i := 2; ; i++ {
			if _, dup := used[goName]; !dup {
				break
			}
			goName = base + strconv.Itoa(i)
		}
		used[goName] = struct{}{}

		typ, nilable, err := s.typeOf(props[k], owner+naming.Pascal(k))
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", owner, k, err)
		}
		optional := !required[k]
		if optional && !nilable {
			typ = "*" + typ
		}
		out = append(out, Field{Name: goName, JSON: k, Type: typ, Optional: optional, Doc: describe(props[k])})
	}
	return out, nil
}

// typeOf maps a property schema to a Go type expression. nilable reports
// whether the zero value already represents absence.
func (s *synth) typeOf(node map[string]any, ctxName string) (string, bool, error) {
	if c, ok := node["const"]; ok {
		t := literalType(c)
		return t, t == rawJSON, nil
	}
	kind, ok := schemaType(node)
	if !ok {
		return rawJSON, true, nil
	}
	switch kind {
	case "string":
		return "string", false, nil
	case "integer":
		return "int64", false, nil
	case "number":
		return "float64", false, nil
	case "boolean":
		return "bool", false, nil
	case "array":
		items, ok := node["items"].(map[string]any)
		if !ok {
			return "[]" + rawJSON, true, nil
		}
		elem, _, err := s.typeOf(items, ctxName+"Item")
		if err != nil {
			return "", false, err
		}
		return "[]" + elem, true, nil
	case "object":
		props, required := mergedProperties(node)
		if len(props) > 0 {
			name, err := s.object(node, props, required, ctxName)
			if err != nil {
				return "", false, err
			}
			return name, false, nil
		}
		if ap, ok := node["additionalProperties"].(map[string]any); ok && len(ap) > 0 {
			elem, _, err := s.typeOf(ap, ctxName+"Value")
			if err != nil {
				return "", false, err
			}
			return "map[string]" + elem, true, nil
		}
		return rawJSON, true, nil
	default:
		return rawJSON, true, nil
	}
}

func (s *synth) object(node map[string]any, props map[string]map[string]any, required map[string]bool, ctxName string) (string, error) {
	title, _ := schema.String(node, "title")
	title = naming.Pascal(title)
	var fp string
	if title != "" {
		b, err := json.Marshal(node)
		if err != nil {
			return "", err
		}
		fp = string(b)
		for _, shape := range s.titled[title] {
			if shape.fingerprint == fp {
				return shape.name, nil
			}
		}
	}
	base := ctxName
	if title != "" {
		base = title
	}
	st := &Struct{Name: s.alloc(base), Doc: describe(node)}
	if title != "" {
		s.titled[title] = append(s.titled[title], titledShape{name: st.Name, fingerprint: fp})
	}
	// Appended before the fields so parents precede children in the output.
	s.file.Nested = append(s.file.Nested, st)
	fields, err := s.fields(st.Name, props, required, "")
	if err != nil {
		return "", err
	}
	st.Fields = fields
	return st.Name, nil
}

// schemaType returns the JSON type of node, inferring it when absent.
func schemaType(node map[string]any) (string, bool) {
	switch t := node["type"].(type) {
	case string:
		return t, true
	case []any:
		var kinds []string
		for _, x := range t {
			if s, ok := x.(string); ok && s != "null" {
				kinds = append(kinds, s)
			}
		}
		if len(kinds) == 1 {
			return kinds[0], true
		}
		return "", false
	}
	if _, ok := node["anyOf"]; ok {
		return "", false
	}
	if _, ok := node["oneOf"]; ok {
		return "", false
	}
	if props, _ := mergedProperties(node); len(props) > 0 {
		return "object", true
	}
	if _, ok := node["items"]; ok {
		return "array", true
	}
	if enum, ok := node["enum"].([]any); ok && len(enum) > 0 {
		switch literalType(enum[0]) {
		case "string":
			return "string", true
		case "bool":
			return "boolean", true
		case "int64":
			return "integer", true
		case "float64":
			return "number", true
		}
	}
	if _, ok := node["additionalProperties"].(map[string]any); ok {
		return "object", true
	}
	return "", false
}

func literalType(v any) string {
	switch x := v.(type) {
	case string:
		return "string"
	case bool:
		return "bool"
	case json.Number:
		if _, err := x.Int64(); err == nil {
			return "int64"
		}
		return "float64"
	default:
		return rawJSON
	}
}

func describe(node map[string]any) string {
	d, _ := schema.String(node, "description")
	return d
}

func rootDoc(doc *schema.Document) string {
	if doc == nil {
		return ""
	}
	if obj, ok := schema.Object(doc.Root); ok {
		return describe(obj)
	}
	return ""
}
