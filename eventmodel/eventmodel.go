// Package eventmodel discovers the ordered message variants of a dereferenced
// schema and their wire discriminants.
package eventmodel

import (
	"fmt"

	"github.com/busybeaver/lp-libs/umsgen/internal/naming"
	"github.com/busybeaver/lp-libs/umsgen/schema"
	"github.com/busybeaver/lp-libs/umsgen/umserrors"
)

// Convention locates variants and discriminants in a schema.
type Convention struct {
	// Variants is the JSONPath of the alternatives ("anyOf", "$.anyOf[*]").
	Variants string
	// Discriminant is the property carrying the wire tag ("type").
	Discriminant string
}

// DefaultConvention matches the UMS schemas: a top-level anyOf whose members
// carry a title and a fixed properties.type value, possibly nested in allOf.
var DefaultConvention = Convention{Variants: "anyOf", Discriminant: "type"}

// Variant is one declared message kind.
type Variant struct {
	Title        string
	Discriminant string
	// Index is the position within the alternatives list.
	Index int
	// Schema is the alternative's dereferenced schema node.
	Schema map[string]any
}

// Model is the ordered list of variants of one schema document.
type Model struct {
	Name     string
	Variants []Variant
}

// Titles returns the variant titles in declaration order.
func (m *Model) Titles() []string {
	out := make([]string, len(m.Variants))
	for i, v := range m.Variants {
		out[i] = v.Title
	}
	return out
}

// Discriminants returns the variant discriminants in declaration order.
func (m *Model) Discriminants() []string {
	out := make([]string, len(m.Variants))
	for i, v := range m.Variants {
		out[i] = v.Discriminant
	}
	return out
}

// Lookup returns the variant with the given title.
func (m *Model) Lookup(title string) (Variant, bool) {
	for _, v := range m.Variants {
		if v.Title == title {
			return v, true
		}
	}
	return Variant{}, false
}

// Extract builds the event model of doc.
//
// A missing or empty alternatives list yields an empty model.
func Extract(doc *schema.Document, conv Convention) (*Model, error) {
	if conv.Variants == "" {
		conv.Variants = DefaultConvention.Variants
	}
	if conv.Discriminant == "" {
		conv.Discriminant = DefaultConvention.Discriminant
	}
	m := &Model{Name: doc.Name}
	path, err := schema.ParsePath(conv.Variants)
	if err != nil {
		return nil, modelErr(umserrors.CodeInvalidVariants, "", err)
	}
	list, found, err := path.List(doc.Root)
	if err != nil {
		return nil, modelErr(umserrors.CodeInvalidVariants, "", err)
	}
	if !found {
		return m, nil
	}

	titles := make(map[string]int, len(list))
	canonical := make(map[string]int, len(list))
	for i, item := range list {
		obj, ok := schema.Object(item)
		if !ok {
			return nil, modelErr(umserrors.CodeInvalidVariant, ref(i, ""), fmt.Errorf("alternative is %T, not an object", item))
		}
		title, _ := schema.String(obj, "title")
		if title == "" {
			return nil, modelErr(umserrors.CodeMissingTitle, ref(i, ""), fmt.Errorf("alternative %d has no title", i))
		}
		if prev, dup := titles[title]; dup {
			return nil, modelErr(umserrors.CodeDuplicateTitle, ref(i, title),
				fmt.Errorf("title %q declared by alternatives %d and %d", title, prev, i))
		}
		titles[title] = i

		name := naming.Pascal(title)
		if name == "" {
			return nil, modelErr(umserrors.CodeNameCollision, ref(i, title), fmt.Errorf("title %q has no identifier characters", title))
		}
		if prev, dup := canonical[name]; dup {
			return nil, modelErr(umserrors.CodeNameCollision, ref(i, title),
				fmt.Errorf("titles %q (alternative %d) and %q (alternative %d) both canonicalize to %s", list[prev].(map[string]any)["title"], prev, title, i, name))
		}
		canonical[name] = i

		disc, ok := Discriminant(obj, conv.Discriminant)
		if !ok {
			return nil, modelErr(umserrors.CodeMissingDiscriminant, ref(i, title),
				fmt.Errorf("alternative %q has no fixed %s value", title, conv.Discriminant))
		}
		m.Variants = append(m.Variants, Variant{Title: title, Discriminant: disc, Index: i, Schema: obj})
	}
	return m, nil
}

// Discriminant returns the fixed value of property prop on obj or any of its
// allOf members. const wins over default, default over a single-valued enum.
func Discriminant(obj map[string]any, prop string) (string, bool) {
	for _, part := range schema.AllOf(obj) {
		props, ok := part["properties"].(map[string]any)
		if !ok {
			continue
		}
		field, ok := props[prop].(map[string]any)
		if !ok {
			continue
		}
		if s, ok := fixedValue(field); ok {
			return s, true
		}
	}
	return "", false
}

func fixedValue(field map[string]any) (string, bool) {
	if s, ok := field["const"].(string); ok {
		return s, true
	}
	if s, ok := field["default"].(string); ok {
		return s, true
	}
	if enum, ok := field["enum"].([]any); ok && len(enum) == 1 {
		if s, ok := enum[0].(string); ok {
			return s, true
		}
	}
	return "", false
}

func ref(i int, title string) string {
	if title == "" {
		return fmt.Sprintf("#%d", i)
	}
	return fmt.Sprintf("#%d %s", i, title)
}

func modelErr(code umserrors.Code, variant string, err error) error {
	return &umserrors.Error{Stage: umserrors.StageExtract, Code: code, Variant: variant, Err: err}
}
