package schema

import (
	"fmt"
	"strings"

	"github.com/ohler55/ojg/jp"
)

// Path is a compiled JSONPath query over a decoded schema document.
// A bare member path ("anyOf", "definitions.events") is read as "$." + path.
type Path struct {
	src   string
	expr  jp.Expr
	multi bool
}

// ParsePath compiles s. The empty string and "$" select the root.
func ParsePath(s string) (Path, error) {
	src := strings.TrimSpace(s)
	q := src
	switch {
	case q == "":
		q = "$"
	case strings.HasPrefix(q, "$"):
	case strings.HasPrefix(q, "["):
		q = "$" + q
	default:
		q = "$." + q
	}
	expr, err := jp.ParseString(q)
	if err != nil {
		return Path{}, fmt.Errorf("invalid path %q: %w", s, err)
	}
	p := Path{src: src, expr: expr}
	for _, f := range expr {
		switch f.(type) {
		case jp.Wildcard, jp.Descent, jp.Slice, jp.Union, *jp.Filter:
			p.multi = true
		}
	}
	return p, nil
}

func (p Path) String() string { return p.src }

// List returns the list p designates in node. A path with a multi-valued
// selector ("$.anyOf[*]", "$..events[0:2]") yields its matches in document
// order; any other path must name a JSON array, whose items are returned.
// found is false when the path matches nothing.
func (p Path) List(node any) (list []any, found bool, err error) {
	got := p.expr.Get(node)
	if p.multi {
		return got, len(got) > 0, nil
	}
	if len(got) == 0 {
		return nil, false, nil
	}
	list, ok := got[0].([]any)
	if !ok {
		return nil, true, fmt.Errorf("%s is %T, not a list", p.src, got[0])
	}
	return list, true, nil
}

// Lookup returns the first value path selects from node. An empty path
// returns node itself.
func Lookup(node any, path string) (any, bool) {
	p, err := ParsePath(path)
	if err != nil {
		return nil, false
	}
	got := p.expr.Get(node)
	if len(got) == 0 {
		return nil, false
	}
	return got[0], true
}

// Object returns node as a JSON object.
func Object(node any) (map[string]any, bool) {
	obj, ok := node.(map[string]any)
	return obj, ok
}

// String returns the string member key of obj.
func String(obj map[string]any, key string) (string, bool) {
	s, ok := obj[key].(string)
	return s, ok
}

// AllOf returns obj followed by every object reachable through nested allOf
// lists, depth first in declaration order.
func AllOf(obj map[string]any) []map[string]any {
	out := []map[string]any{obj}
	list, _ := obj["allOf"].([]any)
	for _, item := range list {
		if sub, ok := item.(map[string]any); ok {
			out = append(out, AllOf(sub)...)
		}
	}
	return out
}
