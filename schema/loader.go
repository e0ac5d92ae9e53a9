// Package schema loads JSON Schema documents and inlines every $ref into one
// self-contained tree.
package schema

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/tidwall/jsonc"

	"github.com/busybeaver/lp-libs/umsgen/umserrors"
)

// Document is a fully dereferenced schema. It must not be modified after Load returns.
type Document struct {
	// Ref is the reference the document was loaded from, as configured.
	Ref string
	// URI is the absolute form of Ref.
	URI string
	// Name is the base name of the reference without its extension.
	Name string
	// Root is the decoded tree: map[string]any, []any, string, json.Number, bool or nil.
	Root any
}

// ResolutionError identifies a reference that could not be resolved.
type ResolutionError struct {
	// Ref is the reference as written in the document (or the root reference).
	Ref string
	// Doc is the absolute URI of the document containing Ref.
	Doc string
	// Chain lists the expansion chain for reference cycles.
	Chain []string
	Err   error
}

func (e *ResolutionError) Error() string {
	msg := fmt.Sprintf("resolve %q", e.Ref)
	if e.Doc != "" {
		msg += " in " + e.Doc
	}
	if len(e.Chain) > 0 {
		msg += " (cycle: " + strings.Join(e.Chain, " -> ") + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// ErrCycle reports a reference that (transitively) refers to itself.
var ErrCycle = errors.New("reference cycle")

// Loader dereferences schema documents.
type Loader struct {
	Fetcher Fetcher
	Logger  *slog.Logger
	// BaseDir anchors relative local references; empty means the working directory.
	BaseDir string
}

// NewLoader returns a loader that fetches documents with f.
func NewLoader(f Fetcher) *Loader {
	if f == nil {
		f = DefaultFetcher{}
	}
	return &Loader{Fetcher: f}
}

// Load fetches ref and returns it with every internal and external $ref inlined.
func (l *Loader) Load(ctx context.Context, ref string) (*Document, error) {
	base, err := l.absolute(ref)
	if err != nil {
		return nil, loadErr(umserrors.CodeRefInvalid, &ResolutionError{Ref: ref, Err: err})
	}
	r := &resolver{
		ctx:     ctx,
		fetcher: l.Fetcher,
		logger:  l.logger(),
		docs:    make(map[string]any),
		done:    make(map[string]any),
	}
	root, err := r.expandRef(base.String(), "", base)
	if err != nil {
		return nil, err
	}
	docURL := *base
	docURL.Fragment = ""
	docURL.RawFragment = ""
	return &Document{Ref: ref, URI: docURL.String(), Name: nameOf(docURL.Path), Root: root}, nil
}

// NameOf returns the document name Load assigns to ref: its base name without
// extension or fragment.
func NameOf(ref string) string {
	ref = strings.TrimSpace(ref)
	if u, err := url.Parse(ref); err == nil && (u.Scheme == "http" || u.Scheme == "https" || u.Scheme == "file") {
		return nameOf(u.Path)
	}
	if i := strings.IndexByte(ref, '#'); i >= 0 {
		ref = ref[:i]
	}
	return nameOf(filepath.ToSlash(ref))
}

func nameOf(p string) string {
	name := path.Base(p)
	return strings.TrimSuffix(name, path.Ext(name))
}

func (l *Loader) logger() *slog.Logger {
	if l.Logger != nil {
		return l.Logger
	}
	return slog.Default()
}

func (l *Loader) absolute(ref string) (*url.URL, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, errors.New("empty reference")
	}
	if u, err := url.Parse(ref); err == nil && (u.Scheme == "http" || u.Scheme == "https" || u.Scheme == "file") {
		return u, nil
	}
	p := ref
	if !filepath.IsAbs(p) {
		dir := l.BaseDir
		if dir == "" {
			dir = "."
		}
		abs, err := filepath.Abs(filepath.Join(dir, p))
		if err != nil {
			return nil, err
		}
		p = abs
	}
	return &url.URL{Scheme: "file", Path: filepath.ToSlash(filepath.Clean(p))}, nil
}

func loadErr(code umserrors.Code, err error) error {
	return &umserrors.Error{Stage: umserrors.StageLoad, Code: code, Err: err}
}

type resolver struct {
	ctx     context.Context
	fetcher Fetcher
	logger  *slog.Logger
	docs    map[string]any
	done    map[string]any
	stack   []string
}

// expandRef resolves ref relative to base, then expands the target. from is the
// document that contained ref ("" for the root reference).
func (r *resolver) expandRef(ref string, from string, base *url.URL) (any, error) {
	target, targetBase, key, err := r.locate(ref, from, base)
	if err != nil {
		return nil, err
	}
	if v, ok := r.done[key]; ok {
		return v, nil
	}
	for i, k := range r.stack {
		if k == key {
			chain := append(append([]string{}, r.stack[i:]...), key)
			return nil, loadErr(umserrors.CodeRefCycle, &ResolutionError{Ref: ref, Doc: from, Chain: chain, Err: ErrCycle})
		}
	}
	r.stack = append(r.stack, key)
	v, err := r.expand(target, targetBase)
	r.stack = r.stack[:len(r.stack)-1]
	if err != nil {
		return nil, err
	}
	r.done[key] = v
	return v, nil
}

func (r *resolver) locate(ref string, from string, base *url.URL) (any, *url.URL, string, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return nil, nil, "", loadErr(umserrors.CodeRefInvalid, &ResolutionError{Ref: ref, Doc: from, Err: err})
	}
	abs := base.ResolveReference(u)
	fragment := abs.Fragment
	docURL := *abs
	docURL.Fragment = ""
	docURL.RawFragment = ""
	docKey := docURL.String()

	doc, err := r.document(docKey)
	if err != nil {
		code := umserrors.CodeFetchFailed
		switch {
		case errors.Is(err, ErrNotFound):
			code = umserrors.CodeRefNotFound
		case errors.Is(err, errDecode):
			code = umserrors.CodeDecodeFailed
		}
		return nil, nil, "", loadErr(code, &ResolutionError{Ref: ref, Doc: from, Err: err})
	}
	target, err := pointer(doc, fragment)
	if err != nil {
		return nil, nil, "", loadErr(umserrors.CodePointerTarget, &ResolutionError{Ref: ref, Doc: from, Err: err})
	}
	return target, &docURL, docKey + "#" + fragment, nil
}

var errDecode = errors.New("decode schema document")

func (r *resolver) document(uri string) (any, error) {
	if doc, ok := r.docs[uri]; ok {
		return doc, nil
	}
	if err := r.ctx.Err(); err != nil {
		return nil, err
	}
	b, err := r.fetcher.Fetch(r.ctx, uri)
	if err != nil {
		return nil, err
	}
	doc, err := decode(b)
	if err != nil {
		return nil, fmt.Errorf("%w %s: %v", errDecode, uri, err)
	}
	r.logger.Debug("fetched schema document", "uri", uri, "bytes", len(b))
	r.docs[uri] = doc
	return doc, nil
}

func decode(b []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(jsonc.ToJSON(b)))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.New("trailing data after document")
	}
	return v, nil
}

func (r *resolver) expand(node any, base *url.URL) (any, error) {
	switch v := node.(type) {
	case map[string]any:
		if raw, ok := v["$ref"]; ok {
			ref, ok := raw.(string)
			if !ok {
				return nil, loadErr(umserrors.CodeRefInvalid, &ResolutionError{Ref: fmt.Sprint(raw), Doc: base.String(), Err: errors.New("$ref is not a string")})
			}
			resolved, err := r.expandRef(ref, base.String(), base)
			if err != nil {
				return nil, err
			}
			if len(v) == 1 {
				return resolved, nil
			}
			obj, ok := resolved.(map[string]any)
			if !ok {
				return resolved, nil
			}
			out := make(map[string]any, len(obj)+len(v)-1)
			for k, x := range obj {
				out[k] = x
			}
			for _, k := range sortedKeys(v) {
				if k == "$ref" {
					continue
				}
				ex, err := r.expand(v[k], base)
				if err != nil {
					return nil, err
				}
				out[k] = ex
			}
			return out, nil
		}
		out := make(map[string]any, len(v))
		for _, k := range sortedKeys(v) {
			ex, err := r.expand(v[k], base)
			if err != nil {
				return nil, err
			}
			out[k] = ex
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, x := range v {
			ex, err := r.expand(x, base)
			if err != nil {
				return nil, err
			}
			out[i] = ex
		}
		return out, nil
	default:
		return v, nil
	}
}

// pointer evaluates an RFC 6901 JSON pointer (already percent-decoded) against doc.
func pointer(doc any, ptr string) (any, error) {
	if ptr == "" {
		return doc, nil
	}
	if !strings.HasPrefix(ptr, "/") {
		return nil, fmt.Errorf("invalid json pointer %q", ptr)
	}
	cur := doc
	for _, tok := range strings.Split(ptr[1:], "/") {
		tok = strings.ReplaceAll(strings.ReplaceAll(tok, "~1", "/"), "~0", "~")
		switch v := cur.(type) {
		case map[string]any:
			next, ok := v[tok]
			if !ok {
				return nil, fmt.Errorf("json pointer %q: no member %q", ptr, tok)
			}
			cur = next
		case []any:
			i, err := strconv.Atoi(tok)
			if err != nil || i < 0 || i >= len(v) {
				return nil, fmt.Errorf("json pointer %q: bad index %q", ptr, tok)
			}
			cur = v[i]
		default:
			return nil, fmt.Errorf("json pointer %q: cannot descend into %T", ptr, cur)
		}
	}
	return cur, nil
}

func sortedKeys(m map[string]any) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
