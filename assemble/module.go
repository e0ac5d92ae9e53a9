package assemble

import (
	"bytes"
	"fmt"
	"path"
	"sort"

	"github.com/busybeaver/lp-libs/umsgen/internal/gosrc"
	"github.com/busybeaver/lp-libs/umsgen/internal/naming"
)

// Section is a group of declarations rendered into a module.
type Section interface {
	Imports() []gosrc.Import
	Render(buf *bytes.Buffer, common string)
}

// Layout places modules below the output root.
type Layout struct {
	// ImportPath is the Go import path of the output root.
	ImportPath string
	// Package is the package name of the output root, home of the aggregator.
	Package string
	// CommonModule is the name of the shared module ("common_ums").
	CommonModule string
	// IndexFile is the aggregator file name ("index.gen.go").
	IndexFile string
}

// withDefaults fills unset fields.
func (l Layout) withDefaults() Layout {
	if l.CommonModule == "" {
		l.CommonModule = "common_ums"
	}
	if l.IndexFile == "" {
		l.IndexFile = "index.gen.go"
	}
	if l.Package == "" {
		l.Package = naming.Package(path.Base(l.ImportPath))
	}
	return l
}

// Module is one generated Go file.
type Module struct {
	// Name is the module name, e.g. "consumerRequests".
	Name string
	// Ref is the schema reference the module was built from.
	Ref string
	// Import locates the module's package.
	Import gosrc.Import
	// Path is the slash separated file path below the output root.
	Path string
	// Source is the formatted file content.
	Source []byte
}

// Import returns the import of the package holding module name.
func (l Layout) Import(name string) gosrc.Import {
	l = l.withDefaults()
	dir := naming.Snake(name)
	return gosrc.Import{Name: naming.Package(name), Path: path.Join(l.ImportPath, dir)}
}

// Common returns the import of the common module.
func (l Layout) Common() gosrc.Import {
	l = l.withDefaults()
	return l.Import(l.CommonModule)
}

// Assemble renders sections into the module file of name.
func (l Layout) Assemble(name, ref string, sections ...Section) (*Module, error) {
	l = l.withDefaults()
	common := l.Common()
	return l.assemble(name, ref, []gosrc.Import{common}, common.Name, sections)
}

func (l Layout) assemble(name, ref string, imps []gosrc.Import, common string, sections []Section) (*Module, error) {
	imp := l.Import(name)
	var body bytes.Buffer
	for _, s := range sections {
		imps = append(imps, s.Imports()...)
		s.Render(&body, common)
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "package %s\n\n", imp.Name)
	writeImports(&buf, imps)
	buf.Write(body.Bytes())

	dir := naming.Snake(name)
	file := path.Join(dir, dir+".gen.go")
	src, err := Format(file, Banner(ref), buf.Bytes())
	if err != nil {
		return nil, err
	}
	return &Module{Name: name, Ref: ref, Import: imp, Path: file, Source: src}, nil
}

// writeImports writes a deduplicated import block, standard library first.
func writeImports(buf *bytes.Buffer, imps []gosrc.Import) {
	seen := make(map[string]struct{}, len(imps))
	var std, other []gosrc.Import
	for _, imp := range imps {
		if _, dup := seen[imp.Path]; dup {
			continue
		}
		seen[imp.Path] = struct{}{}
		if isStd(imp.Path) {
			std = append(std, imp)
		} else {
			other = append(other, imp)
		}
	}
	if len(std)+len(other) == 0 {
		return
	}
	byPath := func(s []gosrc.Import) {
		sort.Slice(s, func(i, j int) bool { return s[i].Path < s[j].Path })
	}
	byPath(std)
	byPath(other)

	buf.WriteString("import (\n")
	for _, imp := range std {
		fmt.Fprintf(buf, "\t%s\n", imp)
	}
	if len(std) > 0 && len(other) > 0 {
		buf.WriteString("\n")
	}
	for _, imp := range other {
		fmt.Fprintf(buf, "\t%s\n", imp)
	}
	buf.WriteString(")\n\n")
}

// isStd reports whether p looks like a standard library path: no dot in the
// first element.
func isStd(p string) bool {
	for i := 0; i < len(p); i++ {
		switch p[i] {
		case '.':
			return false
		case '/':
			return true
		}
	}
	return true
}
