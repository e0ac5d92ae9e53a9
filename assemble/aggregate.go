package assemble

import (
	"bytes"
	"fmt"
	"go/ast"
	"go/parser"
	"go/printer"
	"go/token"
	"strconv"
	"strings"

	"golang.org/x/tools/go/ast/astutil"

	"github.com/busybeaver/lp-libs/umsgen/internal/gosrc"
	"github.com/busybeaver/lp-libs/umsgen/umserrors"
)

// Conflict is an exported name declared by more than one module. The module
// processed first keeps the name.
type Conflict struct {
	Name   string
	Module string
	Winner string
}

func (c Conflict) String() string {
	return fmt.Sprintf("%s from %s shadowed by %s", c.Name, c.Module, c.Winner)
}

// modulesVar lists the aggregated modules in the index package.
const modulesVar = "Modules"

type exports struct {
	mod    *Module
	types  []string
	consts []string
	vars   []string
	funcs  []string
}

// Aggregate builds the index file re-exporting every exported top-level
// declaration of mods, in the given order.
func (l Layout) Aggregate(mods []*Module) (*Module, []Conflict, error) {
	l = l.withDefaults()
	owner := map[string]string{modulesVar: l.IndexFile}
	var conflicts []Conflict
	claim := func(name, module string) bool {
		if prev, taken := owner[name]; taken {
			conflicts = append(conflicts, Conflict{Name: name, Module: module, Winner: prev})
			return false
		}
		owner[name] = module
		return true
	}

	all := make([]exports, 0, len(mods))
	for _, m := range mods {
		ex, err := collect(m, claim)
		if err != nil {
			return nil, nil, err
		}
		all = append(all, ex)
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "package %s\n\n", l.Package)
	buf.WriteString("import (\n")
	for _, ex := range all {
		imp := ex.mod.Import
		if len(ex.types)+len(ex.consts)+len(ex.vars)+len(ex.funcs) == 0 {
			imp.Name = "_"
		}
		fmt.Fprintf(&buf, "\t%s\n", imp)
	}
	buf.WriteString(")\n\n")

	fmt.Fprintf(&buf, "// %s lists the generated modules in processing order.\n", modulesVar)
	fmt.Fprintf(&buf, "var %s = []string{\n", modulesVar)
	for _, m := range mods {
		fmt.Fprintf(&buf, "\t%s,\n", strconv.Quote(m.Name))
	}
	buf.WriteString("}\n\n")

	for _, ex := range all {
		q := ex.mod.Import.Name
		fmt.Fprintf(&buf, "// Re-exported from %s.\n", ex.mod.Name)
		writeBlock(&buf, "type", ex.types, "")
		writeBlock(&buf, "const", ex.consts, q)
		writeBlock(&buf, "var", ex.vars, q)
		for _, fn := range ex.funcs {
			buf.WriteString(fn)
		}
	}

	src, err := Format(l.IndexFile, Banner(""), buf.Bytes())
	if err != nil {
		return nil, nil, err
	}
	return &Module{Name: l.Package, Import: gosrc.Import{Path: l.ImportPath}, Path: l.IndexFile, Source: src}, conflicts, nil
}

// writeBlock writes a parenthesized declaration block. With q set, each entry
// is a bare name aliased to q.name; otherwise entries are written verbatim.
func writeBlock(buf *bytes.Buffer, kw string, entries []string, q string) {
	if len(entries) == 0 {
		return
	}
	fmt.Fprintf(buf, "%s (\n", kw)
	for _, e := range entries {
		if q != "" {
			fmt.Fprintf(buf, "\t%s = %s.%s\n", e, q, e)
		} else {
			fmt.Fprintf(buf, "\t%s\n", e)
		}
	}
	buf.WriteString(")\n\n")
}

func collect(m *Module, claim func(name, module string) bool) (exports, error) {
	ex := exports{mod: m}
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, m.Path, m.Source, parser.SkipObjectResolution)
	if err != nil {
		return ex, &umserrors.Error{Module: m.Name, Stage: umserrors.StageAssemble, Code: umserrors.CodeFormatFailed, Err: err}
	}

	declared := make(map[string]bool)
	for _, d := range file.Decls {
		switch d := d.(type) {
		case *ast.GenDecl:
			for _, s := range d.Specs {
				switch s := s.(type) {
				case *ast.TypeSpec:
					declared[s.Name.Name] = true
				case *ast.ValueSpec:
					for _, n := range s.Names {
						declared[n.Name] = true
					}
				}
			}
		case *ast.FuncDecl:
			if d.Recv == nil {
				declared[d.Name.Name] = true
			}
		}
	}

	q := m.Import.Name
	for _, d := range file.Decls {
		switch d := d.(type) {
		case *ast.GenDecl:
			for _, s := range d.Specs {
				switch s := s.(type) {
				case *ast.TypeSpec:
					name := s.Name.Name
					if !ast.IsExported(name) || !claim(name, m.Name) {
						continue
					}
					if s.TypeParams == nil {
						ex.types = append(ex.types, fmt.Sprintf("%s = %s.%s", name, q, name))
						continue
					}
					params, args := typeParams(fset, s.TypeParams, q, declared)
					ex.types = append(ex.types, fmt.Sprintf("%s%s = %s.%s%s", name, params, q, name, args))
				case *ast.ValueSpec:
					for _, n := range s.Names {
						if !ast.IsExported(n.Name) || !claim(n.Name, m.Name) {
							continue
						}
						if d.Tok == token.CONST {
							ex.consts = append(ex.consts, n.Name)
						} else {
							ex.vars = append(ex.vars, n.Name)
						}
					}
				}
			}
		case *ast.FuncDecl:
			if d.Recv != nil || !ast.IsExported(d.Name.Name) || !claim(d.Name.Name, m.Name) {
				continue
			}
			if d.Type.TypeParams == nil {
				ex.vars = append(ex.vars, d.Name.Name)
				continue
			}
			ex.funcs = append(ex.funcs, genericWrapper(fset, d, q, declared))
		}
	}
	return ex, nil
}

// typeParams renders a type parameter list with package names qualified, and
// the matching argument list.
func typeParams(fset *token.FileSet, list *ast.FieldList, q string, declared map[string]bool) (string, string) {
	var params, args []string
	for _, f := range list.List {
		var names []string
		for _, n := range f.Names {
			names = append(names, n.Name)
		}
		args = append(args, names...)
		params = append(params, strings.Join(names, ", ")+" "+expr(fset, f.Type, q, declared))
	}
	return "[" + strings.Join(params, ", ") + "]", "[" + strings.Join(args, ", ") + "]"
}

// genericWrapper forwards to a generic function, which cannot be aliased.
func genericWrapper(fset *token.FileSet, d *ast.FuncDecl, q string, declared map[string]bool) string {
	tparams, targs := typeParams(fset, d.Type.TypeParams, q, declared)

	var params, args []string
	i := 0
	for _, f := range d.Type.Params.List {
		typ := expr(fset, f.Type, q, declared)
		_, variadic := f.Type.(*ast.Ellipsis)
		names := make([]string, 0, len(f.Names))
		for _, n := range f.Names {
			names = append(names, n.Name)
		}
		if len(names) == 0 {
			names = append(names, fmt.Sprintf("p%d", i))
		}
		for _, n := range names {
			if n == "_" {
				n = fmt.Sprintf("p%d", i)
			}
			params = append(params, n+" "+typ)
			if variadic {
				args = append(args, n+"...")
			} else {
				args = append(args, n)
			}
			i++
		}
	}

	var results []string
	if d.Type.Results != nil {
		for _, f := range d.Type.Results.List {
			typ := expr(fset, f.Type, q, declared)
			for n := 0; n < max(1, len(f.Names)); n++ {
				results = append(results, typ)
			}
		}
	}

	var buf strings.Builder
	fmt.Fprintf(&buf, "// %s forwards to %s.%s.\n", d.Name.Name, q, d.Name.Name)
	fmt.Fprintf(&buf, "func %s%s(%s)", d.Name.Name, tparams, strings.Join(params, ", "))
	switch len(results) {
	case 0:
	case 1:
		buf.WriteString(" " + results[0])
	default:
		buf.WriteString(" (" + strings.Join(results, ", ") + ")")
	}
	buf.WriteString(" {\n\t")
	if len(results) > 0 {
		buf.WriteString("return ")
	}
	fmt.Fprintf(&buf, "%s.%s%s(%s)\n}\n\n", q, d.Name.Name, targs, strings.Join(args, ", "))
	return buf.String()
}

// expr prints e with every reference to a top-level declaration of the
// module qualified by q.
func expr(fset *token.FileSet, e ast.Expr, q string, declared map[string]bool) string {
	out := astutil.Apply(e, func(c *astutil.Cursor) bool {
		id, ok := c.Node().(*ast.Ident)
		if !ok || !declared[id.Name] {
			return true
		}
		switch c.Parent().(type) {
		case *ast.SelectorExpr:
			if c.Name() == "Sel" {
				return true
			}
		case *ast.Field:
			if c.Name() == "Names" {
				return true
			}
		}
		c.Replace(&ast.SelectorExpr{X: ast.NewIdent(q), Sel: ast.NewIdent(id.Name)})
		return true
	}, nil)
	var buf bytes.Buffer
	if err := printer.Fprint(&buf, fset, out); err != nil {
		return fmt.Sprintf("/* %v */", err)
	}
	return buf.String()
}
