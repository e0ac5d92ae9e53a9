package typegen

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/busybeaver/lp-libs/umsgen/internal/gosrc"
)

// Imports lists the packages the rendered declarations use, besides the
// common module.
func (f *File) Imports() []gosrc.Import {
	return []gosrc.Import{{Path: "encoding/json"}, {Path: "fmt"}}
}

// Render writes the declarations of f to buf. common is the package qualifier
// of the common module.
func (f *File) Render(buf *bytes.Buffer, common string) {
	n := f.Names
	f.renderEvents(buf)

	if f.Doc != "" {
		gosrc.WriteComment(buf, f.Doc, "")
		buf.WriteString("//\n")
	}
	fmt.Fprintf(buf, "// %s is implemented by every %s message.\n", n.Union(), f.Model.Name)
	fmt.Fprintf(buf, "type %s interface {\n", n.Union())
	fmt.Fprintf(buf, "\t%s.Typed\n", common)
	fmt.Fprintf(buf, "\t%s()\n", n.Marker())
	buf.WriteString("}\n\n")

	f.renderDecode(buf)

	for _, v := range f.Variants {
		renderStruct(buf, v.Struct)
		fmt.Fprintf(buf, "// WireType returns the %s tag of %s.\n", f.Discriminant, v.Struct.Name)
		fmt.Fprintf(buf, "func (%s) WireType() string { return string(%s) }\n\n", v.Struct.Name, n.EventConst(v.Variant.Title))
		fmt.Fprintf(buf, "func (%s) %s() {}\n\n", v.Struct.Name, n.Marker())
		renderStruct(buf, v.Payload)
	}
	for _, st := range f.Nested {
		renderStruct(buf, st)
	}
}

func (f *File) renderEvents(buf *bytes.Buffer) {
	n := f.Names
	fmt.Fprintf(buf, "// %s is the %s tag of a %s message.\n", n.Event(), f.Discriminant, f.Model.Name)
	fmt.Fprintf(buf, "type %s string\n\n", n.Event())
	if len(f.Variants) > 0 {
		buf.WriteString("const (\n")
		for _, v := range f.Variants {
			fmt.Fprintf(buf, "\t%s %s = %s\n", n.EventConst(v.Variant.Title), n.Event(), strconv.Quote(v.Variant.Discriminant))
		}
		buf.WriteString(")\n\n")
	}

	fmt.Fprintf(buf, "// %s lists the message titles in declaration order.\n", n.Events())
	fmt.Fprintf(buf, "var %s = []string{\n", n.Events())
	for _, v := range f.Variants {
		fmt.Fprintf(buf, "\t%s,\n", strconv.Quote(v.Variant.Title))
	}
	buf.WriteString("}\n\n")

	fmt.Fprintf(buf, "// %s lists the message tags in declaration order.\n", n.Types())
	fmt.Fprintf(buf, "var %s = []%s{\n", n.Types(), n.Event())
	for _, v := range f.Variants {
		fmt.Fprintf(buf, "\t%s,\n", n.EventConst(v.Variant.Title))
	}
	buf.WriteString("}\n\n")
}

// renderDecode emits the decoder. Repeated tags decode into the first
// variant that declares them.
func (f *File) renderDecode(buf *bytes.Buffer) {
	n := f.Names
	fmt.Fprintf(buf, "// %s decodes a raw %s message into its concrete type.\n", n.Decode(), f.Model.Name)
	fmt.Fprintf(buf, "func %s(data []byte) (%s, error) {\n", n.Decode(), n.Union())
	buf.WriteString("\tvar head struct {\n")
	fmt.Fprintf(buf, "\t\tTag string %s\n", gosrc.JSONTag(f.Discriminant, false))
	buf.WriteString("\t}\n")
	buf.WriteString("\tif err := json.Unmarshal(data, &head); err != nil {\n\t\treturn nil, err\n\t}\n")
	if len(f.Variants) > 0 {
		seen := make(map[string]struct{}, len(f.Variants))
		fmt.Fprintf(buf, "\tswitch %s(head.Tag) {\n", n.Event())
		for _, v := range f.Variants {
			if _, dup := seen[v.Variant.Discriminant]; dup {
				continue
			}
			seen[v.Variant.Discriminant] = struct{}{}
			fmt.Fprintf(buf, "\tcase %s:\n", n.EventConst(v.Variant.Title))
			fmt.Fprintf(buf, "\t\tvar msg %s\n", v.Struct.Name)
			buf.WriteString("\t\tif err := json.Unmarshal(data, &msg); err != nil {\n\t\t\treturn nil, err\n\t\t}\n")
			buf.WriteString("\t\treturn &msg, nil\n")
		}
		buf.WriteString("\t}\n")
	}
	fmt.Fprintf(buf, "\treturn nil, fmt.Errorf(%s, head.Tag)\n", strconv.Quote(f.Model.Name+": unknown "+f.Discriminant+" %q"))
	buf.WriteString("}\n\n")
}

func renderStruct(buf *bytes.Buffer, st *Struct) {
	gosrc.WriteComment(buf, st.Doc, "")
	if len(st.Fields) == 0 && len(st.Embeds) == 0 {
		fmt.Fprintf(buf, "type %s struct{}\n\n", st.Name)
		return
	}
	fmt.Fprintf(buf, "type %s struct {\n", st.Name)
	for _, fd := range st.Fields {
		gosrc.WriteComment(buf, fd.Doc, "\t")
		fmt.Fprintf(buf, "\t%s %s %s\n", fd.Name, fd.Type, gosrc.JSONTag(fd.JSON, fd.Optional))
	}
	for _, e := range st.Embeds {
		fmt.Fprintf(buf, "\t%s\n", e)
	}
	buf.WriteString("}\n\n")
}
