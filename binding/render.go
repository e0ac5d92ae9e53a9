package binding

import (
	"bytes"
	"fmt"

	"github.com/busybeaver/lp-libs/umsgen/internal/gosrc"
)

// Imports lists the packages the rendered contract uses, besides the common
// module.
func (c *Contract) Imports() []gosrc.Import {
	var out []gosrc.Import
	if c.Pattern == PatternResponses {
		if len(c.Methods) > 0 {
			out = append(out, gosrc.Import{Path: "context"})
		}
		out = append(out, *c.Requests)
	}
	return out
}

// Render writes the contract interface, the composition helper and its
// methods to buf. common is the package qualifier of the common module.
func (c *Contract) Render(buf *bytes.Buffer, common string) {
	n := c.Names
	switch c.Pattern {
	case PatternNotifications:
		fmt.Fprintf(buf, "// %s subscribes typed callbacks to %s messages.\n", n.Wrapper(), c.Module)
	default:
		fmt.Fprintf(buf, "// %s sends typed requests and resolves their %s.\n", n.Wrapper(), c.Module)
	}
	fmt.Fprintf(buf, "type %s interface {\n", n.Wrapper())
	for _, m := range c.Methods {
		fmt.Fprintf(buf, "\t%s%s\n", m.Name, c.signature(m))
	}
	buf.WriteString("}\n\n")

	fmt.Fprintf(buf, "// %s adds the %s methods to a %s.\n", n.Wrapped(), n.Wrapper(), c.Base)
	fmt.Fprintf(buf, "type %s struct {\n\t%s\n}\n\n", n.Wrapped(), c.Base)
	buf.WriteString("var (\n")
	fmt.Fprintf(buf, "\t_ %s = (*%s)(nil)\n", c.Base, n.Wrapped())
	fmt.Fprintf(buf, "\t_ %s = (*%s)(nil)\n", n.Wrapper(), n.Wrapped())
	buf.WriteString(")\n\n")

	fmt.Fprintf(buf, "// %s layers the typed methods over base.\n", n.Wrap())
	fmt.Fprintf(buf, "func %s(base %s) *%s {\n", n.Wrap(), c.Base, n.Wrapped())
	fmt.Fprintf(buf, "\treturn &%s{%s: base}\n", n.Wrapped(), embeddedName(c.Base))
	buf.WriteString("}\n\n")

	for _, m := range c.Methods {
		fmt.Fprintf(buf, "func (w *%s) %s%s {\n", n.Wrapped(), m.Name, c.signature(m))
		if c.Pattern == PatternNotifications {
			fmt.Fprintf(buf, "\tw.OnNotification(%s, func(msg %s.Typed) {\n", m.Event, common)
			buf.WriteString("\t\tswitch m := msg.(type) {\n")
			fmt.Fprintf(buf, "\t\tcase *%s:\n\t\t\tcb(m)\n", m.Message)
			fmt.Fprintf(buf, "\t\tcase %s:\n\t\t\tcb(&m)\n", m.Message)
			buf.WriteString("\t\t}\n")
			buf.WriteString("\t})\n")
		} else {
			fmt.Fprintf(buf, "\tresp, err := w.SendMessage(ctx, &%s{%s: string(%s), %s: data})\n", m.Message, c.DiscField, m.Event, m.PayloadField)
			buf.WriteString("\tif err != nil {\n\t\treturn nil, err\n\t}\n")
			fmt.Fprintf(buf, "\treturn %s.ExpectResponse[%s](resp)\n", common, m.Result)
		}
		buf.WriteString("}\n\n")
	}
}

func (c *Contract) signature(m Method) string {
	if c.Pattern == PatternNotifications {
		return fmt.Sprintf("(cb func(*%s))", m.Message)
	}
	return fmt.Sprintf("(ctx context.Context, data %s) (%s, error)", m.Payload, m.Result)
}

// embeddedName returns the field name of an embedded, possibly qualified and
// instantiated, type.
func embeddedName(typ string) string {
	for i := 0; i < len(typ); i++ {
		if typ[i] == '[' {
			typ = typ[:i]
			break
		}
	}
	for i := len(typ) - 1; i >= 0; i-- {
		if typ[i] == '.' {
			return typ[i+1:]
		}
	}
	return typ
}
