package assemble

import (
	"bytes"
	"fmt"

	"github.com/busybeaver/lp-libs/umsgen/internal/gosrc"
	"github.com/busybeaver/lp-libs/umsgen/internal/naming"
)

// Envelope names the wire properties shared by every message.
type Envelope struct {
	Discriminant string
	ID           string
	RequestID    string
}

func (e Envelope) withDefaults() Envelope {
	if e.Discriminant == "" {
		e.Discriminant = "type"
	}
	if e.ID == "" {
		e.ID = "id"
	}
	if e.RequestID == "" {
		e.RequestID = "requestId"
	}
	return e
}

type commonSection struct {
	env Envelope
}

func (commonSection) Imports() []gosrc.Import {
	return []gosrc.Import{{Path: "context"}, {Path: "fmt"}}
}

func (s commonSection) Render(buf *bytes.Buffer, _ string) {
	disc, id, reqID := s.env.Discriminant, s.env.ID, s.env.RequestID
	field := func(wire string, omitempty bool) string {
		return fmt.Sprintf("\t%s string %s\n", naming.Pascal(wire), gosrc.JSONTag(wire, omitempty))
	}

	fmt.Fprintf(buf, "// Typed is implemented by every generated message. WireType returns the\n// value of its %s property.\n", disc)
	buf.WriteString("type Typed interface {\n\tWireType() string\n}\n\n")

	buf.WriteString("// Envelope carries the properties shared by every message.\n")
	buf.WriteString("type Envelope struct {\n")
	buf.WriteString(field(disc, false))
	buf.WriteString(field(id, true))
	buf.WriteString("}\n\n")

	buf.WriteString("// SendEnvelope is a client message awaiting an answer.\n")
	buf.WriteString("type SendEnvelope struct {\n")
	buf.WriteString(field(disc, false))
	buf.WriteString(field(id, false))
	buf.WriteString("}\n\n")

	fmt.Fprintf(buf, "// ResponseEnvelope is a server message answering the request whose %s it\n// carries in %s.\n", id, reqID)
	buf.WriteString("type ResponseEnvelope struct {\n")
	buf.WriteString(field(disc, false))
	buf.WriteString(field(id, true))
	buf.WriteString(field(reqID, false))
	buf.WriteString("}\n\n")

	buf.WriteString("// Answers reports whether r answers the request carried by s.\n")
	fmt.Fprintf(buf, "func (r ResponseEnvelope) Answers(s SendEnvelope) bool {\n\treturn r.%s != \"\" && r.%s == s.%s\n}\n\n",
		naming.Pascal(reqID), naming.Pascal(reqID), naming.Pascal(id))

	buf.WriteString(`// NotificationHandler subscribes callbacks to server-pushed messages by tag.
// Implementations read the tag from the Envelope of each incoming message.
type NotificationHandler[E ~string] interface {
	OnNotification(event E, cb func(msg Typed))
}

// SendHandler sends a request and waits for the message answering it.
// Implementations stamp a fresh id into the SendEnvelope of req and resolve
// with the first message whose ResponseEnvelope Answers it.
type SendHandler[Req, Resp Typed] interface {
	SendMessage(ctx context.Context, req Req) (Resp, error)
}

// UnexpectedResponseError is returned when a request is answered by another
// message than the one it maps to.
type UnexpectedResponseError struct {
	Want string
	Got  string
}

func (e *UnexpectedResponseError) Error() string {
	return fmt.Sprintf("unexpected response %s, want %s", e.Got, e.Want)
}

// ExpectResponse narrows resp to T.
func ExpectResponse[T Typed](resp Typed) (T, error) {
	if t, ok := resp.(T); ok {
		return t, nil
	}
	var zero T
	return zero, &UnexpectedResponseError{Want: fmt.Sprintf("%T", zero), Got: fmt.Sprintf("%T", resp)}
}
`)
}

// AssembleCommon renders the shared module every schema module imports.
func (l Layout) AssembleCommon(env Envelope) (*Module, error) {
	l = l.withDefaults()
	return l.assemble(l.CommonModule, "", nil, "", []Section{commonSection{env: env.withDefaults()}})
}
