// Package assemble turns rendered declarations into formatted Go files: one
// package per schema module, the shared common module and the aggregator that
// re-exports them all.
package assemble

import (
	"bytes"
	"fmt"

	"golang.org/x/tools/imports"

	"github.com/busybeaver/lp-libs/umsgen/umserrors"
)

var formatOptions = &imports.Options{
	Comments:   true,
	TabIndent:  true,
	TabWidth:   8,
	FormatOnly: true,
}

// Banner returns the generated-file marker line for a module built from ref.
func Banner(ref string) string {
	if ref == "" {
		return "// Code generated by umsgen. DO NOT EDIT."
	}
	return "// Code generated by umsgen from " + ref + ". DO NOT EDIT."
}

// Format prepends the banner, normalizes line endings and gofmts src. The
// result always ends in exactly one newline.
func Format(filename, banner string, src []byte) ([]byte, error) {
	src = bytes.ReplaceAll(src, []byte("\r\n"), []byte("\n"))
	var buf bytes.Buffer
	buf.Grow(len(banner) + len(src) + 2)
	buf.WriteString(banner)
	buf.WriteString("\n\n")
	buf.Write(src)

	out, err := imports.Process(filename, buf.Bytes(), formatOptions)
	if err != nil {
		return nil, &umserrors.Error{Stage: umserrors.StageAssemble, Code: umserrors.CodeFormatFailed, Err: fmt.Errorf("%s: %w", filename, err)}
	}
	out = bytes.TrimRight(out, "\n")
	return append(out, '\n'), nil
}
