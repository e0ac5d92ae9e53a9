// Package gosrc holds small helpers shared by the Go source emitters.
package gosrc

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

func splitCommentLines(comment string) []string {
	comment = strings.TrimSpace(strings.ReplaceAll(comment, "\r\n", "\n"))
	if comment == "" {
		return nil
	}
	lines := strings.Split(comment, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		out = append(out, strings.TrimRight(line, " \t\r"))
	}
	return out
}

// WriteComment writes comment as // lines at indent. Blank comments write nothing.
func WriteComment(buf *bytes.Buffer, comment string, indent string) {
	for _, line := range splitCommentLines(comment) {
		if line == "" {
			fmt.Fprintf(buf, "%s//\n", indent)
			continue
		}
		fmt.Fprintf(buf, "%s// %s\n", indent, line)
	}
}

// JSONTag returns a struct tag literal for the JSON member name.
func JSONTag(name string, omitempty bool) string {
	v := name
	switch {
	case omitempty:
		v += ",omitempty"
	case name == "-":
		// A bare "-" tells encoding/json to skip the field.
		v += ","
	}
	tag := "json:" + strconv.Quote(v)
	if strings.Contains(tag, "`") {
		return strconv.Quote(tag)
	}
	return "`" + tag + "`"
}

// Import is one import spec of a generated file. Name is empty when the
// package name matches the last path element.
type Import struct {
	Name string
	Path string
}

func (i Import) String() string {
	if i.Name == "" {
		return strconv.Quote(i.Path)
	}
	return i.Name + " " + strconv.Quote(i.Path)
}
