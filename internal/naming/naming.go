// Package naming canonicalizes schema titles and file names into Go identifiers.
package naming

import (
	"go/token"
	"strings"
	"unicode"

	"github.com/ettle/strcase"
)

// goCaser title-cases single words and upper-cases Go initialisms ("id" -> "ID").
var goCaser = strcase.NewCaser(true, nil, nil)

// Words splits s at separators and case boundaries.
//
// "consumerRequests" -> [consumer Requests], "init_connection" -> [init connection],
// "HTTPServer" -> [HTTP Server].
func Words(s string) []string {
	var out []string
	var cur []rune
	flush := func() {
		if len(cur) > 0 {
			out = append(out, string(cur))
			cur = cur[:0]
		}
	}
	rs := []rune(s)
	for i, r := range rs {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			flush()
			continue
		}
		if len(cur) > 0 && unicode.IsUpper(r) {
			prev := rs[i-1]
			nextLower := i+1 < len(rs) && unicode.IsLower(rs[i+1])
			if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
				flush()
			}
		}
		cur = append(cur, r)
	}
	flush()
	return out
}

// Pascal returns the exported Go identifier form of s.
//
// Words already in upper case are kept so acronyms survive; the rest go
// through the Go initialism table ("requestId" -> "RequestID"). The result is
// prefixed with X when it would otherwise start with a digit or a caseless
// letter.
func Pascal(s string) string {
	var b strings.Builder
	for _, w := range Words(s) {
		if isUpperWord(w) {
			b.WriteString(w)
			continue
		}
		b.WriteString(goCaser.ToPascal(w))
	}
	out := b.String()
	if out == "" {
		return ""
	}
	if first := []rune(out)[0]; !unicode.IsUpper(first) {
		out = "X" + out
	}
	return out
}

func isUpperWord(w string) bool {
	n := 0
	for _, r := range w {
		if unicode.IsLower(r) {
			return false
		}
		if unicode.IsUpper(r) {
			n++
		}
	}
	return n > 1
}

// Snake returns the lower snake_case form of s.
func Snake(s string) string {
	words := Words(s)
	for i := range words {
		words[i] = strings.ToLower(words[i])
	}
	return strings.Join(words, "_")
}

// Package returns a Go package name for a snake_case module name.
func Package(s string) string {
	p := strings.ReplaceAll(Snake(s), "_", "")
	if p == "" {
		return ""
	}
	if first := []rune(p)[0]; !unicode.IsLetter(first) || token.IsKeyword(p) {
		p = "pkg" + p
	}
	return p
}
