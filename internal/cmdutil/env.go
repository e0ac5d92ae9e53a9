// Package cmdutil reads environment fallbacks for command-line flags.
package cmdutil

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Env resolves flag fallbacks from prefixed environment variables: with
// Prefix "UMSGEN", name "log-level" reads UMSGEN_LOG_LEVEL.
type Env struct {
	Prefix string
	// Lookup defaults to os.LookupEnv.
	Lookup func(key string) (string, bool)
}

// Key returns the variable name read for name.
func (e Env) Key(name string) string {
	k := strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(name))
	if e.Prefix == "" {
		return k
	}
	return e.Prefix + "_" + k
}

func (e Env) raw(name string) string {
	lookup := e.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	v, _ := lookup(e.Key(name))
	return strings.TrimSpace(v)
}

// String returns the trimmed value if present; otherwise it returns fallback.
func (e Env) String(name string, fallback string) string {
	if v := e.raw(name); v != "" {
		return v
	}
	return fallback
}

// Bool parses a boolean value; when unset or blank, it returns fallback.
func (e Env) Bool(name string, fallback bool) (bool, error) {
	raw := e.raw(name)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%s: %w", e.Key(name), err)
	}
	return v, nil
}

// Int parses an integer value; when unset or blank, it returns fallback.
func (e Env) Int(name string, fallback int) (int, error) {
	raw := e.raw(name)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", e.Key(name), err)
	}
	return v, nil
}
