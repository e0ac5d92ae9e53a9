// Package mapping resolves the hand-authored table pairing each request
// variant with the response type it resolves to.
package mapping

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/busybeaver/lp-libs/umsgen/eventmodel"
	"github.com/busybeaver/lp-libs/umsgen/internal/naming"
	"github.com/busybeaver/lp-libs/umsgen/typegen"
	"github.com/busybeaver/lp-libs/umsgen/umserrors"
)

// Mapping pairs a request title with a response variant, named either by its
// title or by its Go type name.
type Mapping map[string]string

// Policy decides what happens to request variants the mapping does not cover.
type Policy string

const (
	// PolicyWarn skips uncovered requests and logs each one.
	PolicyWarn Policy = "warn"
	// PolicyStrict fails the module.
	PolicyStrict Policy = "strict"
	// PolicyIgnore skips uncovered requests silently.
	PolicyIgnore Policy = "ignore"
)

// ParsePolicy parses a policy name. The empty string selects PolicyWarn.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return PolicyWarn, nil
	case PolicyWarn, PolicyStrict, PolicyIgnore:
		return p, nil
	default:
		return "", fmt.Errorf("unknown mapping policy %q (want warn, strict or ignore)", s)
	}
}

// Pair is one covered request.
type Pair struct {
	Request eventmodel.Variant
	// Response is the Go type name of the response variant.
	Response string
}

// Resolution is the outcome of Resolve.
type Resolution struct {
	// Pairs follow request declaration order.
	Pairs []Pair
	// Skipped lists uncovered request titles in declaration order.
	Skipped []string
}

// Resolve checks m against the request model and the synthesized responses
// module. Entries naming an unknown request or response are always errors, as
// are two keys naming the same request (a title and its Pascal form).
func Resolve(requests *eventmodel.Model, responses *typegen.File, m Mapping, policy Policy, logger *slog.Logger) (*Resolution, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if policy == "" {
		policy = PolicyWarn
	}

	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	byKey := make(map[string]string, len(m))
	claimed := make(map[string]string, len(m))
	var unknown []string
	for _, key := range keys {
		v, ok := lookupRequest(requests, key)
		if !ok {
			unknown = append(unknown, key)
			continue
		}
		if prev, dup := claimed[v.Title]; dup {
			return nil, &umserrors.Error{Stage: umserrors.StageMap, Code: umserrors.CodeDuplicateKey, Variant: v.Title,
				Err: fmt.Errorf("mapping keys %q and %q both name %s", prev, key, v.Title)}
		}
		claimed[v.Title] = key
		byKey[v.Title] = m[key]
	}
	if len(unknown) > 0 {
		return nil, &umserrors.Error{Stage: umserrors.StageMap, Code: umserrors.CodeUnknownRequest, Variant: unknown[0],
			Err: fmt.Errorf("mapping keys %s are not %s variants", strings.Join(unknown, ", "), requests.Name)}
	}

	res := &Resolution{}
	for _, v := range requests.Variants {
		resp, ok := byKey[v.Title]
		if !ok {
			res.Skipped = append(res.Skipped, v.Title)
			continue
		}
		typ, ok := responseType(responses, resp)
		if !ok {
			return nil, &umserrors.Error{Stage: umserrors.StageMap, Code: umserrors.CodeUnknownResponse, Variant: v.Title,
				Err: fmt.Errorf("%s is not a %s variant", resp, responses.Model.Name)}
		}
		res.Pairs = append(res.Pairs, Pair{Request: v, Response: typ})
	}

	if len(res.Skipped) == 0 {
		return res, nil
	}
	switch policy {
	case PolicyStrict:
		return nil, &umserrors.Error{Stage: umserrors.StageMap, Code: umserrors.CodeMappingGap, Variant: res.Skipped[0],
			Err: fmt.Errorf("no response mapped for %s", strings.Join(res.Skipped, ", "))}
	case PolicyWarn:
		for _, title := range res.Skipped {
			logger.Warn("request has no mapped response, method skipped", "requests", requests.Name, "variant", title)
		}
	}
	return res, nil
}

func lookupRequest(model *eventmodel.Model, key string) (eventmodel.Variant, bool) {
	if v, ok := model.Lookup(key); ok {
		return v, true
	}
	for _, v := range model.Variants {
		if naming.Pascal(v.Title) == key {
			return v, true
		}
	}
	return eventmodel.Variant{}, false
}

func responseType(f *typegen.File, name string) (string, bool) {
	if v, ok := f.Model.Lookup(name); ok {
		return f.Names.Variant(v.Title), true
	}
	if f.IsVariantType(name) {
		return name, true
	}
	return "", false
}
