// Package template resolves {{dotted.path}} placeholders against an
// execution context map.
package template

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/pkg/errors"
)

var tokenPattern = regexp.MustCompile(`\{\{\s*([^{}]+?)\s*\}\}`)

// UnresolvedRefError reports a template path with no value in the context.
// Only returned in strict mode; the default policy keeps the token verbatim.
type UnresolvedRefError struct {
	Path string
}

func (e *UnresolvedRefError) Error() string {
	return fmt.Sprintf("unresolved template reference {{%s}}", e.Path)
}

// Resolver substitutes template tokens inside strings, walking maps and
// lists recursively while preserving their shape. It is stateless and
// idempotent: resolving an already-resolved value is a no-op.
type Resolver struct {
	strict bool
}

type Option func(*Resolver)

// Strict makes resolution fail with an UnresolvedRefError instead of
// keeping unresolved tokens in place.
func Strict() Option {
	return func(r *Resolver) { r.strict = true }
}

func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns a structurally identical copy of value with every
// {{dotted.path}} occurrence inside strings replaced by the context value at
// that path. Non-string scalars pass through unchanged.
func (r *Resolver) Resolve(value any, runCtx map[string]any) (any, error) {
	switch v := value.(type) {
	case string:
		return r.resolveString(v, runCtx)
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			resolved, err := r.Resolve(item, runCtx)
			if err != nil {
				return nil, errors.WithMessagef(err, "key %q", k)
			}
			out[k] = resolved
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			resolved, err := r.Resolve(item, runCtx)
			if err != nil {
				return nil, errors.WithMessagef(err, "index %d", i)
			}
			out[i] = resolved
		}
		return out, nil
	default:
		return value, nil
	}
}

// ResolveString is a convenience for configs known to hold a string.
func (r *Resolver) ResolveString(s string, runCtx map[string]any) (string, error) {
	out, err := r.resolveString(s, runCtx)
	if err != nil {
		return "", err
	}
	return out, nil
}

func (r *Resolver) resolveString(s string, runCtx map[string]any) (string, error) {
	var firstMiss *UnresolvedRefError
	out := tokenPattern.ReplaceAllStringFunc(s, func(token string) string {
		path := strings.TrimSpace(tokenPattern.FindStringSubmatch(token)[1])
		val, ok := lookup(path, runCtx)
		if !ok {
			if firstMiss == nil {
				firstMiss = &UnresolvedRefError{Path: path}
			}
			return token
		}
		return stringify(val)
	})
	if r.strict && firstMiss != nil {
		return "", firstMiss
	}
	return out, nil
}

// lookup walks the dotted path segment by segment through nested maps.
func lookup(path string, runCtx map[string]any) (any, bool) {
	var current any = runCtx
	for _, segment := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[segment]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// stringify renders a resolved value for substitution into a string.
// Composite values serialize to canonical JSON text.
func stringify(val any) string {
	switch v := val.(type) {
	case string:
		return v
	case nil:
		return "null"
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}
