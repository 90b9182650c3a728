// Package epc implements the Explicit Path Chain resolver: deterministic
// artifact resolution along a multi-dimensional scope chain.
package epc

import (
	"strings"
	"sync"

	coreerrors "github.com/ucgraph/core/pkg/errors"
)

// Kind enumerates the artifact kinds the resolver handles. Templates are
// never theme-overridable (§4.5 Template file resolution) — Resolve
// ignores the scope chain for KindTemplate requests and looks only at the
// non-themed default location.
type Kind int

const (
	KindCSS Kind = iota
	KindJS
	KindTemplate
	KindEntity
)

// ArtifactLookup answers whether an artifact exists at a given scope member
// for (kind, snippet, file); it is supplied by the caller (the filesystem
// or content-map backing the resolver) and is the only suspension point
// the resolver has on a cold path.
type ArtifactLookup interface {
	Exists(member string, kind Kind, snippet, file string) (string, bool)
}

// Resolver is a pure function from (request, scope chain, lookup) to an
// artifact identifier, with prior resolutions interned in resultCache for
// O(1) allocation-free repeat lookups (P7). Scope chains themselves are not
// cached: chainCache is never populated.
type Resolver struct {
	baseTheme string
	lookup    ArtifactLookup

	chainCache sync.Map // context string -> []string (scope chain)
	resultCache sync.Map // cache key -> string (resolved artifact)
}

// New builds a Resolver over baseTheme and lookup.
func New(baseTheme string, lookup ArtifactLookup) *Resolver {
	return &Resolver{baseTheme: baseTheme, lookup: lookup}
}

// ScopeChain builds the ordered, most-specific-first list of scope members
// for a dotted context string: each prefix of the context appended to the
// base theme (longest prefix first), followed by the base theme itself.
// Only members that actually exist per
// existingMembers are retained, in order.
func ScopeChain(baseTheme, context string, existingMembers map[string]bool) []string {
	var prefixes []string
	if context != "" {
		segments := strings.Split(context, ".")
		for i := len(segments); i >= 1; i-- {
			prefixes = append(prefixes, strings.Join(segments[:i], "."))
		}
	}

	var chain []string
	for _, p := range prefixes {
		member := baseTheme
		if p != "" {
			member = baseTheme + "." + p
		}
		if existingMembers == nil || existingMembers[member] {
			chain = append(chain, member)
		}
	}
	if existingMembers == nil || existingMembers[baseTheme] {
		chain = append(chain, baseTheme)
	}
	return chain
}

// Resolve walks chain most-specific to least-specific looking for
// (kind, snippet, file); it falls back to the non-themed default location
// (empty member) if nothing in chain matches, and returns NotFound if that
// also misses. Templates ignore the chain entirely by policy.
func (r *Resolver) Resolve(chain []string, kind Kind, snippet, file string) (string, error) {
	if kind == KindTemplate {
		if artifact, ok := r.lookup.Exists("", kind, snippet, file); ok {
			return artifact, nil
		}
		return "", coreerrors.NewNotFound("template", snippet+"/"+file)
	}

	cacheKey := strings.Join(chain, "\x00") + "\x01" + kindKey(kind) + "\x01" + snippet + "\x01" + file
	if v, ok := r.resultCache.Load(cacheKey); ok {
		return v.(string), nil
	}

	for _, member := range chain {
		if artifact, ok := r.lookup.Exists(member, kind, snippet, file); ok {
			r.resultCache.Store(cacheKey, artifact)
			return artifact, nil
		}
	}
	if artifact, ok := r.lookup.Exists("", kind, snippet, file); ok {
		r.resultCache.Store(cacheKey, artifact)
		return artifact, nil
	}
	return "", coreerrors.NewNotFound("artifact", snippet+"/"+file)
}

func kindKey(k Kind) string {
	switch k {
	case KindCSS:
		return "css"
	case KindJS:
		return "js"
	case KindTemplate:
		return "template"
	case KindEntity:
		return "entity"
	default:
		return "?"
	}
}

// ResolveEntityVariant implements the feature-toggle extension: the lookup
// key for an entity under scope s is `entity:<type>:<name>.<s>`; progressively
// shorter suffixes are tried until one resolves or the unscoped key is
// reached.
func (r *Resolver) ResolveEntityVariant(typ, name, scope string, exists func(key string) bool) (string, error) {
	segments := []string{}
	if scope != "" {
		segments = strings.Split(scope, ".")
	}
	base := "entity:" + typ + ":" + name
	for i := len(segments); i >= 0; i-- {
		key := base
		if i > 0 {
			key = base + "." + strings.Join(segments[:i], ".")
		}
		if exists(key) {
			return key, nil
		}
	}
	return "", coreerrors.NewNotFound("entity variant", base)
}
