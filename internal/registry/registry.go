// Package registry is the in-memory, read-mostly index of entity-type
// definitions: field schemas, performance flags and composition rules,
// built from the Config Store and swapped atomically on reload.
package registry

import (
	"fmt"
	"regexp"
	"sort"
	"sync/atomic"

	coreerrors "github.com/ucgraph/core/pkg/errors"
)

var typeNamePattern = regexp.MustCompile(`^[a-z][a-z0-9]*(-[a-z0-9]+)*$`)

var reservedPrefixes = []string{"reed-", "admin-", "api-"}

// CompositionRule declares the ordered child types auto-instantiated when
// an instance of the owning type is created.
type CompositionRule struct {
	Layout   string
	Children []string // ordered child type names
}

// Definition is one Registry entry: a type's schema and performance flags.
type Definition struct {
	Type             string
	Routable         bool
	Navigable        bool
	Searchable       bool
	Required         []string
	Indexable        []string
	MaxNestingDepth   *int
	Fields           map[string]*FieldSchema
	Composition      *CompositionRule
	CSSControlFields []string
	Description      string
}

// ValidationError reports the first failing field with its full dotted path.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string { return fmt.Sprintf("%s: %s", e.Field, e.Reason) }

// Registry is the atomically-swappable set of Definitions.
type Registry struct {
	ptr atomic.Pointer[registrySnapshot]
}

type registrySnapshot struct {
	byType map[string]*Definition
}

// New returns an empty Registry; use Build or Replace to populate it.
func New() *Registry {
	r := &Registry{}
	r.ptr.Store(&registrySnapshot{byType: map[string]*Definition{}})
	return r
}

// Build validates the given definitions (reserved prefixes, composition
// cycles) and returns a ready-to-swap Registry. Auto-derivation of
// Searchable/Indexable from CS flags must already have been applied by the
// caller (Config Store), per spec — Build only validates structural
// correctness of what it is given.
func Build(defs []*Definition) (*Registry, error) {
	byType := make(map[string]*Definition, len(defs))
	for _, d := range defs {
		if err := validateTypeName(d.Type); err != nil {
			return nil, err
		}
		if _, dup := byType[d.Type]; dup {
			return nil, coreerrors.NewConfigError(fmt.Sprintf("duplicate type %q", d.Type), nil)
		}
		byType[d.Type] = d
	}
	if err := detectCompositionCycles(byType); err != nil {
		return nil, err
	}
	r := &Registry{}
	r.ptr.Store(&registrySnapshot{byType: byType})
	return r, nil
}

func validateTypeName(t string) error {
	if len(t) < 2 || len(t) > 50 {
		return coreerrors.NewConfigError(fmt.Sprintf("type name %q must be 2-50 chars", t), nil)
	}
	if !typeNamePattern.MatchString(t) {
		return coreerrors.NewConfigError(fmt.Sprintf("type name %q must be kebab-case", t), nil)
	}
	for _, p := range reservedPrefixes {
		if len(t) >= len(p) && t[:len(p)] == p {
			return coreerrors.NewConfigError(fmt.Sprintf("type name %q uses reserved prefix %q", t, p), nil)
		}
	}
	return nil
}

func detectCompositionCycles(byType map[string]*Definition) error {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(byType))
	var visit func(t string) error
	visit = func(t string) error {
		color[t] = gray
		if d, ok := byType[t]; ok && d.Composition != nil {
			for _, child := range d.Composition.Children {
				switch color[child] {
				case gray:
					return coreerrors.NewConfigError(fmt.Sprintf("composition cycle involving %q", child), nil)
				case white:
					if err := visit(child); err != nil {
						return err
					}
				}
			}
		}
		color[t] = black
		return nil
	}
	for t := range byType {
		if color[t] == white {
			if err := visit(t); err != nil {
				return err
			}
		}
	}
	return nil
}

// Replace atomically swaps the registry's contents with other's.
func (r *Registry) Replace(other *Registry) {
	r.ptr.Store(other.ptr.Load())
}

func (r *Registry) snap() *registrySnapshot { return r.ptr.Load() }

// IsKnown reports whether t is a defined type.
func (r *Registry) IsKnown(t string) bool {
	_, ok := r.snap().byType[t]
	return ok
}

// Definition returns the Definition for t, or nil if unknown.
func (r *Registry) Definition(t string) *Definition {
	return r.snap().byType[t]
}

// RoutableTypes returns the sorted list of type names flagged routable.
func (r *Registry) RoutableTypes() []string {
	var out []string
	for t, d := range r.snap().byType {
		if d.Routable {
			out = append(out, t)
		}
	}
	sort.Strings(out)
	return out
}

// SearchableFields returns the indexable field list for t (empty if t is
// unknown or not searchable).
func (r *Registry) SearchableFields(t string) []string {
	d := r.Definition(t)
	if d == nil || !d.Searchable {
		return nil
	}
	return d.Indexable
}

// CompositionOf returns t's composition rule, or nil.
func (r *Registry) CompositionOf(t string) *CompositionRule {
	d := r.Definition(t)
	if d == nil {
		return nil
	}
	return d.Composition
}

// Validate checks fields against t's schema, depth-first, returning the
// first failing field with its full dotted path.
func (r *Registry) Validate(t string, fields map[string]any) error {
	d := r.Definition(t)
	if d == nil {
		return coreerrors.NewValidation(t, "unknown type")
	}
	for _, req := range d.Required {
		if _, ok := fields[req]; !ok {
			return coreerrors.NewValidation(req, "required field missing")
		}
	}
	for name, schema := range d.Fields {
		val, present := fields[name]
		if !present {
			if schema.Required {
				return coreerrors.NewValidation(name, "required field missing")
			}
			continue
		}
		if err := validateValue(name, schema, val); err != nil {
			ve := err.(*ValidationError)
			return coreerrors.NewValidation(ve.Field, ve.Reason)
		}
	}
	return nil
}

func validateValue(path string, schema *FieldSchema, val any) error {
	switch schema.Kind {
	case KindString:
		s, ok := val.(string)
		if !ok {
			return &ValidationError{Field: path, Reason: "expected string"}
		}
		return validateString(path, schema, s)
	case KindNumber:
		n, ok := toFloat(val)
		if !ok {
			return &ValidationError{Field: path, Reason: "expected number"}
		}
		if schema.Min != nil && n < *schema.Min {
			return &ValidationError{Field: path, Reason: "below minimum"}
		}
		if schema.Max != nil && n > *schema.Max {
			return &ValidationError{Field: path, Reason: "above maximum"}
		}
		return nil
	case KindBoolean:
		if _, ok := val.(bool); !ok {
			return &ValidationError{Field: path, Reason: "expected boolean"}
		}
		return nil
	case KindArray:
		arr, ok := val.([]any)
		if !ok {
			return &ValidationError{Field: path, Reason: "expected array"}
		}
		for i, elem := range arr {
			if err := validateValue(fmt.Sprintf("%s.%d", path, i), schema.Elem, elem); err != nil {
				return err
			}
		}
		return nil
	case KindObject:
		obj, ok := val.(map[string]any)
		if !ok {
			return &ValidationError{Field: path, Reason: "expected object"}
		}
		for name, child := range schema.Children {
			cv, present := obj[name]
			childPath := path + "." + name
			if !present {
				if child.Required {
					return &ValidationError{Field: childPath, Reason: "required field missing"}
				}
				continue
			}
			if err := validateValue(childPath, child, cv); err != nil {
				return err
			}
		}
		return nil
	default:
		return &ValidationError{Field: path, Reason: "unknown schema kind"}
	}
}

func validateString(path string, schema *FieldSchema, s string) error {
	if schema.Min != nil && float64(len(s)) < *schema.Min {
		return &ValidationError{Field: path, Reason: "shorter than minimum length"}
	}
	if schema.Max != nil && float64(len(s)) > *schema.Max {
		return &ValidationError{Field: path, Reason: "longer than maximum length"}
	}
	if schema.Pattern != nil && !schema.Pattern.MatchString(s) {
		return &ValidationError{Field: path, Reason: "does not match pattern"}
	}
	if len(schema.Enum) > 0 {
		found := false
		for _, e := range schema.Enum {
			if e == s {
				found = true
				break
			}
		}
		if !found {
			return &ValidationError{Field: path, Reason: "not in enum"}
		}
	}
	if schema.Email && !emailPattern.MatchString(s) {
		return &ValidationError{Field: path, Reason: "not a valid email"}
	}
	if schema.URL && !urlPattern.MatchString(s) {
		return &ValidationError{Field: path, Reason: "not a valid url"}
	}
	return nil
}

var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
var urlPattern = regexp.MustCompile(`^(https?|ftp)://[^\s]+$`)

func toFloat(val any) (float64, bool) {
	switch v := val.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}
