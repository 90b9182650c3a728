package registry

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Kind enumerates the primitive and container field-schema variants.
type Kind int

const (
	KindString Kind = iota
	KindNumber
	KindBoolean
	KindArray
	KindObject
)

// FieldSchema is the recursive, tagged-union field description used by
// Registry validation. Array carries one Elem; Object carries a named set
// of child FieldSchemas.
type FieldSchema struct {
	Name     string
	Kind     Kind
	Elem     *FieldSchema
	Children map[string]*FieldSchema

	Required bool
	Min      *float64
	Max      *float64
	Pattern  *regexp.Regexp
	Enum     []string
	URL      bool
	Email    bool
}

// ParseError locates a schema-cell parse failure by byte offset.
type ParseError struct {
	Offset  int
	Message string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("schema cell: offset %d: %s", e.Offset, e.Message)
}

// ParseSchemaCell parses a CSV cell of `name:Type(constraints);name2:Type2(...)`
// tokens into an ordered list of top-level FieldSchemas. It is a
// hand-written, single-pass, linear-time scanner: no regexp is used for the
// grammar itself (only for the compiled `pattern` constraint values).
func ParseSchemaCell(cell string) ([]*FieldSchema, error) {
	p := &cellParser{src: cell}
	var out []*FieldSchema
	for p.pos < len(p.src) {
		p.skipSpaces()
		if p.pos >= len(p.src) {
			break
		}
		fs, err := p.parseField()
		if err != nil {
			return nil, err
		}
		out = append(out, fs)
		p.skipSpaces()
		if p.pos < len(p.src) && p.src[p.pos] == ';' {
			p.pos++
			continue
		}
		if p.pos < len(p.src) {
			return nil, &ParseError{Offset: p.pos, Message: fmt.Sprintf("expected ';' got %q", p.src[p.pos])}
		}
	}
	return out, nil
}

type cellParser struct {
	src string
	pos int
}

func (p *cellParser) skipSpaces() {
	for p.pos < len(p.src) && (p.src[p.pos] == ' ' || p.src[p.pos] == '\t') {
		p.pos++
	}
}

// parseField parses one `name:Type(constraints)` token, where Type may be
// `Array(elem:T(...))` nesting one level of element schema, or
// `Object(child:Type(...);...)` declaring its named children inline.
// Constraints are `key=value` pairs separated by `;` inside the parens;
// enum values are `,`-separated. An Object body mixes child declarations
// and bare constraints (`required`) freely, split at top-level `;` only.
func (p *cellParser) parseField() (*FieldSchema, error) {
	start := p.pos
	name := p.readUntil(':')
	if name == "" {
		return nil, &ParseError{Offset: start, Message: "expected field name before ':'"}
	}
	// A trailing '*' is the searchable-field marker (CS convention,
	// DESIGN.md internal/registry); it is not part of the field's actual key.
	name = strings.TrimSuffix(name, "*")
	if name == "" {
		return nil, &ParseError{Offset: start, Message: "expected field name before '*'"}
	}
	if p.pos >= len(p.src) || p.src[p.pos] != ':' {
		return nil, &ParseError{Offset: p.pos, Message: "expected ':' after field name"}
	}
	p.pos++ // consume ':'

	typeName := p.readTypeName()
	fs := &FieldSchema{Name: name}
	switch strings.ToLower(typeName) {
	case "string":
		fs.Kind = KindString
	case "number":
		fs.Kind = KindNumber
	case "boolean", "bool":
		fs.Kind = KindBoolean
	case "array":
		fs.Kind = KindArray
	case "object":
		fs.Kind = KindObject
		fs.Children = map[string]*FieldSchema{}
	default:
		return nil, &ParseError{Offset: start, Message: fmt.Sprintf("unknown type %q", typeName)}
	}

	if p.pos < len(p.src) && p.src[p.pos] == '(' {
		p.pos++ // consume '('
		body := p.readParenBody()
		switch fs.Kind {
		case KindArray:
			elem, err := parseArrayElem(body)
			if err != nil {
				return nil, err
			}
			fs.Elem = elem
		case KindObject:
			if err := applyObjectBody(fs, body); err != nil {
				return nil, err
			}
		default:
			if err := applyConstraints(fs, body); err != nil {
				return nil, err
			}
		}
	}
	return fs, nil
}

func (p *cellParser) readUntil(stop byte) string {
	start := p.pos
	for p.pos < len(p.src) && p.src[p.pos] != stop && p.src[p.pos] != ';' && p.src[p.pos] != '(' {
		p.pos++
	}
	return strings.TrimSpace(p.src[start:p.pos])
}

func (p *cellParser) readTypeName() string {
	start := p.pos
	for p.pos < len(p.src) && p.src[p.pos] != '(' && p.src[p.pos] != ';' {
		p.pos++
	}
	return strings.TrimSpace(p.src[start:p.pos])
}

// readParenBody consumes up to the matching ')' honouring nested
// parentheses at any depth (e.g. Array(elem:T(...))), and leaves pos just
// past ')'.
func (p *cellParser) readParenBody() string {
	start := p.pos
	depth := 1
	for p.pos < len(p.src) && depth > 0 {
		switch p.src[p.pos] {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				body := p.src[start:p.pos]
				p.pos++ // consume ')'
				return body
			}
		}
		p.pos++
	}
	return p.src[start:p.pos]
}

// splitTopLevel splits s on sep, ignoring separators inside parentheses,
// so nested child constraint lists survive intact.
func splitTopLevel(s string, sep byte) []string {
	var out []string
	depth, start := 0, 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '(':
			depth++
		case ')':
			depth--
		case sep:
			if depth == 0 {
				out = append(out, s[start:i])
				start = i + 1
			}
		}
	}
	return append(out, s[start:])
}

// applyObjectBody parses an Object's paren body: each top-level item is
// either a nested `name:Type(...)` child declaration (a ':' appears before
// any '(' or '=') or an ordinary constraint applied to the Object itself.
func applyObjectBody(fs *FieldSchema, body string) error {
	if strings.TrimSpace(body) == "" {
		return nil
	}
	var constraints []string
	for _, item := range splitTopLevel(body, ';') {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		colon := strings.IndexByte(item, ':')
		eq := strings.IndexByte(item, '=')
		paren := strings.IndexByte(item, '(')
		isChild := colon >= 0 && (paren < 0 || colon < paren) && (eq < 0 || colon < eq)
		if !isChild {
			constraints = append(constraints, item)
			continue
		}
		inner := &cellParser{src: item}
		child, err := inner.parseField()
		if err != nil {
			return err
		}
		inner.skipSpaces()
		if inner.pos < len(inner.src) {
			return &ParseError{Offset: inner.pos, Message: fmt.Sprintf("unexpected %q after object child %q", inner.src[inner.pos], child.Name)}
		}
		fs.Children[child.Name] = child
	}
	return applyConstraints(fs, strings.Join(constraints, ";"))
}

func parseArrayElem(body string) (*FieldSchema, error) {
	body = strings.TrimSpace(body)
	if !strings.HasPrefix(body, "elem:") {
		return nil, &ParseError{Message: "array element must start with 'elem:'"}
	}
	// Parse the whole `elem:T(...)` token so parseField reads "elem" as the
	// element's name and T as its type.
	inner := &cellParser{src: body}
	return inner.parseField()
}

// applyConstraints parses `key=value` pairs separated by `;`; `enum`
// values are further split on `,`.
func applyConstraints(fs *FieldSchema, body string) error {
	if strings.TrimSpace(body) == "" {
		return nil
	}
	for _, item := range strings.Split(body, ";") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		if item == "required" {
			fs.Required = true
			continue
		}
		if item == "url" {
			fs.URL = true
			continue
		}
		if item == "email" {
			fs.Email = true
			continue
		}
		kv := strings.SplitN(item, "=", 2)
		if len(kv) != 2 {
			return &ParseError{Message: fmt.Sprintf("malformed constraint %q", item)}
		}
		key, val := strings.TrimSpace(kv[0]), strings.TrimSpace(kv[1])
		switch key {
		case "min":
			f, err := strconv.ParseFloat(val, 64)
			if err != nil {
				return &ParseError{Message: fmt.Sprintf("bad min %q", val)}
			}
			fs.Min = &f
		case "max":
			f, err := strconv.ParseFloat(val, 64)
			if err != nil {
				return &ParseError{Message: fmt.Sprintf("bad max %q", val)}
			}
			fs.Max = &f
		case "pattern":
			re, err := regexp.Compile(val)
			if err != nil {
				return &ParseError{Message: fmt.Sprintf("bad pattern %q: %v", val, err)}
			}
			fs.Pattern = re
		case "enum":
			fs.Enum = strings.Split(val, ",")
			for i := range fs.Enum {
				fs.Enum[i] = strings.TrimSpace(fs.Enum[i])
			}
		default:
			return &ParseError{Message: fmt.Sprintf("unknown constraint %q", key)}
		}
	}
	return nil
}
