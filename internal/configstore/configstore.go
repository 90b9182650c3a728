// Package configstore parses the declarative tabular files that define
// entity types, associations, translations, theme chain and firewall rules
// into a typed, internally-consistent ConfigBundle consumed by the
// Registry and UCG Store.
package configstore

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/crypto/blake2b"

	"github.com/ucgraph/core/internal/firewall"
	"github.com/ucgraph/core/internal/registry"
	coreerrors "github.com/ucgraph/core/pkg/errors"
)

// ParseError locates a single malformed row; Load collects these
// diagnostics and keeps parsing the remaining rows where possible.
type ParseError struct {
	File   string
	Line   int
	Column string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s:%d: column %s: %s", e.File, e.Line, e.Column, e.Reason)
}

// TypeRow is one row of types.csv, prior to schema-cell parsing.
type TypeRow struct {
	Type            string
	Routable        bool
	Navigable       bool
	MaxNestingDepth *int
	FieldsCell      string
	CSSControl      []string
	Description     string
}

// AssociationRow is one row of associations.csv: a composition template.
type AssociationRow struct {
	ParentType string
	Layout     string
	ChildTypes []string
}

// TranslationEntry is one (locale, key, value) triple, tagged with its scope.
type TranslationEntry struct {
	Locale string
	Scope  string // "", "snippet:<name>", or "plugin:<name>"
	Key    string
	Value  string
}

// FirewallRuleRow is one row of firewall.csv.
type FirewallRuleRow struct {
	Name       string
	Enabled    bool
	Kind       string
	AppliesTo  string // field-type or template-key
	Parameters map[string]string
}

// ConfigBundle is the fully parsed, referentially-validated configuration.
type ConfigBundle struct {
	Types         []TypeRow
	Associations  []AssociationRow
	Translations  []TranslationEntry
	FirewallRules []FirewallRuleRow
	ThemeChainDims []string
	Stopwords     []string
	Locales       []string
}

// BuildRegistry converts the bundle's type and association rows into
// Registry Definitions, applying the auto-derivation rule (searchable iff
// at least one field is flagged searchable) before calling registry.Build.
func (b *ConfigBundle) BuildRegistry() (*registry.Registry, error) {
	composition := map[string]*registry.CompositionRule{}
	for _, a := range b.Associations {
		composition[a.ParentType] = &registry.CompositionRule{Layout: a.Layout, Children: a.ChildTypes}
	}

	defs := make([]*registry.Definition, 0, len(b.Types))
	for _, row := range b.Types {
		fields, err := registry.ParseSchemaCell(row.FieldsCell)
		if err != nil {
			return nil, coreerrors.NewConfigError(fmt.Sprintf("type %q: bad field schema", row.Type), err)
		}
		fieldMap := make(map[string]*registry.FieldSchema, len(fields))
		var required, indexable []string
		searchable := false
		for _, f := range fields {
			fieldMap[f.Name] = f
			if f.Required {
				required = append(required, f.Name)
			}
		}
		// searchable/indexable fields are carried in row.FieldsCell via a
		// convention: a trailing '*' on the field name in the CSV cell
		// marks it searchable. ParseSchemaCell strips it before handing us
		// the clean name, so the searchable set is recovered here from the
		// raw cell text.
		for _, tok := range strings.Split(row.FieldsCell, ";") {
			name := strings.SplitN(strings.TrimSpace(tok), ":", 2)[0]
			if strings.HasSuffix(name, "*") {
				indexable = append(indexable, strings.TrimSuffix(name, "*"))
				searchable = true
			}
		}
		sort.Strings(indexable)

		defs = append(defs, &registry.Definition{
			Type:             row.Type,
			Routable:         row.Routable,
			Navigable:        row.Navigable,
			Searchable:       searchable,
			Required:         required,
			Indexable:        indexable,
			MaxNestingDepth:  row.MaxNestingDepth,
			Fields:           fieldMap,
			Composition:      composition[row.Type],
			CSSControlFields: row.CSSControl,
			Description:      row.Description,
		})
	}
	return registry.Build(defs)
}

// BuildFirewallTable converts the bundle's firewall.csv rows into the
// key->rule-bindings table firewall.Engine.ReplaceRules expects, resolving
// each row's Kind to a built-in Rule (or a compiled ExprRule/ExternalRule
// for the parameterised kinds). Disabled rows are still carried through
// (Enabled controls Apply's skip check), so a later enable doesn't require
// a config reload to take effect on rows already loaded.
func (b *ConfigBundle) BuildFirewallTable() (map[string][]firewall.RuleBinding, error) {
	table := map[string][]firewall.RuleBinding{}
	for _, row := range b.FirewallRules {
		rule, err := firewallRuleFor(row)
		if err != nil {
			return nil, coreerrors.NewConfigError(fmt.Sprintf("firewall rule %q", row.Name), err)
		}
		table[row.AppliesTo] = append(table[row.AppliesTo], firewall.RuleBinding{
			Rule:    rule,
			Params:  row.Parameters,
			Policy:  firewallPolicyFor(row.Parameters),
			Enabled: row.Enabled,
		})
	}
	return table, nil
}

func firewallPolicyFor(params map[string]string) firewall.Policy {
	if params["policy"] == string(firewall.PolicyAlertOnly) {
		return firewall.PolicyAlertOnly
	}
	return firewall.PolicyBlock
}

func firewallRuleFor(row FirewallRuleRow) (firewall.Rule, error) {
	switch row.Kind {
	case "strip_html":
		allow := map[string]bool{}
		if raw := row.Parameters["allowlist"]; raw != "" {
			for _, tag := range strings.Split(raw, ",") {
				allow[strings.ToLower(strings.TrimSpace(tag))] = true
			}
		}
		return firewall.StripHTML{Allowlist: allow}, nil
	case "max_length":
		defaultMax, _ := strconv.Atoi(row.Parameters["default_max"])
		hardLimit, _ := strconv.Atoi(row.Parameters["hard_limit"])
		return firewall.MaxLength{DefaultMax: defaultMax, HardLimit: hardLimit}, nil
	case "no_script_tags", "blocked_tags_and_schemes":
		return firewall.BlockedTagsAndSchemes{}, nil
	case "email_format":
		return firewall.EmailFormat{}, nil
	case "url_format":
		return firewall.URLFormat{}, nil
	case "expr":
		return firewall.NewExprRule(row.Name, row.Parameters["expression"])
	case "external_js":
		return firewall.LoadExternalRule(row.Name, row.Parameters["script"])
	default:
		return nil, fmt.Errorf("unknown firewall rule kind %q", row.Kind)
	}
}

// Load parses every recognised file under root into a ConfigBundle. Parsing
// is total: a malformed row produces a diagnostic without aborting the
// remaining rows; only unreadable files, a missing header, missing or
// unknown header columns, and referential-integrity failures (column 3 of
// the guarantee list) are fatal.
func Load(root string) (*ConfigBundle, []ParseError, error) {
	var diags []ParseError
	bundle := &ConfigBundle{}

	typesPath := filepath.Join(root, "types.csv")
	types, d, err := loadTypes(typesPath)
	diags = append(diags, d...)
	if err != nil {
		return nil, diags, err
	}
	bundle.Types = types

	assocPath := filepath.Join(root, "associations.csv")
	if _, statErr := os.Stat(assocPath); statErr == nil {
		assoc, d, err := loadAssociations(assocPath)
		diags = append(diags, d...)
		if err != nil {
			return nil, diags, err
		}
		bundle.Associations = assoc
	}

	firewallPath := filepath.Join(root, "firewall.csv")
	if _, statErr := os.Stat(firewallPath); statErr == nil {
		rules, d, err := loadFirewallRules(firewallPath)
		diags = append(diags, d...)
		if err != nil {
			return nil, diags, err
		}
		bundle.FirewallRules = rules
	}

	themePath := filepath.Join(root, "theme_chain.csv")
	if _, statErr := os.Stat(themePath); statErr == nil {
		dims, err := loadLines(themePath)
		if err != nil {
			return nil, diags, err
		}
		bundle.ThemeChainDims = dims
	}

	stopwordsPath := filepath.Join(root, "stopwords.csv")
	if _, statErr := os.Stat(stopwordsPath); statErr == nil {
		words, err := loadLines(stopwordsPath)
		if err != nil {
			return nil, diags, err
		}
		bundle.Stopwords = words
	}

	matches, _ := filepath.Glob(filepath.Join(root, "translations.*.csv"))
	sort.Strings(matches)
	for _, m := range matches {
		locale := strings.TrimSuffix(strings.TrimPrefix(filepath.Base(m), "translations."), ".csv")
		entries, d, err := loadTranslations(m, locale)
		diags = append(diags, d...)
		if err != nil {
			return nil, diags, err
		}
		bundle.Translations = append(bundle.Translations, entries...)
		bundle.Locales = append(bundle.Locales, locale)
	}

	if err := validateReferential(bundle); err != nil {
		return nil, diags, err
	}

	return bundle, diags, nil
}

func openCSV(path string) (*csv.Reader, *os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, coreerrors.NewConfigError(fmt.Sprintf("cannot open %s", path), err)
	}
	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	return r, f, nil
}

func loadTypes(path string) ([]TypeRow, []ParseError, error) {
	r, f, err := openCSV(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	header, err := r.Read()
	if err != nil {
		return nil, nil, coreerrors.NewConfigError("types.csv: missing header", err)
	}
	idx, err := columnIndex(header, []string{"type", "routable", "navigable", "max_nesting_depth", "fields", "css_control_fields", "description"})
	if err != nil {
		return nil, nil, coreerrors.NewConfigError("types.csv", err)
	}

	var rows []TypeRow
	var diags []ParseError
	line := 1
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			diags = append(diags, ParseError{File: "types.csv", Line: line, Reason: err.Error()})
			continue
		}
		row := TypeRow{
			Type:        get(rec, idx["type"]),
			Routable:    get(rec, idx["routable"]) == "true",
			Navigable:   get(rec, idx["navigable"]) == "true",
			FieldsCell:  get(rec, idx["fields"]),
			Description: get(rec, idx["description"]),
		}
		if cssCell := get(rec, idx["css_control_fields"]); cssCell != "" {
			row.CSSControl = strings.Split(cssCell, ";")
			if len(row.CSSControl) > 10 {
				diags = append(diags, ParseError{File: "types.csv", Line: line, Column: "css_control_fields", Reason: "at most 10 allowed"})
				row.CSSControl = row.CSSControl[:10]
			}
		}
		if depthCell := get(rec, idx["max_nesting_depth"]); depthCell != "" {
			d, err := strconv.Atoi(depthCell)
			if err != nil {
				diags = append(diags, ParseError{File: "types.csv", Line: line, Column: "max_nesting_depth", Reason: "not an integer"})
			} else {
				row.MaxNestingDepth = &d
			}
		}
		if row.Type == "" {
			diags = append(diags, ParseError{File: "types.csv", Line: line, Column: "type", Reason: "empty"})
			continue
		}
		rows = append(rows, row)
	}
	return rows, diags, nil
}

func loadAssociations(path string) ([]AssociationRow, []ParseError, error) {
	r, f, err := openCSV(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()
	header, err := r.Read()
	if err != nil {
		return nil, nil, coreerrors.NewConfigError("associations.csv: missing header", err)
	}
	idx, err := columnIndex(header, []string{"parent_type", "layout", "child_types"})
	if err != nil {
		return nil, nil, coreerrors.NewConfigError("associations.csv", err)
	}
	var rows []AssociationRow
	var diags []ParseError
	line := 1
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			diags = append(diags, ParseError{File: "associations.csv", Line: line, Reason: err.Error()})
			continue
		}
		children := strings.Split(get(rec, idx["child_types"]), ";")
		for i := range children {
			children[i] = strings.TrimSpace(children[i])
		}
		rows = append(rows, AssociationRow{
			ParentType: get(rec, idx["parent_type"]),
			Layout:     get(rec, idx["layout"]),
			ChildTypes: children,
		})
	}
	return rows, diags, nil
}

func loadFirewallRules(path string) ([]FirewallRuleRow, []ParseError, error) {
	r, f, err := openCSV(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()
	header, err := r.Read()
	if err != nil {
		return nil, nil, coreerrors.NewConfigError("firewall.csv: missing header", err)
	}
	idx, err := columnIndex(header, []string{"name", "enabled", "kind", "applies_to", "parameters"})
	if err != nil {
		return nil, nil, coreerrors.NewConfigError("firewall.csv", err)
	}
	var rows []FirewallRuleRow
	var diags []ParseError
	line := 1
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			diags = append(diags, ParseError{File: "firewall.csv", Line: line, Reason: err.Error()})
			continue
		}
		params := map[string]string{}
		if raw := get(rec, idx["parameters"]); raw != "" {
			for _, kv := range strings.Split(raw, ";") {
				pair := strings.SplitN(kv, "=", 2)
				if len(pair) == 2 {
					params[strings.TrimSpace(pair[0])] = strings.TrimSpace(pair[1])
				}
			}
		}
		rows = append(rows, FirewallRuleRow{
			Name:       get(rec, idx["name"]),
			Enabled:    get(rec, idx["enabled"]) == "true",
			Kind:       get(rec, idx["kind"]),
			AppliesTo:  get(rec, idx["applies_to"]),
			Parameters: params,
		})
	}
	return rows, diags, nil
}

func loadTranslations(path, locale string) ([]TranslationEntry, []ParseError, error) {
	r, f, err := openCSV(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()
	header, err := r.Read()
	if err != nil {
		return nil, nil, coreerrors.NewConfigError(path+": missing header", err)
	}
	idx, err := columnIndex(header, []string{"scope", "key", "value"})
	if err != nil {
		return nil, nil, coreerrors.NewConfigError(path, err)
	}
	var rows []TranslationEntry
	var diags []ParseError
	line := 1
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			diags = append(diags, ParseError{File: filepath.Base(path), Line: line, Reason: err.Error()})
			continue
		}
		rows = append(rows, TranslationEntry{
			Locale: locale,
			Scope:  get(rec, idx["scope"]),
			Key:    get(rec, idx["key"]),
			Value:  get(rec, idx["value"]),
		})
	}
	return rows, diags, nil
}

func loadLines(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, coreerrors.NewConfigError(fmt.Sprintf("cannot read %s", path), err)
	}
	var out []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return out, nil
}

func columnIndex(header []string, required []string) (map[string]int, error) {
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.TrimSpace(h)] = i
	}
	for _, r := range required {
		if _, ok := idx[r]; !ok {
			return nil, fmt.Errorf("missing required column %q", r)
		}
	}
	for h := range idx {
		found := false
		for _, r := range required {
			if h == r {
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("unknown column %q", h)
		}
	}
	return idx, nil
}

func get(rec []string, i int) string {
	if i < 0 || i >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[i])
}

// validateReferential enforces guarantee (3): every field referenced by a
// composition rule exists as a type; every referenced type exists.
func validateReferential(b *ConfigBundle) error {
	known := map[string]bool{}
	for _, t := range b.Types {
		known[t.Type] = true
	}
	for _, a := range b.Associations {
		if !known[a.ParentType] {
			return coreerrors.NewConfigError(fmt.Sprintf("associations.csv: unknown parent type %q", a.ParentType), nil)
		}
		for _, c := range a.ChildTypes {
			if !known[c] {
				return coreerrors.NewConfigError(fmt.Sprintf("associations.csv: unknown child type %q", c), nil)
			}
		}
	}
	return nil
}

// Checksum computes a stable blake2b-256 digest of the bundle's canonical
// serialisation. Nothing in this module calls it: the structural backup
// worker stores a checksum of each row's own payload, and no startup step
// compares SB or PC against this digest.
func Checksum(b *ConfigBundle) (string, error) {
	h, err := blake2b.New256(nil)
	if err != nil {
		return "", coreerrors.NewInternal("blake2b init", err)
	}
	for _, t := range b.Types {
		fmt.Fprintf(h, "type|%s|%v|%v|%s\n", t.Type, t.Routable, t.Navigable, t.FieldsCell)
	}
	for _, a := range b.Associations {
		fmt.Fprintf(h, "assoc|%s|%s|%s\n", a.ParentType, a.Layout, strings.Join(a.ChildTypes, ","))
	}
	for _, loc := range b.Locales {
		fmt.Fprintf(h, "locale|%s\n", loc)
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}
