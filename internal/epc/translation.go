package epc

import (
	"fmt"

	"github.com/ucgraph/core/internal/configstore"
)

// TranslationTable indexes parsed translation entries for fast (locale,
// scope, key) lookup; built once from a ConfigBundle and swapped alongside
// the Registry on reload.
type TranslationTable struct {
	byLocale map[string]map[string]map[string]string // locale -> scope -> key -> value
}

// BuildTranslationTable indexes every entry in bundle.
func BuildTranslationTable(entries []configstore.TranslationEntry) *TranslationTable {
	t := &TranslationTable{byLocale: map[string]map[string]map[string]string{}}
	for _, e := range entries {
		scopes, ok := t.byLocale[e.Locale]
		if !ok {
			scopes = map[string]map[string]string{}
			t.byLocale[e.Locale] = scopes
		}
		keys, ok := scopes[e.Scope]
		if !ok {
			keys = map[string]string{}
			scopes[e.Scope] = keys
		}
		keys[e.Key] = e.Value
	}
	return t
}

// Resolve looks up key for locale with fixed three-tier priority global >
// snippet > plugin, independent of the EPC scope chain (§3 Translation
// entry, §4.5). Missing keys resolve to "[key]".
func (t *TranslationTable) Resolve(locale, key, snippetScope, pluginScope string) string {
	scopes, ok := t.byLocale[locale]
	if !ok {
		return fmt.Sprintf("[%s]", key)
	}
	if v, ok := scopes[""][key]; ok {
		return v
	}
	if snippetScope != "" {
		if v, ok := scopes["snippet:"+snippetScope][key]; ok {
			return v
		}
	}
	if pluginScope != "" {
		if v, ok := scopes["plugin:"+pluginScope][key]; ok {
			return v
		}
	}
	return fmt.Sprintf("[%s]", key)
}
