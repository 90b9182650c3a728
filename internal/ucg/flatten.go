package ucg

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"
)

// flattenFieldText collects the string leaves of a nested Object/Array
// field value in document order, so composite fields contribute their text
// to the search projection the same way flat string fields do. The value
// is marshalled once and walked with gjson instead of being re-decoded
// into intermediate maps.
func flattenFieldText(v any) string {
	blob, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	var parts []string
	var walk func(r gjson.Result)
	walk = func(r gjson.Result) {
		if r.Type == gjson.String {
			parts = append(parts, r.Str)
			return
		}
		if r.IsArray() || r.IsObject() {
			r.ForEach(func(_, child gjson.Result) bool {
				walk(child)
				return true
			})
		}
	}
	walk(gjson.ParseBytes(blob))
	return strings.Join(parts, " ")
}
