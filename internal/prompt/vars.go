package prompt

import "strings"

// Vars starts a variable set for rendering.
func Vars() map[string]any {
	return make(map[string]any)
}

// Set stores a required variable.
func Set(vars map[string]any, key string, val any) {
	vars[key] = val
}

// SetOptional stores an optional string plus its has_<key> flag. A nil or
// empty value records has_<key>=false so templates can skip the whole
// section instead of rendering an empty heading.
func SetOptional(vars map[string]any, key string, val *string) {
	if val == nil || *val == "" {
		vars[key] = ""
		vars["has_"+key] = false
		return
	}
	vars[key] = *val
	vars["has_"+key] = true
}

// SetStrings stores a list joined for prompt use plus its has_<key> flag.
func SetStrings(vars map[string]any, key string, vals []string) {
	vars[key] = strings.Join(vals, ", ")
	vars["has_"+key] = len(vals) > 0
}
