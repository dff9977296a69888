package grantline

import "strings"

// SplitScope splits a space-separated scope string into individual values,
// dropping empty tokens. Returns nil for an empty or all-whitespace string.
func SplitScope(scope string) []string {
	fields := strings.Fields(scope)
	if len(fields) == 0 {
		return nil
	}
	return fields
}

// JoinScope joins scope values into the space-separated wire form.
func JoinScope(scopes []string) string {
	return strings.Join(scopes, " ")
}

// ScopeIsSubset reports whether every requested scope value appears in the
// allowed set. An empty request is trivially a subset.
func ScopeIsSubset(requested, allowed []string) bool {
	if len(requested) == 0 {
		return true
	}
	allowedSet := make(map[string]struct{}, len(allowed))
	for _, s := range allowed {
		allowedSet[s] = struct{}{}
	}
	for _, s := range requested {
		if _, ok := allowedSet[s]; !ok {
			return false
		}
	}
	return true
}
