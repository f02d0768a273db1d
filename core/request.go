package core

import "strings"

// RequestContext holds the attributes of one inbound request as supplied by
// the request-handling middleware (ip, userAgent, path, method, headers, ...).
// It is ephemeral: built per evaluation, never persisted.
type RequestContext map[string]interface{}

// Lookup resolves a dotted field path against the context. Any missing
// intermediate key, or an intermediate that is not a nested map, yields
// (nil, false). A present key holding an explicit nil also reports false:
// an absent attribute can never satisfy a condition.
func (rc RequestContext) Lookup(field string) (interface{}, bool) {
	parts := strings.Split(field, ".")
	current := map[string]interface{}(rc)

	for i, part := range parts {
		val, ok := current[part]
		if !ok {
			return nil, false
		}
		if i == len(parts)-1 {
			if val == nil {
				return nil, false
			}
			return val, true
		}
		next, ok := val.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current = next
	}
	return nil, false
}
