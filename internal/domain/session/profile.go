package session

import (
	"fmt"

	"github.com/jmespath-community/go-jmespath"
)

// Profile is the open, backend-defined key/value map attached to a user:
// display name, location, physical attributes, derived-data reference id.
// The client treats it as opaque apart from the accessors below.
type Profile map[string]any

// Clone returns a copy one level deep for scalar values and recursively
// for nested maps. Slices are copied shallowly; the backend never aliases
// them across users.
func (p Profile) Clone() Profile {
	if p == nil {
		return nil
	}
	cp := make(Profile, len(p))
	for k, v := range p {
		if nested, ok := v.(map[string]any); ok {
			cp[k] = map[string]any(Profile(nested).Clone())
			continue
		}
		cp[k] = v
	}
	return cp
}

// Merge returns a new profile with partial applied over p. Keys present
// in partial win; a nil value in partial removes the key. Neither input
// is mutated, which keeps merge-or-nothing semantics cheap to implement.
func (p Profile) Merge(partial Profile) Profile {
	merged := p.Clone()
	if merged == nil {
		merged = make(Profile, len(partial))
	}
	for k, v := range partial {
		if v == nil {
			delete(merged, k)
			continue
		}
		if nested, ok := v.(map[string]any); ok {
			merged[k] = map[string]any(Profile(nested).Clone())
			continue
		}
		merged[k] = v
	}
	return merged
}

// Lookup evaluates a JMESPath expression against the profile, e.g.
// "display_name" or "location.city". Returns nil with no error when the
// path does not resolve.
func (p Profile) Lookup(expr string) (any, error) {
	out, err := jmespath.Search(expr, map[string]any(p))
	if err != nil {
		return nil, fmt.Errorf("profile lookup %q: %w", expr, err)
	}
	return out, nil
}

// GetString returns the string value at a JMESPath expression, or ""
// when absent or not a string.
func (p Profile) GetString(expr string) string {
	out, err := p.Lookup(expr)
	if err != nil {
		return ""
	}
	s, _ := out.(string)
	return s
}

// Equal reports deep equality of two profiles via their canonical form.
func (p Profile) Equal(other Profile) bool {
	if len(p) != len(other) {
		return false
	}
	for k, v := range p {
		ov, ok := other[k]
		if !ok {
			return false
		}
		if nested, isMap := v.(map[string]any); isMap {
			onested, otherIsMap := ov.(map[string]any)
			if !otherIsMap || !Profile(nested).Equal(Profile(onested)) {
				return false
			}
			continue
		}
		if fmt.Sprintf("%v", v) != fmt.Sprintf("%v", ov) {
			return false
		}
	}
	return true
}
