package model

import "maps"

// Answers maps a field id to its current value. Values are whatever the
// decoder produced: string, float64, bool, []any, map[string]any or nil.
type Answers map[string]any

// Clone returns a shallow copy of the answer set.
func (a Answers) Clone() Answers {
	if a == nil {
		return Answers{}
	}
	return maps.Clone(a)
}

// Get returns the value for id and whether the key is present.
func (a Answers) Get(id string) (any, bool) {
	v, ok := a[id]
	return v, ok
}

// Merge copies every key of src into a, overwriting existing values.
func (a Answers) Merge(src Answers) {
	for k, v := range src {
		a[k] = v
	}
}

// IsEmptyValue reports whether v counts as "no answer": nil, empty string,
// empty slice or empty map.
func IsEmptyValue(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case []any:
		return len(t) == 0
	case []string:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	}
	return false
}
