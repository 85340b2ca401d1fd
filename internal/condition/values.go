package condition

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/pitabwire/formengine/model"
)

// toNumber parses v as a number. Strings are accepted when they hold a
// complete numeric literal.
func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		s := strings.TrimSpace(n)
		if s == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		return f, err == nil
	}
	return 0, false
}

// toString renders scalars the way they were most likely typed.
func toString(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(s)
	}
	return fmt.Sprint(v)
}

// looseEquals compares numerically when both sides parse as numbers and as
// strings otherwise. nil only equals nil.
func looseEquals(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if x, ok := toNumber(a); ok {
		if y, ok := toNumber(b); ok {
			return x == y
		}
	}
	return toString(a) == toString(b)
}

// toList returns v as a slice when it is one.
func toList(v any) ([]any, bool) {
	switch l := v.(type) {
	case []any:
		return l, true
	case []string:
		out := make([]any, len(l))
		for i, s := range l {
			out[i] = s
		}
		return out, true
	}
	return nil, false
}

// listContains reports whether any element of list loosely equals item.
func listContains(list []any, item any) bool {
	for _, e := range list {
		if looseEquals(e, item) {
			return true
		}
	}
	return false
}

// contentLength is the rune count of a string, the element count of a
// list, the digit count of a number and zero for nil.
func contentLength(v any) int {
	switch t := v.(type) {
	case nil:
		return 0
	case string:
		return utf8.RuneCountInString(t)
	}
	if l, ok := toList(v); ok {
		return len(l)
	}
	if m, ok := v.(map[string]any); ok {
		return len(m)
	}
	return utf8.RuneCountInString(toString(v))
}

func compareLength(op string, answer, value any) bool {
	want, ok := toNumber(value)
	if !ok {
		return false
	}
	return compareNumbers(lengthToNumeric[op], float64(contentLength(answer)), want)
}

var lengthToNumeric = map[string]string{
	OpLengthEquals:         OpEquals,
	OpLengthDoesNotEqual:   OpDoesNotEqual,
	OpLengthGreater:        OpGreaterThan,
	OpLengthGreaterOrEqual: OpGreaterThanOrEqual,
	OpLengthLess:           OpLessThan,
	OpLengthLessOrEqual:    OpLessThanOrEqual,
}

func compareNumbers(op string, a, b float64) bool {
	switch op {
	case OpEquals:
		return a == b
	case OpDoesNotEqual:
		return a != b
	case OpGreaterThan:
		return a > b
	case OpGreaterThanOrEqual:
		return a >= b
	case OpLessThan:
		return a < b
	case OpLessThanOrEqual:
		return a <= b
	}
	return false
}

// deepEqual compares nested answer structures, treating numbers loosely so
// that 1 and 1.0 decoded by different codecs still match.
func deepEqual(a, b any) bool {
	am, aIsMap := a.(map[string]any)
	bm, bIsMap := b.(map[string]any)
	if aIsMap || bIsMap {
		if !aIsMap || !bIsMap || len(am) != len(bm) {
			return false
		}
		for k, av := range am {
			bv, ok := bm[k]
			if !ok || !deepEqual(av, bv) {
				return false
			}
		}
		return true
	}
	al, aIsList := toList(a)
	bl, bIsList := toList(b)
	if aIsList || bIsList {
		if !aIsList || !bIsList || len(al) != len(bl) {
			return false
		}
		for i := range al {
			if !deepEqual(al[i], bl[i]) {
				return false
			}
		}
		return true
	}
	if _, ok := toNumber(a); ok {
		return looseEquals(a, b)
	}
	return reflect.DeepEqual(a, b)
}

func isEmpty(v any) bool {
	return model.IsEmptyValue(v)
}
