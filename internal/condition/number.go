package condition

// compareNumber requires both sides to parse as numbers for ordering and
// equality operators.
func compareNumber(op string, answer, value any) bool {
	switch op {
	case OpIsEmpty:
		return isEmpty(answer)
	case OpIsNotEmpty:
		return !isEmpty(answer)
	case OpEquals, OpDoesNotEqual, OpGreaterThan, OpGreaterThanOrEqual, OpLessThan, OpLessThanOrEqual:
		a, ok := toNumber(answer)
		if !ok {
			return false
		}
		b, ok := toNumber(value)
		if !ok {
			return false
		}
		return compareNumbers(op, a, b)
	}
	if _, ok := lengthToNumeric[op]; ok {
		return compareLength(op, answer, value)
	}
	return false
}
