package condition

// compareCheckbox treats anything but a literal true as unchecked.
func compareCheckbox(op string, answer any) bool {
	checked, _ := answer.(bool)
	switch op {
	case OpIsChecked, OpEquals:
		return checked
	case OpIsNotChecked, OpDoesNotEqual:
		return !checked
	}
	return false
}

func compareSelect(op string, answer, value any) bool {
	switch op {
	case OpEquals:
		return looseEquals(answer, value)
	case OpDoesNotEqual:
		return !looseEquals(answer, value)
	case OpIsEmpty:
		return isEmpty(answer)
	case OpIsNotEmpty:
		return !isEmpty(answer)
	}
	return false
}

func compareMultiSelect(op string, answer, value any) bool {
	switch op {
	case OpContains:
		return multiContains(answer, value)
	case OpDoesNotContain:
		return !multiContains(answer, value)
	case OpIsEmpty:
		return isEmpty(answer)
	case OpIsNotEmpty:
		return !isEmpty(answer)
	}
	return false
}

// multiContains is membership for a scalar value and subset containment for
// a list value.
func multiContains(answer, value any) bool {
	selected, ok := toList(answer)
	if !ok {
		if answer == nil {
			return false
		}
		selected = []any{answer}
	}
	if wanted, ok := toList(value); ok {
		if len(wanted) == 0 {
			return false
		}
		for _, w := range wanted {
			if !listContains(selected, w) {
				return false
			}
		}
		return true
	}
	return listContains(selected, value)
}
