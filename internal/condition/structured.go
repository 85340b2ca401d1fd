package condition

import (
	"strings"

	"github.com/pitabwire/formengine/model"
)

// comparePresence serves files and signatures, whose content is opaque.
func comparePresence(op string, answer any) bool {
	switch op {
	case OpIsEmpty:
		return isEmpty(answer)
	case OpIsNotEmpty:
		return !isEmpty(answer)
	}
	return false
}

func compareMatrix(op string, answer, value any) bool {
	switch op {
	case OpEquals:
		return deepEqual(answer, value)
	case OpDoesNotEqual:
		return !deepEqual(answer, value)
	case OpContains:
		return matrixContains(answer, value)
	case OpDoesNotContain:
		return !matrixContains(answer, value)
	}
	return false
}

// matrixContains is true when at least one row of the condition value has
// the same column selected in the answer.
func matrixContains(answer, value any) bool {
	rows, ok := answer.(map[string]any)
	if !ok {
		return false
	}
	want, ok := value.(map[string]any)
	if !ok {
		return false
	}
	for k, v := range want {
		if got, ok := rows[k]; ok && deepEqual(got, v) {
			return true
		}
	}
	return false
}

func comparePayment(op string, answer any) bool {
	s, _ := answer.(string)
	paid := strings.HasPrefix(s, model.PaymentIntentPrefix)
	switch op {
	case OpPaid:
		return paid
	case OpNotPaid:
		return !paid
	}
	return false
}
