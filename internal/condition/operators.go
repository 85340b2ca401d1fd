package condition

import "github.com/pitabwire/formengine/model"

// Leaf operators.
const (
	OpEquals         = "equals"
	OpDoesNotEqual   = "does_not_equal"
	OpContains       = "contains"
	OpDoesNotContain = "does_not_contain"
	OpStartsWith     = "starts_with"
	OpEndsWith       = "ends_with"
	OpIsEmpty        = "is_empty"
	OpIsNotEmpty     = "is_not_empty"

	OpGreaterThan        = "greater_than"
	OpGreaterThanOrEqual = "greater_than_or_equal_to"
	OpLessThan           = "less_than"
	OpLessThanOrEqual    = "less_than_or_equal_to"

	OpLengthEquals         = "content_length_equals"
	OpLengthDoesNotEqual   = "content_length_does_not_equal"
	OpLengthGreater        = "content_length_greater_than"
	OpLengthGreaterOrEqual = "content_length_greater_than_or_equal_to"
	OpLengthLess           = "content_length_less_than"
	OpLengthLessOrEqual    = "content_length_less_than_or_equal_to"

	OpMatchesRegex       = "matches_regex"
	OpDoesNotMatchRegex  = "does_not_match_regex"
	OpExistsInSubs       = "exists_in_submissions"
	OpDoesNotExistInSubs = "does_not_exist_in_submissions"

	OpIsChecked    = "is_checked"
	OpIsNotChecked = "is_not_checked"

	OpBefore     = "before"
	OpAfter      = "after"
	OpOnOrBefore = "on_or_before"
	OpOnOrAfter  = "on_or_after"
	OpPastWeek   = "past_week"
	OpPastMonth  = "past_month"
	OpPastYear   = "past_year"
	OpNextWeek   = "next_week"
	OpNextMonth  = "next_month"
	OpNextYear   = "next_year"

	OpPaid    = "paid"
	OpNotPaid = "not_paid"
)

// Family groups field types that share a comparator.
type Family string

const (
	FamilyText        Family = "text"
	FamilyNumber      Family = "number"
	FamilyCheckbox    Family = "checkbox"
	FamilySelect      Family = "select"
	FamilyDate        Family = "date"
	FamilyMultiSelect Family = "multi_select"
	FamilyPresence    Family = "presence"
	FamilyMatrix      Family = "matrix"
	FamilyPayment     Family = "payment"
)

// FamilyOf returns the comparator family for a field type, or "" if the
// type cannot be the target of a condition.
func FamilyOf(t model.FieldType) Family {
	switch t {
	case model.FieldText, model.FieldURL, model.FieldEmail, model.FieldPhone:
		return FamilyText
	case model.FieldNumber, model.FieldRating, model.FieldScale, model.FieldSlider:
		return FamilyNumber
	case model.FieldCheckbox:
		return FamilyCheckbox
	case model.FieldSelect:
		return FamilySelect
	case model.FieldDate:
		return FamilyDate
	case model.FieldMultiSelect:
		return FamilyMultiSelect
	case model.FieldFiles, model.FieldSignature:
		return FamilyPresence
	case model.FieldMatrix:
		return FamilyMatrix
	case model.FieldPayment:
		return FamilyPayment
	}
	return ""
}

func set(ops ...string) map[string]bool {
	m := make(map[string]bool, len(ops))
	for _, op := range ops {
		m[op] = true
	}
	return m
}

var lengthOps = []string{
	OpLengthEquals, OpLengthDoesNotEqual,
	OpLengthGreater, OpLengthGreaterOrEqual,
	OpLengthLess, OpLengthLessOrEqual,
}

// operatorsByFamily is the closed set of operators each family accepts.
var operatorsByFamily = map[Family]map[string]bool{
	FamilyText: set(append([]string{
		OpEquals, OpDoesNotEqual, OpContains, OpDoesNotContain,
		OpStartsWith, OpEndsWith, OpIsEmpty, OpIsNotEmpty,
		OpMatchesRegex, OpDoesNotMatchRegex,
		OpExistsInSubs, OpDoesNotExistInSubs,
	}, lengthOps...)...),
	FamilyNumber: set(append([]string{
		OpEquals, OpDoesNotEqual,
		OpGreaterThan, OpGreaterThanOrEqual, OpLessThan, OpLessThanOrEqual,
		OpIsEmpty, OpIsNotEmpty,
	}, lengthOps...)...),
	FamilyCheckbox: set(OpIsChecked, OpIsNotChecked, OpEquals, OpDoesNotEqual),
	FamilySelect:   set(OpEquals, OpDoesNotEqual, OpIsEmpty, OpIsNotEmpty),
	FamilyDate: set(
		OpEquals, OpBefore, OpAfter, OpOnOrBefore, OpOnOrAfter,
		OpIsEmpty, OpIsNotEmpty,
		OpPastWeek, OpPastMonth, OpPastYear, OpNextWeek, OpNextMonth, OpNextYear,
	),
	FamilyMultiSelect: set(OpContains, OpDoesNotContain, OpIsEmpty, OpIsNotEmpty),
	FamilyPresence:    set(OpIsEmpty, OpIsNotEmpty),
	FamilyMatrix:      set(OpEquals, OpDoesNotEqual, OpContains, OpDoesNotContain),
	FamilyPayment:     set(OpPaid, OpNotPaid),
}

// SupportsOperator reports whether op is valid for a leaf targeting a
// field of type t.
func SupportsOperator(t model.FieldType, op string) bool {
	ops, ok := operatorsByFamily[FamilyOf(t)]
	return ok && ops[op]
}
