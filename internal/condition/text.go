package condition

import (
	"context"
	"strings"

	"go.uber.org/zap"
)

func (e *Evaluator) compareText(ctx context.Context, l *Leaf, answer any) bool {
	switch l.Op {
	case OpEquals:
		return looseEquals(answer, l.Value)
	case OpDoesNotEqual:
		return !looseEquals(answer, l.Value)
	case OpContains:
		return textContains(answer, l.Value)
	case OpDoesNotContain:
		return !textContains(answer, l.Value)
	case OpStartsWith:
		s, ok := answer.(string)
		return ok && strings.HasPrefix(s, toString(l.Value))
	case OpEndsWith:
		s, ok := answer.(string)
		return ok && strings.HasSuffix(s, toString(l.Value))
	case OpIsEmpty:
		return isEmpty(answer)
	case OpIsNotEmpty:
		return !isEmpty(answer)
	case OpMatchesRegex:
		return e.matches(answer, l.Value)
	case OpDoesNotMatchRegex:
		return !e.matches(answer, l.Value)
	case OpExistsInSubs:
		return e.existsInSubmissions(ctx, l, answer)
	case OpDoesNotExistInSubs:
		return !e.existsInSubmissions(ctx, l, answer)
	}
	if _, ok := lengthToNumeric[l.Op]; ok {
		return compareLength(l.Op, answer, l.Value)
	}
	return false
}

// textContains is substring search for string answers and membership for
// list answers.
func textContains(answer, value any) bool {
	if list, ok := toList(answer); ok {
		return listContains(list, value)
	}
	s, ok := answer.(string)
	if !ok || value == nil {
		return false
	}
	return strings.Contains(s, toString(value))
}

// matches is false for a missing answer or a pattern that does not compile.
func (e *Evaluator) matches(answer, pattern any) bool {
	p, ok := pattern.(string)
	if !ok {
		return false
	}
	re := e.regex(p)
	if re == nil || answer == nil {
		return false
	}
	return re.MatchString(toString(answer))
}

// existsInSubmissions asks the submission index whether the answer was
// already submitted. Lookup failures count as "not found".
func (e *Evaluator) existsInSubmissions(ctx context.Context, l *Leaf, answer any) bool {
	if e.index == nil || isEmpty(answer) {
		return false
	}
	found, err := e.index.Exists(ctx, l.FormID, l.FieldID, answer)
	if err != nil {
		e.logger.Warn("condition: submission index lookup failed",
			zap.String("form_id", l.FormID),
			zap.String("field_id", l.FieldID),
			zap.Error(err),
		)
		return false
	}
	return found
}
