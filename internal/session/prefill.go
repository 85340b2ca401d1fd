package session

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/pitabwire/formengine/model"
)

// PrefillAnswers merges static field prefill values with URL parameters.
// URL parameters win. Layout fields and unknown parameters are ignored.
func PrefillAnswers(form model.FormDefinition, params url.Values) model.Answers {
	answers := model.Answers{}
	for _, f := range form.Fields {
		if f.Type.IsLayout() {
			continue
		}
		if f.Prefill != nil {
			answers[f.ID] = f.Prefill
		}
		values, ok := params[f.ID]
		if !ok {
			values, ok = params[f.ID+"[]"]
		}
		if ok && len(values) > 0 {
			answers[f.ID] = coerceParam(f, values)
		}
	}
	return answers
}

// coerceParam converts URL parameter strings into the answer shape of the
// field. This is the only place "1"/"0" and "true"/"false" become booleans;
// the condition evaluator never coerces them.
func coerceParam(f model.FieldDefinition, values []string) any {
	raw := values[0]
	switch f.Type {
	case model.FieldCheckbox:
		switch strings.ToLower(strings.TrimSpace(raw)) {
		case "1", "true", "yes", "on":
			return true
		case "0", "false", "no", "off", "":
			return false
		}
		return raw
	case model.FieldNumber, model.FieldRating, model.FieldScale, model.FieldSlider:
		if n, err := strconv.ParseFloat(strings.TrimSpace(raw), 64); err == nil {
			return n
		}
		return raw
	case model.FieldMultiSelect:
		out := make([]any, 0, len(values))
		for _, v := range values {
			for _, part := range strings.Split(v, ",") {
				if part = strings.TrimSpace(part); part != "" {
					out = append(out, part)
				}
			}
		}
		return out
	}
	return raw
}
