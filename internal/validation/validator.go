// Package validation implements the server-side field validator. It
// enforces effective required flags and type formats for the fields of a
// page or a whole form.
package validation

import (
	"context"
	"encoding/json"
	"fmt"
	"net/mail"
	"net/url"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pitabwire/formengine/internal/condition"
	"github.com/pitabwire/formengine/internal/logic"
	"github.com/pitabwire/formengine/model"
)

// Error messages returned per field.
const (
	MsgRequired      = "This field is required."
	MsgInvalidEmail  = "Please enter a valid email address."
	MsgInvalidURL    = "Please enter a valid URL."
	MsgInvalidPhone  = "Please enter a valid phone number."
	MsgInvalidNumber = "Please enter a number."
	MsgInvalidDate   = "Please enter a valid date."
	MsgInvalidOption = "Please choose one of the available options."
)

var phonePattern = regexp.MustCompile(`^\+?[0-9 ().-]{5,20}$`)

// Validator is an in-process model.FieldValidator.
type Validator struct {
	evaluator *condition.Evaluator
	logger    *zap.Logger

	// resolvers caches compiled logic per form checksum.
	resolvers sync.Map
}

// New creates a validator that resolves logic with evaluator.
func New(evaluator *condition.Evaluator, logger *zap.Logger) *Validator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if evaluator == nil {
		evaluator = condition.NewEvaluator(condition.WithLogger(logger))
	}
	return &Validator{evaluator: evaluator, logger: logger}
}

func (v *Validator) resolver(form model.FormDefinition) *logic.Resolver {
	if form.Checksum == "" {
		return logic.NewResolver(form, v.evaluator, v.logger)
	}
	key := form.ID + "@" + form.Checksum
	if r, ok := v.resolvers.Load(key); ok {
		return r.(*logic.Resolver)
	}
	r, _ := v.resolvers.LoadOrStore(key, logic.NewResolver(form, v.evaluator, v.logger))
	return r.(*logic.Resolver)
}

// Validate checks the given fields. Hidden and layout fields are skipped.
func (v *Validator) Validate(ctx context.Context, form model.FormDefinition, fieldIDs []string, answers model.Answers) (map[string]string, error) {
	r := v.resolver(form)
	errs := make(map[string]string)

	for _, id := range fieldIDs {
		f, ok := form.Field(id)
		if !ok || f.Type.IsLayout() {
			continue
		}
		if r.IsHidden(ctx, f, answers) {
			continue
		}

		answer := answers[id]
		if model.IsEmptyValue(answer) || (f.Type == model.FieldCheckbox && answer != true) {
			if r.IsRequired(ctx, f, answers) {
				errs[id] = MsgRequired
			}
			continue
		}

		if msg := checkFormat(f, answer); msg != "" {
			errs[id] = msg
		}
	}
	return errs, nil
}

// checkFormat validates a non-empty answer against its field type.
func checkFormat(f model.FieldDefinition, answer any) string {
	switch f.Type {
	case model.FieldEmail:
		s, ok := answer.(string)
		if !ok {
			return MsgInvalidEmail
		}
		addr, err := mail.ParseAddress(s)
		if err != nil || addr.Address != strings.TrimSpace(s) {
			return MsgInvalidEmail
		}
	case model.FieldURL:
		s, ok := answer.(string)
		if !ok {
			return MsgInvalidURL
		}
		u, err := url.Parse(strings.TrimSpace(s))
		if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			return MsgInvalidURL
		}
	case model.FieldPhone:
		s, ok := answer.(string)
		if !ok || !phonePattern.MatchString(strings.TrimSpace(s)) {
			return MsgInvalidPhone
		}
	case model.FieldNumber, model.FieldRating, model.FieldScale, model.FieldSlider:
		if !isNumber(answer) {
			return MsgInvalidNumber
		}
	case model.FieldDate:
		if !isDate(answer) {
			return MsgInvalidDate
		}
	case model.FieldSelect:
		if len(f.Options) > 0 && !slices.Contains(f.Options, toString(answer)) {
			return MsgInvalidOption
		}
	case model.FieldMultiSelect:
		if len(f.Options) == 0 {
			return ""
		}
		list, ok := answer.([]any)
		if !ok {
			return MsgInvalidOption
		}
		for _, e := range list {
			if !slices.Contains(f.Options, toString(e)) {
				return MsgInvalidOption
			}
		}
	}
	return ""
}

func isNumber(v any) bool {
	switch t := v.(type) {
	case float64, float32, int, int64:
		return true
	case json.Number:
		_, err := t.Float64()
		return err == nil
	case string:
		_, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return err == nil
	}
	return false
}

func isDate(v any) bool {
	s, ok := v.(string)
	if !ok {
		return false
	}
	s = strings.TrimSpace(s)
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04", "2006-01-02"} {
		if _, err := time.Parse(layout, s); err == nil {
			return true
		}
	}
	return false
}

func toString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	}
	return fmt.Sprint(v)
}
