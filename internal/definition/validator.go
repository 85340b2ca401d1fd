package definition

import (
	"errors"
	"fmt"

	"github.com/pitabwire/formengine/internal/condition"
	"github.com/pitabwire/formengine/model"
)

// VError describes a single validation error in a definition.
type VError struct {
	Path    string `json:"path"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e VError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// Report is the outcome of validating a set of definition files. Errors make
// the set unusable. RuleErrors only disable the logic of the affected fields.
type Report struct {
	Errors     []VError
	RuleErrors []VError
}

// OK reports whether the definitions can be served.
func (r Report) OK() bool {
	return len(r.Errors) == 0
}

// Validator validates definitions structurally and compiles every logic
// block.
type Validator struct{}

// NewValidator creates a new Validator.
func NewValidator() *Validator {
	return &Validator{}
}

var layoutTypes = map[model.FieldType]bool{
	model.FieldPageBreak:  true,
	model.FieldStaticText: true,
	model.FieldImage:      true,
	model.FieldCode:       true,
	model.FieldDivider:    true,
}

func knownFieldType(t model.FieldType) bool {
	return layoutTypes[t] || condition.FamilyOf(t) != ""
}

// Validate checks all definition files. Form ids must be unique across files.
func (v *Validator) Validate(files []model.DefinitionFile) Report {
	var rep Report
	seen := make(map[string]string)

	for i, file := range files {
		prefix := fmt.Sprintf("definitions[%d]", i)
		if file.Version == "" {
			rep.Errors = append(rep.Errors, VError{Path: prefix + ".version", Code: "REQUIRED", Message: "version is required"})
		}
		for j, form := range file.Forms {
			fp := fmt.Sprintf("%s.forms[%d]", prefix, j)
			if form.ID != "" {
				if other, dup := seen[form.ID]; dup {
					rep.Errors = append(rep.Errors, VError{
						Path:    fp + ".id",
						Code:    "DUPLICATE",
						Message: fmt.Sprintf("form %q already defined in %s", form.ID, other),
					})
				}
				seen[form.ID] = file.SourceFile
			}
			v.validateForm(fp, form, &rep)
		}
	}
	return rep
}

func (v *Validator) validateForm(prefix string, f model.FormDefinition, rep *Report) {
	if f.ID == "" {
		rep.Errors = append(rep.Errors, VError{Path: prefix + ".id", Code: "REQUIRED", Message: "id is required"})
	}

	fieldIDs := make(map[string]bool, len(f.Fields))
	for i, fd := range f.Fields {
		fp := fmt.Sprintf("%s.fields[%d]", prefix, i)

		switch {
		case fd.ID == "":
			rep.Errors = append(rep.Errors, VError{Path: fp + ".id", Code: "REQUIRED", Message: "id is required"})
		case fieldIDs[fd.ID]:
			rep.Errors = append(rep.Errors, VError{Path: fp + ".id", Code: "DUPLICATE", Message: fmt.Sprintf("duplicate field id %q", fd.ID)})
		}
		fieldIDs[fd.ID] = true

		if !knownFieldType(fd.Type) {
			rep.Errors = append(rep.Errors, VError{Path: fp + ".type", Code: "INVALID_ENUM", Message: fmt.Sprintf("unknown field type %q", fd.Type)})
			continue
		}
		if fd.Type == model.FieldSelect || fd.Type == model.FieldMultiSelect {
			if len(fd.Options) == 0 {
				rep.Errors = append(rep.Errors, VError{Path: fp + ".options", Code: "REQUIRED", Message: "choice fields need at least one option"})
			}
		}
		if fd.Type == model.FieldPayment {
			if fd.Amount <= 0 {
				rep.Errors = append(rep.Errors, VError{Path: fp + ".amount", Code: "INVALID_VALUE", Message: "payment amount must be positive"})
			}
			if fd.Currency == "" {
				rep.Errors = append(rep.Errors, VError{Path: fp + ".currency", Code: "REQUIRED", Message: "currency is required"})
			}
		}
	}

	// Logic is compiled after every field id is known, so forward references
	// resolve.
	for i, fd := range f.Fields {
		if fd.Logic == nil {
			continue
		}
		lp := fmt.Sprintf("%s.fields[%d].logic", prefix, i)
		for j, a := range fd.Logic.Actions {
			if !model.KnownActions[a] {
				rep.RuleErrors = append(rep.RuleErrors, VError{
					Path:    fmt.Sprintf("%s.actions[%d]", lp, j),
					Code:    model.ErrRuleError,
					Message: fmt.Sprintf("unknown action %q", a),
				})
			}
		}
		if _, err := condition.Compile(f, fd.ID, fd.Logic.Conditions); err != nil {
			rep.RuleErrors = append(rep.RuleErrors, ruleVError(lp, err))
		}
	}
}

func ruleVError(prefix string, err error) VError {
	var re *model.RuleError
	if errors.As(err, &re) {
		return VError{Path: prefix + "." + re.Path, Code: model.ErrRuleError, Message: re.Reason}
	}
	return VError{Path: prefix, Code: model.ErrRuleError, Message: err.Error()}
}
