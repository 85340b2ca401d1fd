package model

import "strings"

// FieldType is the declared type of a form field.
type FieldType string

// Input field types.
const (
	FieldText        FieldType = "text"
	FieldURL         FieldType = "url"
	FieldEmail       FieldType = "email"
	FieldPhone       FieldType = "phone"
	FieldNumber      FieldType = "number"
	FieldRating      FieldType = "rating"
	FieldScale       FieldType = "scale"
	FieldSlider      FieldType = "slider"
	FieldCheckbox    FieldType = "checkbox"
	FieldSelect      FieldType = "select"
	FieldMultiSelect FieldType = "multi_select"
	FieldDate        FieldType = "date"
	FieldFiles       FieldType = "files"
	FieldSignature   FieldType = "signature"
	FieldMatrix      FieldType = "matrix"
	FieldPayment     FieldType = "payment"
)

// Layout field types. They carry no answer.
const (
	FieldPageBreak  FieldType = "nf-page-break"
	FieldStaticText FieldType = "nf-text"
	FieldImage      FieldType = "nf-image"
	FieldCode       FieldType = "nf-code"
	FieldDivider    FieldType = "nf-divider"
)

// IsLayout reports whether the type is a decorative or structural block.
func (t FieldType) IsLayout() bool {
	return strings.HasPrefix(string(t), "nf-")
}

// Logic action keywords. They apply only when the owning condition tree
// evaluates true.
const (
	ActionShowBlock     = "show-block"
	ActionHideBlock     = "hide-block"
	ActionMakeOptional  = "make-it-optional"
	ActionRequireAnswer = "require-answer"
	ActionEnableBlock   = "enable-block"
	ActionDisableBlock  = "disable-block"
)

// KnownActions is the closed set of action keywords.
var KnownActions = map[string]bool{
	ActionShowBlock:     true,
	ActionHideBlock:     true,
	ActionMakeOptional:  true,
	ActionRequireAnswer: true,
	ActionEnableBlock:   true,
	ActionDisableBlock:  true,
}

// Group operators.
const (
	GroupAnd = "and"
	GroupOr  = "or"
)

// PaymentIntentPrefix marks an answer as a confirmed payment reference.
const PaymentIntentPrefix = "pi_"

// FormDefinition is a form as authored: an ordered field list plus the
// session behaviors it enables.
type FormDefinition struct {
	ID                  string            `yaml:"id" json:"id"`
	Title               string            `yaml:"title" json:"title"`
	Fields              []FieldDefinition `yaml:"fields" json:"fields"`
	EditableSubmissions bool              `yaml:"editable_submissions" json:"editable_submissions"`
	TrackCompletionTime bool              `yaml:"track_completion_time" json:"track_completion_time"`
	AutoSave            bool              `yaml:"auto_save" json:"auto_save"`
	UseCaptcha          bool              `yaml:"use_captcha" json:"use_captcha"`
	RedirectURL         string            `yaml:"redirect_url,omitempty" json:"redirect_url,omitempty"`
	Checksum            string            `yaml:"-" json:"checksum,omitempty"`
	SourceFile          string            `yaml:"-" json:"-"`
}

// Field returns the field with the given id.
func (f *FormDefinition) Field(id string) (FieldDefinition, bool) {
	for _, fd := range f.Fields {
		if fd.ID == id {
			return fd, true
		}
	}
	return FieldDefinition{}, false
}

// FieldDefinition describes a single block of a form. Base flags are
// pointers: an absent flag is distinct from an explicit false.
type FieldDefinition struct {
	ID          string           `yaml:"id" json:"id"`
	Type        FieldType        `yaml:"type" json:"type"`
	Name        string           `yaml:"name" json:"name"`
	Placeholder string           `yaml:"placeholder,omitempty" json:"placeholder,omitempty"`
	Options     []string         `yaml:"options,omitempty" json:"options,omitempty"`
	Required    *bool            `yaml:"required,omitempty" json:"required,omitempty"`
	Hidden      *bool            `yaml:"hidden,omitempty" json:"hidden,omitempty"`
	Disabled    *bool            `yaml:"disabled,omitempty" json:"disabled,omitempty"`
	Logic       *LogicDefinition `yaml:"logic,omitempty" json:"logic,omitempty"`
	Prefill     any              `yaml:"prefill,omitempty" json:"prefill,omitempty"`

	// Payment settings, only meaningful for FieldPayment.
	Amount      float64 `yaml:"amount,omitempty" json:"amount,omitempty"`
	Currency    string  `yaml:"currency,omitempty" json:"currency,omitempty"`
	Description string  `yaml:"description,omitempty" json:"description,omitempty"`
}

// LogicDefinition is a condition tree plus the actions to apply when it
// evaluates true.
type LogicDefinition struct {
	Conditions *ConditionNode `yaml:"conditions" json:"conditions"`
	Actions    []string       `yaml:"actions" json:"actions"`
}

// HasAction reports whether the logic declares the given action keyword.
func (l *LogicDefinition) HasAction(actions ...string) bool {
	if l == nil {
		return false
	}
	for _, a := range l.Actions {
		for _, want := range actions {
			if a == want {
				return true
			}
		}
	}
	return false
}

// ConditionNode is the authored form of a condition tree. A node with
// Children is a group; a node with Field is a leaf. The definition loader
// compiles it into a typed tree and rejects anything else.
type ConditionNode struct {
	Operator  string          `yaml:"operator" json:"operator"`
	Children  []ConditionNode `yaml:"children,omitempty" json:"children,omitempty"`
	Field     string          `yaml:"field,omitempty" json:"field,omitempty"`
	FieldType FieldType       `yaml:"field_type,omitempty" json:"field_type,omitempty"`
	Value     any             `yaml:"value,omitempty" json:"value,omitempty"`
}

// Bool returns a pointer to b, for building definitions in code.
func Bool(b bool) *bool {
	return &b
}
