package session

import "fmt"

// Mode toggles the branches of the state machine. Control flow is the same
// in every mode; only these switches change outcomes.
type Mode struct {
	Name string `json:"name"`

	// ValidateOnPage validates the current page before moving forward.
	ValidateOnPage bool `json:"validate_on_page"`
	// ValidateOnSubmit validates fields before the final submission.
	ValidateOnSubmit bool `json:"validate_on_submit"`
	// Simulate reports a successful submission without calling the submitter.
	Simulate bool `json:"simulate"`
	// ExposeHidden shows fields whose logic hides them.
	ExposeHidden bool `json:"expose_hidden"`
	// ForceDisabled makes every field read-only.
	ForceDisabled bool `json:"force_disabled"`
	// RequireCaptcha honors the form's captcha setting.
	RequireCaptcha bool `json:"require_captcha"`
	// Autosave keeps a local draft of the answers.
	Autosave bool `json:"autosave"`
}

// Built-in modes.
var (
	ModeDefault = Mode{
		Name:             "default",
		ValidateOnPage:   true,
		ValidateOnSubmit: true,
		RequireCaptcha:   true,
		Autosave:         true,
	}
	ModePreview = Mode{
		Name:     "preview",
		Simulate: true,
	}
	ModePrefill = Mode{
		Name:         "prefill",
		Simulate:     true,
		ExposeHidden: true,
	}
	ModeReadOnly = Mode{
		Name:          "read_only",
		Simulate:      true,
		ForceDisabled: true,
	}
	ModeTest = Mode{
		Name:             "test",
		ValidateOnPage:   true,
		ValidateOnSubmit: true,
		Simulate:         true,
	}
)

var modes = map[string]Mode{
	ModeDefault.Name:  ModeDefault,
	ModePreview.Name:  ModePreview,
	ModePrefill.Name:  ModePrefill,
	ModeReadOnly.Name: ModeReadOnly,
	ModeTest.Name:     ModeTest,
}

// ParseMode returns the built-in mode with the given name. An empty name is
// the default mode.
func ParseMode(name string) (Mode, error) {
	if name == "" {
		return ModeDefault, nil
	}
	m, ok := modes[name]
	if !ok {
		return Mode{}, fmt.Errorf("unknown session mode %q", name)
	}
	return m, nil
}
